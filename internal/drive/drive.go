// Package drive is the hardware boundary for one step/direction servo or
// stepper drive with enable, HLFB (high level feedback) and alert lines.
package drive

// Drive is a physical motor drive. Exactly one axis controller owns a Drive.
type Drive interface {
	EnableRequest(enable bool)
	Enabled() bool

	// HLFBAsserted reports that the drive is enabled, in position and has
	// finished any homing it runs on enable.
	HLFBAsserted() bool

	// AlertsPresent reports any latched alert or fault.
	AlertsPresent() bool
	// MotorFaulted reports a latched motor fault, which only an enable
	// power cycle clears.
	MotorFaulted() bool
	ClearAlerts()

	SetVelMax(pulsesPerSec int)
	SetAccelMax(pulsesPerSec2 int)

	MoveAbsolute(position int32)
	StepsComplete() bool

	PositionRefSet(position int32)
	Position() int32
}
