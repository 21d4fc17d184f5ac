package model

import (
	"time"

	"github.com/thatsimonsguy/fence-controller/internal/units"
)

type GPIOPin struct {
	Number     int  `json:"pin"`
	ActiveHigh bool `json:"active_high"`
}

// Screen identifies an operator panel page.
type Screen int

const (
	SplashScreen Screen = iota
	MainControlScreen
	ParameterEditScreen
	SettingsScreen
	OutsideRangeErrorScreen
	HomingAlertScreen
	PleaseHomeErrorScreen
)

var screenNames = []string{
	"splash",
	"main_control",
	"parameter_edit",
	"settings",
	"outside_range_error",
	"homing_alert",
	"please_home_error",
}

func (s Screen) String() string {
	if int(s) < 0 || int(s) >= len(screenNames) {
		return "unknown"
	}
	return screenNames[s]
}

// ScreenObject identifies a widget on the operator panel. The numeric values
// are shared with the remote terminal firmware and must not be reordered.
type ScreenObject int

const (
	ObjectNone ScreenObject = iota
	MainMeasurementLabel
	MeasureButton
	EditTargetButton
	HomeButton
	ResetServoButton
	SettingsButton
	EditHomeToBladeOffset
	LiveParameterInputLabel
	KeyboardValueEnter
	ExitSettingsButton
	InchesUnitButton
	MillimetersUnitButton
)

// Settings is the persisted, operator-editable configuration.
type Settings struct {
	MechanismType    string            `json:"mechanism"`
	Parameter        units.Measurement `json:"parameter"`
	GearboxReduction float64           `json:"gearbox_reduction"`
	PulsesPerRev     int               `json:"motor_pulses_per_revolution"`
	ShaftVelocity    float64           `json:"motor_shaft_velocity"`
	ShaftAccel       float64           `json:"motor_shaft_acceleration"`
	DisplayUnit      units.Unit        `json:"display_unit"`
	HomeToBlade      units.Measurement `json:"home_to_blade_offset"`
	MinTravel        float64           `json:"min_travel"`
	MaxTravel        float64           `json:"max_travel"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// AxisEvent is a row of axis history (homing results, faults, moves).
type AxisEvent struct {
	ID     int64     `json:"id"`
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
}
