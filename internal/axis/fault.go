package axis

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/fence-controller/internal/drive"
)

// FaultHandler clears drive alerts. Outside of homing it is the only code
// allowed to toggle the drive's enable line.
type FaultHandler struct {
	drive      drive.Drive
	cycleDelay time.Duration
}

func NewFaultHandler(d drive.Drive, cycleDelay time.Duration) *FaultHandler {
	return &FaultHandler{drive: d, cycleDelay: cycleDelay}
}

// HandleFault clears the drive's alerts and reports whether the drive is
// usable. A latched motor fault is cleared by cycling enable; the drive is
// then left disabled until the next homing cycle re-enables it. A drive
// still alerting after the clear is also left disabled.
func (f *FaultHandler) HandleFault() bool {
	motorFault := f.drive.MotorFaulted()
	if motorFault {
		log.Warn().Msg("Motor fault latched, cycling drive enable")
		f.drive.EnableRequest(false)
		sleep(f.cycleDelay)
		f.drive.EnableRequest(true)
	}

	f.drive.ClearAlerts()

	persistent := f.drive.AlertsPresent()
	if motorFault || persistent {
		f.drive.EnableRequest(false)
	}

	if persistent {
		log.Error().Msg("Drive alerts persist after clearing, drive disabled")
		return false
	}

	log.Info().Bool("motor_fault", motorFault).Msg("Drive alerts cleared")
	return true
}
