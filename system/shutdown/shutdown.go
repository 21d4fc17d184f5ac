package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/fence-controller/internal/datadog"
	"github.com/thatsimonsguy/fence-controller/internal/env"
	"github.com/thatsimonsguy/fence-controller/internal/gpio"
)

var ExitFunc = os.Exit

// Shutdown drops the drive enable line and exits.
func Shutdown() {
	exit(0)
}

func ShutdownWithError(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	exit(1)
}

func exit(code int) {
	if !env.Cfg.SafeMode && env.Cfg.GPIO.Enable != nil {
		if err := gpio.Deactivate(*env.Cfg.GPIO.Enable); err != nil {
			log.Error().Err(err).Msg("Failed to deactivate drive enable")
		} else {
			log.Info().Msg("Drive enable deactivated")
		}
	}
	datadog.Flush()
	ExitFunc(code)
}
