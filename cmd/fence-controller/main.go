package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/fence-controller/db"
	"github.com/thatsimonsguy/fence-controller/internal/api"
	"github.com/thatsimonsguy/fence-controller/internal/axis"
	"github.com/thatsimonsguy/fence-controller/internal/config"
	"github.com/thatsimonsguy/fence-controller/internal/controllers/fencecontroller"
	"github.com/thatsimonsguy/fence-controller/internal/datadog"
	"github.com/thatsimonsguy/fence-controller/internal/drive"
	"github.com/thatsimonsguy/fence-controller/internal/env"
	"github.com/thatsimonsguy/fence-controller/internal/gpio"
	"github.com/thatsimonsguy/fence-controller/internal/logging"
	"github.com/thatsimonsguy/fence-controller/internal/mechanism"
	"github.com/thatsimonsguy/fence-controller/internal/notifications"
	"github.com/thatsimonsguy/fence-controller/internal/screen"
	"github.com/thatsimonsguy/fence-controller/system/shutdown"
)

func main() {
	cfg := config.Load()
	env.Cfg = &cfg
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("mechanism", cfg.Mechanism).
		Str("screen", cfg.ScreenType).
		Bool("simulate", cfg.Simulate).
		Msg("Starting fence controller")

	gpio.SetSafeMode(cfg.SafeMode)
	if cfg.SafeMode {
		log.Warn().Msg("SAFE MODE ENABLED: GPIO output is disabled system-wide")
	}

	var d drive.Drive
	if cfg.Simulate {
		log.Warn().Msg("Using simulated drive")
		d = drive.NewSimulator()
	} else {
		if err := gpio.ValidateStartupPins(cfg.Pins()); err != nil {
			log.Fatal().Err(err).Msg("Refusing to start with drive lines active")
		}
		pins := drive.Pins{
			Enable:    *cfg.GPIO.Enable,
			Step:      *cfg.GPIO.Step,
			Direction: *cfg.GPIO.Direction,
			HLFB:      *cfg.GPIO.HLFB,
			Alert:     *cfg.GPIO.Alert,
		}
		if err := drive.ConfigurePins(pins); err != nil {
			log.Fatal().Err(err).Msg("Failed to configure drive pins")
		}
		d = drive.NewGPIODrive(pins)
	}

	dbConn, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("Failed to open database")
	}

	seeded, err := db.SeedSettings(dbConn, cfg.Settings())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed settings")
	}
	if seeded {
		log.Info().Msg("Seeded settings from config file")
	}
	settings, err := db.GetSettings(dbConn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load settings")
	}

	mech, err := mechanism.New(mechanism.FromSettings(settings))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid mechanism configuration")
	}

	scr, err := screen.Open(screen.Kind(cfg.ScreenType), cfg.ScreenPort, int(cfg.ScreenBaud))
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.ScreenPort).Msg("Failed to open screen")
	}

	datadog.InitMetrics()
	notifications.Init()

	ctrl, err := fencecontroller.New(d, mech, scr, dbConn, fencecontroller.Options{
		Axis: axis.Options{
			HomingTimeout: cfg.HomingTimeout(),
			MoveTimeout:   cfg.MoveTimeout(),
			MinTravel:     settings.MinTravel,
			MaxTravel:     settings.MaxTravel,
		},
		LoopInterval: cfg.LoopInterval(),
		Settings:     settings,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build controller")
	}

	server := api.NewServer(dbConn, ctrl)
	go func() {
		if err := server.Start(cfg.APIPort); err != nil {
			shutdown.ShutdownWithError(err, "API server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl.Run(ctx)

	log.Info().Msg("Shutting down fence controller")
	scr.Close()
	dbConn.Close()
	shutdown.Shutdown()
}
