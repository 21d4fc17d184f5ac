package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/thatsimonsguy/fence-controller/db"
	"github.com/thatsimonsguy/fence-controller/internal/config"
	"github.com/thatsimonsguy/fence-controller/internal/env"
	"github.com/thatsimonsguy/fence-controller/internal/pinctrl"
	"github.com/thatsimonsguy/fence-controller/system/startup"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dbPath, command, unit, mech, configPath, binary string
	var value, param, gearbox float64
	flag.StringVar(&dbPath, "db", "data/fence.db", "Path to the SQLite database file")
	flag.StringVar(&command, "cmd", "", "Command to run: show-settings, set-display-unit, set-home-offset, set-mechanism, install-service, show-pins")
	flag.StringVar(&unit, "unit", "inches", "Unit for set-display-unit, set-home-offset and set-mechanism")
	flag.Float64Var(&value, "value", 0, "Value for set-home-offset")
	flag.StringVar(&mech, "mechanism", "", "Mechanism for set-mechanism: belt, lead_screw, rack_pinion")
	flag.Float64Var(&param, "param", 0, "Pulley diameter, screw pitch or pinion diameter for set-mechanism")
	flag.Float64Var(&gearbox, "gearbox", 1, "Gearbox reduction for set-mechanism")
	flag.StringVar(&configPath, "config", "config.json", "Controller config file for install-service and show-pins")
	flag.StringVar(&binary, "binary", "/usr/local/bin/fence-controller", "Controller binary for install-service")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of fence-debug:")
		fmt.Println("  -db string\tPath to the SQLite database file (default 'data/fence.db')")
		fmt.Println("  -cmd string\tCommand to run: show-settings, set-display-unit, set-home-offset, set-mechanism, install-service, show-pins")
		fmt.Println("  -unit string\tinches or millimeters")
		fmt.Println("  -value float\tHome-to-blade offset")
		fmt.Println("  -mechanism string\tbelt, lead_screw or rack_pinion")
		fmt.Println("  -param float\tMechanism geometry parameter")
		fmt.Println("  -gearbox float\tGearbox reduction")
		fmt.Println("  -config string\tController config file")
		fmt.Println("  -binary string\tController binary path")
		fmt.Println("  -help\tShow this help message")
		os.Exit(0)
	}

	var err error
	switch command {
	case "show-settings":
		err = db.ShowSettingsCLI(dbPath, os.Stdout)
	case "set-display-unit":
		err = db.SetDisplayUnitCLI(dbPath, unit)
	case "set-home-offset":
		err = db.SetHomeOffsetCLI(dbPath, value, unit)
	case "set-mechanism":
		if mech == "" {
			fmt.Println("Error: mechanism is required")
			os.Exit(1)
		}
		err = db.SetMechanismCLI(dbPath, mech, param, unit, gearbox)
	case "install-service":
		err = installService(configPath, binary)
	case "show-pins":
		err = showPins(configPath)
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
	fmt.Printf("Command %s completed successfully\n", command)
}

func installService(configPath, binary string) error {
	cfg := config.LoadFile(configPath)
	env.Cfg = &cfg

	if err := startup.WriteStartupScript(); err != nil {
		return fmt.Errorf("write boot script: %w", err)
	}
	if err := startup.InstallStartupService(); err != nil {
		return fmt.Errorf("install gpio service: %w", err)
	}
	if err := startup.InstallControllerService(binary); err != nil {
		return fmt.Errorf("install controller service: %w", err)
	}
	return startup.RunStartupScript()
}

func showPins(configPath string) error {
	cfg := config.LoadFile(configPath)
	pins := cfg.Pins()

	names := make([]string, 0, len(pins))
	for name := range pins {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pin := pins[name]
		state, err := pinctrl.ReadPin(pin.Number)
		if err != nil {
			return err
		}
		fmt.Printf("%-10s GPIO%-3d mode=%s pull=%s drive=%s level=%s active_high=%v\n",
			name, pin.Number, state.Mode, state.Pull, state.Drive, state.Level, pin.ActiveHigh)
	}
	return nil
}
