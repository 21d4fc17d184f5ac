package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/thatsimonsguy/fence-controller/internal/env"
	"github.com/thatsimonsguy/fence-controller/internal/model"
)

// inputs are the drive feedback lines; everything else is an output.
var inputs = map[string]bool{"hlfb": true, "alert": true}

// WriteStartupScript writes a pinctrl script that parks every configured
// output at its inactive level and biases the feedback inputs, so the drive
// stays disabled between power-on and controller start.
func WriteStartupScript() error {
	var lines []string
	lines = append(lines, "#!/bin/bash", "", "# Fence controller GPIO pin configuration at boot", "")

	output := func(label string, pin model.GPIOPin) {
		drive := "dh"
		if pin.ActiveHigh {
			drive = "dl"
		}
		lines = append(lines, fmt.Sprintf("# %s", label))
		lines = append(lines, fmt.Sprintf("pinctrl set %d op pn %s", pin.Number, drive))
		lines = append(lines, "")
	}
	input := func(label string, pin model.GPIOPin) {
		pull := "pu"
		if pin.ActiveHigh {
			pull = "pd"
		}
		lines = append(lines, fmt.Sprintf("# %s", label))
		lines = append(lines, fmt.Sprintf("pinctrl set %d ip %s", pin.Number, pull))
		lines = append(lines, "")
	}

	pins := env.Cfg.Pins()
	if len(pins) == 0 {
		return fmt.Errorf("no GPIO pins configured")
	}
	names := make([]string, 0, len(pins))
	for name := range pins {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if inputs[name] {
			input(name, pins[name])
		} else {
			output(name, pins[name])
		}
	}

	contents := strings.Join(lines, "\n") + "\n"
	return os.WriteFile(env.Cfg.BootScriptFilePath, []byte(contents), 0755)
}

func InstallStartupService() error {
	unitContents := fmt.Sprintf(`[Unit]
Description=Configure fence controller GPIO pins at boot
After=network.target

[Service]
Type=oneshot
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`, env.Cfg.BootScriptFilePath)

	return os.WriteFile(env.Cfg.OSServicePath, []byte(unitContents), 0644)
}

func RunStartupScript() error {
	cmd := exec.Command("/bin/bash", env.Cfg.BootScriptFilePath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// InstallControllerService writes the main controller unit, ordered after
// the GPIO init unit.
func InstallControllerService(binary string) error {
	gpioUnitName := filepath.Base(env.Cfg.OSServicePath)

	user := env.Cfg.ServiceUser
	if user == "" {
		user = "root"
	}
	workdir := env.Cfg.WorkDir
	if workdir == "" {
		workdir = filepath.Dir(binary)
	}
	execCmd := fmt.Sprintf("%s -config-file %s -log-file %s", binary, env.Cfg.ConfigFile, env.Cfg.LogFile)

	unit := fmt.Sprintf(`[Unit]
Description=Saw fence controller
After=%s
Requires=%s

[Service]
Type=simple
User=%s
WorkingDirectory=%s
ExecStart=%s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, gpioUnitName, gpioUnitName, user, workdir, execCmd)

	return os.WriteFile(env.Cfg.MainServicePath, []byte(unit), 0644)
}
