package startup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/fence-controller/internal/config"
	"github.com/thatsimonsguy/fence-controller/internal/env"
	"github.com/thatsimonsguy/fence-controller/internal/model"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	env.Cfg = &config.Config{
		ConfigFile:         "/etc/fence/config.json",
		LogFile:            "/var/log/fence-controller.log",
		BootScriptFilePath: filepath.Join(dir, "fence-gpio-init.sh"),
		OSServicePath:      filepath.Join(dir, "fence-gpio-init.service"),
		MainServicePath:    filepath.Join(dir, "fence-controller.service"),
		ServiceUser:        "fence",
		GPIO: config.GPIO{
			Enable:    &model.GPIOPin{Number: 5, ActiveHigh: true},
			Step:      &model.GPIOPin{Number: 6, ActiveHigh: true},
			Direction: &model.GPIOPin{Number: 13, ActiveHigh: false},
			HLFB:      &model.GPIOPin{Number: 19, ActiveHigh: true},
			Alert:     &model.GPIOPin{Number: 26, ActiveHigh: false},
		},
	}
	t.Cleanup(func() { env.Cfg = nil })
	return dir
}

func TestWriteStartupScript(t *testing.T) {
	setupEnv(t)
	require.NoError(t, WriteStartupScript())

	data, err := os.ReadFile(env.Cfg.BootScriptFilePath)
	require.NoError(t, err)
	script := string(data)

	assert.Contains(t, script, "#!/bin/bash")
	assert.Contains(t, script, "pinctrl set 5 op pn dl")
	assert.Contains(t, script, "pinctrl set 6 op pn dl")
	assert.Contains(t, script, "pinctrl set 13 op pn dh")
	assert.Contains(t, script, "pinctrl set 19 ip pd")
	assert.Contains(t, script, "pinctrl set 26 ip pu")

	info, err := os.Stat(env.Cfg.BootScriptFilePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestWriteStartupScript_NoPins(t *testing.T) {
	setupEnv(t)
	env.Cfg.GPIO = config.GPIO{}
	assert.Error(t, WriteStartupScript())
}

func TestInstallServices(t *testing.T) {
	setupEnv(t)
	require.NoError(t, InstallStartupService())
	require.NoError(t, InstallControllerService("/opt/fence/fence-controller"))

	gpioUnit, err := os.ReadFile(env.Cfg.OSServicePath)
	require.NoError(t, err)
	assert.Contains(t, string(gpioUnit), "ExecStart="+env.Cfg.BootScriptFilePath)

	mainUnit, err := os.ReadFile(env.Cfg.MainServicePath)
	require.NoError(t, err)
	assert.Contains(t, string(mainUnit), "Requires=fence-gpio-init.service")
	assert.Contains(t, string(mainUnit), "User=fence")
	assert.Contains(t, string(mainUnit), "WorkingDirectory=/opt/fence")
	assert.Contains(t, string(mainUnit), "ExecStart=/opt/fence/fence-controller -config-file /etc/fence/config.json")
}
