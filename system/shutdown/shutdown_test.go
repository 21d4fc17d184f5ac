package shutdown

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/fence-controller/internal/config"
	"github.com/thatsimonsguy/fence-controller/internal/env"
	"github.com/thatsimonsguy/fence-controller/internal/gpio"
	"github.com/thatsimonsguy/fence-controller/internal/model"
)

func setup(t *testing.T, safe bool) (map[int]bool, *int) {
	t.Helper()
	levels := map[int]bool{5: true}
	gpio.MockGPIO(func(pin int, high bool) { levels[pin] = high }, func(pin int) bool { return levels[pin] })

	env.Cfg = &config.Config{
		SafeMode: safe,
		GPIO:     config.GPIO{Enable: &model.GPIOPin{Number: 5, ActiveHigh: true}},
	}

	code := -1
	origExit := ExitFunc
	ExitFunc = func(c int) { code = c }
	t.Cleanup(func() {
		ExitFunc = origExit
		gpio.ResetGPIO()
		env.Cfg = nil
	})
	return levels, &code
}

func TestShutdown_DisablesDrive(t *testing.T) {
	levels, code := setup(t, false)
	Shutdown()
	assert.False(t, levels[5])
	assert.Equal(t, 0, *code)
}

func TestShutdown_SafeModeLeavesPins(t *testing.T) {
	levels, code := setup(t, true)
	Shutdown()
	assert.True(t, levels[5])
	assert.Equal(t, 0, *code)
}

func TestShutdownWithError(t *testing.T) {
	_, code := setup(t, false)
	ShutdownWithError(errors.New("boom"), "fatal")
	assert.Equal(t, 1, *code)
}
