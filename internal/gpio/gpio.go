package gpio

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/fence-controller/internal/model"
	"github.com/thatsimonsguy/fence-controller/internal/pinctrl"
)

var safeMode bool

var (
	setLevel  = pinctrl.Drive
	readLevel = pinctrl.ReadLevel
)

func SetSafeMode(enabled bool) {
	safeMode = enabled
}

func SafeMode() bool {
	return safeMode
}

// MockGPIO replaces the pinctrl backend. Tests only.
func MockGPIO(set func(pin int, high bool), read func(pin int) bool) {
	setLevel = func(pin int, high bool) error {
		set(pin, high)
		return nil
	}
	readLevel = func(pin int) (bool, error) {
		return read(pin), nil
	}
}

func ResetGPIO() {
	setLevel = pinctrl.Drive
	readLevel = pinctrl.ReadLevel
	safeMode = false
}

// Set drives pin to its active or inactive level, honoring ActiveHigh.
// Output is suppressed in safe mode.
func Set(pin model.GPIOPin, active bool) error {
	if safeMode {
		return nil
	}
	high := active == pin.ActiveHigh
	if err := setLevel(pin.Number, high); err != nil {
		return fmt.Errorf("set pin %d active=%v: %w", pin.Number, active, err)
	}
	return nil
}

func Activate(pin model.GPIOPin) error {
	return Set(pin, true)
}

func Deactivate(pin model.GPIOPin) error {
	return Set(pin, false)
}

func Read(pin model.GPIOPin) (bool, error) {
	level, err := readLevel(pin.Number)
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", pin.Number, err)
	}
	return level, nil
}

// CurrentlyActive reports whether pin is at its active level.
func CurrentlyActive(pin model.GPIOPin) (bool, error) {
	level, err := Read(pin)
	if err != nil {
		return false, err
	}
	return level == pin.ActiveHigh, nil
}

// ValidateStartupPins checks that every named output is inactive. The drive
// must not be enabled before the controller has taken ownership of it.
func ValidateStartupPins(pins map[string]model.GPIOPin) error {
	names := make([]string, 0, len(pins))
	for name := range pins {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pin := pins[name]
		active, err := CurrentlyActive(pin)
		if err != nil {
			return fmt.Errorf("failed to read pin level for %s (GPIO %d): %w", name, pin.Number, err)
		}
		if active {
			return fmt.Errorf("pin %d (%s) is active at startup", pin.Number, name)
		}
		log.Debug().Str("pin_name", name).Int("pin", pin.Number).Msg("Startup pin state ok")
	}
	return nil
}
