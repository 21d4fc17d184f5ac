package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/fence-controller/internal/model"
	"github.com/thatsimonsguy/fence-controller/internal/units"
)

const wizardConfig = `{
  "serialMonitorBaud": "115200",
  "screenBaud": "9600",
  "motorPulsesPerRevolution": "800",
  "motorShaftVelocity": 1000,
  "motorShaftAcceleration": 20000,
  "defaultUnits": "millimeters",
  "screenType": "giga_shield",
  "mechanism": "belt",
  "mechanismParameters": {
    "pulleyDiameter": "2.0",
    "unit": "inches",
    "gearboxReduction": "5:1"
  },
  "homeToBladeOffset": 1.5,
  "maxTravel": 48,
  "gpio": {
    "enable":    {"pin": 5,  "active_high": true},
    "step":      {"pin": 6,  "active_high": true},
    "direction": {"pin": 13, "active_high": true},
    "hlfb":      {"pin": 19, "active_high": true},
    "alert":     {"pin": 26, "active_high": false}
  }
}`

func pin(n int) *model.GPIOPin {
	return &model.GPIOPin{Number: n, ActiveHigh: true}
}

func validGPIO() GPIO {
	return GPIO{Enable: pin(5), Step: pin(6), Direction: pin(13), HLFB: pin(19), Alert: pin(26)}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestReadFile_WizardOutput(t *testing.T) {
	cfg := Config{ConfigFile: writeConfig(t, wizardConfig)}
	cfg.readFile()
	cfg.applyDefaults()
	cfg.validate()

	assert.Equal(t, Number(800), cfg.MotorPulsesPerRevolution)
	assert.Equal(t, Ratio(5), cfg.MechanismParameters.GearboxReduction)
	assert.Equal(t, units.Measurement{Value: 2, Unit: units.Inches}, cfg.Parameter())
	assert.Equal(t, 30*time.Second, cfg.HomingTimeout())
	assert.Equal(t, time.Minute, cfg.MoveTimeout())
	assert.Equal(t, 10*time.Millisecond, cfg.LoopInterval())
	assert.Equal(t, "data/fence.db", cfg.DBPath)
	assert.False(t, cfg.GPIO.Alert.ActiveHigh)

	s := cfg.Settings()
	assert.Equal(t, "belt", s.MechanismType)
	assert.Equal(t, 800, s.PulsesPerRev)
	assert.Equal(t, 5.0, s.GearboxReduction)
	assert.Equal(t, units.Millimeters, s.DisplayUnit)
	assert.Equal(t, 1.5, s.HomeToBlade.Value)
	assert.Equal(t, 48.0, s.MaxTravel)
}

func TestReadFile_Malformed(t *testing.T) {
	cfg := Config{ConfigFile: writeConfig(t, `{"motorPulsesPerRevolution": "lots"}`)}
	assert.Panics(t, cfg.readFile)
}

func TestReadFile_Missing(t *testing.T) {
	cfg := Config{ConfigFile: filepath.Join(t.TempDir(), "nope.json")}
	assert.Panics(t, cfg.readFile)
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	assert.Equal(t, Number(1000), cfg.MotorPulsesPerRevolution)
	assert.Equal(t, Number(1000), cfg.MotorShaftVelocity)
	assert.Equal(t, Number(20000), cfg.MotorShaftAcceleration)
	assert.Equal(t, Ratio(1), cfg.MechanismParameters.GearboxReduction)
	assert.Equal(t, "none", cfg.ScreenType)
	assert.Equal(t, 8080, cfg.APIPort)
	assert.Equal(t, "fence.", cfg.DDNamespace)
}

func TestParameter_PerMechanism(t *testing.T) {
	params := MechanismParameters{PulleyDiameter: 2, Pitch: 0.2, PinionDiameter: 1.25, Unit: "mm"}

	tests := []struct {
		mechanism string
		want      float64
	}{
		{"belt", 2},
		{"lead_screw", 0.2},
		{"rack_pinion", 1.25},
		{"winch", 0},
	}

	for _, tt := range tests {
		t.Run(tt.mechanism, func(t *testing.T) {
			cfg := Config{Mechanism: tt.mechanism, MechanismParameters: params}
			assert.Equal(t, units.Measurement{Value: tt.want, Unit: units.Millimeters}, cfg.Parameter())
		})
	}
}

func TestNumber_Unmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    Number
		wantErr bool
	}{
		{`12.5`, 12.5, false},
		{`"12.5"`, 12.5, false},
		{`" 7 "`, 7, false},
		{`""`, 0, false},
		{`null`, 0, false},
		{`"abc"`, 0, true},
		{`true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var n Number
			err := json.Unmarshal([]byte(tt.in), &n)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestParseRatio(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"5:1", 5, false},
		{"1:1", 1, false},
		{"3:2", 1.5, false},
		{"10", 10, false},
		{"", 1, false},
		{"5:0", 0, true},
		{"x:1", 0, true},
		{"5:y", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRatio(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestRatio_UnmarshalNumber(t *testing.T) {
	var r Ratio
	require.NoError(t, json.Unmarshal([]byte(`4`), &r))
	assert.Equal(t, Ratio(4), r)
}

func TestValidate_GPIOValid(t *testing.T) {
	cfg := Config{GPIO: validGPIO(), MaxTravel: 48}
	assert.NotPanics(t, cfg.validate)
	assert.Len(t, cfg.Pins(), 5)
}

func TestValidate_GPIO_Missing(t *testing.T) {
	gpio := validGPIO()
	gpio.HLFB = nil
	cfg := Config{GPIO: gpio}

	assert.Panics(t, cfg.validate)

	cfg.Simulate = true
	assert.NotPanics(t, cfg.validate)
	assert.Len(t, cfg.Pins(), 4)
}

func TestValidate_GPIO_Conflict(t *testing.T) {
	gpio := validGPIO()
	gpio.Alert = pin(5)
	cfg := Config{GPIO: gpio, Simulate: true}

	assert.Panics(t, cfg.validate)
}

func TestValidate_TravelLimits(t *testing.T) {
	cfg := Config{GPIO: validGPIO(), MinTravel: 10, MaxTravel: 5}
	assert.Panics(t, cfg.validate)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLogLevel("debug").String())
	assert.Equal(t, "trace", parseLogLevel("trace").String())
	assert.Equal(t, "info", parseLogLevel("bogus").String())
}

func TestLoadFile(t *testing.T) {
	cfg := LoadFile(writeConfig(t, `{"mechanism": "lead_screw", "mechanismParameters": {"pitch": 5, "unit": "millimeters"}}`))

	assert.Equal(t, "lead_screw", cfg.Mechanism)
	assert.Equal(t, units.Measurement{Value: 5, Unit: units.Millimeters}, cfg.Parameter())
	assert.Equal(t, Number(1000), cfg.MotorPulsesPerRevolution)
	assert.Empty(t, cfg.Pins())
}
