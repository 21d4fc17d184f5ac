package config

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/thatsimonsguy/fence-controller/internal/model"
	"github.com/thatsimonsguy/fence-controller/internal/units"
)

// Number is a JSON value the configuration wizard may write either as a
// number or as a numeric string.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", s, err)
		}
		*n = Number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// Ratio is a gearbox reduction written as "5:1", "5" or 5.
type Ratio float64

func (r *Ratio) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n Number
		if err := n.UnmarshalJSON(b); err != nil {
			return err
		}
		*r = Ratio(n)
		return nil
	}
	v, err := ParseRatio(s)
	if err != nil {
		return err
	}
	*r = Ratio(v)
	return nil
}

// ParseRatio parses "in:out" or a bare number. An empty string is 1:1.
func ParseRatio(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1, nil
	}
	in, out, found := strings.Cut(s, ":")
	num, err := strconv.ParseFloat(strings.TrimSpace(in), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid gearbox reduction %q: %w", s, err)
	}
	if !found {
		return num, nil
	}
	den, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid gearbox reduction %q: %w", s, err)
	}
	if den == 0 {
		return 0, fmt.Errorf("invalid gearbox reduction %q: zero denominator", s)
	}
	return num / den, nil
}

type MechanismParameters struct {
	PulleyDiameter   Number `json:"pulleyDiameter"`
	Pitch            Number `json:"pitch"`
	PinionDiameter   Number `json:"pinionDiameter"`
	Unit             string `json:"unit"`
	GearboxReduction Ratio  `json:"gearboxReduction"`
}

type GPIO struct {
	// outputs
	Enable    *model.GPIOPin `json:"enable"`
	Step      *model.GPIOPin `json:"step"`
	Direction *model.GPIOPin `json:"direction"`

	// inputs
	HLFB  *model.GPIOPin `json:"hlfb"`
	Alert *model.GPIOPin `json:"alert"`
}

type Config struct {
	ConfigFile string
	LogFile    string
	LogLevel   zerolog.Level

	SerialMonitorBaud        Number `json:"serialMonitorBaud"`
	ScreenBaud               Number `json:"screenBaud"`
	MotorPulsesPerRevolution Number `json:"motorPulsesPerRevolution"`
	MotorShaftVelocity       Number `json:"motorShaftVelocity"`
	MotorShaftAcceleration   Number `json:"motorShaftAcceleration"`
	DefaultUnits             string `json:"defaultUnits"`
	ScreenType               string `json:"screenType"`
	ScreenPort               string `json:"screenPort"`

	Mechanism           string              `json:"mechanism"`
	MechanismParameters MechanismParameters `json:"mechanismParameters"`

	HomeToBladeOffset Number `json:"homeToBladeOffset"`
	MinTravel         Number `json:"minTravel"`
	MaxTravel         Number `json:"maxTravel"`

	HomingTimeoutSeconds int `json:"homingTimeoutSeconds"`
	MoveTimeoutSeconds   int `json:"moveTimeoutSeconds"`
	LoopIntervalMillis   int `json:"loopIntervalMillis"`

	APIPort  int    `json:"apiPort"`
	DBPath   string `json:"dbPath"`
	SafeMode bool   `json:"safeMode"`
	Simulate bool   `json:"simulate"`

	BootScriptFilePath string `json:"bootScriptFilePath"`
	OSServicePath      string `json:"osServicePath"`
	MainServicePath    string `json:"mainServicePath"`
	ServiceUser        string `json:"serviceUser"`
	WorkDir            string `json:"workDir"`

	GPIO GPIO `json:"gpio"`

	EnableDatadog bool     `json:"enableDatadog"`
	DDAgentAddr   string   `json:"ddAgentAddr"`
	DDNamespace   string   `json:"ddNamespace"`
	DDTags        []string `json:"ddTags"`

	NtfyTopic string `json:"ntfyTopic"`
}

func Load() Config {
	var cfg Config
	var logLevel string

	flag.StringVar(&cfg.ConfigFile, "config-file", "config.json", "Path to controller config file")
	flag.StringVar(&cfg.LogFile, "log-file", "/var/log/fence-controller.log", "Path to log file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)
	cfg.readFile()
	cfg.applyDefaults()
	cfg.validate()
	return cfg
}

// LoadFile reads path without touching command-line flags or validating GPIO,
// for tools that share the controller's config.
func LoadFile(path string) Config {
	cfg := Config{ConfigFile: path, LogLevel: zerolog.InfoLevel}
	cfg.readFile()
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) readFile() {
	file, err := os.Open(cfg.ConfigFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.SerialMonitorBaud == 0 {
		cfg.SerialMonitorBaud = 115200
	}
	if cfg.ScreenBaud == 0 {
		cfg.ScreenBaud = 9600
	}
	if cfg.MotorPulsesPerRevolution == 0 {
		cfg.MotorPulsesPerRevolution = 1000
	}
	if cfg.MotorShaftVelocity == 0 {
		cfg.MotorShaftVelocity = 1000
	}
	if cfg.MotorShaftAcceleration == 0 {
		cfg.MotorShaftAcceleration = 20000
	}
	if cfg.MechanismParameters.GearboxReduction == 0 {
		cfg.MechanismParameters.GearboxReduction = 1
	}
	if cfg.ScreenType == "" {
		cfg.ScreenType = "none"
	}
	if cfg.HomingTimeoutSeconds == 0 {
		cfg.HomingTimeoutSeconds = 30
	}
	if cfg.MoveTimeoutSeconds == 0 {
		cfg.MoveTimeoutSeconds = 60
	}
	if cfg.LoopIntervalMillis == 0 {
		cfg.LoopIntervalMillis = 10
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = 8080
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/fence.db"
	}
	if cfg.BootScriptFilePath == "" {
		cfg.BootScriptFilePath = "/usr/local/bin/fence-gpio-init.sh"
	}
	if cfg.OSServicePath == "" {
		cfg.OSServicePath = "/etc/systemd/system/fence-gpio-init.service"
	}
	if cfg.MainServicePath == "" {
		cfg.MainServicePath = "/etc/systemd/system/fence-controller.service"
	}
	if cfg.DDNamespace == "" {
		cfg.DDNamespace = "fence."
	}
}

func (cfg *Config) validate() {
	var (
		missingFields []string
		usedPins      = map[int]string{}
		conflicts     []string
	)

	v := reflect.ValueOf(cfg.GPIO)
	t := reflect.TypeOf(cfg.GPIO)

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldName := t.Field(i).Tag.Get("json")

		if field.IsNil() {
			missingFields = append(missingFields, "gpio."+fieldName)
			continue
		}

		pin := field.Interface().(*model.GPIOPin).Number
		if other, exists := usedPins[pin]; exists {
			conflicts = append(conflicts, fmt.Sprintf("gpio.%s and gpio.%s both use pin %d", fieldName, other, pin))
		} else {
			usedPins[pin] = fieldName
		}
	}

	// A simulated drive never touches the header.
	if len(missingFields) > 0 && !cfg.Simulate {
		panic("Missing required GPIO config fields: " + strings.Join(missingFields, ", "))
	}
	if len(conflicts) > 0 {
		panic("Conflicting GPIO pins: " + strings.Join(conflicts, ", "))
	}
	if cfg.MaxTravel < cfg.MinTravel {
		panic(fmt.Sprintf("maxTravel %v is below minTravel %v", cfg.MaxTravel, cfg.MinTravel))
	}
}

// Parameter is the geometry parameter for the configured mechanism type.
func (cfg *Config) Parameter() units.Measurement {
	p := cfg.MechanismParameters
	m := units.Measurement{Unit: units.ParseUnit(p.Unit)}
	switch cfg.Mechanism {
	case "belt":
		m.Value = float64(p.PulleyDiameter)
	case "lead_screw":
		m.Value = float64(p.Pitch)
	case "rack_pinion":
		m.Value = float64(p.PinionDiameter)
	}
	return m
}

// Settings is the operator-editable subset, used to seed the database on
// first boot.
func (cfg *Config) Settings() model.Settings {
	return model.Settings{
		MechanismType:    cfg.Mechanism,
		Parameter:        cfg.Parameter(),
		GearboxReduction: float64(cfg.MechanismParameters.GearboxReduction),
		PulsesPerRev:     int(cfg.MotorPulsesPerRevolution),
		ShaftVelocity:    float64(cfg.MotorShaftVelocity),
		ShaftAccel:       float64(cfg.MotorShaftAcceleration),
		DisplayUnit:      units.ParseUnit(cfg.DefaultUnits),
		HomeToBlade:      units.Measurement{Value: float64(cfg.HomeToBladeOffset), Unit: units.Inches},
		MinTravel:        float64(cfg.MinTravel),
		MaxTravel:        float64(cfg.MaxTravel),
	}
}

// Pins lists the configured pins by name.
func (cfg *Config) Pins() map[string]model.GPIOPin {
	pins := map[string]model.GPIOPin{}
	v := reflect.ValueOf(cfg.GPIO)
	t := reflect.TypeOf(cfg.GPIO)
	for i := 0; i < v.NumField(); i++ {
		if v.Field(i).IsNil() {
			continue
		}
		pins[t.Field(i).Tag.Get("json")] = *v.Field(i).Interface().(*model.GPIOPin)
	}
	return pins
}

func (cfg *Config) HomingTimeout() time.Duration {
	return time.Duration(cfg.HomingTimeoutSeconds) * time.Second
}

func (cfg *Config) MoveTimeout() time.Duration {
	return time.Duration(cfg.MoveTimeoutSeconds) * time.Second
}

func (cfg *Config) LoopInterval() time.Duration {
	return time.Duration(cfg.LoopIntervalMillis) * time.Millisecond
}
