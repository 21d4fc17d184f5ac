package mechanism

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/fence-controller/internal/model"
	"github.com/thatsimonsguy/fence-controller/internal/units"
)

type Geometry string

const (
	GeometryBelt          Geometry = "belt"
	GeometryLeadscrew     Geometry = "lead_screw"
	GeometryRackAndPinion Geometry = "rack_pinion"
)

// ParameterKind names the single linear parameter a geometry is built on.
type ParameterKind string

const (
	PulleyDiameter ParameterKind = "pulley_diameter"
	LeadscrewPitch ParameterKind = "leadscrew_pitch"
	PinionDiameter ParameterKind = "pinion_diameter"
)

var (
	ErrNonPositiveParameter  = errors.New("non-positive geometry parameter")
	ErrNonPositiveResolution = errors.New("pulse resolution must be positive")
	ErrNonPositiveGearbox    = errors.New("gearbox reduction must be positive")
	ErrUnknownGeometry       = errors.New("unknown mechanism type")
	ErrNotApplicable         = errors.New("parameter not applicable to mechanism")
)

// ConfigError marks a problem with the persisted mechanism configuration. It
// is never a runtime fault.
type ConfigError struct {
	Geometry Geometry
	Err      error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mechanism %s: configuration error: %v", e.Geometry, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config is built once at boot and never mutated.
type Config struct {
	Geometry         Geometry
	PulseResolution  int
	MaxVelocity      int // pulses/s
	MaxAcceleration  int // pulses/s^2
	GearboxReduction float64
	Parameter        units.Measurement
}

// Mechanism turns linear travel into motor pulses for one drive-train type.
type Mechanism interface {
	Geometry() Geometry
	StepsPerUnit() (float64, error)
	MaxVelocity() int
	MaxAcceleration() int
	PulseResolution() int
	GearboxReduction() float64
	GeometryParameter() units.Measurement
	ParameterUnit() units.Unit
	ParameterKind() ParameterKind
}

// PulsesPerSecond scales a motor shaft rate in RPM (or RPM/s) into drive
// pulses per second for the given resolution.
func PulsesPerSecond(rpm float64, resolution int) int {
	return int(rpm * float64(resolution) / 60)
}

// New selects the variant for cfg.Geometry and validates it by computing
// steps per unit once, so a bad configuration surfaces at boot.
func New(cfg Config) (Mechanism, error) {
	b := base{cfg: cfg}

	var m Mechanism
	switch cfg.Geometry {
	case GeometryBelt:
		m = &Belt{base: b}
	case GeometryLeadscrew:
		m = &Leadscrew{base: b}
	case GeometryRackAndPinion:
		m = &RackAndPinion{base: b}
	default:
		return nil, &ConfigError{Geometry: cfg.Geometry, Err: ErrUnknownGeometry}
	}

	spu, err := m.StepsPerUnit()
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("mechanism", string(cfg.Geometry)).
		Str("parameter", cfg.Parameter.String()).
		Int("pulse_resolution", cfg.PulseResolution).
		Float64("gearbox", cfg.GearboxReduction).
		Float64("steps_per_inch", spu).
		Msg("Mechanism configured")

	return m, nil
}

// FromSettings builds a Config from persisted settings. Shaft velocity and
// acceleration are stored in RPM and RPM/s and scaled to pulse rates here.
func FromSettings(s model.Settings) Config {
	return Config{
		Geometry:         Geometry(s.MechanismType),
		PulseResolution:  s.PulsesPerRev,
		MaxVelocity:      PulsesPerSecond(s.ShaftVelocity, s.PulsesPerRev),
		MaxAcceleration:  PulsesPerSecond(s.ShaftAccel, s.PulsesPerRev),
		GearboxReduction: s.GearboxReduction,
		Parameter:        s.Parameter,
	}
}

// Parameter returns the mechanism's value for kind, or ErrNotApplicable when
// the mechanism is not built on that parameter.
func Parameter(m Mechanism, kind ParameterKind) (units.Measurement, error) {
	if m.ParameterKind() != kind {
		return units.Measurement{}, fmt.Errorf("%s on %s: %w", kind, m.Geometry(), ErrNotApplicable)
	}
	return m.GeometryParameter(), nil
}

type base struct {
	cfg Config
}

func (b base) Geometry() Geometry { return b.cfg.Geometry }
func (b base) MaxVelocity() int { return b.cfg.MaxVelocity }
func (b base) MaxAcceleration() int { return b.cfg.MaxAcceleration }
func (b base) PulseResolution() int { return b.cfg.PulseResolution }
func (b base) GearboxReduction() float64 { return b.cfg.GearboxReduction }
func (b base) GeometryParameter() units.Measurement { return b.cfg.Parameter }
func (b base) ParameterUnit() units.Unit { return b.cfg.Parameter.Unit }

// stepsPerUnit = (resolution / (parameter * factor)) * gearbox, parameter in inches.
func (b base) stepsPerUnit(factor float64) (float64, error) {
	fail := func(err error) (float64, error) {
		log.Error().Err(err).Str("mechanism", string(b.cfg.Geometry)).Msg("Cannot compute steps per unit")
		return 0, &ConfigError{Geometry: b.cfg.Geometry, Err: err}
	}

	if b.cfg.PulseResolution <= 0 {
		return fail(ErrNonPositiveResolution)
	}
	if !(b.cfg.GearboxReduction > 0) || math.IsInf(b.cfg.GearboxReduction, 1) {
		return fail(ErrNonPositiveGearbox)
	}

	param, err := units.ToCanonical(b.cfg.Parameter.Value, b.cfg.Parameter.Unit)
	if err != nil {
		return fail(err)
	}
	if !(param > 0) || math.IsInf(param, 1) {
		return fail(ErrNonPositiveParameter)
	}

	return (float64(b.cfg.PulseResolution) / (param * factor)) * b.cfg.GearboxReduction, nil
}

// Belt is a timing belt driven by a pulley on the motor (or gearbox) shaft.
type Belt struct{ base }

func (m *Belt) ParameterKind() ParameterKind { return PulleyDiameter }

func (m *Belt) StepsPerUnit() (float64, error) {
	return m.stepsPerUnit(math.Pi)
}

// Leadscrew advances one pitch per output revolution.
type Leadscrew struct{ base }

func (m *Leadscrew) ParameterKind() ParameterKind { return LeadscrewPitch }

func (m *Leadscrew) StepsPerUnit() (float64, error) {
	return m.stepsPerUnit(1)
}

// RackAndPinion rolls a pinion of the given pitch diameter along a rack.
type RackAndPinion struct{ base }

func (m *RackAndPinion) ParameterKind() ParameterKind { return PinionDiameter }

func (m *RackAndPinion) StepsPerUnit() (float64, error) {
	return m.stepsPerUnit(math.Pi)
}
