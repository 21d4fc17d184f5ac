package units

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Unit is a linear measurement unit. Inches is the canonical unit used for
// all geometry math.
type Unit int

const (
	Inches Unit = iota
	Millimeters
	Unknown
)

// Canonical is the unit all mechanism math is done in.
const Canonical = Inches

const MillimetersPerInch = 25.4

var ErrUnknownUnit = errors.New("unknown unit")

// Measurement is a value tagged with the unit it was measured in.
type Measurement struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

func (u Unit) String() string {
	switch u {
	case Inches:
		return "inches"
	case Millimeters:
		return "millimeters"
	default:
		return "unknown"
	}
}

// Symbol is the short suffix used on the display, e.g. " in".
func (u Unit) Symbol() string {
	switch u {
	case Inches:
		return " in"
	case Millimeters:
		return " mm"
	default:
		return ""
	}
}

func ParseUnit(s string) Unit {
	switch s {
	case "inches", "in":
		return Inches
	case "millimeters", "mm":
		return Millimeters
	default:
		return Unknown
	}
}

func (u Unit) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u *Unit) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("unit must be a string: %w", err)
	}
	*u = ParseUnit(s)
	return nil
}

// ToCanonical converts value into inches. An Unknown unit returns the value
// unchanged along with ErrUnknownUnit; callers must not trust that result.
func ToCanonical(value float64, unit Unit) (float64, error) {
	switch unit {
	case Inches:
		return value, nil
	case Millimeters:
		return value / MillimetersPerInch, nil
	default:
		return value, ErrUnknownUnit
	}
}

// FromCanonical converts a value in inches into unit.
func FromCanonical(value float64, unit Unit) (float64, error) {
	switch unit {
	case Inches:
		return value, nil
	case Millimeters:
		return value * MillimetersPerInch, nil
	default:
		return value, ErrUnknownUnit
	}
}

// Convert converts value between units. Converting a unit to itself is always
// the identity, including Unknown.
func Convert(value float64, from, to Unit) (float64, error) {
	if from == to {
		return value, nil
	}
	canonical, err := ToCanonical(value, from)
	if err != nil {
		return value, err
	}
	out, err := FromCanonical(canonical, to)
	if err != nil {
		return value, err
	}
	return out, nil
}

// In returns the measurement expressed in unit.
func (m Measurement) In(unit Unit) (float64, error) {
	return Convert(m.Value, m.Unit, unit)
}

func (m Measurement) String() string {
	return fmt.Sprintf("%.3f%s", m.Value, m.Unit.Symbol())
}
