package units

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCanonical(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		unit     Unit
		expected float64
	}{
		{"inches are identity", 3.5, Inches, 3.5},
		{"25.4 mm is one inch", 25.4, Millimeters, 1.0},
		{"negative millimeters", -50.8, Millimeters, -2.0},
		{"zero", 0, Millimeters, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToCanonical(tt.value, tt.unit)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}

func TestToCanonical_UnknownReturnsInputWithError(t *testing.T) {
	got, err := ToCanonical(12.0, Unknown)
	assert.ErrorIs(t, err, ErrUnknownUnit)
	assert.Equal(t, 12.0, got)

	got, err = FromCanonical(12.0, Unknown)
	assert.ErrorIs(t, err, ErrUnknownUnit)
	assert.Equal(t, 12.0, got)
}

func TestConvert_Identity(t *testing.T) {
	for _, u := range []Unit{Inches, Millimeters, Unknown} {
		got, err := Convert(7.25, u, u)
		require.NoError(t, err, u.String())
		assert.Equal(t, 7.25, got)
	}
}

func TestConvert_RoundTrip(t *testing.T) {
	values := []float64{0, 1, -1, 0.001, 12.345678, 1e6, -98765.4321}
	pairs := [][2]Unit{{Inches, Millimeters}, {Millimeters, Inches}, {Inches, Inches}, {Millimeters, Millimeters}}

	for _, v := range values {
		for _, p := range pairs {
			there, err := Convert(v, p[0], p[1])
			require.NoError(t, err)
			back, err := Convert(there, p[1], p[0])
			require.NoError(t, err)

			tolerance := 1e-6 * math.Max(math.Abs(v), 1)
			assert.InDelta(t, v, back, tolerance, "value %v via %s->%s", v, p[0], p[1])
		}
	}
}

func TestConvert_Unknown(t *testing.T) {
	got, err := Convert(5, Inches, Unknown)
	assert.ErrorIs(t, err, ErrUnknownUnit)
	assert.Equal(t, 5.0, got)
}

func TestParseUnit(t *testing.T) {
	assert.Equal(t, Inches, ParseUnit("inches"))
	assert.Equal(t, Millimeters, ParseUnit("millimeters"))
	assert.Equal(t, Millimeters, ParseUnit("mm"))
	assert.Equal(t, Unknown, ParseUnit("furlongs"))
	assert.Equal(t, Unknown, ParseUnit(""))
}

func TestUnitJSON(t *testing.T) {
	var m Measurement
	require.NoError(t, m.Unit.UnmarshalJSON([]byte(`"millimeters"`)))
	assert.Equal(t, Millimeters, m.Unit)

	b, err := Inches.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"inches"`, string(b))
}

func TestSymbol(t *testing.T) {
	assert.Equal(t, " in", Inches.Symbol())
	assert.Equal(t, " mm", Millimeters.Symbol())
	assert.Equal(t, "", Unknown.Symbol())
	assert.Equal(t, "2.000 in", Measurement{Value: 2, Unit: Inches}.String())
}
