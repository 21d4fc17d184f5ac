package drive

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/fence-controller/internal/gpio"
	"github.com/thatsimonsguy/fence-controller/internal/model"
)

var testPins = Pins{
	Enable:    model.GPIOPin{Number: 5, ActiveHigh: true},
	Step:      model.GPIOPin{Number: 6, ActiveHigh: true},
	Direction: model.GPIOPin{Number: 13, ActiveHigh: true},
	HLFB:      model.GPIOPin{Number: 19, ActiveHigh: true},
	Alert:     model.GPIOPin{Number: 26, ActiveHigh: false},
}

type board struct {
	mu     sync.Mutex
	levels map[int]bool
	pulses int
}

func newBoard(t *testing.T) *board {
	t.Helper()
	b := &board{levels: map[int]bool{testPins.Alert.Number: true}}
	gpio.MockGPIO(
		func(pin int, high bool) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if pin == testPins.Step.Number && high {
				b.pulses++
			}
			b.levels[pin] = high
		},
		func(pin int) bool {
			b.mu.Lock()
			defer b.mu.Unlock()
			return b.levels[pin]
		},
	)

	origSleep := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() {
		gpio.ResetGPIO()
		sleep = origSleep
	})
	return b
}

func (b *board) set(pin int, high bool) {
	b.mu.Lock()
	b.levels[pin] = high
	b.mu.Unlock()
}

func TestSimulator_HomingAndMove(t *testing.T) {
	s := NewSimulator()
	assert.False(t, s.HLFBAsserted())

	s.EnableRequest(true)
	assert.False(t, s.HLFBAsserted())
	assert.False(t, s.HLFBAsserted())
	assert.True(t, s.HLFBAsserted())

	s.MoveAbsolute(300)
	assert.False(t, s.StepsComplete())
	assert.Equal(t, int32(100), s.Position())
	assert.False(t, s.StepsComplete())
	assert.True(t, s.StepsComplete())
	assert.Equal(t, int32(300), s.Position())
}

func TestSimulator_MotorFaultNeedsEnableCycle(t *testing.T) {
	s := NewSimulator()
	s.EnableRequest(true)
	s.InjectFault(true)

	s.ClearAlerts()
	assert.True(t, s.AlertsPresent())

	s.EnableRequest(false)
	s.EnableRequest(true)
	assert.False(t, s.MotorFaulted())
	s.ClearAlerts()
	assert.False(t, s.AlertsPresent())
}

func TestGPIODrive_MoveEmitsSteps(t *testing.T) {
	b := newBoard(t)
	d := NewGPIODrive(testPins)

	d.EnableRequest(true)
	assert.True(t, b.levels[testPins.Enable.Number])

	d.MoveAbsolute(250)
	d.Wait()
	assert.True(t, d.StepsComplete())
	assert.Equal(t, int32(250), d.Position())
	assert.Equal(t, 250, b.pulses)
	assert.True(t, b.levels[testPins.Direction.Number])

	d.MoveAbsolute(200)
	d.Wait()
	assert.Equal(t, int32(200), d.Position())
	assert.False(t, b.levels[testPins.Direction.Number])
}

func TestGPIODrive_IgnoresMoveWhenDisabled(t *testing.T) {
	b := newBoard(t)
	d := NewGPIODrive(testPins)

	d.MoveAbsolute(100)
	d.Wait()
	assert.Equal(t, 0, b.pulses)
	assert.Equal(t, int32(0), d.Position())
}

func TestGPIODrive_AlertStopsMove(t *testing.T) {
	b := newBoard(t)
	d := NewGPIODrive(testPins)
	d.EnableRequest(true)

	b.set(testPins.Alert.Number, false) // active low
	assert.True(t, d.MotorFaulted())

	d.MoveAbsolute(1000)
	d.Wait()
	assert.Equal(t, 0, b.pulses)
	assert.True(t, d.AlertsPresent())

	b.set(testPins.Alert.Number, true)
	d.ClearAlerts()
	assert.False(t, d.AlertsPresent())
}

func TestGPIODrive_HLFB(t *testing.T) {
	b := newBoard(t)
	d := NewGPIODrive(testPins)

	b.set(testPins.HLFB.Number, true)
	assert.False(t, d.HLFBAsserted(), "disabled drive never reports HLFB")

	d.EnableRequest(true)
	assert.True(t, d.HLFBAsserted())
}

func TestGPIODrive_StepSpacingIncludesPulseCost(t *testing.T) {
	tests := []struct {
		name      string
		pulseCost time.Duration
		expected  []time.Duration
	}{
		{"cheap pulse sleeps the remainder", 400 * time.Microsecond, []time.Duration{pulseWidth, 600 * time.Microsecond}},
		{"pulse slower than the interval", 2 * time.Millisecond, []time.Duration{pulseWidth}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newBoard(t)

			var mu sync.Mutex
			var sleeps []time.Duration
			sleep = func(d time.Duration) {
				mu.Lock()
				sleeps = append(sleeps, d)
				mu.Unlock()
			}
			base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
			calls := 0
			origNow := now
			now = func() time.Time {
				mu.Lock()
				defer mu.Unlock()
				calls++
				return base.Add(time.Duration(calls) * tt.pulseCost)
			}
			t.Cleanup(func() { now = origNow })

			d := NewGPIODrive(testPins)
			d.SetVelMax(1000)
			d.SetAccelMax(0)
			d.EnableRequest(true)
			d.MoveAbsolute(3)
			d.Wait()

			var expected []time.Duration
			for i := 0; i < 3; i++ {
				expected = append(expected, tt.expected...)
			}
			assert.Equal(t, int32(3), d.Position())
			assert.Equal(t, expected, sleeps)
		})
	}
}

func TestStepInterval(t *testing.T) {
	cruise := stepInterval(500, 1000, 1000, 20000)
	assert.Equal(t, time.Millisecond, cruise)

	first := stepInterval(0, 1000, 1000, 20000)
	assert.Greater(t, first, cruise)
	assert.Equal(t, first, stepInterval(999, 1000, 1000, 20000))

	assert.Equal(t, time.Second, stepInterval(0, 1, 0, 0))
}

func TestConfigurePins(t *testing.T) {
	b := newBoard(t)
	pulls := map[int]string{}
	orig := configureInput
	configureInput = func(pin int, pull string) error {
		pulls[pin] = pull
		return nil
	}
	t.Cleanup(func() { configureInput = orig })

	b.levels[testPins.Enable.Number] = true
	assert.NoError(t, ConfigurePins(testPins))

	assert.False(t, b.levels[testPins.Enable.Number])
	assert.False(t, b.levels[testPins.Step.Number])
	assert.Equal(t, map[int]string{testPins.HLFB.Number: "pd", testPins.Alert.Number: "pu"}, pulls)
}
