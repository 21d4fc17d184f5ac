package drive

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/fence-controller/internal/gpio"
	"github.com/thatsimonsguy/fence-controller/internal/model"
	"github.com/thatsimonsguy/fence-controller/internal/pinctrl"
)

// Pins are the drive's control lines on the host header.
type Pins struct {
	Enable    model.GPIOPin `json:"enable"`
	Step      model.GPIOPin `json:"step"`
	Direction model.GPIOPin `json:"direction"`
	HLFB      model.GPIOPin `json:"hlfb"`
	Alert     model.GPIOPin `json:"alert"`
}

// alertCheckInterval is how many pulses are emitted between alert line reads.
const alertCheckInterval = 64

var (
	now            = time.Now
	sleep          = time.Sleep
	pulseWidth     = 5 * time.Microsecond
	configureInput = pinctrl.ConfigureInput
)

// GPIODrive generates step/direction pulses on host GPIO and reads the
// drive's HLFB and alert outputs. Pulse generation runs on its own goroutine;
// all other methods are called from the control loop.
type GPIODrive struct {
	pins Pins

	mu       sync.Mutex
	enabled  bool
	velMax   int
	accelMax int
	position int32
	moving   bool
	latched  bool
	done     chan struct{}
}

func NewGPIODrive(pins Pins) *GPIODrive {
	return &GPIODrive{pins: pins, velMax: 1000, accelMax: 20000}
}

func (d *GPIODrive) EnableRequest(enable bool) {
	d.mu.Lock()
	d.enabled = enable
	d.mu.Unlock()

	if err := gpio.Set(d.pins.Enable, enable); err != nil {
		log.Error().Err(err).Bool("enable", enable).Msg("Failed to drive enable line")
		d.latch()
	}
}

func (d *GPIODrive) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *GPIODrive) HLFBAsserted() bool {
	if !d.Enabled() {
		return false
	}
	active, err := gpio.CurrentlyActive(d.pins.HLFB)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read HLFB")
		d.latch()
		return false
	}
	return active
}

func (d *GPIODrive) AlertsPresent() bool {
	d.mu.Lock()
	latched := d.latched
	d.mu.Unlock()
	return latched || d.MotorFaulted()
}

func (d *GPIODrive) MotorFaulted() bool {
	active, err := gpio.CurrentlyActive(d.pins.Alert)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read alert line")
		return true
	}
	return active
}

func (d *GPIODrive) ClearAlerts() {
	d.mu.Lock()
	d.latched = false
	d.mu.Unlock()
}

func (d *GPIODrive) SetVelMax(pulsesPerSec int) {
	d.mu.Lock()
	d.velMax = pulsesPerSec
	d.mu.Unlock()
}

func (d *GPIODrive) SetAccelMax(pulsesPerSec2 int) {
	d.mu.Lock()
	d.accelMax = pulsesPerSec2
	d.mu.Unlock()
}

func (d *GPIODrive) MoveAbsolute(position int32) {
	d.mu.Lock()
	if d.moving || !d.enabled || d.latched {
		d.mu.Unlock()
		log.Warn().Int32("target", position).Msg("Move ignored: drive busy, disabled or alerting")
		return
	}
	delta := int64(position) - int64(d.position)
	vel, accel := d.velMax, d.accelMax
	d.moving = true
	d.done = make(chan struct{})
	done := d.done
	d.mu.Unlock()

	go d.pulse(delta, vel, accel, done)
}

func (d *GPIODrive) StepsComplete() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.moving
}

func (d *GPIODrive) PositionRefSet(position int32) {
	d.mu.Lock()
	d.position = position
	d.mu.Unlock()
}

func (d *GPIODrive) Position() int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

// Wait blocks until the in-flight pulse train, if any, has finished.
func (d *GPIODrive) Wait() {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (d *GPIODrive) latch() {
	d.mu.Lock()
	d.latched = true
	d.mu.Unlock()
}

// pulse emits |delta| steps on a symmetric trapezoidal velocity profile.
func (d *GPIODrive) pulse(delta int64, velMax, accelMax int, done chan struct{}) {
	defer func() {
		d.mu.Lock()
		d.moving = false
		d.mu.Unlock()
		close(done)
	}()

	dir := int32(1)
	if delta < 0 {
		dir = -1
		delta = -delta
	}
	if err := gpio.Set(d.pins.Direction, dir > 0); err != nil {
		log.Error().Err(err).Msg("Failed to set direction")
		d.latch()
		return
	}

	for i := int64(0); i < delta; i++ {
		if i%alertCheckInterval == 0 && d.MotorFaulted() {
			log.Warn().Int64("steps_remaining", delta-i).Msg("Alert asserted mid-move, stopping pulse train")
			d.latch()
			return
		}
		if !d.Enabled() {
			return
		}

		start := now()
		if err := gpio.Activate(d.pins.Step); err != nil {
			d.latch()
			return
		}
		sleep(pulseWidth)
		if err := gpio.Deactivate(d.pins.Step); err != nil {
			d.latch()
			return
		}

		d.mu.Lock()
		d.position += dir
		d.mu.Unlock()

		// Each level change is a pinctrl exec; only the rest of the interval is slept.
		if wait := stepInterval(i, delta, velMax, accelMax) - now().Sub(start); wait > 0 {
			sleep(wait)
		}
	}
}

// stepInterval returns the delay after step i of n so the rate ramps at
// accelMax up to velMax and back down.
func stepInterval(i, n int64, velMax, accelMax int) time.Duration {
	if velMax <= 0 {
		velMax = 1
	}
	v := float64(velMax)
	if accelMax > 0 {
		fromEdge := i + 1
		if n-i < fromEdge {
			fromEdge = n - i
		}
		ramp := math.Sqrt(2 * float64(accelMax) * float64(fromEdge))
		v = math.Min(v, ramp)
	}
	return time.Duration(float64(time.Second) / v)
}

// inputPull biases an input toward its inactive level so a disconnected
// drive reads as not ready and not alerting.
func inputPull(pin model.GPIOPin) string {
	if pin.ActiveHigh {
		return "pd"
	}
	return "pu"
}

// ConfigurePins puts the outputs at their inactive level and sets up the
// feedback inputs. Called once at boot before the drive is used.
func ConfigurePins(pins Pins) error {
	for _, out := range []model.GPIOPin{pins.Enable, pins.Step, pins.Direction} {
		if err := gpio.Deactivate(out); err != nil {
			return fmt.Errorf("configure output %d: %w", out.Number, err)
		}
	}
	if gpio.SafeMode() {
		return nil
	}
	for _, in := range []model.GPIOPin{pins.HLFB, pins.Alert} {
		if err := configureInput(in.Number, inputPull(in)); err != nil {
			return fmt.Errorf("configure input %d: %w", in.Number, err)
		}
	}
	return nil
}
