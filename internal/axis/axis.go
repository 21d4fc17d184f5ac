// Package axis supervises one motor drive: it sequences homing, converts
// engineering-unit targets into step targets through a mechanism model and
// runs absolute moves against the drive's feedback.
//
// Everything here is driven from a single control loop calling Step once per
// cycle. No method is safe for concurrent use.
package axis

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/fence-controller/internal/drive"
	"github.com/thatsimonsguy/fence-controller/internal/mechanism"
	"github.com/thatsimonsguy/fence-controller/internal/model"
	"github.com/thatsimonsguy/fence-controller/internal/units"
)

type HomingState int

const (
	HomingIdle HomingState = iota
	HomingInit
	HomingWaitForFeedback
	HomingComplete
	HomingError
)

func (s HomingState) String() string {
	switch s {
	case HomingIdle:
		return "idle"
	case HomingInit:
		return "init"
	case HomingWaitForFeedback:
		return "wait_for_feedback"
	case HomingComplete:
		return "complete"
	case HomingError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	ErrNotHomed       = errors.New("axis not homed, homing initiated")
	ErrMoveRejected   = errors.New("move rejected due to drive fault")
	ErrMoveFaulted    = errors.New("drive fault during move")
	ErrMoveTimeout    = errors.New("move did not complete in time")
	ErrMoveInProgress = errors.New("move already in progress")
	ErrOutsideRange   = errors.New("target outside travel limits")
	ErrHomingFault    = errors.New("drive fault during homing")
	ErrHomingTimeout  = errors.New("homing feedback timed out")
	ErrInvalidTarget  = errors.New("move target is not a finite number")
)

// Swapped in tests.
var (
	now   = time.Now
	sleep = time.Sleep
)

// Navigator receives screen navigation requests for the operator panel.
type Navigator interface {
	SetScreen(screen model.Screen)
}

type nopNavigator struct{}

func (nopNavigator) SetScreen(model.Screen) {}

type EventKind string

const (
	EventHomingComplete  EventKind = "homing_complete"
	EventHomingError     EventKind = "homing_error"
	EventMoveComplete    EventKind = "move_complete"
	EventMoveFailed      EventKind = "move_failed"
	EventFaultCleared    EventKind = "fault_cleared"
	EventFaultPersistent EventKind = "fault_persistent"
)

// Event reports a terminal outcome to whoever runs the loop.
type Event struct {
	Kind   EventKind
	Steps  int32
	Err    error
	Detail string
}

type Options struct {
	// SettleDelay separates disabling and re-enabling the drive when homing starts.
	SettleDelay time.Duration
	// FaultCycleDelay is how long the enable line is held low to clear a motor fault.
	FaultCycleDelay time.Duration
	HomingTimeout   time.Duration
	MoveTimeout     time.Duration
	// PollInterval paces MoveAbsolutePosition while it waits for the drive.
	PollInterval time.Duration

	// Travel limits in inches. Both zero disables the check.
	MinTravel float64
	MaxTravel float64

	OnEvent func(Event)
}

func (o *Options) setDefaults() {
	if o.SettleDelay == 0 {
		o.SettleDelay = 10 * time.Millisecond
	}
	if o.FaultCycleDelay == 0 {
		o.FaultCycleDelay = 10 * time.Millisecond
	}
	if o.HomingTimeout == 0 {
		o.HomingTimeout = 30 * time.Second
	}
	if o.MoveTimeout == 0 {
		o.MoveTimeout = 60 * time.Second
	}
	if o.PollInterval == 0 {
		o.PollInterval = time.Millisecond
	}
}

type Status struct {
	HomingState   HomingState `json:"homing_state"`
	HasHomed      bool        `json:"has_homed"`
	MovePhase     MovePhase   `json:"move_phase"`
	TargetSteps   int32       `json:"target_steps"`
	PositionSteps int32       `json:"position_steps"`
	StepsPerUnit  float64     `json:"steps_per_inch"`
	Enabled       bool        `json:"enabled"`
	Faulted       bool        `json:"faulted"`
}

// Axis is the motor supervisor for one exclusively owned drive.
type Axis struct {
	drive        drive.Drive
	mech         mechanism.Mechanism
	stepsPerUnit float64
	nav          Navigator
	faults       *FaultHandler
	opts         Options

	homingState   HomingState
	hasHomed      bool
	homingStarted time.Time
	homingErr     error

	movePhase   MovePhase
	targetSteps int32
	moveStarted time.Time
	moveErr     error
}

// New binds d to the axis and pushes the mechanism's drive limits to it.
func New(d drive.Drive, m mechanism.Mechanism, nav Navigator, opts Options) (*Axis, error) {
	spu, err := m.StepsPerUnit()
	if err != nil {
		return nil, fmt.Errorf("axis: %w", err)
	}
	if nav == nil {
		nav = nopNavigator{}
	}
	opts.setDefaults()

	d.SetVelMax(m.MaxVelocity())
	d.SetAccelMax(m.MaxAcceleration())

	return &Axis{
		drive:        d,
		mech:         m,
		stepsPerUnit: spu,
		nav:          nav,
		faults:       NewFaultHandler(d, opts.FaultCycleDelay),
		opts:         opts,
		homingState:  HomingIdle,
	}, nil
}

func (a *Axis) HasHomed() bool { return a.hasHomed }
func (a *Axis) HomingState() HomingState { return a.homingState }
func (a *Axis) Mechanism() mechanism.Mechanism { return a.mech }
func (a *Axis) StepsPerUnit() float64 { return a.stepsPerUnit }

// HomingErr is the reason the last homing attempt failed, if it did.
func (a *Axis) HomingErr() error { return a.homingErr }

func (a *Axis) Status() Status {
	return Status{
		HomingState:   a.homingState,
		HasHomed:      a.hasHomed,
		MovePhase:     a.movePhase,
		TargetSteps:   a.targetSteps,
		PositionSteps: a.drive.Position(),
		StepsPerUnit:  a.stepsPerUnit,
		Enabled:       a.drive.Enabled(),
		Faulted:       a.drive.AlertsPresent(),
	}
}

// Position is the drive's position relative to the homed zero, in unit.
func (a *Axis) Position(unit units.Unit) (float64, error) {
	inches := float64(a.drive.Position()) / a.stepsPerUnit
	return units.FromCanonical(inches, unit)
}

// StartHoming begins a homing cycle. Homing invalidates the zero reference,
// so the axis reports un-homed until the cycle completes.
func (a *Axis) StartHoming() {
	if a.moveActive() {
		log.Warn().Msg("Homing request ignored while a move is in progress")
		return
	}
	log.Info().Str("from", a.homingState.String()).Msg("Starting homing")
	a.homingState = HomingInit
	a.hasHomed = false
	a.homingErr = nil
	a.nav.SetScreen(model.HomingAlertScreen)
}

// Step advances the homing state machine by exactly one state and the move
// state machine by at most one phase. It never blocks beyond the homing
// settle delay.
func (a *Axis) Step() {
	a.stepHoming()
	a.stepMove()
}

func (a *Axis) stepHoming() {
	switch a.homingState {
	case HomingIdle:
		return

	case HomingInit:
		a.drive.EnableRequest(false)
		sleep(a.opts.SettleDelay)
		a.drive.EnableRequest(true)
		a.homingStarted = now()
		a.homingState = HomingWaitForFeedback
		log.Debug().Msg("Drive re-enabled, waiting for homing feedback")

	case HomingWaitForFeedback:
		switch {
		case a.drive.AlertsPresent():
			a.homingErr = ErrHomingFault
			a.homingState = HomingError
		case a.drive.HLFBAsserted():
			a.homingState = HomingComplete
		case now().Sub(a.homingStarted) > a.opts.HomingTimeout:
			a.homingErr = ErrHomingTimeout
			a.drive.EnableRequest(false)
			a.homingState = HomingError
		}

	case HomingComplete:
		a.drive.PositionRefSet(0)
		a.targetSteps = 0
		a.hasHomed = true
		a.homingState = HomingIdle
		log.Info().Dur("elapsed", now().Sub(a.homingStarted)).Msg("Homing complete")
		a.nav.SetScreen(model.MainControlScreen)
		a.emit(Event{Kind: EventHomingComplete})

	case HomingError:
		a.hasHomed = false
		a.homingState = HomingIdle
		log.Error().Err(a.homingErr).Msg("Homing failed")
		a.nav.SetScreen(model.MainControlScreen)
		a.emit(Event{Kind: EventHomingError, Err: a.homingErr})
	}
}

// ResetFault runs the fault handler on operator request. The axis must be
// homed again afterwards.
func (a *Axis) ResetFault() bool {
	if a.moveActive() {
		log.Warn().Msg("Fault reset ignored while a move is in progress")
		return false
	}
	return a.handleFault()
}

func (a *Axis) handleFault() bool {
	usable := a.faults.HandleFault()
	a.hasHomed = false
	if usable {
		a.emit(Event{Kind: EventFaultCleared})
	} else {
		a.emit(Event{Kind: EventFaultPersistent, Err: ErrMoveRejected})
	}
	return usable
}

func (a *Axis) emit(e Event) {
	if a.opts.OnEvent != nil {
		a.opts.OnEvent(e)
	}
}
