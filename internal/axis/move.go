package axis

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/fence-controller/internal/model"
	"github.com/thatsimonsguy/fence-controller/internal/units"
)

// MovePhase is the absolute-move sub-state machine.
type MovePhase int

const (
	MoveIdle MovePhase = iota
	MoveCommanded
	MoveAwaitingFeedback
	MoveDone
	MoveFaulted
)

func (p MovePhase) String() string {
	switch p {
	case MoveIdle:
		return "idle"
	case MoveCommanded:
		return "commanded"
	case MoveAwaitingFeedback:
		return "awaiting_feedback"
	case MoveDone:
		return "done"
	case MoveFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

func (p MovePhase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (s HomingState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (a *Axis) MovePhase() MovePhase { return a.movePhase }

// MoveErr is the outcome of the last finished move.
func (a *Axis) MoveErr() error { return a.moveErr }

func (a *Axis) TargetSteps() int32 { return a.targetSteps }

func (a *Axis) moveActive() bool {
	return a.movePhase == MoveCommanded || a.movePhase == MoveAwaitingFeedback
}

// StepTarget converts a position into a step target. Fractional steps are
// truncated toward zero. Targets that are not finite or do not fit the
// drive's int32 position register are rejected.
func (a *Axis) StepTarget(target float64, unit units.Unit) (int32, error) {
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return 0, fmt.Errorf("move target %v: %w", target, ErrInvalidTarget)
	}
	inches, err := units.ToCanonical(target, unit)
	if err != nil {
		return 0, fmt.Errorf("move target %v: %w", target, err)
	}
	steps := inches * a.stepsPerUnit
	if steps < math.MinInt32 || steps > math.MaxInt32 {
		return 0, fmt.Errorf("move target %v %s is %.0f steps: %w", target, unit.String(), steps, ErrOutsideRange)
	}
	return int32(steps), nil
}

// BeginMove validates and commands an absolute move without waiting for it.
// Progress is made by Step; the outcome is visible through MovePhase/MoveErr.
func (a *Axis) BeginMove(target float64, unit units.Unit) error {
	if a.moveActive() {
		return ErrMoveInProgress
	}

	steps, convErr := a.StepTarget(target, unit)

	if !a.hasHomed {
		if a.homingState == HomingIdle {
			a.StartHoming()
		}
		log.Warn().Float64("target", target).Str("unit", unit.String()).Msg("Move requested before homing")
		return ErrNotHomed
	}

	if a.drive.AlertsPresent() {
		log.Warn().Msg("Move requested with drive fault latched")
		a.handleFault()
		return ErrMoveRejected
	}

	if convErr != nil {
		if errors.Is(convErr, ErrOutsideRange) {
			a.nav.SetScreen(model.OutsideRangeErrorScreen)
		}
		return convErr
	}

	if a.opts.MinTravel != 0 || a.opts.MaxTravel != 0 {
		inches, _ := units.ToCanonical(target, unit)
		if inches < a.opts.MinTravel || inches > a.opts.MaxTravel {
			a.nav.SetScreen(model.OutsideRangeErrorScreen)
			return fmt.Errorf("%.4f in not within [%.4f, %.4f]: %w", inches, a.opts.MinTravel, a.opts.MaxTravel, ErrOutsideRange)
		}
	}

	log.Info().
		Float64("target", target).
		Str("unit", unit.String()).
		Int32("steps", steps).
		Msg("Commanding absolute move")

	a.drive.MoveAbsolute(steps)
	a.targetSteps = steps
	a.moveStarted = now()
	a.moveErr = nil
	a.movePhase = MoveCommanded
	return nil
}

func (a *Axis) stepMove() {
	switch a.movePhase {
	case MoveCommanded:
		a.movePhase = MoveAwaitingFeedback

	case MoveAwaitingFeedback:
		switch {
		case a.drive.AlertsPresent():
			a.failMove(ErrMoveFaulted)
		case a.drive.StepsComplete() && a.drive.HLFBAsserted():
			a.movePhase = MoveDone
			log.Info().Int32("steps", a.targetSteps).Dur("elapsed", now().Sub(a.moveStarted)).Msg("Move complete")
			a.emit(Event{Kind: EventMoveComplete, Steps: a.targetSteps})
		case now().Sub(a.moveStarted) > a.opts.MoveTimeout:
			a.failMove(ErrMoveTimeout)
		}

	case MoveDone, MoveFaulted:
		a.movePhase = MoveIdle
	}
}

func (a *Axis) failMove(err error) {
	log.Error().Err(err).Int32("steps", a.targetSteps).Int32("position", a.drive.Position()).Msg("Move aborted")
	a.moveErr = err
	a.movePhase = MoveFaulted
	a.emit(Event{Kind: EventMoveFailed, Steps: a.targetSteps, Err: err})
	a.handleFault()
}

// MoveAbsolutePosition moves to target and blocks until the drive reports
// the move complete or a fault aborts it. There is no cancellation; the only
// abort paths are a drive fault and the move timeout.
func (a *Axis) MoveAbsolutePosition(target float64, unit units.Unit) error {
	if err := a.BeginMove(target, unit); err != nil {
		return err
	}
	for {
		a.stepMove()
		switch a.movePhase {
		case MoveDone:
			return nil
		case MoveFaulted:
			return a.moveErr
		}
		sleep(a.opts.PollInterval)
	}
}
