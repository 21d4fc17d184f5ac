// Package fencecontroller runs the saw fence: it owns the axis and the
// operator panel, applies operator and API commands, and publishes status.
package fencecontroller

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/fence-controller/db"
	"github.com/thatsimonsguy/fence-controller/internal/axis"
	"github.com/thatsimonsguy/fence-controller/internal/datadog"
	"github.com/thatsimonsguy/fence-controller/internal/drive"
	"github.com/thatsimonsguy/fence-controller/internal/mechanism"
	"github.com/thatsimonsguy/fence-controller/internal/model"
	"github.com/thatsimonsguy/fence-controller/internal/notifications"
	"github.com/thatsimonsguy/fence-controller/internal/screen"
	"github.com/thatsimonsguy/fence-controller/internal/units"
)

var (
	ErrBusy            = errors.New("controller busy")
	ErrInvalidSettings = errors.New("invalid settings")
)

const (
	commandQueue    = 8
	metricsInterval = time.Second
	eventHistory    = 500
)

var now = time.Now

type CommandKind int

const (
	CommandHome CommandKind = iota
	CommandMove
	CommandReset
	CommandApplySettings
)

// Command is a request from outside the loop. Reply receives the immediate
// outcome; a move reports acceptance, not arrival.
type Command struct {
	Kind     CommandKind
	Target   units.Measurement
	Settings model.Settings
	Reply    chan error
}

// MechanismStatus describes the running drive train. Only the parameter the
// mechanism is built on is set.
type MechanismStatus struct {
	Type             mechanism.Geometry `json:"type"`
	PulleyDiameter   *units.Measurement `json:"pulley_diameter,omitempty"`
	LeadscrewPitch   *units.Measurement `json:"leadscrew_pitch,omitempty"`
	PinionDiameter   *units.Measurement `json:"pinion_diameter,omitempty"`
	GearboxReduction float64            `json:"gearbox_reduction"`
	PulseResolution  int                `json:"pulse_resolution"`
}

func describeMechanism(m mechanism.Mechanism) MechanismStatus {
	ms := MechanismStatus{
		Type:             m.Geometry(),
		GearboxReduction: m.GearboxReduction(),
		PulseResolution:  m.PulseResolution(),
	}
	fields := map[mechanism.ParameterKind]**units.Measurement{
		mechanism.PulleyDiameter: &ms.PulleyDiameter,
		mechanism.LeadscrewPitch: &ms.LeadscrewPitch,
		mechanism.PinionDiameter: &ms.PinionDiameter,
	}
	for kind, field := range fields {
		if p, err := mechanism.Parameter(m, kind); err == nil {
			*field = &p
		}
	}
	return ms
}

type Status struct {
	Axis        axis.Status       `json:"axis"`
	Mechanism   MechanismStatus   `json:"mechanism"`
	Measurement units.Measurement `json:"measurement"`
	Target      units.Measurement `json:"target"`
	HomeToBlade units.Measurement `json:"home_to_blade_offset"`
	DisplayUnit units.Unit        `json:"display_unit"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type Options struct {
	Axis         axis.Options
	LoopInterval time.Duration
	Settings     model.Settings
}

type Controller struct {
	axis     *axis.Axis
	screen   screen.Screen
	db       *sql.DB
	interval time.Duration
	commands chan Command

	mu     sync.RWMutex
	status Status

	displayUnit units.Unit
	offset      units.Measurement
	target      units.Measurement
	editing     model.ScreenObject
	label       string
	lastMetrics time.Time
	moveStarted time.Time
	mechanism   MechanismStatus
}

// New builds the axis for d and m and binds it to the panel.
func New(d drive.Drive, m mechanism.Mechanism, scr screen.Screen, dbConn *sql.DB, opts Options) (*Controller, error) {
	if opts.LoopInterval <= 0 {
		opts.LoopInterval = 10 * time.Millisecond
	}
	displayUnit := opts.Settings.DisplayUnit
	if displayUnit == units.Unknown {
		displayUnit = units.Inches
	}
	offset := opts.Settings.HomeToBlade
	if offset.Unit == units.Unknown {
		offset = units.Measurement{Unit: units.Inches}
	}

	c := &Controller{
		screen:      scr,
		db:          dbConn,
		interval:    opts.LoopInterval,
		commands:    make(chan Command, commandQueue),
		displayUnit: displayUnit,
		offset:      offset,
		target:      offset,
	}

	axisOpts := opts.Axis
	axisOpts.OnEvent = c.onAxisEvent
	a, err := axis.New(d, m, scr, axisOpts)
	if err != nil {
		return nil, err
	}
	c.axis = a
	c.mechanism = describeMechanism(m)
	c.publish()
	return c, nil
}

func (c *Controller) Axis() *axis.Axis { return c.axis }

// Status returns the last published status. Safe for concurrent use.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Submit queues cmd for the loop and waits for its reply.
func (c *Controller) Submit(ctx context.Context, cmd Command) error {
	cmd.Reply = make(chan error, 1)
	select {
	case c.commands <- cmd:
	default:
		return ErrBusy
	}
	select {
	case err := <-cmd.Reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run ticks the control loop until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	log.Info().Dur("interval", c.interval).Msg("Starting fence controller")

	c.screen.SetScreen(model.MainControlScreen)
	c.axis.StartHoming()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Fence controller stopped")
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick runs one control cycle.
func (c *Controller) Tick() {
	c.screen.Periodic()

	for drained := false; !drained; {
		select {
		case ev := <-c.screen.Events():
			c.handleScreenEvent(ev)
		case cmd := <-c.commands:
			err := c.handleCommand(cmd)
			if cmd.Reply != nil {
				cmd.Reply <- err
			}
		default:
			drained = true
		}
	}

	c.axis.Step()
	c.refreshLabel()
	c.publish()
	c.emitMetrics()
}

func (c *Controller) handleCommand(cmd Command) error {
	switch cmd.Kind {
	case CommandHome:
		c.axis.StartHoming()
		return nil
	case CommandMove:
		return c.moveTo(cmd.Target)
	case CommandReset:
		c.resetServo()
		return nil
	case CommandApplySettings:
		return c.applySettings(cmd.Settings)
	default:
		return fmt.Errorf("unknown command %d", cmd.Kind)
	}
}

// moveTo positions the fence so the blade distance reads target.
func (c *Controller) moveTo(target units.Measurement) error {
	offset, err := c.offset.In(target.Unit)
	if err != nil {
		return err
	}

	err = c.axis.BeginMove(target.Value-offset, target.Unit)
	switch {
	case err == nil:
		c.target = target
		c.moveStarted = now()
	case errors.Is(err, axis.ErrNotHomed):
		c.screen.SetScreen(model.PleaseHomeErrorScreen)
	default:
		log.Warn().Err(err).Str("target", target.String()).Msg("Move not started")
	}
	return err
}

func (c *Controller) resetServo() {
	usable := c.axis.ResetFault()
	log.Info().Bool("usable", usable).Msg("Servo reset requested")
	c.axis.StartHoming()
}

func (c *Controller) handleScreenEvent(ev screen.Event) {
	log.Debug().Int("object", int(ev.Object)).Str("value", ev.Value).Msg("Screen event")

	switch ev.Object {
	case model.HomeButton:
		c.axis.StartHoming()

	case model.MeasureButton:
		_ = c.moveTo(c.target)

	case model.EditTargetButton, model.EditHomeToBladeOffset:
		c.editing = ev.Object
		current := c.target
		if ev.Object == model.EditHomeToBladeOffset {
			current = c.offset
		}
		if v, err := current.In(c.displayUnit); err == nil {
			c.screen.SetLabel(model.LiveParameterInputLabel, strconv.FormatFloat(v, 'f', 3, 64))
		}
		c.screen.SetScreen(model.ParameterEditScreen)

	case model.KeyboardValueEnter:
		c.handleEntry(ev.Value)

	case model.ResetServoButton:
		c.resetServo()

	case model.SettingsButton:
		c.screen.SetScreen(model.SettingsScreen)

	case model.ExitSettingsButton:
		c.screen.SetScreen(model.MainControlScreen)

	case model.InchesUnitButton:
		c.setDisplayUnit(units.Inches)

	case model.MillimetersUnitButton:
		c.setDisplayUnit(units.Millimeters)
	}
}

func (c *Controller) handleEntry(value string) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = fmt.Errorf("%q is not a finite number", value)
	}
	if err != nil {
		log.Warn().Err(err).Str("value", value).Msg("Ignoring non-numeric entry")
		c.screen.SetLabel(model.LiveParameterInputLabel, "invalid")
		return
	}
	entered := units.Measurement{Value: v, Unit: c.displayUnit}

	switch c.editing {
	case model.EditTargetButton:
		c.target = entered
		c.screen.SetScreen(model.MainControlScreen)

	case model.EditHomeToBladeOffset:
		if err := db.UpdateHomeToBlade(c.db, entered); err != nil {
			log.Error().Err(err).Msg("Failed to persist home to blade offset")
			return
		}
		c.offset = entered
		c.screen.SetScreen(model.SettingsScreen)

	default:
		log.Debug().Str("value", value).Msg("Entry with no field being edited")
		return
	}
	c.editing = model.ObjectNone
}

func (c *Controller) setDisplayUnit(u units.Unit) {
	if u == c.displayUnit {
		return
	}
	if err := db.UpdateDisplayUnit(c.db, u); err != nil {
		log.Error().Err(err).Msg("Failed to persist display unit")
		return
	}
	c.displayUnit = u
	log.Info().Str("unit", u.String()).Msg("Display unit changed")
}

// applySettings validates s by building its mechanism, then persists it.
// Display unit and offset apply at once; the drive train and travel limits
// apply on the next boot.
func (c *Controller) applySettings(s model.Settings) error {
	if _, err := mechanism.New(mechanism.FromSettings(s)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if s.DisplayUnit == units.Unknown || s.HomeToBlade.Unit == units.Unknown {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, units.ErrUnknownUnit)
	}
	if s.MaxTravel < s.MinTravel {
		return fmt.Errorf("%w: max travel below min travel", ErrInvalidSettings)
	}
	if err := db.UpdateSettings(c.db, s); err != nil {
		return err
	}
	c.displayUnit = s.DisplayUnit
	c.offset = s.HomeToBlade
	log.Info().Str("mechanism", s.MechanismType).Msg("Settings updated")
	return nil
}

// measurement is the blade distance: offset plus axis position.
func (c *Controller) measurement() (units.Measurement, error) {
	pos, err := c.axis.Position(c.displayUnit)
	if err != nil {
		return units.Measurement{}, err
	}
	offset, err := c.offset.In(c.displayUnit)
	if err != nil {
		return units.Measurement{}, err
	}
	return units.Measurement{Value: offset + pos, Unit: c.displayUnit}, nil
}

func (c *Controller) refreshLabel() {
	m, err := c.measurement()
	if err != nil {
		return
	}
	label := m.String()
	if label != c.label {
		c.label = label
		c.screen.SetLabel(model.MainMeasurementLabel, label)
	}
}

func (c *Controller) publish() {
	m, _ := c.measurement()
	target, _ := c.target.In(c.displayUnit)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = Status{
		Axis:        c.axis.Status(),
		Mechanism:   c.mechanism,
		Measurement: m,
		Target:      units.Measurement{Value: target, Unit: c.displayUnit},
		HomeToBlade: c.offset,
		DisplayUnit: c.displayUnit,
		UpdatedAt:   now(),
	}
}

func (c *Controller) emitMetrics() {
	t := now()
	if t.Sub(c.lastMetrics) < metricsInterval {
		return
	}
	c.lastMetrics = t

	s := c.Status()
	homed := 0.0
	if s.Axis.HasHomed {
		homed = 1
	}
	pos, _ := c.axis.Position(units.Inches)

	datadog.Gauge("axis.position_in", pos)
	datadog.Gauge("axis.position_steps", float64(s.Axis.PositionSteps))
	datadog.Gauge("axis.homed", homed)
	datadog.Gauge("axis.homing_state", float64(s.Axis.HomingState), "state:"+s.Axis.HomingState.String())
}

func (c *Controller) onAxisEvent(e axis.Event) {
	detail := e.Detail
	if e.Err != nil {
		detail = e.Err.Error()
	}
	if e.Kind == axis.EventMoveComplete || e.Kind == axis.EventMoveFailed {
		detail = strings.TrimSpace(fmt.Sprintf("steps=%d %s", e.Steps, detail))
		datadog.Timing("axis.move_duration", now().Sub(c.moveStarted), "outcome:"+string(e.Kind))
	}

	datadog.Incr("axis.events", "kind:"+string(e.Kind))
	c.record(string(e.Kind), detail)

	switch e.Kind {
	case axis.EventHomingError:
		notifications.Notify("Saw fence homing failed", detail, notifications.PriorityHigh, "warning")
	case axis.EventMoveFailed:
		notifications.Notify("Saw fence move aborted", detail, notifications.PriorityHigh, "warning")
	case axis.EventFaultPersistent:
		notifications.Notify("Saw fence drive fault", "Drive alerts persist after clearing; drive disabled", notifications.PriorityUrgent, "rotating_light")
	}
}

func (c *Controller) record(kind, detail string) {
	if c.db == nil {
		return
	}
	if err := db.RecordAxisEvent(c.db, now(), kind, detail); err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("Failed to record axis event")
		return
	}
	if _, err := db.PruneAxisEvents(c.db, eventHistory); err != nil {
		log.Warn().Err(err).Msg("Failed to prune axis events")
	}
}
