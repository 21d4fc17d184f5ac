package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/fence-controller/internal/model"
	"github.com/thatsimonsguy/fence-controller/internal/units"
)

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

const settingsColumns = `mechanism, parameter, parameter_unit, gearbox_reduction, pulses_per_rev, shaft_velocity, shaft_accel, display_unit, home_to_blade, home_to_blade_unit, min_travel, max_travel, updated_at`

// GetSettings retrieves the persisted settings.
func GetSettings(db *sql.DB) (model.Settings, error) {
	return getSettings(db)
}

func getSettings(q querier) (model.Settings, error) {
	var (
		s                                  model.Settings
		paramUnit, displayUnit, offsetUnit string
		updatedAt                          string
	)
	err := q.QueryRow(`SELECT `+settingsColumns+` FROM settings WHERE id = 1`).Scan(
		&s.MechanismType, &s.Parameter.Value, &paramUnit, &s.GearboxReduction, &s.PulsesPerRev,
		&s.ShaftVelocity, &s.ShaftAccel, &displayUnit, &s.HomeToBlade.Value, &offsetUnit,
		&s.MinTravel, &s.MaxTravel, &updatedAt)
	if err != nil {
		return s, fmt.Errorf("failed to get settings: %w", err)
	}
	s.Parameter.Unit = units.ParseUnit(paramUnit)
	s.DisplayUnit = units.ParseUnit(displayUnit)
	s.HomeToBlade.Unit = units.ParseUnit(offsetUnit)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return s, nil
}

func GetDisplayUnit(db *sql.DB) (units.Unit, error) {
	var u string
	if err := db.QueryRow(`SELECT display_unit FROM settings WHERE id = 1`).Scan(&u); err != nil {
		return units.Unknown, fmt.Errorf("failed to get display unit: %w", err)
	}
	return units.ParseUnit(u), nil
}

func GetHomeToBlade(db *sql.DB) (units.Measurement, error) {
	var (
		m units.Measurement
		u string
	)
	if err := db.QueryRow(`SELECT home_to_blade, home_to_blade_unit FROM settings WHERE id = 1`).Scan(&m.Value, &u); err != nil {
		return m, fmt.Errorf("failed to get home to blade offset: %w", err)
	}
	m.Unit = units.ParseUnit(u)
	return m, nil
}

// GetAxisEvents returns the most recent events, newest first.
func GetAxisEvents(db *sql.DB, limit int) ([]model.AxisEvent, error) {
	rows, err := db.Query(`SELECT id, at, kind, detail FROM axis_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query axis events: %w", err)
	}
	defer rows.Close()

	events := []model.AxisEvent{}
	for rows.Next() {
		var (
			e  model.AxisEvent
			at string
		)
		if err := rows.Scan(&e.ID, &at, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan axis event: %w", err)
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		events = append(events, e)
	}
	return events, rows.Err()
}
