package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/fence-controller/internal/model"
	"github.com/thatsimonsguy/fence-controller/internal/units"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func withTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		RollbackTransaction(tx)
		return err
	}
	return CommitTransaction(tx)
}

func UpdateSettings(db *sql.DB, s model.Settings) error {
	return withTx(db, func(tx *sql.Tx) error {
		return UpdateSettingsWithTx(tx, s)
	})
}

func UpdateSettingsWithTx(tx *sql.Tx, s model.Settings) error {
	res, err := tx.Exec(`UPDATE settings SET mechanism = ?, parameter = ?, parameter_unit = ?, gearbox_reduction = ?, pulses_per_rev = ?, shaft_velocity = ?, shaft_accel = ?, display_unit = ?, home_to_blade = ?, home_to_blade_unit = ?, min_travel = ?, max_travel = ?, updated_at = ? WHERE id = 1`,
		s.MechanismType, s.Parameter.Value, s.Parameter.Unit.String(), s.GearboxReduction, s.PulsesPerRev,
		s.ShaftVelocity, s.ShaftAccel, s.DisplayUnit.String(), s.HomeToBlade.Value, s.HomeToBlade.Unit.String(),
		s.MinTravel, s.MaxTravel, stamp())
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return requireRow(res, "settings")
}

func UpdateDisplayUnit(db *sql.DB, u units.Unit) error {
	return withTx(db, func(tx *sql.Tx) error {
		return UpdateDisplayUnitWithTx(tx, u)
	})
}

func UpdateDisplayUnitWithTx(tx *sql.Tx, u units.Unit) error {
	if u == units.Unknown {
		return fmt.Errorf("update display unit: %w", units.ErrUnknownUnit)
	}
	res, err := tx.Exec(`UPDATE settings SET display_unit = ?, updated_at = ? WHERE id = 1`, u.String(), stamp())
	if err != nil {
		return fmt.Errorf("update display unit: %w", err)
	}
	return requireRow(res, "settings")
}

func UpdateHomeToBlade(db *sql.DB, m units.Measurement) error {
	return withTx(db, func(tx *sql.Tx) error {
		return UpdateHomeToBladeWithTx(tx, m)
	})
}

func UpdateHomeToBladeWithTx(tx *sql.Tx, m units.Measurement) error {
	if m.Unit == units.Unknown {
		return fmt.Errorf("update home to blade offset: %w", units.ErrUnknownUnit)
	}
	res, err := tx.Exec(`UPDATE settings SET home_to_blade = ?, home_to_blade_unit = ?, updated_at = ? WHERE id = 1`, m.Value, m.Unit.String(), stamp())
	if err != nil {
		return fmt.Errorf("update home to blade offset: %w", err)
	}
	return requireRow(res, "settings")
}

// UpdateMechanismWithTx changes the drive-train description. The caller
// validates the combination first.
func UpdateMechanismWithTx(tx *sql.Tx, mechanism string, param units.Measurement, gearbox float64) error {
	res, err := tx.Exec(`UPDATE settings SET mechanism = ?, parameter = ?, parameter_unit = ?, gearbox_reduction = ?, updated_at = ? WHERE id = 1`,
		mechanism, param.Value, param.Unit.String(), gearbox, stamp())
	if err != nil {
		return fmt.Errorf("update mechanism: %w", err)
	}
	return requireRow(res, "settings")
}

func requireRow(res sql.Result, table string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s: %w", table, sql.ErrNoRows)
	}
	return nil
}

// RecordAxisEvent appends to the axis history.
func RecordAxisEvent(db *sql.DB, at time.Time, kind, detail string) error {
	_, err := db.Exec(`INSERT INTO axis_events (at, kind, detail) VALUES (?, ?, ?)`,
		at.UTC().Format(time.RFC3339Nano), kind, detail)
	if err != nil {
		return fmt.Errorf("record axis event %s: %w", kind, err)
	}
	return nil
}

// PruneAxisEvents keeps only the newest keep events.
func PruneAxisEvents(db *sql.DB, keep int) (int64, error) {
	res, err := db.Exec(`DELETE FROM axis_events WHERE id NOT IN (SELECT id FROM axis_events ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune axis events: %w", err)
	}
	return res.RowsAffected()
}
