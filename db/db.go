package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/fence-controller/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY CHECK(id=1),
	mechanism TEXT NOT NULL,
	parameter REAL NOT NULL,
	parameter_unit TEXT NOT NULL,
	gearbox_reduction REAL NOT NULL DEFAULT 1,
	pulses_per_rev INTEGER NOT NULL,
	shaft_velocity REAL NOT NULL,
	shaft_accel REAL NOT NULL,
	display_unit TEXT NOT NULL,
	home_to_blade REAL NOT NULL DEFAULT 0,
	home_to_blade_unit TEXT NOT NULL DEFAULT 'inches',
	min_travel REAL NOT NULL DEFAULT 0,
	max_travel REAL NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS axis_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at TEXT NOT NULL,
	kind TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS axis_events_at ON axis_events(at);
`

// Columns added after the first release, applied to databases created
// before them.
var migrations = []struct {
	table, column, ddl string
}{
	{"settings", "min_travel", "ALTER TABLE settings ADD COLUMN min_travel REAL NOT NULL DEFAULT 0"},
	{"settings", "max_travel", "ALTER TABLE settings ADD COLUMN max_travel REAL NOT NULL DEFAULT 0"},
}

// Open opens (creating if needed) the database at dbPath and brings its
// schema up to date.
func Open(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The in-memory database lives and dies with its connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := ApplySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := ApplyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func ApplyMigrations(db *sql.DB) error {
	for _, m := range migrations {
		exists, err := columnExists(db, m.table, m.column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.Exec(m.ddl); err != nil {
			return fmt.Errorf("migrate %s.%s: %w", m.table, m.column, err)
		}
		log.Info().Str("table", m.table).Str("column", m.column).Msg("Applied migration")
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid          int
			name, ctype  string
			notNull      bool
			defaultValue *string
			pk           int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultValue, &pk); err != nil {
			return false, fmt.Errorf("failed to scan column info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// SeedSettings stores s unless settings already exist. It reports whether
// the row was written.
func SeedSettings(db *sql.DB, s model.Settings) (bool, error) {
	res, err := db.Exec(`INSERT OR IGNORE INTO settings (id, mechanism, parameter, parameter_unit, gearbox_reduction, pulses_per_rev, shaft_velocity, shaft_accel, display_unit, home_to_blade, home_to_blade_unit, min_travel, max_travel, updated_at) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.MechanismType, s.Parameter.Value, s.Parameter.Unit.String(), s.GearboxReduction, s.PulsesPerRev,
		s.ShaftVelocity, s.ShaftAccel, s.DisplayUnit.String(), s.HomeToBlade.Value, s.HomeToBlade.Unit.String(),
		s.MinTravel, s.MaxTravel, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("failed to seed settings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to seed settings: %w", err)
	}
	if n > 0 {
		log.Info().Str("mechanism", s.MechanismType).Msg("Settings seeded from config")
	}
	return n > 0, nil
}
