package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"github.com/thatsimonsguy/fence-controller/internal/mechanism"
	"github.com/thatsimonsguy/fence-controller/internal/units"
)

func ShowSettingsCLI(dbPath string, w io.Writer) error {
	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	s, err := GetSettings(dbConn)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func SetDisplayUnitCLI(dbPath, unit string) error {
	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	tx, err := StartTransaction(dbConn)
	if err != nil {
		return err
	}
	if err := UpdateDisplayUnitWithTx(tx, units.ParseUnit(unit)); err != nil {
		RollbackTransaction(tx)
		return err
	}
	return CommitTransaction(tx)
}

func SetHomeOffsetCLI(dbPath string, value float64, unit string) error {
	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	tx, err := StartTransaction(dbConn)
	if err != nil {
		return err
	}
	if err := UpdateHomeToBladeWithTx(tx, units.Measurement{Value: value, Unit: units.ParseUnit(unit)}); err != nil {
		RollbackTransaction(tx)
		return err
	}
	return CommitTransaction(tx)
}

// SetMechanismCLI validates the new drive train against the stored motor
// settings before writing it. It takes effect on the next boot.
func SetMechanismCLI(dbPath, geometry string, param float64, unit string, gearbox float64) error {
	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	tx, err := StartTransaction(dbConn)
	if err != nil {
		return err
	}

	s, err := getSettings(tx)
	if err != nil {
		RollbackTransaction(tx)
		return err
	}
	s.MechanismType = geometry
	s.Parameter = units.Measurement{Value: param, Unit: units.ParseUnit(unit)}
	s.GearboxReduction = gearbox
	if _, err := mechanism.New(mechanism.FromSettings(s)); err != nil {
		RollbackTransaction(tx)
		return fmt.Errorf("rejected mechanism: %w", err)
	}

	if err := UpdateMechanismWithTx(tx, geometry, s.Parameter, gearbox); err != nil {
		RollbackTransaction(tx)
		return err
	}
	return CommitTransaction(tx)
}
