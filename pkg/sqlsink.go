package cscraw

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlx "github.com/jmoiron/sqlx"
)

// RunInfo identifies one validation run in every report.
type RunInfo struct {
	ID        uuid.UUID
	RunNumber int
	Started   time.Time
}

func NewRunInfo(runNumber int) RunInfo {
	return RunInfo{ID: uuid.New(), RunNumber: runNumber, Started: time.Now().UTC()}
}

var reportSchema = []string{
	`CREATE TABLE IF NOT EXISTS ValidationRuns (
		RunID VARCHAR(36) NOT NULL PRIMARY KEY,
		RunNumber INTEGER NOT NULL,
		Started VARCHAR(32) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ValidationEvents (
		RunID VARCHAR(36) NOT NULL,
		EventID INTEGER NOT NULL,
		Status VARCHAR(16) NOT NULL,
		RecordSize INTEGER NOT NULL,
		NumTruth INTEGER NOT NULL,
		NumReadout INTEGER NOT NULL,
		NumUnpacked INTEGER NOT NULL,
		NumMatched INTEGER NOT NULL,
		NumMismatches INTEGER NOT NULL,
		Error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS Mismatches (
		RunID VARCHAR(36) NOT NULL,
		EventID INTEGER NOT NULL,
		DetID VARCHAR(24) NOT NULL,
		RawID INTEGER NOT NULL,
		Kind VARCHAR(16) NOT NULL,
		Discrepancy VARCHAR(24) NOT NULL,
		Channel INTEGER NOT NULL,
		BX INTEGER NOT NULL
	)`,
}

type validationEventRow struct {
	RunID         string  `db:"RunID"`
	EventID       uint32  `db:"EventID"`
	Status        string  `db:"Status"`
	RecordSize    int     `db:"RecordSize"`
	NumTruth      int     `db:"NumTruth"`
	NumReadout    int     `db:"NumReadout"`
	NumUnpacked   int     `db:"NumUnpacked"`
	NumMatched    int     `db:"NumMatched"`
	NumMismatches int     `db:"NumMismatches"`
	Error         *string `db:"Error"`
}

type mismatchRow struct {
	RunID       string `db:"RunID"`
	EventID     uint32 `db:"EventID"`
	DetID       string `db:"DetID"`
	RawID       uint32 `db:"RawID"`
	Kind        string `db:"Kind"`
	Discrepancy string `db:"Discrepancy"`
	Channel     int    `db:"Channel"`
	BX          int    `db:"BX"`
}

// SQLReportSink stores validation results in the ValidationEvents and
// Mismatches tables, one transaction per event.
type SQLReportSink struct {
	db  *sqlx.DB
	run RunInfo
}

func NewSQLReportSink(db *sqlx.DB, run RunInfo) (*SQLReportSink, error) {
	for _, statement := range reportSchema {
		if _, err := db.Exec(statement); err != nil {
			return nil, fmt.Errorf("error creating report tables: %w", err)
		}
	}
	_, err := db.NamedExec(`INSERT INTO ValidationRuns (RunID, RunNumber, Started) VALUES (:RunID, :RunNumber, :Started)`,
		map[string]interface{}{
			"RunID":     run.ID.String(),
			"RunNumber": run.RunNumber,
			"Started":   run.Started.Format(time.RFC3339),
		})
	if err != nil {
		return nil, fmt.Errorf("error registering run %s: %w", run.ID, err)
	}
	return &SQLReportSink{db: db, run: run}, nil
}

func (s *SQLReportSink) WriteResult(result *EventResult) error {
	row := validationEventRow{
		RunID:       s.run.ID.String(),
		EventID:     result.EventID,
		Status:      result.Status.String(),
		RecordSize:  len(result.Record),
		NumTruth:    result.NumTruth,
		NumReadout:  result.NumReadout,
		NumUnpacked: result.NumDecoded,
	}
	if result.Err != nil {
		message := result.Err.Error()
		row.Error = &message
	}
	var mismatches []mismatchRow
	if result.Report != nil {
		row.NumMatched = sumCounts(result.Report.Matched)
		row.NumMismatches = len(result.Report.Mismatches)
		for _, m := range result.Report.Mismatches {
			mismatches = append(mismatches, mismatchRow{
				RunID:       row.RunID,
				EventID:     result.EventID,
				DetID:       m.ID.String(),
				RawID:       m.ID.RawID(),
				Kind:        m.Kind.String(),
				Discrepancy: m.Discrepancy.String(),
				Channel:     m.Channel,
				BX:          m.BX,
			})
		}
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	_, err = tx.NamedExec(`INSERT INTO ValidationEvents
		(RunID, EventID, Status, RecordSize, NumTruth, NumReadout, NumUnpacked, NumMatched, NumMismatches, Error)
		VALUES (:RunID, :EventID, :Status, :RecordSize, :NumTruth, :NumReadout, :NumUnpacked, :NumMatched, :NumMismatches, :Error)`, row)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("error inserting event %d: %w", result.EventID, err)
	}
	if len(mismatches) > 0 {
		_, err = tx.NamedExec(`INSERT INTO Mismatches
			(RunID, EventID, DetID, RawID, Kind, Discrepancy, Channel, BX)
			VALUES (:RunID, :EventID, :DetID, :RawID, :Kind, :Discrepancy, :Channel, :BX)`, mismatches)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("error inserting mismatches of event %d: %w", result.EventID, err)
		}
	}
	return tx.Commit()
}

// EventRows returns the number of events stored for the run.
func (s *SQLReportSink) EventRows() (int, error) {
	var n int
	err := s.db.Get(&n, "SELECT COUNT(*) FROM ValidationEvents WHERE RunID = ?", s.run.ID.String())
	return n, err
}
