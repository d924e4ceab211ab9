package cscraw

import (
	"errors"
	"fmt"

	"gonum.org/v1/hdf5"
)

// ReportWriter stores validation results in an HDF5 file:
//
//	/Run/runInfo              run number and run ID
//	/Run/events               one row per event
//	/Validation/mismatches    one row per unmatched digi
//	/Validation/busyChambers  one row per busy chamber and kind
//	/Validation/summary       per kind totals, written on Close
type ReportWriter struct {
	File             *hdf5.File
	Filename         string
	RunGroup         *hdf5.Group
	ValidationGroup  *hdf5.Group
	RunInfoTable     *hdf5.Dataset
	EventTable       *hdf5.Dataset
	MismatchTable    *hdf5.Dataset
	BusyChamberTable *hdf5.Dataset
	SummaryTable     *hdf5.Dataset
	EvtCounter       int
	MismatchCounter  int
	BusyCounter      int
	totals           *Report
	logger           Logger
	runInfo          RunInfoHDF5
	runInfoWritten   bool
}

func NewReportWriter(filename string, run RunInfo, compression int, logger Logger) (*ReportWriter, error) {
	writer := &ReportWriter{
		Filename: filename,
		totals:   NewReport(),
		logger:   orNop(logger),
		runInfo: RunInfoHDF5{
			run_number: int32(run.RunNumber),
			run_id:     convertToHdf5String(run.ID.String()),
		},
	}
	writer.logger.Info(fmt.Sprintf("Creating file: %s", filename), "hdf5writer")

	var err error
	if writer.File, err = openFile(filename); err != nil {
		return nil, err
	}
	if writer.RunGroup, err = writer.File.CreateGroup("Run"); err != nil {
		return nil, errors.Join(err, writer.Close())
	}
	if writer.ValidationGroup, err = writer.File.CreateGroup("Validation"); err != nil {
		return nil, errors.Join(err, writer.Close())
	}

	tables := []struct {
		dset  **hdf5.Dataset
		group *hdf5.Group
		name  string
		dtype interface{}
	}{
		{&writer.RunInfoTable, writer.RunGroup, "runInfo", RunInfoHDF5{}},
		{&writer.EventTable, writer.RunGroup, "events", EventReportHDF5{}},
		{&writer.MismatchTable, writer.ValidationGroup, "mismatches", MismatchHDF5{}},
		{&writer.BusyChamberTable, writer.ValidationGroup, "busyChambers", BusyChamberHDF5{}},
		{&writer.SummaryTable, writer.ValidationGroup, "summary", KindSummaryHDF5{}},
	}
	for _, t := range tables {
		if *t.dset, err = createTable(t.group, t.name, t.dtype, compression); err != nil {
			return nil, errors.Join(err, writer.Close())
		}
	}
	return writer, nil
}

func (w *ReportWriter) WriteResult(result *EventResult) error {
	if !w.runInfoWritten {
		if err := writeEntryToTable(w.RunInfoTable, w.runInfo, 0); err != nil {
			return fmt.Errorf("error writing run info: %w", err)
		}
		w.runInfoWritten = true
	}

	row := EventReportHDF5{
		evt_number:  int32(result.EventID),
		status:      int32(result.Status),
		record_size: int32(len(result.Record)),
		n_truth:     int32(result.NumTruth),
		n_readout:   int32(result.NumReadout),
		n_unpacked:  int32(result.NumDecoded),
	}
	if header, err := result.Record.Header(); err == nil {
		row.n_chambers = int32(header.NumChambers)
	}
	if result.PreTrigger != nil {
		row.tests_run = int32(result.PreTrigger.TestsRun)
		row.tests_passed = int32(result.PreTrigger.TestsPassed)
	}

	if report := result.Report; report != nil {
		w.totals.Merge(&Report{Matched: report.Matched, Truth: report.Truth, Candidate: report.Candidate})
		row.n_matched = int32(sumCounts(report.Matched))
		row.n_missing = int32(report.Count(MissingInCandidate))
		row.n_extra = int32(report.Count(ExtraInCandidate))

		mismatches := make([]MismatchHDF5, len(report.Mismatches))
		for i, m := range report.Mismatches {
			mismatches[i] = MismatchHDF5{
				evt_number:  int32(result.EventID),
				raw_id:      m.ID.RawID(),
				kind:        int32(m.Kind),
				discrepancy: int32(m.Discrepancy),
				channel:     int32(m.Channel),
				bx:          int32(m.BX),
			}
		}
		if err := writeArrayToTable(w.MismatchTable, &mismatches, w.MismatchCounter); err != nil {
			return fmt.Errorf("error writing mismatches: %w", err)
		}
		w.MismatchCounter += len(mismatches)

		busy := make([]BusyChamberHDF5, len(report.BusyChambers))
		for i, b := range report.BusyChambers {
			busy[i] = BusyChamberHDF5{
				evt_number: int32(result.EventID),
				raw_id:     b.Chamber.RawID(),
				kind:       int32(b.Kind),
				count:      int32(b.Count),
			}
		}
		if err := writeArrayToTable(w.BusyChamberTable, &busy, w.BusyCounter); err != nil {
			return fmt.Errorf("error writing busy chambers: %w", err)
		}
		w.BusyCounter += len(busy)
	}

	if err := writeEntryToTable(w.EventTable, row, w.EvtCounter); err != nil {
		return fmt.Errorf("error writing event %d: %w", result.EventID, err)
	}
	w.EvtCounter++
	return nil
}

func (w *ReportWriter) writeSummary() error {
	var rows []KindSummaryHDF5
	for kind := KindWire; kind <= KindGEMPadCluster; kind++ {
		if w.totals.Truth[kind] == 0 && w.totals.Candidate[kind] == 0 {
			continue
		}
		rows = append(rows, KindSummaryHDF5{
			kind:      convertToHdf5String(kind.String()),
			truth:     int32(w.totals.Truth[kind]),
			candidate: int32(w.totals.Candidate[kind]),
			matched:   int32(w.totals.Matched[kind]),
		})
	}
	return writeArrayToTable(w.SummaryTable, &rows, 0)
}

func (w *ReportWriter) Close() error {
	w.logger.Info(fmt.Sprintf("Closing file hdf writer %s", w.Filename), "hdf5writer")
	var errs []error

	if w.SummaryTable != nil {
		if err := w.writeSummary(); err != nil {
			errs = append(errs, fmt.Errorf("error writing summary: %w", err))
		}
	}

	datasets := []struct {
		name string
		dset *hdf5.Dataset
	}{
		{"run info table", w.RunInfoTable},
		{"event table", w.EventTable},
		{"mismatch table", w.MismatchTable},
		{"busy chamber table", w.BusyChamberTable},
		{"summary table", w.SummaryTable},
	}
	for _, d := range datasets {
		if d.dset == nil {
			continue
		}
		if err := d.dset.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing %s: %w", d.name, err))
		}
	}
	if w.RunGroup != nil {
		if err := w.RunGroup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing run group: %w", err))
		}
	}
	if w.ValidationGroup != nil {
		if err := w.ValidationGroup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing validation group: %w", err))
		}
	}
	if w.File != nil {
		if err := w.File.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing file: %w", err))
		}
	}
	return errors.Join(errs...)
}
