package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	cscraw "github.com/jmbenlloch/cscraw_go/pkg"
	sqlx "github.com/jmoiron/sqlx"
)

var dbConn *sqlx.DB
var configuration cscraw.Configuration

var (
	logger         Logger
	VerbosityLevel int
)

func init() {
	logger = NewLogger(os.Stdout, os.Stderr)
}

func main() {
	os.Exit(run())
}

// run returns the exit code, so the deferred closes happen before exiting.
func run() int {
	configFilename := flag.String("config", "", "Configuration file path")
	mode := flag.String("mode", "roundtrip", "roundtrip, pack, unpack or compare")
	flag.Parse()

	var err error
	configuration, err = cscraw.LoadConfiguration(*configFilename)
	if err != nil {
		message := fmt.Errorf("Error reading configuration file: %w", err)
		logger.Error(message.Error())
		return 1
	}

	VerbosityLevel = configuration.Verbosity
	if VerbosityLevel > 0 {
		message := fmt.Sprintf("Reading configuration file: %s", *configFilename)
		logger.Info(message, "main")
		cscraw.PrintConfiguration(configuration, logger)
	}

	geometry := cscraw.DefaultGeometry()
	if !configuration.NoDB {
		dbConn, err = cscraw.ConnectToDatabase(configuration.DBDriver, configuration.User, configuration.Passwd, configuration.Host, configuration.DBName)
		if err != nil {
			message := fmt.Errorf("Error connection to database: %w", err)
			logger.Error(message.Error())
			return 1
		}
		defer dbConn.Close()

		geometry, err = cscraw.LoadGeometry(dbConn, configuration.RunNumber, logger, VerbosityLevel)
		if err != nil {
			message := fmt.Errorf("Error loading geometry: %w", err)
			logger.Error(message.Error())
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	switch *mode {
	case "roundtrip":
		err = runRoundTrip(ctx, geometry)
	case "pack":
		err = runPack(geometry)
	case "unpack":
		err = runUnpack(geometry)
	case "compare":
		err = runCompare(geometry)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		logger.Error(err.Error())
		return 1
	}
	if VerbosityLevel > 0 {
		logger.Info(fmt.Sprintf("Total time: %d ms", time.Since(start).Milliseconds()), "main")
	}
	return 0
}

func openInput(filename string) (*os.File, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, &cscraw.ErrOpenFile{Filename: filename, Err: err}
	}
	return file, nil
}

func runRoundTrip(ctx context.Context, geometry cscraw.Geometry) error {
	file, err := openInput(configuration.FileIn)
	if err != nil {
		return err
	}
	defer file.Close()

	run := cscraw.NewRunInfo(configuration.RunNumber)
	if VerbosityLevel > 0 {
		logger.Info(fmt.Sprintf("Validation run %s", run.ID), "main")
	}

	var sinks cscraw.MultiSink
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Error(err.Error())
			}
		}
	}()

	if configuration.WriteReport {
		writer, err := cscraw.NewReportWriter(configuration.ReportOut, run, configuration.CompressionLevel, logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, writer)
		closers = append(closers, writer)
	}
	if configuration.WriteRaw {
		writer, err := cscraw.CreateRecordFile(configuration.FileOut)
		if err != nil {
			return err
		}
		sinks = append(sinks, writer)
		closers = append(closers, writer)
	}
	if configuration.SQLReport {
		if dbConn == nil {
			return &cscraw.ConfigError{Field: "sql_report", Reason: "needs a database connection"}
		}
		sink, err := cscraw.NewSQLReportSink(dbConn, run)
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
	}

	pipeline := cscraw.NewPipeline(configuration, geometry, logger)
	source := newEventSource(file, configuration.Skip, configuration.MaxEvents)
	summary, err := pipeline.Run(ctx, source, sinks)
	printSummary(summary)
	if errors.Is(err, context.Canceled) {
		logger.Info("Run interrupted, in-flight events written", "main")
		return nil
	}
	return err
}

func printSummary(summary *cscraw.RunSummary) {
	if summary == nil {
		return
	}
	logger.Info(fmt.Sprintf("Events processed: %d", summary.Events), "main")
	for status := cscraw.StatusOK; status <= cscraw.StatusPanic; status++ {
		if n := summary.ByStatus[status]; n > 0 {
			logger.Info(fmt.Sprintf("%s: %d", status, n), "main")
		}
	}
	logger.Info(fmt.Sprintf("Comparison: %s", summary.Report), "main")
	logger.Info(fmt.Sprintf("Raw bytes: %d", summary.Bytes), "main")
	if summary.Checks.TestsRun > 0 {
		logger.Info(fmt.Sprintf("Pre-trigger readout checks: %d run, %d passed", summary.Checks.TestsRun, summary.Checks.TestsPassed), "main")
		if VerbosityLevel > 1 {
			for _, failure := range summary.Checks.Failures {
				logger.Info(failure, "main")
			}
		}
	}
}

func runPack(geometry cscraw.Geometry) error {
	file, err := openInput(configuration.FileIn)
	if err != nil {
		return err
	}
	defer file.Close()

	trigger := cscraw.NewWindowPreTrigger(configuration.PreTrigger)
	packer, err := cscraw.NewPacker(configuration.Packer, geometry, trigger, logger)
	if err != nil {
		return err
	}
	packer.SetVerbosity(VerbosityLevel)

	writer, err := cscraw.CreateRecordFile(configuration.FileOut)
	if err != nil {
		return err
	}

	source := newEventSource(file, configuration.Skip, configuration.MaxEvents)
	rejected := 0
	for {
		event, err := source.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Join(err, writer.Close())
		}
		record, err := packer.Pack(event)
		if err != nil {
			rejected++
			logger.Error(err.Error())
			continue
		}
		if err := writer.Write(record); err != nil {
			return errors.Join(err, writer.Close())
		}
	}
	if VerbosityLevel > 0 {
		logger.Info(fmt.Sprintf("Records written: %d, events rejected: %d", writer.Count, rejected), "main")
	}
	return writer.Close()
}

func runUnpack(geometry cscraw.Geometry) error {
	file, err := openInput(configuration.FileIn)
	if err != nil {
		return err
	}
	defer file.Close()

	nRecords, runNumber, err := cscraw.CountRecords(file)
	if err != nil {
		return fmt.Errorf("error counting records: %w", err)
	}
	if VerbosityLevel > 0 {
		logger.Info(fmt.Sprintf("Number of records: %d, run %d", nRecords, runNumber), "main")
	}

	out, err := os.Create(configuration.FileOut)
	if err != nil {
		return &cscraw.ErrOpenFile{Filename: configuration.FileOut, Err: err}
	}
	defer out.Close()
	writer := cscraw.NewDigiWriter(out)

	unpacker := cscraw.NewUnpacker(configuration.Unpacker, geometry, logger)
	unpacker.SetVerbosity(VerbosityLevel)
	reader := NewRecordFileReader(file, configuration.Skip, configuration.MaxEvents)
	rejected := 0
	for {
		record, err := reader.getNextRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A broken frame loses the position of every following record.
			return fmt.Errorf("error reading record %d: %w", reader.EvtCount, err)
		}
		event, err := unpacker.Unpack(record)
		if err != nil {
			rejected++
			logger.Error(fmt.Sprintf("record %d rejected: %v", reader.EvtCount, err))
			continue
		}
		if err := writer.Write(event); err != nil {
			return fmt.Errorf("error writing event %d: %w", event.EventID, err)
		}
	}
	if VerbosityLevel > 0 {
		logger.Info(fmt.Sprintf("Records rejected: %d", rejected), "main")
	}
	return writer.Flush()
}

func runCompare(geometry cscraw.Geometry) error {
	truthFile, err := openInput(configuration.FileIn)
	if err != nil {
		return err
	}
	defer truthFile.Close()
	candidateFile, err := openInput(configuration.FileCandidate)
	if err != nil {
		return err
	}
	defer candidateFile.Close()

	var report *cscraw.ReportWriter
	if configuration.WriteReport {
		report, err = cscraw.NewReportWriter(configuration.ReportOut, cscraw.NewRunInfo(configuration.RunNumber), configuration.CompressionLevel, logger)
		if err != nil {
			return err
		}
		defer report.Close()
	}

	comparator := cscraw.NewComparator(configuration.Compare, geometry)
	truth := newEventSource(truthFile, configuration.Skip, configuration.MaxEvents)
	candidates := newEventSource(candidateFile, configuration.Skip, configuration.MaxEvents)
	summary := &cscraw.RunSummary{ByStatus: make(map[cscraw.EventStatus]int), Report: cscraw.NewReport()}

	for {
		want, errTruth := truth.Next()
		got, errCandidate := candidates.Next()
		if errTruth == io.EOF && errCandidate == io.EOF {
			break
		}
		if errTruth == io.EOF || errCandidate == io.EOF {
			return fmt.Errorf("files have a different number of events")
		}
		if err := errors.Join(errTruth, errCandidate); err != nil {
			return err
		}
		if want.EventID != got.EventID {
			logger.Error(fmt.Sprintf("comparing event %d with event %d", want.EventID, got.EventID))
		}

		result := &cscraw.EventResult{
			RunNumber:  want.RunNumber,
			EventID:    want.EventID,
			NumTruth:   want.Digis.Count(),
			NumDecoded: got.Digis.Count(),
			Report:     comparator.Compare(&want.Digis, &got.Digis),
		}
		if !result.Report.OK() {
			result.Status = cscraw.StatusMismatch
		}
		summary.Events++
		summary.ByStatus[result.Status]++
		summary.Report.Merge(result.Report)
		if VerbosityLevel > 1 {
			logger.Info(fmt.Sprintf("Event %d: %s", want.EventID, result.Report), "compare")
		}
		if report != nil {
			if err := report.WriteResult(result); err != nil {
				return err
			}
		}
	}
	printSummary(summary)
	return nil
}
