package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	cscraw "github.com/jmbenlloch/cscraw_go/pkg"
)

var configuration cscraw.Configuration

var (
	logger         Logger
	VerbosityLevel int
)

func init() {
	logger = NewLogger(os.Stdout, os.Stderr)
}

func main() {
	configFilename := flag.String("config", "", "Configuration file path")
	formatList := flag.String("formats", "2013,2020,2020-cfeb", "Format combinations to measure")
	repetitions := flag.Int("reps", 3, "Repetitions per format combination")
	flag.Parse()

	var err error
	configuration, err = cscraw.LoadConfiguration(*configFilename)
	if err != nil {
		message := fmt.Errorf("Error reading configuration file: %w", err)
		logger.Error(message.Error())
		return
	}
	formats, err := parseFormats(*formatList)
	if err != nil {
		logger.Error(err.Error())
		return
	}

	VerbosityLevel = configuration.Verbosity
	if VerbosityLevel > 0 {
		logger.Info(fmt.Sprintf("Reading configuration file: %s", *configFilename), "main")
		cscraw.PrintConfiguration(configuration, logger)
	}

	geometry := cscraw.DefaultGeometry()
	if !configuration.NoDB {
		dbConn, err := cscraw.ConnectToDatabase(configuration.DBDriver, configuration.User, configuration.Passwd, configuration.Host, configuration.DBName)
		if err != nil {
			logger.Error(fmt.Errorf("Error connection to database: %w", err).Error())
			return
		}
		geometry, err = cscraw.LoadGeometry(dbConn, configuration.RunNumber, logger, VerbosityLevel)
		dbConn.Close()
		if err != nil {
			logger.Error(fmt.Errorf("Error loading geometry: %w", err).Error())
			return
		}
	}

	events, err := readEvents(configuration.FileIn)
	if err != nil {
		logger.Error(err.Error())
		return
	}
	fmt.Println("Total events loaded: ", len(events))

	start := time.Now()
	for _, format := range formats {
		cfg := configuration.With(format.Overrides...)
		if err := cfg.Validate(); err != nil {
			logger.Error(fmt.Sprintf("(%s) %v", format.Name, err))
			continue
		}
		for i := 0; i < *repetitions; i++ {
			measure(format, cfg, geometry, events)
		}
	}
	fmt.Printf("Total time: %d ms\n", time.Since(start).Milliseconds())
}

func readEvents(filename string) ([]*cscraw.EventType, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, &cscraw.ErrOpenFile{Filename: filename, Err: err}
	}
	defer file.Close()

	reader := cscraw.NewDigiReader(file)
	events := make([]*cscraw.EventType, 0)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}

// measure packs the events with one format combination, writes the records
// and unpacks them again, printing the time of each step and the file size.
func measure(format formatCombination, cfg cscraw.Configuration, geometry cscraw.Geometry, events []*cscraw.EventType) {
	start := time.Now()
	records, rejected, err := packAll(events, cfg, geometry, cfg.NumWorkers)
	if err != nil {
		logger.Error(fmt.Sprintf("(%s) %v", format.Name, err))
		return
	}
	packTime := time.Since(start)

	writer, err := cscraw.CreateRecordFile(cfg.FileOut)
	if err != nil {
		logger.Error(err.Error())
		return
	}
	for _, record := range records {
		if record == nil {
			continue
		}
		if err := writer.Write(record); err != nil {
			logger.Error(err.Error())
			break
		}
	}
	if err := writer.Close(); err != nil {
		logger.Error(err.Error())
		return
	}
	fileInfo, err := os.Stat(cfg.FileOut)
	if err != nil {
		logger.Error(fmt.Sprintf("Error getting file info: %v", err))
		return
	}

	unpacker := cscraw.NewUnpacker(cfg.Unpacker, geometry, logger)
	start = time.Now()
	failed := 0
	for _, record := range records {
		if record == nil {
			continue
		}
		if _, err := unpacker.Unpack(record); err != nil {
			failed++
		}
	}
	unpackTime := time.Since(start)

	fmt.Printf("(%s) Pack: %d ms, unpack: %d ms, size %d bytes, rejected %d, unpack errors %d\n",
		format.Name, packTime.Milliseconds(), unpackTime.Milliseconds(), fileInfo.Size(), rejected, failed)
}
