package main

import (
	"fmt"
	"io"

	cscraw "github.com/jmbenlloch/cscraw_go/pkg"
)

// RecordFileReader walks a raw file honouring skip and max_events.
type RecordFileReader struct {
	File     io.Reader
	EvtCount int
	Skip     int
	Max      int
}

func NewRecordFileReader(file io.Reader, skip, maxEvents int) *RecordFileReader {
	return &RecordFileReader{File: file, EvtCount: -1, Skip: skip, Max: maxEvents}
}

func (f *RecordFileReader) getNextRecord() (cscraw.RawEventRecord, error) {
	for {
		record, err := cscraw.ReadRecord(f.File)
		if err != nil {
			return nil, err
		}
		f.EvtCount++
		if f.EvtCount >= f.Max {
			if VerbosityLevel > 0 {
				logger.Info("Max events reached", "fileReader")
			}
			return nil, io.EOF
		}
		header, _ := record.Header()
		if f.EvtCount < f.Skip {
			if VerbosityLevel > 1 {
				message := fmt.Sprintf("Skipping record %d with ID %d", f.EvtCount, header.EventID)
				logger.Info(message, "fileReader")
			}
			continue
		}
		if VerbosityLevel > 1 {
			message := fmt.Sprintf("Reading record %d with ID %d", f.EvtCount, header.EventID)
			logger.Info(message, "fileReader")
		}
		return record, nil
	}
}

// eventSource applies skip and max_events to a digi file.
type eventSource struct {
	reader   *cscraw.DigiReader
	evtCount int
	skip     int
	max      int
}

func newEventSource(r io.Reader, skip, maxEvents int) *eventSource {
	return &eventSource{reader: cscraw.NewDigiReader(r), evtCount: -1, skip: skip, max: maxEvents}
}

func (s *eventSource) Next() (*cscraw.EventType, error) {
	for {
		event, err := s.reader.Next()
		if err != nil {
			return nil, err
		}
		s.evtCount++
		if s.evtCount >= s.max {
			if VerbosityLevel > 0 {
				logger.Info("Max events reached", "fileReader")
			}
			return nil, io.EOF
		}
		if s.evtCount < s.skip {
			if VerbosityLevel > 1 {
				logger.Info(fmt.Sprintf("Skipping event %d with ID %d", s.evtCount, event.EventID), "fileReader")
			}
			continue
		}
		return event, nil
	}
}
