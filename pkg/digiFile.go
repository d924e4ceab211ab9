package cscraw

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DigiReader reads one JSON encoded event per line.
type DigiReader struct {
	decoder *json.Decoder
	line    int
}

func NewDigiReader(r io.Reader) *DigiReader {
	decoder := json.NewDecoder(bufio.NewReader(r))
	decoder.DisallowUnknownFields()
	return &DigiReader{decoder: decoder}
}

// Next returns io.EOF after the last event.
func (d *DigiReader) Next() (*EventType, error) {
	var event EventType
	if err := d.decoder.Decode(&event); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("error decoding event %d: %w", d.line+1, err)
	}
	d.line++
	return &event, nil
}

// DigiWriter writes events as JSON lines.
type DigiWriter struct {
	buffer  *bufio.Writer
	encoder *json.Encoder
}

func NewDigiWriter(w io.Writer) *DigiWriter {
	buffer := bufio.NewWriter(w)
	return &DigiWriter{buffer: buffer, encoder: json.NewEncoder(buffer)}
}

func (d *DigiWriter) Write(event *EventType) error {
	return d.encoder.Encode(event)
}

func (d *DigiWriter) Flush() error {
	return d.buffer.Flush()
}
