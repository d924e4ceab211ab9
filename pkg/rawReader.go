package cscraw

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Records bigger than this are taken as a corrupt size field.
const maxRecordSize = 64 << 20

// ReadRecord reads the next record from a raw file. Records are stored back to
// back; the size field of the record header frames them. io.EOF is returned
// only at a record boundary.
func ReadRecord(r io.Reader) (RawEventRecord, error) {
	head := make([]byte, recordHeaderSize)
	n, err := io.ReadFull(r, head)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, decodeErrorf(0, "record header truncated after %d bytes", n)
		}
		return nil, err
	}

	size := int(binary.LittleEndian.Uint32(head[0:4]))
	if size < recordHeaderSize || size > maxRecordSize {
		return nil, decodeErrorf(0, "record size %d out of bounds", size)
	}
	record := make([]byte, size)
	copy(record, head)
	if n, err := io.ReadFull(r, record[recordHeaderSize:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, decodeErrorf(recordHeaderSize+n, "record truncated, %d bytes missing", size-recordHeaderSize-n)
		}
		return nil, err
	}
	return RawEventRecord(record), nil
}

// CountRecords walks a raw file without decoding the records and returns the
// number of records and the run number of the last one. The reader is left at
// the beginning of the file.
func CountRecords(file io.ReadSeeker) (int, uint32, error) {
	count := 0
	var runNumber uint32
	head := make([]byte, recordHeaderSize)
	for {
		_, err := io.ReadFull(file, head)
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, runNumber, fmt.Errorf("error reading header counting records: %w", err)
		}
		header, _ := RawEventRecord(head).Header()
		if int(header.RecordSize) < recordHeaderSize {
			return count, runNumber, decodeErrorf(0, "record %d with size %d", count, header.RecordSize)
		}
		runNumber = header.RunNumber
		if _, err := file.Seek(int64(header.RecordSize)-int64(recordHeaderSize), io.SeekCurrent); err != nil {
			return count, runNumber, err
		}
		count++
	}
	_, err := file.Seek(0, io.SeekStart)
	return count, runNumber, err
}

// RecordWriter appends records to a raw file.
type RecordWriter struct {
	file     *os.File
	buffer   *bufio.Writer
	Filename string
	Count    int
}

func CreateRecordFile(filename string) (*RecordWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, &ErrOpenFile{Filename: filename, Err: err}
	}
	return &RecordWriter{
		file:     file,
		buffer:   bufio.NewWriter(file),
		Filename: filename,
	}, nil
}

func (w *RecordWriter) Write(record RawEventRecord) error {
	if _, err := w.buffer.Write(record); err != nil {
		return fmt.Errorf("error writing record %d to %s: %w", w.Count, w.Filename, err)
	}
	w.Count++
	return nil
}

// WriteResult stores the record of every event that was packed.
func (w *RecordWriter) WriteResult(result *EventResult) error {
	if result.Record == nil {
		return nil
	}
	return w.Write(result.Record)
}

func (w *RecordWriter) Close() error {
	var errs []error
	if err := w.buffer.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("error flushing %s: %w", w.Filename, err))
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing %s: %w", w.Filename, err))
	}
	return errors.Join(errs...)
}
