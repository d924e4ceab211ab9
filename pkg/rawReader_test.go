package cscraw

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecords(t *testing.T, records ...RawEventRecord) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.raw")
	writer, err := CreateRecordFile(path)
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, writer.Write(rec))
	}
	assert.Equal(t, len(records), writer.Count)
	require.NoError(t, writer.Close())
	return path
}

func testRecords(t *testing.T) []RawEventRecord {
	packer := newPacker(t, packEverything(FORMAT_2020), nil)
	var records []RawEventRecord
	for i, ev := range []*EventType{wireEvent(), fullEvent(), {RunNumber: 316000, EventID: 9}} {
		rec, err := packer.Pack(ev)
		require.NoError(t, err, "event %d", i)
		records = append(records, rec)
	}
	return records
}

func TestRecordFileRoundTrip(t *testing.T) {
	records := testRecords(t)
	path := writeRecords(t, records...)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	count, runNumber, err := CountRecords(file)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, uint32(316000), runNumber)

	for i := range records {
		rec, err := ReadRecord(file)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(records[i], rec), "record %d", i)
	}
	_, err = ReadRecord(file)
	assert.Equal(t, io.EOF, err)
}

func TestReadRecordTruncated(t *testing.T) {
	records := testRecords(t)
	data := bytes.Join([][]byte{records[0], records[1]}, nil)

	reader := bytes.NewReader(data[:len(data)-1])
	_, err := ReadRecord(reader)
	require.NoError(t, err)
	_, err = ReadRecord(reader)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = ReadRecord(bytes.NewReader(data[:recordHeaderSize-2]))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = ReadRecord(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)
}

func TestReadRecordBadSize(t *testing.T) {
	rec := append(RawEventRecord{}, testRecords(t)[0]...)
	rec[0], rec[1], rec[2], rec[3] = 4, 0, 0, 0
	_, err := ReadRecord(bytes.NewReader(rec))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestRecordWriterWriteResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.raw")
	writer, err := CreateRecordFile(path)
	require.NoError(t, err)

	records := testRecords(t)
	require.NoError(t, writer.WriteResult(&EventResult{Record: records[0]}))
	require.NoError(t, writer.WriteResult(&EventResult{Status: StatusPackRejected}))
	require.NoError(t, writer.Close())
	assert.Equal(t, 1, writer.Count)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte(records[0]), data)
}

func TestCreateRecordFileError(t *testing.T) {
	_, err := CreateRecordFile(filepath.Join(t.TempDir(), "missing", "out.raw"))
	var openErr *ErrOpenFile
	assert.ErrorAs(t, err, &openErr)
}
