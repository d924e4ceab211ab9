package cscraw

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packed(t *testing.T, cfg PackerConfig, ev *EventType) RawEventRecord {
	t.Helper()
	rec, err := newPacker(t, cfg, nil).Pack(ev)
	require.NoError(t, err)
	return rec
}

func requireDecodeError(t *testing.T, err error) *DecodeError {
	t.Helper()
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.ErrorIs(t, err, ErrDecode)
	return decodeErr
}

func TestUnpackRejectsUnknownVersion(t *testing.T) {
	rec := packed(t, packEverything(FORMAT_2013), wireEvent())
	binary.LittleEndian.PutUint16(rec[10:12], 2017)

	unpacker := NewUnpacker(UnpackerConfig{}, DefaultGeometry(), nil)
	ev, err := unpacker.Unpack(rec)
	assert.Nil(t, ev)
	var versionErr *FormatVersionError
	require.ErrorAs(t, err, &versionErr)
	assert.Equal(t, uint16(2017), versionErr.Version)
	assert.Equal(t, SupportedFormatVersions, versionErr.Supported)
	assert.Equal(t, []Stage{StageIdle, StageReceiving, StageRejected}, unpacker.Lifecycle().Stages())
}

func TestUnpackPinnedVersion(t *testing.T) {
	rec := packed(t, packEverything(FORMAT_2013), wireEvent())

	_, err := NewUnpacker(UnpackerConfig{FormatVersion: FORMAT_2020}, DefaultGeometry(), nil).Unpack(rec)
	assert.ErrorIs(t, err, ErrFormatVersion)

	_, err = NewUnpacker(UnpackerConfig{FormatVersion: FORMAT_2013}, DefaultGeometry(), nil).Unpack(rec)
	assert.NoError(t, err)
}

func TestUnpackTruncatedRecords(t *testing.T) {
	rec := packed(t, PackerConfig{FormatVersion: FORMAT_2020, PackEverything: true, PackByCFEB: true, IncludeGEMs: true}, fullEvent())
	unpacker := NewUnpacker(UnpackerConfig{}, DefaultGeometry(), nil)

	for n := 0; n < len(rec); n++ {
		ev, err := unpacker.Unpack(rec[:n])
		assert.Nil(t, ev, "prefix of %d bytes", n)
		requireDecodeError(t, err)
	}
}

func TestUnpackTrailingBytes(t *testing.T) {
	rec := packed(t, packEverything(FORMAT_2013), wireEvent())
	unpacker := NewUnpacker(UnpackerConfig{}, DefaultGeometry(), nil)

	longer := append(RawEventRecord{}, rec...)
	longer = append(longer, 0, 0)
	_, err := unpacker.Unpack(longer)
	requireDecodeError(t, err)

	// Same, with a record size that covers the extra bytes.
	binary.LittleEndian.PutUint32(longer[0:4], uint32(len(longer)))
	_, err = unpacker.Unpack(longer)
	decodeErr := requireDecodeError(t, err)
	assert.Equal(t, len(rec), decodeErr.Offset)
}

func TestUnpackCorruptFields(t *testing.T) {
	chamberOffset := recordHeaderSize
	sectionOffset := recordHeaderSize + chamberHeaderSize

	tests := []struct {
		name    string
		config  PackerConfig
		corrupt func(RawEventRecord)
		offset  int
	}{
		{
			name:    "magic",
			config:  packEverything(FORMAT_2013),
			corrupt: func(r RawEventRecord) { r[4] ^= 0xFF },
			offset:  4,
		},
		{
			name:    "header size",
			config:  packEverything(FORMAT_2013),
			corrupt: func(r RawEventRecord) { binary.LittleEndian.PutUint16(r[8:10], 20) },
			offset:  8,
		},
		{
			name:    "unknown flag",
			config:  packEverything(FORMAT_2020),
			corrupt: func(r RawEventRecord) { binary.LittleEndian.PutUint16(r[12:14], 0x0010) },
			offset:  12,
		},
		{
			name:    "flags in 2013",
			config:  packEverything(FORMAT_2013),
			corrupt: func(r RawEventRecord) { binary.LittleEndian.PutUint16(r[12:14], FLAG_PACK_BY_CFEB) },
			offset:  12,
		},
		{
			name:    "too many chambers",
			config:  packEverything(FORMAT_2013),
			corrupt: func(r RawEventRecord) { binary.LittleEndian.PutUint16(r[14:16], 2) },
			offset:  -1,
		},
		{
			name:    "layer in chamber id",
			config:  packEverything(FORMAT_2013),
			corrupt: func(r RawEventRecord) { binary.LittleEndian.PutUint32(r[chamberOffset+4:], layer(me11_03, 1).RawID()) },
			offset:  chamberOffset,
		},
		{
			name:    "ME1/a chamber id",
			config:  packEverything(FORMAT_2013),
			corrupt: func(r RawEventRecord) { binary.LittleEndian.PutUint32(r[chamberOffset+4:], me1a_03.RawID()) },
			offset:  chamberOffset,
		},
		{
			name:    "chamber out of range",
			config:  packEverything(FORMAT_2013),
			corrupt: func(r RawEventRecord) { binary.LittleEndian.PutUint32(r[chamberOffset+4:], NewChamberID(1, 1, 1, 40).RawID()) },
			offset:  chamberOffset,
		},
		{
			name:    "CFEB mask in 2013",
			config:  packEverything(FORMAT_2013),
			corrupt: func(r RawEventRecord) { binary.LittleEndian.PutUint16(r[chamberOffset+10:], 1) },
			offset:  chamberOffset,
		},
		{
			name:    "unknown section kind",
			config:  packEverything(FORMAT_2013),
			corrupt: func(r RawEventRecord) { r[sectionOffset] = 99 },
			offset:  sectionOffset,
		},
		{
			name:    "pre-trigger section",
			config:  packEverything(FORMAT_2013),
			corrupt: func(r RawEventRecord) { r[sectionOffset] = uint8(KindCLCTPreTrigger) },
			offset:  sectionOffset,
		},
		{
			name:    "wire section split by CFEB",
			config:  PackerConfig{FormatVersion: FORMAT_2020, PackEverything: true, PackByCFEB: true},
			corrupt: func(r RawEventRecord) { r[sectionOffset+1] = 0 },
			offset:  sectionOffset,
		},
		{
			name:    "section count",
			config:  packEverything(FORMAT_2013),
			corrupt: func(r RawEventRecord) { binary.LittleEndian.PutUint16(r[sectionOffset+2:], 2) },
			offset:  -1,
		},
		{
			name:    "wire group out of geometry",
			config:  packEverything(FORMAT_2013),
			corrupt: func(r RawEventRecord) { binary.LittleEndian.PutUint16(r[sectionOffset+sectionHeaderSize:], 2|100<<channelShift) },
			offset:  recordHeaderSize,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := packed(t, tt.config, wireEvent())
			tt.corrupt(rec)

			ev, err := NewUnpacker(UnpackerConfig{}, DefaultGeometry(), nil).Unpack(rec)
			assert.Nil(t, ev)
			decodeErr := requireDecodeError(t, err)
			if tt.offset >= 0 {
				assert.Equal(t, tt.offset, decodeErr.Offset)
			}
		})
	}
}

func TestUnpackGEMSectionNeedsFlag(t *testing.T) {
	cfg := PackerConfig{FormatVersion: FORMAT_2020, PackEverything: true, IncludeGEMs: true}
	rec := packed(t, cfg, fullEvent())
	header, err := rec.Header()
	require.NoError(t, err)
	require.Equal(t, FLAG_GEMS, header.Flags)

	_, err = NewUnpacker(UnpackerConfig{}, DefaultGeometry(), nil).Unpack(rec)
	require.NoError(t, err)

	binary.LittleEndian.PutUint16(rec[12:14], 0)
	_, err = NewUnpacker(UnpackerConfig{}, DefaultGeometry(), nil).Unpack(rec)
	requireDecodeError(t, err)
}

func TestUnpackCFEBNotInMask(t *testing.T) {
	ev := &EventType{EventID: 3, Digis: Digis{
		Strips: []StripDigi{{ID: layer(me11_03, 1), Strip: 20, BX: 6}},
	}}
	rec := packed(t, PackerConfig{FormatVersion: FORMAT_2020, PackEverything: true, PackByCFEB: true}, ev)
	chamber := chamberHeaderAt(t, rec, recordHeaderSize)
	require.Equal(t, uint16(1<<1), chamber.CFEBMask)

	binary.LittleEndian.PutUint16(rec[recordHeaderSize+10:], 1<<3)
	_, err := NewUnpacker(UnpackerConfig{}, DefaultGeometry(), nil).Unpack(rec)
	requireDecodeError(t, err)
}

func TestUnpackerLifecycle(t *testing.T) {
	rec := packed(t, packEverything(FORMAT_2013), wireEvent())
	unpacker := NewUnpacker(UnpackerConfig{}, DefaultGeometry(), nil)

	_, err := unpacker.Unpack(rec)
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageIdle, StageReceiving, StageDeserializing, StageEmitting, StageIdle}, unpacker.Lifecycle().Stages())

	_, err = unpacker.Unpack(rec[:len(rec)-1])
	require.Error(t, err)
	assert.Equal(t, StageRejected, unpacker.Lifecycle().Current())
}
