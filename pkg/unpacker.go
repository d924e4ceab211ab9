package cscraw

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Unpacker rebuilds events from RawEventRecords. Not safe for concurrent use.
type Unpacker struct {
	config    UnpackerConfig
	geometry  Geometry
	logger    Logger
	verbosity int
	lifecycle Lifecycle
}

func NewUnpacker(cfg UnpackerConfig, geom Geometry, log Logger) *Unpacker {
	return &Unpacker{
		config:   cfg,
		geometry: geom,
		logger:   orNop(log),
	}
}

func (u *Unpacker) SetVerbosity(v int) {
	u.verbosity = v
}

func (u *Unpacker) Lifecycle() *Lifecycle {
	return &u.lifecycle
}

// Unpack decodes rec. Any malformed field rejects the whole record: no digis
// are returned together with an error.
func (u *Unpacker) Unpack(rec RawEventRecord) (*EventType, error) {
	u.lifecycle.reset()
	u.lifecycle.enter(StageIdle)
	u.lifecycle.enter(StageReceiving)

	event, err := u.decode(rec)
	if err != nil {
		u.lifecycle.reject(err)
		return nil, err
	}

	u.lifecycle.enter(StageEmitting)
	if u.verbosity > 1 {
		u.logger.Info(fmt.Sprintf("Event %d unpacked: %d digis", event.EventID, event.Digis.Count()), "unpacker")
	}
	u.lifecycle.enter(StageIdle)
	return event, nil
}

func (u *Unpacker) decode(rec RawEventRecord) (*EventType, error) {
	header, err := rec.Header()
	if err != nil {
		return nil, err
	}
	if err := u.checkHeader(header, len(rec)); err != nil {
		return nil, err
	}

	u.lifecycle.enter(StageDeserializing)
	event := &EventType{
		RunNumber: header.RunNumber,
		EventID:   header.EventID,
	}

	pos := int(header.HeadSize)
	for i := 0; i < int(header.NumChambers); i++ {
		if pos+chamberHeaderSize > len(rec) {
			return nil, decodeErrorf(pos, "chamber %d header truncated", i)
		}
		var chamberHeader ChamberHeaderStruct
		binary.Read(bytes.NewReader(rec[pos:pos+chamberHeaderSize]), binary.LittleEndian, &chamberHeader)

		blockSize := int(chamberHeader.BlockSize)
		if blockSize < chamberHeaderSize || pos+blockSize > len(rec) {
			return nil, decodeErrorf(pos, "chamber block size %d out of bounds", blockSize)
		}
		block := rec[pos+chamberHeaderSize : pos+blockSize]
		if err := u.decodeChamber(header, chamberHeader, block, pos+chamberHeaderSize, &event.Digis); err != nil {
			return nil, err
		}
		pos += blockSize
	}
	if pos != len(rec) {
		return nil, decodeErrorf(pos, "%d trailing bytes after last chamber", len(rec)-pos)
	}

	err = eachDigi(&event.Digis, func(d Digi) error {
		return u.geometry.ValidateDigi(d)
	})
	if err != nil {
		return nil, decodeErrorf(int(header.HeadSize), "decoded digi failed validation: %v", err)
	}
	event.Digis.Sort()
	return event, nil
}

func (u *Unpacker) checkHeader(header RecordHeaderStruct, size int) error {
	if header.Magic != RECORD_MAGIC_NUMBER {
		return decodeErrorf(4, "bad magic number 0x%08x", header.Magic)
	}
	if !FormatVersionSupported(header.FormatVersion) {
		return &FormatVersionError{Version: header.FormatVersion, Supported: SupportedFormatVersions}
	}
	if pinned := u.config.FormatVersion; pinned != 0 && header.FormatVersion != pinned {
		return &FormatVersionError{Version: header.FormatVersion, Supported: []uint16{pinned}}
	}
	if int(header.HeadSize) != recordHeaderSize {
		return decodeErrorf(8, "record header size %d, expected %d", header.HeadSize, recordHeaderSize)
	}
	if int(header.RecordSize) != size {
		return decodeErrorf(0, "record size %d does not match %d bytes received", header.RecordSize, size)
	}
	if header.Flags&^(FLAG_PACK_BY_CFEB|FLAG_GEMS) != 0 {
		return decodeErrorf(12, "unknown flags 0x%04x", header.Flags)
	}
	if header.FormatVersion < FORMAT_2020 && header.Flags != 0 {
		return decodeErrorf(12, "flags 0x%04x not allowed in format %d", header.Flags, header.FormatVersion)
	}
	return nil
}

func (u *Unpacker) decodeChamber(header RecordHeaderStruct, chamberHeader ChamberHeaderStruct, block []byte, base int, digis *Digis) error {
	chamber := IDFromRaw(chamberHeader.RawID)
	if chamber.Layer != 0 || chamber.IsME1A() {
		return decodeErrorf(base-chamberHeaderSize, "raw id 0x%08x is not a chamber key", chamberHeader.RawID)
	}
	if err := u.geometry.Validate(chamber); err != nil {
		return decodeErrorf(base-chamberHeaderSize, "raw id 0x%08x: %v", chamberHeader.RawID, err)
	}
	if header.FormatVersion < FORMAT_2020 && chamberHeader.CFEBMask != 0 {
		return decodeErrorf(base-chamberHeaderSize, "CFEB mask in format %d", header.FormatVersion)
	}

	pos := 0
	for i := 0; i < int(chamberHeader.NumSections); i++ {
		if pos+sectionHeaderSize > len(block) {
			return decodeErrorf(base+pos, "section %d header truncated", i)
		}
		var section SectionHeaderStruct
		binary.Read(bytes.NewReader(block[pos:pos+sectionHeaderSize]), binary.LittleEndian, &section)

		size := int(section.SectionSize)
		if size < sectionHeaderSize || pos+size > len(block) {
			return decodeErrorf(base+pos, "section size %d out of bounds", size)
		}
		if err := u.checkSection(header, chamberHeader, section, base+pos); err != nil {
			return err
		}
		reader := &wordReader{
			data: block[pos+sectionHeaderSize : pos+size],
			base: base + pos + sectionHeaderSize,
		}
		if err := u.decodeSection(section, reader, chamber, digis); err != nil {
			return err
		}
		if reader.remaining() != 0 {
			return decodeErrorf(reader.offset(), "%d unused bytes in %v section", reader.remaining(), DigiKind(section.Kind))
		}
		pos += size
	}
	if pos != len(block) {
		return decodeErrorf(base+pos, "%d trailing bytes in chamber block", len(block)-pos)
	}
	if u.verbosity > 2 {
		u.logger.Info(fmt.Sprintf("Chamber %v: %d sections", chamber, chamberHeader.NumSections), "unpacker")
	}
	return nil
}

func (u *Unpacker) checkSection(header RecordHeaderStruct, chamberHeader ChamberHeaderStruct, section SectionHeaderStruct, offset int) error {
	kind := DigiKind(section.Kind)
	known := false
	for _, k := range packedKinds {
		if k == kind {
			known = true
		}
	}
	if !known {
		return decodeErrorf(offset, "unknown section kind %d", section.Kind)
	}
	if kind == KindGEMPadCluster && header.Flags&FLAG_GEMS == 0 {
		return decodeErrorf(offset, "GEM section without GEM flag in format %d", header.FormatVersion)
	}
	if section.CFEB == WHOLE_CHAMBER {
		return nil
	}
	if kind != KindStrip && kind != KindComparator {
		return decodeErrorf(offset, "%v section cannot be split by CFEB", kind)
	}
	if header.Flags&FLAG_PACK_BY_CFEB == 0 {
		return decodeErrorf(offset, "CFEB section %d without pack by CFEB flag", section.CFEB)
	}
	if section.CFEB >= 16 || !CheckBit(chamberHeader.CFEBMask, uint16(section.CFEB)) {
		return decodeErrorf(offset, "CFEB %d not in chamber mask 0x%04x", section.CFEB, chamberHeader.CFEBMask)
	}
	return nil
}

func decodeItems[T Digi](r *wordReader, n int, chamber DetectorChannelID,
	decode func(*wordReader, DetectorChannelID) (T, error)) ([]T, error) {
	items := make([]T, 0, n)
	for i := 0; i < n; i++ {
		item, err := decode(r, chamber)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (u *Unpacker) decodeSection(section SectionHeaderStruct, r *wordReader, chamber DetectorChannelID, digis *Digis) error {
	n := int(section.Count)
	var err error
	switch DigiKind(section.Kind) {
	case KindWire:
		var items []WireDigi
		if items, err = decodeItems(r, n, chamber, decodeWire); err == nil {
			digis.Wires = append(digis.Wires, items...)
		}
	case KindStrip:
		var items []StripDigi
		if items, err = decodeItems(r, n, chamber, decodeStrip); err == nil {
			err = checkSectionCFEB(section, r, items, func(s StripDigi) int { return u.geometry.StripCFEB(s.ID, s.Strip) })
			digis.Strips = append(digis.Strips, items...)
		}
	case KindComparator:
		var items []ComparatorDigi
		if items, err = decodeItems(r, n, chamber, decodeComparator); err == nil {
			err = checkSectionCFEB(section, r, items, func(c ComparatorDigi) int { return u.geometry.StripCFEB(c.ID, c.Strip) })
			digis.Comparators = append(digis.Comparators, items...)
		}
	case KindALCT:
		var items []ALCTDigi
		if items, err = decodeItems(r, n, chamber, decodeALCT); err == nil {
			digis.ALCTs = append(digis.ALCTs, items...)
		}
	case KindCLCT:
		var items []CLCTDigi
		if items, err = decodeItems(r, n, chamber, decodeCLCT); err == nil {
			digis.CLCTs = append(digis.CLCTs, items...)
		}
	case KindCorrelatedLCT:
		var items []CorrelatedLCTDigi
		if items, err = decodeItems(r, n, chamber, decodeLCT); err == nil {
			digis.LCTs = append(digis.LCTs, items...)
		}
	case KindGEMPadCluster:
		var items []GEMPadClusterDigi
		if items, err = decodeItems(r, n, chamber, decodeGEM); err == nil {
			digis.GEMClusters = append(digis.GEMClusters, items...)
		}
	}
	return err
}

// checkSectionCFEB verifies that every digi of a per board section belongs
// to that board.
func checkSectionCFEB[T Digi](section SectionHeaderStruct, r *wordReader, items []T, cfebOf func(T) int) error {
	if section.CFEB == WHOLE_CHAMBER {
		return nil
	}
	for _, item := range items {
		if cfeb := cfebOf(item); cfeb != int(section.CFEB) {
			return decodeErrorf(r.base, "%v digi of CFEB %d in section of CFEB %d", item.Kind(), cfeb, section.CFEB)
		}
	}
	return nil
}
