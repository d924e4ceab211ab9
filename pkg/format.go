package cscraw

import (
	"bytes"
	"encoding/binary"
)

const RECORD_MAGIC_NUMBER uint32 = 0xC5C0DA7A

// Format versions
const (
	FORMAT_2013 uint16 = 2013
	FORMAT_2020 uint16 = 2020
)

var SupportedFormatVersions = []uint16{FORMAT_2013, FORMAT_2020}

func FormatVersionSupported(version uint16) bool {
	for _, v := range SupportedFormatVersions {
		if v == version {
			return true
		}
	}
	return false
}

// Record flags
const (
	FLAG_PACK_BY_CFEB uint16 = 0x0001
	FLAG_GEMS         uint16 = 0x0002
)

const WHOLE_CHAMBER uint8 = 0xFF

// RecordHeaderStruct opens every RawEventRecord.
type RecordHeaderStruct struct {
	RecordSize    uint32
	Magic         uint32
	HeadSize      uint16
	FormatVersion uint16
	Flags         uint16
	NumChambers   uint16
	RunNumber     uint32
	EventID       uint32
}

// ChamberHeaderStruct opens every chamber block.
type ChamberHeaderStruct struct {
	BlockSize   uint32
	RawID       uint32
	NumSections uint16
	CFEBMask    uint16
	Reserved    uint32
}

// SectionHeaderStruct opens every group of digis of a single kind.
type SectionHeaderStruct struct {
	Kind        uint8
	CFEB        uint8
	Count       uint16
	SectionSize uint32
}

var (
	recordHeaderSize  = binary.Size(RecordHeaderStruct{})
	chamberHeaderSize = binary.Size(ChamberHeaderStruct{})
	sectionHeaderSize = binary.Size(SectionHeaderStruct{})
)

// RawEventRecord is the packed form of one event. It is self-contained:
// the record header carries its own length and format version.
type RawEventRecord []byte

// Header decodes the record header without validating the payload.
func (r RawEventRecord) Header() (RecordHeaderStruct, error) {
	var header RecordHeaderStruct
	if len(r) < recordHeaderSize {
		return header, decodeErrorf(0, "record of %d bytes is shorter than its header (%d bytes)", len(r), recordHeaderSize)
	}
	binary.Read(bytes.NewReader(r[:recordHeaderSize]), binary.LittleEndian, &header)
	return header, nil
}

// Item word layout. Bit 15 of the first word of every item flags ME1/a.
//
// Layer digis, word 0:
//
//	layer [0:3) channel [3:10) extra [10:15) me1a [15]
//
// extra holds the number of ADC samples for strips and the comparator bit
// for comparators.
const (
	me1aBit = 0x8000

	layerMask    = 0x0007
	channelMask  = 0x007F
	channelShift = 3
	extraMask    = 0x001F
	extraShift   = 10

	maxADC = 0x0FFF
)

func bool2word(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}

// CheckBit reports whether bit pos of mask is set.
func CheckBit(mask uint16, pos uint16) bool {
	return (mask & (1 << pos)) != 0
}

// fieldWidth is the bit width of one raw field. Widths are checked before
// packing so that nothing is silently truncated.
type fieldWidth struct {
	name  string
	value int
	bits  uint
}

func checkWidths(d Digi, fields ...fieldWidth) error {
	for _, f := range fields {
		if f.value < 0 || f.value >= 1<<f.bits {
			return &GeometryError{ID: d.DetID(), Kind: d.Kind(), Field: f.name, Value: f.value, Reason: "does not fit the raw format"}
		}
	}
	return nil
}

func checkBX(d Digi) error {
	bx := d.TimeBin()
	if bx < -32768 || bx > 32767 {
		return &GeometryError{ID: d.DetID(), Kind: d.Kind(), Field: "bx", Value: bx, Reason: "does not fit the raw format"}
	}
	return nil
}

// CheckEncodable verifies that every field of d fits its raw word.
func CheckEncodable(d Digi) error {
	if err := checkBX(d); err != nil {
		return err
	}
	switch digi := d.(type) {
	case WireDigi:
		return checkWidths(d, fieldWidth{"wire group", digi.WireGroup, 7})
	case StripDigi:
		return checkWidths(d, fieldWidth{"strip", digi.Strip, 7})
	case ComparatorDigi:
		return checkWidths(d, fieldWidth{"strip", digi.Strip, 7})
	case ALCTDigi:
		return checkWidths(d,
			fieldWidth{"quality", digi.Quality, 3},
			fieldWidth{"accel", digi.Accel, 1},
			fieldWidth{"pattern b", digi.PatternB, 1},
			fieldWidth{"track number", digi.TrkNumber, 2},
			fieldWidth{"key wire group", digi.KeyWG, 16},
			fieldWidth{"full bx", digi.FullBX, 16})
	case CLCTDigi:
		return checkWidths(d,
			fieldWidth{"strip type", digi.StripType, 1},
			fieldWidth{"bend", digi.Bend, 4},
			fieldWidth{"quality", digi.Quality, 3},
			fieldWidth{"track number", digi.TrkNumber, 2},
			fieldWidth{"cfeb", digi.CFEB, 3},
			fieldWidth{"pattern", digi.Pattern, 16},
			fieldWidth{"strip", digi.Strip, 16},
			fieldWidth{"full bx", digi.FullBX, 16},
			fieldWidth{"comparator code", digi.CompCode + 1, 15})
	case CorrelatedLCTDigi:
		return checkWidths(d,
			fieldWidth{"track number", digi.TrkNumber, 2},
			fieldWidth{"quality", digi.Quality, 4},
			fieldWidth{"bend", digi.Bend, 4},
			fieldWidth{"bx0", digi.BX0, 1},
			fieldWidth{"sync error", digi.SyncErr, 1},
			fieldWidth{"key wire group", digi.KeyWG, 16},
			fieldWidth{"strip", digi.Strip, 16},
			fieldWidth{"pattern", digi.Pattern, 16},
			fieldWidth{"mpc link", digi.MPCLink, 16},
			fieldWidth{"csc id", digi.CSCID, 16})
	case GEMPadClusterDigi:
		if err := checkWidths(d, fieldWidth{"roll", digi.Roll, 4}); err != nil {
			return err
		}
		for _, pad := range digi.Pads {
			if err := checkWidths(d, fieldWidth{"pad", pad, 16}); err != nil {
				return err
			}
		}
	}
	return nil
}

func me1aWord(id DetectorChannelID) uint16 {
	if id.IsME1A() {
		return me1aBit
	}
	return 0
}

func layerWord(id DetectorChannelID, channel int, extra int) uint16 {
	word := uint16(id.Layer) & layerMask
	word |= (uint16(channel) & channelMask) << channelShift
	word |= (uint16(extra) & extraMask) << extraShift
	return word | me1aWord(id)
}

// idFromWord rebuilds the digi ID from the chamber key and the first item word.
func idFromWord(chamber DetectorChannelID, word uint16, layer int) DetectorChannelID {
	id := chamber
	id.Layer = layer
	if word&me1aBit != 0 {
		id.Ring = ringME1A
	}
	return id
}

func encodeWire(w *wordWriter, d WireDigi) {
	w.put(layerWord(d.ID, d.WireGroup, 0))
	w.putInt(d.BX)
}

func encodeStrip(w *wordWriter, d StripDigi) {
	w.put(layerWord(d.ID, d.Strip, len(d.ADC)))
	w.putInt(d.BX)
	for _, adc := range d.ADC {
		w.put(uint16(adc) & maxADC)
	}
}

func encodeComparator(w *wordWriter, d ComparatorDigi) {
	w.put(layerWord(d.ID, d.Strip, d.Comparator))
	w.putInt(d.BX)
}

// ALCT word 0: valid [0] accel [1] patternB [2] quality [3:6) trknmb [6:8)
func encodeALCT(w *wordWriter, d ALCTDigi) {
	word := bool2word(d.Valid)
	word |= uint16(d.Accel&0x1) << 1
	word |= uint16(d.PatternB&0x1) << 2
	word |= uint16(d.Quality&0x7) << 3
	word |= uint16(d.TrkNumber&0x3) << 6
	w.put(word | me1aWord(d.ID))
	w.put(uint16(d.KeyWG))
	w.putInt(d.BX)
	w.put(uint16(d.FullBX))
}

// CLCT word 0: valid [0] stripType [1] bend [2:6) quality [6:9) trknmb [9:11) cfeb [11:14)
func encodeCLCT(w *wordWriter, d CLCTDigi) {
	word := bool2word(d.Valid)
	word |= uint16(d.StripType&0x1) << 1
	word |= uint16(d.Bend&0xF) << 2
	word |= uint16(d.Quality&0x7) << 6
	word |= uint16(d.TrkNumber&0x3) << 9
	word |= uint16(d.CFEB&0x7) << 11
	w.put(word | me1aWord(d.ID))
	w.put(uint16(d.Pattern))
	w.put(uint16(d.Strip))
	w.putInt(d.BX)
	w.put(uint16(d.FullBX))
	w.putInt(d.CompCode)
}

// LCT word 0: valid [0] trknmb [1:3) quality [3:7) bend [7:11) bx0 [11] syncErr [12]
func encodeLCT(w *wordWriter, d CorrelatedLCTDigi) {
	word := bool2word(d.Valid)
	word |= uint16(d.TrkNumber&0x3) << 1
	word |= uint16(d.Quality&0xF) << 3
	word |= uint16(d.Bend&0xF) << 7
	word |= uint16(d.BX0&0x1) << 11
	word |= uint16(d.SyncErr&0x1) << 12
	w.put(word | me1aWord(d.ID))
	w.put(uint16(d.KeyWG))
	w.put(uint16(d.Strip))
	w.put(uint16(d.Pattern))
	w.putInt(d.BX)
	w.put(uint16(d.MPCLink))
	w.put(uint16(d.CSCID))
}

// GEM word 0: roll [0:4) npads [4:8)
func encodeGEM(w *wordWriter, d GEMPadClusterDigi) {
	word := uint16(d.Roll) & 0xF
	word |= (uint16(len(d.Pads)) & 0xF) << 4
	w.put(word | me1aWord(d.ID))
	w.putInt(d.BX)
	for _, pad := range d.Pads {
		w.put(uint16(pad))
	}
}

func decodeWire(r *wordReader, chamber DetectorChannelID) (WireDigi, error) {
	w0, err := r.next()
	if err != nil {
		return WireDigi{}, err
	}
	bx, err := r.nextInt()
	if err != nil {
		return WireDigi{}, err
	}
	return WireDigi{
		ID:        idFromWord(chamber, w0, int(w0&layerMask)),
		WireGroup: int((w0 >> channelShift) & channelMask),
		BX:        bx,
	}, nil
}

func decodeStrip(r *wordReader, chamber DetectorChannelID) (StripDigi, error) {
	w0, err := r.next()
	if err != nil {
		return StripDigi{}, err
	}
	bx, err := r.nextInt()
	if err != nil {
		return StripDigi{}, err
	}
	nSamples := int((w0 >> extraShift) & extraMask)
	if nSamples > MaxStripSamples {
		return StripDigi{}, decodeErrorf(r.offset(), "strip digi with %d samples", nSamples)
	}
	var adc []int
	if nSamples > 0 {
		adc = make([]int, nSamples)
		for i := range adc {
			word, err := r.next()
			if err != nil {
				return StripDigi{}, err
			}
			adc[i] = int(word & maxADC)
		}
	}
	return StripDigi{
		ID:    idFromWord(chamber, w0, int(w0&layerMask)),
		Strip: int((w0 >> channelShift) & channelMask),
		BX:    bx,
		ADC:   adc,
	}, nil
}

func decodeComparator(r *wordReader, chamber DetectorChannelID) (ComparatorDigi, error) {
	w0, err := r.next()
	if err != nil {
		return ComparatorDigi{}, err
	}
	bx, err := r.nextInt()
	if err != nil {
		return ComparatorDigi{}, err
	}
	return ComparatorDigi{
		ID:         idFromWord(chamber, w0, int(w0&layerMask)),
		Strip:      int((w0 >> channelShift) & channelMask),
		Comparator: int((w0 >> extraShift) & 0x1),
		BX:         bx,
	}, nil
}

func decodeALCT(r *wordReader, chamber DetectorChannelID) (ALCTDigi, error) {
	words, err := r.words(4)
	if err != nil {
		return ALCTDigi{}, err
	}
	w0 := words[0]
	return ALCTDigi{
		ID:        idFromWord(chamber, w0, 0),
		Valid:     CheckBit(w0, 0),
		Accel:     int((w0 >> 1) & 0x1),
		PatternB:  int((w0 >> 2) & 0x1),
		Quality:   int((w0 >> 3) & 0x7),
		TrkNumber: int((w0 >> 6) & 0x3),
		KeyWG:     int(words[1]),
		BX:        int(int16(words[2])),
		FullBX:    int(words[3]),
	}, nil
}

func decodeCLCT(r *wordReader, chamber DetectorChannelID) (CLCTDigi, error) {
	words, err := r.words(6)
	if err != nil {
		return CLCTDigi{}, err
	}
	w0 := words[0]
	return CLCTDigi{
		ID:        idFromWord(chamber, w0, 0),
		Valid:     CheckBit(w0, 0),
		StripType: int((w0 >> 1) & 0x1),
		Bend:      int((w0 >> 2) & 0xF),
		Quality:   int((w0 >> 6) & 0x7),
		TrkNumber: int((w0 >> 9) & 0x3),
		CFEB:      int((w0 >> 11) & 0x7),
		Pattern:   int(words[1]),
		Strip:     int(words[2]),
		BX:        int(int16(words[3])),
		FullBX:    int(words[4]),
		CompCode:  int(int16(words[5])),
	}, nil
}

func decodeLCT(r *wordReader, chamber DetectorChannelID) (CorrelatedLCTDigi, error) {
	words, err := r.words(7)
	if err != nil {
		return CorrelatedLCTDigi{}, err
	}
	w0 := words[0]
	return CorrelatedLCTDigi{
		ID:        idFromWord(chamber, w0, 0),
		Valid:     CheckBit(w0, 0),
		TrkNumber: int((w0 >> 1) & 0x3),
		Quality:   int((w0 >> 3) & 0xF),
		Bend:      int((w0 >> 7) & 0xF),
		BX0:       int((w0 >> 11) & 0x1),
		SyncErr:   int((w0 >> 12) & 0x1),
		KeyWG:     int(words[1]),
		Strip:     int(words[2]),
		Pattern:   int(words[3]),
		BX:        int(int16(words[4])),
		MPCLink:   int(words[5]),
		CSCID:     int(words[6]),
	}, nil
}

func decodeGEM(r *wordReader, chamber DetectorChannelID) (GEMPadClusterDigi, error) {
	w0, err := r.next()
	if err != nil {
		return GEMPadClusterDigi{}, err
	}
	bx, err := r.nextInt()
	if err != nil {
		return GEMPadClusterDigi{}, err
	}
	nPads := int((w0 >> 4) & 0xF)
	if nPads > MaxGEMClusterPad {
		return GEMPadClusterDigi{}, decodeErrorf(r.offset(), "GEM cluster with %d pads", nPads)
	}
	words, err := r.words(nPads)
	if err != nil {
		return GEMPadClusterDigi{}, err
	}
	pads := make([]int, nPads)
	for i, word := range words {
		pads[i] = int(word)
	}
	return GEMPadClusterDigi{
		ID:   idFromWord(chamber, w0, 0),
		Roll: int(w0 & 0xF),
		BX:   bx,
		Pads: pads,
	}, nil
}

type wordWriter struct {
	buf bytes.Buffer
}

func (w *wordWriter) put(word uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], word)
	w.buf.Write(b[:])
}

func (w *wordWriter) putInt(v int) {
	w.put(uint16(int16(v)))
}

func (w *wordWriter) Bytes() []byte {
	return w.buf.Bytes()
}

// wordReader reads 16-bit words from a section payload. base is the offset of
// data within the record, used for error reporting.
type wordReader struct {
	data []byte
	pos  int
	base int
}

func (r *wordReader) offset() int {
	return r.base + r.pos
}

func (r *wordReader) next() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, decodeErrorf(r.offset(), "section truncated")
	}
	word := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return word, nil
}

func (r *wordReader) nextInt() (int, error) {
	word, err := r.next()
	return int(int16(word)), err
}

func (r *wordReader) words(n int) ([]uint16, error) {
	if r.pos+2*n > len(r.data) {
		return nil, decodeErrorf(r.offset(), "section truncated, %d words needed", n)
	}
	words := make([]uint16, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(r.data[r.pos:])
		r.pos += 2
	}
	return words, nil
}

func (r *wordReader) remaining() int {
	return len(r.data) - r.pos
}
