package cscraw

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Packer serializes events into RawEventRecords. A Packer is not safe for
// concurrent use; give every worker its own.
type Packer struct {
	config    PackerConfig
	geometry  Geometry
	trigger   PreTriggerLogic
	logger    Logger
	verbosity int
	lifecycle Lifecycle
}

// NewPacker fails with a FormatVersionError for an unsupported version and a
// ConfigError for options the version cannot carry.
func NewPacker(cfg PackerConfig, geom Geometry, trig PreTriggerLogic, log Logger) (*Packer, error) {
	if !FormatVersionSupported(cfg.FormatVersion) {
		return nil, &FormatVersionError{Version: cfg.FormatVersion, Supported: SupportedFormatVersions}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if trig == nil {
		trig = StaticPreTrigger{}
	}
	return &Packer{
		config:   cfg,
		geometry: geom,
		trigger:  trig,
		logger:   orNop(log),
	}, nil
}

// SetVerbosity enables per chamber logs above 2.
func (p *Packer) SetVerbosity(v int) {
	p.verbosity = v
}

func (p *Packer) Lifecycle() *Lifecycle {
	return &p.lifecycle
}

// Pack serializes ev. An invalid digi rejects the whole event and nothing is
// returned.
func (p *Packer) Pack(ev *EventType) (RawEventRecord, error) {
	p.lifecycle.reset()
	p.lifecycle.enter(StageIdle)
	p.lifecycle.enter(StageReceiving)

	if err := p.validate(ev); err != nil {
		p.lifecycle.reject(err)
		return nil, fmt.Errorf("event %d rejected: %w", ev.EventID, err)
	}

	p.lifecycle.enter(StageSerializing)
	var body bytes.Buffer
	nChambers := 0
	for _, chamber := range ev.Digis.ByChamber() {
		digis, ok := p.selectReadout(ev, chamber)
		if !ok {
			if p.verbosity > 2 {
				p.logger.Info(fmt.Sprintf("Chamber %v not read out in event %d", chamber.Chamber, ev.EventID), "packer")
			}
			continue
		}
		written, err := p.writeChamber(&body, chamber.Chamber, digis)
		if err != nil {
			p.lifecycle.reject(err)
			return nil, fmt.Errorf("event %d rejected: %w", ev.EventID, err)
		}
		if written {
			nChambers++
		}
	}

	header := RecordHeaderStruct{
		RecordSize:    uint32(recordHeaderSize + body.Len()),
		Magic:         RECORD_MAGIC_NUMBER,
		HeadSize:      uint16(recordHeaderSize),
		FormatVersion: p.config.FormatVersion,
		Flags:         p.flags(),
		NumChambers:   uint16(nChambers),
		RunNumber:     ev.RunNumber,
		EventID:       ev.EventID,
	}
	var record bytes.Buffer
	record.Grow(int(header.RecordSize))
	binary.Write(&record, binary.LittleEndian, header)
	record.Write(body.Bytes())

	p.lifecycle.enter(StageEmitting)
	if p.verbosity > 1 {
		p.logger.Info(fmt.Sprintf("Event %d packed: %d chambers, %d bytes", ev.EventID, nChambers, record.Len()), "packer")
	}
	p.lifecycle.enter(StageIdle)
	return RawEventRecord(record.Bytes()), nil
}

func (p *Packer) flags() uint16 {
	var flags uint16
	if p.config.PackByCFEB {
		flags |= FLAG_PACK_BY_CFEB
	}
	if p.config.IncludeGEMs {
		flags |= FLAG_GEMS
	}
	return flags
}

func (p *Packer) validate(ev *EventType) error {
	return eachDigi(&ev.Digis, func(d Digi) error {
		if err := p.geometry.ValidateDigi(d); err != nil {
			return err
		}
		if d.Kind() == KindCLCTPreTrigger {
			return nil
		}
		return CheckEncodable(d)
	})
}

// selectReadout applies the readout mode to one chamber. Pack-everything
// takes precedence over pre-trigger selection. In pre-trigger mode wires
// need an ALCT in window, comparators a CLCT and strips a pre-trigger, on
// their own CFEB when packing by CFEB.
func (p *Packer) selectReadout(ev *EventType, chamber ChamberDigis) (Digis, bool) {
	if p.config.PackEverything || !p.config.UsePreTriggers {
		return chamber.Digis, true
	}
	result := p.trigger.Evaluate(ev, chamber.Chamber)
	if !result.Fired {
		return Digis{}, false
	}
	digis := chamber.Digis
	if !result.ALCT {
		digis.Wires = nil
	}
	if !result.CLCT {
		digis.Comparators = nil
	}
	switch {
	case !result.PreTrigger:
		digis.Strips = nil
	case p.config.PackByCFEB:
		digis.Strips = filterDigis(digis.Strips, func(s StripDigi) bool {
			return result.HasCFEB(p.geometry.StripCFEB(s.ID, s.Strip))
		})
	}
	return digis, true
}

// Readout returns the digis a record packed from ev carries: the chambers
// selected by the readout mode, without pre-triggers, and without GEM
// clusters unless they are packed.
func (p *Packer) Readout(ev *EventType) Digis {
	var kept Digis
	for _, chamber := range ev.Digis.ByChamber() {
		digis, ok := p.selectReadout(ev, chamber)
		if !ok {
			continue
		}
		digis.PreTriggers = nil
		if !p.config.IncludeGEMs {
			digis.GEMClusters = nil
		}
		kept.Append(digis)
	}
	kept.Sort()
	return kept
}

func filterDigis[T any](digis []T, keep func(T) bool) []T {
	var kept []T
	for _, d := range digis {
		if keep(d) {
			kept = append(kept, d)
		}
	}
	return kept
}

// writeChamber appends one chamber block. Chambers without any packable
// section are skipped.
func (p *Packer) writeChamber(out *bytes.Buffer, chamber DetectorChannelID, digis Digis) (bool, error) {
	var sections bytes.Buffer
	nSections := 0
	var cfebMask uint16

	add := func(written bool, err error) error {
		if written {
			nSections++
		}
		return err
	}

	for _, kind := range packedKinds {
		var err error
		switch kind {
		case KindWire:
			err = add(writeSection(&sections, kind, WHOLE_CHAMBER, digis.Wires, encodeWire))
		case KindStrip:
			err = p.writeStrips(&sections, digis.Strips, &nSections, &cfebMask)
		case KindComparator:
			err = p.writeComparators(&sections, digis.Comparators, &nSections, &cfebMask)
		case KindALCT:
			err = add(writeSection(&sections, kind, WHOLE_CHAMBER, digis.ALCTs, encodeALCT))
		case KindCLCT:
			err = add(writeSection(&sections, kind, WHOLE_CHAMBER, digis.CLCTs, encodeCLCT))
		case KindCorrelatedLCT:
			err = add(writeSection(&sections, kind, WHOLE_CHAMBER, digis.LCTs, encodeLCT))
		case KindGEMPadCluster:
			if p.config.IncludeGEMs {
				err = add(writeSection(&sections, kind, WHOLE_CHAMBER, digis.GEMClusters, encodeGEM))
			}
		}
		if err != nil {
			return false, fmt.Errorf("chamber %v: %w", chamber, err)
		}
	}
	if nSections == 0 {
		return false, nil
	}
	if p.config.FormatVersion < FORMAT_2020 {
		cfebMask = 0
	}

	header := ChamberHeaderStruct{
		BlockSize:   uint32(chamberHeaderSize + sections.Len()),
		RawID:       chamber.RawID(),
		NumSections: uint16(nSections),
		CFEBMask:    cfebMask,
	}
	binary.Write(out, binary.LittleEndian, header)
	out.Write(sections.Bytes())
	if p.verbosity > 2 {
		p.logger.Info(fmt.Sprintf("Chamber %v: %d sections, CFEB mask 0x%04x", chamber, nSections, cfebMask), "packer")
	}
	return true, nil
}

func (p *Packer) writeStrips(out *bytes.Buffer, strips []StripDigi, nSections *int, mask *uint16) error {
	byCFEB := groupByCFEB(strips, func(s StripDigi) int { return p.geometry.StripCFEB(s.ID, s.Strip) })
	return writeCFEBSections(out, KindStrip, p.config.PackByCFEB, byCFEB, strips, encodeStrip, nSections, mask)
}

func (p *Packer) writeComparators(out *bytes.Buffer, comparators []ComparatorDigi, nSections *int, mask *uint16) error {
	byCFEB := groupByCFEB(comparators, func(c ComparatorDigi) int { return p.geometry.StripCFEB(c.ID, c.Strip) })
	return writeCFEBSections(out, KindComparator, p.config.PackByCFEB, byCFEB, comparators, encodeComparator, nSections, mask)
}

// writeCFEBSections writes one section per board when packing by CFEB and a
// single whole chamber section otherwise.
func writeCFEBSections[T Digi](out *bytes.Buffer, kind DigiKind, perCFEB bool, byCFEB map[int][]T, all []T,
	encode func(*wordWriter, T), nSections *int, mask *uint16) error {
	for cfeb := range byCFEB {
		*mask |= 1 << uint(cfeb)
	}
	if !perCFEB {
		written, err := writeSection(out, kind, WHOLE_CHAMBER, all, encode)
		if written {
			*nSections++
		}
		return err
	}
	cfebs := maps.Keys(byCFEB)
	slices.Sort(cfebs)
	for _, cfeb := range cfebs {
		written, err := writeSection(out, kind, uint8(cfeb), byCFEB[cfeb], encode)
		if err != nil {
			return err
		}
		if written {
			*nSections++
		}
	}
	return nil
}

func groupByCFEB[T Digi](digis []T, cfebOf func(T) int) map[int][]T {
	groups := make(map[int][]T)
	for _, d := range digis {
		cfeb := cfebOf(d)
		groups[cfeb] = append(groups[cfeb], d)
	}
	return groups
}

const maxSectionItems = 0xFFFF

func writeSection[T Digi](out *bytes.Buffer, kind DigiKind, cfeb uint8, items []T, encode func(*wordWriter, T)) (bool, error) {
	if len(items) == 0 {
		return false, nil
	}
	if len(items) > maxSectionItems {
		return false, fmt.Errorf("%v section with %d digis exceeds %d", kind, len(items), maxSectionItems)
	}
	w := &wordWriter{}
	for _, item := range items {
		encode(w, item)
	}
	payload := w.Bytes()
	header := SectionHeaderStruct{
		Kind:        uint8(kind),
		CFEB:        cfeb,
		Count:       uint16(len(items)),
		SectionSize: uint32(sectionHeaderSize + len(payload)),
	}
	binary.Write(out, binary.LittleEndian, header)
	out.Write(payload)
	return true, nil
}

func eachOf[T Digi](digis []T, fn func(Digi) error) error {
	for _, d := range digis {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

// eachDigi calls fn on every digi of d, pre-triggers included, stopping at
// the first error.
func eachDigi(d *Digis, fn func(Digi) error) error {
	if err := eachOf(d.Wires, fn); err != nil {
		return err
	}
	if err := eachOf(d.Strips, fn); err != nil {
		return err
	}
	if err := eachOf(d.Comparators, fn); err != nil {
		return err
	}
	if err := eachOf(d.ALCTs, fn); err != nil {
		return err
	}
	if err := eachOf(d.CLCTs, fn); err != nil {
		return err
	}
	if err := eachOf(d.PreTriggers, fn); err != nil {
		return err
	}
	if err := eachOf(d.LCTs, fn); err != nil {
		return err
	}
	return eachOf(d.GEMClusters, fn)
}
