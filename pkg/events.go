package cscraw

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type DigiKind uint8

const (
	KindWire DigiKind = iota + 1
	KindStrip
	KindComparator
	KindALCT
	KindCLCT
	KindCLCTPreTrigger
	KindCorrelatedLCT
	KindGEMPadCluster
)

// Order in which sections are written inside a chamber block.
var packedKinds = []DigiKind{
	KindWire,
	KindStrip,
	KindComparator,
	KindALCT,
	KindCLCT,
	KindCorrelatedLCT,
	KindGEMPadCluster,
}

var digiKindStrings = []string{
	"Unknown",
	"Wire",
	"Strip",
	"Comparator",
	"ALCT",
	"CLCT",
	"CLCTPreTrigger",
	"CorrelatedLCT",
	"GEMPadCluster",
}

func (k DigiKind) String() string {
	if int(k) >= len(digiKindStrings) {
		return digiKindStrings[0]
	}
	return digiKindStrings[k]
}

// Digi is implemented by every digi kind.
type Digi interface {
	DetID() DetectorChannelID
	Kind() DigiKind
	// Channel identifies the readout element inside DetID (wire group,
	// strip, half-strip...).
	Channel() int
	TimeBin() int
}

const (
	StripsPerCFEB    = 16
	MaxStripSamples  = 16
	MaxGEMClusterPad = 8
)

type WireDigi struct {
	ID        DetectorChannelID `json:"id"`
	WireGroup int               `json:"wire_group"`
	BX        int               `json:"bx"`
}

type StripDigi struct {
	ID    DetectorChannelID `json:"id"`
	Strip int               `json:"strip"`
	BX    int               `json:"bx"`
	ADC   []int             `json:"adc"`
}

type ComparatorDigi struct {
	ID         DetectorChannelID `json:"id"`
	Strip      int               `json:"strip"`
	Comparator int               `json:"comparator"`
	BX         int               `json:"bx"`
}

type ALCTDigi struct {
	ID        DetectorChannelID `json:"id"`
	Valid     bool              `json:"valid"`
	Quality   int               `json:"quality"`
	Accel     int               `json:"accel"`
	PatternB  int               `json:"pattern_b"`
	KeyWG     int               `json:"key_wg"`
	BX        int               `json:"bx"`
	TrkNumber int               `json:"trk_number"`
	FullBX    int               `json:"full_bx"`
}

type CLCTDigi struct {
	ID        DetectorChannelID `json:"id"`
	Valid     bool              `json:"valid"`
	Quality   int               `json:"quality"`
	Pattern   int               `json:"pattern"`
	StripType int               `json:"strip_type"`
	Bend      int               `json:"bend"`
	Strip     int               `json:"strip"`
	CFEB      int               `json:"cfeb"`
	BX        int               `json:"bx"`
	TrkNumber int               `json:"trk_number"`
	FullBX    int               `json:"full_bx"`
	CompCode  int               `json:"comp_code"`
}

// CLCTPreTriggerDigi has the CLCT layout. It is an input to the pre-trigger
// decision and is never written to raw records.
type CLCTPreTriggerDigi CLCTDigi

type CorrelatedLCTDigi struct {
	ID        DetectorChannelID `json:"id"`
	TrkNumber int               `json:"trk_number"`
	Valid     bool              `json:"valid"`
	Quality   int               `json:"quality"`
	KeyWG     int               `json:"key_wg"`
	Strip     int               `json:"strip"`
	Pattern   int               `json:"pattern"`
	Bend      int               `json:"bend"`
	BX        int               `json:"bx"`
	MPCLink   int               `json:"mpc_link"`
	BX0       int               `json:"bx0"`
	SyncErr   int               `json:"sync_err"`
	CSCID     int               `json:"csc_id"`
}

type GEMPadClusterDigi struct {
	ID   DetectorChannelID `json:"id"`
	Roll int               `json:"roll"`
	BX   int               `json:"bx"`
	Pads []int             `json:"pads"`
}

func (d WireDigi) DetID() DetectorChannelID { return d.ID }
func (d WireDigi) Kind() DigiKind           { return KindWire }
func (d WireDigi) Channel() int             { return d.WireGroup }
func (d WireDigi) TimeBin() int             { return d.BX }

func (d StripDigi) DetID() DetectorChannelID { return d.ID }
func (d StripDigi) Kind() DigiKind           { return KindStrip }
func (d StripDigi) Channel() int             { return d.Strip }
func (d StripDigi) TimeBin() int             { return d.BX }
func (d StripDigi) CFEB() int                { return (d.Strip - 1) / StripsPerCFEB }

func (d ComparatorDigi) DetID() DetectorChannelID { return d.ID }
func (d ComparatorDigi) Kind() DigiKind           { return KindComparator }
func (d ComparatorDigi) Channel() int             { return 2*d.Strip + d.Comparator }
func (d ComparatorDigi) TimeBin() int             { return d.BX }
func (d ComparatorDigi) CFEB() int                { return (d.Strip - 1) / StripsPerCFEB }

func (d ALCTDigi) DetID() DetectorChannelID { return d.ID }
func (d ALCTDigi) Kind() DigiKind           { return KindALCT }
func (d ALCTDigi) Channel() int             { return d.KeyWG }
func (d ALCTDigi) TimeBin() int             { return d.BX }

func (d CLCTDigi) DetID() DetectorChannelID { return d.ID }
func (d CLCTDigi) Kind() DigiKind           { return KindCLCT }
func (d CLCTDigi) Channel() int             { return d.KeyStrip() }
func (d CLCTDigi) TimeBin() int             { return d.BX }

// KeyStrip is the half-strip on the key layer across the chamber.
func (d CLCTDigi) KeyStrip() int { return d.CFEB*2*StripsPerCFEB + d.Strip }

func (d CLCTPreTriggerDigi) DetID() DetectorChannelID { return d.ID }
func (d CLCTPreTriggerDigi) Kind() DigiKind           { return KindCLCTPreTrigger }
func (d CLCTPreTriggerDigi) Channel() int             { return CLCTDigi(d).KeyStrip() }
func (d CLCTPreTriggerDigi) TimeBin() int             { return d.BX }

func (d CorrelatedLCTDigi) DetID() DetectorChannelID { return d.ID }
func (d CorrelatedLCTDigi) Kind() DigiKind           { return KindCorrelatedLCT }
func (d CorrelatedLCTDigi) Channel() int             { return d.KeyWG<<8 | d.Strip }
func (d CorrelatedLCTDigi) TimeBin() int             { return d.BX }

func (d GEMPadClusterDigi) DetID() DetectorChannelID { return d.ID }
func (d GEMPadClusterDigi) Kind() DigiKind           { return KindGEMPadCluster }
func (d GEMPadClusterDigi) TimeBin() int             { return d.BX }
func (d GEMPadClusterDigi) Channel() int {
	first := 0
	if len(d.Pads) > 0 {
		first = d.Pads[0]
	}
	return d.Roll<<8 | first
}

// Digis holds every digi collection of one event.
type Digis struct {
	Wires       []WireDigi           `json:"wires,omitempty"`
	Strips      []StripDigi          `json:"strips,omitempty"`
	Comparators []ComparatorDigi     `json:"comparators,omitempty"`
	ALCTs       []ALCTDigi           `json:"alcts,omitempty"`
	CLCTs       []CLCTDigi           `json:"clcts,omitempty"`
	PreTriggers []CLCTPreTriggerDigi `json:"pre_triggers,omitempty"`
	LCTs        []CorrelatedLCTDigi  `json:"lcts,omitempty"`
	GEMClusters []GEMPadClusterDigi  `json:"gem_clusters,omitempty"`
}

type EventType struct {
	RunNumber uint32 `json:"run_number"`
	EventID   uint32 `json:"event_id"`
	Digis     Digis  `json:"digis"`
}

func compareDigi[T Digi](a, b T) int {
	if c := a.DetID().Compare(b.DetID()); c != 0 {
		return c
	}
	if c := sign(a.Channel() - b.Channel()); c != 0 {
		return c
	}
	return sign(a.TimeBin() - b.TimeBin())
}

func sortDigis[T Digi](digis []T) {
	slices.SortStableFunc(digis, compareDigi[T])
}

// Sort puts every collection in canonical order: layer ID, channel, time.
func (d *Digis) Sort() {
	sortDigis(d.Wires)
	sortDigis(d.Strips)
	sortDigis(d.Comparators)
	sortDigis(d.ALCTs)
	sortDigis(d.CLCTs)
	sortDigis(d.PreTriggers)
	sortDigis(d.LCTs)
	sortDigis(d.GEMClusters)
}

func (d *Digis) Append(o Digis) {
	d.Wires = append(d.Wires, o.Wires...)
	d.Strips = append(d.Strips, o.Strips...)
	d.Comparators = append(d.Comparators, o.Comparators...)
	d.ALCTs = append(d.ALCTs, o.ALCTs...)
	d.CLCTs = append(d.CLCTs, o.CLCTs...)
	d.PreTriggers = append(d.PreTriggers, o.PreTriggers...)
	d.LCTs = append(d.LCTs, o.LCTs...)
	d.GEMClusters = append(d.GEMClusters, o.GEMClusters...)
}

func (d *Digis) CountKind(kind DigiKind) int {
	switch kind {
	case KindWire:
		return len(d.Wires)
	case KindStrip:
		return len(d.Strips)
	case KindComparator:
		return len(d.Comparators)
	case KindALCT:
		return len(d.ALCTs)
	case KindCLCT:
		return len(d.CLCTs)
	case KindCLCTPreTrigger:
		return len(d.PreTriggers)
	case KindCorrelatedLCT:
		return len(d.LCTs)
	case KindGEMPadCluster:
		return len(d.GEMClusters)
	}
	return 0
}

// Count returns the number of digis of every kind except pre-triggers.
func (d *Digis) Count() int {
	n := 0
	for _, kind := range packedKinds {
		n += d.CountKind(kind)
	}
	return n
}

// ChamberDigis are the digis read out by one chamber.
type ChamberDigis struct {
	Chamber DetectorChannelID
	Digis   Digis
}

func groupByChamber[T Digi](digis []T, chambers map[DetectorChannelID]*Digis, add func(*Digis, T)) {
	for _, digi := range digis {
		key := digi.DetID().ChamberKey()
		group, ok := chambers[key]
		if !ok {
			group = &Digis{}
			chambers[key] = group
		}
		add(group, digi)
	}
}

// ByChamber groups digis by readout chamber, in increasing chamber order.
// Each group is sorted.
func (d *Digis) ByChamber() []ChamberDigis {
	chambers := make(map[DetectorChannelID]*Digis)
	groupByChamber(d.Wires, chambers, func(g *Digis, x WireDigi) { g.Wires = append(g.Wires, x) })
	groupByChamber(d.Strips, chambers, func(g *Digis, x StripDigi) { g.Strips = append(g.Strips, x) })
	groupByChamber(d.Comparators, chambers, func(g *Digis, x ComparatorDigi) { g.Comparators = append(g.Comparators, x) })
	groupByChamber(d.ALCTs, chambers, func(g *Digis, x ALCTDigi) { g.ALCTs = append(g.ALCTs, x) })
	groupByChamber(d.CLCTs, chambers, func(g *Digis, x CLCTDigi) { g.CLCTs = append(g.CLCTs, x) })
	groupByChamber(d.PreTriggers, chambers, func(g *Digis, x CLCTPreTriggerDigi) { g.PreTriggers = append(g.PreTriggers, x) })
	groupByChamber(d.LCTs, chambers, func(g *Digis, x CorrelatedLCTDigi) { g.LCTs = append(g.LCTs, x) })
	groupByChamber(d.GEMClusters, chambers, func(g *Digis, x GEMPadClusterDigi) { g.GEMClusters = append(g.GEMClusters, x) })

	keys := maps.Keys(chambers)
	slices.SortFunc(keys, DetectorChannelID.Compare)

	result := make([]ChamberDigis, 0, len(keys))
	for _, key := range keys {
		group := chambers[key]
		group.Sort()
		result = append(result, ChamberDigis{Chamber: key, Digis: *group})
	}
	return result
}

// Clone returns a deep copy.
func (d Digis) Clone() Digis {
	c := Digis{
		Wires:       slices.Clone(d.Wires),
		Comparators: slices.Clone(d.Comparators),
		ALCTs:       slices.Clone(d.ALCTs),
		CLCTs:       slices.Clone(d.CLCTs),
		PreTriggers: slices.Clone(d.PreTriggers),
		LCTs:        slices.Clone(d.LCTs),
	}
	if d.Strips != nil {
		c.Strips = make([]StripDigi, len(d.Strips))
		for i, s := range d.Strips {
			s.ADC = slices.Clone(s.ADC)
			c.Strips[i] = s
		}
	}
	if d.GEMClusters != nil {
		c.GEMClusters = make([]GEMPadClusterDigi, len(d.GEMClusters))
		for i, g := range d.GEMClusters {
			g.Pads = slices.Clone(g.Pads)
			c.GEMClusters[i] = g
		}
	}
	return c
}
