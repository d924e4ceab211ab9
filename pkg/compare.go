package cscraw

import (
	"fmt"

	"golang.org/x/exp/slices"
)

type Discrepancy int

const (
	Matched Discrepancy = iota
	MissingInCandidate
	ExtraInCandidate
)

func (d Discrepancy) String() string {
	switch d {
	case Matched:
		return "Matched"
	case MissingInCandidate:
		return "MissingInCandidate"
	case ExtraInCandidate:
		return "ExtraInCandidate"
	default:
		return "Unknown"
	}
}

// Mismatch is a digi left without partner.
type Mismatch struct {
	ID          DetectorChannelID
	Kind        DigiKind
	Discrepancy Discrepancy
	Channel     int
	BX          int
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%v %v channel %d bx %d: %v", m.Kind, m.ID, m.Channel, m.BX, m.Discrepancy)
}

type BusyChamber struct {
	Chamber DetectorChannelID
	Kind    DigiKind
	Count   int
}

type Report struct {
	Matched      map[DigiKind]int
	Truth        map[DigiKind]int
	Candidate    map[DigiKind]int
	Mismatches   []Mismatch
	BusyChambers []BusyChamber
}

func NewReport() *Report {
	return &Report{
		Matched:   make(map[DigiKind]int),
		Truth:     make(map[DigiKind]int),
		Candidate: make(map[DigiKind]int),
	}
}

// OK is true when every digi found a partner. Busy chambers do not count.
func (r *Report) OK() bool {
	return len(r.Mismatches) == 0
}

func (r *Report) Count(d Discrepancy) int {
	n := 0
	for _, m := range r.Mismatches {
		if m.Discrepancy == d {
			n++
		}
	}
	return n
}

// Merge adds the counts and mismatches of o to r.
func (r *Report) Merge(o *Report) {
	for k, v := range o.Matched {
		r.Matched[k] += v
	}
	for k, v := range o.Truth {
		r.Truth[k] += v
	}
	for k, v := range o.Candidate {
		r.Candidate[k] += v
	}
	r.Mismatches = append(r.Mismatches, o.Mismatches...)
	r.BusyChambers = append(r.BusyChambers, o.BusyChambers...)
}

func (r *Report) String() string {
	return fmt.Sprintf("matched %d, missing %d, extra %d, busy chambers %d",
		sumCounts(r.Matched), r.Count(MissingInCandidate), r.Count(ExtraInCandidate), len(r.BusyChambers))
}

func sumCounts(m map[DigiKind]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

// Comparator matches two digi sets kind by kind.
type Comparator struct {
	config   CompareConfig
	geometry Geometry
}

func NewComparator(cfg CompareConfig, geom Geometry) *Comparator {
	return &Comparator{config: cfg, geometry: geom}
}

func (c *Comparator) Compare(truth, candidate *Digis) *Report {
	report := NewReport()
	matchKind(c, KindWire, truth.Wires, candidate.Wires, report)
	matchKind(c, KindStrip, truth.Strips, candidate.Strips, report)
	matchKind(c, KindComparator, truth.Comparators, candidate.Comparators, report)
	matchKind(c, KindALCT, truth.ALCTs, candidate.ALCTs, report)
	matchKind(c, KindCLCT, truth.CLCTs, candidate.CLCTs, report)
	matchKind(c, KindCLCTPreTrigger, truth.PreTriggers, candidate.PreTriggers, report)
	matchKind(c, KindCorrelatedLCT, truth.LCTs, candidate.LCTs, report)
	matchKind(c, KindGEMPadCluster, truth.GEMClusters, candidate.GEMClusters, report)
	report.BusyChambers = c.busyChambers(truth)
	return report
}

// matchKey holds the channel fields of a digi unpacked, so that digis on
// different channels never share a key.
type matchKey struct {
	id    DetectorChannelID
	major int
	minor int
}

func keyOf(d Digi) matchKey {
	key := matchKey{id: d.DetID()}
	switch digi := d.(type) {
	case ComparatorDigi:
		key.major, key.minor = digi.Strip, digi.Comparator
	case CLCTDigi:
		key.major, key.minor = digi.CFEB, digi.Strip
	case CLCTPreTriggerDigi:
		key.major, key.minor = digi.CFEB, digi.Strip
	case CorrelatedLCTDigi:
		key.major, key.minor = digi.KeyWG, digi.Strip
	case GEMPadClusterDigi:
		key.major = digi.Roll
		if len(digi.Pads) > 0 {
			key.minor = digi.Pads[0]
		}
	default:
		key.major = d.Channel()
	}
	return key
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// matchKind pairs truth digis with valid candidates of the same layer and
// channel whose BX difference is inside the tolerance window. Truth digis are taken
// in canonical order and each one takes the closest free candidate.
func matchKind[T Digi](c *Comparator, kind DigiKind, truth, candidate []T, report *Report) {
	if len(truth) == 0 && len(candidate) == 0 {
		return
	}
	window := c.config.ToleranceFor(kind)
	truth = slices.Clone(truth)
	candidate = slices.Clone(candidate)
	sortDigis(truth)
	sortDigis(candidate)
	report.Truth[kind] += len(truth)
	report.Candidate[kind] += len(candidate)

	// Candidates outside the geometry never match and end up as extras.
	byKey := make(map[matchKey][]int)
	for i, d := range candidate {
		if c.geometry.ValidateDigi(d) != nil {
			continue
		}
		key := keyOf(d)
		byKey[key] = append(byKey[key], i)
	}
	used := make([]bool, len(candidate))

	for _, t := range truth {
		best := -1
		for _, i := range byKey[keyOf(t)] {
			if used[i] {
				continue
			}
			delta := candidate[i].TimeBin() - t.TimeBin()
			if !window.Contains(delta) {
				continue
			}
			if best < 0 || abs(delta) < abs(candidate[best].TimeBin()-t.TimeBin()) {
				best = i
			}
		}
		if best < 0 {
			report.Mismatches = append(report.Mismatches, Mismatch{
				ID: t.DetID(), Kind: kind, Discrepancy: MissingInCandidate, Channel: t.Channel(), BX: t.TimeBin(),
			})
			continue
		}
		used[best] = true
		report.Matched[kind]++
	}

	for i, d := range candidate {
		if !used[i] {
			report.Mismatches = append(report.Mismatches, Mismatch{
				ID: d.DetID(), Kind: kind, Discrepancy: ExtraInCandidate, Channel: d.Channel(), BX: d.TimeBin(),
			})
		}
	}
}

func (c *Comparator) busyChambers(truth *Digis) []BusyChamber {
	threshold := c.config.BusyChamberThreshold
	if threshold <= 0 {
		return nil
	}
	var busy []BusyChamber
	for _, chamber := range truth.ByChamber() {
		for kind := KindWire; kind <= KindGEMPadCluster; kind++ {
			if n := chamber.Digis.CountKind(kind); n > threshold {
				busy = append(busy, BusyChamber{Chamber: chamber.Chamber, Kind: kind, Count: n})
			}
		}
	}
	return busy
}

// PreTriggerCheck summarizes CheckPreTriggerReadout.
type PreTriggerCheck struct {
	TestsRun    int
	TestsPassed int
	Failures    []string
}

func (p PreTriggerCheck) OK() bool {
	return p.TestsRun == p.TestsPassed
}

func (p *PreTriggerCheck) expect(ok bool, format string, args ...any) {
	p.TestsRun++
	if ok {
		p.TestsPassed++
		return
	}
	p.Failures = append(p.Failures, fmt.Sprintf(format, args...))
}

// CheckPreTriggerReadout checks a pre-trigger readout chamber by chamber.
// Wires must be kept when the chamber has an ALCT in window and dropped
// otherwise, comparators likewise with a CLCT. Neither may grow in number.
func CheckPreTriggerReadout(ev *EventType, unpacked *Digis, trig PreTriggerLogic) PreTriggerCheck {
	var check PreTriggerCheck
	readout := make(map[DetectorChannelID]Digis)
	for _, chamber := range unpacked.ByChamber() {
		readout[chamber.Chamber] = chamber.Digis
	}

	for _, chamber := range ev.Digis.ByChamber() {
		result := trig.Evaluate(ev, chamber.Chamber)
		got := readout[chamber.Chamber]

		for _, rule := range []struct {
			kind    DigiKind
			source  string
			present bool
		}{
			{KindWire, "ALCT", result.ALCT},
			{KindComparator, "CLCT", result.CLCT},
		} {
			nOriginal := chamber.Digis.CountKind(rule.kind)
			if nOriginal == 0 {
				continue
			}
			nUnpacked := got.CountKind(rule.kind)
			if rule.present {
				check.expect(nUnpacked > 0, "chamber %v has an %s in window but lost its %v digis", chamber.Chamber, rule.source, rule.kind)
			} else {
				check.expect(nUnpacked == 0, "chamber %v has no %s in window but kept %d %v digis", chamber.Chamber, rule.source, nUnpacked, rule.kind)
			}
			check.expect(nUnpacked <= nOriginal, "chamber %v has %d unpacked %v digis, %d originally", chamber.Chamber, nUnpacked, rule.kind, nOriginal)
		}
	}
	return check
}
