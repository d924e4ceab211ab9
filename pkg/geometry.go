package cscraw

// ChamberSpec describes one station/ring of chambers.
type ChamberSpec struct {
	Chambers   int `db:"Chambers"`
	WireGroups int `db:"WireGroups"`
	Strips     int `db:"Strips"`
}

func (c ChamberSpec) CFEBs() int {
	return (c.Strips + StripsPerCFEB - 1) / StripsPerCFEB
}

type StationRing struct {
	Station int
	Ring    int
}

// Geometry is the detector-ID validity context. It is built once and only
// read afterwards, so it can be shared between workers.
type Geometry struct {
	MinEndcap  int
	MaxEndcap  int
	MinStation int
	MaxStation int
	NumLayers  int
	Specs      map[StationRing]ChamberSpec
	// Station/ring pairs equipped with GEM chambers
	GEMRings map[StationRing]bool
}

func DefaultGeometry() Geometry {
	return Geometry{
		MinEndcap:  1,
		MaxEndcap:  2,
		MinStation: 1,
		MaxStation: 4,
		NumLayers:  6,
		Specs: map[StationRing]ChamberSpec{
			{1, 1}: {Chambers: 36, WireGroups: 48, Strips: 64},
			{1, 2}: {Chambers: 36, WireGroups: 64, Strips: 80},
			{1, 3}: {Chambers: 36, WireGroups: 32, Strips: 64},
			{1, 4}: {Chambers: 36, WireGroups: 48, Strips: 48},
			{2, 1}: {Chambers: 18, WireGroups: 112, Strips: 80},
			{2, 2}: {Chambers: 36, WireGroups: 64, Strips: 80},
			{3, 1}: {Chambers: 18, WireGroups: 96, Strips: 80},
			{3, 2}: {Chambers: 36, WireGroups: 64, Strips: 80},
			{4, 1}: {Chambers: 18, WireGroups: 96, Strips: 80},
			{4, 2}: {Chambers: 36, WireGroups: 64, Strips: 80},
		},
		GEMRings: map[StationRing]bool{
			{1, 1}: true,
			{2, 1}: true,
		},
	}
}

func (g Geometry) Spec(id DetectorChannelID) (ChamberSpec, bool) {
	spec, ok := g.Specs[StationRing{id.Station, id.Ring}]
	return spec, ok
}

// Validate checks the detector coordinates of id.
func (g Geometry) Validate(id DetectorChannelID) error {
	if id.Endcap < g.MinEndcap || id.Endcap > g.MaxEndcap {
		return &GeometryError{ID: id, Field: "endcap", Value: id.Endcap, Reason: "out of range"}
	}
	if id.Station < g.MinStation || id.Station > g.MaxStation {
		return &GeometryError{ID: id, Field: "station", Value: id.Station, Reason: "out of range"}
	}
	spec, ok := g.Spec(id)
	if !ok {
		return &GeometryError{ID: id, Field: "ring", Value: id.Ring, Reason: "not present in station"}
	}
	if id.Chamber < 1 || id.Chamber > spec.Chambers {
		return &GeometryError{ID: id, Field: "chamber", Value: id.Chamber, Reason: "out of range"}
	}
	if id.Layer < 0 || id.Layer > g.NumLayers {
		return &GeometryError{ID: id, Field: "layer", Value: id.Layer, Reason: "out of range"}
	}
	return nil
}

// CFEBs returns the number of cathode front-end boards read out by the
// chamber key of id. ME1/1 reads ME1/b and ME1/a boards.
func (g Geometry) CFEBs(id DetectorChannelID) int {
	if id.Station == 1 && (id.Ring == ringME11 || id.Ring == ringME1A) {
		me1b := g.Specs[StationRing{1, ringME11}]
		me1a := g.Specs[StationRing{1, ringME1A}]
		return me1b.CFEBs() + me1a.CFEBs()
	}
	spec, _ := g.Spec(id)
	return spec.CFEBs()
}

// StripCFEB is the board reading strip inside the chamber key of id. ME1/a
// boards come after the ME1/b ones.
func (g Geometry) StripCFEB(id DetectorChannelID, strip int) int {
	cfeb := (strip - 1) / StripsPerCFEB
	if id.IsME1A() {
		cfeb += g.Specs[StationRing{1, ringME11}].CFEBs()
	}
	return cfeb
}

func layerDigi(g Geometry, kind DigiKind, id DetectorChannelID) error {
	if err := g.Validate(id); err != nil {
		return err
	}
	if id.Layer == 0 {
		return &GeometryError{ID: id, Kind: kind, Field: "layer", Value: 0, Reason: "layer digi needs a layer"}
	}
	return nil
}

func chamberDigi(g Geometry, kind DigiKind, id DetectorChannelID) error {
	if err := g.Validate(id); err != nil {
		return err
	}
	if id.Layer != 0 {
		return &GeometryError{ID: id, Kind: kind, Field: "layer", Value: id.Layer, Reason: "chamber digi must not have a layer"}
	}
	return nil
}

func inRange(id DetectorChannelID, kind DigiKind, field string, value, lo, hi int) error {
	if value < lo || value > hi {
		return &GeometryError{ID: id, Kind: kind, Field: field, Value: value, Reason: "out of range"}
	}
	return nil
}

// ValidateDigi checks the ID and the readout channel of a digi.
func (g Geometry) ValidateDigi(d Digi) error {
	id := d.DetID()
	spec, _ := g.Spec(id)
	switch digi := d.(type) {
	case WireDigi:
		if err := layerDigi(g, KindWire, id); err != nil {
			return err
		}
		return inRange(id, KindWire, "wire group", digi.WireGroup, 1, spec.WireGroups)
	case StripDigi:
		if err := layerDigi(g, KindStrip, id); err != nil {
			return err
		}
		if len(digi.ADC) > MaxStripSamples {
			return &GeometryError{ID: id, Kind: KindStrip, Field: "samples", Value: len(digi.ADC), Reason: "too many ADC samples"}
		}
		for _, adc := range digi.ADC {
			if err := inRange(id, KindStrip, "adc", adc, 0, maxADC); err != nil {
				return err
			}
		}
		return inRange(id, KindStrip, "strip", digi.Strip, 1, spec.Strips)
	case ComparatorDigi:
		if err := layerDigi(g, KindComparator, id); err != nil {
			return err
		}
		if err := inRange(id, KindComparator, "comparator", digi.Comparator, 0, 1); err != nil {
			return err
		}
		return inRange(id, KindComparator, "strip", digi.Strip, 1, spec.Strips)
	case ALCTDigi:
		if err := chamberDigi(g, KindALCT, id); err != nil {
			return err
		}
		return inRange(id, KindALCT, "key wire group", digi.KeyWG, 0, spec.WireGroups-1)
	case CLCTDigi:
		if err := chamberDigi(g, KindCLCT, id); err != nil {
			return err
		}
		if err := inRange(id, KindCLCT, "half strip", digi.Strip, 0, 2*StripsPerCFEB-1); err != nil {
			return err
		}
		return inRange(id, KindCLCT, "cfeb", digi.CFEB, 0, g.CFEBs(id)-1)
	case CLCTPreTriggerDigi:
		if err := chamberDigi(g, KindCLCTPreTrigger, id); err != nil {
			return err
		}
		if err := inRange(id, KindCLCTPreTrigger, "half strip", digi.Strip, 0, 2*StripsPerCFEB-1); err != nil {
			return err
		}
		return inRange(id, KindCLCTPreTrigger, "cfeb", digi.CFEB, 0, g.CFEBs(id)-1)
	case CorrelatedLCTDigi:
		if err := chamberDigi(g, KindCorrelatedLCT, id); err != nil {
			return err
		}
		if err := inRange(id, KindCorrelatedLCT, "key wire group", digi.KeyWG, 0, spec.WireGroups-1); err != nil {
			return err
		}
		return inRange(id, KindCorrelatedLCT, "half strip", digi.Strip, 0, 2*StripsPerCFEB*g.CFEBs(id)-1)
	case GEMPadClusterDigi:
		if err := chamberDigi(g, KindGEMPadCluster, id); err != nil {
			return err
		}
		if !g.GEMRings[StationRing{id.Station, id.Ring}] {
			return &GeometryError{ID: id, Kind: KindGEMPadCluster, Field: "ring", Value: id.Ring, Reason: "has no GEM chamber"}
		}
		return inRange(id, KindGEMPadCluster, "pads", len(digi.Pads), 1, MaxGEMClusterPad)
	}
	return nil
}
