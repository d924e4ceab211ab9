package cscraw

import "fmt"

// DetectorChannelID identifies a CSC layer, or a whole chamber when Layer is 0.
type DetectorChannelID struct {
	Endcap  int `json:"endcap"`
	Station int `json:"station"`
	Ring    int `json:"ring"`
	Chamber int `json:"chamber"`
	Layer   int `json:"layer"`
}

const (
	ringME1A = 4
	ringME11 = 1
)

func NewChamberID(endcap, station, ring, chamber int) DetectorChannelID {
	return DetectorChannelID{Endcap: endcap, Station: station, Ring: ring, Chamber: chamber}
}

func NewLayerID(endcap, station, ring, chamber, layer int) DetectorChannelID {
	return DetectorChannelID{Endcap: endcap, Station: station, Ring: ring, Chamber: chamber, Layer: layer}
}

// ChamberID drops the layer
func (d DetectorChannelID) ChamberID() DetectorChannelID {
	d.Layer = 0
	return d
}

// ChamberKey is the readout chamber: ME1/a digis are read out by ME1/1.
func (d DetectorChannelID) ChamberKey() DetectorChannelID {
	c := d.ChamberID()
	if c.Station == 1 && c.Ring == ringME1A {
		c.Ring = ringME11
	}
	return c
}

func (d DetectorChannelID) IsME1A() bool {
	return d.Station == 1 && d.Ring == ringME1A
}

// Compare orders by endcap, station, ring, chamber and layer.
func (d DetectorChannelID) Compare(o DetectorChannelID) int {
	switch {
	case d.Endcap != o.Endcap:
		return sign(d.Endcap - o.Endcap)
	case d.Station != o.Station:
		return sign(d.Station - o.Station)
	case d.Ring != o.Ring:
		return sign(d.Ring - o.Ring)
	case d.Chamber != o.Chamber:
		return sign(d.Chamber - o.Chamber)
	}
	return sign(d.Layer - o.Layer)
}

func (d DetectorChannelID) Less(o DetectorChannelID) bool {
	return d.Compare(o) < 0
}

// ChamberType returns 1 (ME1/a), 2 (ME1/b), 3 (ME1/2), 4 (ME1/3), 5 (ME2/1),
// 6 (ME2/2), 7 (ME3/1), 8 (ME3/2), 9 (ME4/1) or 10 (ME4/2). 0 if unknown.
func (d DetectorChannelID) ChamberType() int {
	if d.Station == 1 {
		switch d.Ring {
		case 4:
			return 1
		case 1:
			return 2
		case 2:
			return 3
		case 3:
			return 4
		}
		return 0
	}
	if d.Station < 2 || d.Station > 4 || d.Ring < 1 || d.Ring > 2 {
		return 0
	}
	return 5 + 2*(d.Station-2) + d.Ring - 1
}

// Raw ID bit layout (32 bits):
//
//	chamber [0:6) ring [6:9) station [9:12) endcap [12:14) layer [14:17)
const (
	rawChamberMask = 0x003F
	rawRingMask    = 0x0007
	rawStationMask = 0x0007
	rawEndcapMask  = 0x0003
	rawLayerMask   = 0x0007

	rawRingShift    = 6
	rawStationShift = 9
	rawEndcapShift  = 12
	rawLayerShift   = 14
)

func (d DetectorChannelID) RawID() uint32 {
	raw := uint32(d.Chamber) & rawChamberMask
	raw |= (uint32(d.Ring) & rawRingMask) << rawRingShift
	raw |= (uint32(d.Station) & rawStationMask) << rawStationShift
	raw |= (uint32(d.Endcap) & rawEndcapMask) << rawEndcapShift
	raw |= (uint32(d.Layer) & rawLayerMask) << rawLayerShift
	return raw
}

func IDFromRaw(raw uint32) DetectorChannelID {
	return DetectorChannelID{
		Chamber: int(raw & rawChamberMask),
		Ring:    int((raw >> rawRingShift) & rawRingMask),
		Station: int((raw >> rawStationShift) & rawStationMask),
		Endcap:  int((raw >> rawEndcapShift) & rawEndcapMask),
		Layer:   int((raw >> rawLayerShift) & rawLayerMask),
	}
}

func (d DetectorChannelID) String() string {
	sign := "+"
	if d.Endcap == 2 {
		sign = "-"
	}
	if d.Layer == 0 {
		return fmt.Sprintf("ME%s%d/%d/%02d", sign, d.Station, d.Ring, d.Chamber)
	}
	return fmt.Sprintf("ME%s%d/%d/%02d/L%d", sign, d.Station, d.Ring, d.Chamber, d.Layer)
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}
