package cscraw

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

var (
	me11_03 = NewChamberID(1, 1, 1, 3)
	me1a_03 = NewChamberID(1, 1, 4, 3)
	me21_05 = NewChamberID(2, 2, 1, 5)
)

func layer(chamber DetectorChannelID, l int) DetectorChannelID {
	chamber.Layer = l
	return chamber
}

var equateEmpty = cmpopts.EquateEmpty()

func diffDigis(want, got Digis) string {
	return cmp.Diff(want, got, equateEmpty)
}

// wireEvent has a single wire digi in ME+1/1/03 layer 2.
func wireEvent() *EventType {
	return &EventType{
		RunNumber: 1,
		EventID:   42,
		Digis: Digis{
			Wires: []WireDigi{{ID: layer(me11_03, 2), WireGroup: 10, BX: 7}},
		},
	}
}

// fullEvent has every packed kind, ME1/a strips and a second chamber.
func fullEvent() *EventType {
	ev := &EventType{
		RunNumber: 316000,
		EventID:   7,
		Digis: Digis{
			Wires: []WireDigi{
				{ID: layer(me11_03, 2), WireGroup: 10, BX: 7},
				{ID: layer(me11_03, 5), WireGroup: 47, BX: 8},
				{ID: layer(me21_05, 6), WireGroup: 100, BX: -2},
			},
			Strips: []StripDigi{
				{ID: layer(me11_03, 1), Strip: 20, BX: 6, ADC: []int{10, 200, 4095, 0}},
				{ID: layer(me11_03, 1), Strip: 40, BX: 6, ADC: []int{3, 4}},
				{ID: layer(me1a_03, 3), Strip: 5, BX: 6, ADC: []int{1, 2}},
			},
			Comparators: []ComparatorDigi{
				{ID: layer(me11_03, 3), Strip: 33, Comparator: 1, BX: 6},
				{ID: layer(me21_05, 1), Strip: 80, Comparator: 0, BX: 9},
			},
			ALCTs: []ALCTDigi{
				{ID: me11_03, Valid: true, Quality: 3, Accel: 1, KeyWG: 20, BX: 3, TrkNumber: 1, FullBX: 1234},
			},
			CLCTs: []CLCTDigi{
				{ID: me11_03, Valid: true, Quality: 5, Pattern: 10, StripType: 1, Bend: 3, Strip: 12, CFEB: 2, BX: 7, TrkNumber: 1, FullBX: 99, CompCode: -1},
			},
			LCTs: []CorrelatedLCTDigi{
				{ID: me11_03, TrkNumber: 1, Valid: true, Quality: 12, KeyWG: 20, Strip: 100, Pattern: 8, Bend: 1, BX: 8, MPCLink: 1, BX0: 1, CSCID: 3},
			},
			GEMClusters: []GEMPadClusterDigi{
				{ID: me11_03, Roll: 2, BX: 4, Pads: []int{5, 6}},
			},
		},
	}
	ev.Digis.Sort()
	return ev
}

func newPacker(t *testing.T, cfg PackerConfig, trig PreTriggerLogic) *Packer {
	t.Helper()
	packer, err := NewPacker(cfg, DefaultGeometry(), trig, nil)
	require.NoError(t, err)
	return packer
}

func packEverything(version uint16) PackerConfig {
	return PackerConfig{FormatVersion: version, PackEverything: true}
}

func preTriggerConfig() PreTriggerConfig {
	return DefaultConfiguration().PreTrigger
}
