package cscraw

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowPreTrigger(t *testing.T) {
	trigger := NewWindowPreTrigger(preTriggerConfig())

	tests := []struct {
		name  string
		digis Digis
		want  PreTriggerResult
	}{
		{"no digis", Digis{}, PreTriggerResult{}},
		{"pre-trigger at central BX", Digis{PreTriggers: []CLCTPreTriggerDigi{{ID: me11_03, CFEB: 2, BX: 7}}},
			PreTriggerResult{Fired: true, BX: 7, PreTrigger: true, CFEBs: 1 << 2}},
		{"window lower edge", Digis{PreTriggers: []CLCTPreTriggerDigi{{ID: me11_03, BX: 4}}},
			PreTriggerResult{Fired: true, BX: 4, PreTrigger: true, CFEBs: 1}},
		{"below window", Digis{PreTriggers: []CLCTPreTriggerDigi{{ID: me11_03, BX: 3}}}, PreTriggerResult{}},
		{"window upper edge", Digis{PreTriggers: []CLCTPreTriggerDigi{{ID: me11_03, BX: 8}}},
			PreTriggerResult{Fired: true, BX: 8, PreTrigger: true, CFEBs: 1}},
		{"above window", Digis{PreTriggers: []CLCTPreTriggerDigi{{ID: me11_03, BX: 9}}}, PreTriggerResult{}},
		{"earliest pre-trigger wins", Digis{PreTriggers: []CLCTPreTriggerDigi{
			{ID: me11_03, CFEB: 3, BX: 8},
			{ID: me11_03, CFEB: 1, BX: 5},
		}}, PreTriggerResult{Fired: true, BX: 5, PreTrigger: true, CFEBs: 1<<1 | 1<<3}},
		{"other chamber", Digis{PreTriggers: []CLCTPreTriggerDigi{{ID: me21_05, BX: 7}}}, PreTriggerResult{}},
		{"ALCT in window", Digis{ALCTs: []ALCTDigi{{ID: me11_03, BX: 3}}},
			PreTriggerResult{Fired: true, BX: 3, ALCT: true}},
		{"ALCT out of window", Digis{ALCTs: []ALCTDigi{{ID: me11_03, BX: 10}}}, PreTriggerResult{}},
		{"CLCT in window", Digis{CLCTs: []CLCTDigi{{ID: me11_03, BX: 9}}},
			PreTriggerResult{Fired: true, BX: 9, CLCT: true}},
		{"late pre-trigger does not hide the ALCT", Digis{
			PreTriggers: []CLCTPreTriggerDigi{{ID: me11_03, BX: 20}},
			ALCTs:       []ALCTDigi{{ID: me11_03, BX: 3}},
		}, PreTriggerResult{Fired: true, BX: 3, ALCT: true}},
		{"every source", Digis{
			PreTriggers: []CLCTPreTriggerDigi{{ID: me11_03, CFEB: 4, BX: 6}},
			ALCTs:       []ALCTDigi{{ID: me11_03, BX: 2}},
			CLCTs:       []CLCTDigi{{ID: me11_03, BX: 7}},
		}, PreTriggerResult{Fired: true, BX: 2, ALCT: true, CLCT: true, PreTrigger: true, CFEBs: 1 << 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &EventType{Digis: tt.digis}
			assert.Equal(t, tt.want, trigger.Evaluate(ev, me11_03))
		})
	}
}

func TestPreTriggerME1AUsesChamberKey(t *testing.T) {
	trigger := NewWindowPreTrigger(preTriggerConfig())
	ev := &EventType{Digis: Digis{PreTriggers: []CLCTPreTriggerDigi{{ID: me11_03, CFEB: 5, BX: 7}}}}

	result := trigger.Evaluate(ev, layer(me1a_03, 2))
	assert.True(t, result.Fired)
	assert.True(t, result.HasCFEB(5))
	assert.False(t, result.HasCFEB(4))
	assert.False(t, result.HasCFEB(-1))
	assert.False(t, result.HasCFEB(16))
}

func TestStaticPreTrigger(t *testing.T) {
	trigger := StaticPreTrigger{me11_03: {Fired: true, BX: 7, PreTrigger: true, CFEBs: 1}}

	assert.True(t, trigger.Evaluate(nil, layer(me11_03, 4)).Fired)
	assert.True(t, trigger.Evaluate(nil, me1a_03).Fired)
	assert.False(t, trigger.Evaluate(nil, me21_05).Fired)
}
