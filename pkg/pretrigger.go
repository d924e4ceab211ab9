package cscraw

// PreTriggerResult is the readout decision for one chamber. Each source is
// judged on its own window: an ALCT reads out the wires, a CLCT the
// comparators and a CLCT pre-trigger the strips of its CFEB.
type PreTriggerResult struct {
	Fired bool
	// Earliest BX of any source in its window
	BX         int
	ALCT       bool
	CLCT       bool
	PreTrigger bool
	// Bit i set when CFEB i saw a pre-trigger
	CFEBs uint16
}

func (r PreTriggerResult) HasCFEB(cfeb int) bool {
	return cfeb >= 0 && cfeb < 16 && CheckBit(r.CFEBs, uint16(cfeb))
}

type PreTriggerLogic interface {
	Evaluate(ev *EventType, chamber DetectorChannelID) PreTriggerResult
}

// WindowPreTrigger fires a chamber when an ALCT, a CLCT or a CLCT
// pre-trigger of the chamber falls inside its window around the central BX.
type WindowPreTrigger struct {
	Config PreTriggerConfig
}

func NewWindowPreTrigger(cfg PreTriggerConfig) *WindowPreTrigger {
	return &WindowPreTrigger{Config: cfg}
}

func (p *WindowPreTrigger) Evaluate(ev *EventType, chamber DetectorChannelID) PreTriggerResult {
	cfg := p.Config
	result := PreTriggerResult{}
	key := chamber.ChamberKey()

	for _, alct := range ev.Digis.ALCTs {
		if alct.ID.ChamberKey() == key && cfg.ALCTWindow.Contains(alct.BX-cfg.ALCTCentralBX) {
			result.ALCT = true
			result.fire(alct.BX)
		}
	}
	for _, clct := range ev.Digis.CLCTs {
		if clct.ID.ChamberKey() == key && cfg.CLCTWindow.Contains(clct.BX-cfg.CLCTCentralBX) {
			result.CLCT = true
			result.fire(clct.BX)
		}
	}
	for _, pt := range ev.Digis.PreTriggers {
		if pt.ID.ChamberKey() != key || !cfg.PreTriggerWindow.Contains(pt.BX-cfg.CLCTCentralBX) {
			continue
		}
		result.PreTrigger = true
		result.fire(pt.BX)
		if pt.CFEB >= 0 && pt.CFEB < 16 {
			result.CFEBs |= 1 << uint(pt.CFEB)
		}
	}
	return result
}

// fire keeps the earliest BX that fired.
func (r *PreTriggerResult) fire(bx int) {
	if !r.Fired || bx < r.BX {
		r.BX = bx
	}
	r.Fired = true
}

// StaticPreTrigger replays a fixed decision per chamber key. Chambers not in
// the map do not fire.
type StaticPreTrigger map[DetectorChannelID]PreTriggerResult

func (s StaticPreTrigger) Evaluate(_ *EventType, chamber DetectorChannelID) PreTriggerResult {
	return s[chamber.ChamberKey()]
}
