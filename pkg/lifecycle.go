package cscraw

import "fmt"

type Stage int

const (
	StageIdle Stage = iota
	StageReceiving
	StageSerializing
	StageDeserializing
	StageEmitting
	StageRejected
)

var stageStrings = []string{
	"Idle",
	"Receiving",
	"Serializing",
	"Deserializing",
	"Emitting",
	"Rejected",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageStrings) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageStrings[s]
}

type Transition struct {
	Stage  Stage
	Reason string
}

// Lifecycle records the stages one event went through in a packer or an
// unpacker.
type Lifecycle struct {
	transitions []Transition
}

func (l *Lifecycle) reset() {
	l.transitions = l.transitions[:0]
}

func (l *Lifecycle) enter(stage Stage) {
	l.transitions = append(l.transitions, Transition{Stage: stage})
}

func (l *Lifecycle) reject(err error) {
	l.transitions = append(l.transitions, Transition{Stage: StageRejected, Reason: err.Error()})
}

// Current is the last stage entered, Idle before the first event.
func (l *Lifecycle) Current() Stage {
	if len(l.transitions) == 0 {
		return StageIdle
	}
	return l.transitions[len(l.transitions)-1].Stage
}

// Transitions returns a copy of the stages of the last event.
func (l *Lifecycle) Transitions() []Transition {
	return append([]Transition(nil), l.transitions...)
}

func (l *Lifecycle) Stages() []Stage {
	stages := make([]Stage, len(l.transitions))
	for i, t := range l.transitions {
		stages[i] = t.Stage
	}
	return stages
}
