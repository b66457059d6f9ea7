package bridge

import "figflow/pkg/transcript"

// EventKind discriminates Event.
type EventKind string

const (
	// KindTurn carries a durable transcript turn.
	KindTurn EventKind = "turn"
	// KindChunk carries a streamed token fragment. Best effort.
	KindChunk EventKind = "chunk"
	// KindStatus carries the run status. Best effort.
	KindStatus EventKind = "status"
)

// Chunk is a fragment of a worker's streamed reply.
type Chunk struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Status is the observable state of the bridge.
type Status struct {
	Prompt          string `json:"prompt,omitempty"`
	Running         bool   `json:"running"`
	WaitingForInput bool   `json:"waiting_for_input"`
	Cancelled       bool   `json:"cancelled"`
}

// Event is what subscribers receive. ID orders durable events and is zero for
// ephemeral ones.
type Event struct {
	Turn   *transcript.Turn `json:"turn,omitempty"`
	Chunk  *Chunk           `json:"chunk,omitempty"`
	Status *Status          `json:"status,omitempty"`
	Kind   EventKind        `json:"kind"`
	ID     int              `json:"id,omitempty"`
}

// Durable reports whether the event must reach every subscriber.
func (e Event) Durable() bool {
	return e.Kind == KindTurn
}
