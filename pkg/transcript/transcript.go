package transcript

import "sync"

// Transcript is an append-only, ordered sequence of turns. Appended turns are
// never mutated or removed; Seq is assigned at append time.
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn
}

// New creates an empty transcript.
func New() *Transcript {
	return &Transcript{}
}

// Append assigns the next sequence number to t, stores it and returns the stored copy.
func (tr *Transcript) Append(t Turn) Turn {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	t.Seq = len(tr.turns)
	tr.turns = append(tr.turns, t)
	return t
}

// Len returns the number of turns.
func (tr *Transcript) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.turns)
}

// LastFrom returns the most recent turn from source.
func (tr *Transcript) LastFrom(source string) (Turn, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	for i := len(tr.turns) - 1; i >= 0; i-- {
		if tr.turns[i].Source == source {
			return tr.turns[i], true
		}
	}
	return Turn{}, false
}

// Turns returns a copy of every turn in order.
func (tr *Transcript) Turns() []Turn {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	out := make([]Turn, len(tr.turns))
	copy(out, tr.turns)
	return out
}
