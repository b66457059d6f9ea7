package bridge

import "sync"

// maxPendingEphemeral caps undelivered chunk/status events per subscriber;
// beyond it they are dropped. Durable events are never dropped.
const maxPendingEphemeral = 256

// Subscription is one observer's private delivery queue. Publishing appends to
// an unbounded in-memory queue, so a slow or abandoned reader never blocks the
// publisher; a pump goroutine feeds the queue into C in order.
type Subscription struct {
	cond      *sync.Cond
	out       chan Event
	done      chan struct{}
	bridge    *Bridge
	queue     []Event
	id        uint64
	ephemeral int
	dropped   int
	mu        sync.Mutex
	closed    bool
}

func newSubscription(b *Bridge, id uint64, backlog []Event) *Subscription {
	s := &Subscription{
		bridge: b,
		id:     id,
		out:    make(chan Event),
		done:   make(chan struct{}),
		queue:  backlog,
	}
	s.cond = sync.NewCond(&s.mu)
	for _, ev := range backlog {
		if !ev.Durable() {
			s.ephemeral++
		}
	}
	go s.pump()
	return s
}

// C delivers events in publish order. It is closed after Close.
func (s *Subscription) C() <-chan Event {
	return s.out
}

// ID identifies the subscription.
func (s *Subscription) ID() uint64 {
	return s.id
}

// Close unsubscribes. Undelivered events are discarded.
func (s *Subscription) Close() {
	s.bridge.Unsubscribe(s)
}

// Dropped counts ephemeral events discarded because the queue was full.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !ev.Durable() {
		if s.ephemeral >= maxPendingEphemeral {
			s.dropped++
			return
		}
		s.ephemeral++
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
	s.cond.Broadcast()
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		if !ev.Durable() {
			s.ephemeral--
		}
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
