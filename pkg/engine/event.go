package engine

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/germanamz/switchboard/pkg/chats/event"
)

// EventKind identifies the type of engine event.
type EventKind string

const (
	EventRunStart EventKind = "run_start"
	EventRetry    EventKind = "retry"
	EventRunEnd   EventKind = "run_end"
	EventTurnEnd  EventKind = "turn_end"
)

// Event is an immutable notification of engine activity. Subscribers see
// run lifecycle only; stream content is delivered by the Run itself.
//
// Data depends on Kind:
//
//   - run_start: nil
//   - retry: RetryInfo
//   - run_end: RunSummary
//   - turn_end: message.Message (the assistant reply)
type Event struct {
	Kind      EventKind
	RunID     string
	SessionID string
	Model     string
	Timestamp time.Time
	Data      any
}

// RetryInfo describes a scheduled retry.
type RetryInfo struct {
	Attempt int
	Wait    time.Duration
	Reason  string
}

// RunSummary describes how a run ended.
type RunSummary struct {
	Reason   event.FinishReason
	Usage    event.Usage
	Attempts int
	Err      error
}

// Subscription is one subscriber's view of an EventBus. C is closed by
// Unsubscribe.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	kinds   map[EventKind]bool
	dropped atomic.Int64
}

// Dropped returns how many events were discarded because C was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

func (s *Subscription) wants(k EventKind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// EventBus fans run lifecycle events out to subscribers. Publishing never
// blocks a run. It is safe for concurrent use.
type EventBus struct {
	mu   sync.RWMutex
	subs []*Subscription
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a subscriber with a buffer of size bufSize. When kinds
// are given only those are delivered. Callers must Unsubscribe when done.
func (b *EventBus) Subscribe(bufSize int, kinds ...EventKind) *Subscription {
	ch := make(chan Event, bufSize)
	sub := &Subscription{C: ch, ch: ch}
	if len(kinds) > 0 {
		sub.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub
}

// Unsubscribe detaches sub and closes its channel. Repeated calls are no-ops.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.Index(b.subs, sub)
	if i < 0 {
		return
	}
	b.subs = slices.Delete(b.subs, i, i+1)
	close(sub.ch)
}

// Publish delivers e to every interested subscriber, in subscription order.
// A full subscriber misses the event and its drop count grows.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.wants(e.Kind) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}
