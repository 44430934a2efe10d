// Package usage accumulates token usage reported by finished streams.
package usage

import (
	"sort"
	"sync"

	"github.com/germanamz/switchboard/pkg/chats/event"
)

// Tracker keeps running usage totals for one backend, overall and per model
// id. The zero value is ready to use and it is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	calls   int
	last    event.Usage
	total   event.Usage
	byModel map[string]event.Usage
}

// Add records the usage of one finished stream of model.
func (t *Tracker) Add(model string, u event.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.byModel == nil {
		t.byModel = make(map[string]event.Usage)
	}

	t.calls++
	t.last = u
	t.total = t.total.Add(u)
	t.byModel[model] = t.byModel[model].Add(u)
}

// Last returns the most recently recorded usage; false before any Add.
func (t *Tracker) Last() (event.Usage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.last, t.calls > 0
}

// Total returns the bucket-wise sum of everything recorded.
func (t *Tracker) Total() event.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.total
}

// Model returns the bucket-wise sum recorded for one model id.
func (t *Tracker) Model(id string) event.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.byModel[id]
}

// Models lists the model ids with recorded usage, sorted.
func (t *Tracker) Models() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.byModel))
	for id := range t.byModel {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns how many streams were recorded.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.calls
}

// Reset forgets everything recorded so far.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls = 0
	t.last = event.Usage{}
	t.total = event.Usage{}
	t.byModel = nil
}
