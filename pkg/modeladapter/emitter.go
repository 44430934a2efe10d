package modeladapter

import (
	"encoding/json"
	"strings"

	"github.com/germanamz/switchboard/pkg/chats/event"
	"github.com/google/uuid"
)

// Emitter is the block state machine shared by every decoder. Adapters
// translate wire chunks into Emitter calls; the Emitter enforces the
// canonical ordering rules and queues the resulting events:
//
//   - stream-start comes first and response-metadata at most once after it;
//   - one text block and one reasoning block may be open at a time, and
//     opening a block of another kind closes them first;
//   - tool inputs are tracked independently by key until their terminal chunk;
//     an input cut short by finish, an error or an abort is closed with
//     tool-input-end alone unless its arguments already form valid JSON;
//   - a reasoning signature seen while reasoning is open lands on
//     reasoning-end, one seen later lands on finish;
//   - finish is emitted exactly once, after every open block is closed.
type Emitter struct {
	// NewID generates ids for blocks the wire protocol leaves unnamed.
	NewID func() string

	queue []event.Event

	started  bool
	metaSent bool
	finished bool

	textID string

	reasoningID   string
	reasoningMeta event.Metadata

	tools map[string]*toolInput
	order []string
	calls int

	finishMeta event.Metadata
}

type toolInput struct {
	id       string
	name     string
	args     strings.Builder
	metadata event.Metadata
	done     bool
}

// NewEmitter creates an Emitter that names anonymous blocks with UUIDs.
func NewEmitter() *Emitter {
	return &Emitter{
		NewID: uuid.NewString,
		tools: make(map[string]*toolInput),
	}
}

func (e *Emitter) push(ev event.Event) {
	e.queue = append(e.queue, ev)
}

// Pop removes and returns the oldest queued event.
func (e *Emitter) Pop() (event.Event, bool) {
	if len(e.queue) == 0 {
		return event.Event{}, false
	}
	ev := e.queue[0]
	e.queue[0] = event.Event{}
	e.queue = e.queue[1:]
	return ev, true
}

// Pending returns the number of queued events.
func (e *Emitter) Pending() int { return len(e.queue) }

// Finished reports whether finish has been queued.
func (e *Emitter) Finished() bool { return e.finished }

// ReasoningOpen reports whether a reasoning block is open.
func (e *Emitter) ReasoningOpen() bool { return e.reasoningID != "" }

// Calls returns the number of tool-call events emitted so far.
func (e *Emitter) Calls() int { return e.calls }

// Start queues stream-start with any non-fatal warnings. It runs once.
func (e *Emitter) Start(warnings ...string) {
	if e.started {
		return
	}
	e.started = true
	e.push(event.Event{Type: event.StreamStart, Warnings: warnings})
}

// Metadata queues response-metadata the first time an id or model is known.
func (e *Emitter) Metadata(responseID, modelID string) {
	if e.metaSent || e.finished || (responseID == "" && modelID == "") {
		return
	}
	e.Start()
	e.metaSent = true
	e.push(event.Event{Type: event.ResponseMetadata, ResponseID: responseID, ModelID: modelID})
}

// TextDelta appends to the open text block, opening one named id if needed.
// A different non-empty id closes the current text block first.
func (e *Emitter) TextDelta(id, delta string) {
	if delta == "" || e.finished {
		return
	}
	e.Start()
	e.EndReasoning(nil)

	if e.textID != "" && id != "" && id != e.textID {
		e.EndText()
	}
	if e.textID == "" {
		if id == "" {
			id = e.NewID()
		}
		e.textID = id
		e.push(event.Event{Type: event.TextStart, ID: id})
	}

	e.push(event.Event{Type: event.TextDelta, ID: e.textID, Delta: delta})
}

// EndText closes the open text block, if any.
func (e *Emitter) EndText() {
	if e.textID == "" {
		return
	}
	e.push(event.Event{Type: event.TextEnd, ID: e.textID})
	e.textID = ""
}

// StartReasoning opens a reasoning block even before any text arrives, for
// blocks that only carry opaque data.
func (e *Emitter) StartReasoning(id string) {
	if e.finished {
		return
	}
	e.Start()
	e.EndText()

	if e.reasoningID != "" && id != "" && id != e.reasoningID {
		e.EndReasoning(nil)
	}
	if e.reasoningID != "" {
		return
	}
	if id == "" {
		id = e.NewID()
	}
	e.reasoningID = id
	e.reasoningMeta = nil
	e.push(event.Event{Type: event.ReasoningStart, ID: id})
}

// ReasoningDelta appends to the open reasoning block, opening one if needed.
func (e *Emitter) ReasoningDelta(id, delta string) {
	if delta == "" || e.finished {
		return
	}
	e.StartReasoning(id)
	e.push(event.Event{Type: event.ReasoningDelta, ID: e.reasoningID, Delta: delta})
}

// ReasoningSignature captures an opaque continuation signature.
func (e *Emitter) ReasoningSignature(sig string) {
	e.ReasoningMeta(event.MetaSignature, sig)
}

// ReasoningMeta records opaque reasoning data. While a reasoning block is open
// it is attached to that block's end event; afterwards it is carried on finish
// so it is never lost.
func (e *Emitter) ReasoningMeta(key, value string) {
	if value == "" {
		return
	}
	if e.reasoningID != "" {
		if e.reasoningMeta == nil {
			e.reasoningMeta = event.Metadata{}
		}
		e.reasoningMeta[key] = value
		return
	}
	if e.finishMeta == nil {
		e.finishMeta = event.Metadata{}
	}
	e.finishMeta[key] = value
}

// EndReasoning closes the open reasoning block, merging extra into its metadata.
func (e *Emitter) EndReasoning(extra event.Metadata) {
	if e.reasoningID == "" {
		return
	}
	for k, v := range extra {
		if v == "" {
			continue
		}
		if e.reasoningMeta == nil {
			e.reasoningMeta = event.Metadata{}
		}
		e.reasoningMeta[k] = v
	}
	e.push(event.Event{Type: event.ReasoningEnd, ID: e.reasoningID, Metadata: e.reasoningMeta.Clone()})
	e.reasoningID = ""
	e.reasoningMeta = nil
}

// ToolStart opens a tool input tracked under key (a wire index or id). Open
// text and reasoning blocks are closed first. Starting a key twice is a no-op.
func (e *Emitter) ToolStart(key, id, name string) {
	if e.finished {
		return
	}
	if _, ok := e.tools[key]; ok {
		return
	}
	e.Start()
	e.EndText()
	e.EndReasoning(nil)

	if id == "" {
		id = e.NewID()
	}
	e.tools[key] = &toolInput{id: id, name: name}
	e.order = append(e.order, key)
	e.push(event.Event{Type: event.ToolInputStart, ID: id, ToolName: name})
}

// ToolOpen reports whether key names a started, unfinished tool input.
func (e *Emitter) ToolOpen(key string) bool {
	t, ok := e.tools[key]
	return ok && !t.done
}

// ToolDelta appends an argument fragment to the tool input under key.
func (e *Emitter) ToolDelta(key, fragment string) {
	t, ok := e.tools[key]
	if !ok || t.done || fragment == "" {
		return
	}
	t.args.WriteString(fragment)
	e.push(event.Event{Type: event.ToolInputDelta, ID: t.id, Delta: fragment})
}

// ToolMeta attaches opaque provider data to the eventual tool-call event.
func (e *Emitter) ToolMeta(key, k, v string) {
	t, ok := e.tools[key]
	if !ok || v == "" {
		return
	}
	if t.metadata == nil {
		t.metadata = event.Metadata{}
	}
	t.metadata[k] = v
}

// ToolEnd closes the tool input under key and emits the assembled tool-call.
// Empty arguments are normalized to an empty JSON object.
func (e *Emitter) ToolEnd(key string) {
	t, ok := e.tools[key]
	if !ok || t.done {
		return
	}
	t.done = true

	e.push(event.Event{Type: event.ToolInputEnd, ID: t.id})
	e.push(event.Event{Type: event.ToolCall, ID: t.id, ToolName: t.name, Input: t.input(), Metadata: t.metadata.Clone()})
	e.calls++
}

// dropTool closes the tool input under key without emitting a call.
func (e *Emitter) dropTool(key string) {
	t, ok := e.tools[key]
	if !ok || t.done {
		return
	}
	t.done = true
	e.push(event.Event{Type: event.ToolInputEnd, ID: t.id})
}

func (t *toolInput) input() string {
	input := t.args.String()
	if strings.TrimSpace(input) == "" {
		return "{}"
	}
	return input
}

// ToolCall emits a tool call that arrived whole in one chunk.
func (e *Emitter) ToolCall(id, name, args string, meta event.Metadata) {
	key := id
	if key == "" {
		key = e.NewID()
		id = key
	}
	e.ToolStart(key, id, name)
	e.ToolDelta(key, args)
	for k, v := range meta {
		e.ToolMeta(key, k, v)
	}
	e.ToolEnd(key)
}

// closeAll closes every open block. Wire families that never mark the end of
// a tool input rely on finish to close it, so open inputs with complete JSON
// become calls; anything else was cut short and is dropped.
func (e *Emitter) closeAll(keepCalls bool) {
	e.EndText()
	e.EndReasoning(nil)
	for _, key := range e.order {
		t := e.tools[key]
		if keepCalls && !t.done && json.Valid([]byte(t.input())) {
			e.ToolEnd(key)
			continue
		}
		e.dropTool(key)
	}
}

// Finish closes every open block and queues the finish event. Any emitted
// tool call turns a stop into tool-calls. It runs once.
func (e *Emitter) Finish(reason event.FinishReason, u event.Usage, meta event.Metadata) {
	if e.finished {
		return
	}
	e.Start()
	e.closeAll(true)

	if reason == "" {
		reason = event.FinishStop
	}
	if e.calls > 0 && reason != event.FinishError && reason != event.FinishAborted {
		reason = event.FinishToolCalls
	}

	merged := e.finishMeta.Clone()
	for k, v := range meta {
		if v == "" {
			continue
		}
		if merged == nil {
			merged = event.Metadata{}
		}
		merged[k] = v
	}

	e.finished = true
	e.push(event.Event{Type: event.Finish, Reason: reason, Usage: u, Metadata: merged})
}

// Fail ends the stream with an error event followed by an error finish.
// Open blocks are closed; partial tool inputs end without a call.
func (e *Emitter) Fail(err error) {
	if e.finished {
		return
	}
	e.Start()
	e.closeAll(false)

	e.finished = true
	e.push(event.Event{Type: event.Error, Err: err})
	e.push(event.Event{Type: event.Finish, Reason: event.FinishError, Metadata: e.finishMeta.Clone()})
}

// Abort ends the stream with an aborted finish.
func (e *Emitter) Abort() {
	if e.finished {
		return
	}
	e.Start()
	e.closeAll(false)

	e.finished = true
	e.push(event.Event{Type: event.Finish, Reason: event.FinishAborted, Metadata: e.finishMeta.Clone()})
}
