// Package chat holds the mutable conversation a session sends on each turn.
package chat

import (
	"github.com/germanamz/switchboard/pkg/chats/content"
	"github.com/germanamz/switchboard/pkg/chats/message"
	"github.com/germanamz/switchboard/pkg/chats/role"
)

// Chat is an ordered conversation. The zero value is ready to use. It is not
// safe for concurrent use; sessions serialize access.
type Chat struct {
	messages []message.Message
}

// New creates a Chat holding msgs.
func New(msgs ...message.Message) *Chat {
	return &Chat{messages: msgs}
}

// Append adds messages to the end of the conversation.
func (c *Chat) Append(msgs ...message.Message) {
	c.messages = append(c.messages, msgs...)
}

// Len returns the number of messages.
func (c *Chat) Len() int {
	return len(c.messages)
}

// At returns message i. It panics when i is out of range.
func (c *Chat) At(i int) message.Message {
	return c.messages[i]
}

// Messages returns a copy of the history, safe to hand to an encoder.
func (c *Chat) Messages() []message.Message {
	cp := make([]message.Message, len(c.messages))
	copy(cp, c.messages)
	return cp
}

// AddToolResults appends results as one tool message and moves each matching
// call to completed, or to error when its result is an error. Calls left
// pending are sent with an interruption placeholder instead of a result.
func (c *Chat) AddToolResults(results ...content.ToolResult) {
	if len(results) == 0 {
		return
	}

	states := make(map[string]content.ToolState, len(results))
	for _, r := range results {
		states[r.ToolCallID] = content.ToolCompleted
		if r.IsError {
			states[r.ToolCallID] = content.ToolError
		}
	}

	for i := range c.messages {
		var parts []content.Part

		for j, p := range c.messages[i].Parts {
			tc, ok := p.(content.ToolCall)
			if !ok {
				continue
			}
			st, ok := states[tc.ID]
			if !ok || tc.State == st {
				continue
			}
			if parts == nil {
				parts = append([]content.Part(nil), c.messages[i].Parts...)
			}
			tc.State = st
			parts[j] = tc
		}

		if parts != nil {
			c.messages[i].Parts = parts
		}
	}

	msg := make([]content.Part, len(results))
	for i, r := range results {
		msg[i] = r
	}
	c.Append(message.New("tool", role.Tool, msg...))
}

// RewriteToolResults passes every tool result in the first upto messages to
// fn and stores the result when fn reports a change. Parts are copied on
// write, so messages previously returned by Messages or At never change. It
// returns how many results were rewritten.
func (c *Chat) RewriteToolResults(upto int, fn func(content.ToolResult) (content.ToolResult, bool)) int {
	upto = min(upto, len(c.messages))
	changed := 0

	for i := 0; i < upto; i++ {
		var parts []content.Part

		for j, p := range c.messages[i].Parts {
			tr, ok := p.(content.ToolResult)
			if !ok {
				continue
			}
			tr, ok = fn(tr)
			if !ok {
				continue
			}
			if parts == nil {
				parts = append([]content.Part(nil), c.messages[i].Parts...)
			}
			parts[j] = tr
			changed++
		}

		if parts != nil {
			c.messages[i].Parts = parts
		}
	}

	return changed
}

// CompactToolResults marks every tool result older than the last keep
// messages as compacted. Encoders send compacted results as a fixed
// placeholder. It returns the number of results newly marked.
func (c *Chat) CompactToolResults(keep int) int {
	return c.RewriteToolResults(len(c.messages)-keep, func(tr content.ToolResult) (content.ToolResult, bool) {
		if tr.Compacted {
			return tr, false
		}
		tr.Compacted = true
		return tr, true
	})
}
