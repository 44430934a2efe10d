// Package message defines the canonical Message type used in LLM conversations.
package message

import (
	"strings"

	"github.com/germanamz/switchboard/pkg/chats/content"
	"github.com/germanamz/switchboard/pkg/chats/role"
)

// TurnError records why an assistant turn failed. Aborted marks a
// user-initiated cancellation as opposed to a backend or transport failure.
type TurnError struct {
	Message string
	Aborted bool
}

// Message represents a single message in a conversation.
// Provider and Model record the backend and model that produced an assistant
// turn; they decide whether opaque continuation data may be replayed.
type Message struct {
	ID       string
	Sender   string
	Role     role.Role
	Parts    []content.Part
	Provider string
	Model    string
	Error    *TurnError
}

// New creates a message with the given sender, role, and content parts.
func New(sender string, r role.Role, parts ...content.Part) Message {
	return Message{
		Sender: sender,
		Role:   r,
		Parts:  parts,
	}
}

// NewText creates a message with a single Text content part.
func NewText(sender string, r role.Role, text string) Message {
	return New(sender, r, content.Text{Text: text})
}

// TextContent concatenates the text of all non-ignored Text parts in the message.
func (m Message) TextContent() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(content.Text); ok && !t.Ignored {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// ToolCalls returns all ToolCall parts in the message.
func (m Message) ToolCalls() []content.ToolCall {
	var calls []content.ToolCall
	for _, p := range m.Parts {
		if tc, ok := p.(content.ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// ProducedBy reports whether the message was generated by the given backend and model.
func (m Message) ProducedBy(provider, model string) bool {
	return m.Provider != "" && m.Provider == provider && m.Model == model
}

// Failed reports whether the turn ended in an error or was aborted.
func (m Message) Failed() bool {
	return m.Error != nil
}
