package event

import (
	"strings"

	"github.com/germanamz/switchboard/pkg/chats/content"
	"github.com/germanamz/switchboard/pkg/chats/message"
	"github.com/germanamz/switchboard/pkg/chats/role"
)

// Collector folds a canonical event sequence back into assistant content
// parts. Each text and reasoning block becomes one part; each tool-call event
// becomes a pending ToolCall. Multiple responses in one collector (e.g. across
// retries) are separated by step boundaries. The zero value is ready to use.
type Collector struct {
	parts     []content.Part
	text      map[string]*strings.Builder
	reasoning map[string]*strings.Builder
	index     map[string]int
	started   bool

	ResponseID string
	ModelID    string
	Reason     FinishReason
	Usage      Usage
	Err        error
}

// Add records one event.
func (c *Collector) Add(e Event) {
	if c.text == nil {
		c.text = map[string]*strings.Builder{}
		c.reasoning = map[string]*strings.Builder{}
		c.index = map[string]int{}
	}

	switch e.Type {
	case StreamStart:
		if c.started && len(c.parts) > 0 {
			c.parts = append(c.parts, content.StepBoundary{})
		}
		c.started = true
	case ResponseMetadata:
		c.ResponseID, c.ModelID = e.ResponseID, e.ModelID
	case TextStart:
		c.text[e.ID] = &strings.Builder{}
		c.index["t:"+e.ID] = len(c.parts)
		c.parts = append(c.parts, content.Text{})
	case TextDelta:
		if b, ok := c.text[e.ID]; ok {
			b.WriteString(e.Delta)
			c.parts[c.index["t:"+e.ID]] = content.Text{Text: b.String()}
		}
	case ReasoningStart:
		c.reasoning[e.ID] = &strings.Builder{}
		c.index["r:"+e.ID] = len(c.parts)
		c.parts = append(c.parts, content.Reasoning{})
	case ReasoningDelta:
		if b, ok := c.reasoning[e.ID]; ok {
			b.WriteString(e.Delta)
			i := c.index["r:"+e.ID]
			r := c.parts[i].(content.Reasoning)
			r.Text = b.String()
			c.parts[i] = r
		}
	case ReasoningEnd:
		if i, ok := c.index["r:"+e.ID]; ok {
			r := c.parts[i].(content.Reasoning)
			applyReasoningMeta(&r, e.Metadata)
			c.parts[i] = r
		}
	case ToolCall:
		c.parts = append(c.parts, content.ToolCall{
			ID:        e.ID,
			Name:      e.ToolName,
			Arguments: e.Input,
			State:     content.ToolPending,
			Metadata:  map[string]string(e.Metadata.Clone()),
		})
	case Finish:
		c.Reason = e.Reason
		c.Usage = c.Usage.Add(e.Usage)
		if sig := e.Metadata[MetaSignature]; sig != "" {
			c.attachLateSignature(sig)
		}
	case Error:
		c.Err = e.Err
	}
}

// attachLateSignature stores a signature that arrived after its reasoning
// block closed on the last reasoning part, creating one if needed.
func (c *Collector) attachLateSignature(sig string) {
	for i := len(c.parts) - 1; i >= 0; i-- {
		if r, ok := c.parts[i].(content.Reasoning); ok {
			if r.Signature == "" {
				r.Signature = sig
				c.parts[i] = r
			}
			return
		}
	}
	c.parts = append([]content.Part{content.Reasoning{Signature: sig}}, c.parts...)
}

func applyReasoningMeta(r *content.Reasoning, meta Metadata) {
	for k, v := range meta {
		if k == MetaSignature {
			r.Signature = v
			continue
		}
		if r.Metadata == nil {
			r.Metadata = map[string]string{}
		}
		r.Metadata[k] = v
	}
}

// Parts returns the collected parts, dropping empty text blocks.
func (c *Collector) Parts() []content.Part {
	out := make([]content.Part, 0, len(c.parts))
	for _, p := range c.parts {
		if t, ok := p.(content.Text); ok && t.Text == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Message builds an assistant message attributed to provider and model.
// Failed or aborted responses are recorded as turn errors.
func (c *Collector) Message(provider, model string) message.Message {
	m := message.New("", role.Assistant, c.Parts()...)
	m.Provider = provider
	m.Model = model

	switch c.Reason {
	case FinishAborted:
		m.Error = &message.TurnError{Message: "aborted", Aborted: true}
	case FinishError:
		msg := "request failed"
		if c.Err != nil {
			msg = c.Err.Error()
		}
		m.Error = &message.TurnError{Message: msg}
	}

	return m
}
