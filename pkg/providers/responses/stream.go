package responses

import (
	"encoding/json"
	"fmt"

	"github.com/germanamz/switchboard/pkg/chats/event"
	"github.com/germanamz/switchboard/pkg/modeladapter"
	sdk "github.com/openai/openai-go/responses"
)

// decoder maps typed response events onto the Emitter. Output items are
// addressed by item id; function calls are keyed by item id too, since
// argument deltas only name the item.
type decoder struct {
	adapter *Adapter
	argsFed map[string]bool
}

func (a *Adapter) newDecoder() *decoder {
	return &decoder{adapter: a, argsFed: map[string]bool{}}
}

func (d *decoder) HandleFrame(f modeladapter.Frame, em *modeladapter.Emitter) error {
	var ev sdk.ResponseStreamEventUnion
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		return fmt.Errorf("%s: decode event: %w", d.adapter.Provider, err)
	}

	switch ev.Type {
	case "response.created", "response.in_progress":
		em.Metadata(ev.Response.ID, string(ev.Response.Model))

	case "response.output_item.added":
		d.itemAdded(ev.Item, em)

	case "response.output_text.delta", "response.refusal.delta":
		em.TextDelta(ev.ItemID, ev.Delta.OfString)

	case "response.reasoning_summary_part.added":
		if ev.SummaryIndex > 0 {
			em.ReasoningDelta(ev.ItemID, "\n\n")
		}

	case "response.reasoning_summary_text.delta", "response.reasoning_text.delta":
		em.ReasoningDelta(ev.ItemID, ev.Delta.OfString)

	case "response.function_call_arguments.delta":
		d.argsFed[ev.ItemID] = true
		em.ToolDelta(ev.ItemID, ev.Delta.OfString)

	case "response.output_item.done":
		d.itemDone(ev.Item, em)

	case "response.completed", "response.incomplete":
		em.Metadata(ev.Response.ID, string(ev.Response.Model))
		reason, raw := finishReason(ev)
		var meta event.Metadata
		if raw != "" {
			meta = event.Metadata{event.MetaRawFinishReason: raw}
		}
		em.Finish(reason, convertUsage(ev.Response.Usage), meta)

	case "response.failed":
		e := ev.Response.Error
		return d.streamError(string(e.Code), e.Message)

	case "error":
		return d.streamError(ev.Code, ev.Message)
	}

	return nil
}

func (d *decoder) itemAdded(item sdk.ResponseOutputItemUnion, em *modeladapter.Emitter) {
	switch item.Type {
	case "reasoning":
		em.StartReasoning(item.ID)
		em.ReasoningMeta(event.MetaItemID, item.ID)
	case "function_call":
		em.ToolStart(item.ID, item.CallID, item.Name)
		em.ToolMeta(item.ID, event.MetaItemID, item.ID)
		if item.Arguments != "" {
			d.argsFed[item.ID] = true
			em.ToolDelta(item.ID, item.Arguments)
		}
	}
}

func (d *decoder) itemDone(item sdk.ResponseOutputItemUnion, em *modeladapter.Emitter) {
	switch item.Type {
	case "reasoning":
		// Encrypted content only arrives with the finished item. If text or a
		// tool already closed the block it is carried on finish instead.
		em.ReasoningSignature(item.EncryptedContent)
		em.EndReasoning(nil)
	case "message":
		em.EndText()
	case "function_call":
		em.ToolStart(item.ID, item.CallID, item.Name)
		if !d.argsFed[item.ID] {
			em.ToolDelta(item.ID, item.Arguments)
		}
		em.ToolEnd(item.ID)
	}
}

// streamError reports an in-stream failure in the shape of an HTTP error
// envelope so the retry policy can classify it.
func (d *decoder) streamError(code, msg string) error {
	body, err := json.Marshal(apiStreamError{Type: "error", Error: apiErrorDetail{Code: code, Message: msg}})
	if err != nil {
		return fmt.Errorf("%s: stream error: %s", d.adapter.Provider, msg)
	}
	return d.adapter.StreamError(body)
}

func (d *decoder) Done(em *modeladapter.Emitter) {
	em.Finish(event.FinishStop, event.Usage{}, nil)
}

func finishReason(ev sdk.ResponseStreamEventUnion) (event.FinishReason, string) {
	if ev.Type == "response.completed" {
		return event.FinishStop, ""
	}
	switch r := ev.Response.IncompleteDetails.Reason; r {
	case "max_output_tokens":
		return event.FinishLength, ""
	case "":
		return event.FinishStop, "incomplete"
	default:
		return event.FinishStop, r
	}
}

// convertUsage moves cached tokens out of the input bucket.
func convertUsage(u sdk.ResponseUsage) event.Usage {
	cached := int(u.InputTokensDetails.CachedTokens)
	return event.Usage{
		Input:     max(int(u.InputTokens)-cached, 0),
		Output:    int(u.OutputTokens),
		Reasoning: int(u.OutputTokensDetails.ReasoningTokens),
		CacheRead: cached,
	}
}
