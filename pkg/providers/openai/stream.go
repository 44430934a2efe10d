package openai

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/germanamz/switchboard/pkg/chats/event"
	"github.com/germanamz/switchboard/pkg/modeladapter"
	"github.com/tidwall/gjson"
)

// decoder turns chat completion chunks into canonical events. The finish
// reason and usage arrive in separate chunks, so finish is only emitted at
// [DONE] or when the body ends.
type decoder struct {
	adapter *Adapter
	reason  event.FinishReason
	raw     string
	usage   event.Usage
}

func (a *Adapter) newDecoder() *decoder {
	return &decoder{adapter: a}
}

func (d *decoder) HandleFrame(f modeladapter.Frame, em *modeladapter.Emitter) error {
	if modeladapter.IsDone(f.Data) {
		d.Done(em)
		return nil
	}

	if e := gjson.GetBytes(f.Data, "error"); e.Exists() && e.Type != gjson.Null {
		return d.adapter.StreamError(f.Data)
	}

	var c chunk
	if err := json.Unmarshal(f.Data, &c); err != nil {
		return fmt.Errorf("%s: decode chunk: %w", d.adapter.Provider, err)
	}

	em.Metadata(c.ID, c.Model)

	if c.Usage != nil {
		d.usage = convertUsage(*c.Usage)
	}

	for _, ch := range c.Choices {
		if ch.Index != 0 {
			continue
		}
		d.handleDelta(ch.Delta, em)
		if ch.FinishReason != "" {
			d.reason, d.raw = mapFinishReason(ch.FinishReason)
		}
	}

	return nil
}

// handleDelta processes reasoning before content and tool calls so a
// signature sharing a chunk with the first content token still lands on
// reasoning-end.
func (d *decoder) handleDelta(delta chunkDelta, em *modeladapter.Emitter) {
	em.ReasoningDelta("", delta.ReasoningContent)
	if len(delta.ReasoningDetails) == 0 {
		em.ReasoningDelta("", delta.Reasoning)
	}

	for _, rd := range delta.ReasoningDetails {
		switch rd.Type {
		case detailText:
			em.ReasoningDelta("", rd.Text)
			em.ReasoningSignature(rd.Signature)
		case detailSummary:
			em.ReasoningDelta("", rd.Summary)
		case detailEncrypted:
			if !em.ReasoningOpen() {
				em.StartReasoning("")
			}
			em.ReasoningMeta(event.MetaRedactedData, rd.Data)
		}
	}

	em.TextDelta("", delta.Content)

	for i, tc := range delta.ToolCalls {
		idx := i
		if tc.Index != nil {
			idx = *tc.Index
		}
		key := strconv.Itoa(idx)

		if tc.ExtraContent != nil && tc.ExtraContent.Google.ThoughtSignature != "" {
			sig := tc.ExtraContent.Google.ThoughtSignature
			if em.ReasoningOpen() {
				em.ReasoningSignature(sig)
			}
			em.ToolStart(key, tc.ID, tc.Function.Name)
			em.ToolMeta(key, event.MetaThoughtSig, sig)
		} else {
			em.ToolStart(key, tc.ID, tc.Function.Name)
		}

		em.ToolDelta(key, tc.Function.Arguments)
	}
}

func (d *decoder) Done(em *modeladapter.Emitter) {
	var meta event.Metadata
	if d.raw != "" {
		meta = event.Metadata{event.MetaRawFinishReason: d.raw}
	}
	em.Finish(d.reason, d.usage, meta)
}

// mapFinishReason maps a wire finish reason to the canonical set. Unknown
// values become stop and are returned raw for metadata.
func mapFinishReason(r string) (event.FinishReason, string) {
	switch r {
	case "stop":
		return event.FinishStop, ""
	case "tool_calls", "function_call":
		return event.FinishToolCalls, ""
	case "length":
		return event.FinishLength, ""
	default:
		return event.FinishStop, r
	}
}

// convertUsage reports Input without the cached prompt tokens, which are
// counted under CacheRead instead.
func convertUsage(u chunkUsage) event.Usage {
	cached := u.PromptTokensDetails.CachedTokens
	return event.Usage{
		Input:      max(u.PromptTokens-cached-u.PromptTokensDetails.CacheWriteTokens, 0),
		Output:     u.CompletionTokens,
		Reasoning:  u.CompletionTokensDetails.ReasoningTokens,
		CacheRead:  cached,
		CacheWrite: u.PromptTokensDetails.CacheWriteTokens,
	}
}
