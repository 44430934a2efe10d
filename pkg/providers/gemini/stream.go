package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/germanamz/switchboard/pkg/chats/event"
	"github.com/germanamz/switchboard/pkg/modeladapter"
	"github.com/tidwall/gjson"
)

// decoder maps generation chunks onto the Emitter. Each chunk carries
// whole parts of the first candidate; usage metadata is cumulative, so the
// last report wins.
type decoder struct {
	adapter *Adapter
	usage   event.Usage
	reason  event.FinishReason
	raw     string
}

func (a *Adapter) newDecoder() *decoder {
	return &decoder{adapter: a}
}

func (d *decoder) HandleFrame(f modeladapter.Frame, em *modeladapter.Emitter) error {
	if e := gjson.GetBytes(f.Data, "error"); e.Exists() && e.Type != gjson.Null {
		return d.adapter.StreamError(f.Data)
	}

	var chunk apiChunk
	if err := json.Unmarshal(f.Data, &chunk); err != nil {
		return fmt.Errorf("%s: decode chunk: %w", d.adapter.Provider, err)
	}

	em.Metadata(chunk.ResponseID, chunk.ModelVersion)

	if u := chunk.UsageMetadata; u != nil {
		d.usage = convertUsage(*u)
	}

	for _, cand := range chunk.Candidates {
		if cand.Index != 0 {
			continue
		}
		for _, p := range cand.Content.Parts {
			d.handlePart(p, em)
		}
		if cand.FinishReason != "" {
			d.reason, d.raw = mapFinishReason(cand.FinishReason)
		}
	}

	return nil
}

// handlePart routes one part. A thought signature belongs to the reasoning
// that preceded the part: it is recorded before the part closes the block.
func (d *decoder) handlePart(p apiPart, em *modeladapter.Emitter) {
	switch {
	case p.Thought:
		em.ReasoningDelta("", p.Text)
		em.ReasoningSignature(p.ThoughtSignature)

	case p.FunctionCall != nil:
		em.ReasoningSignature(p.ThoughtSignature)

		id := p.FunctionCall.ID
		if id == "" {
			id = generateCallID(p.FunctionCall.Name)
		}
		args := string(p.FunctionCall.Args)
		if args == "null" {
			args = ""
		}

		var meta event.Metadata
		if p.ThoughtSignature != "" {
			meta = event.Metadata{event.MetaThoughtSig: p.ThoughtSignature}
		}
		em.ToolCall(id, p.FunctionCall.Name, args, meta)

	default:
		em.ReasoningSignature(p.ThoughtSignature)
		em.TextDelta("", p.Text)
	}
}

func (d *decoder) Done(em *modeladapter.Emitter) {
	var meta event.Metadata
	if d.raw != "" {
		meta = event.Metadata{event.MetaRawFinishReason: d.raw}
	}
	em.Finish(d.reason, d.usage, meta)
}

func mapFinishReason(r string) (event.FinishReason, string) {
	switch r {
	case "STOP":
		return event.FinishStop, ""
	case "MAX_TOKENS":
		return event.FinishLength, ""
	default:
		return event.FinishStop, r
	}
}

// convertUsage reports thought tokens as part of the output and separately,
// and moves cached prompt tokens out of the input bucket.
func convertUsage(u apiUsageMeta) event.Usage {
	return event.Usage{
		Input:     max(u.PromptTokenCount-u.CachedContentTokenCount, 0),
		Output:    u.CandidatesTokenCount + u.ThoughtsTokenCount,
		Reasoning: u.ThoughtsTokenCount,
		CacheRead: u.CachedContentTokenCount,
	}
}
