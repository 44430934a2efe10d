package anthropic

import (
	"encoding/json"
	"fmt"
	"strconv"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/germanamz/switchboard/pkg/chats/event"
	"github.com/germanamz/switchboard/pkg/modeladapter"
)

type blockKind int

const (
	blockText blockKind = iota + 1
	blockReasoning
	blockTool
)

// decoder maps message stream events onto the Emitter. Content blocks are
// addressed by index; usage is split between message_start (input side)
// and message_delta (output side).
type decoder struct {
	adapter *Adapter
	blocks  map[int64]blockKind
	usage   event.Usage
	reason  event.FinishReason
	raw     string
}

func (a *Adapter) newDecoder() *decoder {
	return &decoder{adapter: a, blocks: map[int64]blockKind{}}
}

func blockID(index int64) string { return strconv.FormatInt(index, 10) }

func (d *decoder) HandleFrame(f modeladapter.Frame, em *modeladapter.Emitter) error {
	var ev sdk.MessageStreamEventUnion
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		return fmt.Errorf("%s: decode event: %w", d.adapter.Provider, err)
	}

	switch ev.Type {
	case "error":
		return d.adapter.StreamError(f.Data)
	case "ping":
		return nil
	}

	switch v := ev.AsAny().(type) {
	case sdk.MessageStartEvent:
		em.Metadata(v.Message.ID, string(v.Message.Model))
		u := v.Message.Usage
		d.usage.Input = int(u.InputTokens)
		d.usage.CacheRead = int(u.CacheReadInputTokens)
		d.usage.CacheWrite = int(u.CacheCreationInputTokens)
		d.usage.Output = int(u.OutputTokens)

	case sdk.ContentBlockStartEvent:
		d.startBlock(v, em)

	case sdk.ContentBlockDeltaEvent:
		id := blockID(v.Index)
		switch delta := v.Delta.AsAny().(type) {
		case sdk.TextDelta:
			em.TextDelta(id, delta.Text)
		case sdk.ThinkingDelta:
			em.ReasoningDelta(id, delta.Thinking)
		case sdk.SignatureDelta:
			em.ReasoningSignature(delta.Signature)
		case sdk.InputJSONDelta:
			em.ToolDelta(id, delta.PartialJSON)
		}

	case sdk.ContentBlockStopEvent:
		switch d.blocks[v.Index] {
		case blockText:
			em.EndText()
		case blockReasoning:
			em.EndReasoning(nil)
		case blockTool:
			em.ToolEnd(blockID(v.Index))
		}
		delete(d.blocks, v.Index)

	case sdk.MessageDeltaEvent:
		u := v.Usage
		d.usage.Output = max(d.usage.Output, int(u.OutputTokens))
		d.usage.Input = max(d.usage.Input, int(u.InputTokens))
		d.usage.CacheRead = max(d.usage.CacheRead, int(u.CacheReadInputTokens))
		d.usage.CacheWrite = max(d.usage.CacheWrite, int(u.CacheCreationInputTokens))
		if v.Delta.StopReason != "" {
			d.reason, d.raw = mapStopReason(v.Delta.StopReason)
		}

	case sdk.MessageStopEvent:
		d.Done(em)
	}

	return nil
}

func (d *decoder) startBlock(v sdk.ContentBlockStartEvent, em *modeladapter.Emitter) {
	id := blockID(v.Index)

	switch b := v.ContentBlock.AsAny().(type) {
	case sdk.TextBlock:
		d.blocks[v.Index] = blockText
		em.TextDelta(id, b.Text)
	case sdk.ThinkingBlock:
		d.blocks[v.Index] = blockReasoning
		em.StartReasoning(id)
		em.ReasoningDelta(id, b.Thinking)
		em.ReasoningSignature(b.Signature)
	case sdk.RedactedThinkingBlock:
		d.blocks[v.Index] = blockReasoning
		em.StartReasoning(id)
		em.ReasoningMeta(event.MetaRedactedData, b.Data)
	case sdk.ToolUseBlock:
		d.blocks[v.Index] = blockTool
		em.ToolStart(id, b.ID, b.Name)
	}
}

func (d *decoder) Done(em *modeladapter.Emitter) {
	var meta event.Metadata
	if d.raw != "" {
		meta = event.Metadata{event.MetaRawFinishReason: d.raw}
	}
	em.Finish(d.reason, d.usage, meta)
}

func mapStopReason(r sdk.StopReason) (event.FinishReason, string) {
	switch r {
	case sdk.StopReasonEndTurn, sdk.StopReasonStopSequence:
		return event.FinishStop, ""
	case sdk.StopReasonToolUse:
		return event.FinishToolCalls, ""
	case sdk.StopReasonMaxTokens:
		return event.FinishLength, ""
	default:
		return event.FinishStop, string(r)
	}
}
