// Package event defines the canonical stream events every backend decoder
// produces, independent of the wire protocol they were decoded from.
package event

import "time"

// Type identifies the kind of a stream event.
type Type string

const (
	StreamStart      Type = "stream-start"
	ResponseMetadata Type = "response-metadata"
	TextStart        Type = "text-start"
	TextDelta        Type = "text-delta"
	TextEnd          Type = "text-end"
	ReasoningStart   Type = "reasoning-start"
	ReasoningDelta   Type = "reasoning-delta"
	ReasoningEnd     Type = "reasoning-end"
	ToolInputStart   Type = "tool-input-start"
	ToolInputDelta   Type = "tool-input-delta"
	ToolInputEnd     Type = "tool-input-end"
	ToolCall         Type = "tool-call"
	Finish           Type = "finish"
	Error            Type = "error"
	// Retry is emitted by the orchestrator before it waits to resend a
	// failed request. Decoders never produce it.
	Retry Type = "retry"
)

// FinishReason explains why a response ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool-calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
	FinishAborted   FinishReason = "aborted"
)

// Well-known provider metadata keys.
const (
	MetaSignature       = "signature"
	MetaRedactedData    = "redactedData"
	MetaItemID          = "itemId"
	MetaThoughtSig      = "thoughtSignature"
	MetaRawFinishReason = "rawFinishReason"
	MetaRetryReason     = "retryReason"
)

// Metadata is opaque provider data attached to an event.
type Metadata map[string]string

// Clone returns a copy of m, or nil when m is empty.
func (m Metadata) Clone() Metadata {
	if len(m) == 0 {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Usage holds token counts in the five canonical buckets. Input excludes
// cached tokens; Output includes reasoning tokens when the backend reports
// them that way, and Reasoning breaks them out separately.
type Usage struct {
	Input      int
	Output     int
	Reasoning  int
	CacheRead  int
	CacheWrite int
}

// Add returns the bucket-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		Input:      u.Input + o.Input,
		Output:     u.Output + o.Output,
		Reasoning:  u.Reasoning + o.Reasoning,
		CacheRead:  u.CacheRead + o.CacheRead,
		CacheWrite: u.CacheWrite + o.CacheWrite,
	}
}

// Total returns all tokens billed for the request.
func (u Usage) Total() int {
	return u.Input + u.Output + u.CacheRead + u.CacheWrite
}

// Event is a single canonical stream event. Which fields are populated
// depends on Type:
//
//   - stream-start: Warnings
//   - response-metadata: ResponseID, ModelID
//   - text-*, reasoning-*: ID, Delta; reasoning-end carries Metadata
//   - tool-input-*: ID, ToolName, Delta
//   - tool-call: ID, ToolName, Input, Metadata
//   - finish: Reason, Usage, Metadata
//   - error: Err
//   - retry: Attempt, Wait, Err; Metadata carries the retry reason
type Event struct {
	Type       Type
	ID         string
	Delta      string
	ToolName   string
	Input      string
	Warnings   []string
	ResponseID string
	ModelID    string
	Reason     FinishReason
	Usage      Usage
	Metadata   Metadata
	Err        error
	Attempt    int
	Wait       time.Duration
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Type == Finish
}
