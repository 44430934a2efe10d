// Package content defines the parts that make up a canonical message.
package content

import (
	"encoding/base64"
	"errors"
	"strings"
)

// Part is a piece of content within a message.
type Part interface {
	PartKind() string
}

// Ignorable is implemented by parts that can be kept in history for display
// while never being sent to a model.
type Ignorable interface {
	IsIgnored() bool
}

// Ignored reports whether p is flagged as display-only.
func Ignored(p Part) bool {
	ig, ok := p.(Ignorable)
	return ok && ig.IsIgnored()
}

// Text is a plain text content part.
type Text struct {
	Text    string
	Ignored bool
}

func (t Text) PartKind() string { return "text" }
func (t Text) IsIgnored() bool { return t.Ignored }

// File is a media attachment. Exactly one of Data or URL is normally set;
// URL may be a remote http(s) address or a data URI.
type File struct {
	MediaType string
	Filename  string
	URL       string
	Data      []byte
	Ignored   bool
}

func (f File) PartKind() string { return "file" }
func (f File) IsIgnored() bool  { return f.Ignored }

// IsImage reports whether the file has an image media type.
func (f File) IsImage() bool {
	return strings.HasPrefix(f.MediaType, "image/")
}

// Remote reports whether the file references an http(s) URL with no inline bytes.
func (f File) Remote() bool {
	return len(f.Data) == 0 && (strings.HasPrefix(f.URL, "http://") || strings.HasPrefix(f.URL, "https://"))
}

// Inline resolves data URIs into raw bytes. Files that already carry bytes are
// returned unchanged; remote files are returned unchanged as well.
func (f File) Inline() (File, error) {
	if len(f.Data) > 0 || !strings.HasPrefix(f.URL, "data:") {
		return f, nil
	}

	header, payload, ok := strings.Cut(strings.TrimPrefix(f.URL, "data:"), ",")
	if !ok {
		return f, errors.New("content: malformed data uri")
	}

	mediaType, isBase64 := strings.CutSuffix(header, ";base64")
	if mediaType != "" && f.MediaType == "" {
		f.MediaType = mediaType
	}

	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return f, err
		}
		f.Data = data
	} else {
		f.Data = []byte(payload)
	}

	f.URL = ""
	return f, nil
}

// Base64 returns the inline bytes encoded as standard base64.
func (f File) Base64() string {
	return base64.StdEncoding.EncodeToString(f.Data)
}

// DataURI returns the file as a base64 data URI, or its URL when it has no
// inline bytes.
func (f File) DataURI() string {
	if len(f.Data) == 0 {
		return f.URL
	}
	return "data:" + f.MediaType + ";base64," + f.Base64()
}

// ToolState is the persisted lifecycle state of a tool call.
type ToolState string

const (
	ToolPending   ToolState = "pending"
	ToolRunning   ToolState = "running"
	ToolCompleted ToolState = "completed"
	ToolError     ToolState = "error"
)

// Terminal reports whether the call reached a final state.
func (s ToolState) Terminal() bool {
	return s == ToolCompleted || s == ToolError
}

// ToolCall represents an assistant's request to invoke a tool.
// Arguments holds the raw JSON string to avoid unnecessary deserialization.
// Metadata carries provider-specific opaque data (e.g. Gemini thought signatures)
// that must survive round-trips through the conversation history.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	State     ToolState
	Metadata  map[string]string
	Ignored   bool
}

func (tc ToolCall) PartKind() string { return "tool_call" }
func (tc ToolCall) IsIgnored() bool  { return tc.Ignored }

// ToolResult holds the output of a tool invocation. A successful result
// carries Content, an optional structured JSON value, and optional media;
// a failed one sets IsError and puts the error text in Content.
// Compacted marks output that was pruned from long-term history.
type ToolResult struct {
	ToolCallID string
	Name       string
	Content    string
	Structured string
	Media      []File
	IsError    bool
	Compacted  bool
	Ignored    bool
}

func (tr ToolResult) PartKind() string { return "tool_result" }
func (tr ToolResult) IsIgnored() bool  { return tr.Ignored }

// Output returns the text that should be sent for the result, preferring the
// structured JSON value when there is no plain text.
func (tr ToolResult) Output() string {
	if tr.Content == "" && tr.Structured != "" {
		return tr.Structured
	}
	return tr.Content
}

// Reasoning is a private reasoning trace. Signature is an opaque continuation
// token that may only be replayed to the backend and model that issued it.
// Metadata holds further opaque values such as redacted or encrypted payloads.
type Reasoning struct {
	Text      string
	Signature string
	Metadata  map[string]string
	Ignored   bool
}

func (r Reasoning) PartKind() string { return "reasoning" }
func (r Reasoning) IsIgnored() bool  { return r.Ignored }

// Opaque reports whether the reasoning carries any backend-issued data.
func (r Reasoning) Opaque() bool {
	return r.Signature != "" || len(r.Metadata) > 0
}

// StepBoundary splits one assistant turn into sub-turns, one per tool round-trip.
type StepBoundary struct{}

func (StepBoundary) PartKind() string { return "step_boundary" }

// CompactionMarker records that earlier history was summarized.
type CompactionMarker struct {
	Auto bool
}

func (CompactionMarker) PartKind() string { return "compaction" }

// SubtaskMarker records a subtask the user launched directly.
type SubtaskMarker struct {
	Agent       string
	Description string
	Prompt      string
}

func (SubtaskMarker) PartKind() string { return "subtask" }
