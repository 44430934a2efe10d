// Package transcript turns a persisted conversation into provider-neutral
// turns ready for a wire encoder. It applies every encoding rule that does
// not depend on the wire family: dropping empty and failed turns, splitting
// assistant turns at step boundaries, pairing each tool call with exactly one
// result, replacing interrupted and compacted results with placeholders,
// expanding control markers, and stripping continuation data that belongs to
// another backend or model.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/germanamz/switchboard/pkg/chats/content"
	"github.com/germanamz/switchboard/pkg/chats/message"
	"github.com/germanamz/switchboard/pkg/chats/role"
	"github.com/germanamz/switchboard/pkg/providers/model"
)

// Fixed texts substituted for content that cannot be sent as-is.
const (
	InterruptedPlaceholder = "[Tool execution was interrupted]"
	CompactedPlaceholder   = "[Old tool result content cleared]"
	CompactionPrompt       = "What did we do so far?"
	SubtaskPrompt          = "The following tool was executed by the user"
)

// ErrMissingToolCallID is returned when a tool call has no id. Such a call
// can never be paired with a result, so nothing is sent.
var ErrMissingToolCallID = errors.New("transcript: tool call has no id")

// Turn is one wire message in provider-neutral form. Assistant turns hold
// text, reasoning, file and tool-call parts; tool turns hold exactly one
// ToolResult; user and system turns hold text and file parts. Consecutive
// text parts are already merged.
type Turn struct {
	Role  role.Role
	Parts []content.Part
}

// Text concatenates the turn's text parts.
func (t Turn) Text() string {
	var b strings.Builder
	for _, p := range t.Parts {
		if tx, ok := p.(content.Text); ok {
			b.WriteString(tx.Text)
		}
	}
	return b.String()
}

// ToolResult returns the result carried by a tool turn.
func (t Turn) ToolResult() (content.ToolResult, bool) {
	if len(t.Parts) != 1 {
		return content.ToolResult{}, false
	}
	tr, ok := t.Parts[0].(content.ToolResult)
	return tr, ok
}

// NoAttachmentNotice is the text sent in place of a file the target model
// cannot read.
func NoAttachmentNotice(f content.File) string {
	name := f.Filename
	if name == "" {
		name = "the attached file"
	}
	return fmt.Sprintf("ERROR: Cannot read %s (this model does not support file input). Inform the user.", name)
}

// Normalize applies the shared encoding rules to msgs for the target model.
// It is pure: the same input always yields the same turns.
func Normalize(msgs []message.Message, target model.Model) ([]Turn, error) {
	results := indexResults(msgs)

	var turns []Turn
	for i, m := range msgs {
		var err error
		switch m.Role {
		case role.System:
			turns = appendNonEmpty(turns, role.System, textOnly(m.Parts))
		case role.User:
			var parts []content.Part
			parts, err = userParts(m.Parts, target)
			turns = appendNonEmpty(turns, role.User, parts)
		case role.Assistant:
			turns, err = appendAssistant(turns, m, target, results)
		case role.Tool:
			// Results are emitted next to the call they answer.
		default:
			err = fmt.Errorf("transcript: unknown role %q", m.Role)
		}
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}

	return turns, nil
}

func indexResults(msgs []message.Message) map[string]content.ToolResult {
	out := make(map[string]content.ToolResult)
	for _, m := range msgs {
		for _, p := range m.Parts {
			if tr, ok := p.(content.ToolResult); ok && !tr.Ignored && tr.ToolCallID != "" {
				out[tr.ToolCallID] = tr
			}
		}
	}
	return out
}

func appendNonEmpty(turns []Turn, r role.Role, parts []content.Part) []Turn {
	if len(parts) == 0 {
		return turns
	}
	return append(turns, Turn{Role: r, Parts: parts})
}

// appendText merges text into a trailing text part.
func appendText(parts []content.Part, text string) []content.Part {
	if text == "" {
		return parts
	}
	if n := len(parts); n > 0 {
		if prev, ok := parts[n-1].(content.Text); ok {
			parts[n-1] = content.Text{Text: prev.Text + text}
			return parts
		}
	}
	return append(parts, content.Text{Text: text})
}

func textOnly(in []content.Part) []content.Part {
	var out []content.Part
	for _, p := range in {
		if t, ok := p.(content.Text); ok && !t.Ignored {
			out = appendText(out, t.Text)
		}
	}
	return out
}

func userParts(in []content.Part, target model.Model) ([]content.Part, error) {
	var out []content.Part
	for _, p := range in {
		if content.Ignored(p) {
			continue
		}
		switch v := p.(type) {
		case content.Text:
			out = appendText(out, v.Text)
		case content.File:
			f, err := prepareFile(v, target)
			if err != nil {
				return nil, err
			}
			out = appendFile(out, f, target)
		case content.CompactionMarker:
			out = appendText(out, CompactionPrompt)
		case content.SubtaskMarker:
			out = appendText(out, SubtaskPrompt)
		}
	}
	return out, nil
}

func prepareFile(f content.File, target model.Model) (content.File, error) {
	if !target.Capabilities.Attachments {
		return f, nil
	}
	inlined, err := f.Inline()
	if err != nil {
		return f, fmt.Errorf("transcript: file %q: %w", f.Filename, err)
	}
	return inlined, nil
}

func appendFile(parts []content.Part, f content.File, target model.Model) []content.Part {
	if !target.Capabilities.Attachments {
		return appendText(parts, NoAttachmentNotice(f))
	}
	return append(parts, f)
}

// keepAssistant decides whether a failed assistant turn is still sent: only
// user aborts that produced something beyond reasoning and step boundaries.
func keepAssistant(m message.Message) bool {
	if !m.Failed() {
		return true
	}
	if !m.Error.Aborted {
		return false
	}
	for _, p := range m.Parts {
		if content.Ignored(p) {
			continue
		}
		switch p.(type) {
		case content.StepBoundary, content.Reasoning:
			continue
		}
		return true
	}
	return false
}

func appendAssistant(turns []Turn, m message.Message, target model.Model, results map[string]content.ToolResult) ([]Turn, error) {
	if !keepAssistant(m) {
		return turns, nil
	}

	sameModel := m.ProducedBy(target.Provider, target.ID)

	var (
		parts []content.Part
		calls []content.ToolCall
	)

	flush := func() {
		turns = appendNonEmpty(turns, role.Assistant, parts)
		for _, tc := range calls {
			turns = append(turns, Turn{Role: role.Tool, Parts: []content.Part{pairResult(tc, results, target)}})
		}
		parts, calls = nil, nil
	}

	for _, p := range m.Parts {
		if content.Ignored(p) {
			continue
		}
		switch v := p.(type) {
		case content.StepBoundary:
			flush()
		case content.Text:
			parts = appendText(parts, v.Text)
		case content.Reasoning:
			if !sameModel {
				v.Signature = ""
				v.Metadata = nil
			}
			if v.Text == "" && !v.Opaque() {
				continue
			}
			parts = append(parts, v)
		case content.ToolCall:
			if v.ID == "" {
				return nil, fmt.Errorf("%w (tool %q)", ErrMissingToolCallID, v.Name)
			}
			if !sameModel {
				v.Metadata = nil
			}
			// Arguments cut short by a token limit would fail every later
			// encode; they go out as an empty object.
			if strings.TrimSpace(v.Arguments) == "" || !json.Valid([]byte(v.Arguments)) {
				v.Arguments = "{}"
			}
			parts = append(parts, v)
			calls = append(calls, v)
		case content.File:
			f, err := prepareFile(v, target)
			if err != nil {
				return nil, err
			}
			parts = appendFile(parts, f, target)
		}
	}
	flush()

	return turns, nil
}

// pairResult returns the single result sent after tc. Calls that never
// reached a terminal state, or whose result is missing, get the
// interruption placeholder; compacted output gets its own placeholder.
func pairResult(tc content.ToolCall, results map[string]content.ToolResult, target model.Model) content.ToolResult {
	interrupted := content.ToolResult{
		ToolCallID: tc.ID,
		Name:       tc.Name,
		Content:    InterruptedPlaceholder,
		IsError:    true,
	}

	if tc.State == content.ToolPending || tc.State == content.ToolRunning {
		return interrupted
	}

	res, ok := results[tc.ID]
	if !ok {
		return interrupted
	}

	res.Name = tc.Name
	res.Ignored = false

	if res.Compacted {
		return content.ToolResult{ToolCallID: tc.ID, Name: tc.Name, Content: CompactedPlaceholder, Compacted: true}
	}

	if len(res.Media) > 0 && !target.Capabilities.Attachments {
		notes := make([]string, 0, len(res.Media)+1)
		if res.Content != "" {
			notes = append(notes, res.Content)
		}
		for _, f := range res.Media {
			notes = append(notes, NoAttachmentNotice(f))
		}
		res.Content = strings.Join(notes, "\n")
		res.Media = nil
		return res
	}

	media := make([]content.File, 0, len(res.Media))
	for _, f := range res.Media {
		if inlined, err := f.Inline(); err == nil {
			f = inlined
		}
		media = append(media, f)
	}
	if len(media) > 0 {
		res.Media = media
	} else {
		res.Media = nil
	}

	return res
}
