// Package openai implements the chunked-delta chat completions family used
// by OpenAI and the many backends that mimic it. Vendor differences in how
// reasoning traces and continuation signatures travel are selected with a
// Dialect.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/germanamz/switchboard/pkg/chats/content"
	"github.com/germanamz/switchboard/pkg/chats/event"
	"github.com/germanamz/switchboard/pkg/chats/role"
	"github.com/germanamz/switchboard/pkg/modeladapter"
	"github.com/germanamz/switchboard/pkg/modeladapter/transcript"
	"github.com/germanamz/switchboard/pkg/providers/model"
	"github.com/germanamz/switchboard/pkg/tools/toolbox"
)

// DefaultBaseURL is the OpenAI API base URL.
const DefaultBaseURL = "https://api.openai.com"

// CompletionsPath is the default chat completions endpoint.
const CompletionsPath = "/v1/chat/completions"

// Dialect selects vendor-specific extensions of the chat completions format.
type Dialect string

const (
	// DialectOpenAI is plain chat completions; reasoning is never replayed.
	DialectOpenAI Dialect = "openai"
	// DialectOpenRouter streams reasoning as reasoning_details entries
	// carrying text, signatures and encrypted payloads.
	DialectOpenRouter Dialect = "openrouter"
	// DialectReasoningContent streams reasoning as a reasoning_content
	// string (DeepSeek, xAI and similar).
	DialectReasoningContent Dialect = "reasoning-content"
	// DialectGemini is Google's OpenAI-compatible endpoint, which attaches
	// thought signatures to tool calls under extra_content.
	DialectGemini Dialect = "gemini"
)

// DefaultTransient returns the statuses OpenAI uses for transient failures.
// OpenAI is the one backend known to answer 404 while a model is still
// being provisioned.
func DefaultTransient() modeladapter.StatusSet {
	return modeladapter.NewStatusSet(404, 429, 500, 502, 503, 504)
}

var _ modeladapter.Adapter = (*Adapter)(nil)

// Adapter implements modeladapter.Adapter for chat completions.
type Adapter struct {
	modeladapter.ModelAdapter
	Dialect Dialect
	Path    string
}

// New creates an Adapter for the given backend id. An empty baseURL selects
// DefaultBaseURL.
func New(provider, baseURL, apiKey string, client *http.Client) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	a := &Adapter{
		ModelAdapter: modeladapter.New(provider, baseURL, modeladapter.Auth{Key: apiKey}, client),
		Dialect:      DialectOpenAI,
		Path:         CompletionsPath,
	}
	a.Transient = DefaultTransient()
	a.HeaderParser = modeladapter.ParseOpenAIRateLimitHeaders

	return a
}

// Encode builds the frozen wire request for p.
func (a *Adapter) Encode(p modeladapter.Prompt) (*modeladapter.Request, error) {
	turns, err := transcript.Normalize(p.Messages, p.Model)
	if err != nil {
		return nil, fmt.Errorf("%s: encode: %w", a.Provider, err)
	}

	req := apiRequest{
		Model:         p.Model.ID,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
		Messages:      a.encodeTurns(turns),
	}

	var warnings []string

	if limit := p.Model.OutputTokens(0); limit > 0 {
		if a.Dialect == DialectOpenAI {
			req.MaxCompletionTokens = limit
		} else {
			req.MaxTokens = limit
		}
	}

	if p.Model.Temperature != 0 {
		if p.Model.Capabilities.Temperature {
			t := p.Model.Temperature
			req.Temperature = &t
		} else {
			warnings = append(warnings, "temperature is not supported by this model and was omitted")
		}
	}

	if p.Model.Capabilities.Reasoning && p.Model.Reasoning.Effort != "" {
		if a.Dialect == DialectOpenRouter {
			req.Reasoning = &reasoningConfig{Effort: p.Model.Reasoning.Effort}
		} else {
			req.ReasoningEffort = p.Model.Reasoning.Effort
		}
	}

	tools, w, err := encodeTools(p.Model, p.Tools)
	if err != nil {
		return nil, fmt.Errorf("%s: encode: %w", a.Provider, err)
	}
	req.Tools = tools
	warnings = append(warnings, w...)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", a.Provider, err)
	}

	return &modeladapter.Request{Model: p.Model, Path: a.Path, Body: body, Warnings: warnings}, nil
}

// Stream sends req and decodes the chunked response.
func (a *Adapter) Stream(ctx context.Context, req *modeladapter.Request) (modeladapter.Streamer, error) {
	resp, err := a.OpenStream(ctx, req)
	if err != nil {
		return nil, err
	}

	return modeladapter.NewStream(ctx, modeladapter.NewSSESource(resp), a.newDecoder(), req.Warnings...), nil
}

func encodeTools(m model.Model, tools []toolbox.Tool) ([]apiToolDef, []string, error) {
	if len(tools) == 0 {
		return nil, nil, nil
	}
	if !m.Capabilities.ToolCalls {
		return nil, []string{"tools are not supported by this model and were omitted"}, nil
	}

	defs := make([]apiToolDef, 0, len(tools))
	for _, t := range tools {
		if err := t.Validate(); err != nil {
			return nil, nil, err
		}
		defs = append(defs, apiToolDef{
			Type: "function",
			Function: apiToolDefFunc{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema(),
			},
		})
	}

	return defs, nil, nil
}

// encodeTurns renders normalized turns. Tool result media cannot travel in
// a tool message, so it is collected and sent as one user message right
// after the run of tool messages.
func (a *Adapter) encodeTurns(turns []transcript.Turn) []apiMessage {
	var (
		msgs  []apiMessage
		media []apiContentPart
	)

	flushMedia := func() {
		if len(media) == 0 {
			return
		}
		parts := append([]apiContentPart{{Type: "text", Text: "Attached output of the tool calls above:"}}, media...)
		msgs = append(msgs, apiMessage{Role: "user", Content: parts})
		media = nil
	}

	for _, t := range turns {
		if t.Role != role.Tool {
			flushMedia()
		}

		switch t.Role {
		case role.System:
			msgs = append(msgs, apiMessage{Role: "system", Content: t.Text()})
		case role.User:
			msgs = append(msgs, apiMessage{Role: "user", Content: userContent(t.Parts)})
		case role.Assistant:
			if m, ok := a.encodeAssistant(t); ok {
				msgs = append(msgs, m)
			}
		case role.Tool:
			res, ok := t.ToolResult()
			if !ok {
				continue
			}
			msgs = append(msgs, apiMessage{Role: "tool", ToolCallID: res.ToolCallID, Content: res.Output()})
			for _, f := range res.Media {
				media = append(media, filePart(f))
			}
		}
	}
	flushMedia()

	return msgs
}

// userContent uses the plain string form when there is only text.
func userContent(parts []content.Part) any {
	if len(parts) == 1 {
		if t, ok := parts[0].(content.Text); ok {
			return t.Text
		}
	}

	out := make([]apiContentPart, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case content.Text:
			out = append(out, apiContentPart{Type: "text", Text: v.Text})
		case content.File:
			out = append(out, filePart(v))
		}
	}
	return out
}

func filePart(f content.File) apiContentPart {
	if f.IsImage() {
		return apiContentPart{Type: "image_url", ImageURL: &apiImageURL{URL: f.DataURI()}}
	}
	return apiContentPart{Type: "file", File: &apiFile{Filename: f.Filename, FileData: f.DataURI()}}
}

func (a *Adapter) encodeAssistant(t transcript.Turn) (apiMessage, bool) {
	m := apiMessage{Role: "assistant"}

	var text, reasoning string
	for _, p := range t.Parts {
		switch v := p.(type) {
		case content.Text:
			text += v.Text
		case content.Reasoning:
			reasoning += v.Text
			if a.Dialect == DialectOpenRouter {
				m.ReasoningDetails = append(m.ReasoningDetails, reasoningDetails(v)...)
			}
		case content.ToolCall:
			tc := apiToolCall{
				ID:       v.ID,
				Type:     "function",
				Function: apiFunction{Name: v.Name, Arguments: v.Arguments},
			}
			if sig := v.Metadata[event.MetaThoughtSig]; sig != "" && a.Dialect == DialectGemini {
				tc.ExtraContent = &extraContent{Google: googleExtra{ThoughtSignature: sig}}
			}
			m.ToolCalls = append(m.ToolCalls, tc)
		}
	}

	if text != "" {
		m.Content = text
	}
	if a.Dialect == DialectReasoningContent && reasoning != "" {
		m.ReasoningContent = reasoning
	}

	if text == "" && len(m.ToolCalls) == 0 && m.ReasoningContent == "" && len(m.ReasoningDetails) == 0 {
		return m, false
	}
	return m, true
}

func reasoningDetails(r content.Reasoning) []reasoningDetail {
	var out []reasoningDetail
	if r.Text != "" || r.Signature != "" {
		out = append(out, reasoningDetail{Type: detailText, Text: r.Text, Signature: r.Signature})
	}
	if data := r.Metadata[event.MetaRedactedData]; data != "" {
		out = append(out, reasoningDetail{Type: detailEncrypted, Data: data})
	}
	return out
}
