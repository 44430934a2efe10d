// Package anthropic implements the typed-event message stream family of the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/germanamz/switchboard/pkg/chats/content"
	"github.com/germanamz/switchboard/pkg/chats/event"
	"github.com/germanamz/switchboard/pkg/chats/role"
	"github.com/germanamz/switchboard/pkg/modeladapter"
	"github.com/germanamz/switchboard/pkg/modeladapter/transcript"
	"github.com/germanamz/switchboard/pkg/tools/toolbox"
)

// DefaultBaseURL is the Anthropic API base URL.
const DefaultBaseURL = "https://api.anthropic.com"

// APIVersion is sent as the anthropic-version header.
const APIVersion = "2023-06-01"

const (
	messagesPath     = "/v1/messages"
	defaultMaxTokens = 4096
)

// DefaultTransient returns the statuses Anthropic uses for transient
// failures, including its 529 overload status.
func DefaultTransient() modeladapter.StatusSet {
	return modeladapter.NewStatusSet(429, 500, 502, 503, 504, 529)
}

var _ modeladapter.Adapter = (*Adapter)(nil)

// Adapter implements modeladapter.Adapter for the Anthropic Messages API.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter for the given backend id. An empty baseURL selects
// DefaultBaseURL.
func New(provider, baseURL, apiKey string, client *http.Client) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	a := &Adapter{
		ModelAdapter: modeladapter.New(provider, baseURL, modeladapter.Auth{Key: apiKey, Header: "x-api-key"}, client),
	}
	a.Headers = map[string]string{
		"anthropic-version": APIVersion,
	}
	a.Transient = DefaultTransient()
	a.HeaderParser = modeladapter.ParseAnthropicRateLimitHeaders

	return a
}

// Encode builds the frozen wire request for p.
func (a *Adapter) Encode(p modeladapter.Prompt) (*modeladapter.Request, error) {
	turns, err := transcript.Normalize(p.Messages, p.Model)
	if err != nil {
		return nil, fmt.Errorf("%s: encode: %w", a.Provider, err)
	}

	req := apiRequest{
		Model:     p.Model.ID,
		MaxTokens: p.Model.OutputTokens(defaultMaxTokens),
		Stream:    true,
	}
	req.System, req.Messages = encodeTurns(turns)

	var warnings []string

	thinking := p.Model.Capabilities.Reasoning && p.Model.Reasoning.BudgetTokens > 0
	if thinking {
		budget := p.Model.Reasoning.BudgetTokens
		req.Thinking = &apiThinking{Type: "enabled", BudgetTokens: budget}
		if req.MaxTokens <= budget {
			req.MaxTokens = budget + defaultMaxTokens
		}
	}

	if p.Model.Temperature != 0 {
		switch {
		case !p.Model.Capabilities.Temperature:
			warnings = append(warnings, "temperature is not supported by this model and was omitted")
		case thinking:
			warnings = append(warnings, "temperature cannot be combined with extended thinking and was omitted")
		default:
			t := p.Model.Temperature
			req.Temperature = &t
		}
	}

	if len(p.Tools) > 0 {
		if p.Model.Capabilities.ToolCalls {
			if req.Tools, err = encodeTools(p.Tools); err != nil {
				return nil, fmt.Errorf("%s: encode: %w", a.Provider, err)
			}
		} else {
			warnings = append(warnings, "tools are not supported by this model and were omitted")
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", a.Provider, err)
	}

	return &modeladapter.Request{Model: p.Model, Path: messagesPath, Body: body, Warnings: warnings}, nil
}

// Stream sends req and decodes the message event stream.
func (a *Adapter) Stream(ctx context.Context, req *modeladapter.Request) (modeladapter.Streamer, error) {
	resp, err := a.OpenStream(ctx, req)
	if err != nil {
		return nil, err
	}

	return modeladapter.NewStream(ctx, newEventSource(resp), a.newDecoder(), req.Warnings...), nil
}

func encodeTools(tools []toolbox.Tool) ([]apiTool, error) {
	out := make([]apiTool, 0, len(tools))
	for _, t := range tools {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		out = append(out, apiTool{Name: t.Name, Description: t.Description, InputSchema: t.Schema()})
	}
	return out, nil
}

// encodeTurns hoists system text into the top-level system prompt and merges
// consecutive same-role turns, so all results for one assistant turn travel
// in a single user message.
func encodeTurns(turns []transcript.Turn) (string, []apiMessage) {
	var (
		system []string
		msgs   []apiMessage
	)

	push := func(r string, blocks []apiContent) {
		if len(blocks) == 0 {
			return
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == r {
			msgs[n-1].Content = append(msgs[n-1].Content, blocks...)
			return
		}
		msgs = append(msgs, apiMessage{Role: r, Content: blocks})
	}

	for _, t := range turns {
		switch t.Role {
		case role.System:
			system = append(system, t.Text())
		case role.User:
			push("user", userBlocks(t.Parts))
		case role.Assistant:
			push("assistant", assistantBlocks(t.Parts))
		case role.Tool:
			if res, ok := t.ToolResult(); ok {
				push("user", []apiContent{resultBlock(res)})
			}
		}
	}

	return strings.Join(system, "\n\n"), msgs
}

func userBlocks(parts []content.Part) []apiContent {
	var out []apiContent
	for _, p := range parts {
		switch v := p.(type) {
		case content.Text:
			out = append(out, apiContent{Type: "text", Text: v.Text})
		case content.File:
			out = append(out, fileBlock(v))
		}
	}
	return out
}

func fileBlock(f content.File) apiContent {
	typ := "document"
	if f.IsImage() {
		typ = "image"
	}
	if len(f.Data) == 0 {
		return apiContent{Type: typ, Source: &apiSource{Type: "url", URL: f.URL}}
	}
	return apiContent{Type: typ, Source: &apiSource{Type: "base64", MediaType: f.MediaType, Data: f.Base64()}}
}

// assistantBlocks replays reasoning only when it carries a signature or
// redacted payload: the API rejects unsigned thinking blocks.
func assistantBlocks(parts []content.Part) []apiContent {
	var out []apiContent
	for _, p := range parts {
		switch v := p.(type) {
		case content.Reasoning:
			if data := v.Metadata[event.MetaRedactedData]; data != "" {
				out = append(out, apiContent{Type: "redacted_thinking", Data: data})
			}
			if v.Signature != "" {
				out = append(out, apiContent{Type: "thinking", Thinking: &v.Text, Signature: v.Signature})
			}
		case content.Text:
			out = append(out, apiContent{Type: "text", Text: v.Text})
		case content.ToolCall:
			out = append(out, apiContent{Type: "tool_use", ID: v.ID, Name: v.Name, Input: json.RawMessage(v.Arguments)})
		case content.File:
			out = append(out, fileBlock(v))
		}
	}
	return out
}

func resultBlock(res content.ToolResult) apiContent {
	var blocks []apiContent
	if out := res.Output(); out != "" {
		blocks = append(blocks, apiContent{Type: "text", Text: out})
	}
	for _, f := range res.Media {
		if f.IsImage() {
			blocks = append(blocks, fileBlock(f))
		}
	}
	return apiContent{Type: "tool_result", ToolUseID: res.ToolCallID, Content: blocks, IsError: res.IsError}
}
