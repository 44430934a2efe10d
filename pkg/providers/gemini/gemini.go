// Package gemini implements the candidate-based generation stream family of
// the Google Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/germanamz/switchboard/pkg/chats/content"
	"github.com/germanamz/switchboard/pkg/chats/event"
	"github.com/germanamz/switchboard/pkg/chats/role"
	"github.com/germanamz/switchboard/pkg/modeladapter"
	"github.com/germanamz/switchboard/pkg/modeladapter/transcript"
	"github.com/germanamz/switchboard/pkg/tools/toolbox"
	"github.com/google/uuid"
)

// DefaultBaseURL is the Gemini API base URL.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// DefaultTransient returns the statuses Gemini uses for transient failures.
func DefaultTransient() modeladapter.StatusSet {
	return modeladapter.NewStatusSet(429, 500, 503, 504)
}

var _ modeladapter.Adapter = (*Adapter)(nil)

// Adapter implements modeladapter.Adapter for the Gemini API.
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
		ModelAdapter: modeladapter.New(provider, baseURL, modeladapter.Auth{Key: apiKey, Header: "x-goog-api-key"}, client),
	}
	a.Transient = DefaultTransient()

	// HeaderParser is not set: the Gemini API returns no rate limit
	// headers, so only the configured RPM limit throttles it.

	return a
}

// StreamPath returns the streaming endpoint for a model id.
func StreamPath(modelID string) string {
	return fmt.Sprintf("/v1beta/models/%s:streamGenerateContent?alt=sse", url.PathEscape(modelID))
}

// Encode builds the frozen wire request for p.
func (a *Adapter) Encode(p modeladapter.Prompt) (*modeladapter.Request, error) {
	turns, err := transcript.Normalize(p.Messages, p.Model)
	if err != nil {
		return nil, fmt.Errorf("%s: encode: %w", a.Provider, err)
	}

	req := apiRequest{
		GenerationConfig: generationConfig{MaxOutputTokens: p.Model.OutputTokens(0)},
	}
	req.SystemInstruction, req.Contents = encodeTurns(turns)

	var warnings []string

	if p.Model.Temperature != 0 {
		if p.Model.Capabilities.Temperature {
			t := p.Model.Temperature
			req.GenerationConfig.Temperature = &t
		} else {
			warnings = append(warnings, "temperature is not supported by this model and was omitted")
		}
	}

	if p.Model.Capabilities.Reasoning {
		tc := &thinkingConfig{IncludeThoughts: true}
		if b := p.Model.Reasoning.BudgetTokens; b > 0 {
			tc.ThinkingBudget = &b
		}
		req.GenerationConfig.ThinkingConfig = tc
	}

	if len(p.Tools) > 0 {
		if p.Model.Capabilities.ToolCalls {
			decls, err := encodeTools(p.Tools)
			if err != nil {
				return nil, fmt.Errorf("%s: encode: %w", a.Provider, err)
			}
			req.Tools = []apiToolSet{{FunctionDeclarations: decls}}
		} else {
			warnings = append(warnings, "tools are not supported by this model and were omitted")
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", a.Provider, err)
	}

	return &modeladapter.Request{Model: p.Model, Path: StreamPath(p.Model.ID), Body: body, Warnings: warnings}, nil
}

// Stream sends req and decodes the candidate stream.
func (a *Adapter) Stream(ctx context.Context, req *modeladapter.Request) (modeladapter.Streamer, error) {
	resp, err := a.OpenStream(ctx, req)
	if err != nil {
		return nil, err
	}

	return modeladapter.NewStream(ctx, modeladapter.NewSSESource(resp), a.newDecoder(), req.Warnings...), nil
}

func encodeTools(tools []toolbox.Tool) ([]apiFuncDecl, error) {
	decls := make([]apiFuncDecl, 0, len(tools))
	for _, t := range tools {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		decls = append(decls, apiFuncDecl{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  sanitizeSchema(t.Schema()),
		})
	}
	return decls, nil
}

// encodeTurns moves system text into systemInstruction and merges
// consecutive turns of the same role, since Gemini requires user and model
// turns to alternate. Function responses travel in user turns.
func encodeTurns(turns []transcript.Turn) (*apiContent, []apiContent) {
	var (
		system   *apiContent
		contents []apiContent
	)

	push := func(r string, parts []apiPart) {
		if len(parts) == 0 {
			return
		}
		if n := len(contents); n > 0 && contents[n-1].Role == r {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, apiContent{Role: r, Parts: parts})
	}

	for _, t := range turns {
		switch t.Role {
		case role.System:
			if system == nil {
				system = &apiContent{}
			}
			system.Parts = append(system.Parts, apiPart{Text: t.Text()})
		case role.User:
			push("user", userParts(t.Parts))
		case role.Assistant:
			push("model", modelParts(t.Parts))
		case role.Tool:
			if res, ok := t.ToolResult(); ok {
				push("user", resultParts(res))
			}
		}
	}

	return system, contents
}

func userParts(parts []content.Part) []apiPart {
	var out []apiPart
	for _, p := range parts {
		switch v := p.(type) {
		case content.Text:
			out = append(out, apiPart{Text: v.Text})
		case content.File:
			out = append(out, filePart(v))
		}
	}
	return out
}

func filePart(f content.File) apiPart {
	if f.Remote() {
		return apiPart{FileData: &apiFileData{MimeType: f.MediaType, FileURI: f.URL}}
	}
	return apiPart{InlineData: &apiBlob{MimeType: f.MediaType, Data: f.Base64()}}
}

// modelParts replays thoughts only when they carry a signature; unsigned
// thought text is ignored by the API.
func modelParts(parts []content.Part) []apiPart {
	var out []apiPart
	for _, p := range parts {
		switch v := p.(type) {
		case content.Reasoning:
			if v.Signature != "" {
				out = append(out, apiPart{Text: v.Text, Thought: true, ThoughtSignature: v.Signature})
			}
		case content.Text:
			out = append(out, apiPart{Text: v.Text})
		case content.File:
			out = append(out, filePart(v))
		case content.ToolCall:
			out = append(out, apiPart{
				FunctionCall:     &apiFunctionCall{Name: v.Name, Args: json.RawMessage(v.Arguments)},
				ThoughtSignature: v.Metadata[event.MetaThoughtSig],
			})
		}
	}
	return out
}

// resultParts renders a tool result as a functionResponse followed by any
// media it produced as inline data.
func resultParts(res content.ToolResult) []apiPart {
	out := []apiPart{{
		FunctionResponse: &apiFunctionResp{Name: res.Name, Response: marshalFunctionResponse(res.Output())},
	}}
	for _, f := range res.Media {
		out = append(out, filePart(f))
	}
	return out
}

// marshalFunctionResponse wraps tool result content into a JSON object
// suitable for Gemini's functionResponse.response field.
// If the content is already valid JSON, it wraps it as {"result": <json>}.
// Otherwise it wraps the plain string as {"result": "string"}.
func marshalFunctionResponse(output string) json.RawMessage {
	if output != "" && json.Valid([]byte(output)) {
		return json.RawMessage(`{"result":` + output + `}`)
	}
	b, _ := json.Marshal(output)
	return json.RawMessage(`{"result":` + string(b) + `}`)
}

// sanitizeSchema removes JSON Schema keywords that the Gemini API does not
// support (e.g. $schema, additionalProperties). It operates recursively so
// nested schemas (inside "properties", "items", etc.) are also cleaned.
func sanitizeSchema(raw json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}

	delete(obj, "$schema")
	delete(obj, "additionalProperties")

	if props, ok := obj["properties"]; ok {
		var propMap map[string]json.RawMessage
		if err := json.Unmarshal(props, &propMap); err == nil {
			for k, v := range propMap {
				propMap[k] = sanitizeSchema(v)
			}
			if b, err := json.Marshal(propMap); err == nil {
				obj["properties"] = b
			}
		}
	}

	if items, ok := obj["items"]; ok {
		obj["items"] = sanitizeSchema(items)
	}

	b, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return b
}

// generateCallID creates a unique tool call id. Gemini usually returns
// calls without ids, so they are synthesized.
func generateCallID(name string) string {
	return "call_" + name + "_" + uuid.NewString()
}
