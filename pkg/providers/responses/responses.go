// Package responses implements the typed-event response stream family of the
// OpenAI Responses API, over server-sent events or a WebSocket.
package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/germanamz/switchboard/pkg/chats/content"
	"github.com/germanamz/switchboard/pkg/chats/event"
	"github.com/germanamz/switchboard/pkg/chats/role"
	"github.com/germanamz/switchboard/pkg/modeladapter"
	"github.com/germanamz/switchboard/pkg/modeladapter/transcript"
	"github.com/germanamz/switchboard/pkg/providers/model"
	"github.com/germanamz/switchboard/pkg/providers/openai"
	"github.com/germanamz/switchboard/pkg/tools/toolbox"
)

// Path is the responses endpoint, for both transports.
const Path = "/v1/responses"

// Transport selects how requests reach the backend.
type Transport string

const (
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "websocket"
)

var _ modeladapter.Adapter = (*Adapter)(nil)

// Adapter implements modeladapter.Adapter for the Responses API.
type Adapter struct {
	modeladapter.ModelAdapter
	Transport Transport
}

// New creates an Adapter for the given backend id. An empty baseURL selects
// openai.DefaultBaseURL.
func New(provider, baseURL, apiKey string, client *http.Client) *Adapter {
	if baseURL == "" {
		baseURL = openai.DefaultBaseURL
	}

	a := &Adapter{
		ModelAdapter: modeladapter.New(provider, baseURL, modeladapter.Auth{Key: apiKey}, client),
		Transport:    TransportSSE,
	}
	a.Transient = openai.DefaultTransient()
	a.HeaderParser = modeladapter.ParseOpenAIRateLimitHeaders

	return a
}

// Encode builds the frozen wire request for p. Requests are stateless:
// nothing is stored server-side, so reasoning continues through encrypted
// content replayed from the transcript.
func (a *Adapter) Encode(p modeladapter.Prompt) (*modeladapter.Request, error) {
	turns, err := transcript.Normalize(p.Messages, p.Model)
	if err != nil {
		return nil, fmt.Errorf("%s: encode: %w", a.Provider, err)
	}

	req := apiRequest{
		Model:           p.Model.ID,
		Stream:          true,
		MaxOutputTokens: p.Model.OutputTokens(0),
	}
	req.Instructions, req.Input = encodeTurns(turns)

	var warnings []string

	if p.Model.Temperature != 0 {
		if p.Model.Capabilities.Temperature {
			t := p.Model.Temperature
			req.Temperature = &t
		} else {
			warnings = append(warnings, "temperature is not supported by this model and was omitted")
		}
	}

	if p.Model.Capabilities.Reasoning {
		req.Reasoning = &apiReasoning{Effort: p.Model.Reasoning.Effort, Summary: "auto"}
		req.Include = []string{"reasoning.encrypted_content"}
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

	return &modeladapter.Request{Model: p.Model, Path: Path, Body: body, Warnings: warnings}, nil
}

// Stream sends req over the configured transport and decodes the events.
func (a *Adapter) Stream(ctx context.Context, req *modeladapter.Request) (modeladapter.Streamer, error) {
	if a.Transport == TransportWebSocket {
		return a.streamWS(ctx, req)
	}

	resp, err := a.OpenStream(ctx, req)
	if err != nil {
		return nil, err
	}

	return modeladapter.NewStream(ctx, modeladapter.NewSSESource(resp), a.newDecoder(), req.Warnings...), nil
}

// streamWS sends the request as a response.create message on a fresh
// connection and reads events until the response completes.
func (a *Adapter) streamWS(ctx context.Context, req *modeladapter.Request) (modeladapter.Streamer, error) {
	conn, err := a.DialWS(ctx, req.Path)
	if err != nil {
		return nil, err
	}

	if err := conn.Write(ctx, websocket.MessageText, createMessage(req.Body)); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("%s: send request: %w", a.Provider, err)
	}

	return modeladapter.NewStream(ctx, modeladapter.NewWSSource(ctx, conn), a.newDecoder(), req.Warnings...), nil
}

// createMessage tags the encoded request object as a response.create event.
func createMessage(body []byte) []byte {
	body = bytes.TrimSpace(body)
	out := make([]byte, 0, len(body)+32)
	out = append(out, `{"type":"response.create"`...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out
}

func encodeTools(m model.Model, tools []toolbox.Tool) ([]apiTool, []string, error) {
	if len(tools) == 0 {
		return nil, nil, nil
	}
	if !m.Capabilities.ToolCalls {
		return nil, []string{"tools are not supported by this model and were omitted"}, nil
	}

	out := make([]apiTool, 0, len(tools))
	for _, t := range tools {
		if err := t.Validate(); err != nil {
			return nil, nil, err
		}
		out = append(out, apiTool{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Schema()})
	}
	return out, nil, nil
}

// encodeTurns hoists system text into instructions and flattens the rest
// into input items. Tool result media follows the run of outputs as one
// user message, since function_call_output only carries text.
func encodeTurns(turns []transcript.Turn) (string, []apiItem) {
	var (
		system []string
		items  []apiItem
		media  []apiContent
	)

	flushMedia := func() {
		if len(media) == 0 {
			return
		}
		parts := append([]apiContent{{Type: "input_text", Text: "Attached output of the tool calls above:"}}, media...)
		items = append(items, apiItem{Type: "message", Role: "user", Content: parts})
		media = nil
	}

	for _, t := range turns {
		if t.Role != role.Tool {
			flushMedia()
		}

		switch t.Role {
		case role.System:
			system = append(system, t.Text())
		case role.User:
			items = append(items, apiItem{Type: "message", Role: "user", Content: userContent(t.Parts)})
		case role.Assistant:
			items = append(items, assistantItems(t.Parts)...)
		case role.Tool:
			res, ok := t.ToolResult()
			if !ok {
				continue
			}
			out := res.Output()
			items = append(items, apiItem{Type: "function_call_output", CallID: res.ToolCallID, Output: &out})
			for _, f := range res.Media {
				media = append(media, filePart(f))
			}
		}
	}
	flushMedia()

	return strings.Join(system, "\n\n"), items
}

func userContent(parts []content.Part) []apiContent {
	out := make([]apiContent, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case content.Text:
			out = append(out, apiContent{Type: "input_text", Text: v.Text})
		case content.File:
			out = append(out, filePart(v))
		}
	}
	return out
}

func filePart(f content.File) apiContent {
	if f.IsImage() {
		return apiContent{Type: "input_image", ImageURL: f.DataURI()}
	}
	return apiContent{Type: "input_file", Filename: f.Filename, FileData: f.DataURI()}
}

// assistantItems replays reasoning only as encrypted items: without the
// encrypted content a stateless request cannot reference it.
func assistantItems(parts []content.Part) []apiItem {
	var (
		items []apiItem
		text  strings.Builder
	)

	flushText := func() {
		if text.Len() == 0 {
			return
		}
		items = append(items, apiItem{
			Type:    "message",
			Role:    "assistant",
			Content: []apiContent{{Type: "output_text", Text: text.String()}},
		})
		text.Reset()
	}

	for _, p := range parts {
		switch v := p.(type) {
		case content.Text:
			text.WriteString(v.Text)
		case content.Reasoning:
			if v.Signature == "" {
				continue
			}
			flushText()
			summary := []apiSummary{}
			if v.Text != "" {
				summary = append(summary, apiSummary{Type: "summary_text", Text: v.Text})
			}
			items = append(items, apiItem{
				Type:             "reasoning",
				ID:               v.Metadata[event.MetaItemID],
				EncryptedContent: v.Signature,
				Summary:          summary,
			})
		case content.ToolCall:
			flushText()
			items = append(items, apiItem{Type: "function_call", CallID: v.ID, Name: v.Name, Arguments: v.Arguments})
		}
	}
	flushText()

	return items
}
