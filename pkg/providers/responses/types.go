package responses

import "encoding/json"

type apiRequest struct {
	Model           string        `json:"model"`
	Instructions    string        `json:"instructions,omitempty"`
	Input           []apiItem     `json:"input"`
	Stream          bool          `json:"stream"`
	Store           bool          `json:"store"`
	MaxOutputTokens int           `json:"max_output_tokens,omitempty"`
	Temperature     *float64      `json:"temperature,omitempty"`
	Reasoning       *apiReasoning `json:"reasoning,omitempty"`
	Include         []string      `json:"include,omitempty"`
	Tools           []apiTool     `json:"tools,omitempty"`
}

type apiReasoning struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// apiItem is a union of the input item kinds: message, reasoning,
// function_call and function_call_output. Content is a []apiContent.
// Summary is a []apiSummary, which reasoning items send even when empty.
type apiItem struct {
	Type             string  `json:"type"`
	ID               string  `json:"id,omitempty"`
	Role             string  `json:"role,omitempty"`
	Content          any     `json:"content,omitempty"`
	Summary          any     `json:"summary,omitempty"`
	EncryptedContent string  `json:"encrypted_content,omitempty"`
	CallID           string  `json:"call_id,omitempty"`
	Name             string  `json:"name,omitempty"`
	Arguments        string  `json:"arguments,omitempty"`
	Output           *string `json:"output,omitempty"`
}

type apiSummary struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data,omitempty"`
}

type apiTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// apiStreamError is the envelope an in-stream failure is reported under, so
// it classifies like an HTTP error body.
type apiStreamError struct {
	Type  string         `json:"type"`
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
