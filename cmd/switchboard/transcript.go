package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/germanamz/switchboard/pkg/chats/content"
	"github.com/germanamz/switchboard/pkg/chats/message"
	"github.com/germanamz/switchboard/pkg/chats/role"
	"gopkg.in/yaml.v3"
)

// transcriptMessage is the YAML form of one conversation message.
type transcriptMessage struct {
	Role        role.Role        `yaml:"role"`
	Text        string           `yaml:"text"`
	Provider    string           `yaml:"provider"`
	Model       string           `yaml:"model"`
	Reasoning   []transcriptNote `yaml:"reasoning"`
	Files       []transcriptFile `yaml:"files"`
	ToolCalls   []transcriptCall `yaml:"tool_calls"`
	ToolResults []transcriptRes  `yaml:"tool_results"`
}

type transcriptNote struct {
	Text      string `yaml:"text"`
	Signature string `yaml:"signature"`
}

type transcriptFile struct {
	URL       string `yaml:"url"`
	MediaType string `yaml:"media_type"`
	Filename  string `yaml:"filename"`
}

type transcriptCall struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Arguments string `yaml:"arguments"`
}

type transcriptRes struct {
	ToolCallID string `yaml:"tool_call_id"`
	Name       string `yaml:"name"`
	Content    string `yaml:"content"`
	IsError    bool   `yaml:"is_error"`
}

// loadTranscript reads a YAML list of messages from path.
func loadTranscript(path string) ([]message.Message, error) {
	f, err := os.Open(path) //nolint:gosec // path is a command line argument
	if err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	defer func() { _ = f.Close() }()

	return parseTranscript(f)
}

func parseTranscript(r io.Reader) ([]message.Message, error) {
	var raw []transcriptMessage
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("transcript: parse: %w", err)
	}

	msgs := make([]message.Message, 0, len(raw))
	for i, tm := range raw {
		if tm.Role == "" {
			return nil, fmt.Errorf("transcript: message %d: role is required", i)
		}
		msgs = append(msgs, tm.message())
	}

	return msgs, nil
}

func (tm transcriptMessage) message() message.Message {
	var parts []content.Part

	for _, n := range tm.Reasoning {
		parts = append(parts, content.Reasoning{Text: n.Text, Signature: n.Signature})
	}
	if tm.Text != "" {
		parts = append(parts, content.Text{Text: tm.Text})
	}
	for _, f := range tm.Files {
		parts = append(parts, content.File{URL: f.URL, MediaType: f.MediaType, Filename: f.Filename})
	}
	for _, c := range tm.ToolCalls {
		parts = append(parts, content.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments, State: content.ToolCompleted})
	}
	for _, res := range tm.ToolResults {
		parts = append(parts, content.ToolResult{ToolCallID: res.ToolCallID, Name: res.Name, Content: res.Content, IsError: res.IsError})
	}

	m := message.New(string(tm.Role), tm.Role, parts...)
	m.Provider = tm.Provider
	m.Model = tm.Model
	return m
}
