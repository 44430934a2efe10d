package toolbox

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Tool declares a function the model may call: its name, description, and
// JSON Schema for the input. Executing tools is the caller's concern.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Schema returns the input schema, defaulting to an empty object schema.
func (t Tool) Schema() json.RawMessage {
	if len(t.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return t.InputSchema
}

// Validate checks that the tool has a name and that its input schema
// compiles as JSON Schema.
func (t Tool) Validate() error {
	if t.Name == "" {
		return errors.New("toolbox: tool name is required")
	}

	_, err := t.compile()
	return err
}

// ValidateInput checks raw call arguments against the tool's input schema.
func (t Tool) ValidateInput(args string) error {
	schema, err := t.compile()
	if err != nil {
		return err
	}

	if args == "" {
		args = "{}"
	}

	var doc any
	if err := json.Unmarshal([]byte(args), &doc); err != nil {
		return fmt.Errorf("toolbox: tool %q: arguments are not valid JSON: %w", t.Name, err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("toolbox: tool %q: %w", t.Name, err)
	}

	return nil
}

func (t Tool) compile() (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(t.Schema(), &doc); err != nil {
		return nil, fmt.Errorf("toolbox: tool %q: unmarshal schema: %w", t.Name, err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("toolbox: tool %q: add schema resource: %w", t.Name, err)
	}

	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("toolbox: tool %q: compile schema: %w", t.Name, err)
	}

	return schema, nil
}
