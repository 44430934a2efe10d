// Package toolbox holds the tool declarations sent to models.
package toolbox

import "sort"

// ToolBox is a named set of tool declarations. Tools are always listed in name
// order so encoded requests are deterministic.
type ToolBox struct {
	tools map[string]Tool
}

// New creates a ToolBox holding the given tools.
func New(tools ...Tool) *ToolBox {
	tb := &ToolBox{tools: make(map[string]Tool, len(tools))}
	tb.Register(tools...)
	return tb
}

// Register adds tools, replacing any already registered under the same name.
func (tb *ToolBox) Register(tools ...Tool) {
	for _, t := range tools {
		tb.tools[t.Name] = t
	}
}

// Get looks a tool up by name.
func (tb *ToolBox) Get(name string) (Tool, bool) {
	t, ok := tb.tools[name]
	return t, ok
}

// Tools returns all registered tools sorted by name.
func (tb *ToolBox) Tools() []Tool {
	result := make([]Tool, 0, len(tb.tools))
	for _, t := range tb.tools {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Validate checks every registered tool.
func (tb *ToolBox) Validate() error {
	for _, t := range tb.Tools() {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}
