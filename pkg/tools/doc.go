// Package tools provides tool declarations for model requests.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/switchboard/pkg/tools/toolbox]: Tool type with JSON Schema validation and the ToolBox set
//
// Executing tools belongs to the agent loop that consumes the event stream.
package tools
