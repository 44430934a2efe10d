package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/germanamz/switchboard/pkg/chats/event"
	"github.com/germanamz/switchboard/pkg/providers/model"
	"github.com/mattn/go-runewidth"
)

// toolArgsWidth caps tool arguments on screen unless -verbose is set.
const toolArgsWidth = 120

var (
	answerPrefixStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")) // cyan
	thinkingStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))            // gray
	toolNameStyle     = lipgloss.NewStyle().Bold(true)
	toolArgsStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	retryStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // yellow
	warningStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	dimStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Faint(true)
	refStyle          = lipgloss.NewStyle().Bold(true)

	errorBlockStyle = lipgloss.NewStyle().
			PaddingLeft(1).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("1"))
)

// renderer writes a turn's events to the terminal as they arrive.
type renderer struct {
	w       io.Writer
	verbose bool

	// midLine is set while the cursor is not at the start of a line.
	midLine bool
	// prefixed is set once the answer prefix has been written this turn.
	prefixed bool
}

func newRenderer(w io.Writer, verbose bool) *renderer {
	return &renderer{w: w, verbose: verbose}
}

func (r *renderer) handle(ev event.Event) {
	switch ev.Type {
	case event.StreamStart:
		for _, w := range ev.Warnings {
			r.line(warningStyle.Render("warning: " + w))
		}
	case event.TextStart:
		if !r.prefixed {
			r.newline()
			r.write(answerPrefixStyle.Render("> "))
			r.prefixed = true
		}
	case event.TextDelta:
		r.write(ev.Delta)
	case event.ReasoningStart:
		if r.verbose {
			r.line(thinkingStyle.Render("thinking..."))
		}
	case event.ReasoningDelta:
		if r.verbose {
			r.write(thinkingStyle.Render(ev.Delta))
		}
	case event.ReasoningEnd:
		if r.verbose {
			r.newline()
		}
	case event.ToolCall:
		args := ev.Input
		if !r.verbose {
			args = runewidth.Truncate(args, toolArgsWidth, "…")
		}
		r.line(toolNameStyle.Render("tool "+ev.ToolName) + " " + toolArgsStyle.Render(args))
	case event.Retry:
		reason := ev.Metadata[event.MetaRetryReason]
		r.line(retryStyle.Render(fmt.Sprintf("retrying in %s (attempt %d): %s", ev.Wait, ev.Attempt, reason)))
	case event.Error:
		r.line(errorBlockStyle.Render("error: " + errorText(ev.Err)))
	case event.Finish:
		r.line(dimStyle.Render(finishLine(ev)))
		r.prefixed = false
	}
}

func (r *renderer) write(s string) {
	if s == "" {
		return
	}
	_, _ = io.WriteString(r.w, s)
	r.midLine = !strings.HasSuffix(s, "\n")
}

func (r *renderer) newline() {
	if r.midLine {
		r.write("\n")
	}
}

func (r *renderer) line(s string) {
	r.newline()
	r.write(s + "\n")
}

func errorText(err error) string {
	if err == nil {
		return "request failed"
	}
	return err.Error()
}

// finishLine summarizes the finish reason and token usage.
func finishLine(ev event.Event) string {
	parts := []string{string(ev.Reason)}
	if raw := ev.Metadata[event.MetaRawFinishReason]; raw != "" {
		parts[0] += " (" + raw + ")"
	}

	u := ev.Usage
	if u != (event.Usage{}) {
		parts = append(parts, fmt.Sprintf("in %d", u.Input), fmt.Sprintf("out %d", u.Output))
		if u.Reasoning > 0 {
			parts = append(parts, fmt.Sprintf("reasoning %d", u.Reasoning))
		}
		if u.CacheRead > 0 || u.CacheWrite > 0 {
			parts = append(parts, fmt.Sprintf("cache %d/%d", u.CacheRead, u.CacheWrite))
		}
	}

	return strings.Join(parts, " · ")
}

// renderModels lists models one per line with their family and capabilities.
func renderModels(w io.Writer, models []model.Model) {
	for _, m := range models {
		var caps []string
		if m.Capabilities.Reasoning {
			caps = append(caps, "reasoning")
		}
		if m.Capabilities.ToolCalls {
			caps = append(caps, "tools")
		}
		if m.Capabilities.Temperature {
			caps = append(caps, "temperature")
		}
		if m.Capabilities.Attachments {
			caps = append(caps, "attachments")
		}

		line := refStyle.Render(m.Ref()) + " " + dimStyle.Render(string(m.Family))
		if len(caps) > 0 {
			line += " " + dimStyle.Render("["+strings.Join(caps, ", ")+"]")
		}
		_, _ = fmt.Fprintln(w, line)
	}
}
