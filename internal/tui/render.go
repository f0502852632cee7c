package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
)

// RenderMarkdown renders markdown text with Glamour, falling back to the
// raw text when rendering fails.
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

// FormatToolCall renders a pending invocation for the approval prompt.
// Shell calls show the command; others show compacted arguments.
func FormatToolCall(tool string, rawArgs json.RawMessage) string {
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(rawArgs, &args); err == nil && strings.TrimSpace(args.Command) != "" {
		return fmt.Sprintf("%s: %s", tool, strings.TrimSpace(args.Command))
	}

	compact := strings.TrimSpace(string(rawArgs))
	if compact == "" || compact == "null" {
		return tool
	}
	const maxArgs = 120
	if len(compact) > maxArgs {
		compact = compact[:maxArgs] + "…"
	}
	return fmt.Sprintf("%s %s", tool, compact)
}
