package tui

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRenderMarkdownBasic(t *testing.T) {
	input := "# Hello\n\nThis is **bold** text."
	result := RenderMarkdown(input, 80)
	if result == "" {
		t.Fatal("RenderMarkdown returned empty")
	}
	if !strings.Contains(result, "Hello") {
		t.Fatalf("result should contain 'Hello': %q", result)
	}
}

func TestRenderMarkdownEmpty(t *testing.T) {
	if RenderMarkdown("", 80) != "" {
		t.Fatal("empty input should return empty")
	}
	if RenderMarkdown("  ", 80) != "" {
		t.Fatal("whitespace input should return empty")
	}
}

func TestFormatToolCallShell(t *testing.T) {
	got := FormatToolCall("bash", json.RawMessage(`{"command":"  git status  "}`))
	if got != "bash: git status" {
		t.Fatalf("FormatToolCall=%q", got)
	}
}

func TestFormatToolCallGeneric(t *testing.T) {
	got := FormatToolCall("write", json.RawMessage(`{"path":"main.go"}`))
	if !strings.HasPrefix(got, "write ") || !strings.Contains(got, "main.go") {
		t.Fatalf("FormatToolCall=%q", got)
	}
	if got := FormatToolCall("read", nil); got != "read" {
		t.Fatalf("FormatToolCall(no args)=%q", got)
	}
}

func TestFormatToolCallTruncates(t *testing.T) {
	long := `{"content":"` + strings.Repeat("x", 300) + `"}`
	got := FormatToolCall("write", json.RawMessage(long))
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("long args should be truncated: %q", got)
	}
}
