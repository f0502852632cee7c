package runtime

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"cockpit/internal/chat"
)

type fakeExecutor struct {
	calls []string
}

func (f *fakeExecutor) Definitions() []ToolDef {
	return []ToolDef{{Name: "bash", Description: "Run a shell command", Parameters: map[string]any{"type": "object"}}}
}

func (f *fakeExecutor) Execute(_ context.Context, tool string, rawArgs json.RawMessage) (string, error) {
	f.calls = append(f.calls, tool+":"+string(rawArgs))
	return "ok", nil
}

// scriptedClient builds a Client whose model rounds are scripted instead
// of hitting the network.
func scriptedClient(executor ToolExecutor, rounds ...func(onDelta func(string)) roundResult) *Client {
	c := NewClient(Config{Model: "test-model", MaxSteps: 8}, executor)
	i := 0
	c.completeFn = func(_ context.Context, _ openai.ChatCompletionRequest, onDelta func(string)) (roundResult, error) {
		round := rounds[i]
		if i < len(rounds)-1 {
			i++
		}
		return round(onDelta), nil
	}
	return c
}

func collect(t *testing.T, s Stream, respond func(ToolCall) bool) []Event {
	t.Helper()
	var events []Event
	for ev := range s.Events() {
		events = append(events, ev)
		if ev.Kind == EventToolCall {
			approved := respond(*ev.ToolCall)
			if err := s.Respond(Approval{ApprovalID: ev.ToolCall.ApprovalID, Approved: approved}); err != nil {
				t.Fatalf("Respond: %v", err)
			}
		}
	}
	return events
}

func TestSendPlainCompletion(t *testing.T) {
	c := scriptedClient(nil, func(onDelta func(string)) roundResult {
		onDelta("hello ")
		onDelta("world")
		return roundResult{content: "hello world"}
	})

	s, err := c.Send(context.Background(), "t1", []chat.Message{{Role: chat.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	events := collect(t, s, nil)
	if len(events) != 3 {
		t.Fatalf("events=%d, want 3 (two deltas + completed)", len(events))
	}
	if events[0].Kind != EventDelta || events[0].Text != "hello " {
		t.Fatalf("events[0]=%+v", events[0])
	}
	if events[2].Kind != EventCompleted {
		t.Fatalf("events[2].Kind=%s, want completed", events[2].Kind)
	}
}

func TestSendToolCallApproved(t *testing.T) {
	executor := &fakeExecutor{}
	c := scriptedClient(executor,
		func(onDelta func(string)) roundResult {
			return roundResult{toolCalls: []openai.ToolCall{{
				ID:       "call_1",
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: "bash", Arguments: `{"command":"ls"}`},
			}}}
		},
		func(onDelta func(string)) roundResult {
			onDelta("done")
			return roundResult{content: "done"}
		},
	)

	s, err := c.Send(context.Background(), "t1", []chat.Message{{Role: chat.RoleUser, Content: "list files"}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	events := collect(t, s, func(tc ToolCall) bool {
		if tc.Tool != "bash" || tc.ApprovalID == "" {
			t.Fatalf("tool call unexpected: %+v", tc)
		}
		return true
	})

	last := events[len(events)-1]
	if last.Kind != EventCompleted {
		t.Fatalf("last event=%+v, want completed", last)
	}
	if len(executor.calls) != 1 || !strings.HasPrefix(executor.calls[0], "bash:") {
		t.Fatalf("executor calls=%v, want one bash call", executor.calls)
	}
}

func TestSendToolCallDenied(t *testing.T) {
	executor := &fakeExecutor{}
	c := scriptedClient(executor,
		func(onDelta func(string)) roundResult {
			return roundResult{toolCalls: []openai.ToolCall{{
				ID:       "call_1",
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: "bash", Arguments: `{"command":"rm -rf /"}`},
			}}}
		},
		func(onDelta func(string)) roundResult {
			return roundResult{content: "understood"}
		},
	)

	s, _ := c.Send(context.Background(), "t1", []chat.Message{{Role: chat.RoleUser, Content: "clean up"}})
	events := collect(t, s, func(ToolCall) bool { return false })

	if len(executor.calls) != 0 {
		t.Fatalf("denied call must not execute, got %v", executor.calls)
	}
	if events[len(events)-1].Kind != EventCompleted {
		t.Fatalf("exchange should continue after denial: %+v", events[len(events)-1])
	}
}

func TestSendCancelledWhileAwaitingApproval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := scriptedClient(&fakeExecutor{}, func(onDelta func(string)) roundResult {
		onDelta("partial")
		return roundResult{toolCalls: []openai.ToolCall{{
			ID:       "call_1",
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: "bash", Arguments: `{}`},
		}}}
	})

	s, _ := c.Send(ctx, "t1", []chat.Message{{Role: chat.RoleUser, Content: "go"}})
	sawToolCall := false
	for ev := range s.Events() {
		if ev.Kind == EventToolCall {
			sawToolCall = true
			cancel()
		}
	}
	if !sawToolCall {
		t.Fatal("expected a tool-call event before cancellation")
	}
	// Stream is terminal: a late approval answer is rejected, not stuck.
	if err := s.Respond(Approval{ApprovalID: "whatever", Approved: true}); err != ErrStreamClosed {
		t.Fatalf("Respond after close=%v, want ErrStreamClosed", err)
	}
}

func TestSendValidation(t *testing.T) {
	c := NewClient(Config{Model: "m"}, nil)
	if _, err := c.Send(context.Background(), "", []chat.Message{{Role: chat.RoleUser, Content: "x"}}); err == nil {
		t.Fatal("empty thread id should error")
	}
	if _, err := c.Send(context.Background(), "t1", nil); err == nil {
		t.Fatal("empty message log should error")
	}
}

func TestConvertMessageAttachments(t *testing.T) {
	msg := chat.Message{
		Role:    chat.RoleUser,
		Content: "look at these",
		Attachments: []chat.Attachment{
			{AbsolutePath: "/w/shot.png", RelativePath: "shot.png", IsImage: true, PreviewDataURL: "data:image/png;base64,AAAA"},
			{AbsolutePath: "/w/main.go", RelativePath: "main.go", MediaType: "text/x-go"},
		},
	}
	converted := convertMessage(msg)
	if len(converted.MultiContent) != 2 {
		t.Fatalf("MultiContent len=%d, want 2 (text + image)", len(converted.MultiContent))
	}
	text := converted.MultiContent[0]
	if text.Type != openai.ChatMessagePartTypeText || !strings.Contains(text.Text, "[attached: main.go]") {
		t.Fatalf("text part unexpected: %+v", text)
	}
	image := converted.MultiContent[1]
	if image.Type != openai.ChatMessagePartTypeImageURL || image.ImageURL.URL != "data:image/png;base64,AAAA" {
		t.Fatalf("image part unexpected: %+v", image)
	}

	// No attachments keeps plain Content.
	plain := convertMessage(chat.Message{Role: chat.RoleUser, Content: "hi"})
	if plain.Content != "hi" || plain.MultiContent != nil {
		t.Fatalf("plain message unexpected: %+v", plain)
	}
}

func TestAssembleToolCalls(t *testing.T) {
	byIdx := map[int]*toolCallAccumulator{
		0: {id: "call_abc", name: "bash"},
		1: {name: "read"},
	}
	byIdx[0].args.WriteString(`{"command":"ls"}`)
	byIdx[1].args.WriteString(`{"path":"main.go"}`)

	calls := assembleToolCalls(byIdx)
	if len(calls) != 2 {
		t.Fatalf("len=%d, want 2", len(calls))
	}
	if calls[0].ID != "call_abc" || calls[0].Function.Name != "bash" {
		t.Fatalf("call[0] unexpected: %+v", calls[0])
	}
	if !strings.HasPrefix(calls[1].ID, "call_") {
		t.Fatalf("missing id should be synthesized: %+v", calls[1])
	}
	if assembleToolCalls(map[int]*toolCallAccumulator{}) != nil {
		t.Fatal("empty should return nil")
	}
}

func TestClientSetModel(t *testing.T) {
	c := NewClient(Config{Model: "base"}, nil)
	if c.CurrentModel() != "base" {
		t.Fatalf("CurrentModel=%q, want base", c.CurrentModel())
	}
	if err := c.SetModel("better"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}
	if c.CurrentModel() != "better" {
		t.Fatalf("CurrentModel=%q after set, want better", c.CurrentModel())
	}
	if err := c.SetModel(" "); err == nil {
		t.Fatal("blank model should error")
	}
}
