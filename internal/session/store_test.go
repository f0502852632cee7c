package session

import (
	"strings"
	"testing"

	"cockpit/internal/chat"
	"cockpit/internal/kv"
)

func TestLoadMissingYieldsFreshThread(t *testing.T) {
	s := NewStore(kv.NewMemory())
	threads := s.Load()
	if len(threads) != 1 {
		t.Fatalf("Load count=%d, want 1", len(threads))
	}
	if threads[0].ID == "" || threads[0].Title != "new thread" {
		t.Fatalf("fresh thread unexpected: %+v", threads[0])
	}
}

func TestLoadSanitizesMalformedPayloads(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `{{{`},
		{name: "not an array", payload: `{"id":"t1"}`},
		{name: "thread without id", payload: `[{"messages":[{"role":"user","content":"hi"}]}]`},
		{name: "messages not an array", payload: `[{"id":"t1","messages":"oops"}]`},
		{name: "empty message list", payload: `[{"id":"t1","messages":[]}]`},
		{name: "only invalid messages", payload: `[{"id":"t1","messages":[{"role":"system","content":"x"},{"role":"user"}]}]`},
	}
	for _, tc := range cases {
		mem := kv.NewMemory()
		_ = mem.Set("threads", tc.payload)
		threads := NewStore(mem).Load()
		if len(threads) == 0 {
			t.Fatalf("%s: Load returned empty collection", tc.name)
		}
		for _, thread := range threads {
			if thread.ID == "" {
				t.Fatalf("%s: thread without id survived", tc.name)
			}
		}
	}
}

func TestLoadKeepsValidDropsInvalid(t *testing.T) {
	mem := kv.NewMemory()
	_ = mem.Set("threads", `[
		{"id":"good","messages":[
			{"id":"m1","role":"user","content":"hello"},
			{"role":"tool","content":"dropped"},
			{"role":"assistant","content":"hi"}
		]},
		{"id":"","messages":[{"role":"user","content":"orphan"}]},
		{"id":"empty","messages":[]}
	]`)

	threads := NewStore(mem).Load()
	if len(threads) != 1 {
		t.Fatalf("Load count=%d, want 1", len(threads))
	}
	got := threads[0]
	if got.ID != "good" {
		t.Fatalf("ID=%q, want good", got.ID)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages=%d, want 2 (tool role dropped)", len(got.Messages))
	}
	if got.Messages[1].ID == "" {
		t.Fatal("missing message id should be coerced")
	}
	if got.Title != "hello" {
		t.Fatalf("Title=%q, want derived %q", got.Title, "hello")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	mem := kv.NewMemory()
	s := NewStore(mem)

	threads := []chat.Thread{
		{
			ID:        "t1",
			Title:     "first",
			UpdatedAt: "2026-01-02T03:04:05Z",
			Messages: []chat.Message{
				{ID: "m1", Role: chat.RoleUser, Content: "hello there"},
				{ID: "m2", Role: chat.RoleAssistant, Content: "hi", Attachments: []chat.Attachment{
					{AbsolutePath: "/w/main.go", RelativePath: "main.go", MediaType: "text/x-go"},
				}},
			},
		},
		{
			ID:        "t2",
			Title:     "second",
			UpdatedAt: "2026-01-03T00:00:00Z",
			Messages:  []chat.Message{{ID: "m3", Role: chat.RoleUser, Content: "ping"}},
		},
	}
	if err := s.Save(threads); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := s.Load()
	if len(loaded) != 2 {
		t.Fatalf("Load count=%d, want 2", len(loaded))
	}
	for i, want := range threads {
		got := loaded[i]
		if got.ID != want.ID || got.Title != want.Title || got.UpdatedAt != want.UpdatedAt {
			t.Fatalf("thread[%d] meta=%+v, want %+v", i, got, want)
		}
		if len(got.Messages) != len(want.Messages) {
			t.Fatalf("thread[%d] messages=%d, want %d", i, len(got.Messages), len(want.Messages))
		}
		for j, wantMsg := range want.Messages {
			if got.Messages[j].ID != wantMsg.ID || got.Messages[j].Content != wantMsg.Content {
				t.Fatalf("thread[%d] msg[%d]=%+v, want %+v", i, j, got.Messages[j], wantMsg)
			}
		}
	}
	if loaded[0].Messages[1].Attachments[0].AbsolutePath != "/w/main.go" {
		t.Fatal("attachment should round-trip")
	}
}

func TestDeriveTitle(t *testing.T) {
	long := strings.Repeat("word ", 20)
	cases := []struct {
		name     string
		messages []chat.Message
		want     string
	}{
		{
			name:     "plain",
			messages: []chat.Message{{Role: chat.RoleUser, Content: "fix the login bug"}},
			want:     "fix the login bug",
		},
		{
			name:     "whitespace collapsed",
			messages: []chat.Message{{Role: chat.RoleUser, Content: "  fix\n\tthe   bug "}},
			want:     "fix the bug",
		},
		{
			name:     "skips assistant",
			messages: []chat.Message{{Role: chat.RoleAssistant, Content: "welcome"}, {Role: chat.RoleUser, Content: "hello"}},
			want:     "hello",
		},
		{
			name:     "no user message",
			messages: []chat.Message{{Role: chat.RoleAssistant, Content: "welcome"}},
			want:     "new thread",
		},
		{
			name:     "empty",
			messages: nil,
			want:     "new thread",
		},
	}
	for _, tc := range cases {
		if got := DeriveTitle(tc.messages); got != tc.want {
			t.Fatalf("%s: DeriveTitle=%q, want %q", tc.name, got, tc.want)
		}
	}

	got := DeriveTitle([]chat.Message{{Role: chat.RoleUser, Content: long}})
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("long title should carry ellipsis: %q", got)
	}
	if n := len([]rune(strings.TrimSuffix(got, "..."))); n != 44 {
		t.Fatalf("truncated length=%d runes, want 44", n)
	}
}

func TestDeriveTitleIdempotent(t *testing.T) {
	messages := []chat.Message{{Role: chat.RoleUser, Content: "  same   input  "}}
	first := DeriveTitle(messages)
	second := DeriveTitle(messages)
	if first != second {
		t.Fatalf("DeriveTitle not idempotent: %q vs %q", first, second)
	}
}
