package runtime

import (
	"context"
	"encoding/json"

	"cockpit/internal/chat"
)

// EventKind discriminates stream events.
type EventKind string

const (
	// EventDelta carries an incremental chunk of assistant text.
	EventDelta EventKind = "delta"
	// EventToolCall pauses the exchange until the approval is answered.
	EventToolCall EventKind = "tool_call"
	// EventCompleted ends the exchange successfully.
	EventCompleted EventKind = "completed"
	// EventError ends the exchange with a failure.
	EventError EventKind = "error"
)

// ToolCall is a pending tool invocation surfaced for approval.
type ToolCall struct {
	ApprovalID string
	Tool       string
	RawArgs    json.RawMessage
}

// Event is one item in a stream handle's event sequence.
type Event struct {
	Kind     EventKind
	Text     string
	ToolCall *ToolCall
	Err      error
}

// Approval is the user's answer to a gated tool call.
type Approval struct {
	ApprovalID string
	Approved   bool
}

// Stream is the handle for one in-flight exchange. Events is closed after
// a terminal event; Respond unblocks a pending EventToolCall.
type Stream interface {
	Events() <-chan Event
	Respond(approval Approval) error
}

// ModelInfo describes a backend model.
type ModelInfo struct {
	ID      string
	OwnedBy string
}

// Dispatcher is the backend dispatch channel: it turns a thread's message
// log into a stream of exchange events. Cancellation is cooperative via
// the send context.
type Dispatcher interface {
	Send(ctx context.Context, threadID string, messages []chat.Message) (Stream, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)
	CurrentModel() string
	SetModel(model string) error
}

// ToolDef describes one function tool the backend may invoke.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolExecutor is the boundary to the collaborators that actually carry
// out approved invocations (file system, git, terminal). It is external
// to this core; results flow back to the backend as tool output.
type ToolExecutor interface {
	Definitions() []ToolDef
	Execute(ctx context.Context, tool string, rawArgs json.RawMessage) (string, error)
}
