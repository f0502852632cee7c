package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cockpit/internal/chat"
	"cockpit/internal/contextmgr"
	"cockpit/internal/permission"
	"cockpit/internal/runtime"
	"cockpit/internal/session"
)

// State is the lifecycle phase of the active thread's exchange.
type State string

const (
	StateIdle             State = "idle"
	StateSending          State = "sending"
	StateStreaming        State = "streaming"
	StateAwaitingApproval State = "awaiting_approval"
	StateCompleted        State = "completed"
	StateAborted          State = "aborted"
	StateErrored          State = "errored"
)

var (
	// ErrRequestActive rejects a send while an exchange is in flight.
	ErrRequestActive = errors.New("a request is already active")
	// ErrEmptyMessage rejects whitespace-only input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoPendingApproval means no tool call is waiting for an answer.
	ErrNoPendingApproval = errors.New("no pending approval")
	// ErrUnknownThread means the thread id is not in the loaded set.
	ErrUnknownThread = errors.New("unknown thread")
)

// Controller drives the exchange lifecycle for the active thread: it
// appends user messages, consumes the dispatch stream, routes gated tool
// calls through the permission engine, and finalizes assistant output
// back into the persisted thread log. One exchange at a time.
type Controller struct {
	dispatcher runtime.Dispatcher
	engine     *permission.Engine
	sessions   *session.Store
	meter      *contextmgr.Meter

	mu       sync.Mutex
	threads  []chat.Thread
	activeID string
	state    State
	active   *request

	onState    func(state State)
	onDelta    func(threadID, text string)
	onApproval func(threadID string, call runtime.ToolCall)
	onDone     func(threadID string, state State, err error)
	onUsage    func(usage contextmgr.Usage)
}

// request is the bookkeeping for one in-flight exchange.
type request struct {
	threadID string
	cancel   context.CancelFunc
	stream   runtime.Stream
	partial  strings.Builder
	pending  *runtime.ToolCall
	aborted  bool
	done     chan struct{}
}

type Options struct {
	Dispatcher   runtime.Dispatcher
	Engine       *permission.Engine
	Sessions     *session.Store
	ContextLimit int
	Model        string
}

func New(opts Options) *Controller {
	model := opts.Model
	if model == "" && opts.Dispatcher != nil {
		model = opts.Dispatcher.CurrentModel()
	}
	c := &Controller{
		dispatcher: opts.Dispatcher,
		engine:     opts.Engine,
		sessions:   opts.Sessions,
		meter:      contextmgr.NewMeter(model, opts.ContextLimit),
		state:      StateIdle,
	}
	c.threads = opts.Sessions.Load()
	c.activeID = mostRecent(c.threads).ID
	return c
}

// SetOnState registers the state transition listener.
func (c *Controller) SetOnState(fn func(state State)) { c.onState = fn }

// SetOnDelta registers the incremental assistant text listener.
func (c *Controller) SetOnDelta(fn func(threadID, text string)) { c.onDelta = fn }

// SetOnApproval registers the gated tool call listener. The exchange
// stays paused until RespondApproval answers the surfaced call.
func (c *Controller) SetOnApproval(fn func(threadID string, call runtime.ToolCall)) {
	c.onApproval = fn
}

// SetOnDone registers the terminal outcome listener.
func (c *Controller) SetOnDone(fn func(threadID string, state State, err error)) { c.onDone = fn }

// SetOnUsage registers the context usage listener, fired after every
// change to the active thread's message log.
func (c *Controller) SetOnUsage(fn func(usage contextmgr.Usage)) { c.onUsage = fn }

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether an exchange is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// ActiveThread returns a copy of the thread new sends go to.
func (c *Controller) ActiveThread() chat.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t := c.findLocked(c.activeID); t != nil {
		return t.Clone()
	}
	return chat.Thread{}
}

// Threads returns copies of all loaded threads.
func (c *Controller) Threads() []chat.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chat.Thread, len(c.threads))
	for i, t := range c.threads {
		out[i] = t.Clone()
	}
	return out
}

// NewThread starts a fresh thread and makes it active. Rejected while an
// exchange is in flight.
func (c *Controller) NewThread() (chat.Thread, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return chat.Thread{}, ErrRequestActive
	}
	thread := session.NewThread()
	c.threads = append(c.threads, thread)
	c.activeID = thread.ID
	c.state = StateIdle
	c.saveLocked()
	return thread.Clone(), nil
}

// SwitchThread makes an existing thread active.
func (c *Controller) SwitchThread(threadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return ErrRequestActive
	}
	if c.findLocked(threadID) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}
	c.activeID = threadID
	c.state = StateIdle
	return nil
}

// SetModel switches the backend model and re-scopes the context meter.
func (c *Controller) SetModel(model string, contextLimit int) error {
	if err := c.dispatcher.SetModel(model); err != nil {
		return err
	}
	c.mu.Lock()
	c.meter = contextmgr.NewMeter(model, contextLimit)
	c.mu.Unlock()
	c.reportUsage()
	return nil
}

// Usage returns the context occupancy of the active thread.
func (c *Controller) Usage() contextmgr.Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usageLocked()
}

// Send appends a user message to the active thread and starts the
// exchange. Exactly one exchange may be in flight; a second send returns
// ErrRequestActive instead of queueing.
func (c *Controller) Send(ctx context.Context, content string, attachments []chat.Attachment) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return ErrRequestActive
	}
	thread := c.findLocked(c.activeID)
	if thread == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownThread, c.activeID)
	}

	thread.Messages = append(thread.Messages, session.NewMessage(chat.RoleUser, content, attachments))
	thread.Title = session.DeriveTitle(thread.Messages)
	thread.UpdatedAt = nowUTC()
	c.saveLocked()

	sendCtx, cancel := context.WithCancel(ctx)
	req := &request{
		threadID: thread.ID,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.active = req
	c.state = StateSending
	messages := append([]chat.Message(nil), thread.Messages...)
	c.mu.Unlock()

	c.reportState(StateSending)
	c.reportUsage()

	go c.run(sendCtx, req, messages)
	return nil
}

// Abort cancels the in-flight exchange. Text streamed so far is kept and
// finalized into the thread.
func (c *Controller) Abort() {
	c.mu.Lock()
	req := c.active
	if req == nil {
		c.mu.Unlock()
		return
	}
	req.aborted = true
	c.mu.Unlock()
	req.cancel()
}

// Wait blocks until the in-flight exchange (if any) reaches a terminal
// state. Intended for line-oriented frontends and tests.
func (c *Controller) Wait() {
	c.mu.Lock()
	req := c.active
	c.mu.Unlock()
	if req != nil {
		<-req.done
	}
}

// RespondApproval answers the pending gated tool call. With alwaysAllow
// set, an allow rule generalized from the call is persisted first so
// future equivalent calls auto-approve.
func (c *Controller) RespondApproval(approvalID string, approved, alwaysAllow bool) error {
	c.mu.Lock()
	req := c.active
	if req == nil || req.pending == nil || req.pending.ApprovalID != approvalID {
		c.mu.Unlock()
		return ErrNoPendingApproval
	}
	call := *req.pending
	req.pending = nil
	c.state = StateStreaming
	c.mu.Unlock()

	if approved && alwaysAllow {
		if rule, ok := c.engine.DeriveRule(call.Tool, call.RawArgs); ok {
			c.engine.Rules().Add(rule)
		}
	}

	if err := req.stream.Respond(runtime.Approval{ApprovalID: approvalID, Approved: approved}); err != nil {
		return fmt.Errorf("respond approval: %w", err)
	}
	c.reportState(StateStreaming)
	return nil
}

func (c *Controller) run(ctx context.Context, req *request, messages []chat.Message) {
	stream, err := c.dispatcher.Send(ctx, req.threadID, messages)
	if err != nil {
		c.finalize(req, StateErrored, fmt.Errorf("dispatch: %w", err))
		return
	}

	c.mu.Lock()
	req.stream = stream
	c.state = StateStreaming
	c.mu.Unlock()
	c.reportState(StateStreaming)

	var terminalErr error
	sawTerminal := false
	for event := range stream.Events() {
		switch event.Kind {
		case runtime.EventDelta:
			req.partial.WriteString(event.Text)
			if c.onDelta != nil {
				c.onDelta(req.threadID, event.Text)
			}

		case runtime.EventToolCall:
			c.handleToolCall(req, *event.ToolCall)

		case runtime.EventCompleted:
			sawTerminal = true

		case runtime.EventError:
			sawTerminal = true
			terminalErr = event.Err
		}
	}

	c.mu.Lock()
	aborted := req.aborted
	c.mu.Unlock()

	switch {
	case aborted:
		c.finalize(req, StateAborted, nil)
	case terminalErr != nil:
		c.finalize(req, StateErrored, terminalErr)
	case sawTerminal:
		c.finalize(req, StateCompleted, nil)
	default:
		// Stream closed without a terminal event: the send context ended.
		err := ctx.Err()
		if err == nil {
			err = errors.New("stream closed unexpectedly")
		}
		c.finalize(req, StateErrored, err)
	}
}

func (c *Controller) handleToolCall(req *request, call runtime.ToolCall) {
	if c.engine.Matches(call.Tool, call.RawArgs) {
		_ = req.stream.Respond(runtime.Approval{ApprovalID: call.ApprovalID, Approved: true})
		return
	}

	c.mu.Lock()
	req.pending = &call
	c.state = StateAwaitingApproval
	c.mu.Unlock()

	c.reportState(StateAwaitingApproval)
	if c.onApproval != nil {
		c.onApproval(req.threadID, call)
	}
}

// finalize records the outcome: partial assistant text becomes a real
// message even on abort, the thread timestamp advances, and persistence
// is best effort.
func (c *Controller) finalize(req *request, state State, err error) {
	c.mu.Lock()
	if thread := c.findLocked(req.threadID); thread != nil {
		if content := req.partial.String(); content != "" {
			thread.Messages = append(thread.Messages, session.NewMessage(chat.RoleAssistant, content, nil))
		}
		thread.Title = session.DeriveTitle(thread.Messages)
		thread.UpdatedAt = nowUTC()
	}
	c.saveLocked()
	c.active = nil
	c.state = state
	c.mu.Unlock()

	close(req.done)
	c.reportState(state)
	c.reportUsage()
	if c.onDone != nil {
		c.onDone(req.threadID, state, err)
	}
}

func (c *Controller) findLocked(threadID string) *chat.Thread {
	for i := range c.threads {
		if c.threads[i].ID == threadID {
			return &c.threads[i]
		}
	}
	return nil
}

func (c *Controller) saveLocked() {
	_ = c.sessions.Save(c.threads)
}

func (c *Controller) usageLocked() contextmgr.Usage {
	if t := c.findLocked(c.activeID); t != nil {
		return c.meter.Measure(t.Messages)
	}
	return c.meter.Measure(nil)
}

func (c *Controller) reportState(state State) {
	if c.onState != nil {
		c.onState(state)
	}
}

func (c *Controller) reportUsage() {
	if c.onUsage == nil {
		return
	}
	c.mu.Lock()
	usage := c.usageLocked()
	c.mu.Unlock()
	c.onUsage(usage)
}

func mostRecent(threads []chat.Thread) chat.Thread {
	best := threads[0]
	for _, t := range threads[1:] {
		if t.UpdatedAt > best.UpdatedAt {
			best = t
		}
	}
	return best
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
