package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/chzyer/readline"

	"cockpit/internal/config"
	"cockpit/internal/controller"
	"cockpit/internal/permission"
	"cockpit/internal/runtime"
	"cockpit/internal/teams"
	"cockpit/internal/tui"
)

type turnOutcome struct {
	state controller.State
	err   error
}

// repl is the line-oriented front end. Controller callbacks are routed
// through channels so the approval prompt runs on the input goroutine.
type repl struct {
	ctrl       *controller.Controller
	dispatcher runtime.Dispatcher
	engine     *permission.Engine
	teamSync   *teams.Synchronizer
	reader     lineInput
	out        io.Writer
	cfg        config.Config

	approvals chan runtime.ToolCall
	turnDone  chan turnOutcome
}

func newREPL(
	ctrl *controller.Controller,
	dispatcher runtime.Dispatcher,
	engine *permission.Engine,
	teamSync *teams.Synchronizer,
	reader lineInput,
	cfg config.Config,
) *repl {
	r := &repl{
		ctrl:       ctrl,
		dispatcher: dispatcher,
		engine:     engine,
		teamSync:   teamSync,
		reader:     reader,
		out:        os.Stdout,
		cfg:        cfg,
		approvals:  make(chan runtime.ToolCall, 4),
		turnDone:   make(chan turnOutcome, 1),
	}

	ctrl.SetOnDelta(func(threadID, text string) {
		fmt.Fprint(r.out, text)
	})
	ctrl.SetOnApproval(func(threadID string, call runtime.ToolCall) {
		r.approvals <- call
	})
	ctrl.SetOnDone(func(threadID string, state controller.State, err error) {
		r.turnDone <- turnOutcome{state: state, err: err}
	})
	return r
}

func (r *repl) loop() {
	for {
		line, err := r.reader.ReadLine("> ")
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				fmt.Fprintln(r.out)
				continue
			case errors.Is(err, io.EOF):
				fmt.Fprintln(os.Stderr, "\nexit")
				return
			default:
				fmt.Fprintf(os.Stderr, "read input failed: %v\n", err)
				return
			}
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			handled, shouldExit := r.handleCommand(input)
			if handled {
				if shouldExit {
					return
				}
				continue
			}
		}

		r.runTurn(input)
	}
}

// runTurn drives one exchange to a terminal state. SIGINT mid-stream
// aborts the exchange rather than the process.
func (r *repl) runTurn(input string) {
	if err := r.ctrl.Send(context.Background(), input, nil); err != nil {
		fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		return
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	for {
		select {
		case call := <-r.approvals:
			r.promptApproval(call)

		case <-interrupt:
			r.ctrl.Abort()

		case outcome := <-r.turnDone:
			r.drainApprovals()
			fmt.Fprintln(r.out)
			switch {
			case outcome.err != nil:
				fmt.Fprintf(os.Stderr, "turn failed: %v\n", outcome.err)
			case outcome.state == controller.StateAborted:
				fmt.Fprintln(r.out, "(interrupted)")
			}
			return
		}
	}
}

// drainApprovals drops approvals that lost the race with termination.
func (r *repl) drainApprovals() {
	for {
		select {
		case <-r.approvals:
		default:
			return
		}
	}
}

func (r *repl) promptApproval(call runtime.ToolCall) {
	fmt.Fprintln(r.out)
	fmt.Fprintf(r.out, "Approval required: %s\n", tui.FormatToolCall(call.Tool, call.RawArgs))

	approved := false
	alwaysAllow := false
	line, err := r.reader.ReadLine("Allow? [y/N/a(lways)]: ")
	if err == nil {
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			approved = true
		case "a", "always":
			approved = true
			alwaysAllow = true
		}
	}

	if err := r.ctrl.RespondApproval(call.ApprovalID, approved, alwaysAllow); err != nil {
		fmt.Fprintf(os.Stderr, "approval not delivered: %v\n", err)
	}
}
