package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

var replCommands = []string{
	"/help                 show this help",
	"/new                  start a fresh thread",
	"/threads              list threads",
	"/switch <id>          switch to a thread (id prefix ok)",
	"/rules                list allow rules",
	"/rules rm <tool> <pattern>  remove an allow rule",
	"/teams                show tracked teams",
	"/track <name>         track a team",
	"/untrack <name>       stop tracking a team",
	"/model [id]           show or switch the backend model",
	"/quit                 save and exit",
}

func printREPLCommands(out io.Writer) {
	if out == nil {
		return
	}
	fmt.Fprintln(out, "commands:")
	for _, cmd := range replCommands {
		fmt.Fprintf(out, "  %s\n", cmd)
	}
}

func (r *repl) handleCommand(input string) (bool, bool) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return false, false
	}
	switch parts[0] {
	case "/exit", "/quit":
		return true, true

	case "/help":
		printREPLCommands(r.out)
		return true, false

	case "/new":
		thread, err := r.ctrl.NewThread()
		if err != nil {
			fmt.Fprintf(os.Stderr, "new thread failed: %v\n", err)
			return true, false
		}
		fmt.Fprintf(r.out, "new thread: %s\n", thread.ID)
		return true, false

	case "/threads":
		active := r.ctrl.ActiveThread().ID
		for _, thread := range r.ctrl.Threads() {
			marker := " "
			if thread.ID == active {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %s  messages=%d  updated=%s  %s\n",
				marker, shortID(thread.ID), len(thread.Messages), thread.UpdatedAt, thread.Title)
		}
		return true, false

	case "/switch":
		if len(parts) < 2 {
			fmt.Fprintln(r.out, "usage: /switch <thread_id>")
			return true, false
		}
		r.switchThread(parts[1])
		return true, false

	case "/rules":
		if len(parts) >= 2 && parts[1] == "rm" {
			if len(parts) < 4 {
				fmt.Fprintln(r.out, "usage: /rules rm <tool> <pattern>")
				return true, false
			}
			pattern := strings.Join(parts[3:], " ")
			r.engine.Rules().Remove(parts[2], pattern)
			fmt.Fprintf(r.out, "removed %s: %s\n", parts[2], pattern)
			return true, false
		}
		all := r.engine.Rules().List()
		if len(all) == 0 {
			fmt.Fprintln(r.out, "no allow rules")
			return true, false
		}
		for _, rule := range all {
			fmt.Fprintf(r.out, "%s  pattern=%q  (%s)\n", rule.Tool, rule.Pattern, rule.Label)
		}
		return true, false

	case "/teams":
		r.printTeams()
		return true, false

	case "/track":
		if r.teamSync == nil {
			fmt.Fprintln(r.out, "teams are not configured")
			return true, false
		}
		if len(parts) < 2 {
			fmt.Fprintln(r.out, "usage: /track <team_name>")
			return true, false
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		r.teamSync.Track(ctx, parts[1])
		cancel()
		fmt.Fprintf(r.out, "tracking %s\n", parts[1])
		return true, false

	case "/untrack":
		if r.teamSync == nil {
			fmt.Fprintln(r.out, "teams are not configured")
			return true, false
		}
		if len(parts) < 2 {
			fmt.Fprintln(r.out, "usage: /untrack <team_name>")
			return true, false
		}
		r.teamSync.Untrack(parts[1])
		fmt.Fprintf(r.out, "untracked %s\n", parts[1])
		return true, false

	case "/model":
		r.handleModel(parts)
		return true, false
	}
	fmt.Fprintf(r.out, "unknown command: %s\n", parts[0])
	return true, false
}

func (r *repl) switchThread(idPrefix string) {
	var matched string
	for _, thread := range r.ctrl.Threads() {
		if strings.HasPrefix(thread.ID, idPrefix) {
			if matched != "" {
				fmt.Fprintf(r.out, "ambiguous thread id: %s\n", idPrefix)
				return
			}
			matched = thread.ID
		}
	}
	if matched == "" {
		fmt.Fprintf(r.out, "no thread matches %s\n", idPrefix)
		return
	}
	if err := r.ctrl.SwitchThread(matched); err != nil {
		fmt.Fprintf(os.Stderr, "switch failed: %v\n", err)
		return
	}
	thread := r.ctrl.ActiveThread()
	fmt.Fprintf(r.out, "switched to %s  %s\n", shortID(thread.ID), thread.Title)
}

func (r *repl) printTeams() {
	if r.teamSync == nil {
		fmt.Fprintln(r.out, "teams are not configured")
		return
	}
	all := r.teamSync.Teams()
	if len(all) == 0 {
		fmt.Fprintln(r.out, "no tracked teams; use /track <name>")
		return
	}
	for _, team := range all {
		fmt.Fprintf(r.out, "%s  (updated %s)\n", team.Name, team.UpdatedAt.Format(time.RFC3339))
		if team.Config != nil && team.Config.Lead != "" {
			fmt.Fprintf(r.out, "  lead: %s\n", team.Config.Lead)
		}
		for _, task := range team.Tasks {
			assignee := task.AssignedTo
			if assignee == "" {
				assignee = "-"
			}
			fmt.Fprintf(r.out, "  [%s] %s  @%s\n", task.Status, task.Description, assignee)
		}
		for agent, inbox := range team.Inboxes {
			fmt.Fprintf(r.out, "  inbox %s: %d message(s)\n", agent, len(inbox))
		}
	}
}

func (r *repl) handleModel(parts []string) {
	if len(parts) < 2 {
		fmt.Fprintf(r.out, "current model: %s\n", r.dispatcher.CurrentModel())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		models, err := r.dispatcher.ListModels(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list models failed: %v\n", err)
			return
		}
		for _, model := range models {
			fmt.Fprintf(r.out, "  %s\n", model.ID)
		}
		return
	}
	if err := r.ctrl.SetModel(parts[1], r.cfg.Backend.ContextTokenLimit); err != nil {
		fmt.Fprintf(os.Stderr, "switch model failed: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "model: %s\n", parts[1])
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
