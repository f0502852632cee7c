package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"cockpit/internal/runtime"
)

const (
	commandTimeout   = 120 * time.Second
	outputLimitBytes = 1 << 20
)

// shellExecutor is the local tool boundary for the standalone binary:
// a shell runner and a file reader, both gated by the approval flow.
// Richer tool hosts plug in behind the same runtime.ToolExecutor seam.
type shellExecutor struct {
	workspaceRoot string
}

func newShellExecutor(workspaceRoot string) *shellExecutor {
	return &shellExecutor{workspaceRoot: workspaceRoot}
}

func (e *shellExecutor) Definitions() []runtime.ToolDef {
	return []runtime.ToolDef{
		{
			Name:        "bash",
			Description: "Run a shell command in the workspace root",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{"type": "string"},
				},
				"required": []string{"command"},
			},
		},
		{
			Name:        "read",
			Description: "Read a file from the workspace",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
				},
				"required": []string{"path"},
			},
		},
	}
}

func (e *shellExecutor) Execute(ctx context.Context, tool string, rawArgs json.RawMessage) (string, error) {
	switch tool {
	case "bash":
		return e.runBash(ctx, rawArgs)
	case "read":
		return e.readFile(rawArgs)
	default:
		return "", fmt.Errorf("unknown tool %q", tool)
	}
}

func (e *shellExecutor) runBash(ctx context.Context, rawArgs json.RawMessage) (string, error) {
	var in struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(rawArgs, &in); err != nil {
		return "", fmt.Errorf("bash args: %w", err)
	}
	if strings.TrimSpace(in.Command) == "" {
		return "", errors.New("bash command is empty")
	}

	execCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "/bin/sh", "-lc", in.Command)
	cmd.Dir = e.workspaceRoot
	out, err := cmd.CombinedOutput()

	exitCode := 0
	if err != nil {
		var ee *exec.ExitError
		switch {
		case errors.As(err, &ee):
			exitCode = ee.ExitCode()
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			exitCode = 124
		default:
			return "", fmt.Errorf("run bash command: %w", err)
		}
	}

	truncated := false
	if len(out) > outputLimitBytes {
		out = out[:outputLimitBytes]
		truncated = true
	}
	payload, _ := json.Marshal(map[string]any{
		"exit_code": exitCode,
		"output":    string(out),
		"truncated": truncated,
	})
	return string(payload), nil
}

func (e *shellExecutor) readFile(rawArgs json.RawMessage) (string, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(rawArgs, &in); err != nil {
		return "", fmt.Errorf("read args: %w", err)
	}
	path := strings.TrimSpace(in.Path)
	if path == "" {
		return "", errors.New("read path is empty")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.workspaceRoot, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", in.Path, err)
	}
	if len(data) > outputLimitBytes {
		data = data[:outputLimitBytes]
	}
	return string(data), nil
}
