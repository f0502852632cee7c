package permission

import (
	"encoding/json"
	"strings"

	"cockpit/internal/rules"
)

// shellTools are tools whose relevant field for rule matching is the
// command string carried in their arguments.
var shellTools = map[string]bool{
	"bash": true,
}

// blanketTools is the fixed allow-list of file/content tools for which a
// manual approval may be generalized into a blanket grant. Anything not
// listed here (and not a shell tool) must be approved per invocation.
var blanketTools = map[string]bool{
	"read":  true,
	"list":  true,
	"glob":  true,
	"grep":  true,
	"fetch": true,
}

// Engine decides whether a tool invocation may proceed automatically and
// generalizes one-off approvals into durable rules.
type Engine struct {
	rules *rules.Store
}

func New(store *rules.Store) *Engine {
	return &Engine{rules: store}
}

// Rules exposes the backing rule store.
func (e *Engine) Rules() *rules.Store {
	return e.rules
}

// Matches reports whether some stored rule auto-approves the invocation.
// For shell tools the invocation's command string is matched against rule
// patterns; for every other tool only a blanket grant applies.
func (e *Engine) Matches(toolName string, rawArgs json.RawMessage) bool {
	tool := normalizeTool(toolName)
	if tool == "" || e.rules == nil {
		return false
	}
	input := ""
	if shellTools[tool] {
		input = commandFromArgs(rawArgs)
	}
	return e.rules.Match(tool, input)
}

// DeriveRule generalizes a concrete approved invocation into a reusable
// rule. Shell commands become a leading-token prefix rule ("git *");
// allow-listed file tools become a blanket grant; everything else yields
// no rule and stays per-invocation.
func (e *Engine) DeriveRule(toolName string, rawArgs json.RawMessage) (rules.AllowRule, bool) {
	tool := normalizeTool(toolName)
	if tool == "" {
		return rules.AllowRule{}, false
	}
	if shellTools[tool] {
		command := commandFromArgs(rawArgs)
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return rules.AllowRule{}, false
		}
		pattern := fields[0] + " *"
		return rules.AllowRule{Tool: tool, Pattern: pattern, Label: pattern}, true
	}
	if blanketTools[tool] {
		return rules.AllowRule{Tool: tool, Label: tool}, true
	}
	return rules.AllowRule{}, false
}

func normalizeTool(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func commandFromArgs(rawArgs json.RawMessage) string {
	var in struct {
		Command string `json:"command"`
	}
	_ = json.Unmarshal(rawArgs, &in)
	return strings.TrimSpace(in.Command)
}
