package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"cockpit/internal/contextmgr"
	"cockpit/internal/controller"
	"cockpit/internal/rules"
	"cockpit/internal/runtime"
	"cockpit/internal/teams"
)

// PanelID identifies a panel.
type PanelID int

const (
	PanelChat PanelID = iota
	PanelTeams
	PanelRules
)

// --- Tea Messages ---

// DeltaMsg is a streaming assistant text chunk.
type DeltaMsg struct{ Text string }

// StateMsg carries an exchange lifecycle transition.
type StateMsg struct{ State controller.State }

// ApprovalMsg surfaces a gated tool call; the exchange stays paused
// until the user answers.
type ApprovalMsg struct{ Call runtime.ToolCall }

// DoneMsg ends the in-flight exchange.
type DoneMsg struct {
	State controller.State
	Err   error
}

// UsageMsg carries updated context occupancy.
type UsageMsg struct{ Usage contextmgr.Usage }

// TeamsMsg signals that a team's reconciled state changed.
type TeamsMsg struct{ TeamName string }

// sendFailedMsg reports a rejected send.
type sendFailedMsg struct{ Err error }

// App is the main Bubble Tea model.
type App struct {
	ctrl      *controller.Controller
	teamSync  *teams.Synchronizer
	ruleStore *rules.Store

	width  int
	height int

	activePanel PanelID
	chatView    viewport.Model
	input       textarea.Model

	chatContent  strings.Builder
	streamBuffer strings.Builder

	state     controller.State
	pending   *runtime.ToolCall
	usage     contextmgr.Usage
	modelName string
	markdown  bool
	lastError string

	theme Theme
	keys  KeyMap
}

type Options struct {
	Controller *controller.Controller
	Teams      *teams.Synchronizer
	Rules      *rules.Store
	Model      string
	Markdown   bool
}

func NewApp(opts Options) App {
	ta := textarea.New()
	ta.Placeholder = "Ask anything, or /help for commands"
	ta.CharLimit = 8192
	ta.SetHeight(3)
	ta.Focus()

	return App{
		ctrl:        opts.Controller,
		teamSync:    opts.Teams,
		ruleStore:   opts.Rules,
		activePanel: PanelChat,
		input:       ta,
		state:       controller.StateIdle,
		modelName:   opts.Model,
		markdown:    opts.Markdown,
		theme:       DarkTheme(),
		keys:        DefaultKeyMap(),
	}
}

func (a App) Init() tea.Cmd {
	return textarea.Blink
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.pending != nil {
			return a.updateApproval(msg)
		}
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit
		case "tab":
			a.activePanel = (a.activePanel + 1) % 3
			return a, nil
		case "esc":
			if a.busy() {
				a.ctrl.Abort()
			}
			return a, nil
		case "enter":
			return a.submit()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.relayout()
		return a, nil

	case DeltaMsg:
		a.streamBuffer.WriteString(msg.Text)
		a.updateChatFromStream()
		return a, nil

	case StateMsg:
		a.state = msg.State
		return a, nil

	case ApprovalMsg:
		call := msg.Call
		a.pending = &call
		a.state = controller.StateAwaitingApproval
		return a, nil

	case DoneMsg:
		a.state = msg.State
		a.pending = nil
		a.flushStreamToChat()
		switch {
		case msg.Err != nil:
			a.lastError = msg.Err.Error()
			a.appendChat("\n✗ " + msg.Err.Error())
		case msg.State == controller.StateAborted:
			a.appendChat("\n⚠ interrupted")
		}
		return a, nil

	case UsageMsg:
		a.usage = msg.Usage
		return a, nil

	case TeamsMsg:
		// View reads the synchronizer directly; nothing to store.
		return a, nil

	case sendFailedMsg:
		a.lastError = msg.Err.Error()
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)
	return a, tea.Batch(cmds...)
}

func (a App) updateApproval(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	call := *a.pending
	switch msg.String() {
	case "y", "Y":
		a.pending = nil
		return a, respondCmd(a.ctrl, call.ApprovalID, true, false)
	case "a", "A":
		a.pending = nil
		return a, respondCmd(a.ctrl, call.ApprovalID, true, true)
	case "n", "N", "esc":
		a.pending = nil
		return a, respondCmd(a.ctrl, call.ApprovalID, false, false)
	case "ctrl+c":
		return a, tea.Quit
	}
	return a, nil
}

func respondCmd(ctrl *controller.Controller, approvalID string, approved, alwaysAllow bool) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.RespondApproval(approvalID, approved, alwaysAllow); err != nil {
			return sendFailedMsg{Err: err}
		}
		return nil
	}
}

func (a App) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(a.input.Value())
	if text == "" {
		return a, nil
	}
	if a.busy() {
		a.lastError = controller.ErrRequestActive.Error()
		return a, nil
	}
	a.input.Reset()
	a.lastError = ""
	a.streamBuffer.Reset()
	a.appendChat("\n› " + text)

	ctrl := a.ctrl
	return a, func() tea.Msg {
		if err := ctrl.Send(context.Background(), text, nil); err != nil {
			return sendFailedMsg{Err: err}
		}
		return nil
	}
}

func (a App) busy() bool {
	switch a.state {
	case controller.StateSending, controller.StateStreaming, controller.StateAwaitingApproval:
		return true
	}
	return false
}

func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	sidebarWidth := a.width * 25 / 100
	if sidebarWidth < 20 {
		sidebarWidth = 20
	}
	if sidebarWidth > 40 {
		sidebarWidth = 40
	}
	if a.width < 80 {
		sidebarWidth = 0
	}

	mainWidth := a.width - sidebarWidth
	if sidebarWidth > 0 {
		mainWidth--
	}

	inputHeight := 5
	statusHeight := 1
	tabHeight := 1
	panelHeight := a.height - inputHeight - statusHeight - tabHeight
	if panelHeight < 3 {
		panelHeight = 3
	}

	tabs := a.renderTabs(mainWidth)
	panel := a.renderActivePanel(mainWidth, panelHeight)
	bottom := a.renderInput(mainWidth)
	if a.pending != nil {
		bottom = a.renderApprovalPrompt(mainWidth)
	}
	statusBar := a.renderStatusBar(a.width)

	main := lipgloss.JoinVertical(lipgloss.Left, tabs, panel, bottom)
	if sidebarWidth > 0 {
		sidebar := a.renderSidebar(sidebarWidth, a.height-statusHeight)
		main = lipgloss.JoinHorizontal(lipgloss.Top, main, sidebar)
	}
	return lipgloss.JoinVertical(lipgloss.Left, main, statusBar)
}

// --- Internal methods ---

func (a *App) relayout() {
	mainWidth := a.width
	panelHeight := a.height - 8
	if panelHeight < 3 {
		panelHeight = 3
	}
	a.chatView = viewport.New(mainWidth, panelHeight)
	a.chatView.SetContent(a.chatContent.String())
	a.input.SetWidth(mainWidth - 4)
}

func (a *App) appendChat(text string) {
	a.chatContent.WriteString(text + "\n")
	a.chatView.SetContent(a.chatContent.String())
	a.chatView.GotoBottom()
}

func (a *App) updateChatFromStream() {
	content := a.chatContent.String()
	if a.streamBuffer.Len() > 0 {
		content += "\n" + a.streamBuffer.String()
	}
	a.chatView.SetContent(content)
	a.chatView.GotoBottom()
}

func (a *App) flushStreamToChat() {
	if a.streamBuffer.Len() == 0 {
		return
	}
	text := a.streamBuffer.String()
	if a.markdown {
		text = RenderMarkdown(text, a.chatView.Width)
	}
	a.chatContent.WriteString("\n" + text + "\n")
	a.chatView.SetContent(a.chatContent.String())
	a.chatView.GotoBottom()
	a.streamBuffer.Reset()
}

// --- Render methods ---

func (a App) renderTabs(width int) string {
	tabs := []struct {
		id   PanelID
		name string
	}{
		{PanelChat, "Chat"},
		{PanelTeams, "Teams"},
		{PanelRules, "Rules"},
	}

	var parts []string
	for _, tab := range tabs {
		style := a.theme.InactiveTabStyle
		if tab.id == a.activePanel {
			style = a.theme.ActiveTabStyle
		}
		parts = append(parts, style.Render(tab.name))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (a App) renderActivePanel(width, height int) string {
	style := lipgloss.NewStyle().Width(width).Height(height)

	var content string
	switch a.activePanel {
	case PanelChat:
		content = a.chatView.View()
	case PanelTeams:
		content = a.renderTeamsPanel()
	case PanelRules:
		content = a.renderRulesPanel()
	}
	return style.Render(content)
}

func (a App) renderTeamsPanel() string {
	if a.teamSync == nil {
		return a.theme.MutedStyle.Render("  Teams are not configured")
	}
	all := a.teamSync.Teams()
	if len(all) == 0 {
		return a.theme.MutedStyle.Render("  No tracked teams; use /track <name>")
	}

	var parts []string
	for _, team := range all {
		parts = append(parts, a.theme.TitleStyle.Render(" "+team.Name))
		if team.Config != nil && team.Config.Lead != "" {
			parts = append(parts, "  lead: "+team.Config.Lead)
		}
		for _, task := range team.Tasks {
			parts = append(parts, fmt.Sprintf("  %s %s", taskGlyph(task.Status), task.Description))
		}
		for agent, inbox := range team.Inboxes {
			if len(inbox) == 0 {
				continue
			}
			parts = append(parts, fmt.Sprintf("  ✉ %s (%d)", agent, len(inbox)))
		}
		parts = append(parts, "  updated "+team.UpdatedAt.Format("15:04:05"))
		parts = append(parts, "")
	}
	return strings.Join(parts, "\n")
}

func (a App) renderRulesPanel() string {
	if a.ruleStore == nil || a.ruleStore.Len() == 0 {
		return a.theme.MutedStyle.Render("  No allow rules yet")
	}
	var parts []string
	for _, rule := range a.ruleStore.List() {
		parts = append(parts, fmt.Sprintf("  %s: %s", rule.Tool, rule.Label))
	}
	return strings.Join(parts, "\n")
}

func (a App) renderInput(width int) string {
	return a.theme.InputStyle.Width(width).Render(a.input.View())
}

func (a App) renderApprovalPrompt(width int) string {
	call := a.pending
	lines := []string{
		a.theme.DangerStyle.Render(" Tool approval required "),
		"  " + FormatToolCall(call.Tool, call.RawArgs),
		a.theme.MutedStyle.Render("  [y] allow once  [a] always allow  [n] deny"),
	}
	return a.theme.InputStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (a App) renderSidebar(width, height int) string {
	var parts []string

	parts = append(parts, a.theme.TitleStyle.Render(" Cockpit"))
	parts = append(parts, "")

	parts = append(parts, a.theme.TitleStyle.Render(" Context"))
	parts = append(parts, "  "+renderProgressBar(a.usage.Percent, width-4))
	parts = append(parts, fmt.Sprintf("  %d / %d", a.usage.Tokens, a.usage.Limit))
	parts = append(parts, "")

	parts = append(parts, a.theme.TitleStyle.Render(" Model"))
	parts = append(parts, "  "+a.modelName)
	parts = append(parts, "")

	if a.teamSync != nil {
		tracked := a.teamSync.Tracked()
		if len(tracked) > 0 {
			parts = append(parts, a.theme.TitleStyle.Render(" Teams"))
			for _, name := range tracked {
				parts = append(parts, "  "+name)
			}
			parts = append(parts, "")
		}
	}

	content := strings.Join(parts, "\n")
	return a.theme.SidebarStyle.Width(width).Height(height).Render(content)
}

func (a App) renderStatusBar(width int) string {
	status := string(a.state)
	left := fmt.Sprintf(" %s · %s", a.modelName, status)
	right := ""
	if a.lastError != "" {
		right = a.theme.ErrorStyle.Render(a.lastError) + "  "
	}

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	bar := left + strings.Repeat(" ", gap) + right
	return a.theme.StatusBarStyle.Width(width).Render(bar)
}

func taskGlyph(status string) string {
	switch status {
	case "completed", "done":
		return "✓"
	case "in_progress":
		return "▸"
	default:
		return "○"
	}
}

func renderProgressBar(percent float64, width int) string {
	if width < 4 {
		width = 4
	}
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// Run wires the controller callbacks into the Bubble Tea loop and blocks
// until the user quits.
func Run(opts Options) error {
	app := NewApp(opts)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion())

	opts.Controller.SetOnDelta(func(threadID, text string) {
		p.Send(DeltaMsg{Text: text})
	})
	opts.Controller.SetOnState(func(state controller.State) {
		p.Send(StateMsg{State: state})
	})
	opts.Controller.SetOnApproval(func(threadID string, call runtime.ToolCall) {
		p.Send(ApprovalMsg{Call: call})
	})
	opts.Controller.SetOnDone(func(threadID string, state controller.State, err error) {
		p.Send(DoneMsg{State: state, Err: err})
	})
	opts.Controller.SetOnUsage(func(usage contextmgr.Usage) {
		p.Send(UsageMsg{Usage: usage})
	})
	if opts.Teams != nil {
		unsubscribe := opts.Teams.Subscribe(func(teamName string) {
			p.Send(TeamsMsg{TeamName: teamName})
		})
		defer unsubscribe()
	}

	_, err := p.Run()
	return err
}
