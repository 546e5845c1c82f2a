// Package tui provides the terminal dashboard for the Guardian decision
// authority.
package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/fentz26/guardian/internal/models"
)

// PollInterval is how often the dashboard refreshes.
const PollInterval = 2 * time.Second

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	tabStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 2)

	itemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// App is the dashboard model.
type App struct {
	client       *Client
	tab          tab
	threats      []models.Threat
	proposals    []models.Proposal
	selectedIdx  int
	detail       bool
	viewport     viewport.Model
	width        int
	height       int
	showAll      bool
	message      string
	daemonOnline bool
	now          func() time.Time
}

// New creates the dashboard for the API at apiAddr.
func New(apiAddr, token string) *App {
	return &App{
		client:   NewClient(apiAddr, token),
		viewport: viewport.New(80, 20),
		width:    80,
		height:   24,
		now:      time.Now,
	}
}

// Run starts the dashboard.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.fetch(), a.checkDaemon(), a.tickCmd())
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-8, 5)

	case tickMsg:
		return a, tea.Batch(a.fetch(), a.checkDaemon(), a.tickCmd())

	case dataLoadedMsg:
		a.threats = msg.threats
		a.proposals = msg.proposals
		if n := a.count(); a.selectedIdx >= n {
			a.selectedIdx = max(0, n-1)
		}

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case resolvedMsg:
		a.message = fmt.Sprintf("✓ Resolved %s", shortID(msg.threat.ID))
		return a, a.fetch()

	case errMsg:
		a.message = "Error: " + msg.err.Error()
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return a, tea.Quit

	case "esc":
		a.detail = false
		return a, nil
	}

	if a.detail {
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd
	}

	switch msg.String() {
	case "tab":
		a.tab = (a.tab + 1) % 2
		a.selectedIdx = 0

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < a.count()-1 {
			a.selectedIdx++
		}

	case "f":
		a.showAll = !a.showAll
		a.selectedIdx = 0
		return a, a.fetch()

	case "enter":
		if content, ok := a.selectedDetail(); ok {
			a.viewport.SetContent(content)
			a.viewport.GotoTop()
			a.detail = true
		}

	case "r":
		if a.tab == tabThreats && a.selectedIdx < len(a.threats) {
			return a, a.resolve(a.threats[a.selectedIdx].ID)
		}
	}
	return a, nil
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemon := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemon = offlineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render("GUARDIAN") + "  " + daemon
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(
		fmt.Sprintf("[%d threats · %d proposals]", len(a.threats), len(a.proposals)))
	b.WriteString(header + "\n")

	var tabs []string
	for _, t := range []tab{tabThreats, tabProposals} {
		style := tabStyle
		if t == a.tab {
			style = activeTabStyle
		}
		tabs = append(tabs, style.Render(t.String()))
	}
	filter := "pending"
	if a.showAll {
		filter = "all"
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tabs...) + "  " +
		lipgloss.NewStyle().Foreground(mutedColor).Render("["+filter+"]") + "\n\n")

	contentHeight := max(a.height-8, 5)
	switch {
	case a.detail:
		b.WriteString(a.viewport.View())
	case a.tab == tabThreats:
		b.WriteString(a.renderThreats(contentHeight))
	default:
		b.WriteString(a.renderProposals(contentHeight))
	}

	if a.message != "" {
		style := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			style = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + style.Render(a.message))
	}
	b.WriteString("\n")

	status := " ↑↓:nav | Tab:switch | Enter:details | f:filter | r:resolve | q:quit"
	if a.detail {
		status = " ↑↓:scroll | Esc:back | q:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))
	return b.String()
}

func (a *App) count() int {
	if a.tab == tabProposals {
		return len(a.proposals)
	}
	return len(a.threats)
}

func (a *App) renderThreats(height int) string {
	if len(a.threats) == 0 {
		return "\n  No threats. All quiet.\n"
	}
	lines := make([]string, len(a.threats))
	for i, t := range a.threats {
		text := fmt.Sprintf("%s  %-16s %-24s %s  %s",
			severityMark(t.Severity), t.Source, t.Type, t.Component, humanize.RelTime(t.Timestamp, a.now(), "ago", "from now"))
		lines[i] = a.renderLine(i, text)
	}
	return window(lines, a.selectedIdx, height)
}

func (a *App) renderProposals(height int) string {
	if len(a.proposals) == 0 {
		return "\n  No proposals.\n"
	}
	lines := make([]string, len(a.proposals))
	for i, p := range a.proposals {
		text := fmt.Sprintf("%-8s %-11s %-6s %s", p.Risk, p.Status, p.Action, p.Target)
		lines[i] = a.renderLine(i, text)
	}
	return window(lines, a.selectedIdx, height)
}

func (a *App) renderLine(i int, text string) string {
	if i == a.selectedIdx {
		return selectedStyle.Render("▶ " + text)
	}
	return itemStyle.Render("  " + text)
}

// window keeps the selected line visible within height lines.
func window(lines []string, selected, height int) string {
	if len(lines) > height {
		start := max(0, selected-height/2)
		end := min(len(lines), start+height)
		start = max(0, end-height)
		lines = lines[start:end]
	}
	return strings.Join(lines, "\n")
}

func severityMark(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return lipgloss.NewStyle().Foreground(errorColor).Bold(true).Render("✗ CRIT")
	case models.SeverityError:
		return lipgloss.NewStyle().Foreground(errorColor).Render("● ERR ")
	case models.SeverityWarning:
		return lipgloss.NewStyle().Foreground(warningColor).Render("● WARN")
	default:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("○ INFO")
	}
}

func (a *App) selectedDetail() (string, bool) {
	switch a.tab {
	case tabThreats:
		if a.selectedIdx < len(a.threats) {
			return threatDetail(a.threats[a.selectedIdx]), true
		}
	case tabProposals:
		if a.selectedIdx < len(a.proposals) {
			return proposalDetail(a.proposals[a.selectedIdx]), true
		}
	}
	return "", false
}

func threatDetail(t models.Threat) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Threat %s\n", t.ID)
	fmt.Fprintf(&b, "  Source:    %s\n", t.Source)
	fmt.Fprintf(&b, "  Type:      %s\n", t.Type)
	fmt.Fprintf(&b, "  Severity:  %s\n", t.Severity)
	if t.Component != "" {
		fmt.Fprintf(&b, "  Component: %s\n", t.Component)
	}
	fmt.Fprintf(&b, "  Status:    %s\n", t.Status)
	if t.Resolution != "" {
		fmt.Fprintf(&b, "  Resolution: %s\n", t.Resolution)
	}
	fmt.Fprintf(&b, "  Reported:  %s\n", t.Timestamp.Format(time.RFC3339))
	if t.Details != nil {
		data, err := json.MarshalIndent(t.Details, "  ", "  ")
		if err == nil {
			fmt.Fprintf(&b, "\n  Details:\n  %s\n", data)
		}
	}
	return b.String()
}

func proposalDetail(p models.Proposal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Proposal %s\n", p.ID)
	fmt.Fprintf(&b, "  Target:  %s\n", p.Target)
	fmt.Fprintf(&b, "  Action:  %s (%s)\n", p.Action, p.Type)
	fmt.Fprintf(&b, "  Risk:    %s\n", p.Risk)
	fmt.Fprintf(&b, "  Status:  %s\n", p.Status)
	if p.Reason != "" {
		fmt.Fprintf(&b, "  Reason:  %s\n", p.Reason)
	}
	if p.ApprovedBy != "" {
		fmt.Fprintf(&b, "  Approved by: %s\n", p.ApprovedBy)
	}
	if p.RejectionReason != "" {
		fmt.Fprintf(&b, "  Rejected: %s (%s)\n", p.RejectionReason, p.RejectedBy)
	}
	if p.Error != "" {
		fmt.Fprintf(&b, "  Error:   %s\n", p.Error)
	}
	if p.Diff != "" {
		fmt.Fprintf(&b, "\n  +%d -%d\n%s", p.LinesAdded, p.LinesRemoved, p.Diff)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 15 {
		return id[:15]
	}
	return id
}

func (a *App) fetch() tea.Cmd {
	status := string(models.ThreatPending)
	if a.showAll {
		status = ""
	}
	return func() tea.Msg {
		threats, err := a.client.ListThreats(status)
		if err != nil {
			return errMsg{err}
		}
		proposals, err := a.client.ListProposals(status)
		if err != nil {
			return errMsg{err}
		}
		return dataLoadedMsg{threats: threats, proposals: proposals}
	}
}

func (a *App) resolve(id string) tea.Cmd {
	return func() tea.Msg {
		t, err := a.client.ResolveThreat(id, "acknowledged")
		if err != nil {
			return errMsg{err}
		}
		return resolvedMsg{t}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, err := a.client.CheckHealth()
		return daemonStatusMsg{online: err == nil && ok}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(PollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
