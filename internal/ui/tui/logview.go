package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"grimm.is/luci/internal/i18n"
	"grimm.is/luci/internal/logging"
	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/ui"
	"grimm.is/luci/internal/views"
)

type logMsg struct {
	entries []logging.Entry
	err     error
}

type tickMsg time.Time

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// LogModel follows the log of a view. It keeps the viewport pinned to the
// newest entry unless the user scrolled away from the bottom.
type LogModel struct {
	ctx      context.Context
	caller   rpc.Caller
	view     *views.View
	lines    int
	interval time.Duration

	viewport viewport.Model
	entries  []logging.Entry
	err      error
	ready    bool
}

// NewLogModel creates a log viewer for a view with a log block.
func NewLogModel(ctx context.Context, v *views.View, caller rpc.Caller, lines int) LogModel {
	interval := 5 * time.Second
	if v.Log != nil {
		interval = v.Log.PollInterval()
	}
	return LogModel{
		ctx:      ctx,
		caller:   caller,
		view:     v,
		lines:    lines,
		interval: interval,
		viewport: viewport.New(80, 20),
	}
}

func (m LogModel) fetch() tea.Msg {
	entries, err := ui.TailLog(m.ctx, m.caller, m.view.Name, m.lines)
	return logMsg{entries: entries, err: err}
}

// Init implements tea.Model.
func (m LogModel) Init() tea.Cmd {
	return m.fetch
}

// Update implements tea.Model.
func (m LogModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch
		}

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-4, 1)
		m.viewport.SetContent(formatEntries(m.entries))

	case logMsg:
		follow := !m.ready || m.viewport.AtBottom()
		m.err = msg.err
		if msg.err == nil {
			m.entries = msg.entries
			m.viewport.SetContent(formatEntries(m.entries))
			if follow {
				m.viewport.GotoBottom()
			}
		}
		m.ready = true
		return m, tick(m.interval)

	case tickMsg:
		return m, m.fetch
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m LogModel) View() string {
	header := StyleHeader.Render(m.view.Title)
	var status string
	switch {
	case m.err != nil:
		status = StyleError.Render(m.err.Error())
	case !m.ready:
		status = StyleSubtitle.Render(i18n.T(m.ctx, i18n.MsgLoading))
	default:
		status = StyleHelp.Render("↑/↓ scroll • r refresh • q quit")
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), status)
}

func formatEntries(entries []logging.Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(formatEntry(e))
	}
	return b.String()
}

func formatEntry(e logging.Entry) string {
	parts := []string{
		StyleTimestamp.Render(e.Timestamp.Format("Jan _2 15:04:05")),
		levelStyle(e.Level).Render(strings.ToUpper(e.Level)),
	}
	if e.Source != "" {
		parts = append(parts, StyleSource.Render(e.Source+":"))
	}
	parts = append(parts, e.Message)
	return strings.Join(parts, " ")
}

// RunLog follows the log of a view on the terminal until the user quits.
func RunLog(ctx context.Context, v *views.View, caller rpc.Caller, lines int) error {
	_, err := tea.NewProgram(NewLogModel(ctx, v, caller, lines), tea.WithContext(ctx), tea.WithAltScreen()).Run()
	return err
}
