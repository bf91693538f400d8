package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"grimm.is/luci/internal/i18n"
	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/views"
)

const maxColumnWidth = 40

type tablesMsg struct {
	tables []*views.Table
	errs   []error
}

// StatusModel shows the status tables of a view and refreshes them at the
// shortest poll interval among them. Tab moves the focus between tables.
type StatusModel struct {
	ctx      context.Context
	caller   rpc.Caller
	view     *views.View
	interval time.Duration

	tables  []table.Model
	titles  []string
	errs    []error
	focused int
	height  int
	ready   bool
}

// NewStatusModel creates a status viewer for a view with status tables.
func NewStatusModel(ctx context.Context, v *views.View, caller rpc.Caller) StatusModel {
	m := StatusModel{ctx: ctx, caller: caller, view: v, height: 10}
	for _, s := range v.Status {
		if d := s.PollInterval(); m.interval == 0 || d < m.interval {
			m.interval = d
		}
		title := s.Title
		if title == "" {
			title = s.Name
		}
		m.titles = append(m.titles, title)
		t := table.New(table.WithHeight(m.height))
		t.SetStyles(tableStyles())
		m.tables = append(m.tables, t)
	}
	m.errs = make([]error, len(m.tables))
	if m.interval == 0 {
		m.interval = 5 * time.Second
	}
	if len(m.tables) > 0 {
		m.tables[0].Focus()
	}
	return m
}

func (m StatusModel) fetch() tea.Msg {
	msg := tablesMsg{
		tables: make([]*views.Table, len(m.view.Status)),
		errs:   make([]error, len(m.view.Status)),
	}
	for i, s := range m.view.Status {
		t, err := s.Fetch(m.ctx, m.caller)
		if err != nil {
			t = s.Table(nil)
		}
		msg.tables[i], msg.errs[i] = t, err
	}
	return msg
}

// Init implements tea.Model.
func (m StatusModel) Init() tea.Cmd {
	return m.fetch
}

// Update implements tea.Model.
func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch
		case "tab":
			if len(m.tables) > 1 {
				m.tables[m.focused].Blur()
				m.focused = (m.focused + 1) % len(m.tables)
				m.tables[m.focused].Focus()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		if n := len(m.tables); n > 0 {
			m.height = max((msg.Height-2)/n-3, 3)
			for i := range m.tables {
				m.tables[i].SetHeight(m.height)
			}
		}

	case tablesMsg:
		for i, t := range msg.tables {
			m.setTable(i, t)
		}
		m.errs = msg.errs
		m.ready = true
		return m, tick(m.interval)

	case tickMsg:
		return m, m.fetch
	}

	if len(m.tables) == 0 {
		return m, nil
	}
	var cmd tea.Cmd
	m.tables[m.focused], cmd = m.tables[m.focused].Update(msg)
	return m, cmd
}

// setTable replaces columns and rows of table i. Column widths follow the
// widest cell, capped at maxColumnWidth.
func (m *StatusModel) setTable(i int, t *views.Table) {
	cols := make([]table.Column, len(t.Columns))
	for c, title := range t.Columns {
		w := lipgloss.Width(title)
		for _, r := range t.Rows {
			if c < len(r) {
				w = max(w, lipgloss.Width(r[c]))
			}
		}
		cols[c] = table.Column{Title: title, Width: min(w, maxColumnWidth)}
	}
	rows := make([]table.Row, len(t.Rows))
	for r, row := range t.Rows {
		rows[r] = table.Row(row)
	}
	// Rows must match the column count, so drop them before new columns.
	m.tables[i].SetRows(nil)
	m.tables[i].SetColumns(cols)
	m.tables[i].SetRows(rows)
}

// Rows returns the rows currently shown in table i.
func (m StatusModel) Rows(i int) []table.Row {
	return m.tables[i].Rows()
}

// View implements tea.Model.
func (m StatusModel) View() string {
	parts := []string{StyleHeader.Render(m.view.Title)}
	if !m.ready {
		parts = append(parts, StyleSubtitle.Render(i18n.T(m.ctx, i18n.MsgLoading)))
	}
	for i, t := range m.tables {
		title := StyleTitle.Render(m.titles[i])
		body := t.View()
		if len(t.Rows()) == 0 {
			body = StyleSubtitle.Render(i18n.T(m.ctx, i18n.MsgNoData))
		}
		block := []string{title, body}
		if i < len(m.errs) && m.errs[i] != nil {
			block = append(block, StyleError.Render(m.errs[i].Error()))
		}
		parts = append(parts, StyleCard.Render(lipgloss.JoinVertical(lipgloss.Left, block...)))
	}
	parts = append(parts, StyleHelp.Render("tab next table • r refresh • q quit"))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// RunStatus shows the status tables of a view on the terminal until the
// user quits.
func RunStatus(ctx context.Context, v *views.View, caller rpc.Caller) error {
	_, err := tea.NewProgram(NewStatusModel(ctx, v, caller), tea.WithContext(ctx), tea.WithAltScreen()).Run()
	return err
}
