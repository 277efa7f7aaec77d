// Package tui is the terminal rendition of the ticket dashboard.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/joescharf/ticketdesk/internal/dashboard"
	"github.com/joescharf/ticketdesk/internal/models"
)

// DefaultInterval is the poll period when none is configured.
const DefaultInterval = 5 * time.Second

const requestTimeout = 10 * time.Second

type ticketsMsg struct {
	tickets []*models.Ticket
	err     error
	at      time.Time
}

type tickMsg time.Time

type changedMsg struct{}

type mutationMsg struct {
	action string
	id     int64
	err    error
}

// Options configures a Model.
type Options struct {
	// Title is shown in the header, usually the server address.
	Title    string
	Interval time.Duration
	// Changes delivers a value whenever the server reports a mutation.
	// Nil disables push refresh; polling continues either way.
	Changes <-chan struct{}
}

// Model is the bubbletea model of the dashboard.
type Model struct {
	src      dashboard.Source
	state    *dashboard.State
	keys     KeyMap
	styles   styles
	help     help.Model
	search   textinput.Model
	title    string
	interval time.Duration
	changes  <-chan struct{}

	cursor        int
	searching     bool
	confirmDelete int64
	notice        string
	width         int
	height        int
}

// NewModel creates a dashboard model reading from src.
func NewModel(src dashboard.Source, opts Options) Model {
	ti := textinput.New()
	ti.Prompt = "/"
	ti.Placeholder = "search user or message"
	ti.CharLimit = 120

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	return Model{
		src:      src,
		state:    dashboard.New(),
		keys:     DefaultKeyMap,
		styles:   defaultStyles(),
		help:     help.New(),
		search:   ti,
		title:    opts.Title,
		interval: interval,
		changes:  opts.Changes,
	}
}

// State exposes the view state, mainly for tests.
func (m Model) State() *dashboard.State { return m.state }

// Init implements tea.Model: fetch now, start the poll timer and listen for pushes.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick(), m.listen())
}

func (m Model) fetch() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		list, err := src.List(ctx, "")
		return ticketsMsg{tickets: list, err: err, at: time.Now()}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) listen() tea.Cmd {
	ch := m.changes
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) setStatus(t *models.Ticket, status models.TicketStatus) tea.Cmd {
	src := m.src
	id, version := t.ID, t.Version
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		_, err := src.UpdateStatus(ctx, id, status, version)
		return mutationMsg{action: "set " + string(status), id: id, err: err}
	}
}

func (m Model) remove(id int64) tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return mutationMsg{action: "delete", id: id, err: src.Delete(ctx, id)}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ticketsMsg:
		if msg.err != nil {
			slog.Warn("refresh failed", "error", msg.err)
			m.state.Fail(msg.err)
			return m, nil
		}
		m.state.Apply(msg.tickets, msg.at)
		m.clampCursor()
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())

	case changedMsg:
		return m, tea.Batch(m.fetch(), m.listen())

	case mutationMsg:
		if msg.err != nil {
			slog.Warn("ticket update failed", "action", msg.action, "id", msg.id, "error", msg.err)
			m.state.LastError = fmt.Errorf("%s #%d: %w", msg.action, msg.id, msg.err)
			return m, nil
		}
		m.notice = fmt.Sprintf("%s #%d", msg.action, msg.id)
		return m, m.fetch()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	if m.searching {
		return m.handleSearchKey(msg)
	}

	if m.confirmDelete != 0 {
		switch {
		case key.Matches(msg, m.keys.Confirm):
			id := m.confirmDelete
			m.confirmDelete = 0
			return m, m.remove(id)
		case key.Matches(msg, m.keys.Cancel):
			m.confirmDelete = 0
			m.notice = "delete cancelled"
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Down):
		m.cursor++
		m.clampCursor()
	case key.Matches(msg, m.keys.Up):
		m.cursor--
		m.clampCursor()
	case key.Matches(msg, m.keys.Filter):
		m.state.CycleFilter()
		m.clampCursor()
	case key.Matches(msg, m.keys.Search):
		m.searching = true
		m.search.SetValue(m.state.Search)
		return m, m.search.Focus()
	case key.Matches(msg, m.keys.Refresh):
		return m, m.fetch()
	case key.Matches(msg, m.keys.Open):
		return m.statusCmd(models.TicketStatusOpen)
	case key.Matches(msg, m.keys.Start):
		return m.statusCmd(models.TicketStatusInProgress)
	case key.Matches(msg, m.keys.Close):
		return m.statusCmd(models.TicketStatusClosed)
	case key.Matches(msg, m.keys.Delete):
		if t := m.selected(); t != nil {
			m.confirmDelete = t.ID
		}
	}
	return m, nil
}

func (m Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.searching = false
		m.search.Blur()
		m.search.SetValue("")
		m.state.Search = ""
		m.clampCursor()
		return m, nil
	case tea.KeyEnter:
		m.searching = false
		m.search.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	m.state.Search = m.search.Value()
	m.clampCursor()
	return m, cmd
}

func (m Model) statusCmd(status models.TicketStatus) (tea.Model, tea.Cmd) {
	t := m.selected()
	if t == nil {
		return m, nil
	}
	return m, m.setStatus(t, status)
}

func (m Model) selected() *models.Ticket {
	visible := m.state.Visible()
	if m.cursor < 0 || m.cursor >= len(visible) {
		return nil
	}
	return visible[m.cursor]
}

func (m *Model) clampCursor() {
	n := len(m.state.Visible())
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	title := "ticketdesk"
	if m.title != "" {
		title += "  " + m.title
	}
	b.WriteString(m.styles.title.Render(title))
	b.WriteString("\n")

	st := m.state.Stats()
	b.WriteString(m.styles.stats.Render(fmt.Sprintf("Open %d   In progress %d   Closed %d   Total %d",
		st.Open, st.InProgress, st.Closed, st.Total)))
	b.WriteString("\n")

	line := "filter: " + m.state.Filter
	if m.state.Search != "" && !m.searching {
		line += "   search: " + m.state.Search
	}
	if !m.state.LastRefresh.IsZero() {
		line += "   updated " + humanize.Time(m.state.LastRefresh)
	}
	b.WriteString(m.styles.dim.Render(line))
	b.WriteString("\n\n")

	if m.state.Loading {
		b.WriteString("Loading...\n")
	} else {
		m.renderTable(&b)
	}

	b.WriteString("\n")
	switch {
	case m.searching:
		b.WriteString(m.search.View())
	case m.confirmDelete != 0:
		b.WriteString(m.styles.prompt.Render(fmt.Sprintf("Delete ticket #%d? (y/n)", m.confirmDelete)))
	case m.state.LastError != nil:
		b.WriteString(m.styles.err.Render("error: " + m.state.LastError.Error()))
	case m.notice != "":
		b.WriteString(m.styles.dim.Render(m.notice))
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderTable(b *strings.Builder) {
	visible := m.state.Visible()
	if len(visible) == 0 {
		b.WriteString(m.styles.dim.Render("No tickets"))
		b.WriteString("\n")
		return
	}

	msgWidth := 40
	if m.width > 0 {
		// Fixed columns take 60 cells.
		msgWidth = max(m.width-60, 10)
	}

	header := fmt.Sprintf("  %-6s %-12s %-9s %-12s %-*s %s", "ID", "STATUS", "PRIORITY", "USER", msgWidth, "MESSAGE", "CREATED")
	b.WriteString(m.styles.header.Render(header))
	b.WriteString("\n")

	start, end := m.window(len(visible))
	for i := start; i < end; i++ {
		t := visible[i]
		marker := "  "
		if i == m.cursor {
			marker = "> "
		}
		status := m.styles.status(t.Status).Render(fmt.Sprintf("%-12s", t.Status))
		row := fmt.Sprintf("%s%-6d %s %-9s %-12s %-*s %s",
			marker,
			t.ID,
			status,
			truncate(t.Priority, 9),
			truncate(t.Username, 12),
			msgWidth, truncate(oneLine(t.Message), msgWidth),
			humanize.Time(t.CreatedAt),
		)
		if i == m.cursor {
			row = m.styles.selected.Render(row)
		}
		b.WriteString(row)
		b.WriteString("\n")
	}
	if end-start < len(visible) {
		b.WriteString(m.styles.dim.Render(fmt.Sprintf("  %d-%d of %d", start+1, end, len(visible))))
		b.WriteString("\n")
	}
}

// window returns the row range to draw so the cursor stays on screen.
func (m Model) window(n int) (int, int) {
	rows := n
	if m.height > 0 {
		rows = max(m.height-10, 3)
	}
	if rows >= n {
		return 0, n
	}
	start := max(m.cursor-rows/2, 0)
	end := start + rows
	if end > n {
		end = n
		start = n - rows
	}
	return start, end
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}
