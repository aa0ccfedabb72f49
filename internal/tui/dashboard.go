// Package tui renders the live queue dashboard for the status command.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/plinthdb/plinth/internal/queue"
)

const pollInterval = 2 * time.Second

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).BorderStyle(lipgloss.DoubleBorder()).BorderBottom(true).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// StatsFetcher supplies queue depth snapshots; satisfied by *queue.Queue.
type StatsFetcher interface {
	CollectStats(ctx context.Context) (*queue.Stats, error)
}

type statsMsg struct {
	stats *queue.Stats
	err   error
}

type tickMsg time.Time

// DashboardModel is the bubbletea model for the queue dashboard.
type DashboardModel struct {
	fetcher   StatsFetcher
	spinner   spinner.Model
	stats     *queue.Stats
	fetchErr  error
	refreshed time.Time
	done      bool
	width     int
	height    int
}

// NewDashboard creates a dashboard polling the given fetcher.
func NewDashboard(fetcher StatsFetcher) DashboardModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return DashboardModel{
		fetcher: fetcher,
		spinner: s,
		width:   80,
		height:  24,
	}
}

func (m DashboardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m DashboardModel) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pollInterval)
		defer cancel()
		stats, err := m.fetcher.CollectStats(ctx)
		return statsMsg{stats: stats, err: err}
	}
}

func schedule() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.done = true
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}

	case statsMsg:
		m.fetchErr = msg.err
		if msg.err == nil {
			m.stats = msg.stats
			m.refreshed = time.Now()
		}
		return m, schedule()

	case tickMsg:
		return m, m.fetch()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m DashboardModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Plinth Queue"))
	b.WriteString("\n\n")

	switch {
	case m.fetchErr != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("  %v", m.fetchErr)))
		b.WriteString("\n")
	case m.stats == nil:
		b.WriteString(fmt.Sprintf("  %s fetching queue stats...\n", m.spinner.View()))
	default:
		rows := []struct {
			label string
			value int64
			style lipgloss.Style
		}{
			{"pending", m.stats.Pending, highlightStyle},
			{"leased", m.stats.Leased, highlightStyle},
			{"done", m.stats.Done, successStyle},
			{"failed", m.stats.Failed, errorStyle},
		}
		for _, row := range rows {
			b.WriteString(fmt.Sprintf("  %s %d\n", row.style.Render(fmt.Sprintf("%-8s", row.label)), row.value))
		}
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(fmt.Sprintf("  refreshed %s", m.refreshed.Format("15:04:05"))))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("  r: refresh  q: quit"))
	return b.String()
}

// Done reports whether the user quit the dashboard.
func (m DashboardModel) Done() bool {
	return m.done
}
