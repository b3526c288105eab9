package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agentmux/internal/orchestrator"
	"agentmux/internal/types"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// The task board is a transient bubbletea view for mux run --watch. It lists
// tasks as the engine reports them and quits when the run finishes; the final
// frame stays in the terminal, so no alt screen.

var (
	boardTitleStyle   = lipgloss.NewStyle().Bold(true)
	boardQueryStyle   = lipgloss.NewStyle().Faint(true)
	boardRunningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#2196F3"))
	boardDoneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A"))
	boardFailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935"))
	boardSkipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
	boardMutedStyle   = lipgloss.NewStyle().Faint(true)
)

// Messages for tea updates
type (
	taskEventMsg struct {
		id     string
		status types.TaskStatus
	}
	runDoneMsg struct {
		resp *orchestrator.Response
		err  error
	}
)

// boardModel tracks task statuses in arrival order.
type boardModel struct {
	spinner   spinner.Model
	query     string
	order     []string
	statuses  map[string]types.TaskStatus
	start     time.Time
	width     int
	canceling bool
	cancel    context.CancelFunc

	resp *orchestrator.Response
	err  error
}

func newBoardModel(query string, cancel context.CancelFunc) boardModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = boardRunningStyle
	return boardModel{
		spinner:  sp,
		query:    query,
		statuses: make(map[string]types.TaskStatus),
		start:    time.Now(),
		cancel:   cancel,
	}
}

func (m boardModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m boardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			// Cancel the run and wait for the worker to report back.
			m.canceling = true
			m.cancel()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case taskEventMsg:
		if _, known := m.statuses[msg.id]; !known {
			m.order = append(m.order, msg.id)
		}
		m.statuses[msg.id] = msg.status
		return m, nil

	case runDoneMsg:
		m.resp = msg.resp
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m boardModel) View() string {
	var b strings.Builder

	b.WriteString(boardTitleStyle.Render("agentmux"))
	b.WriteString("  ")
	b.WriteString(boardQueryStyle.Render(truncateLine(m.query, 64)))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(" " + m.spinner.View() + " routing and planning...\n")
	}
	for _, id := range m.order {
		switch m.statuses[id] {
		case types.StatusRunning:
			b.WriteString(" " + m.spinner.View() + " " + boardRunningStyle.Render(id) + "\n")
		case types.StatusCompleted:
			b.WriteString("  " + boardDoneStyle.Render("✓ "+id) + "\n")
		case types.StatusFailed:
			b.WriteString("  " + boardFailStyle.Render("✗ "+id) + "\n")
		case types.StatusSkipped:
			b.WriteString("  " + boardSkipStyle.Render("- "+id+" (skipped)") + "\n")
		default:
			b.WriteString("  " + boardMutedStyle.Render("· "+id) + "\n")
		}
	}

	b.WriteString("\n")
	footer := fmt.Sprintf("elapsed %s  (ctrl+c to cancel)", time.Since(m.start).Round(time.Second))
	if m.canceling {
		footer = "canceling..."
	}
	b.WriteString(boardMutedStyle.Render(footer))
	b.WriteString("\n")

	return b.String()
}

// truncateLine clips s to max runes for single-line display.
func truncateLine(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// runWithBoard executes the query while a live task board renders progress.
// The worker goroutine feeds the program via Send; the board owns the
// terminal until the run finishes or the user cancels.
func runWithBoard(ctx context.Context, orch *orchestrator.Orchestrator, query string, file *orchestrator.Attachment) (*orchestrator.Response, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newBoardModel(query, cancel))

	go func() {
		resp, err := orch.ProcessQueryWithProgress(runCtx, query, file,
			func(taskID string, status types.TaskStatus, payload any) error {
				p.Send(taskEventMsg{id: taskID, status: status})
				return nil
			})
		p.Send(runDoneMsg{resp: resp, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		cancel()
		return nil, err
	}

	m, ok := final.(boardModel)
	if !ok {
		return nil, fmt.Errorf("unexpected board model type %T", final)
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.resp == nil {
		return nil, fmt.Errorf("run ended without a result")
	}
	return m.resp, nil
}
