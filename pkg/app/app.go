package app

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kerbaras/mangadl/pkg/app/components"
	"github.com/kerbaras/mangadl/pkg/app/styles"
	"github.com/kerbaras/mangadl/pkg/services"
)

const refreshInterval = 150 * time.Millisecond

// RunFunc performs the downloads the App watches.
type RunFunc func(ctx context.Context) (services.Summary, error)

// App shows live download progress while run executes. Pressing q or
// ctrl+c cancels the run; interrupted chapters stay queued.
type App struct {
	tracker *components.ProgressTracker
	run     RunFunc
	opts    []tea.ProgramOption
}

func NewApp(tracker *components.ProgressTracker, run RunFunc, opts ...tea.ProgramOption) *App {
	return &App{tracker: tracker, run: run, opts: opts}
}

func (a *App) Run(ctx context.Context) (services.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newModel(ctx, cancel, a.tracker, a.run)
	final, err := tea.NewProgram(m, a.opts...).Run()
	if err != nil {
		return services.Summary{}, fmt.Errorf("failed to run progress view: %w", err)
	}
	result := final.(model)
	return result.summary, result.err
}

type tickMsg time.Time

type doneMsg struct {
	summary services.Summary
	err     error
}

type model struct {
	ctx     context.Context
	cancel  context.CancelFunc
	tracker *components.ProgressTracker
	run     RunFunc

	done    bool
	summary services.Summary
	err     error
}

func newModel(ctx context.Context, cancel context.CancelFunc, tracker *components.ProgressTracker, run RunFunc) model {
	return model{ctx: ctx, cancel: cancel, tracker: tracker, run: run}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	ctx, run := m.ctx, m.run
	return tea.Batch(tick(), func() tea.Msg {
		summary, err := run(ctx)
		return doneMsg{summary: summary, err: err}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
		}
		return m, nil
	case tickMsg:
		if m.done {
			return m, nil
		}
		return m, tick()
	case doneMsg:
		m.done = true
		m.summary = msg.summary
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	view := m.tracker.View()
	if !m.done {
		return view + styles.HelpStyle.Render("q: stop")
	}
	return view + summaryLine(m.summary) + "\n"
}

func summaryLine(s services.Summary) string {
	line := fmt.Sprintf("%d chapters downloaded", s.Completed)
	if err := s.Err(); err != nil {
		return styles.StatusError.Render(line + ", " + err.Error())
	}
	return styles.StatusCompleted.Render(line)
}
