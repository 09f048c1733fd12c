package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// ProgressMsg carries one progress observation into the view.
type ProgressMsg struct {
	Completed int
	Total     int
	Failed    int
	Elapsed   time.Duration
}

// DoneMsg tells the view the run finished and it should exit.
type DoneMsg struct{}

// Model is the Bubble Tea model for the collection progress view.
type Model struct {
	bar      progress.Model
	spin     spinner.Model
	latest   ProgressMsg
	width    int
	done     bool
	quitting bool
}

// NewModel creates a progress model.
func NewModel() Model {
	bar := progress.New(progress.WithDefaultGradient())
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = WarningStyle
	return Model{bar: bar, spin: spin}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 10
		if m.bar.Width > 60 {
			m.bar.Width = 60
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case ProgressMsg:
		m.latest = msg
		var cmd tea.Cmd
		if msg.Total > 0 {
			cmd = m.bar.SetPercent(float64(msg.Completed) / float64(msg.Total))
		}
		return m, cmd

	case DoneMsg:
		m.done = true
		return m, tea.Quit

	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Prospector"))
	b.WriteString("\n")

	status := m.spin.View() + " collecting"
	if m.done {
		status = SuccessStyle.Render("✓ complete")
	}
	b.WriteString(status)
	b.WriteString("\n\n")
	b.WriteString(m.bar.View())
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(LabelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}
	row("Batches", ValueStyle.Render(fmt.Sprintf("%d / %d", m.latest.Completed, m.latest.Total)))
	failed := fmt.Sprintf("%d", m.latest.Failed)
	if m.latest.Failed > 0 {
		failed = ErrorStyle.Render(failed)
	} else {
		failed = ValueStyle.Render(failed)
	}
	row("Failed", failed)
	row("Elapsed", ValueStyle.Render(m.latest.Elapsed.Round(time.Second).String()))

	content := BoxStyle.Render(b.String())
	help := HelpStyle.Render("Press q or Ctrl+C to detach (run continues)")
	return content + "\n" + help
}

// Feed pushes monitor progress into a running TUI program. It satisfies
// the monitor's observer contract and is safe to call from the watch
// goroutine.
type Feed struct {
	program *tea.Program
	done    chan struct{}
}

// Start launches the progress view in its own goroutine and returns the
// feed the monitor reports into.
func Start() *Feed {
	program := tea.NewProgram(NewModel())
	feed := &Feed{program: program, done: make(chan struct{})}
	go func() {
		defer close(feed.done)
		_, _ = program.Run()
	}()
	return feed
}

// Progress reports one observation.
func (f *Feed) Progress(completed, total, failed int, elapsed time.Duration) {
	f.program.Send(ProgressMsg{Completed: completed, Total: total, Failed: failed, Elapsed: elapsed})
}

// Stop tells the view the run finished and waits for it to exit.
func (f *Feed) Stop() {
	f.program.Send(DoneMsg{})
	<-f.done
}
