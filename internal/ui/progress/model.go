package progress

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/bnema/xpinstall/internal/installer"
	"github.com/bnema/xpinstall/internal/ui/styles"
)

// Model is the bubbletea model for a batch install
type Model struct {
	progress    *Progress
	spinner     spinner.Model
	progressBar progress.Model
	cancel      func()
	cancelled   bool
	done        bool
	report      *installer.Report
	width       int
}

// NewModel creates a progress model with one step per task name. cancel is
// called once when the user presses ctrl+c
func NewModel(title string, cancel func(), stepNames ...string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner

	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(30),
		progress.WithoutPercentage(),
	)

	return Model{
		progress:    NewProgress(title, stepNames...),
		spinner:     s,
		progressBar: p,
		cancel:      cancel,
		width:       80,
	}
}

// Progress messages for updating state
type (
	// EventMsg carries one installer event
	EventMsg struct{ Event installer.Event }

	// DoneMsg signals the batch returned
	DoneMsg struct{ Report *installer.Report }
)

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tea.WindowSize())
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			// Keep running until the installer rolls back and reports
			if !m.cancelled && m.cancel != nil {
				m.cancel()
			}
			m.cancelled = true
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = min(msg.Width-10, 40)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		progressModel, cmd := m.progressBar.Update(msg)
		m.progressBar = progressModel.(progress.Model)
		return m, cmd

	case EventMsg:
		m.progress.Apply(msg.Event)
		return m, m.progressBar.SetPercent(m.progress.Percent())

	case DoneMsg:
		m.done = true
		m.report = msg.Report
		return m, tea.Quit
	}

	return m, nil
}

// View renders the progress display
func (m Model) View() string {
	var b strings.Builder

	// Title
	titleStyle := lipgloss.NewStyle().
		Foreground(styles.Text).
		Bold(true).
		MarginBottom(1)
	b.WriteString(titleStyle.Render(m.progress.Title))
	b.WriteString("\n\n")

	indent := "  "
	for _, step := range m.progress.Steps {
		icon := StyledIcon(step.State)
		textStyle := StepStyle(step.State)
		if step.State == StateInProgress {
			icon = m.spinner.View()
		}

		b.WriteString(fmt.Sprintf("%s%s %s", indent, icon, textStyle.Render(step.Name)))
		if step.State == StateInProgress && step.Detail != "" {
			b.WriteString(styles.MutedText.Render(" - " + truncate(step.Detail, m.width-len(step.Name)-10)))
		}
		if step.State == StateError && step.Error != nil {
			b.WriteString(styles.ErrorText.Render(" - " + step.Error.Error()))
		}
		b.WriteString("\n")

		if step.State == StateInProgress && m.progress.Total > 0 {
			size := fmt.Sprintf(" %s / %s",
				humanize.IBytes(uint64(m.progress.Bytes)),
				humanize.IBytes(uint64(m.progress.Total)))
			b.WriteString(indent + "  " + m.progressBar.View() + styles.MutedText.Render(size) + "\n")
		}
	}

	if m.cancelled && !m.done {
		b.WriteString("\n" + styles.WarningText.Render("Cancelling, rolling back the running task..."))
	}
	b.WriteString("\n")

	return b.String()
}

// Report returns the batch report once DoneMsg arrived
func (m Model) Report() *installer.Report {
	return m.report
}

// IsDone returns true if the operation is complete
func (m Model) IsDone() bool {
	return m.done
}

// GetProgress returns the underlying progress state
func (m Model) GetProgress() *Progress {
	return m.progress
}

func truncate(s string, n int) string {
	if n < 8 || len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n+3:]
}
