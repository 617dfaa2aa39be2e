package progress

import (
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/xpinstall/internal/installer"
	"github.com/bnema/xpinstall/internal/ui/styles"
)

// State represents the current state of a step
type State int

const (
	StatePending State = iota
	StateInProgress
	StateComplete
	StateError
	StateCancelled
)

// Step is one install task in the progress list
type Step struct {
	Name   string // Display name (e.g., "A320neo")
	State  State
	Detail string // Phase and current file while running
	Error  error  // Error if State == StateError
}

// Icons - Nerd Font with ASCII fallback
type Icons struct {
	Check   string
	Cross   string
	Arrow   string
	Pending string
	Warning string
	Spinner string
}

var (
	// NerdFontIcons uses Nerd Font glyphs
	NerdFontIcons = Icons{
		Check:   "\uf00c", //
		Cross:   "\uf00d", //
		Arrow:   "\uf061", //
		Pending: "\uf111", //
		Warning: "\uf071", //
		Spinner: "\uf110", //
	}

	// ASCIIIcons uses simple ASCII characters
	ASCIIIcons = Icons{
		Check:   "+",
		Cross:   "x",
		Arrow:   "->",
		Pending: "o",
		Warning: "!",
		Spinner: "*",
	}
)

// GetIcons returns the appropriate icon set based on environment
func GetIcons() Icons {
	if os.Getenv("XPINSTALL_NERD_FONTS") == "1" {
		return NerdFontIcons
	}
	return ASCIIIcons
}

// Icon styles
var (
	IconStyleCheck   = lipgloss.NewStyle().Foreground(styles.Success)
	IconStyleCross   = lipgloss.NewStyle().Foreground(styles.Error)
	IconStyleArrow   = lipgloss.NewStyle().Foreground(styles.Primary)
	IconStylePending = lipgloss.NewStyle().Foreground(styles.Muted)
	IconStyleWarning = lipgloss.NewStyle().Foreground(styles.Warning)
	IconStyleSpinner = lipgloss.NewStyle().Foreground(styles.Primary)
)

// StyledIcon returns a styled icon string for the given state
func StyledIcon(state State) string {
	icons := GetIcons()
	switch state {
	case StateComplete:
		return IconStyleCheck.Render(icons.Check)
	case StateError:
		return IconStyleCross.Render(icons.Cross)
	case StateCancelled:
		return IconStyleWarning.Render(icons.Warning)
	case StateInProgress:
		return IconStyleSpinner.Render(icons.Spinner)
	default:
		return IconStylePending.Render(icons.Pending)
	}
}

// StepStyle returns the appropriate text style for a step based on state
func StepStyle(state State) lipgloss.Style {
	switch state {
	case StateComplete:
		return styles.SuccessText
	case StateError:
		return styles.ErrorText
	case StateCancelled:
		return styles.WarningText
	case StateInProgress:
		return styles.NormalText.Bold(true)
	default:
		return styles.MutedText
	}
}

// Progress holds the state of a batch install
type Progress struct {
	Title string // Operation title (e.g., "Installing 3 add-ons")
	Steps []Step
	// Bytes of the running task
	Bytes, Total int64
}

// NewProgress creates a new Progress with one step per task name
func NewProgress(title string, stepNames ...string) *Progress {
	steps := make([]Step, len(stepNames))
	for i, name := range stepNames {
		steps[i] = Step{Name: name, State: StatePending}
	}
	return &Progress{
		Title: title,
		Steps: steps,
	}
}

// Apply folds an installer event into the step it belongs to
func (p *Progress) Apply(ev installer.Event) {
	if ev.TaskIndex < 0 || ev.TaskIndex >= len(p.Steps) {
		return
	}
	step := &p.Steps[ev.TaskIndex]
	switch ev.Phase {
	case installer.PhaseDone:
		step.State = StateComplete
		step.Detail = ""
		p.Bytes, p.Total = 0, 0
	case installer.PhaseFailed:
		step.State = StateError
		step.Error = ev.Err
		step.Detail = ""
		p.Bytes, p.Total = 0, 0
	case installer.PhaseCancelled:
		step.State = StateCancelled
		step.Detail = ""
		p.Bytes, p.Total = 0, 0
	default:
		step.State = StateInProgress
		step.Detail = ev.Phase.String()
		if ev.CurrentFile != "" {
			step.Detail += " " + ev.CurrentFile
		}
		p.Bytes, p.Total = ev.BytesProcessed, ev.TotalBytes
	}
}

// Percent of the running task, 0 when the total is unknown
func (p *Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return min(float64(p.Bytes)/float64(p.Total), 1)
}

// IsComplete returns true once every step reached a final state
func (p *Progress) IsComplete() bool {
	for _, step := range p.Steps {
		if step.State == StatePending || step.State == StateInProgress {
			return false
		}
	}
	return true
}

// HasError returns true if any step has an error
func (p *Progress) HasError() bool {
	for _, step := range p.Steps {
		if step.State == StateError {
			return true
		}
	}
	return false
}
