package progress

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bnema/xpinstall/internal/installer"
	"github.com/bnema/xpinstall/internal/ui/styles"
)

// Printer renders install progress and results as plain lines, for
// terminals without the TUI and for piped output
type Printer struct {
	out  io.Writer
	last map[int]installer.Phase
}

// NewPrinter writes to out
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, last: make(map[int]installer.Phase)}
}

// Event prints one line each time a task enters a new phase
func (p *Printer) Event(ev installer.Event) {
	if prev, ok := p.last[ev.TaskIndex]; ok && prev == ev.Phase {
		return
	}
	p.last[ev.TaskIndex] = ev.Phase

	task := FormatCount(ev.TaskIndex+1, ev.TotalTasks) + " " + ev.TaskName
	switch ev.Phase {
	case installer.PhaseDone:
		p.task(StateComplete, task)
	case installer.PhaseFailed:
		p.task(StateError, fmt.Sprintf("%s: %v", task, ev.Err))
	case installer.PhaseCancelled:
		p.task(StateCancelled, task+" cancelled")
	default:
		p.task(StateInProgress, task+": "+strings.ToLower(ev.Phase.String()))
	}
}

// Report prints every outcome and failure of a batch, then the totals
func (p *Printer) Report(r *installer.Report) {
	_, _ = fmt.Fprintln(p.out)
	for _, o := range r.Outcomes {
		p.task(StateComplete, fmt.Sprintf("%s (%s, %s in %s)",
			o.Name, o.Mode, humanize.IBytes(uint64(o.Bytes)), o.Duration.Round(time.Millisecond)))
		p.detail(o.Target)
		if len(o.Restored) > 0 {
			p.detail("restored " + strings.Join(o.Restored, ", "))
		}
		if o.Layers.Temp > 0 {
			p.detail(fmt.Sprintf("%d nested archive(s) unpacked to disk", o.Layers.Temp))
		}
	}
	for _, f := range r.Failed {
		p.task(StateError, fmt.Sprintf("%s: %s", f.Name, f.Message))
	}
	for _, src := range r.DeletedSources {
		p.detail("deleted source " + src)
	}
	_, _ = fmt.Fprintf(p.out, "\n  %s\n", styles.MutedText.Render(
		fmt.Sprintf("%d installed, %d failed", len(r.Succeeded), len(r.Failed))))
}

// Problems prints analysis warnings, archives waiting for a password and
// errors, each group separated by a blank line
func (p *Printer) Problems(warnings, locked, errs []string) {
	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(p.out)
		for _, w := range warnings {
			p.warn(w)
		}
	}
	if len(locked) > 0 {
		_, _ = fmt.Fprintln(p.out)
		for _, key := range locked {
			p.warn("password required: " + key)
		}
		p.detail(`Retry with --password "<archive>=<secret>"`)
	}
	if len(errs) > 0 {
		_, _ = fmt.Fprintln(p.out)
		for _, e := range errs {
			p.task(StateError, e)
		}
	}
}

func (p *Printer) task(state State, message string) {
	_, _ = fmt.Fprintln(p.out, FormatStep(state, message))
}

func (p *Printer) warn(message string) {
	icon := IconStyleWarning.Render(GetIcons().Warning)
	_, _ = fmt.Fprintf(p.out, "  %s %s\n", icon, styles.WarningText.Render(message))
}

func (p *Printer) detail(detail string) {
	_, _ = fmt.Fprintf(p.out, "      %s\n", styles.MutedText.Render(detail))
}

// FormatStep returns a task line with the icon and style of its state
func FormatStep(state State, message string) string {
	return fmt.Sprintf("  %s %s", StyledIcon(state), StepStyle(state).Render(message))
}

// FormatCount formats a task position like "3/12"
func FormatCount(current, total int) string {
	return fmt.Sprintf("%d/%d", current, total)
}
