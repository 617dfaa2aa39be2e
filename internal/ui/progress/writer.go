package progress

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bnema/xpinstall/internal/installer"
)

// Sender returns an installer.ProgressFunc that forwards events to p.
// Byte updates are coalesced to roughly one per percent; phase and task
// changes always go through
func Sender(p *tea.Program) installer.ProgressFunc {
	c := &coalescer{send: func(ev installer.Event) { p.Send(EventMsg{Event: ev}) }}
	return c.handle
}

type coalescer struct {
	mu   sync.Mutex
	send func(installer.Event)
	last installer.Event
	sent bool
}

func (c *coalescer) handle(ev installer.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sent && !c.significant(ev) {
		return
	}
	c.last = ev
	c.sent = true
	c.send(ev)
}

func (c *coalescer) significant(ev installer.Event) bool {
	if ev.TaskIndex != c.last.TaskIndex || ev.Phase != c.last.Phase {
		return true
	}
	if ev.TotalBytes <= 0 {
		return ev.CurrentFile != c.last.CurrentFile
	}
	if ev.BytesProcessed >= ev.TotalBytes {
		return ev.BytesProcessed != c.last.BytesProcessed
	}
	delta := float64(ev.BytesProcessed-c.last.BytesProcessed) / float64(ev.TotalBytes) * 100
	return delta >= 1
}

// GitProgressWriter parses git clone progress and hands percent updates to fn
type GitProgressWriter struct {
	fn func(percent float64, detail string)
}

// NewGitProgressWriter creates a writer that parses git output
func NewGitProgressWriter(fn func(percent float64, detail string)) *GitProgressWriter {
	return &GitProgressWriter{fn: fn}
}

// Write implements io.Writer, parsing git progress output
func (w *GitProgressWriter) Write(p []byte) (n int, err error) {
	// go-git separates updates with carriage returns
	for _, line := range strings.FieldsFunc(string(p), func(r rune) bool { return r == '\r' || r == '\n' }) {
		if percent, detail := parseGitProgress(line); percent >= 0 {
			w.fn(percent, detail)
		}
	}
	return len(p), nil
}

var gitPatterns = []struct {
	re     *regexp.Regexp
	prefix string
}{
	{regexp.MustCompile(`Receiving objects:\s+(\d+)%\s+\((\d+)/(\d+)\)`), "Receiving objects"},
	{regexp.MustCompile(`Resolving deltas:\s+(\d+)%\s+\((\d+)/(\d+)\)`), "Resolving deltas"},
	{regexp.MustCompile(`Compressing objects:\s+(\d+)%\s+\((\d+)/(\d+)\)`), "Compressing objects"},
	{regexp.MustCompile(`Counting objects:\s+(\d+)%\s+\((\d+)/(\d+)\)`), "Counting objects"},
}

var enumeratingRe = regexp.MustCompile(`Enumerating objects:\s+(\d+)`)

// parseGitProgress returns percent (0-100) and a detail string, or -1 if
// the line carries no progress
func parseGitProgress(line string) (float64, string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return -1, ""
	}

	for _, p := range gitPatterns {
		if matches := p.re.FindStringSubmatch(line); matches != nil {
			percent, _ := strconv.ParseFloat(matches[1], 64)
			return percent, p.prefix + ": " + matches[2] + "/" + matches[3]
		}
	}

	if matches := enumeratingRe.FindStringSubmatch(line); matches != nil {
		return 0, "Enumerating objects: " + matches[1]
	}

	return -1, ""
}
