package installer

import "sync"

// Phase is what the running task is doing, as reported to the caller
type Phase int

const (
	PhasePreparing Phase = iota
	PhaseExtracting
	PhaseCopying
	PhaseVerifying
	PhaseFinalizing
	PhaseDone
	PhaseFailed
	PhaseCancelled
)

var phaseNames = [...]string{
	PhasePreparing:  "Preparing",
	PhaseExtracting: "Extracting",
	PhaseCopying:    "Copying",
	PhaseVerifying:  "Verifying",
	PhaseFinalizing: "Finalizing",
	PhaseDone:       "Done",
	PhaseFailed:     "Failed",
	PhaseCancelled:  "Cancelled",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "Unknown"
}

// Event is one progress update. BytesProcessed never decreases within a task
type Event struct {
	TaskIndex      int
	TotalTasks     int
	TaskID         string
	TaskName       string
	Phase          Phase
	BytesProcessed int64
	TotalBytes     int64
	CurrentFile    string
	// Err is set on PhaseFailed and PhaseCancelled
	Err error
}

// ProgressFunc receives events. Calls are serialized; coalescing is left to
// the receiver
type ProgressFunc func(Event)

// reporter emits events for one task. Worker goroutines share it
type reporter struct {
	mu   sync.Mutex
	fn   ProgressFunc
	last Event
}

func newReporter(fn ProgressFunc, base Event) *reporter {
	return &reporter{fn: fn, last: base}
}

func (r *reporter) emit() {
	if r.fn != nil {
		r.fn(r.last)
	}
}

func (r *reporter) phase(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last.Phase = p
	r.last.CurrentFile = ""
	r.emit()
}

// start enters the content phase with the expected byte total
func (r *reporter) start(p Phase, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last.Phase = p
	r.last.TotalBytes = total
	r.last.CurrentFile = ""
	r.emit()
}

func (r *reporter) file(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last.CurrentFile = name
	r.emit()
}

func (r *reporter) add(n int64) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last.BytesProcessed += n
	if r.last.TotalBytes > 0 && r.last.BytesProcessed > r.last.TotalBytes {
		r.last.TotalBytes = r.last.BytesProcessed
	}
	r.emit()
}

func (r *reporter) finish(p Phase, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last.Phase = p
	r.last.CurrentFile = ""
	r.last.Err = err
	r.emit()
}

func (r *reporter) bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last.BytesProcessed
}
