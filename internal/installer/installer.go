// Package installer executes confirmed install tasks
package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/text/encoding"

	"github.com/bnema/xpinstall/internal/addons"
	"github.com/bnema/xpinstall/internal/archive"
	"github.com/bnema/xpinstall/internal/metacache"
)

const (
	// DefaultMinFree is kept free on the target volume by atomic installs
	DefaultMinFree = 1 << 30
	// DefaultMaxInMemory is the largest nested layer decoded from memory
	DefaultMaxInMemory = 256 << 20

	maxWorkers = 16
	hddWorkers = 2

	stagePrefix = ".xpinstall-stage-"
	oldPrefix   = ".xpinstall-old-"
)

// VerifyOptions selects which tasks are checked after writing
type VerifyOptions struct {
	Archives    bool
	Directories bool
}

// Options configures an Installer
type Options struct {
	// Workers bounds parallel file writes; zero derives it from the CPU
	// count and the target storage
	Workers      int
	MaxBytes     int64
	MaxRatio     float64
	RatioFloor   int64
	MinFreeBytes int64
	MaxInMemory  int64
	ScratchDir   string
	NameEncoding encoding.Encoding
	Verify       VerifyOptions
	// AllOrNothing stops the batch at the first failure
	AllOrNothing bool
	// DeleteSource removes sources once everything they held is installed
	DeleteSource bool
	// SimRoot is never deleted as a source, nor anything containing it
	SimRoot string
	Cache   *metacache.Cache
	Logger  *log.Logger
}

// Failure is one task that did not complete
type Failure struct {
	TaskID  string
	Name    string
	Kind    addons.ErrorKind
	Message string
	Err     error `json:"-"`
}

// Outcome describes one finished task
type Outcome struct {
	TaskID   string
	Name     string
	Target   string
	Mode     addons.InstallMode
	Bytes    int64
	Duration time.Duration
	// Restored lists user data put back by clean and atomic installs
	Restored []string
	Layers   archive.ChainStats
}

// Report is the result of a batch
type Report struct {
	Succeeded      []string
	Failed         []Failure
	Outcomes       []Outcome
	DeletedSources []string
}

// Err summarizes the batch: nil, or ErrPartialBatch wrapping the failures
func (r *Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := []error{addons.ErrPartialBatch}
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %s", f.Name, f.Message))
	}
	return errors.Join(errs...)
}

// Installer runs install tasks one at a time; files within a task are written
// in parallel
type Installer struct {
	opts   Options
	log    *log.Logger
	backup *addons.BackupManager
}

// New creates an installer, filling unset limits with defaults
func New(opts Options) *Installer {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.MaxRatio <= 0 {
		opts.MaxRatio = DefaultMaxRatio
	}
	if opts.RatioFloor < 0 {
		opts.RatioFloor = 0
	} else if opts.RatioFloor == 0 {
		opts.RatioFloor = DefaultRatioFloor
	}
	if opts.MinFreeBytes <= 0 {
		opts.MinFreeBytes = DefaultMinFree
	}
	if opts.MaxInMemory <= 0 {
		opts.MaxInMemory = DefaultMaxInMemory
	}
	if opts.Cache == nil {
		opts.Cache = metacache.New(metacache.Options{})
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Installer{
		opts:   opts,
		log:    logger,
		backup: addons.NewBackupManager(opts.ScratchDir),
	}
}

func (in *Installer) chainOptions() archive.ChainOptions {
	return archive.ChainOptions{
		MaxInMemory:  in.opts.MaxInMemory,
		ScratchDir:   in.opts.ScratchDir,
		NameEncoding: in.opts.NameEncoding,
	}
}

// workersFor picks the pool size for writes below target
func (in *Installer) workersFor(target string) int {
	if in.opts.Workers > 0 {
		return in.opts.Workers
	}
	if isRotational(existingAncestor(target)) {
		return hddWorkers
	}
	return min(runtime.NumCPU()*2, maxWorkers)
}

// Install runs every enabled task in order. A failing task never stops its
// siblings unless AllOrNothing is set; cancelling ctx cancels the running task
// and every task after it
func (in *Installer) Install(ctx context.Context, tasks []addons.InstallTask, progress ProgressFunc) *Report {
	report := &Report{}
	var enabled []addons.InstallTask
	for _, t := range tasks {
		if t.Enabled {
			enabled = append(enabled, t)
		}
	}

	stop := false
	for i := range enabled {
		task := enabled[i]
		base := Event{TaskIndex: i, TotalTasks: len(enabled), TaskID: task.ID, TaskName: task.DisplayName}
		rep := newReporter(progress, base)

		if stop || ctx.Err() != nil {
			err := addons.ErrCancelled
			if stop {
				err = fmt.Errorf("%w: skipped after an earlier failure", addons.ErrPartialBatch)
			}
			report.fail(&task, err)
			rep.finish(phaseFor(err), err)
			continue
		}

		outcome, err := in.run(ctx, &task, rep)
		if err != nil {
			report.fail(&task, err)
			in.logFailure(&task, err)
			if in.opts.AllOrNothing {
				stop = true
			}
			continue
		}
		report.Succeeded = append(report.Succeeded, task.ID)
		report.Outcomes = append(report.Outcomes, *outcome)
	}

	if in.opts.DeleteSource {
		report.DeletedSources = in.deleteSources(ctx, tasks, report)
	}
	return report
}

func (r *Report) fail(task *addons.InstallTask, err error) {
	r.Failed = append(r.Failed, Failure{
		TaskID:  task.ID,
		Name:    task.DisplayName,
		Kind:    addons.KindOf(err),
		Message: err.Error(),
		Err:     err,
	})
}

func phaseFor(err error) Phase {
	if addons.KindOf(err) == addons.KindCancelled {
		return PhaseCancelled
	}
	return PhaseFailed
}

func (in *Installer) logFailure(task *addons.InstallTask, err error) {
	kind := addons.KindOf(err)
	if kind.IsSecurity() {
		in.log.Error("Task rejected", "task", task.DisplayName, "kind", kind, "security", true, "error", err)
		return
	}
	in.log.Warn("Task failed", "task", task.DisplayName, "kind", kind, "error", err)
}

// run drives one task through its states
func (in *Installer) run(ctx context.Context, task *addons.InstallTask, rep *reporter) (out *Outcome, err error) {
	started := time.Now()
	sm := &stateMachine{}
	rep.phase(PhasePreparing)

	defer func() {
		if err == nil {
			return
		}
		if ctx.Err() != nil && !errors.Is(err, addons.ErrCancelled) {
			err = fmt.Errorf("%w: %v", addons.ErrCancelled, err)
		}
		if addons.KindOf(err) == addons.KindCancelled {
			_ = sm.to(StateCancelled)
		} else {
			_ = sm.to(StateFailed)
		}
		rep.finish(phaseFor(err), err)
	}()

	if err := in.checkBudget(ctx, task); err != nil {
		return nil, err
	}

	pl := in.payloadFor(task, rep)
	defer func() {
		if cerr := pl.close(); cerr != nil {
			in.log.Warn("Failed to release sources", "task", task.DisplayName, "error", cerr)
		}
	}()

	next := StateCopying
	if pl.phase() == PhaseExtracting {
		next = StateExtracting
	}
	if err := sm.to(next); err != nil {
		return nil, err
	}
	rep.start(pl.phase(), task.EstimatedSize)

	in.log.Info("Installing",
		"task", task.DisplayName,
		"kind", task.Kind,
		"mode", task.Mode,
		"target", task.TargetPath,
		"size", humanize.IBytes(uint64(max(task.EstimatedSize, 0))),
	)

	verify := func(ctx context.Context) error {
		if !in.shouldVerify(task) {
			return nil
		}
		if err := sm.to(StateVerifying); err != nil {
			return err
		}
		rep.phase(PhaseVerifying)
		return pl.verify(ctx)
	}

	var restored []string
	switch in.effectiveMode(task) {
	case addons.ModeAtomic:
		restored, err = in.installAtomic(ctx, task, pl, verify, rep)
	case addons.ModeClean:
		restored, err = in.installClean(ctx, task, pl, verify, rep)
	default:
		err = in.installOverwrite(ctx, task, pl, verify, rep)
	}
	if err != nil {
		return nil, err
	}

	if err := sm.to(StateDone); err != nil {
		return nil, err
	}
	rep.finish(PhaseDone, nil)

	out = &Outcome{
		TaskID:   task.ID,
		Name:     task.DisplayName,
		Target:   task.TargetPath,
		Mode:     in.effectiveMode(task),
		Bytes:    rep.bytes(),
		Duration: time.Since(started),
		Restored: restored,
	}
	if ap, ok := pl.(*archivePayload); ok {
		out.Layers = ap.stats()
	}
	in.log.Info("Task installed", "task", task.DisplayName, "bytes", humanize.IBytes(uint64(out.Bytes)), "took", out.Duration.Round(time.Millisecond))
	return out, nil
}

func (in *Installer) payloadFor(task *addons.InstallTask, rep *reporter) payload {
	opts := writeOptions{
		workers:  in.workersFor(task.TargetPath),
		maxBytes: in.opts.MaxBytes,
		rep:      rep,
	}
	if task.Item.IsArchive() {
		return &archivePayload{item: task.Item, chainOpts: in.chainOptions(), opts: opts}
	}
	return &dirPayload{root: task.Item.EffectiveRoot, opts: opts}
}

func (in *Installer) shouldVerify(task *addons.InstallTask) bool {
	if task.Item.IsArchive() {
		return in.opts.Verify.Archives
	}
	return in.opts.Verify.Directories
}

// effectiveMode resolves the mode actually used. Navdata shares its
// destination with unrelated files and is never removed wholesale; a task
// without an existing target has nothing to clean
func (in *Installer) effectiveMode(task *addons.InstallTask) addons.InstallMode {
	if task.Mode == addons.ModeClean && (task.Kind == addons.KindNavdata || !exists(task.TargetPath)) {
		return addons.ModeOverwrite
	}
	return task.Mode
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

// existingAncestor returns p or its closest existing parent
func existingAncestor(p string) string {
	for {
		if exists(p) {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
