// Package analyzer turns detected items into install tasks
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/text/encoding"

	"github.com/bnema/xpinstall/internal/addons"
	"github.com/bnema/xpinstall/internal/archive"
	"github.com/bnema/xpinstall/internal/metacache"
)

// DefaultSizeWarning marks tasks above this estimated size
const DefaultSizeWarning = 5 << 30

// Options configures an Analyzer
type Options struct {
	// SizeWarningBytes flags larger tasks; negative disables the warning
	SizeWarningBytes int64
	Backup           addons.BackupOptions
	Logger           *log.Logger
	Cache            *metacache.Cache
	DirSizes         *metacache.DirSizes
	NameEncoding     encoding.Encoding
	MaxInMemory      int64
	ScratchDir       string
}

// Result is the outcome of one analysis
type Result struct {
	Tasks            []addons.InstallTask
	Errors           []string
	Warnings         []string
	PasswordRequired []string
}

// Analyzer resolves destinations, conflicts and sizes for detected items
type Analyzer struct {
	opts Options
	log  *log.Logger
}

// New creates an analyzer
func New(opts Options) *Analyzer {
	if opts.SizeWarningBytes == 0 {
		opts.SizeWarningBytes = DefaultSizeWarning
	}
	if opts.Cache == nil {
		opts.Cache = metacache.New(metacache.Options{})
	}
	if opts.DirSizes == nil {
		opts.DirSizes = metacache.NewDirSizes(metacache.Options{})
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Analyzer{opts: opts, log: logger}
}

func (a *Analyzer) chainOptions() archive.ChainOptions {
	return archive.ChainOptions{
		MaxInMemory:  a.opts.MaxInMemory,
		ScratchDir:   a.opts.ScratchDir,
		NameEncoding: a.opts.NameEncoding,
	}
}

// Analyze deduplicates items and builds one task per survivor. Problems with
// single items are reported in the result and never abort the others
func (a *Analyzer) Analyze(ctx context.Context, items []addons.DetectedItem, simRoot string) (*Result, error) {
	if simRoot == "" {
		return nil, errors.New("no simulator root given")
	}
	simRoot, err := filepath.Abs(simRoot)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	locked := map[string]bool{}
	var candidates []addons.DetectedItem
	for _, it := range items {
		if it.RequiresPassword {
			key := it.Chain.Key()
			if !locked[key] {
				locked[key] = true
				res.PasswordRequired = append(res.PasswordRequired, key)
			}
			continue
		}
		if !it.IsArchive() && isFilesystemRoot(it.EffectiveRoot) {
			res.fail(fmt.Errorf("%w: %s (%s)", addons.ErrUnsafeRoot, it.EffectiveRoot, it.Kind))
			continue
		}
		candidates = append(candidates, it)
	}

	kept := Deduplicate(candidates)
	a.log.Debug("Deduplicated detections", "detected", len(candidates), "kept", len(kept))

	aircraft := newAircraftIndex(simRoot)
	targets := map[string]string{}
	for _, it := range kept {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		task, err := a.buildTask(ctx, it, simRoot, aircraft)
		if err != nil {
			res.fail(fmt.Errorf("%s: %w", it.SourcePath(), err))
			continue
		}
		if other, ok := targets[task.TargetPath]; ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s and %s install into %s", other, task.DisplayName, task.TargetPath))
		}
		targets[task.TargetPath] = task.DisplayName
		if task.SizeWarning {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s is large: %s", task.DisplayName, humanize.IBytes(uint64(task.EstimatedSize))))
		}
		res.Tasks = append(res.Tasks, *task)
	}

	sort.Strings(res.PasswordRequired)
	return res, nil
}

func (r *Result) fail(err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", addons.KindOf(err), err))
}

func (a *Analyzer) buildTask(ctx context.Context, it addons.DetectedItem, simRoot string, aircraft *aircraftIndex) (*addons.InstallTask, error) {
	target, err := a.destination(it, simRoot, aircraft)
	if err != nil {
		return nil, err
	}
	if !it.IsArchive() && overlaps(it.EffectiveRoot, target) {
		return nil, fmt.Errorf("%w: %s and %s", addons.ErrSourceOverlapsTarget, it.EffectiveRoot, target)
	}

	est, err := a.estimate(ctx, it)
	if err != nil {
		return nil, fmt.Errorf("estimate size: %w", err)
	}

	task := &addons.InstallTask{
		ID:             uuid.NewString(),
		Kind:           it.Kind,
		DisplayName:    it.DisplayName,
		SourcePath:     it.SourcePath(),
		TargetPath:     target,
		Item:           it,
		EstimatedSize:  est.Bytes,
		FileCount:      est.Files,
		CompressedSize: est.Compressed,
		SizeWarning:    a.opts.SizeWarningBytes > 0 && est.Bytes > a.opts.SizeWarningBytes,
		Mode:           addons.ModeOverwrite,
		Enabled:        true,
	}

	if _, err := os.Stat(target); err == nil {
		task.ConflictExists = true
		task.Mode = addons.ModeClean
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if it.Kind == addons.KindAircraft {
		task.Backup = a.opts.Backup
	}
	if it.Kind == addons.KindNavdata && it.Navdata != nil {
		task.NewCycle = it.Navdata.Cycle
		if task.ConflictExists {
			task.ExistingCycle = existingCycle(target, it.Navdata)
		}
	}

	a.log.Debug("Task planned",
		"name", task.DisplayName,
		"kind", task.Kind,
		"target", task.TargetPath,
		"size", humanize.IBytes(uint64(task.EstimatedSize)),
		"conflict", task.ConflictExists,
	)
	return task, nil
}

// existingCycle reads the cycle of navdata already installed at target
func existingCycle(target string, meta *addons.NavdataMeta) string {
	name := meta.CycleFile
	if name == "" {
		name = addons.CycleFileName
	}
	info, err := addons.ReadCycleFile(filepath.Join(target, filepath.FromSlash(name)))
	if err != nil {
		return ""
	}
	return info.Cycle
}
