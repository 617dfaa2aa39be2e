package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/bnema/xpinstall/internal/addons"
)

type verifyFunc func(ctx context.Context) error

// installOverwrite writes over whatever is at the target. Only paths the task
// created are removed when it fails
func (in *Installer) installOverwrite(ctx context.Context, task *addons.InstallTask, pl payload, verify verifyFunc, rep *reporter) error {
	j := &journal{}
	err := pl.write(ctx, task.TargetPath, j.record)
	if err == nil {
		err = verify(ctx)
	}
	if err != nil {
		in.rollback(task, j)
		return err
	}
	return nil
}

// installClean removes the target before writing. Liveries and config files
// named by the task's backup options survive the removal, also when the
// write fails
func (in *Installer) installClean(ctx context.Context, task *addons.InstallTask, pl payload, verify verifyFunc, rep *reporter) ([]string, error) {
	snap, err := in.snapshot(task)
	if err != nil {
		return nil, err
	}
	defer in.discard(snap)

	rep.phase(PhasePreparing)
	if err := removeWithRetry(ctx, task.TargetPath); err != nil {
		return nil, fmt.Errorf("failed to remove %s: %w", task.TargetPath, err)
	}
	rep.start(pl.phase(), task.EstimatedSize)

	err = pl.write(ctx, task.TargetPath, nil)
	if err == nil {
		err = verify(ctx)
	}
	if err != nil {
		if rerr := removeWithRetry(context.WithoutCancel(ctx), task.TargetPath); rerr != nil {
			in.log.Warn("Failed to remove partial install", "target", task.TargetPath, "error", rerr)
		}
		if _, rerr := in.restore(snap, task.TargetPath); rerr != nil {
			in.log.Error("User data could not be restored", "target", task.TargetPath, "backup", snap.Dir, "error", rerr)
		}
		return nil, err
	}

	rep.phase(PhaseFinalizing)
	return in.restore(snap, task.TargetPath)
}

// installAtomic writes into a staging directory beside the target and swaps
// it in with renames, so the target is either fully old or fully new
func (in *Installer) installAtomic(ctx context.Context, task *addons.InstallTask, pl payload, verify verifyFunc, rep *reporter) ([]string, error) {
	target := task.TargetPath
	parent := filepath.Dir(target)

	j := &journal{}
	if err := mkdirTracked(parent, j.record); err != nil {
		return nil, err
	}
	// Drops the parents created above unless the swap commits
	committed := false
	defer func() {
		if !committed {
			in.rollback(task, j)
		}
	}()

	if err := in.checkFreeSpace(parent, task.EstimatedSize); err != nil {
		return nil, err
	}

	stage, err := os.MkdirTemp(parent, stagePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(stage); err != nil {
			in.log.Warn("Failed to remove staging directory", "path", stage, "error", err)
		}
	}()

	if err := pl.write(ctx, stage, nil); err != nil {
		return nil, err
	}
	if err := verify(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rep.phase(PhaseFinalizing)

	// Navdata lands in a folder shared with other providers; merge instead
	// of replacing it
	if task.Kind == addons.KindNavdata {
		if _, err := copyTree(ctx, stage, target, writeOptions{workers: in.workersFor(target), rep: newReporter(nil, Event{})}, j.record); err != nil {
			return nil, err
		}
		committed = true
		return nil, nil
	}

	if !exists(target) {
		if err := os.Rename(stage, target); err != nil {
			return nil, fmt.Errorf("failed to move staged files into place: %w", err)
		}
		committed = true
		return nil, nil
	}

	snap, err := in.snapshot(task)
	if err != nil {
		return nil, err
	}
	defer in.discard(snap)

	old := filepath.Join(parent, oldPrefix+strings.TrimPrefix(filepath.Base(stage), stagePrefix))
	if err := os.Rename(target, old); err != nil {
		return nil, fmt.Errorf("failed to move %s aside: %w", target, err)
	}
	if err := os.Rename(stage, target); err != nil {
		if rerr := os.Rename(old, target); rerr != nil {
			in.log.Error("Previous install left aside", "path", old, "error", rerr)
		}
		return nil, fmt.Errorf("failed to move staged files into place: %w", err)
	}
	restored, err := in.restore(snap, target)
	if err != nil {
		// Put the previous install back
		if rerr := os.RemoveAll(target); rerr == nil {
			if rerr := os.Rename(old, target); rerr != nil {
				in.log.Error("Previous install left aside", "path", old, "error", rerr)
			}
		}
		return nil, err
	}
	committed = true

	if err := removeWithRetry(context.WithoutCancel(ctx), old); err != nil {
		in.log.Warn("Failed to remove previous install", "path", old, "error", err)
	}
	return restored, nil
}

func (in *Installer) checkFreeSpace(dir string, need int64) error {
	free, err := freeSpace(dir)
	if err != nil {
		in.log.Debug("Free space unknown", "path", dir, "error", err)
		return nil
	}
	if free < 0 {
		return nil
	}
	want := need + in.opts.MinFreeBytes
	if free < want {
		return fmt.Errorf("%w: %s free on %s, need %s", addons.ErrInsufficientSpace,
			humanize.IBytes(uint64(free)), dir, humanize.IBytes(uint64(want)))
	}
	return nil
}

// snapshot saves the user data a replacement would destroy
func (in *Installer) snapshot(task *addons.InstallTask) (*addons.Snapshot, error) {
	if task.Kind != addons.KindAircraft || (!task.Backup.Liveries && len(task.Backup.ConfigPatterns) == 0) {
		return nil, nil
	}
	snap, err := in.backup.Backup(task.TargetPath, task.Backup)
	if err != nil {
		return nil, fmt.Errorf("failed to back up user data: %w", err)
	}
	if !snap.Empty() {
		in.log.Info("Backed up user data", "task", task.DisplayName, "liveries", len(snap.Liveries), "configs", len(snap.Configs))
	}
	return snap, nil
}

func (in *Installer) restore(snap *addons.Snapshot, target string) ([]string, error) {
	if snap.Empty() {
		return nil, nil
	}
	res, err := in.backup.Restore(snap, target)
	if err != nil {
		return nil, fmt.Errorf("failed to restore user data (kept in %s): %w", snap.Dir, err)
	}
	var restored []string
	for _, name := range res.Liveries {
		restored = append(restored, filepath.ToSlash(filepath.Join(addons.LiveriesDir, name)))
	}
	restored = append(restored, res.Configs...)
	if len(res.SkippedLiveries) > 0 {
		in.log.Debug("Liveries shipped by the new package", "liveries", res.SkippedLiveries)
	}
	return restored, nil
}

func (in *Installer) discard(snap *addons.Snapshot) {
	if err := in.backup.Discard(snap); err != nil {
		in.log.Warn("Failed to remove backup", "path", snap.Dir, "error", err)
	}
}

func (in *Installer) rollback(task *addons.InstallTask, j *journal) {
	if j.len() == 0 {
		return
	}
	if err := j.rollback(); err != nil {
		in.log.Error("Rollback incomplete", "task", task.DisplayName, "error", err)
	}
}

// deleteSources removes inputs whose content was installed in full: an
// archive when every task drawn from it succeeded, a directory when it was
// itself the add-on root
func (in *Installer) deleteSources(ctx context.Context, tasks []addons.InstallTask, report *Report) []string {
	succeeded := make(map[string]bool, len(report.Succeeded))
	for _, id := range report.Succeeded {
		succeeded[id] = true
	}

	type source struct {
		path string
		ok   bool
	}
	var order []string
	sources := make(map[string]*source)
	for _, t := range tasks {
		p, eligible := in.deletable(t.Item)
		if p == "" {
			continue
		}
		s, seen := sources[p]
		if !seen {
			s = &source{path: p, ok: true}
			sources[p] = s
			order = append(order, p)
		}
		s.ok = s.ok && eligible && t.Enabled && succeeded[t.ID]
	}

	var deleted []string
	for _, p := range order {
		if !sources[p].ok {
			continue
		}
		if err := removeWithRetry(ctx, p); err != nil {
			in.log.Warn("Failed to delete source", "path", p, "error", err)
			continue
		}
		in.log.Info("Deleted source", "path", p)
		deleted = append(deleted, p)
	}
	return deleted
}

// deletable returns the on-disk source an item came from and whether removing
// it is allowed at all
func (in *Installer) deletable(item addons.DetectedItem) (string, bool) {
	orig := item.OriginalInput
	if orig == "" || isURL(orig) {
		return "", false
	}
	var p string
	if item.IsArchive() {
		p = item.Chain.Outer()
	} else {
		p = item.EffectiveRoot
	}
	if filepath.Clean(orig) != filepath.Clean(p) {
		return p, false
	}
	if filepath.Dir(p) == p {
		return p, false
	}
	if in.opts.SimRoot != "" && (within(p, in.opts.SimRoot) || within(in.opts.SimRoot, p)) {
		return p, false
	}
	return p, true
}

func isURL(s string) bool {
	return strings.Contains(s, "://") || strings.HasPrefix(s, "git@")
}

// within reports whether p is base or lies below it
func within(p, base string) bool {
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
