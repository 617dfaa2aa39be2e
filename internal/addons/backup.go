package addons

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// LiveriesDir is the aircraft sub-folder holding liveries
const LiveriesDir = "liveries"

// BackupManager preserves user data of an aircraft across a Clean install
type BackupManager struct {
	scratchDir string
}

// NewBackupManager creates a backup manager writing below scratchDir
func NewBackupManager(scratchDir string) *BackupManager {
	return &BackupManager{scratchDir: scratchDir}
}

// Snapshot is the user data saved from one target directory
type Snapshot struct {
	Dir      string
	Liveries []string // livery folder names
	Configs  []string // slash paths relative to the target
}

// Empty reports whether nothing was saved
func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.Liveries) == 0 && len(s.Configs) == 0)
}

// RestoreResult reports what Restore put back
type RestoreResult struct {
	Liveries        []string
	SkippedLiveries []string // shipped again by the new package
	Configs         []string
}

// Backup copies livery folders and config files matching opts out of target.
// A missing target yields an empty snapshot
func (bm *BackupManager) Backup(target string, opts BackupOptions) (*Snapshot, error) {
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		return &Snapshot{}, nil
	}

	// Validate patterns before touching the disk
	for _, pattern := range opts.ConfigPatterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid config pattern %q", pattern)
		}
	}

	if err := os.MkdirAll(bm.scratchDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	dir, err := os.MkdirTemp(bm.scratchDir, "backup-")
	if err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	snap := &Snapshot{Dir: dir}

	if opts.Liveries {
		if err := bm.backupLiveries(target, snap); err != nil {
			_ = os.RemoveAll(dir)
			return nil, err
		}
	}

	if len(opts.ConfigPatterns) > 0 {
		if err := bm.backupConfigs(target, opts.ConfigPatterns, snap); err != nil {
			_ = os.RemoveAll(dir)
			return nil, err
		}
	}

	return snap, nil
}

func (bm *BackupManager) backupLiveries(target string, snap *Snapshot) error {
	entries, err := os.ReadDir(filepath.Join(target, LiveriesDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		src := filepath.Join(target, LiveriesDir, entry.Name())
		dst := filepath.Join(snap.Dir, LiveriesDir, entry.Name())
		if err := copyDir(src, dst); err != nil {
			return fmt.Errorf("failed to backup livery %s: %w", entry.Name(), err)
		}
		snap.Liveries = append(snap.Liveries, entry.Name())
	}
	return nil
}

func (bm *BackupManager) backupConfigs(target string, patterns []string, snap *Snapshot) error {
	err := filepath.WalkDir(target, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		rel, err := filepath.Rel(target, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			// Liveries are handled separately
			if rel == LiveriesDir {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !MatchesAny(patterns, rel) {
			return nil
		}

		dst := filepath.Join(snap.Dir, "configs", filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		if err := copyFile(p, dst); err != nil {
			return fmt.Errorf("failed to backup %s: %w", rel, err)
		}
		snap.Configs = append(snap.Configs, rel)
		return nil
	})
	sort.Strings(snap.Configs)
	return err
}

// MatchesAny reports whether rel matches one of the glob patterns. Patterns
// without a slash are matched against the base name only
func MatchesAny(patterns []string, rel string) bool {
	base := path.Base(rel)
	for _, pattern := range patterns {
		subject := rel
		if !strings.Contains(pattern, "/") {
			subject = base
		}
		if ok, _ := doublestar.Match(pattern, subject); ok {
			return true
		}
		// Case-insensitive fallback; add-on authors are inconsistent
		if ok, _ := doublestar.Match(strings.ToLower(pattern), strings.ToLower(subject)); ok {
			return true
		}
	}
	return false
}

// Restore puts saved data back into target. Liveries the new package ships
// itself are left as installed; config files always overwrite
func (bm *BackupManager) Restore(snap *Snapshot, target string) (*RestoreResult, error) {
	result := &RestoreResult{}
	if snap.Empty() {
		return result, nil
	}

	for _, name := range snap.Liveries {
		dst := filepath.Join(target, LiveriesDir, name)
		if _, err := os.Stat(dst); err == nil {
			result.SkippedLiveries = append(result.SkippedLiveries, name)
			continue
		}
		src := filepath.Join(snap.Dir, LiveriesDir, name)
		if err := copyDir(src, dst); err != nil {
			return result, fmt.Errorf("failed to restore livery %s: %w", name, err)
		}
		result.Liveries = append(result.Liveries, name)
	}

	for _, rel := range snap.Configs {
		src := filepath.Join(snap.Dir, "configs", filepath.FromSlash(rel))
		dst := filepath.Join(target, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return result, err
		}
		if err := copyFile(src, dst); err != nil {
			return result, fmt.Errorf("failed to restore %s: %w", rel, err)
		}
		result.Configs = append(result.Configs, rel)
	}

	return result, nil
}

// Discard removes the snapshot from disk
func (bm *BackupManager) Discard(snap *Snapshot) error {
	if snap == nil || snap.Dir == "" {
		return nil
	}
	return os.RemoveAll(snap.Dir)
}

// copyDir recursively copies a directory
func copyDir(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dst, srcInfo.Mode().Perm()|0700); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
		} else if entry.Type().IsRegular() {
			if err := copyFile(srcPath, dstPath); err != nil {
				return err
			}
		}
	}

	return nil
}

// copyFile copies a single file
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = srcFile.Close() }()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return err
	}
	return dstFile.Close()
}
