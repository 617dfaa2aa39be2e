// Package session ties scanning, analysis and installation together around
// caches and a scratch directory that live as long as one user session
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/text/encoding"

	"github.com/bnema/xpinstall/internal/addons"
	"github.com/bnema/xpinstall/internal/analyzer"
	"github.com/bnema/xpinstall/internal/installer"
	"github.com/bnema/xpinstall/internal/metacache"
	"github.com/bnema/xpinstall/internal/scanner"
)

var (
	ErrNoTargetRoot = errors.New("X-Plane root not set")
	ErrTargetRoot   = errors.New("X-Plane root is not a directory")
	ErrClosed       = errors.New("session closed")
)

// Options configures a Session. Install carries the installer limits; the
// session fills in its cache, scratch directory and logger
type Options struct {
	// ScratchDir is where the session creates its private scratch directory
	ScratchDir      string
	CacheTTL        time.Duration
	DirCacheTTL     time.Duration
	CacheEntries    int
	MaxDepth        int
	ArchiveMaxDepth int
	NameEncoding    encoding.Encoding
	MaxInMemory     int64
	// SizeWarningBytes flags larger tasks; negative disables the warning
	SizeWarningBytes int64
	Backup           addons.BackupOptions
	Install          installer.Options
	// History, when set, records every successfully installed task
	History *addons.HistoryStore
	Logger  *log.Logger
}

// AnalyzeRequest is one analysis call
type AnalyzeRequest struct {
	// Paths are files, directories or git URLs
	Paths      []string
	TargetRoot string
	// Passwords maps an archive path or chain key to its password
	Passwords map[string]string
	Verify    installer.VerifyOptions
	// GitProgress receives clone progress output; nil discards it
	GitProgress io.Writer
}

// AnalysisResult is what the caller confirms before installing
type AnalysisResult struct {
	Tasks            []addons.InstallTask
	Errors           []string
	Warnings         []string
	PasswordRequired []string
	TargetRoot       string
	Verify           installer.VerifyOptions
}

// Session owns the metadata caches and scratch space shared by every scan
// and install it runs. It is safe for concurrent use
type Session struct {
	opts     Options
	log      *log.Logger
	cache    *metacache.Cache
	dirSizes *metacache.DirSizes
	scratch  string

	mu      sync.Mutex
	closed  bool
	lastReq AnalyzeRequest
}

// New creates a session and its scratch directory
func New(opts Options) (*Session, error) {
	parent := opts.ScratchDir
	if parent == "" {
		parent = os.TempDir()
	}
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	scratch, err := os.MkdirTemp(parent, "xpinstall-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	s := &Session{
		opts:     opts,
		log:      logger,
		cache:    metacache.New(metacache.Options{TTL: opts.CacheTTL, MaxEntries: opts.CacheEntries}),
		dirSizes: metacache.NewDirSizes(metacache.Options{TTL: opts.DirCacheTTL, MaxEntries: opts.CacheEntries}),
		scratch:  scratch,
	}
	logger.Debug("Session started", "scratch", scratch)
	return s, nil
}

// Cache returns the session's archive listing cache
func (s *Session) Cache() *metacache.Cache { return s.cache }

// ScratchDir returns the session's private scratch directory
func (s *Session) ScratchDir() string { return s.scratch }

// Analyze scans every path and turns what it finds into install tasks for
// TargetRoot. Problems with one path never stop the others; they are
// collected in the result
func (s *Session) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalysisResult, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	// Validate target
	root, err := resolveRoot(req.TargetRoot)
	if err != nil {
		return nil, err
	}

	result := &AnalysisResult{TargetRoot: root, Verify: req.Verify}
	inputs := s.inputs(ctx, req, result)

	sc := scanner.New(scanner.Options{
		Passwords:       req.Passwords,
		MaxDepth:        s.opts.MaxDepth,
		ArchiveMaxDepth: s.opts.ArchiveMaxDepth,
		NameEncoding:    s.opts.NameEncoding,
		Logger:          s.log,
		Cache:           s.cache,
		MaxInMemory:     s.opts.MaxInMemory,
		ScratchDir:      s.scratch,
	})
	scan, err := sc.Scan(ctx, inputs)
	if err != nil {
		return nil, err
	}

	an := analyzer.New(analyzer.Options{
		SizeWarningBytes: s.opts.SizeWarningBytes,
		Backup:           s.opts.Backup,
		Logger:           s.log,
		Cache:            s.cache,
		DirSizes:         s.dirSizes,
		NameEncoding:     s.opts.NameEncoding,
		MaxInMemory:      s.opts.MaxInMemory,
		ScratchDir:       s.scratch,
	})
	analysis, err := an.Analyze(ctx, scan.Items, root)
	if err != nil {
		return nil, err
	}

	result.merge(scan, analysis)

	s.mu.Lock()
	s.lastReq = req
	s.lastReq.TargetRoot = root
	s.mu.Unlock()

	s.log.Info("Analysis complete",
		"inputs", len(req.Paths),
		"tasks", len(result.Tasks),
		"errors", len(result.Errors),
		"warnings", len(result.Warnings),
		"locked", len(result.PasswordRequired),
	)
	return result, nil
}

// inputs turns user paths into scanner inputs, cloning git URLs first
func (s *Session) inputs(ctx context.Context, req AnalyzeRequest, result *AnalysisResult) []scanner.Input {
	var inputs []scanner.Input
	for _, p := range req.Paths {
		if !addons.IsGitURL(p) {
			inputs = append(inputs, scanner.Input{Path: p})
			continue
		}
		url := addons.NormalizeGitURL(p)
		s.log.Info("Cloning repository", "url", url)
		dir, err := addons.CloneSource(ctx, url, filepath.Join(s.scratch, "git"), req.GitProgress)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", p, err))
			continue
		}
		// History records which revision was installed
		original := p
		if commit, err := addons.GetCurrentCommit(dir); err == nil {
			original = p + "#" + commit
		}
		s.log.Info("Repository cloned", "url", url, "source", original)
		inputs = append(inputs, scanner.Input{Path: dir, Original: original})
	}
	return inputs
}

// Install runs the enabled tasks with the verification preferences and
// target root of the last analysis
func (s *Session) Install(ctx context.Context, tasks []addons.InstallTask, progress installer.ProgressFunc) *installer.Report {
	if err := s.check(); err != nil {
		report := &installer.Report{}
		for _, t := range tasks {
			if t.Enabled {
				report.Failed = append(report.Failed, installer.Failure{TaskID: t.ID, Name: t.DisplayName, Kind: addons.KindOf(err), Message: err.Error(), Err: err})
			}
		}
		return report
	}

	s.mu.Lock()
	req := s.lastReq
	s.mu.Unlock()

	opts := s.opts.Install
	opts.Cache = s.cache
	opts.ScratchDir = s.scratch
	opts.NameEncoding = s.opts.NameEncoding
	opts.MaxInMemory = s.opts.MaxInMemory
	opts.Verify = req.Verify
	opts.SimRoot = req.TargetRoot
	opts.Logger = s.log

	report := installer.New(opts).Install(ctx, tasks, progress)
	s.record(tasks, report)

	s.log.Info("Install complete",
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"deleted_sources", len(report.DeletedSources),
	)
	return report
}

// record writes successful tasks to the install history
func (s *Session) record(tasks []addons.InstallTask, report *installer.Report) {
	if s.opts.History == nil || len(report.Outcomes) == 0 {
		return
	}
	byID := make(map[string]addons.InstallTask, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	for _, o := range report.Outcomes {
		t := byID[o.TaskID]
		source := t.Item.OriginalInput
		if source == "" {
			source = t.SourcePath
		}
		s.opts.History.Record(o.Target, addons.HistoryEntry{
			Name:   o.Name,
			Kind:   t.Kind,
			Source: source,
			Mode:   o.Mode,
			Size:   o.Bytes,
			Cycle:  t.NewCycle,
		})
	}
	if err := s.opts.History.Save(); err != nil {
		s.log.Warn("Failed to save install history", "error", err)
	}
}

// Close removes the scratch directory, including cloned repositories.
// The session cannot be used afterwards
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cache.Purge()
	if err := os.RemoveAll(s.scratch); err != nil {
		return fmt.Errorf("failed to remove scratch directory: %w", err)
	}
	s.log.Debug("Session closed", "scratch", s.scratch)
	return nil
}

func (s *Session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func resolveRoot(root string) (string, error) {
	if root == "" {
		return "", ErrNoTargetRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrTargetRoot, abs)
	}
	return abs, nil
}

// merge appends scan and analysis findings to the result without sharing
// their backing arrays
func (r *AnalysisResult) merge(scan *scanner.Result, analysis *analyzer.Result) {
	r.Tasks = analysis.Tasks
	r.Errors = append(r.Errors, scan.Errors...)
	r.Errors = append(r.Errors, analysis.Errors...)
	r.Warnings = append(r.Warnings, scan.Warnings...)
	r.Warnings = append(r.Warnings, analysis.Warnings...)
	r.PasswordRequired = union(scan.PasswordRequired, analysis.PasswordRequired)
}

// union merges key lists without duplicates, sorted
func union(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, k := range list {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}
