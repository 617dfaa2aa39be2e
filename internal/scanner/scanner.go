package scanner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding"

	"github.com/bnema/xpinstall/internal/addons"
	"github.com/bnema/xpinstall/internal/archive"
	"github.com/bnema/xpinstall/internal/metacache"
)

const (
	// DefaultMaxDepth bounds how deep a tree is inspected for markers
	DefaultMaxDepth = 16
	// DefaultArchiveMaxDepth bounds archive nesting, the outer archive counting as one
	DefaultArchiveMaxDepth = 4
	// DefaultMaxInMemory is the largest nested layer decoded from memory
	DefaultMaxInMemory = 256 << 20
)

// Options configures a Scanner
type Options struct {
	// Passwords maps an archive path or a chain key to its password
	Passwords       map[string]string
	MaxDepth        int
	ArchiveMaxDepth int
	NameEncoding    encoding.Encoding
	// Workers bounds how many inputs are scanned at once
	Workers     int
	Logger      *log.Logger
	Cache       *metacache.Cache
	MaxInMemory int64
	ScratchDir  string
}

// Input is one path handed to the scanner
type Input struct {
	Path string
	// Original is what the user supplied, a URL for cloned sources.
	// Empty means Path
	Original string
}

// Result is everything a scan found
type Result struct {
	Items    []addons.DetectedItem
	Warnings []string
	Errors   []string
	// PasswordRequired lists archive keys that need a (different) password
	PasswordRequired []string
}

// Scanner classifies directories and archives into detected items
type Scanner struct {
	opts Options
	log  *log.Logger
}

// New creates a scanner, filling unset options with defaults
func New(opts Options) *Scanner {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.ArchiveMaxDepth <= 0 {
		opts.ArchiveMaxDepth = DefaultArchiveMaxDepth
	}
	if opts.MaxInMemory <= 0 {
		opts.MaxInMemory = DefaultMaxInMemory
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Cache == nil {
		opts.Cache = metacache.New(metacache.Options{})
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Scanner{opts: opts, log: logger}
}

// collector gathers results from concurrent input scans
type collector struct {
	mu       sync.Mutex
	result   Result
	pwSeen   map[string]bool
	warnSeen map[string]bool
}

func newCollector() *collector {
	return &collector{pwSeen: map[string]bool{}, warnSeen: map[string]bool{}}
}

func (c *collector) item(it addons.DetectedItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.Items = append(c.result.Items, it)
}

func (c *collector) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warnSeen[msg] {
		return
	}
	c.warnSeen[msg] = true
	c.result.Warnings = append(c.result.Warnings, msg)
}

func (c *collector) fail(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.Errors = append(c.result.Errors, fmt.Sprintf(format, args...))
}

// password records key once per batch
func (c *collector) password(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pwSeen[key] {
		return
	}
	c.pwSeen[key] = true
	c.result.PasswordRequired = append(c.result.PasswordRequired, key)
}

// Scan classifies every input. A failing input never stops the others; its
// error is recorded in the result
func (s *Scanner) Scan(ctx context.Context, inputs []Input) (*Result, error) {
	col := newCollector()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, in := range inputs {
		g.Go(func() error {
			s.scanInput(gctx, in, col)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := col.result
	sort.SliceStable(res.Items, func(i, j int) bool {
		a, b := res.Items[i], res.Items[j]
		if a.SourcePath() != b.SourcePath() {
			return a.SourcePath() < b.SourcePath()
		}
		return a.Kind < b.Kind
	})
	sort.Strings(res.Warnings)
	sort.Strings(res.Errors)
	sort.Strings(res.PasswordRequired)
	return &res, nil
}

func (s *Scanner) scanInput(ctx context.Context, in Input, col *collector) {
	p := filepath.Clean(in.Path)
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	original := in.Original
	if original == "" {
		original = p
	}

	info, err := os.Stat(p)
	if err != nil {
		col.fail("%s: %v", p, err)
		return
	}

	var found int
	switch {
	case info.IsDir():
		found = s.scanDir(ctx, p, original, col)
	case archive.IsArchiveName(p) || s.sniff(ctx, p):
		found = s.scanArchiveFile(ctx, p, original, col)
	}
	if found == 0 && ctx.Err() == nil {
		s.log.Debug("No add-on detected", "path", p)
		col.warn("%s: %s: %v", addons.KindNotAnAddon, p, addons.ErrNotAnAddon)
	}
}

func (s *Scanner) sniff(ctx context.Context, p string) bool {
	_, err := archive.Identify(ctx, p)
	return err == nil
}

// passwordFor looks up the chain key first, then the outer archive path
func (s *Scanner) passwordFor(chain addons.ArchiveChain) string {
	if pw, ok := s.opts.Passwords[chain.Key()]; ok {
		return pw
	}
	return s.opts.Passwords[chain.Outer()]
}

// displayName derives the human label for a root
func displayName(root, fallback string) string {
	if root != "" {
		return base(filepath.ToSlash(root))
	}
	name := path.Base(filepath.ToSlash(fallback))
	if ext := path.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}
