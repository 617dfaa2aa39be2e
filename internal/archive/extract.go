package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ExtractOptions tunes ExtractSubtree
type ExtractOptions struct {
	// Filter, when set, is asked about every path relative to the subtree
	// root; returning false skips the entry
	Filter func(rel string) bool
	// Workers bounds parallel file writes. RAR archives are always extracted
	// sequentially
	Workers int
	// MaxBytes caps the bytes actually written, guarding against headers
	// that under-declare sizes. Zero disables the check
	MaxBytes int64
	// OnFile is called before each file is written
	OnFile func(rel string)
	// OnBytes is called with the size of every chunk written
	OnBytes func(n int64)
	// OnCreate is called for every file or directory that did not exist
	// before extraction, before it is created
	OnCreate func(path string, isDir bool)
}

// Extracted is one file written by ExtractSubtree
type Extracted struct {
	Entry Entry
	Rel   string
	Dest  string
}

type plannedFile struct {
	entry Entry
	rel   string
	dest  string
}

// ExtractSubtree writes every entry below internalRoot into target, keeping
// the structure relative to internalRoot. All entry paths are validated before
// anything is written, so a single traversal attempt aborts the whole call
// without side effects. Symlink entries are skipped
func (a *Archive) ExtractSubtree(ctx context.Context, internalRoot, target string, opts ExtractOptions) ([]Extracted, error) {
	internalRoot = NormalizePath(internalRoot)

	dirs := map[string]struct{}{}
	var files []plannedFile
	for _, e := range a.entries {
		rel, ok := RelativeTo(internalRoot, e.Path)
		if !ok || rel == "" || e.IsSymlink() {
			continue
		}
		if opts.Filter != nil && !opts.Filter(rel) {
			continue
		}
		dest, err := SafeJoin(target, rel)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.name, err)
		}
		if e.IsDir {
			dirs[dest] = struct{}{}
			continue
		}
		dirs[filepath.Dir(dest)] = struct{}{}
		files = append(files, plannedFile{entry: e, rel: rel, dest: dest})
	}

	if err := a.createDirs(target, dirs, opts); err != nil {
		return nil, err
	}

	var written atomic.Int64
	limit := opts.MaxBytes
	count := func(n int64) error {
		total := written.Add(n)
		if limit > 0 && total > limit {
			return fmt.Errorf("%w: wrote more than %d bytes from %s", ErrSizeLimit, limit, a.name)
		}
		if opts.OnBytes != nil {
			opts.OnBytes(n)
		}
		return nil
	}

	var err error
	if a.format == FormatRar || opts.Workers <= 1 || len(files) < 2 {
		err = a.extractSequential(ctx, files, opts, count)
	} else {
		err = a.extractParallel(ctx, files, opts, count)
	}
	if err != nil {
		return nil, err
	}

	out := make([]Extracted, len(files))
	for i, f := range files {
		out[i] = Extracted{Entry: f.entry, Rel: f.rel, Dest: f.dest}
	}
	return out, nil
}

func (a *Archive) createDirs(target string, dirs map[string]struct{}, opts ExtractOptions) error {
	dirs[filepath.Clean(target)] = struct{}{}
	ordered := make([]string, 0, len(dirs))
	for d := range dirs {
		ordered = append(ordered, d)
	}
	sort.Strings(ordered)

	for _, d := range ordered {
		if opts.OnCreate != nil {
			if err := reportMissingDirs(d, opts.OnCreate); err != nil {
				return err
			}
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}
	return nil
}

// reportMissingDirs announces every missing directory on the way to dir,
// outermost first
func reportMissingDirs(dir string, onCreate func(string, bool)) error {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		_, err := os.Lstat(d)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		missing = append(missing, d)
		if parent := filepath.Dir(d); parent == d {
			break
		}
	}
	for i := len(missing) - 1; i >= 0; i-- {
		onCreate(missing[i], true)
	}
	return nil
}

func (a *Archive) extractSequential(ctx context.Context, files []plannedFile, opts ExtractOptions, count func(int64) error) error {
	wanted := make(map[string]*plannedFile, len(files))
	for i := range files {
		wanted[files[i].entry.Path] = &files[i]
	}
	var current Entry
	err := a.src.walk(ctx, func(e Entry, r io.Reader) error {
		current = e
		f, ok := wanted[e.Path]
		if !ok || e.IsDir {
			return nil
		}
		delete(wanted, e.Path)
		return a.writeEntry(ctx, f, r, opts, count)
	})
	if err != nil {
		return a.readError(current, err)
	}
	return nil
}

func (a *Archive) extractParallel(ctx context.Context, files []plannedFile, opts ExtractOptions, count func(int64) error) error {
	workers := opts.Workers
	if workers > len(files) {
		workers = len(files)
	}

	jobs := make(chan *plannedFile)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i := range files {
			select {
			case jobs <- &files[i]:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var cloneMu sync.Mutex
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			// Each worker owns its own handle; archive readers are not
			// safe for concurrent use
			cloneMu.Lock()
			handle, err := a.Clone()
			cloneMu.Unlock()
			if err != nil {
				return err
			}
			defer func() { _ = handle.Close() }()

			for f := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				rc, err := handle.src.open(f.entry)
				if err != nil {
					return handle.readError(f.entry, err)
				}
				err = a.writeEntry(gctx, f, rc, opts, count)
				_ = rc.Close()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *Archive) writeEntry(ctx context.Context, f *plannedFile, r io.Reader, opts ExtractOptions, count func(int64) error) error {
	if opts.OnFile != nil {
		opts.OnFile(f.rel)
	}
	if opts.OnCreate != nil {
		if _, err := os.Lstat(f.dest); errors.Is(err, os.ErrNotExist) {
			opts.OnCreate(f.dest, false)
		}
	}

	mode := os.FileMode(0o644)
	if f.entry.Mode&0o111 != 0 {
		mode = 0o755
	}
	out, err := os.OpenFile(f.dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", f.dest, err)
	}

	_, copyErr := io.Copy(out, &countingReader{ctx: ctx, r: r, count: count})
	closeErr := out.Close()
	if copyErr != nil {
		return a.readError(f.entry, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", f.dest, closeErr)
	}
	return nil
}

// countingReader reports progress per chunk and aborts on cancellation or
// when the byte budget is exhausted
type countingReader struct {
	ctx   context.Context
	r     io.Reader
	count func(int64) error
}

func (c *countingReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.r.Read(p)
	if n > 0 {
		if cerr := c.count(int64(n)); cerr != nil {
			return n, cerr
		}
	}
	return n, err
}

// ExtractFile copies a single entry to dest, creating parent directories
func (a *Archive) ExtractFile(ctx context.Context, internalPath, dest string) error {
	e, ok := a.Lookup(internalPath)
	if !ok {
		return fmt.Errorf("%w: %s in %s", ErrEntryNotFound, internalPath, a.name)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	rc, err := a.src.open(e)
	if err != nil {
		return a.readError(e, err)
	}
	defer func() { _ = rc.Close() }()

	f := &plannedFile{entry: e, rel: Base(e.Path), dest: dest}
	return a.writeEntry(ctx, f, rc, ExtractOptions{}, func(int64) error { return nil })
}
