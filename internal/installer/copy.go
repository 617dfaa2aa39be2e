package installer

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/xpinstall/internal/addons"
)

// copiedFile is one file written by copyTree
type copiedFile struct {
	rel  string
	src  string
	dest string
	size int64
}

// copyTree copies every regular file below src into dest. Directories are all
// created before any file is written; files are then copied by a bounded
// pool of workers. Symlinks are followed once, loops are skipped
func copyTree(ctx context.Context, src, dest string, opts writeOptions, onCreate func(string, bool)) ([]copiedFile, error) {
	var (
		mu    sync.Mutex
		dirs  []string
		files []copiedFile
	)
	conf := fastwalk.Config{Follow: true}
	err := fastwalk.Walk(&conf, src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		switch {
		case info.IsDir():
			if rel != "." {
				dirs = append(dirs, rel)
			}
		case info.Mode().IsRegular():
			files = append(files, copiedFile{
				rel:  filepath.ToSlash(rel),
				src:  p,
				dest: filepath.Join(dest, rel),
				size: info.Size(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", src, err)
	}

	// Parents sort before children
	sort.Strings(dirs)
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })

	if err := mkdirTracked(dest, onCreate); err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if err := mkdirTracked(filepath.Join(dest, d), onCreate); err != nil {
			return nil, err
		}
	}

	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.workers, 1))
	for i := range files {
		f := files[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			opts.rep.file(f.rel)
			if _, err := os.Lstat(f.dest); os.IsNotExist(err) && onCreate != nil {
				onCreate(f.dest, false)
			}
			return copyFile(gctx, f, opts, &written)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// mkdirTracked creates dir, reporting it when it did not exist
func mkdirTracked(dir string, onCreate func(string, bool)) error {
	if _, err := os.Lstat(dir); err == nil {
		return nil
	}
	// Report missing ancestors first so a rollback removes them too
	if parent := filepath.Dir(dir); parent != dir {
		if err := mkdirTracked(parent, onCreate); err != nil {
			return err
		}
	}
	if onCreate != nil {
		onCreate(dir, true)
	}
	if err := os.Mkdir(dir, 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

func copyFile(ctx context.Context, f copiedFile, opts writeOptions, written *atomic.Int64) error {
	in, err := os.Open(f.src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(f.dest)
	if err != nil {
		return err
	}
	w := &progressWriter{ctx: ctx, w: out, rep: opts.rep, written: written, limit: opts.maxBytes}
	if _, err := io.Copy(w, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// progressWriter reports bytes and stops on cancellation or an exceeded budget
type progressWriter struct {
	ctx     context.Context
	w       io.Writer
	rep     *reporter
	written *atomic.Int64
	limit   int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.w.Write(b)
	total := p.written.Add(int64(n))
	if p.limit > 0 && total > p.limit {
		return n, fmt.Errorf("%w: copied more than %d bytes", addons.ErrSizeExceeded, p.limit)
	}
	p.rep.add(int64(n))
	return n, err
}

// verifyCopies hashes source and destination of every file with xxh3
func verifyCopies(ctx context.Context, files []copiedFile, opts writeOptions) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.workers, 1))
	for _, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			opts.rep.file(f.rel)
			want, err := hashFile(f.src)
			if err != nil {
				return fmt.Errorf("verify %s: %w", f.rel, err)
			}
			got, err := hashFile(f.dest)
			if err != nil {
				return fmt.Errorf("verify %s: %w", f.rel, err)
			}
			if want != got {
				return fmt.Errorf("verify %s: destination differs from source", f.rel)
			}
			return nil
		})
	}
	return g.Wait()
}

func hashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}
