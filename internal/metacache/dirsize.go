package metacache

import (
	"io/fs"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"
)

// DefaultDirTTL is kept short: directories change under the user's hands
// far more often than downloaded archives
const DefaultDirTTL = 30 * time.Second

// DirSize is the aggregate size of a directory tree
type DirSize struct {
	Bytes int64
	Files int
}

// DirSizes memoizes recursive directory sizes
type DirSizes struct {
	sizes *store[string, DirSize]
}

// NewDirSizes creates a directory size cache
func NewDirSizes(opts Options) *DirSizes {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultDirTTL
	}
	return &DirSizes{sizes: newStore[string, DirSize](opts.MaxEntries, ttl, opts.Now)}
}

// Size returns the cached or freshly computed size of dir
func (d *DirSizes) Size(dir string) (DirSize, error) {
	dir = filepath.Clean(dir)
	if s, ok := d.sizes.get(dir); ok {
		return s, nil
	}
	s, err := MeasureDir(dir)
	if err != nil {
		return DirSize{}, err
	}
	d.sizes.put(dir, s, d.sizes.now())
	return s, nil
}

// MeasureDir walks dir concurrently and sums regular file sizes. Symlinks are
// not followed
func MeasureDir(dir string) (DirSize, error) {
	var total, files atomic.Int64
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees do not count
			if path != dir {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total.Add(info.Size())
		files.Add(1)
		return nil
	})
	if err != nil {
		return DirSize{}, err
	}
	return DirSize{Bytes: total.Load(), Files: int(files.Load())}, nil
}
