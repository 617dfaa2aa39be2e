package metacache

import (
	"os"
	"time"

	"github.com/bnema/xpinstall/internal/archive"
)

// DefaultTTL is how long an archive listing stays valid
const DefaultTTL = 5 * time.Minute

// Key identifies one version of an archive. A rewritten file gets a new key
// because its modification time or size changes
type Key struct {
	Path    string
	ModTime int64 // unix nanoseconds
	Size    int64
}

// KeyFor stats path and returns its cache key
func KeyFor(path string) (Key, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Key{}, err
	}
	return Key{Path: path, ModTime: info.ModTime().UnixNano(), Size: info.Size()}, nil
}

// Listing is the memoized view of an archive's entries
type Listing struct {
	Format            archive.Format
	Entries           []archive.Entry
	TotalUncompressed int64
	FileCount         int
	CompressedSize    int64
	ComputedAt        time.Time
}

// NewListing summarizes an open archive
func NewListing(a *archive.Archive) *Listing {
	return &Listing{
		Format:            a.Format(),
		Entries:           a.Entries(),
		TotalUncompressed: a.TotalSize(),
		FileCount:         a.FileCount(),
		CompressedSize:    a.CompressedSize(),
	}
}

// SubtreeSize sums the declared sizes of files below an internal root
func (l *Listing) SubtreeSize(root string) (size int64, files int) {
	for _, e := range l.Entries {
		if e.IsDir {
			continue
		}
		if _, ok := archive.RelativeTo(root, e.Path); ok {
			size += e.Size
			files++
		}
	}
	return size, files
}

// CheckPaths fails on the first entry whose path could leave an extraction
// directory, whatever subtree is later extracted
func (l *Listing) CheckPaths() error {
	for _, e := range l.Entries {
		if _, err := archive.SanitizePath(e.Path); err != nil {
			return err
		}
	}
	return nil
}

// Options configures a Cache
type Options struct {
	TTL        time.Duration
	MaxEntries int
	// Now overrides the clock, for tests
	Now func() time.Time
}

// Cache memoizes archive listings. It is safe for concurrent use
type Cache struct {
	listings *store[Key, *Listing]
}

// New creates a listing cache
func New(opts Options) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{listings: newStore[Key, *Listing](opts.MaxEntries, ttl, opts.Now)}
}

// Get returns the listing for key if it is still fresh
func (c *Cache) Get(key Key) (*Listing, bool) {
	return c.listings.get(key)
}

// Put stores a listing, replacing any previous value for key
func (c *Cache) Put(key Key, l *Listing) {
	l.ComputedAt = c.listings.now()
	c.listings.put(key, l, l.ComputedAt)
}

// GetOrCompute returns the cached listing or computes and stores a new one.
// Concurrent misses may compute twice; recomputation is idempotent
func (c *Cache) GetOrCompute(key Key, compute func() (*Listing, error)) (*Listing, error) {
	if l, ok := c.Get(key); ok {
		return l, nil
	}
	l, err := compute()
	if err != nil {
		return nil, err
	}
	c.Put(key, l)
	return l, nil
}

// Len returns the number of stored listings, including not yet swept ones
func (c *Cache) Len() int { return c.listings.len() }

// Purge drops everything
func (c *Cache) Purge() { c.listings.purge() }

// SubtreeCompressed estimates the compressed bytes below an internal root.
// Formats without per-entry compressed sizes get a share of the archive size
// proportional to the subtree's uncompressed size
func (l *Listing) SubtreeCompressed(root string) int64 {
	var packed, unpacked int64
	known := true
	for _, e := range l.Entries {
		if e.IsDir {
			continue
		}
		if _, ok := archive.RelativeTo(root, e.Path); !ok {
			continue
		}
		unpacked += e.Size
		if e.CompressedSize < 0 {
			known = false
			continue
		}
		packed += e.CompressedSize
	}
	if known {
		return packed
	}
	if l.TotalUncompressed <= 0 {
		return l.CompressedSize
	}
	return int64(float64(l.CompressedSize) * float64(unpacked) / float64(l.TotalUncompressed))
}
