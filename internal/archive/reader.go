package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"

	"golang.org/x/text/encoding"
)

// Entry describes one member of an archive
type Entry struct {
	Path           string // normalized, slash separated
	Size           int64  // uncompressed size as declared by the header
	CompressedSize int64  // -1 when the format does not expose it per entry
	IsDir          bool
	Encrypted      bool
	Mode           fs.FileMode
	CRC32          uint32 // 0 when unknown
}

// IsSymlink reports whether the entry is a symbolic link
func (e Entry) IsSymlink() bool {
	return e.Mode&fs.ModeSymlink != 0
}

// Options configures how an archive is opened
type Options struct {
	Password string
	// NameEncoding decodes ZIP entry names that are neither flagged nor valid
	// UTF-8. Nil selects code page 437
	NameEncoding encoding.Encoding
}

// source is the per-format backend behind an Archive
type source interface {
	list() []Entry
	open(e Entry) (io.ReadCloser, error)
	// walk visits every entry in storage order, the only access pattern
	// that is efficient for solid archives
	walk(ctx context.Context, fn func(e Entry, r io.Reader) error) error
	close() error
}

// Archive is an open archive handle. It is not safe for concurrent use;
// Clone returns an independent handle for another goroutine
type Archive struct {
	name   string
	path   string
	data   []byte
	format Format
	opts   Options
	size   int64

	src     source
	entries []Entry
	index   map[string]int
}

// Open opens the archive at filePath. The format is taken from the extension
// and sniffed from content when the extension is not recognized
func Open(ctx context.Context, filePath string, opts Options) (*Archive, error) {
	format, err := Identify(ctx, filePath)
	if err != nil {
		return nil, err
	}
	return OpenFormat(filePath, format, opts)
}

// OpenFormat opens the archive at filePath as the given format
func OpenFormat(filePath string, format Format, opts Options) (*Archive, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		name:   filePath,
		path:   filePath,
		format: format,
		opts:   opts,
		size:   info.Size(),
	}
	if err := a.init(); err != nil {
		return nil, err
	}
	return a, nil
}

// OpenBytes opens an archive held entirely in memory. name is used for error
// messages and nested-chain bookkeeping only
func OpenBytes(name string, data []byte, format Format, opts Options) (*Archive, error) {
	if format == FormatUnknown {
		format = FormatFromExt(name)
	}
	a := &Archive{
		name:   name,
		data:   data,
		format: format,
		opts:   opts,
		size:   int64(len(data)),
	}
	if err := a.init(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archive) init() error {
	var (
		src source
		err error
	)
	switch a.format {
	case FormatZip:
		src, err = openZip(a)
	case FormatSevenZip:
		src, err = openSevenZip(a)
	case FormatRar:
		src, err = openRar(a)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, a.name)
	}
	if err != nil {
		return err
	}

	a.src = src
	a.entries = src.list()
	a.index = make(map[string]int, len(a.entries))
	for i, e := range a.entries {
		if _, dup := a.index[e.Path]; !dup {
			a.index[e.Path] = i
		}
	}
	return nil
}

// Clone opens an independent handle on the same archive
func (a *Archive) Clone() (*Archive, error) {
	if a.path != "" {
		return OpenFormat(a.path, a.format, a.opts)
	}
	return OpenBytes(a.name, a.data, a.format, a.opts)
}

// Name returns the path or label the archive was opened with
func (a *Archive) Name() string { return a.name }

// Format returns the container format
func (a *Archive) Format() Format { return a.format }

// CompressedSize returns the size of the container itself
func (a *Archive) CompressedSize() int64 { return a.size }

// InMemory reports whether the archive is backed by a byte buffer
func (a *Archive) InMemory() bool { return a.data != nil }

// Entries returns every entry, in storage order
func (a *Archive) Entries() []Entry { return a.entries }

// Lookup returns the entry with the given normalized path
func (a *Archive) Lookup(p string) (Entry, bool) {
	i, ok := a.index[p]
	if !ok {
		return Entry{}, false
	}
	return a.entries[i], true
}

// TotalSize returns the sum of declared uncompressed sizes
func (a *Archive) TotalSize() int64 {
	var total int64
	for _, e := range a.entries {
		if !e.IsDir {
			total += e.Size
		}
	}
	return total
}

// FileCount returns the number of non-directory entries
func (a *Archive) FileCount() int {
	n := 0
	for _, e := range a.entries {
		if !e.IsDir {
			n++
		}
	}
	return n
}

// HasEncrypted reports whether any entry header declares encryption
func (a *Archive) HasEncrypted() bool {
	for _, e := range a.entries {
		if e.Encrypted {
			return true
		}
	}
	return false
}

// OpenEntry opens the entry at the given internal path for reading
func (a *Archive) OpenEntry(p string) (io.ReadCloser, error) {
	e, ok := a.Lookup(p)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrEntryNotFound, p, a.name)
	}
	return a.src.open(e)
}

// ReadFile reads an entry fully into memory. A positive limit caps the number
// of bytes read; entries declaring more fail with ErrSizeLimit
func (a *Archive) ReadFile(p string, limit int64) ([]byte, error) {
	e, ok := a.Lookup(p)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrEntryNotFound, p, a.name)
	}
	if limit > 0 && e.Size > limit {
		return nil, fmt.Errorf("%w: %s declares %d bytes", ErrSizeLimit, p, e.Size)
	}

	rc, err := a.src.open(e)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}
	var buf bytes.Buffer
	if e.Size > 0 {
		buf.Grow(int(e.Size))
	}
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, a.readError(e, err)
	}
	if limit > 0 && int64(buf.Len()) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrSizeLimit, p, limit)
	}
	return buf.Bytes(), nil
}

// Walk visits entries in storage order with a reader positioned on each
// entry's content. Directory entries get an empty reader
func (a *Archive) Walk(ctx context.Context, fn func(e Entry, r io.Reader) error) error {
	return a.src.walk(ctx, fn)
}

// CheckPassword verifies that the archive can be decrypted with the password
// it was opened with by decoding the smallest encrypted (or, when headers do
// not say, the smallest) file. Archives with nothing to decrypt return nil
func (a *Archive) CheckPassword() error {
	probe, ok := a.probeEntry()
	if !ok {
		return nil
	}
	if a.format == FormatZip && a.opts.Password == "" {
		return fmt.Errorf("%w: %s", ErrPasswordRequired, a.name)
	}

	rc, err := a.src.open(probe)
	if err != nil {
		return a.readError(probe, err)
	}
	defer func() { _ = rc.Close() }()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return a.readError(probe, err)
	}
	return nil
}

func (a *Archive) probeEntry() (Entry, bool) {
	var candidates []Entry
	for _, e := range a.entries {
		if e.IsDir || e.IsSymlink() {
			continue
		}
		// ZIP headers are authoritative about encryption
		if a.format == FormatZip && !e.Encrypted {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return Entry{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Size < candidates[j].Size
	})
	return candidates[0], true
}

// readError classifies a content read failure. Errors that already carry a
// package sentinel, or a context error, pass through unchanged
func (a *Archive) readError(e Entry, err error) error {
	for _, known := range []error{
		ErrPasswordRequired, ErrPasswordIncorrect, ErrCorrupted, ErrEntryNotFound,
		ErrSizeLimit, ErrPathTraversal, context.Canceled, context.DeadlineExceeded,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	if classified := classify(a.format, err, a.opts.Password); classified != nil {
		return fmt.Errorf("%w: %s in %s", classified, e.Path, a.name)
	}
	if e.Encrypted || (a.opts.Password != "" && a.format != FormatZip) {
		return fmt.Errorf("%w: %s in %s: %v", ErrPasswordIncorrect, e.Path, a.name, err)
	}
	return fmt.Errorf("%w: %s in %s: %v", ErrCorrupted, e.Path, a.name, err)
}

// Close releases the underlying file handle
func (a *Archive) Close() error {
	if a.src == nil {
		return nil
	}
	return a.src.close()
}

// classify maps a backend error to one of the package sentinels, or nil when
// the error carries no password information
func classify(format Format, err error, password string) error {
	switch format {
	case FormatRar:
		return classifyRar(err, password)
	case FormatSevenZip:
		return classifySevenZip(err, password)
	}
	return nil
}
