package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/yeka/zip"
)

// zipMethodZstd is the APPNOTE 6.3.8 method id for Zstandard
const zipMethodZstd = 93

func init() {
	zip.RegisterDecompressor(zipMethodZstd, func(r io.Reader) io.ReadCloser {
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return io.NopCloser(errReader{err})
		}
		return dec.IOReadCloser()
	})
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

type zipSource struct {
	closer   io.Closer
	files    []*zip.File
	entries  []Entry
	byPath   map[string]int
	password string
}

func openZip(a *Archive) (source, error) {
	var (
		reader *zip.Reader
		closer io.Closer
	)
	if a.data != nil {
		r, err := zip.NewReader(bytes.NewReader(a.data), int64(len(a.data)))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, a.name, err)
		}
		reader = r
	} else {
		rc, err := zip.OpenReader(a.path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, a.name, err)
		}
		reader = &rc.Reader
		closer = rc
	}

	src := &zipSource{
		closer:   closer,
		files:    reader.File,
		entries:  make([]Entry, 0, len(reader.File)),
		byPath:   make(map[string]int, len(reader.File)),
		password: a.opts.Password,
	}
	for _, f := range reader.File {
		name := decodeName(f.Name, f.Flags, a.opts.NameEncoding)
		mode := f.Mode()
		p := NormalizePath(name)
		if _, dup := src.byPath[p]; !dup {
			src.byPath[p] = len(src.entries)
		}
		src.entries = append(src.entries, Entry{
			Path:           p,
			Size:           int64(f.UncompressedSize64),
			CompressedSize: int64(f.CompressedSize64),
			IsDir:          strings.HasSuffix(strings.ReplaceAll(name, `\`, "/"), "/") || mode.IsDir(),
			Encrypted:      f.IsEncrypted(),
			Mode:           mode,
			CRC32:          f.CRC32,
		})
	}
	return src, nil
}

func (s *zipSource) list() []Entry { return s.entries }

func (s *zipSource) fileFor(e Entry) *zip.File {
	i, ok := s.byPath[e.Path]
	if !ok {
		return nil
	}
	return s.files[i]
}

func (s *zipSource) open(e Entry) (io.ReadCloser, error) {
	f := s.fileFor(e)
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, e.Path)
	}
	return s.openFile(f, e)
}

func (s *zipSource) openFile(f *zip.File, e Entry) (io.ReadCloser, error) {
	if e.IsDir {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if f.IsEncrypted() {
		if s.password == "" {
			return nil, fmt.Errorf("%w: %s", ErrPasswordRequired, e.Path)
		}
		f.SetPassword(s.password)
	}
	rc, err := f.Open()
	if err != nil {
		if f.IsEncrypted() {
			return nil, fmt.Errorf("%w: %s: %v", ErrPasswordIncorrect, e.Path, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, e.Path, err)
	}
	return rc, nil
}

func (s *zipSource) walk(ctx context.Context, fn func(e Entry, r io.Reader) error) error {
	for i, f := range s.files {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := s.entries[i]
		rc, err := s.openFile(f, e)
		if err != nil {
			return err
		}
		err = fn(e, rc)
		_ = rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *zipSource) close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
