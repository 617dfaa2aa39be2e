package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bodgit/sevenzip"
)

type sevenZipSource struct {
	closer  io.Closer
	files   []*sevenzip.File
	entries []Entry
	byPath  map[string]int
}

func openSevenZip(a *Archive) (source, error) {
	var (
		reader *sevenzip.Reader
		closer io.Closer
		err    error
	)
	pw := a.opts.Password
	if a.data != nil {
		ra := bytes.NewReader(a.data)
		if pw != "" {
			reader, err = sevenzip.NewReaderWithPassword(ra, int64(len(a.data)), pw)
		} else {
			reader, err = sevenzip.NewReader(ra, int64(len(a.data)))
		}
	} else {
		var rc *sevenzip.ReadCloser
		if pw != "" {
			rc, err = sevenzip.OpenReaderWithPassword(a.path, pw)
		} else {
			rc, err = sevenzip.OpenReader(a.path)
		}
		if err == nil {
			reader = &rc.Reader
			closer = rc
		}
	}
	if err != nil {
		if classified := classifySevenZip(err, pw); classified != nil {
			return nil, fmt.Errorf("%w: %s", classified, a.name)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, a.name, err)
	}

	src := &sevenZipSource{
		closer:  closer,
		files:   reader.File,
		entries: make([]Entry, 0, len(reader.File)),
		byPath:  make(map[string]int, len(reader.File)),
	}
	for _, f := range reader.File {
		info := f.FileInfo()
		p := NormalizePath(f.Name)
		if _, dup := src.byPath[p]; !dup {
			src.byPath[p] = len(src.entries)
		}
		src.entries = append(src.entries, Entry{
			Path:           p,
			Size:           int64(f.UncompressedSize),
			CompressedSize: -1,
			IsDir:          info.IsDir(),
			Mode:           info.Mode(),
			CRC32:          f.CRC32,
		})
	}
	return src, nil
}

func (s *sevenZipSource) list() []Entry { return s.entries }

func (s *sevenZipSource) open(e Entry) (io.ReadCloser, error) {
	i, ok := s.byPath[e.Path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, e.Path)
	}
	if e.IsDir {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return s.files[i].Open()
}

// walk reads files in folder order so solid blocks are decoded once
func (s *sevenZipSource) walk(ctx context.Context, fn func(e Entry, r io.Reader) error) error {
	for i, f := range s.files {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := s.entries[i]
		if e.IsDir {
			if err := fn(e, bytes.NewReader(nil)); err != nil {
				return err
			}
			continue
		}
		rc, err := f.Open()
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

func (s *sevenZipSource) close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func classifySevenZip(err error, password string) error {
	var readErr *sevenzip.ReadError
	if errors.As(err, &readErr) && readErr.Encrypted {
		if password == "" {
			return ErrPasswordRequired
		}
		return ErrPasswordIncorrect
	}
	return nil
}
