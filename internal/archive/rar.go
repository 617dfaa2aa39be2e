package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nwaples/rardecode/v2"
)

// rarStream is the sequential view shared by rardecode's Reader and ReadCloser
type rarStream interface {
	io.Reader
	Next() (*rardecode.FileHeader, error)
}

// rarSource has no random access: every open restarts a linear pass
type rarSource struct {
	name     string
	path     string
	data     []byte
	password string
	entries  []Entry
	byPath   map[string]int
}

func openRar(a *Archive) (source, error) {
	src := &rarSource{
		name:     a.name,
		path:     a.path,
		data:     a.data,
		password: a.opts.Password,
		byPath:   make(map[string]int),
	}

	stream, closer, err := src.stream()
	if err != nil {
		return nil, err
	}
	defer func() { _ = closer.Close() }()

	for {
		hdr, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if classified := classifyRar(err, src.password); classified != nil {
				return nil, fmt.Errorf("%w: %s", classified, a.name)
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, a.name, err)
		}
		p := NormalizePath(hdr.Name)
		if _, dup := src.byPath[p]; !dup {
			src.byPath[p] = len(src.entries)
		}
		size := hdr.UnPackedSize
		if hdr.UnKnownSize {
			size = 0
		}
		src.entries = append(src.entries, Entry{
			Path:           p,
			Size:           size,
			CompressedSize: hdr.PackedSize,
			IsDir:          hdr.IsDir,
			Encrypted:      hdr.Encrypted,
			Mode:           hdr.Mode(),
		})
	}
	return src, nil
}

func (s *rarSource) options() []rardecode.Option {
	if s.password == "" {
		return nil
	}
	return []rardecode.Option{rardecode.Password(s.password)}
}

func (s *rarSource) stream() (rarStream, io.Closer, error) {
	if s.data != nil {
		r, err := rardecode.NewReader(bytes.NewReader(s.data), s.options()...)
		if err != nil {
			return nil, nil, s.openError(err)
		}
		return r, io.NopCloser(nil), nil
	}
	rc, err := rardecode.OpenReader(s.path, s.options()...)
	if err != nil {
		return nil, nil, s.openError(err)
	}
	return rc, rc, nil
}

func (s *rarSource) openError(err error) error {
	if classified := classifyRar(err, s.password); classified != nil {
		return fmt.Errorf("%w: %s", classified, s.name)
	}
	return fmt.Errorf("%w: %s: %v", ErrCorrupted, s.name, err)
}

func (s *rarSource) list() []Entry { return s.entries }

type rarEntryReader struct {
	io.Reader
	closer io.Closer
}

func (r rarEntryReader) Close() error { return r.closer.Close() }

func (s *rarSource) open(e Entry) (io.ReadCloser, error) {
	target, ok := s.byPath[e.Path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, e.Path)
	}

	stream, closer, err := s.stream()
	if err != nil {
		return nil, err
	}
	for i := 0; ; i++ {
		_, err := stream.Next()
		if err != nil {
			_ = closer.Close()
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, e.Path)
			}
			return nil, err
		}
		if i == target {
			return rarEntryReader{Reader: stream, closer: closer}, nil
		}
	}
}

func (s *rarSource) walk(ctx context.Context, fn func(e Entry, r io.Reader) error) error {
	stream, closer, err := s.stream()
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if i >= len(s.entries) {
			return fmt.Errorf("%w: %s changed while reading", ErrCorrupted, s.name)
		}
		if err := fn(s.entries[i], stream); err != nil {
			return err
		}
	}
}

func (s *rarSource) close() error { return nil }

func classifyRar(err error, password string) error {
	switch {
	case errors.Is(err, rardecode.ErrBadPassword):
		return ErrPasswordIncorrect
	case errors.Is(err, rardecode.ErrArchiveEncrypted), errors.Is(err, rardecode.ErrArchivedFileEncrypted):
		if password == "" {
			return ErrPasswordRequired
		}
		return ErrPasswordIncorrect
	}
	return nil
}
