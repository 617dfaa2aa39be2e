// Package testutil builds on-disk and in-memory add-on fixtures for tests
package testutil

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/yeka/zip"
)

// Files maps slash-separated paths to contents. Paths ending in "/" denote
// directories
type Files map[string]string

func (f Files) sortedNames() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteTree materializes files below root
func WriteTree(t testing.TB, root string, files Files) {
	t.Helper()
	for _, name := range files.sortedNames() {
		p := filepath.Join(root, filepath.FromSlash(name))
		if strings.HasSuffix(name, "/") {
			if err := os.MkdirAll(p, 0o755); err != nil {
				t.Fatalf("mkdir %s: %v", p, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(p), err)
		}
		if err := os.WriteFile(p, []byte(files[name]), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
}

// ZipOptions controls how ZipBytes encodes entries
type ZipOptions struct {
	Password   string
	Encryption zip.EncryptionMethod
}

// ZipBytes returns a ZIP archive containing files
func ZipBytes(t testing.TB, files Files) []byte {
	t.Helper()
	return ZipBytesWith(t, files, ZipOptions{})
}

// ZipBytesWith returns a ZIP archive, encrypting file entries when a password
// is set. Encryption defaults to AES-256
func ZipBytesWith(t testing.TB, files Files, opts ZipOptions) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range files.sortedNames() {
		if strings.HasSuffix(name, "/") {
			if _, err := w.Create(name); err != nil {
				t.Fatalf("zip dir %s: %v", name, err)
			}
			continue
		}

		var (
			fw  io.Writer
			err error
		)
		if opts.Password != "" {
			method := opts.Encryption
			if method == 0 {
				method = zip.AES256Encryption
			}
			fw, err = w.Encrypt(name, opts.Password, method)
		} else {
			fw, err = w.Create(name)
		}
		if err != nil {
			t.Fatalf("zip entry %s: %v", name, err)
		}
		if _, err := fw.Write([]byte(files[name])); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// WriteZip writes a ZIP archive of files to path and returns path
func WriteZip(t testing.TB, path string, files Files) string {
	t.Helper()
	return WriteFile(t, path, ZipBytes(t, files))
}

// WriteEncryptedZip writes an AES-256 encrypted ZIP archive to path
func WriteEncryptedZip(t testing.TB, path, password string, files Files) string {
	t.Helper()
	return WriteFile(t, path, ZipBytesWith(t, files, ZipOptions{Password: password}))
}

// WriteFile writes data to path, creating parent directories
func WriteFile(t testing.TB, path string, data []byte) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// ReadTree returns every regular file below root keyed by slash path
func ReadTree(t testing.TB, root string) Files {
	t.Helper()
	out := Files{}
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("read tree %s: %v", root, err)
	}
	return out
}
