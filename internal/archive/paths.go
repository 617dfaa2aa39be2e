package archive

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// NormalizePath converts an entry name to the canonical form used everywhere
// in the engine: forward slashes, no leading "./" or "/", no trailing slash.
// Parent components are preserved so that SanitizePath can reject them
func NormalizePath(name string) string {
	p := strings.ReplaceAll(name, `\`, "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	p = strings.TrimLeft(p, "/")
	return strings.TrimRight(p, "/")
}

// SanitizePath validates an entry path before it is used to build a
// destination. Empty and "." components are dropped; any ".." component,
// drive letter or absolute form is rejected
func SanitizePath(name string) (string, error) {
	raw := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(raw, "/") || hasDriveLetter(raw) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}

	parts := strings.Split(raw, "/")
	clean := parts[:0]
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
		}
		if strings.ContainsRune(part, 0) {
			return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
		}
		clean = append(clean, part)
	}
	return strings.Join(clean, "/"), nil
}

func hasDriveLetter(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// SafeJoin joins a sanitized relative entry path onto root and verifies that
// the result stays inside root
func SafeJoin(root, rel string) (string, error) {
	clean, err := SanitizePath(rel)
	if err != nil {
		return "", err
	}

	root = filepath.Clean(root)
	dest := filepath.Join(root, filepath.FromSlash(clean))
	within, err := filepath.Rel(root, dest)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, rel)
	}
	return dest, nil
}

// RelativeTo returns p relative to the internal directory root. An empty
// root denotes the archive's top level
func RelativeTo(root, p string) (string, bool) {
	if root == "" {
		return p, true
	}
	if p == root {
		return "", true
	}
	if strings.HasPrefix(p, root+"/") {
		return p[len(root)+1:], true
	}
	return "", false
}

// Dir returns the parent of an internal path, "" for top-level entries
func Dir(p string) string {
	d := path.Dir(p)
	if d == "." || d == "/" {
		return ""
	}
	return d
}

// Base returns the last component of an internal path
func Base(p string) string {
	if p == "" {
		return ""
	}
	return path.Base(p)
}
