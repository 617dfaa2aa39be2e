package archive

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		`Aircraft\A320\a320.acf`: "Aircraft/A320/a320.acf",
		"./Foo//bar/":            "Foo/bar",
		"/abs/path":              "abs/path",
		"plain.txt":              "plain.txt",
		"../up":                  "../up",
	}
	for in, want := range tests {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizePath(t *testing.T) {
	ok := map[string]string{
		"a/b/c.txt":   "a/b/c.txt",
		"a/./b":       "a/b",
		`dir\file`:    "dir/file",
		"a//b":        "a/b",
		"..foo/bar..": "..foo/bar..",
	}
	for in, want := range ok {
		got, err := SanitizePath(in)
		if err != nil {
			t.Fatalf("SanitizePath(%q) unexpected error: %v", in, err)
		}
		if got != want {
			t.Errorf("SanitizePath(%q) = %q, want %q", in, got, want)
		}
	}

	bad := []string{"../evil", "a/../../b", "/etc/passwd", `C:\Windows`, "c:/x", `..\evil`}
	for _, in := range bad {
		if _, err := SanitizePath(in); !errors.Is(err, ErrPathTraversal) {
			t.Errorf("SanitizePath(%q) error = %v, want ErrPathTraversal", in, err)
		}
	}
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()

	got, err := SafeJoin(root, "Aircraft/A320/a320.acf")
	if err != nil {
		t.Fatalf("SafeJoin: %v", err)
	}
	want := filepath.Join(root, "Aircraft", "A320", "a320.acf")
	if got != want {
		t.Errorf("SafeJoin = %q, want %q", got, want)
	}

	if _, err := SafeJoin(root, "x/../../escape"); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("SafeJoin traversal error = %v, want ErrPathTraversal", err)
	}
}

func TestRelativeTo(t *testing.T) {
	tests := []struct {
		root, p, want string
		ok            bool
	}{
		{"", "a/b", "a/b", true},
		{"A320", "A320", "", true},
		{"A320", "A320/a320.acf", "a320.acf", true},
		{"A320", "A3200/a.acf", "", false},
		{"pack/A320", "pack/other", "", false},
	}
	for _, tt := range tests {
		got, ok := RelativeTo(tt.root, tt.p)
		if got != tt.want || ok != tt.ok {
			t.Errorf("RelativeTo(%q, %q) = %q, %v; want %q, %v", tt.root, tt.p, got, ok, tt.want, tt.ok)
		}
	}
}
