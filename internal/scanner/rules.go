package scanner

import (
	"path"
	"strings"
)

const (
	acfExt          = ".acf"
	dsfExt          = ".dsf"
	xplExt          = ".xpl"
	libraryFileName = "library.txt"
	cycleFileName   = "cycle.json"
	earthNavData    = "earth nav data"
	liveryIconSufx  = "_icon11.png"
	objectsDirName  = "objects"
)

// platformDirs are the per-architecture folders plugins ship their binaries
// in. A .xpl inside one of them belongs to the folder's parent
var platformDirs = map[string]bool{
	"32":            true,
	"64":            true,
	"win":           true,
	"mac":           true,
	"lin":           true,
	"win32":         true,
	"win64":         true,
	"mac32":         true,
	"mac64":         true,
	"lin32":         true,
	"lin64":         true,
	"win_x64":       true,
	"mac_x64":       true,
	"lin_x64":       true,
	"win_x86":       true,
	"lin_x86":       true,
	"win_arm64":     true,
	"mac_arm64":     true,
	"lin_arm64":     true,
	"mac_universal": true,
	"universal":     true,
	"x64":           true,
	"x86":           true,
	"arm64":         true,
	"aarch64":       true,
	"amd64":         true,
	"windows":       true,
	"linux":         true,
	"macos":         true,
	"osx":           true,
}

// IsPlatformDir reports whether name is a recognized platform folder
func IsPlatformDir(name string) bool {
	return platformDirs[strings.ToLower(name)]
}

// isJunk reports paths produced by archivers and version control that never
// belong to an add-on: macOS resource forks and VCS metadata
func isJunk(p string) bool {
	for _, part := range strings.Split(p, "/") {
		switch {
		case part == "__MACOSX", part == ".git", part == ".svn", part == ".DS_Store":
			return true
		case strings.HasPrefix(part, "._"):
			return true
		}
	}
	return false
}

func hasExt(name, ext string) bool {
	return strings.EqualFold(path.Ext(name), ext)
}

// parent returns the directory of p, "" at the top level
func parent(p string) string {
	d := path.Dir(p)
	if d == "." || d == "/" {
		return ""
	}
	return d
}

func base(p string) string {
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// depthOf counts path components
func depthOf(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// under reports whether p equals root or lies below it
func under(root, p string) bool {
	if root == "" {
		return true
	}
	return p == root || strings.HasPrefix(p, root+"/")
}
