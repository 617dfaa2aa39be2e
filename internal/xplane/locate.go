// Package xplane finds X-Plane installations on this machine
package xplane

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Versions whose install registry files are read, newest first
var Versions = []int{12, 11, 10}

var (
	ErrNotFound   = errors.New("no X-Plane installation found")
	ErrAmbiguous  = errors.New("several X-Plane installations found")
	ErrNotXPlane  = errors.New("not an X-Plane root")
	markerFolders = []string{"Resources", "Custom Scenery", "Aircraft"}
)

// Install is one X-Plane installation listed by the simulator itself
type Install struct {
	Root    string
	Version int
}

// RegistryDirs returns where X-Plane writes x-plane_install_NN.txt on this OS
func RegistryDirs() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{os.Getenv("LOCALAPPDATA")}
	case "darwin":
		return []string{filepath.Join(xdg.Home, "Library", "Preferences")}
	default:
		return []string{filepath.Join(xdg.Home, ".x-plane")}
	}
}

// Discover reads the install registry files in dirs and returns every listed
// root that still looks like X-Plane. Newer versions come first
func Discover(logger *log.Logger, dirs ...string) []Install {
	seen := make(map[string]bool)
	var found []Install
	for _, version := range Versions {
		for _, dir := range dirs {
			if dir == "" {
				continue
			}
			registry := filepath.Join(dir, fmt.Sprintf("x-plane_install_%d.txt", version))
			roots, err := readRegistry(registry)
			if err != nil {
				if !os.IsNotExist(err) {
					logger.Debug("Failed to read install registry", "path", registry, "error", err)
				}
				continue
			}
			for _, root := range roots {
				clean := filepath.Clean(root)
				if seen[clean] {
					continue
				}
				seen[clean] = true
				if err := Validate(clean); err != nil {
					logger.Debug("Skipping stale install", "root", clean, "error", err)
					continue
				}
				found = append(found, Install{Root: clean, Version: version})
			}
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].Version > found[j].Version })
	return found
}

// readRegistry returns the non-empty lines of a registry file
func readRegistry(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var roots []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			roots = append(roots, line)
		}
	}
	return roots, sc.Err()
}

// Locate returns the single discovered root. Several installs of the newest
// version are ambiguous; older versions never shadow a newer one
func Locate(logger *log.Logger, dirs ...string) (string, error) {
	found := Discover(logger, dirs...)
	if len(found) == 0 {
		return "", ErrNotFound
	}
	var newest []string
	for _, in := range found {
		if in.Version == found[0].Version {
			newest = append(newest, in.Root)
		}
	}
	if len(newest) > 1 {
		return "", fmt.Errorf("%w: %s", ErrAmbiguous, strings.Join(newest, ", "))
	}
	logger.Debug("X-Plane root located", "root", newest[0], "version", found[0].Version)
	return newest[0], nil
}

// Validate checks that root is a directory holding at least one of the
// folders every X-Plane install has
func Validate(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNotXPlane, root)
	}
	for _, name := range markerFolders {
		if fi, err := os.Stat(filepath.Join(root, name)); err == nil && fi.IsDir() {
			return nil
		}
	}
	return fmt.Errorf("%w: %s has none of %s", ErrNotXPlane, root, strings.Join(markerFolders, ", "))
}
