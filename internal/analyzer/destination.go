package analyzer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/bnema/xpinstall/internal/addons"
)

// Destination folders below the simulator root
const (
	AircraftDir      = "Aircraft"
	CustomSceneryDir = "Custom Scenery"
	PluginsDir       = "Resources/plugins"
	CustomDataDir    = "Custom Data"
	GNS430Dir        = "GNS430"
	LiveriesDir      = "liveries"
)

// liverySearchDepth bounds the walk for a livery's aircraft below Aircraft/
const liverySearchDepth = 5

// aircraftIndex maps lower-cased .acf stems to the directories holding them
type aircraftIndex struct {
	once sync.Once
	root string
	dirs map[string]string
	err  error
}

func newAircraftIndex(simRoot string) *aircraftIndex {
	return &aircraftIndex{root: filepath.Join(simRoot, AircraftDir)}
}

func (x *aircraftIndex) lookup(stem string) (string, bool, error) {
	x.once.Do(x.build)
	if x.err != nil {
		return "", false, x.err
	}
	dir, ok := x.dirs[strings.ToLower(stem)]
	return dir, ok, nil
}

func (x *aircraftIndex) build() {
	x.dirs = map[string]string{}
	if _, err := os.Stat(x.root); err != nil {
		if os.IsNotExist(err) {
			return
		}
		x.err = err
		return
	}

	var mu sync.Mutex
	found := map[string][]string{}
	conf := fastwalk.Config{Follow: false}
	x.err = fastwalk.Walk(&conf, x.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(x.root, p)
		depth := strings.Count(filepath.ToSlash(rel), "/") + 1
		if d.IsDir() {
			if p != x.root && depth >= liverySearchDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(p), ".acf") {
			return nil
		}
		stem := strings.ToLower(strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)))
		mu.Lock()
		found[stem] = append(found[stem], filepath.Dir(p))
		mu.Unlock()
		return nil
	})
	// Shallowest, then lexically first, wins when a stem exists twice
	for stem, dirs := range found {
		sort.Slice(dirs, func(i, j int) bool {
			if len(dirs[i]) != len(dirs[j]) {
				return len(dirs[i]) < len(dirs[j])
			}
			return dirs[i] < dirs[j]
		})
		x.dirs[stem] = dirs[0]
	}
}

// validName checks a display name can be used as one path component
func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: invalid package name %q", addons.ErrPathTraversal, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: invalid package name %q", addons.ErrPathTraversal, name)
	}
	return nil
}

// destination returns where an item installs below simRoot
func (a *Analyzer) destination(item addons.DetectedItem, simRoot string, aircraft *aircraftIndex) (string, error) {
	if err := validName(item.DisplayName); err != nil {
		return "", err
	}

	switch item.Kind {
	case addons.KindAircraft:
		return filepath.Join(simRoot, AircraftDir, item.DisplayName), nil
	case addons.KindScenery, addons.KindSceneryLibrary:
		return filepath.Join(simRoot, CustomSceneryDir, item.DisplayName), nil
	case addons.KindPlugin:
		return filepath.Join(simRoot, filepath.FromSlash(PluginsDir), item.DisplayName), nil
	case addons.KindNavdata:
		if item.Navdata != nil && item.Navdata.IsGNS430 {
			return filepath.Join(simRoot, CustomDataDir, GNS430Dir), nil
		}
		return filepath.Join(simRoot, CustomDataDir), nil
	case addons.KindLivery:
		dir, ok, err := aircraft.lookup(item.AircraftHint)
		if err != nil {
			return "", fmt.Errorf("search aircraft for %s: %w", item.DisplayName, err)
		}
		if !ok {
			return "", fmt.Errorf("%w: %s.acf for livery %s", addons.ErrLiveryAircraftMissing, item.AircraftHint, item.DisplayName)
		}
		return filepath.Join(dir, LiveriesDir, item.DisplayName), nil
	}
	return "", fmt.Errorf("unknown add-on kind %s", item.Kind)
}

// isFilesystemRoot reports whether p is "/" or a volume root like C:\
func isFilesystemRoot(p string) bool {
	clean := filepath.Clean(p)
	return filepath.Dir(clean) == clean
}

// overlaps reports whether one of the two paths equals or contains the other
func overlaps(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	return within(a, b) || within(b, a)
}

func within(parent, p string) bool {
	rel, err := filepath.Rel(parent, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
