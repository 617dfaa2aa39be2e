package addons

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bnema/xpinstall/internal/archive"
)

// Kind is the category of an add-on package
type Kind int

const (
	KindAircraft Kind = iota
	KindScenery
	KindSceneryLibrary
	KindPlugin
	KindNavdata
	KindLivery
)

var kindNames = map[Kind]string{
	KindAircraft:       "aircraft",
	KindScenery:        "scenery",
	KindSceneryLibrary: "scenery-library",
	KindPlugin:         "plugin",
	KindNavdata:        "navdata",
	KindLivery:         "livery",
}

var kindLabels = map[Kind]string{
	KindAircraft:       "Aircraft",
	KindScenery:        "Scenery",
	KindSceneryLibrary: "Scenery Library",
	KindPlugin:         "Plugin",
	KindNavdata:        "Navdata",
	KindLivery:         "Livery",
}

// String returns the machine name used in logs and the history file
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Label returns the human-readable name
func (k Kind) Label() string {
	if label, ok := kindLabels[k]; ok {
		return label
	}
	return k.String()
}

// Priority orders kinds when two detections share one root; higher wins
func (k Kind) Priority() int {
	switch k {
	case KindAircraft:
		return 6
	case KindScenery:
		return 5
	case KindSceneryLibrary:
		return 4
	case KindPlugin:
		return 3
	case KindNavdata:
		return 2
	case KindLivery:
		return 1
	}
	return 0
}

// ParseKind parses a kind's machine name
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown add-on kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ArchiveLayer is one step of an ArchiveChain
type ArchiveLayer = archive.Layer

// ArchiveChain describes how to reach a payload through nested archives,
// outermost first. An empty chain means a plain directory
type ArchiveChain []ArchiveLayer

// ChainSeparator joins layer paths in chain keys
const ChainSeparator = archive.ChainSeparator

// Key returns the chain's identity, "outer.zip!inner/middle.zip!..."
func (c ArchiveChain) Key() string { return archive.ChainKey(c) }

// Outer returns the on-disk archive path
func (c ArchiveChain) Outer() string {
	if len(c) == 0 {
		return ""
	}
	return c[0].Path
}

// Layers returns the chain as archive layers
func (c ArchiveChain) Layers() []archive.Layer { return c }

// Innermost returns the layer holding the payload
func (c ArchiveChain) Innermost() ArchiveLayer {
	if len(c) == 0 {
		return ArchiveLayer{}
	}
	return c[len(c)-1]
}

// Extend returns a copy of c with one more layer
func (c ArchiveChain) Extend(layer ArchiveLayer) ArchiveChain {
	out := make(ArchiveChain, len(c), len(c)+1)
	copy(out, c)
	return append(out, layer)
}

// AllFormat reports whether every layer has format f
func (c ArchiveChain) AllFormat(f archive.Format) bool {
	for _, layer := range c {
		if layer.Format != f {
			return false
		}
	}
	return len(c) > 0
}

// NavdataMeta is the parsed content of a navdata cycle.json
type NavdataMeta struct {
	Cycle        string
	ProviderName string
	IsGNS430     bool
	// CycleFile is the marker's slash path relative to the effective root
	CycleFile string
}

// DetectedItem is one candidate install unit found by the scanner
type DetectedItem struct {
	Kind Kind
	// EffectiveRoot is an absolute directory for plain sources, or an internal
	// path inside the innermost archive ("" for its top level)
	EffectiveRoot    string
	Chain            ArchiveChain
	DisplayName      string
	RequiresPassword bool
	Navdata          *NavdataMeta
	// AircraftHint is the .acf stem a livery belongs to
	AircraftHint string
	// OriginalInput is the path or URL the user supplied
	OriginalInput string
}

// IsArchive reports whether the item lives inside an archive
func (d DetectedItem) IsArchive() bool { return len(d.Chain) > 0 }

// SourcePath renders the item's location for display and error messages
func (d DetectedItem) SourcePath() string {
	if !d.IsArchive() {
		return d.EffectiveRoot
	}
	if d.EffectiveRoot == "" {
		return d.Chain.Key()
	}
	return d.Chain.Key() + ChainSeparator + d.EffectiveRoot
}

// RootComponents returns the item's root as a path of components shared by
// plain and archived sources. Archive layers contribute their path components,
// so an item inside a nested archive descends from an item rooted at the
// directory holding that archive
func (d DetectedItem) RootComponents() []string {
	var parts []string
	if !d.IsArchive() {
		return splitComponents(filepath.ToSlash(filepath.Clean(d.EffectiveRoot)))
	}
	parts = append(parts, splitComponents(filepath.ToSlash(filepath.Clean(d.Chain.Outer())))...)
	for _, layer := range d.Chain[1:] {
		parts = append(parts, splitComponents(layer.Path)...)
	}
	return append(parts, splitComponents(d.EffectiveRoot)...)
}

// RootKey is RootComponents joined into a comparable string
func (d DetectedItem) RootKey() string {
	return path.Join(d.RootComponents()...)
}

func splitComponents(p string) []string {
	var out []string
	for _, part := range strings.Split(p, "/") {
		if part != "" && part != "." {
			out = append(out, part)
		}
	}
	return out
}

// InstallMode selects how a task replaces an existing destination
type InstallMode int

const (
	ModeOverwrite InstallMode = iota
	ModeClean
	ModeAtomic
)

// String returns the mode name
func (m InstallMode) String() string {
	switch m {
	case ModeOverwrite:
		return "overwrite"
	case ModeClean:
		return "clean"
	case ModeAtomic:
		return "atomic"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseInstallMode parses a mode name
func ParseInstallMode(s string) (InstallMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "overwrite", "merge":
		return ModeOverwrite, nil
	case "clean":
		return ModeClean, nil
	case "atomic":
		return ModeAtomic, nil
	}
	return 0, fmt.Errorf("unknown install mode %q", s)
}

func (m InstallMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *InstallMode) UnmarshalText(b []byte) error {
	parsed, err := ParseInstallMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// BackupOptions lists the user data a Clean install preserves (aircraft only)
type BackupOptions struct {
	Liveries       bool
	ConfigPatterns []string
}

// InstallTask is one confirmed unit of work for the installer
type InstallTask struct {
	ID          string
	Kind        Kind
	DisplayName string
	SourcePath  string
	TargetPath  string
	Item        DetectedItem

	ConflictExists bool
	ExistingCycle  string
	NewCycle       string

	EstimatedSize  int64
	FileCount      int
	CompressedSize int64
	SizeWarning    bool

	Mode    InstallMode
	Backup  BackupOptions
	Enabled bool
}
