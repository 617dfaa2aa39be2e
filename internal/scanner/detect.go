package scanner

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/bnema/xpinstall/internal/addons"
)

// node is one file or directory in a tree being classified, as a slash path
// relative to the tree's top ("" is the top itself)
type node struct {
	Path  string
	IsDir bool
}

// finding is one detection before it is bound to a concrete source
type finding struct {
	kind    addons.Kind
	root    string
	navdata *addons.NavdataMeta
	hint    string
}

type findingKey struct {
	kind addons.Kind
	root string
}

// detector applies the marker rules to one tree. The same code classifies
// directory walks and archive listings
type detector struct {
	read     func(p string) ([]byte, error)
	maxDepth int

	found    map[findingKey]*finding
	order    []findingKey
	warnings []string

	acfDirs     map[string]bool
	objectsDirs map[string]bool // directories with an objects/ child
	icons       []string
}

func newDetector(maxDepth int, read func(p string) ([]byte, error)) *detector {
	return &detector{
		read:        read,
		maxDepth:    maxDepth,
		found:       make(map[findingKey]*finding),
		acfDirs:     make(map[string]bool),
		objectsDirs: make(map[string]bool),
	}
}

// detect classifies nodes and returns findings in a stable order
func (d *detector) detect(nodes []node) ([]finding, []string) {
	for _, n := range nodes {
		if n.Path == "" || isJunk(n.Path) {
			continue
		}
		if d.maxDepth > 0 && depthOf(n.Path) > d.maxDepth {
			continue
		}
		d.noteObjects(n)
		if n.IsDir {
			continue
		}
		d.classify(n.Path)
	}
	d.detectLiveries()

	out := make([]finding, 0, len(d.order))
	for _, key := range d.order {
		out = append(out, *d.found[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].root != out[j].root {
			return out[i].root < out[j].root
		}
		return out[i].kind < out[j].kind
	})
	return out, d.warnings
}

// noteObjects records every directory having an objects/ sub-directory,
// including ones only implied by deeper file paths
func (d *detector) noteObjects(n node) {
	p := n.Path
	if !n.IsDir {
		p = parent(p)
	}
	for ; p != ""; p = parent(p) {
		if strings.EqualFold(base(p), objectsDirName) {
			d.objectsDirs[parent(p)] = true
		}
	}
}

func (d *detector) classify(p string) {
	name := base(p)
	dir := parent(p)
	lower := strings.ToLower(name)

	switch {
	case hasExt(name, acfExt):
		d.acfDirs[dir] = true
		d.add(finding{kind: addons.KindAircraft, root: dir})

	case lower == libraryFileName:
		d.add(finding{kind: addons.KindSceneryLibrary, root: dir})

	case hasExt(name, dsfExt):
		// Earth nav data/<tile>/<file>.dsf; the package is the folder above
		// Earth nav data. A .dsf directly in Earth nav data is tolerated
		grand := parent(dir)
		switch {
		case strings.EqualFold(base(grand), earthNavData):
			d.add(finding{kind: addons.KindScenery, root: parent(grand)})
		case strings.EqualFold(base(dir), earthNavData):
			d.add(finding{kind: addons.KindScenery, root: parent(dir)})
		}

	case hasExt(name, xplExt):
		root := dir
		if dir != "" && IsPlatformDir(base(dir)) {
			root = parent(dir)
		}
		d.add(finding{kind: addons.KindPlugin, root: root})

	case lower == cycleFileName:
		d.classifyCycle(p, dir)

	case strings.HasSuffix(lower, liveryIconSufx):
		d.icons = append(d.icons, p)
	}
}

func (d *detector) classifyCycle(p, dir string) {
	data, err := d.read(p)
	if err != nil {
		d.warnings = append(d.warnings, fmt.Sprintf("%s: cannot read %s: %v", addons.KindUnrecognizedNavdataFormat, p, err))
		return
	}
	info, err := addons.ParseCycle(data)
	if err != nil {
		d.warnings = append(d.warnings, fmt.Sprintf("%s: %s: %v", addons.KindUnrecognizedNavdataFormat, p, err))
		return
	}

	meta := info.Meta()
	switch info.Flavor() {
	case addons.FlavorXPlane:
		meta.CycleFile = cycleFileName
		d.add(finding{kind: addons.KindNavdata, root: dir, navdata: meta})
	case addons.FlavorGNS430:
		meta.CycleFile = path.Join(base(dir), cycleFileName)
		d.add(finding{kind: addons.KindNavdata, root: parent(dir), navdata: meta})
	default:
		d.warnings = append(d.warnings, fmt.Sprintf("%s: %s (name %q)", addons.KindUnrecognizedNavdataFormat, p, info.Name))
	}
}

// detectLiveries runs after the walk since it depends on sibling .acf files
// and objects/ folders anywhere in the tree
func (d *detector) detectLiveries() {
	for _, icon := range d.icons {
		dir := parent(icon)
		if d.acfDirs[dir] || !d.objectsDirs[dir] {
			continue
		}
		name := base(icon)
		stem := name[:len(name)-len(liveryIconSufx)]
		d.add(finding{kind: addons.KindLivery, root: dir, hint: stem})
	}
}

// add records a finding; repeated markers of one kind under one root
// collapse into the first
func (d *detector) add(f finding) {
	key := findingKey{kind: f.kind, root: f.root}
	if _, ok := d.found[key]; ok {
		return
	}
	d.found[key] = &f
	d.order = append(d.order, key)
}

// roots returns the distinct roots of findings
func roots(findings []finding) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range findings {
		if !seen[f.root] {
			seen[f.root] = true
			out = append(out, f.root)
		}
	}
	return out
}

// insideAny reports whether p lies within one of roots
func insideAny(roots []string, p string) bool {
	for _, r := range roots {
		if under(r, p) {
			return true
		}
	}
	return false
}
