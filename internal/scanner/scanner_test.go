package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/xpinstall/internal/addons"
	"github.com/bnema/xpinstall/internal/metacache"
	"github.com/bnema/xpinstall/internal/testutil"
)

func nodesOf(paths ...string) []node {
	out := make([]node, 0, len(paths))
	for _, p := range paths {
		if strings.HasSuffix(p, "/") {
			out = append(out, node{Path: strings.TrimSuffix(p, "/"), IsDir: true})
			continue
		}
		out = append(out, node{Path: p})
	}
	return out
}

func TestDetectRules(t *testing.T) {
	cycles := map[string]string{
		"nav/cycle.json":         `{"name": "X-Plane 12 Navdata", "cycle": "2401"}`,
		"gns/navdata/cycle.json": `{"name": "X-Plane GNS430", "cycle": 2313}`,
	}
	read := func(p string) ([]byte, error) {
		if c, ok := cycles[p]; ok {
			return []byte(c), nil
		}
		return nil, os.ErrNotExist
	}

	tests := []struct {
		name  string
		nodes []node
		kind  addons.Kind
		root  string
	}{
		{"aircraft", nodesOf("A320/a320.acf"), addons.KindAircraft, "A320"},
		{"aircraft at top", nodesOf("a320.acf"), addons.KindAircraft, ""},
		{"library", nodesOf("Lib/library.txt"), addons.KindSceneryLibrary, "Lib"},
		{"scenery", nodesOf("KSEA/Earth nav data/+40-130/+47-123.dsf"), addons.KindScenery, "KSEA"},
		{"scenery mixed case", nodesOf("KSEA/earth NAV data/+40-130/+47-123.dsf"), addons.KindScenery, "KSEA"},
		{"scenery flat", nodesOf("KSEA/Earth nav data/+47-123.dsf"), addons.KindScenery, "KSEA"},
		{"plugin flat", nodesOf("Pl/plugin.xpl"), addons.KindPlugin, "Pl"},
		{"plugin platform", nodesOf("Pl/win_x64/plugin.xpl"), addons.KindPlugin, "Pl"},
		{"plugin apple silicon", nodesOf("Pl/mac_arm64/plugin.xpl"), addons.KindPlugin, "Pl"},
		{"plugin non platform", nodesOf("Pl/bin/plugin.xpl"), addons.KindPlugin, "Pl/bin"},
		{"navdata", nodesOf("nav/cycle.json"), addons.KindNavdata, "nav"},
		{"navdata gns430", nodesOf("gns/navdata/cycle.json"), addons.KindNavdata, "gns"},
		{"livery", nodesOf("Red/objects/", "Red/a320_icon11.png"), addons.KindLivery, "Red"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, warnings := newDetector(DefaultMaxDepth, read).detect(tt.nodes)
			assert.Empty(t, warnings)
			require.Len(t, found, 1)
			assert.Equal(t, tt.kind, found[0].kind)
			assert.Equal(t, tt.root, found[0].root)
		})
	}
}

func TestDetectCollapsesSameKindSameRoot(t *testing.T) {
	found, _ := newDetector(DefaultMaxDepth, nil).detect(nodesOf(
		"A320_Family/A320neo.acf",
		"A320_Family/A321neo.acf",
		"A320_Family/objects/",
		"Pl/win_x64/p.xpl",
		"Pl/lin_x64/p.xpl",
		"Pl/mac_x64/p.xpl",
	))
	require.Len(t, found, 2)
	assert.Equal(t, "A320_Family", found[0].root)
	assert.Equal(t, "Pl", found[1].root)
}

func TestDetectNavdataMetadata(t *testing.T) {
	read := func(string) ([]byte, error) {
		return []byte(`{"name": "X-Plane GNS430 data", "cycle": "2403"}`), nil
	}
	found, _ := newDetector(DefaultMaxDepth, read).detect(nodesOf("pkg/GNS430/cycle.json"))
	require.Len(t, found, 1)
	require.NotNil(t, found[0].navdata)
	assert.Equal(t, "2403", found[0].navdata.Cycle)
	assert.True(t, found[0].navdata.IsGNS430)
	assert.Equal(t, "GNS430/cycle.json", found[0].navdata.CycleFile)
	assert.Equal(t, "pkg", found[0].root)
}

func TestDetectUnrecognizedNavdata(t *testing.T) {
	read := func(string) ([]byte, error) {
		return []byte(`{"name": "Navigraph AIRAC 2401", "cycle": "2401"}`), nil
	}
	found, warnings := newDetector(DefaultMaxDepth, read).detect(nodesOf("data/cycle.json"))
	assert.Empty(t, found)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "UnrecognizedNavdataFormat")
}

func TestDetectLiveryNeedsObjectsAndNoAcf(t *testing.T) {
	found, _ := newDetector(DefaultMaxDepth, nil).detect(nodesOf("Red/a320_icon11.png"))
	assert.Empty(t, found)

	found, _ = newDetector(DefaultMaxDepth, nil).detect(nodesOf(
		"A320/a320.acf", "A320/a320_icon11.png", "A320/objects/body.obj",
	))
	require.Len(t, found, 1)
	assert.Equal(t, addons.KindAircraft, found[0].kind)

	found, _ = newDetector(DefaultMaxDepth, nil).detect(nodesOf(
		"Red/a320_icon11.png", "Red/objects/body.png",
	))
	require.Len(t, found, 1)
	assert.Equal(t, "a320", found[0].hint)
}

func TestDetectSkipsJunkAndDepth(t *testing.T) {
	found, _ := newDetector(3, nil).detect(nodesOf(
		"__MACOSX/A320/._a320.acf",
		"a/b/c/d/deep.acf",
	))
	assert.Empty(t, found)
}

func TestScanDirectoryAircraftFamily(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "A320_Family")
	testutil.WriteTree(t, dir, testutil.Files{
		"A320neo.acf":      "I",
		"A321neo.acf":      "I",
		"objects/a.obj":    "OBJ",
		"liveries/Red/x":   "PNG",
		".git/HEAD":        "ref",
		"__MACOSX/._x.acf": "",
	})

	res, err := New(Options{}).Scan(context.Background(), []Input{{Path: dir}})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	item := res.Items[0]
	assert.Equal(t, addons.KindAircraft, item.Kind)
	assert.Equal(t, dir, item.EffectiveRoot)
	assert.Equal(t, "A320_Family", item.DisplayName)
	assert.Equal(t, dir, item.OriginalInput)
	assert.False(t, item.IsArchive())
	assert.Empty(t, res.Errors)
}

func TestScanNestedZipPlugin(t *testing.T) {
	dir := t.TempDir()
	middle := testutil.ZipBytes(t, testutil.Files{
		"plugin/win_x64/plugin.xpl": "PE",
		"plugin/data/settings.ini":  "x=1",
	})
	outer := testutil.WriteZip(t, filepath.Join(dir, "outer.zip"), testutil.Files{
		"middle.zip": string(middle),
	})

	cache := metacache.New(metacache.Options{})
	res, err := New(Options{Cache: cache}).Scan(context.Background(), []Input{{Path: outer}})
	require.NoError(t, err)
	require.Len(t, res.Items, 1, "warnings: %v errors: %v", res.Warnings, res.Errors)

	item := res.Items[0]
	assert.Equal(t, addons.KindPlugin, item.Kind)
	assert.Equal(t, "plugin", item.EffectiveRoot)
	assert.Equal(t, "plugin", item.DisplayName)
	require.Len(t, item.Chain, 2)
	assert.Equal(t, outer, item.Chain.Outer())
	assert.Equal(t, "middle.zip", item.Chain[1].Path)
	assert.Equal(t, outer+"!middle.zip", item.Chain.Key())
	assert.Equal(t, 2, cache.Len())
}

func TestScanArchiveTopLevelRootUsesArchiveStem(t *testing.T) {
	p := testutil.WriteZip(t, filepath.Join(t.TempDir(), "Cessna.zip"), testutil.Files{
		"c172.acf": "I",
	})
	res, err := New(Options{}).Scan(context.Background(), []Input{{Path: p}})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "", res.Items[0].EffectiveRoot)
	assert.Equal(t, "Cessna", res.Items[0].DisplayName)
}

func TestScanUnrecognizedNavdataWarns(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, testutil.Files{
		"navdata/cycle.json": `{"name": "Navigraph AIRAC 2401", "cycle": "2401"}`,
	})
	res, err := New(Options{}).Scan(context.Background(), []Input{{Path: dir}})
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	var navWarnings int
	for _, w := range res.Warnings {
		if strings.Contains(w, "UnrecognizedNavdataFormat") {
			navWarnings++
		}
	}
	assert.Equal(t, 1, navWarnings)
}

func TestScanPasswordRequiredDeduplicated(t *testing.T) {
	dir := t.TempDir()
	p := testutil.WriteEncryptedZip(t, filepath.Join(dir, "locked.zip"), "secret", testutil.Files{
		"A320/a320.acf": "I",
	})

	res, err := New(Options{}).Scan(context.Background(), []Input{{Path: p}, {Path: p}})
	require.NoError(t, err)
	assert.Equal(t, []string{p}, res.PasswordRequired)
	require.NotEmpty(t, res.Items)
	for _, item := range res.Items {
		assert.True(t, item.RequiresPassword)
	}

	res, err = New(Options{Passwords: map[string]string{p: "secret"}}).Scan(context.Background(), []Input{{Path: p}})
	require.NoError(t, err)
	assert.Empty(t, res.PasswordRequired)
	require.Len(t, res.Items, 1)
	assert.False(t, res.Items[0].RequiresPassword)
	assert.Equal(t, "secret", res.Items[0].Chain[0].Password)
}

func TestScanWrongPasswordWarns(t *testing.T) {
	p := testutil.WriteEncryptedZip(t, filepath.Join(t.TempDir(), "locked.zip"), "secret", testutil.Files{
		"Pl/plugin.xpl": "PE",
	})
	res, err := New(Options{Passwords: map[string]string{p: "nope"}}).Scan(context.Background(), []Input{{Path: p}})
	require.NoError(t, err)
	assert.Equal(t, []string{p}, res.PasswordRequired)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "PasswordIncorrect")
}

func TestScanDirectoryArchivesOutsideRoots(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, testutil.Files{
		"Aircraft/C172/c172.acf": "I",
	})
	// Inside a detected root: part of that package
	testutil.WriteZip(t, filepath.Join(dir, "Aircraft/C172/liveries.zip"), testutil.Files{
		"Extra/extra.acf": "I",
	})
	// Outside every root: scanned on its own
	loose := testutil.WriteZip(t, filepath.Join(dir, "downloads/scenery.zip"), testutil.Files{
		"KSEA/Earth nav data/+40-130/+47-123.dsf": "DSF",
	})

	res, err := New(Options{}).Scan(context.Background(), []Input{{Path: dir}})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)

	kinds := map[addons.Kind]addons.DetectedItem{}
	for _, item := range res.Items {
		kinds[item.Kind] = item
	}
	assert.Equal(t, filepath.Join(dir, "Aircraft", "C172"), kinds[addons.KindAircraft].EffectiveRoot)
	scenery := kinds[addons.KindScenery]
	assert.Equal(t, loose, scenery.Chain.Outer())
	assert.Equal(t, "KSEA", scenery.EffectiveRoot)
	assert.Equal(t, dir, scenery.OriginalInput)
}

func TestScanErrorsDoNotAbortBatch(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, testutil.Files{"Pl/plugin.xpl": "PE"})
	corrupt := testutil.WriteFile(t, filepath.Join(t.TempDir(), "broken.zip"), []byte("PK\x03\x04 not really"))

	res, err := New(Options{}).Scan(context.Background(), []Input{
		{Path: filepath.Join(dir, "missing")},
		{Path: corrupt},
		{Path: dir},
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, addons.KindPlugin, res.Items[0].Kind)
	assert.Len(t, res.Errors, 2)
}

func TestScanNotAnAddon(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, testutil.Files{"readme.txt": "hi"})
	res, err := New(Options{}).Scan(context.Background(), []Input{{Path: dir}})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "NotAnAddon")
}

func TestScanArchiveDepthLimit(t *testing.T) {
	inner := testutil.ZipBytes(t, testutil.Files{"Pl/plugin.xpl": "PE"})
	l3 := testutil.ZipBytes(t, testutil.Files{"l4.zip": string(inner)})
	l2 := testutil.ZipBytes(t, testutil.Files{"l3.zip": string(l3)})
	p := testutil.WriteZip(t, filepath.Join(t.TempDir(), "l1.zip"), testutil.Files{"l2.zip": string(l2)})

	res, err := New(Options{ArchiveMaxDepth: 3}).Scan(context.Background(), []Input{{Path: p}})
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	res, err = New(Options{ArchiveMaxDepth: 4}).Scan(context.Background(), []Input{{Path: p}})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Len(t, res.Items[0].Chain, 4)
}

func TestScanCancelled(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, testutil.Files{"Pl/plugin.xpl": "PE"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Options{}).Scan(ctx, []Input{{Path: dir}})
	assert.ErrorIs(t, err, context.Canceled)
}
