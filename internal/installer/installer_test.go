package installer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bnema/xpinstall/internal/addons"
	"github.com/bnema/xpinstall/internal/analyzer"
	"github.com/bnema/xpinstall/internal/archive"
	"github.com/bnema/xpinstall/internal/scanner"
	"github.com/bnema/xpinstall/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func dirTask(kind addons.Kind, src, target string) addons.InstallTask {
	return addons.InstallTask{
		ID:          filepath.Base(src) + "-" + kind.String(),
		Kind:        kind,
		DisplayName: filepath.Base(src),
		SourcePath:  src,
		TargetPath:  target,
		Item:        addons.DetectedItem{Kind: kind, EffectiveRoot: src, DisplayName: filepath.Base(src), OriginalInput: src},
		Enabled:     true,
	}
}

func zipTask(kind addons.Kind, zipPath, root, target string) addons.InstallTask {
	chain := addons.ArchiveChain{{Format: archive.FormatZip, Path: zipPath}}
	return addons.InstallTask{
		ID:          filepath.Base(zipPath) + "!" + root,
		Kind:        kind,
		DisplayName: strings.TrimSuffix(filepath.Base(zipPath), ".zip"),
		TargetPath:  target,
		Item:        addons.DetectedItem{Kind: kind, Chain: chain, EffectiveRoot: root, OriginalInput: zipPath},
		Enabled:     true,
	}
}

// plan scans and analyzes inputs the way a session does
func plan(t *testing.T, sim string, inputs ...string) []addons.InstallTask {
	t.Helper()
	var in []scanner.Input
	for _, p := range inputs {
		in = append(in, scanner.Input{Path: p})
	}
	scan, err := scanner.New(scanner.Options{}).Scan(context.Background(), in)
	require.NoError(t, err)
	res, err := analyzer.New(analyzer.Options{}).Analyze(context.Background(), scan.Items, sim)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	return res.Tasks
}

func leftovers(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), stagePrefix) || strings.HasPrefix(e.Name(), oldPrefix) {
			out = append(out, e.Name())
		}
	}
	return out
}

var a320 = testutil.Files{
	"a320.acf":                "ACF",
	"plugins/fms/64/fms.xpl":  "XPL",
	"objects/fuselage.obj":    "OBJ",
	"liveries/Stock/skin.png": "NEW",
}

func TestInstallOverwriteIsIdempotent(t *testing.T) {
	src := filepath.Join(t.TempDir(), "A320")
	testutil.WriteTree(t, src, a320)
	target := filepath.Join(t.TempDir(), "Aircraft", "A320")
	task := dirTask(addons.KindAircraft, src, target)

	in := New(Options{})
	for range 2 {
		report := in.Install(context.Background(), []addons.InstallTask{task}, nil)
		require.NoError(t, report.Err())
		assert.Equal(t, []string{task.ID}, report.Succeeded)
		assert.Equal(t, a320, testutil.ReadTree(t, target))
	}
}

func TestInstallRejectsTraversalBeforeWriting(t *testing.T) {
	p := testutil.WriteZip(t, filepath.Join(t.TempDir(), "evil.zip"), testutil.Files{
		"a320.acf":   "ACF",
		"../../evil": "boom",
	})
	base := t.TempDir()
	target := filepath.Join(base, "Aircraft", "evil")

	report := New(Options{}).Install(context.Background(), []addons.InstallTask{zipTask(addons.KindAircraft, p, "", target)}, nil)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, addons.KindPathTraversalRejected, report.Failed[0].Kind)
	assert.NoDirExists(t, filepath.Join(base, "Aircraft"))
	assert.NoFileExists(t, filepath.Join(base, "evil"))
}

func TestInstallRejectsTraversalOutsideDetectedRoot(t *testing.T) {
	zipPath := testutil.WriteZip(t, filepath.Join(t.TempDir(), "a320.zip"), testutil.Files{
		"A320/a320.acf": "ACF",
		"../../evil":    "boom",
	})
	sim := t.TempDir()
	tasks := plan(t, sim, zipPath)
	require.Len(t, tasks, 1)
	assert.Equal(t, "A320", tasks[0].Item.EffectiveRoot)

	report := New(Options{}).Install(context.Background(), tasks, nil)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, addons.KindPathTraversalRejected, report.Failed[0].Kind)
	assert.NoDirExists(t, tasks[0].TargetPath)
	assert.NoFileExists(t, filepath.Join(sim, "evil"))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(tasks[0].TargetPath), "evil"))
}

func TestInstallRejectsTraversalInParentLayer(t *testing.T) {
	inner := testutil.ZipBytes(t, testutil.Files{"Pl/64/plugin.xpl": "XPL"})
	outer := testutil.WriteZip(t, filepath.Join(t.TempDir(), "outer.zip"), testutil.Files{
		"bundle/inner.zip": string(inner),
		"../evil":          "boom",
	})
	sim := t.TempDir()
	tasks := plan(t, sim, outer)
	require.Len(t, tasks, 1)
	require.Len(t, tasks[0].Item.Chain, 2)

	report := New(Options{}).Install(context.Background(), tasks, nil)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, addons.KindPathTraversalRejected, report.Failed[0].Kind)
	assert.NoDirExists(t, tasks[0].TargetPath)
}

func TestInstallRejectsBombsFromListing(t *testing.T) {
	zeros := strings.Repeat("\x00", 256<<10)
	p := testutil.WriteZip(t, filepath.Join(t.TempDir(), "bomb.zip"), testutil.Files{
		"Bomb/bomb.acf": zeros,
	})

	tests := []struct {
		name string
		opts Options
		kind addons.ErrorKind
	}{
		{"size", Options{MaxBytes: 64 << 10}, addons.KindExtractionSizeExceeded},
		{"ratio", Options{MaxRatio: 10, RatioFloor: 1}, addons.KindCompressionRatioExceeded},
		{"default ratio", Options{}, addons.KindCompressionRatioExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := filepath.Join(t.TempDir(), "Bomb")
			report := New(tt.opts).Install(context.Background(), []addons.InstallTask{zipTask(addons.KindAircraft, p, "Bomb", target)}, nil)
			require.Len(t, report.Failed, 1)
			assert.Equal(t, tt.kind, report.Failed[0].Kind)
			assert.NoDirExists(t, target)
		})
	}
}

func TestInstallRatioFloorExemptsSmallPayloads(t *testing.T) {
	p := testutil.WriteZip(t, filepath.Join(t.TempDir(), "small.zip"), testutil.Files{
		"Small/small.acf": strings.Repeat("a", 32<<10),
	})
	target := filepath.Join(t.TempDir(), "Small")
	report := New(Options{MaxRatio: 2}).Install(context.Background(), []addons.InstallTask{zipTask(addons.KindAircraft, p, "Small", target)}, nil)
	require.NoError(t, report.Err())
	assert.FileExists(t, filepath.Join(target, "small.acf"))
}

func existingA320(t *testing.T) string {
	t.Helper()
	target := filepath.Join(t.TempDir(), "Aircraft", "A320")
	testutil.WriteTree(t, target, testutil.Files{
		"a320.acf":                   "OLD",
		"stale.txt":                  "OLD",
		"a320_prefs.txt":             "MINE",
		"liveries/Stock/skin.png":    "OLD",
		"liveries/MyLivery/skin.png": "MINE",
	})
	return target
}

func TestInstallCleanPreservesUserData(t *testing.T) {
	for _, mode := range []addons.InstallMode{addons.ModeClean, addons.ModeAtomic} {
		t.Run(mode.String(), func(t *testing.T) {
			src := filepath.Join(t.TempDir(), "A320")
			testutil.WriteTree(t, src, a320)
			target := existingA320(t)

			task := dirTask(addons.KindAircraft, src, target)
			task.Mode = mode
			task.Backup = addons.BackupOptions{Liveries: true, ConfigPatterns: []string{"*_prefs.txt"}}

			report := New(Options{MinFreeBytes: 1, Verify: VerifyOptions{Directories: true}}).Install(context.Background(), []addons.InstallTask{task}, nil)
			require.NoError(t, report.Err())
			require.Len(t, report.Outcomes, 1)
			assert.ElementsMatch(t, []string{"liveries/MyLivery", "a320_prefs.txt"}, report.Outcomes[0].Restored)

			got := testutil.ReadTree(t, target)
			assert.Equal(t, "NEW", got["liveries/Stock/skin.png"])
			assert.Equal(t, "MINE", got["liveries/MyLivery/skin.png"])
			assert.Equal(t, "MINE", got["a320_prefs.txt"])
			assert.Equal(t, "ACF", got["a320.acf"])
			assert.NotContains(t, got, "stale.txt")
			assert.Empty(t, leftovers(t, filepath.Dir(target)))
		})
	}
}

func TestInstallAtomicFresh(t *testing.T) {
	src := filepath.Join(t.TempDir(), "A320")
	testutil.WriteTree(t, src, a320)
	target := filepath.Join(t.TempDir(), "Aircraft", "A320")
	task := dirTask(addons.KindAircraft, src, target)
	task.Mode = addons.ModeAtomic

	report := New(Options{MinFreeBytes: 1}).Install(context.Background(), []addons.InstallTask{task}, nil)
	require.NoError(t, report.Err())
	assert.Equal(t, a320, testutil.ReadTree(t, target))
	assert.Empty(t, leftovers(t, filepath.Dir(target)))
}

func TestInstallAtomicFailureKeepsPreviousInstall(t *testing.T) {
	p := testutil.WriteZip(t, filepath.Join(t.TempDir(), "evil.zip"), testutil.Files{
		"a320.acf":   "ACF",
		"../../evil": "boom",
	})
	target := existingA320(t)
	before := testutil.ReadTree(t, target)

	task := zipTask(addons.KindAircraft, p, "", target)
	task.Mode = addons.ModeAtomic
	report := New(Options{}).Install(context.Background(), []addons.InstallTask{task}, nil)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, before, testutil.ReadTree(t, target))
	assert.Empty(t, leftovers(t, filepath.Dir(target)))
}

func TestInstallAtomicInsufficientSpace(t *testing.T) {
	if free, err := freeSpace(t.TempDir()); err != nil || free < 0 {
		t.Skip("free space not reported on this platform")
	}
	src := filepath.Join(t.TempDir(), "A320")
	testutil.WriteTree(t, src, a320)
	target := filepath.Join(t.TempDir(), "Aircraft", "A320")
	task := dirTask(addons.KindAircraft, src, target)
	task.Mode = addons.ModeAtomic

	report := New(Options{MinFreeBytes: 1 << 62}).Install(context.Background(), []addons.InstallTask{task}, nil)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, addons.KindInsufficientDiskSpace, report.Failed[0].Kind)
	assert.NoDirExists(t, filepath.Dir(target))
}

func TestInstallNestedZipStaysInMemory(t *testing.T) {
	inner := testutil.ZipBytes(t, testutil.Files{"Pl/64/plugin.xpl": "XPL"})
	dl := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dl, "outer.zip"), testutil.ZipBytes(t, testutil.Files{
		"bundle/inner.zip": string(inner),
	}))
	sim := t.TempDir()
	tasks := plan(t, sim, filepath.Join(dl, "outer.zip"))
	require.Len(t, tasks, 1)

	report := New(Options{Verify: VerifyOptions{Archives: true}}).Install(context.Background(), tasks, nil)
	require.NoError(t, report.Err())
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, 1, report.Outcomes[0].Layers.InMemory)
	assert.Zero(t, report.Outcomes[0].Layers.Temp)
	assert.FileExists(t, filepath.Join(sim, "Resources", "plugins", "Pl", "64", "plugin.xpl"))
}

func TestInstallNestedZipOverMemoryCapUsesTempFile(t *testing.T) {
	inner := testutil.ZipBytes(t, testutil.Files{"Pl/64/plugin.xpl": "XPL"})
	dl := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dl, "outer.zip"), testutil.ZipBytes(t, testutil.Files{
		"bundle/middle.zip": string(inner),
	}))
	sim := t.TempDir()
	tasks := plan(t, sim, filepath.Join(dl, "outer.zip"))
	require.Len(t, tasks, 1)

	scratch := t.TempDir()
	report := New(Options{MaxInMemory: 10, ScratchDir: scratch}).Install(context.Background(), tasks, nil)
	require.NoError(t, report.Err())
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, 1, report.Outcomes[0].Layers.Temp)
	assert.Zero(t, report.Outcomes[0].Layers.InMemory)
	assert.FileExists(t, filepath.Join(sim, "Resources", "plugins", "Pl", "64", "plugin.xpl"))

	layerDirs, err := filepath.Glob(filepath.Join(scratch, "layers-*"))
	require.NoError(t, err)
	assert.Empty(t, layerDirs)
}

func TestInstallCancelledBeforeStart(t *testing.T) {
	src := filepath.Join(t.TempDir(), "A320")
	testutil.WriteTree(t, src, a320)
	base := t.TempDir()
	task := dirTask(addons.KindAircraft, src, filepath.Join(base, "Aircraft", "A320"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := New(Options{}).Install(ctx, []addons.InstallTask{task}, nil)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, addons.KindCancelled, report.Failed[0].Kind)
	assert.NoDirExists(t, filepath.Join(base, "Aircraft"))
}

func TestInstallCancelledMidCopyRollsBack(t *testing.T) {
	src := filepath.Join(t.TempDir(), "A320")
	files := testutil.Files{"a320.acf": "ACF"}
	for i := range 20 {
		files[filepath.ToSlash(filepath.Join("objects", strings.Repeat("o", i+1)+".obj"))] = strings.Repeat("x", 64<<10)
	}
	testutil.WriteTree(t, src, files)
	base := t.TempDir()
	task := dirTask(addons.KindAircraft, src, filepath.Join(base, "Aircraft", "A320"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var last Event
	report := New(Options{Workers: 1}).Install(ctx, []addons.InstallTask{task}, func(ev Event) {
		if ev.BytesProcessed > 0 {
			cancel()
		}
		last = ev
	})
	require.Len(t, report.Failed, 1)
	assert.Equal(t, addons.KindCancelled, report.Failed[0].Kind)
	assert.Equal(t, PhaseCancelled, last.Phase)
	assert.NoDirExists(t, filepath.Join(base, "Aircraft"))
}

func TestInstallProgressIsMonotonic(t *testing.T) {
	src := filepath.Join(t.TempDir(), "A320")
	testutil.WriteTree(t, src, a320)
	target := filepath.Join(t.TempDir(), "A320")

	var (
		mu     sync.Mutex
		events []Event
	)
	report := New(Options{Verify: VerifyOptions{Directories: true}}).Install(context.Background(),
		[]addons.InstallTask{dirTask(addons.KindAircraft, src, target)},
		func(ev Event) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, ev)
		})
	require.NoError(t, report.Err())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	var prev int64
	phases := map[Phase]bool{}
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.BytesProcessed, prev)
		prev = ev.BytesProcessed
		phases[ev.Phase] = true
		assert.Equal(t, 1, ev.TotalTasks)
	}
	assert.True(t, phases[PhaseCopying])
	assert.True(t, phases[PhaseVerifying])
	assert.Equal(t, PhaseDone, events[len(events)-1].Phase)
	assert.Equal(t, int64(len("ACF")+len("XPL")+len("OBJ")+len("NEW")), events[len(events)-1].BytesProcessed)
}

func TestInstallAllOrNothing(t *testing.T) {
	bad := testutil.WriteZip(t, filepath.Join(t.TempDir(), "evil.zip"), testutil.Files{
		"a.acf":      "ACF",
		"../../evil": "boom",
	})
	src := filepath.Join(t.TempDir(), "A320")
	testutil.WriteTree(t, src, a320)

	tests := []struct {
		name         string
		allOrNothing bool
		wantOK       int
	}{
		{"independent", false, 1},
		{"all or nothing", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := t.TempDir()
			tasks := []addons.InstallTask{
				zipTask(addons.KindAircraft, bad, "", filepath.Join(sim, "evil")),
				dirTask(addons.KindAircraft, src, filepath.Join(sim, "A320")),
			}
			report := New(Options{AllOrNothing: tt.allOrNothing}).Install(context.Background(), tasks, nil)
			assert.Len(t, report.Succeeded, tt.wantOK)
			assert.ErrorIs(t, report.Err(), addons.ErrPartialBatch)
			if tt.allOrNothing {
				require.Len(t, report.Failed, 2)
				assert.Equal(t, addons.KindPartialBatchFailure, report.Failed[1].Kind)
				assert.NoDirExists(t, filepath.Join(sim, "A320"))
			}
		})
	}
}

func TestInstallSkipsDisabledTasks(t *testing.T) {
	src := filepath.Join(t.TempDir(), "A320")
	testutil.WriteTree(t, src, a320)
	target := filepath.Join(t.TempDir(), "A320")
	task := dirTask(addons.KindAircraft, src, target)
	task.Enabled = false

	report := New(Options{}).Install(context.Background(), []addons.InstallTask{task}, nil)
	assert.Empty(t, report.Succeeded)
	assert.Empty(t, report.Failed)
	assert.NoDirExists(t, target)
}

func TestInstallNavdataNeverRemovesSharedFolder(t *testing.T) {
	for _, mode := range []addons.InstallMode{addons.ModeClean, addons.ModeAtomic} {
		t.Run(mode.String(), func(t *testing.T) {
			src := filepath.Join(t.TempDir(), "nav")
			testutil.WriteTree(t, src, testutil.Files{
				"cycle.json":    `{"name": "X-Plane 12", "cycle": "2403"}`,
				"earth_fix.dat": "NEW",
			})
			customData := filepath.Join(t.TempDir(), "Custom Data")
			testutil.WriteTree(t, customData, testutil.Files{
				"cycle.json":         `{"name": "X-Plane 12", "cycle": "2401"}`,
				"GNS430/cycle.json":  `{"name": "X-Plane GNS430", "cycle": "2401"}`,
				"other_provider.dat": "KEEP",
			})

			task := dirTask(addons.KindNavdata, src, customData)
			task.Mode = mode
			report := New(Options{MinFreeBytes: 1}).Install(context.Background(), []addons.InstallTask{task}, nil)
			require.NoError(t, report.Err())

			got := testutil.ReadTree(t, customData)
			assert.Equal(t, "KEEP", got["other_provider.dat"])
			assert.Equal(t, "NEW", got["earth_fix.dat"])
			assert.Contains(t, got["cycle.json"], "2403")
			assert.Contains(t, got, "GNS430/cycle.json")
			assert.Empty(t, leftovers(t, filepath.Dir(customData)))
		})
	}
}

func TestInstallDeletesFullyInstalledSources(t *testing.T) {
	dl := t.TempDir()
	zipPath := testutil.WriteZip(t, filepath.Join(dl, "c172.zip"), testutil.Files{
		"C172/c172.acf": "ACF",
	})
	dir := filepath.Join(dl, "A320")
	testutil.WriteTree(t, dir, a320)
	parent := filepath.Join(dl, "Pack")
	testutil.WriteTree(t, parent, testutil.Files{"KSEA/Earth nav data/+40-130/+47-123.dsf": "DSF"})

	sim := t.TempDir()
	scenery := dirTask(addons.KindScenery, filepath.Join(parent, "KSEA"), filepath.Join(sim, "KSEA"))
	scenery.Item.OriginalInput = parent
	tasks := []addons.InstallTask{
		zipTask(addons.KindAircraft, zipPath, "C172", filepath.Join(sim, "C172")),
		dirTask(addons.KindAircraft, dir, filepath.Join(sim, "A320")),
		scenery,
	}

	report := New(Options{DeleteSource: true, SimRoot: sim}).Install(context.Background(), tasks, nil)
	require.NoError(t, report.Err())
	assert.ElementsMatch(t, []string{zipPath, dir}, report.DeletedSources)
	assert.NoFileExists(t, zipPath)
	assert.NoDirExists(t, dir)
	assert.DirExists(t, filepath.Join(parent, "KSEA"), "a folder found inside the input is not the input")
}

func TestInstallKeepsArchiveWithFailedSibling(t *testing.T) {
	zipPath := testutil.WriteZip(t, filepath.Join(t.TempDir(), "pack.zip"), testutil.Files{
		"C172/c172.acf":     "ACF",
		"Big/big.acf":       strings.Repeat("x", 4096),
		"Big/objects/a.obj": "OBJ",
	})
	sim := t.TempDir()
	tasks := []addons.InstallTask{
		zipTask(addons.KindAircraft, zipPath, "C172", filepath.Join(sim, "C172")),
		zipTask(addons.KindAircraft, zipPath, "Big", filepath.Join(sim, "Big")),
	}
	report := New(Options{DeleteSource: true, MaxBytes: 1024}).Install(context.Background(), tasks, nil)
	assert.Len(t, report.Succeeded, 1)
	assert.Empty(t, report.DeletedSources)
	assert.FileExists(t, zipPath)
}

func TestDeletableRefusesSimRootAndURLs(t *testing.T) {
	sim := t.TempDir()
	in := New(Options{SimRoot: sim})

	_, ok := in.deletable(addons.DetectedItem{EffectiveRoot: sim, OriginalInput: sim})
	assert.False(t, ok)
	_, ok = in.deletable(addons.DetectedItem{EffectiveRoot: filepath.Dir(sim), OriginalInput: filepath.Dir(sim)})
	assert.False(t, ok)
	p, _ := in.deletable(addons.DetectedItem{EffectiveRoot: "/tmp/clone", OriginalInput: "https://github.com/x/y.git"})
	assert.Empty(t, p)
}

func TestStateMachine(t *testing.T) {
	m := &stateMachine{}
	require.NoError(t, m.to(StateExtracting))
	require.NoError(t, m.to(StateVerifying))
	assert.Error(t, m.to(StateCopying))
	require.NoError(t, m.to(StateDone))
	assert.Error(t, m.to(StateFailed), "terminal states are final")

	m = &stateMachine{}
	assert.Error(t, m.to(StateDone))
	require.NoError(t, m.to(StateCancelled))
	assert.Equal(t, StateCancelled, m.current())
	assert.True(t, m.current().Terminal())
}
