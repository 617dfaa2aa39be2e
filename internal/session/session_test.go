package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/xpinstall/internal/addons"
	"github.com/bnema/xpinstall/internal/analyzer"
	"github.com/bnema/xpinstall/internal/installer"
	"github.com/bnema/xpinstall/internal/scanner"
	"github.com/bnema/xpinstall/internal/testutil"
)

func newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	opts.ScratchDir = t.TempDir()
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAnalyzeAndInstall(t *testing.T) {
	dl := t.TempDir()
	testutil.WriteTree(t, filepath.Join(dl, "A320"), testutil.Files{
		"a320.acf":             "ACF",
		"objects/fuselage.obj": "OBJ",
	})
	zipPath := testutil.WriteZip(t, filepath.Join(dl, "ksea.zip"), testutil.Files{
		"KSEA/Earth nav data/+40-130/+47-123.dsf": "DSF",
	})
	sim := t.TempDir()
	history := addons.NewHistoryStore(t.TempDir())
	s := newSession(t, Options{History: history})

	res, err := s.Analyze(context.Background(), AnalyzeRequest{
		Paths:      []string{filepath.Join(dl, "A320"), zipPath},
		TargetRoot: sim,
		Verify:     installer.VerifyOptions{Archives: true, Directories: true},
	})
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Len(t, res.Tasks, 2)
	assert.Equal(t, sim, res.TargetRoot)

	var phases []installer.Phase
	report := s.Install(context.Background(), res.Tasks, func(ev installer.Event) {
		phases = append(phases, ev.Phase)
	})
	require.NoError(t, report.Err())
	assert.Len(t, report.Succeeded, 2)
	assert.Contains(t, phases, installer.PhaseVerifying)

	assert.FileExists(t, filepath.Join(sim, "Aircraft", "A320", "a320.acf"))
	assert.FileExists(t, filepath.Join(sim, "Custom Scenery", "KSEA", "Earth nav data", "+40-130", "+47-123.dsf"))

	entry, ok := history.Get(filepath.Join(sim, "Aircraft", "A320"))
	require.True(t, ok)
	assert.Equal(t, addons.KindAircraft, entry.Kind)
	assert.Equal(t, int64(6), entry.Size)
	entry, ok = history.Get(filepath.Join(sim, "Custom Scenery", "KSEA"))
	require.True(t, ok)
	assert.Equal(t, zipPath, entry.Source)
	assert.FileExists(t, history.Path())
}

func TestAnalyzeCollectsPasswordRequired(t *testing.T) {
	dl := t.TempDir()
	locked := testutil.WriteEncryptedZip(t, filepath.Join(dl, "locked.zip"), "secret", testutil.Files{
		"C172/c172.acf": "ACF",
	})
	s := newSession(t, Options{})

	res, err := s.Analyze(context.Background(), AnalyzeRequest{Paths: []string{locked}, TargetRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Empty(t, res.Tasks)
	assert.Equal(t, []string{locked}, res.PasswordRequired)

	res, err = s.Analyze(context.Background(), AnalyzeRequest{
		Paths:      []string{locked},
		TargetRoot: t.TempDir(),
		Passwords:  map[string]string{locked: "secret"},
	})
	require.NoError(t, err)
	assert.Empty(t, res.PasswordRequired)
	require.Len(t, res.Tasks, 1)
}

func TestAnalyzeKeepsGoingPastBadInputs(t *testing.T) {
	dl := t.TempDir()
	testutil.WriteTree(t, filepath.Join(dl, "A320"), testutil.Files{"a320.acf": "ACF"})
	s := newSession(t, Options{})

	res, err := s.Analyze(context.Background(), AnalyzeRequest{
		Paths:      []string{filepath.Join(dl, "missing"), filepath.Join(dl, "A320")},
		TargetRoot: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Len(t, res.Tasks, 1)
	assert.NotEmpty(t, res.Errors)
}

func TestAnalyzeRejectsBadTargetRoot(t *testing.T) {
	s := newSession(t, Options{})

	_, err := s.Analyze(context.Background(), AnalyzeRequest{Paths: []string{t.TempDir()}})
	assert.ErrorIs(t, err, ErrNoTargetRoot)

	_, err = s.Analyze(context.Background(), AnalyzeRequest{Paths: []string{t.TempDir()}, TargetRoot: filepath.Join(t.TempDir(), "nope")})
	assert.ErrorIs(t, err, ErrTargetRoot)
}

func TestCloseRemovesScratch(t *testing.T) {
	s, err := New(Options{ScratchDir: t.TempDir()})
	require.NoError(t, err)
	scratch := s.ScratchDir()
	assert.DirExists(t, scratch)

	require.NoError(t, s.Close())
	assert.NoDirExists(t, scratch)
	require.NoError(t, s.Close())

	_, err = s.Analyze(context.Background(), AnalyzeRequest{TargetRoot: t.TempDir()})
	assert.ErrorIs(t, err, ErrClosed)

	report := s.Install(context.Background(), []addons.InstallTask{{ID: "x", DisplayName: "x", Enabled: true}}, nil)
	require.Len(t, report.Failed, 1)
}

func TestUnion(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, union([]string{"b", "a"}, []string{"c", "a"}))
	assert.Nil(t, union())
}

func TestMergeKeepsEarlierFindingsAndCopies(t *testing.T) {
	scanWarnings := make([]string, 1, 4)
	scanWarnings[0] = "scan"
	scan := &scanner.Result{Warnings: scanWarnings, Errors: []string{"scan error"}, PasswordRequired: []string{"b.7z"}}
	analysis := &analyzer.Result{Warnings: []string{"big"}, PasswordRequired: []string{"a.zip", "b.7z"}}

	result := &AnalysisResult{Warnings: []string{"clone"}, Errors: []string{"clone error"}}
	result.merge(scan, analysis)

	assert.Equal(t, []string{"clone", "scan", "big"}, result.Warnings)
	assert.Equal(t, []string{"clone error", "scan error"}, result.Errors)
	assert.Equal(t, []string{"a.zip", "b.7z"}, result.PasswordRequired)

	result.Warnings[1] = "changed"
	assert.Equal(t, "scan", scan.Warnings[0])
	assert.Equal(t, []string{"big"}, analysis.Warnings)

	fresh := &AnalysisResult{}
	fresh.merge(scan, analysis)
	fresh.Warnings[0] = "changed"
	assert.Equal(t, "scan", scan.Warnings[0])
	assert.Equal(t, []string{"scan", "", "", ""}, scanWarnings[:cap(scanWarnings)])
}
