package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/xpinstall/internal/testutil"
)

// testdata/headers-encrypted.7z and files-encrypted.7z use the password "password"
const sevenZipPassword = "password"

func fixture(name string) string {
	return filepath.Join("testdata", name)
}

func TestRarEntries(t *testing.T) {
	a, err := Open(context.Background(), fixture("aircraft.rar"), Options{})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	assert.Equal(t, FormatRar, a.Format())
	assert.Equal(t, 2, a.FileCount())
	assert.False(t, a.HasEncrypted())

	dir, ok := a.Lookup("A320")
	require.True(t, ok)
	assert.True(t, dir.IsDir)

	acf, ok := a.Lookup("A320/a320.acf")
	require.True(t, ok)
	assert.Equal(t, int64(len("I\n1100 Version\n")), acf.Size)
	assert.Equal(t, os.FileMode(0o644), acf.Mode.Perm())

	// A later entry forces a fresh linear pass over the stream
	got, err := a.ReadFile("A320/objects/body.obj", 0)
	require.NoError(t, err)
	assert.Equal(t, "OBJ", string(got))

	got, err = a.ReadFile("A320/a320.acf", 0)
	require.NoError(t, err)
	assert.Equal(t, "I\n1100 Version\n", string(got))

	assert.NoError(t, a.CheckPassword())
}

func TestRarExtractSubtree(t *testing.T) {
	a, err := OpenFormat(fixture("aircraft.rar"), FormatRar, Options{})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	target := filepath.Join(t.TempDir(), "A320")
	_, err = a.ExtractSubtree(context.Background(), "A320", target, ExtractOptions{Workers: 4})
	require.NoError(t, err)
	assert.Equal(t, testutil.Files{
		"a320.acf":         "I\n1100 Version\n",
		"objects/body.obj": "OBJ",
	}, testutil.ReadTree(t, target))
}

func TestRarCheckPassword(t *testing.T) {
	path := fixture("navdata-encrypted.rar")

	t.Run("missing password", func(t *testing.T) {
		a, err := OpenFormat(path, FormatRar, Options{})
		require.NoError(t, err)
		defer func() { _ = a.Close() }()

		assert.True(t, a.HasEncrypted())
		assert.ErrorIs(t, a.CheckPassword(), ErrPasswordRequired)

		_, err = a.ReadFile("Navdata/cycle.json", 0)
		assert.ErrorIs(t, err, ErrPasswordRequired)
	})

	t.Run("wrong password", func(t *testing.T) {
		a, err := OpenFormat(path, FormatRar, Options{Password: "nope"})
		require.NoError(t, err)
		defer func() { _ = a.Close() }()

		assert.ErrorIs(t, a.CheckPassword(), ErrPasswordIncorrect)
	})

	t.Run("correct password", func(t *testing.T) {
		a, err := OpenFormat(path, FormatRar, Options{Password: "secret"})
		require.NoError(t, err)
		defer func() { _ = a.Close() }()

		require.NoError(t, a.CheckPassword())

		got, err := a.ReadFile("Navdata/cycle.json", 0)
		require.NoError(t, err)
		assert.Equal(t, `{"cycle":"2401"}`, string(got))

		got, err = a.ReadFile("Navdata/airports.dat", 0)
		require.NoError(t, err)
		assert.Equal(t, "KSEA 47.449 -122.309\nKJFK 40.639 -73.778\n", string(got))
	})
}

func TestSevenZipEntries(t *testing.T) {
	a, err := Open(context.Background(), fixture("bundle.7z"), Options{})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	assert.Equal(t, FormatSevenZip, a.Format())
	assert.Equal(t, 2, a.FileCount())

	e, ok := a.Lookup("A320.zip")
	require.True(t, ok)
	assert.False(t, e.IsDir)
	assert.Equal(t, int64(-1), e.CompressedSize)

	got, err := a.ReadFile("readme.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "Extract A320.zip into Aircraft\n", string(got))

	assert.NoError(t, a.CheckPassword())
}

func TestSevenZipEncryptedHeaders(t *testing.T) {
	path := fixture("headers-encrypted.7z")

	_, err := OpenFormat(path, FormatSevenZip, Options{})
	assert.ErrorIs(t, err, ErrPasswordRequired)

	_, err = OpenFormat(path, FormatSevenZip, Options{Password: "notpassword"})
	assert.ErrorIs(t, err, ErrPasswordIncorrect)

	a, err := OpenFormat(path, FormatSevenZip, Options{Password: sevenZipPassword})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()
	assert.NotEmpty(t, a.Entries())
	assert.NoError(t, a.CheckPassword())
}

func TestSevenZipCheckPassword(t *testing.T) {
	path := fixture("files-encrypted.7z")

	t.Run("missing password", func(t *testing.T) {
		a, err := OpenFormat(path, FormatSevenZip, Options{})
		require.NoError(t, err)
		defer func() { _ = a.Close() }()

		e, ok := a.Lookup("foo")
		require.True(t, ok)
		assert.Equal(t, int64(4), e.Size)
		assert.ErrorIs(t, a.CheckPassword(), ErrPasswordRequired)
	})

	t.Run("wrong password", func(t *testing.T) {
		a, err := OpenFormat(path, FormatSevenZip, Options{Password: "notpassword"})
		require.NoError(t, err)
		defer func() { _ = a.Close() }()

		assert.ErrorIs(t, a.CheckPassword(), ErrPasswordIncorrect)
	})

	t.Run("correct password", func(t *testing.T) {
		a, err := OpenFormat(path, FormatSevenZip, Options{Password: sevenZipPassword})
		require.NoError(t, err)
		defer func() { _ = a.Close() }()

		require.NoError(t, a.CheckPassword())
		got, err := a.ReadFile("bar", 0)
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})
}

func TestChainSevenZipToZip(t *testing.T) {
	scratch := t.TempDir()
	c, err := OpenChain(context.Background(), []Layer{
		{Format: FormatSevenZip, Path: fixture("bundle.7z")},
		{Format: FormatZip, Path: "A320.zip"},
	}, ChainOptions{ScratchDir: scratch})
	require.NoError(t, err)

	assert.Equal(t, 2, c.Depth())
	assert.Equal(t, ChainStats{InMemory: 1}, c.Stats)

	got, err := c.Innermost().ReadFile("A320/a320.acf", 0)
	require.NoError(t, err)
	assert.Equal(t, "I\n1100 Version\n", string(got))
	require.NoError(t, c.Close())
}

func TestChainZipToSevenZipUsesTempFile(t *testing.T) {
	bundle, err := os.ReadFile(fixture("bundle.7z"))
	require.NoError(t, err)

	dir := t.TempDir()
	outer := testutil.WriteZip(t, filepath.Join(dir, "outer.zip"), testutil.Files{
		"pack/bundle.7z": string(bundle),
	})
	scratch := filepath.Join(dir, "scratch")

	c, err := OpenChain(context.Background(), []Layer{
		{Format: FormatZip, Path: outer},
		{Format: FormatSevenZip, Path: "pack/bundle.7z"},
		{Format: FormatZip, Path: "A320.zip"},
	}, ChainOptions{ScratchDir: scratch})
	require.NoError(t, err)

	assert.Equal(t, 3, c.Depth())
	assert.Equal(t, ChainStats{InMemory: 1, Temp: 1}, c.Stats)
	assert.False(t, c.layers[1].InMemory())

	_, ok := c.Innermost().Lookup("A320/objects/body.obj")
	assert.True(t, ok)

	layerDirs, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Len(t, layerDirs, 1)

	require.NoError(t, c.Close())
	layerDirs, err = os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, layerDirs)
}

func TestChainFallsBackToTempFile(t *testing.T) {
	data := testutil.ZipBytes(t, testutil.Files{"inner.zip": "not really a zip"})
	outer, err := OpenBytes("outer.zip", data, FormatZip, Options{})
	require.NoError(t, err)

	scratch := t.TempDir()
	c := NewChain(ChainOptions{ScratchDir: scratch})
	_, err = c.OpenChild(context.Background(), outer, Layer{Path: "inner.zip"})
	require.ErrorIs(t, err, ErrCorrupted)
	assert.Equal(t, ChainStats{Fallbacks: 1}, c.Stats)

	require.NoError(t, c.Close())
	left, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestChainLargeLayerGoesToTempFile(t *testing.T) {
	inner := testutil.ZipBytes(t, testutil.Files{"A320/a320.acf": "I\n1100 Version\n"})
	data := testutil.ZipBytes(t, testutil.Files{"A320.zip": string(inner)})
	outer, err := OpenBytes("outer.zip", data, FormatZip, Options{})
	require.NoError(t, err)

	c := NewChain(ChainOptions{MaxInMemory: 10, ScratchDir: t.TempDir()})
	child, err := c.OpenChild(context.Background(), outer, Layer{Path: "A320.zip"})
	require.NoError(t, err)
	assert.False(t, child.InMemory())
	assert.Equal(t, ChainStats{Temp: 1}, c.Stats)

	require.NoError(t, child.Close())
	require.NoError(t, c.Close())
}
