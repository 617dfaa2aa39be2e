package xplane

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSim(t *testing.T, folder string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, folder), 0o755))
	return root
}

func writeRegistry(t *testing.T, dir string, version int, lines ...string) {
	t.Helper()
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	name := filepath.Join(dir, "x-plane_install_"+strconv.Itoa(version)+".txt")
	require.NoError(t, os.WriteFile(name, []byte(content), 0o644))
}

func TestDiscoverSkipsStaleAndOrdersByVersion(t *testing.T) {
	logger := log.New(io.Discard)
	reg := t.TempDir()
	xp11 := fakeSim(t, "Aircraft")
	xp12 := fakeSim(t, "Custom Scenery")
	notSim := t.TempDir()

	writeRegistry(t, reg, 11, xp11, filepath.Join(reg, "gone"))
	writeRegistry(t, reg, 12, "", xp12, notSim, xp12)

	found := Discover(logger, reg)
	require.Len(t, found, 2)
	assert.Equal(t, Install{Root: xp12, Version: 12}, found[0])
	assert.Equal(t, Install{Root: xp11, Version: 11}, found[1])

	root, err := Locate(logger, reg)
	require.NoError(t, err)
	assert.Equal(t, xp12, root, "the newest version wins")
}

func TestLocateAmbiguousAndMissing(t *testing.T) {
	logger := log.New(io.Discard)
	reg := t.TempDir()

	_, err := Locate(logger, reg)
	assert.ErrorIs(t, err, ErrNotFound)

	writeRegistry(t, reg, 12, fakeSim(t, "Resources"), fakeSim(t, "Resources"))
	_, err = Locate(logger, reg, "")
	assert.ErrorIs(t, err, ErrAmbiguous)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(fakeSim(t, "Resources")))
	assert.ErrorIs(t, Validate(t.TempDir()), ErrNotXPlane)

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.ErrorIs(t, Validate(file), ErrNotXPlane)
}
