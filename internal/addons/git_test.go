package addons

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCurrentCommit(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.xpl"), []byte("xpl"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("plugin.xpl")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	commit, err := GetCurrentCommit(dir)
	require.NoError(t, err)
	assert.Equal(t, hash.String()[:8], commit)

	_, err = GetCurrentCommit(t.TempDir())
	assert.ErrorIs(t, err, ErrNotGitRepo)
}

func TestCloneSourceRejectsNonGitURL(t *testing.T) {
	_, err := CloneSource(t.Context(), "https://example.com/file.zip", t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrInvalidURL)
}
