package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/xpinstall/internal/addons"
)

func TestParsePasswords(t *testing.T) {
	got, err := parsePasswords([]string{"Livery.zip=secret", "/dl/pack.7z!inner.zip=a=b"})
	require.NoError(t, err)
	assert.Equal(t, "secret", got["Livery.zip"])
	assert.Equal(t, "b", got["/dl/pack.7z!inner.zip=a"], "the last '=' separates the secret")

	_, err = parsePasswords([]string{"nosecret"})
	assert.Error(t, err)
	_, err = parsePasswords([]string{"=secret"})
	assert.Error(t, err)
}

func TestApplyChoices(t *testing.T) {
	tasks := []addons.InstallTask{
		{DisplayName: "A320", ConflictExists: true, Mode: addons.ModeClean, Enabled: true},
		{DisplayName: "KSEA", Mode: addons.ModeOverwrite, Enabled: true},
	}
	atomic := addons.ModeAtomic

	require.NoError(t, applyChoices(tasks, &atomic, []int{2}))
	assert.Equal(t, addons.ModeAtomic, tasks[0].Mode)
	assert.True(t, tasks[0].Enabled)
	assert.Equal(t, addons.ModeOverwrite, tasks[1].Mode, "only conflicting tasks change mode")
	assert.False(t, tasks[1].Enabled)

	assert.Error(t, applyChoices(tasks, nil, []int{3}))
}
