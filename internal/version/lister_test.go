package version

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liangyou/devkit/pkg/models"
)

func TestListerAvailableMergesLocalState(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publishSDK(t, "java", "17.0.9")
	env.publishSDK(t, "java", "21.0.1")
	env.publishSDK(t, "java", "22.0.0")
	env.install(t, "java", "17.0.9")
	env.install(t, "java", "21.0.1")
	_, err := NewSwitcher(env.registry, nil).Switch(context.Background(), "java", "21.0.1", models.ScopeGlobal, "")
	require.NoError(t, err)
	require.NoError(t, env.registry.SetSessionOverride("s1", "java", "17.0.9"))

	local := t.TempDir()
	writeEntrypoint(t, local, "bin/java")
	_, err = env.installer().Install(context.Background(), InstallRequest{Candidate: "java", Version: "23-dev", LocalPath: local})
	require.NoError(t, err)

	items, err := NewLister(env.catalog, env.registry).Available(context.Background(), "java", "s1")
	require.NoError(t, err)

	var lines []string
	for _, item := range items {
		lines = append(lines, FormatListing(item))
	}
	want := []string{
		"+ 23-dev",
		"  22.0.0",
		"* 21.0.1 (default)",
		"> 17.0.9",
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Fatalf("listing mismatch (-want +got):\n%s", diff)
	}

	_, err = NewLister(env.catalog, env.registry).Available(context.Background(), "kotlin", "")
	assert.ErrorIs(t, err, models.ErrNoSuchCandidate)
}

func TestListerInstalled(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publishSDK(t, "gradle", "8.5")
	env.install(t, "gradle", "8.5")

	items, err := NewLister(nil, env.registry).Installed("", "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Installed)
	assert.False(t, items[0].Current)

	line := FormatInstalled(models.InstalledVersion{Candidate: "gradle", Version: "8.5", InstallPath: "/x"}, true)
	assert.Equal(t, "> gradle 8.5 - /x", line)
}
