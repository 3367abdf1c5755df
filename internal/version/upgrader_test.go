package version

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liangyou/devkit/pkg/models"
)

func newUpgradeFixture(t *testing.T, scope models.UpgradeScope) (*testEnv, *Upgrader) {
	t.Helper()

	env := newTestEnv(t)
	env.publishSDK(t, "java", "17.0.9")
	env.publishSDK(t, "java", "21.0.1")
	env.publishSDK(t, "gradle", "8.5")
	env.install(t, "java", "17.0.9")
	env.install(t, "gradle", "8.5")

	sw := NewSwitcher(env.registry, nil)
	for _, pin := range []models.Pin{{Candidate: "java", Version: "17.0.9"}, {Candidate: "gradle", Version: "8.5"}} {
		_, err := sw.Switch(context.Background(), pin.Candidate, pin.Version, models.ScopeGlobal, "")
		require.NoError(t, err)
	}
	return env, NewUpgrader(env.registry, env.catalog, env.installer(), sw, scope, nil)
}

func TestOutdated(t *testing.T) {
	t.Parallel()

	_, up := newUpgradeFixture(t, models.UpgradeGlobal)

	got, err := up.Outdated(context.Background(), "")
	require.NoError(t, err)
	want := []Outdated{{Candidate: "java", Current: "17.0.9", Latest: "21.0.1"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Outdated mismatch (-want +got):\n%s", diff)
	}

	got, err = up.Outdated(context.Background(), "gradle")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = up.Outdated(context.Background(), "scala")
	assert.ErrorIs(t, err, models.ErrNoneInstalled)
}

func TestUpgradeMovesGlobalDefaultOnly(t *testing.T) {
	t.Parallel()

	env, up := newUpgradeFixture(t, models.UpgradeGlobal)
	require.NoError(t, env.registry.SetSessionOverride("pinned", "java", "17.0.9"))

	done, err := up.Upgrade(context.Background(), "java", "caller")
	require.NoError(t, err)
	require.Len(t, done, 1)

	def, err := env.registry.GlobalDefault("java")
	require.NoError(t, err)
	assert.Equal(t, "21.0.1", def)

	old, err := env.registry.Get("java", "17.0.9")
	require.NoError(t, err)
	assert.DirExists(t, old.InstallPath, "upgrade never touches the previous installation")

	cur, err := env.registry.Current("java", "pinned")
	require.NoError(t, err)
	assert.Equal(t, "17.0.9", cur.Version, "other sessions keep their override")

	again, err := up.Outdated(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestUpgradeSessionScopeMovesCaller(t *testing.T) {
	t.Parallel()

	env, up := newUpgradeFixture(t, models.UpgradeSession)
	require.NoError(t, env.registry.SetSessionOverride("caller", "java", "17.0.9"))
	require.NoError(t, env.registry.SetSessionOverride("other", "java", "17.0.9"))

	_, err := up.Upgrade(context.Background(), "", "caller")
	require.NoError(t, err)

	cur, err := env.registry.Current("java", "caller")
	require.NoError(t, err)
	assert.Equal(t, "21.0.1", cur.Version)

	cur, err = env.registry.Current("java", "other")
	require.NoError(t, err)
	assert.Equal(t, "17.0.9", cur.Version)
}
