package version

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liangyou/devkit/internal/storage"
	"github.com/liangyou/devkit/pkg/models"
)

func TestGlobalSwitchVisibleToNewSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publishSDK(t, "java", "17.0.9")
	env.publishSDK(t, "java", "21.0.1")
	env.install(t, "java", "17.0.9")
	v21 := env.install(t, "java", "21.0.1")

	exp, err := NewSwitcher(env.registry, nil).Switch(context.Background(), "java", "21.0.1", models.ScopeGlobal, "")
	require.NoError(t, err)
	assert.Equal(t, "JAVA_HOME", exp.HomeVar)
	assert.Equal(t, v21.InstallPath, exp.Home)
	assert.Equal(t, filepath.Join(v21.InstallPath, "bin"), exp.BinDir)

	// 新进程、新会话。
	fresh := NewSwitcher(storage.NewRegistry(models.Config{RootDir: env.root}), nil)
	resolved, err := fresh.Resolve("java", "a-brand-new-session")
	require.NoError(t, err)
	assert.Equal(t, "21.0.1", resolved.Version)
}

func TestSessionSwitchDoesNotLeak(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publishSDK(t, "java", "17.0.9")
	env.publishSDK(t, "java", "21.0.1")
	env.install(t, "java", "17.0.9")
	env.install(t, "java", "21.0.1")

	sw := NewSwitcher(env.registry, nil)
	_, err := sw.Switch(context.Background(), "java", "21.0.1", models.ScopeGlobal, "")
	require.NoError(t, err)

	exp, err := sw.Switch(context.Background(), "java", "17.0.9", models.ScopeSession, "s1")
	require.NoError(t, err)
	assert.Equal(t, "17.0.9", exp.Version)

	s1, err := sw.Resolve("java", "s1")
	require.NoError(t, err)
	assert.Equal(t, "17.0.9", s1.Version)

	s2, err := sw.Resolve("java", "s2")
	require.NoError(t, err)
	assert.Equal(t, "21.0.1", s2.Version)

	def, err := env.registry.GlobalDefault("java")
	require.NoError(t, err)
	assert.Equal(t, "21.0.1", def)

	all, err := sw.ResolveAll("s1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "17.0.9", all[0].Version)
}

func TestSwitchErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publishSDK(t, "java", "21.0.1")
	v := env.install(t, "java", "21.0.1")
	sw := NewSwitcher(env.registry, nil)

	_, err := sw.Switch(context.Background(), "java", "8.0.392", models.ScopeGlobal, "")
	assert.ErrorIs(t, err, models.ErrNotInstalled)

	_, err = sw.Switch(context.Background(), "java", "21.0.1", models.ScopeSession, "")
	assert.ErrorIs(t, err, models.ErrNoSession)

	_, err = sw.Resolve("gradle", "")
	assert.ErrorIs(t, err, models.ErrNoneInstalled)

	require.NoError(t, os.Remove(filepath.Join(v.InstallPath, "bin", "java")))
	_, err = sw.Switch(context.Background(), "java", "21.0.1", models.ScopeGlobal, "")
	assert.ErrorIs(t, err, models.ErrNotInstalled, "broken installs cannot be activated")
	def, err := env.registry.GlobalDefault("java")
	require.NoError(t, err)
	assert.Empty(t, def)
}

func TestExportForRootEntrypoint(t *testing.T) {
	t.Parallel()

	exp := ExportFor(models.InstalledVersion{
		Candidate:   "visualvm",
		Version:     "2.1.7",
		InstallPath: "/sdk/visualvm/2.1.7",
		Entrypoint:  "visualvm",
	})
	assert.Equal(t, "/sdk/visualvm/2.1.7", exp.BinDir)
	assert.Equal(t, "VISUALVM_HOME", exp.HomeVar)
}
