package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsChangedArtifact(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "camera")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	artifact := filepath.Join(dir, "camera.py")
	require.NoError(t, os.WriteFile(artifact, []byte("def first():\n    pass\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "component.yaml"),
		[]byte("name: camera\nversion: 1.0.0\nartifact: camera.py\n"), 0o644))

	m := New(WithComponentsDir(root))
	require.NoError(t, m.Initialize())
	t.Cleanup(func() { _ = m.Destroy() })

	desc, err := LoadDescriptor(dir)
	require.NoError(t, err)
	require.NoError(t, m.RegisterComponent(desc))
	require.NoError(t, m.LoadComponent(context.Background(), "camera", nil))

	require.NoError(t, m.WatchComponents(context.Background()))
	require.NoError(t, m.WatchComponents(context.Background()), "starting twice is a no-op")

	require.NoError(t, os.WriteFile(artifact, []byte("def second():\n    pass\n"), 0o644))

	assert.Eventually(t, func() bool {
		mod, err := m.Loader().GetModule("camera")
		if err != nil {
			return false
		}
		return len(mod.Exports) == 1 && mod.Exports[0] == "second"
	}, 3*time.Second, 20*time.Millisecond, "watcher should reload the rewritten artifact")

	m.StopWatching()
	m.StopWatching()
}

func TestWatcherRegistersNewComponentDir(t *testing.T) {
	root := t.TempDir()
	m := New(WithComponentsDir(root))
	require.NoError(t, m.Initialize())
	t.Cleanup(func() { _ = m.Destroy() })

	require.NoError(t, m.WatchComponents(context.Background()))
	defer m.StopWatching()

	// The descriptor is staged elsewhere and the directory moved into place,
	// so the create event sees a complete component.
	staging := filepath.Join(t.TempDir(), "mount")
	require.NoError(t, os.MkdirAll(staging, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "mount.lua"), []byte("function slew()\nend\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "component.yaml"),
		[]byte("name: mount\nversion: 1.0.0\nartifact: mount.lua\n"), 0o644))
	require.NoError(t, os.Rename(staging, filepath.Join(root, "mount")))

	assert.Eventually(t, func() bool {
		return m.HasComponent("mount")
	}, 3*time.Second, 20*time.Millisecond, "watcher should register the new component")
}
