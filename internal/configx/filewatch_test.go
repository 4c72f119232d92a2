package configx

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileWatcher_LoadsAndReloadsOnWrite(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "pulsecore.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("ai:\n  enabled: true\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fw, err := NewFileWatcher(ctx, configPath, nil)
	require.NoError(t, err)
	defer fw.Close()

	require.NotNil(t, fw.Current())
	require.NotNil(t, fw.Current().AI)
	require.True(t, fw.Current().AI.Enabled)

	require.NoError(t, os.WriteFile(configPath, []byte("ai:\n  enabled: false\n"), 0o644))
	require.Eventually(t, func() bool {
		spec := fw.Current()
		return spec != nil && spec.AI != nil && !spec.AI.Enabled
	}, time.Second, 10*time.Millisecond, "expected the file layer to reload after a write")
}

func TestFileWatcher_EmptyPathReportsNilLayerForever(t *testing.T) {
	fw, err := NewFileWatcher(context.Background(), "", nil)
	require.NoError(t, err)
	require.Nil(t, fw.Current())
	require.NoError(t, fw.Close())
}

func TestFileWatcher_MissingFileErrors(t *testing.T) {
	_, err := NewFileWatcher(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}
