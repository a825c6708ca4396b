package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/filestore/pkg/storage"
	"github.com/shashiranjanraj/filestore/pkg/storage/memory"
)

func TestSyncDir(t *testing.T) {
	ctx := context.Background()
	t.Cleanup(func() { memory.Forget("sync") })

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "css", "site.css"), []byte("body{}"), 0o644))

	st, err := storage.Open(ctx, storage.Config{
		Disks: []storage.DiskConfig{{Name: "sync", Driver: storage.DriverMemory}},
	})
	require.NoError(t, err)

	n, err := syncDir(ctx, st, dir, "site", 2, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	files, err := st.List(ctx, "site", true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"site/index.html", "site/css/site.css"}, files)
}

func TestSyncDirMissing(t *testing.T) {
	st, err := storage.Open(context.Background(), storage.Config{
		Disks: []storage.DiskConfig{{Name: "sync-missing", Driver: storage.DriverMemory}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { memory.Forget("sync-missing") })

	_, err = syncDir(context.Background(), st, filepath.Join(t.TempDir(), "nope"), "", 2, io.Discard)
	assert.Error(t, err)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filesystems.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default: a
disks:
  - name: a
    driver: memory
  - name: b
    driver: memory
`), 0o644))

	configFlag, uniqueFlag = path, true
	t.Cleanup(func() { configFlag, uniqueFlag = "", false })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "a", cfg.DefaultDisk)
	assert.Len(t, cfg.Disks, 2)
	assert.True(t, cfg.UniqueFileName)
	assert.Len(t, cfg.Plugins, 1)
}
