package local

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/filestore/pkg/storage"
	"github.com/shashiranjanraj/filestore/pkg/urlsign"
)

func newDriver(t *testing.T, cfg storage.DiskConfig) *Driver {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "local"
	}
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	d, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, d.Init(context.Background()))
	return d
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t, storage.DiskConfig{})

	meta, err := d.Put(ctx, "nested/dir/a.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), meta["size"])

	rc, err := d.Get(ctx, "nested/dir/a.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	ok, err := d.Exists(ctx, "nested/dir/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := d.Size(ctx, "nested/dir/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	ms, err := d.LastModified(ctx, "nested/dir/a.txt")
	require.NoError(t, err)
	assert.InDelta(t, time.Now().UnixMilli(), ms, float64(time.Minute.Milliseconds()))
}

func TestMissingFile(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t, storage.DiskConfig{})

	ok, err := d.Exists(ctx, "nope.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = d.Size(ctx, "nope.txt")
	assert.ErrorIs(t, err, storage.ErrFileNotFound)
	_, err = d.LastModified(ctx, "nope.txt")
	assert.ErrorIs(t, err, storage.ErrFileNotFound)
	_, err = d.Get(ctx, "nope.txt")
	assert.ErrorIs(t, err, storage.ErrFileNotFound)
	assert.ErrorIs(t, d.Delete(ctx, "nope.txt"), storage.ErrFileNotFound)
	assert.ErrorIs(t, d.Move(ctx, "nope.txt", "x.txt"), storage.ErrFileNotFound)
}

func TestCopyMoveDelete(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t, storage.DiskConfig{})

	_, err := d.Put(ctx, "a.txt", strings.NewReader("abc"))
	require.NoError(t, err)

	require.NoError(t, d.Copy(ctx, "a.txt", "copies/b.txt"))
	require.NoError(t, d.Move(ctx, "a.txt", "moved/c.txt"))

	for path, want := range map[string]bool{"a.txt": false, "copies/b.txt": true, "moved/c.txt": true} {
		ok, err := d.Exists(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, want, ok, path)
	}

	require.NoError(t, d.Delete(ctx, "moved/c.txt"))
	_, err = os.Stat(filepath.Join(d.Root(), "moved", "c.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestDirectories(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t, storage.DiskConfig{})

	dir, err := d.MakeDir(ctx, "x/y/z")
	require.NoError(t, err)
	assert.Equal(t, "x/y/z", dir)
	_, err = d.MakeDir(ctx, "x/y/z")
	require.NoError(t, err)

	_, err = d.Put(ctx, "x/top.txt", strings.NewReader("1"))
	require.NoError(t, err)
	_, err = d.Put(ctx, "x/y/deep.txt", strings.NewReader("2"))
	require.NoError(t, err)

	files, err := d.List(ctx, "x", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"x/top.txt"}, files)

	files, err = d.List(ctx, "x", true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x/top.txt", "x/y/deep.txt"}, files)

	files, err = d.List(ctx, "missing", true)
	require.NoError(t, err)
	assert.Empty(t, files)

	dir, err = d.RemoveDir(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", dir)
	_, err = d.RemoveDir(ctx, "x")
	require.NoError(t, err)

	ok, err := d.Exists(ctx, "x/top.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestURL(t *testing.T) {
	d := newDriver(t, storage.DiskConfig{})
	assert.Equal(t, "http://localhost:8080/storage/a/b.png", d.URL("a/b.png"))

	d = newDriver(t, storage.DiskConfig{PublicURL: "https://cdn.example.com/files/"})
	assert.Equal(t, "https://cdn.example.com/files/a/b.png", d.URL("/a/b.png"))
}

func TestTemporaryURL(t *testing.T) {
	ctx := context.Background()
	key := "super-secret"
	d := newDriver(t, storage.DiskConfig{Name: "private", SigningKey: key})

	raw, err := d.TemporaryURL(ctx, "docs/report.pdf", time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/storage/docs/report.pdf", u.Path)

	claims, err := urlsign.Verify([]byte(key), u.Query().Get("signature"), "private", "docs/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "private", claims.Disk)

	unsigned := newDriver(t, storage.DiskConfig{})
	_, err = unsigned.TemporaryURL(ctx, "docs/report.pdf", time.Minute)
	assert.Error(t, err)
}

func TestImageStats(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t, storage.DiskConfig{})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 3))))
	_, err := d.Put(ctx, "img/p.png", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	stats, err := d.ImageStats(ctx, "img/p.png", false)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Width)
	assert.Equal(t, 3, stats.Height)
	assert.Equal(t, "png", stats.Format)

	_, err = d.ImageStats(ctx, "img/missing.png", false)
	assert.ErrorIs(t, err, storage.ErrFileNotFound)
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, storage.Drivers(), storage.DriverLocal)
}

func TestPathsStayUnderRoot(t *testing.T) {
	ctx := context.Background()
	parent := t.TempDir()
	d := newDriver(t, storage.DiskConfig{Root: filepath.Join(parent, "disk")})

	sibling := filepath.Join(parent, "sibling.txt")
	require.NoError(t, os.WriteFile(sibling, []byte("keep"), 0o644))

	_, err := d.Put(ctx, "../outside.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, storage.ErrInvalidPath)
	_, err = os.Stat(filepath.Join(parent, "outside.txt"))
	assert.True(t, os.IsNotExist(err))

	_, err = d.Get(ctx, "../sibling.txt")
	assert.ErrorIs(t, err, storage.ErrInvalidPath)
	_, err = d.Exists(ctx, "a/../../sibling.txt")
	assert.ErrorIs(t, err, storage.ErrInvalidPath)
	_, err = d.Size(ctx, "../sibling.txt")
	assert.ErrorIs(t, err, storage.ErrInvalidPath)
	assert.ErrorIs(t, d.Delete(ctx, "../sibling.txt"), storage.ErrInvalidPath)
	assert.ErrorIs(t, d.Move(ctx, "../sibling.txt", "in.txt"), storage.ErrInvalidPath)
	assert.ErrorIs(t, d.Copy(ctx, "../sibling.txt", "in.txt"), storage.ErrInvalidPath)
	_, err = d.MakeDir(ctx, "../newdir")
	assert.ErrorIs(t, err, storage.ErrInvalidPath)
	_, err = d.List(ctx, "..", true)
	assert.ErrorIs(t, err, storage.ErrInvalidPath)
	_, err = d.RemoveDir(ctx, "..")
	assert.ErrorIs(t, err, storage.ErrInvalidPath)

	data, err := os.ReadFile(sibling)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))

	// Paths that dip into a subdirectory and back out stay valid.
	_, err = d.Put(ctx, "a/../inside.txt", strings.NewReader("ok"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(d.Root(), "inside.txt"))
	assert.NoError(t, err)
}

func TestRemoveDirRefusesRoot(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t, storage.DiskConfig{})
	_, err := d.Put(ctx, "keep.txt", strings.NewReader("x"))
	require.NoError(t, err)

	for _, dir := range []string{"", "/", ".", "a/.."} {
		_, err := d.RemoveDir(ctx, dir)
		assert.ErrorIs(t, err, storage.ErrInvalidPath, dir)
	}

	ok, err := d.Exists(ctx, "keep.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}
