package ftp

import (
	"context"
	"errors"
	"io"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/filestore/pkg/storage"
)

func TestNew(t *testing.T) {
	_, err := New(storage.DiskConfig{Name: "f"})
	require.ErrorContains(t, err, "host is required")

	d, err := New(storage.DiskConfig{Name: "f", Host: "files.example.com", Root: "public/"})
	require.NoError(t, err)
	assert.Equal(t, "files.example.com:21", d.addr)
	assert.Equal(t, "anonymous", d.username)
	assert.Equal(t, "/public", d.root)
	full, err := d.abs("a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "/public/a/b.txt", full)
	assert.Equal(t, "a/b.txt", d.rel("/public/a/b.txt"))
	assert.Equal(t, "ftp://files.example.com/public/a/b.txt", d.URL("a/b.txt"))
	assert.Equal(t, defaultTimeout, d.timeout)

	d, err = New(storage.DiskConfig{Name: "f", Host: "::1", Port: 2121, PublicURL: "https://cdn.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "[::1]:2121", d.addr)
	assert.Equal(t, "/", d.root)
	assert.Equal(t, "a/b.txt", d.rel("/a/b.txt"))
	assert.Equal(t, "https://cdn.example.com/a/b.txt", d.URL("/a/b.txt"))

	d, err = New(storage.DiskConfig{Name: "f", Host: "h", Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d.timeout)
}

func TestWrap(t *testing.T) {
	err := wrap("size", "a.txt", &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "No such file"})
	assert.ErrorIs(t, err, storage.ErrFileNotFound)

	err = wrap("login", "bob", &textproto.Error{Code: ftp.StatusNotLoggedIn, Msg: "Login incorrect"})
	assert.ErrorIs(t, err, storage.ErrUnauthenticated)

	other := errors.New("connection reset")
	err = wrap("put", "a.txt", other)
	assert.ErrorIs(t, err, other)
	assert.NotErrorIs(t, err, storage.ErrFileNotFound)
	assert.EqualError(t, err, "storage/ftp: put a.txt: connection reset")
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, storage.Drivers(), storage.DriverFTP)
}

func newTestDriver(t *testing.T) (*Driver, *fakeServer) {
	t.Helper()
	srv := newFakeServer(t)
	srv.mu.Lock()
	srv.dirs["/srv"] = true
	srv.mu.Unlock()

	d, err := New(storage.DiskConfig{
		Name:     "ftp",
		Host:     "127.0.0.1",
		Port:     srv.port(),
		Username: "bob",
		Password: "secret",
		Root:     "srv",
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, d.Init(context.Background()))
	return d, srv
}

func TestPutGetStat(t *testing.T) {
	ctx := context.Background()
	d, srv := newTestDriver(t)

	meta, err := d.Put(ctx, "docs/a.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), meta["size"])

	data, ok := srv.file("/srv/docs/a.txt")
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))

	rc, err := d.Get(ctx, "docs/a.txt")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(got))

	n, err := d.Size(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	ms, err := d.LastModified(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, srv.mtime.UnixMilli(), ms)

	ok, err = d.Exists(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMissingFile(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDriver(t)

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

func TestBadCredentials(t *testing.T) {
	srv := newFakeServer(t)
	d, err := New(storage.DiskConfig{
		Name:     "ftp",
		Host:     "127.0.0.1",
		Port:     srv.port(),
		Username: "bob",
		Password: "wrong",
	})
	require.NoError(t, err)

	err = d.Init(context.Background())
	assert.ErrorIs(t, err, storage.ErrUnauthenticated)
	_, err = d.Get(context.Background(), "a.txt")
	assert.ErrorIs(t, err, storage.ErrUnauthenticated)
}

func TestCopyMoveDelete(t *testing.T) {
	ctx := context.Background()
	d, srv := newTestDriver(t)

	_, err := d.Put(ctx, "a.txt", strings.NewReader("abc"))
	require.NoError(t, err)
	require.NoError(t, d.Copy(ctx, "a.txt", "copies/b.txt"))
	require.NoError(t, d.Move(ctx, "copies/b.txt", "moved/c.txt"))
	require.NoError(t, d.Delete(ctx, "a.txt"))

	for p, want := range map[string]bool{
		"/srv/a.txt":        false,
		"/srv/copies/b.txt": false,
		"/srv/moved/c.txt":  true,
	} {
		_, ok := srv.file(p)
		assert.Equal(t, want, ok, p)
	}
}

func TestDirectories(t *testing.T) {
	ctx := context.Background()
	d, srv := newTestDriver(t)

	dir, err := d.MakeDir(ctx, "x/y")
	require.NoError(t, err)
	assert.Equal(t, "x/y", dir)

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

	_, err = d.RemoveDir(ctx, "x")
	require.NoError(t, err)
	_, ok := srv.file("/srv/x/top.txt")
	assert.False(t, ok)

	srv.mu.Lock()
	assert.False(t, srv.dirs["/srv/x"])
	assert.True(t, srv.dirs["/srv"])
	srv.mu.Unlock()

	_, err = d.RemoveDir(ctx, "never-made")
	assert.NoError(t, err)
}

func TestPathsStayUnderRoot(t *testing.T) {
	ctx := context.Background()
	d, srv := newTestDriver(t)
	srv.mu.Lock()
	srv.files["/outside.txt"] = []byte("secret")
	srv.mu.Unlock()

	_, err := d.Put(ctx, "../outside.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, storage.ErrInvalidPath)
	_, err = d.Get(ctx, "../outside.txt")
	assert.ErrorIs(t, err, storage.ErrInvalidPath)
	_, err = d.Size(ctx, "a/../../outside.txt")
	assert.ErrorIs(t, err, storage.ErrInvalidPath)
	assert.ErrorIs(t, d.Delete(ctx, "../outside.txt"), storage.ErrInvalidPath)
	assert.ErrorIs(t, d.Move(ctx, "../outside.txt", "in.txt"), storage.ErrInvalidPath)
	_, err = d.MakeDir(ctx, "../up")
	assert.ErrorIs(t, err, storage.ErrInvalidPath)
	_, err = d.List(ctx, "..", true)
	assert.ErrorIs(t, err, storage.ErrInvalidPath)

	data, ok := srv.file("/outside.txt")
	require.True(t, ok)
	assert.Equal(t, "secret", string(data))
}

func TestRemoveDirRefusesRoot(t *testing.T) {
	ctx := context.Background()
	d, srv := newTestDriver(t)

	_, err := d.Put(ctx, "keep.txt", strings.NewReader("x"))
	require.NoError(t, err)

	for _, dir := range []string{"", "/", ".", "a/.."} {
		_, err := d.RemoveDir(ctx, dir)
		assert.ErrorIs(t, err, storage.ErrInvalidPath, dir)
	}
	_, ok := srv.file("/srv/keep.txt")
	assert.True(t, ok)
}
