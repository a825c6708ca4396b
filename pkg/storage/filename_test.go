package storage

import (
	"path"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUniquePath(t *testing.T) {
	tests := []struct {
		in, dir, ext string
	}{
		{"a/b/photo.jpg", "a/b/", ".jpg"},
		{"photo.tar.gz", "", ".gz"},
		{"noext", "", ""},
		{"dir/", "dir/", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := UniquePath(tt.in)
			assert.True(t, strings.HasPrefix(got, tt.dir), got)
			assert.Equal(t, tt.ext, path.Ext(got))
			assert.NotEqual(t, tt.in, got)
		})
	}

	assert.NotEqual(t, UniquePath("x.png"), UniquePath("x.png"))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "cat.jpeg", FileName("images/cat.jpeg"))
	assert.Equal(t, "cat.jpeg", FileName("https://cdn.example.com/images/cat.jpeg?w=100&h=100"))
	assert.Equal(t, "cat.jpeg", FileName("cat.jpeg"))
	assert.Equal(t, "", FileName("images/"))
}

func TestExt(t *testing.T) {
	assert.Equal(t, "jpeg", Ext("images/cat.jpeg"))
	assert.Equal(t, "png", Ext("a.b/cat.png?v=2"))
	assert.Equal(t, "", Ext("a.b/README"))
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in, want string
		invalid  bool
	}{
		{"a/b.txt", "a/b.txt", false},
		{"/a//b.txt", "a/b.txt", false},
		{"a/../b.txt", "b.txt", false},
		{"./a/./b/", "a/b", false},
		{"", "", false},
		{"/", "", false},
		{".", "", false},
		{"..", "", true},
		{"../outside.txt", "", true},
		{"a/../../x", "", true},
		{"/../x", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanPath(tt.in)
			if tt.invalid {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanFileRejectsRoot(t *testing.T) {
	for _, p := range []string{"", "/", ".", "a/.."} {
		_, err := CleanFile(p)
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
	got, err := CleanFile("/docs/a.txt")
	assert.NoError(t, err)
	assert.Equal(t, "docs/a.txt", got)
}

func TestCleanRemovableDirRejectsRoot(t *testing.T) {
	for _, p := range []string{"", "/", ".", "./", "a/..", ".."} {
		_, err := CleanRemovableDir(p)
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
	got, err := CleanRemovableDir("photos/")
	assert.NoError(t, err)
	assert.Equal(t, "photos", got)
}
