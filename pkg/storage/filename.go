package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// UniquePath replaces the base name of p with a random UUID, keeping its
// directory and extension: "a/b/photo.jpg" becomes "a/b/<uuid>.jpg".
func UniquePath(p string) string {
	dir, file := path.Split(p)
	return dir + uuid.NewString() + path.Ext(file)
}

// FileName returns the last segment of p with any query string removed.
func FileName(p string) string {
	p = stripQuery(p)
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Ext returns the extension of p without the leading dot.
func Ext(p string) string {
	return strings.TrimPrefix(path.Ext(FileName(p)), ".")
}

func stripQuery(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		return p[:i]
	}
	return p
}

// CleanPath resolves p to a slash path relative to the disk root. Leading
// slashes, "." and ".." segments are resolved; a path that climbs above
// the root fails with ErrInvalidPath. The root itself is "".
func CleanPath(p string) (string, error) {
	c := path.Clean(strings.TrimLeft(p, "/"))
	switch {
	case c == ".":
		return "", nil
	case c == ".." || strings.HasPrefix(c, "../"):
		return "", fmt.Errorf("%w: %q is outside the disk", ErrInvalidPath, p)
	}
	return c, nil
}

// CleanFile is CleanPath for paths naming a file: the root is rejected.
func CleanFile(p string) (string, error) {
	c, err := CleanPath(p)
	if err == nil && c == "" {
		err = fmt.Errorf("%w: %q names the disk root, not a file", ErrInvalidPath, p)
	}
	return c, err
}

// CleanRemovableDir is CleanPath for RemoveDir. Removing the root would
// empty the whole disk, so "", "." and "/" are rejected.
func CleanRemovableDir(dir string) (string, error) {
	c, err := CleanPath(dir)
	if err == nil && c == "" {
		err = fmt.Errorf("%w: refusing to remove disk root", ErrInvalidPath)
	}
	return c, err
}
