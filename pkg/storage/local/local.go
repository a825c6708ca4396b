// Package local registers the "local" storage driver, which keeps files
// under a root directory on the host filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shashiranjanraj/filestore/pkg/storage"
	"github.com/shashiranjanraj/filestore/pkg/urlsign"
)

const (
	DefaultRoot = "storage"
	DefaultURL  = "http://localhost:8080/storage"
)

func init() {
	storage.Register(storage.DriverLocal, func(cfg storage.DiskConfig) (storage.Driver, error) {
		return New(cfg)
	})
}

// Driver is the local-filesystem driver.
type Driver struct {
	storage.Base

	root    string // absolute root directory
	baseURL string // public URL prefix for URL()
	key     []byte // signing key for temporary URLs
}

// New builds a driver rooted at cfg.Root, resolved against the working
// directory when relative.
func New(cfg storage.DiskConfig) (*Driver, error) {
	root := cfg.Root
	if root == "" {
		root = DefaultRoot
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage/local: root %s: %w", cfg.Root, err)
	}

	baseURL := cfg.PublicURL
	if baseURL == "" {
		baseURL = DefaultURL
	}

	return &Driver{
		Base:    storage.NewBase(cfg),
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     []byte(cfg.SigningKey),
	}, nil
}

// Root returns the absolute root directory.
func (d *Driver) Root() string { return d.root }

// Init creates the root directory.
func (d *Driver) Init(context.Context) error {
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("storage/local: init %s: %w", d.root, err)
	}
	return nil
}

// abs maps a disk path onto the filesystem. Paths that climb out of the
// root fail with storage.ErrInvalidPath.
func (d *Driver) abs(path string) (string, error) {
	c, err := storage.CleanPath(path)
	if err != nil {
		return "", fmt.Errorf("storage/local: %w", err)
	}
	return filepath.Join(d.root, filepath.FromSlash(c)), nil
}

// file is abs for paths that must name a file below the root.
func (d *Driver) file(path string) (string, error) {
	c, err := storage.CleanFile(path)
	if err != nil {
		return "", fmt.Errorf("storage/local: %w", err)
	}
	return filepath.Join(d.root, filepath.FromSlash(c)), nil
}

func wrap(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		err = storage.ErrFileNotFound
	case errors.Is(err, fs.ErrPermission):
		err = fmt.Errorf("%w: %v", storage.ErrUnauthenticated, err)
	}
	return fmt.Errorf("storage/local: %s %s: %w", op, path, err)
}

// ── Write ─────────────────────────────────────────────────────────────────────

func (d *Driver) Put(_ context.Context, path string, r io.Reader) (storage.Metadata, error) {
	full, err := d.file(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, wrap("mkdir", path, err)
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, wrap("create", path, err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return nil, wrap("write", path, err)
	}
	return storage.Metadata{"size": n}, nil
}

// ── Read ──────────────────────────────────────────────────────────────────────

func (d *Driver) Get(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := d.file(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, wrap("open", path, err)
	}
	return f, nil
}

func (d *Driver) ImageStats(ctx context.Context, path string, keepBuffer bool) (*storage.ImageStats, error) {
	rc, err := d.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return storage.ReadImageStats(rc, keepBuffer)
}

// ── Metadata ──────────────────────────────────────────────────────────────────

func (d *Driver) Exists(_ context.Context, path string) (bool, error) {
	full, err := d.file(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, wrap("stat", path, err)
	}
}

func (d *Driver) Size(_ context.Context, path string) (int64, error) {
	info, err := d.stat(path)
	if err != nil {
		return 0, wrap("size", path, err)
	}
	return info.Size(), nil
}

func (d *Driver) LastModified(_ context.Context, path string) (int64, error) {
	info, err := d.stat(path)
	if err != nil {
		return 0, wrap("stat", path, err)
	}
	return info.ModTime().UnixMilli(), nil
}

func (d *Driver) stat(path string) (fs.FileInfo, error) {
	c, err := storage.CleanFile(path)
	if err != nil {
		return nil, err
	}
	return os.Stat(filepath.Join(d.root, filepath.FromSlash(c)))
}

func (d *Driver) URL(path string) string {
	return d.baseURL + "/" + strings.TrimLeft(filepath.ToSlash(path), "/")
}

// TemporaryURL appends a signature valid for ttl to URL(path). The disk
// needs a signing key.
func (d *Driver) TemporaryURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	c, err := storage.CleanFile(path)
	if err != nil {
		return "", fmt.Errorf("storage/local: %w", err)
	}
	token, err := urlsign.Sign(d.key, d.Name(), c, ttl)
	if err != nil {
		return "", fmt.Errorf("storage/local: sign %s: %w", path, err)
	}
	return d.URL(c) + "?signature=" + token, nil
}

// ── Delete ────────────────────────────────────────────────────────────────────

func (d *Driver) Delete(_ context.Context, path string) error {
	full, err := d.file(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return wrap("delete", path, err)
	}
	return nil
}

// ── Copy / Move ───────────────────────────────────────────────────────────────

func (d *Driver) Copy(ctx context.Context, src, dst string) error {
	return storage.CopyVia(ctx, d, src, dst)
}

// Move renames in place, falling back to copy and delete across devices.
func (d *Driver) Move(ctx context.Context, src, dst string) error {
	from, err := d.file(src)
	if err != nil {
		return err
	}
	to, err := d.file(dst)
	if err != nil {
		return err
	}
	if _, err := os.Stat(from); err != nil {
		return wrap("move", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return wrap("mkdir", dst, err)
	}
	if err := os.Rename(from, to); err == nil {
		return nil
	}
	return storage.MoveVia(ctx, d, src, dst)
}

// ── Directories ───────────────────────────────────────────────────────────────

func (d *Driver) MakeDir(_ context.Context, dir string) (string, error) {
	full, err := d.abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", wrap("mkdir", dir, err)
	}
	return dir, nil
}

func (d *Driver) RemoveDir(_ context.Context, dir string) (string, error) {
	c, err := storage.CleanRemovableDir(dir)
	if err != nil {
		return "", fmt.Errorf("storage/local: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(d.root, filepath.FromSlash(c))); err != nil {
		return "", wrap("rmdir", dir, err)
	}
	return dir, nil
}

// List returns slash-separated paths relative to the root. A missing
// directory lists as empty.
func (d *Driver) List(_ context.Context, dir string, recursive bool) ([]string, error) {
	absDir, err := d.abs(dir)
	if err != nil {
		return nil, err
	}
	if !recursive {
		entries, err := os.ReadDir(absDir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, wrap("list", dir, err)
		}
		var out []string
		for _, e := range entries {
			if !e.IsDir() {
				out = append(out, d.rel(filepath.Join(absDir, e.Name())))
			}
		}
		return out, nil
	}

	var out []string
	err = filepath.WalkDir(absDir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !e.IsDir() {
			out = append(out, d.rel(path))
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, wrap("list", dir, err)
	}
	return out, nil
}

func (d *Driver) rel(full string) string {
	rel, _ := filepath.Rel(d.root, full)
	return filepath.ToSlash(rel)
}
