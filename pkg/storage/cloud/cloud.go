// Package cloud adapts a gocloud.dev blob.Bucket to the storage driver
// contract. The gcs and memory drivers are built on it; any other blob
// provider can be wired the same way.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/shashiranjanraj/filestore/pkg/storage"
)

// Opener returns the bucket backing a driver. It is called at most once
// per driver, on first use.
type Opener func(ctx context.Context) (*blob.Bucket, error)

// Driver is a storage driver over a blob bucket. Directories are simulated
// with "dir/" placeholder keys.
type Driver struct {
	storage.Base

	id      string
	open    Opener
	baseURL string

	mu     sync.Mutex
	bucket *blob.Bucket
	shared bool
}

// New returns a driver that opens its bucket lazily. id names the driver
// in errors.
func New(cfg storage.DiskConfig, id string, open Opener, baseURL string) *Driver {
	return &Driver{
		Base:    storage.NewBase(cfg),
		id:      id,
		open:    open,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// NewShared wraps an already open bucket. Close leaves it open.
func NewShared(cfg storage.DiskConfig, id string, b *blob.Bucket, baseURL string) *Driver {
	d := New(cfg, id, nil, baseURL)
	d.bucket = b
	d.shared = true
	return d
}

// Init opens the bucket.
func (d *Driver) Init(ctx context.Context) error {
	_, err := d.Bucket(ctx)
	return err
}

// Bucket returns the underlying bucket, opening it on first call.
func (d *Driver) Bucket(ctx context.Context) (*blob.Bucket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bucket != nil {
		return d.bucket, nil
	}
	b, err := d.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage/%s: open bucket: %w", d.id, err)
	}
	d.bucket = b
	return b, nil
}

// Close releases the bucket if the driver opened it.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bucket == nil || d.shared {
		return nil
	}
	err := d.bucket.Close()
	d.bucket = nil
	return err
}

// key maps path to a blob key, rejecting paths outside the bucket.
func (d *Driver) key(path string) (string, error) {
	k, err := storage.CleanFile(path)
	if err != nil {
		return "", fmt.Errorf("storage/%s: %w", d.id, err)
	}
	return k, nil
}

func (d *Driver) prefix(dir string) (string, error) {
	p, err := storage.CleanPath(dir)
	if err != nil {
		return "", fmt.Errorf("storage/%s: %w", d.id, err)
	}
	if p != "" {
		p += "/"
	}
	return p, nil
}

func (d *Driver) wrap(op, path string, err error) error {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		err = storage.ErrFileNotFound
	case gcerrors.PermissionDenied:
		err = fmt.Errorf("%w: %v", storage.ErrUnauthenticated, err)
	case gcerrors.Unimplemented:
		err = fmt.Errorf("%w: %v", storage.ErrNotSupported, err)
	}
	return fmt.Errorf("storage/%s: %s %s: %w", d.id, op, path, err)
}

// ── Write ─────────────────────────────────────────────────────────────────────

func (d *Driver) Put(ctx context.Context, path string, r io.Reader) (storage.Metadata, error) {
	k, err := d.key(path)
	if err != nil {
		return nil, err
	}
	b, err := d.Bucket(ctx)
	if err != nil {
		return nil, err
	}
	w, err := b.NewWriter(ctx, k, nil)
	if err != nil {
		return nil, d.wrap("put", path, err)
	}
	n, writeErr := w.ReadFrom(r)
	closeErr := w.Close()
	if writeErr != nil {
		return nil, d.wrap("put", path, writeErr)
	}
	if closeErr != nil {
		return nil, d.wrap("put", path, closeErr)
	}
	return storage.Metadata{"size": n}, nil
}

// ── Read ──────────────────────────────────────────────────────────────────────

func (d *Driver) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	k, err := d.key(path)
	if err != nil {
		return nil, err
	}
	b, err := d.Bucket(ctx)
	if err != nil {
		return nil, err
	}
	r, err := b.NewReader(ctx, k, nil)
	if err != nil {
		return nil, d.wrap("get", path, err)
	}
	return r, nil
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

func (d *Driver) Exists(ctx context.Context, path string) (bool, error) {
	k, err := d.key(path)
	if err != nil {
		return false, err
	}
	b, err := d.Bucket(ctx)
	if err != nil {
		return false, err
	}
	ok, err := b.Exists(ctx, k)
	if err != nil {
		return false, d.wrap("exists", path, err)
	}
	return ok, nil
}

func (d *Driver) attributes(ctx context.Context, path string) (*blob.Attributes, error) {
	k, err := d.key(path)
	if err != nil {
		return nil, err
	}
	b, err := d.Bucket(ctx)
	if err != nil {
		return nil, err
	}
	attrs, err := b.Attributes(ctx, k)
	if err != nil {
		return nil, d.wrap("stat", path, err)
	}
	return attrs, nil
}

func (d *Driver) Size(ctx context.Context, path string) (int64, error) {
	attrs, err := d.attributes(ctx, path)
	if err != nil {
		return 0, err
	}
	return attrs.Size, nil
}

func (d *Driver) LastModified(ctx context.Context, path string) (int64, error) {
	attrs, err := d.attributes(ctx, path)
	if err != nil {
		return 0, err
	}
	return attrs.ModTime.UnixMilli(), nil
}

func (d *Driver) URL(path string) string {
	return d.baseURL + "/" + strings.TrimLeft(path, "/")
}

// TemporaryURL asks the provider for a signed GET URL. Providers without
// signing support fail with storage.ErrNotSupported.
func (d *Driver) TemporaryURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	k, err := d.key(path)
	if err != nil {
		return "", err
	}
	b, err := d.Bucket(ctx)
	if err != nil {
		return "", err
	}
	u, err := b.SignedURL(ctx, k, &blob.SignedURLOptions{Expiry: ttl})
	if err != nil {
		return "", d.wrap("sign", path, err)
	}
	return u, nil
}

// ── Delete / Copy / Move ──────────────────────────────────────────────────────

func (d *Driver) Delete(ctx context.Context, path string) error {
	k, err := d.key(path)
	if err != nil {
		return err
	}
	b, err := d.Bucket(ctx)
	if err != nil {
		return err
	}
	if err := b.Delete(ctx, k); err != nil {
		return d.wrap("delete", path, err)
	}
	return nil
}

func (d *Driver) Copy(ctx context.Context, src, dst string) error {
	from, err := d.key(src)
	if err != nil {
		return err
	}
	to, err := d.key(dst)
	if err != nil {
		return err
	}
	b, err := d.Bucket(ctx)
	if err != nil {
		return err
	}
	if err := b.Copy(ctx, to, from, nil); err != nil {
		return d.wrap("copy", src, err)
	}
	return nil
}

func (d *Driver) Move(ctx context.Context, src, dst string) error {
	if err := d.Copy(ctx, src, dst); err != nil {
		return err
	}
	return d.Delete(ctx, src)
}

// ── Directories ───────────────────────────────────────────────────────────────

func (d *Driver) MakeDir(ctx context.Context, dir string) (string, error) {
	p, err := d.prefix(dir)
	if err != nil {
		return "", err
	}
	if p == "" {
		return dir, nil
	}
	b, err := d.Bucket(ctx)
	if err != nil {
		return "", err
	}
	if err := b.WriteAll(ctx, p, nil, nil); err != nil {
		return "", d.wrap("mkdir", dir, err)
	}
	return dir, nil
}

func (d *Driver) RemoveDir(ctx context.Context, dir string) (string, error) {
	c, err := storage.CleanRemovableDir(dir)
	if err != nil {
		return "", fmt.Errorf("storage/%s: %w", d.id, err)
	}
	keys, err := d.keys(ctx, c+"/", true, true)
	if err != nil {
		return "", d.wrap("rmdir", dir, err)
	}
	b, err := d.Bucket(ctx)
	if err != nil {
		return "", err
	}
	for _, k := range keys {
		if err := b.Delete(ctx, k); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return "", d.wrap("rmdir", dir, err)
		}
	}
	return dir, nil
}

// List returns keys under dir, skipping directory placeholders.
func (d *Driver) List(ctx context.Context, dir string, recursive bool) ([]string, error) {
	p, err := d.prefix(dir)
	if err != nil {
		return nil, err
	}
	keys, err := d.keys(ctx, p, recursive, false)
	if err != nil {
		return nil, d.wrap("list", dir, err)
	}
	return keys, nil
}

func (d *Driver) keys(ctx context.Context, pfx string, recursive, placeholders bool) ([]string, error) {
	b, err := d.Bucket(ctx)
	if err != nil {
		return nil, err
	}
	opts := &blob.ListOptions{Prefix: pfx}
	if !recursive {
		opts.Delimiter = "/"
	}

	var out []string
	iter := b.List(opts)
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if obj.IsDir || (!placeholders && strings.HasSuffix(obj.Key, "/")) {
			continue
		}
		out = append(out, obj.Key)
	}
	return out, nil
}
