// Package storage provides a disk-agnostic filesystem abstraction.
//
// A disk is a named configuration of a backend driver. Drivers live in
// sub-packages and register themselves when imported:
//   - "local"   : local filesystem (default)
//   - "s3"      : S3-compatible object storage (AWS S3, MinIO, R2, Spaces)
//   - "ftp", "sftp"
//   - "gcs"     : Google Cloud Storage
//   - "memory"  : in-process bucket, handy for tests
//   - "gridfs"  : MongoDB GridFS
//   - "database": blobs in a SQL table (sqlite, postgres, mysql, sqlserver)
//
// Quick start:
//
//	import (
//	    "github.com/shashiranjanraj/filestore/pkg/storage"
//	    _ "github.com/shashiranjanraj/filestore/pkg/storage/local"
//	    _ "github.com/shashiranjanraj/filestore/pkg/storage/s3"
//	)
//
//	st, err := storage.Open(ctx, storage.Config{
//	    Disks: []storage.DiskConfig{
//	        {Name: "local", Driver: storage.DriverLocal, Root: "storage"},
//	        {Name: "remote", Driver: storage.DriverS3, Bucket: "b"},
//	    },
//	    DefaultDisk: "local",
//	})
//
//	res, err := st.Put(ctx, "images/photo.jpg", data) // default disk
//	remote, err := st.Disk("remote")                   // raw driver
//	backups, err := st.DiskStorage(ctx, "remote")      // facade bound to "remote"
package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Metadata is backend-specific information returned by a put. It is merged
// into the PutResult handed back to callers.
type Metadata map[string]any

// Driver is the capability set every backend implements. Paths that
// resolve above the disk root fail with ErrInvalidPath.
type Driver interface {
	// Name returns the disk name the driver was built for.
	Name() string

	// Init runs once after construction. Embed Base for a no-op.
	Init(ctx context.Context) error

	// URL returns a fetchable address for path. It never checks existence.
	URL(path string) string

	// Exists reports whether path exists. A missing file is (false, nil).
	Exists(ctx context.Context, path string) (bool, error)

	// Size returns the byte size of the file, or ErrFileNotFound.
	Size(ctx context.Context, path string) (int64, error)

	// LastModified returns the modification time in Unix milliseconds, or
	// ErrFileNotFound.
	LastModified(ctx context.Context, path string) (int64, error)

	// Put writes r to path, creating parents as needed.
	Put(ctx context.Context, path string, r io.Reader) (Metadata, error)

	// Get opens the file for reading, or returns ErrFileNotFound. Caller
	// must close the reader.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes a file. Deleting a missing file is an error.
	Delete(ctx context.Context, path string) error

	Copy(ctx context.Context, src, dst string) error
	Move(ctx context.Context, src, dst string) error

	// MakeDir creates dir and any parents. Creating an existing directory
	// is not an error. Returns dir.
	MakeDir(ctx context.Context, dir string) (string, error)

	// RemoveDir removes dir and everything under it. Removing a missing
	// directory is not an error; removing the disk root is refused with
	// ErrInvalidPath. Returns dir.
	RemoveDir(ctx context.Context, dir string) (string, error)
}

// ImageStatter is implemented by drivers that can report image dimensions.
type ImageStatter interface {
	ImageStats(ctx context.Context, path string, keepBuffer bool) (*ImageStats, error)
}

// Lister is implemented by drivers that can enumerate files under a directory.
type Lister interface {
	List(ctx context.Context, dir string, recursive bool) ([]string, error)
}

// TemporaryURLer is implemented by drivers that can hand out expiring URLs.
type TemporaryURLer interface {
	TemporaryURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// Base carries the disk name and a no-op Init. Drivers embed it.
type Base struct {
	name string
}

// NewBase returns a Base for cfg.
func NewBase(cfg DiskConfig) Base { return Base{name: cfg.Name} }

func (b Base) Name() string { return b.name }

func (Base) Init(context.Context) error { return nil }

// CopyVia copies src to dst by streaming Get into Put. Drivers without a
// native copy use it.
func CopyVia(ctx context.Context, d Driver, src, dst string) error {
	rc, err := d.Get(ctx, src)
	if err != nil {
		return err
	}
	defer rc.Close()

	if _, err := d.Put(ctx, dst, rc); err != nil {
		return fmt.Errorf("storage: copy %s → %s: %w", src, dst, err)
	}
	return nil
}

// MoveVia is CopyVia followed by deleting src.
func MoveVia(ctx context.Context, d Driver, src, dst string) error {
	if err := CopyVia(ctx, d, src, dst); err != nil {
		return err
	}
	return d.Delete(ctx, src)
}
