package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shashiranjanraj/filestore/pkg/metrics"
)

// Storage is the disk-agnostic entry point. It delegates to its default
// disk and runs the plugin chain after every put.
//
// A Storage starts unconfigured; every operation fails with
// ErrNotConfigured until Config succeeds. Config may be called again at any
// time to swap the whole state.
type Storage struct {
	reg *Registry

	mu sync.RWMutex
	st *state
}

// state is everything Config produces. Operations copy the pointer once, so
// a concurrent Config never changes the driver of a call in flight.
type state struct {
	disk      DiskConfig
	driver    Driver
	plugins   []Plugin
	factories []PluginFactory
	unique    bool
	log       *slog.Logger
}

// New returns an unconfigured Storage backed by reg.
func New(reg *Registry) *Storage {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Storage{reg: reg}
}

// Open builds a Storage on a fresh registry and configures it.
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	s := New(NewRegistry())
	if err := s.Config(ctx, cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Config validates cfg, replaces the registry's disk set, and binds the
// default disk and plugins. Nothing changes when it returns an error.
func (s *Storage) Config(ctx context.Context, cfg Config) error {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return s.reg.configure(cfg.Disks, cfg.CustomDrivers, func(snap *snapshot) error {
		name := cfg.DefaultDisk
		if name == "" {
			if len(snap.disks) > 1 {
				return ErrMissingDefaultDisk
			}
			name = snap.disks[0].Name
		}

		st, err := build(ctx, snap, name, cfg.UniqueFileName, cfg.Plugins, log)
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.st = st
		s.mu.Unlock()

		log.Info("storage configured",
			"default", name, "driver", st.disk.DriverID(), "disks", len(snap.disks), "plugins", len(st.plugins))
		return nil
	})
}

func build(ctx context.Context, snap *snapshot, name string, unique bool, factories []PluginFactory, log *slog.Logger) (*state, error) {
	d, err := snap.resolve(name)
	if err != nil {
		return nil, err
	}
	if err := d.Init(ctx); err != nil {
		return nil, release(d, fmt.Errorf("storage: init disk %q: %w", name, err))
	}

	plugins := make([]Plugin, 0, len(factories))
	for _, newPlugin := range factories {
		p := newPlugin()
		if err := p.Init(ctx, d); err != nil {
			return nil, release(d, fmt.Errorf("storage: init plugin %T: %w", p, err))
		}
		plugins = append(plugins, p)
	}

	cfg, _ := snap.lookup(name)
	return &state{
		disk:      cfg,
		driver:    d,
		plugins:   plugins,
		factories: factories,
		unique:    unique,
		log:       log.With("disk", name),
	}, nil
}

// release closes a driver that will never be bound and returns err.
func release(d Driver, err error) error {
	if c, ok := d.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil {
			return errors.Join(err, fmt.Errorf("storage: close disk %q: %w", d.Name(), cerr))
		}
	}
	return err
}

func (s *Storage) bound() (*state, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st == nil {
		return nil, ErrNotConfigured
	}
	return s.st, nil
}

// Name returns the default disk name, or "" before Config.
func (s *Storage) Name() string {
	st, err := s.bound()
	if err != nil {
		return ""
	}
	return st.disk.Name
}

// Registry returns the registry this Storage resolves disks from.
func (s *Storage) Registry() *Registry { return s.reg }

// Driver returns the default disk's driver.
func (s *Storage) Driver() (Driver, error) {
	st, err := s.bound()
	if err != nil {
		return nil, err
	}
	return st.driver, nil
}

// Disk returns a raw driver for the named disk. Every call builds a new,
// uninitialized instance; an empty name returns the default driver.
func (s *Storage) Disk(name string) (Driver, error) {
	if name == "" {
		return s.Driver()
	}
	return s.reg.Resolve(name)
}

// DiskStorage returns a new Storage whose default disk is name. It shares
// this Storage's registry, plugin factories and unique-name policy; the
// receiver is left untouched.
func (s *Storage) DiskStorage(ctx context.Context, name string) (*Storage, error) {
	st, err := s.bound()
	if err != nil {
		return nil, err
	}

	child, err := build(ctx, s.reg.current(), name, st.unique, st.factories, st.log)
	if err != nil {
		return nil, err
	}
	return &Storage{reg: s.reg, st: child}, nil
}

// ─── Write ───────────────────────────────────────────────────────────────────

// Put writes content to path on the default disk.
func (s *Storage) Put(ctx context.Context, path string, content []byte) (*PutResult, error) {
	return s.PutStream(ctx, path, bytes.NewReader(content))
}

// PutStream writes r to path on the default disk. With unique file names on
// the stored path keeps the directory and extension of path but gets a new
// base name. Plugin hooks run in order after the write; if one fails the
// file stays stored and the partially filled result is returned with the
// error.
func (s *Storage) PutStream(ctx context.Context, path string, r io.Reader) (res *PutResult, err error) {
	st, err := s.bound()
	if err != nil {
		return nil, err
	}
	defer st.observe("put", time.Now(), &err)

	res = &PutResult{
		Success: true,
		Message: "Uploading success",
		Name:    FileName(path),
		Path:    path,
		Extra:   map[string]any{},
	}
	if st.unique {
		res.Path = UniquePath(path)
	}

	meta, err := st.driver.Put(ctx, res.Path, r)
	if err != nil {
		return nil, err
	}
	if n, ok := meta["size"].(int64); ok {
		metrics.AddBytesWritten(st.disk.Name, n)
	}
	res.merge(meta)

	for _, p := range st.plugins {
		hook := p.Hook()
		if hook == nil || hook.AfterPut == nil {
			continue
		}
		v, err := hook.AfterPut(ctx, res.Path)
		if err != nil {
			return res, fmt.Errorf("storage: plugin %q after put %s: %w", hook.Key, res.Path, err)
		}
		res.Extra[hook.Key] = v
	}
	return res, nil
}

// UploadFromExternalURI fetches uri and stores it at path on the default
// disk. See the package-level UploadFromExternalURI.
func (s *Storage) UploadFromExternalURI(ctx context.Context, uri, path string, ignoreContentType bool) (meta Metadata, err error) {
	st, err := s.bound()
	if err != nil {
		return nil, err
	}
	defer st.observe("upload_uri", time.Now(), &err)
	return UploadFromExternalURI(ctx, st.driver, uri, path, ignoreContentType)
}

// ─── Read ────────────────────────────────────────────────────────────────────

// Get opens path on the default disk. Caller must close the reader.
func (s *Storage) Get(ctx context.Context, path string) (rc io.ReadCloser, err error) {
	st, err := s.bound()
	if err != nil {
		return nil, err
	}
	defer st.observe("get", time.Now(), &err)
	return st.driver.Get(ctx, path)
}

// ─── Metadata ────────────────────────────────────────────────────────────────

// URL returns the public URL for path, or "" before Config.
func (s *Storage) URL(path string) string {
	st, err := s.bound()
	if err != nil {
		return ""
	}
	return st.driver.URL(path)
}

func (s *Storage) Exists(ctx context.Context, path string) (ok bool, err error) {
	st, err := s.bound()
	if err != nil {
		return false, err
	}
	defer st.observe("exists", time.Now(), &err)
	return st.driver.Exists(ctx, path)
}

func (s *Storage) Size(ctx context.Context, path string) (n int64, err error) {
	st, err := s.bound()
	if err != nil {
		return 0, err
	}
	defer st.observe("size", time.Now(), &err)
	return st.driver.Size(ctx, path)
}

// LastModified returns the modification time of path in Unix milliseconds.
func (s *Storage) LastModified(ctx context.Context, path string) (ms int64, err error) {
	st, err := s.bound()
	if err != nil {
		return 0, err
	}
	defer st.observe("last_modified", time.Now(), &err)
	return st.driver.LastModified(ctx, path)
}

// ─── Delete / Copy / Move ────────────────────────────────────────────────────

func (s *Storage) Delete(ctx context.Context, path string) (err error) {
	st, err := s.bound()
	if err != nil {
		return err
	}
	defer st.observe("delete", time.Now(), &err)
	return st.driver.Delete(ctx, path)
}

func (s *Storage) Copy(ctx context.Context, src, dst string) (err error) {
	st, err := s.bound()
	if err != nil {
		return err
	}
	defer st.observe("copy", time.Now(), &err)
	return st.driver.Copy(ctx, src, dst)
}

func (s *Storage) Move(ctx context.Context, src, dst string) (err error) {
	st, err := s.bound()
	if err != nil {
		return err
	}
	defer st.observe("move", time.Now(), &err)
	return st.driver.Move(ctx, src, dst)
}

// ─── Directories ─────────────────────────────────────────────────────────────

func (s *Storage) MakeDir(ctx context.Context, dir string) (out string, err error) {
	st, err := s.bound()
	if err != nil {
		return "", err
	}
	defer st.observe("make_dir", time.Now(), &err)
	return st.driver.MakeDir(ctx, dir)
}

func (s *Storage) RemoveDir(ctx context.Context, dir string) (out string, err error) {
	st, err := s.bound()
	if err != nil {
		return "", err
	}
	defer st.observe("remove_dir", time.Now(), &err)
	return st.driver.RemoveDir(ctx, dir)
}

// ─── Optional capabilities ───────────────────────────────────────────────────

// ImageStats reports image dimensions for path. Drivers that do not
// implement ImageStatter fail with ErrNotSupported.
func (s *Storage) ImageStats(ctx context.Context, path string, keepBuffer bool) (stats *ImageStats, err error) {
	st, err := s.bound()
	if err != nil {
		return nil, err
	}
	defer st.observe("image_stats", time.Now(), &err)
	is, ok := st.driver.(ImageStatter)
	if !ok {
		return nil, st.unsupported("image stats")
	}
	return is.ImageStats(ctx, path, keepBuffer)
}

// List returns the files under dir. Drivers that do not implement Lister
// fail with ErrNotSupported.
func (s *Storage) List(ctx context.Context, dir string, recursive bool) (files []string, err error) {
	st, err := s.bound()
	if err != nil {
		return nil, err
	}
	defer st.observe("list", time.Now(), &err)
	l, ok := st.driver.(Lister)
	if !ok {
		return nil, st.unsupported("listing")
	}
	return l.List(ctx, dir, recursive)
}

// TemporaryURL returns a URL for path that stops working after ttl.
// Drivers that do not implement TemporaryURLer fail with ErrNotSupported.
func (s *Storage) TemporaryURL(ctx context.Context, path string, ttl time.Duration) (url string, err error) {
	st, err := s.bound()
	if err != nil {
		return "", err
	}
	defer st.observe("temporary_url", time.Now(), &err)
	t, ok := st.driver.(TemporaryURLer)
	if !ok {
		return "", st.unsupported("temporary URLs")
	}
	return t.TemporaryURL(ctx, path, ttl)
}

func (st *state) unsupported(what string) error {
	return fmt.Errorf("%w: %s driver has no %s", ErrNotSupported, st.disk.DriverID(), what)
}

func (st *state) observe(op string, start time.Time, errp *error) {
	status := "ok"
	if err := *errp; err != nil {
		status = "error"
		if errors.Is(err, ErrFileNotFound) {
			status = "not_found"
		}
	}
	metrics.ObserveStorageOp(st.disk.Name, st.disk.DriverID(), op, status, start)
	if status == "error" {
		st.log.Debug("storage operation failed", "op", op, "error", *errp)
	}
}
