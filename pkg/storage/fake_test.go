package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// fakeDriver keeps files in a map and counts calls.
type fakeDriver struct {
	Base

	mu      sync.Mutex
	files   map[string][]byte
	mtimes  map[string]time.Time
	puts    int
	inits   int
	initErr error
}

func newFake(cfg DiskConfig) *fakeDriver {
	return &fakeDriver{
		Base:   NewBase(cfg),
		files:  map[string][]byte{},
		mtimes: map[string]time.Time{},
	}
}

func fakeType() *DriverType {
	return &DriverType{Name: "fake", New: func(cfg DiskConfig) (Driver, error) { return newFake(cfg), nil }}
}

func fakeDisk(name string) DiskConfig {
	return DiskConfig{Name: name, Type: fakeType()}
}

func (d *fakeDriver) Init(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inits++
	return d.initErr
}

func (d *fakeDriver) notFound(path string) error {
	return fmt.Errorf("storage/fake: %s: %w", path, ErrFileNotFound)
}

func (d *fakeDriver) URL(path string) string { return "fake://" + d.Name() + "/" + path }

func (d *fakeDriver) Exists(_ context.Context, path string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.files[path]
	return ok, nil
}

func (d *fakeDriver) Size(_ context.Context, path string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.files[path]
	if !ok {
		return 0, d.notFound(path)
	}
	return int64(len(b)), nil
}

func (d *fakeDriver) LastModified(_ context.Context, path string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.mtimes[path]
	if !ok {
		return 0, d.notFound(path)
	}
	return t.UnixMilli(), nil
}

func (d *fakeDriver) Put(_ context.Context, path string, r io.Reader) (Metadata, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.puts++
	d.files[path] = data
	d.mtimes[path] = time.Now()
	return Metadata{"size": int64(len(data)), "disk": d.Name()}, nil
}

func (d *fakeDriver) Get(_ context.Context, path string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.files[path]
	if !ok {
		return nil, d.notFound(path)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (d *fakeDriver) Delete(_ context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[path]; !ok {
		return d.notFound(path)
	}
	delete(d.files, path)
	delete(d.mtimes, path)
	return nil
}

func (d *fakeDriver) Copy(ctx context.Context, src, dst string) error {
	return CopyVia(ctx, d, src, dst)
}

func (d *fakeDriver) Move(ctx context.Context, src, dst string) error {
	return MoveVia(ctx, d, src, dst)
}

func (d *fakeDriver) MakeDir(_ context.Context, dir string) (string, error)   { return dir, nil }
func (d *fakeDriver) RemoveDir(_ context.Context, dir string) (string, error) { return dir, nil }

func (d *fakeDriver) putCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.puts
}

// fakePlugin contributes a fixed value under key, or fails.
type fakePlugin struct {
	key   string
	value any
	err   error
	calls *int

	driver Driver
}

func (p *fakePlugin) Init(_ context.Context, d Driver) error {
	p.driver = d
	return nil
}

func (p *fakePlugin) Hook() *PutHook {
	if p.key == "" {
		return nil
	}
	return &PutHook{
		Key: p.key,
		AfterPut: func(context.Context, string) (any, error) {
			if p.calls != nil {
				*p.calls++
			}
			return p.value, p.err
		},
	}
}

// closingFake is a fakeDriver that also implements io.Closer.
type closingFake struct {
	*fakeDriver
	closes *int32
}

func (d closingFake) Close() error {
	atomic.AddInt32(d.closes, 1)
	return nil
}
