package storage

import (
	"fmt"
	"sync"
)

// Registry is the authoritative set of disk configurations shared by every
// Storage built on it. Configure replaces the whole set; there is no merge.
type Registry struct {
	// update is held from prepare through commit, so a writer never builds
	// on a snapshot another writer is about to replace.
	update sync.Mutex

	mu   sync.RWMutex
	snap *snapshot
}

// snapshot is one immutable configuration. Resolution always runs against
// a snapshot, so a reconfigure never changes a lookup half way through.
type snapshot struct {
	disks   []DiskConfig
	drivers map[string]Factory // custom driver types, by name
}

// NewRegistry returns a registry holding only the built-in local disk.
func NewRegistry() *Registry {
	return &Registry{snap: defaultSnapshot()}
}

func defaultSnapshot() *snapshot {
	return &snapshot{
		disks:   []DiskConfig{DefaultDiskConfig()},
		drivers: map[string]Factory{},
	}
}

// Configure replaces the disk set. On error the previous set stays active.
// custom driver types are added to the ones already known to the registry.
func (r *Registry) Configure(disks []DiskConfig, custom ...DriverType) error {
	return r.configure(disks, custom, nil)
}

// Reset drops every configured disk and custom driver type and reinstalls
// the built-in local disk.
func (r *Registry) Reset() {
	r.update.Lock()
	defer r.update.Unlock()
	r.commit(defaultSnapshot())
}

// configure prepares a snapshot, hands it to apply, and commits it when
// apply succeeds. Concurrent calls run one at a time.
func (r *Registry) configure(disks []DiskConfig, custom []DriverType, apply func(*snapshot) error) error {
	r.update.Lock()
	defer r.update.Unlock()

	snap, err := r.prepare(disks, custom)
	if err != nil {
		return err
	}
	if apply != nil {
		if err := apply(snap); err != nil {
			return err
		}
	}
	r.commit(snap)
	return nil
}

// Disks returns a copy of the configured disks, in configuration order.
func (r *Registry) Disks() []DiskConfig {
	snap := r.current()
	return append([]DiskConfig(nil), snap.disks...)
}

// Lookup returns the configuration of the named disk.
func (r *Registry) Lookup(name string) (DiskConfig, bool) {
	return r.current().lookup(name)
}

// Resolve builds a new, uninitialized driver for the named disk. Callers
// own the instance and must call Init before use.
func (r *Registry) Resolve(name string) (Driver, error) {
	return r.current().resolve(name)
}

func (r *Registry) current() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

func (r *Registry) commit(snap *snapshot) {
	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
}

// prepare validates disks and builds the snapshot Configure would commit.
func (r *Registry) prepare(disks []DiskConfig, custom []DriverType) (*snapshot, error) {
	seen := make(map[string]struct{}, len(disks))
	for i, d := range disks {
		if d.Name == "" {
			return nil, fmt.Errorf("storage: disk config #%d has no name", i)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateDiskName, d.Name)
		}
		seen[d.Name] = struct{}{}
	}

	prev := r.current()
	next := &snapshot{drivers: make(map[string]Factory, len(prev.drivers)+len(custom))}
	for name, f := range prev.drivers {
		next.drivers[name] = f
	}
	for _, dt := range custom {
		if dt.Name == "" || dt.New == nil {
			return nil, fmt.Errorf("storage: custom driver %q needs a name and a factory", dt.Name)
		}
		next.drivers[dt.Name] = dt.New
	}

	if len(disks) == 0 {
		next.disks = []DiskConfig{DefaultDiskConfig()}
	} else {
		next.disks = append([]DiskConfig(nil), disks...)
	}
	return next, nil
}

func (s *snapshot) lookup(name string) (DiskConfig, bool) {
	for _, d := range s.disks {
		if d.Name == name {
			return d, true
		}
	}
	return DiskConfig{}, false
}

func (s *snapshot) resolve(name string) (Driver, error) {
	cfg, ok := s.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDiskNotDefined, name)
	}

	factory, err := s.factory(cfg)
	if err != nil {
		return nil, err
	}

	d, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create disk %q: %w", name, err)
	}
	return d, nil
}

func (s *snapshot) factory(cfg DiskConfig) (Factory, error) {
	if cfg.Type != nil {
		if cfg.Type.New == nil {
			return nil, fmt.Errorf("%w: driver '%s'", ErrDriverNotRegistered, cfg.Type.Name)
		}
		return cfg.Type.New, nil
	}

	if f, ok := s.drivers[cfg.Driver]; ok {
		return f, nil
	}
	if f, ok := registered(cfg.Driver); ok {
		return f, nil
	}

	if IsBuiltin(cfg.Driver) {
		return nil, fmt.Errorf("%w: import %s/%s for the %s driver",
			ErrDriverNotInstalled, modulePath, cfg.Driver, cfg.Driver)
	}
	return nil, fmt.Errorf("%w: driver '%s'", ErrDriverNotRegistered, cfg.Driver)
}
