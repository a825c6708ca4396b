// Package memory registers the "memory" storage driver. Files live in an
// in-process bucket per disk name and vanish with the process; it is meant
// for tests and scratch disks.
package memory

import (
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"github.com/shashiranjanraj/filestore/pkg/storage"
	"github.com/shashiranjanraj/filestore/pkg/storage/cloud"
)

func init() {
	storage.Register(storage.DriverMemory, func(cfg storage.DiskConfig) (storage.Driver, error) {
		return New(cfg), nil
	})
}

var (
	mu      sync.Mutex
	buckets = map[string]*blob.Bucket{}
)

// New returns a driver over the bucket for cfg.Name. Every driver built for
// the same disk name sees the same files.
func New(cfg storage.DiskConfig) *cloud.Driver {
	baseURL := cfg.PublicURL
	if baseURL == "" {
		baseURL = "mem://" + cfg.Name
	}
	return cloud.NewShared(cfg, storage.DriverMemory, bucket(cfg.Name), baseURL)
}

func bucket(name string) *blob.Bucket {
	mu.Lock()
	defer mu.Unlock()
	b, ok := buckets[name]
	if !ok {
		b = memblob.OpenBucket(nil)
		buckets[name] = b
	}
	return b
}

// Forget drops the files of the named disk. Drivers already built for it
// stop working.
func Forget(name string) {
	mu.Lock()
	defer mu.Unlock()
	if b, ok := buckets[name]; ok {
		_ = b.Close()
		delete(buckets, name)
	}
}
