package storage

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Built-in driver identifiers. Each has a sub-package that registers it.
const (
	DriverLocal    = "local"
	DriverS3       = "s3"
	DriverFTP      = "ftp"
	DriverSFTP     = "sftp"
	DriverGCS      = "gcs"
	DriverMemory   = "memory"
	DriverGridFS   = "gridfs"
	DriverDatabase = "database"
)

var builtinNames = []string{
	DriverLocal, DriverS3, DriverFTP, DriverSFTP, DriverGCS, DriverMemory, DriverGridFS, DriverDatabase,
}

const modulePath = "github.com/shashiranjanraj/filestore/pkg/storage"

// Factory builds a driver for one disk.
type Factory func(cfg DiskConfig) (Driver, error)

// DriverType pairs a driver identifier with its factory.
type DriverType struct {
	Name string
	New  Factory
}

var (
	driversMu sync.RWMutex
	drivers   = map[string]Factory{}
)

// Register makes a driver available by name. It is meant to be called from
// a driver package's init and panics on a nil factory or a duplicate name.
func Register(name string, f Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if f == nil {
		panic("storage: Register factory is nil")
	}
	if _, dup := drivers[name]; dup {
		panic(fmt.Sprintf("storage: Register called twice for driver %q", name))
	}
	drivers[name] = f
}

// Drivers returns the sorted names of the registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsBuiltin reports whether name is one of the driver identifiers shipped
// with this module.
func IsBuiltin(name string) bool { return slices.Contains(builtinNames, name) }

func registered(name string) (Factory, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	f, ok := drivers[name]
	return f, ok
}
