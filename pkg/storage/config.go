package storage

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// DiskConfig describes one disk. Only Name and Driver (or Type) are common;
// the rest is read by whichever driver the disk uses.
type DiskConfig struct {
	Name   string `yaml:"name"`
	Driver string `yaml:"driver"`

	// Type supplies a driver directly instead of by identifier. It wins
	// over Driver when set.
	Type *DriverType `yaml:"-"`

	// Shared
	Root       string `yaml:"root"`
	PublicURL  string `yaml:"public_url"`
	Visibility string `yaml:"visibility"`  // "public" (default) | "private"
	SigningKey string `yaml:"signing_key"` // secret for temporary URLs

	// Object storage (s3, gcs, memory)
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Key      string `yaml:"key"`
	Secret   string `yaml:"secret"`

	// ftp, sftp
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	PrivateKey string `yaml:"private_key"`
	HostKey    string `yaml:"host_key"`

	// Timeout bounds connection setup for ftp and sftp; zero means 30s.
	Timeout time.Duration `yaml:"timeout"`

	// gridfs, database
	DSN      string `yaml:"dsn"`
	Database string `yaml:"database"`
	Dialect  string `yaml:"dialect"`
}

// DriverID returns the identifier used for logs and metrics.
func (c DiskConfig) DriverID() string {
	if c.Type != nil {
		return c.Type.Name
	}
	return c.Driver
}

// Private reports whether files on the disk need a signed URL to be served.
func (c DiskConfig) Private() bool { return c.Visibility == "private" }

// DefaultDiskConfig is installed when no disks are configured.
func DefaultDiskConfig() DiskConfig {
	return DiskConfig{Name: "local", Driver: DriverLocal, Root: "storage"}
}

// Config is the input to Storage.Config.
type Config struct {
	Disks []DiskConfig

	// CustomDrivers adds driver types to the registry by name.
	//
	// Deprecated: set DiskConfig.Type instead.
	CustomDrivers []DriverType

	// DefaultDisk is required once more than one disk is configured.
	DefaultDisk string

	// UniqueFileName replaces the base name of every put with a UUID.
	UniqueFileName bool

	Plugins []PluginFactory

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type fileConfig struct {
	Default        string       `yaml:"default"`
	UniqueFileName bool         `yaml:"unique_file_name"`
	Disks          []DiskConfig `yaml:"disks"`
}

// ParseConfig reads a filesystems document (YAML or JSON). ${VAR}
// references are expanded from the environment before parsing, so secrets
// can stay out of the file:
//
//	default: local
//	disks:
//	  - name: local
//	    driver: local
//	    root: storage
//	  - name: remote
//	    driver: s3
//	    bucket: uploads
//	    secret: ${S3_SECRET}
func ParseConfig(data []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &fc); err != nil {
		return Config{}, fmt.Errorf("storage: parse disk config: %w", err)
	}
	return Config{
		Disks:          fc.Disks,
		DefaultDisk:    fc.Default,
		UniqueFileName: fc.UniqueFileName,
	}, nil
}

// LoadConfigFile is ParseConfig over the contents of path. A missing file
// yields an empty Config, which configures the built-in local disk.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return ParseConfig(data)
}
