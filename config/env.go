// Package config resolves process settings from, lowest precedence first:
// built-in defaults, config/app.yaml (or app.json), .env, and the real
// environment. Keys are upper-case env-style names.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
)

const (
	defaultAppPort           = "8080"
	defaultAppEnv            = "local"
	defaultStorageConfigPath = "config/filesystems.yaml"
	defaultLogMaxSizeMB      = 100
)

// AppFiles are tried in order; the first one present is merged.
var AppFiles = []string{"config/app.yaml", "config/app.json"}

var (
	loadOnce sync.Once
	loadErr  error

	mu     sync.RWMutex
	values = defaults()
)

func defaults() map[string]string {
	return map[string]string{
		"APP_PORT":             defaultAppPort,
		"APP_ENV":              defaultAppEnv,
		"STORAGE_CONFIG":       defaultStorageConfigPath,
		"STORAGE_DISK":         "",
		"STORAGE_UNIQUE_NAMES": "false",
		"LOG_FILE":             "",
		"LOG_MAX_SIZE_MB":      strconv.Itoa(defaultLogMaxSizeMB),
	}
}

// Load reads the config files once per process. Later calls return the
// first result. Missing files are not an error.
func Load() error {
	loadOnce.Do(func() {
		app := ""
		for _, p := range AppFiles {
			if _, err := os.Stat(p); err == nil {
				app = p
				break
			}
		}
		loadErr = load(app, ".env")
	})
	return loadErr
}

func load(appFile, envFile string) error {
	next := defaults()

	if appFile != "" {
		if err := readAppFile(appFile, next); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := readDotEnv(envFile, next); err != nil && !os.IsNotExist(err) {
		return err
	}
	for k := range next {
		if v, ok := os.LookupEnv(k); ok {
			next[k] = strings.TrimSpace(v)
		}
	}

	mu.Lock()
	values = next
	mu.Unlock()
	return nil
}

// readAppFile merges the scalar top-level keys of a YAML or JSON document.
func readAppFile(path string, into map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	for k, v := range doc {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		switch v.(type) {
		case string, bool, int, int64, uint64, float64:
			into[k] = strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return nil
}

// readDotEnv merges KEY=value lines. Blank lines, comments and lines
// without '=' are skipped; an "export " prefix and surrounding quotes are
// dropped.
func readDotEnv(path string, into map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		k, v, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		k = strings.ToUpper(strings.TrimSpace(k))
		if !ok || k == "" {
			continue
		}
		into[k] = strings.Trim(strings.TrimSpace(v), `"'`)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return nil
}

func lookup(key, fallback string) string {
	mu.RLock()
	defer mu.RUnlock()
	if v := strings.TrimSpace(values[key]); v != "" {
		return v
	}
	return fallback
}

// Get returns any key, or fallback when it is unset or blank.
func Get(key, fallback string) string {
	_ = Load()
	return lookup(strings.ToUpper(key), fallback)
}

// Set overrides a key in memory, for tests and command-line flags.
func Set(key, value string) {
	_ = Load()
	mu.Lock()
	values[strings.ToUpper(key)] = value
	mu.Unlock()
}

func AppPort() string { return Get("APP_PORT", defaultAppPort) }

func AppEnv() string { return Get("APP_ENV", defaultAppEnv) }

// StorageConfigPath is the filesystems file holding the disk list.
func StorageConfigPath() string { return Get("STORAGE_CONFIG", defaultStorageConfigPath) }

// StorageDefault names the default disk. Empty leaves the choice to the
// filesystems file.
func StorageDefault() string { return Get("STORAGE_DISK", "") }

// StorageUniqueNames reports whether puts are stored under generated names.
func StorageUniqueNames() bool {
	b, _ := strconv.ParseBool(Get("STORAGE_UNIQUE_NAMES", "false"))
	return b
}

// LogFile is the path of a rotated log file. Empty logs to stdout only.
func LogFile() string { return Get("LOG_FILE", "") }

// LogMaxSizeMB is the size at which LogFile is rotated.
func LogMaxSizeMB() int {
	n, err := strconv.Atoi(Get("LOG_MAX_SIZE_MB", ""))
	if err != nil || n <= 0 {
		return defaultLogMaxSizeMB
	}
	return n
}
