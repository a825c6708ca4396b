package config

import (
	"os"
	"path/filepath"
	"testing"
)

func reset(t *testing.T) {
	t.Cleanup(func() {
		mu.Lock()
		values = defaults()
		mu.Unlock()
	})
}

func write(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	app := filepath.Join(dir, "app.yaml")
	env := filepath.Join(dir, ".env")
	write(t, app, "app_env: production\nstorage_unique_names: true\napp_port: 9090\nnested:\n  ignored: 1\n")
	write(t, env, "# comment\nexport STORAGE_DISK=\"remote\"\nAPP_PORT=7070\nbroken-line\n")
	reset(t)

	if err := load(app, env); err != nil {
		t.Fatalf("load: %v", err)
	}

	cases := map[string]string{
		"APP_ENV":              "production",
		"APP_PORT":             "7070", // .env wins over the app file
		"STORAGE_DISK":         "remote",
		"STORAGE_UNIQUE_NAMES": "true",
		"STORAGE_CONFIG":       defaultStorageConfigPath,
		"NESTED":               "",
	}
	for k, want := range cases {
		if got := lookup(k, ""); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestLoadJSONAppFile(t *testing.T) {
	dir := t.TempDir()
	app := filepath.Join(dir, "app.json")
	write(t, app, `{"log_file":"/var/log/filestore.log","log_max_size_mb":5}`)
	reset(t)

	if err := load(app, filepath.Join(dir, "none.env")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := lookup("LOG_FILE", ""); got != "/var/log/filestore.log" {
		t.Errorf("LOG_FILE = %q", got)
	}
	if got := lookup("LOG_MAX_SIZE_MB", ""); got != "5" {
		t.Errorf("LOG_MAX_SIZE_MB = %q", got)
	}
}

func TestLoadMissingFilesKeepDefaults(t *testing.T) {
	dir := t.TempDir()
	reset(t)
	if err := load(filepath.Join(dir, "nope.yaml"), filepath.Join(dir, "nope.env")); err != nil {
		t.Fatalf("missing files must not fail: %v", err)
	}
	if got := lookup("APP_PORT", ""); got != defaultAppPort {
		t.Errorf("APP_PORT = %q, want %q", got, defaultAppPort)
	}
}

func TestLoadEnvironmentWins(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	write(t, env, "STORAGE_DISK=from-file\n")
	t.Setenv("STORAGE_DISK", "from-env")
	reset(t)

	if err := load("", env); err != nil {
		t.Fatal(err)
	}
	if got := lookup("STORAGE_DISK", ""); got != "from-env" {
		t.Errorf("STORAGE_DISK = %q, want from-env", got)
	}
}

func TestLoadBadAppFile(t *testing.T) {
	dir := t.TempDir()
	app := filepath.Join(dir, "app.yaml")
	write(t, app, "key: [unclosed")
	if err := load(app, filepath.Join(dir, ".env")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestLogMaxSizeFallback(t *testing.T) {
	reset(t)
	Set("LOG_MAX_SIZE_MB", "oops")
	if got := LogMaxSizeMB(); got != defaultLogMaxSizeMB {
		t.Errorf("LogMaxSizeMB = %d, want %d", got, defaultLogMaxSizeMB)
	}
}
