package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.toml"), env(map[string]string{"STUDZO_DATA_DIR": dir}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Config{
		APIBase:          DefaultAPIBase,
		WSBase:           "ws://localhost:8000/api/v1",
		UserID:           1,
		DataDir:          dir,
		ToastSeconds:     5,
		ReconnectSeconds: 3,
		RatePerMinute:    60,
		TimeoutSeconds:   120,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if cfg.ToastDuration() != 5*time.Second || cfg.ReconnectBackoff() != 3*time.Second {
		t.Errorf("durations = %v %v", cfg.ToastDuration(), cfg.ReconnectBackoff())
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	os.WriteFile(path, []byte(`
api_base = "https://studzo.example/api/v1/"
user_id = 7
toast_seconds = 8
reconnect_attempts = 5
`), 0o644)

	cfg, err := Load(path, env(map[string]string{"STUDZO_USER": "42"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIBase != "https://studzo.example/api/v1" {
		t.Errorf("APIBase = %q", cfg.APIBase)
	}
	if cfg.WSBase != "wss://studzo.example/api/v1" {
		t.Errorf("WSBase = %q", cfg.WSBase)
	}
	if cfg.UserID != 42 || cfg.UserKey() != "42" {
		t.Errorf("UserID = %d, env should win over file", cfg.UserID)
	}
	if cfg.ToastSeconds != 8 || cfg.ReconnectAttempts != 5 {
		t.Errorf("toast = %d attempts = %d", cfg.ToastSeconds, cfg.ReconnectAttempts)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.toml")
	os.WriteFile(bad, []byte("api_base = "), 0o644)
	if _, err := Load(bad, env(nil)); err == nil {
		t.Error("expected decode error")
	}
	if _, err := Load(filepath.Join(dir, "none.toml"), env(map[string]string{"STUDZO_USER": "abc"})); err == nil {
		t.Error("expected error for non-numeric STUDZO_USER")
	}
}

func TestWSFromAPI(t *testing.T) {
	tests := []struct{ in, want string }{
		{"http://localhost:8000/api/v1", "ws://localhost:8000/api/v1"},
		{"https://x.dev/api", "wss://x.dev/api"},
		{"ws://already", "ws://already"},
	}
	for _, tt := range tests {
		if got := WSFromAPI(tt.in); got != tt.want {
			t.Errorf("WSFromAPI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
