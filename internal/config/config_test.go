package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRequireEnv(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		value     string
		shouldSet bool
		wantPanic bool
	}{
		{
			name:      "variable set",
			key:       "TEST_VAR",
			value:     "test_value",
			shouldSet: true,
			wantPanic: false,
		},
		{
			name:      "variable not set",
			key:       "TEST_VAR_MISSING",
			shouldSet: false,
			wantPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.shouldSet {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			if tt.wantPanic {
				defer func() {
					if r := recover(); r == nil {
						t.Errorf("requireEnv() should have panicked")
					}
				}()
			}

			result := requireEnv(tt.key)
			if !tt.wantPanic && result != tt.value {
				t.Errorf("requireEnv() = %v, want %v", result, tt.value)
			}
		})
	}
}

func TestMustDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      time.Duration
		expected time.Duration
	}{
		{
			name:     "valid duration",
			key:      "TEST_DURATION",
			value:    "5s",
			def:      1 * time.Second,
			expected: 5 * time.Second,
		},
		{
			name:     "invalid duration uses default",
			key:      "TEST_DURATION_INVALID",
			value:    "invalid",
			def:      10 * time.Second,
			expected: 10 * time.Second,
		},
		{
			name:     "missing variable uses default",
			key:      "TEST_DURATION_MISSING",
			value:    "",
			def:      15 * time.Second,
			expected: 15 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			result := mustDuration(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("mustDuration() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMustBool(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      bool
		expected bool
	}{
		{
			name:     "true value",
			key:      "TEST_BOOL",
			value:    "true",
			def:      false,
			expected: true,
		},
		{
			name:     "false value",
			key:      "TEST_BOOL_FALSE",
			value:    "false",
			def:      true,
			expected: false,
		},
		{
			name:     "invalid value uses default",
			key:      "TEST_BOOL_INVALID",
			value:    "invalid",
			def:      true,
			expected: true,
		},
		{
			name:     "missing variable uses default",
			key:      "TEST_BOOL_MISSING",
			value:    "",
			def:      false,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			result := mustBool(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("mustBool() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INTEGRATOR_CONFIG_FILE", "")
	t.Setenv("INTEGRATOR_STORE_DRIVER", "")
	t.Setenv("INTEGRATOR_UPSTREAM_URL", "")
	t.Setenv("INTEGRATOR_INGEST_INTERVAL", "")
	t.Setenv("INTEGRATOR_FETCH_TIMEOUT", "")
	t.Setenv("INTEGRATOR_REDIS_ADDR", "")

	cfg := Load()
	if cfg.StoreDriver != DriverSQLite {
		t.Errorf("StoreDriver = %q, want sqlite", cfg.StoreDriver)
	}
	if cfg.UpstreamURL != "https://hub.alpes.one/api/v1/integrator/export/1902" {
		t.Errorf("UpstreamURL = %q", cfg.UpstreamURL)
	}
	if cfg.IngestInterval != time.Hour {
		t.Errorf("IngestInterval = %v, want 1h", cfg.IngestInterval)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Errorf("FetchTimeout = %v, want 30s", cfg.FetchTimeout)
	}
	if cfg.RedisEnabled() {
		t.Error("RedisEnabled() = true without INTEGRATOR_REDIS_ADDR")
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "integrator.yaml")
	content := `
STORE_DRIVER: memory
INTEGRATOR_INGEST_INTERVAL: 15m
INGEST_ON_START: true
RATE_LIMIT_BURST: 5
ALLOWED_HOSTS:
  - api.example.com
  - localhost:8080
LOG_LEVEL: warn
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("INTEGRATOR_CONFIG_FILE", path)
	t.Setenv("INTEGRATOR_STORE_DRIVER", "")
	t.Setenv("INTEGRATOR_INGEST_INTERVAL", "")
	t.Setenv("INTEGRATOR_INGEST_ON_START", "")
	t.Setenv("INTEGRATOR_RATE_LIMIT_BURST", "")
	t.Setenv("INTEGRATOR_ALLOWED_HOSTS", "")
	// environment beats the file
	t.Setenv("INTEGRATOR_LOG_LEVEL", "error")

	cfg := Load()
	if cfg.StoreDriver != DriverMemory {
		t.Errorf("StoreDriver = %q, want memory", cfg.StoreDriver)
	}
	if cfg.IngestInterval != 15*time.Minute {
		t.Errorf("IngestInterval = %v, want 15m", cfg.IngestInterval)
	}
	if !cfg.IngestOnStart {
		t.Error("IngestOnStart = false, want true")
	}
	if cfg.RateLimitBurst != 5 {
		t.Errorf("RateLimitBurst = %d, want 5", cfg.RateLimitBurst)
	}
	if len(cfg.AllowedHosts) != 2 || cfg.AllowedHosts[1] != "localhost:8080" {
		t.Errorf("AllowedHosts = %v", cfg.AllowedHosts)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want env value error", cfg.LogLevel)
	}
}

func TestLoadPanics(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"INTEGRATOR_STORE_DRIVER": "mongodb"}},
		{"postgres without dsn", map[string]string{"INTEGRATOR_STORE_DRIVER": "postgres", "INTEGRATOR_POSTGRES_DSN": ""}},
		{"missing config file", map[string]string{"INTEGRATOR_CONFIG_FILE": "/does/not/exist.yaml"}},
		{"redis password required", map[string]string{
			"INTEGRATOR_REDIS_ADDR":              "localhost:6379",
			"INTEGRATOR_REDIS_PASSWORD_REQUIRED": "true",
			"INTEGRATOR_REDIS_PASSWORD":          "",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("INTEGRATOR_CONFIG_FILE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("Load() should have panicked")
				}
			}()
			Load()
		})
	}
}

func TestRequireAPIKey(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("RequireAPIKey() should have panicked")
		}
	}()
	(&Config{}).RequireAPIKey()
}

func TestRedacted(t *testing.T) {
	cfg := &Config{APIKey: "secret", RedisPassword: "pw", PostgresDSN: "postgres://u:p@db/x"}
	r := cfg.Redacted()
	if r.APIKey == "secret" || r.RedisPassword == "pw" || r.PostgresDSN == cfg.PostgresDSN {
		t.Errorf("Redacted() leaked secrets: %+v", r)
	}
	if cfg.APIKey != "secret" {
		t.Error("Redacted() modified the original")
	}
}

func TestImportTimeout(t *testing.T) {
	c := &Config{FetchTimeout: 30 * time.Second, RequestTimeout: 10 * time.Second}
	if got := c.ImportTimeout(); got != 40*time.Second {
		t.Errorf("ImportTimeout() = %v, want 40s", got)
	}
}
