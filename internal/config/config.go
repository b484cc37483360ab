package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const envPrefix = "INTEGRATOR_"

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s
	RequestTimeout  time.Duration // per-request deadline for the API (import requests get FetchTimeout on top)

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	APIKey string // shared secret for /integrator routes, required by serve

	// Ingestion
	UpstreamURL    string        // integrator export endpoint
	FetchTimeout   time.Duration // upstream request timeout (default: 30s)
	IngestInterval time.Duration // scheduler period (default: 1h, 0 = scheduler disabled)
	IngestOnStart  bool          // run once as soon as the scheduler starts

	// Storage
	StoreDriver string // sqlite | postgres | memory
	SQLitePath  string // database file for the sqlite driver
	PostgresDSN string // connection string for the postgres driver

	// Redis run journal (optional, empty address = disabled)
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict ops endpoints to specific IPs/CIDRs
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)

	RateLimitBurst  int // per-IP burst on /integrator routes
	RateLimitPerMin int // per-IP sustained requests per minute

	// Telemetry
	OTLPEndpoint string // empty = metrics disabled
	ServiceName  string

	ConfigFile string // optional YAML file of KEY: value pairs, overridden by the environment
}

// fileValues holds the YAML overlay loaded by Load. Environment variables
// always win over it.
var fileValues map[string]string

func Load() *Config {
	fileValues = nil
	configFile := os.Getenv(envPrefix + "CONFIG_FILE")
	if configFile != "" {
		values, err := loadFile(configFile)
		if err != nil {
			panic(fmt.Sprintf("❌ FATAL: %v", err))
		}
		fileValues = values
	}

	cfg := &Config{
		// Server settings
		ListenPort:      getenv("INTEGRATOR_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("INTEGRATOR_SHUTDOWN_TIMEOUT", 5*time.Second),
		RequestTimeout:  mustDuration("INTEGRATOR_REQUEST_TIMEOUT", 10*time.Second),

		// Logging
		LogLevel:  getenv("INTEGRATOR_LOG_LEVEL", "info"),
		PrettyLog: mustBool("INTEGRATOR_PRETTY_LOG", true),

		APIKey: getenv("INTEGRATOR_API_KEY", ""),

		// Ingestion
		UpstreamURL:    getenv("INTEGRATOR_UPSTREAM_URL", "https://hub.alpes.one/api/v1/integrator/export/1902"),
		FetchTimeout:   mustDuration("INTEGRATOR_FETCH_TIMEOUT", 30*time.Second),
		IngestInterval: mustDuration("INTEGRATOR_INGEST_INTERVAL", time.Hour),
		IngestOnStart:  mustBool("INTEGRATOR_INGEST_ON_START", false),

		// Storage
		StoreDriver: strings.ToLower(getenv("INTEGRATOR_STORE_DRIVER", DriverSQLite)),
		SQLitePath:  getenv("INTEGRATOR_SQLITE_PATH", "integrator.db"),
		PostgresDSN: getenv("INTEGRATOR_POSTGRES_DSN", ""),

		// Redis settings
		RedisAddr:             getenv("INTEGRATOR_REDIS_ADDR", ""),
		RedisUser:             getenv("INTEGRATOR_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("INTEGRATOR_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("INTEGRATOR_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("INTEGRATOR_REDIS_DB", 0),
		RedisDT:               mustDuration("INTEGRATOR_REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("INTEGRATOR_REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("INTEGRATOR_REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("INTEGRATOR_REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("INTEGRATOR_REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("INTEGRATOR_REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("INTEGRATOR_REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("INTEGRATOR_REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("INTEGRATOR_REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("INTEGRATOR_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("INTEGRATOR_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("INTEGRATOR_TRUST_PROXY", false),

		RateLimitBurst:  getenvInt("INTEGRATOR_RATE_LIMIT_BURST", 30),
		RateLimitPerMin: getenvInt("INTEGRATOR_RATE_LIMIT_PER_MIN", 120),

		// Telemetry
		OTLPEndpoint: getenv("INTEGRATOR_OTLP_ENDPOINT", ""),
		ServiceName:  getenv("INTEGRATOR_SERVICE_NAME", "integrator"),

		ConfigFile: configFile,
	}

	switch cfg.StoreDriver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		cfg.PostgresDSN = requireEnv("INTEGRATOR_POSTGRES_DSN")
	default:
		panic(fmt.Sprintf("❌ FATAL: Unknown INTEGRATOR_STORE_DRIVER %q (want sqlite, postgres or memory)", cfg.StoreDriver))
	}

	// Validate Redis password configuration
	if cfg.RedisAddr != "" && cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: INTEGRATOR_REDIS_PASSWORD is required when INTEGRATOR_REDIS_PASSWORD_REQUIRED=true")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return cfg
}

// RequireAPIKey panics when the API key is missing. Only the HTTP server
// needs it; import and migrate run without.
func (c *Config) RequireAPIKey() {
	if c.APIKey == "" {
		panic("❌ FATAL: Required environment variable INTEGRATOR_API_KEY is not set")
	}
}

// ImportTimeout is the deadline for a synchronous import request: the
// upstream fetch plus the usual request budget for storage.
func (c *Config) ImportTimeout() time.Duration {
	return c.FetchTimeout + c.RequestTimeout
}

// RedisEnabled reports whether the run journal is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	cp := *c
	if cp.APIKey != "" {
		cp.APIKey = "***REDACTED***"
	}
	if cp.RedisPassword != "" {
		cp.RedisPassword = "***REDACTED***"
	}
	if cp.RedisUser != "" {
		cp.RedisUser = "***REDACTED***"
	}
	if cp.PostgresDSN != "" {
		cp.PostgresDSN = "***REDACTED***"
	}
	return cp
}

// loadFile reads a flat YAML mapping. Keys may omit the INTEGRATOR_ prefix.
func loadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		if !strings.HasPrefix(key, envPrefix) {
			key = envPrefix + key
		}
		switch val := v.(type) {
		case nil:
			values[key] = ""
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			values[key] = strings.Join(parts, ",")
		default:
			values[key] = fmt.Sprint(val)
		}
	}
	return values, nil
}

// helpers
func lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fileValues[key]
}

func getenv(key, def string) string {
	if v := lookup(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := lookup(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := lookup(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := lookup(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
