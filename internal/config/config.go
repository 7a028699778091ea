package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type HTTPConfig struct {
	Addr            string
	MaxCSVBytes     int64
	TrustedProxies  []string
	EnableMetrics   bool
	ShutdownTimeout time.Duration
}

type StoreConfig struct {
	Path string
}

type ExtractConfig struct {
	ArtifactDir       string
	ICSConcurrency    int
	RenderConcurrency int
	Interval          time.Duration
	RetentionDays     int
	WindowDays        int
	FetchTimeout      time.Duration
}

type RenderConfig struct {
	PoolSize    int
	Watchdog    time.Duration
	NetworkIdle time.Duration
	BrowserBin  string
}

type AuthConfig struct {
	JWKSURL    string
	Issuer     string
	Audience   string
	AdminToken string
}

type Config struct {
	HTTP     HTTPConfig
	Store    StoreConfig
	Extract  ExtractConfig
	Render   RenderConfig
	Auth     AuthConfig
	LogLevel string

	// DisableBackgroundTasks turns off the periodic fetcher and the daily
	// retention pass. Used by tests and the one-shot extract binary.
	DisableBackgroundTasks bool
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func Load() (*Config, error) {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            getenv("HTTP_ADDR", ":8080"),
			MaxCSVBytes:     int64(getint("HTTP_MAX_CSV_BYTES", 1<<20)),
			TrustedProxies:  splitList(getenv("TRUSTED_PROXIES", "")),
			EnableMetrics:   getenv("METRICS_ENABLED", "true") == "true",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Path: getenv("STORE_PATH", "./data/roomsched.db"),
		},
		Extract: ExtractConfig{
			ArtifactDir:       getenv("ARTIFACT_DIR", "./data/artifacts"),
			ICSConcurrency:    getint("ICS_CONCURRENCY", 8),
			RenderConcurrency: getint("RENDER_CONCURRENCY", 4),
			Interval:          time.Duration(getint("EXTRACT_INTERVAL_MIN", 60)) * time.Minute,
			RetentionDays:     getint("RETENTION_DAYS", 60),
			WindowDays:        getint("WINDOW_DAYS", 60),
			FetchTimeout:      time.Duration(getint("FETCH_TIMEOUT_SEC", 30)) * time.Second,
		},
		Render: RenderConfig{
			PoolSize:    getint("RENDER_POOL_SIZE", 4),
			Watchdog:    time.Duration(getint("RENDER_WATCHDOG_SEC", 60)) * time.Second,
			NetworkIdle: time.Duration(getint("RENDER_IDLE_SEC", 20)) * time.Second,
			BrowserBin:  getenv("RENDER_BROWSER_BIN", ""),
		},
		Auth: AuthConfig{
			JWKSURL:    getenv("AUTH_JWKS_URL", ""),
			Issuer:     getenv("AUTH_ISSUER", ""),
			Audience:   getenv("AUTH_AUDIENCE", ""),
			AdminToken: getenv("AUTH_ADMIN_TOKEN", ""),
		},
		LogLevel:               getenv("LOG_LEVEL", "info"),
		DisableBackgroundTasks: getenv("DISABLE_BACKGROUND_TASKS", "false") == "true",
	}, nil
}
