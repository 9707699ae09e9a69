package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the service's full runtime configuration, loaded from an
// optional YAML file and overlaid with environment variables (env wins).
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	AppEnv string `yaml:"app_env"` // "production" disallows file:// URLs

	WorkerCount     int  `yaml:"worker_count"`
	RestartOnBroken bool `yaml:"restart_broken_differ"`

	MaxBodyBytes      int64 `yaml:"max_body_bytes"`
	UpstreamTimeoutMS int   `yaml:"upstream_timeout_ms"`
	DiffTimeoutMS     int   `yaml:"diff_timeout_ms"`

	CORSAllowAllOrigins bool     `yaml:"cors_allow_all_origins"`
	CORSAllowedOrigins  []string `yaml:"cors_allowed_origins"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Load builds a Config starting from defaults, overlaying a YAML file (if
// DIFFING_SERVICE_CONFIG or ./config.yaml exists), then environment
// variables, which take final precedence.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:          ":7777",
		AppEnv:              "development",
		WorkerCount:         4,
		RestartOnBroken:     false,
		MaxBodyBytes:        50 << 20,
		UpstreamTimeoutMS:   60_000,
		DiffTimeoutMS:       60_000,
		CORSAllowAllOrigins: false,
		LogLevel:            "info",
	}

	path := os.Getenv("DIFFING_SERVICE_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("WEB_MONITORING_APP_ENV"); v != "" {
		cfg.AppEnv = v
	}
	if v := os.Getenv("DIFF_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerCount = n
		}
	}
	if v := os.Getenv("RESTART_BROKEN_DIFFER"); v != "" {
		cfg.RestartOnBroken = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("UPSTREAM_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UpstreamTimeoutMS = n
		}
	}
	if v := os.Getenv("DIFF_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DiffTimeoutMS = n
		}
	}
	if v := os.Getenv("ACCESS_CONTROL_ALLOW_ORIGIN"); v != "" {
		// A single knob carrying either "*" or a comma-separated
		// origin whitelist, kept for parity with deployments that
		// configure CORS this way.
		if v == "*" {
			cfg.CORSAllowAllOrigins = true
			cfg.CORSAllowedOrigins = nil
		} else {
			cfg.CORSAllowAllOrigins = false
			cfg.CORSAllowedOrigins = splitAndTrim(v, ",")
		}
	}
	if v := os.Getenv("CORS_ALLOW_ALL_ORIGINS"); v != "" {
		cfg.CORSAllowAllOrigins = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitAndTrim(v, ",")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}

	return cfg, nil
}

// IsProduction reports whether the configured environment forbids
// file:// upstream URLs.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
