package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

type ServerConfig struct {
	Listen          string
	HTTP3           bool
	DBPath          string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	SettingsPath    string
	SecretKey       string
	TLSCertFile     string
	TLSKeyFile      string
	LogLevel        string
	PprofListen     string
	RequestTimeout  time.Duration
	MaxBodyBytes    int64
	ExportMaxPages  int
	ExportRate      float64
	ExportBurst     int
	WatchInterval   time.Duration
	CleanupInterval time.Duration
	LimiterIdleTTL  time.Duration
}

const defaultServerListen = ":8000"
const defaultServerDBPath = "./wazuhproxy.db"
const defaultServerSettingsPath = "./wazuhproxy.yml"
const defaultRequestTimeout = 20 * time.Second
const defaultExportMaxPages = 1000
const defaultWatchInterval = 3 * time.Second
const defaultCleanupInterval = 5 * time.Minute
const defaultLimiterIdleTTL = 15 * time.Minute

// parseServerFlags builds the server configuration from WAZUHPROXY_* env
// defaults overridden by command-line flags.
func parseServerFlags(args []string) (ServerConfig, error) {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	cfg := BindServerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return *cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return *cfg, err
	}
	return *cfg, nil
}

// BindServerFlags registers the server flags on fs and returns the config
// they populate. Call [ServerConfig.Validate] after parsing.
func BindServerFlags(fs *pflag.FlagSet) *ServerConfig {
	cfg := &ServerConfig{
		Listen:          envOrDefault("WAZUHPROXY_LISTEN", defaultServerListen),
		HTTP3:           envBoolOrDefault("WAZUHPROXY_HTTP3", false),
		DBPath:          envOrDefault("WAZUHPROXY_DB_PATH", defaultServerDBPath),
		DBMaxOpenConns:  envIntOrDefault("WAZUHPROXY_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:  envIntOrDefault("WAZUHPROXY_DB_MAX_IDLE_CONNS", 4),
		SettingsPath:    envOrDefault("WAZUHPROXY_SETTINGS", defaultServerSettingsPath),
		SecretKey:       envOrDefault("WAZUHPROXY_SECRET_KEY", ""),
		TLSCertFile:     envOrDefault("WAZUHPROXY_TLS_CERT_FILE", ""),
		TLSKeyFile:      envOrDefault("WAZUHPROXY_TLS_KEY_FILE", ""),
		LogLevel:        envOrDefault("WAZUHPROXY_LOG_LEVEL", "info"),
		PprofListen:     envOrDefault("WAZUHPROXY_PPROF_LISTEN", ""),
		RequestTimeout:  envDurationOrDefault("WAZUHPROXY_REQUEST_TIMEOUT", defaultRequestTimeout),
		MaxBodyBytes:    int64(envIntOrDefault("WAZUHPROXY_MAX_BODY_BYTES", 10*1024*1024)),
		ExportMaxPages:  envIntOrDefault("WAZUHPROXY_EXPORT_MAX_PAGES", defaultExportMaxPages),
		ExportRate:      envFloatOrDefault("WAZUHPROXY_EXPORT_RATE", 1),
		ExportBurst:     envIntOrDefault("WAZUHPROXY_EXPORT_BURST", 3),
		WatchInterval:   envDurationOrDefault("WAZUHPROXY_WATCH_INTERVAL", defaultWatchInterval),
		CleanupInterval: defaultCleanupInterval,
		LimiterIdleTTL:  defaultLimiterIdleTTL,
	}

	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP(S) listen address")
	fs.BoolVar(&cfg.HTTP3, "http3", cfg.HTTP3, "Also serve HTTP/3 on the listen address (requires TLS)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.IntVar(&cfg.DBMaxOpenConns, "db-max-open-conns", cfg.DBMaxOpenConns, "SQLite max open connections")
	fs.IntVar(&cfg.DBMaxIdleConns, "db-max-idle-conns", cfg.DBMaxIdleConns, "SQLite max idle connections")
	fs.StringVar(&cfg.SettingsPath, "settings", cfg.SettingsPath, "Settings stanza YAML path (admin, timeout, log_level)")
	fs.StringVar(&cfg.SecretKey, "secret-key", cfg.SecretKey, "Sealing secret override for stored passwords")
	fs.StringVar(&cfg.TLSCertFile, "tls-cert-file", cfg.TLSCertFile, "TLS cert PEM file (optional)")
	fs.StringVar(&cfg.TLSKeyFile, "tls-key-file", cfg.TLSKeyFile, "TLS key PEM file (optional)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.PprofListen, "pprof-listen", cfg.PprofListen, "Operator listen address for pprof, metrics and the live settings stanza (empty disables)")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Default upstream request timeout")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", cfg.MaxBodyBytes, "Max inbound request body size")
	fs.IntVar(&cfg.ExportMaxPages, "export-max-pages", cfg.ExportMaxPages, "Max pages fetched per CSV export")
	fs.Float64Var(&cfg.ExportRate, "export-rate", cfg.ExportRate, "CSV exports per second per connection")
	fs.IntVar(&cfg.ExportBurst, "export-burst", cfg.ExportBurst, "CSV export burst per connection")
	fs.DurationVar(&cfg.WatchInterval, "watch-interval", cfg.WatchInterval, "Readiness watch poll interval")
	return cfg
}

// Validate checks parsed values and normalizes the log level.
func (cfg *ServerConfig) Validate() error {
	cfg.Listen = strings.TrimSpace(cfg.Listen)
	if cfg.Listen == "" {
		return errors.New("missing --listen or WAZUHPROXY_LISTEN")
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	case "":
		cfg.LogLevel = "info"
	default:
		return errors.New("log level must be one of: debug, info, warn, error")
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return errors.New("tls cert and key files must be set together")
	}
	if cfg.HTTP3 && cfg.TLSCertFile == "" {
		return errors.New("http3 requires --tls-cert-file and --tls-key-file")
	}
	if cfg.DBMaxOpenConns <= 0 {
		return errors.New("db max open conns must be > 0")
	}
	if cfg.DBMaxIdleConns <= 0 {
		return errors.New("db max idle conns must be > 0")
	}
	if cfg.DBMaxIdleConns > cfg.DBMaxOpenConns {
		return errors.New("db max idle conns cannot exceed max open conns")
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New("request timeout must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be > 0")
	}
	if cfg.ExportMaxPages <= 0 {
		return errors.New("export max pages must be > 0")
	}
	if cfg.ExportRate <= 0 || cfg.ExportBurst <= 0 {
		return errors.New("export rate and burst must be > 0")
	}
	if cfg.WatchInterval <= 0 {
		return errors.New("watch interval must be > 0")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloatOrDefault(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOrDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
