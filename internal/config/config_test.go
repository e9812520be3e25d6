package config

import (
	"testing"
	"time"
)

func TestParseServerFlagsDefaults(t *testing.T) {
	t.Setenv("WAZUHPROXY_LISTEN", "")
	t.Setenv("WAZUHPROXY_DB_PATH", "")
	t.Setenv("WAZUHPROXY_REQUEST_TIMEOUT", "")

	cfg, err := parseServerFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8000" {
		t.Fatalf("expected default listen, got %q", cfg.Listen)
	}
	if cfg.DBPath != "./wazuhproxy.db" {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.RequestTimeout != 20*time.Second {
		t.Fatalf("expected 20s timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.ExportMaxPages != 1000 {
		t.Fatalf("expected 1000 max pages, got %d", cfg.ExportMaxPages)
	}
}

func TestParseServerFlagsEnvThenFlags(t *testing.T) {
	t.Setenv("WAZUHPROXY_LISTEN", ":9000")
	t.Setenv("WAZUHPROXY_REQUEST_TIMEOUT", "5s")
	t.Setenv("WAZUHPROXY_LOG_LEVEL", "DEBUG")

	cfg, err := parseServerFlags([]string{"--listen", ":9100"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9100" {
		t.Fatalf("expected flag to override env, got %q", cfg.Listen)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("expected env timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected normalized log level, got %q", cfg.LogLevel)
	}
}

func TestParseServerFlagsValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{
			name: "bad log level",
			args: []string{"--log-level", "trace"},
		},
		{
			name: "cert without key",
			args: []string{"--tls-cert-file", "cert.pem"},
		},
		{
			name: "http3 without tls",
			args: []string{"--http3"},
		},
		{
			name: "idle cannot exceed open",
			args: []string{"--db-max-open-conns", "1", "--db-max-idle-conns", "2"},
		},
		{
			name: "export pages must be positive",
			args: []string{"--export-max-pages", "0"},
		},
		{
			name: "timeout must be positive",
			args: []string{"--request-timeout", "0s"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseServerFlags(tt.args); err == nil {
				t.Fatalf("expected parse error for args: %v", tt.args)
			}
		})
	}
}
