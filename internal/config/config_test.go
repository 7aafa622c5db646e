// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

auth:
  jwt_secret: "test-secret"

stream:
  max_connections_per_user: 5
  max_lifetime: "1h"
  idle_timeout: "15m"
  sweep_interval: "30s"
  allowed_origins:
    - "http://localhost:3000"
    - "http://localhost:5173"

relay:
  enabled: true
  url: "nats://127.0.0.1:4222"
  subject_prefix: "frames"

database:
  path: "./audit.db"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Stream.MaxConnectionsPerUser != 5 {
		t.Errorf("MaxConnectionsPerUser = %d", cfg.Stream.MaxConnectionsPerUser)
	}
	if cfg.Stream.MaxLifetime != time.Hour {
		t.Errorf("MaxLifetime = %v", cfg.Stream.MaxLifetime)
	}
	if cfg.Stream.IdleTimeout != 15*time.Minute {
		t.Errorf("IdleTimeout = %v", cfg.Stream.IdleTimeout)
	}
	if cfg.Stream.SweepInterval != 30*time.Second {
		t.Errorf("SweepInterval = %v", cfg.Stream.SweepInterval)
	}
	if len(cfg.Stream.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v", cfg.Stream.AllowedOrigins)
	}
	if !cfg.Relay.Enabled || cfg.Relay.URL != "nats://127.0.0.1:4222" {
		t.Errorf("Relay = %+v", cfg.Relay)
	}
	if cfg.Database.Path != "./audit.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"
auth:
  jwt_secret: "test-secret"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Stream.MaxConnectionsPerUser != 3 {
		t.Errorf("default cap = %d, want 3", cfg.Stream.MaxConnectionsPerUser)
	}
	if cfg.Stream.MaxLifetime != 2*time.Hour {
		t.Errorf("default max lifetime = %v, want 2h", cfg.Stream.MaxLifetime)
	}
	if cfg.Stream.IdleTimeout != 0 {
		t.Errorf("idle timeout should default to disabled, got %v", cfg.Stream.IdleTimeout)
	}
	if cfg.Stream.SweepInterval != time.Minute {
		t.Errorf("default sweep interval = %v, want 1m", cfg.Stream.SweepInterval)
	}
	if cfg.Relay.Enabled {
		t.Error("relay should default to disabled")
	}
	if cfg.Database.Path != "" {
		t.Error("audit database should default to disabled")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "secret-from-env")

	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Auth.JWTSecret != "secret-from-env" {
		t.Errorf("JWTSecret = %q, want expanded env value", cfg.Auth.JWTSecret)
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing http_addr",
			content: "auth:\n  jwt_secret: \"s\"\n",
			wantErr: "http_addr",
		},
		{
			name:    "missing jwt_secret",
			content: "server:\n  http_addr: \"localhost:8080\"\n",
			wantErr: "jwt_secret",
		},
		{
			name: "relay enabled without url",
			content: `
server:
  http_addr: "localhost:8080"
auth:
  jwt_secret: "s"
relay:
  enabled: true
`,
			wantErr: "relay.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"
auth:
  jwt_secret: "s"
stream:
  max_lifetime: "two hours"
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected duration parse error")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
