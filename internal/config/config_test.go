// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

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
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "test-secret"

responder:
  endpoint: "http://localhost:9090"
  timeout: "10s"
  idle_threshold: "5m"

relay:
  typing_expiry: "3s"
  reply_delay_min: "1s"
  reply_delay_max: "3s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Responder.Timeout != 10*time.Second {
		t.Errorf("Responder.Timeout = %v, want 10s", cfg.Responder.Timeout)
	}
	if cfg.Responder.IdleThreshold != 5*time.Minute {
		t.Errorf("Responder.IdleThreshold = %v, want 5m", cfg.Responder.IdleThreshold)
	}
	if cfg.Relay.TypingExpiry != 3*time.Second {
		t.Errorf("Relay.TypingExpiry = %v, want 3s", cfg.Relay.TypingExpiry)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "test-secret"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Relay.TypingExpiry != DefaultTypingExpiry {
		t.Errorf("TypingExpiry = %v, want default %v", cfg.Relay.TypingExpiry, DefaultTypingExpiry)
	}
	if cfg.Relay.ReplyDelayMin != DefaultReplyDelayMin {
		t.Errorf("ReplyDelayMin = %v, want default %v", cfg.Relay.ReplyDelayMin, DefaultReplyDelayMin)
	}
	if cfg.Relay.ReplyDelayMax != DefaultReplyDelayMax {
		t.Errorf("ReplyDelayMax = %v, want default %v", cfg.Relay.ReplyDelayMax, DefaultReplyDelayMax)
	}
	if cfg.Responder.Timeout != DefaultResponderTimeout {
		t.Errorf("Responder.Timeout = %v, want default %v", cfg.Responder.Timeout, DefaultResponderTimeout)
	}
	if cfg.Responder.IdleThreshold != 0 {
		t.Errorf("IdleThreshold = %v, want 0 (disabled)", cfg.Responder.IdleThreshold)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("SWITCHBOARD_TEST_SECRET", "secret-from-env")

	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "${SWITCHBOARD_TEST_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "secret-from-env" {
		t.Errorf("JWTSecret = %q, want expansion from env", cfg.Auth.JWTSecret)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Load() should fail for missing file")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "x"
relay:
  typing_expiry: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "typing_expiry") {
		t.Errorf("Load() error = %v, want typing_expiry parse failure", err)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "http_addr",
		},
		{
			name: "tailscale without hostname",
			mutate: func(c *Config) {
				c.Tailscale.Enabled = true
				c.Tailscale.Hostname = ""
			},
			wantErr: "hostname",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "" },
			wantErr: "jwt_secret",
		},
		{
			name: "inverted reply delay bounds",
			mutate: func(c *Config) {
				c.Relay.ReplyDelayMin = 3 * time.Second
				c.Relay.ReplyDelayMax = time.Second
			},
			wantErr: "reply_delay_max",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server:   ServerConfig{HTTPAddr: ":8080"},
				Database: DatabaseConfig{Path: "./test.db"},
				Auth:     AuthConfig{JWTSecret: "x"},
			}
			cfg.applyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should have failed")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
