package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shineum/alertmail-lite/internal/provider"
)

var allEnvVars = []string{
	"ALERTMAIL_PROVIDER", "SMTP_SERVER", "SMTP_PORT", "SMTP_USE_TLS",
	"SENDER_EMAIL", "SENDER_SECRET", "AUTH_METHOD", "SMTP_TIMEOUT", "MAX_RETRIES",
	"SES_REGION", "SES_ACCESS_KEY_ID", "GRAPH_TENANT_ID", "GRAPH_CLIENT_ID",
	"POSTMARK_ACCOUNT_TOKEN", "TEMPLATES_DIR", "HTTP_LISTEN", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range allEnvVars {
		t.Setenv(env, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Provider.Type != "" {
		t.Errorf("Provider.Type: got %q, want empty", cfg.Provider.Type)
	}
	if !cfg.Provider.UseTLS {
		t.Error("Provider.UseTLS: got false, want true")
	}
	if cfg.Provider.Timeout != 30*time.Second {
		t.Errorf("Provider.Timeout: got %v, want 30s", cfg.Provider.Timeout)
	}
	if cfg.Delivery.MaxRetries != 3 {
		t.Errorf("Delivery.MaxRetries: got %d, want 3", cfg.Delivery.MaxRetries)
	}
	if cfg.Delivery.Retention != 24*time.Hour {
		t.Errorf("Delivery.Retention: got %v, want 24h", cfg.Delivery.Retention)
	}
	if !cfg.Delivery.SelfTestSend {
		t.Error("Delivery.SelfTestSend: got false, want true")
	}
	if cfg.HTTP.Listen != ":8025" {
		t.Errorf("HTTP.Listen: got %q, want %q", cfg.HTTP.Listen, ":8025")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Provider.Options != nil {
		t.Errorf("Provider.Options: got %v, want nil", cfg.Provider.Options)
	}
	if cfg.ProviderConfigured() {
		t.Error("ProviderConfigured: got true, want false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: unexpected error: %v", err)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALERTMAIL_PROVIDER", "Gmail")
	t.Setenv("SMTP_SERVER", "smtp.gmail.com")
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("SMTP_USE_TLS", "false")
	t.Setenv("SENDER_EMAIL", "driver@gmail.com")
	t.Setenv("SENDER_SECRET", "keyring:driver@gmail.com")
	t.Setenv("AUTH_METHOD", "APP_PASSWORD")
	t.Setenv("SMTP_TIMEOUT", "10s")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("SES_REGION", "eu-west-1")
	t.Setenv("GRAPH_TENANT_ID", "tid-123")
	t.Setenv("TEMPLATES_DIR", "/etc/alertmail/templates")
	t.Setenv("HTTP_LISTEN", ":9090")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Provider.Type != "gmail" {
		t.Errorf("Provider.Type: got %q, want %q", cfg.Provider.Type, "gmail")
	}
	if cfg.Provider.Port != 465 {
		t.Errorf("Provider.Port: got %d, want 465", cfg.Provider.Port)
	}
	if cfg.Provider.UseTLS {
		t.Error("Provider.UseTLS: got true, want false")
	}
	if cfg.Provider.AuthMethod != "app_password" {
		t.Errorf("Provider.AuthMethod: got %q, want %q", cfg.Provider.AuthMethod, "app_password")
	}
	if cfg.Provider.Timeout != 10*time.Second {
		t.Errorf("Provider.Timeout: got %v, want 10s", cfg.Provider.Timeout)
	}
	if cfg.Delivery.MaxRetries != 5 {
		t.Errorf("Delivery.MaxRetries: got %d, want 5", cfg.Delivery.MaxRetries)
	}
	if got := cfg.Provider.Options["region"]; got != "eu-west-1" {
		t.Errorf("Options[region]: got %q, want %q", got, "eu-west-1")
	}
	if got := cfg.Provider.Options["tenant_id"]; got != "tid-123" {
		t.Errorf("Options[tenant_id]: got %q, want %q", got, "tid-123")
	}
	if cfg.Templates.Dir != "/etc/alertmail/templates" {
		t.Errorf("Templates.Dir: got %q", cfg.Templates.Dir)
	}
	if cfg.HTTP.Listen != ":9090" {
		t.Errorf("HTTP.Listen: got %q, want %q", cfg.HTTP.Listen, ":9090")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "debug")
	}

	pc := cfg.PrimaryProvider()
	if pc.Provider != provider.Gmail {
		t.Errorf("PrimaryProvider().Provider: got %q, want %q", pc.Provider, provider.Gmail)
	}
	if pc.MaxRetries != 5 {
		t.Errorf("PrimaryProvider().MaxRetries: got %d, want 5", pc.MaxRetries)
	}
	if pc.AuthMethod != provider.AuthAppPassword {
		t.Errorf("PrimaryProvider().AuthMethod: got %q", pc.AuthMethod)
	}
}

func TestLoad_InvalidNumbersIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMTP_PORT", "not-a-port")
	t.Setenv("MAX_RETRIES", "many")
	t.Setenv("SMTP_TIMEOUT", "forever")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.Port != 0 {
		t.Errorf("Provider.Port: got %d, want 0", cfg.Provider.Port)
	}
	if cfg.Delivery.MaxRetries != 3 {
		t.Errorf("Delivery.MaxRetries: got %d, want 3", cfg.Delivery.MaxRetries)
	}
	if cfg.Provider.Timeout != 30*time.Second {
		t.Errorf("Provider.Timeout: got %v, want 30s", cfg.Provider.Timeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	yamlContent := `provider:
  type: custom
  server: mail.fleet.example
  port: 2587
  sender_email: alerts@fleet.example
  sender_secret: env:FLEET_SMTP_PASSWORD
  timeout: 15s
fallbacks:
  - type: ses
    sender_email: alerts@fleet.example
    options:
      region: us-east-1
  - type: stdout
    sender_email: alerts@fleet.example
delivery:
  max_retries: 4
  queue_interval: 1m
  self_test_send: false
templates:
  dir: /srv/templates
http:
  listen: "127.0.0.1:8025"
logging:
  level: warn
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Provider.Server != "mail.fleet.example" {
		t.Errorf("Provider.Server: got %q", cfg.Provider.Server)
	}
	if cfg.Provider.Port != 2587 {
		t.Errorf("Provider.Port: got %d, want 2587", cfg.Provider.Port)
	}
	if cfg.Provider.Timeout != 15*time.Second {
		t.Errorf("Provider.Timeout: got %v, want 15s", cfg.Provider.Timeout)
	}
	if !cfg.Provider.UseTLS {
		t.Error("Provider.UseTLS: default should survive a file that omits it")
	}
	if len(cfg.Fallbacks) != 2 {
		t.Fatalf("Fallbacks: got %d, want 2", len(cfg.Fallbacks))
	}
	fb := cfg.FallbackProviders()
	if fb[0].Provider != provider.SES || fb[0].Option("region") != "us-east-1" {
		t.Errorf("Fallbacks[0]: got %+v", fb[0])
	}
	if fb[1].Provider != provider.Stdout {
		t.Errorf("Fallbacks[1].Provider: got %q", fb[1].Provider)
	}
	if fb[0].MaxRetries != 4 {
		t.Errorf("Fallbacks[0].MaxRetries: got %d, want 4", fb[0].MaxRetries)
	}
	if cfg.Delivery.QueueInterval != time.Minute {
		t.Errorf("Delivery.QueueInterval: got %v, want 1m", cfg.Delivery.QueueInterval)
	}
	if cfg.Delivery.CleanupInterval != time.Hour {
		t.Errorf("Delivery.CleanupInterval: got %v, want default 1h", cfg.Delivery.CleanupInterval)
	}
	if cfg.Delivery.SelfTestSend {
		t.Error("Delivery.SelfTestSend: got true, want false")
	}
	if cfg.Templates.Dir != "/srv/templates" {
		t.Errorf("Templates.Dir: got %q", cfg.Templates.Dir)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "warn")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: unexpected error: %v", err)
	}
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)

	yamlContent := `provider:
  type: outlook
  sender_email: yaml@outlook.com
http:
  listen: ":7000"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	t.Setenv("SENDER_EMAIL", "env@outlook.com")
	t.Setenv("HTTP_LISTEN", ":7001")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.SenderEmail != "env@outlook.com" {
		t.Errorf("Provider.SenderEmail: got %q, want env override", cfg.Provider.SenderEmail)
	}
	if cfg.HTTP.Listen != ":7001" {
		t.Errorf("HTTP.Listen: got %q, want env override", cfg.HTTP.Listen)
	}
	if cfg.Provider.Type != "outlook" {
		t.Errorf("Provider.Type: got %q, want %q", cfg.Provider.Type, "outlook")
	}
}

func TestLoadFromFile_FileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("provider: [unterminated"), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	_, err := LoadFromFile(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: true},
		{name: "zero retries", mutate: func(c *Config) { c.Delivery.MaxRetries = 0 }, wantErr: true},
		{name: "zero retention", mutate: func(c *Config) { c.Delivery.Retention = 0 }, wantErr: true},
		{name: "empty listen", mutate: func(c *Config) { c.HTTP.Listen = "" }, wantErr: true},
		{name: "port out of range", mutate: func(c *Config) { c.Provider.Port = 70000 }, wantErr: true},
		{name: "fallback port out of range", mutate: func(c *Config) {
			c.Fallbacks = []ProviderConfig{{Type: "custom", Port: -1}}
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
