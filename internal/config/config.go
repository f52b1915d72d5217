// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the alert mail service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/shineum/alertmail-lite/internal/provider"
)

// Config holds the complete application configuration.
type Config struct {
	Provider  ProviderConfig   `yaml:"provider"`
	Fallbacks []ProviderConfig `yaml:"fallbacks" validate:"dive"`
	Delivery  DeliveryConfig   `yaml:"delivery"`
	Templates TemplatesConfig  `yaml:"templates"`
	HTTP      HTTPConfig       `yaml:"http"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ProviderConfig describes one email provider. SenderSecret may be a
// keyring: or env: reference.
type ProviderConfig struct {
	Type               string            `yaml:"type"`
	Server             string            `yaml:"server"`
	Port               int               `yaml:"port" validate:"gte=0,lte=65535"`
	UseTLS             bool              `yaml:"use_tls"`
	SenderEmail        string            `yaml:"sender_email"`
	SenderSecret       string            `yaml:"sender_secret"`
	AuthMethod         string            `yaml:"auth_method"`
	Timeout            time.Duration     `yaml:"timeout" validate:"gte=0"`
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify"`
	CAFile             string            `yaml:"ca_file"`
	Options            map[string]string `yaml:"options"`
}

// DeliveryConfig holds retry, queue and retention settings.
type DeliveryConfig struct {
	MaxRetries      int           `yaml:"max_retries" validate:"gte=1"`
	QueueInterval   time.Duration `yaml:"queue_interval" validate:"gt=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gt=0"`
	Retention       time.Duration `yaml:"retention" validate:"gt=0"`
	SelfTestSend    bool          `yaml:"self_test_send"`
}

// TemplatesConfig holds the template override directory.
type TemplatesConfig struct {
	Dir string `yaml:"dir"`
}

// HTTPConfig holds the API listener configuration.
type HTTPConfig struct {
	Listen string `yaml:"listen" validate:"required"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks value ranges. Provider-specific rules are checked by the
// provider registry when the transport is built.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ProviderConfigured reports whether a primary provider type is set.
func (c *Config) ProviderConfigured() bool {
	return c.Provider.Type != ""
}

// ToProvider converts p to the provider package's configuration.
func (p ProviderConfig) ToProvider(maxRetries int) provider.Config {
	return provider.Config{
		Provider:           provider.Kind(strings.ToLower(strings.TrimSpace(p.Type))),
		Server:             p.Server,
		Port:               p.Port,
		UseTLS:             p.UseTLS,
		SenderEmail:        p.SenderEmail,
		SenderSecret:       p.SenderSecret,
		AuthMethod:         provider.AuthMethod(p.AuthMethod),
		Timeout:            p.Timeout,
		MaxRetries:         maxRetries,
		InsecureSkipVerify: p.InsecureSkipVerify,
		CAFile:             p.CAFile,
		Options:            p.Options,
	}
}

// PrimaryProvider returns the primary provider configuration.
func (c *Config) PrimaryProvider() provider.Config {
	return c.Provider.ToProvider(c.Delivery.MaxRetries)
}

// FallbackProviders returns the fallback provider configurations in order.
func (c *Config) FallbackProviders() []provider.Config {
	out := make([]provider.Config, 0, len(c.Fallbacks))
	for _, f := range c.Fallbacks {
		out = append(out, f.ToProvider(c.Delivery.MaxRetries))
	}
	return out
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Provider.UseTLS = true
	c.Provider.Timeout = provider.DefaultTimeout
	c.Delivery.MaxRetries = provider.DefaultMaxRetries
	c.Delivery.QueueInterval = 30 * time.Second
	c.Delivery.CleanupInterval = time.Hour
	c.Delivery.Retention = 24 * time.Hour
	c.Delivery.SelfTestSend = true
	c.HTTP.Listen = ":8025"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("ALERTMAIL_PROVIDER"); v != "" {
		c.Provider.Type = strings.ToLower(v)
	}
	if v := os.Getenv("SMTP_SERVER"); v != "" {
		c.Provider.Server = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Provider.Port = port
		}
	}
	if v := os.Getenv("SMTP_USE_TLS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Provider.UseTLS = b
		}
	}
	if v := os.Getenv("SENDER_EMAIL"); v != "" {
		c.Provider.SenderEmail = v
	}
	if v := os.Getenv("SENDER_SECRET"); v != "" {
		c.Provider.SenderSecret = v
	}
	if v := os.Getenv("AUTH_METHOD"); v != "" {
		c.Provider.AuthMethod = strings.ToLower(v)
	}
	if v := os.Getenv("SMTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Provider.Timeout = d
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Delivery.MaxRetries = n
		}
	}

	c.setOption("SES_REGION", "region")
	c.setOption("SES_ACCESS_KEY_ID", "access_key_id")
	c.setOption("GRAPH_TENANT_ID", "tenant_id")
	c.setOption("GRAPH_CLIENT_ID", "client_id")
	c.setOption("POSTMARK_ACCOUNT_TOKEN", "account_token")

	if v := os.Getenv("TEMPLATES_DIR"); v != "" {
		c.Templates.Dir = v
	}
	if v := os.Getenv("HTTP_LISTEN"); v != "" {
		c.HTTP.Listen = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func (c *Config) setOption(env, key string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	if c.Provider.Options == nil {
		c.Provider.Options = make(map[string]string)
	}
	c.Provider.Options[key] = v
}
