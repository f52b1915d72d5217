// Package provider defines the transport contract for email delivery backends
// and the data-driven rules that describe each supported provider.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shineum/alertmail-lite/internal/email"
)

var (
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid provider configuration")

	// ErrNotConfigured is returned by a transport used before Configure succeeded.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrUnknownProvider is returned by the registry for unregistered kinds.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Kind identifies a provider.
type Kind string

const (
	Gmail    Kind = "gmail"
	Outlook  Kind = "outlook"
	Yahoo    Kind = "yahoo"
	Custom   Kind = "custom"
	SES      Kind = "ses"
	Graph    Kind = "msgraph"
	Postmark Kind = "postmark"
	Stdout   Kind = "stdout"
)

// AuthMethod is the credential type presented to the provider.
type AuthMethod string

const (
	AuthPassword    AuthMethod = "password"
	AuthAppPassword AuthMethod = "app_password"
	AuthOAuth2      AuthMethod = "oauth2"
)

// Defaults applied when a Config leaves them unset.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
)

// Config holds the connection parameters for one provider.
type Config struct {
	Provider           Kind              `yaml:"provider" json:"provider"`
	Server             string            `yaml:"server" json:"server"`
	Port               int               `yaml:"port" json:"port"`
	UseTLS             bool              `yaml:"use_tls" json:"use_tls"`
	SenderEmail        string            `yaml:"sender_email" json:"sender_email"`
	SenderSecret       string            `yaml:"sender_secret" json:"-"`
	AuthMethod         AuthMethod        `yaml:"auth_method" json:"auth_method"`
	Timeout            time.Duration     `yaml:"timeout" json:"timeout"`
	MaxRetries         int               `yaml:"max_retries" json:"max_retries"`
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
	CAFile             string            `yaml:"ca_file" json:"ca_file,omitempty"`
	Options            map[string]string `yaml:"options" json:"options,omitempty"`
}

// Option returns a provider-specific option value.
func (c Config) Option(key string) string {
	return c.Options[key]
}

// Address returns "server:port".
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server, c.Port)
}

// Receipt is returned by a transport after a successful send.
type Receipt struct {
	// ID is the provider message id, when the provider returns one.
	ID      string
	Message string
}

// Transport performs one synchronous delivery attempt through a specific provider.
// Retries are the caller's concern.
type Transport interface {
	// Name returns the provider identifier.
	Name() string

	// Configure validates and applies cfg.
	Configure(cfg Config) error

	// TestConnection connects and authenticates without sending.
	TestConnection(ctx context.Context) error

	// Send delivers msg once. A nil error means the provider accepted it.
	Send(ctx context.Context, msg *email.Message) (*Receipt, error)

	// ValidateConfig returns human-readable problems with cfg; empty means valid.
	ValidateConfig(cfg Config) []string
}

// RemoteError is returned by API-backed transports when the remote service
// rejects a request.
type RemoteError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error (HTTP %d, %s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
}

// ValidationError carries every problem found with a Config.
type ValidationError struct {
	Provider Kind
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s for %s: %s", ErrInvalidConfig, e.Provider, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}
