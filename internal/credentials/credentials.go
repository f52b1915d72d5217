// Package credentials expands secret references in provider configuration.
//
// A secret value may be given literally or as a reference:
//
//	keyring:user            user in the default keyring service
//	keyring:service/user    user in the named keyring service
//	env:NAME                environment variable NAME
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/shineum/alertmail-lite/internal/capability"
	"github.com/shineum/alertmail-lite/internal/provider"
)

// DefaultService is the keyring service used when a reference names none.
const DefaultService = "alertmail"

const (
	keyringPrefix = "keyring:"
	envPrefix     = "env:"
)

// ErrSecretNotFound is returned when a reference points at nothing.
var ErrSecretNotFound = errors.New("secret not found")

// Resolver expands secret references.
type Resolver struct {
	service   string
	lookupEnv func(string) (string, bool)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithService sets the default keyring service.
func WithService(service string) Option {
	return func(r *Resolver) { r.service = service }
}

// WithLookupEnv replaces the environment lookup.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Resolver) { r.lookupEnv = fn }
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{service: DefaultService, lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns cfg with SenderSecret and every Options value expanded.
// cfg itself is not modified.
func (r *Resolver) Resolve(cfg provider.Config) (provider.Config, error) {
	secret, err := r.Expand(cfg.SenderSecret)
	if err != nil {
		return cfg, fmt.Errorf("sender secret: %w", err)
	}
	cfg.SenderSecret = secret

	if len(cfg.Options) > 0 {
		opts := make(map[string]string, len(cfg.Options))
		for k, v := range cfg.Options {
			expanded, err := r.Expand(v)
			if err != nil {
				return cfg, fmt.Errorf("option %s: %w", k, err)
			}
			opts[k] = expanded
		}
		cfg.Options = opts
	}
	return cfg, nil
}

// Expand resolves a single value. Values without a known prefix are returned
// unchanged.
func (r *Resolver) Expand(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, keyringPrefix):
		service, user := r.splitKeyringRef(strings.TrimPrefix(value, keyringPrefix))
		if user == "" {
			return "", fmt.Errorf("invalid keyring reference %q", value)
		}
		secret, err := keyring.Get(service, user)
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: keyring %s/%s", ErrSecretNotFound, service, user)
		}
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", capability.ErrMissing, capability.Keyring, err)
		}
		return secret, nil

	case strings.HasPrefix(value, envPrefix):
		name := strings.TrimPrefix(value, envPrefix)
		secret, ok := r.lookupEnv(name)
		if !ok || secret == "" {
			return "", fmt.Errorf("%w: environment variable %s", ErrSecretNotFound, name)
		}
		return secret, nil
	}
	return value, nil
}

// Store saves secret in the keyring and returns the reference to put in
// configuration.
func (r *Resolver) Store(service, user, secret string) (string, error) {
	if service == "" {
		service = r.service
	}
	if user == "" {
		return "", errors.New("keyring user cannot be empty")
	}
	if err := keyring.Set(service, user, secret); err != nil {
		return "", fmt.Errorf("%w: %s: %v", capability.ErrMissing, capability.Keyring, err)
	}
	if service == r.service {
		return keyringPrefix + user, nil
	}
	return keyringPrefix + service + "/" + user, nil
}

func (r *Resolver) splitKeyringRef(ref string) (string, string) {
	if service, user, ok := strings.Cut(ref, "/"); ok {
		return service, user
	}
	return r.service, ref
}
