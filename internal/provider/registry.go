package provider

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Factory constructs an unconfigured transport for a provider.
type Factory func(ctx context.Context, cfg Config) (Transport, error)

// Registry maps provider kinds to their rules and transport factories.
type Registry struct {
	mu        sync.RWMutex
	rules     map[Kind]Rule
	factories map[Kind]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rules:     make(map[Kind]Rule),
		factories: make(map[Kind]Factory),
	}
}

// Register adds or replaces a provider.
func (r *Registry) Register(rule Rule, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.Kind] = rule
	r.factories[rule.Kind] = factory
}

// Rule returns the rule registered for kind.
func (r *Registry) Rule(kind Kind) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[kind]
	return rule, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.rules))
	for k := range r.rules {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Normalize applies the provider's defaults to cfg.
func (r *Registry) Normalize(cfg Config) (Config, error) {
	rule, ok := r.Rule(cfg.Provider)
	if !ok {
		return cfg, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	return rule.Normalize(cfg), nil
}

// Validate normalizes cfg and returns every problem with it.
func (r *Registry) Validate(cfg Config) []string {
	rule, ok := r.Rule(cfg.Provider)
	if !ok {
		return []string{fmt.Sprintf("unsupported provider type %q", cfg.Provider)}
	}
	return rule.Validate(rule.Normalize(cfg))
}

// Build validates cfg, constructs a transport for it and configures it.
func (r *Registry) Build(ctx context.Context, cfg Config) (Transport, error) {
	r.mu.RLock()
	rule, ok := r.rules[cfg.Provider]
	factory := r.factories[cfg.Provider]
	r.mu.RUnlock()
	if !ok || factory == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}

	cfg = rule.Normalize(cfg)
	if problems := rule.Validate(cfg); len(problems) > 0 {
		return nil, &ValidationError{Provider: cfg.Provider, Problems: problems}
	}

	t, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s transport: %w", cfg.Provider, err)
	}
	if err := t.Configure(cfg); err != nil {
		return nil, fmt.Errorf("failed to configure %s transport: %w", cfg.Provider, err)
	}
	return t, nil
}

// BuildAll builds a transport for each config, preserving order. When
// prepare is non-nil it is applied to each config first. Configs that fail
// either step are skipped and their errors returned alongside the built
// transports.
func (r *Registry) BuildAll(ctx context.Context, cfgs []Config, prepare func(Config) (Config, error)) ([]Transport, []error) {
	var (
		transports []Transport
		errs       []error
	)
	for i, cfg := range cfgs {
		t, err := r.buildPrepared(ctx, cfg, prepare)
		if err != nil {
			slog.Debug("skipping provider", "index", i+1, "provider", cfg.Provider, "error", err)
			errs = append(errs, fmt.Errorf("provider %d (%s): %w", i+1, cfg.Provider, err))
			continue
		}
		transports = append(transports, t)
	}
	return transports, errs
}

func (r *Registry) buildPrepared(ctx context.Context, cfg Config, prepare func(Config) (Config, error)) (Transport, error) {
	if prepare != nil {
		prepared, err := prepare(cfg)
		if err != nil {
			return nil, err
		}
		cfg = prepared
	}
	return r.Build(ctx, cfg)
}
