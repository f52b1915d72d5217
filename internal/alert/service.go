// Package alert composes driver alerts into emails and sends them through
// the configured primary transport, its fallbacks and the delivery engine.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/alertmail-lite/internal/capability"
	"github.com/shineum/alertmail-lite/internal/classify"
	"github.com/shineum/alertmail-lite/internal/delivery"
	"github.com/shineum/alertmail-lite/internal/email"
	"github.com/shineum/alertmail-lite/internal/metrics"
	"github.com/shineum/alertmail-lite/internal/provider"
	"github.com/shineum/alertmail-lite/internal/provider/builtin"
	"github.com/shineum/alertmail-lite/internal/templates"
)

// ErrNotInitialized is reported when the service has no primary transport.
var ErrNotInitialized = fmt.Errorf("email service not initialized: %w", provider.ErrNotConfigured)

// Renderer renders named templates.
type Renderer interface {
	Render(name string, data map[string]any) (templates.Content, error)
}

// SecretResolver expands secret references in a provider config.
type SecretResolver interface {
	Resolve(cfg provider.Config) (provider.Config, error)
}

// TestResult reports a configuration self-test.
type TestResult struct {
	Success        bool          `json:"success"`
	Provider       string        `json:"provider"`
	ConnectionTest bool          `json:"connection_test"`
	AuthTest       bool          `json:"auth_test"`
	SendTest       bool          `json:"send_test"`
	Errors         []string      `json:"errors,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// ServiceStatus summarises the service state.
type ServiceStatus struct {
	Initialized        bool                `json:"initialized"`
	Provider           string              `json:"provider,omitempty"`
	FallbackCount      int                 `json:"fallback_providers_count"`
	QueueSize          int                 `json:"queue_size"`
	TemplatesLoaded    bool                `json:"templates_loaded"`
	Capabilities       []capability.Status `json:"capabilities,omitempty"`
	SupportedProviders []string            `json:"supported_providers"`
}

// Service is the alert orchestrator. It is safe for concurrent use.
type Service struct {
	mu        sync.RWMutex
	cfg       *provider.Config
	primary   provider.Transport
	fallbacks []provider.Transport

	registry     *provider.Registry
	renderer     Renderer
	resolver     SecretResolver
	engine       *delivery.Engine
	checker      *capability.Checker
	classifier   delivery.Classifier
	logger       *slog.Logger
	now          func() time.Time
	selfTestSend bool
}

// Option configures a Service.
type Option func(*Service)

// WithRegistry replaces the built-in provider registry.
func WithRegistry(r *provider.Registry) Option {
	return func(s *Service) { s.registry = r }
}

// WithRenderer sets the template renderer.
func WithRenderer(r Renderer) Option {
	return func(s *Service) { s.renderer = r }
}

// WithResolver sets the secret resolver applied before building transports.
func WithResolver(r SecretResolver) Option {
	return func(s *Service) { s.resolver = r }
}

// WithEngine sets the delivery engine.
func WithEngine(e *delivery.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithChecker sets the capability checker reported by Status.
func WithChecker(c *capability.Checker) Option {
	return func(s *Service) { s.checker = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSelfTestSend controls whether TestConfiguration sends a test email.
func WithSelfTestSend(send bool) Option {
	return func(s *Service) { s.selfTestSend = send }
}

// NewService creates an uninitialized Service.
func NewService(opts ...Option) *Service {
	s := &Service{
		logger:       slog.Default(),
		now:          time.Now,
		classifier:   classify.Default,
		selfTestSend: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "alert")

	if s.registry == nil {
		s.registry = builtin.Registry()
	}
	if s.engine == nil {
		s.engine = delivery.New(nil, delivery.WithLogger(s.logger))
	}
	if s.renderer == nil {
		r, err := templates.New(templates.WithClock(s.now))
		if err != nil {
			s.logger.Warn("built-in templates unavailable, default content will be used", "error", err)
		} else {
			s.renderer = r
		}
	}
	return s
}

// Engine returns the delivery engine.
func (s *Service) Engine() *delivery.Engine {
	return s.engine
}

// Initialize validates cfg, builds the primary transport and binds it to the
// engine. A failing self-test is logged but does not fail initialization.
func (s *Service) Initialize(ctx context.Context, cfg provider.Config) error {
	s.logger.Info("initializing email service", "provider", cfg.Provider)

	t, resolved, err := s.build(ctx, cfg)
	if err != nil {
		s.logger.Error("email service initialization failed", "provider", cfg.Provider, "error", err)
		return err
	}
	s.swap(t, resolved)

	res := s.TestConfiguration(ctx)
	if !res.Success {
		s.logger.Warn("email configuration test failed, service is initialized anyway",
			"provider", res.Provider, "errors", res.Errors)
	} else {
		s.logger.Info("email service initialized and tested", "provider", res.Provider, "duration", res.Duration)
	}
	return nil
}

// UpdateConfiguration replaces the primary transport. On error the previous
// configuration stays in effect.
func (s *Service) UpdateConfiguration(ctx context.Context, cfg provider.Config) error {
	t, resolved, err := s.build(ctx, cfg)
	if err != nil {
		s.logger.Error("configuration update rejected", "provider", cfg.Provider, "error", err)
		return err
	}
	s.swap(t, resolved)
	s.logger.Info("email configuration updated", "provider", t.Name())
	return nil
}

func (s *Service) build(ctx context.Context, cfg provider.Config) (provider.Transport, provider.Config, error) {
	cfg, err := s.resolve(cfg)
	if err != nil {
		return nil, cfg, err
	}
	t, err := s.registry.Build(ctx, cfg)
	if err != nil {
		return nil, cfg, err
	}
	normalized, _ := s.registry.Normalize(cfg)
	return t, normalized, nil
}

func (s *Service) resolve(cfg provider.Config) (provider.Config, error) {
	if s.resolver == nil {
		return cfg, nil
	}
	resolved, err := s.resolver.Resolve(cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to resolve credentials: %w", err)
	}
	return resolved, nil
}

// swap installs t as both the primary and the engine transport under one
// lock, so concurrent updates cannot leave them pointing at different configs.
func (s *Service) swap(t provider.Transport, cfg provider.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary = t
	s.cfg = &cfg
	s.engine.SetTransport(t)
}

// ConfigureFallbackProviders replaces the fallback transports. Configs that
// fail are skipped; an error is returned only when none could be configured.
func (s *Service) ConfigureFallbackProviders(ctx context.Context, cfgs []provider.Config) (int, error) {
	built, errs := s.registry.BuildAll(ctx, cfgs, s.resolve)
	for _, err := range errs {
		s.logger.Warn("failed to configure fallback provider", "error", err)
	}

	s.mu.Lock()
	s.fallbacks = built
	s.mu.Unlock()

	s.logger.Info("fallback providers configured", "configured", len(built), "requested", len(cfgs))
	if len(built) == 0 {
		return 0, fmt.Errorf("no fallback providers configured: %w", errors.Join(append(errs, provider.ErrNotConfigured)...))
	}
	return len(built), nil
}

// SendAlert composes the alert and delivers it. It tries the primary
// transport once, then each fallback once, then the engine's retry loop.
func (s *Service) SendAlert(ctx context.Context, user User, a Alert) Result {
	primary, fallbacks := s.transports()
	if primary == nil {
		return s.failure(a, ErrNotInitialized, "Email service not initialized")
	}

	msg, err := s.compose(user, a)
	if err != nil {
		return s.failure(a, err, "Failed to compose alert email")
	}
	s.logger.Info("sending alert email", "alert_type", a.Type, "recipient", user.Email, "template", msg.TemplateName)

	start := s.now()
	candidates := append([]provider.Transport{primary}, fallbacks...)
	for i, t := range candidates {
		receipt, err := trySend(ctx, t, msg)
		if err != nil {
			s.logger.Warn("provider failed", "provider", t.Name(), "fallback_index", i, "error", err)
			continue
		}
		if i > 0 {
			metrics.FallbackUsed.WithLabelValues(t.Name()).Inc()
			s.logger.Info("alert sent with fallback provider", "provider", t.Name(), "fallback_index", i)
		}

		id := uuid.NewString()
		if receipt != nil && receipt.ID != "" {
			id = receipt.ID
		}
		return Result{
			Success:       true,
			Message:       "Alert email sent successfully",
			ID:            id,
			AlertType:     a.Type,
			Template:      msg.TemplateName,
			Provider:      t.Name(),
			FallbackIndex: i,
			Attempts:      1,
			DeliveryTime:  s.now().Sub(start),
		}
	}

	s.logger.Info("all providers failed, delivering through retry engine", "providers", len(candidates))
	res := s.engine.SendWithRetry(ctx, msg)
	out := Result{
		Success:      res.Success,
		ID:           res.ID,
		AlertType:    a.Type,
		Template:     msg.TemplateName,
		Provider:     res.Provider,
		Attempts:     res.Attempts,
		DeliveryTime: res.DeliveryTime,
		Error:        res.Error,
		ErrorKind:    res.ErrorKind,
		Steps:        res.Steps,
	}
	if res.Success {
		out.Message = "Alert email sent successfully"
	} else {
		out.Message = "Failed to send alert email"
		s.logger.Error("failed to send alert email", "recipient", user.Email, "attempts", res.Attempts, "error", res.Error)
	}
	return out
}

// QueueAlert composes the alert and queues it for later delivery.
func (s *Service) QueueAlert(user User, a Alert) (string, error) {
	msg, err := s.compose(user, a)
	if err != nil {
		return "", err
	}
	return s.engine.QueueEmail(msg), nil
}

// TestConfiguration checks the primary transport and, when enabled, sends a
// test email to the sender address.
func (s *Service) TestConfiguration(ctx context.Context) TestResult {
	s.mu.RLock()
	primary, cfg := s.primary, s.cfg
	s.mu.RUnlock()

	if primary == nil || cfg == nil {
		return TestResult{Provider: "none", Errors: []string{"Email service not initialized"}}
	}

	start := s.now()
	res := TestResult{Provider: string(cfg.Provider)}

	if err := primary.TestConnection(ctx); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("Connection test error: %v", err))
	} else {
		res.ConnectionTest = true
	}
	res.AuthTest = res.ConnectionTest

	sendTried := false
	if res.ConnectionTest && s.selfTestSend {
		sendTried = true
		msg, err := s.compose(User{Name: cfg.SenderEmail, Email: cfg.SenderEmail}, Alert{Type: TestEmail})
		if err == nil {
			_, err = trySend(ctx, primary, msg)
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("Test email error: %v", err))
		} else {
			res.SendTest = true
		}
	}

	res.Success = res.ConnectionTest && res.AuthTest && (res.SendTest || !sendTried)
	res.Duration = s.now().Sub(start)
	return res
}

// Status reports the service state.
func (s *Service) Status(ctx context.Context) ServiceStatus {
	s.mu.RLock()
	st := ServiceStatus{
		Initialized:   s.primary != nil,
		FallbackCount: len(s.fallbacks),
	}
	if s.cfg != nil {
		st.Provider = string(s.cfg.Provider)
	}
	s.mu.RUnlock()

	st.QueueSize = s.engine.QueueSize()
	st.TemplatesLoaded = s.renderer != nil
	st.SupportedProviders = s.SupportedProviders()
	if s.checker != nil {
		st.Capabilities = s.checker.Report(ctx)
	}
	return st
}

// SupportedProviders returns the registered provider identifiers.
func (s *Service) SupportedProviders() []string {
	kinds := s.registry.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// Registry returns the provider registry.
func (s *Service) Registry() *provider.Registry {
	return s.registry
}

func (s *Service) transports() (provider.Transport, []provider.Transport) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary, append([]provider.Transport(nil), s.fallbacks...)
}

// compose renders the alert into a message, falling back to built-in
// content when the template cannot be rendered.
func (s *Service) compose(user User, a Alert) (*email.Message, error) {
	ts := a.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	name := a.Type.Template()
	data := templateData(user, a, ts)

	content, err := s.render(name, data)
	if err != nil {
		s.logger.Warn("failed to render template, using default content", "template", name, "error", err)
		metrics.TemplateFallbacks.Inc()
		content = defaultContent(user, a, ts)
	}

	opts := []email.Option{
		email.WithPriority(a.Type.Priority()),
		email.WithTemplate(name, data),
	}
	if content.HTMLBody != "" {
		opts = append(opts, email.WithHTML(content.HTMLBody))
	}
	return email.New(user.Email, content.Subject, content.Body, opts...)
}

func (s *Service) render(name string, data map[string]any) (templates.Content, error) {
	if s.renderer == nil {
		return templates.Content{}, errors.New("no template renderer configured")
	}
	return s.renderer.Render(name, data)
}

func (s *Service) failure(a Alert, err error, message string) Result {
	resp := s.classifier.Classify(err, "")
	return Result{
		Message:   message,
		AlertType: a.Type,
		Error:     err.Error(),
		ErrorKind: resp.Kind,
		Steps:     resp.Steps,
	}
}

// trySend makes a single attempt. A panicking transport is reported as an error.
func trySend(ctx context.Context, t provider.Transport, msg *email.Message) (receipt *provider.Receipt, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("transport panic: %v", p)
		}
	}()
	return t.Send(ctx, msg)
}
