package main

import (
	"context"
	"log/slog"

	"github.com/shineum/alertmail-lite/internal/alert"
	"github.com/shineum/alertmail-lite/internal/capability"
	"github.com/shineum/alertmail-lite/internal/config"
	"github.com/shineum/alertmail-lite/internal/credentials"
	"github.com/shineum/alertmail-lite/internal/delivery"
	"github.com/shineum/alertmail-lite/internal/events"
	"github.com/shineum/alertmail-lite/internal/provider"
	"github.com/shineum/alertmail-lite/internal/templates"
)

// devSender is used by the stdout provider when no sender is configured.
const devSender = "noreply@example.com"

// app holds the wired components shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	hub     *events.Hub
	engine  *delivery.Engine
	checker *capability.Checker
	svc     *alert.Service
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	hub := events.NewHub()

	engine := delivery.New(nil,
		delivery.WithMaxRetries(cfg.Delivery.MaxRetries),
		delivery.WithPublisher(hub),
		delivery.WithLogger(logger),
	)

	checker := capability.NewChecker()
	checker.Register(capability.Keyring, "OS secret store for sender credentials", capability.KeyringCheck(credentials.DefaultService))
	checker.Register(capability.Templates, "template override directory", capability.DirCheck(cfg.Templates.Dir))

	opts := []alert.Option{
		alert.WithEngine(engine),
		alert.WithChecker(checker),
		alert.WithResolver(credentials.NewResolver()),
		alert.WithLogger(logger),
		alert.WithSelfTestSend(cfg.Delivery.SelfTestSend),
	}
	if renderer := loadTemplates(cfg.Templates.Dir, logger); renderer != nil {
		opts = append(opts, alert.WithRenderer(renderer))
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		hub:     hub,
		engine:  engine,
		checker: checker,
		svc:     alert.NewService(opts...),
	}
}

// loadTemplates loads the override directory, falling back to the built-in
// set when the directory cannot be parsed.
func loadTemplates(dir string, logger *slog.Logger) *templates.Engine {
	engine, err := templates.New(templates.WithDir(dir))
	if err == nil {
		return engine
	}
	if dir != "" {
		logger.Warn("template overrides unavailable, using built-in templates", "dir", dir, "error", err)
		if engine, err = templates.New(); err == nil {
			return engine
		}
	}
	logger.Warn("templates unavailable, default content will be used", "error", err)
	return nil
}

// primaryConfig returns the configured primary provider. With allowDev set,
// an unconfigured provider falls back to stdout.
func (a *app) primaryConfig(allowDev bool) (provider.Config, bool) {
	if a.cfg.ProviderConfigured() {
		return a.cfg.PrimaryProvider(), true
	}
	if !allowDev {
		return provider.Config{}, false
	}
	a.logger.Info("no provider configured, using stdout provider")
	sender := a.cfg.Provider.SenderEmail
	if sender == "" {
		sender = devSender
	}
	return provider.Config{
		Provider:    provider.Stdout,
		SenderEmail: sender,
		MaxRetries:  a.cfg.Delivery.MaxRetries,
	}, true
}

// configureFallbacks binds the configured fallbacks. Failures are logged.
func (a *app) configureFallbacks(ctx context.Context) {
	cfgs := a.cfg.FallbackProviders()
	if len(cfgs) == 0 {
		return
	}
	if _, err := a.svc.ConfigureFallbackProviders(ctx, cfgs); err != nil {
		a.logger.Warn("continuing without fallback providers", "error", err)
	}
}
