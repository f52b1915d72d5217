// Package smtp implements a Transport that delivers through an SMTP relay
// such as Gmail, Outlook, Yahoo or a self-hosted server.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	netsmtp "net/smtp"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/shineum/alertmail-lite/internal/email"
	"github.com/shineum/alertmail-lite/internal/provider"
)

// Dialer opens an authenticated SMTP session bound to ctx.
type Dialer interface {
	Dial(ctx context.Context) (gomail.SendCloser, error)
}

// DialerFunc builds a Dialer for a validated configuration.
type DialerFunc func(cfg provider.Config) (Dialer, error)

// Transport sends email over SMTP.
type Transport struct {
	rule      provider.Rule
	newDialer DialerFunc

	mu     sync.RWMutex
	cfg    provider.Config
	dialer Dialer
}

// New creates an unconfigured SMTP transport for the provider described by rule.
func New(rule provider.Rule) *Transport {
	return &Transport{rule: rule, newDialer: defaultDialer}
}

// NewWithDialer creates a transport with a custom dialer factory, used for testing.
func NewWithDialer(rule provider.Rule, fn DialerFunc) *Transport {
	return &Transport{rule: rule, newDialer: fn}
}

// Name returns the provider name.
func (t *Transport) Name() string {
	return string(t.rule.Kind)
}

// ValidateConfig returns the problems with cfg for this provider.
func (t *Transport) ValidateConfig(cfg provider.Config) []string {
	return t.rule.Validate(t.rule.Normalize(cfg))
}

// Configure validates cfg and prepares a dialer for it.
func (t *Transport) Configure(cfg provider.Config) error {
	cfg = t.rule.Normalize(cfg)
	if problems := t.rule.Validate(cfg); len(problems) > 0 {
		return &provider.ValidationError{Provider: t.rule.Kind, Problems: problems}
	}

	d, err := t.newDialer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create SMTP dialer: %w", err)
	}

	t.mu.Lock()
	t.cfg = cfg
	t.dialer = d
	t.mu.Unlock()

	slog.Debug("smtp transport configured",
		"provider", t.rule.Kind,
		"tls_mode", modeFor(cfg),
		"server", cfg.Server,
		"port", cfg.Port,
		"auth_method", cfg.AuthMethod,
	)
	return nil
}

// TestConnection connects and authenticates without sending.
func (t *Transport) TestConnection(ctx context.Context) error {
	cfg, d, err := t.current()
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, cfg.Timeout)
	defer cancel()

	sc, err := d.Dial(ctx)
	if err != nil {
		return timeoutError(ctx, cfg.Timeout, err)
	}
	return sc.Close()
}

// Send delivers msg once.
func (t *Transport) Send(ctx context.Context, msg *email.Message) (*provider.Receipt, error) {
	cfg, d, err := t.current()
	if err != nil {
		return nil, err
	}

	for _, path := range msg.Attachments {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("attachment not found: %w", err)
		}
	}

	m, id := buildMessage(cfg.SenderEmail, msg)

	ctx, cancel := withTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	sc, err := d.Dial(ctx)
	if err != nil {
		return nil, timeoutError(ctx, cfg.Timeout, err)
	}
	err = gomail.Send(sc, m)
	_ = sc.Close()
	if err != nil {
		return nil, timeoutError(ctx, cfg.Timeout, err)
	}

	slog.Debug("smtp message accepted",
		"provider", t.rule.Kind,
		"recipient", msg.Recipient,
		"duration", time.Since(start),
	)
	return &provider.Receipt{ID: id, Message: "accepted by " + cfg.Server}, nil
}

func (t *Transport) current() (provider.Config, Dialer, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.dialer == nil {
		return provider.Config{}, nil, fmt.Errorf("%s: %w", t.rule.Kind, provider.ErrNotConfigured)
	}
	return t.cfg, t.dialer, nil
}

// buildMessage converts msg to a MIME message and returns it with its Message-ID.
func buildMessage(sender string, msg *email.Message) (*gomail.Message, string) {
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(sender))

	m := gomail.NewMessage()
	m.SetHeader("From", sender)
	m.SetHeader("To", msg.Recipient)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", id)
	m.SetHeader("X-Priority", xPriority(msg.Priority))
	m.SetHeader("Importance", importance(msg.Priority))

	m.SetBody("text/plain", msg.TextBody)
	if msg.HTMLBody != "" {
		m.AddAlternative("text/html", msg.HTMLBody)
	}
	for _, path := range msg.Attachments {
		m.Attach(path)
	}
	return m, id
}

func xPriority(p email.Priority) string {
	switch p {
	case email.PriorityHigh:
		return "1"
	case email.PriorityLow:
		return "5"
	default:
		return "3"
	}
}

func importance(p email.Priority) string {
	switch p {
	case email.PriorityHigh:
		return "High"
	case email.PriorityLow:
		return "Low"
	default:
		return "Normal"
	}
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = provider.DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// timeoutError reports err as a timeout when ctx expired. The session's
// connection is already closed at that point, so nothing is sent later.
func timeoutError(ctx context.Context, timeout time.Duration, err error) error {
	if ctx.Err() == nil {
		return err
	}
	if timeout <= 0 {
		timeout = provider.DefaultTimeout
	}
	return fmt.Errorf("SMTP operation timed out after %s: %w", timeout, ctx.Err())
}

func defaultDialer(cfg provider.Config) (Dialer, error) {
	return newSessionDialer(cfg)
}

// xoauth2 implements the SASL XOAUTH2 mechanism with a pre-issued access token.
type xoauth2 struct {
	username string
	token    string
}

func (a *xoauth2) Start(_ *netsmtp.ServerInfo) (string, []byte, error) {
	resp := "user=" + a.username + "\x01auth=Bearer " + a.token + "\x01\x01"
	return "XOAUTH2", []byte(resp), nil
}

func (a *xoauth2) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return nil, errors.New("XOAUTH2 authentication failed: " + string(fromServer))
	}
	return nil, nil
}
