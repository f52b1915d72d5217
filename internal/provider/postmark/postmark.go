// Package postmark implements a Transport backed by the Postmark HTTP API.
package postmark

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"

	"github.com/mrz1836/postmark"

	"github.com/shineum/alertmail-lite/internal/email"
	"github.com/shineum/alertmail-lite/internal/provider"
)

// API is the subset of *postmark.Client used by the transport.
type API interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
	GetCurrentServer(ctx context.Context) (postmark.Server, error)
}

// ClientFunc builds an API client for a validated configuration.
type ClientFunc func(cfg provider.Config) API

// Transport sends email through Postmark.
type Transport struct {
	newClient ClientFunc

	mu     sync.RWMutex
	cfg    provider.Config
	client API
}

// New creates an unconfigured Postmark transport.
func New() *Transport {
	return &Transport{newClient: func(cfg provider.Config) API {
		return postmark.NewClient(cfg.SenderSecret, cfg.Option("account_token"))
	}}
}

// NewWithClient creates a transport that always uses client, used for testing.
func NewWithClient(client API) *Transport {
	return &Transport{newClient: func(provider.Config) API { return client }}
}

// Name returns the provider name.
func (t *Transport) Name() string {
	return string(provider.Postmark)
}

// ValidateConfig returns the problems with cfg.
func (t *Transport) ValidateConfig(cfg provider.Config) []string {
	return provider.PostmarkRule.Validate(provider.PostmarkRule.Normalize(cfg))
}

// Configure validates cfg and creates the API client.
func (t *Transport) Configure(cfg provider.Config) error {
	cfg = provider.PostmarkRule.Normalize(cfg)
	if problems := provider.PostmarkRule.Validate(cfg); len(problems) > 0 {
		return &provider.ValidationError{Provider: provider.Postmark, Problems: problems}
	}

	t.mu.Lock()
	t.cfg = cfg
	t.client = t.newClient(cfg)
	t.mu.Unlock()
	return nil
}

// TestConnection verifies the server token by reading the server record.
func (t *Transport) TestConnection(ctx context.Context) error {
	cfg, client, err := t.current()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	_, err = client.GetCurrentServer(ctx)
	return err
}

// Send delivers msg once.
func (t *Transport) Send(ctx context.Context, msg *email.Message) (*provider.Receipt, error) {
	cfg, client, err := t.current()
	if err != nil {
		return nil, err
	}

	atts, err := msg.LoadAttachments()
	if err != nil {
		return nil, err
	}

	pm := postmark.Email{
		From:     cfg.SenderEmail,
		To:       msg.Recipient,
		Subject:  msg.Subject,
		TextBody: msg.TextBody,
		HTMLBody: msg.HTMLBody,
		Tag:      msg.TemplateName,
	}
	if msg.Priority == email.PriorityHigh {
		pm.Headers = []postmark.Header{
			{Name: "X-Priority", Value: "1"},
			{Name: "Importance", Value: "High"},
		}
	}
	for _, att := range atts {
		pm.Attachments = append(pm.Attachments, postmark.Attachment{
			Name:        att.Filename,
			Content:     base64.StdEncoding.EncodeToString(att.Content),
			ContentType: att.ContentType,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	resp, err := client.SendEmail(ctx, pm)
	if err != nil {
		return nil, err
	}
	if resp.ErrorCode != 0 {
		return nil, &provider.RemoteError{
			Provider:   t.Name(),
			StatusCode: http.StatusUnprocessableEntity,
			Code:       fmt.Sprintf("%d", resp.ErrorCode),
			Message:    resp.Message,
		}
	}
	return &provider.Receipt{ID: resp.MessageID, Message: resp.Message}, nil
}

func (t *Transport) current() (provider.Config, API, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.client == nil {
		return provider.Config{}, nil, fmt.Errorf("postmark: %w", provider.ErrNotConfigured)
	}
	return t.cfg, t.client, nil
}
