package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/alertmail-lite/internal/email"
	"github.com/shineum/alertmail-lite/internal/provider"
)

const (
	defaultGraphBase = "https://graph.microsoft.com/v1.0"
	defaultLoginBase = "https://login.microsoftonline.com"
	graphScope       = "https://graph.microsoft.com/.default"
)

// Transport sends email via the Graph sendMail endpoint using OAuth2 client
// credentials.
type Transport struct {
	graphBase  string
	loginBase  string
	httpClient *http.Client

	mu     sync.RWMutex
	cfg    provider.Config
	tokens oauth2.TokenSource
}

// New creates an unconfigured Graph transport.
func New() *Transport {
	return &Transport{
		graphBase:  defaultGraphBase,
		loginBase:  defaultLoginBase,
		httpClient: &http.Client{},
	}
}

// newWithOverrides points the transport at test servers.
func newWithOverrides(graphBase, loginBase string, client *http.Client) *Transport {
	return &Transport{graphBase: graphBase, loginBase: loginBase, httpClient: client}
}

// Name returns the provider name.
func (t *Transport) Name() string {
	return string(provider.Graph)
}

// ValidateConfig returns the problems with cfg.
func (t *Transport) ValidateConfig(cfg provider.Config) []string {
	return provider.GraphRule.Validate(provider.GraphRule.Normalize(cfg))
}

// Configure validates cfg and prepares the token source.
func (t *Transport) Configure(cfg provider.Config) error {
	cfg = provider.GraphRule.Normalize(cfg)
	if problems := provider.GraphRule.Validate(cfg); len(problems) > 0 {
		return &provider.ValidationError{Provider: provider.Graph, Problems: problems}
	}

	t.mu.Lock()
	t.cfg = cfg
	t.tokens = t.newTokenSource(cfg)
	t.mu.Unlock()
	return nil
}

func (t *Transport) newTokenSource(cfg provider.Config) oauth2.TokenSource {
	cc := &clientcredentials.Config{
		ClientID:     cfg.Option("client_id"),
		ClientSecret: cfg.SenderSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", t.loginBase, url.PathEscape(cfg.Option("tenant_id"))),
		Scopes:       []string{graphScope},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, t.httpClient)
	return cc.TokenSource(ctx)
}

// TestConnection acquires an access token without sending.
func (t *Transport) TestConnection(ctx context.Context) error {
	_, tokens, err := t.current()
	if err != nil {
		return err
	}
	_, err = t.token(ctx, tokens)
	return err
}

// Send delivers msg once.
func (t *Transport) Send(ctx context.Context, msg *email.Message) (*provider.Receipt, error) {
	cfg, tokens, err := t.current()
	if err != nil {
		return nil, err
	}

	atts, err := msg.LoadAttachments()
	if err != nil {
		return nil, err
	}
	bodyJSON, err := json.Marshal(buildSendMailRequest(msg, atts))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	tok, err := t.token(ctx, tokens)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", t.graphBase, url.PathEscape(cfg.SenderEmail))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tok.SetAuthHeader(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return &provider.Receipt{
			ID:      resp.Header.Get("request-id"),
			Message: "accepted by Microsoft Graph",
		}, nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// Drop the cached token so the next attempt fetches a fresh one.
		slog.Info("graph rejected access token, resetting token source")
		t.mu.Lock()
		t.tokens = t.newTokenSource(cfg)
		t.mu.Unlock()
	}

	return nil, decodeError(resp)
}

func (t *Transport) current() (provider.Config, oauth2.TokenSource, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.tokens == nil {
		return provider.Config{}, nil, fmt.Errorf("msgraph: %w", provider.ErrNotConfigured)
	}
	return t.cfg, t.tokens, nil
}

// token fetches an access token, translating OAuth2 endpoint rejections into
// RemoteErrors so they classify like any other provider response.
func (t *Transport) token(ctx context.Context, tokens oauth2.TokenSource) (*oauth2.Token, error) {
	type result struct {
		tok *oauth2.Token
		err error
	}
	done := make(chan result, 1)
	go func() {
		tok, err := tokens.Token()
		done <- result{tok, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if r.err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(r.err, &rerr) && rerr.Response != nil {
			return nil, &provider.RemoteError{
				Provider:   t.Name(),
				StatusCode: rerr.Response.StatusCode,
				Code:       rerr.ErrorCode,
				Message:    "token request rejected: " + rerr.ErrorDescription,
			}
		}
		return nil, fmt.Errorf("failed to get access token: %w", r.err)
	}
	return r.tok, nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	remote := &provider.RemoteError{
		Provider:   string(provider.Graph),
		StatusCode: resp.StatusCode,
		Message:    string(body),
	}
	var envelope graphErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		remote.Code = envelope.Error.Code
		remote.Message = envelope.Error.Message
	}
	return remote
}
