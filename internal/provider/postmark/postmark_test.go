package postmark

import (
	"context"
	"errors"
	"testing"

	"github.com/mrz1836/postmark"

	"github.com/shineum/alertmail-lite/internal/email"
	"github.com/shineum/alertmail-lite/internal/provider"
)

type mockClient struct {
	resp      postmark.EmailResponse
	err       error
	serverErr error
	last      postmark.Email
	calls     int
}

func (m *mockClient) SendEmail(_ context.Context, e postmark.Email) (postmark.EmailResponse, error) {
	m.calls++
	m.last = e
	return m.resp, m.err
}

func (m *mockClient) GetCurrentServer(context.Context) (postmark.Server, error) {
	return postmark.Server{}, m.serverErr
}

func postmarkConfig() provider.Config {
	return provider.Config{
		Provider:     provider.Postmark,
		SenderEmail:  "alerts@example.com",
		SenderSecret: "server-token",
	}
}

func newConfigured(t *testing.T, m *mockClient) *Transport {
	t.Helper()
	tr := NewWithClient(m)
	if err := tr.Configure(postmarkConfig()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return tr
}

func TestSend_Success(t *testing.T) {
	t.Parallel()

	m := &mockClient{resp: postmark.EmailResponse{MessageID: "pm-1", Message: "OK"}}
	tr := newConfigured(t, m)

	msg, _ := email.New("driver@example.com", "Drowsiness Alert", "text",
		email.WithHTML("<p>html</p>"),
		email.WithPriority(email.PriorityHigh),
		email.WithTemplate("drowsiness_alert", nil),
	)
	receipt, err := tr.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.ID != "pm-1" {
		t.Errorf("receipt ID: got %q, want %q", receipt.ID, "pm-1")
	}
	if m.last.From != "alerts@example.com" || m.last.To != "driver@example.com" {
		t.Errorf("addresses: got from=%q to=%q", m.last.From, m.last.To)
	}
	if m.last.Tag != "drowsiness_alert" {
		t.Errorf("Tag: got %q, want %q", m.last.Tag, "drowsiness_alert")
	}
	if len(m.last.Headers) != 2 {
		t.Errorf("Headers: got %d, want 2", len(m.last.Headers))
	}
}

func TestSend_ErrorCode(t *testing.T) {
	t.Parallel()

	m := &mockClient{resp: postmark.EmailResponse{ErrorCode: 406, Message: "Inactive recipient"}}
	tr := newConfigured(t, m)

	msg, _ := email.New("driver@example.com", "Alert", "text")
	_, err := tr.Send(context.Background(), msg)

	var remote *provider.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Code != "406" {
		t.Errorf("Code: got %q, want %q", remote.Code, "406")
	}
}

func TestSend_TransportError(t *testing.T) {
	t.Parallel()

	m := &mockClient{err: errors.New("dial tcp: connection refused")}
	tr := newConfigured(t, m)

	msg, _ := email.New("driver@example.com", "Alert", "text")
	if _, err := tr.Send(context.Background(), msg); err == nil {
		t.Fatal("expected error")
	}
	if m.calls != 1 {
		t.Errorf("calls: got %d, want 1", m.calls)
	}
}

func TestConfigure_MissingToken(t *testing.T) {
	t.Parallel()

	cfg := postmarkConfig()
	cfg.SenderSecret = ""
	if err := New().Configure(cfg); !errors.Is(err, provider.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestTestConnection(t *testing.T) {
	t.Parallel()

	if err := newConfigured(t, &mockClient{}).TestConnection(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := newConfigured(t, &mockClient{serverErr: errors.New("401")}).TestConnection(context.Background()); err == nil {
		t.Error("expected error")
	}
}
