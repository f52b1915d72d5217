package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/shineum/alertmail-lite/internal/email"
	"github.com/shineum/alertmail-lite/internal/provider"
)

type fakeSendCloser struct {
	d      *fakeDialer
	closed bool
}

func (f *fakeSendCloser) Send(_ string, _ []string, msg io.WriterTo) error {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	if m, ok := msg.(*gomail.Message); ok {
		f.d.sent = append(f.d.sent, m)
	}
	return f.d.sendErr
}

func (f *fakeSendCloser) Close() error {
	f.closed = true
	return nil
}

type fakeDialer struct {
	mu      sync.Mutex
	sent    []*gomail.Message
	sendErr error
	dialErr error
	block   chan struct{}
	conn    *fakeSendCloser
}

func (f *fakeDialer) Dial(ctx context.Context) (gomail.SendCloser, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	f.conn = &fakeSendCloser{d: f}
	return f.conn, nil
}

func gmailConfig() provider.Config {
	return provider.Config{
		Provider:     provider.Gmail,
		SenderEmail:  "alerts@gmail.com",
		SenderSecret: "abcd efgh ijkl mnop",
	}
}

func newConfigured(t *testing.T, d *fakeDialer, cfg provider.Config) *Transport {
	t.Helper()
	tr := NewWithDialer(provider.GmailRule, func(provider.Config) (Dialer, error) { return d, nil })
	if err := tr.Configure(cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return tr
}

func render(t *testing.T, m *gomail.Message) string {
	t.Helper()
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return buf.String()
}

func TestName(t *testing.T) {
	t.Parallel()
	tr := New(provider.OutlookRule)
	if got := tr.Name(); got != "outlook" {
		t.Errorf("Name(): got %q, want %q", got, "outlook")
	}
}

func TestSend_NotConfigured(t *testing.T) {
	t.Parallel()

	tr := New(provider.GmailRule)
	msg, _ := email.New("driver@example.com", "Alert", "body")

	_, err := tr.Send(context.Background(), msg)
	if !errors.Is(err, provider.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestConfigure_Invalid(t *testing.T) {
	t.Parallel()

	tr := NewWithDialer(provider.GmailRule, func(provider.Config) (Dialer, error) { return &fakeDialer{}, nil })
	cfg := gmailConfig()
	cfg.SenderEmail = "alerts@example.com"

	err := tr.Configure(cfg)
	if !errors.Is(err, provider.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "@gmail.com") {
		t.Errorf("error %q should mention the required domain", err.Error())
	}
}

func TestSend_BuildsMessage(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	tr := newConfigured(t, d, gmailConfig())

	msg, err := email.New("driver@example.com", "Drowsiness Alert", "Please pull over.",
		email.WithHTML("<p>Please pull over.</p>"),
		email.WithPriority(email.PriorityHigh),
	)
	if err != nil {
		t.Fatalf("email.New: %v", err)
	}

	receipt, err := tr.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(receipt.ID, "@gmail.com>") {
		t.Errorf("receipt ID: got %q", receipt.ID)
	}
	if len(d.sent) != 1 {
		t.Fatalf("sent: got %d, want 1", len(d.sent))
	}

	out := render(t, d.sent[0])
	for _, want := range []string{
		"From: alerts@gmail.com",
		"To: driver@example.com",
		"Subject: Drowsiness Alert",
		"X-Priority: 1",
		"Importance: High",
		"multipart/alternative",
		"Please pull over.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSend_MissingAttachment(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	tr := newConfigured(t, d, gmailConfig())
	msg, _ := email.New("driver@example.com", "Alert", "body", email.WithAttachments("/nonexistent/frame.jpg"))

	if _, err := tr.Send(context.Background(), msg); err == nil {
		t.Fatal("expected error for missing attachment")
	}
	if len(d.sent) != 0 {
		t.Errorf("sent: got %d, want 0", len(d.sent))
	}
}

func TestSend_DialerError(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{sendErr: errors.New("535 5.7.8 Username and Password not accepted")}
	tr := newConfigured(t, d, gmailConfig())
	msg, _ := email.New("driver@example.com", "Alert", "body")

	_, err := tr.Send(context.Background(), msg)
	if err == nil || !strings.Contains(err.Error(), "535") {
		t.Errorf("expected dialer error, got %v", err)
	}
}

func TestSend_Timeout(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	d := &fakeDialer{block: block}
	cfg := gmailConfig()
	cfg.Timeout = 20 * time.Millisecond
	tr := newConfigured(t, d, cfg)
	msg, _ := email.New("driver@example.com", "Alert", "body")

	_, err := tr.Send(context.Background(), msg)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTestConnection(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	tr := newConfigured(t, d, gmailConfig())

	if err := tr.TestConnection(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.conn == nil || !d.conn.closed {
		t.Error("expected connection to be closed after test")
	}

	d.dialErr = errors.New("connection refused")
	if err := tr.TestConnection(context.Background()); err == nil {
		t.Error("expected dial error")
	}
}

func TestXPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		p    email.Priority
		want string
	}{
		{email.PriorityHigh, "1"},
		{email.PriorityNormal, "3"},
		{email.PriorityLow, "5"},
	}
	for _, tt := range tests {
		if got := xPriority(tt.p); got != tt.want {
			t.Errorf("xPriority(%q): got %q, want %q", tt.p, got, tt.want)
		}
	}
}

func TestXOAuth2(t *testing.T) {
	t.Parallel()

	a := &xoauth2{username: "me@outlook.com", token: "tok"}
	mech, resp, err := a.Start(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mech != "XOAUTH2" {
		t.Errorf("mechanism: got %q, want XOAUTH2", mech)
	}
	if string(resp) != "user=me@outlook.com\x01auth=Bearer tok\x01\x01" {
		t.Errorf("response: got %q", resp)
	}
	if _, err := a.Next([]byte("error"), true); err == nil {
		t.Error("expected error when server asks for more")
	}
}
