// Package stdout implements a Transport that prints messages instead of
// sending them. It backs dry runs and local development.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/shineum/alertmail-lite/internal/email"
	"github.com/shineum/alertmail-lite/internal/provider"
)

const separator = "========================================\n"

// Transport prints email messages in a human-readable format.
type Transport struct {
	mu     sync.Mutex
	writer io.Writer
	cfg    provider.Config
}

// New creates a stdout transport that writes to os.Stdout.
func New() *Transport {
	return &Transport{writer: os.Stdout}
}

// NewWithWriter creates a stdout transport that writes to w.
func NewWithWriter(w io.Writer) *Transport {
	return &Transport{writer: w}
}

// Name returns the provider name.
func (t *Transport) Name() string {
	return string(provider.Stdout)
}

// ValidateConfig returns the problems with cfg.
func (t *Transport) ValidateConfig(cfg provider.Config) []string {
	return provider.StdoutRule.Validate(provider.StdoutRule.Normalize(cfg))
}

// Configure records the sender address shown in the output.
func (t *Transport) Configure(cfg provider.Config) error {
	cfg = provider.StdoutRule.Normalize(cfg)
	if problems := provider.StdoutRule.Validate(cfg); len(problems) > 0 {
		return &provider.ValidationError{Provider: provider.Stdout, Problems: problems}
	}
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
	return nil
}

// TestConnection always succeeds.
func (t *Transport) TestConnection(context.Context) error {
	return nil
}

// Send prints msg. Write failures are returned.
func (t *Transport) Send(_ context.Context, msg *email.Message) (*provider.Receipt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	b.WriteString(separator)
	if t.cfg.SenderEmail != "" {
		fmt.Fprintf(&b, "From: %s\n", t.cfg.SenderEmail)
	}
	fmt.Fprintf(&b, "To: %s\n", msg.Recipient)
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Priority: %s\n", msg.Priority)
	if msg.TemplateName != "" {
		fmt.Fprintf(&b, "Template: %s\n", msg.TemplateName)
	}
	b.WriteString("Body:\n")

	body := msg.TextBody
	if body == "" {
		body = msg.HTMLBody
	}
	b.WriteString(body + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, path := range msg.Attachments {
			attachments = append(attachments, describeFile(path))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}
	b.WriteString(separator)

	if _, err := io.WriteString(t.writer, b.String()); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}
	return &provider.Receipt{ID: uuid.NewString(), Message: "printed"}, nil
}

func describeFile(path string) string {
	name := filepath.Base(path)
	info, err := os.Stat(path)
	if err != nil {
		return name + " (missing)"
	}
	return fmt.Sprintf("%s (%s)", name, formatSize(info.Size()))
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
