package email

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func TestNew_Valid(t *testing.T) {
	t.Parallel()

	data := map[string]any{"user_name": "Ana"}
	msg, err := New(" driver@example.com ", "Drowsiness Alert", "Wake up",
		WithHTML("<p>Wake up</p>"),
		WithPriority(PriorityHigh),
		WithTemplate("drowsiness_alert", data),
		WithAttachments("/tmp/snapshot.jpg"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Recipient != "driver@example.com" {
		t.Errorf("Recipient: got %q, want %q", msg.Recipient, "driver@example.com")
	}
	if msg.Priority != PriorityHigh {
		t.Errorf("Priority: got %q, want %q", msg.Priority, PriorityHigh)
	}
	if msg.TemplateName != "drowsiness_alert" {
		t.Errorf("TemplateName: got %q, want %q", msg.TemplateName, "drowsiness_alert")
	}
	if len(msg.Attachments) != 1 {
		t.Errorf("Attachments: got %d, want 1", len(msg.Attachments))
	}

	// Template data is copied at construction.
	data["user_name"] = "changed"
	if msg.TemplateData["user_name"] != "Ana" {
		t.Errorf("TemplateData mutated through caller map: got %v", msg.TemplateData["user_name"])
	}
}

func TestNew_DefaultPriority(t *testing.T) {
	t.Parallel()

	msg, err := New("a@example.com", "Subject", "Body")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Priority != PriorityNormal {
		t.Errorf("Priority: got %q, want %q", msg.Priority, PriorityNormal)
	}
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		recipient string
		subject   string
		wantMsg   string
	}{
		{"empty recipient", "", "Subject", "invalid recipient"},
		{"malformed recipient", "not-an-address", "Subject", "invalid recipient"},
		{"blank subject", "a@example.com", "   ", "subject cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(tt.recipient, tt.subject, "body")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("expected ErrInvalidMessage, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestNew_UnknownPriority(t *testing.T) {
	t.Parallel()

	_, err := New("a@example.com", "Subject", "Body", WithPriority("urgent"))
	if err == nil {
		t.Fatal("expected error for unknown priority")
	}
}

func TestClone_Independent(t *testing.T) {
	t.Parallel()

	msg, err := New("a@example.com", "Subject", "Body",
		WithTemplate("t", map[string]any{"k": "v"}),
		WithAttachments("a.txt"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := msg.Clone()
	c.TemplateData["k"] = "other"
	c.Attachments[0] = "b.txt"

	if msg.TemplateData["k"] != "v" {
		t.Errorf("original TemplateData changed: %v", msg.TemplateData["k"])
	}
	if msg.Attachments[0] != "a.txt" {
		t.Errorf("original Attachments changed: %v", msg.Attachments[0])
	}
}

func TestIsValidAddress(t *testing.T) {
	t.Parallel()

	if !IsValidAddress("user@gmail.com") {
		t.Error("expected user@gmail.com to be valid")
	}
	if IsValidAddress("user@") {
		t.Error("expected user@ to be invalid")
	}
}

func TestLoadAttachments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := dir + "/snapshot.png"
	if err := os.WriteFile(path, []byte("frame"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg, err := New("a@example.com", "Subject", "Body", WithAttachments(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	atts, err := msg.LoadAttachments()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(atts) != 1 {
		t.Fatalf("attachments: got %d, want 1", len(atts))
	}
	if atts[0].Filename != "snapshot.png" {
		t.Errorf("Filename: got %q, want %q", atts[0].Filename, "snapshot.png")
	}
	if atts[0].ContentType != "image/png" {
		t.Errorf("ContentType: got %q", atts[0].ContentType)
	}
	if string(atts[0].Content) != "frame" {
		t.Errorf("Content: got %q, want %q", atts[0].Content, "frame")
	}

	msg.Attachments = []string{dir + "/missing.bin"}
	if _, err := msg.LoadAttachments(); err == nil {
		t.Error("expected error for missing attachment")
	}
}
