// Package email defines the message model handed to delivery transports.
package email

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Priority is the delivery priority of a message.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ErrInvalidMessage is returned by New when a message violates its invariants.
var ErrInvalidMessage = errors.New("invalid email message")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Message is a fully composed email ready to be handed to a transport.
// Construct it with New; a Message is treated as immutable afterwards.
type Message struct {
	Recipient    string         `json:"recipient" validate:"required,email"`
	Subject      string         `json:"subject" validate:"required"`
	TextBody     string         `json:"text_body"`
	HTMLBody     string         `json:"html_body,omitempty"`
	Priority     Priority       `json:"priority" validate:"omitempty,oneof=high normal low"`
	TemplateName string         `json:"template_name,omitempty"`
	TemplateData map[string]any `json:"template_data,omitempty"`
	Attachments  []string       `json:"attachments,omitempty"`
}

// Option customizes a Message built by New.
type Option func(*Message)

// WithHTML sets the HTML alternative body.
func WithHTML(html string) Option {
	return func(m *Message) { m.HTMLBody = html }
}

// WithPriority sets the message priority. The default is PriorityNormal.
func WithPriority(p Priority) Option {
	return func(m *Message) { m.Priority = p }
}

// WithTemplate records the template reference and the data it was rendered with.
func WithTemplate(name string, data map[string]any) Option {
	return func(m *Message) {
		m.TemplateName = name
		m.TemplateData = maps.Clone(data)
	}
}

// WithAttachments adds attachment file paths.
func WithAttachments(paths ...string) Option {
	return func(m *Message) { m.Attachments = append(m.Attachments, paths...) }
}

// New builds a validated Message. The recipient must be a syntactically
// valid address and the subject must not be blank.
func New(recipient, subject, body string, opts ...Option) (*Message, error) {
	m := &Message{
		Recipient: strings.TrimSpace(recipient),
		Subject:   strings.TrimSpace(subject),
		TextBody:  body,
		Priority:  PriorityNormal,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the message invariants.
func (m *Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	m.TemplateData = maps.Clone(m.TemplateData)
	if m.Attachments != nil {
		m.Attachments = append([]string(nil), m.Attachments...)
	}
	return m
}

// IsValidAddress reports whether addr is a syntactically valid email address.
func IsValidAddress(addr string) bool {
	return validate.Var(addr, "required,email") == nil
}

func describe(fe validator.FieldError) string {
	switch fe.Field() {
	case "Recipient":
		return "invalid recipient email address"
	case "Subject":
		return "email subject cannot be empty"
	case "Priority":
		return fmt.Sprintf("unknown priority %q", fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", strings.ToLower(fe.Field()), fe.Tag())
	}
}
