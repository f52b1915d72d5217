// Package ses implements a Transport that sends email via AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/alertmail-lite/internal/email"
	"github.com/shineum/alertmail-lite/internal/provider"
)

// API is the subset of the SES v2 client used by the transport.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// ClientFunc builds an API client for a validated configuration.
type ClientFunc func(ctx context.Context, cfg provider.Config) (API, error)

// Transport sends email through the SES v2 API.
type Transport struct {
	newClient ClientFunc

	mu     sync.RWMutex
	cfg    provider.Config
	client API
}

// New creates an unconfigured SES transport using the AWS default config chain.
func New() *Transport {
	return &Transport{newClient: defaultClient}
}

// NewWithClient creates a transport that always uses client, used for testing.
func NewWithClient(client API) *Transport {
	return &Transport{newClient: func(context.Context, provider.Config) (API, error) { return client, nil }}
}

// Name returns the provider name.
func (t *Transport) Name() string {
	return string(provider.SES)
}

// ValidateConfig returns the problems with cfg.
func (t *Transport) ValidateConfig(cfg provider.Config) []string {
	return provider.SESRule.Validate(provider.SESRule.Normalize(cfg))
}

// Configure validates cfg and loads the AWS configuration for its region.
func (t *Transport) Configure(cfg provider.Config) error {
	cfg = provider.SESRule.Normalize(cfg)
	if problems := provider.SESRule.Validate(cfg); len(problems) > 0 {
		return &provider.ValidationError{Provider: provider.SES, Problems: problems}
	}

	client, err := t.newClient(context.Background(), cfg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.cfg = cfg
	t.client = client
	t.mu.Unlock()
	return nil
}

// TestConnection verifies the credentials by reading the account's sending status.
func (t *Transport) TestConnection(ctx context.Context) error {
	cfg, client, err := t.current()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	out, err := client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return err
	}
	if !out.SendingEnabled {
		return &provider.RemoteError{
			Provider:   t.Name(),
			StatusCode: 403,
			Code:       "SendingPaused",
			Message:    "sending is disabled for this SES account",
		}
	}
	return nil
}

// Send delivers msg once. Messages with attachments are sent as raw MIME.
func (t *Transport) Send(ctx context.Context, msg *email.Message) (*provider.Receipt, error) {
	cfg, client, err := t.current()
	if err != nil {
		return nil, err
	}

	var input *sesv2.SendEmailInput
	if len(msg.Attachments) > 0 {
		atts, err := msg.LoadAttachments()
		if err != nil {
			return nil, err
		}
		raw, err := buildRawMessage(cfg.SenderEmail, msg, atts)
		if err != nil {
			return nil, fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			Content: &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
		}
	} else {
		input = buildSimpleInput(cfg.SenderEmail, msg)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	out, err := client.SendEmail(ctx, input)
	if err != nil {
		return nil, err
	}
	return &provider.Receipt{ID: aws.ToString(out.MessageId), Message: "accepted by SES"}, nil
}

func (t *Transport) current() (provider.Config, API, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.client == nil {
		return provider.Config{}, nil, fmt.Errorf("ses: %w", provider.ErrNotConfigured)
	}
	return t.cfg, t.client, nil
}

func defaultClient(ctx context.Context, cfg provider.Config) (API, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Option("region")),
	}

	if keyID := cfg.Option("access_key_id"); keyID != "" && cfg.SenderSecret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(keyID, cfg.SenderSecret, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sesv2.NewFromConfig(awsCfg), nil
}

func utf8Content(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

// buildSimpleInput creates a SendEmailInput for messages without attachments.
func buildSimpleInput(sender string, msg *email.Message) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.HTMLBody != "" {
		body.Html = utf8Content(msg.HTMLBody)
	}
	if msg.TextBody != "" {
		body.Text = utf8Content(msg.TextBody)
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination:      &types.Destination{ToAddresses: []string{msg.Recipient}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: utf8Content(msg.Subject),
				Body:    body,
			},
		},
	}
}

// buildRawMessage constructs a multipart/mixed MIME message.
func buildRawMessage(sender string, msg *email.Message, atts []email.Attachment) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", sender)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.Recipient)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", msg.Subject))
	if msg.Priority == email.PriorityHigh {
		fmt.Fprintf(&buf, "X-Priority: 1\r\nImportance: High\r\n")
	}
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	bodyHeader := make(textproto.MIMEHeader)
	body := msg.TextBody
	bodyHeader.Set("Content-Type", "text/plain; charset=UTF-8")
	if msg.HTMLBody != "" {
		bodyHeader.Set("Content-Type", "text/html; charset=UTF-8")
		body = msg.HTMLBody
	}
	part, err := writer.CreatePart(bodyHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create body part: %w", err)
	}
	if _, err := part.Write([]byte(body)); err != nil {
		return nil, err
	}

	for _, att := range atts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Type", att.ContentType)
		h.Set("Content-Transfer-Encoding", "base64")
		h.Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%s", mime.QEncoding.Encode("UTF-8", att.Filename)))

		part, err := writer.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := part.Write([]byte(encodeBase64Lines(att.Content))); err != nil {
			return nil, err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeBase64Lines encodes data as base64 wrapped at 76 characters (RFC 2045).
func encodeBase64Lines(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	lines := make([]string, 0, len(encoded)/76+1)
	for i := 0; i < len(encoded); i += 76 {
		lines = append(lines, encoded[i:min(i+76, len(encoded))])
	}
	return strings.Join(lines, "\r\n")
}
