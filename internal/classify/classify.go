// Package classify maps raw delivery failures onto a fixed error taxonomy,
// each entry carrying a one-line message and an ordered troubleshooting
// checklist.
package classify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/smithy-go"

	"github.com/shineum/alertmail-lite/internal/capability"
	"github.com/shineum/alertmail-lite/internal/provider"
)

// Kind is an error category.
type Kind string

const (
	Network       Kind = "network"
	Auth          Kind = "auth"
	Delivery      Kind = "delivery"
	Configuration Kind = "configuration"
	Dependency    Kind = "dependency"
)

// Response is the user-facing description of a failure.
type Response struct {
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail"`
	Steps     []string  `json:"troubleshooting_steps"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

// String renders the response as a short report.
func (r Response) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", r.Kind, r.Message)
	if r.Detail != "" {
		fmt.Fprintf(&b, "  %s\n", r.Detail)
	}
	for i, s := range r.Steps {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, s)
	}
	return b.String()
}

// Classifier classifies errors. The zero value is not usable; use New.
type Classifier struct {
	now func() time.Time
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// New creates a Classifier.
func New(opts ...Option) *Classifier {
	c := &Classifier{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify maps err, raised while talking to providerName, to a Response.
// It never panics; unrecognized errors are Delivery errors.
func (c *Classifier) Classify(err error, providerName string) Response {
	r := c.classify(err, strings.ToLower(providerName))
	r.Timestamp = c.now()
	return r
}

func (c *Classifier) classify(err error, prov string) Response {
	if err == nil {
		return Response{
			Kind:      Delivery,
			Message:   "Email delivery failed",
			Detail:    "no error detail available",
			Steps:     guide[Delivery],
			Retryable: true,
		}
	}
	detail := err.Error()

	var verr *provider.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, provider.ErrInvalidConfig):
		return configResponse(detail)
	case errors.Is(err, provider.ErrNotConfigured), errors.Is(err, provider.ErrUnknownProvider):
		return configResponse(detail)
	case errors.Is(err, capability.ErrMissing):
		return Response{
			Kind:    Dependency,
			Message: "A required runtime capability is unavailable",
			Detail:  detail,
			Steps: []string{
				"Run 'alertmail test' to see the capability report",
				"Install or unlock the OS secret service if the keyring is reported missing",
				"Store secrets in environment variables as an alternative",
			},
		}
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return smtpResponse(tpErr.Code, detail, prov)
	}

	if isTimeout(err) {
		return networkResponse("Connection timeout to email server", detail, []string{
			"Check internet connection stability",
			"Try increasing the timeout value in configuration",
			"Verify the server is responding",
			"Check for network congestion",
			"Try connecting at a different time",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return networkResponse("DNS resolution failed for email server", detail, []string{
			"Check the server address for typos",
			"Verify DNS server settings",
			"Try using a different DNS server (8.8.8.8)",
			"Check if the domain name is correct",
			"Try using an IP address instead of the hostname",
		})
	}

	if isTLS(err) {
		return networkResponse("SSL/TLS connection error", detail, []string{
			"Check if SSL/TLS is properly configured for this port",
			"Verify certificate validity",
			"Use port 587 for STARTTLS or 465 for implicit TLS",
			"Check system date and time",
			"Update system certificates or set ca_file if needed",
		})
	}

	var opErr *net.OpError
	if errors.Is(err, syscall.ECONNREFUSED) || errors.As(err, &opErr) {
		return networkResponse("Failed to connect to email server", detail, []string{
			"Check internet connection",
			"Verify server address and port",
			"Check if a firewall is blocking SMTP ports",
			"Try connecting from a different network",
			"Contact your ISP if SMTP ports are blocked",
		})
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return awsResponse(apiErr, detail)
	}

	var remote *provider.RemoteError
	if errors.As(err, &remote) {
		return remoteResponse(remote, detail)
	}

	if code, ok := smtpCodeIn(detail); ok {
		return smtpResponse(code, detail, prov)
	}

	return byMessage(detail, prov)
}

// Default is a shared Classifier using the wall clock.
var Default = New()

// Classify classifies err with Default.
func Classify(err error, providerName string) Response {
	return Default.Classify(err, providerName)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isTLS(err error) bool {
	var (
		recErr   tls.RecordHeaderError
		certErr  *tls.CertificateVerificationError
		unknown  x509.UnknownAuthorityError
		hostErr  x509.HostnameError
		invalid  x509.CertificateInvalidError
		alertErr tls.AlertError
	)
	return errors.As(err, &recErr) ||
		errors.As(err, &certErr) ||
		errors.As(err, &unknown) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalid) ||
		errors.As(err, &alertErr)
}

// smtpCodePattern finds a reply code in flattened SMTP error text, such as
// "gomail: could not send email 1: 550 5.1.1 user unknown".
var smtpCodePattern = regexp.MustCompile(`(?:^|: )([45][0-9]{2})[ -]`)

func smtpCodeIn(msg string) (int, bool) {
	m := smtpCodePattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

func networkResponse(msg, detail string, steps []string) Response {
	return Response{Kind: Network, Message: msg, Detail: detail, Steps: steps, Retryable: true}
}
