package provider

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shineum/alertmail-lite/internal/email"
)

// Rule describes what a provider accepts. Providers differ only in these
// values; the validation logic is shared.
type Rule struct {
	Kind        Kind
	DisplayName string

	// Servers lists the accepted hosts. Empty accepts any non-empty host.
	Servers []string
	// Ports lists the accepted ports. Empty accepts any valid port.
	Ports []int
	// SenderDomains lists accepted sender address suffixes ("@gmail.com").
	SenderDomains []string
	// AuthMethods lists accepted methods; the first is the default.
	AuthMethods []AuthMethod

	DefaultServer string
	DefaultPort   int

	// ForceTLS turns TLS on regardless of the configured flag.
	ForceTLS bool
	// RequireAppPassword rejects AuthPassword.
	RequireAppPassword bool
	// SecretOptional skips the sender secret requirement.
	SecretOptional bool
	// RequiredOptions lists Config.Options keys that must be set.
	RequiredOptions []string

	Notes []string
}

// Built-in provider rules.
var (
	GmailRule = Rule{
		Kind:               Gmail,
		DisplayName:        "Gmail",
		Servers:            []string{"smtp.gmail.com"},
		Ports:              []int{465, 587},
		SenderDomains:      []string{"@gmail.com"},
		AuthMethods:        []AuthMethod{AuthAppPassword, AuthPassword},
		DefaultServer:      "smtp.gmail.com",
		DefaultPort:        587,
		ForceTLS:           true,
		RequireAppPassword: true,
		Notes: []string{
			"2-Factor Authentication must be enabled for App Passwords",
			"Regular passwords are blocked by Gmail for SMTP access",
		},
	}

	OutlookRule = Rule{
		Kind:          Outlook,
		DisplayName:   "Outlook",
		Servers:       []string{"smtp-mail.outlook.com"},
		Ports:         []int{587},
		SenderDomains: []string{"@outlook.com", "@hotmail.com", "@live.com", "@msn.com"},
		AuthMethods:   []AuthMethod{AuthAppPassword, AuthOAuth2, AuthPassword},
		DefaultServer: "smtp-mail.outlook.com",
		DefaultPort:   587,
		ForceTLS:      true,
		Notes: []string{
			"SMTP AUTH must be enabled for the mailbox",
		},
	}

	YahooRule = Rule{
		Kind:               Yahoo,
		DisplayName:        "Yahoo",
		Servers:            []string{"smtp.mail.yahoo.com"},
		Ports:              []int{465, 587},
		SenderDomains:      []string{"@yahoo.com"},
		AuthMethods:        []AuthMethod{AuthAppPassword, AuthPassword},
		DefaultServer:      "smtp.mail.yahoo.com",
		DefaultPort:        587,
		ForceTLS:           true,
		RequireAppPassword: false,
		Notes: []string{
			"Yahoo requires an app password when account key is enabled",
		},
	}

	CustomRule = Rule{
		Kind:        Custom,
		DisplayName: "Custom SMTP",
		AuthMethods: []AuthMethod{AuthPassword, AuthAppPassword},
		DefaultPort: 587,
	}

	SESRule = Rule{
		Kind:            SES,
		DisplayName:     "AWS SES",
		AuthMethods:     []AuthMethod{AuthPassword},
		DefaultServer:   "email.amazonaws.com",
		DefaultPort:     443,
		ForceTLS:        true,
		SecretOptional:  true,
		RequiredOptions: []string{"region"},
		Notes: []string{
			"sender_secret is the secret access key; leave empty to use the default AWS credential chain",
			"the sender address must be a verified SES identity",
		},
	}

	GraphRule = Rule{
		Kind:            Graph,
		DisplayName:     "Microsoft Graph",
		AuthMethods:     []AuthMethod{AuthOAuth2},
		DefaultServer:   "graph.microsoft.com",
		DefaultPort:     443,
		ForceTLS:        true,
		RequiredOptions: []string{"tenant_id", "client_id"},
		Notes: []string{
			"sender_secret is the application client secret",
			"the application needs the Mail.Send application permission",
		},
	}

	PostmarkRule = Rule{
		Kind:          Postmark,
		DisplayName:   "Postmark",
		AuthMethods:   []AuthMethod{AuthPassword},
		DefaultServer: "api.postmarkapp.com",
		DefaultPort:   443,
		ForceTLS:      true,
		Notes: []string{
			"sender_secret is the server API token",
		},
	}

	StdoutRule = Rule{
		Kind:           Stdout,
		DisplayName:    "Standard output",
		AuthMethods:    []AuthMethod{AuthPassword},
		DefaultServer:  "localhost",
		DefaultPort:    25,
		SecretOptional: true,
	}
)

// Normalize returns cfg with the rule's defaults applied to unset fields.
func (r Rule) Normalize(cfg Config) Config {
	if cfg.Provider == "" {
		cfg.Provider = r.Kind
	}
	cfg.Server = strings.TrimSpace(cfg.Server)
	cfg.SenderEmail = strings.TrimSpace(cfg.SenderEmail)
	if cfg.Server == "" {
		cfg.Server = r.DefaultServer
	}
	if cfg.Port == 0 {
		cfg.Port = r.DefaultPort
	}
	if r.ForceTLS {
		cfg.UseTLS = true
	}
	if cfg.AuthMethod == "" && len(r.AuthMethods) > 0 {
		cfg.AuthMethod = r.AuthMethods[0]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return cfg
}

// Validate returns every problem with cfg. cfg is expected to be normalized.
func (r Rule) Validate(cfg Config) []string {
	var problems []string

	if cfg.Provider != r.Kind {
		problems = append(problems, fmt.Sprintf("provider type must be %s", r.Kind))
	}
	if !email.IsValidAddress(cfg.SenderEmail) {
		problems = append(problems, "invalid sender email address")
	}
	if cfg.Server == "" {
		problems = append(problems, "SMTP server cannot be empty")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		problems = append(problems, "SMTP port must be between 1 and 65535")
	}
	if cfg.SenderSecret == "" && !r.SecretOptional {
		problems = append(problems, "sender password cannot be empty")
	}

	if len(r.Servers) > 0 && cfg.Server != "" && !slices.Contains(r.Servers, cfg.Server) {
		problems = append(problems, fmt.Sprintf("%s SMTP server must be %s", r.DisplayName, strings.Join(r.Servers, " or ")))
	}
	if len(r.Ports) > 0 && !slices.Contains(r.Ports, cfg.Port) {
		problems = append(problems, fmt.Sprintf("%s SMTP port must be %s", r.DisplayName, joinPorts(r.Ports)))
	}
	if len(r.SenderDomains) > 0 && !hasAnySuffix(strings.ToLower(cfg.SenderEmail), r.SenderDomains) {
		problems = append(problems, fmt.Sprintf("%s provider requires a %s email address", r.DisplayName, strings.Join(r.SenderDomains, "/")))
	}
	if len(r.AuthMethods) > 0 && !slices.Contains(r.AuthMethods, cfg.AuthMethod) {
		problems = append(problems, fmt.Sprintf("%s supports %s authentication", r.DisplayName, joinMethods(r.AuthMethods)))
	}
	if r.RequireAppPassword && cfg.AuthMethod == AuthPassword {
		problems = append(problems, fmt.Sprintf("%s requires an app password instead of the regular account password", r.DisplayName))
	}
	for _, key := range r.RequiredOptions {
		if strings.TrimSpace(cfg.Option(key)) == "" {
			problems = append(problems, fmt.Sprintf("%s requires option %q", r.DisplayName, key))
		}
	}

	return problems
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

func joinPorts(ports []int) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, fmt.Sprintf("%d", p))
	}
	return strings.Join(parts, " or ")
}

func joinMethods(methods []AuthMethod) string {
	parts := make([]string, 0, len(methods))
	for _, m := range methods {
		parts = append(parts, strings.ToUpper(string(m)))
	}
	return strings.Join(parts, ", ")
}
