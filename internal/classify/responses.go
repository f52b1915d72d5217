package classify

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/shineum/alertmail-lite/internal/provider"
)

// guide holds the generic checklist for each kind.
var guide = map[Kind][]string{
	Network: {
		"Check internet connection",
		"Verify the email server is reachable",
		"Check firewall and proxy settings",
		"Try a different network or VPN",
	},
	Auth: {
		"Verify email credentials",
		"Enable App Passwords for Gmail",
		"Check account security settings",
		"Try logging in via the web interface",
	},
	Delivery: {
		"Verify recipient email address",
		"Check email content for spam indicators",
		"Ensure sender reputation is good",
		"Try sending to a different recipient",
	},
	Configuration: {
		"Review all configuration settings",
		"Check email address format",
		"Verify server and port settings",
		"Consult provider documentation",
	},
	Dependency: {
		"Run 'alertmail test' to see which capabilities are missing",
		"Install the missing OS component",
		"Use environment variables for secrets if the keyring is unavailable",
	},
}

func configResponse(detail string) Response {
	lower := strings.ToLower(detail)
	r := Response{Kind: Configuration, Detail: detail}

	switch {
	case strings.Contains(lower, "email") && strings.Contains(lower, "invalid"):
		r.Message = "Invalid email address in configuration"
		r.Steps = []string{
			"Verify sender email address format (user@domain.com)",
			"Check for typos in the email address",
			"Ensure the email domain is valid",
			"Use a different email address if needed",
		}
	case strings.Contains(lower, "port"):
		r.Message = "Invalid SMTP port configuration"
		r.Steps = []string{
			"Use standard SMTP ports: 587 (STARTTLS) or 465 (SSL)",
			"Check provider documentation for the correct port",
			"Verify the port is not blocked by a firewall",
			"Try an alternative port if available",
		}
	case strings.Contains(lower, "server"):
		r.Message = "Invalid SMTP server configuration"
		r.Steps = []string{
			"Verify the SMTP server address is correct",
			"Check provider documentation for server details",
			"Ensure the server address has no typos",
			"Try using an IP address instead of the hostname",
		}
	default:
		r.Message = "Email configuration error"
		r.Steps = []string{
			"Review all configuration settings",
			"Check provider-specific requirements",
			"Verify all required fields are filled",
			"Reset configuration to defaults if needed",
		}
	}
	return r
}

// smtpResponse maps an SMTP reply code.
func smtpResponse(code int, detail, prov string) Response {
	switch {
	case code == 535:
		return Response{
			Kind:    Auth,
			Message: "Authentication failed - invalid credentials",
			Detail:  fmt.Sprintf("SMTP auth error (535): %s", detail),
			Steps:   appPasswordSteps(prov),
		}
	case code == 534:
		return Response{
			Kind:    Auth,
			Message: "Authentication mechanism not supported",
			Detail:  fmt.Sprintf("SMTP auth error (534): %s", detail),
			Steps: []string{
				"Check if the provider supports the authentication method",
				"Try using an App Password instead of the regular password",
				"Enable OAuth2 if supported by the provider",
				"Check provider documentation for auth requirements",
			},
		}
	case code == 530:
		return Response{
			Kind:    Auth,
			Message: "SMTP authentication required",
			Detail:  fmt.Sprintf("SMTP auth error (530): %s", detail),
			Steps: []string{
				"Check email credentials are correct",
				"Verify the account is active and not locked",
				"Check provider-specific authentication requirements",
				"Try logging into the email account via the web interface",
			},
		}
	case code == 421 || (code >= 450 && code <= 459):
		return networkResponse("Email server temporarily unavailable", detail, []string{
			"Wait and retry; the server reported a temporary condition",
			"Check the provider status page",
			"Reduce sending rate if you are being throttled",
		})
	case code == 550 || code == 551 || code == 553:
		return Response{
			Kind:    Delivery,
			Message: "Recipient email address rejected",
			Detail:  fmt.Sprintf("Recipients refused (%d): %s", code, detail),
			Steps: []string{
				"Verify recipient email address is correct",
				"Check if the recipient domain accepts emails",
				"Ensure sender reputation is good",
				"Try sending to a different email address",
				"Check if the recipient mailbox is full",
			},
		}
	case code == 552 || code == 554:
		return Response{
			Kind:    Delivery,
			Message: "Email content rejected by server",
			Detail:  fmt.Sprintf("Data error (%d): %s", code, detail),
			Steps: []string{
				"Check email content for spam-like characteristics",
				"Reduce email size if too large",
				"Verify email format is correct",
				"Remove suspicious links or attachments",
				"Check sender reputation",
			},
		}
	case code >= 400 && code < 500:
		return networkResponse("Temporary SMTP failure", detail, guide[Network])
	default:
		return Response{
			Kind:    Delivery,
			Message: "Email delivery failed",
			Detail:  fmt.Sprintf("SMTP error (%d): %s", code, detail),
			Steps:   guide[Delivery],
		}
	}
}

func appPasswordSteps(prov string) []string {
	switch provider.Kind(prov) {
	case provider.Gmail:
		return []string{
			"Enable 2-Step Verification on the Google account",
			"Generate an App Password at https://myaccount.google.com/apppasswords",
			"Use the 16-character App Password as the sender secret",
			"Verify the sender email address is correct",
		}
	case provider.Yahoo:
		return []string{
			"Open Yahoo Account Security settings",
			"Generate an app password for mail",
			"Use the app password as the sender secret",
			"Verify the sender email address is correct",
		}
	case provider.Outlook:
		return []string{
			"Verify email address and password are correct",
			"Check that SMTP AUTH is enabled for the mailbox",
			"Use an app password if two-step verification is on",
			"Check if the account is locked or suspended",
		}
	default:
		return []string{
			"Verify email address and password are correct",
			"For Gmail: enable 2FA and use an App Password",
			"For Outlook: check if the account supports SMTP",
			"Try generating a new app-specific password",
			"Check if the account is locked or suspended",
		}
	}
}

// awsResponse maps SES API error codes.
func awsResponse(apiErr smithy.APIError, detail string) Response {
	switch apiErr.ErrorCode() {
	case "UnrecognizedClientException", "InvalidClientTokenId", "SignatureDoesNotMatch",
		"AccessDeniedException", "ExpiredTokenException":
		return Response{
			Kind:    Auth,
			Message: "AWS rejected the SES credentials",
			Detail:  detail,
			Steps: []string{
				"Verify the access key id and secret access key",
				"Check the IAM policy allows ses:SendEmail",
				"Confirm the configured region matches the SES identity",
			},
		}
	case "MessageRejected", "MailFromDomainNotVerifiedException", "NotFoundException":
		return Response{
			Kind:    Delivery,
			Message: "SES rejected the message",
			Detail:  detail,
			Steps: []string{
				"Verify the sender identity in the SES console",
				"In sandbox mode, verify the recipient address too",
				"Check the message content and size",
			},
		}
	case "TooManyRequestsException", "ThrottlingException", "LimitExceededException":
		return networkResponse("SES is throttling requests", detail, []string{
			"Wait and retry",
			"Check the SES sending quota",
			"Request a quota increase if alerts are frequent",
		})
	case "AccountSuspendedException", "SendingPausedException":
		return Response{
			Kind:    Delivery,
			Message: "SES sending is disabled for this account",
			Detail:  detail,
			Steps: []string{
				"Check the SES reputation dashboard",
				"Contact AWS support to resume sending",
			},
		}
	}
	if apiErr.ErrorFault() == smithy.FaultServer {
		return networkResponse("SES service error", detail, guide[Network])
	}
	return Response{Kind: Delivery, Message: "SES request failed", Detail: detail, Steps: guide[Delivery]}
}

// remoteResponse maps HTTP statuses from API transports.
func remoteResponse(e *provider.RemoteError, detail string) Response {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return Response{
			Kind:    Auth,
			Message: fmt.Sprintf("%s rejected the credentials", e.Provider),
			Detail:  detail,
			Steps: []string{
				"Verify the API token or client secret",
				"Check the application has permission to send mail",
				"Regenerate the secret if it has expired",
			},
		}
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return networkResponse(fmt.Sprintf("%s is temporarily unavailable", e.Provider), detail, []string{
			"Wait and retry",
			"Check the provider status page",
			"Reduce sending rate if you are being throttled",
		})
	default:
		return Response{
			Kind:    Delivery,
			Message: fmt.Sprintf("%s rejected the message", e.Provider),
			Detail:  detail,
			Steps:   guide[Delivery],
		}
	}
}

// keyword patterns, checked in order.
var patterns = []struct {
	substr string
	kind   Kind
}{
	{"authentication failed", Auth},
	{"login failed", Auth},
	{"invalid credentials", Auth},
	{"username and password not accepted", Auth},
	{"connection refused", Network},
	{"timeout", Network},
	{"timed out", Network},
	{"network unreachable", Network},
	{"no such host", Network},
	{"dns", Network},
	{"ssl", Network},
	{"tls", Network},
	{"invalid email", Configuration},
	{"invalid port", Configuration},
	{"invalid server", Configuration},
	{"configuration", Configuration},
	{"package", Dependency},
	{"install", Dependency},
	{"permission denied", Dependency},
	{"recipients refused", Delivery},
	{"sender refused", Delivery},
	{"data error", Delivery},
	{"mailbox full", Delivery},
}

func byMessage(detail, prov string) Response {
	lower := strings.ToLower(detail)
	for _, p := range patterns {
		if !strings.Contains(lower, p.substr) {
			continue
		}
		switch p.kind {
		case Auth:
			return Response{Kind: Auth, Message: "Authentication error", Detail: detail, Steps: appPasswordSteps(prov)}
		case Network:
			return networkResponse("Network communication error", detail, guide[Network])
		case Configuration:
			return configResponse(detail)
		case Dependency:
			return Response{Kind: Dependency, Message: "A required component is unavailable", Detail: detail, Steps: guide[Dependency]}
		default:
			return Response{Kind: Delivery, Message: "Email delivery failed", Detail: detail, Steps: guide[Delivery]}
		}
	}
	return Response{
		Kind:      Delivery,
		Message:   "Email delivery failed",
		Detail:    detail,
		Steps:     guide[Delivery],
		Retryable: true,
	}
}

// Steps returns the generic checklist for kind.
func Steps(kind Kind) []string {
	return append([]string(nil), guide[kind]...)
}
