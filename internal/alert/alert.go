package alert

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/shineum/alertmail-lite/internal/classify"
	"github.com/shineum/alertmail-lite/internal/email"
	"github.com/shineum/alertmail-lite/internal/templates"
)

// Type is the category of an alert.
type Type string

const (
	Drowsiness  Type = "drowsiness"
	VitalSigns  Type = "vital_signs"
	SystemError Type = "system_error"
	TestEmail   Type = "test_email"
)

// Template returns the template rendered for t.
func (t Type) Template() string {
	switch t {
	case VitalSigns:
		return "vital_signs_alert"
	case SystemError:
		return "system_error"
	case TestEmail:
		return "system_test"
	default:
		return "drowsiness_alert"
	}
}

// Priority returns the email priority for t.
func (t Type) Priority() email.Priority {
	switch t {
	case Drowsiness, VitalSigns:
		return email.PriorityHigh
	case TestEmail:
		return email.PriorityLow
	default:
		return email.PriorityNormal
	}
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case Drowsiness, VitalSigns, SystemError, TestEmail:
		return true
	}
	return false
}

// User is the person an alert is sent to.
type User struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

// Alert is one detected event.
type Alert struct {
	Type             Type           `json:"type"`
	Timestamp        time.Time      `json:"timestamp"`
	HeartRate        *int           `json:"heart_rate,omitempty"`
	OxygenSaturation *float64       `json:"oxygen_saturation,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
}

// Result is the outcome of SendAlert.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// ID is the provider message ID when the primary or a fallback delivered
	// the alert, and the delivery record ID when the retry engine handled it.
	// Only the latter can be looked up with Engine().GetDeliveryStatus or
	// GET /v1/deliveries/{id}.
	ID            string        `json:"id,omitempty"`
	AlertType     Type          `json:"alert_type"`
	Template      string        `json:"template,omitempty"`
	Provider      string        `json:"provider,omitempty"`
	FallbackIndex int           `json:"fallback_index"`
	Attempts      int           `json:"attempts"`
	DeliveryTime  time.Duration `json:"delivery_time"`
	Error         string        `json:"error,omitempty"`
	ErrorKind     classify.Kind `json:"error_kind,omitempty"`
	Steps         []string      `json:"troubleshooting,omitempty"`
}

// FallbackUsed reports whether a fallback transport delivered the alert.
func (r Result) FallbackUsed() bool {
	return r.FallbackIndex > 0
}

func templateData(u User, a Alert, ts time.Time) map[string]any {
	data := map[string]any{
		"user_name":  u.Name,
		"user_email": u.Email,
		"alert_type": string(a.Type),
		"timestamp":  ts.Format(templates.TimestampLayout),
	}
	if a.HeartRate != nil {
		data["heart_rate"] = *a.HeartRate
	}
	if a.OxygenSaturation != nil {
		data["oxygen_saturation"] = *a.OxygenSaturation
	}
	if len(a.Data) > 0 {
		data["additional_data"] = formatData(a.Data)
	}
	return data
}

// formatData renders extra alert data as sorted key=value pairs.
func formatData(m map[string]any) string {
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, ", ")
}

// defaultContent is used when the template cannot be rendered.
func defaultContent(u User, a Alert, ts time.Time) templates.Content {
	when := ts.Format(templates.TimestampLayout)

	if a.Type == Drowsiness || !a.Type.Valid() {
		var b strings.Builder
		fmt.Fprintf(&b, "Dear %s,\n\n", u.Name)
		b.WriteString("This is an automated alert from your Driver Drowsiness Detection System.\n\n")
		b.WriteString("Alert Details:\n")
		b.WriteString("- Type: Drowsiness Detection\n")
		fmt.Fprintf(&b, "- Time: %s\n", when)
		fmt.Fprintf(&b, "- User: %s\n", u.Name)
		if a.HeartRate != nil {
			fmt.Fprintf(&b, "- Heart Rate: %d BPM\n", *a.HeartRate)
		}
		if a.OxygenSaturation != nil {
			fmt.Fprintf(&b, "- Oxygen Saturation: %g%%\n", *a.OxygenSaturation)
		}
		b.WriteString("\nPlease take immediate action to ensure your safety:\n")
		b.WriteString("1. Pull over safely if possible\n")
		b.WriteString("2. Take a break and rest\n")
		b.WriteString("3. Consider switching drivers if available\n\n")
		b.WriteString("Stay safe!\n\nDriver Assistant System\n")
		return templates.Content{Subject: "Driver Drowsiness Alert", Body: b.String()}
	}

	title := titleCase(strings.ReplaceAll(string(a.Type), "_", " "))
	body := fmt.Sprintf("Dear %s,\n\n"+
		"This is an automated alert from your Driver Assistant System.\n\n"+
		"Alert Type: %s\n"+
		"Time: %s\n\n"+
		"Please check your system for more details.\n\n"+
		"Driver Assistant System\n", u.Name, title, when)
	return templates.Content{Subject: "Driver Assistant Alert - " + title, Body: body}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
