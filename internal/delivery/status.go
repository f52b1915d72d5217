package delivery

import (
	"time"

	"github.com/shineum/alertmail-lite/internal/classify"
	"github.com/shineum/alertmail-lite/internal/email"
)

// Status is the lifecycle state of a delivery record.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusPending  Status = "pending"
	StatusSending  Status = "sending"
	StatusRetrying Status = "retrying"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// InFlight reports whether an attempt lineage is running.
func (s Status) InFlight() bool {
	return s == StatusSending || s == StatusRetrying
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued, StatusPending:
		return next == StatusSending || next == StatusFailed
	case StatusSending:
		return next == StatusSending || next == StatusRetrying || next == StatusSent || next == StatusFailed
	case StatusRetrying:
		return next == StatusSending || next == StatusSent || next == StatusFailed
	default:
		return false
	}
}

// ErrorDetail is the last error recorded for a delivery.
type ErrorDetail struct {
	Kind    classify.Kind `json:"kind,omitempty"`
	Message string        `json:"message"`
}

// Record is the engine's bookkeeping entry for one delivery.
// Callers always receive copies.
type Record struct {
	ID        string        `json:"id"`
	Status    Status        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Attempts  int           `json:"attempts"`
	LastError *ErrorDetail  `json:"last_error,omitempty"`
	Message   email.Message `json:"message"`
	Provider  string        `json:"provider,omitempty"`
}

func (r *Record) snapshot() Record {
	c := *r
	c.Message = r.Message.Clone()
	if r.LastError != nil {
		e := *r.LastError
		c.LastError = &e
	}
	return c
}

// Result is the outcome of a delivery.
type Result struct {
	Success      bool          `json:"success"`
	ID           string        `json:"id,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	Attempts     int           `json:"attempts"`
	Error        string        `json:"error,omitempty"`
	ErrorKind    classify.Kind `json:"error_kind,omitempty"`
	DeliveryTime time.Duration `json:"delivery_time"`
	Provider     string        `json:"provider,omitempty"`
	ProviderID   string        `json:"provider_message_id,omitempty"`
	Steps        []string      `json:"troubleshooting,omitempty"`
}
