// Package events fans delivery status changes out to subscribers such as the
// SSE endpoint or a desktop UI.
package events

import "time"

// DeliveryEvent describes one status change of a delivery record.
type DeliveryEvent struct {
	DeliveryID string    `json:"delivery_id"`
	Recipient  string    `json:"recipient"`
	Provider   string    `json:"provider,omitempty"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Attempt    int       `json:"attempt"`
	Timestamp  time.Time `json:"timestamp"`
}
