// Package domain holds the event record and error taxonomy shared by the
// ingestion, queue, writer, and analytics layers.
package domain

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Event is the unit of data flowing through the pipeline. Events are
// immutable once written: the writer creates them exactly once and nothing
// in this system mutates or deletes them afterwards.
type Event struct {
	// EventID is assigned by the producer and is the idempotency key for
	// queue redelivery.
	EventID   string  `json:"event_id" validate:"required"`
	SessionID string  `json:"session_id" validate:"required"`
	AppID     string  `json:"app_id" validate:"required"`
	EventType string  `json:"event_type" validate:"required"`
	Action    string  `json:"action,omitempty"`
	Payload   Payload `json:"payload" validate:"required"`
	// Timestamp is when the event occurred at the producer. It is the
	// display and tie-break order, not necessarily the link order.
	Timestamp time.Time `json:"timestamp"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that all required fields are present. A failure is a
// ValidationError: the event is rejected at ingestion and never enqueued.
func (e *Event) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	return nil
}

// UserID returns the producer-supplied user identifier from the payload, if
// any. The user association is maintained alongside the session chain and
// feeds segmentation queries.
func (e *Event) UserID() string {
	if e.Payload == nil {
		return ""
	}
	if v, ok := e.Payload["user_id"].(string); ok {
		return v
	}
	return ""
}
