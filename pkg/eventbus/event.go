// Package eventbus fans out task, batch and schedule lifecycle events to
// subscribers over per-subscriber buffered channels.
//
// Delivery is at-most-once: Publish never blocks the caller, and when a
// subscriber's buffer is full its oldest undelivered event is dropped to make
// room. Ordering is guaranteed only per subject; no global order across
// subjects is promised.
package eventbus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SubjectType identifies what kind of entity an event describes.
type SubjectType string

const (
	SubjectTask     SubjectType = "task"
	SubjectBatch    SubjectType = "batch"
	SubjectSchedule SubjectType = "schedule"
)

// Kind classifies the event.
type Kind string

const (
	KindStateChanged Kind = "state_changed"
	KindProgress     Kind = "progress"
	KindError        Kind = "error"
)

// Event is a write-once, fire-and-forget lifecycle notification.
type Event struct {
	ID          string          `json:"event_id"`
	SubjectType SubjectType     `json:"subject_type"`
	SubjectID   string          `json:"subject_id"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewEvent builds an event with a fresh id and UTC timestamp. The payload is
// marshaled immediately so later mutation of v cannot alter the event.
func NewEvent(subjectType SubjectType, subjectID string, kind Kind, v any) Event {
	var payload json.RawMessage
	if v != nil {
		if b, err := json.Marshal(v); err == nil {
			payload = b
		}
	}
	return Event{
		ID:          uuid.New().String(),
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Kind:        kind,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	}
}
