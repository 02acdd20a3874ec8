package events

import (
	"time"

	"github.com/spec-kit/verification-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSubmissionCreated   EventType = "submission_created"
	EventSubmissionCompleted EventType = "submission_completed"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID           string      `json:"id"`
	Type         EventType   `json:"type"`
	SubmissionID string      `json:"submission_id"`
	Timestamp    time.Time   `json:"timestamp"`
	Payload      interface{} `json:"payload"`
}

// SubmissionCreatedPayload payload.
type SubmissionCreatedPayload struct {
	SubmissionType domain.SubmissionType `json:"submission_type"`
	SessionID      string                `json:"session_id"`
	UserID         string                `json:"user_id"`
}

// SubmissionCompletedPayload carries the committed terminal record for
// downstream projections.
type SubmissionCompletedPayload struct {
	Submission domain.Submission `json:"submission"`
}
