package events

import (
	"time"

	"github.com/zacode/consultation-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventConsultationCreated   EventType = "consultation_created"
	EventConsultationResponded EventType = "consultation_responded"
)

// ResponseSource records which channel delivered a response.
type ResponseSource string

const (
	SourceMailbox    ResponseSource = "mailbox"
	SourceAdminPanel ResponseSource = "admin_panel"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type   domain.SubjectType `json:"type"`
	UserID *string            `json:"user_id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID             string      `json:"id"`
	Type           EventType   `json:"type"`
	ConsultationID string      `json:"consultation_id"`
	Ticket         string      `json:"ticket"`
	Actor          Actor       `json:"actor"`
	Timestamp      time.Time   `json:"timestamp"`
	Payload        interface{} `json:"payload"`
}

// ConsultationCreatedPayload payload.
type ConsultationCreatedPayload struct {
	UserID string `json:"user_id"`
	Type   string `json:"consultation_type"`
}

// ConsultationRespondedPayload payload.
type ConsultationRespondedPayload struct {
	Source       ResponseSource `json:"source"`
	ResponseDate time.Time      `json:"response_date"`
	MessageID    string         `json:"message_id,omitempty"`
}
