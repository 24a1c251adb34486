package dto

import (
	"time"

	"github.com/zacode/consultation-service/internal/domain"
)

// CreateConsultationRequest payload for POST /consultations.
type CreateConsultationRequest struct {
	ConsultationType    string  `json:"consultation_type"`
	ConsultationContent string  `json:"consultation_content"`
	PhoneNumber         *string `json:"phone_number"`
}

// RespondConsultationRequest payload for the admin response endpoint.
type RespondConsultationRequest struct {
	Response string `json:"response"`
}

// ConsultationResponse is the public view of a consultation.
type ConsultationResponse struct {
	ID                      string                    `json:"id"`
	Ticket                  string                    `json:"ticket"`
	UserID                  string                    `json:"user_id"`
	ConsultationType        string                    `json:"consultation_type"`
	ConsultationContent     string                    `json:"consultation_content"`
	PhoneNumber             *string                   `json:"phone_number,omitempty"`
	Status                  domain.ConsultationStatus `json:"status"`
	AdminResponse           *string                   `json:"admin_response,omitempty"`
	ResponseDate            *time.Time                `json:"response_date,omitempty"`
	NotificationSentToAdmin bool                      `json:"notification_sent_to_admin"`
	NotificationSentToUser  bool                      `json:"notification_sent_to_user"`
	CreatedAt               time.Time                 `json:"created_at"`
	UpdatedAt               time.Time                 `json:"updated_at"`
}

// NewConsultationResponse maps the domain model to its JSON view.
func NewConsultationResponse(c *domain.Consultation) ConsultationResponse {
	return ConsultationResponse{
		ID:                      c.ID,
		Ticket:                  c.Ticket(),
		UserID:                  c.UserID,
		ConsultationType:        c.Type,
		ConsultationContent:     c.Content,
		PhoneNumber:             c.PhoneNumber,
		Status:                  c.Status,
		AdminResponse:           c.AdminResponse,
		ResponseDate:            c.ResponseDate,
		NotificationSentToAdmin: c.NotificationSentToAdmin,
		NotificationSentToUser:  c.NotificationSentToUser,
		CreatedAt:               c.CreatedAt,
		UpdatedAt:               c.UpdatedAt,
	}
}
