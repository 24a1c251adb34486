package domain

import (
	"strings"
	"time"
)

// ConsultationStatus tracks whether an admin response exists.
type ConsultationStatus string

const (
	ConsultationStatusAwaiting  ConsultationStatus = "awaiting"
	ConsultationStatusResponded ConsultationStatus = "responded"
)

// TicketPrefix is prepended to every human-readable ticket code.
const TicketPrefix = "TKT-"

const ticketCodeLength = 8

// Consultation is a support request with a single allowed admin response.
type Consultation struct {
	ID                      string
	TicketCode              string
	UserID                  string
	Type                    string
	Content                 string
	PhoneNumber             *string
	Status                  ConsultationStatus
	AdminResponse           *string
	AdminID                 *string
	ResponseDate            *time.Time
	NotificationSentToAdmin bool
	NotificationSentToUser  bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Responded reports whether the consultation already carries an admin response.
func (c *Consultation) Responded() bool {
	return c != nil && c.Status == ConsultationStatusResponded
}

// Ticket returns the ticket code shown in email subjects. Rows created before
// dedicated codes existed fall back to the code derived from the id.
func (c *Consultation) Ticket() string {
	if c == nil {
		return ""
	}
	if c.TicketCode != "" {
		return c.TicketCode
	}
	return LegacyTicketCode(c.ID)
}

// LegacyTicketCode derives "TKT-" plus the first eight characters of id, upper-cased.
func LegacyTicketCode(id string) string {
	if id == "" {
		return ""
	}
	prefix := id
	if len(prefix) > ticketCodeLength {
		prefix = prefix[:ticketCodeLength]
	}
	return TicketPrefix + strings.ToUpper(prefix)
}

// NormalizeTicket upper-cases a token and adds the ticket prefix when missing.
func NormalizeTicket(token string) string {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return ""
	}
	if !strings.HasPrefix(token, TicketPrefix) {
		token = TicketPrefix + token
	}
	return token
}

// LegacyPrefix returns the id prefix encoded in a normalized ticket code.
func LegacyPrefix(ticket string) string {
	return strings.TrimPrefix(NormalizeTicket(ticket), TicketPrefix)
}
