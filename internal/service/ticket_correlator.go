package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zacode/consultation-service/internal/domain"
	"github.com/zacode/consultation-service/internal/repository"
)

var (
	// ErrTicketNotFound means no consultation carries the ticket.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrAmbiguousTicket means a legacy ticket matched more than one consultation.
	ErrAmbiguousTicket = errors.New("ticket matches more than one consultation")
	// ErrAlreadyResponded means the consultation already has its response.
	ErrAlreadyResponded = errors.New("consultation already responded")
)

// Correlation is a resolved ticket.
type Correlation struct {
	Consultation *domain.Consultation
	// User is nil when the owning account no longer exists.
	User *domain.User
}

// TicketCorrelator maps ticket tokens from email subjects to consultations.
type TicketCorrelator struct {
	consultations repository.ConsultationRepository
	users         repository.UserRepository
	logger        *zap.Logger
}

// NewTicketCorrelator constructs the correlator.
func NewTicketCorrelator(consultations repository.ConsultationRepository, users repository.UserRepository, logger *zap.Logger) *TicketCorrelator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketCorrelator{consultations: consultations, users: users, logger: logger}
}

// Resolve finds the consultation for token, first by its dedicated ticket code
// and then by the legacy id prefix. ErrAlreadyResponded is returned together
// with the correlation.
func (c *TicketCorrelator) Resolve(ctx context.Context, token string) (*Correlation, error) {
	ticket := domain.NormalizeTicket(token)
	if ticket == "" || ticket == domain.TicketPrefix {
		return nil, fmt.Errorf("%w: empty token", ErrTicketNotFound)
	}

	consultation, err := c.consultations.GetByTicketCode(ctx, ticket)
	if errors.Is(err, repository.ErrNotFound) {
		consultation, err = c.resolveLegacy(ctx, ticket)
	}
	if err != nil {
		return nil, err
	}

	corr := &Correlation{Consultation: consultation}
	user, err := c.users.GetByID(ctx, consultation.UserID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.logger.Warn("consultation owner not found",
			zap.String("ticket", ticket),
			zap.String("consultation_id", consultation.ID),
			zap.String("user_id", consultation.UserID))
	case err != nil:
		return nil, fmt.Errorf("load owner of %s: %w", ticket, err)
	default:
		corr.User = user
	}

	if consultation.Responded() {
		return corr, fmt.Errorf("%w: %s", ErrAlreadyResponded, ticket)
	}
	return corr, nil
}

func (c *TicketCorrelator) resolveLegacy(ctx context.Context, ticket string) (*domain.Consultation, error) {
	prefix := domain.LegacyPrefix(ticket)
	rows, err := c.consultations.ListByLegacyPrefix(ctx, prefix, 2)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", ticket, err)
	}
	switch len(rows) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, ticket)
	case 1:
		return &rows[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousTicket, ticket)
	}
}
