package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zacode/consultation-service/internal/domain"
	"github.com/zacode/consultation-service/internal/events"
	"github.com/zacode/consultation-service/internal/repository"
	apperrors "github.com/zacode/consultation-service/pkg/util"
)

const ticketCodeAttempts = 5

// ConsultationService coordinates consultation workflows outside the mailbox.
type ConsultationService struct {
	consultations repository.ConsultationRepository
	users         repository.UserRepository
	dispatcher    events.Dispatcher
	logger        *zap.Logger
	storeTimeout  time.Duration
	now           func() time.Time
	newTicketCode func() string
}

// ConsultationDependencies bundles repositories for the consultation service.
type ConsultationDependencies struct {
	ConsultationRepo repository.ConsultationRepository
	UserRepo         repository.UserRepository
	Dispatcher       events.Dispatcher
	Logger           *zap.Logger
	StoreTimeout     time.Duration
}

// CreateConsultationInput describes a new consultation.
type CreateConsultationInput struct {
	Type        string
	Content     string
	PhoneNumber *string
}

// NewConsultationService constructs the service.
func NewConsultationService(deps ConsultationDependencies) *ConsultationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsultationService{
		consultations: deps.ConsultationRepo,
		users:         deps.UserRepo,
		dispatcher:    deps.Dispatcher,
		logger:        logger,
		storeTimeout:  deps.StoreTimeout,
		now:           time.Now,
		newTicketCode: generateTicketCode,
	}
}

// Create stores a consultation with a fresh ticket code and announces it.
func (s *ConsultationService) Create(ctx context.Context, userID string, input CreateConsultationInput) (*domain.Consultation, error) {
	input.Type = strings.TrimSpace(input.Type)
	input.Content = strings.TrimSpace(input.Content)
	details := map[string]any{}
	if input.Type == "" {
		details["consultation_type"] = "required"
	}
	if input.Content == "" {
		details["consultation_content"] = "required"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid consultation", details)
	}
	if input.PhoneNumber != nil && strings.TrimSpace(*input.PhoneNumber) == "" {
		input.PhoneNumber = nil
	}

	consultation := &domain.Consultation{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        input.Type,
		Content:     input.Content,
		PhoneNumber: input.PhoneNumber,
		Status:      domain.ConsultationStatusAwaiting,
	}

	storeCtx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()

	var err error
	for attempt := 0; attempt < ticketCodeAttempts; attempt++ {
		consultation.TicketCode = s.newTicketCode()
		err = s.consultations.Create(storeCtx, consultation)
		if !errors.Is(err, repository.ErrDuplicateTicketCode) {
			break
		}
		s.logger.Warn("ticket code collision, retrying", zap.String("ticket", consultation.TicketCode))
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	s.logger.Info("consultation created",
		zap.String("ticket", consultation.TicketCode),
		zap.String("consultation_id", consultation.ID))
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:           events.EventConsultationCreated,
		ConsultationID: consultation.ID,
		Ticket:         consultation.TicketCode,
		Actor:          userActor(userID),
		Payload: events.ConsultationCreatedPayload{
			UserID: userID,
			Type:   consultation.Type,
		},
	})
	return consultation, nil
}

// Get returns a consultation visible to the caller. Users only see their own.
func (s *ConsultationService) Get(ctx context.Context, subjectID string, isAdmin bool, id string) (*domain.Consultation, error) {
	ctx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()
	consultation, err := s.consultations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("consultation", map[string]any{"consultation_id": id})
		}
		return nil, apperrors.MapError(err)
	}
	if !isAdmin && consultation.UserID != subjectID {
		return nil, apperrors.NewForbidden("access denied")
	}
	return consultation, nil
}

// Respond records an admin response through the authenticated panel path. The
// respond-once rule applies here exactly as for mailbox replies.
func (s *ConsultationService) Respond(ctx context.Context, adminID, id, response string) (*domain.Consultation, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, apperrors.NewValidationError("response is required", map[string]any{"response": "required"})
	}

	storeCtx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()
	var admin *string
	if adminID != "" {
		admin = &adminID
	}
	updated, applied, err := s.consultations.Respond(storeCtx, repository.RespondInput{
		ID:       id,
		Response: response,
		AdminID:  admin,
		At:       s.now().UTC(),
	})
	switch {
	case err != nil:
		return nil, apperrors.MapError(err)
	case updated == nil:
		return nil, apperrors.NewNotFound("consultation", map[string]any{"consultation_id": id})
	case !applied:
		return nil, apperrors.NewConflict("consultation already responded", map[string]any{
			"consultation_id": id,
			"ticket":          updated.Ticket(),
		})
	}

	s.logger.Info("consultation responded from admin panel",
		zap.String("ticket", updated.Ticket()),
		zap.String("consultation_id", updated.ID),
		zap.String("admin_id", adminID))
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:           events.EventConsultationResponded,
		ConsultationID: updated.ID,
		Ticket:         updated.Ticket(),
		Actor:          adminActor(admin),
		Payload: events.ConsultationRespondedPayload{
			Source:       events.SourceAdminPanel,
			ResponseDate: *updated.ResponseDate,
		},
	})
	return updated, nil
}
