package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zacode/consultation-service/internal/domain"
	"github.com/zacode/consultation-service/internal/events"
	"github.com/zacode/consultation-service/internal/observability"
	"github.com/zacode/consultation-service/internal/repository"
)

// Mailer delivers consultation notifications.
type Mailer interface {
	NotifyAdminNewConsultation(ctx context.Context, c *domain.Consultation, user *domain.User) error
	NotifyUserResponded(ctx context.Context, c *domain.Consultation, user *domain.User) error
}

const (
	notifyAdminCreated = "admin_created"
	notifyUserAnswered = "user_answered"
)

// NotificationService handles emitting notifications for domain events.
type NotificationService struct {
	mailer        Mailer
	consultations repository.ConsultationRepository
	users         repository.UserRepository
	logger        *zap.Logger
	metrics       *observability.Metrics
	storeTimeout  time.Duration
	now           func() time.Time
}

// NotificationDependencies bundles collaborators for the notification service.
type NotificationDependencies struct {
	Mailer           Mailer
	ConsultationRepo repository.ConsultationRepository
	UserRepo         repository.UserRepository
	Logger           *zap.Logger
	Metrics          *observability.Metrics
	StoreTimeout     time.Duration
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		mailer:        deps.Mailer,
		consultations: deps.ConsultationRepo,
		users:         deps.UserRepo,
		logger:        logger,
		metrics:       deps.Metrics,
		storeTimeout:  deps.StoreTimeout,
		now:           time.Now,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	dispatcher.Subscribe(events.EventConsultationCreated, n.handleConsultationCreated)
	dispatcher.Subscribe(events.EventConsultationResponded, n.handleConsultationResponded)
}

func (n *NotificationService) handleConsultationCreated(ctx context.Context, event events.Event) error {
	c, user, err := n.load(ctx, event.ConsultationID)
	if err != nil {
		return err
	}
	return n.NotifyCreated(ctx, c, user)
}

func (n *NotificationService) handleConsultationResponded(ctx context.Context, event events.Event) error {
	c, user, err := n.load(ctx, event.ConsultationID)
	if err != nil {
		return err
	}
	return n.NotifyResponded(ctx, c, user)
}

func (n *NotificationService) load(ctx context.Context, id string) (*domain.Consultation, *domain.User, error) {
	ctx, cancel := withTimeout(ctx, n.storeTimeout)
	defer cancel()
	c, err := n.consultations.GetByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load consultation %s: %w", id, err)
	}
	user, err := n.users.GetByID(ctx, c.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("load user %s: %w", c.UserID, err)
	}
	return c, user, nil
}

// NotifyCreated emails the admin inbox and marks the admin notice as sent.
func (n *NotificationService) NotifyCreated(ctx context.Context, c *domain.Consultation, user *domain.User) error {
	if c.NotificationSentToAdmin {
		return nil
	}
	err := n.mailer.NotifyAdminNewConsultation(ctx, c, user)
	n.metrics.RecordNotification(notifyAdminCreated, err)
	if err != nil {
		n.logger.Error("admin notification failed",
			zap.String("ticket", c.Ticket()),
			zap.String("consultation_id", c.ID),
			zap.Error(err))
		return err
	}
	return n.mark(ctx, c, n.consultations.MarkAdminNotified)
}

// NotifyResponded emails the stored response to the requester. The user flag is
// set only after the relay accepted the message.
func (n *NotificationService) NotifyResponded(ctx context.Context, c *domain.Consultation, user *domain.User) error {
	if !c.Responded() || c.NotificationSentToUser {
		return nil
	}
	err := n.mailer.NotifyUserResponded(ctx, c, user)
	n.metrics.RecordNotification(notifyUserAnswered, err)
	if err != nil {
		n.logger.Error("user notification failed",
			zap.String("ticket", c.Ticket()),
			zap.String("consultation_id", c.ID),
			zap.Error(err))
		return err
	}
	if err := n.mark(ctx, c, n.consultations.MarkUserNotified); err != nil {
		return err
	}
	n.logger.Info("user notified",
		zap.String("ticket", c.Ticket()),
		zap.String("consultation_id", c.ID))
	return nil
}

func (n *NotificationService) mark(ctx context.Context, c *domain.Consultation, fn func(context.Context, string) error) error {
	ctx, cancel := withTimeout(ctx, n.storeTimeout)
	defer cancel()
	if err := fn(ctx, c.ID); err != nil {
		n.logger.Error("notification flag update failed",
			zap.String("consultation_id", c.ID),
			zap.Error(err))
		return err
	}
	return nil
}

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	Pending int
	Sent    int
	Failed  int
}

// SweepPendingResponses resends response notices that never reached the user.
// Only consultations answered at least minAge ago are considered.
func (n *NotificationService) SweepPendingResponses(ctx context.Context, minAge time.Duration, batch int) (SweepResult, error) {
	var result SweepResult
	listCtx, cancel := withTimeout(ctx, n.storeTimeout)
	pending, err := n.consultations.ListPendingUserNotifications(listCtx, n.now().Add(-minAge), batch)
	cancel()
	if err != nil {
		return result, fmt.Errorf("list pending notifications: %w", err)
	}
	result.Pending = len(pending)

	for i := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		c := &pending[i]
		userCtx, cancel := withTimeout(ctx, n.storeTimeout)
		user, err := n.users.GetByID(userCtx, c.UserID)
		cancel()
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			result.Failed++
			continue
		}
		if err := n.NotifyResponded(ctx, c, user); err != nil {
			result.Failed++
			continue
		}
		result.Sent++
	}
	return result, nil
}
