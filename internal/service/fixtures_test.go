package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zacode/consultation-service/internal/domain"
	"github.com/zacode/consultation-service/internal/events"
	"github.com/zacode/consultation-service/internal/repository"
	"github.com/zacode/consultation-service/internal/repository/memory"
)

type fakeMailer struct {
	mu        sync.Mutex
	adminSent []string
	userSent  []string
	userErr   error
}

func (m *fakeMailer) NotifyAdminNewConsultation(_ context.Context, c *domain.Consultation, _ *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adminSent = append(m.adminSent, c.ID)
	return nil
}

func (m *fakeMailer) NotifyUserResponded(_ context.Context, c *domain.Consultation, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userErr != nil {
		return m.userErr
	}
	if user == nil {
		return errors.New("no recipient")
	}
	m.userSent = append(m.userSent, c.ID)
	return nil
}

func (m *fakeMailer) userCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.userSent)
}

type fixture struct {
	consultations *memory.ConsultationStore
	users         *memory.UserStore
	ledger        *memory.Ledger
	mailer        *fakeMailer
	dispatcher    events.Dispatcher
	notifications *NotificationService
	replies       *ReplyService
	service       *ConsultationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := "Dina"
	f := &fixture{
		consultations: memory.NewConsultationStore(),
		users:         memory.NewUserStore(domain.User{ID: "user-1", Name: &name, Email: "dina@example.com"}),
		ledger:        memory.NewLedger(),
		mailer:        &fakeMailer{},
		dispatcher:    events.NewInMemoryDispatcher(zap.NewNop()),
	}
	f.notifications = NewNotificationService(NotificationDependencies{
		Mailer:           f.mailer,
		ConsultationRepo: f.consultations,
		UserRepo:         f.users,
		StoreTimeout:     time.Second,
	})
	f.notifications.RegisterHandlers(f.dispatcher)
	f.replies = NewReplyService(ReplyDependencies{
		Correlator:       NewTicketCorrelator(f.consultations, f.users, nil),
		ConsultationRepo: f.consultations,
		Ledger:           f.ledger,
		Dispatcher:       f.dispatcher,
		StoreTimeout:     time.Second,
	})
	f.service = NewConsultationService(ConsultationDependencies{
		ConsultationRepo: f.consultations,
		UserRepo:         f.users,
		Dispatcher:       f.dispatcher,
		StoreTimeout:     time.Second,
	})
	return f
}

func (f *fixture) seed(t *testing.T, id, ticket, userID string) {
	t.Helper()
	require.NoError(t, f.consultations.Create(context.Background(), &domain.Consultation{
		ID:         id,
		TicketCode: ticket,
		UserID:     userID,
		Type:       "visa",
		Content:    "Which documents do I need?",
		Status:     domain.ConsultationStatusAwaiting,
	}))
}

func (f *fixture) get(t *testing.T, id string) *domain.Consultation {
	t.Helper()
	c, err := f.consultations.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

// failingStore breaks Respond to simulate an unavailable database.
type failingStore struct {
	*memory.ConsultationStore
}

func (s failingStore) Respond(context.Context, repository.RespondInput) (*domain.Consultation, bool, error) {
	return nil, false, errors.New("connection refused")
}
