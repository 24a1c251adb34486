// Package memory provides in-process repository implementations for tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zacode/consultation-service/internal/domain"
	"github.com/zacode/consultation-service/internal/repository"
)

// ConsultationStore is a concurrency-safe ConsultationRepository.
type ConsultationStore struct {
	mu    sync.Mutex
	items map[string]domain.Consultation
	now   func() time.Time
}

// legacyPrefixLen matches the SUBSTRING length used by the Postgres store.
const legacyPrefixLen = 8

// NewConsultationStore returns an empty store.
func NewConsultationStore() *ConsultationStore {
	return &ConsultationStore{items: map[string]domain.Consultation{}, now: time.Now}
}

var _ repository.ConsultationRepository = (*ConsultationStore)(nil)

func (s *ConsultationStore) Create(_ context.Context, c *domain.Consultation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.TicketCode != "" {
		for _, existing := range s.items {
			if existing.TicketCode == c.TicketCode {
				return repository.ErrDuplicateTicketCode
			}
		}
	}
	now := s.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	stored := clone(*c)
	stored.ID = strings.Clone(c.ID)
	s.items[stored.ID] = stored
	return nil
}

func (s *ConsultationStore) GetByID(_ context.Context, id string) (*domain.Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := clone(c)
	return &out, nil
}

func (s *ConsultationStore) GetByTicketCode(_ context.Context, code string) (*domain.Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.items {
		if c.TicketCode != "" && c.TicketCode == code {
			out := clone(c)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *ConsultationStore) ListByLegacyPrefix(_ context.Context, prefix string, limit int) ([]domain.Consultation, error) {
	if limit <= 0 {
		limit = 2
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix = strings.ToUpper(prefix)
	var out []domain.Consultation
	for _, c := range s.items {
		if c.TicketCode != "" {
			continue
		}
		id := c.ID
		if len(id) > legacyPrefixLen {
			id = id[:legacyPrefixLen]
		}
		if prefix != "" && strings.ToUpper(id) == prefix {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ConsultationStore) Respond(_ context.Context, in repository.RespondInput) (*domain.Consultation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[in.ID]
	if !ok {
		return nil, false, nil
	}
	if c.Responded() {
		out := clone(c)
		return &out, false, nil
	}
	response := strings.Clone(in.Response)
	at := in.At.UTC()
	c.AdminResponse = &response
	c.AdminID = copyString(in.AdminID)
	c.ResponseDate = &at
	c.Status = domain.ConsultationStatusResponded
	c.NotificationSentToUser = false
	c.UpdatedAt = s.now().UTC()
	s.items[c.ID] = c
	out := clone(c)
	return &out, true, nil
}

func (s *ConsultationStore) MarkUserNotified(_ context.Context, id string) error {
	return s.update(id, func(c *domain.Consultation) { c.NotificationSentToUser = true })
}

func (s *ConsultationStore) MarkAdminNotified(_ context.Context, id string) error {
	return s.update(id, func(c *domain.Consultation) { c.NotificationSentToAdmin = true })
}

func (s *ConsultationStore) ListPendingUserNotifications(_ context.Context, respondedBefore time.Time, limit int) ([]domain.Consultation, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Consultation
	for _, c := range s.items {
		if c.Responded() && !c.NotificationSentToUser && c.ResponseDate != nil && !c.ResponseDate.After(respondedBefore) {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResponseDate.Before(*out[j].ResponseDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ConsultationStore) update(id string, fn func(*domain.Consultation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&c)
	c.UpdatedAt = s.now().UTC()
	s.items[c.ID] = c
	return nil
}

func clone(c domain.Consultation) domain.Consultation {
	c.PhoneNumber = copyString(c.PhoneNumber)
	c.AdminResponse = copyString(c.AdminResponse)
	c.AdminID = copyString(c.AdminID)
	if c.ResponseDate != nil {
		t := *c.ResponseDate
		c.ResponseDate = &t
	}
	return c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.Clone(*s)
	return &v
}

// UserStore is an in-memory UserRepository.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewUserStore returns a store seeded with users.
func NewUserStore(users ...domain.User) *UserStore {
	s := &UserStore{users: map[string]domain.User{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

var _ repository.UserRepository = (*UserStore)(nil)

// Put inserts or replaces a user.
func (s *UserStore) Put(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *UserStore) GetByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

// Ledger is an in-memory ProcessedLedger.
type Ledger struct {
	mu   sync.Mutex
	keys map[string]struct{}
	Err  error
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{keys: map[string]struct{}{}}
}

var _ repository.ProcessedLedger = (*Ledger)(nil)

func (l *Ledger) Seen(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return false, l.Err
	}
	_, ok := l.keys[key]
	return ok && key != "", nil
}

func (l *Ledger) Remember(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	if key != "" {
		l.keys[key] = struct{}{}
	}
	return nil
}

func (l *Ledger) Forget(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.keys, key)
	return nil
}
