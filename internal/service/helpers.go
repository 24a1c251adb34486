package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zacode/consultation-service/internal/domain"
	"github.com/zacode/consultation-service/internal/events"
)

func generateTicketCode() string {
	return domain.TicketPrefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func publishEvent(ctx context.Context, dispatcher events.Dispatcher, event events.Event) {
	if dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = dispatcher.Publish(ctx, event)
}

func userActor(userID string) events.Actor {
	return events.Actor{Type: domain.SubjectTypeUser, UserID: &userID}
}

func adminActor(adminID *string) events.Actor {
	return events.Actor{Type: domain.SubjectTypeAdmin, UserID: adminID}
}
