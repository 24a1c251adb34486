package mailbox

import (
	"context"

	"github.com/zacode/consultation-service/internal/domain"
)

// Disposition tells the session what to do with a message after handling.
type Disposition int

const (
	// Consume marks the message \Seen so it is not delivered again.
	Consume Disposition = iota
	// Retain leaves the message unseen so a later drain retries it.
	Retain
)

func (d Disposition) String() string {
	if d == Retain {
		return "retain"
	}
	return "consume"
}

// Handler processes one inbound message.
type Handler interface {
	Handle(ctx context.Context, msg *domain.InboundMessage) Disposition
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *domain.InboundMessage) Disposition

func (f HandlerFunc) Handle(ctx context.Context, msg *domain.InboundMessage) Disposition {
	return f(ctx, msg)
}
