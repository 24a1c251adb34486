package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/zacode/consultation-service/internal/domain"
	"github.com/zacode/consultation-service/internal/events"
	"github.com/zacode/consultation-service/internal/mailbox"
	"github.com/zacode/consultation-service/internal/observability"
	"github.com/zacode/consultation-service/internal/replyparser"
	"github.com/zacode/consultation-service/internal/repository"
)

// Outcomes recorded for every inbound message.
const (
	OutcomeResponded        = "responded"
	OutcomeDuplicate        = "duplicate"
	OutcomeNotAReply        = "not_a_reply"
	OutcomeEmptyReply       = "empty_reply"
	OutcomeTicketNotFound   = "ticket_not_found"
	OutcomeAmbiguousTicket  = "ambiguous_ticket"
	OutcomeAlreadyResponded = "already_responded"
	OutcomeStoreError       = "store_error"
)

// ReplyService turns admin replies from the support mailbox into consultation
// responses.
type ReplyService struct {
	correlator    *TicketCorrelator
	consultations repository.ConsultationRepository
	ledger        repository.ProcessedLedger
	dispatcher    events.Dispatcher
	logger        *zap.Logger
	metrics       *observability.Metrics
	storeTimeout  time.Duration
	now           func() time.Time
}

// ReplyDependencies bundles collaborators for the reply pipeline.
type ReplyDependencies struct {
	Correlator       *TicketCorrelator
	ConsultationRepo repository.ConsultationRepository
	Ledger           repository.ProcessedLedger
	Dispatcher       events.Dispatcher
	Logger           *zap.Logger
	Metrics          *observability.Metrics
	StoreTimeout     time.Duration
}

// NewReplyService constructs the pipeline.
func NewReplyService(deps ReplyDependencies) *ReplyService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplyService{
		correlator:    deps.Correlator,
		consultations: deps.ConsultationRepo,
		ledger:        deps.Ledger,
		dispatcher:    deps.Dispatcher,
		logger:        logger.With(zap.String("component", "reply_pipeline")),
		metrics:       deps.Metrics,
		storeTimeout:  deps.StoreTimeout,
		now:           time.Now,
	}
}

var _ mailbox.Handler = (*ReplyService)(nil)

// Handle processes one mailbox message. Only store failures leave the message
// unseen; every other outcome consumes it.
func (s *ReplyService) Handle(ctx context.Context, msg *domain.InboundMessage) mailbox.Disposition {
	logger := s.logger.With(
		zap.Uint32("uid", msg.UID),
		zap.String("message_id", msg.MessageID))

	if s.alreadyProcessed(ctx, msg, logger) {
		return s.finish(ctx, msg, OutcomeDuplicate, mailbox.Consume)
	}

	reply, err := replyparser.Parse(msg.Subject, msg.Text)
	switch {
	case errors.Is(err, replyparser.ErrNotAReply):
		logger.Debug("ignoring message without ticket reference", zap.String("subject", msg.Subject))
		return s.finish(ctx, msg, OutcomeNotAReply, mailbox.Consume)
	case errors.Is(err, replyparser.ErrEmptyReply):
		logger.Info("reply body empty after cleaning", zap.String("ticket", reply.Ticket))
		return s.finish(ctx, msg, OutcomeEmptyReply, mailbox.Consume)
	}
	logger = logger.With(zap.String("ticket", reply.Ticket))

	storeCtx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()

	corr, err := s.correlator.Resolve(storeCtx, reply.Ticket)
	switch {
	case errors.Is(err, ErrTicketNotFound):
		logger.Info("reply references unknown ticket")
		return s.finish(ctx, msg, OutcomeTicketNotFound, mailbox.Consume)
	case errors.Is(err, ErrAmbiguousTicket):
		logger.Warn("reply references ambiguous legacy ticket")
		return s.finish(ctx, msg, OutcomeAmbiguousTicket, mailbox.Consume)
	case errors.Is(err, ErrAlreadyResponded):
		logger.Info("consultation already responded, reply discarded",
			zap.String("consultation_id", corr.Consultation.ID))
		return s.finish(ctx, msg, OutcomeAlreadyResponded, mailbox.Consume)
	case err != nil:
		logger.Error("ticket lookup failed", zap.Error(err))
		return s.finish(ctx, msg, OutcomeStoreError, mailbox.Retain)
	}

	updated, applied, err := s.consultations.Respond(storeCtx, repository.RespondInput{
		ID:       corr.Consultation.ID,
		Response: reply.Body,
		At:       s.now().UTC(),
	})
	switch {
	case err != nil:
		logger.Error("storing response failed",
			zap.String("consultation_id", corr.Consultation.ID),
			zap.Error(err))
		return s.finish(ctx, msg, OutcomeStoreError, mailbox.Retain)
	case updated == nil:
		logger.Info("consultation disappeared before update", zap.String("consultation_id", corr.Consultation.ID))
		return s.finish(ctx, msg, OutcomeTicketNotFound, mailbox.Consume)
	case !applied:
		logger.Info("consultation already responded, reply discarded", zap.String("consultation_id", updated.ID))
		return s.finish(ctx, msg, OutcomeAlreadyResponded, mailbox.Consume)
	}

	logger.Info("consultation responded from mailbox", zap.String("consultation_id", updated.ID))
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:           events.EventConsultationResponded,
		ConsultationID: updated.ID,
		Ticket:         updated.Ticket(),
		Actor:          events.Actor{Type: domain.SubjectTypeAdmin},
		Payload: events.ConsultationRespondedPayload{
			Source:       events.SourceMailbox,
			ResponseDate: *updated.ResponseDate,
			MessageID:    msg.MessageID,
		},
	})
	return s.finish(ctx, msg, OutcomeResponded, mailbox.Consume)
}

func (s *ReplyService) alreadyProcessed(ctx context.Context, msg *domain.InboundMessage, logger *zap.Logger) bool {
	if s.ledger == nil || msg.Key() == "" {
		return false
	}
	ctx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()
	seen, err := s.ledger.Seen(ctx, msg.Key())
	if err != nil {
		logger.Warn("processed ledger unavailable", zap.Error(err))
		return false
	}
	return seen
}

func (s *ReplyService) finish(ctx context.Context, msg *domain.InboundMessage, outcome string, d mailbox.Disposition) mailbox.Disposition {
	s.metrics.RecordMessage(outcome)
	if d != mailbox.Consume || s.ledger == nil || msg.Key() == "" || outcome == OutcomeDuplicate {
		return d
	}
	ctx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.ledger.Remember(ctx, msg.Key()); err != nil {
		s.logger.Warn("processed ledger write failed",
			zap.String("message_id", msg.MessageID),
			zap.Error(err))
	}
	return d
}
