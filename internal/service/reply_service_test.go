package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zacode/consultation-service/internal/domain"
	"github.com/zacode/consultation-service/internal/mailbox"
)

func adminReply(messageID, ticket, body string) *domain.InboundMessage {
	return &domain.InboundMessage{
		UID:       7,
		MessageID: messageID,
		From:      "admin@zacode.test",
		Subject:   "Re: New Consultation Request #" + ticket + " from Dina",
		Text:      body,
	}
}

func TestReplyPipelineRespondsAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c-1", "TKT-AB12CD34", "user-1")

	msg := adminReply("m-1@mail", "TKT-AB12CD34",
		"Your visa application is approved.\r\n\r\nOn Mon, 4 Mar 2024, Zacode Support wrote:\r\n> Which documents do I need?\r\n")
	require.Equal(t, mailbox.Consume, f.replies.Handle(context.Background(), msg))

	c := f.get(t, "c-1")
	require.Equal(t, domain.ConsultationStatusResponded, c.Status)
	require.Equal(t, "Your visa application is approved.", *c.AdminResponse)
	require.NotNil(t, c.ResponseDate)
	require.Nil(t, c.AdminID)
	require.True(t, c.NotificationSentToUser)
	require.Equal(t, 1, f.mailer.userCount())

	seen, err := f.ledger.Seen(context.Background(), "m-1@mail")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestReplyPipelineIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c-1", "TKT-AB12CD34", "user-1")
	ctx := context.Background()

	require.Equal(t, mailbox.Consume, f.replies.Handle(ctx, adminReply("m-1@mail", "TKT-AB12CD34", "first answer")))
	first := f.get(t, "c-1")
	require.NotNil(t, first.ResponseDate)
	require.True(t, first.NotificationSentToUser)

	// Same message redelivered.
	require.Equal(t, mailbox.Consume, f.replies.Handle(ctx, adminReply("m-1@mail", "TKT-AB12CD34", "first answer")))
	// A second, different reply to the same ticket.
	require.Equal(t, mailbox.Consume, f.replies.Handle(ctx, adminReply("m-2@mail", "tkt-ab12cd34", "second answer")))

	c := f.get(t, "c-1")
	require.Equal(t, "first answer", *c.AdminResponse)
	require.True(t, first.ResponseDate.Equal(*c.ResponseDate))
	require.True(t, c.NotificationSentToUser)
	require.Equal(t, 1, f.mailer.userCount())
}

func TestReplyPipelineKeepsAdminPanelResponse(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c-1", "TKT-AB12CD34", "user-1")
	ctx := context.Background()

	_, err := f.service.Respond(ctx, "admin-1", "c-1", "answered in the panel")
	require.NoError(t, err)
	before := f.get(t, "c-1")

	require.Equal(t, mailbox.Consume, f.replies.Handle(ctx, adminReply("m-1@mail", "TKT-AB12CD34", "late mail reply")))

	after := f.get(t, "c-1")
	require.Equal(t, "answered in the panel", *after.AdminResponse)
	require.True(t, before.ResponseDate.Equal(*after.ResponseDate))
	require.Equal(t, before.NotificationSentToUser, after.NotificationSentToUser)
	require.Equal(t, before.AdminID, after.AdminID)
}

func TestReplyPipelineConsumesUnmatchedMessages(t *testing.T) {
	cases := []struct {
		name string
		msg  *domain.InboundMessage
	}{
		{name: "not a reply", msg: &domain.InboundMessage{MessageID: "a", Subject: "Newsletter", Text: "hello"}},
		{name: "empty reply", msg: adminReply("b", "TKT-AB12CD34", "> quoted only")},
		{name: "unknown ticket", msg: adminReply("c", "TKT-FFFFFFFF", "answer")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "c-1", "TKT-AB12CD34", "user-1")

			require.Equal(t, mailbox.Consume, f.replies.Handle(context.Background(), tc.msg))
			require.False(t, f.get(t, "c-1").Responded())
			require.Zero(t, f.mailer.userCount())
		})
	}
}

func TestReplyPipelineResolvesLegacyTicket(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ab12cd34-5678-90ef-aaaa-bbbbbbbbbbbb", "", "user-1")

	msg := adminReply("m-1", "TKT-AB12CD34", "legacy answer")
	require.Equal(t, mailbox.Consume, f.replies.Handle(context.Background(), msg))
	require.Equal(t, "legacy answer", *f.get(t, "ab12cd34-5678-90ef-aaaa-bbbbbbbbbbbb").AdminResponse)
}

func TestReplyPipelineRejectsAmbiguousLegacyTicket(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ab12cd34-0000", "", "user-1")
	f.seed(t, "AB12CD34-1111", "", "user-1")

	require.Equal(t, mailbox.Consume, f.replies.Handle(context.Background(), adminReply("m-1", "TKT-AB12CD34", "answer")))
	require.False(t, f.get(t, "ab12cd34-0000").Responded())
	require.False(t, f.get(t, "AB12CD34-1111").Responded())
}

func TestReplyPipelineRetainsOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c-1", "TKT-AB12CD34", "user-1")
	f.replies.consultations = failingStore{f.consultations}

	require.Equal(t, mailbox.Retain, f.replies.Handle(context.Background(), adminReply("m-1", "TKT-AB12CD34", "answer")))
	seen, err := f.ledger.Seen(context.Background(), "m-1")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestReplyPipelineNotificationFailureLeavesFlagForSweep(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c-1", "TKT-AB12CD34", "user-1")
	f.mailer.userErr = errors.New("relay down")

	require.Equal(t, mailbox.Consume, f.replies.Handle(context.Background(), adminReply("m-1", "TKT-AB12CD34", "answer")))
	c := f.get(t, "c-1")
	require.True(t, c.Responded())
	require.False(t, c.NotificationSentToUser)

	f.mailer.userErr = nil
	result, err := f.notifications.SweepPendingResponses(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Equal(t, SweepResult{Pending: 1, Sent: 1}, result)
	require.True(t, f.get(t, "c-1").NotificationSentToUser)
	require.Equal(t, "answer", *f.get(t, "c-1").AdminResponse)
}

func TestReplyPipelineToleratesMissingOwner(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c-1", "TKT-AB12CD34", "deleted-user")

	require.Equal(t, mailbox.Consume, f.replies.Handle(context.Background(), adminReply("m-1", "TKT-AB12CD34", "answer")))
	c := f.get(t, "c-1")
	require.True(t, c.Responded())
	require.False(t, c.NotificationSentToUser)
}

func TestReplyPipelineLedgerFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c-1", "TKT-AB12CD34", "user-1")
	f.ledger.Err = errors.New("redis down")

	require.Equal(t, mailbox.Consume, f.replies.Handle(context.Background(), adminReply("m-1", "TKT-AB12CD34", "answer")))
	require.True(t, f.get(t, "c-1").Responded())
}

func TestTicketCorrelatorAlreadyResponded(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c-1", "TKT-AB12CD34", "user-1")
	_, err := f.service.Respond(context.Background(), "admin-1", "c-1", "done")
	require.NoError(t, err)

	corr, err := NewTicketCorrelator(f.consultations, f.users, nil).Resolve(context.Background(), " tkt-ab12cd34 ")
	require.ErrorIs(t, err, ErrAlreadyResponded)
	require.Equal(t, "c-1", corr.Consultation.ID)
	require.Equal(t, "user-1", corr.User.ID)
}

func TestTicketCorrelatorNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := NewTicketCorrelator(f.consultations, f.users, nil).Resolve(context.Background(), "TKT-00000000")
	require.ErrorIs(t, err, ErrTicketNotFound)
	_, err = NewTicketCorrelator(f.consultations, f.users, nil).Resolve(context.Background(), "")
	require.ErrorIs(t, err, ErrTicketNotFound)
}

func TestSweepSkipsRecentResponses(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "c-1", "TKT-AB12CD34", "user-1")
	f.mailer.userErr = errors.New("relay down")
	require.Equal(t, mailbox.Consume, f.replies.Handle(context.Background(), adminReply("m-1", "TKT-AB12CD34", "answer")))
	f.mailer.userErr = nil

	result, err := f.notifications.SweepPendingResponses(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	require.Zero(t, result.Pending)
}
