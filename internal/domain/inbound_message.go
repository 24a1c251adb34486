package domain

import "time"

// InboundMessage is a mailbox message decoded into the fields the reply pipeline reads.
// It is never persisted.
type InboundMessage struct {
	UID        uint32
	MessageID  string
	From       string
	Subject    string
	Text       string
	ReceivedAt time.Time
}

// Key identifies the message for deduplication. Messages without a Message-ID
// header return an empty key and are never deduplicated.
func (m *InboundMessage) Key() string {
	if m == nil {
		return ""
	}
	return m.MessageID
}
