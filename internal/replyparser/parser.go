// Package replyparser recognizes admin replies to consultation notifications and
// strips quoted history from their bodies.
package replyparser

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrNotAReply means the subject carries no ticket reference.
	ErrNotAReply = errors.New("message is not a consultation reply")
	// ErrEmptyReply means nothing was left after quote stripping.
	ErrEmptyReply = errors.New("reply body is empty after cleaning")
)

var subjectPattern = regexp.MustCompile(`(?i)Request #([A-Za-z0-9-]+)`)

// Rule cuts a body at the first line matching Pattern.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// Apply returns the trimmed text before the first match, or text unchanged when
// the rule does not match.
func (r Rule) Apply(text string) string {
	loc := r.Pattern.FindStringIndex(text)
	if loc == nil {
		return text
	}
	return strings.TrimSpace(text[:loc[0]])
}

// Rules are applied in order by Clean.
var Rules = []Rule{
	{Name: "attribution", Pattern: regexp.MustCompile(`(?m)^\s*On.*wrote:$`)},
	{Name: "quote", Pattern: regexp.MustCompile(`(?m)^\s*>.*$`)},
	{Name: "from", Pattern: regexp.MustCompile(`(?m)^\s*From:.*$`)},
	{Name: "sent", Pattern: regexp.MustCompile(`(?m)^\s*Sent:.*$`)},
	{Name: "to", Pattern: regexp.MustCompile(`(?m)^\s*To:.*$`)},
	{Name: "subject", Pattern: regexp.MustCompile(`(?m)^\s*Subject:.*$`)},
	{Name: "original-message", Pattern: regexp.MustCompile(`(?m)^\s*-+Original Message-+.*$`)},
	{Name: "reply-above", Pattern: regexp.MustCompile(`(?m)^\s*-+Reply Above This Line-+.*$`)},
}

const signatureDelimiter = "--\n"

// Reply is a recognized admin reply.
type Reply struct {
	Ticket string
	Body   string
}

// ExtractTicket returns the token following "Request #" in subject.
func ExtractTicket(subject string) (string, bool) {
	m := subjectPattern.FindStringSubmatch(subject)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Clean strips quoted history, leftover quote lines and the signature from body.
func Clean(body string) string {
	text := strings.ReplaceAll(body, "\r\n", "\n")
	for _, rule := range Rules {
		text = rule.Apply(text)
	}

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}
	text = strings.Join(kept, "\n")

	if i := strings.Index(text, signatureDelimiter); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// Parse recognizes a reply by its subject and returns the cleaned body.
func Parse(subject, body string) (Reply, error) {
	ticket, ok := ExtractTicket(subject)
	if !ok {
		return Reply{}, ErrNotAReply
	}
	cleaned := Clean(body)
	if cleaned == "" {
		return Reply{Ticket: ticket}, ErrEmptyReply
	}
	return Reply{Ticket: ticket, Body: cleaned}, nil
}
