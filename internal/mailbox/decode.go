package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/zacode/consultation-service/internal/domain"
)

const defaultMaxBodyBytes = 256 * 1024

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

var (
	htmlBreaks   = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|li|tr|h[1-6]|blockquote)>`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
	stripPolicy  = bluemonday.StrictPolicy()
	errNoTextual = errors.New("message has no text body")
)

// Decode parses an RFC 822 message into the fields the reply pipeline reads.
// The first text/plain part wins; an HTML-only message is reduced to text.
func Decode(raw []byte, maxBodyBytes int64) (*domain.InboundMessage, error) {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	defer reader.Close()

	msg := &domain.InboundMessage{}
	if subject, err := reader.Header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = reader.Header.Get("Subject")
	}
	if id, err := reader.Header.MessageID(); err == nil {
		msg.MessageID = id
	}
	if list, err := reader.Header.AddressList("From"); err == nil && len(list) > 0 {
		msg.From = strings.TrimSpace(list[0].Address)
	}
	if date, err := reader.Header.Date(); err == nil {
		msg.ReceivedAt = date.UTC()
	}

	var plain, htmlBody string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if gomessage.IsUnknownCharset(err) {
			continue
		}
		if err != nil {
			if plain != "" || htmlBody != "" {
				break
			}
			return nil, fmt.Errorf("read part: %w", err)
		}
		header, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := header.ContentType()
		switch {
		case mediaType == "" || strings.HasPrefix(mediaType, "text/plain"):
			if plain == "" {
				plain, err = readLimited(part.Body, maxBodyBytes)
			}
		case strings.HasPrefix(mediaType, "text/html"):
			if htmlBody == "" {
				htmlBody, err = readLimited(part.Body, maxBodyBytes)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}

	switch {
	case strings.TrimSpace(plain) != "":
		msg.Text = plain
	case strings.TrimSpace(htmlBody) != "":
		msg.Text = htmlToText(htmlBody)
	default:
		return msg, errNoTextual
	}
	return msg, nil
}

func readLimited(r io.Reader, limit int64) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func htmlToText(body string) string {
	text := htmlBreaks.ReplaceAllString(body, "\n")
	text = html.UnescapeString(stripPolicy.Sanitize(text))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\u00a0")
	}
	return strings.TrimSpace(blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

func receivedAt(msg *domain.InboundMessage, internal time.Time, now func() time.Time) time.Time {
	switch {
	case !internal.IsZero():
		return internal.UTC()
	case !msg.ReceivedAt.IsZero():
		return msg.ReceivedAt
	default:
		return now().UTC()
	}
}
