// Package mailrelay sends consultation notifications through SendGrid.
package mailrelay

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/zacode/consultation-service/internal/config"
	"github.com/zacode/consultation-service/internal/domain"
)

//go:embed templates/*.gohtml
var templatesFS embed.FS

var (
	// ErrRateLimited is returned when the provider answers 429.
	ErrRateLimited = errors.New("mail provider rate limit reached")
	// ErrNoRecipient is returned when the recipient address is unknown.
	ErrNoRecipient = errors.New("notification recipient has no email address")
)

type templateName string

const (
	NewConsultationToAdmin templateName = "new_consultation_admin.gohtml"
	ConsultationAnswered   templateName = "consultation_answered.gohtml"
)

var templateSubjects = map[templateName]string{
	NewConsultationToAdmin: "New Consultation Request #%s from %s",
	ConsultationAnswered:   "Your Consultation #%s Has Been Answered",
}

const responseDateLayout = "January 2, 2006 at 3:04 PM MST"

// Sender delivers one prepared message and reports the provider status.
type Sender interface {
	Send(ctx context.Context, message *mail.SGMailV3) (status int, body string, err error)
}

type sendgridSender struct {
	client *sendgrid.Client
}

// NewSendGridSender returns a Sender backed by the SendGrid v3 API.
func NewSendGridSender(apiKey string) Sender {
	return &sendgridSender{client: sendgrid.NewSendClient(apiKey)}
}

func (s *sendgridSender) Send(ctx context.Context, message *mail.SGMailV3) (int, string, error) {
	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, resp.Body, nil
}

// Relay renders and sends the two consultation notifications.
type Relay struct {
	sender    Sender
	cfg       config.RelayConfig
	publicURL string
	templates map[templateName]*template.Template
	logger    *zap.Logger
}

// New validates cfg and parses the embedded templates.
func New(cfg config.RelayConfig, publicURL string, sender Sender, logger *zap.Logger) (*Relay, error) {
	if sender == nil {
		return nil, fmt.Errorf("mail relay requires a sender")
	}
	if cfg.FromEmail == "" {
		return nil, fmt.Errorf("incomplete mail relay config: from email is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Relay{
		sender:    sender,
		cfg:       cfg,
		publicURL: strings.TrimRight(publicURL, "/"),
		templates: make(map[templateName]*template.Template),
		logger:    logger,
	}
	if err := r.parseTemplates(); err != nil {
		return nil, fmt.Errorf("error parsing templates: %w", err)
	}
	return r, nil
}

func (r *Relay) parseTemplates() error {
	entries, err := templatesFS.ReadDir("templates")
	if err != nil {
		return fmt.Errorf("error reading template directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		tmpl, err := template.ParseFS(templatesFS, path.Join("templates", entry.Name()))
		if err != nil {
			return fmt.Errorf("error parsing template '%s': %w", entry.Name(), err)
		}
		r.templates[templateName(entry.Name())] = tmpl
	}
	return nil
}

type adminNotice struct {
	Ticket    string
	UserName  string
	UserEmail string
	Type      string
	Phone     string
	Content   string
	Link      string
}

type answeredNotice struct {
	Ticket       string
	UserName     string
	Type         string
	RespondedBy  string
	ResponseDate string
	Content      string
	Response     string
	Link         string
}

// NotifyAdminNewConsultation tells the support inbox about a new consultation.
// Replies to this message are what the mailbox listener later ingests.
func (r *Relay) NotifyAdminNewConsultation(ctx context.Context, c *domain.Consultation, user *domain.User) error {
	if r.cfg.AdminEmail == "" {
		return ErrNoRecipient
	}
	phone := "Not provided"
	if c.PhoneNumber != nil && strings.TrimSpace(*c.PhoneNumber) != "" {
		phone = *c.PhoneNumber
	}
	var email string
	if user != nil {
		email = user.Email
	}
	data := adminNotice{
		Ticket:    c.Ticket(),
		UserName:  user.DisplayName(),
		UserEmail: email,
		Type:      c.Type,
		Phone:     phone,
		Content:   c.Content,
		Link:      r.publicURL + "/admin/consultations/" + c.ID,
	}
	subject := fmt.Sprintf(templateSubjects[NewConsultationToAdmin], data.Ticket, data.UserName)
	message, err := r.build(NewConsultationToAdmin, subject, mail.NewEmail(r.cfg.AdminName, r.cfg.AdminEmail), c.Content, data)
	if err != nil {
		return err
	}
	message.From = mail.NewEmail(r.cfg.FromName+" Team", r.cfg.FromEmail)
	if email != "" {
		message.SetReplyTo(mail.NewEmail(data.UserName, email))
	}
	return r.send(ctx, message)
}

// NotifyUserResponded sends the stored response to the requester.
func (r *Relay) NotifyUserResponded(ctx context.Context, c *domain.Consultation, user *domain.User) error {
	if user == nil || user.Email == "" {
		return ErrNoRecipient
	}
	if c.AdminResponse == nil {
		return fmt.Errorf("consultation %s has no response", c.ID)
	}
	respondedAt := c.UpdatedAt
	if c.ResponseDate != nil {
		respondedAt = *c.ResponseDate
	}
	data := answeredNotice{
		Ticket:       c.Ticket(),
		UserName:     user.DisplayName(),
		Type:         c.Type,
		RespondedBy:  r.cfg.FromName,
		ResponseDate: respondedAt.UTC().Format(responseDateLayout),
		Content:      c.Content,
		Response:     *c.AdminResponse,
		Link:         r.publicURL + "/consultations/history",
	}
	subject := fmt.Sprintf(templateSubjects[ConsultationAnswered], data.Ticket)
	message, err := r.build(ConsultationAnswered, subject, mail.NewEmail(data.UserName, user.Email), *c.AdminResponse, data)
	if err != nil {
		return err
	}
	return r.send(ctx, message)
}

func (r *Relay) build(tn templateName, subject string, to *mail.Email, plain string, data any) (*mail.SGMailV3, error) {
	tmpl, ok := r.templates[tn]
	if !ok {
		return nil, fmt.Errorf("template not found: %v", tn)
	}
	body := &strings.Builder{}
	if err := tmpl.Execute(body, data); err != nil {
		return nil, fmt.Errorf("error executing template: %w", err)
	}
	from := mail.NewEmail(r.cfg.FromName, r.cfg.FromEmail)
	return mail.NewSingleEmail(from, subject, to, plain, body.String()), nil
}

func (r *Relay) send(ctx context.Context, message *mail.SGMailV3) error {
	if r.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.SendTimeout)
		defer cancel()
	}
	start := time.Now()
	status, body, err := r.sender.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}
	if status == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("error sending email bad status code: %s, status code: %d", body, status)
	}
	r.logger.Debug("email sent",
		zap.String("subject", message.Subject),
		zap.Int("status", status),
		zap.Duration("latency", time.Since(start)))
	return nil
}
