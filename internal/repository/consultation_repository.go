package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zacode/consultation-service/internal/domain"
)

// ErrNotFound is returned when no row matches the lookup.
var ErrNotFound = pgx.ErrNoRows

// ErrDuplicateTicketCode is returned by Create when the ticket code is taken.
var ErrDuplicateTicketCode = errors.New("ticket code already in use")

const uniqueViolation = "23505"

// RespondInput describes the single response a consultation may receive.
type RespondInput struct {
	ID       string
	Response string
	AdminID  *string
	At       time.Time
}

// ConsultationRepository encapsulates consultation persistence. Respond is the
// only way a response is written and it applies at most once per consultation.
type ConsultationRepository interface {
	Create(ctx context.Context, consultation *domain.Consultation) error
	GetByID(ctx context.Context, id string) (*domain.Consultation, error)
	GetByTicketCode(ctx context.Context, code string) (*domain.Consultation, error)
	ListByLegacyPrefix(ctx context.Context, prefix string, limit int) ([]domain.Consultation, error)
	// Respond sets the response when the consultation is still awaiting. It
	// returns applied=false with the current row when a response already exists,
	// and (nil, false, nil) when the consultation does not exist.
	Respond(ctx context.Context, input RespondInput) (*domain.Consultation, bool, error)
	MarkUserNotified(ctx context.Context, id string) error
	MarkAdminNotified(ctx context.Context, id string) error
	ListPendingUserNotifications(ctx context.Context, respondedBefore time.Time, limit int) ([]domain.Consultation, error)
}

type consultationRepository struct {
	pool *pgxpool.Pool
}

// NewConsultationRepository instantiates a Postgres-backed repository.
func NewConsultationRepository(pool *pgxpool.Pool) ConsultationRepository {
	return &consultationRepository{pool: pool}
}

const consultationColumns = `id, COALESCE(ticket_code, ''), user_id, consultation_type, consultation_content,
               phone_number, status, admin_response, admin_id, response_date,
               notification_sent_to_admin, notification_sent_to_user, created_at, updated_at`

func (r *consultationRepository) Create(ctx context.Context, c *domain.Consultation) error {
	const query = `
        INSERT INTO consultations (id, ticket_code, user_id, consultation_type, consultation_content, phone_number, status)
        VALUES ($1,NULLIF($2, ''),$3,$4,$5,$6,$7)
        RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		c.ID,
		c.TicketCode,
		c.UserID,
		c.Type,
		c.Content,
		c.PhoneNumber,
		c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "consultations_ticket_code_uidx" {
		return ErrDuplicateTicketCode
	}
	return err
}

func (r *consultationRepository) GetByID(ctx context.Context, id string) (*domain.Consultation, error) {
	query := `SELECT ` + consultationColumns + ` FROM consultations WHERE id=$1`
	return scanConsultation(r.pool.QueryRow(ctx, query, id))
}

func (r *consultationRepository) GetByTicketCode(ctx context.Context, code string) (*domain.Consultation, error) {
	query := `SELECT ` + consultationColumns + ` FROM consultations WHERE ticket_code=$1`
	return scanConsultation(r.pool.QueryRow(ctx, query, code))
}

// ListByLegacyPrefix matches rows without a dedicated ticket code whose id starts
// with prefix, compared case-insensitively.
func (r *consultationRepository) ListByLegacyPrefix(ctx context.Context, prefix string, limit int) ([]domain.Consultation, error) {
	if limit <= 0 {
		limit = 2
	}
	query := `SELECT ` + consultationColumns + `
        FROM consultations
        WHERE ticket_code IS NULL AND UPPER(SUBSTRING(id FROM 1 FOR 8)) = UPPER($1)
        ORDER BY created_at
        LIMIT $2`
	rows, err := r.pool.Query(ctx, query, prefix, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConsultations(rows)
}

func (r *consultationRepository) Respond(ctx context.Context, in RespondInput) (*domain.Consultation, bool, error) {
	query := `
        UPDATE consultations
        SET admin_response=$2, admin_id=$3, status='responded', response_date=$4,
            notification_sent_to_user=FALSE, updated_at=NOW()
        WHERE id=$1 AND status <> 'responded'
        RETURNING ` + consultationColumns
	updated, err := scanConsultation(r.pool.QueryRow(ctx, query, in.ID, in.Response, in.AdminID, in.At))
	if err == nil {
		return updated, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	current, err := r.GetByID(ctx, in.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (r *consultationRepository) MarkUserNotified(ctx context.Context, id string) error {
	const query = `UPDATE consultations SET notification_sent_to_user=TRUE, updated_at=NOW() WHERE id=$1`
	return r.execOne(ctx, query, id)
}

func (r *consultationRepository) MarkAdminNotified(ctx context.Context, id string) error {
	const query = `UPDATE consultations SET notification_sent_to_admin=TRUE, updated_at=NOW() WHERE id=$1`
	return r.execOne(ctx, query, id)
}

func (r *consultationRepository) ListPendingUserNotifications(ctx context.Context, respondedBefore time.Time, limit int) ([]domain.Consultation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + consultationColumns + `
        FROM consultations
        WHERE status='responded' AND notification_sent_to_user=FALSE AND response_date <= $1
        ORDER BY response_date
        LIMIT $2`
	rows, err := r.pool.Query(ctx, query, respondedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConsultations(rows)
}

func (r *consultationRepository) execOne(ctx context.Context, query string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanConsultation(row pgx.Row) (*domain.Consultation, error) {
	var c domain.Consultation
	if err := row.Scan(
		&c.ID,
		&c.TicketCode,
		&c.UserID,
		&c.Type,
		&c.Content,
		&c.PhoneNumber,
		&c.Status,
		&c.AdminResponse,
		&c.AdminID,
		&c.ResponseDate,
		&c.NotificationSentToAdmin,
		&c.NotificationSentToUser,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanConsultations(rows pgx.Rows) ([]domain.Consultation, error) {
	var result []domain.Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}
