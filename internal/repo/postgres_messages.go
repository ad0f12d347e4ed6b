package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
)

const uniqueViolation = "23505"

const messageColumns = `id, direction, phone, body, attachment_ref, gateway_message_id, status, note,
	linked_doc_type, linked_doc_id, submitted_at, sent_at, created_at, updated_at`

type PostgresMessageRepo struct {
	db *sql.DB
}

var _ MessageRepository = (*PostgresMessageRepo)(nil)

func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

func (r *PostgresMessageRepo) Create(ctx context.Context, m *model.Message) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO messages (direction, phone, body, attachment_ref, gateway_message_id, status, note,
		                      linked_doc_type, linked_doc_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`,
		string(m.Direction),
		m.Phone,
		m.Body,
		m.AttachmentRef,
		m.GatewayMessageID,
		string(m.Status),
		m.Note,
		m.LinkedDocType,
		m.LinkedDocID,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateGatewayID
	}
	return err
}

func (r *PostgresMessageRepo) Get(ctx context.Context, id int64) (model.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	return m, err
}

func (r *PostgresMessageRepo) FindByGatewayID(ctx context.Context, gatewayMessageID string) (model.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE gateway_message_id = $1
		ORDER BY created_at DESC
		LIMIT 2
	`, gatewayMessageID)
	if err != nil {
		return model.Message{}, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return model.Message{}, err
	}
	switch len(msgs) {
	case 0:
		return model.Message{}, ErrNotFound
	case 1:
		return msgs[0], nil
	default:
		return model.Message{}, ErrMultipleMatch
	}
}

func (r *PostgresMessageRepo) MarkSubmitted(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET submitted_at = now(),
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// MarkSent sets the gateway message id and Sent in one statement. Assigning
// the id a record already holds is a no-op that leaves any later
// acknowledgment status in place. A Failed record without an id is left
// untouched.
func (r *PostgresMessageRepo) MarkSent(ctx context.Context, id int64, gatewayMessageID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = CASE WHEN gateway_message_id IS NULL THEN 'Sent' ELSE status END,
		    sent_at = COALESCE(sent_at, now()),
		    gateway_message_id = $2,
		    updated_at = now()
		WHERE id = $1
		  AND ((gateway_message_id IS NULL AND status <> 'Failed') OR gateway_message_id = $2)
	`, id, gatewayMessageID)
	if isUniqueViolation(err) {
		return ErrDuplicateGatewayID
	}
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var status string
	var gatewayID sql.NullString
	err = r.db.QueryRowContext(ctx,
		`SELECT status, gateway_message_id FROM messages WHERE id = $1`, id,
	).Scan(&status, &gatewayID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if !gatewayID.Valid && model.Status(status) == model.Failed {
		return ErrAlreadyFailed
	}
	return ErrGatewayIDConflict
}

func (r *PostgresMessageRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'Failed',
		    note = $2,
		    updated_at = now()
		WHERE id = $1
		  AND gateway_message_id IS NULL
	`, id, reason)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyAccepted
}

// UpdateStatusByGatewayID locks every row carrying gatewayMessageID and
// overwrites the status only when exactly one matches.
func (r *PostgresMessageRepo) UpdateStatusByGatewayID(ctx context.Context, gatewayMessageID string, status model.Status) (model.Message, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return model.Message{}, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id
		FROM messages
		WHERE gateway_message_id = $1
		FOR UPDATE
	`, gatewayMessageID)
	if err != nil {
		return model.Message{}, err
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return model.Message{}, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.Message{}, err
	}

	switch {
	case len(ids) == 0:
		return model.Message{}, ErrNotFound
	case len(ids) > 1:
		return model.Message{}, fmt.Errorf("%w: %d records for %q", ErrMultipleMatch, len(ids), gatewayMessageID)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE messages
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+messageColumns, ids[0], string(status))
	m, err := scanMessage(row)
	if err != nil {
		return model.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.Message{}, err
	}
	return m, nil
}

// ClaimStalePending picks outbound records that were submitted more than
// grace ago and are still Pending without a gateway id. Claimed rows get a
// fresh submitted_at so other instances skip them for another grace period.
func (r *PostgresMessageRepo) ClaimStalePending(ctx context.Context, limit int, grace time.Duration) ([]model.Message, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE status = 'Pending'
		  AND direction = 'out'
		  AND gateway_message_id IS NULL
		  AND submitted_at IS NOT NULL
		  AND submitted_at < $2
		ORDER BY submitted_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit, now.Add(-grace))
	if err != nil {
		return nil, err
	}

	msgs, err := scanMessages(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if len(msgs) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages
			SET submitted_at = $2, updated_at = $2
			WHERE id = $1
		`, m.ID, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i := range msgs {
		t := now
		msgs[i].SubmittedAt = &t
		msgs[i].UpdatedAt = now
	}
	return msgs, nil
}

func (r *PostgresMessageRepo) ListSent(ctx context.Context, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE direction = 'out'
		  AND gateway_message_id IS NOT NULL
		ORDER BY sent_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *PostgresMessageRepo) ListByLinkedDoc(ctx context.Context, docType, docID string) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE linked_doc_type = $1
		  AND linked_doc_id = $2
		ORDER BY created_at ASC
	`, docType, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *PostgresMessageRepo) exists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (model.Message, error) {
	var m model.Message
	var direction, status string
	var gatewayID, note sql.NullString
	var submittedAt, sentAt sql.NullTime

	if err := row.Scan(
		&m.ID,
		&direction,
		&m.Phone,
		&m.Body,
		&m.AttachmentRef,
		&gatewayID,
		&status,
		&note,
		&m.LinkedDocType,
		&m.LinkedDocID,
		&submittedAt,
		&sentAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return model.Message{}, err
	}

	m.Direction = model.Direction(direction)
	m.Status = model.Status(status)

	if gatewayID.Valid {
		s := gatewayID.String
		m.GatewayMessageID = &s
	}
	if note.Valid {
		s := note.String
		m.Note = &s
	}
	if submittedAt.Valid {
		t := submittedAt.Time
		m.SubmittedAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	return m, nil
}

func scanMessages(rows *sql.Rows) ([]model.Message, error) {
	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
