package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
)

var columnNames = []string{
	"id", "direction", "phone", "body", "attachment_ref", "gateway_message_id", "status", "note",
	"linked_doc_type", "linked_doc_id", "submitted_at", "sent_at", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*PostgresMessageRepo, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewPostgresMessageRepo(db), mock
}

func expectMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestPostgresRepo_Create(t *testing.T) {
	r, mock := newMockRepo(t)

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs("out", "+14155552671", "Hi", "", nil, "Pending", nil, "Sales Invoice", "SINV-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, created, created))

	m := model.NewOutbound(model.OutboundRequest{
		Phone:         "+14155552671",
		Body:          "Hi",
		LinkedDocType: "Sales Invoice",
		LinkedDocID:   "SINV-1",
	})
	if err := r.Create(context.Background(), &m); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if m.ID != 7 {
		t.Fatalf("expected id 7, got %d", m.ID)
	}
	if !m.CreatedAt.Equal(created) {
		t.Fatalf("expected created_at %v, got %v", created, m.CreatedAt)
	}
	expectMet(t, mock)
}

func TestPostgresRepo_Create_DuplicateGatewayID(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectQuery(`INSERT INTO messages`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	gid := "wamid-1"
	m := model.Message{Direction: model.Inbound, Phone: "+14155552671", Body: "hey", GatewayMessageID: &gid, Status: model.Received}
	err := r.Create(context.Background(), &m)
	if !errors.Is(err, ErrDuplicateGatewayID) {
		t.Fatalf("expected ErrDuplicateGatewayID, got %v", err)
	}
	expectMet(t, mock)
}

func TestPostgresRepo_Get(t *testing.T) {
	r, mock := newMockRepo(t)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .* FROM messages WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(
			3, "out", "+14155552671", "Hi", "/files/a.pdf", "m1", "Sent", nil,
			"", "", now, now, now, now,
		))

	m, err := r.Get(context.Background(), 3)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if m.Direction != model.Outbound || m.Status != model.Sent {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.GatewayMessageID == nil || *m.GatewayMessageID != "m1" {
		t.Fatalf("expected gateway id m1, got %v", m.GatewayMessageID)
	}
	if m.Note != nil {
		t.Fatalf("expected nil note, got %q", *m.Note)
	}
	if m.SentAt == nil || !m.SentAt.Equal(now) {
		t.Fatalf("expected sent_at %v, got %v", now, m.SentAt)
	}
	expectMet(t, mock)
}

func TestPostgresRepo_Get_NotFound(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT .* FROM messages WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	if _, err := r.Get(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestPostgresRepo_FindByGatewayID_MultipleMatch(t *testing.T) {
	r, mock := newMockRepo(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`WHERE gateway_message_id = \$1`).
		WithArgs("dup").
		WillReturnRows(sqlmock.NewRows(columnNames).
			AddRow(1, "in", "+1", "a", "", "dup", "Received", nil, "", "", nil, nil, now, now).
			AddRow(2, "in", "+1", "b", "", "dup", "Received", nil, "", "", nil, nil, now, now))

	if _, err := r.FindByGatewayID(context.Background(), "dup"); !errors.Is(err, ErrMultipleMatch) {
		t.Fatalf("expected ErrMultipleMatch, got %v", err)
	}
	expectMet(t, mock)
}

func TestPostgresRepo_MarkSent(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE messages\s+SET status = CASE WHEN gateway_message_id IS NULL THEN 'Sent'`).
		WithArgs(int64(1), "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := r.MarkSent(context.Background(), 1, "m1"); err != nil {
		t.Fatalf("MarkSent() error: %v", err)
	}
	expectMet(t, mock)
}

func TestPostgresRepo_MarkSent_ConflictingID(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE messages`).
		WithArgs(int64(1), "m2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status, gateway_message_id FROM messages WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "gateway_message_id"}).AddRow("Sent", "m1"))

	if err := r.MarkSent(context.Background(), 1, "m2"); !errors.Is(err, ErrGatewayIDConflict) {
		t.Fatalf("expected ErrGatewayIDConflict, got %v", err)
	}
	expectMet(t, mock)
}

func TestPostgresRepo_MarkSent_Missing(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE messages`).
		WithArgs(int64(5), "m1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status, gateway_message_id FROM messages WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnError(sql.ErrNoRows)

	if err := r.MarkSent(context.Background(), 5, "m1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestPostgresRepo_MarkSent_FailedIsTerminal(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectExec(`AND \(\(gateway_message_id IS NULL AND status <> 'Failed'\) OR gateway_message_id = \$2\)`).
		WithArgs(int64(3), "g2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status, gateway_message_id FROM messages WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "gateway_message_id"}).AddRow("Failed", nil))

	if err := r.MarkSent(context.Background(), 3, "g2"); !errors.Is(err, ErrAlreadyFailed) {
		t.Fatalf("expected ErrAlreadyFailed, got %v", err)
	}
	expectMet(t, mock)
}

func TestPostgresRepo_MarkFailed_AlreadyAccepted(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE messages\s+SET status = 'Failed'`).
		WithArgs(int64(2), "gateway down").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM messages WHERE id = \$1`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	if err := r.MarkFailed(context.Background(), 2, "gateway down"); !errors.Is(err, ErrAlreadyAccepted) {
		t.Fatalf("expected ErrAlreadyAccepted, got %v", err)
	}
	expectMet(t, mock)
}

func TestPostgresRepo_UpdateStatusByGatewayID(t *testing.T) {
	r, mock := newMockRepo(t)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id\s+FROM messages\s+WHERE gateway_message_id = \$1\s+FOR UPDATE`).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
	mock.ExpectQuery(`UPDATE messages\s+SET status = \$2`).
		WithArgs(int64(4), "delivered").
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(
			4, "out", "+14155552671", "Hi", "", "m1", "delivered", nil, "", "", now, now, now, now,
		))
	mock.ExpectCommit()

	m, err := r.UpdateStatusByGatewayID(context.Background(), "m1", "delivered")
	if err != nil {
		t.Fatalf("UpdateStatusByGatewayID() error: %v", err)
	}
	if m.Status != "delivered" {
		t.Fatalf("expected status delivered, got %q", m.Status)
	}
	expectMet(t, mock)
}

func TestPostgresRepo_UpdateStatusByGatewayID_NoMatch(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	if _, err := r.UpdateStatusByGatewayID(context.Background(), "ghost", "read"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestPostgresRepo_UpdateStatusByGatewayID_MultipleMatch(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("dup").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectRollback()

	_, err := r.UpdateStatusByGatewayID(context.Background(), "dup", "read")
	if !errors.Is(err, ErrMultipleMatch) {
		t.Fatalf("expected ErrMultipleMatch, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("multiple match must not look like not found")
	}
	expectMet(t, mock)
}

func TestPostgresRepo_ClaimStalePending(t *testing.T) {
	r, mock := newMockRepo(t)

	old := time.Now().UTC().Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(5, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(
			8, "out", "+14155552671", "Hi", "", nil, "Pending", nil, "", "", old, nil, old, old,
		))
	mock.ExpectExec(`UPDATE messages\s+SET submitted_at = \$2`).
		WithArgs(int64(8), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msgs, err := r.ClaimStalePending(context.Background(), 5, time.Minute)
	if err != nil {
		t.Fatalf("ClaimStalePending() error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != 8 {
		t.Fatalf("expected claimed id 8, got %+v", msgs)
	}
	if msgs[0].SubmittedAt == nil || !msgs[0].SubmittedAt.After(old) {
		t.Fatalf("expected submitted_at to be refreshed, got %v", msgs[0].SubmittedAt)
	}
	expectMet(t, mock)
}

func TestPostgresRepo_ClaimStalePending_InvalidLimit(t *testing.T) {
	r, _ := newMockRepo(t)

	if _, err := r.ClaimStalePending(context.Background(), 0, time.Minute); err == nil {
		t.Fatalf("expected error for limit 0")
	}
}

func TestPostgresRepo_ListSent_Defaults(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectQuery(`WHERE direction = 'out'\s+AND gateway_message_id IS NOT NULL`).
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows(columnNames))

	msgs, err := r.ListSent(context.Background(), -1, -3)
	if err != nil {
		t.Fatalf("ListSent() error: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
	expectMet(t, mock)
}

func TestPostgresRepo_ListByLinkedDoc(t *testing.T) {
	r, mock := newMockRepo(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`WHERE linked_doc_type = \$1\s+AND linked_doc_id = \$2`).
		WithArgs("Delivery Note", "DN-7").
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(
			11, "out", "+14155552671", "Your delivery", "", nil, "Failed", "no body", "Delivery Note", "DN-7", nil, nil, now, now,
		))

	msgs, err := r.ListByLinkedDoc(context.Background(), "Delivery Note", "DN-7")
	if err != nil {
		t.Fatalf("ListByLinkedDoc() error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Note == nil || *msgs[0].Note != "no body" {
		t.Fatalf("unexpected result: %+v", msgs)
	}
	expectMet(t, mock)
}
