package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
)

var (
	ErrNotFound = errors.New("message not found")

	// ErrMultipleMatch means more than one record carries the same gateway
	// message id. That breaks the store's uniqueness invariant and is reported
	// separately from ErrNotFound; nothing is mutated.
	ErrMultipleMatch = errors.New("multiple messages match gateway message id")

	// ErrGatewayIDConflict is returned when a record already holds a
	// different gateway message id. The id is write-once.
	ErrGatewayIDConflict = errors.New("message already has a different gateway message id")

	// ErrAlreadyAccepted is returned by MarkFailed for a record the gateway
	// has already accepted.
	ErrAlreadyAccepted = errors.New("message already accepted by gateway")

	// ErrAlreadyFailed is returned by MarkSent for a record that was marked
	// Failed first. Failed is terminal.
	ErrAlreadyFailed = errors.New("message already failed")

	// ErrDuplicateGatewayID is returned by Create when another record already
	// owns the gateway message id.
	ErrDuplicateGatewayID = errors.New("gateway message id already stored")
)

type MessageRepository interface {
	Create(ctx context.Context, m *model.Message) error
	Get(ctx context.Context, id int64) (model.Message, error)
	FindByGatewayID(ctx context.Context, gatewayMessageID string) (model.Message, error)

	MarkSubmitted(ctx context.Context, id int64) error
	// MarkSent stores the gateway message id and the Sent status together.
	// A Failed record is never moved to Sent.
	MarkSent(ctx context.Context, id int64, gatewayMessageID string) error
	// MarkFailed moves a record to Failed unless the gateway already accepted it.
	MarkFailed(ctx context.Context, id int64, reason string) error
	UpdateStatusByGatewayID(ctx context.Context, gatewayMessageID string, status model.Status) (model.Message, error)

	ClaimStalePending(ctx context.Context, limit int, grace time.Duration) ([]model.Message, error)
	ListSent(ctx context.Context, limit, offset int) ([]model.Message, error)
	ListByLinkedDoc(ctx context.Context, docType, docID string) ([]model.Message, error)
}
