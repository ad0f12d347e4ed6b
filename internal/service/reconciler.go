package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/repo"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/webhook"
)

// Reconciler applies gateway acknowledgments to stored records.
type Reconciler struct {
	repo repo.MessageRepository
}

func NewReconciler(r repo.MessageRepository) *Reconciler {
	return &Reconciler{repo: r}
}

// HandleStatus parses a status callback and reconciles it.
func (r *Reconciler) HandleStatus(ctx context.Context, p webhook.Payload) (model.Message, error) {
	u, err := webhook.ParseStatus(p)
	if err != nil {
		return model.Message{}, err
	}
	return r.Reconcile(ctx, u.GatewayMessageID, u.Status)
}

// Reconcile overwrites the status of the one record carrying
// gatewayMessageID. The status is stored verbatim. Zero or several matches
// leave every record unchanged and return repo.ErrNotFound or
// repo.ErrMultipleMatch.
func (r *Reconciler) Reconcile(ctx context.Context, gatewayMessageID string, status model.Status) (model.Message, error) {
	if strings.TrimSpace(gatewayMessageID) == "" {
		return model.Message{}, &model.ValidationError{Field: "gatewayMessageId", Reason: "must not be empty"}
	}
	if strings.TrimSpace(string(status)) == "" {
		return model.Message{}, &model.ValidationError{Field: "status", Reason: "must not be empty"}
	}

	m, err := r.repo.UpdateStatusByGatewayID(ctx, gatewayMessageID, status)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		slog.Warn("status update for unknown message", "gateway_message_id", gatewayMessageID, "status", string(status))
		return model.Message{}, err
	case errors.Is(err, repo.ErrMultipleMatch):
		slog.Error("status update matches several messages, not applied",
			"gateway_message_id", gatewayMessageID,
			"status", string(status),
		)
		return model.Message{}, err
	case err != nil:
		return model.Message{}, fmt.Errorf("reconcile %s: %w", gatewayMessageID, err)
	}

	slog.Info("message status updated",
		"message_id", m.ID,
		"gateway_message_id", gatewayMessageID,
		"status", string(status),
	)
	return m, nil
}
