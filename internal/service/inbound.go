package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/repo"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/webhook"
)

// InboundReceiver stores messages the gateway reports as received.
type InboundReceiver struct {
	repo repo.MessageRepository
}

func NewInboundReceiver(r repo.MessageRepository) *InboundReceiver {
	return &InboundReceiver{repo: r}
}

// Receive parses a new-inbound-message callback and creates an inbound
// record. A redelivered callback for a gateway id already stored returns
// the existing record with created=false.
func (r *InboundReceiver) Receive(ctx context.Context, p webhook.Payload) (m model.Message, created bool, err error) {
	in, err := webhook.ParseInbound(p)
	if err != nil {
		return model.Message{}, false, err
	}

	if in.GatewayMessageID != "" {
		existing, err := r.repo.FindByGatewayID(ctx, in.GatewayMessageID)
		switch {
		case err == nil:
			slog.Info("inbound message already stored", "message_id", existing.ID, "gateway_message_id", in.GatewayMessageID)
			return existing, false, nil
		case !errors.Is(err, repo.ErrNotFound):
			return model.Message{}, false, err
		}
	}

	m = model.Message{
		Direction: model.Inbound,
		Phone:     in.Phone,
		Body:      in.Body,
		Status:    in.Status,
	}
	if in.GatewayMessageID != "" {
		gid := in.GatewayMessageID
		m.GatewayMessageID = &gid
	}

	err = r.repo.Create(ctx, &m)
	if errors.Is(err, repo.ErrDuplicateGatewayID) {
		// Lost a race with a concurrent delivery of the same callback.
		existing, ferr := r.repo.FindByGatewayID(ctx, in.GatewayMessageID)
		if ferr != nil {
			return model.Message{}, false, ferr
		}
		return existing, false, nil
	}
	if err != nil {
		return model.Message{}, false, err
	}

	slog.Info("inbound message received",
		"message_id", m.ID,
		"gateway_message_id", in.GatewayMessageID,
		"status", string(m.Status),
	)
	return m, true, nil
}
