package service

import (
	"context"
	"log/slog"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/repo"
)

// Outbox is where producers hand over outbound messages.
type Outbox struct {
	repo       repo.MessageRepository
	dispatcher *Dispatcher
}

func NewOutbox(r repo.MessageRepository, d *Dispatcher) *Outbox {
	return &Outbox{repo: r, dispatcher: d}
}

// Create validates the recipient and persists the record. An invalid phone
// is not an error: the record is stored as Failed with the reason in Note.
func (o *Outbox) Create(ctx context.Context, req model.OutboundRequest) (model.Message, error) {
	m := model.NewOutbound(req)
	if err := o.repo.Create(ctx, &m); err != nil {
		return model.Message{}, err
	}

	if m.Status == model.Failed {
		slog.Warn("outbound message rejected at creation", "message_id", m.ID, "phone", m.Phone)
	} else {
		slog.Info("outbound message created", "message_id", m.ID)
	}
	return m, nil
}

// Submit stamps the record as submitted and dispatches it, returning the
// stored record afterwards.
func (o *Outbox) Submit(ctx context.Context, id int64) (model.Message, Outcome, error) {
	m, err := o.repo.Get(ctx, id)
	if err != nil {
		return model.Message{}, "", err
	}
	if skipReason(m) != "" {
		return m, OutcomeSkipped, nil
	}

	if err := o.repo.MarkSubmitted(ctx, id); err != nil {
		return model.Message{}, "", err
	}

	outcome, err := o.dispatcher.Dispatch(ctx, id)
	if err != nil {
		return model.Message{}, outcome, err
	}

	m, err = o.repo.Get(ctx, id)
	if err != nil {
		return model.Message{}, outcome, err
	}
	return m, outcome, nil
}

// CreateAndSubmit is Create followed by Submit for valid records.
func (o *Outbox) CreateAndSubmit(ctx context.Context, req model.OutboundRequest) (model.Message, Outcome, error) {
	m, err := o.Create(ctx, req)
	if err != nil {
		return model.Message{}, "", err
	}
	return o.Submit(ctx, m.ID)
}
