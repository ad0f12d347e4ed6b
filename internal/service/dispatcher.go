package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/cache"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/repo"
)

// Gateway is the subset of the gateway client the dispatcher needs.
type Gateway interface {
	UploadFile(ctx context.Context, fileURL, filename string) (fileID string, err error)
	SendText(ctx context.Context, phone, text string) (gatewayMessageID string, err error)
	SendMedia(ctx context.Context, phone, fileID string) (gatewayMessageID string, err error)
}

// AttachmentResolver turns an attachment ref into a URL the gateway can fetch.
type AttachmentResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeSentMedia Outcome = "sent_media"
	OutcomeSentText  Outcome = "sent_text"
	OutcomeFailed    Outcome = "failed"
)

var (
	ErrUnsupportedAttachment = errors.New("attachment is not a PDF document")
	ErrNoResolver            = errors.New("no attachment resolver configured")
)

type noResolver struct{}

func (noResolver) Resolve(context.Context, string) (string, error) {
	return "", ErrNoResolver
}

type DispatchConfig struct {
	AllowAttachment bool
}

// Dispatcher decides what to send for a record and stores the result.
// Gateway failures never escape Dispatch: they end as a fallback or as a
// Failed record. Only store errors are returned.
type Dispatcher struct {
	repo     repo.MessageRepository
	gateway  Gateway
	resolver AttachmentResolver
	cfg      DispatchConfig

	files  cache.FileCache
	onSent func(ctx context.Context, internalID int64, gatewayMessageID string, sentAt time.Time) error
	now    func() time.Time
}

// NewDispatcher builds a dispatcher. A nil resolver rejects every
// attachment, so those records go out as text.
func NewDispatcher(r repo.MessageRepository, gw Gateway, resolver AttachmentResolver, cfg DispatchConfig) *Dispatcher {
	if resolver == nil {
		resolver = noResolver{}
	}
	return &Dispatcher{
		repo:     r,
		gateway:  gw,
		resolver: resolver,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithFileCache lets repeated dispatches of the same attachment reuse the
// gateway file id instead of uploading again.
func (d *Dispatcher) WithFileCache(fc cache.FileCache) *Dispatcher {
	d.files = fc
	return d
}

func (d *Dispatcher) WithHooks(
	onSent func(ctx context.Context, internalID int64, gatewayMessageID string, sentAt time.Time) error,
) *Dispatcher {
	d.onSent = onSent
	return d
}

// Dispatch attempts delivery of one record. Failed, inbound and already
// accepted records are left untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, id int64) (Outcome, error) {
	m, err := d.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if reason := skipReason(m); reason != "" {
		slog.Debug("dispatch skipped", "message_id", m.ID, "reason", reason)
		return OutcomeSkipped, nil
	}
	return d.dispatch(ctx, m)
}

// ProcessBatch dispatches records one after another and reports how many
// ended sent and how many failed. Skipped records count as neither.
func (d *Dispatcher) ProcessBatch(ctx context.Context, msgs []model.Message) (sent int, failed int) {
	for _, m := range msgs {
		if ctx.Err() != nil {
			break
		}
		if skipReason(m) != "" {
			continue
		}

		outcome, err := d.dispatch(ctx, m)
		if err != nil {
			slog.Error("dispatch store error", "message_id", m.ID, "err", err)
		}
		switch outcome {
		case OutcomeSentMedia, OutcomeSentText:
			sent++
		case OutcomeFailed:
			failed++
		}
	}
	return sent, failed
}

func skipReason(m model.Message) string {
	switch {
	case m.Direction == model.Inbound:
		return "inbound"
	case m.Status == model.Failed:
		return "failed"
	case m.HasGatewayID():
		return "already accepted"
	default:
		return ""
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, m model.Message) (Outcome, error) {
	var attachErr error

	if d.cfg.AllowAttachment && m.AttachmentRef != "" {
		gid, err := d.sendAttachment(ctx, m)
		if err == nil {
			return d.markSent(ctx, m, gid, OutcomeSentMedia)
		}
		attachErr = err
		slog.Warn("attachment send failed, falling back to text",
			"message_id", m.ID,
			"attachment", m.AttachmentRef,
			"err", err,
		)
	}

	if m.Body != "" {
		gid, err := d.gateway.SendText(ctx, m.Phone, m.Body)
		if err == nil {
			return d.markSent(ctx, m, gid, OutcomeSentText)
		}
		slog.Warn("text send failed", "message_id", m.ID, "err", err)
		return d.markFailed(ctx, m, fmt.Sprintf("text send failed: %v", err))
	}

	if attachErr != nil {
		return d.markFailed(ctx, m, fmt.Sprintf("attachment send failed and no text to fall back to: %v", attachErr))
	}
	return d.markFailed(ctx, m, "nothing to send: no attachment and empty body")
}

func (d *Dispatcher) sendAttachment(ctx context.Context, m model.Message) (string, error) {
	name := model.AttachmentName(m.AttachmentRef)
	if !model.IsDocumentAttachment(name) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAttachment, name)
	}

	fileID, cached, err := d.uploadedFileID(ctx, m.AttachmentRef, name)
	if err != nil {
		return "", err
	}

	gid, err := d.gateway.SendMedia(ctx, m.Phone, fileID)
	if err != nil && cached {
		// The gateway may have dropped the file. The next dispatch uploads again.
		if ferr := d.files.ForgetFile(ctx, m.AttachmentRef); ferr != nil {
			slog.Warn("file cache evict failed", "attachment", m.AttachmentRef, "err", ferr)
		}
	}
	return gid, err
}

// uploadedFileID reports whether the id came from the file cache.
func (d *Dispatcher) uploadedFileID(ctx context.Context, ref, name string) (string, bool, error) {
	if d.files != nil {
		id, ok, err := d.files.LookupFile(ctx, ref)
		if err != nil {
			slog.Warn("file cache lookup failed", "attachment", ref, "err", err)
		} else if ok {
			return id, true, nil
		}
	}

	fileURL, err := d.resolver.Resolve(ctx, ref)
	if err != nil {
		return "", false, err
	}

	id, err := d.gateway.UploadFile(ctx, fileURL, name)
	if err != nil {
		return "", false, err
	}

	if d.files != nil {
		if err := d.files.StoreFile(ctx, ref, id); err != nil {
			slog.Warn("file cache store failed", "attachment", ref, "err", err)
		}
	}
	return id, false, nil
}

func (d *Dispatcher) markSent(ctx context.Context, m model.Message, gatewayMessageID string, outcome Outcome) (Outcome, error) {
	err := d.repo.MarkSent(ctx, m.ID, gatewayMessageID)
	if errors.Is(err, repo.ErrAlreadyFailed) {
		slog.Warn("message failed concurrently, gateway id not stored",
			"message_id", m.ID,
			"gateway_message_id", gatewayMessageID,
		)
		return OutcomeSkipped, nil
	}
	if err != nil {
		slog.Error("gateway accepted message but store update failed",
			"message_id", m.ID,
			"gateway_message_id", gatewayMessageID,
			"err", err,
		)
		return outcome, fmt.Errorf("store gateway id %s for message %d: %w", gatewayMessageID, m.ID, err)
	}

	slog.Info("message sent",
		"message_id", m.ID,
		"gateway_message_id", gatewayMessageID,
		"outcome", string(outcome),
	)

	if d.onSent != nil {
		if err := d.onSent(ctx, m.ID, gatewayMessageID, d.now()); err != nil {
			slog.Warn("sent hook failed", "message_id", m.ID, "err", err)
		}
	}
	return outcome, nil
}

func (d *Dispatcher) markFailed(ctx context.Context, m model.Message, reason string) (Outcome, error) {
	err := d.repo.MarkFailed(ctx, m.ID, reason)
	if errors.Is(err, repo.ErrAlreadyAccepted) {
		slog.Info("message accepted concurrently, not marking failed", "message_id", m.ID)
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("mark message %d failed: %w", m.ID, err)
	}

	slog.Warn("message failed", "message_id", m.ID, "reason", reason)
	return OutcomeFailed, nil
}
