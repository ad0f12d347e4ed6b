package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
)

// StaleClaimer hands out submitted records that never got a gateway
// answer, leasing them to the caller for another grace period.
type StaleClaimer interface {
	ClaimStalePending(ctx context.Context, limit int, grace time.Duration) ([]model.Message, error)
}

type BatchDispatcher interface {
	ProcessBatch(ctx context.Context, msgs []model.Message) (sent int, failed int)
}

// SweepStalePending returns a tick function that re-dispatches records left
// Pending after a crash between submit and the send result being stored.
// Failed records are never claimed.
func SweepStalePending(claimer StaleClaimer, d BatchDispatcher, batchSize int, grace time.Duration) func(context.Context) {
	return func(ctx context.Context) {
		msgs, err := claimer.ClaimStalePending(ctx, batchSize, grace)
		if err != nil {
			slog.Error("claim stale pending failed", "err", err)
			return
		}
		if len(msgs) == 0 {
			return
		}

		sent, failed := d.ProcessBatch(ctx, msgs)
		slog.Info("stale pending sweep done",
			"claimed", len(msgs),
			"sent", sent,
			"failed", failed,
		)
	}
}
