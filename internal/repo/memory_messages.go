package repo

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
)

// MemoryMessageRepo keeps messages in process memory. It backs the
// STORE=memory mode and the service tests.
type MemoryMessageRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]model.Message
	now    func() time.Time
	writes int
}

var _ MessageRepository = (*MemoryMessageRepo)(nil)

func NewMemoryMessageRepo() *MemoryMessageRepo {
	return &MemoryMessageRepo{
		byID: make(map[int64]model.Message),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Writes returns how many mutations were applied so far.
func (r *MemoryMessageRepo) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *MemoryMessageRepo) Create(ctx context.Context, m *model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m.HasGatewayID() && len(r.matchGatewayID(*m.GatewayMessageID)) > 0 {
		return ErrDuplicateGatewayID
	}

	r.nextID++
	now := r.now()
	stored := clone(*m)
	stored.ID = r.nextID
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.byID[stored.ID] = stored
	r.writes++

	m.ID = stored.ID
	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

func (r *MemoryMessageRepo) Get(ctx context.Context, id int64) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byID[id]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	return clone(m), nil
}

func (r *MemoryMessageRepo) FindByGatewayID(ctx context.Context, gatewayMessageID string) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.matchGatewayID(gatewayMessageID)
	switch len(ids) {
	case 0:
		return model.Message{}, ErrNotFound
	case 1:
		return clone(r.byID[ids[0]]), nil
	default:
		return model.Message{}, ErrMultipleMatch
	}
}

func (r *MemoryMessageRepo) MarkSubmitted(ctx context.Context, id int64) error {
	return r.update(ctx, id, func(m *model.Message, now time.Time) error {
		m.SubmittedAt = &now
		return nil
	})
}

func (r *MemoryMessageRepo) MarkSent(ctx context.Context, id int64, gatewayMessageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if m.HasGatewayID() {
		if *m.GatewayMessageID != gatewayMessageID {
			return ErrGatewayIDConflict
		}
		return nil
	}
	if m.Status == model.Failed {
		return ErrAlreadyFailed
	}
	for _, other := range r.matchGatewayID(gatewayMessageID) {
		if other != id {
			return ErrDuplicateGatewayID
		}
	}

	now := r.now()
	gid := gatewayMessageID
	m.GatewayMessageID = &gid
	m.Status = model.Sent
	m.SentAt = &now
	m.UpdatedAt = now
	r.byID[id] = m
	r.writes++
	return nil
}

func (r *MemoryMessageRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.update(ctx, id, func(m *model.Message, _ time.Time) error {
		if m.HasGatewayID() {
			return ErrAlreadyAccepted
		}
		note := reason
		m.Status = model.Failed
		m.Note = &note
		return nil
	})
}

func (r *MemoryMessageRepo) UpdateStatusByGatewayID(ctx context.Context, gatewayMessageID string, status model.Status) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.matchGatewayID(gatewayMessageID)
	switch {
	case len(ids) == 0:
		return model.Message{}, ErrNotFound
	case len(ids) > 1:
		return model.Message{}, ErrMultipleMatch
	}

	m := r.byID[ids[0]]
	m.Status = status
	m.UpdatedAt = r.now()
	r.byID[m.ID] = m
	r.writes++
	return clone(m), nil
}

func (r *MemoryMessageRepo) ClaimStalePending(ctx context.Context, limit int, grace time.Duration) ([]model.Message, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-grace)

	var stale []model.Message
	for _, m := range r.byID {
		if m.Status != model.Pending || m.Direction != model.Outbound || m.HasGatewayID() {
			continue
		}
		if m.SubmittedAt == nil || !m.SubmittedAt.Before(cutoff) {
			continue
		}
		stale = append(stale, m)
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].SubmittedAt.Before(*stale[j].SubmittedAt) })
	if len(stale) > limit {
		stale = stale[:limit]
	}

	out := make([]model.Message, 0, len(stale))
	for _, m := range stale {
		claimed := now
		m.SubmittedAt = &claimed
		m.UpdatedAt = now
		r.byID[m.ID] = m
		r.writes++
		out = append(out, clone(m))
	}
	return out, nil
}

func (r *MemoryMessageRepo) ListSent(ctx context.Context, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	all := r.filter(ctx, func(m model.Message) bool {
		return m.Direction == model.Outbound && m.HasGatewayID()
	})
	sort.Slice(all, func(i, j int) bool { return sentAt(all[i]).After(sentAt(all[j])) })

	if offset >= len(all) {
		return nil, ctx.Err()
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, ctx.Err()
}

func (r *MemoryMessageRepo) ListByLinkedDoc(ctx context.Context, docType, docID string) ([]model.Message, error) {
	out := r.filter(ctx, func(m model.Message) bool {
		return m.LinkedDocType == docType && m.LinkedDocID == docID
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, ctx.Err()
}

func (r *MemoryMessageRepo) update(ctx context.Context, id int64, fn func(m *model.Message, now time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	now := r.now()
	if err := fn(&m, now); err != nil {
		return err
	}
	m.UpdatedAt = now
	r.byID[id] = m
	r.writes++
	return nil
}

func (r *MemoryMessageRepo) filter(ctx context.Context, keep func(model.Message) bool) []model.Message {
	if ctx.Err() != nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Message
	for _, m := range r.byID {
		if keep(m) {
			out = append(out, clone(m))
		}
	}
	return out
}

// matchGatewayID must be called with mu held.
func (r *MemoryMessageRepo) matchGatewayID(gatewayMessageID string) []int64 {
	var ids []int64
	for id, m := range r.byID {
		if m.HasGatewayID() && *m.GatewayMessageID == gatewayMessageID {
			ids = append(ids, id)
		}
	}
	return ids
}

func sentAt(m model.Message) time.Time {
	if m.SentAt == nil {
		return time.Time{}
	}
	return *m.SentAt
}

func clone(m model.Message) model.Message {
	if m.GatewayMessageID != nil {
		s := *m.GatewayMessageID
		m.GatewayMessageID = &s
	}
	if m.Note != nil {
		s := *m.Note
		m.Note = &s
	}
	if m.SubmittedAt != nil {
		t := *m.SubmittedAt
		m.SubmittedAt = &t
	}
	if m.SentAt != nil {
		t := *m.SentAt
		m.SentAt = &t
	}
	return m
}
