package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/repo"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/scheduler"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/service"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/webhook"
)

const maxRequestBytes = 1 << 20

var errBadRequest = errors.New("bad request")

type Handler struct {
	sched      *scheduler.Scheduler
	repo       repo.MessageRepository
	outbox     *service.Outbox
	inbound    *service.InboundReceiver
	reconciler *service.Reconciler
}

func NewHandler(
	s *scheduler.Scheduler,
	r repo.MessageRepository,
	ob *service.Outbox,
	in *service.InboundReceiver,
	rc *service.Reconciler,
) *Handler {
	return &Handler{sched: s, repo: r, outbox: ob, inbound: in, reconciler: rc}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

type createMessageRequest struct {
	Phone         string `json:"phone" validate:"max=32"`
	Body          string `json:"body" validate:"max=4096"`
	AttachmentRef string `json:"attachmentRef" validate:"max=2048"`
	LinkedDocType string `json:"linkedDocType" validate:"required_with=LinkedDocID,max=140"`
	LinkedDocID   string `json:"linkedDocId" validate:"required_with=LinkedDocType,max=140"`
	Submit        bool   `json:"submit"`
}

type messageResponse struct {
	Message model.Message   `json:"message"`
	Outcome service.Outcome `json:"outcome,omitempty"`
}

// CreateMessage stores an outbound message. A bad phone number is not a
// request error: the message is stored as Failed and returned.
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "request validation failed",
			"details": validationDetails(err),
		})
		return
	}

	out := model.OutboundRequest{
		Phone:         req.Phone,
		Body:          req.Body,
		AttachmentRef: req.AttachmentRef,
		LinkedDocType: req.LinkedDocType,
		LinkedDocID:   req.LinkedDocID,
	}

	var (
		resp messageResponse
		err  error
	)
	if req.Submit {
		resp.Message, resp.Outcome, err = h.outbox.CreateAndSubmit(r.Context(), out)
	} else {
		resp.Message, err = h.outbox.Create(r.Context(), out)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	m, err := h.repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: m})
}

func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	m, outcome, err := h.outbox.Submit(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: m, Outcome: outcome})
}

func (h *Handler) ListSentMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.repo.ListSent(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) ListLinkedMessages(w http.ResponseWriter, r *http.Request) {
	docType := r.URL.Query().Get("linkedDocType")
	docID := r.URL.Query().Get("linkedDocId")
	if docType == "" || docID == "" {
		writeError(w, fmt.Errorf("%w: linkedDocType and linkedDocId are required", errBadRequest))
		return
	}

	items, err := h.repo.ListByLinkedDoc(r.Context(), docType, docID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// InboundWebhook receives new-message callbacks from the gateway. There is
// no authentication here; the gateway is verified upstream.
func (h *Handler) InboundWebhook(w http.ResponseWriter, r *http.Request) {
	p, err := webhook.Decode(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, err)
		return
	}

	m, _, err := h.inbound.Receive(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("X-Message-ID", strconv.FormatInt(m.ID, 10))
	writeJSON(w, http.StatusOK, "OK")
}

func (h *Handler) StatusWebhook(w http.ResponseWriter, r *http.Request) {
	p, err := webhook.Decode(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.reconciler.HandleStatus(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "OK")
}

func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid message id %q", errBadRequest, raw)
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json: %v", errBadRequest, err)
	}
	return nil
}

func statusFor(err error) int {
	var vErr *model.ValidationError
	switch {
	case errors.As(err, &vErr),
		errors.Is(err, errBadRequest),
		errors.Is(err, webhook.ErrInvalidPayload),
		errors.Is(err, webhook.ErrMissingField),
		errors.Is(err, webhook.ErrUnexpectedEvent):
		return http.StatusBadRequest
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repo.ErrMultipleMatch),
		errors.Is(err, repo.ErrGatewayIDConflict),
		errors.Is(err, repo.ErrDuplicateGatewayID),
		errors.Is(err, repo.ErrAlreadyAccepted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
