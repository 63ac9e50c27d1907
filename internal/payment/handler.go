package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	errors "github.com/ronakch1234/payment-reconciler/internal"
	"github.com/ronakch1234/payment-reconciler/internal/core/datamodel/payment"
	"github.com/ronakch1234/payment-reconciler/internal/transport"
	"github.com/ronakch1234/payment-reconciler/pkg/logger"
)

type ServiceAPI interface {
	RecordPayment(ctx context.Context, req *WebhookRequest) (*payment.Payment, error)
	ListPayments(ctx context.Context, filter Filter) ([]*payment.Payment, error)
	GetPayment(ctx context.Context, id int64) (*payment.Payment, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

// ReceiveWebhook handles POST /webhooks/payment.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Warn("ReceiveWebhook: invalid request body", "error", err)
		h.WriteError(w, errors.NewValidationError("invalid request body: "+err.Error(), errors.ErrCodeInvalidBody))
		return
	}

	created, err := h.Service.RecordPayment(r.Context(), &req)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, created)
}

// ListPayments handles GET /payments with an optional ?status= filter.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	filter, err := FilterFromQuery(r.URL.Query().Get("status"))
	if err != nil {
		h.HandleError(w, err)
		return
	}

	payments, err := h.Service.ListPayments(r.Context(), filter)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, payments)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.WriteError(w, errors.NewValidationFieldError("id", "invalid payment id "+strconv.Quote(idStr), errors.ErrCodeInvalidID))
		return
	}

	p, err := h.Service.GetPayment(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, p)
}
