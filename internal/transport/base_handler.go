package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	errors "github.com/ronakch1234/payment-reconciler/internal"
	"github.com/ronakch1234/payment-reconciler/pkg/logger"
)

// BaseHandler provides common functionality for HTTP handlers
type BaseHandler struct {
	Logger *slog.Logger
}

// NewBaseHandler creates a base handler with logger
func NewBaseHandler(lg *slog.Logger) *BaseHandler {
	if lg == nil {
		lg = logger.LoggerWrapper()
		if lg == nil {
			lg = slog.Default()
		}
	}
	return &BaseHandler{Logger: lg}
}

// WriteJSON writes a JSON response
func (h *BaseHandler) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Error("failed to encode JSON response", "error", err)
	}
}

// WriteError writes an AppError as {"error": {...}} with its status code.
func (h *BaseHandler) WriteError(w http.ResponseWriter, appErr *errors.AppError) {
	status, body := appErr.ToHTTPResponse()
	if status >= http.StatusInternalServerError {
		h.Logger.Error("http error", "status", status, "code", appErr.Code, "error", appErr.GetDetailedMessage())
	} else {
		h.Logger.Warn("http error", "status", status, "code", appErr.Code, "message", appErr.Message)
	}
	h.WriteJSON(w, status, body)
}

// HandleError maps err to a response. Anything that is not an AppError is
// reported as an opaque 500.
func (h *BaseHandler) HandleError(w http.ResponseWriter, err error) {
	if appErr, ok := errors.AsAppError(err); ok {
		h.WriteError(w, appErr)
		return
	}
	h.WriteError(w, errors.NewInternalError("internal server error", err))
}
