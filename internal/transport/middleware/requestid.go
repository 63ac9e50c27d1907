package middleware

import (
	"net/http"

	"github.com/ronakch1234/payment-reconciler/pkg/logger"

	"github.com/google/uuid"
)

// RequestID attaches a trace id to the request logger, taking X-Trace-ID from
// the caller when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}

		// inject into context
		ctx := logger.With(r.Context(), "trace_id", traceID)

		// propagate back to response
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
