package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/ronakch1234/payment-reconciler/internal/payment"
	"github.com/ronakch1234/payment-reconciler/internal/transport/middleware"
	"github.com/ronakch1234/payment-reconciler/internal/transport/swagger"
)

// RegisterRoutes mounts the webhook receiver, the query endpoints and the
// operational routes on router.
func RegisterRoutes(router *chi.Mux, db *sql.DB, paymentHandler *payment.Handler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	router.Get("/", rootHandler)
	router.Get("/health", healthHandler.healthCheckHandler)
	router.Get("/ping", healthHandler.pingHandler)

	// Serve the OpenAPI document
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	if paymentHandler != nil {
		router.Post("/webhooks/payment", paymentHandler.ReceiveWebhook)

		router.Route("/payments", func(pr chi.Router) {
			pr.Get("/", paymentHandler.ListPayments)    // GET /payments?status=
			pr.Get("/{id}", paymentHandler.GetPayment) // GET /payments/:id
		})
	}
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Hello, World! Use /health to test database connection"))
}
