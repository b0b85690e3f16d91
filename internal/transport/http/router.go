// Package httptransport is the thin HTTP layer. Handlers decode, delegate to
// domain services, and translate coded errors; business logic stays out.
package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nightmare634/voidstream/internal/approval"
	"github.com/nightmare634/voidstream/internal/audit"
	"github.com/nightmare634/voidstream/internal/platform/metrics"
	"github.com/nightmare634/voidstream/internal/platform/middleware"
	"github.com/nightmare634/voidstream/internal/realtime"
	"github.com/nightmare634/voidstream/internal/settlement"
	"github.com/nightmare634/voidstream/internal/stream"
	dErrors "github.com/nightmare634/voidstream/pkg/domain-errors"
)

// Handler holds the domain services the HTTP layer delegates to.
type Handler struct {
	streams    *stream.Service
	approvals  *approval.Workflow
	ledger     *audit.Ledger
	settlement settlement.Driver
	balances   *realtime.BalanceCache
	logger     *slog.Logger
}

func NewHandler(
	streams *stream.Service,
	approvals *approval.Workflow,
	ledger *audit.Ledger,
	settle settlement.Driver,
	balances *realtime.BalanceCache,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		streams:    streams,
		approvals:  approvals,
		ledger:     ledger,
		settlement: settle,
		balances:   balances,
		logger:     logger,
	}
}

// NewRouter wires all endpoints. Everything under /api requires a bearer
// token except the public stream projection.
func NewRouter(h *Handler, validator middleware.TokenValidator, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger, m))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/api/public/streams/{id}", h.handleStreamPublic)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator, logger))

		r.Route("/api/streams", func(r chi.Router) {
			r.Post("/", h.handleStreamCreate)
			r.Get("/", h.handleStreamList)
			r.Get("/{id}", h.handleStreamGet)
			r.Delete("/{id}", h.handleStreamPurge)
			r.Post("/{id}/claim", h.handleStreamClaim)
			r.Post("/{id}/actions", h.handleActionSubmit)
			r.Get("/{id}/audit", h.handleAuditList)
			r.Get("/{id}/balance", h.handleStreamBalance)
			r.Get("/{id}/projection", h.handleStreamProjection)
		})

		r.Route("/api/approvals", func(r chi.Router) {
			r.Post("/", h.handleApprovalRequest)
			r.Get("/", h.handleApprovalList)
			r.Post("/{id}/approve", h.handleApprovalApprove)
			r.Post("/{id}/reject", h.handleApprovalReject)
		})

		r.Route("/api/context", func(r chi.Router) {
			r.Get("/", h.handleContextGet)
			r.Post("/", h.handleContextCreate)
		})
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError centralizes domain error translation so all handlers produce the
// same JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	var de *dErrors.Error
	code := dErrors.CodeInternal
	message := "internal error"
	if errors.As(err, &de) {
		code = de.Code
		message = de.Message
	}
	writeJSON(w, dErrors.ToHTTPStatus(code), map[string]string{
		"error":   string(code),
		"message": message,
	})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return dErrors.New(dErrors.CodeValidation, "malformed request body")
	}
	return nil
}
