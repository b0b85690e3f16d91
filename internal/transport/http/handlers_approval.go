package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nightmare634/voidstream/internal/approval"
	"github.com/nightmare634/voidstream/internal/audit"
	"github.com/nightmare634/voidstream/internal/domain"
	"github.com/nightmare634/voidstream/internal/platform/middleware"
	dErrors "github.com/nightmare634/voidstream/pkg/domain-errors"
)

type requestApprovalRequest struct {
	Action    string         `json:"action"`
	StreamID  string         `json:"streamId"`
	Payload   map[string]any `json:"payload"`
	ContextID string         `json:"contextId"`
}

func (h *Handler) handleApprovalRequest(w http.ResponseWriter, r *http.Request) {
	var req requestApprovalRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.approvals.RequestApproval(r.Context(), approval.RequestInput{
		Action:      req.Action,
		StreamID:    req.StreamID,
		Payload:     req.Payload,
		RequestedBy: middleware.GetWallet(r.Context()),
		ContextID:   req.ContextID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Approval)
}

func (h *Handler) handleApprovalApprove(w http.ResponseWriter, r *http.Request) {
	res, err := h.approvals.Approve(r.Context(),
		chi.URLParam(r, "id"),
		middleware.GetWallet(r.Context()),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	out := actionResponse{Executed: res.Executed, Approval: res.Approval}
	if res.Stream != nil {
		out.Stream = res.Stream
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleApprovalReject(w http.ResponseWriter, r *http.Request) {
	res, err := h.approvals.Reject(r.Context(),
		chi.URLParam(r, "id"),
		middleware.GetWallet(r.Context()),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Approval)
}

func (h *Handler) handleApprovalList(w http.ResponseWriter, r *http.Request) {
	contextID := r.URL.Query().Get("context")
	if contextID == "" {
		latest, err := h.approvals.LatestContext(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		contextID = latest.ID
	}
	pending, err := h.approvals.ListPending(r.Context(), contextID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

type createContextRequest struct {
	Mode   string   `json:"mode"`
	Owners []string `json:"owners"`
}

func (h *Handler) handleContextGet(w http.ResponseWriter, r *http.Request) {
	latest, err := h.approvals.LatestContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (h *Handler) handleContextCreate(w http.ResponseWriter, r *http.Request) {
	var req createContextRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	created, err := h.approvals.CreateContext(r.Context(), domain.ContextMode(req.Mode), req.Owners)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleAuditList(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "id")
	if streamID == "" {
		writeError(w, dErrors.New(dErrors.CodeValidation, "missing streamId"))
		return
	}
	entries, err := h.ledger.List(r.Context(), audit.Filter{StreamID: streamID})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
