package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nightmare634/voidstream/internal/domain"
	"github.com/nightmare634/voidstream/internal/platform/middleware"
	"github.com/nightmare634/voidstream/internal/stream"
	dErrors "github.com/nightmare634/voidstream/pkg/domain-errors"
)

type createStreamRequest struct {
	ReceiverWallet string    `json:"receiverWallet"`
	RatePerSec     int64     `json:"ratePerSec"`
	StartAt        time.Time `json:"startAt"`
	EndAt          time.Time `json:"endAt"`
	CliffAt        time.Time `json:"cliffAt"`
	InviteCode     string    `json:"inviteCode"`
	LedgerStreamID string    `json:"ledgerStreamId"`
	VaultAddress   string    `json:"vaultAddress"`
}

type streamResponse struct {
	Stream  domain.Stream        `json:"stream"`
	Status  stream.DisplayStatus `json:"status"`
	Accrual stream.Accrual       `json:"accrual"`
}

func viewResponse(v stream.View) streamResponse {
	return streamResponse{Stream: v.Stream, Status: v.Status, Accrual: v.Accrual}
}

func (h *Handler) handleStreamCreate(w http.ResponseWriter, r *http.Request) {
	var req createStreamRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	created, err := h.streams.Create(r.Context(), stream.CreateInput{
		PayerWallet:    middleware.GetWallet(r.Context()),
		ReceiverWallet: req.ReceiverWallet,
		RatePerSec:     req.RatePerSec,
		StartAt:        req.StartAt,
		EndAt:          req.EndAt,
		CliffAt:        req.CliffAt,
		InviteCode:     req.InviteCode,
		LedgerStreamID: req.LedgerStreamID,
		VaultAddress:   req.VaultAddress,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleStreamList(w http.ResponseWriter, r *http.Request) {
	views, err := h.streams.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]streamResponse, 0, len(views))
	for _, v := range views {
		out = append(out, viewResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleStreamGet(w http.ResponseWriter, r *http.Request) {
	v, err := h.streams.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse(v))
}

func (h *Handler) handleStreamPublic(w http.ResponseWriter, r *http.Request) {
	v, err := h.streams.GetPublic(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type claimRequest struct {
	InviteCode string `json:"inviteCode"`
	Signature  string `json:"signature"`
}

func (h *Handler) handleStreamClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	claimed, err := h.streams.Claim(r.Context(),
		chi.URLParam(r, "id"),
		middleware.GetWallet(r.Context()),
		req.InviteCode,
		req.Signature,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claimed)
}

type projectionResponse struct {
	Months int     `json:"months"`
	Series []int64 `json:"series"`
}

func (h *Handler) handleStreamProjection(w http.ResponseWriter, r *http.Request) {
	months := 12
	if q := r.URL.Query().Get("months"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 60 {
			writeError(w, dErrors.New(dErrors.CodeValidation, "months must be between 1 and 60"))
			return
		}
		months = n
	}
	series, err := h.streams.Projection(r.Context(), chi.URLParam(r, "id"), months)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projectionResponse{Months: months, Series: series})
}

func (h *Handler) handleStreamPurge(w http.ResponseWriter, r *http.Request) {
	if err := h.streams.Purge(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStreamBalance(w http.ResponseWriter, r *http.Request) {
	v, err := h.streams.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if v.Stream.VaultAddress == "" {
		writeError(w, dErrors.New(dErrors.CodeNotFound, "stream has no vault"))
		return
	}
	if err := h.balances.Watch(r.Context(), v.Stream.VaultAddress); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "balance subscription failed"))
		return
	}
	value, ok := h.balances.Value(v.Stream.VaultAddress)
	writeJSON(w, http.StatusOK, map[string]any{
		"vault":   v.Stream.VaultAddress,
		"balance": value,
		"known":   ok,
	})
}
