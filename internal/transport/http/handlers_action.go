package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nightmare634/voidstream/internal/action"
	"github.com/nightmare634/voidstream/internal/approval"
	"github.com/nightmare634/voidstream/internal/domain"
	"github.com/nightmare634/voidstream/internal/platform/middleware"
	"github.com/nightmare634/voidstream/internal/settlement"
)

type actionRequest struct {
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload"`
	Signature string         `json:"signature"`
}

type actionResponse struct {
	Executed bool `json:"executed"`
	Approval any  `json:"approval,omitempty"`
	Stream   any  `json:"stream,omitempty"`
}

// handleActionSubmit routes a stream action through the approval gate. In
// operator mode it executes immediately; in consensus mode it parks as a
// pending approval.
func (h *Handler) handleActionSubmit(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	streamID := chi.URLParam(r, "id")
	actor := middleware.GetWallet(r.Context())

	v, err := h.streams.Get(r.Context(), streamID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := action.Authorize(v.Stream, req.Action, actor); err != nil {
		writeError(w, err)
		return
	}

	signature := req.Signature
	if req.Action == action.ActionWithdraw && signature == "" {
		receipt, err := h.settleWithdraw(r, v.Stream, actor, req.Payload)
		if err != nil {
			writeError(w, err)
			return
		}
		signature = receipt.Signature
	}

	res, err := h.approvals.Submit(r.Context(), approval.SubmitRequest{
		Action:      req.Action,
		StreamID:    streamID,
		Payload:     req.Payload,
		RequestedBy: actor,
		Signature:   signature,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	out := actionResponse{Executed: res.Executed}
	if res.Stream != nil {
		out.Stream = res.Stream
	}
	if res.Approval.ID != "" {
		out.Approval = res.Approval
	}
	status := http.StatusOK
	if !res.Executed {
		status = http.StatusAccepted
	}
	writeJSON(w, status, out)
}

// settleWithdraw finalizes the value transfer before the bookkeeping action
// runs. The returned signature is recorded, not verified.
func (h *Handler) settleWithdraw(r *http.Request, stream domain.Stream, actor string, payload map[string]any) (*settlement.Receipt, error) {
	var amount int64
	switch n := payload["amount"].(type) {
	case float64:
		amount = int64(n)
	case int64:
		amount = n
	}
	receipt, err := h.settlement.Withdraw(r.Context(), settlement.Request{
		StreamID:       stream.ID,
		LedgerStreamID: stream.LedgerStreamID,
		VaultAddress:   stream.VaultAddress,
		Recipient:      actor,
		Amount:         amount,
	})
	if err != nil {
		return nil, err
	}
	if err := settlement.WaitForConfirmation(r.Context(), h.settlement, receipt.Signature); err != nil {
		return nil, err
	}
	return receipt, nil
}
