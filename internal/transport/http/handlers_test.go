package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/nightmare634/voidstream/internal/action"
	"github.com/nightmare634/voidstream/internal/approval"
	"github.com/nightmare634/voidstream/internal/audit"
	"github.com/nightmare634/voidstream/internal/domain"
	"github.com/nightmare634/voidstream/internal/jwtauth"
	"github.com/nightmare634/voidstream/internal/realtime"
	"github.com/nightmare634/voidstream/internal/record"
	"github.com/nightmare634/voidstream/internal/settlement"
	"github.com/nightmare634/voidstream/internal/stream"
)

type HandlersSuite struct {
	suite.Suite
	server *httptest.Server
	jwt    *jwtauth.Service
	store  *record.MemoryStore
	flow   *approval.Workflow
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersSuite))
}

func (s *HandlersSuite) SetupTest() {
	logger := slog.Default()
	s.store = record.NewMemoryStore()
	ledger := audit.New(s.store, logger)
	streams := stream.NewService(s.store, ledger, logger)
	executor := action.New(s.store, ledger, logger)
	s.flow = approval.NewWorkflow(s.store, executor, ledger, logger)
	settle := settlement.NewStubDriver(logger)
	balances := realtime.NewBalanceCache(stubSubscriber{})
	s.jwt = jwtauth.NewService("test-key", "voidstream", "voidstream-api")

	h := NewHandler(streams, s.flow, ledger, settle, balances, logger)
	router := NewRouter(h, s.jwt, nil, logger)
	s.server = httptest.NewServer(router)
}

func (s *HandlersSuite) TearDownTest() {
	s.server.Close()
}

type stubSubscriber struct{}

func (stubSubscriber) Subscribe(_ context.Context, key string, cb realtime.Callback) error {
	cb(key, 12345)
	return nil
}

func (s *HandlersSuite) request(method, path, wallet string, body any) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	s.Require().NoError(err)
	if wallet != "" {
		token, err := s.jwt.GenerateToken(wallet, time.Hour)
		s.Require().NoError(err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	return resp
}

func decode[T any](s *HandlersSuite, resp *http.Response) T {
	defer resp.Body.Close()
	var out T
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (s *HandlersSuite) createStream(payer string) domain.Stream {
	now := time.Now().UTC().Truncate(time.Second)
	resp := s.request(http.MethodPost, "/api/streams", payer, map[string]any{
		"ratePerSec":   1000,
		"startAt":      now.Format(time.RFC3339),
		"endAt":        now.Add(time.Hour).Format(time.RFC3339),
		"inviteCode":   "secret-invite",
		"vaultAddress": "vault-abc",
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	return decode[domain.Stream](s, resp)
}

func (s *HandlersSuite) operatorContext(owners ...string) {
	_, err := s.flow.CreateContext(context.Background(), domain.ModeOperator, owners)
	s.Require().NoError(err)
}

func (s *HandlersSuite) TestHealthIsPublic() {
	resp := s.request(http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlersSuite) TestAuthRequired() {
	resp := s.request(http.MethodGet, "/api/streams", "", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, s.server.URL+"/api/streams", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	resp2, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	s.Equal(http.StatusUnauthorized, resp2.StatusCode)
	resp2.Body.Close()
}

func (s *HandlersSuite) TestStreamLifecycle() {
	created := s.createStream("payer-wallet")
	s.Equal("payer-wallet", created.PayerWallet)
	s.Equal(domain.StreamLive, created.Status)

	resp := s.request(http.MethodGet, "/api/streams/"+created.ID, "payer-wallet", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	view := decode[streamResponse](s, resp)
	s.Equal(created.ID, view.Stream.ID)
	s.NotZero(view.Accrual.Total)

	resp = s.request(http.MethodGet, "/api/streams", "payer-wallet", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	list := decode[[]streamResponse](s, resp)
	s.Len(list, 1)

	// Unauthenticated public projection hides wallets.
	resp = s.request(http.MethodGet, "/api/public/streams/"+created.ID, "", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	public := decode[map[string]any](s, resp)
	s.NotContains(public, "payerWallet")
	s.Contains(public, "accrual")

	resp = s.request(http.MethodGet, "/api/streams/missing", "payer-wallet", nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlersSuite) TestClaim() {
	created := s.createStream("payer-wallet")

	resp := s.request(http.MethodPost, fmt.Sprintf("/api/streams/%s/claim", created.ID),
		"receiver-wallet", map[string]any{"inviteCode": "wrong"})
	s.Equal(http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = s.request(http.MethodPost, fmt.Sprintf("/api/streams/%s/claim", created.ID),
		"receiver-wallet", map[string]any{"inviteCode": "secret-invite"})
	s.Equal(http.StatusOK, resp.StatusCode)
	claimed := decode[domain.Stream](s, resp)
	s.Equal("receiver-wallet", claimed.ReceiverWallet)

	// A different wallet claiming afterwards conflicts.
	resp = s.request(http.MethodPost, fmt.Sprintf("/api/streams/%s/claim", created.ID),
		"other-wallet", map[string]any{"inviteCode": "secret-invite"})
	s.Equal(http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlersSuite) TestActionDirectExecution() {
	s.operatorContext("payer-wallet")
	created := s.createStream("payer-wallet")

	resp := s.request(http.MethodPost, fmt.Sprintf("/api/streams/%s/actions", created.ID),
		"payer-wallet", map[string]any{"action": "pause"})
	s.Equal(http.StatusOK, resp.StatusCode)
	out := decode[map[string]any](s, resp)
	s.Equal(true, out["executed"])

	resp = s.request(http.MethodGet, "/api/streams/"+created.ID, "payer-wallet", nil)
	view := decode[streamResponse](s, resp)
	s.Equal(domain.StreamPaused, view.Stream.Status)
}

func (s *HandlersSuite) TestActionConsensusParksApproval() {
	_, err := s.flow.CreateContext(context.Background(), domain.ModeConsensus,
		[]string{"owner-a", "owner-b"})
	s.Require().NoError(err)
	created := s.createStream("owner-a")

	resp := s.request(http.MethodPost, fmt.Sprintf("/api/streams/%s/actions", created.ID),
		"owner-a", map[string]any{"action": "cancel"})
	s.Equal(http.StatusAccepted, resp.StatusCode)
	out := decode[actionResponse](s, resp)
	s.False(out.Executed)

	// Approve to quorum over HTTP.
	approvalOut := out.Approval.(map[string]any)
	id := approvalOut["id"].(string)

	resp = s.request(http.MethodPost, "/api/approvals/"+id+"/approve", "owner-a", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	first := decode[map[string]any](s, resp)
	s.Equal(false, first["executed"])

	resp = s.request(http.MethodPost, "/api/approvals/"+id+"/approve", "owner-b", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	second := decode[map[string]any](s, resp)
	s.Equal(true, second["executed"])

	resp = s.request(http.MethodGet, "/api/streams/"+created.ID, "owner-a", nil)
	view := decode[streamResponse](s, resp)
	s.Equal(domain.StreamCancelled, view.Stream.Status)

	// Non-owner approval is forbidden.
	resp = s.request(http.MethodPost, "/api/approvals/"+id+"/approve", "mallory", nil)
	s.Equal(http.StatusConflict, resp.StatusCode, "terminal approval conflicts before ownership check")
	resp.Body.Close()
}

func (s *HandlersSuite) TestWithdrawSettlesBeforeBookkeeping() {
	s.operatorContext("receiver-wallet")
	created := s.createStream("payer-wallet")

	resp := s.request(http.MethodPost, fmt.Sprintf("/api/streams/%s/claim", created.ID),
		"receiver-wallet", map[string]any{"inviteCode": "secret-invite"})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.request(http.MethodPost, fmt.Sprintf("/api/streams/%s/actions", created.ID),
		"receiver-wallet", map[string]any{
			"action":  "withdraw",
			"payload": map[string]any{"amount": 2500},
		})
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.request(http.MethodGet, "/api/streams/"+created.ID, "receiver-wallet", nil)
	view := decode[streamResponse](s, resp)
	s.Equal(int64(2500), view.Stream.TotalWithdrawn)

	// The simulated settlement signature lands in the audit trail.
	resp = s.request(http.MethodGet, fmt.Sprintf("/api/streams/%s/audit", created.ID), "receiver-wallet", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	entries := decode[[]domain.AuditEntry](s, resp)
	var withdraw *domain.AuditEntry
	for i := range entries {
		if entries[i].Type == "withdraw" {
			withdraw = &entries[i]
		}
	}
	s.Require().NotNil(withdraw)
	s.Contains(withdraw.Signature, "sim_")
}

func (s *HandlersSuite) TestStreamProjection() {
	created := s.createStream("payer-wallet")

	resp := s.request(http.MethodGet, fmt.Sprintf("/api/streams/%s/projection", created.ID), "payer-wallet", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	out := decode[projectionResponse](s, resp)
	s.Equal(12, out.Months)
	s.Len(out.Series, 12)

	resp = s.request(http.MethodGet, fmt.Sprintf("/api/streams/%s/projection?months=3", created.ID), "payer-wallet", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	short := decode[projectionResponse](s, resp)
	s.Len(short.Series, 3)

	resp = s.request(http.MethodGet, fmt.Sprintf("/api/streams/%s/projection?months=0", created.ID), "payer-wallet", nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlersSuite) TestActionRoleEnforcement() {
	s.operatorContext("payer-wallet", "receiver-wallet")
	created := s.createStream("payer-wallet")

	resp := s.request(http.MethodPost, fmt.Sprintf("/api/streams/%s/claim", created.ID),
		"receiver-wallet", map[string]any{"inviteCode": "secret-invite"})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Only the payer controls the timeline.
	resp = s.request(http.MethodPost, fmt.Sprintf("/api/streams/%s/actions", created.ID),
		"receiver-wallet", map[string]any{"action": "pause"})
	s.Equal(http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Only the receiver withdraws.
	resp = s.request(http.MethodPost, fmt.Sprintf("/api/streams/%s/actions", created.ID),
		"payer-wallet", map[string]any{
			"action":  "withdraw",
			"payload": map[string]any{"amount": 100},
		})
	s.Equal(http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Either side may cancel.
	resp = s.request(http.MethodPost, fmt.Sprintf("/api/streams/%s/actions", created.ID),
		"receiver-wallet", map[string]any{"action": "cancel"})
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlersSuite) TestContextEndpoints() {
	resp := s.request(http.MethodGet, "/api/context", "anyone", nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = s.request(http.MethodPost, "/api/context", "anyone", map[string]any{
		"mode":   "consensus",
		"owners": []string{"a", "b"},
	})
	s.Equal(http.StatusCreated, resp.StatusCode)
	created := decode[domain.ApprovalContext](s, resp)
	s.Equal(domain.ModeConsensus, created.Mode)

	resp = s.request(http.MethodGet, "/api/context", "anyone", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	latest := decode[domain.ApprovalContext](s, resp)
	s.Equal(created.ID, latest.ID)

	resp = s.request(http.MethodPost, "/api/context", "anyone", map[string]any{
		"mode": "anarchy",
	})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlersSuite) TestBalanceEndpoint() {
	created := s.createStream("payer-wallet")

	resp := s.request(http.MethodGet, fmt.Sprintf("/api/streams/%s/balance", created.ID), "payer-wallet", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	out := decode[map[string]any](s, resp)
	s.Equal("vault-abc", out["vault"])
	s.Equal(float64(12345), out["balance"])
	s.Equal(true, out["known"])
}

func (s *HandlersSuite) TestPurge() {
	created := s.createStream("payer-wallet")

	resp := s.request(http.MethodDelete, "/api/streams/"+created.ID, "payer-wallet", nil)
	s.Equal(http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = s.request(http.MethodGet, "/api/streams/"+created.ID, "payer-wallet", nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, fmt.Errorf("plain failure"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal", body["error"])
}
