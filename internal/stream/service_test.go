package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightmare634/voidstream/internal/audit"
	"github.com/nightmare634/voidstream/internal/domain"
	"github.com/nightmare634/voidstream/internal/record"
	dErrors "github.com/nightmare634/voidstream/pkg/domain-errors"
)

func newService(t *testing.T) (*Service, *record.MemoryStore, *audit.Ledger) {
	t.Helper()
	store := record.NewMemoryStore()
	ledger := audit.New(store, slog.Default())
	svc := NewService(store, ledger, slog.Default())
	return svc, store, ledger
}

func validInput() CreateInput {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return CreateInput{
		PayerWallet:    "payer-wallet",
		RatePerSec:     1000,
		StartAt:        start,
		EndAt:          start.Add(24 * time.Hour),
		InviteCode:     "invite-1",
		LedgerStreamID: "ledger-abc",
	}
}

func TestServiceCreate_Validation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	mutate := []func(*CreateInput){
		func(in *CreateInput) { in.PayerWallet = "" },
		func(in *CreateInput) { in.RatePerSec = 0 },
		func(in *CreateInput) { in.StartAt = time.Time{} },
		func(in *CreateInput) { in.EndAt = in.StartAt.Add(-time.Hour) },
	}
	for _, f := range mutate {
		in := validInput()
		f(&in)
		_, err := svc.Create(ctx, in)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	}
}

func TestServiceCreate_And_Get(t *testing.T) {
	svc, _, ledger := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, domain.StreamLive, created.Status)
	assert.NotEmpty(t, created.ID)

	view, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, view.Stream.ID)
	assert.NotEqual(t, DisplayStatus(""), view.Status)

	entries, err := ledger.List(ctx, audit.Filter{StreamID: created.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "create", entries[0].Type)

	_, err = svc.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestServiceGetPublic_OmitsPrivateFields(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	pub, err := svc.GetPublic(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, pub.ID)
	assert.Equal(t, int64(1000), pub.RatePerSec)
	// The public projection type has no wallet or invite fields at all; this
	// test pins the accrual snapshot coming along.
	assert.Equal(t, pub.Accrual.Total, int64(1000*24*3600))
}

func TestServiceList_NewestFirst(t *testing.T) {
	store := record.NewMemoryStore(record.WithClock(func() func() time.Time {
		now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		return func() time.Time {
			now = now.Add(time.Minute)
			return now
		}
	}()))
	ledger := audit.New(store, slog.Default())
	svc := NewService(store, ledger, slog.Default())
	ctx := context.Background()

	first, err := svc.Create(ctx, validInput())
	require.NoError(t, err)
	second, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	views, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, second.ID, views[0].Stream.ID)
	assert.Equal(t, first.ID, views[1].Stream.ID)
}

func TestServiceClaim(t *testing.T) {
	svc, _, ledger := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	_, err = svc.Claim(ctx, created.ID, "receiver-wallet", "wrong-code", "")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

	claimed, err := svc.Claim(ctx, created.ID, "receiver-wallet", "invite-1", "sig-claim")
	require.NoError(t, err)
	assert.Equal(t, "receiver-wallet", claimed.ReceiverWallet)

	// Idempotent for the same claimant.
	again, err := svc.Claim(ctx, created.ID, "receiver-wallet", "invite-1", "")
	require.NoError(t, err)
	assert.Equal(t, "receiver-wallet", again.ReceiverWallet)

	// Conflicting claimant is rejected.
	_, err = svc.Claim(ctx, created.ID, "other-wallet", "invite-1", "")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	entries, err := ledger.List(ctx, audit.Filter{StreamID: created.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "claim", entries[0].Type)
	assert.Equal(t, "sig-claim", entries[0].Signature)
}

func TestServiceClaim_ConcurrentClaimantsFirstWriterWins(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	const claimants = 8
	results := make(chan error, claimants)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < claimants; i++ {
		wallet := fmt.Sprintf("wallet-%d", i)
		go func() {
			start.Wait()
			_, err := svc.Claim(ctx, created.ID, wallet, "invite-1", "")
			results <- err
		}()
	}
	start.Done()

	var wins, conflicts int
	for i := 0; i < claimants; i++ {
		if err := <-results; err == nil {
			wins++
		} else {
			assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
			conflicts++
		}
	}
	assert.Equal(t, 1, wins, "exactly one claimant wins")
	assert.Equal(t, claimants-1, conflicts)

	// The winner's claim was not overwritten by a later racer.
	view, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, view.Stream.ReceiverWallet)
}

func TestServicePurge_CascadesAuditEntries(t *testing.T) {
	svc, store, ledger := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validInput())
	require.NoError(t, err)
	_, err = svc.Claim(ctx, created.ID, "receiver-wallet", "invite-1", "")
	require.NoError(t, err)

	entries, err := ledger.List(ctx, audit.Filter{StreamID: created.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, svc.Purge(ctx, created.ID))

	_, err = svc.Get(ctx, created.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	remaining, err := store.List(ctx, record.CollectionAuditLogs, "")
	require.NoError(t, err)
	assert.Empty(t, remaining, "purge cascades to audit entries")

	err = svc.Purge(ctx, created.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}
