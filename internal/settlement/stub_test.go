package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "github.com/nightmare634/voidstream/pkg/domain-errors"
)

func TestStubDriver_Withdraw(t *testing.T) {
	frozen := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	driver := NewStubDriver(nil, WithStubClock(func() time.Time { return frozen }))

	receipt, err := driver.Withdraw(context.Background(), Request{
		StreamID:     "stream-1",
		VaultAddress: "vault-abc",
		Recipient:    "wallet-xyz",
		Amount:       2500,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.Signature)
	assert.Equal(t, "SIMULATED", receipt.DriverType)
	assert.Equal(t, frozen, receipt.SettledAt)
}

func TestStubDriver_Validation(t *testing.T) {
	driver := NewStubDriver(nil)
	cases := []struct {
		name string
		req  Request
	}{
		{"zero amount", Request{StreamID: "s", VaultAddress: "v", Recipient: "r"}},
		{"negative amount", Request{StreamID: "s", VaultAddress: "v", Recipient: "r", Amount: -5}},
		{"missing vault", Request{StreamID: "s", Recipient: "r", Amount: 10}},
		{"missing recipient", Request{StreamID: "s", VaultAddress: "v", Amount: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := driver.Withdraw(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestStubDriver_Confirm(t *testing.T) {
	driver := NewStubDriver(nil)

	receipt, err := driver.Withdraw(context.Background(), Request{
		StreamID: "s", VaultAddress: "v", Recipient: "r", Amount: 10,
	})
	require.NoError(t, err)

	status, err := driver.Confirm(context.Background(), receipt.Signature)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, status)

	status, err = driver.Confirm(context.Background(), "sig-nobody-issued")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)

	_, err = driver.Confirm(context.Background(), "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestWaitForConfirmation(t *testing.T) {
	driver := NewStubDriver(nil)

	receipt, err := driver.Withdraw(context.Background(), Request{
		StreamID: "s", VaultAddress: "v", Recipient: "r", Amount: 10,
	})
	require.NoError(t, err)

	require.NoError(t, WaitForConfirmation(context.Background(), driver, receipt.Signature))

	err = WaitForConfirmation(context.Background(), driver, "sig-nobody-issued")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func TestStubDriver_RespectsContext(t *testing.T) {
	driver := NewStubDriver(nil, WithLatency(time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := driver.Withdraw(ctx, Request{
		StreamID: "s", VaultAddress: "v", Recipient: "r", Amount: 10,
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
