package settlement

import (
	"context"
	"time"

	"github.com/LerianStudio/lib-uncommons/v2/uncommons/backoff"

	dErrors "github.com/nightmare634/voidstream/pkg/domain-errors"
)

const (
	confirmBaseDelay = 250 * time.Millisecond
	confirmMaxDelay  = 4 * time.Second
)

// WaitForConfirmation polls the driver until the signature confirms, fails,
// or the context expires. Poll spacing backs off exponentially so slow
// ledgers are not hammered.
func WaitForConfirmation(ctx context.Context, d Driver, signature string) error {
	for attempt := 0; ; attempt++ {
		status, err := d.Confirm(ctx, signature)
		if err != nil {
			return err
		}
		switch status {
		case StatusConfirmed:
			return nil
		case StatusFailed:
			return dErrors.Newf(dErrors.CodeUnavailable, "transfer %s failed to confirm", signature)
		}

		delay := backoff.Exponential(confirmBaseDelay, attempt)
		if delay > confirmMaxDelay {
			delay = confirmMaxDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
