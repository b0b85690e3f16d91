package action

import (
	"github.com/nightmare634/voidstream/internal/domain"
	dErrors "github.com/nightmare634/voidstream/pkg/domain-errors"
)

// Authorize checks that the actor holds the role an action requires:
// timeline control belongs to the payer, withdrawal to the receiver, and
// either side may cancel. Unknown actions pass through; Execute rejects
// them with a validation error.
func Authorize(s domain.Stream, act, actor string) error {
	switch act {
	case ActionPause, ActionResume, ActionTimelineUpdate:
		if actor != s.PayerWallet {
			return dErrors.Newf(dErrors.CodeForbidden, "%s requires the payer wallet", act)
		}
	case ActionWithdraw:
		if s.ReceiverWallet == "" || actor != s.ReceiverWallet {
			return dErrors.New(dErrors.CodeForbidden, "withdraw requires the receiver wallet")
		}
	case ActionCancel:
		if actor != s.PayerWallet && (s.ReceiverWallet == "" || actor != s.ReceiverWallet) {
			return dErrors.New(dErrors.CodeForbidden, "cancel requires the payer or receiver wallet")
		}
	}
	return nil
}
