package encumbrance

import (
	"errors"

	"exchangefunds/native/ledger"
)

var (
	ErrOfferNotOpen      = errors.New("encumbrance: offer not open")
	ErrWrongCommitPath   = errors.New("encumbrance: offer cannot be committed through this path")
	ErrAlreadyEscalated  = errors.New("encumbrance: exchange already escalated")
	ErrExchangeFinalized = errors.New("encumbrance: exchange already finalized")
	ErrNotHolder         = errors.New("encumbrance: caller does not hold the voucher")
	ErrNoDisputeResolver = errors.New("encumbrance: offer has no dispute resolver")
	ErrInvalidPrice      = errors.New("encumbrance: invalid price")
	errNotConfigured     = errors.New("encumbrance: engine not configured")

	ErrInsufficientAvailableFunds = ledger.ErrInsufficientAvailableFunds
	ErrInsufficientValueReceived  = ledger.ErrInsufficientValueReceived
	ErrNativeWrongAmount          = ledger.ErrNativeWrongAmount
	ErrNativeNotAllowed           = ledger.ErrNativeNotAllowed
	ErrTokenAmountMismatch        = ledger.ErrTokenAmountMismatch
	ErrTokenTransferFailed        = ledger.ErrTokenTransferFailed
)
