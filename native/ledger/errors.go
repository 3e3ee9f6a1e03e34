package ledger

import "errors"

var (
	// ErrNothingToWithdraw is returned when a withdrawal amount is zero or
	// exceeds the available balance.
	ErrNothingToWithdraw = errors.New("ledger: nothing to withdraw")
	// ErrTokenAmountMismatch covers mismatched token/amount lists and tokens
	// delivering less than requested.
	ErrTokenAmountMismatch        = errors.New("ledger: token amount mismatch")
	ErrInsufficientAvailableFunds = errors.New("ledger: insufficient available funds")
	ErrInvalidAmount              = errors.New("ledger: invalid amount")
	ErrInvalidAccount             = errors.New("ledger: invalid account")
	ErrTokenTransferFailed        = errors.New("ledger: token transfer failed")
	ErrEscrowOverdrawn            = errors.New("ledger: escrow overdrawn")
	ErrAmountOverflow             = errors.New("ledger: amount overflow")
	ErrInsufficientValueReceived  = errors.New("ledger: insufficient value received")
	ErrNativeWrongAmount          = errors.New("ledger: native value does not match amount")
	ErrNativeNotAllowed           = errors.New("ledger: native value not allowed for token")

	errNilState     = errors.New("ledger: state not configured")
	errNilTransfers = errors.New("ledger: token transfers not configured")
)
