package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeToken is the token address denoting the native currency.
var NativeToken = common.Address{}

// Transferer is the token-transfer collaborator. Protocol-held funds sit at
// Vault; inbound calls move value into it and outbound calls pay out of it.
type Transferer interface {
	Vault() common.Address
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
	ReceiveNative(ctx context.Context, from common.Address, amount *big.Int) error
	SendNative(ctx context.Context, to common.Address, amount *big.Int) error
	// TransferFrom returns false when the token reports failure without
	// reverting.
	TransferFrom(ctx context.Context, token, from common.Address, amount *big.Int) (bool, error)
	Transfer(ctx context.Context, token, to common.Address, amount *big.Int) (bool, error)
}

// IsNative reports whether token denotes the native currency.
func IsNative(token common.Address) bool {
	return token == NativeToken
}

// TransferIn pulls amount of token from from into the vault. supplied is the
// native value attached to the triggering call and must match amount exactly
// for the native token and be zero otherwise. Fee-on-transfer tokens are
// detected by comparing the vault balance before and after the pull.
func (l *Ledger) TransferIn(ctx context.Context, token, from common.Address, amount, supplied *big.Int) error {
	if l == nil || l.transfers == nil {
		return errNilTransfers
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	value := supplied
	if value == nil {
		value = big.NewInt(0)
	}
	if IsNative(token) {
		switch value.Cmp(amount) {
		case -1:
			return fmt.Errorf("%w: got %s, need %s", ErrInsufficientValueReceived, value, amount)
		case 1:
			return fmt.Errorf("%w: got %s, need %s", ErrNativeWrongAmount, value, amount)
		}
		if amount.Sign() == 0 {
			return nil
		}
		if err := l.transfers.ReceiveNative(ctx, from, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrInsufficientValueReceived, err)
		}
		return nil
	}
	if value.Sign() != 0 {
		return ErrNativeNotAllowed
	}
	if amount.Sign() == 0 {
		return nil
	}
	vault := l.transfers.Vault()
	before, err := l.transfers.BalanceOf(ctx, token, vault)
	if err != nil {
		return err
	}
	ok, err := l.transfers.TransferFrom(ctx, token, from, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: token %s returned false", ErrTokenTransferFailed, token.Hex())
	}
	after, err := l.transfers.BalanceOf(ctx, token, vault)
	if err != nil {
		return err
	}
	received := new(big.Int).Sub(after, before)
	if received.Cmp(amount) != 0 {
		return fmt.Errorf("%w: requested %s, received %s", ErrTokenAmountMismatch, amount, received)
	}
	return nil
}

// TransferOut pays amount of token from the vault to to. Native receivers
// that reject the value, reverting tokens and tokens returning false all
// surface as ErrTokenTransferFailed.
func (l *Ledger) TransferOut(ctx context.Context, token, to common.Address, amount *big.Int) error {
	if l == nil || l.transfers == nil {
		return errNilTransfers
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if IsNative(token) {
		if err := l.transfers.SendNative(ctx, to, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
		}
		return nil
	}
	ok, err := l.transfers.Transfer(ctx, token, to, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: token %s returned false", ErrTokenTransferFailed, token.Hex())
	}
	return nil
}
