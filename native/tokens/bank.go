package tokens

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "exchangefunds/native/common"
)

var (
	ErrReverted            = errors.New("tokens: transfer reverted")
	ErrInsufficientBalance = errors.New("tokens: insufficient balance")
	ErrNativeRejected      = errors.New("tokens: receiver rejected native currency")
	ErrOverflow            = errors.New("tokens: balance overflow")
	ErrInvalidAmount       = errors.New("tokens: amount must not be negative")
	errNilState            = errors.New("tokens: state not configured")
)

var balancePrefix = []byte("tokens/balance/")

// FailureMode selects how a token contract misbehaves on transfer.
type FailureMode uint8

const (
	FailureNone FailureMode = iota
	// FailureRevert makes transfers error out.
	FailureRevert
	// FailureReturnFalse makes transfers report false without moving funds.
	FailureReturnFalse
)

// Behaviour configures a token's transfer semantics.
type Behaviour struct {
	// TransferFeeBps is withheld from every transfer, modelling fee-on-transfer
	// tokens.
	TransferFeeBps uint16
	Failure        FailureMode
}

type bankState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Bank is an in-process token collaborator. The zero address denotes the
// native currency; every other address is an ERC20-like token. Balances live
// in protocol state so they roll back with the surrounding transition, while
// token behaviour is process configuration.
type Bank struct {
	state bankState
	vault common.Address

	mu           sync.RWMutex
	behaviour    map[common.Address]Behaviour
	rejectNative map[common.Address]bool
}

// NewBank returns a bank whose protocol-held funds sit at vault.
func NewBank(state bankState, vault common.Address) *Bank {
	return &Bank{
		state:        state,
		vault:        vault,
		behaviour:    make(map[common.Address]Behaviour),
		rejectNative: make(map[common.Address]bool),
	}
}

// Vault returns the address holding protocol funds.
func (b *Bank) Vault() common.Address { return b.vault }

// SetBehaviour configures the transfer semantics of token.
func (b *Bank) SetBehaviour(token common.Address, behaviour Behaviour) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.behaviour[token] = behaviour
}

// RejectNative marks addr as a receiver without a payable fallback.
func (b *Bank) RejectNative(addr common.Address, reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if reject {
		b.rejectNative[addr] = true
		return
	}
	delete(b.rejectNative, addr)
}

func (b *Bank) behaviourOf(token common.Address) Behaviour {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.behaviour[token]
}

func (b *Bank) rejects(addr common.Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rejectNative[addr]
}

func balanceKey(token, holder common.Address) []byte {
	key := append([]byte(nil), balancePrefix...)
	key = append(key, token.Bytes()...)
	key = append(key, '/')
	return append(key, holder.Bytes()...)
}

func (b *Bank) load(token, holder common.Address) (*uint256.Int, error) {
	if b == nil || b.state == nil {
		return nil, errNilState
	}
	stored := new(big.Int)
	if _, err := b.state.KVGet(balanceKey(token, holder), stored); err != nil {
		return nil, err
	}
	value, overflow := uint256.FromBig(stored)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}

func (b *Bank) store(token, holder common.Address, value *uint256.Int) error {
	return b.state.KVPut(balanceKey(token, holder), value.ToBig())
}

func toU256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil {
		return new(uint256.Int), nil
	}
	if amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}

// move debits from and credits to. fee is withheld from the credited amount
// and burned.
func (b *Bank) move(token, from, to common.Address, amount *uint256.Int, feeBps uint16) error {
	fromBal, err := b.load(token, from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal.Dec(), amount.Dec())
	}
	received := new(uint256.Int).Set(amount)
	if feeBps > 0 {
		fee := nativecommon.ApplyBps(amount.ToBig(), feeBps)
		received.Sub(received, uint256.MustFromBig(fee))
	}
	if err := b.store(token, from, new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	toBal, err := b.load(token, to)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(toBal, received)
	if overflow {
		return ErrOverflow
	}
	return b.store(token, to, sum)
}

// Mint credits amount of token to holder out of thin air.
func (b *Bank) Mint(token, holder common.Address, amount *big.Int) error {
	value, err := toU256(amount)
	if err != nil {
		return err
	}
	current, err := b.load(token, holder)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(current, value)
	if overflow {
		return ErrOverflow
	}
	return b.store(token, holder, sum)
}

// BalanceOf returns the token balance of holder.
func (b *Bank) BalanceOf(_ context.Context, token, holder common.Address) (*big.Int, error) {
	value, err := b.load(token, holder)
	if err != nil {
		return nil, err
	}
	return value.ToBig(), nil
}

// ReceiveNative moves native currency attached by from into the vault.
func (b *Bank) ReceiveNative(_ context.Context, from common.Address, amount *big.Int) error {
	value, err := toU256(amount)
	if err != nil {
		return err
	}
	return b.move(common.Address{}, from, b.vault, value, 0)
}

// SendNative pays native currency from the vault to to.
func (b *Bank) SendNative(_ context.Context, to common.Address, amount *big.Int) error {
	value, err := toU256(amount)
	if err != nil {
		return err
	}
	if b.rejects(to) {
		return fmt.Errorf("%w: %s", ErrNativeRejected, to.Hex())
	}
	return b.move(common.Address{}, b.vault, to, value, 0)
}

// TransferFrom pulls amount of token from from into the vault.
func (b *Bank) TransferFrom(_ context.Context, token, from common.Address, amount *big.Int) (bool, error) {
	return b.erc20Transfer(token, from, b.vault, amount)
}

// Transfer pays amount of token from the vault to to.
func (b *Bank) Transfer(_ context.Context, token, to common.Address, amount *big.Int) (bool, error) {
	return b.erc20Transfer(token, b.vault, to, amount)
}

func (b *Bank) erc20Transfer(token, from, to common.Address, amount *big.Int) (bool, error) {
	value, err := toU256(amount)
	if err != nil {
		return false, err
	}
	behaviour := b.behaviourOf(token)
	switch behaviour.Failure {
	case FailureRevert:
		return false, ErrReverted
	case FailureReturnFalse:
		return false, nil
	}
	if err := b.move(token, from, to, value, behaviour.TransferFeeBps); err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return false, fmt.Errorf("%w: %v", ErrReverted, err)
		}
		return false, err
	}
	return true, nil
}
