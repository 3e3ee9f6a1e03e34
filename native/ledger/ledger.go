package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"exchangefunds/core/events"
	nativecommon "exchangefunds/native/common"
)

var (
	availablePrefix = []byte("ledger/available/")
	tokenListPrefix = []byte("ledger/tokens/")
	escrowPrefix    = []byte("ledger/escrow/")
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Ledger tracks per-account available balances and per-exchange escrow.
// Escrow exists only between commit and settlement and is addressed by
// exchange id, never by account.
type Ledger struct {
	state     ledgerState
	transfers Transferer
	emitter   events.Emitter
}

// New returns a ledger over state using transfers for external value
// movement.
func New(state ledgerState, transfers Transferer) *Ledger {
	return &Ledger{state: state, transfers: transfers, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// Source tells LockToEscrow where a locked amount comes from.
type Source uint8

const (
	// SourceAvailable debits the account's available balance.
	SourceAvailable Source = iota
	// SourceTransferred marks value already pulled in through TransferIn on
	// behalf of the account.
	SourceTransferred
	// SourceSponsored marks value pulled in from an external sponsor. No
	// FundsEncumbered event is emitted for it.
	SourceSponsored
)

// Lock is one amount moved into an exchange's escrow.
type Lock struct {
	AccountID uint64
	Token     common.Address
	Amount    *big.Int
	Source    Source
}

// Credit is one amount moved from an exchange's escrow into an account's
// available balance.
type Credit struct {
	AccountID uint64
	Token     common.Address
	Amount    *big.Int
}

func accountTokenKey(prefix []byte, id uint64, token common.Address) []byte {
	key := append([]byte(nil), prefix...)
	key = strconv.AppendUint(key, id, 10)
	key = append(key, '/')
	return append(key, token.Bytes()...)
}

func tokenListKey(id uint64) []byte {
	return strconv.AppendUint(append([]byte(nil), tokenListPrefix...), id, 10)
}

func checkBounds(v *big.Int) error {
	if v.Sign() < 0 {
		return ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return ErrAmountOverflow
	}
	return nil
}

func (l *Ledger) getAmount(key []byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	value := new(big.Int)
	if _, err := l.state.KVGet(key, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (l *Ledger) putAmount(key []byte, value *big.Int) error {
	if value.Sign() == 0 {
		return l.state.KVDelete(key)
	}
	return l.state.KVPut(key, value)
}

// Available returns the available balance of account in token.
func (l *Ledger) Available(accountID uint64, token common.Address) (*big.Int, error) {
	return l.getAmount(accountTokenKey(availablePrefix, accountID, token))
}

// Tokens returns the tokens in which account holds a non-zero available
// balance, in the order they were first credited.
func (l *Ledger) Tokens(accountID uint64) ([]common.Address, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	var tokens []common.Address
	if _, err := l.state.KVGet(tokenListKey(accountID), &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// EscrowedAmount returns the value held in escrow for exchangeID. It is used
// for settlement invariant checks.
func (l *Ledger) EscrowedAmount(exchangeID uint64, token common.Address) (*big.Int, error) {
	return l.getAmount(accountTokenKey(escrowPrefix, exchangeID, token))
}

func (l *Ledger) setAvailable(accountID uint64, token common.Address, value *big.Int) error {
	if err := checkBounds(value); err != nil {
		return err
	}
	key := accountTokenKey(availablePrefix, accountID, token)
	previous, err := l.getAmount(key)
	if err != nil {
		return err
	}
	if err := l.putAmount(key, value); err != nil {
		return err
	}
	switch {
	case previous.Sign() == 0 && value.Sign() > 0:
		return l.addToken(accountID, token)
	case previous.Sign() > 0 && value.Sign() == 0:
		return l.removeToken(accountID, token)
	}
	return nil
}

func (l *Ledger) addToken(accountID uint64, token common.Address) error {
	tokens, err := l.Tokens(accountID)
	if err != nil {
		return err
	}
	for _, existing := range tokens {
		if existing == token {
			return nil
		}
	}
	return l.state.KVPut(tokenListKey(accountID), append(tokens, token))
}

func (l *Ledger) removeToken(accountID uint64, token common.Address) error {
	tokens, err := l.Tokens(accountID)
	if err != nil {
		return err
	}
	kept := tokens[:0]
	for _, existing := range tokens {
		if existing != token {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		return l.state.KVDelete(tokenListKey(accountID))
	}
	return l.state.KVPut(tokenListKey(accountID), kept)
}

func (l *Ledger) credit(accountID uint64, token common.Address, amount *big.Int) error {
	current, err := l.Available(accountID, token)
	if err != nil {
		return err
	}
	return l.setAvailable(accountID, token, current.Add(current, amount))
}

// Deposit pulls amount of token from the depositor's wallet and credits it to
// account's available balance.
func (l *Ledger) Deposit(ctx context.Context, accountID uint64, token, from common.Address, amount, supplied *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := checkBounds(amount); err != nil {
		return err
	}
	if err := l.TransferIn(ctx, token, from, amount, supplied); err != nil {
		return err
	}
	if err := l.credit(accountID, token, amount); err != nil {
		return err
	}
	l.emitter.Emit(events.FundsDeposited{AccountID: accountID, Token: token, Amount: new(big.Int).Set(amount), Actor: from})
	return nil
}

type tokenKey struct {
	account uint64
	token   common.Address
}

// LockToEscrow moves the provided amounts into exchangeID's escrow. Every
// available-balance draw is checked before any state changes.
func (l *Ledger) LockToEscrow(exchangeID uint64, locks []Lock, actor common.Address) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	required := make(map[tokenKey]*big.Int)
	var order []tokenKey
	for _, lock := range locks {
		if lock.Amount == nil || lock.Amount.Sign() < 0 {
			return ErrInvalidAmount
		}
		if lock.Source != SourceAvailable || lock.Amount.Sign() == 0 {
			continue
		}
		key := tokenKey{account: lock.AccountID, token: lock.Token}
		if _, ok := required[key]; !ok {
			required[key] = big.NewInt(0)
			order = append(order, key)
		}
		required[key].Add(required[key], lock.Amount)
	}
	for _, key := range order {
		available, err := l.Available(key.account, key.token)
		if err != nil {
			return err
		}
		if available.Cmp(required[key]) < 0 {
			return fmt.Errorf("%w: account %d holds %s, needs %s", ErrInsufficientAvailableFunds, key.account, available, required[key])
		}
	}
	for _, key := range order {
		available, err := l.Available(key.account, key.token)
		if err != nil {
			return err
		}
		if err := l.setAvailable(key.account, key.token, available.Sub(available, required[key])); err != nil {
			return err
		}
	}
	for _, lock := range locks {
		if lock.Amount.Sign() == 0 {
			continue
		}
		escrowKey := accountTokenKey(escrowPrefix, exchangeID, lock.Token)
		escrowed, err := l.getAmount(escrowKey)
		if err != nil {
			return err
		}
		escrowed.Add(escrowed, lock.Amount)
		if err := checkBounds(escrowed); err != nil {
			return err
		}
		if err := l.putAmount(escrowKey, escrowed); err != nil {
			return err
		}
		if lock.Source != SourceSponsored {
			l.emitter.Emit(events.FundsEncumbered{
				ExchangeID: exchangeID,
				AccountID:  lock.AccountID,
				Token:      lock.Token,
				Amount:     new(big.Int).Set(lock.Amount),
				Actor:      actor,
			})
		}
	}
	return nil
}

func (l *Ledger) debitEscrow(exchangeID uint64, totals map[common.Address]*big.Int, order []common.Address) error {
	for _, token := range order {
		escrowed, err := l.EscrowedAmount(exchangeID, token)
		if err != nil {
			return err
		}
		if escrowed.Cmp(totals[token]) < 0 {
			return fmt.Errorf("%w: exchange %d holds %s, release needs %s", ErrEscrowOverdrawn, exchangeID, escrowed, totals[token])
		}
	}
	for _, token := range order {
		escrowed, err := l.EscrowedAmount(exchangeID, token)
		if err != nil {
			return err
		}
		if err := l.putAmount(accountTokenKey(escrowPrefix, exchangeID, token), escrowed.Sub(escrowed, totals[token])); err != nil {
			return err
		}
	}
	return nil
}

// CreditFromEscrow moves the provided amounts from exchangeID's escrow into
// the accounts' available balances. It fails without changes if the credits
// exceed what is escrowed.
func (l *Ledger) CreditFromEscrow(exchangeID uint64, credits []Credit, actor common.Address) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	totals := make(map[common.Address]*big.Int)
	var order []common.Address
	for _, c := range credits {
		if c.Amount == nil || c.Amount.Sign() < 0 {
			return ErrInvalidAmount
		}
		if _, ok := totals[c.Token]; !ok {
			totals[c.Token] = big.NewInt(0)
			order = append(order, c.Token)
		}
		totals[c.Token].Add(totals[c.Token], c.Amount)
	}
	if err := l.debitEscrow(exchangeID, totals, order); err != nil {
		return err
	}
	for _, c := range credits {
		if c.Amount.Sign() == 0 {
			continue
		}
		if err := l.credit(c.AccountID, c.Token, c.Amount); err != nil {
			return err
		}
		l.emitter.Emit(events.FundsReleased{
			ExchangeID: exchangeID,
			AccountID:  c.AccountID,
			Token:      c.Token,
			Amount:     new(big.Int).Set(c.Amount),
			Actor:      actor,
		})
	}
	return nil
}

// TransferFromEscrow pays amount of token out of exchangeID's escrow to an
// external address. The escrow is debited before the transfer.
func (l *Ledger) TransferFromEscrow(ctx context.Context, exchangeID uint64, token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	totals := map[common.Address]*big.Int{token: new(big.Int).Set(amount)}
	if err := l.debitEscrow(exchangeID, totals, []common.Address{token}); err != nil {
		return err
	}
	return l.TransferOut(ctx, token, to, amount)
}

// Withdraw pays available funds of account out to recipient. tokens and
// amounts must have equal length; a token may be listed more than once as long
// as the combined amount is covered. Empty lists withdraw every available
// balance in full. All balances are debited before any transfer is made.
func (l *Ledger) Withdraw(ctx context.Context, accountID uint64, recipient common.Address, tokens []common.Address, amounts []*big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if len(tokens) != len(amounts) {
		return fmt.Errorf("%w: %d tokens, %d amounts", ErrTokenAmountMismatch, len(tokens), len(amounts))
	}
	if recipient == (common.Address{}) {
		return fmt.Errorf("%w: recipient must not be zero", ErrInvalidAccount)
	}
	if len(tokens) == 0 {
		held, err := l.Tokens(accountID)
		if err != nil {
			return err
		}
		for _, token := range held {
			available, err := l.Available(accountID, token)
			if err != nil {
				return err
			}
			tokens = append(tokens, token)
			amounts = append(amounts, available)
		}
		if len(tokens) == 0 {
			return ErrNothingToWithdraw
		}
	}

	totals := make(map[common.Address]*big.Int)
	var order []common.Address
	for i, token := range tokens {
		amount := amounts[i]
		if amount == nil || amount.Sign() <= 0 {
			return ErrNothingToWithdraw
		}
		if _, ok := totals[token]; !ok {
			totals[token] = big.NewInt(0)
			order = append(order, token)
		}
		totals[token].Add(totals[token], amount)
	}
	for _, token := range order {
		available, err := l.Available(accountID, token)
		if err != nil {
			return err
		}
		if available.Cmp(totals[token]) < 0 {
			return fmt.Errorf("%w: account %d holds %s of %s, requested %s", ErrNothingToWithdraw, accountID, available, token.Hex(), totals[token])
		}
	}
	for _, token := range order {
		available, err := l.Available(accountID, token)
		if err != nil {
			return err
		}
		if err := l.setAvailable(accountID, token, available.Sub(available, totals[token])); err != nil {
			return err
		}
	}
	for _, token := range order {
		if err := l.TransferOut(ctx, token, recipient, totals[token]); err != nil {
			return err
		}
		l.emitter.Emit(events.FundsWithdrawn{
			AccountID: accountID,
			Recipient: recipient,
			Token:     token,
			Amount:    nativecommon.CloneBig(totals[token]),
			Actor:     recipient,
		})
	}
	return nil
}
