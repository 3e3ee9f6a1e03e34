package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"exchangefunds/core/events"
	"exchangefunds/core/state"
	"exchangefunds/native/tokens"
	"exchangefunds/storage"
	"exchangefunds/storage/trie"
)

var (
	vault     = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	erc20     = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	alice     = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	aliceID   = uint64(1)
	bobID     = uint64(2)
	exchange1 = uint64(7)
)

type harness struct {
	manager  *state.Manager
	bank     *tokens.Bank
	ledger   *Ledger
	recorder *events.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	manager := state.NewManager(tr)
	bank := tokens.NewBank(manager, vault)
	l := New(manager, bank)
	recorder := &events.Recorder{}
	l.SetEmitter(recorder)
	return &harness{manager: manager, bank: bank, ledger: l, recorder: recorder}
}

func (h *harness) fund(t *testing.T, token, holder common.Address, amount int64) {
	t.Helper()
	if err := h.bank.Mint(token, holder, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (h *harness) deposit(t *testing.T, id uint64, token, from common.Address, amount int64) {
	t.Helper()
	h.fund(t, token, from, amount)
	var supplied *big.Int
	if IsNative(token) {
		supplied = big.NewInt(amount)
	}
	if err := h.ledger.Deposit(context.Background(), id, token, from, big.NewInt(amount), supplied); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (h *harness) available(t *testing.T, id uint64, token common.Address) int64 {
	t.Helper()
	bal, err := h.ledger.Available(id, token)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	return bal.Int64()
}

func TestDepositTracksTokenList(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, aliceID, erc20, alice, 100)
	h.deposit(t, aliceID, NativeToken, alice, 50)

	tokensHeld, err := h.ledger.Tokens(aliceID)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if len(tokensHeld) != 2 || tokensHeld[0] != erc20 || tokensHeld[1] != NativeToken {
		t.Fatalf("unexpected token list %v", tokensHeld)
	}
	if got := len(h.recorder.OfType(events.TypeFundsDeposited)); got != 2 {
		t.Fatalf("expected two deposit events, got %d", got)
	}

	if err := h.ledger.Withdraw(context.Background(), aliceID, alice, []common.Address{erc20}, []*big.Int{big.NewInt(100)}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	tokensHeld, err = h.ledger.Tokens(aliceID)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if len(tokensHeld) != 1 || tokensHeld[0] != NativeToken {
		t.Fatalf("token must leave the list once its balance is zero: %v", tokensHeld)
	}
}

func TestTransferInNativeValueChecks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, NativeToken, alice, 100)

	if err := h.ledger.TransferIn(ctx, NativeToken, alice, big.NewInt(10), big.NewInt(9)); !errors.Is(err, ErrInsufficientValueReceived) {
		t.Fatalf("expected insufficient value, got %v", err)
	}
	if err := h.ledger.TransferIn(ctx, NativeToken, alice, big.NewInt(10), big.NewInt(11)); !errors.Is(err, ErrNativeWrongAmount) {
		t.Fatalf("expected wrong native amount, got %v", err)
	}
	if err := h.ledger.TransferIn(ctx, erc20, alice, big.NewInt(10), big.NewInt(1)); !errors.Is(err, ErrNativeNotAllowed) {
		t.Fatalf("expected native not allowed, got %v", err)
	}
	if err := h.ledger.TransferIn(ctx, NativeToken, alice, big.NewInt(10), big.NewInt(10)); err != nil {
		t.Fatalf("exact native value: %v", err)
	}
}

func TestTransferInDetectsFeeOnTransfer(t *testing.T) {
	h := newHarness(t)
	h.fund(t, erc20, alice, 1_000)
	h.bank.SetBehaviour(erc20, tokens.Behaviour{TransferFeeBps: 50})

	err := h.ledger.Deposit(context.Background(), aliceID, erc20, alice, big.NewInt(1_000), nil)
	if !errors.Is(err, ErrTokenAmountMismatch) {
		t.Fatalf("expected token amount mismatch, got %v", err)
	}
}

func TestTransferFailuresAreUnified(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, aliceID, erc20, alice, 100)
	h.deposit(t, bobID, NativeToken, bob, 100)

	h.bank.SetBehaviour(erc20, tokens.Behaviour{Failure: tokens.FailureReturnFalse})
	if err := h.ledger.TransferOut(ctx, erc20, alice, big.NewInt(1)); !errors.Is(err, ErrTokenTransferFailed) {
		t.Fatalf("expected transfer failure for false return, got %v", err)
	}
	h.bank.SetBehaviour(erc20, tokens.Behaviour{Failure: tokens.FailureRevert})
	if err := h.ledger.TransferOut(ctx, erc20, alice, big.NewInt(1)); !errors.Is(err, ErrTokenTransferFailed) {
		t.Fatalf("expected transfer failure for revert, got %v", err)
	}
	h.bank.RejectNative(bob, true)
	if err := h.ledger.TransferOut(ctx, NativeToken, bob, big.NewInt(1)); !errors.Is(err, ErrTokenTransferFailed) {
		t.Fatalf("expected transfer failure for rejecting receiver, got %v", err)
	}
}

func TestWithdrawDuplicateTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, aliceID, erc20, alice, 100)

	err := h.ledger.Withdraw(ctx, aliceID, alice, []common.Address{erc20, erc20}, []*big.Int{big.NewInt(30), big.NewInt(40)})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := h.available(t, aliceID, erc20); got != 30 {
		t.Fatalf("expected 30 remaining, got %d", got)
	}
	wallet, err := h.bank.BalanceOf(ctx, erc20, alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if wallet.Int64() != 70 {
		t.Fatalf("expected 70 paid out, got %s", wallet)
	}

	err = h.ledger.Withdraw(ctx, aliceID, alice, []common.Address{erc20, erc20}, []*big.Int{big.NewInt(20), big.NewInt(20)})
	if !errors.Is(err, ErrNothingToWithdraw) {
		t.Fatalf("expected nothing to withdraw, got %v", err)
	}
	if got := h.available(t, aliceID, erc20); got != 30 {
		t.Fatalf("failed withdrawal must not debit, got %d", got)
	}
}

func TestWithdrawValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, aliceID, erc20, alice, 100)

	if err := h.ledger.Withdraw(ctx, aliceID, alice, []common.Address{erc20}, nil); !errors.Is(err, ErrTokenAmountMismatch) {
		t.Fatalf("expected list mismatch, got %v", err)
	}
	if err := h.ledger.Withdraw(ctx, aliceID, alice, []common.Address{erc20}, []*big.Int{big.NewInt(0)}); !errors.Is(err, ErrNothingToWithdraw) {
		t.Fatalf("expected nothing to withdraw for zero, got %v", err)
	}
	if err := h.ledger.Withdraw(ctx, bobID, bob, nil, nil); !errors.Is(err, ErrNothingToWithdraw) {
		t.Fatalf("expected nothing to withdraw for empty account, got %v", err)
	}
	if err := h.ledger.Withdraw(ctx, aliceID, alice, nil, nil); err != nil {
		t.Fatalf("withdraw all: %v", err)
	}
	if got := h.available(t, aliceID, erc20); got != 0 {
		t.Fatalf("expected everything withdrawn, got %d", got)
	}
}

func TestWithdrawTransferFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, aliceID, erc20, alice, 100)
	h.bank.SetBehaviour(erc20, tokens.Behaviour{Failure: tokens.FailureReturnFalse})

	err := h.manager.Atomic(func() error {
		return h.ledger.Withdraw(context.Background(), aliceID, alice, []common.Address{erc20}, []*big.Int{big.NewInt(60)})
	})
	if !errors.Is(err, ErrTokenTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	if got := h.available(t, aliceID, erc20); got != 100 {
		t.Fatalf("expected balance restored to 100, got %d", got)
	}
}

func TestEscrowLockAndCredit(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, aliceID, erc20, alice, 100)

	err := h.ledger.LockToEscrow(exchange1, []Lock{
		{AccountID: aliceID, Token: erc20, Amount: big.NewInt(80)},
		{AccountID: aliceID, Token: erc20, Amount: big.NewInt(30)},
	}, alice)
	if !errors.Is(err, ErrInsufficientAvailableFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got := h.available(t, aliceID, erc20); got != 100 {
		t.Fatalf("rejected lock must not debit, got %d", got)
	}

	if err := h.ledger.LockToEscrow(exchange1, []Lock{{AccountID: aliceID, Token: erc20, Amount: big.NewInt(80)}}, alice); err != nil {
		t.Fatalf("lock: %v", err)
	}
	escrowed, err := h.ledger.EscrowedAmount(exchange1, erc20)
	if err != nil {
		t.Fatalf("escrowed: %v", err)
	}
	if escrowed.Int64() != 80 {
		t.Fatalf("expected 80 escrowed, got %s", escrowed)
	}

	err = h.ledger.CreditFromEscrow(exchange1, []Credit{
		{AccountID: bobID, Token: erc20, Amount: big.NewInt(50)},
		{AccountID: aliceID, Token: erc20, Amount: big.NewInt(31)},
	}, bob)
	if !errors.Is(err, ErrEscrowOverdrawn) {
		t.Fatalf("expected escrow overdraw, got %v", err)
	}
	if err := h.ledger.CreditFromEscrow(exchange1, []Credit{
		{AccountID: bobID, Token: erc20, Amount: big.NewInt(50)},
		{AccountID: aliceID, Token: erc20, Amount: big.NewInt(30)},
	}, bob); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if got := h.available(t, bobID, erc20); got != 50 {
		t.Fatalf("expected bob 50, got %d", got)
	}
	if got := h.available(t, aliceID, erc20); got != 50 {
		t.Fatalf("expected alice 50, got %d", got)
	}
	escrowed, err = h.ledger.EscrowedAmount(exchange1, erc20)
	if err != nil {
		t.Fatalf("escrowed: %v", err)
	}
	if escrowed.Sign() != 0 {
		t.Fatalf("expected escrow drained, got %s", escrowed)
	}
	if got := len(h.recorder.OfType(events.TypeFundsEncumbered)); got != 1 {
		t.Fatalf("expected one encumbrance event, got %d", got)
	}
	if got := len(h.recorder.OfType(events.TypeFundsReleased)); got != 2 {
		t.Fatalf("expected two release events, got %d", got)
	}
}

func TestTransferFromEscrowPaysExternally(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, erc20, bob, 25)
	if err := h.ledger.TransferIn(ctx, erc20, bob, big.NewInt(25), nil); err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	if err := h.ledger.LockToEscrow(exchange1, []Lock{{AccountID: bobID, Token: erc20, Amount: big.NewInt(25), Source: SourceSponsored}}, bob); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if len(h.recorder.OfType(events.TypeFundsEncumbered)) != 0 {
		t.Fatalf("sponsored locks must not emit encumbrance events")
	}
	if err := h.ledger.TransferFromEscrow(ctx, exchange1, erc20, bob, big.NewInt(26)); !errors.Is(err, ErrEscrowOverdrawn) {
		t.Fatalf("expected overdraw, got %v", err)
	}
	if err := h.ledger.TransferFromEscrow(ctx, exchange1, erc20, bob, big.NewInt(25)); err != nil {
		t.Fatalf("transfer from escrow: %v", err)
	}
	wallet, err := h.bank.BalanceOf(ctx, erc20, bob)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if wallet.Int64() != 25 {
		t.Fatalf("expected sponsor repaid, got %s", wallet)
	}
}
