// Package fundstest wires the funds modules over an in-memory state for tests.
package fundstest

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"exchangefunds/core/events"
	"exchangefunds/core/state"
	"exchangefunds/native/accounts"
	"exchangefunds/native/exchange"
	"exchangefunds/native/fees"
	"exchangefunds/native/ledger"
	"exchangefunds/native/mutualizer"
	"exchangefunds/native/offers"
	"exchangefunds/native/pricing"
	"exchangefunds/native/royalty"
	"exchangefunds/native/tokens"
	"exchangefunds/storage"
	"exchangefunds/storage/trie"
)

var (
	Vault          = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	Treasury       = common.HexToAddress("0x0000000000000000000000000000000000007e57")
	MutualizerAddr = common.HexToAddress("0x000000000000000000000000000000000000d00d")
	Token          = common.HexToAddress("0x00000000000000000000000000000000000000e2")
)

// Env is a complete set of funds modules sharing one state manager.
type Env struct {
	Manager     *state.Manager
	Bank        *tokens.Bank
	Ledger      *ledger.Ledger
	Accounts    *accounts.Registry
	Offers      *offers.Registry
	Exchanges   *exchange.Store
	Fees        *fees.Store
	Royalties   *royalty.Registry
	Pool        *mutualizer.Pool
	Mutualizers *mutualizer.Directory
	Prices      *pricing.Book
	Recorder    *events.Recorder
	Now         int64
}

// New returns an environment using policy as the fee configuration.
func New(t testing.TB, policy fees.Policy) *Env {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	manager := state.NewManager(tr)
	env := &Env{
		Manager:     manager,
		Bank:        tokens.NewBank(manager, Vault),
		Accounts:    accounts.NewRegistry(manager),
		Offers:      offers.NewRegistry(manager),
		Exchanges:   exchange.NewStore(manager),
		Fees:        fees.NewStore(manager, policy),
		Royalties:   royalty.NewRegistry(manager),
		Pool:        mutualizer.NewPool(manager, MutualizerAddr),
		Mutualizers: mutualizer.NewDirectory(),
		Prices:      pricing.NewBook(),
		Recorder:    &events.Recorder{},
		Now:         1_700_000_000,
	}
	env.Ledger = ledger.New(manager, env.Bank)
	env.Ledger.SetEmitter(env.Recorder)
	env.Pool.SetNowFunc(env.Clock)
	env.Mutualizers.Register(env.Pool)
	if err := env.Accounts.SetTreasury(Treasury); err != nil {
		t.Fatalf("set treasury: %v", err)
	}
	return env
}

// Clock returns the environment's current time.
func (e *Env) Clock() int64 { return e.Now }

// Wallet derives a distinct wallet address from n.
func Wallet(n int64) common.Address {
	return common.BigToAddress(big.NewInt(0x1000 + n))
}

// Register registers an account of kind bound to wallet.
func (e *Env) Register(t testing.TB, kind accounts.Kind, wallet common.Address, feeBps uint16) uint64 {
	t.Helper()
	id, err := e.Accounts.Register(&accounts.Account{Kind: kind, Wallet: wallet, FeeBps: feeBps})
	if err != nil {
		t.Fatalf("register %s: %v", kind, err)
	}
	return id
}

// Mint credits amount of token to holder's wallet.
func (e *Env) Mint(t testing.TB, token, holder common.Address, amount int64) {
	t.Helper()
	if err := e.Bank.Mint(token, holder, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

// Deposit mints amount to wallet and deposits it into the account's
// available balance.
func (e *Env) Deposit(t testing.TB, accountID uint64, token, wallet common.Address, amount int64) {
	t.Helper()
	e.Mint(t, token, wallet, amount)
	if err := e.Ledger.Deposit(context.Background(), accountID, token, wallet, big.NewInt(amount), Value(token, amount)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

// Available returns the account's available balance of token.
func (e *Env) Available(t testing.TB, accountID uint64, token common.Address) *big.Int {
	t.Helper()
	bal, err := e.Ledger.Available(accountID, token)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	return bal
}

// Escrowed returns the escrow held for exchangeID in token.
func (e *Env) Escrowed(t testing.TB, exchangeID uint64, token common.Address) *big.Int {
	t.Helper()
	bal, err := e.Ledger.EscrowedAmount(exchangeID, token)
	if err != nil {
		t.Fatalf("escrowed: %v", err)
	}
	return bal
}

// Offer stores o and returns its id.
func (e *Env) Offer(t testing.TB, o *offers.Offer) uint64 {
	t.Helper()
	id, err := e.Offers.Create(o)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	return id
}

// Value is the native value a caller attaches to pay amount of token.
func Value(token common.Address, amount int64) *big.Int {
	if ledger.IsNative(token) {
		return big.NewInt(amount)
	}
	return nil
}
