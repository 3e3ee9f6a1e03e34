package accounts

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"exchangefunds/core/state"
	"exchangefunds/storage"
	"exchangefunds/storage/trie"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	return NewRegistry(state.NewManager(tr))
}

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	registry := newTestRegistry(t)

	seller := &Account{Kind: KindSeller, Wallet: common.HexToAddress("0x01")}
	id, err := registry.Register(seller)
	if err != nil {
		t.Fatalf("register seller: %v", err)
	}
	if id != 1 || seller.ID != 1 {
		t.Fatalf("expected id 1, got %d", id)
	}
	resolver := &Account{
		Kind:   KindDisputeResolver,
		Wallet: common.HexToAddress("0x02"),
		DisputeResolverFees: []TokenFee{
			{Token: common.Address{}, Amount: big.NewInt(100)},
		},
	}
	id, err = registry.Register(resolver)
	if err != nil {
		t.Fatalf("register resolver: %v", err)
	}
	if id != 2 {
		t.Fatalf("expected id 2, got %d", id)
	}
	loaded, err := registry.GetKind(id, KindDisputeResolver)
	if err != nil {
		t.Fatalf("get resolver: %v", err)
	}
	fee, ok := loaded.DisputeResolverFee(common.Address{})
	if !ok || fee.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected dispute resolver fee %v (ok=%v)", fee, ok)
	}
	if _, err := registry.GetKind(id, KindSeller); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("expected kind mismatch, got %v", err)
	}
}

func TestRegisterRejectsInvalidAccounts(t *testing.T) {
	registry := newTestRegistry(t)

	if _, err := registry.Register(&Account{Kind: KindSeller}); !errors.Is(err, ErrInvalidWallet) {
		t.Fatalf("expected invalid wallet, got %v", err)
	}
	if _, err := registry.Register(&Account{Kind: KindAgent, Wallet: common.HexToAddress("0x03"), FeeBps: 10_001}); !errors.Is(err, ErrInvalidFee) {
		t.Fatalf("expected invalid fee, got %v", err)
	}
	if _, err := registry.Register(&Account{Kind: KindProtocol, Wallet: common.HexToAddress("0x04")}); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected reserved protocol kind, got %v", err)
	}
	wallet := common.HexToAddress("0x05")
	if _, err := registry.Register(&Account{Kind: KindSeller, Wallet: wallet}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := registry.Register(&Account{Kind: KindSeller, Wallet: wallet}); !errors.Is(err, ErrDuplicateWallet) {
		t.Fatalf("expected duplicate wallet, got %v", err)
	}
	if _, err := registry.Register(&Account{Kind: KindBuyer, Wallet: wallet}); err != nil {
		t.Fatalf("same wallet may hold a different role: %v", err)
	}
	if _, err := registry.Get(99); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBuyerForIsIdempotent(t *testing.T) {
	registry := newTestRegistry(t)
	wallet := common.HexToAddress("0xb0")

	first, err := registry.BuyerFor(wallet)
	if err != nil {
		t.Fatalf("buyer for: %v", err)
	}
	second, err := registry.BuyerFor(wallet)
	if err != nil {
		t.Fatalf("buyer for: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same buyer id, got %d and %d", first, second)
	}
}

func TestTreasuryUsesProtocolID(t *testing.T) {
	registry := newTestRegistry(t)
	treasury := common.HexToAddress("0xfee")
	if err := registry.SetTreasury(treasury); err != nil {
		t.Fatalf("set treasury: %v", err)
	}
	acc, err := registry.GetKind(ProtocolID, KindProtocol)
	if err != nil {
		t.Fatalf("get treasury: %v", err)
	}
	if acc.Wallet != treasury {
		t.Fatalf("unexpected treasury wallet %s", acc.Wallet.Hex())
	}
}
