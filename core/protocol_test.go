package core

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"exchangefunds/core/events"
	"exchangefunds/core/state"
	"exchangefunds/native/accounts"
	"exchangefunds/native/encumbrance"
	"exchangefunds/native/exchange"
	"exchangefunds/native/fees"
	"exchangefunds/native/offers"
	"exchangefunds/native/settlement"
	"exchangefunds/storage"
	"exchangefunds/storage/trie"
)

var (
	vault        = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	treasury     = common.HexToAddress("0x0000000000000000000000000000000000007e57")
	token        = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	sellerWallet = common.HexToAddress("0x0000000000000000000000000000000000001001")
	buyerWallet  = common.HexToAddress("0x0000000000000000000000000000000000001002")
	otherWallet  = common.HexToAddress("0x0000000000000000000000000000000000001003")
	lastWallet   = common.HexToAddress("0x0000000000000000000000000000000000001004")
)

func newProtocol(t *testing.T) (*Protocol, *events.Recorder) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	policy := fees.DefaultPolicy()
	policy.ProtocolFeeBps = 1_000
	recorder := &events.Recorder{}
	p, err := New(state.NewManager(tr), Options{
		Policy:   policy,
		Vault:    vault,
		Treasury: treasury,
		Emitter:  recorder,
		Now:      func() int64 { return 1_700_000_000 },
	})
	require.NoError(t, err)
	return p, recorder
}

func fund(t *testing.T, p *Protocol, accountID uint64, wallet common.Address, amount int64) {
	t.Helper()
	require.NoError(t, p.Bank().Mint(token, wallet, big.NewInt(amount)))
	require.NoError(t, p.Deposit(context.Background(), accountID, token, wallet, big.NewInt(amount), nil))
}

func sellerOffer(t *testing.T, p *Protocol, sellerID uint64) uint64 {
	t.Helper()
	id, err := p.CreateOffer(context.Background(), &offers.Offer{
		Creator:       offers.CreatorSeller,
		SellerID:      sellerID,
		Price:         big.NewInt(100),
		SellerDeposit: big.NewInt(10),
		Token:         token,
		Quantity:      2,
	})
	require.NoError(t, err)
	return id
}

func TestProtocolCommitReleaseWithdraw(t *testing.T) {
	ctx := context.Background()
	p, recorder := newProtocol(t)
	sellerID, err := p.RegisterAccount(ctx, &accounts.Account{Kind: accounts.KindSeller, Wallet: sellerWallet})
	require.NoError(t, err)
	fund(t, p, sellerID, sellerWallet, 10)
	offerID := sellerOffer(t, p, sellerID)

	require.NoError(t, p.Bank().Mint(token, buyerWallet, big.NewInt(100)))
	ex, err := p.Commit(ctx, encumbrance.CommitRequest{OfferID: offerID, Buyer: buyerWallet})
	require.NoError(t, err)
	require.Equal(t, int64(110), ex.Escrowed().Int64())

	table, err := p.Release(ctx, settlement.ReleaseRequest{ExchangeID: ex.ID, Outcome: exchange.OutcomeCompleted, Actor: buyerWallet})
	require.NoError(t, err)
	require.Equal(t, int64(110), table.Total().Int64())

	available, err := p.Available(sellerID, token)
	require.NoError(t, err)
	require.Equal(t, int64(100), available.Int64())

	require.NoError(t, p.Withdraw(ctx, sellerID, nil, nil))
	balance, err := p.Bank().BalanceOf(ctx, token, sellerWallet)
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.Int64())

	require.NoError(t, p.Withdraw(ctx, accounts.ProtocolID, nil, nil))
	balance, err = p.Bank().BalanceOf(ctx, token, treasury)
	require.NoError(t, err)
	require.Equal(t, int64(10), balance.Int64())

	require.Len(t, recorder.OfType(events.TypeExchangeFinalized), 1)
	require.Len(t, recorder.OfType(events.TypeFundsWithdrawn), 2)
	require.Zero(t, p.buffer.Pending())

	root, err := p.Persist()
	require.NoError(t, err)
	require.Equal(t, root, p.Root())
}

func TestProtocolFailedOperationLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	p, recorder := newProtocol(t)
	sellerID, err := p.RegisterAccount(ctx, &accounts.Account{Kind: accounts.KindSeller, Wallet: sellerWallet})
	require.NoError(t, err)
	fund(t, p, sellerID, sellerWallet, 10)
	offerID := sellerOffer(t, p, sellerID)
	before := p.Root()
	emitted := len(recorder.Events)

	_, err = p.Commit(ctx, encumbrance.CommitRequest{OfferID: offerID, Buyer: buyerWallet})
	require.Error(t, err)
	require.Equal(t, before, p.Root())
	require.Len(t, recorder.Events, emitted)
	require.Zero(t, p.buffer.Pending())

	available, err := p.Available(sellerID, token)
	require.NoError(t, err)
	require.Equal(t, int64(10), available.Int64())
}

func TestProtocolCreateOfferDefaultsResolverFee(t *testing.T) {
	ctx := context.Background()
	p, _ := newProtocol(t)
	sellerID, err := p.RegisterAccount(ctx, &accounts.Account{Kind: accounts.KindSeller, Wallet: sellerWallet})
	require.NoError(t, err)
	drID, err := p.RegisterAccount(ctx, &accounts.Account{
		Kind:                accounts.KindDisputeResolver,
		Wallet:              otherWallet,
		DisputeResolverFees: []accounts.TokenFee{{Token: token, Amount: big.NewInt(50)}},
	})
	require.NoError(t, err)

	offerID, err := p.CreateOffer(ctx, &offers.Offer{
		Creator:           offers.CreatorSeller,
		SellerID:          sellerID,
		Price:             big.NewInt(100),
		Token:             token,
		Quantity:          1,
		DisputeResolverID: drID,
	})
	require.NoError(t, err)
	offer, err := p.Offer(offerID)
	require.NoError(t, err)
	require.Equal(t, int64(50), offer.DRFee.Int64())

	_, err = p.CreateOffer(ctx, &offers.Offer{
		Creator:           offers.CreatorSeller,
		SellerID:          sellerID,
		Price:             big.NewInt(100),
		Token:             token,
		Quantity:          1,
		DisputeResolverID: sellerID,
	})
	require.ErrorIs(t, err, accounts.ErrKindMismatch)
}

func TestProtocolVoucherTransferRouting(t *testing.T) {
	ctx := context.Background()
	p, recorder := newProtocol(t)
	sellerID, err := p.RegisterAccount(ctx, &accounts.Account{Kind: accounts.KindSeller, Wallet: sellerWallet})
	require.NoError(t, err)
	fund(t, p, sellerID, sellerWallet, 10)
	offerID := sellerOffer(t, p, sellerID)

	_, err = p.OnVoucherTransfer(ctx, VoucherTransfer{OfferID: offerID, From: sellerWallet, To: sellerWallet})
	require.ErrorIs(t, err, ErrInvalidTransfer)

	ex, err := p.OnVoucherTransfer(ctx, VoucherTransfer{OfferID: offerID, From: sellerWallet, To: buyerWallet})
	require.NoError(t, err)
	require.True(t, ex.Preminted)
	require.Zero(t, ex.Price.Sign())
	require.Equal(t, int64(10), ex.Escrowed().Int64())

	require.NoError(t, p.Bank().Mint(token, otherWallet, big.NewInt(50)))
	ex, err = p.OnVoucherTransfer(ctx, VoucherTransfer{ExchangeID: ex.ID, From: buyerWallet, To: otherWallet, Price: big.NewInt(50)})
	require.NoError(t, err)
	require.Len(t, ex.Hops, 1)
	require.Len(t, recorder.OfType(events.TypeResaleRecorded), 1)

	holder := ex.BuyerID
	ex, err = p.OnVoucherTransfer(ctx, VoucherTransfer{ExchangeID: ex.ID, From: otherWallet, To: lastWallet})
	require.NoError(t, err)
	require.NotEqual(t, holder, ex.BuyerID)
	require.Len(t, ex.Hops, 1)

	chain, err := p.ResaleChain(ex.ID)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	require.Equal(t, int64(50), chain[0].Price.Int64())
}

func TestProtocolFeePolicyUpdateKeepsSnapshots(t *testing.T) {
	ctx := context.Background()
	p, _ := newProtocol(t)
	sellerID, err := p.RegisterAccount(ctx, &accounts.Account{Kind: accounts.KindSeller, Wallet: sellerWallet})
	require.NoError(t, err)
	fund(t, p, sellerID, sellerWallet, 10)
	offerID := sellerOffer(t, p, sellerID)
	require.NoError(t, p.Bank().Mint(token, buyerWallet, big.NewInt(100)))
	ex, err := p.Commit(ctx, encumbrance.CommitRequest{OfferID: offerID, Buyer: buyerWallet})
	require.NoError(t, err)

	policy, err := p.FeePolicy()
	require.NoError(t, err)
	policy.ProtocolFeeBps = 0
	require.NoError(t, p.UpdateFeePolicy(ctx, policy))

	table, err := p.Preview(ex.ID, exchange.OutcomeCompleted, 0)
	require.NoError(t, err)
	require.Equal(t, int64(10), table.Amount(settlement.RoleProtocol).Int64())
}
