package exchange

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"exchangefunds/core/state"
	"exchangefunds/native/fees"
	"exchangefunds/native/royalty"
	"exchangefunds/storage"
	"exchangefunds/storage/trie"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	return NewStore(state.NewManager(tr))
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	request := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	next, err := store.NextID()
	require.NoError(t, err)
	require.Equal(t, uint64(1), next)

	ex := &Exchange{
		OfferID:       3,
		BuyerID:       4,
		SellerID:      5,
		Token:         common.HexToAddress("0xe2"),
		Price:         big.NewInt(100),
		SellerDeposit: big.NewInt(10),
		DRFee:         big.NewInt(20),
		Fees: fees.Snapshot{
			ProtocolFeeBps: 250,
			Royalty:        royalty.Info{Recipients: []uint64{royalty.DefaultRecipient}, Bps: []uint16{100}},
		},
		DRFeeFunding:      FundingMutualizer,
		MutualizerRequest: request,
		Hops: []Hop{{
			ResellerID:  4,
			BuyerID:     6,
			Price:       big.NewInt(150),
			ProtocolFee: big.NewInt(3),
			Royalties:   []royalty.Payment{{Recipient: royalty.DefaultRecipient, Amount: big.NewInt(1)}},
			Immediate:   big.NewInt(100),
			Side:        SideAsk,
		}},
		CommittedAt: 1_700_000_000,
	}
	id, err := store.Create(ex)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	loaded, err := store.Get(id)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, loaded.State)
	require.Equal(t, request, loaded.MutualizerRequest)
	require.Equal(t, FundingMutualizer, loaded.DRFeeFunding)
	require.Equal(t, uint16(250), loaded.Fees.ProtocolFeeBps)
	require.Len(t, loaded.Hops, 1)
	require.Equal(t, int64(150), loaded.LastPrice().Int64())
	require.Equal(t, int64(146), loaded.Hops[0].Reduced().Int64())
	require.Equal(t, int64(50), loaded.Hops[0].Retained().Int64())
	require.Equal(t, int64(180), loaded.Escrowed().Int64())

	_, err = store.Get(99)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestOutcomeClassification(t *testing.T) {
	for _, outcome := range Outcomes() {
		require.True(t, outcome.Valid())
		parsed, ok := ParseOutcome(outcome.String())
		require.True(t, ok)
		require.Equal(t, outcome, parsed)
	}
	require.False(t, OutcomeNone.Valid())
	require.Len(t, Outcomes(), 12)

	require.Equal(t, uint16(10_000), OutcomeCompleted.SellerShareBps(0))
	require.Equal(t, uint16(4_434), OutcomeResolved.SellerShareBps(5_566))
	require.Equal(t, uint16(0), OutcomeCanceled.SellerShareBps(0))
	require.True(t, OutcomeDecided.Escalated())
	require.False(t, OutcomeResolved.Escalated())
	require.True(t, OutcomeEscalatedRetracted.EarnsDRFee())
	require.False(t, OutcomeEscalatedExpired.EarnsDRFee())
	require.True(t, OutcomeDisputeExpired.PaysPrimaryFees())
	require.False(t, OutcomeResolved.PaysPrimaryFees())
}
