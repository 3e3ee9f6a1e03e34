package royalty

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"exchangefunds/core/state"
	"exchangefunds/storage"
	"exchangefunds/storage/trie"
)

const sellerID = uint64(3)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	return NewRegistry(state.NewManager(tr))
}

func TestSplitFloorsEachShare(t *testing.T) {
	info := Info{Recipients: []uint64{DefaultRecipient, 9}, Bps: []uint16{250, 333}}
	payments := Split(info, big.NewInt(1_001))
	require.Len(t, payments, 2)
	require.Equal(t, int64(25), payments[0].Amount.Int64())
	require.Equal(t, int64(33), payments[1].Amount.Int64())
	require.Equal(t, int64(58), Total(payments).Int64())
	require.Equal(t, uint32(583), info.TotalBps())
}

func TestRegistryManagesRecipients(t *testing.T) {
	registry := newTestRegistry(t)

	list, err := registry.Recipients(sellerID)
	require.NoError(t, err)
	require.Equal(t, []Recipient{{AccountID: DefaultRecipient}}, list)

	require.NoError(t, registry.AddRecipients(sellerID, []Recipient{{AccountID: 10, MinBps: 100}, {AccountID: 11, MinBps: 50, ExternalID: "studio"}}, 1_000))
	err = registry.AddRecipients(sellerID, []Recipient{{AccountID: 10}}, 1_000)
	require.ErrorIs(t, err, ErrDuplicateRecipient)
	err = registry.AddRecipients(sellerID, []Recipient{{AccountID: 12, MinBps: 1_001}}, 1_000)
	require.ErrorIs(t, err, ErrRoyaltyTooHigh)

	require.NoError(t, registry.UpdateRecipient(sellerID, Recipient{AccountID: DefaultRecipient, MinBps: 20}, 1_000))
	require.ErrorIs(t, registry.UpdateRecipient(sellerID, Recipient{AccountID: 99}, 1_000), ErrRecipientNotFound)

	require.NoError(t, registry.RemoveRecipients(sellerID, []uint64{10}))
	require.ErrorIs(t, registry.RemoveRecipients(sellerID, []uint64{DefaultRecipient}), ErrDefaultRecipient)
	require.ErrorIs(t, registry.RemoveRecipients(sellerID, []uint64{10}), ErrRecipientNotFound)

	list, err = registry.Recipients(sellerID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, uint16(20), list[0].MinBps)
	require.Equal(t, uint64(11), list[1].AccountID)
}

func TestValidateSchedule(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registry.AddRecipients(sellerID, []Recipient{{AccountID: 10, MinBps: 100}}, 1_000))

	cases := []struct {
		name string
		info Info
		want error
	}{
		{name: "valid", info: Info{Recipients: []uint64{DefaultRecipient, 10}, Bps: []uint16{200, 100}}},
		{name: "empty", info: Info{}},
		{name: "length mismatch", info: Info{Recipients: []uint64{10}}, want: ErrLengthMismatch},
		{name: "unknown", info: Info{Recipients: []uint64{77}, Bps: []uint16{10}}, want: ErrRecipientNotAllowed},
		{name: "below minimum", info: Info{Recipients: []uint64{10}, Bps: []uint16{99}}, want: ErrRoyaltyBelowMinimum},
		{name: "duplicate", info: Info{Recipients: []uint64{10, 10}, Bps: []uint16{100, 100}}, want: ErrDuplicateRecipient},
		{name: "too high", info: Info{Recipients: []uint64{DefaultRecipient, 10}, Bps: []uint16{900, 101}}, want: ErrRoyaltyTooHigh},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := registry.Validate(sellerID, tc.info, 1_000)
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}
