package fees

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var errNilState = errors.New("fees: state not configured")

var (
	policyKey          = []byte("fees/policy")
	collectedKeyPrefix = []byte("fees/collected/")
)

type storedTier struct {
	Token       common.Address
	PriceLimits []*big.Int
	FeeBps      []uint16
}

type storedPolicy struct {
	ProtocolFeeBps            uint16
	HasFlatFee                bool
	FlatFee                   *big.Int
	FeeToken                  common.Address
	Tiers                     []storedTier
	MaxRoyaltyBps             uint16
	MaxTotalFeeBps            uint16
	BuyerEscalationDepositBps uint16
}

type storeState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Store persists the global fee policy and running protocol fee totals.
type Store struct {
	state    storeState
	defaults Policy
}

// NewStore returns a store falling back to defaults until a policy is saved.
func NewStore(state storeState, defaults Policy) *Store {
	return &Store{state: state, defaults: defaults.Clone()}
}

// Load returns the current policy.
func (s *Store) Load() (Policy, error) {
	if s == nil || s.state == nil {
		return Policy{}, errNilState
	}
	var stored storedPolicy
	ok, err := s.state.KVGet(policyKey, &stored)
	if err != nil {
		return Policy{}, err
	}
	if !ok {
		return s.defaults.Clone(), nil
	}
	policy := Policy{
		ProtocolFeeBps:            stored.ProtocolFeeBps,
		FeeToken:                  stored.FeeToken,
		MaxRoyaltyBps:             stored.MaxRoyaltyBps,
		MaxTotalFeeBps:            stored.MaxTotalFeeBps,
		BuyerEscalationDepositBps: stored.BuyerEscalationDepositBps,
	}
	if stored.HasFlatFee {
		policy.FlatFee = stored.FlatFee
	}
	for _, tier := range stored.Tiers {
		policy.Tiers = append(policy.Tiers, Tier{Token: tier.Token, PriceLimits: tier.PriceLimits, FeeBps: tier.FeeBps})
	}
	return policy, nil
}

// Update validates and stores policy. Existing snapshots are unaffected.
func (s *Store) Update(policy Policy) error {
	if s == nil || s.state == nil {
		return errNilState
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	stored := storedPolicy{
		ProtocolFeeBps:            policy.ProtocolFeeBps,
		FeeToken:                  policy.FeeToken,
		MaxRoyaltyBps:             policy.MaxRoyaltyBps,
		MaxTotalFeeBps:            policy.MaxTotalFeeBps,
		BuyerEscalationDepositBps: policy.BuyerEscalationDepositBps,
	}
	if policy.FlatFee != nil {
		stored.HasFlatFee = true
		stored.FlatFee = new(big.Int).Set(policy.FlatFee)
	}
	for _, tier := range policy.Clone().Tiers {
		stored.Tiers = append(stored.Tiers, storedTier{Token: tier.Token, PriceLimits: tier.PriceLimits, FeeBps: tier.FeeBps})
	}
	return s.state.KVPut(policyKey, stored)
}

func collectedKey(token common.Address) []byte {
	return append(append([]byte(nil), collectedKeyPrefix...), token.Bytes()...)
}

// AddCollected adds amount to the protocol fee total of token.
func (s *Store) AddCollected(token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	total, err := s.Collected(token)
	if err != nil {
		return err
	}
	return s.state.KVPut(collectedKey(token), total.Add(total, amount))
}

// Collected returns the protocol fees collected in token so far.
func (s *Store) Collected(token common.Address) (*big.Int, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	total := new(big.Int)
	if _, err := s.state.KVGet(collectedKey(token), total); err != nil {
		return nil, err
	}
	return total, nil
}
