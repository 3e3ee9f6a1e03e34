package fees

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "exchangefunds/native/common"
	"exchangefunds/native/royalty"
)

var (
	ErrInvalidPolicy    = errors.New("fees: invalid policy")
	ErrRoyaltyTooHigh   = errors.New("fees: royalty percentage exceeds maximum")
	ErrFeeLimitExceeded = errors.New("fees: total offer fees exceed limit")
)

// Tier assigns protocol fee percentages to price ranges of one token. A price
// pays the percentage of the first limit it does not exceed; prices above
// every limit pay the last percentage.
type Tier struct {
	Token       common.Address
	PriceLimits []*big.Int
	FeeBps      []uint16
}

// Policy is the global protocol fee configuration. Changing it never alters
// fees already captured in an exchange's Snapshot.
type Policy struct {
	ProtocolFeeBps uint16
	// FlatFee replaces the percentage for exchanges settled in FeeToken.
	FlatFee  *big.Int
	FeeToken common.Address
	Tiers    []Tier
	// MaxRoyaltyBps caps the sum of a royalty schedule.
	MaxRoyaltyBps uint16
	// MaxTotalFeeBps caps protocol fee, agent fee and royalties of an offer
	// as a share of its price.
	MaxTotalFeeBps            uint16
	BuyerEscalationDepositBps uint16
}

// DefaultPolicy returns the policy used when none has been stored.
func DefaultPolicy() Policy {
	return Policy{
		ProtocolFeeBps:            100,
		MaxRoyaltyBps:             1_000,
		MaxTotalFeeBps:            nativecommon.MaxBps,
		BuyerEscalationDepositBps: 100,
	}
}

// Clone returns a deep copy of the policy.
func (p Policy) Clone() Policy {
	clone := p
	if p.FlatFee != nil {
		clone.FlatFee = new(big.Int).Set(p.FlatFee)
	}
	clone.Tiers = make([]Tier, len(p.Tiers))
	for i, tier := range p.Tiers {
		limits := make([]*big.Int, len(tier.PriceLimits))
		for j, limit := range tier.PriceLimits {
			limits[j] = nativecommon.CloneBig(limit)
		}
		clone.Tiers[i] = Tier{Token: tier.Token, PriceLimits: limits, FeeBps: append([]uint16(nil), tier.FeeBps...)}
	}
	return clone
}

// Validate checks percentage bounds and tier ordering.
func (p Policy) Validate() error {
	for name, bps := range map[string]uint16{
		"protocol fee":             p.ProtocolFeeBps,
		"max royalty":              p.MaxRoyaltyBps,
		"max total fee":            p.MaxTotalFeeBps,
		"buyer escalation deposit": p.BuyerEscalationDepositBps,
	} {
		if err := nativecommon.ValidateBps(bps); err != nil {
			return fmt.Errorf("%w: %s bps %d", ErrInvalidPolicy, name, bps)
		}
	}
	if p.FlatFee != nil && p.FlatFee.Sign() < 0 {
		return fmt.Errorf("%w: flat fee must not be negative", ErrInvalidPolicy)
	}
	seen := make(map[common.Address]struct{}, len(p.Tiers))
	for _, tier := range p.Tiers {
		if _, dup := seen[tier.Token]; dup {
			return fmt.Errorf("%w: duplicate tier for token %s", ErrInvalidPolicy, tier.Token.Hex())
		}
		seen[tier.Token] = struct{}{}
		if len(tier.PriceLimits) == 0 || len(tier.PriceLimits) != len(tier.FeeBps) {
			return fmt.Errorf("%w: tier for %s needs matching limits and percentages", ErrInvalidPolicy, tier.Token.Hex())
		}
		for i, limit := range tier.PriceLimits {
			if limit == nil || limit.Sign() < 0 {
				return fmt.Errorf("%w: tier limit must not be negative", ErrInvalidPolicy)
			}
			if i > 0 && limit.Cmp(tier.PriceLimits[i-1]) <= 0 {
				return fmt.Errorf("%w: tier limits for %s must ascend", ErrInvalidPolicy, tier.Token.Hex())
			}
			if err := nativecommon.ValidateBps(tier.FeeBps[i]); err != nil {
				return fmt.Errorf("%w: tier bps %d", ErrInvalidPolicy, tier.FeeBps[i])
			}
		}
	}
	return nil
}

func (p Policy) flat(token common.Address) bool {
	return p.FeeToken != (common.Address{}) && token == p.FeeToken
}

// FeeBps resolves the protocol fee percentage for price in token.
func (p Policy) FeeBps(token common.Address, price *big.Int) uint16 {
	for _, tier := range p.Tiers {
		if tier.Token != token || len(tier.FeeBps) == 0 {
			continue
		}
		for i, limit := range tier.PriceLimits {
			if price == nil || price.Cmp(limit) <= 0 {
				return tier.FeeBps[i]
			}
		}
		return tier.FeeBps[len(tier.FeeBps)-1]
	}
	return p.ProtocolFeeBps
}

// ProtocolFee returns the protocol fee owed on price in token.
func (p Policy) ProtocolFee(token common.Address, price *big.Int) *big.Int {
	if p.flat(token) {
		return nativecommon.MinBig(p.FlatFee, price)
	}
	return nativecommon.ApplyBps(price, p.FeeBps(token, price))
}

func (p Policy) maxTotalFeeBps() uint16 {
	if p.MaxTotalFeeBps == 0 {
		return nativecommon.MaxBps
	}
	return p.MaxTotalFeeBps
}

// SnapshotInput carries the offer economics captured at commit.
type SnapshotInput struct {
	Token       common.Address
	Price       *big.Int
	AgentID     uint64
	AgentFeeBps uint16
	Royalty     royalty.Info
}

// Snapshot resolves the current policy into an immutable fee snapshot for a
// new exchange. It rejects schedules over the royalty maximum and offers whose
// combined fees exceed MaxTotalFeeBps of the price.
func (p Policy) Snapshot(in SnapshotInput) (Snapshot, error) {
	if err := nativecommon.ValidateBps(in.AgentFeeBps); err != nil {
		return Snapshot{}, fmt.Errorf("%w: agent fee bps %d", ErrInvalidPolicy, in.AgentFeeBps)
	}
	if total := in.Royalty.TotalBps(); total > uint32(p.MaxRoyaltyBps) {
		return Snapshot{}, fmt.Errorf("%w: %d > %d", ErrRoyaltyTooHigh, total, p.MaxRoyaltyBps)
	}
	snap := Snapshot{
		ProtocolFeeBps:       p.FeeBps(in.Token, in.Price),
		AgentID:              in.AgentID,
		AgentFeeBps:          in.AgentFeeBps,
		Royalty:              in.Royalty.Clone(),
		EscalationDepositBps: p.BuyerEscalationDepositBps,
	}
	if p.flat(in.Token) {
		snap.Flat = true
		snap.FlatFee = nativecommon.CloneBig(p.FlatFee)
	}
	if in.AgentID == 0 {
		snap.AgentFeeBps = 0
	}
	total := snap.ProtocolFee(in.Price)
	total.Add(total, snap.AgentFee(in.Price))
	total.Add(total, royalty.Total(snap.RoyaltySplit(in.Price)))
	if limit := nativecommon.ApplyBps(in.Price, p.maxTotalFeeBps()); total.Cmp(limit) > 0 {
		return Snapshot{}, fmt.Errorf("%w: fees %s, limit %s", ErrFeeLimitExceeded, total, limit)
	}
	return snap, nil
}
