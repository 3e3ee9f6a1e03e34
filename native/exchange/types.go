package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	nativecommon "exchangefunds/native/common"
	"exchangefunds/native/fees"
	"exchangefunds/native/royalty"
)

// State is the funds-relevant lifecycle state of an exchange. Dispute states
// that do not move funds are tracked by the dispute workflow.
type State uint8

const (
	StateCommitted State = iota + 1
	// StateEscalated marks an exchange whose buyer escalation deposit is
	// encumbered.
	StateEscalated
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateCommitted:
		return "committed"
	case StateEscalated:
		return "escalated"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Outcome is the terminal state an exchange settles under.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeCompleted
	OutcomeRevoked
	OutcomeCanceled
	OutcomeVoucherExpired
	OutcomeRetracted
	OutcomeDisputeExpired
	OutcomeResolved
	OutcomeEscalatedRetracted
	OutcomeEscalatedResolved
	OutcomeDecided
	OutcomeEscalatedExpired
	OutcomeRefused
)

var outcomeNames = map[Outcome]string{
	OutcomeCompleted:          "completed",
	OutcomeRevoked:            "revoked",
	OutcomeCanceled:           "canceled",
	OutcomeVoucherExpired:     "voucher_expired",
	OutcomeRetracted:          "retracted",
	OutcomeDisputeExpired:     "dispute_expired",
	OutcomeResolved:           "resolved",
	OutcomeEscalatedRetracted: "escalated_retracted",
	OutcomeEscalatedResolved:  "escalated_resolved",
	OutcomeDecided:            "decided",
	OutcomeEscalatedExpired:   "escalated_expired",
	OutcomeRefused:            "refused",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "none"
}

// ParseOutcome resolves an outcome from its String form.
func ParseOutcome(name string) (Outcome, bool) {
	for outcome, candidate := range outcomeNames {
		if candidate == name {
			return outcome, true
		}
	}
	return OutcomeNone, false
}

// Outcomes lists every terminal outcome.
func Outcomes() []Outcome {
	out := make([]Outcome, 0, len(outcomeNames))
	for o := OutcomeCompleted; o <= OutcomeRefused; o++ {
		out = append(out, o)
	}
	return out
}

// Valid reports whether o is a terminal outcome.
func (o Outcome) Valid() bool {
	return o >= OutcomeCompleted && o <= OutcomeRefused
}

// Escalated reports whether o is only reachable after escalation.
func (o Outcome) Escalated() bool {
	return o >= OutcomeEscalatedRetracted && o <= OutcomeRefused
}

// UsesBuyerPercent reports whether o splits value by a buyer percentage.
func (o Outcome) UsesBuyerPercent() bool {
	switch o {
	case OutcomeResolved, OutcomeEscalatedResolved, OutcomeDecided:
		return true
	}
	return false
}

// PaysPrimaryFees reports whether the primary sale pays protocol fee, agent
// fee and royalties under o.
func (o Outcome) PaysPrimaryFees() bool {
	switch o {
	case OutcomeCompleted, OutcomeRetracted, OutcomeDisputeExpired, OutcomeEscalatedRetracted:
		return true
	}
	return false
}

// EarnsDRFee reports whether the dispute resolver is paid under o.
func (o Outcome) EarnsDRFee() bool {
	switch o {
	case OutcomeEscalatedRetracted, OutcomeEscalatedResolved, OutcomeDecided:
		return true
	}
	return false
}

// SellerShareBps is the share of resale-hop value attributed to the seller
// side under o. buyerPercentBps only matters for buyer-percent outcomes.
func (o Outcome) SellerShareBps(buyerPercentBps uint16) uint16 {
	switch o {
	case OutcomeCompleted, OutcomeRetracted, OutcomeDisputeExpired, OutcomeEscalatedRetracted:
		return nativecommon.MaxBps
	case OutcomeResolved, OutcomeEscalatedResolved, OutcomeDecided:
		return nativecommon.Complement(buyerPercentBps)
	}
	return 0
}

// Funding records who paid an exchange's dispute resolver fee.
type Funding uint8

const (
	FundingNone Funding = iota
	FundingSeller
	FundingMutualizer
)

func (f Funding) String() string {
	switch f {
	case FundingSeller:
		return "seller"
	case FundingMutualizer:
		return "mutualizer"
	default:
		return "none"
	}
}

// Side is the acting side reported by price discovery for a hop.
type Side uint8

const (
	SideNone Side = iota
	SideAsk
	SideBid
)

// Hop is one sequential commit of the exchange voucher.
type Hop struct {
	ResellerID  uint64
	BuyerID     uint64
	Price       *big.Int
	ProtocolFee *big.Int
	Royalties   []royalty.Payment
	// Immediate is what the reseller was credited at hop time.
	Immediate *big.Int
	Side      Side
}

// RoyaltyTotal sums the hop's royalty payments.
func (h Hop) RoyaltyTotal() *big.Int {
	return royalty.Total(h.Royalties)
}

// Reduced is the hop price net of protocol fee and royalties.
func (h Hop) Reduced() *big.Int {
	reduced := nativecommon.CloneBig(h.Price)
	reduced.Sub(reduced, nativecommon.CloneBig(h.ProtocolFee))
	return reduced.Sub(reduced, h.RoyaltyTotal())
}

// Retained is the part of the hop price that stayed in escrow.
func (h Hop) Retained() *big.Int {
	return new(big.Int).Sub(nativecommon.CloneBig(h.Price), nativecommon.CloneBig(h.Immediate))
}

// Exchange is one buyer-seller transaction derived from an offer.
type Exchange struct {
	ID                 uint64
	OfferID            uint64
	BuyerID            uint64
	SellerID           uint64
	Token              common.Address
	Price              *big.Int
	SellerDeposit      *big.Int
	BuyerCancelPenalty *big.Int
	DRFee              *big.Int
	EscalationDeposit  *big.Int
	DisputeResolverID  uint64
	Fees               fees.Snapshot
	DRFeeFunding       Funding
	MutualizerRequest  uuid.UUID
	Mutualizer         common.Address
	Preminted          bool
	// Escalated stays set after finalization.
	Escalated       bool
	State           State
	Outcome         Outcome
	BuyerPercentBps uint16
	Hops            []Hop
	CommittedAt     int64
	FinalizedAt     int64
}

// LastPrice is the price paid by the current holder.
func (e *Exchange) LastPrice() *big.Int {
	if len(e.Hops) > 0 {
		return nativecommon.CloneBig(e.Hops[len(e.Hops)-1].Price)
	}
	return nativecommon.CloneBig(e.Price)
}

// Finalized reports whether the exchange has settled.
func (e *Exchange) Finalized() bool {
	return e.State == StateFinalized
}

// Escrowed is the total value locked for the exchange: price, seller deposit,
// dispute resolver fee, escalation deposit and every hop's retained amount.
func (e *Exchange) Escrowed() *big.Int {
	total := nativecommon.CloneBig(e.Price)
	total.Add(total, nativecommon.CloneBig(e.SellerDeposit))
	total.Add(total, nativecommon.CloneBig(e.DRFee))
	total.Add(total, nativecommon.CloneBig(e.EscalationDeposit))
	for _, hop := range e.Hops {
		total.Add(total, hop.Retained())
	}
	return total
}
