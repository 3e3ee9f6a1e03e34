package settlement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"exchangefunds/native/accounts"
	nativecommon "exchangefunds/native/common"
	"exchangefunds/native/exchange"
	"exchangefunds/native/royalty"
)

// Role is the capacity a payout is made in.
type Role uint8

const (
	RoleBuyer Role = iota + 1
	RoleSeller
	RoleProtocol
	RoleAgent
	RoleRoyalty
	RoleDisputeResolver
	RoleReseller
	// RoleDRFeeRefund returns an unearned dispute resolver fee to the seller
	// that funded it.
	RoleDRFeeRefund
	// RoleMutualizer refunds an unearned sponsored dispute resolver fee. It is
	// paid out externally rather than credited to an account.
	RoleMutualizer
)

func (r Role) String() string {
	switch r {
	case RoleBuyer:
		return "buyer"
	case RoleSeller:
		return "seller"
	case RoleProtocol:
		return "protocol"
	case RoleAgent:
		return "agent"
	case RoleRoyalty:
		return "royalty"
	case RoleDisputeResolver:
		return "dispute_resolver"
	case RoleReseller:
		return "reseller"
	case RoleDRFeeRefund:
		return "dr_fee_refund"
	case RoleMutualizer:
		return "mutualizer"
	default:
		return "unknown"
	}
}

// Payout is one amount released from escrow. Hop is zero for the primary sale
// and i for the i-th resale.
type Payout struct {
	Role      Role
	AccountID uint64
	Amount    *big.Int
	Hop       int
}

// Table is the complete distribution of an exchange's escrow under one
// outcome.
type Table struct {
	ExchangeID      uint64
	Token           common.Address
	Outcome         exchange.Outcome
	BuyerPercentBps uint16
	Escrowed        *big.Int
	Payouts         []Payout
}

// Total sums every payout, including a mutualizer refund.
func (t *Table) Total() *big.Int {
	total := big.NewInt(0)
	for _, p := range t.Payouts {
		total.Add(total, p.Amount)
	}
	return total
}

// Amount sums the payouts made in role.
func (t *Table) Amount(role Role) *big.Int {
	total := big.NewInt(0)
	for _, p := range t.Payouts {
		if p.Role == role {
			total.Add(total, p.Amount)
		}
	}
	return total
}

// ByAccount sums the payouts credited to each account. Mutualizer refunds are
// excluded.
func (t *Table) ByAccount() map[uint64]*big.Int {
	out := make(map[uint64]*big.Int)
	for _, p := range t.Payouts {
		if p.Role == RoleMutualizer {
			continue
		}
		if _, ok := out[p.AccountID]; !ok {
			out[p.AccountID] = big.NewInt(0)
		}
		out[p.AccountID].Add(out[p.AccountID], p.Amount)
	}
	return out
}

// MutualizerRefund is the dispute resolver fee returned to its sponsor.
func (t *Table) MutualizerRefund() *big.Int {
	return t.Amount(RoleMutualizer)
}

func (t *Table) add(role Role, accountID uint64, amount *big.Int, hop int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	t.Payouts = append(t.Payouts, Payout{Role: role, AccountID: accountID, Amount: new(big.Int).Set(amount), Hop: hop})
}

func (t *Table) addRoyalties(payments []royalty.Payment, sellerID uint64, shareBps uint16, hop int) {
	for _, p := range payments {
		recipient := p.Recipient
		if recipient == royalty.DefaultRecipient {
			recipient = sellerID
		}
		t.add(RoleRoyalty, recipient, nativecommon.ApplyBps(p.Amount, shareBps), hop)
	}
}

func sum(values ...*big.Int) *big.Int {
	total := big.NewInt(0)
	for _, v := range values {
		total.Add(total, nativecommon.CloneBig(v))
	}
	return total
}

// Applicable reports whether outcome may finalize ex. Outcomes reached through
// escalation need an escalated exchange and the others need one that was
// never escalated.
func Applicable(ex *exchange.Exchange, outcome exchange.Outcome) error {
	if !outcome.Valid() {
		return fmt.Errorf("%w: %s", ErrOutcomeNotApplicable, outcome)
	}
	if outcome.Escalated() != ex.Escalated {
		return fmt.Errorf("%w: %s on exchange %d (escalated=%t)", ErrOutcomeNotApplicable, outcome, ex.ID, ex.Escalated)
	}
	if outcome.EarnsDRFee() && ex.DisputeResolverID == 0 {
		return fmt.Errorf("%w: %s without a dispute resolver", ErrOutcomeNotApplicable, outcome)
	}
	return nil
}

// Compute builds the payout table for ex finalizing under outcome. It does not
// read or write state. buyerPercentBps is only used by percentage outcomes.
//
// The seller receives whatever the other parties do not, so the table always
// sums to the escrowed total. A negative seller residual means the escrow was
// corrupted and Compute panics.
func Compute(ex *exchange.Exchange, outcome exchange.Outcome, buyerPercentBps uint16) (*Table, error) {
	if ex == nil {
		return nil, ErrNoSuchExchange
	}
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrOutcomeNotApplicable, outcome)
	}
	if err := nativecommon.ValidateBps(buyerPercentBps); err != nil {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBuyerPercent, buyerPercentBps)
	}
	if !outcome.UsesBuyerPercent() {
		buyerPercentBps = 0
	}
	table := &Table{
		ExchangeID:      ex.ID,
		Token:           ex.Token,
		Outcome:         outcome,
		BuyerPercentBps: buyerPercentBps,
		Escrowed:        ex.Escrowed(),
	}

	last := ex.LastPrice()
	deposit := nativecommon.CloneBig(ex.SellerDeposit)
	esc := nativecommon.CloneBig(ex.EscalationDeposit)

	var buyer *big.Int
	switch outcome {
	case exchange.OutcomeRevoked:
		buyer = sum(last, deposit)
	case exchange.OutcomeCanceled, exchange.OutcomeVoucherExpired:
		buyer = new(big.Int).Sub(last, nativecommon.MinBig(ex.BuyerCancelPenalty, last))
	case exchange.OutcomeResolved:
		buyer = nativecommon.ApplyBps(sum(last, deposit), buyerPercentBps)
	case exchange.OutcomeEscalatedResolved, exchange.OutcomeDecided:
		buyer = nativecommon.ApplyBps(sum(last, deposit, esc), buyerPercentBps)
	case exchange.OutcomeEscalatedExpired, exchange.OutcomeRefused:
		buyer = sum(last, esc)
	default:
		buyer = big.NewInt(0)
	}
	table.add(RoleBuyer, ex.BuyerID, buyer, 0)

	if outcome.PaysPrimaryFees() {
		table.add(RoleProtocol, accounts.ProtocolID, ex.Fees.ProtocolFee(ex.Price), 0)
		table.add(RoleAgent, ex.Fees.AgentID, ex.Fees.AgentFee(ex.Price), 0)
		table.addRoyalties(ex.Fees.RoyaltySplit(ex.Price), ex.SellerID, nativecommon.MaxBps, 0)
	}

	share := outcome.SellerShareBps(buyerPercentBps)
	previous := nativecommon.CloneBig(ex.Price)
	for i, hop := range ex.Hops {
		n := i + 1
		table.add(RoleProtocol, accounts.ProtocolID, nativecommon.ApplyBps(hop.ProtocolFee, share), n)
		table.addRoyalties(hop.Royalties, ex.SellerID, share, n)
		delta := new(big.Int).Sub(hop.Reduced(), previous)
		if delta.Sign() > 0 {
			table.add(RoleReseller, hop.ResellerID, nativecommon.ApplyBps(delta, share), n)
		} else {
			table.add(RoleReseller, hop.ResellerID, nativecommon.ApplyBps(delta.Neg(delta), nativecommon.Complement(share)), n)
		}
		previous = nativecommon.CloneBig(hop.Price)
	}

	if drFee := nativecommon.CloneBig(ex.DRFee); drFee.Sign() > 0 {
		switch {
		case outcome.EarnsDRFee():
			table.add(RoleDisputeResolver, ex.DisputeResolverID, drFee, 0)
		case ex.DRFeeFunding == exchange.FundingMutualizer:
			table.add(RoleMutualizer, 0, drFee, 0)
		default:
			table.add(RoleDRFeeRefund, ex.SellerID, drFee, 0)
		}
	}

	residual := new(big.Int).Sub(table.Escrowed, table.Total())
	if residual.Sign() < 0 {
		panic(fmt.Sprintf("%s: exchange %d pays %s out of %s", invariantViolated, ex.ID, table.Total(), table.Escrowed))
	}
	table.add(RoleSeller, ex.SellerID, residual, 0)
	return table, nil
}
