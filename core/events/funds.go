package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"exchangefunds/core/types"
)

const (
	TypeFundsDeposited       = "funds.deposited"
	TypeFundsWithdrawn       = "funds.withdrawn"
	TypeFundsEncumbered      = "funds.encumbered"
	TypeFundsReleased        = "funds.released"
	TypeProtocolFeeCollected = "funds.protocol_fee_collected"
	TypeDRFeeRequested       = "funds.dr_fee_requested"
	TypeDRFeeReturned        = "funds.dr_fee_returned"
	TypeExchangeFinalized    = "exchange.finalized"
	TypeResaleRecorded       = "exchange.resale_recorded"
)

// FundsDeposited records a credit to an account's available balance from an
// external transfer.
type FundsDeposited struct {
	AccountID uint64
	Token     common.Address
	Amount    *big.Int
	Actor     common.Address
}

func (FundsDeposited) EventType() string { return TypeFundsDeposited }

func (e FundsDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeFundsDeposited,
		Attributes: map[string]string{
			"accountId": formatID(e.AccountID),
			"token":     formatAddress(e.Token),
			"amount":    formatAmount(e.Amount),
			"actor":     formatAddress(e.Actor),
		},
	}
}

// FundsWithdrawn records an external payout from an account's available
// balance to its wallet.
type FundsWithdrawn struct {
	AccountID uint64
	Recipient common.Address
	Token     common.Address
	Amount    *big.Int
	Actor     common.Address
}

func (FundsWithdrawn) EventType() string { return TypeFundsWithdrawn }

func (e FundsWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeFundsWithdrawn,
		Attributes: map[string]string{
			"accountId": formatID(e.AccountID),
			"recipient": formatAddress(e.Recipient),
			"token":     formatAddress(e.Token),
			"amount":    formatAmount(e.Amount),
			"actor":     formatAddress(e.Actor),
		},
	}
}

// FundsEncumbered records value moved into an exchange escrow on behalf of an
// account.
type FundsEncumbered struct {
	ExchangeID uint64
	AccountID  uint64
	Token      common.Address
	Amount     *big.Int
	Actor      common.Address
}

func (FundsEncumbered) EventType() string { return TypeFundsEncumbered }

func (e FundsEncumbered) Event() *types.Event {
	return &types.Event{
		Type: TypeFundsEncumbered,
		Attributes: map[string]string{
			"exchangeId": formatID(e.ExchangeID),
			"accountId":  formatID(e.AccountID),
			"token":      formatAddress(e.Token),
			"amount":     formatAmount(e.Amount),
			"actor":      formatAddress(e.Actor),
		},
	}
}

// FundsReleased records an escrow credit to an account's available balance.
type FundsReleased struct {
	ExchangeID uint64
	AccountID  uint64
	Token      common.Address
	Amount     *big.Int
	Actor      common.Address
}

func (FundsReleased) EventType() string { return TypeFundsReleased }

func (e FundsReleased) Event() *types.Event {
	return &types.Event{
		Type: TypeFundsReleased,
		Attributes: map[string]string{
			"exchangeId": formatID(e.ExchangeID),
			"accountId":  formatID(e.AccountID),
			"token":      formatAddress(e.Token),
			"amount":     formatAmount(e.Amount),
			"actor":      formatAddress(e.Actor),
		},
	}
}

// ProtocolFeeCollected records the protocol's share of a settled exchange,
// summed across every resale hop.
type ProtocolFeeCollected struct {
	ExchangeID uint64
	Token      common.Address
	Amount     *big.Int
	Actor      common.Address
}

func (ProtocolFeeCollected) EventType() string { return TypeProtocolFeeCollected }

func (e ProtocolFeeCollected) Event() *types.Event {
	return &types.Event{
		Type: TypeProtocolFeeCollected,
		Attributes: map[string]string{
			"exchangeId": formatID(e.ExchangeID),
			"token":      formatAddress(e.Token),
			"amount":     formatAmount(e.Amount),
			"actor":      formatAddress(e.Actor),
		},
	}
}

// DRFeeRequested records a dispute resolver fee sponsored by a mutualizer.
type DRFeeRequested struct {
	ExchangeID uint64
	Token      common.Address
	Amount     *big.Int
	Mutualizer common.Address
	Actor      common.Address
}

func (DRFeeRequested) EventType() string { return TypeDRFeeRequested }

func (e DRFeeRequested) Event() *types.Event {
	return &types.Event{
		Type: TypeDRFeeRequested,
		Attributes: map[string]string{
			"exchangeId": formatID(e.ExchangeID),
			"token":      formatAddress(e.Token),
			"amount":     formatAmount(e.Amount),
			"mutualizer": formatAddress(e.Mutualizer),
			"actor":      formatAddress(e.Actor),
		},
	}
}

// DRFeeReturned records an unearned dispute resolver fee handed back to the
// mutualizer that sponsored it.
type DRFeeReturned struct {
	ExchangeID uint64
	Token      common.Address
	Amount     *big.Int
	Mutualizer common.Address
	Actor      common.Address
}

func (DRFeeReturned) EventType() string { return TypeDRFeeReturned }

func (e DRFeeReturned) Event() *types.Event {
	return &types.Event{
		Type: TypeDRFeeReturned,
		Attributes: map[string]string{
			"exchangeId": formatID(e.ExchangeID),
			"token":      formatAddress(e.Token),
			"amount":     formatAmount(e.Amount),
			"mutualizer": formatAddress(e.Mutualizer),
			"actor":      formatAddress(e.Actor),
		},
	}
}

// ExchangeFinalized records the terminal outcome of an exchange.
type ExchangeFinalized struct {
	ExchangeID      uint64
	Outcome         string
	BuyerPercentBps uint16
	Actor           common.Address
}

func (ExchangeFinalized) EventType() string { return TypeExchangeFinalized }

func (e ExchangeFinalized) Event() *types.Event {
	return &types.Event{
		Type: TypeExchangeFinalized,
		Attributes: map[string]string{
			"exchangeId":      formatID(e.ExchangeID),
			"outcome":         e.Outcome,
			"buyerPercentBps": formatID(uint64(e.BuyerPercentBps)),
			"actor":           formatAddress(e.Actor),
		},
	}
}

// ResaleRecorded records a sequential commit of an exchange voucher.
type ResaleRecorded struct {
	ExchangeID  uint64
	Hop         int
	ResellerID  uint64
	BuyerID     uint64
	Price       *big.Int
	ProtocolFee *big.Int
	Royalties   *big.Int
	Actor       common.Address
}

func (ResaleRecorded) EventType() string { return TypeResaleRecorded }

func (e ResaleRecorded) Event() *types.Event {
	return &types.Event{
		Type: TypeResaleRecorded,
		Attributes: map[string]string{
			"exchangeId":  formatID(e.ExchangeID),
			"hop":         formatID(uint64(e.Hop)),
			"resellerId":  formatID(e.ResellerID),
			"buyerId":     formatID(e.BuyerID),
			"price":       formatAmount(e.Price),
			"protocolFee": formatAmount(e.ProtocolFee),
			"royalties":   formatAmount(e.Royalties),
			"actor":       formatAddress(e.Actor),
		},
	}
}
