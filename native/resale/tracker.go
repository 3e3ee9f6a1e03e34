package resale

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"exchangefunds/core/events"
	"exchangefunds/native/accounts"
	nativecommon "exchangefunds/native/common"
	"exchangefunds/native/exchange"
	"exchangefunds/native/ledger"
	"exchangefunds/native/offers"
	"exchangefunds/native/pricing"
	"exchangefunds/native/royalty"
)

var (
	ErrNotTransferable  = errors.New("resale: exchange voucher cannot change hands")
	ErrNotHolder        = errors.New("resale: seller of the hop does not hold the voucher")
	ErrSameHolder       = errors.New("resale: voucher already held by recipient")
	ErrInvalidPrice     = errors.New("resale: invalid hop price")
	ErrFeeLimitExceeded = errors.New("resale: hop fees exceed hop price")
	errNotConfigured    = errors.New("resale: tracker not configured")
)

type trackerState interface {
	Atomic(fn func() error) error
}

// Dependencies are the modules the tracker reads and writes.
type Dependencies struct {
	State     trackerState
	Ledger    *ledger.Ledger
	Accounts  *accounts.Registry
	Offers    *offers.Registry
	Exchanges *exchange.Store
	Pricing   pricing.Discoverer
}

// Tracker records sequential commits of exchange vouchers. Each hop locks the
// new holder's payment, pays the reseller back up to its own purchase price
// and keeps the rest in escrow until the exchange settles.
type Tracker struct {
	deps    Dependencies
	emitter events.Emitter
}

// NewTracker returns a tracker over deps.
func NewTracker(deps Dependencies) *Tracker {
	return &Tracker{
		deps:    deps,
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (t *Tracker) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		t.emitter = events.NoopEmitter{}
		return
	}
	t.emitter = emitter
}

// HopRequest describes a voucher sold by its holder From to To. A nil Price is
// resolved through price discovery.
type HopRequest struct {
	ExchangeID uint64
	From       common.Address
	To         common.Address
	Price      *big.Int
	// Supplied is the native value attached by the new holder.
	Supplied *big.Int
}

// HopFees computes the protocol fee and royalty payments owed on a hop at
// price. The protocol fee comes from the exchange's snapshot; royalties follow
// the offer's current schedule.
func HopFees(ex *exchange.Exchange, schedule royalty.Info, price *big.Int) (*big.Int, []royalty.Payment, error) {
	fee := ex.Fees.ProtocolFee(price)
	payments := royalty.Split(schedule, price)
	total := new(big.Int).Add(fee, royalty.Total(payments))
	if total.Cmp(price) > 0 {
		return nil, nil, fmt.Errorf("%w: fees %s on price %s", ErrFeeLimitExceeded, total, price)
	}
	return fee, payments, nil
}

// RecordHop applies one resale of the exchange voucher and returns the
// updated exchange.
func (t *Tracker) RecordHop(ctx context.Context, req HopRequest) (*exchange.Exchange, error) {
	d := t.deps
	if d.State == nil || d.Ledger == nil || d.Accounts == nil || d.Offers == nil || d.Exchanges == nil {
		return nil, errNotConfigured
	}
	var updated *exchange.Exchange
	err := d.State.Atomic(func() error {
		ex, resellerID, buyerID, err := t.transferable(req.ExchangeID, req.From, req.To)
		if err != nil {
			return err
		}
		price := nativecommon.CloneBig(req.Price)
		side := exchange.SideNone
		if req.Price == nil {
			if d.Pricing == nil {
				return fmt.Errorf("%w: no price discovery configured", ErrInvalidPrice)
			}
			quote, err := d.Pricing.Discover(ctx, pricing.Request{
				OfferID:    ex.OfferID,
				ExchangeID: ex.ID,
				Token:      ex.Token,
				From:       req.From,
				To:         req.To,
			})
			if err != nil {
				return err
			}
			price, side = nativecommon.CloneBig(quote.Price), quote.Side
		}
		if price.Sign() < 0 {
			return ErrInvalidPrice
		}
		offer, err := d.Offers.Get(ex.OfferID)
		if err != nil {
			return err
		}
		fee, payments, err := HopFees(ex, offer.CurrentRoyalty(), price)
		if err != nil {
			return err
		}
		hop := exchange.Hop{
			ResellerID:  resellerID,
			BuyerID:     buyerID,
			Price:       price,
			ProtocolFee: fee,
			Royalties:   payments,
			Side:        side,
		}
		reduced := hop.Reduced()
		hop.Immediate = nativecommon.MinBig(ex.LastPrice(), reduced)

		if err := d.Ledger.TransferIn(ctx, ex.Token, req.To, price, req.Supplied); err != nil {
			return err
		}
		lock := ledger.Lock{AccountID: buyerID, Token: ex.Token, Amount: new(big.Int).Set(price), Source: ledger.SourceTransferred}
		if err := d.Ledger.LockToEscrow(ex.ID, []ledger.Lock{lock}, req.To); err != nil {
			return err
		}
		credit := ledger.Credit{AccountID: resellerID, Token: ex.Token, Amount: new(big.Int).Set(hop.Immediate)}
		if err := d.Ledger.CreditFromEscrow(ex.ID, []ledger.Credit{credit}, req.To); err != nil {
			return err
		}
		ex.Hops = append(ex.Hops, hop)
		ex.BuyerID = buyerID
		if err := d.Exchanges.Put(ex); err != nil {
			return err
		}
		t.emitter.Emit(events.ResaleRecorded{
			ExchangeID:  ex.ID,
			Hop:         len(ex.Hops),
			ResellerID:  resellerID,
			BuyerID:     buyerID,
			Price:       nativecommon.CloneBig(price),
			ProtocolFee: nativecommon.CloneBig(fee),
			Royalties:   hop.RoyaltyTotal(),
			Actor:       req.To,
		})
		updated = ex
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Transfer moves the voucher without a sale. Only the holder changes; no funds
// move.
func (t *Tracker) Transfer(exchangeID uint64, from, to common.Address) (*exchange.Exchange, error) {
	d := t.deps
	if d.State == nil || d.Accounts == nil || d.Exchanges == nil {
		return nil, errNotConfigured
	}
	var updated *exchange.Exchange
	err := d.State.Atomic(func() error {
		ex, _, buyerID, err := t.transferable(exchangeID, from, to)
		if err != nil {
			return err
		}
		ex.BuyerID = buyerID
		if err := d.Exchanges.Put(ex); err != nil {
			return err
		}
		updated = ex
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (t *Tracker) transferable(exchangeID uint64, from, to common.Address) (*exchange.Exchange, uint64, uint64, error) {
	ex, err := t.deps.Exchanges.Get(exchangeID)
	if err != nil {
		return nil, 0, 0, err
	}
	if ex.State != exchange.StateCommitted {
		return nil, 0, 0, fmt.Errorf("%w: exchange %d is %s", ErrNotTransferable, ex.ID, ex.State)
	}
	holderID, ok, err := t.deps.Accounts.Lookup(accounts.KindBuyer, from)
	if err != nil {
		return nil, 0, 0, err
	}
	if !ok || holderID != ex.BuyerID {
		return nil, 0, 0, fmt.Errorf("%w: %s", ErrNotHolder, from.Hex())
	}
	buyerID, err := t.deps.Accounts.BuyerFor(to)
	if err != nil {
		return nil, 0, 0, err
	}
	if buyerID == holderID {
		return nil, 0, 0, ErrSameHolder
	}
	return ex, holderID, buyerID, nil
}

// Chain returns the recorded hops of the exchange in order.
func (t *Tracker) Chain(exchangeID uint64) ([]exchange.Hop, error) {
	if t.deps.Exchanges == nil {
		return nil, errNotConfigured
	}
	ex, err := t.deps.Exchanges.Get(exchangeID)
	if err != nil {
		return nil, err
	}
	return ex.Hops, nil
}
