package encumbrance

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"exchangefunds/core/events"
	"exchangefunds/native/accounts"
	nativecommon "exchangefunds/native/common"
	"exchangefunds/native/exchange"
	"exchangefunds/native/fees"
	"exchangefunds/native/ledger"
	"exchangefunds/native/mutualizer"
	"exchangefunds/native/offers"
	"exchangefunds/native/pricing"
)

type engineState interface {
	Atomic(fn func() error) error
}

// Dependencies are the modules the engine reads and writes. All of them must
// share the state the engine runs its transitions on.
type Dependencies struct {
	State       engineState
	Ledger      *ledger.Ledger
	Accounts    *accounts.Registry
	Offers      *offers.Registry
	Exchanges   *exchange.Store
	Fees        *fees.Store
	Mutualizers *mutualizer.Directory
	Pricing     pricing.Discoverer
}

// Engine locks buyer payments, seller deposits and dispute resolver fees when
// an exchange is committed.
type Engine struct {
	deps    Dependencies
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine returns an engine over deps with a no-op emitter.
func NewEngine(deps Dependencies) *Engine {
	return &Engine{
		deps:    deps,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for offer validity checks.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) ready() error {
	d := e.deps
	if d.State == nil || d.Ledger == nil || d.Accounts == nil || d.Offers == nil || d.Exchanges == nil || d.Fees == nil {
		return errNotConfigured
	}
	return nil
}

// CommitRequest is a buyer committing to a seller-created offer.
type CommitRequest struct {
	OfferID uint64
	Buyer   common.Address
	// Supplied is the native value attached to the call.
	Supplied *big.Int
}

// Commit creates an exchange for a seller-created offer. The buyer pays the
// price from its wallet and the seller deposit comes out of the seller's
// available funds.
func (e *Engine) Commit(ctx context.Context, req CommitRequest) (*exchange.Exchange, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var created *exchange.Exchange
	err := e.deps.State.Atomic(func() error {
		offer, err := e.reserve(req.OfferID, offers.CreatorSeller)
		if err != nil {
			return err
		}
		price, side, err := e.price(ctx, offer, req.Buyer)
		if err != nil {
			return err
		}
		buyerID, err := e.deps.Accounts.BuyerFor(req.Buyer)
		if err != nil {
			return err
		}
		created, err = e.commit(ctx, commitParams{
			offer:    offer,
			buyerID:  buyerID,
			sellerID: offer.SellerID,
			price:    price,
			side:     side,
			actor:    req.Buyer,
			payment: paymentPlan{
				buyerSource: ledger.SourceTransferred,
				buyerWallet: req.Buyer,
				supplied:    req.Supplied,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// BuyerOfferCommitRequest is a seller committing to a buyer-created offer.
type BuyerOfferCommitRequest struct {
	OfferID uint64
	Seller  common.Address
	// Supplied is the native value attached to the call, covering the seller
	// deposit.
	Supplied *big.Int
}

// CommitToBuyerOffer creates an exchange for a buyer-created offer. The price
// comes out of the buyer's available funds and the seller pays its deposit
// from its wallet. The seller becomes the exchange seller.
func (e *Engine) CommitToBuyerOffer(ctx context.Context, req BuyerOfferCommitRequest) (*exchange.Exchange, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var created *exchange.Exchange
	err := e.deps.State.Atomic(func() error {
		offer, err := e.reserve(req.OfferID, offers.CreatorBuyer)
		if err != nil {
			return err
		}
		sellerID, ok, err := e.deps.Accounts.Lookup(accounts.KindSeller, req.Seller)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s is not a seller", ledger.ErrInvalidAccount, req.Seller.Hex())
		}
		created, err = e.commit(ctx, commitParams{
			offer:    offer,
			buyerID:  offer.BuyerID,
			sellerID: sellerID,
			price:    nativecommon.CloneBig(offer.Price),
			actor:    req.Seller,
			payment: paymentPlan{
				buyerSource:   ledger.SourceAvailable,
				sellerSource:  ledger.SourceTransferred,
				sellerWallet:  req.Seller,
				supplied:      req.Supplied,
				sellerPullsIn: true,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CommitPreminted creates an exchange on the first transfer of a pre-minted
// voucher from the seller's wallet to buyer. The price was settled by the
// transfer itself, so the exchange carries no escrowed price and only the
// seller deposit (and dispute resolver fee) is drawn.
func (e *Engine) CommitPreminted(ctx context.Context, offerID uint64, from, to common.Address) (*exchange.Exchange, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var created *exchange.Exchange
	err := e.deps.State.Atomic(func() error {
		offer, err := e.reserve(offerID, offers.CreatorSeller)
		if err != nil {
			return err
		}
		seller, err := e.deps.Accounts.Get(offer.SellerID)
		if err != nil {
			return err
		}
		if seller.Wallet != from {
			return fmt.Errorf("%w: pre-minted voucher must leave the seller wallet", ErrWrongCommitPath)
		}
		buyerID, err := e.deps.Accounts.BuyerFor(to)
		if err != nil {
			return err
		}
		created, err = e.commit(ctx, commitParams{
			offer:     offer,
			buyerID:   buyerID,
			sellerID:  offer.SellerID,
			price:     big.NewInt(0),
			actor:     from,
			preminted: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (e *Engine) reserve(offerID uint64, creator offers.Creator) (*offers.Offer, error) {
	offer, err := e.deps.Offers.Get(offerID)
	if err != nil {
		return nil, err
	}
	if offer.Creator != creator {
		return nil, fmt.Errorf("%w: offer %d created by %s", ErrWrongCommitPath, offerID, offer.Creator)
	}
	offer, err = e.deps.Offers.Reserve(offerID, e.nowFn())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOfferNotOpen, err)
	}
	return offer, nil
}

func (e *Engine) price(ctx context.Context, offer *offers.Offer, buyer common.Address) (*big.Int, exchange.Side, error) {
	if offer.PriceType != offers.PriceDiscovery {
		return nativecommon.CloneBig(offer.Price), exchange.SideNone, nil
	}
	if e.deps.Pricing == nil {
		return nil, exchange.SideNone, fmt.Errorf("%w: no price discovery configured", ErrInvalidPrice)
	}
	quote, err := e.deps.Pricing.Discover(ctx, pricing.Request{OfferID: offer.ID, Token: offer.Token, To: buyer})
	if err != nil {
		return nil, exchange.SideNone, err
	}
	if quote.Price == nil || quote.Price.Sign() < 0 {
		return nil, exchange.SideNone, ErrInvalidPrice
	}
	return quote.Price, quote.Side, nil
}

type paymentPlan struct {
	buyerSource   ledger.Source
	buyerWallet   common.Address
	sellerSource  ledger.Source
	sellerWallet  common.Address
	sellerPullsIn bool
	supplied      *big.Int
}

type commitParams struct {
	offer     *offers.Offer
	buyerID   uint64
	sellerID  uint64
	price     *big.Int
	side      exchange.Side
	actor     common.Address
	payment   paymentPlan
	preminted bool
}

func (e *Engine) snapshot(offer *offers.Offer, price *big.Int) (fees.Snapshot, error) {
	policy, err := e.deps.Fees.Load()
	if err != nil {
		return fees.Snapshot{}, err
	}
	var agentFeeBps uint16
	if offer.AgentID != 0 {
		agent, err := e.deps.Accounts.GetKind(offer.AgentID, accounts.KindAgent)
		if err != nil {
			return fees.Snapshot{}, err
		}
		agentFeeBps = agent.FeeBps
	}
	return policy.Snapshot(fees.SnapshotInput{
		Token:       offer.Token,
		Price:       price,
		AgentID:     offer.AgentID,
		AgentFeeBps: agentFeeBps,
		Royalty:     offer.CurrentRoyalty(),
	})
}

func (e *Engine) commit(ctx context.Context, p commitParams) (*exchange.Exchange, error) {
	offer := p.offer
	snap, err := e.snapshot(offer, p.price)
	if err != nil {
		return nil, err
	}
	exchangeID, err := e.deps.Exchanges.NextID()
	if err != nil {
		return nil, err
	}
	deposit := nativecommon.CloneBig(offer.SellerDeposit)
	drFee := nativecommon.CloneBig(offer.DRFee)
	ex := &exchange.Exchange{
		OfferID:            offer.ID,
		BuyerID:            p.buyerID,
		SellerID:           p.sellerID,
		Token:              offer.Token,
		Price:              nativecommon.CloneBig(p.price),
		SellerDeposit:      deposit,
		BuyerCancelPenalty: nativecommon.MinBig(offer.BuyerCancelPenalty, p.price),
		DRFee:              drFee,
		EscalationDeposit:  big.NewInt(0),
		DisputeResolverID:  offer.DisputeResolverID,
		Fees:               snap,
		Preminted:          p.preminted,
		State:              exchange.StateCommitted,
		CommittedAt:        e.nowFn(),
	}

	var grant mutualizer.Grant
	var sponsor mutualizer.Mutualizer
	if drFee.Sign() > 0 {
		ex.DRFeeFunding = exchange.FundingSeller
		if offer.Mutualizer != (common.Address{}) {
			if m, ok := e.deps.Mutualizers.Lookup(offer.Mutualizer); ok {
				grant, err = m.RequestFee(ctx, mutualizer.FeeRequest{
					ExchangeID: exchangeID,
					SellerID:   p.sellerID,
					Token:      offer.Token,
					Amount:     new(big.Int).Set(drFee),
				})
				if err != nil {
					return nil, err
				}
				if grant.Granted {
					sponsor = m
					ex.DRFeeFunding = exchange.FundingMutualizer
					ex.MutualizerRequest = grant.RequestID
					ex.Mutualizer = m.Address()
				}
			}
		}
	}

	locks := make([]ledger.Lock, 0, 3)
	if p.price.Sign() > 0 {
		locks = append(locks, ledger.Lock{AccountID: p.buyerID, Token: offer.Token, Amount: new(big.Int).Set(p.price), Source: p.payment.buyerSource})
	}
	sellerDraw := nativecommon.CloneBig(deposit)
	if p.payment.sellerPullsIn {
		locks = append(locks, ledger.Lock{AccountID: p.sellerID, Token: offer.Token, Amount: new(big.Int).Set(deposit), Source: ledger.SourceTransferred})
		sellerDraw.SetInt64(0)
	}
	if ex.DRFeeFunding == exchange.FundingSeller {
		sellerDraw.Add(sellerDraw, drFee)
	}
	if sellerDraw.Sign() > 0 {
		locks = append(locks, ledger.Lock{AccountID: p.sellerID, Token: offer.Token, Amount: sellerDraw, Source: ledger.SourceAvailable})
	}
	if sponsor != nil {
		locks = append(locks, ledger.Lock{Token: offer.Token, Amount: new(big.Int).Set(drFee), Source: ledger.SourceSponsored})
	}

	// Available-balance draws are checked before any value is pulled in.
	for _, lock := range locks {
		if lock.Source != ledger.SourceAvailable {
			continue
		}
		available, err := e.deps.Ledger.Available(lock.AccountID, lock.Token)
		if err != nil {
			return nil, err
		}
		if available.Cmp(lock.Amount) < 0 {
			return nil, fmt.Errorf("%w: account %d holds %s, needs %s", ErrInsufficientAvailableFunds, lock.AccountID, available, lock.Amount)
		}
	}

	switch {
	case p.payment.sellerPullsIn:
		if err := e.deps.Ledger.TransferIn(ctx, offer.Token, p.payment.sellerWallet, deposit, p.payment.supplied); err != nil {
			return nil, err
		}
	case p.payment.buyerSource == ledger.SourceTransferred && !p.preminted:
		if err := e.deps.Ledger.TransferIn(ctx, offer.Token, p.payment.buyerWallet, p.price, p.payment.supplied); err != nil {
			return nil, err
		}
	}
	if sponsor != nil {
		if err := e.deps.Ledger.TransferIn(ctx, offer.Token, sponsor.Address(), drFee, nativeValue(offer.Token, drFee)); err != nil {
			return nil, err
		}
	}

	if err := e.deps.Ledger.LockToEscrow(exchangeID, locks, p.actor); err != nil {
		return nil, err
	}
	if _, err := e.deps.Exchanges.Create(ex); err != nil {
		return nil, err
	}
	if ex.ID != exchangeID {
		return nil, fmt.Errorf("encumbrance: exchange id drifted from %d to %d", exchangeID, ex.ID)
	}
	if sponsor != nil {
		e.emitter.Emit(events.DRFeeRequested{
			ExchangeID: ex.ID,
			Token:      offer.Token,
			Amount:     new(big.Int).Set(drFee),
			Mutualizer: sponsor.Address(),
			Actor:      p.actor,
		})
	}
	return ex, nil
}

// nativeValue is the value a sponsor attaches when paying amount of token.
func nativeValue(token common.Address, amount *big.Int) *big.Int {
	if ledger.IsNative(token) {
		return new(big.Int).Set(amount)
	}
	return nil
}

// EncumberEscalation locks the buyer escalation deposit, a fixed share of the
// dispute resolver fee, and marks the exchange escalated. It may run once per
// exchange and only by the current voucher holder.
func (e *Engine) EncumberEscalation(ctx context.Context, exchangeID uint64, buyer common.Address, supplied *big.Int) (*exchange.Exchange, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var escalated *exchange.Exchange
	err := e.deps.State.Atomic(func() error {
		ex, err := e.deps.Exchanges.Get(exchangeID)
		if err != nil {
			return err
		}
		switch {
		case ex.Finalized():
			return ErrExchangeFinalized
		case ex.Escalated:
			return ErrAlreadyEscalated
		case ex.DisputeResolverID == 0:
			return ErrNoDisputeResolver
		}
		holderID, ok, err := e.deps.Accounts.Lookup(accounts.KindBuyer, buyer)
		if err != nil {
			return err
		}
		if !ok || holderID != ex.BuyerID {
			return fmt.Errorf("%w: %s", ErrNotHolder, buyer.Hex())
		}
		esc := ex.Fees.EscalationDeposit(ex.DRFee)
		if err := e.deps.Ledger.TransferIn(ctx, ex.Token, buyer, esc, supplied); err != nil {
			return err
		}
		if err := e.deps.Ledger.LockToEscrow(ex.ID, []ledger.Lock{{AccountID: ex.BuyerID, Token: ex.Token, Amount: esc, Source: ledger.SourceTransferred}}, buyer); err != nil {
			return err
		}
		ex.EscalationDeposit = esc
		ex.Escalated = true
		ex.State = exchange.StateEscalated
		if err := e.deps.Exchanges.Put(ex); err != nil {
			return err
		}
		escalated = ex
		return nil
	})
	if err != nil {
		return nil, err
	}
	return escalated, nil
}
