package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"exchangefunds/core/events"
	"exchangefunds/core/state"
	"exchangefunds/native/accounts"
	"exchangefunds/native/encumbrance"
	"exchangefunds/native/exchange"
	"exchangefunds/native/fees"
	"exchangefunds/native/ledger"
	"exchangefunds/native/mutualizer"
	"exchangefunds/native/offers"
	"exchangefunds/native/pricing"
	"exchangefunds/native/resale"
	"exchangefunds/native/royalty"
	"exchangefunds/native/settlement"
	"exchangefunds/native/tokens"
	"exchangefunds/observability/metrics"
	telemetry "exchangefunds/observability/otel"
)

var (
	ErrInvalidTransfer = errors.New("core: invalid voucher transfer")
	ErrNoWallet        = errors.New("core: account has no withdrawal wallet")
)

// Options configure a Protocol. Zero values select in-process collaborators.
type Options struct {
	Policy   fees.Policy
	Vault    common.Address
	Treasury common.Address
	// Transfers moves tokens in and out of the vault. Nil selects a
	// tokens.Bank kept in protocol state.
	Transfers   ledger.Transferer
	Pricing     pricing.Discoverer
	Mutualizers []mutualizer.Mutualizer
	Emitter     events.Emitter
	Logger      *slog.Logger
	Metrics     *metrics.FundsMetrics
	Tracer      trace.Tracer
	Now         func() int64
}

// Protocol composes the funds modules over one state manager. Every mutating
// call runs as a single atomic transition: on failure no state changes and no
// events are emitted. Calls are serialised.
type Protocol struct {
	mu    sync.Mutex
	state *state.Manager

	bank        *tokens.Bank
	ledger      *ledger.Ledger
	accounts    *accounts.Registry
	offers      *offers.Registry
	exchanges   *exchange.Store
	fees        *fees.Store
	royalties   *royalty.Registry
	mutualizers *mutualizer.Directory

	commits *encumbrance.Engine
	resales *resale.Tracker
	settle  *settlement.Engine

	buffer  *events.Buffer
	logger  *slog.Logger
	metrics *metrics.FundsMetrics
	tracer  trace.Tracer
}

// New wires a protocol over manager.
func New(manager *state.Manager, opts Options) (*Protocol, error) {
	if manager == nil {
		return nil, fmt.Errorf("core: state manager required")
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	p := &Protocol{
		state:       manager,
		accounts:    accounts.NewRegistry(manager),
		offers:      offers.NewRegistry(manager),
		exchanges:   exchange.NewStore(manager),
		fees:        fees.NewStore(manager, opts.Policy),
		royalties:   royalty.NewRegistry(manager),
		mutualizers: mutualizer.NewDirectory(),
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.tracer == nil {
		p.tracer = telemetry.Tracer()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	p.buffer = events.NewBuffer(emitter)

	transfers := opts.Transfers
	if transfers == nil {
		p.bank = tokens.NewBank(manager, opts.Vault)
		transfers = p.bank
	}
	p.ledger = ledger.New(manager, transfers)
	p.ledger.SetEmitter(p.buffer)
	for _, m := range opts.Mutualizers {
		p.mutualizers.Register(m)
	}
	discoverer := opts.Pricing
	if discoverer == nil {
		discoverer = pricing.NewBook()
	}

	p.commits = encumbrance.NewEngine(encumbrance.Dependencies{
		State:       manager,
		Ledger:      p.ledger,
		Accounts:    p.accounts,
		Offers:      p.offers,
		Exchanges:   p.exchanges,
		Fees:        p.fees,
		Mutualizers: p.mutualizers,
		Pricing:     discoverer,
	})
	p.commits.SetEmitter(p.buffer)
	p.resales = resale.NewTracker(resale.Dependencies{
		State:     manager,
		Ledger:    p.ledger,
		Accounts:  p.accounts,
		Offers:    p.offers,
		Exchanges: p.exchanges,
		Pricing:   discoverer,
	})
	p.resales.SetEmitter(p.buffer)
	p.settle = settlement.NewEngine(settlement.Dependencies{
		State:       manager,
		Ledger:      p.ledger,
		Exchanges:   p.exchanges,
		Fees:        p.fees,
		Mutualizers: p.mutualizers,
	})
	p.settle.SetEmitter(p.buffer)
	if opts.Now != nil {
		p.commits.SetNowFunc(opts.Now)
		p.settle.SetNowFunc(opts.Now)
	}

	if opts.Treasury != (common.Address{}) {
		if err := p.accounts.SetTreasury(opts.Treasury); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Bank returns the in-process token collaborator, or nil when an external
// Transferer was configured.
func (p *Protocol) Bank() *tokens.Bank { return p.bank }

// RegisterMutualizer makes m available to offers naming its address.
func (p *Protocol) RegisterMutualizer(m mutualizer.Mutualizer) {
	p.mutualizers.Register(m)
}

// run executes fn as one atomic transition, flushing its events on success.
func (p *Protocol) run(ctx context.Context, operation string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "protocol."+operation, trace.WithAttributes(attrs...))
	defer span.End()

	err := p.state.Atomic(func() error { return fn(ctx) })
	if err != nil {
		p.buffer.Discard()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.WarnContext(ctx, "protocol operation rejected", slog.String("operation", operation), slog.Any("error", err))
	} else {
		p.buffer.Flush()
		span.SetStatus(codes.Ok, operation)
	}
	p.metrics.Observe(operation, time.Since(start), err)
	return err
}

// RegisterAccount stores a new account and returns its id.
func (p *Protocol) RegisterAccount(ctx context.Context, acc *accounts.Account) (uint64, error) {
	var id uint64
	err := p.run(ctx, "register_account", nil, func(context.Context) error {
		var err error
		id, err = p.accounts.Register(acc)
		return err
	})
	return id, err
}

// Account loads an account.
func (p *Protocol) Account(id uint64) (*accounts.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accounts.Get(id)
}

// FeePolicy returns the current global fee policy.
func (p *Protocol) FeePolicy() (fees.Policy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fees.Load()
}

// UpdateFeePolicy replaces the global fee policy. Committed exchanges keep the
// fees captured at commit.
func (p *Protocol) UpdateFeePolicy(ctx context.Context, policy fees.Policy) error {
	return p.run(ctx, "update_fee_policy", nil, func(context.Context) error {
		return p.fees.Update(policy)
	})
}

// AddRoyaltyRecipients extends the seller's allowed royalty recipients.
func (p *Protocol) AddRoyaltyRecipients(ctx context.Context, sellerID uint64, recipients []royalty.Recipient) error {
	return p.run(ctx, "add_royalty_recipients", nil, func(context.Context) error {
		policy, err := p.fees.Load()
		if err != nil {
			return err
		}
		if _, err := p.accounts.GetKind(sellerID, accounts.KindSeller); err != nil {
			return err
		}
		for _, r := range recipients {
			if _, err := p.accounts.GetKind(r.AccountID, accounts.KindRoyaltyRecipient); err != nil {
				return err
			}
		}
		return p.royalties.AddRecipients(sellerID, recipients, policy.MaxRoyaltyBps)
	})
}

// UpdateRoyaltyRecipient changes one recipient's minimum share.
func (p *Protocol) UpdateRoyaltyRecipient(ctx context.Context, sellerID uint64, recipient royalty.Recipient) error {
	return p.run(ctx, "update_royalty_recipient", nil, func(context.Context) error {
		policy, err := p.fees.Load()
		if err != nil {
			return err
		}
		return p.royalties.UpdateRecipient(sellerID, recipient, policy.MaxRoyaltyBps)
	})
}

// RemoveRoyaltyRecipients drops recipients from the seller's list.
func (p *Protocol) RemoveRoyaltyRecipients(ctx context.Context, sellerID uint64, accountIDs []uint64) error {
	return p.run(ctx, "remove_royalty_recipients", nil, func(context.Context) error {
		return p.royalties.RemoveRecipients(sellerID, accountIDs)
	})
}

// RoyaltyRecipients lists the seller's allowed royalty recipients.
func (p *Protocol) RoyaltyRecipients(sellerID uint64) ([]royalty.Recipient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.royalties.Recipients(sellerID)
}

// CreateOffer validates and stores an offer. The royalty schedule is checked
// against the seller's recipients and a missing dispute resolver fee is taken
// from the resolver's fee list for the offer token.
func (p *Protocol) CreateOffer(ctx context.Context, o *offers.Offer) (uint64, error) {
	var id uint64
	err := p.run(ctx, "create_offer", nil, func(context.Context) error {
		if o == nil {
			return offers.ErrInvalidOffer
		}
		if o.Creator == offers.CreatorSeller {
			if _, err := p.accounts.GetKind(o.SellerID, accounts.KindSeller); err != nil {
				return err
			}
			if err := p.validateRoyalty(o.SellerID, o.CurrentRoyalty()); err != nil {
				return err
			}
		}
		if o.AgentID != 0 {
			if _, err := p.accounts.GetKind(o.AgentID, accounts.KindAgent); err != nil {
				return err
			}
		}
		if o.DisputeResolverID != 0 {
			resolver, err := p.accounts.GetKind(o.DisputeResolverID, accounts.KindDisputeResolver)
			if err != nil {
				return err
			}
			if o.DRFee == nil {
				if fee, ok := resolver.DisputeResolverFee(o.Token); ok {
					o.DRFee = fee
				}
			}
		}
		var err error
		id, err = p.offers.Create(o)
		return err
	})
	return id, err
}

func (p *Protocol) validateRoyalty(sellerID uint64, info royalty.Info) error {
	policy, err := p.fees.Load()
	if err != nil {
		return err
	}
	return p.royalties.Validate(sellerID, info, policy.MaxRoyaltyBps)
}

// UpdateOfferRoyalty appends a royalty schedule used by future commits and
// resales of the offer.
func (p *Protocol) UpdateOfferRoyalty(ctx context.Context, offerID uint64, info royalty.Info) error {
	return p.run(ctx, "update_offer_royalty", nil, func(context.Context) error {
		offer, err := p.offers.Get(offerID)
		if err != nil {
			return err
		}
		if err := p.validateRoyalty(offer.SellerID, info); err != nil {
			return err
		}
		return p.offers.UpdateRoyalty(offerID, info)
	})
}

// VoidOffer blocks further commits to the offer.
func (p *Protocol) VoidOffer(ctx context.Context, offerID uint64) error {
	return p.run(ctx, "void_offer", nil, func(context.Context) error {
		return p.offers.Void(offerID)
	})
}

// Offer loads an offer.
func (p *Protocol) Offer(id uint64) (*offers.Offer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers.Get(id)
}

func amountAttrs(token common.Address, amount *big.Int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("token", token.Hex())}
	if amount != nil {
		attrs = append(attrs, attribute.String("amount", amount.String()))
	}
	return attrs
}

// Deposit pulls amount of token from the wallet into the account's available
// balance.
func (p *Protocol) Deposit(ctx context.Context, accountID uint64, token, from common.Address, amount, supplied *big.Int) error {
	attrs := append(amountAttrs(token, amount), attribute.Int64("account.id", int64(accountID)))
	err := p.run(ctx, "deposit", attrs, func(ctx context.Context) error {
		if _, err := p.accounts.Get(accountID); err != nil {
			return fmt.Errorf("%w: %v", ledger.ErrInvalidAccount, err)
		}
		return p.ledger.Deposit(ctx, accountID, token, from, amount, supplied)
	})
	if err == nil {
		p.logger.InfoContext(ctx, "funds deposited", slog.Uint64("accountId", accountID), slog.String("token", token.Hex()), slog.String("amount", amount.String()))
	}
	return err
}

// Withdraw pays the account's available funds out to its wallet. Empty lists
// withdraw every balance.
func (p *Protocol) Withdraw(ctx context.Context, accountID uint64, tokenList []common.Address, amounts []*big.Int) error {
	err := p.run(ctx, "withdraw", []attribute.KeyValue{attribute.Int64("account.id", int64(accountID))}, func(ctx context.Context) error {
		acc, err := p.accounts.Get(accountID)
		if err != nil {
			return fmt.Errorf("%w: %v", ledger.ErrInvalidAccount, err)
		}
		if acc.Wallet == (common.Address{}) {
			return ErrNoWallet
		}
		return p.ledger.Withdraw(ctx, accountID, acc.Wallet, tokenList, amounts)
	})
	if err == nil {
		p.logger.InfoContext(ctx, "funds withdrawn", slog.Uint64("accountId", accountID), slog.Int("tokens", len(tokenList)))
	}
	return err
}

// Available returns the account's available balance of token.
func (p *Protocol) Available(accountID uint64, token common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.Available(accountID, token)
}

// Tokens lists the tokens the account holds a balance of.
func (p *Protocol) Tokens(accountID uint64) ([]common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.Tokens(accountID)
}

// Exchange loads an exchange.
func (p *Protocol) Exchange(id uint64) (*exchange.Exchange, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchanges.Get(id)
}

func (p *Protocol) committed(ctx context.Context, operation string, ex *exchange.Exchange) {
	p.metrics.RecordEscrowed(operation, ex.Escrowed())
	p.logger.InfoContext(ctx, "exchange committed",
		slog.Uint64("exchangeId", ex.ID),
		slog.Uint64("offerId", ex.OfferID),
		slog.String("token", ex.Token.Hex()),
		slog.String("amount", ex.Escrowed().String()),
		slog.String("drFeeFunding", ex.DRFeeFunding.String()),
	)
}

// Commit commits a buyer to a seller-created offer.
func (p *Protocol) Commit(ctx context.Context, req encumbrance.CommitRequest) (*exchange.Exchange, error) {
	var ex *exchange.Exchange
	err := p.run(ctx, "commit", []attribute.KeyValue{attribute.Int64("offer.id", int64(req.OfferID))}, func(ctx context.Context) error {
		var err error
		ex, err = p.commits.Commit(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.committed(ctx, "commit", ex)
	return ex, nil
}

// CommitToBuyerOffer commits a seller to a buyer-created offer.
func (p *Protocol) CommitToBuyerOffer(ctx context.Context, req encumbrance.BuyerOfferCommitRequest) (*exchange.Exchange, error) {
	var ex *exchange.Exchange
	err := p.run(ctx, "commit_buyer_offer", []attribute.KeyValue{attribute.Int64("offer.id", int64(req.OfferID))}, func(ctx context.Context) error {
		var err error
		ex, err = p.commits.CommitToBuyerOffer(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.committed(ctx, "commit_buyer_offer", ex)
	return ex, nil
}

// Escalate locks the buyer escalation deposit of an exchange.
func (p *Protocol) Escalate(ctx context.Context, exchangeID uint64, buyer common.Address, supplied *big.Int) (*exchange.Exchange, error) {
	var ex *exchange.Exchange
	err := p.run(ctx, "escalate", []attribute.KeyValue{attribute.Int64("exchange.id", int64(exchangeID))}, func(ctx context.Context) error {
		var err error
		ex, err = p.commits.EncumberEscalation(ctx, exchangeID, buyer, supplied)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.metrics.RecordEscrowed("escalate", ex.EscalationDeposit)
	p.logger.InfoContext(ctx, "exchange escalated", slog.Uint64("exchangeId", ex.ID), slog.String("amount", ex.EscalationDeposit.String()))
	return ex, nil
}

// VoucherTransfer is the ownership signal of a voucher moving from From to To.
// ExchangeID is zero for the first transfer of a pre-minted voucher, which
// names its offer instead. A sale carries a Price, or sets Discover to have
// the price discovered; anything else is an internal transfer.
type VoucherTransfer struct {
	ExchangeID uint64
	OfferID    uint64
	From       common.Address
	To         common.Address
	Price      *big.Int
	Discover   bool
	Supplied   *big.Int
}

// OnVoucherTransfer routes a voucher ownership signal to the commit path for
// pre-minted vouchers, the resale tracker for sales, or a plain holder change.
func (p *Protocol) OnVoucherTransfer(ctx context.Context, t VoucherTransfer) (*exchange.Exchange, error) {
	if t.To == (common.Address{}) || t.From == t.To {
		return nil, ErrInvalidTransfer
	}
	var (
		ex        *exchange.Exchange
		operation string
	)
	attrs := []attribute.KeyValue{attribute.Int64("exchange.id", int64(t.ExchangeID)), attribute.Int64("offer.id", int64(t.OfferID))}
	switch {
	case t.ExchangeID == 0:
		operation = "commit_preminted"
	case t.Price != nil || t.Discover:
		operation = "resale"
	default:
		operation = "transfer"
	}
	err := p.run(ctx, operation, attrs, func(ctx context.Context) error {
		var err error
		switch operation {
		case "commit_preminted":
			ex, err = p.commits.CommitPreminted(ctx, t.OfferID, t.From, t.To)
		case "resale":
			ex, err = p.resales.RecordHop(ctx, resale.HopRequest{ExchangeID: t.ExchangeID, From: t.From, To: t.To, Price: t.Price, Supplied: t.Supplied})
		default:
			ex, err = p.resales.Transfer(t.ExchangeID, t.From, t.To)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	switch operation {
	case "commit_preminted":
		p.committed(ctx, operation, ex)
	case "resale":
		hop := ex.Hops[len(ex.Hops)-1]
		p.metrics.RecordEscrowed(operation, hop.Retained())
		p.logger.InfoContext(ctx, "voucher resold",
			slog.Uint64("exchangeId", ex.ID),
			slog.Int("hop", len(ex.Hops)),
			slog.String("token", ex.Token.Hex()),
			slog.String("amount", hop.Price.String()),
		)
	default:
		p.logger.InfoContext(ctx, "voucher transferred", slog.Uint64("exchangeId", ex.ID), slog.Uint64("buyerId", ex.BuyerID))
	}
	return ex, nil
}

// ResaleChain lists the resale hops of an exchange.
func (p *Protocol) ResaleChain(exchangeID uint64) ([]exchange.Hop, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resales.Chain(exchangeID)
}

// Preview computes the payouts an exchange would settle to under outcome.
func (p *Protocol) Preview(exchangeID uint64, outcome exchange.Outcome, buyerPercentBps uint16) (*settlement.Table, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settle.Preview(exchangeID, outcome, buyerPercentBps)
}

// Release finalizes an exchange and distributes its escrow.
func (p *Protocol) Release(ctx context.Context, req settlement.ReleaseRequest) (*settlement.Table, error) {
	var table *settlement.Table
	attrs := []attribute.KeyValue{
		attribute.Int64("exchange.id", int64(req.ExchangeID)),
		attribute.String("outcome", req.Outcome.String()),
	}
	err := p.run(ctx, "release", attrs, func(ctx context.Context) error {
		var err error
		table, err = p.settle.Release(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	byRole := make(map[string]*big.Int)
	for _, payout := range table.Payouts {
		role := payout.Role.String()
		if _, ok := byRole[role]; !ok {
			byRole[role] = big.NewInt(0)
		}
		byRole[role].Add(byRole[role], payout.Amount)
	}
	p.metrics.RecordRelease(req.Outcome.String(), byRole)
	p.logger.InfoContext(ctx, "exchange released",
		slog.Uint64("exchangeId", table.ExchangeID),
		slog.String("outcome", table.Outcome.String()),
		slog.String("token", table.Token.Hex()),
		slog.String("amount", table.Escrowed.String()),
		slog.Int("payouts", len(table.Payouts)),
	)
	return table, nil
}

// Persist flushes pending state to the backing database and returns the
// state root.
func (p *Protocol) Persist() (common.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Commit()
}

// Root returns the root of the pending state.
func (p *Protocol) Root() common.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Root()
}
