package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"exchangefunds/core/events"
	"exchangefunds/native/exchange"
	"exchangefunds/native/fees"
	"exchangefunds/native/ledger"
	"exchangefunds/native/mutualizer"
)

type engineState interface {
	Atomic(fn func() error) error
}

// Dependencies are the modules the engine reads and writes.
type Dependencies struct {
	State       engineState
	Ledger      *ledger.Ledger
	Exchanges   *exchange.Store
	Fees        *fees.Store
	Mutualizers *mutualizer.Directory
}

// Engine finalizes exchanges, releasing their escrow exactly once.
type Engine struct {
	deps    Dependencies
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine returns a settlement engine over deps.
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

// SetNowFunc overrides the time source recorded as the finalization time.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// ReleaseRequest finalizes one exchange under Outcome.
type ReleaseRequest struct {
	ExchangeID      uint64
	Outcome         exchange.Outcome
	BuyerPercentBps uint16
	Actor           common.Address
}

// Preview computes the payout table an exchange would settle to without
// changing state.
func (e *Engine) Preview(exchangeID uint64, outcome exchange.Outcome, buyerPercentBps uint16) (*Table, error) {
	ex, err := e.load(exchangeID)
	if err != nil {
		return nil, err
	}
	if err := Applicable(ex, outcome); err != nil {
		return nil, err
	}
	return Compute(ex, outcome, buyerPercentBps)
}

func (e *Engine) load(exchangeID uint64) (*exchange.Exchange, error) {
	if e.deps.Exchanges == nil {
		return nil, errNotConfigured
	}
	ex, err := e.deps.Exchanges.Get(exchangeID)
	if errors.Is(err, exchange.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchExchange, exchangeID)
	}
	if err != nil {
		return nil, err
	}
	if ex.Finalized() {
		return nil, fmt.Errorf("%w: %d settled as %s", ErrAlreadyFinalized, ex.ID, ex.Outcome)
	}
	return ex, nil
}

// Release finalizes the exchange, credits every payout to the available
// balances of its recipients and returns an unearned sponsored dispute
// resolver fee to its mutualizer. A second release of the same exchange fails
// with ErrAlreadyFinalized.
func (e *Engine) Release(ctx context.Context, req ReleaseRequest) (*Table, error) {
	d := e.deps
	if d.State == nil || d.Ledger == nil || d.Exchanges == nil || d.Fees == nil {
		return nil, errNotConfigured
	}
	var table *Table
	err := d.State.Atomic(func() error {
		ex, err := e.load(req.ExchangeID)
		if err != nil {
			return err
		}
		if err := Applicable(ex, req.Outcome); err != nil {
			return err
		}
		table, err = Compute(ex, req.Outcome, req.BuyerPercentBps)
		if err != nil {
			return err
		}
		var sponsor mutualizer.Mutualizer
		if ex.DRFeeFunding == exchange.FundingMutualizer {
			m, ok := d.Mutualizers.Lookup(ex.Mutualizer)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownMutualizer, ex.Mutualizer.Hex())
			}
			sponsor = m
		}

		credits := make([]ledger.Credit, 0, len(table.Payouts))
		for _, p := range table.Payouts {
			if p.Role == RoleMutualizer {
				continue
			}
			credits = append(credits, ledger.Credit{AccountID: p.AccountID, Token: ex.Token, Amount: p.Amount})
		}
		if err := d.Ledger.CreditFromEscrow(ex.ID, credits, req.Actor); err != nil {
			if errors.Is(err, ledger.ErrEscrowOverdrawn) {
				panic(fmt.Sprintf("%s: %v", invariantViolated, err))
			}
			return err
		}
		protocolFee := table.Amount(RoleProtocol)
		if err := d.Fees.AddCollected(ex.Token, protocolFee); err != nil {
			return err
		}

		ex.State = exchange.StateFinalized
		ex.Outcome = req.Outcome
		ex.BuyerPercentBps = table.BuyerPercentBps
		ex.FinalizedAt = e.nowFn()
		if err := d.Exchanges.Put(ex); err != nil {
			return err
		}

		refund := table.MutualizerRefund()
		if sponsor != nil {
			if err := d.Ledger.TransferFromEscrow(ctx, ex.ID, ex.Token, sponsor.Address(), refund); err != nil {
				if errors.Is(err, ledger.ErrEscrowOverdrawn) {
					panic(fmt.Sprintf("%s: %v", invariantViolated, err))
				}
				return err
			}
			if err := sponsor.ReturnFee(ctx, ex.MutualizerRequest, refund); err != nil {
				return err
			}
		}
		remaining, err := d.Ledger.EscrowedAmount(ex.ID, ex.Token)
		if err != nil {
			return err
		}
		if remaining.Sign() != 0 {
			panic(fmt.Sprintf("%s: exchange %d keeps %s in escrow", invariantViolated, ex.ID, remaining))
		}

		if protocolFee.Sign() > 0 {
			e.emitter.Emit(events.ProtocolFeeCollected{ExchangeID: ex.ID, Token: ex.Token, Amount: protocolFee, Actor: req.Actor})
		}
		if sponsor != nil && refund.Sign() > 0 {
			e.emitter.Emit(events.DRFeeReturned{
				ExchangeID: ex.ID,
				Token:      ex.Token,
				Amount:     new(big.Int).Set(refund),
				Mutualizer: sponsor.Address(),
				Actor:      req.Actor,
			})
		}
		e.emitter.Emit(events.ExchangeFinalized{
			ExchangeID:      ex.ID,
			Outcome:         req.Outcome.String(),
			BuyerPercentBps: table.BuyerPercentBps,
			Actor:           req.Actor,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}
