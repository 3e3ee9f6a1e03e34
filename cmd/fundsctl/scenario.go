package main

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"exchangefunds/core"
	"exchangefunds/native/accounts"
	"exchangefunds/native/encumbrance"
	"exchangefunds/native/exchange"
	"exchangefunds/native/ledger"
	"exchangefunds/native/mutualizer"
	"exchangefunds/native/offers"
	"exchangefunds/native/royalty"
	"exchangefunds/native/settlement"
)

// Scenario is a scripted sequence of protocol operations.
type Scenario struct {
	Accounts []AccountSpec `yaml:"accounts"`
	Mints    []MintSpec    `yaml:"mints"`
	Pools    []PoolSpec    `yaml:"mutualizers"`
	Steps    []Step        `yaml:"steps"`
}

type AccountSpec struct {
	Name    string            `yaml:"name"`
	Kind    string            `yaml:"kind"`
	Wallet  string            `yaml:"wallet"`
	FeeBps  uint16            `yaml:"feeBps"`
	DRFees  map[string]string `yaml:"drFees"`
	Royalty []RecipientSpec   `yaml:"royaltyRecipients"`
}

type RecipientSpec struct {
	Account string `yaml:"account"`
	MinBps  uint16 `yaml:"minBps"`
}

type MintSpec struct {
	Wallet string `yaml:"wallet"`
	Token  string `yaml:"token"`
	Amount string `yaml:"amount"`
}

// PoolSpec declares a mutualizer pool and the sellers it sponsors.
type PoolSpec struct {
	Address string   `yaml:"address"`
	Sellers []string `yaml:"sellers"`
	Token   string   `yaml:"token"`
	MaxFee  string   `yaml:"maxPerTransaction"`
	MaxUsed string   `yaml:"maxTotal"`
}

// Step is one operation. Op selects which of the remaining fields apply.
type Step struct {
	Op         string            `yaml:"op"`
	Name       string            `yaml:"name"`
	Account    string            `yaml:"account"`
	Token      string            `yaml:"token"`
	Amount     string            `yaml:"amount"`
	Seller     string            `yaml:"seller"`
	Price      string            `yaml:"price"`
	Deposit    string            `yaml:"deposit"`
	Penalty    string            `yaml:"penalty"`
	Quantity   uint64            `yaml:"quantity"`
	Resolver   string            `yaml:"resolver"`
	DRFee      string            `yaml:"drFee"`
	Agent      string            `yaml:"agent"`
	Mutualizer string            `yaml:"mutualizer"`
	Royalties  map[string]uint16 `yaml:"royalties"`
	Offer      string            `yaml:"offer"`
	Exchange   string            `yaml:"exchange"`
	From       string            `yaml:"from"`
	To         string            `yaml:"to"`
	Outcome    string            `yaml:"outcome"`
	BuyerPct   uint16            `yaml:"buyerPercent"`
	ExpectErr  bool              `yaml:"expectError"`
}

// LoadScenario decodes a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &sc, nil
}

var kinds = map[string]accounts.Kind{
	"seller":            accounts.KindSeller,
	"buyer":             accounts.KindBuyer,
	"agent":             accounts.KindAgent,
	"dispute_resolver":  accounts.KindDisputeResolver,
	"royalty_recipient": accounts.KindRoyaltyRecipient,
}

// runner executes a scenario and keeps the names it binds.
type runner struct {
	protocol  *core.Protocol
	newPool   func(common.Address) *mutualizer.Pool
	out       io.Writer
	accounts  map[string]uint64
	wallets   map[string]common.Address
	offers    map[string]uint64
	exchanges map[string]uint64
}

func newRunner(p *core.Protocol, newPool func(common.Address) *mutualizer.Pool, out io.Writer) *runner {
	return &runner{
		protocol:  p,
		newPool:   newPool,
		out:       out,
		accounts:  make(map[string]uint64),
		wallets:   make(map[string]common.Address),
		offers:    make(map[string]uint64),
		exchanges: make(map[string]uint64),
	}
}

func amount(raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}

func address(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

// wallet resolves a declared account name or a hex address.
func (r *runner) wallet(ref string) (common.Address, error) {
	if w, ok := r.wallets[ref]; ok {
		return w, nil
	}
	return address(ref)
}

func (r *runner) account(ref string) (uint64, error) {
	if ref == "protocol" {
		return accounts.ProtocolID, nil
	}
	id, ok := r.accounts[ref]
	if !ok {
		return 0, fmt.Errorf("unknown account %q", ref)
	}
	return id, nil
}

func (r *runner) setup(ctx context.Context, sc *Scenario) error {
	for _, spec := range sc.Accounts {
		kind, ok := kinds[spec.Kind]
		if !ok {
			return fmt.Errorf("account %s: unknown kind %q", spec.Name, spec.Kind)
		}
		wallet, err := address(spec.Wallet)
		if err != nil {
			return fmt.Errorf("account %s: %w", spec.Name, err)
		}
		acc := &accounts.Account{Kind: kind, Wallet: wallet, FeeBps: spec.FeeBps}
		for token, raw := range spec.DRFees {
			addr, err := address(token)
			if err != nil {
				return err
			}
			fee, err := amount(raw)
			if err != nil {
				return err
			}
			acc.DisputeResolverFees = append(acc.DisputeResolverFees, accounts.TokenFee{Token: addr, Amount: fee})
		}
		id, err := r.protocol.RegisterAccount(ctx, acc)
		if err != nil {
			return fmt.Errorf("account %s: %w", spec.Name, err)
		}
		r.accounts[spec.Name] = id
		r.wallets[spec.Name] = wallet
	}
	for _, spec := range sc.Accounts {
		if len(spec.Royalty) == 0 {
			continue
		}
		recipients := make([]royalty.Recipient, 0, len(spec.Royalty))
		for _, rec := range spec.Royalty {
			id, err := r.account(rec.Account)
			if err != nil {
				return err
			}
			recipients = append(recipients, royalty.Recipient{AccountID: id, MinBps: rec.MinBps, ExternalID: rec.Account})
		}
		if err := r.protocol.AddRoyaltyRecipients(ctx, r.accounts[spec.Name], recipients); err != nil {
			return fmt.Errorf("royalty recipients of %s: %w", spec.Name, err)
		}
	}
	if err := r.agreements(sc); err != nil {
		return err
	}
	for _, m := range sc.Mints {
		if err := r.mint(m); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) mint(m MintSpec) error {
	bank := r.protocol.Bank()
	if bank == nil {
		return fmt.Errorf("mint requires the in-process token bank")
	}
	wallet, err := r.wallet(m.Wallet)
	if err != nil {
		return err
	}
	token, err := address(m.Token)
	if err != nil {
		return err
	}
	value, err := amount(m.Amount)
	if err != nil {
		return err
	}
	return bank.Mint(token, wallet, value)
}

func (r *runner) run(ctx context.Context, sc *Scenario) error {
	if err := r.setup(ctx, sc); err != nil {
		return err
	}
	for i, step := range sc.Steps {
		err := r.step(ctx, step)
		switch {
		case err != nil && step.ExpectErr:
			fmt.Fprintf(r.out, "step %d %s: rejected as expected: %v\n", i+1, step.Op, err)
		case err != nil:
			return fmt.Errorf("step %d %s: %w", i+1, step.Op, err)
		case step.ExpectErr:
			return fmt.Errorf("step %d %s: expected an error", i+1, step.Op)
		}
	}
	return nil
}

func (r *runner) step(ctx context.Context, s Step) error {
	switch s.Op {
	case "deposit":
		id, err := r.account(s.Account)
		if err != nil {
			return err
		}
		token, err := address(s.Token)
		if err != nil {
			return err
		}
		value, err := amount(s.Amount)
		if err != nil {
			return err
		}
		var supplied *big.Int
		if ledger.IsNative(token) {
			supplied = value
		}
		return r.protocol.Deposit(ctx, id, token, r.wallets[s.Account], value, supplied)
	case "offer":
		return r.createOffer(ctx, s)
	case "commit":
		buyer, err := r.wallet(s.To)
		if err != nil {
			return err
		}
		supplied, err := amount(s.Amount)
		if err != nil {
			return err
		}
		ex, err := r.protocol.Commit(ctx, encumbrance.CommitRequest{OfferID: r.offers[s.Offer], Buyer: buyer, Supplied: supplied})
		if err != nil {
			return err
		}
		r.exchanges[s.Name] = ex.ID
		fmt.Fprintf(r.out, "exchange %s committed: id %d escrowed %s\n", s.Name, ex.ID, ex.Escrowed())
		return nil
	case "transfer", "resale":
		from, err := r.wallet(s.From)
		if err != nil {
			return err
		}
		to, err := r.wallet(s.To)
		if err != nil {
			return err
		}
		price, err := amount(s.Price)
		if err != nil {
			return err
		}
		supplied, err := amount(s.Amount)
		if err != nil {
			return err
		}
		t := core.VoucherTransfer{ExchangeID: r.exchanges[s.Exchange], From: from, To: to, Price: price, Supplied: supplied}
		if t.ExchangeID == 0 {
			t.OfferID = r.offers[s.Offer]
		}
		ex, err := r.protocol.OnVoucherTransfer(ctx, t)
		if err != nil {
			return err
		}
		if s.Name != "" {
			r.exchanges[s.Name] = ex.ID
		}
		return nil
	case "escalate":
		buyer, err := r.wallet(s.From)
		if err != nil {
			return err
		}
		supplied, err := amount(s.Amount)
		if err != nil {
			return err
		}
		_, err = r.protocol.Escalate(ctx, r.exchanges[s.Exchange], buyer, supplied)
		return err
	case "release":
		outcome, ok := exchange.ParseOutcome(s.Outcome)
		if !ok {
			return fmt.Errorf("unknown outcome %q", s.Outcome)
		}
		table, err := r.protocol.Release(ctx, settlement.ReleaseRequest{
			ExchangeID:      r.exchanges[s.Exchange],
			Outcome:         outcome,
			BuyerPercentBps: s.BuyerPct,
		})
		if err != nil {
			return err
		}
		names := make(map[uint64]string, len(r.accounts))
		for name, id := range r.accounts {
			names[id] = name
		}
		names[accounts.ProtocolID] = "protocol"
		return printTable(r.out, table, names)
	case "withdraw":
		id, err := r.account(s.Account)
		if err != nil {
			return err
		}
		return r.protocol.Withdraw(ctx, id, nil, nil)
	case "void":
		return r.protocol.VoidOffer(ctx, r.offers[s.Offer])
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
}

func (r *runner) createOffer(ctx context.Context, s Step) error {
	seller, err := r.account(s.Seller)
	if err != nil {
		return err
	}
	token, err := address(s.Token)
	if err != nil {
		return err
	}
	o := &offers.Offer{Creator: offers.CreatorSeller, SellerID: seller, Token: token, Quantity: s.Quantity}
	if o.Quantity == 0 {
		o.Quantity = 1
	}
	for _, field := range []struct {
		raw string
		dst **big.Int
	}{
		{s.Price, &o.Price},
		{s.Deposit, &o.SellerDeposit},
		{s.Penalty, &o.BuyerCancelPenalty},
		{s.DRFee, &o.DRFee},
	} {
		if *field.dst, err = amount(field.raw); err != nil {
			return err
		}
	}
	if s.Resolver != "" {
		if o.DisputeResolverID, err = r.account(s.Resolver); err != nil {
			return err
		}
	}
	if s.Agent != "" {
		if o.AgentID, err = r.account(s.Agent); err != nil {
			return err
		}
	}
	if s.Mutualizer != "" {
		if o.Mutualizer, err = address(s.Mutualizer); err != nil {
			return err
		}
	}
	if len(s.Royalties) > 0 {
		var info royalty.Info
		for name, bps := range s.Royalties {
			id, err := r.account(name)
			if err != nil {
				return err
			}
			info.Recipients = append(info.Recipients, id)
			info.Bps = append(info.Bps, bps)
		}
		o.Royalties = []royalty.Info{info}
	}
	id, err := r.protocol.CreateOffer(ctx, o)
	if err != nil {
		return err
	}
	r.offers[s.Name] = id
	return nil
}

// agreements builds the scenario's mutualizer pools once accounts are known.
func (r *runner) agreements(sc *Scenario) error {
	for _, spec := range sc.Pools {
		addr, err := address(spec.Address)
		if err != nil {
			return err
		}
		token, err := address(spec.Token)
		if err != nil {
			return err
		}
		perTx, err := amount(spec.MaxFee)
		if err != nil {
			return err
		}
		total, err := amount(spec.MaxUsed)
		if err != nil {
			return err
		}
		pool := r.newPool(addr)
		for _, seller := range spec.Sellers {
			id, err := r.account(seller)
			if err != nil {
				return err
			}
			if err := pool.SetAgreement(mutualizer.Agreement{SellerID: id, Token: token, MaxPerTransaction: perTx, MaxTotal: total}); err != nil {
				return err
			}
		}
		r.protocol.RegisterMutualizer(pool)
	}
	return nil
}
