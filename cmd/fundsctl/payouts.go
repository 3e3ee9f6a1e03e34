package main

import (
	"flag"
	"fmt"
	"io"
	"math/big"
	"text/tabwriter"

	"exchangefunds/native/accounts"
	"exchangefunds/native/exchange"
	"exchangefunds/native/fees"
	"exchangefunds/native/settlement"
)

const (
	offlineSellerID   uint64 = 1
	offlineBuyerID    uint64 = 2
	offlineResolverID uint64 = 3
	offlineAgentID    uint64 = 4
)

func parseAmount(name, raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func runPayouts(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(payoutsCommand, flag.ContinueOnError)
	price := fs.String("price", "100", "Exchange price")
	deposit := fs.String("deposit", "0", "Seller deposit")
	penalty := fs.String("penalty", "0", "Buyer cancellation penalty")
	drFee := fs.String("dr-fee", "0", "Dispute resolver fee")
	feeBps := fs.Uint("fee-bps", 0, "Protocol fee in basis points")
	agentBps := fs.Uint("agent-bps", 0, "Agent fee in basis points")
	escBps := fs.Uint("escalation-bps", 0, "Buyer escalation deposit in basis points of the dispute resolver fee")
	outcomeName := fs.String("outcome", "completed", "Terminal outcome")
	buyerPct := fs.Uint("buyer-percent", 0, "Buyer share in basis points for resolved outcomes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	outcome, ok := exchange.ParseOutcome(*outcomeName)
	if !ok {
		return fmt.Errorf("unknown outcome %q", *outcomeName)
	}
	if *feeBps > 10_000 || *agentBps > 10_000 || *escBps > 10_000 || *buyerPct > 10_000 {
		return fmt.Errorf("basis points must not exceed 10000")
	}
	ex := &exchange.Exchange{
		ID:       1,
		BuyerID:  offlineBuyerID,
		SellerID: offlineSellerID,
		State:    exchange.StateCommitted,
		Fees: fees.Snapshot{
			ProtocolFeeBps:       uint16(*feeBps),
			EscalationDepositBps: uint16(*escBps),
		},
		DRFeeFunding: exchange.FundingSeller,
	}
	var err error
	for _, field := range []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"price", *price, &ex.Price},
		{"deposit", *deposit, &ex.SellerDeposit},
		{"penalty", *penalty, &ex.BuyerCancelPenalty},
		{"dr-fee", *drFee, &ex.DRFee},
	} {
		if *field.dst, err = parseAmount(field.name, field.raw); err != nil {
			return err
		}
	}
	if *agentBps > 0 {
		ex.Fees.AgentID = offlineAgentID
		ex.Fees.AgentFeeBps = uint16(*agentBps)
	}
	if ex.DRFee.Sign() > 0 {
		ex.DisputeResolverID = offlineResolverID
	}
	if outcome.Escalated() {
		ex.Escalated = true
		ex.State = exchange.StateEscalated
		ex.EscalationDeposit = ex.Fees.EscalationDeposit(ex.DRFee)
	}

	table, err := settlement.Compute(ex, outcome, uint16(*buyerPct))
	if err != nil {
		return err
	}
	return printTable(out, table, map[uint64]string{
		offlineSellerID:     "seller",
		offlineBuyerID:      "buyer",
		offlineResolverID:   "dispute resolver",
		offlineAgentID:      "agent",
		accounts.ProtocolID: "protocol",
	})
}

func printTable(out io.Writer, table *settlement.Table, names map[uint64]string) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "exchange %d\toutcome %s\tescrowed %s\n", table.ExchangeID, table.Outcome, table.Escrowed)
	fmt.Fprintln(w, "ROLE\tACCOUNT\tHOP\tAMOUNT")
	for _, p := range table.Payouts {
		account := names[p.AccountID]
		if account == "" {
			account = fmt.Sprintf("#%d", p.AccountID)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.Role, account, p.Hop, p.Amount)
	}
	fmt.Fprintf(w, "total\t\t\t%s\n", table.Total())
	return w.Flush()
}
