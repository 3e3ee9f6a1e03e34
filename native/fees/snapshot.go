package fees

import (
	"math/big"

	nativecommon "exchangefunds/native/common"
	"exchangefunds/native/royalty"
)

// Snapshot freezes the fee parameters of one exchange at commit. Amounts are
// derived on demand from the price of the step being settled.
type Snapshot struct {
	ProtocolFeeBps       uint16
	Flat                 bool
	FlatFee              *big.Int
	AgentID              uint64
	AgentFeeBps          uint16
	Royalty              royalty.Info
	EscalationDepositBps uint16
}

// ProtocolFee returns the protocol fee on price. A flat fee never exceeds the
// price it is charged on.
func (s Snapshot) ProtocolFee(price *big.Int) *big.Int {
	if s.Flat {
		return nativecommon.MinBig(s.FlatFee, price)
	}
	return nativecommon.ApplyBps(price, s.ProtocolFeeBps)
}

// AgentFee returns the agent commission on price.
func (s Snapshot) AgentFee(price *big.Int) *big.Int {
	if s.AgentID == 0 {
		return big.NewInt(0)
	}
	return nativecommon.ApplyBps(price, s.AgentFeeBps)
}

// RoyaltySplit splits the snapshot's royalty schedule against price.
func (s Snapshot) RoyaltySplit(price *big.Int) []royalty.Payment {
	return royalty.Split(s.Royalty, price)
}

// EscalationDeposit returns the buyer escalation deposit owed for drFee.
func (s Snapshot) EscalationDeposit(drFee *big.Int) *big.Int {
	return nativecommon.ApplyBps(drFee, s.EscalationDepositBps)
}
