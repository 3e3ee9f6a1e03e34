package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestFundsReleasedAttributes(t *testing.T) {
	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	evt := FundsReleased{ExchangeID: 4, AccountID: 9, Token: token, Amount: big.NewInt(61)}.Event()
	if evt.Type != TypeFundsReleased {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	if evt.Attr("exchangeId") != "4" || evt.Attr("accountId") != "9" || evt.Attr("amount") != "61" {
		t.Fatalf("unexpected attributes: %v", evt.Attributes)
	}
	if evt.Attr("token") != token.Hex() {
		t.Fatalf("unexpected token attribute %s", evt.Attr("token"))
	}
}

func TestNilAmountFormatsAsZero(t *testing.T) {
	evt := ProtocolFeeCollected{ExchangeID: 1}.Event()
	if evt.Attr("amount") != "0" {
		t.Fatalf("expected zero amount, got %q", evt.Attr("amount"))
	}
}

func TestBufferFlushAndDiscard(t *testing.T) {
	recorder := &Recorder{}
	buffer := NewBuffer(recorder)

	buffer.Emit(FundsDeposited{AccountID: 1, Amount: big.NewInt(5)})
	buffer.Emit(nil)
	if buffer.Pending() != 1 {
		t.Fatalf("expected one pending event, got %d", buffer.Pending())
	}
	if len(recorder.Events) != 0 {
		t.Fatalf("events must not be forwarded before flush")
	}
	buffer.Flush()
	if len(recorder.OfType(TypeFundsDeposited)) != 1 {
		t.Fatalf("expected flushed deposit event")
	}

	buffer.Emit(FundsWithdrawn{AccountID: 1, Amount: big.NewInt(5)})
	buffer.Discard()
	buffer.Flush()
	if len(recorder.OfType(TypeFundsWithdrawn)) != 0 {
		t.Fatalf("discarded events must not be forwarded")
	}
}
