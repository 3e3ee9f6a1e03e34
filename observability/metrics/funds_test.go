package metrics

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestFundsMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFunds(reg)

	m.Observe("release", 10*time.Millisecond, nil)
	m.Observe("release", time.Millisecond, errors.New("already finalized"))
	m.Observe("", time.Millisecond, nil)
	m.RecordEscrowed("commit", big.NewInt(110))
	m.RecordRelease("completed", map[string]*big.Int{"seller": big.NewInt(100), "protocol": big.NewInt(10)})

	if got := testutil.ToFloat64(m.operations.WithLabelValues("release", "error")); got != 1 {
		t.Fatalf("expected one failed release, got %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("unknown", "success")); got != 1 {
		t.Fatalf("expected unnamed operation to be labelled unknown, got %v", got)
	}
	if got := testutil.ToFloat64(m.escrowed.WithLabelValues("commit")); got != 110 {
		t.Fatalf("unexpected escrowed total %v", got)
	}
	if got := testutil.ToFloat64(m.released.WithLabelValues("seller")); got != 100 {
		t.Fatalf("unexpected seller release %v", got)
	}
	if got := testutil.ToFloat64(m.finalized.WithLabelValues("completed")); got != 1 {
		t.Fatalf("unexpected finalized count %v", got)
	}
}

func TestNilFundsMetricsIsNoop(t *testing.T) {
	var m *FundsMetrics
	m.Observe("commit", time.Second, nil)
	m.RecordEscrowed("commit", big.NewInt(1))
	m.RecordRelease("completed", nil)
}
