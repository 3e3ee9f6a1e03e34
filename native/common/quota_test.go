package common

import (
	"errors"
	"math/big"
	"testing"
)

func TestCheckQuotaCaps(t *testing.T) {
	q := Quota{MaxPerRequest: big.NewInt(50), MaxTotal: big.NewInt(120), StartTime: 10, EndTime: 100}

	usage, err := CheckQuota(q, 20, QuotaUsage{}, big.NewInt(50))
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	usage, err = CheckQuota(q, 20, usage, big.NewInt(50))
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if usage.Used.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected usage 100, got %s", usage.Used)
	}
	if _, err := CheckQuota(q, 20, usage, big.NewInt(51)); !errors.Is(err, ErrQuotaPerRequestExceeded) {
		t.Fatalf("expected per-request cap, got %v", err)
	}
	same, err := CheckQuota(q, 20, usage, big.NewInt(30))
	if !errors.Is(err, ErrQuotaTotalExceeded) {
		t.Fatalf("expected total cap, got %v", err)
	}
	if same.Used.Cmp(usage.Used) != 0 {
		t.Fatalf("failed check must not change usage")
	}
	if _, err := CheckQuota(q, 101, usage, big.NewInt(1)); !errors.Is(err, ErrQuotaWindowClosed) {
		t.Fatalf("expected closed window, got %v", err)
	}
	if _, err := CheckQuota(q, 5, QuotaUsage{}, big.NewInt(1)); !errors.Is(err, ErrQuotaWindowClosed) {
		t.Fatalf("expected window not yet open, got %v", err)
	}

	released := ReleaseQuota(usage, big.NewInt(500))
	if released.Used.Sign() != 0 {
		t.Fatalf("release must clamp at zero, got %s", released.Used)
	}
}
