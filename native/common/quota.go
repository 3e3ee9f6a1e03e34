package common

import (
	"errors"
	"math/big"
)

var (
	ErrQuotaPerRequestExceeded = errors.New("quota per-request cap exceeded")
	ErrQuotaTotalExceeded      = errors.New("quota total cap exceeded")
	ErrQuotaWindowClosed       = errors.New("quota window closed")
)

// Quota defines the amount limits enforced for a sponsored allowance. Zero or
// nil caps are unlimited; a zero window bound is open ended.
type Quota struct {
	MaxPerRequest *big.Int
	MaxTotal      *big.Int
	StartTime     int64
	EndTime       int64
}

// QuotaUsage captures the amount consumed against a quota so far.
type QuotaUsage struct {
	Used *big.Int
}

// CheckQuota verifies whether add fits within the quota at time now. The
// returned usage reflects the updated counter when the quota is not exceeded;
// on failure the previous usage is returned unchanged.
func CheckQuota(q Quota, now int64, prev QuotaUsage, add *big.Int) (QuotaUsage, error) {
	if q.StartTime > 0 && now < q.StartTime {
		return prev, ErrQuotaWindowClosed
	}
	if q.EndTime > 0 && now > q.EndTime {
		return prev, ErrQuotaWindowClosed
	}
	amount := CloneBig(add)
	if q.MaxPerRequest != nil && q.MaxPerRequest.Sign() > 0 && amount.Cmp(q.MaxPerRequest) > 0 {
		return prev, ErrQuotaPerRequestExceeded
	}
	used := new(big.Int).Add(CloneBig(prev.Used), amount)
	if q.MaxTotal != nil && q.MaxTotal.Sign() > 0 && used.Cmp(q.MaxTotal) > 0 {
		return prev, ErrQuotaTotalExceeded
	}
	return QuotaUsage{Used: used}, nil
}

// ReleaseQuota returns amount to the quota, never dropping usage below zero.
func ReleaseQuota(prev QuotaUsage, amount *big.Int) QuotaUsage {
	used := new(big.Int).Sub(CloneBig(prev.Used), CloneBig(amount))
	if used.Sign() < 0 {
		used.SetInt64(0)
	}
	return QuotaUsage{Used: used}
}
