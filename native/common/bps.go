package common

import (
	"errors"
	"math/big"
)

// MaxBps is the basis-point denominator used for every fee, royalty and
// dispute split.
const MaxBps = 10_000

var ErrBpsOutOfRange = errors.New("bps out of range")

var maxBpsBig = big.NewInt(MaxBps)

// ValidateBps reports ErrBpsOutOfRange when bps exceeds MaxBps.
func ValidateBps(bps uint16) error {
	if bps > MaxBps {
		return ErrBpsOutOfRange
	}
	return nil
}

// ApplyBps returns floor(amount * bps / 10000). A nil or non-positive amount
// yields zero.
func ApplyBps(amount *big.Int, bps uint16) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	return out.Quo(out, maxBpsBig)
}

// SplitBps divides total between two parties. The first receives the floored
// bps share and the second the remainder, so the parts always sum to total.
func SplitBps(total *big.Int, firstBps uint16) (first, second *big.Int) {
	if total == nil || total.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	if firstBps > MaxBps {
		firstBps = MaxBps
	}
	first = ApplyBps(total, firstBps)
	second = new(big.Int).Sub(total, first)
	return first, second
}

// Complement returns MaxBps - bps, clamped at zero.
func Complement(bps uint16) uint16 {
	if bps >= MaxBps {
		return 0
	}
	return MaxBps - bps
}

// CloneBig returns a copy of v, treating nil as zero.
func CloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// MinBig returns the smaller of a and b. Nil values count as zero.
func MinBig(a, b *big.Int) *big.Int {
	a, b = CloneBig(a), CloneBig(b)
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
