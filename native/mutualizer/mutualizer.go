package mutualizer

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// FeeRequest asks a mutualizer to sponsor an exchange's dispute resolver fee.
type FeeRequest struct {
	ExchangeID uint64
	SellerID   uint64
	Token      common.Address
	Amount     *big.Int
}

// Grant is the mutualizer's answer to a FeeRequest. A denial is not an error;
// callers fall back to the seller's own funds.
type Grant struct {
	Granted   bool
	RequestID uuid.UUID
	Reason    string
}

// Mutualizer is the dispute resolver fee sponsorship collaborator. A granted
// fee is pulled from Address by the caller. ReturnFee closes the request,
// handing back amount (zero when the fee was spent).
type Mutualizer interface {
	Address() common.Address
	RequestFee(ctx context.Context, req FeeRequest) (Grant, error)
	ReturnFee(ctx context.Context, requestID uuid.UUID, amount *big.Int) error
}

// Directory resolves mutualizers by address.
type Directory struct {
	mu    sync.RWMutex
	byKey map[common.Address]Mutualizer
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{byKey: make(map[common.Address]Mutualizer)}
}

// Register adds m under its address, replacing any previous entry.
func (d *Directory) Register(m Mutualizer) {
	if d == nil || m == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byKey[m.Address()] = m
}

// Lookup returns the mutualizer registered at addr.
func (d *Directory) Lookup(addr common.Address) (Mutualizer, bool) {
	if d == nil {
		return nil, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.byKey[addr]
	return m, ok
}
