package mutualizer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	nativecommon "exchangefunds/native/common"
)

var (
	ErrUnknownRequest  = errors.New("mutualizer: unknown fee request")
	ErrAlreadyReturned = errors.New("mutualizer: fee request already closed")
	ErrReturnTooLarge  = errors.New("mutualizer: returned amount exceeds sponsored fee")
	ErrInvalidTerms    = errors.New("mutualizer: invalid agreement")
	errNilState        = errors.New("mutualizer: state not configured")
)

// requestNamespace scopes deterministic request ids.
var requestNamespace = uuid.MustParse("8f1c7d3e-5b2a-4e61-9c0d-2a7b6e4f1d93")

// Agreement is a seller's pre-paid sponsorship terms.
type Agreement struct {
	SellerID          uint64
	Token             common.Address
	MaxPerTransaction *big.Int
	MaxTotal          *big.Int
	StartTime         int64
	EndTime           int64
	Voided            bool
}

type storedAgreement struct {
	Token             common.Address
	MaxPerTransaction *big.Int
	MaxTotal          *big.Int
	StartTime         uint64
	EndTime           uint64
	Voided            bool
	Used              *big.Int
}

type storedRequest struct {
	ExchangeID uint64
	SellerID   uint64
	Token      common.Address
	Amount     *big.Int
	Closed     bool
}

type poolState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Pool is an in-process mutualizer whose funds sit at its address. Agreement
// usage is kept in protocol state so it rolls back with the triggering call.
type Pool struct {
	state   poolState
	address common.Address
	nowFn   func() int64
}

// NewPool returns a pool sponsoring fees from address.
func NewPool(state poolState, address common.Address) *Pool {
	return &Pool{
		state:   state,
		address: address,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source used for agreement windows.
func (p *Pool) SetNowFunc(now func() int64) {
	if now == nil {
		p.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	p.nowFn = now
}

// Address implements Mutualizer.
func (p *Pool) Address() common.Address { return p.address }

func (p *Pool) prefix() []byte {
	return append([]byte("mutualizer/"), p.address.Bytes()...)
}

func (p *Pool) agreementKey(sellerID uint64) []byte {
	return strconv.AppendUint(append(p.prefix(), "/agreement/"...), sellerID, 10)
}

func (p *Pool) requestKey(id uuid.UUID) []byte {
	return append(append(p.prefix(), "/request/"...), id[:]...)
}

func unix(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// SetAgreement stores or replaces the seller's agreement, keeping its usage.
func (p *Pool) SetAgreement(a Agreement) error {
	if p == nil || p.state == nil {
		return errNilState
	}
	if a.SellerID == 0 {
		return fmt.Errorf("%w: seller id required", ErrInvalidTerms)
	}
	if a.EndTime > 0 && a.EndTime < a.StartTime {
		return fmt.Errorf("%w: window ends before it starts", ErrInvalidTerms)
	}
	for _, v := range []*big.Int{a.MaxPerTransaction, a.MaxTotal} {
		if v != nil && v.Sign() < 0 {
			return fmt.Errorf("%w: caps must not be negative", ErrInvalidTerms)
		}
	}
	_, used, err := p.load(a.SellerID)
	if err != nil {
		return err
	}
	return p.state.KVPut(p.agreementKey(a.SellerID), storedAgreement{
		Token:             a.Token,
		MaxPerTransaction: nativecommon.CloneBig(a.MaxPerTransaction),
		MaxTotal:          nativecommon.CloneBig(a.MaxTotal),
		StartTime:         unix(a.StartTime),
		EndTime:           unix(a.EndTime),
		Voided:            a.Voided,
		Used:              used,
	})
}

func (p *Pool) load(sellerID uint64) (*storedAgreement, *big.Int, error) {
	if p == nil || p.state == nil {
		return nil, nil, errNilState
	}
	var stored storedAgreement
	ok, err := p.state.KVGet(p.agreementKey(sellerID), &stored)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, big.NewInt(0), nil
	}
	return &stored, nativecommon.CloneBig(stored.Used), nil
}

// Usage returns the amount currently consumed under the seller's agreement.
func (p *Pool) Usage(sellerID uint64) (*big.Int, error) {
	_, used, err := p.load(sellerID)
	return used, err
}

// RequestFee implements Mutualizer. Requests outside the agreement's token,
// window or caps are denied.
func (p *Pool) RequestFee(_ context.Context, req FeeRequest) (Grant, error) {
	stored, used, err := p.load(req.SellerID)
	if err != nil {
		return Grant{}, err
	}
	switch {
	case stored == nil:
		return Grant{Reason: "no agreement"}, nil
	case stored.Voided:
		return Grant{Reason: "agreement voided"}, nil
	case stored.Token != req.Token:
		return Grant{Reason: "token not covered"}, nil
	}
	quota := nativecommon.Quota{
		MaxPerRequest: stored.MaxPerTransaction,
		MaxTotal:      stored.MaxTotal,
		StartTime:     int64(stored.StartTime),
		EndTime:       int64(stored.EndTime),
	}
	usage, err := nativecommon.CheckQuota(quota, p.nowFn(), nativecommon.QuotaUsage{Used: used}, req.Amount)
	if err != nil {
		return Grant{Reason: err.Error()}, nil
	}
	id := uuid.NewSHA1(requestNamespace, append(p.address.Bytes(), strconv.FormatUint(req.ExchangeID, 10)...))
	var existing storedRequest
	ok, err := p.state.KVGet(p.requestKey(id), &existing)
	if err != nil {
		return Grant{}, err
	}
	if ok {
		return Grant{Reason: "exchange already sponsored"}, nil
	}
	stored.Used = usage.Used
	if err := p.state.KVPut(p.agreementKey(req.SellerID), stored); err != nil {
		return Grant{}, err
	}
	record := storedRequest{
		ExchangeID: req.ExchangeID,
		SellerID:   req.SellerID,
		Token:      req.Token,
		Amount:     nativecommon.CloneBig(req.Amount),
	}
	if err := p.state.KVPut(p.requestKey(id), record); err != nil {
		return Grant{}, err
	}
	return Grant{Granted: true, RequestID: id}, nil
}

// ReturnFee implements Mutualizer. A returned amount frees that much of the
// seller's total cap.
func (p *Pool) ReturnFee(_ context.Context, requestID uuid.UUID, amount *big.Int) error {
	if p == nil || p.state == nil {
		return errNilState
	}
	var record storedRequest
	ok, err := p.state.KVGet(p.requestKey(requestID), &record)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	if record.Closed {
		return fmt.Errorf("%w: %s", ErrAlreadyReturned, requestID)
	}
	returned := nativecommon.CloneBig(amount)
	if returned.Cmp(nativecommon.CloneBig(record.Amount)) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrReturnTooLarge, returned, record.Amount)
	}
	record.Closed = true
	if err := p.state.KVPut(p.requestKey(requestID), record); err != nil {
		return err
	}
	stored, used, err := p.load(record.SellerID)
	if err != nil {
		return err
	}
	if stored == nil || returned.Sign() == 0 {
		return nil
	}
	stored.Used = nativecommon.ReleaseQuota(nativecommon.QuotaUsage{Used: used}, returned).Used
	return p.state.KVPut(p.agreementKey(record.SellerID), stored)
}
