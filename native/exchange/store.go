package exchange

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	nativecommon "exchangefunds/native/common"
	"exchangefunds/native/fees"
	"exchangefunds/native/royalty"
)

const sequenceName = "exchange"

var (
	ErrNotFound = errors.New("exchange: not found")
	errNilState = errors.New("exchange: state not configured")
)

var exchangePrefix = []byte("exchange/record/")

type storedHop struct {
	ResellerID  uint64
	BuyerID     uint64
	Price       *big.Int
	ProtocolFee *big.Int
	Royalties   []royalty.Payment
	Immediate   *big.Int
	Side        uint8
}

type storedExchange struct {
	OfferID            uint64
	BuyerID            uint64
	SellerID           uint64
	Token              common.Address
	Price              *big.Int
	SellerDeposit      *big.Int
	BuyerCancelPenalty *big.Int
	DRFee              *big.Int
	EscalationDeposit  *big.Int
	DisputeResolverID  uint64
	Fees               fees.Snapshot
	DRFeeFunding       uint8
	MutualizerRequest  [16]byte
	Mutualizer         common.Address
	Preminted          bool
	Escalated          bool
	State              uint8
	Outcome            uint8
	BuyerPercentBps    uint16
	Hops               []storedHop
	CommittedAt        uint64
	FinalizedAt        uint64
}

type storeState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	NextID(sequence string) (uint64, error)
	PeekID(sequence string) (uint64, error)
}

// Store persists exchanges in state.
type Store struct {
	state storeState
}

// NewStore returns a store bound to state.
func NewStore(state storeState) *Store {
	return &Store{state: state}
}

func exchangeKey(id uint64) []byte {
	return strconv.AppendUint(append([]byte(nil), exchangePrefix...), id, 10)
}

func unix(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func cloneHop(h Hop) Hop {
	payments := make([]royalty.Payment, len(h.Royalties))
	for i, p := range h.Royalties {
		payments[i] = royalty.Payment{Recipient: p.Recipient, Amount: nativecommon.CloneBig(p.Amount)}
	}
	return Hop{
		ResellerID:  h.ResellerID,
		BuyerID:     h.BuyerID,
		Price:       nativecommon.CloneBig(h.Price),
		ProtocolFee: nativecommon.CloneBig(h.ProtocolFee),
		Royalties:   payments,
		Immediate:   nativecommon.CloneBig(h.Immediate),
		Side:        h.Side,
	}
}

func toStored(e *Exchange) storedExchange {
	stored := storedExchange{
		OfferID:            e.OfferID,
		BuyerID:            e.BuyerID,
		SellerID:           e.SellerID,
		Token:              e.Token,
		Price:              nativecommon.CloneBig(e.Price),
		SellerDeposit:      nativecommon.CloneBig(e.SellerDeposit),
		BuyerCancelPenalty: nativecommon.CloneBig(e.BuyerCancelPenalty),
		DRFee:              nativecommon.CloneBig(e.DRFee),
		EscalationDeposit:  nativecommon.CloneBig(e.EscalationDeposit),
		DisputeResolverID:  e.DisputeResolverID,
		Fees:               e.Fees,
		DRFeeFunding:       uint8(e.DRFeeFunding),
		MutualizerRequest:  e.MutualizerRequest,
		Mutualizer:         e.Mutualizer,
		Preminted:          e.Preminted,
		Escalated:          e.Escalated,
		State:              uint8(e.State),
		Outcome:            uint8(e.Outcome),
		BuyerPercentBps:    e.BuyerPercentBps,
		CommittedAt:        unix(e.CommittedAt),
		FinalizedAt:        unix(e.FinalizedAt),
	}
	if stored.Fees.FlatFee == nil {
		stored.Fees.FlatFee = big.NewInt(0)
	}
	for _, hop := range e.Hops {
		h := cloneHop(hop)
		stored.Hops = append(stored.Hops, storedHop{
			ResellerID:  h.ResellerID,
			BuyerID:     h.BuyerID,
			Price:       h.Price,
			ProtocolFee: h.ProtocolFee,
			Royalties:   h.Royalties,
			Immediate:   h.Immediate,
			Side:        uint8(h.Side),
		})
	}
	return stored
}

func fromStored(id uint64, s *storedExchange) *Exchange {
	e := &Exchange{
		ID:                 id,
		OfferID:            s.OfferID,
		BuyerID:            s.BuyerID,
		SellerID:           s.SellerID,
		Token:              s.Token,
		Price:              nativecommon.CloneBig(s.Price),
		SellerDeposit:      nativecommon.CloneBig(s.SellerDeposit),
		BuyerCancelPenalty: nativecommon.CloneBig(s.BuyerCancelPenalty),
		DRFee:              nativecommon.CloneBig(s.DRFee),
		EscalationDeposit:  nativecommon.CloneBig(s.EscalationDeposit),
		DisputeResolverID:  s.DisputeResolverID,
		Fees:               s.Fees,
		DRFeeFunding:       Funding(s.DRFeeFunding),
		MutualizerRequest:  uuid.UUID(s.MutualizerRequest),
		Mutualizer:         s.Mutualizer,
		Preminted:          s.Preminted,
		Escalated:          s.Escalated,
		State:              State(s.State),
		Outcome:            Outcome(s.Outcome),
		BuyerPercentBps:    s.BuyerPercentBps,
		CommittedAt:        int64(s.CommittedAt),
		FinalizedAt:        int64(s.FinalizedAt),
	}
	for _, h := range s.Hops {
		e.Hops = append(e.Hops, Hop{
			ResellerID:  h.ResellerID,
			BuyerID:     h.BuyerID,
			Price:       h.Price,
			ProtocolFee: h.ProtocolFee,
			Royalties:   h.Royalties,
			Immediate:   h.Immediate,
			Side:        Side(h.Side),
		})
	}
	return e
}

// NextID returns the id the next Create call will assign.
func (s *Store) NextID() (uint64, error) {
	if s == nil || s.state == nil {
		return 0, errNilState
	}
	return s.state.PeekID(sequenceName)
}

// Create assigns the next exchange id and stores e.
func (s *Store) Create(e *Exchange) (uint64, error) {
	if s == nil || s.state == nil {
		return 0, errNilState
	}
	if e == nil {
		return 0, fmt.Errorf("exchange: exchange must not be nil")
	}
	id, err := s.state.NextID(sequenceName)
	if err != nil {
		return 0, err
	}
	e.ID = id
	if e.State == 0 {
		e.State = StateCommitted
	}
	if err := s.Put(e); err != nil {
		return 0, err
	}
	return id, nil
}

// Get loads the exchange with id.
func (s *Store) Get(id uint64) (*Exchange, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	var stored storedExchange
	ok, err := s.state.KVGet(exchangeKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return fromStored(id, &stored), nil
}

// Put stores e under its id.
func (s *Store) Put(e *Exchange) error {
	if s == nil || s.state == nil {
		return errNilState
	}
	if e == nil || e.ID == 0 {
		return fmt.Errorf("exchange: exchange id required")
	}
	return s.state.KVPut(exchangeKey(e.ID), toStored(e))
}
