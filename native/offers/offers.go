package offers

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "exchangefunds/native/common"
	"exchangefunds/native/royalty"
)

const sequenceName = "offer"

var (
	ErrOfferNotFound = errors.New("offers: offer not found")
	ErrInvalidOffer  = errors.New("offers: invalid offer")
	ErrVoided        = errors.New("offers: offer voided")
	ErrNotYetValid   = errors.New("offers: offer not yet valid")
	ErrExpired       = errors.New("offers: offer expired")
	ErrSoldOut       = errors.New("offers: no quantity available")
	errNilState      = errors.New("offers: state not configured")
)

var offerPrefix = []byte("offers/record/")

// Creator identifies which side created the offer.
type Creator uint8

const (
	CreatorSeller Creator = iota
	CreatorBuyer
)

func (c Creator) String() string {
	if c == CreatorBuyer {
		return "buyer"
	}
	return "seller"
}

// PriceType selects how the exchange price is determined.
type PriceType uint8

const (
	PriceStatic PriceType = iota
	// PriceDiscovery delegates the price to the price-discovery collaborator.
	PriceDiscovery
)

func (p PriceType) String() string {
	if p == PriceDiscovery {
		return "discovery"
	}
	return "static"
}

// Offer holds the economics of a listing. Only the royalty schedule may change
// after creation; every update appends a version used by future commits.
type Offer struct {
	ID                 uint64
	Creator            Creator
	SellerID           uint64
	BuyerID            uint64
	Price              *big.Int
	SellerDeposit      *big.Int
	BuyerCancelPenalty *big.Int
	Token              common.Address
	Quantity           uint64
	PriceType          PriceType
	Royalties          []royalty.Info
	AgentID            uint64
	DisputeResolverID  uint64
	DRFee              *big.Int
	Mutualizer         common.Address
	ValidFrom          int64
	ValidUntil         int64
	Voided             bool
}

// CurrentRoyalty returns the latest royalty schedule version.
func (o *Offer) CurrentRoyalty() royalty.Info {
	if o == nil || len(o.Royalties) == 0 {
		return royalty.Info{}
	}
	return o.Royalties[len(o.Royalties)-1].Clone()
}

// Open reports why the offer cannot be committed to at now, or nil.
func (o *Offer) Open(now int64) error {
	switch {
	case o.Voided:
		return ErrVoided
	case o.ValidFrom > 0 && now < o.ValidFrom:
		return ErrNotYetValid
	case o.ValidUntil > 0 && now > o.ValidUntil:
		return ErrExpired
	case o.Quantity == 0:
		return ErrSoldOut
	}
	return nil
}

type storedOffer struct {
	Creator            uint8
	SellerID           uint64
	BuyerID            uint64
	Price              *big.Int
	SellerDeposit      *big.Int
	BuyerCancelPenalty *big.Int
	Token              common.Address
	Quantity           uint64
	PriceType          uint8
	Royalties          []royalty.Info
	AgentID            uint64
	DisputeResolverID  uint64
	DRFee              *big.Int
	Mutualizer         common.Address
	ValidFrom          uint64
	ValidUntil         uint64
	Voided             bool
}

func toStored(o *Offer) storedOffer {
	return storedOffer{
		Creator:            uint8(o.Creator),
		SellerID:           o.SellerID,
		BuyerID:            o.BuyerID,
		Price:              nativecommon.CloneBig(o.Price),
		SellerDeposit:      nativecommon.CloneBig(o.SellerDeposit),
		BuyerCancelPenalty: nativecommon.CloneBig(o.BuyerCancelPenalty),
		Token:              o.Token,
		Quantity:           o.Quantity,
		PriceType:          uint8(o.PriceType),
		Royalties:          o.Royalties,
		AgentID:            o.AgentID,
		DisputeResolverID:  o.DisputeResolverID,
		DRFee:              nativecommon.CloneBig(o.DRFee),
		Mutualizer:         o.Mutualizer,
		ValidFrom:          sanitizeUnix(o.ValidFrom),
		ValidUntil:         sanitizeUnix(o.ValidUntil),
		Voided:             o.Voided,
	}
}

func fromStored(id uint64, s *storedOffer) *Offer {
	return &Offer{
		ID:                 id,
		Creator:            Creator(s.Creator),
		SellerID:           s.SellerID,
		BuyerID:            s.BuyerID,
		Price:              nativecommon.CloneBig(s.Price),
		SellerDeposit:      nativecommon.CloneBig(s.SellerDeposit),
		BuyerCancelPenalty: nativecommon.CloneBig(s.BuyerCancelPenalty),
		Token:              s.Token,
		Quantity:           s.Quantity,
		PriceType:          PriceType(s.PriceType),
		Royalties:          s.Royalties,
		AgentID:            s.AgentID,
		DisputeResolverID:  s.DisputeResolverID,
		DRFee:              nativecommon.CloneBig(s.DRFee),
		Mutualizer:         s.Mutualizer,
		ValidFrom:          int64(s.ValidFrom),
		ValidUntil:         int64(s.ValidUntil),
		Voided:             s.Voided,
	}
}

func sanitizeUnix(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	NextID(sequence string) (uint64, error)
}

// Registry stores offers in state.
type Registry struct {
	state registryState
}

// NewRegistry returns a registry bound to state.
func NewRegistry(state registryState) *Registry {
	return &Registry{state: state}
}

func offerKey(id uint64) []byte {
	return strconv.AppendUint(append([]byte(nil), offerPrefix...), id, 10)
}

func nonNegative(name string, v *big.Int) error {
	if v != nil && v.Sign() < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidOffer, name)
	}
	return nil
}

func validate(o *Offer) error {
	if o == nil {
		return fmt.Errorf("%w: offer must not be nil", ErrInvalidOffer)
	}
	for name, v := range map[string]*big.Int{
		"price":                o.Price,
		"seller deposit":       o.SellerDeposit,
		"buyer cancel penalty": o.BuyerCancelPenalty,
		"dispute resolver fee": o.DRFee,
	} {
		if err := nonNegative(name, v); err != nil {
			return err
		}
	}
	if o.PriceType == PriceStatic && o.BuyerCancelPenalty != nil && o.Price != nil && o.BuyerCancelPenalty.Cmp(o.Price) > 0 {
		return fmt.Errorf("%w: buyer cancel penalty exceeds price", ErrInvalidOffer)
	}
	if o.Quantity == 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOffer)
	}
	if o.ValidUntil > 0 && o.ValidUntil < o.ValidFrom {
		return fmt.Errorf("%w: validity window ends before it starts", ErrInvalidOffer)
	}
	switch o.Creator {
	case CreatorSeller:
		if o.SellerID == 0 {
			return fmt.Errorf("%w: seller id required", ErrInvalidOffer)
		}
	case CreatorBuyer:
		if o.BuyerID == 0 {
			return fmt.Errorf("%w: buyer id required", ErrInvalidOffer)
		}
		if o.PriceType == PriceDiscovery {
			return fmt.Errorf("%w: buyer offers need a static price", ErrInvalidOffer)
		}
	default:
		return fmt.Errorf("%w: unknown creator", ErrInvalidOffer)
	}
	if o.DRFee != nil && o.DRFee.Sign() > 0 && o.DisputeResolverID == 0 {
		return fmt.Errorf("%w: dispute resolver fee without resolver", ErrInvalidOffer)
	}
	return nil
}

// Create validates and stores a new offer, assigning its id.
func (r *Registry) Create(o *Offer) (uint64, error) {
	if r == nil || r.state == nil {
		return 0, errNilState
	}
	if err := validate(o); err != nil {
		return 0, err
	}
	id, err := r.state.NextID(sequenceName)
	if err != nil {
		return 0, err
	}
	o.ID = id
	if err := r.state.KVPut(offerKey(id), toStored(o)); err != nil {
		return 0, err
	}
	return id, nil
}

// Get loads the offer with id.
func (r *Registry) Get(id uint64) (*Offer, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	var stored storedOffer
	ok, err := r.state.KVGet(offerKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrOfferNotFound, id)
	}
	return fromStored(id, &stored), nil
}

func (r *Registry) put(o *Offer) error {
	return r.state.KVPut(offerKey(o.ID), toStored(o))
}

// Void blocks further commits to the offer.
func (r *Registry) Void(id uint64) error {
	offer, err := r.Get(id)
	if err != nil {
		return err
	}
	if offer.Voided {
		return ErrVoided
	}
	offer.Voided = true
	return r.put(offer)
}

// Reserve consumes one unit of the offer's quantity if it is open at now.
func (r *Registry) Reserve(id uint64, now int64) (*Offer, error) {
	offer, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if err := offer.Open(now); err != nil {
		return nil, err
	}
	offer.Quantity--
	if err := r.put(offer); err != nil {
		return nil, err
	}
	return offer, nil
}

// UpdateRoyalty appends a royalty schedule version. Exchanges committed
// earlier keep the schedule captured in their fee snapshot.
func (r *Registry) UpdateRoyalty(id uint64, info royalty.Info) error {
	offer, err := r.Get(id)
	if err != nil {
		return err
	}
	if offer.Voided {
		return ErrVoided
	}
	offer.Royalties = append(offer.Royalties, info.Clone())
	return r.put(offer)
}
