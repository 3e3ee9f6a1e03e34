package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"exchangefunds/native/exchange"
)

var ErrNoQuote = errors.New("pricing: no quote available")

// Request describes the trade a price is discovered for. ExchangeID is zero
// for a first commit.
type Request struct {
	OfferID    uint64
	ExchangeID uint64
	Token      common.Address
	From       common.Address
	To         common.Address
}

// Quote is a cleared price and the side that acted.
type Quote struct {
	Price *big.Int
	Side  exchange.Side
}

// Discoverer is the price-discovery collaborator.
type Discoverer interface {
	Discover(ctx context.Context, req Request) (Quote, error)
}

// Book is a static Discoverer holding quotes per exchange, falling back to
// per-offer quotes.
type Book struct {
	mu         sync.RWMutex
	byExchange map[uint64]Quote
	byOffer    map[uint64]Quote
}

// NewBook returns an empty book.
func NewBook() *Book {
	return &Book{byExchange: make(map[uint64]Quote), byOffer: make(map[uint64]Quote)}
}

// QuoteExchange sets the price the next resale of exchangeID clears at.
func (b *Book) QuoteExchange(exchangeID uint64, q Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byExchange[exchangeID] = q
}

// QuoteOffer sets the price commits to offerID clear at.
func (b *Book) QuoteOffer(offerID uint64, q Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byOffer[offerID] = q
}

// Discover implements Discoverer.
func (b *Book) Discover(_ context.Context, req Request) (Quote, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.byExchange[req.ExchangeID]
	if !ok || req.ExchangeID == 0 {
		q, ok = b.byOffer[req.OfferID]
	}
	if !ok || q.Price == nil {
		return Quote{}, fmt.Errorf("%w: offer %d exchange %d", ErrNoQuote, req.OfferID, req.ExchangeID)
	}
	if q.Price.Sign() < 0 {
		return Quote{}, fmt.Errorf("pricing: negative price quoted")
	}
	return Quote{Price: new(big.Int).Set(q.Price), Side: q.Side}, nil
}
