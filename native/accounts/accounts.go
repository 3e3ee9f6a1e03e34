package accounts

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "exchangefunds/native/common"
)

// ProtocolID is the reserved account id of the protocol treasury.
const ProtocolID uint64 = 0

const sequenceName = "account"

var (
	ErrAccountNotFound  = errors.New("accounts: account not found")
	ErrInvalidWallet    = errors.New("accounts: wallet must not be zero")
	ErrInvalidKind      = errors.New("accounts: invalid account kind")
	ErrDuplicateWallet  = errors.New("accounts: wallet already registered for kind")
	ErrInvalidFee       = errors.New("accounts: invalid fee")
	ErrKindMismatch     = errors.New("accounts: account kind mismatch")
	errNilState         = errors.New("accounts: state not configured")
	walletIndexPrefix   = []byte("accounts/wallet/")
	accountRecordPrefix = []byte("accounts/record/")
)

// Kind identifies the role an account plays in exchanges.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindSeller
	KindBuyer
	KindAgent
	KindDisputeResolver
	KindRoyaltyRecipient
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindSeller:
		return "seller"
	case KindBuyer:
		return "buyer"
	case KindAgent:
		return "agent"
	case KindDisputeResolver:
		return "dispute_resolver"
	case KindRoyaltyRecipient:
		return "royalty_recipient"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Valid reports whether the kind is a registrable role.
func (k Kind) Valid() bool {
	return k >= KindSeller && k <= KindProtocol
}

// TokenFee is a per-token fee amount charged by a dispute resolver.
type TokenFee struct {
	Token  common.Address
	Amount *big.Int
}

// Account is a protocol participant. Wallet receives withdrawals.
type Account struct {
	ID                  uint64
	Kind                Kind
	Wallet              common.Address
	FeeBps              uint16
	DisputeResolverFees []TokenFee
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.DisputeResolverFees = make([]TokenFee, len(a.DisputeResolverFees))
	for i, fee := range a.DisputeResolverFees {
		clone.DisputeResolverFees[i] = TokenFee{Token: fee.Token, Amount: nativecommon.CloneBig(fee.Amount)}
	}
	return &clone
}

// DisputeResolverFee returns the fee the account charges for disputes in
// token.
func (a *Account) DisputeResolverFee(token common.Address) (*big.Int, bool) {
	if a == nil {
		return nil, false
	}
	for _, fee := range a.DisputeResolverFees {
		if fee.Token == token {
			return nativecommon.CloneBig(fee.Amount), true
		}
	}
	return nil, false
}

type storedTokenFee struct {
	Token  common.Address
	Amount *big.Int
}

type storedAccount struct {
	Kind                uint8
	Wallet              common.Address
	FeeBps              uint16
	DisputeResolverFees []storedTokenFee
}

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	NextID(sequence string) (uint64, error)
}

// Registry stores protocol accounts in state.
type Registry struct {
	state registryState
}

// NewRegistry returns a registry bound to the provided state.
func NewRegistry(state registryState) *Registry {
	return &Registry{state: state}
}

func recordKey(id uint64) []byte {
	return append(append([]byte(nil), accountRecordPrefix...), strconv.FormatUint(id, 10)...)
}

func walletKey(kind Kind, wallet common.Address) []byte {
	key := append([]byte(nil), walletIndexPrefix...)
	key = append(key, byte(kind), '/')
	return append(key, wallet.Bytes()...)
}

func validate(acc *Account) error {
	if acc == nil {
		return fmt.Errorf("accounts: account must not be nil")
	}
	if !acc.Kind.Valid() {
		return ErrInvalidKind
	}
	if acc.Wallet == (common.Address{}) {
		return ErrInvalidWallet
	}
	if err := nativecommon.ValidateBps(acc.FeeBps); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFee, err)
	}
	seen := make(map[common.Address]struct{}, len(acc.DisputeResolverFees))
	for _, fee := range acc.DisputeResolverFees {
		if fee.Amount == nil || fee.Amount.Sign() < 0 {
			return fmt.Errorf("%w: dispute resolver fee must not be negative", ErrInvalidFee)
		}
		if _, dup := seen[fee.Token]; dup {
			return fmt.Errorf("%w: duplicate dispute resolver fee token %s", ErrInvalidFee, fee.Token.Hex())
		}
		seen[fee.Token] = struct{}{}
	}
	return nil
}

// SetTreasury records the protocol treasury wallet under ProtocolID.
func (r *Registry) SetTreasury(wallet common.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if wallet == (common.Address{}) {
		return ErrInvalidWallet
	}
	return r.state.KVPut(recordKey(ProtocolID), storedAccount{Kind: uint8(KindProtocol), Wallet: wallet})
}

// Register assigns the next account id and persists the account. The wallet
// must be unique per kind.
func (r *Registry) Register(acc *Account) (uint64, error) {
	if r == nil || r.state == nil {
		return 0, errNilState
	}
	if err := validate(acc); err != nil {
		return 0, err
	}
	if acc.Kind == KindProtocol {
		return 0, fmt.Errorf("%w: protocol account is reserved", ErrInvalidKind)
	}
	var existing uint64
	ok, err := r.state.KVGet(walletKey(acc.Kind, acc.Wallet), &existing)
	if err != nil {
		return 0, err
	}
	if ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateWallet, acc.Wallet.Hex())
	}
	id, err := r.state.NextID(sequenceName)
	if err != nil {
		return 0, err
	}
	stored := storedAccount{
		Kind:   uint8(acc.Kind),
		Wallet: acc.Wallet,
		FeeBps: acc.FeeBps,
	}
	for _, fee := range acc.DisputeResolverFees {
		stored.DisputeResolverFees = append(stored.DisputeResolverFees, storedTokenFee{Token: fee.Token, Amount: new(big.Int).Set(fee.Amount)})
	}
	if err := r.state.KVPut(recordKey(id), stored); err != nil {
		return 0, err
	}
	if err := r.state.KVPut(walletKey(acc.Kind, acc.Wallet), id); err != nil {
		return 0, err
	}
	acc.ID = id
	return id, nil
}

// Get loads the account with the provided id.
func (r *Registry) Get(id uint64) (*Account, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	var stored storedAccount
	ok, err := r.state.KVGet(recordKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, id)
	}
	acc := &Account{
		ID:     id,
		Kind:   Kind(stored.Kind),
		Wallet: stored.Wallet,
		FeeBps: stored.FeeBps,
	}
	for _, fee := range stored.DisputeResolverFees {
		acc.DisputeResolverFees = append(acc.DisputeResolverFees, TokenFee{Token: fee.Token, Amount: nativecommon.CloneBig(fee.Amount)})
	}
	return acc, nil
}

// GetKind loads the account and verifies it has the expected kind.
func (r *Registry) GetKind(id uint64, kind Kind) (*Account, error) {
	acc, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if acc.Kind != kind {
		return nil, fmt.Errorf("%w: account %d is %s, want %s", ErrKindMismatch, id, acc.Kind, kind)
	}
	return acc, nil
}

// Lookup returns the id registered for wallet under kind.
func (r *Registry) Lookup(kind Kind, wallet common.Address) (uint64, bool, error) {
	if r == nil || r.state == nil {
		return 0, false, errNilState
	}
	var id uint64
	ok, err := r.state.KVGet(walletKey(kind, wallet), &id)
	if err != nil || !ok {
		return 0, false, err
	}
	return id, true, nil
}

// BuyerFor returns the buyer account bound to wallet, registering one on first
// use.
func (r *Registry) BuyerFor(wallet common.Address) (uint64, error) {
	id, ok, err := r.Lookup(KindBuyer, wallet)
	if err != nil {
		return 0, err
	}
	if ok {
		return id, nil
	}
	return r.Register(&Account{Kind: KindBuyer, Wallet: wallet})
}
