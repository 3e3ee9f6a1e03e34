package royalty

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	nativecommon "exchangefunds/native/common"
)

// DefaultRecipient stands for the seller's own treasury in a royalty schedule.
const DefaultRecipient uint64 = 0

var (
	ErrRecipientNotAllowed = errors.New("royalty: recipient not allowed")
	ErrRoyaltyBelowMinimum = errors.New("royalty: percentage below recipient minimum")
	ErrRoyaltyTooHigh      = errors.New("royalty: total percentage exceeds maximum")
	ErrLengthMismatch      = errors.New("royalty: recipient and percentage lists differ in length")
	ErrDuplicateRecipient  = errors.New("royalty: duplicate recipient")
	ErrRecipientNotFound   = errors.New("royalty: recipient not found")
	ErrDefaultRecipient    = errors.New("royalty: default recipient cannot be removed")
	errNilState            = errors.New("royalty: state not configured")
)

var recipientsPrefix = []byte("royalty/recipients/")

// Recipient is an account a seller allows in its royalty schedules together
// with the smallest percentage it accepts.
type Recipient struct {
	AccountID  uint64
	MinBps     uint16
	ExternalID string
}

// Info is one royalty schedule. Recipients and Bps are parallel lists.
type Info struct {
	Recipients []uint64
	Bps        []uint16
}

// Clone returns a deep copy of the schedule.
func (i Info) Clone() Info {
	return Info{
		Recipients: append([]uint64(nil), i.Recipients...),
		Bps:        append([]uint16(nil), i.Bps...),
	}
}

// TotalBps sums the schedule's percentages.
func (i Info) TotalBps() uint32 {
	var total uint32
	for _, bps := range i.Bps {
		total += uint32(bps)
	}
	return total
}

// Payment is a single royalty amount owed to a recipient. Recipient
// DefaultRecipient is paid to the seller.
type Payment struct {
	Recipient uint64
	Amount    *big.Int
}

// Split computes the royalty owed to each recipient of info on price. Each
// share is floored independently.
func Split(info Info, price *big.Int) []Payment {
	payments := make([]Payment, 0, len(info.Recipients))
	for idx, recipient := range info.Recipients {
		var bps uint16
		if idx < len(info.Bps) {
			bps = info.Bps[idx]
		}
		payments = append(payments, Payment{Recipient: recipient, Amount: nativecommon.ApplyBps(price, bps)})
	}
	return payments
}

// Total sums payment amounts.
func Total(payments []Payment) *big.Int {
	total := big.NewInt(0)
	for _, p := range payments {
		if p.Amount != nil {
			total.Add(total, p.Amount)
		}
	}
	return total
}

type storedRecipient struct {
	AccountID  uint64
	MinBps     uint16
	ExternalID string
}

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Registry keeps each seller's allowed royalty recipients. The default
// recipient is always present and sorts first.
type Registry struct {
	state registryState
}

// NewRegistry returns a registry bound to state.
func NewRegistry(state registryState) *Registry {
	return &Registry{state: state}
}

func recipientsKey(sellerID uint64) []byte {
	return strconv.AppendUint(append([]byte(nil), recipientsPrefix...), sellerID, 10)
}

// Recipients returns the seller's allowed recipients, default first.
func (r *Registry) Recipients(sellerID uint64) ([]Recipient, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	var stored []storedRecipient
	ok, err := r.state.KVGet(recipientsKey(sellerID), &stored)
	if err != nil {
		return nil, err
	}
	if !ok || len(stored) == 0 {
		return []Recipient{{AccountID: DefaultRecipient}}, nil
	}
	out := make([]Recipient, len(stored))
	for i, s := range stored {
		out[i] = Recipient{AccountID: s.AccountID, MinBps: s.MinBps, ExternalID: s.ExternalID}
	}
	return out, nil
}

func (r *Registry) save(sellerID uint64, list []Recipient) error {
	stored := make([]storedRecipient, len(list))
	for i, rec := range list {
		stored[i] = storedRecipient{AccountID: rec.AccountID, MinBps: rec.MinBps, ExternalID: rec.ExternalID}
	}
	return r.state.KVPut(recipientsKey(sellerID), stored)
}

func indexOf(list []Recipient, accountID uint64) int {
	for i, rec := range list {
		if rec.AccountID == accountID {
			return i
		}
	}
	return -1
}

// AddRecipients appends recipients to the seller's list. maxBps bounds each
// recipient's minimum percentage.
func (r *Registry) AddRecipients(sellerID uint64, recipients []Recipient, maxBps uint16) error {
	list, err := r.Recipients(sellerID)
	if err != nil {
		return err
	}
	for _, rec := range recipients {
		if rec.AccountID == DefaultRecipient {
			return fmt.Errorf("%w: default recipient is implicit", ErrDuplicateRecipient)
		}
		if indexOf(list, rec.AccountID) >= 0 {
			return fmt.Errorf("%w: %d", ErrDuplicateRecipient, rec.AccountID)
		}
		if rec.MinBps > maxBps {
			return fmt.Errorf("%w: minimum %d above %d", ErrRoyaltyTooHigh, rec.MinBps, maxBps)
		}
		list = append(list, rec)
	}
	return r.save(sellerID, list)
}

// UpdateRecipient changes the minimum percentage and external id of an
// existing recipient, the default one included.
func (r *Registry) UpdateRecipient(sellerID uint64, update Recipient, maxBps uint16) error {
	list, err := r.Recipients(sellerID)
	if err != nil {
		return err
	}
	idx := indexOf(list, update.AccountID)
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrRecipientNotFound, update.AccountID)
	}
	if update.MinBps > maxBps {
		return fmt.Errorf("%w: minimum %d above %d", ErrRoyaltyTooHigh, update.MinBps, maxBps)
	}
	list[idx] = update
	return r.save(sellerID, list)
}

// RemoveRecipients drops recipients from the seller's list. Schedules already
// attached to offers are not touched.
func (r *Registry) RemoveRecipients(sellerID uint64, accountIDs []uint64) error {
	list, err := r.Recipients(sellerID)
	if err != nil {
		return err
	}
	for _, id := range accountIDs {
		if id == DefaultRecipient {
			return ErrDefaultRecipient
		}
		idx := indexOf(list, id)
		if idx < 0 {
			return fmt.Errorf("%w: %d", ErrRecipientNotFound, id)
		}
		list = append(list[:idx], list[idx+1:]...)
	}
	return r.save(sellerID, list)
}

// Validate checks a schedule against the seller's recipient list: equal list
// lengths, known and distinct recipients, per-recipient minimums and a total
// no greater than maxBps.
func (r *Registry) Validate(sellerID uint64, info Info, maxBps uint16) error {
	if len(info.Recipients) != len(info.Bps) {
		return ErrLengthMismatch
	}
	list, err := r.Recipients(sellerID)
	if err != nil {
		return err
	}
	seen := make(map[uint64]struct{}, len(info.Recipients))
	for i, recipient := range info.Recipients {
		if _, dup := seen[recipient]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateRecipient, recipient)
		}
		seen[recipient] = struct{}{}
		idx := indexOf(list, recipient)
		if idx < 0 {
			return fmt.Errorf("%w: %d", ErrRecipientNotAllowed, recipient)
		}
		if info.Bps[i] < list[idx].MinBps {
			return fmt.Errorf("%w: recipient %d offered %d, minimum %d", ErrRoyaltyBelowMinimum, recipient, info.Bps[i], list[idx].MinBps)
		}
	}
	if total := info.TotalBps(); total > uint32(maxBps) {
		return fmt.Errorf("%w: %d > %d", ErrRoyaltyTooHigh, total, maxBps)
	}
	return nil
}
