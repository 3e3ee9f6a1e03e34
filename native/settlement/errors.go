package settlement

import "errors"

var (
	ErrNoSuchExchange       = errors.New("settlement: no such exchange")
	ErrAlreadyFinalized     = errors.New("settlement: exchange already finalized")
	ErrOutcomeNotApplicable = errors.New("settlement: outcome not applicable")
	ErrInvalidBuyerPercent  = errors.New("settlement: buyer percentage out of range")
	ErrUnknownMutualizer    = errors.New("settlement: mutualizer not registered")
	errNotConfigured        = errors.New("settlement: engine not configured")
)

const invariantViolated = "settlement: invariant violated"
