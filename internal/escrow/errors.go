package escrow

import "errors"

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrNotParty            = errors.New("caller is neither buyer nor seller")
	ErrNotBuyer            = errors.New("only the buyer may release escrow")
	ErrMissingParty        = errors.New("buyer and seller ids are required")
	ErrSameParty           = errors.New("buyer and seller must differ")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidCurrency     = errors.New("unsupported currency code")
	ErrMissingReason       = errors.New("dispute reason is required")
	ErrTransactionDisputed = errors.New("transaction is under dispute")
	ErrTransactionReleased = errors.New("transaction already released")
)
