package escrow

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quitanda/escrowops/internal/domain"
)

// Queries is the set of persistence operations the engine drives. The
// transaction and ledger sides are passive: no business rules live behind
// these methods beyond atomic read/write.
type Queries interface {
	CreateUser(ctx context.Context, user *domain.User) error
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)

	CreateTransaction(ctx context.Context, txn *domain.PaymentTransaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error)
	// GetTransactionForUpdate locks the transaction row for the duration of
	// the enclosing storage transaction, serializing concurrent confirms.
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error)
	UpdateTransaction(ctx context.Context, id uuid.UUID, patch domain.TransactionPatch) (*domain.PaymentTransaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter, limit int) ([]domain.PaymentTransaction, error)

	// CreditWallet atomically increments the user's balance, creating the
	// row at amount if absent. Single statement, never read-then-write.
	CreditWallet(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*domain.WalletBalance, error)
	// GetWallet returns the user's balance, lazily creating a zero row for
	// a registered user. Unknown users yield ErrUserNotFound.
	GetWallet(ctx context.Context, userID uuid.UUID) (*domain.WalletBalance, error)
}

// Store adds a transactional scope to Queries. Everything executed inside
// ExecTx commits or rolls back as one unit; the status flip and the wallet
// credit on release must share a scope.
type Store interface {
	Queries
	ExecTx(ctx context.Context, fn func(q Queries) error) error
}
