package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quitanda/escrowops/internal/domain"
	"github.com/quitanda/escrowops/internal/escrow"
)

const transactionColumns = `id, buyer_id, seller_id, amount, currency, status,
	buyer_confirmed, seller_confirmed, dispute_reason, released_at, created_at, updated_at`

// Postgres implements escrow.Store on a pgx connection pool. ExecTx runs the
// callback inside a RepeatableRead transaction; GetTransactionForUpdate takes
// a FOR UPDATE row lock so concurrent confirms on the same transaction
// serialize at the database.
type Postgres struct {
	queries
	pool *pgxpool.Pool
}

// NewPostgres builds a tuned connection pool and verifies connectivity.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{queries: queries{db: pool}, pool: pool}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for health checks.
func (s *Postgres) Pool() *pgxpool.Pool {
	return s.pool
}

// execTxAttempts bounds the optimistic retry on serialization failures:
// under RepeatableRead, the loser of a concurrent confirm aborts with
// SQLSTATE 40001 and must re-run against the committed row, where it lands
// on the idempotent replay path instead of erroring.
const execTxAttempts = 3

func (s *Postgres) ExecTx(ctx context.Context, fn func(q escrow.Queries) error) error {
	var err error
	for attempt := 0; attempt < execTxAttempts; attempt++ {
		err = s.execTxOnce(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("tx retries exhausted: %w", err)
}

func (s *Postgres) execTxOnce(ctx context.Context, fn func(q escrow.Queries) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure and deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx, letting the same query
// methods run pooled or inside a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db dbtx
}

func (q queries) CreateUser(ctx context.Context, user *domain.User) error {
	_, err := q.db.Exec(ctx,
		"INSERT INTO users (id, name, created_at) VALUES ($1, $2, $3)",
		user.ID, user.Name, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("user insert failed: %w", err)
	}
	return nil
}

func (q queries) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("user lookup failed: %w", err)
	}
	return exists, nil
}

func (q queries) CreateTransaction(ctx context.Context, txn *domain.PaymentTransaction) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO transactions
			(id, buyer_id, seller_id, amount, currency, status,
			 buyer_confirmed, seller_confirmed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		txn.ID, txn.BuyerID, txn.SellerID, txn.Amount, txn.Currency, txn.Status,
		txn.BuyerConfirmed, txn.SellerConfirmed, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// Foreign key: one of the parties vanished between the
			// existence check and the insert.
			return escrow.ErrUserNotFound
		}
		return fmt.Errorf("transaction insert failed: %w", err)
	}
	return nil
}

func (q queries) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	row := q.db.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = $1", id)
	return scanTransaction(row)
}

func (q queries) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	row := q.db.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = $1 FOR UPDATE", id)
	return scanTransaction(row)
}

func (q queries) UpdateTransaction(ctx context.Context, id uuid.UUID, patch domain.TransactionPatch) (*domain.PaymentTransaction, error) {
	set := []string{"updated_at = now()"}
	args := []any{}
	n := 1

	add := func(column string, value any) {
		set = append(set, fmt.Sprintf("%s = $%d", column, n))
		args = append(args, value)
		n++
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.BuyerConfirmed != nil {
		add("buyer_confirmed", *patch.BuyerConfirmed)
	}
	if patch.SellerConfirmed != nil {
		add("seller_confirmed", *patch.SellerConfirmed)
	}
	if patch.DisputeReason != nil {
		add("dispute_reason", *patch.DisputeReason)
	}
	if patch.ReleasedAt != nil {
		add("released_at", *patch.ReleasedAt)
	}

	query := fmt.Sprintf(
		"UPDATE transactions SET %s WHERE id = $%d RETURNING %s",
		strings.Join(set, ", "), n, transactionColumns,
	)
	args = append(args, id)

	return scanTransaction(q.db.QueryRow(ctx, query, args...))
}

func (q queries) ListTransactions(ctx context.Context, filter domain.TransactionFilter, limit int) ([]domain.PaymentTransaction, error) {
	where := []string{}
	args := []any{}
	n := 1

	if filter.BuyerID != nil {
		where = append(where, fmt.Sprintf("buyer_id = $%d", n))
		args = append(args, *filter.BuyerID)
		n++
	}
	if filter.SellerID != nil {
		where = append(where, fmt.Sprintf("seller_id = $%d", n))
		args = append(args, *filter.SellerID)
		n++
	}
	if filter.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", n))
		args = append(args, *filter.Status)
		n++
	}

	query := "SELECT " + transactionColumns + " FROM transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", n)
	args = append(args, limit)

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transaction list failed: %w", err)
	}
	defer rows.Close()

	var txns []domain.PaymentTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

func (q queries) CreditWallet(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*domain.WalletBalance, error) {
	var w domain.WalletBalance
	err := q.db.QueryRow(ctx, `
		INSERT INTO wallets (user_id, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id)
		DO UPDATE SET balance = wallets.balance + EXCLUDED.balance, updated_at = now()
		RETURNING user_id, balance, updated_at`,
		userID, amount,
	).Scan(&w.UserID, &w.Balance, &w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("wallet credit failed: %w", err)
	}
	return &w, nil
}

func (q queries) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.WalletBalance, error) {
	// Lazy create: the no-op conflict update makes RETURNING yield the
	// existing row without touching the balance.
	var w domain.WalletBalance
	err := q.db.QueryRow(ctx, `
		INSERT INTO wallets (user_id, balance, updated_at)
		VALUES ($1, 0, now())
		ON CONFLICT (user_id)
		DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING user_id, balance, updated_at`,
		userID,
	).Scan(&w.UserID, &w.Balance, &w.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// Foreign key: wallets only exist for registered users.
			return nil, escrow.ErrUserNotFound
		}
		return nil, fmt.Errorf("wallet lookup failed: %w", err)
	}
	return &w, nil
}

func scanTransaction(row pgx.Row) (*domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	err := row.Scan(
		&txn.ID, &txn.BuyerID, &txn.SellerID, &txn.Amount, &txn.Currency,
		&txn.Status, &txn.BuyerConfirmed, &txn.SellerConfirmed,
		&txn.DisputeReason, &txn.ReleasedAt, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("transaction scan failed: %w", err)
	}
	return &txn, nil
}
