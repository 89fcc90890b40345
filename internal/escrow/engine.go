package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quitanda/escrowops/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// Notifier receives fire-and-forget updates whenever a transaction changes
// state. Implementations must not block the caller for long and must handle
// their own errors; delivery is best-effort by contract.
type Notifier interface {
	TransactionUpdated(ctx context.Context, txn *domain.PaymentTransaction)
}

// NoopNotifier discards all notifications.
type NoopNotifier struct{}

func (NoopNotifier) TransactionUpdated(context.Context, *domain.PaymentTransaction) {}

// Engine owns every escrow state transition. The status-flip-plus-credit on
// release always runs inside a single store transaction, and the row lock
// taken by GetTransactionForUpdate serializes concurrent confirms so the
// seller is credited exactly once.
type Engine struct {
	store    Store
	auth     Authorizer
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(store Store, auth Authorizer, notifier Notifier, logger *slog.Logger) *Engine {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		auth:     auth,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Create opens a PENDING escrow transaction between two distinct,
// known users.
func (e *Engine) Create(ctx context.Context, req domain.CreateTransactionRequest) (*domain.PaymentTransaction, error) {
	if req.BuyerID == uuid.Nil || req.SellerID == uuid.Nil {
		return nil, ErrMissingParty
	}
	if req.BuyerID == req.SellerID {
		return nil, ErrSameParty
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	currency, err := domain.NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, ErrInvalidCurrency
	}

	for _, id := range []uuid.UUID{req.BuyerID, req.SellerID} {
		exists, err := e.store.UserExists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("user lookup failed: %w", err)
		}
		if !exists {
			return nil, ErrUserNotFound
		}
	}

	now := e.now()
	txn := &domain.PaymentTransaction{
		ID:        uuid.New(),
		BuyerID:   req.BuyerID,
		SellerID:  req.SellerID,
		Amount:    req.Amount,
		Currency:  currency,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("transaction insert failed: %w", err)
	}

	e.logger.Info("escrow transaction created",
		"txn_id", txn.ID,
		"buyer", txn.BuyerID,
		"seller", txn.SellerID,
		"amount", txn.Amount,
		"currency", txn.Currency,
	)
	return txn, nil
}

// Confirm records the calling party's confirmation. When both parties have
// confirmed, the transaction is released and the seller credited in the
// same commit. Re-confirming is a no-op; confirming a released transaction
// replays the stored result.
func (e *Engine) Confirm(ctx context.Context, txnID, actorID uuid.UUID) (*domain.PaymentTransaction, error) {
	var (
		updated  *domain.PaymentTransaction
		released bool
		mutated  bool
	)

	err := e.store.ExecTx(ctx, func(q Queries) error {
		txn, err := q.GetTransactionForUpdate(ctx, txnID)
		if err != nil {
			return err
		}
		if err := e.auth.Authorize(actorID, txn, ActionConfirm); err != nil {
			return err
		}
		if txn.Status == domain.StatusReleased {
			// Both flags are already set and the credit has happened;
			// treat the retry as a replay.
			updated = txn
			return nil
		}
		if txn.Status == domain.StatusDisputed {
			return ErrTransactionDisputed
		}

		confirmed := true
		var patch domain.TransactionPatch
		if actorID == txn.BuyerID {
			if !txn.BuyerConfirmed {
				patch.BuyerConfirmed = &confirmed
			}
		} else {
			if !txn.SellerConfirmed {
				patch.SellerConfirmed = &confirmed
			}
			if txn.Status == domain.StatusPending {
				status := domain.StatusSellerConfirmed
				patch.Status = &status
			}
		}

		buyerDone := txn.BuyerConfirmed || patch.BuyerConfirmed != nil
		sellerDone := txn.SellerConfirmed || patch.SellerConfirmed != nil
		if buyerDone && sellerDone {
			status := domain.StatusReleased
			releasedAt := e.now()
			patch.Status = &status
			patch.ReleasedAt = &releasedAt
		}

		if patch == (domain.TransactionPatch{}) {
			// Same party confirming again before the counterpart has.
			updated = txn
			return nil
		}
		mutated = true

		updated, err = q.UpdateTransaction(ctx, txnID, patch)
		if err != nil {
			return fmt.Errorf("transaction update failed: %w", err)
		}
		if patch.ReleasedAt != nil {
			if _, err := q.CreditWallet(ctx, txn.SellerID, txn.Amount); err != nil {
				return fmt.Errorf("seller credit failed: %w", err)
			}
			released = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if released {
		e.recordRelease(updated)
	}
	if mutated {
		e.logger.Info("escrow confirmation recorded",
			"txn_id", updated.ID,
			"actor", actorID,
			"status", updated.Status,
		)
		e.dispatch(ctx, updated)
	}
	return updated, nil
}

// Release finalizes the transaction on the buyer's sole authority, crediting
// the seller without waiting for their confirmation. Releasing an
// already-released transaction is a no-op success, never a second credit.
func (e *Engine) Release(ctx context.Context, txnID, actorID uuid.UUID) (*domain.PaymentTransaction, error) {
	var (
		updated  *domain.PaymentTransaction
		released bool
	)

	err := e.store.ExecTx(ctx, func(q Queries) error {
		txn, err := q.GetTransactionForUpdate(ctx, txnID)
		if err != nil {
			return err
		}
		if err := e.auth.Authorize(actorID, txn, ActionRelease); err != nil {
			return err
		}
		if txn.Status == domain.StatusReleased {
			updated = txn
			return nil
		}
		if txn.Status == domain.StatusDisputed {
			return ErrTransactionDisputed
		}

		confirmed := true
		status := domain.StatusReleased
		releasedAt := e.now()
		patch := domain.TransactionPatch{
			Status:         &status,
			BuyerConfirmed: &confirmed,
			ReleasedAt:     &releasedAt,
		}
		updated, err = q.UpdateTransaction(ctx, txnID, patch)
		if err != nil {
			return fmt.Errorf("transaction update failed: %w", err)
		}
		if _, err := q.CreditWallet(ctx, txn.SellerID, txn.Amount); err != nil {
			return fmt.Errorf("seller credit failed: %w", err)
		}
		released = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if released {
		e.recordRelease(updated)
		e.logger.Info("escrow released by buyer",
			"txn_id", updated.ID,
			"seller", updated.SellerID,
			"amount", updated.Amount,
		)
		e.dispatch(ctx, updated)
	}
	return updated, nil
}

// Dispute freezes the transaction for out-of-band resolution. No ledger
// effect. Disputing after release is rejected: funds already moved.
func (e *Engine) Dispute(ctx context.Context, txnID, actorID uuid.UUID, reason string) (*domain.PaymentTransaction, error) {
	if reason == "" {
		return nil, ErrMissingReason
	}

	var (
		updated *domain.PaymentTransaction
		mutated bool
	)
	err := e.store.ExecTx(ctx, func(q Queries) error {
		txn, err := q.GetTransactionForUpdate(ctx, txnID)
		if err != nil {
			return err
		}
		if err := e.auth.Authorize(actorID, txn, ActionDispute); err != nil {
			return err
		}
		if txn.Status == domain.StatusReleased {
			return ErrTransactionReleased
		}
		if txn.Status == domain.StatusDisputed {
			// Already frozen; keep the original reason and replay.
			updated = txn
			return nil
		}

		status := domain.StatusDisputed
		patch := domain.TransactionPatch{
			Status:        &status,
			DisputeReason: &reason,
		}
		updated, err = q.UpdateTransaction(ctx, txnID, patch)
		if err != nil {
			return fmt.Errorf("transaction update failed: %w", err)
		}
		mutated = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if mutated {
		disputedTotal.Inc()
		e.logger.Warn("escrow disputed",
			"txn_id", updated.ID,
			"actor", actorID,
			"reason", reason,
		)
		e.dispatch(ctx, updated)
	}
	return updated, nil
}

// Get returns a single transaction.
func (e *Engine) Get(ctx context.Context, txnID uuid.UUID) (*domain.PaymentTransaction, error) {
	return e.store.GetTransaction(ctx, txnID)
}

// List returns transactions matching the filter, newest first. The limit is
// clamped to [1, 100]; zero or negative means the default of 50.
func (e *Engine) List(ctx context.Context, filter domain.TransactionFilter, limit int) ([]domain.PaymentTransaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return e.store.ListTransactions(ctx, filter, limit)
}

// Wallet returns the user's balance, creating a zero-balance row on first
// read. Users unknown to the platform have no wallet to create.
func (e *Engine) Wallet(ctx context.Context, userID uuid.UUID) (*domain.WalletBalance, error) {
	return e.store.GetWallet(ctx, userID)
}

func (e *Engine) recordRelease(txn *domain.PaymentTransaction) {
	releasedTotal.Inc()
	creditedAmount.WithLabelValues(txn.Currency).Add(txn.Amount.InexactFloat64())
}

// dispatch hands the updated transaction to the notifier without tying its
// fate to the request: the notification context survives client cancellation
// and failures stay inside the notifier.
func (e *Engine) dispatch(ctx context.Context, txn *domain.PaymentTransaction) {
	go e.notifier.TransactionUpdated(context.WithoutCancel(ctx), txn)
}
