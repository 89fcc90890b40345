package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quitanda/escrowops/internal/domain"
	"github.com/quitanda/escrowops/internal/escrow"
)

// Memory implements escrow.Store on plain maps. A single mutex plays the
// role of the database's row locks: ExecTx holds it for the whole callback,
// so concurrent confirms serialize exactly as they do against Postgres, and
// a failed callback rolls state back to a pre-snapshot. Used by tests and
// development without a database.
type Memory struct {
	mu    sync.Mutex
	state memState
}

func NewMemory() *Memory {
	return &Memory{
		state: memState{
			users:   map[uuid.UUID]domain.User{},
			txns:    map[uuid.UUID]*domain.PaymentTransaction{},
			wallets: map[uuid.UUID]*domain.WalletBalance{},
		},
	}
}

func (m *Memory) ExecTx(ctx context.Context, fn func(q escrow.Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&m.state); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) CreateUser(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateUser(ctx, user)
}

func (m *Memory) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UserExists(ctx, id)
}

func (m *Memory) CreateTransaction(ctx context.Context, txn *domain.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateTransaction(ctx, txn)
}

func (m *Memory) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.GetTransaction(ctx, id)
}

func (m *Memory) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.GetTransactionForUpdate(ctx, id)
}

func (m *Memory) UpdateTransaction(ctx context.Context, id uuid.UUID, patch domain.TransactionPatch) (*domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateTransaction(ctx, id, patch)
}

func (m *Memory) ListTransactions(ctx context.Context, filter domain.TransactionFilter, limit int) ([]domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ListTransactions(ctx, filter, limit)
}

func (m *Memory) CreditWallet(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*domain.WalletBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreditWallet(ctx, userID, amount)
}

func (m *Memory) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.WalletBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.GetWallet(ctx, userID)
}

// memState holds the data without any locking; Memory's methods and ExecTx
// are responsible for serialization.
type memState struct {
	users   map[uuid.UUID]domain.User
	txns    map[uuid.UUID]*domain.PaymentTransaction
	wallets map[uuid.UUID]*domain.WalletBalance
	order   []uuid.UUID
}

func (s *memState) clone() memState {
	c := memState{
		users:   make(map[uuid.UUID]domain.User, len(s.users)),
		txns:    make(map[uuid.UUID]*domain.PaymentTransaction, len(s.txns)),
		wallets: make(map[uuid.UUID]*domain.WalletBalance, len(s.wallets)),
		order:   append([]uuid.UUID(nil), s.order...),
	}
	for id, u := range s.users {
		c.users[id] = u
	}
	for id, txn := range s.txns {
		cp := *txn
		c.txns[id] = &cp
	}
	for id, w := range s.wallets {
		cp := *w
		c.wallets[id] = &cp
	}
	return c
}

func (s *memState) CreateUser(_ context.Context, user *domain.User) error {
	s.users[user.ID] = *user
	return nil
}

func (s *memState) UserExists(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := s.users[id]
	return ok, nil
}

func (s *memState) CreateTransaction(_ context.Context, txn *domain.PaymentTransaction) error {
	if _, ok := s.users[txn.BuyerID]; !ok {
		return escrow.ErrUserNotFound
	}
	if _, ok := s.users[txn.SellerID]; !ok {
		return escrow.ErrUserNotFound
	}
	cp := *txn
	s.txns[txn.ID] = &cp
	s.order = append(s.order, txn.ID)
	return nil
}

func (s *memState) GetTransaction(_ context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	txn, ok := s.txns[id]
	if !ok {
		return nil, escrow.ErrTransactionNotFound
	}
	cp := *txn
	return &cp, nil
}

func (s *memState) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	// The store-wide mutex already serializes writers.
	return s.GetTransaction(ctx, id)
}

func (s *memState) UpdateTransaction(_ context.Context, id uuid.UUID, patch domain.TransactionPatch) (*domain.PaymentTransaction, error) {
	txn, ok := s.txns[id]
	if !ok {
		return nil, escrow.ErrTransactionNotFound
	}
	if patch.Status != nil {
		txn.Status = *patch.Status
	}
	if patch.BuyerConfirmed != nil {
		txn.BuyerConfirmed = *patch.BuyerConfirmed
	}
	if patch.SellerConfirmed != nil {
		txn.SellerConfirmed = *patch.SellerConfirmed
	}
	if patch.DisputeReason != nil {
		reason := *patch.DisputeReason
		txn.DisputeReason = &reason
	}
	if patch.ReleasedAt != nil {
		releasedAt := *patch.ReleasedAt
		txn.ReleasedAt = &releasedAt
	}
	txn.UpdatedAt = time.Now()
	cp := *txn
	return &cp, nil
}

func (s *memState) ListTransactions(_ context.Context, filter domain.TransactionFilter, limit int) ([]domain.PaymentTransaction, error) {
	var out []domain.PaymentTransaction
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		txn := s.txns[s.order[i]]
		if filter.BuyerID != nil && txn.BuyerID != *filter.BuyerID {
			continue
		}
		if filter.SellerID != nil && txn.SellerID != *filter.SellerID {
			continue
		}
		if filter.Status != nil && txn.Status != *filter.Status {
			continue
		}
		out = append(out, *txn)
	}
	return out, nil
}

func (s *memState) CreditWallet(_ context.Context, userID uuid.UUID, amount decimal.Decimal) (*domain.WalletBalance, error) {
	w, ok := s.wallets[userID]
	if !ok {
		w = &domain.WalletBalance{UserID: userID, Balance: decimal.Zero}
		s.wallets[userID] = w
	}
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = time.Now()
	cp := *w
	return &cp, nil
}

func (s *memState) GetWallet(_ context.Context, userID uuid.UUID) (*domain.WalletBalance, error) {
	w, ok := s.wallets[userID]
	if !ok {
		if _, known := s.users[userID]; !known {
			return nil, escrow.ErrUserNotFound
		}
		w = &domain.WalletBalance{UserID: userID, Balance: decimal.Zero, UpdatedAt: time.Now()}
		s.wallets[userID] = w
	}
	cp := *w
	return &cp, nil
}
