// Package ledger is the account substrate. It holds spendable balances per
// address and the custodial pool that backs registered assets, either in
// process (InMemory) or in PostgreSQL (Postgres).
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"

	"willvault/internal/will/models"
	id "willvault/pkg/domain"
	"willvault/pkg/platform/sentinel"
)

// InMemory keeps balances in maps guarded by one mutex.
type InMemory struct {
	mu       sync.Mutex
	accounts map[id.Address]uint64
	deposits map[string]uint64
	custody  uint64
	logger   *slog.Logger
}

type Option func(*InMemory)

func WithLogger(logger *slog.Logger) Option {
	return func(l *InMemory) {
		l.logger = logger
	}
}

func NewInMemory(opts ...Option) *InMemory {
	l := &InMemory{
		accounts: make(map[id.Address]uint64),
		deposits: make(map[string]uint64),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Fund credits an account. It models value arriving from outside the system.
func (l *InMemory) Fund(_ context.Context, addr id.Address, amount uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := l.accounts[addr]
	if amount > math.MaxUint64-balance {
		return balance, fmt.Errorf("fund %s: balance overflow", addr)
	}
	l.accounts[addr] = balance + amount
	return l.accounts[addr], nil
}

func (l *InMemory) Balance(_ context.Context, addr id.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[addr], nil
}

// Custody returns the total value held on behalf of all wills.
func (l *InMemory) Custody(context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.custody, nil
}

// Escrow moves amount from an account into custody and returns the deposit
// object holding it.
func (l *InMemory) Escrow(ctx context.Context, from id.Address, amount uint64) (models.Deposit, error) {
	if err := ctx.Err(); err != nil {
		return models.Deposit{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := l.accounts[from]
	if balance < amount {
		return models.Deposit{}, fmt.Errorf("escrow from %s: %w", from, sentinel.ErrInsufficientFunds)
	}
	l.accounts[from] = balance - amount
	l.custody += amount
	deposit := models.Deposit{ObjectID: uuid.NewString(), Value: amount}
	l.deposits[deposit.ObjectID] = amount
	l.logger.DebugContext(ctx, "escrowed deposit",
		"from", from.String(),
		"object_id", deposit.ObjectID,
		"value", amount,
	)
	return deposit, nil
}

// Refund returns an escrowed deposit to an account. A deposit that is no
// longer open is ignored, so a refund runs at most once per deposit.
func (l *InMemory) Refund(_ context.Context, to id.Address, deposit models.Deposit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	value, ok := l.deposits[deposit.ObjectID]
	if !ok {
		return nil
	}
	if l.custody < value {
		return fmt.Errorf("refund %s: %w", deposit.ObjectID, sentinel.ErrInsufficientFunds)
	}
	delete(l.deposits, deposit.ObjectID)
	l.custody -= value
	l.accounts[to] += value
	return nil
}

// Transfer pays amount out of custody to an account.
func (l *InMemory) Transfer(ctx context.Context, to id.Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.custody < amount {
		return fmt.Errorf("transfer to %s: %w", to, sentinel.ErrInsufficientFunds)
	}
	l.custody -= amount
	l.accounts[to] += amount
	return nil
}
