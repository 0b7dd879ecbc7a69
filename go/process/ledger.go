package process

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNoAccount: the account does not exist.
	ErrNoAccount = errors.New("no such account")
	// ErrInsufficientFunds: a debit exceeds the available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Ledger is the account authority processors settle against. Amounts are in
// minor currency units.
type Ledger interface {
	// Balance returns the available balance of |account|.
	Balance(ctx context.Context, account string) (int64, error)
	// Debit withdraws |amount| and returns the new balance.
	Debit(ctx context.Context, account string, amount int64) (int64, error)
	// Credit deposits |amount| and returns the new balance.
	Credit(ctx context.Context, account string, amount int64) (int64, error)
}

// MemoryLedger is an in-process Ledger for tests and standalone gateways.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]int64)}
}

// Open creates (or resets) |account| with |balance|.
func (l *MemoryLedger) Open(account string, balance int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = balance
}

func (l *MemoryLedger) Balance(_ context.Context, account string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var bal, ok = l.balances[account]
	if !ok {
		return 0, ErrNoAccount
	}
	return bal, nil
}

func (l *MemoryLedger) Debit(_ context.Context, account string, amount int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var bal, ok = l.balances[account]
	if !ok {
		return 0, ErrNoAccount
	}
	if bal < amount {
		return bal, ErrInsufficientFunds
	}
	l.balances[account] = bal - amount
	return bal - amount, nil
}

func (l *MemoryLedger) Credit(_ context.Context, account string, amount int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var bal, ok = l.balances[account]
	if !ok {
		return 0, ErrNoAccount
	}
	l.balances[account] = bal + amount
	return bal + amount, nil
}
