// Package memory provides a store.Driver that keeps everything in process.
// Transactions are serialised by a single lock and buffer their writes, so
// a failed transaction leaves nothing behind.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/config"
	"github.com/jensholdgaard/auction-house/internal/event"
	"github.com/jensholdgaard/auction-house/internal/store"
)

func init() {
	store.Register("memory", func(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (store.Store, error) {
		return New(clk), nil
	})
}

// Store is an in-memory store.Store.
type Store struct {
	mu       sync.RWMutex
	auctions map[string]auction.Record
	accounts map[string]store.Account
	events   []event.Event
	clock    clock.Clock
}

// New returns an empty Store.
func New(clk clock.Clock) *Store {
	return &Store{
		auctions: make(map[string]auction.Record),
		accounts: make(map[string]store.Account),
		clock:    clk,
	}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &tx{
		s:        s,
		auctions: make(map[string]auction.Record),
		accounts: make(map[string]store.Account),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, rec := range tx.auctions {
		s.auctions[id] = rec
	}
	for id, acct := range tx.accounts {
		s.accounts[id] = acct
	}
	s.events = append(s.events, tx.events...)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (auction.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.auctions[id]
	if !ok {
		return auction.Record{}, fmt.Errorf("auction %s: %w", id, store.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) List(_ context.Context, q store.Query) ([]auction.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auction.Record
	for _, rec := range s.auctions {
		if q.Matches(rec) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b auction.Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) Account(_ context.Context, userID string) (store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[userID]
	if !ok {
		return store.Account{}, fmt.Errorf("account %s: %w", userID, store.ErrNotFound)
	}
	return acct, nil
}

func (s *Store) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.Event
	for _, e := range s.events {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b event.Event) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

func (s *Store) LoadByType(_ context.Context, t event.Type) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

type tx struct {
	s        *Store
	auctions map[string]auction.Record
	accounts map[string]store.Account
	events   []event.Event
}

func (t *tx) record(id string) (auction.Record, bool) {
	if rec, ok := t.auctions[id]; ok {
		return rec, true
	}
	rec, ok := t.s.auctions[id]
	return rec, ok
}

func (t *tx) account(id string) (store.Account, bool) {
	if acct, ok := t.accounts[id]; ok {
		return acct, true
	}
	acct, ok := t.s.accounts[id]
	return acct, ok
}

func (t *tx) Lock(_ context.Context, id string) (auction.Record, error) {
	rec, ok := t.record(id)
	if !ok {
		return auction.Record{}, fmt.Errorf("auction %s: %w", id, store.ErrNotFound)
	}
	return rec, nil
}

func (t *tx) Insert(_ context.Context, rec auction.Record) error {
	if _, ok := t.record(rec.ID); ok {
		return fmt.Errorf("auction %s: %w", rec.ID, store.ErrConflict)
	}
	t.auctions[rec.ID] = rec
	return nil
}

func (t *tx) Update(_ context.Context, rec auction.Record) error {
	if _, ok := t.record(rec.ID); !ok {
		return fmt.Errorf("auction %s: %w", rec.ID, store.ErrNotFound)
	}
	t.auctions[rec.ID] = rec
	return nil
}

func (t *tx) LockAccount(_ context.Context, userID string) (store.Account, error) {
	acct, ok := t.account(userID)
	if !ok {
		return store.Account{}, fmt.Errorf("account %s: %w", userID, store.ErrNotFound)
	}
	return acct, nil
}

func (t *tx) CreateAccount(_ context.Context, acct store.Account) error {
	if _, ok := t.account(acct.UserID); ok {
		return fmt.Errorf("account %s: %w", acct.UserID, store.ErrConflict)
	}
	now := t.s.clock.Now().UTC()
	acct.CreatedAt, acct.UpdatedAt = now, now
	t.accounts[acct.UserID] = acct
	return nil
}

func (t *tx) Adjust(_ context.Context, userID string, cur auction.Currency, delta decimal.Decimal) (auction.Balance, error) {
	acct, ok := t.account(userID)
	if !ok {
		return auction.Balance{}, fmt.Errorf("account %s: %w", userID, store.ErrNotFound)
	}
	next := acct.Balance.Add(cur, delta)
	if next.Of(cur).IsNegative() {
		return acct.Balance, fmt.Errorf("account %s %s: %w", userID, cur, store.ErrInsufficientFunds)
	}
	acct.Balance = next
	acct.UpdatedAt = t.s.clock.Now().UTC()
	t.accounts[userID] = acct
	return next, nil
}

func (t *tx) MarkClaimed(_ context.Context, userID string, at time.Time) error {
	acct, ok := t.account(userID)
	if !ok {
		return fmt.Errorf("account %s: %w", userID, store.ErrNotFound)
	}
	at = at.UTC()
	acct.LastClaimAt = &at
	acct.UpdatedAt = t.s.clock.Now().UTC()
	t.accounts[userID] = acct
	return nil
}

func (t *tx) Append(_ context.Context, events ...event.Event) error {
	t.events = append(t.events, events...)
	return nil
}
