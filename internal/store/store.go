package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/event"
)

// Errors returned by store implementations.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")
	ErrInsufficientFunds = errors.New("balance would go negative")
)

// Account is a user's ledger entry.
type Account struct {
	UserID      string
	Balance     auction.Balance
	LastClaimAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store persists auctions, accounts and the event log. Every mutation goes
// through InTx so a purchase, its debit and its event commit together.
type Store interface {
	event.Store

	// InTx runs fn in a transaction, committing if fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Get(ctx context.Context, id string) (auction.Record, error)
	List(ctx context.Context, q Query) ([]auction.Record, error)
	Account(ctx context.Context, userID string) (Account, error)

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// Lock reads an auction and holds it until the transaction ends, so no
	// other transaction can change it concurrently.
	Lock(ctx context.Context, id string) (auction.Record, error)
	Insert(ctx context.Context, rec auction.Record) error
	Update(ctx context.Context, rec auction.Record) error

	// LockAccount reads an account and holds it until the transaction ends.
	LockAccount(ctx context.Context, userID string) (Account, error)
	CreateAccount(ctx context.Context, acct Account) error
	// Adjust adds delta to one currency of an account and returns the new
	// balance. It fails with ErrInsufficientFunds instead of going negative.
	Adjust(ctx context.Context, userID string, cur auction.Currency, delta decimal.Decimal) (auction.Balance, error)
	MarkClaimed(ctx context.Context, userID string, at time.Time) error

	Append(ctx context.Context, events ...event.Event) error
}
