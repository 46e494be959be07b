package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/event"
	"github.com/jensholdgaard/auction-house/internal/pricing"
	"github.com/jensholdgaard/auction-house/internal/store"
)

// ErrAlreadyClaimed is returned when the daily allowance was already taken
// today.
var ErrAlreadyClaimed = errors.New("daily allowance already claimed")

// Reasons recorded on balance.adjusted events.
const (
	ReasonStarting      = "starting balance"
	ReasonDaily         = "daily allowance"
	ReasonStake         = "stake"
	ReasonPurchase      = "purchase"
	ReasonPayout        = "payout"
	ReasonRefund        = "refund"
	ReasonStakeReturned = "stake returned"
)

// Settings are the balance rules applied by the Manager.
type Settings struct {
	Starting      decimal.Decimal
	Allowance     decimal.Decimal
	DailyCurrency auction.Currency
}

// Manager handles balance operations.
type Manager struct {
	store    store.Store
	settings Settings
	clock    clock.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewManager returns a new ledger Manager.
func NewManager(s store.Store, settings Settings, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider) *Manager {
	return &Manager{
		store:    s,
		settings: settings,
		clock:    clk,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/auction-house/internal/ledger"),
	}
}

// EnsureAccount opens an account with the starting balance the first time a
// user is seen. It runs in its own transaction; a concurrent creation of the
// same account is not an error.
func (m *Manager) EnsureAccount(ctx context.Context, userID string) (store.Account, error) {
	if userID == "" {
		return store.Account{}, auction.Reject(auction.ErrValidation, "user is required")
	}
	acct, err := m.store.Account(ctx, userID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Account{}, fmt.Errorf("reading account: %w", err)
	}

	err = m.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateAccount(ctx, store.Account{UserID: userID}); err != nil {
			return err
		}
		if m.settings.Starting.IsPositive() {
			if _, err := m.Credit(ctx, tx, userID, auction.Standard, m.settings.Starting, ReasonStarting); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return store.Account{}, fmt.Errorf("opening account: %w", err)
	}
	if err == nil {
		m.logger.InfoContext(ctx, "account opened",
			slog.String("user_id", userID),
			slog.String("starting", m.settings.Starting.String()),
		)
	}
	return m.store.Account(ctx, userID)
}

// Credit adds amount to a balance inside tx and records the adjustment.
func (m *Manager) Credit(ctx context.Context, tx store.Tx, userID string, cur auction.Currency, amount decimal.Decimal, reason string) (auction.Balance, error) {
	return m.adjust(ctx, tx, userID, cur, amount, reason)
}

// Debit removes amount from a balance inside tx and records the adjustment.
// It fails with auction.ErrInsufficientFunds rather than going negative.
func (m *Manager) Debit(ctx context.Context, tx store.Tx, userID string, cur auction.Currency, amount decimal.Decimal, reason string) (auction.Balance, error) {
	return m.adjust(ctx, tx, userID, cur, amount.Neg(), reason)
}

func (m *Manager) adjust(ctx context.Context, tx store.Tx, userID string, cur auction.Currency, delta decimal.Decimal, reason string) (auction.Balance, error) {
	bal, err := tx.Adjust(ctx, userID, cur, delta)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return bal, auction.Reject(auction.ErrInsufficientFunds,
				"%s %s needed, %s available", delta.Neg().StringFixed(pricing.StakePlaces), cur, bal.Of(cur).StringFixed(pricing.StakePlaces))
		}
		return bal, fmt.Errorf("adjusting %s balance: %w", cur, err)
	}

	data, _ := json.Marshal(event.BalanceAdjustedData{
		UserID:   userID,
		Currency: string(cur),
		Delta:    delta,
		Reason:   reason,
	})
	evt := event.Event{
		ID:          uuid.NewString(),
		AggregateID: userID,
		Type:        event.BalanceAdjusted,
		Data:        data,
		CreatedAt:   m.clock.Now().UTC(),
	}
	if err := tx.Append(ctx, evt); err != nil {
		return bal, fmt.Errorf("appending balance event: %w", err)
	}
	return bal, nil
}

// Balance returns a user's holdings, opening the account if needed.
func (m *Manager) Balance(ctx context.Context, userID string) (auction.Balance, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Balance",
		trace.WithAttributes(attribute.String("user_id", userID)),
	)
	defer span.End()

	acct, err := m.EnsureAccount(ctx, userID)
	if err != nil {
		return auction.Balance{}, err
	}
	return acct.Balance, nil
}

// Grant adds amount to a user's balance.
func (m *Manager) Grant(ctx context.Context, userID string, cur auction.Currency, amount decimal.Decimal, reason string) (auction.Balance, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Grant",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	if !amount.IsPositive() {
		return auction.Balance{}, auction.Reject(auction.ErrValidation, "amount must be positive")
	}
	if _, err := m.EnsureAccount(ctx, userID); err != nil {
		return auction.Balance{}, err
	}

	var bal auction.Balance
	err := m.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		bal, err = m.Credit(ctx, tx, userID, cur, amount, reason)
		return err
	})
	if err != nil {
		return auction.Balance{}, fmt.Errorf("granting balance: %w", err)
	}

	m.logger.InfoContext(ctx, "balance granted",
		slog.String("user_id", userID),
		slog.String("currency", string(cur)),
		slog.String("amount", amount.String()),
		slog.String("reason", reason),
	)
	return bal, nil
}

// Deduct removes amount from a user's balance.
func (m *Manager) Deduct(ctx context.Context, userID string, cur auction.Currency, amount decimal.Decimal, reason string) (auction.Balance, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Deduct",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	if !amount.IsPositive() {
		return auction.Balance{}, auction.Reject(auction.ErrValidation, "amount must be positive")
	}
	if _, err := m.EnsureAccount(ctx, userID); err != nil {
		return auction.Balance{}, err
	}

	var bal auction.Balance
	err := m.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		bal, err = m.Debit(ctx, tx, userID, cur, amount, reason)
		return err
	})
	if err != nil {
		return auction.Balance{}, fmt.Errorf("deducting balance: %w", err)
	}

	m.logger.InfoContext(ctx, "balance deducted",
		slog.String("user_id", userID),
		slog.String("currency", string(cur)),
		slog.String("amount", amount.String()),
		slog.String("reason", reason),
	)
	return bal, nil
}

// ClaimDailyAllowance credits the daily allowance once per UTC day.
func (m *Manager) ClaimDailyAllowance(ctx context.Context, userID string) (auction.Balance, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ClaimDailyAllowance",
		trace.WithAttributes(attribute.String("user_id", userID)),
	)
	defer span.End()

	if _, err := m.EnsureAccount(ctx, userID); err != nil {
		return auction.Balance{}, err
	}

	now := m.clock.Now().UTC()
	var bal auction.Balance
	err := m.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		if acct.LastClaimAt != nil && sameDay(*acct.LastClaimAt, now) {
			return ErrAlreadyClaimed
		}
		if err := tx.MarkClaimed(ctx, userID, now); err != nil {
			return err
		}
		bal, err = m.Credit(ctx, tx, userID, m.settings.DailyCurrency, m.settings.Allowance, ReasonDaily)
		return err
	})
	if err != nil {
		return auction.Balance{}, fmt.Errorf("claiming daily allowance: %w", err)
	}

	m.logger.InfoContext(ctx, "daily allowance claimed",
		slog.String("user_id", userID),
		slog.String("amount", m.settings.Allowance.String()),
	)
	return bal, nil
}

// NextClaim returns when the allowance may next be claimed after a claim
// at last.
func NextClaim(last time.Time) time.Time {
	y, mo, d := last.UTC().Date()
	return time.Date(y, mo, d+1, 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
