package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/store"
)

func getAccount(ctx context.Context, q sqlx.QueryerContext, userID string, lock bool) (store.Account, error) {
	query := `SELECT ` + store.AccountColumns + ` FROM accounts WHERE user_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var row store.AccountRow
	if err := sqlx.GetContext(ctx, q, &row, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Account{}, fmt.Errorf("account %s: %w", userID, store.ErrNotFound)
		}
		return store.Account{}, fmt.Errorf("getting account: %w", err)
	}
	return row.Account(), nil
}

func (s *Store) Account(ctx context.Context, userID string) (store.Account, error) {
	return getAccount(ctx, s.db, userID, false)
}

func (t *tx) LockAccount(ctx context.Context, userID string) (store.Account, error) {
	return getAccount(ctx, t.tx, userID, true)
}

func (t *tx) CreateAccount(ctx context.Context, acct store.Account) error {
	now := t.clock.Now().UTC()
	_, err := t.tx.ExecContext(ctx, store.InsertAccountSQL,
		acct.UserID, acct.Balance.Standard, acct.Balance.Premium, acct.LastClaimAt, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("account %s: %w", acct.UserID, store.ErrConflict)
		}
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

// Adjust locks the row and checks the result in Go: letting the CHECK
// constraint reject it would abort the whole transaction.
func (t *tx) Adjust(ctx context.Context, userID string, cur auction.Currency, delta decimal.Decimal) (auction.Balance, error) {
	acct, err := t.LockAccount(ctx, userID)
	if err != nil {
		return auction.Balance{}, err
	}
	next := acct.Balance.Add(cur, delta)
	if next.Of(cur).IsNegative() {
		return acct.Balance, fmt.Errorf("account %s %s: %w", userID, cur, store.ErrInsufficientFunds)
	}
	col := store.CurrencyColumn(cur)
	_, err = t.tx.ExecContext(ctx,
		`UPDATE accounts SET `+col+` = $1, updated_at = $2 WHERE user_id = $3`,
		next.Of(cur), t.clock.Now().UTC(), userID)
	if err != nil {
		return acct.Balance, fmt.Errorf("adjusting balance: %w", err)
	}
	return next, nil
}

func (t *tx) MarkClaimed(ctx context.Context, userID string, at time.Time) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET last_claim_at = $1, updated_at = $2 WHERE user_id = $3`,
		at.UTC(), t.clock.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("marking claim: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("account %s: %w", userID, store.ErrNotFound)
	}
	return nil
}
