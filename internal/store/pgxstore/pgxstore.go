// Package pgxstore provides the "pgx" store.Driver: the same schema as the
// sqlx driver, accessed through a pgx connection pool.
package pgxstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/config"
	"github.com/jensholdgaard/auction-house/internal/event"
	"github.com/jensholdgaard/auction-house/internal/store"
)

func init() {
	store.Register("pgx", open)
}

func open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (store.Store, error) {
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := New(pool, clk)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Connect opens and verifies a pgx pool.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store with pgx.
type Store struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

// New wraps an open pool.
func New(pool *pgxpool.Pool, clk clock.Clock) *Store {
	return &Store{pool: pool, clock: clk}
}

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, store.Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = pgTx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &tx{q: pgTx, clock: s.clock}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (auction.Record, error) {
	return getAuction(ctx, s.pool, id, false)
}

func (s *Store) List(ctx context.Context, q store.Query) ([]auction.Record, error) {
	where, suffix, args := q.Where()
	rows, err := s.pool.Query(ctx, `SELECT `+store.AuctionColumns+` FROM auctions WHERE `+where+suffix, args...)
	if err != nil {
		return nil, fmt.Errorf("listing auctions: %w", err)
	}
	defer rows.Close()

	var out []auction.Record
	for rows.Next() {
		var r store.Row
		if err := rows.Scan(r.Dest()...); err != nil {
			return nil, fmt.Errorf("scanning auction: %w", err)
		}
		out = append(out, r.Record())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing auctions: %w", err)
	}
	return out, nil
}

func (s *Store) Account(ctx context.Context, userID string) (store.Account, error) {
	return getAccount(ctx, s.pool, userID, false)
}

func (s *Store) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	return loadEvents(ctx, s.pool,
		`SELECT `+store.EventColumns+` FROM events WHERE aggregate_id = $1 ORDER BY version ASC, created_at ASC`, aggregateID)
}

func (s *Store) LoadByType(ctx context.Context, t event.Type) ([]event.Event, error) {
	return loadEvents(ctx, s.pool,
		`SELECT `+store.EventColumns+` FROM events WHERE type = $1 ORDER BY created_at ASC`, string(t))
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type tx struct {
	q     pgx.Tx
	clock clock.Clock
}

func (t *tx) Lock(ctx context.Context, id string) (auction.Record, error) {
	return getAuction(ctx, t.q, id, true)
}

func (t *tx) Insert(ctx context.Context, rec auction.Record) error {
	if _, err := t.q.Exec(ctx, store.InsertAuctionSQL, store.FromRecord(rec).Args()...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("auction %s: %w", rec.ID, store.ErrConflict)
		}
		return fmt.Errorf("inserting auction: %w", err)
	}
	return nil
}

func (t *tx) Update(ctx context.Context, rec auction.Record) error {
	tag, err := t.q.Exec(ctx, store.UpdateAuctionSQL, store.FromRecord(rec).UpdateArgs()...)
	if err != nil {
		return fmt.Errorf("updating auction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("auction %s: %w", rec.ID, store.ErrNotFound)
	}
	return nil
}

func (t *tx) LockAccount(ctx context.Context, userID string) (store.Account, error) {
	return getAccount(ctx, t.q, userID, true)
}

func (t *tx) CreateAccount(ctx context.Context, acct store.Account) error {
	now := t.clock.Now().UTC()
	_, err := t.q.Exec(ctx, store.InsertAccountSQL,
		acct.UserID, acct.Balance.Standard, acct.Balance.Premium, acct.LastClaimAt, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("account %s: %w", acct.UserID, store.ErrConflict)
		}
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

func (t *tx) Adjust(ctx context.Context, userID string, cur auction.Currency, delta decimal.Decimal) (auction.Balance, error) {
	acct, err := t.LockAccount(ctx, userID)
	if err != nil {
		return auction.Balance{}, err
	}
	next := acct.Balance.Add(cur, delta)
	if next.Of(cur).IsNegative() {
		return acct.Balance, fmt.Errorf("account %s %s: %w", userID, cur, store.ErrInsufficientFunds)
	}
	_, err = t.q.Exec(ctx,
		`UPDATE accounts SET `+store.CurrencyColumn(cur)+` = $1, updated_at = $2 WHERE user_id = $3`,
		next.Of(cur), t.clock.Now().UTC(), userID)
	if err != nil {
		return acct.Balance, fmt.Errorf("adjusting balance: %w", err)
	}
	return next, nil
}

func (t *tx) MarkClaimed(ctx context.Context, userID string, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE accounts SET last_claim_at = $1, updated_at = $2 WHERE user_id = $3`,
		at.UTC(), t.clock.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("marking claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", userID, store.ErrNotFound)
	}
	return nil
}

func (t *tx) Append(ctx context.Context, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(store.InsertEventSQL, e.ID, e.AggregateID, string(e.Type), string(e.Data), e.Version, e.CreatedAt.UTC())
	}
	br := t.q.SendBatch(ctx, batch)
	defer br.Close()
	for _, e := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("inserting event (aggregate=%s, version=%d): %w", e.AggregateID, e.Version, err)
		}
	}
	return nil
}

func getAuction(ctx context.Context, q querier, id string, lock bool) (auction.Record, error) {
	query := `SELECT ` + store.AuctionColumns + ` FROM auctions WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var r store.Row
	if err := q.QueryRow(ctx, query, id).Scan(r.Dest()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auction.Record{}, fmt.Errorf("auction %s: %w", id, store.ErrNotFound)
		}
		return auction.Record{}, fmt.Errorf("getting auction: %w", err)
	}
	return r.Record(), nil
}

func getAccount(ctx context.Context, q querier, userID string, lock bool) (store.Account, error) {
	query := `SELECT ` + store.AccountColumns + ` FROM accounts WHERE user_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var r store.AccountRow
	err := q.QueryRow(ctx, query, userID).Scan(&r.UserID, &r.Standard, &r.Premium, &r.LastClaimAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Account{}, fmt.Errorf("account %s: %w", userID, store.ErrNotFound)
		}
		return store.Account{}, fmt.Errorf("getting account: %w", err)
	}
	return r.Account(), nil
}

func loadEvents(ctx context.Context, q querier, sql string, arg any) ([]event.Event, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var (
			e    event.Event
			typ  string
			data []byte
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &typ, &data, &e.Version, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Type = event.Type(typ)
		e.Data = data
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
