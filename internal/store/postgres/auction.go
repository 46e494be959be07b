package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/store"
)

func getAuction(ctx context.Context, q sqlx.QueryerContext, id string, lock bool) (auction.Record, error) {
	query := `SELECT ` + store.AuctionColumns + ` FROM auctions WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var row store.Row
	if err := sqlx.GetContext(ctx, q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auction.Record{}, fmt.Errorf("auction %s: %w", id, store.ErrNotFound)
		}
		return auction.Record{}, fmt.Errorf("getting auction: %w", err)
	}
	return row.Record(), nil
}

func (s *Store) Get(ctx context.Context, id string) (auction.Record, error) {
	return getAuction(ctx, s.db, id, false)
}

func (s *Store) List(ctx context.Context, q store.Query) ([]auction.Record, error) {
	where, suffix, args := q.Where()
	var rows []store.Row
	err := s.db.SelectContext(ctx, &rows, `SELECT `+store.AuctionColumns+` FROM auctions WHERE `+where+suffix, args...)
	if err != nil {
		return nil, fmt.Errorf("listing auctions: %w", err)
	}
	out := make([]auction.Record, len(rows))
	for i, r := range rows {
		out[i] = r.Record()
	}
	return out, nil
}

func (t *tx) Lock(ctx context.Context, id string) (auction.Record, error) {
	return getAuction(ctx, t.tx, id, true)
}

func (t *tx) Insert(ctx context.Context, rec auction.Record) error {
	if _, err := t.tx.ExecContext(ctx, store.InsertAuctionSQL, store.FromRecord(rec).Args()...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("auction %s: %w", rec.ID, store.ErrConflict)
		}
		return fmt.Errorf("inserting auction: %w", err)
	}
	return nil
}

func (t *tx) Update(ctx context.Context, rec auction.Record) error {
	result, err := t.tx.ExecContext(ctx, store.UpdateAuctionSQL, store.FromRecord(rec).UpdateArgs()...)
	if err != nil {
		return fmt.Errorf("updating auction: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("auction %s: %w", rec.ID, store.ErrNotFound)
	}
	return nil
}
