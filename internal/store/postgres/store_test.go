package postgres_test

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/store"
	"github.com/jensholdgaard/auction-house/internal/store/postgres"
	"github.com/jensholdgaard/auction-house/internal/store/storetest"
)

func migrated(t *testing.T) (*sqlx.DB, *postgres.Store) {
	t.Helper()
	db, err := sqlx.Connect("postgres", storetest.PostgresDSN(t))
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := postgres.New(db, clock.NewMock(storetest.Now))
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db, s
}

func TestStore(t *testing.T) {
	db, s := migrated(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		t.Helper()
		if _, err := db.ExecContext(context.Background(), `TRUNCATE auctions, accounts, events`); err != nil {
			t.Fatalf("truncating: %v", err)
		}
		return s
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	_, s := migrated(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}
