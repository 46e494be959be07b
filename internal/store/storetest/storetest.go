// Package storetest holds behaviour every store.Store driver must share.
// Driver packages call Run from their tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/event"
	"github.com/jensholdgaard/auction-house/internal/store"
)

// Now is the reference time fixtures are built around.
var Now = time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)

// Record returns an open auction created by creator that expires an hour
// after Now.
func Record(id, creator string) auction.Record {
	return auction.Record{
		ID:             id,
		CreatorID:      creator,
		Sport:          "nba",
		Game:           "Celtics vs Knicks",
		GameNumber:     1,
		GameDate:       Now.Add(2 * time.Hour),
		GameStatus:     auction.GameScheduled,
		Player:         "Jayson Tatum",
		Metric:         "points",
		Condition:      auction.Over,
		PredictedValue: 20.5,
		Stake:          decimal.RequireFromString("10.12345"),
		Currency:       auction.Standard,
		Multiplier:     decimal.RequireFromString("1.50"),
		CreatedAt:      Now,
		ExpiresAt:      Now.Add(time.Hour),
		Status:         auction.StatusOpen,
		Version:        1,
	}
}

// Run exercises s. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("insert and get", func(t *testing.T) { testInsertGet(t, newStore(t)) })
	t.Run("duplicate insert", func(t *testing.T) { testDuplicate(t, newStore(t)) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("list", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("events", func(t *testing.T) { testEvents(t, newStore(t)) })
	t.Run("serialised updates", func(t *testing.T) { testSerialisedUpdates(t, newStore(t)) })
}

func insert(t *testing.T, s store.Store, recs ...auction.Record) {
	t.Helper()
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, rec := range recs {
			if err := tx.Insert(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("inserting: %v", err)
	}
}

func testInsertGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := Record("a1", "alice")
	insert(t, s, rec)

	got, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.CreatorID != "alice" || got.Condition != auction.Over || got.PredictedValue != 20.5 ||
		!got.Stake.Equal(rec.Stake) || !got.Multiplier.Equal(rec.Multiplier) ||
		!got.ExpiresAt.Equal(rec.ExpiresAt) || got.BuyerID != "" || got.ActualValue != nil {
		t.Errorf("Get() = %+v\nwant %+v", got, rec)
	}

	sold := got
	soldAt := Now.Add(time.Minute)
	actual := 22.0
	sold.BuyerID, sold.SoldAt, sold.PurchaseKey = "bob", &soldAt, "k1"
	sold.Status, sold.ActualValue, sold.WinnerID, sold.SettledAt = auction.StatusCompleted, &actual, "alice", &soldAt
	sold.Version = 3
	if err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error { return tx.Update(ctx, sold) }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, err = s.Get(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.BuyerID != "bob" || got.WinnerID != "alice" || got.ActualValue == nil || *got.ActualValue != 22 ||
		got.PurchaseKey != "k1" || got.Version != 3 || got.SoldAt == nil || !got.SoldAt.Equal(soldAt) {
		t.Errorf("after update Get() = %+v", got)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func testDuplicate(t *testing.T, s store.Store) {
	insert(t, s, Record("a1", "alice"))
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Insert(ctx, Record("a1", "mallory"))
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("duplicate Insert() error = %v, want ErrConflict", err)
	}
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Insert(ctx, Record("a1", "alice")); err != nil {
			return err
		}
		if err := tx.CreateAccount(ctx, store.Account{UserID: "alice"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() error = %v, want boom", err)
	}
	if _, err := s.Get(ctx, "a1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("auction survived rollback: %v", err)
	}
	if _, err := s.Account(ctx, "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("account survived rollback: %v", err)
	}
}

func testAccounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateAccount(ctx, store.Account{
			UserID:  "alice",
			Balance: auction.Balance{Standard: decimal.NewFromInt(100), Premium: decimal.NewFromInt(5)},
		})
	})
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}

	var bal auction.Balance
	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		bal, err = tx.Adjust(ctx, "alice", auction.Standard, decimal.RequireFromString("-40.5"))
		return err
	})
	if err != nil {
		t.Fatalf("Adjust() error = %v", err)
	}
	if !bal.Standard.Equal(decimal.RequireFromString("59.5")) || !bal.Premium.Equal(decimal.NewFromInt(5)) {
		t.Errorf("balance after debit = %+v", bal)
	}

	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Adjust(ctx, "alice", auction.Premium, decimal.NewFromInt(-6))
		return err
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Errorf("overdraw error = %v, want ErrInsufficientFunds", err)
	}

	claimed := Now.Add(3 * time.Hour)
	if err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error { return tx.MarkClaimed(ctx, "alice", claimed) }); err != nil {
		t.Fatalf("MarkClaimed() error = %v", err)
	}

	acct, err := s.Account(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !acct.Balance.Premium.Equal(decimal.NewFromInt(5)) || !acct.Balance.Standard.Equal(decimal.RequireFromString("59.5")) {
		t.Errorf("account after failed overdraw = %+v", acct.Balance)
	}
	if acct.LastClaimAt == nil || !acct.LastClaimAt.Equal(claimed) {
		t.Errorf("LastClaimAt = %v, want %v", acct.LastClaimAt, claimed)
	}

	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Adjust(ctx, "nobody", auction.Standard, decimal.NewFromInt(1))
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Adjust(nobody) error = %v, want ErrNotFound", err)
	}
}

func testList(t *testing.T, s store.Store) {
	ctx := context.Background()

	open := Record("a1", "alice")
	expired := Record("a2", "alice")
	expired.CreatedAt = Now.Add(-2 * time.Hour)
	expired.ExpiresAt = Now.Add(-time.Hour)
	sold := Record("a3", "bob")
	sold.CreatedAt = Now.Add(time.Minute)
	sold.BuyerID, sold.Status = "alice", auction.StatusSold
	returned := Record("a4", "carol")
	returned.CreatedAt = Now.Add(-3 * time.Hour)
	returned.ExpiresAt = Now.Add(-2 * time.Hour)
	returned.StakeReturned = true
	other := Record("a5", "carol")
	other.GameDate = Now.Add(48 * time.Hour)
	other.Sport = "mlb"
	insert(t, s, open, expired, sold, returned, other)

	tests := []struct {
		name string
		q    store.Query
		want []string
	}{
		{name: "all newest first", q: store.Query{}, want: []string{"a3", "a5", "a1", "a2", "a4"}},
		{name: "by creator", q: store.Query{CreatorID: "alice"}, want: []string{"a1", "a2"}},
		{name: "participant", q: store.Query{ParticipantID: "alice"}, want: []string{"a3", "a1", "a2"}},
		{name: "market", q: store.Query{ExcludeCreatorID: "alice", Statuses: []auction.Status{auction.StatusOpen}, Now: Now}, want: []string{"a5"}},
		{name: "expired", q: store.Query{Statuses: []auction.Status{auction.StatusExpired}, Now: Now}, want: []string{"a2", "a4"}},
		{name: "expired unreturned", q: store.Query{Statuses: []auction.Status{auction.StatusExpired}, Now: Now, UnreturnedStake: true}, want: []string{"a2"}},
		{name: "open or sold", q: store.Query{Statuses: []auction.Status{auction.StatusOpen, auction.StatusSold}, Now: Now}, want: []string{"a3", "a5", "a1"}},
		{name: "sport", q: store.Query{Sport: "MLB"}, want: []string{"a5"}},
		{name: "game day", q: store.Query{Game: "Celtics vs Knicks", GameDay: Now}, want: []string{"a3", "a1", "a2", "a4"}},
		{name: "limit", q: store.Query{Limit: 2}, want: []string{"a3", "a5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.q)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			ids := make([]string, len(got))
			for i, rec := range got {
				ids[i] = rec.ID
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.want) {
				t.Errorf("List() = %v, want %v", ids, tt.want)
			}
		})
	}
}

func testEvents(t *testing.T, s store.Store) {
	ctx := context.Background()
	mk := func(agg string, typ event.Type, version int) event.Event {
		data, _ := json.Marshal(map[string]int{"v": version})
		return event.Event{
			ID:          uuid.NewString(),
			AggregateID: agg,
			Type:        typ,
			Data:        data,
			Version:     version,
			CreatedAt:   Now.Add(time.Duration(version) * time.Second),
		}
	}
	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Append(ctx,
			mk("a1", event.AuctionSold, 2),
			mk("a1", event.AuctionCreated, 1),
			mk("a2", event.AuctionCreated, 1),
		)
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := s.Load(ctx, "a1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 2 || got[0].Version != 1 || got[1].Version != 2 || got[0].Type != event.AuctionCreated {
		t.Errorf("Load() = %+v", got)
	}
	var payload map[string]int
	if err := json.Unmarshal(got[1].Data, &payload); err != nil || payload["v"] != 2 {
		t.Errorf("event data = %s, %v", got[1].Data, err)
	}

	created, err := s.LoadByType(ctx, event.AuctionCreated)
	if err != nil {
		t.Fatalf("LoadByType() error = %v", err)
	}
	if len(created) != 2 {
		t.Errorf("LoadByType() returned %d events, want 2", len(created))
	}
}

func testSerialisedUpdates(t *testing.T, s store.Store) {
	ctx := context.Background()
	insert(t, s, Record("a1", "alice"))

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
				rec, err := tx.Lock(ctx, "a1")
				if err != nil {
					return err
				}
				rec.Version++
				return tx.Update(ctx, rec)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("InTx() error = %v", err)
		}
	}

	got, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 1+n {
		t.Errorf("Version = %d, want %d (lost update)", got.Version, 1+n)
	}
}
