package coordinator_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/config"
	"github.com/jensholdgaard/auction-house/internal/coordinator"
	"github.com/jensholdgaard/auction-house/internal/market"
	"github.com/jensholdgaard/auction-house/internal/store"
)

var now = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

// fakeHouse is a tiny authoritative house: purchases are a compare-and-set
// on the buyer, replayed when the same key comes back.
type fakeHouse struct {
	mu    sync.Mutex
	clock clock.Clock
	recs  map[string]auction.Record

	purchases atomic.Int32
	creates   atomic.Int32
	// failures is how many leading purchase calls fail in transit.
	failures atomic.Int32
	// gate, if set, holds every purchase until closed.
	gate chan struct{}
}

func newFakeHouse(clk clock.Clock, recs ...auction.Record) *fakeHouse {
	h := &fakeHouse{clock: clk, recs: map[string]auction.Record{}}
	for _, r := range recs {
		h.recs[r.ID] = r
	}
	return h
}

func (h *fakeHouse) get(id string) auction.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recs[id]
}

func (h *fakeHouse) CreateAuction(_ context.Context, creatorID string, req auction.Request) (auction.Record, error) {
	h.creates.Add(1)
	if h.failures.Load() > 0 {
		h.failures.Add(-1)
		return auction.Record{}, auction.Reject(auction.ErrNetwork, "connection reset")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if rec, ok := h.recs[req.ID]; ok {
		return rec, nil
	}
	rec, _, err := auction.NewResolver(h.clock, noop.NewTracerProvider()).Create(context.Background(), req.ID, creatorID, req)
	if err != nil {
		return auction.Record{}, err
	}
	h.recs[rec.ID] = rec
	return rec, nil
}

func (h *fakeHouse) ListAuctions(_ context.Context, q store.Query) ([]auction.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	q.Now = h.clock.Now()
	var out []auction.Record
	for _, r := range h.recs {
		if q.Matches(r) {
			out = append(out, r.WithEffectiveStatus(q.Now))
		}
	}
	return out, nil
}

func (h *fakeHouse) PurchaseAuction(_ context.Context, id, buyerID, key string) (auction.Record, error) {
	h.purchases.Add(1)
	if h.gate != nil {
		<-h.gate
	}
	if h.failures.Load() > 0 {
		h.failures.Add(-1)
		return auction.Record{}, auction.Reject(auction.ErrNetwork, "connection reset")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.recs[id]
	if !ok {
		return auction.Record{}, auction.Reject(auction.ErrNotFound, "auction %s not found", id)
	}
	if rec.BuyerID != "" {
		if rec.BuyerID == buyerID && rec.PurchaseKey == key {
			return rec, nil
		}
		return auction.Record{}, auction.Reject(auction.ErrAlreadySold, "auction %s was bought by %s", id, rec.BuyerID).WithAuction(rec)
	}
	rec.BuyerID = buyerID
	rec.PurchaseKey = key
	rec.Status = auction.StatusSold
	rec.Version++
	h.recs[id] = rec
	return rec, nil
}

func (h *fakeHouse) UserBalance(context.Context, string) (auction.Balance, error) {
	return auction.Balance{}, nil
}

func openAuction(id, creator string) auction.Record {
	return auction.Record{
		ID:             id,
		CreatorID:      creator,
		Sport:          "nba",
		Game:           "Lakers @ Celtics",
		GameDate:       now.Add(3 * time.Hour),
		GameStatus:     auction.GameScheduled,
		Player:         "Jayson Tatum",
		Metric:         "Points",
		Condition:      auction.Over,
		PredictedValue: 20.5,
		Stake:          decimal.NewFromInt(10),
		Currency:       auction.Standard,
		Multiplier:     decimal.RequireFromString("1.5"),
		CreatedAt:      now.Add(-time.Minute),
		ExpiresAt:      now.Add(time.Hour),
		Status:         auction.StatusOpen,
		Version:        1,
	}
}

func rich() auction.Balance {
	return auction.Balance{Standard: decimal.NewFromInt(100), Premium: decimal.NewFromInt(100)}
}

var fastRetry = config.PurchaseConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

type fixture struct {
	coord *coordinator.Coordinator
	store *market.Store
	house *fakeHouse
	clock *clock.Mock
}

func newFixture(t *testing.T, viewer string, house *fakeHouse, clk *clock.Mock) fixture {
	t.Helper()
	return newLoggedFixture(t, viewer, house, clk, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newLoggedFixture(t *testing.T, viewer string, house *fakeHouse, clk *clock.Mock, logger *slog.Logger) fixture {
	t.Helper()
	tp := noop.NewTracerProvider()
	s := market.NewStore(viewer, house, clk, logger, nil)
	for _, v := range market.Views {
		if err := s.Refresh(context.Background(), v); err != nil {
			t.Fatal(err)
		}
	}
	c := coordinator.New(s, house, auction.NewResolver(clk, tp), fastRetry, logger, tp, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Wait(ctx); err != nil {
			t.Errorf("Wait: %v", err)
		}
	})
	return fixture{coord: c, store: s, house: house, clock: clk}
}

func TestBuy_Success(t *testing.T) {
	clk := clock.NewMock(now)
	f := newFixture(t, "bob", newFakeHouse(clk, openAuction("a1", "alice")), clk)

	rec, err := f.coord.Buy(context.Background(), "a1", "bob", rich())
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if rec.BuyerID != "bob" || rec.Status != auction.StatusSold {
		t.Errorf("record = %+v", rec)
	}
	if got := f.store.Snapshot(market.ViewMarket); len(got) != 0 {
		t.Errorf("market still lists a1")
	}
	if got := f.store.Snapshot(market.ViewPending); len(got) != 1 || got[0].Version != 2 {
		t.Errorf("pending = %+v", got)
	}
}

func TestBuy_RejectedLocally(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*auction.Record)
		buyer   string
		balance auction.Balance
		id      string
		want    error
	}{
		{name: "unknown auction", buyer: "bob", balance: rich(), id: "nope", want: auction.ErrNotFound},
		{name: "own auction", buyer: "alice", balance: rich(), want: auction.ErrSelfPurchase},
		{name: "insufficient funds", buyer: "bob", balance: auction.Balance{Standard: decimal.RequireFromString("4.99999")}, want: auction.ErrInsufficientFunds},
		{
			name:    "wrong currency",
			setup:   func(r *auction.Record) { r.Currency = auction.Premium },
			buyer:   "bob",
			balance: auction.Balance{Standard: decimal.NewFromInt(100)},
			want:    auction.ErrInsufficientFunds,
		},
		{
			name:    "expired",
			setup:   func(r *auction.Record) { r.ExpiresAt = now },
			buyer:   "bob",
			balance: rich(),
			want:    auction.ErrExpired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := openAuction("a1", "alice")
			if tt.setup != nil {
				tt.setup(&rec)
			}
			clk := clock.NewMock(now)
			house := newFakeHouse(clk, rec)
			// The viewer sees the auction in the market whichever side they
			// are on.
			f := newFixture(t, tt.buyer, house, clk)
			f.store.Reconcile(rec)
			before, _ := f.store.Lookup("a1")

			id := tt.id
			if id == "" {
				id = "a1"
			}
			_, err := f.coord.Buy(context.Background(), id, tt.buyer, tt.balance)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Buy error = %v, want %v", err, tt.want)
			}
			var rej *auction.Rejection
			if !errors.As(err, &rej) || rej.Reason == "" {
				t.Errorf("error %v is not a Rejection with a reason", err)
			}
			if n := house.purchases.Load(); n != 0 {
				t.Errorf("house called %d times", n)
			}
			if after, _ := f.store.Lookup("a1"); after.Version != before.Version || after.BuyerID != before.BuyerID {
				t.Errorf("store changed: %+v", after)
			}
		})
	}
}

func TestBuy_ExactBalanceIsEnough(t *testing.T) {
	clk := clock.NewMock(now)
	f := newFixture(t, "bob", newFakeHouse(clk, openAuction("a1", "alice")), clk)

	if _, err := f.coord.Buy(context.Background(), "a1", "bob", auction.Balance{Standard: decimal.NewFromInt(5)}); err != nil {
		t.Fatalf("Buy: %v", err)
	}
}

func TestBuy_AlreadySoldReconcilesToActualBuyer(t *testing.T) {
	clk := clock.NewMock(now)
	house := newFakeHouse(clk, openAuction("a1", "alice"))
	f := newFixture(t, "bob", house, clk)

	// Carol wins the race after bob's view was refreshed.
	if _, err := house.PurchaseAuction(context.Background(), "a1", "carol", "k"); err != nil {
		t.Fatal(err)
	}

	_, err := f.coord.Buy(context.Background(), "a1", "bob", rich())
	if !errors.Is(err, auction.ErrAlreadySold) {
		t.Fatalf("Buy error = %v, want ErrAlreadySold", err)
	}
	rec, ok := f.store.Lookup("a1")
	if !ok || rec.BuyerID != "carol" {
		t.Errorf("Lookup = %+v, want carol as buyer", rec)
	}
	if got := f.store.Snapshot(market.ViewPending); len(got) != 0 {
		t.Errorf("bob's pending lists someone else's purchase: %+v", got)
	}
}

func TestBuy_RetriesNetworkFailures(t *testing.T) {
	clk := clock.NewMock(now)
	house := newFakeHouse(clk, openAuction("a1", "alice"))
	house.failures.Store(2)
	f := newFixture(t, "bob", house, clk)

	rec, err := f.coord.Buy(context.Background(), "a1", "bob", rich())
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if n := house.purchases.Load(); n != 3 {
		t.Errorf("purchase calls = %d, want 3", n)
	}
	if rec.PurchaseKey != coordinator.IdempotencyKey("a1", "bob") {
		t.Errorf("key = %q", rec.PurchaseKey)
	}
}

func TestBuy_NetworkGivesUpAndRestores(t *testing.T) {
	clk := clock.NewMock(now)
	house := newFakeHouse(clk, openAuction("a1", "alice"))
	house.failures.Store(100)
	f := newFixture(t, "bob", house, clk)

	_, err := f.coord.Buy(context.Background(), "a1", "bob", rich())
	if !auction.Retryable(err) {
		t.Fatalf("Buy error = %v, want network", err)
	}
	if n := house.purchases.Load(); n != int32(fastRetry.MaxRetries+1) {
		t.Errorf("purchase calls = %d, want %d", n, fastRetry.MaxRetries+1)
	}
	rec, ok := f.store.Lookup("a1")
	if !ok || rec.BuyerID != "" || rec.Status != auction.StatusOpen {
		t.Errorf("Lookup = %+v, want the open record back", rec)
	}
}

func TestBuy_AbandonedCallerStillReconciles(t *testing.T) {
	clk := clock.NewMock(now)
	house := newFakeHouse(clk, openAuction("a1", "alice"))
	house.gate = make(chan struct{})
	f := newFixture(t, "bob", house, clk)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := f.coord.Buy(ctx, "a1", "bob", rich())
		errc <- err
	}()
	for house.purchases.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-errc; err == nil {
		t.Fatal("Buy returned nil after cancel")
	}
	if rec, _ := f.store.Lookup("a1"); rec.BuyerID != "bob" {
		t.Errorf("tentative purchase not shown: %+v", rec)
	}

	close(house.gate)
	wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer wcancel()
	if err := f.coord.Wait(wctx); err != nil {
		t.Fatal(err)
	}
	rec, _ := f.store.Lookup("a1")
	if rec.BuyerID != "bob" || rec.Version != 2 {
		t.Errorf("Lookup = %+v, want the committed purchase", rec)
	}
	if house.get("a1").BuyerID != "bob" {
		t.Error("house did not record the purchase")
	}
}

func TestBuy_ConcurrentBuyersOneWins(t *testing.T) {
	clk := clock.NewMock(now)
	house := newFakeHouse(clk, openAuction("a1", "alice"))

	buyers := []string{"bob", "carol", "dave", "erin"}
	fixtures := make([]fixture, len(buyers))
	for i, b := range buyers {
		fixtures[i] = newFixture(t, b, house, clk)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(buyers))
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = fixtures[i].coord.Buy(context.Background(), "a1", buyers[i], rich())
		}()
	}
	wg.Wait()

	winner := house.get("a1").BuyerID
	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
			if buyers[i] != winner {
				t.Errorf("%s succeeded but %s owns the auction", buyers[i], winner)
			}
		case !errors.Is(err, auction.ErrAlreadySold):
			t.Errorf("%s: %v", buyers[i], err)
		}
		if rec, _ := fixtures[i].store.Lookup("a1"); rec.BuyerID != winner {
			t.Errorf("%s sees buyer %q, want %q", buyers[i], rec.BuyerID, winner)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestIdempotencyKey(t *testing.T) {
	k := coordinator.IdempotencyKey("a1", "bob")
	if k != coordinator.IdempotencyKey("a1", "bob") {
		t.Error("key is not deterministic")
	}
	for _, other := range []string{
		coordinator.IdempotencyKey("a1", "carol"),
		coordinator.IdempotencyKey("a2", "bob"),
		coordinator.IdempotencyKey("a1b", "ob"),
	} {
		if other == k {
			t.Errorf("collision: %s", other)
		}
	}
}

func createRequest() auction.Request {
	return auction.Request{
		Sport:           "nba",
		Game:            "Lakers @ Celtics",
		GameDate:        now.Add(3 * time.Hour),
		Player:          "Jayson Tatum",
		Metric:          "Points",
		Condition:       "over",
		PredictedValue:  20.5,
		Stake:           decimal.NewFromInt(10),
		Currency:        "gold",
		Multiplier:      decimal.RequireFromString("2"),
		DurationMinutes: 60,
	}
}

func TestCreate(t *testing.T) {
	clk := clock.NewMock(now)
	house := newFakeHouse(clk)
	house.failures.Store(1)
	f := newFixture(t, "alice", house, clk)

	rec, err := f.coord.Create(context.Background(), "alice", createRequest(), rich())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Currency != auction.Premium || rec.ID == "" {
		t.Errorf("record = %+v", rec)
	}
	if n := house.creates.Load(); n != 2 {
		t.Errorf("create calls = %d, want 2", n)
	}
	if got := f.store.Snapshot(market.ViewActive); len(got) != 1 || got[0].ID != rec.ID {
		t.Errorf("active = %+v", got)
	}
}

func TestCreate_RejectedLocally(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*auction.Request)
		balance auction.Balance
		want    error
	}{
		{name: "invalid", mutate: func(r *auction.Request) { r.Multiplier = decimal.NewFromInt(1) }, balance: rich(), want: auction.ErrValidation},
		{name: "stake over balance", balance: auction.Balance{Premium: decimal.NewFromInt(9)}, want: auction.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewMock(now)
			house := newFakeHouse(clk)
			f := newFixture(t, "alice", house, clk)
			req := createRequest()
			if tt.mutate != nil {
				tt.mutate(&req)
			}
			_, err := f.coord.Create(context.Background(), "alice", req, tt.balance)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Create error = %v, want %v", err, tt.want)
			}
			if n := house.creates.Load(); n != 0 {
				t.Errorf("create calls = %d", n)
			}
		})
	}
}

func TestBuy_SettledLocallyIsLoggedAsDefect(t *testing.T) {
	clk := clock.NewMock(now)
	rec := openAuction("a1", "alice")
	rec.BuyerID, rec.Status, rec.WinnerID = "carol", auction.StatusCompleted, "carol"
	house := newFakeHouse(clk, rec)

	var logs bytes.Buffer
	f := newLoggedFixture(t, "bob", house, clk, slog.New(slog.NewJSONHandler(&logs, nil)))
	f.store.Reconcile(rec)

	_, err := f.coord.Buy(context.Background(), "a1", "bob", rich())
	if !errors.Is(err, auction.ErrInvalidTransition) {
		t.Fatalf("Buy error = %v, want ErrInvalidTransition", err)
	}
	if n := house.purchases.Load(); n != 0 {
		t.Errorf("house called %d times", n)
	}
	out := logs.String()
	if !strings.Contains(out, `"level":"ERROR"`) || !strings.Contains(out, `"auction_id":"a1"`) {
		t.Errorf("invalid transition not logged at error level: %s", out)
	}
}
