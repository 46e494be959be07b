package commands_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/bot/commands"
	"github.com/jensholdgaard/auction-house/internal/config"
	"github.com/jensholdgaard/auction-house/internal/coordinator"
	"github.com/jensholdgaard/auction-house/internal/house"
	"github.com/jensholdgaard/auction-house/internal/house/housetest"
	"github.com/jensholdgaard/auction-house/internal/market"
	"github.com/jensholdgaard/auction-house/internal/store"
)

// inProcess adapts the house service to the command's House, which speaks
// for an admin the way the HTTP client does.
type inProcess struct{ *house.Service }

func (p inProcess) Grant(ctx context.Context, _, userID string, cur auction.Currency, amount decimal.Decimal, reason string) (auction.Balance, error) {
	return p.Service.Grant(ctx, userID, cur, amount, reason)
}

func newHandlers(t *testing.T) (*commands.Handlers, *housetest.Fixture) {
	t.Helper()
	f := housetest.New(t)
	tp := noop.NewTracerProvider()
	remote := inProcess{f.Service}
	resolver := auction.NewResolver(f.Clock, tp)
	sessions := commands.NewSessions(func(userID string) *commands.Session {
		st := market.NewStore(userID, remote, f.Clock, slog.Default(), nil)
		return &commands.Session{
			Store:       st,
			Coordinator: coordinator.New(st, remote, resolver, config.Defaults().Purchase, slog.Default(), tp, nil),
		}
	})
	t.Cleanup(func() {
		if err := sessions.Wait(context.Background()); err != nil {
			t.Error(err)
		}
	})
	return commands.NewHandlers(remote, sessions, []string{"admin"}, f.Clock, slog.Default(), tp), f
}

func mustContain(t *testing.T, got string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(got, w) {
			t.Errorf("reply %q does not contain %q", got, w)
		}
	}
}

func createAuction(t *testing.T, h *commands.Handlers, f *housetest.Fixture, creator string) auction.Record {
	t.Helper()
	reply := h.Create(context.Background(), creator, housetest.Request("10", "1.5"))
	mustContain(t, reply, "Auction listed")
	recs, err := f.Service.ListAuctions(context.Background(), store.Query{CreatorID: creator})
	if err != nil || len(recs) == 0 {
		t.Fatalf("no auction stored for %s: %v", creator, err)
	}
	return recs[0]
}

func TestFlow(t *testing.T) {
	ctx := context.Background()
	h, f := newHandlers(t)
	rec := createAuction(t, h, f, "alice")

	mustContain(t, h.Search(ctx, "bob", market.Filter{Player: "tatum"}), rec.ID, "under 20.5 Points", "risk 5 standard to win 15 standard")
	mustContain(t, h.Search(ctx, "bob", market.Filter{Player: "jokic"}), "nothing here")
	mustContain(t, h.Search(ctx, "alice", market.Filter{}), "nothing here")

	mustContain(t, h.Buy(ctx, "bob", rec.ID[:8]), "You bought", rec.ID)

	mustContain(t, h.View(ctx, "alice", market.ViewActive), "sold to <@bob>")
	pending := h.View(ctx, "bob", market.ViewPending)
	mustContain(t, pending, "Pending, you created: nothing here", "Pending, you bought")
	mustContain(t, h.Balance(ctx, "alice"), "90 standard")
	mustContain(t, h.Balance(ctx, "bob"), "95 standard")
}

func TestBuy_Rejections(t *testing.T) {
	ctx := context.Background()
	h, f := newHandlers(t)
	rec := createAuction(t, h, f, "alice")

	mustContain(t, h.Buy(ctx, "alice", rec.ID), "Buying failed", "created by you")
	mustContain(t, h.Buy(ctx, "bob", "does-not-exist"), "Buying failed")

	// Carol looked at the market before bob bought.
	h.Search(ctx, "carol", market.Filter{})
	mustContain(t, h.Buy(ctx, "bob", rec.ID), "You bought")
	mustContain(t, h.Buy(ctx, "carol", rec.ID), "Too late: <@bob>")

	again := h.Buy(ctx, "bob", rec.ID)
	mustContain(t, again, "You already own")
	if strings.Contains(again, "Too late") {
		t.Errorf("repeat buy by the owner = %q", again)
	}
	mustContain(t, h.Balance(ctx, "carol"), "100 standard")
}

func TestCreate_Invalid(t *testing.T) {
	h, _ := newHandlers(t)
	req := housetest.Request("10", "1")
	mustContain(t, h.Create(context.Background(), "alice", req), "Creating the auction failed", "multiplier must be between")

	req = housetest.Request("1000", "2")
	mustContain(t, h.Create(context.Background(), "alice", req), "Creating the auction failed", "exceeds")
}

func TestDaily(t *testing.T) {
	ctx := context.Background()
	h, _ := newHandlers(t)
	mustContain(t, h.Daily(ctx, "alice"), "claimed", "125 standard")
	mustContain(t, h.Daily(ctx, "alice"), "already claimed")
}

func TestGrant(t *testing.T) {
	ctx := context.Background()
	h, _ := newHandlers(t)
	fifty := decimal.NewFromInt(50)
	mustContain(t, h.Grant(ctx, "alice", "alice", auction.Premium, fifty, "self"), "Only admins")
	mustContain(t, h.Grant(ctx, "admin", "alice", auction.Premium, fifty, "tournament"), "Granted 50 premium", "50 premium")
	mustContain(t, h.Grant(ctx, "admin", "alice", auction.Premium, decimal.Zero, "nothing"), "Granting failed")
}

func TestQuote(t *testing.T) {
	h, _ := newHandlers(t)
	got := h.Quote(decimal.NewFromInt(10), decimal.RequireFromString("1.5"))
	mustContain(t, got,
		"creator: risk 10 to win 15 (profit 5) at 1.50x, -200",
		"buyer: risk 5 to win 15 (profit 10) at 3.00x, +200",
	)
	mustContain(t, h.Quote(decimal.NewFromInt(10), decimal.NewFromInt(1)), "Quoting failed")
}
