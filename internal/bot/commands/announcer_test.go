package commands_test

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/bot/commands"
	"github.com/jensholdgaard/auction-house/internal/clock"
)

type outbox struct {
	mu   sync.Mutex
	msgs []string
	got  chan struct{}
}

func (o *outbox) send(msg string) error {
	o.mu.Lock()
	o.msgs = append(o.msgs, msg)
	o.mu.Unlock()
	o.got <- struct{}{}
	return nil
}

func TestAnnouncer(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	clk := clock.NewMock(now)
	box := &outbox{got: make(chan struct{}, 16)}
	a := commands.NewAnnouncer(box.send, clk, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	rec := func(id string, expires time.Time) auction.Record {
		return auction.Record{
			ID: id, CreatorID: "alice", Player: "Jayson Tatum", Metric: "Points", Condition: auction.Over,
			PredictedValue: 20.5, Stake: decimal.NewFromInt(10), Multiplier: decimal.NewFromInt(2),
			Currency: auction.Standard, Status: auction.StatusOpen, ExpiresAt: expires,
		}
	}
	old := rec("old-one", now.Add(time.Hour))
	expiring := rec("expiring", now.Add(time.Minute))

	a.Observe([]auction.Record{old, expiring})
	fresh := rec("fresh", now.Add(time.Hour))
	a.Observe([]auction.Record{old, expiring, fresh})
	clk.Advance(2 * time.Minute)
	a.Observe([]auction.Record{fresh})

	for range 2 {
		select {
		case <-box.got:
		case <-time.After(2 * time.Second):
			t.Fatal("announcement not sent")
		}
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	all := strings.Join(box.msgs, "\n")
	if len(box.msgs) != 2 {
		t.Fatalf("messages = %q", box.msgs)
	}
	if !strings.Contains(box.msgs[0], "New auction from <@alice>") || !strings.Contains(box.msgs[0], "fresh") {
		t.Errorf("first message = %q", box.msgs[0])
	}
	if !strings.Contains(box.msgs[1], "`old-one`") || !strings.Contains(box.msgs[1], "bought") {
		t.Errorf("second message = %q", box.msgs[1])
	}
	if strings.Contains(all, "expiring") {
		t.Errorf("expired auction announced as bought: %q", all)
	}
}
