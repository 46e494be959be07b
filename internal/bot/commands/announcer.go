package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/clock"
)

// announceBacklog bounds messages waiting to be posted.
const announceBacklog = 64

// Announcer turns successive snapshots of the market view into channel
// messages: new listings, and listings that left the market before they
// expired, which means someone bought them.
type Announcer struct {
	send   func(msg string) error
	clock  clock.Clock
	logger *slog.Logger
	queue  chan string

	mu     sync.Mutex
	known  map[string]auction.Record
	primed bool
}

// NewAnnouncer creates an Announcer that posts with send.
func NewAnnouncer(send func(msg string) error, clk clock.Clock, logger *slog.Logger) *Announcer {
	return &Announcer{
		send:   send,
		clock:  clk,
		logger: logger,
		queue:  make(chan string, announceBacklog),
		known:  make(map[string]auction.Record),
	}
}

// Observe takes the latest market snapshot. The first snapshot only sets
// the baseline. It never blocks.
func (a *Announcer) Observe(recs []auction.Record) {
	now := a.clock.Now()
	current := make(map[string]auction.Record, len(recs))
	for _, rec := range recs {
		current[rec.ID] = rec
	}

	a.mu.Lock()
	prev, primed := a.known, a.primed
	a.known, a.primed = current, true
	a.mu.Unlock()
	if !primed {
		return
	}

	for id, rec := range current {
		if _, ok := prev[id]; !ok {
			a.enqueue("New auction from <@" + rec.CreatorID + ">:\n" + describe(rec, "", now))
		}
	}
	for id, rec := range prev {
		if _, ok := current[id]; ok || !now.Before(rec.ExpiresAt) {
			continue
		}
		a.enqueue(fmt.Sprintf("Auction `%s` on %s %s has been bought.", shortID(id), rec.Player, rec.Metric))
	}
}

func (a *Announcer) enqueue(msg string) {
	select {
	case a.queue <- msg:
	default:
		a.logger.Warn("announcement dropped, backlog full")
	}
}

// Run posts queued announcements until ctx is done.
func (a *Announcer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.queue:
			if err := a.send(msg); err != nil {
				a.logger.ErrorContext(ctx, "posting announcement", slog.Any("error", err))
			}
		}
	}
}
