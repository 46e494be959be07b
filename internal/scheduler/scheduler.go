// Package scheduler keeps market views fresh by re-reading them on a timer,
// faster for the view the user is watching, and immediately when told a
// view changed.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/config"
	"github.com/jensholdgaard/auction-house/internal/market"
)

// Refresher re-reads one view.
type Refresher interface {
	Refresh(ctx context.Context, view market.View) error
}

// Focus is what the user is currently looking at.
type Focus struct {
	View      market.View
	AuctionID string
	// FastChanging marks a focus whose data moves quickly, such as an
	// auction on a live game.
	FastChanging bool
}

// Scheduler runs one refresh loop per view.
type Scheduler struct {
	refresher Refresher
	views     []market.View
	cfg       config.SyncConfig
	clock     clock.Clock
	logger    *slog.Logger

	mu    sync.RWMutex
	focus Focus
	wake  map[market.View]chan struct{}
}

// New creates a Scheduler for views.
func New(r Refresher, views []market.View, cfg config.SyncConfig, clk clock.Clock, logger *slog.Logger) *Scheduler {
	wake := make(map[market.View]chan struct{}, len(views))
	for _, v := range views {
		wake[v] = make(chan struct{}, 1)
	}
	return &Scheduler{refresher: r, views: views, cfg: cfg, clock: clk, logger: logger, wake: wake}
}

// IntervalFor returns how long view waits between re-reads under the
// current focus.
func (s *Scheduler) IntervalFor(view market.View) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.focus.View == view && s.focus.FastChanging {
		return s.cfg.Focused
	}
	return s.cfg.Background
}

// SetFocus changes the focus. Every loop re-reads at once and picks up its
// new interval.
func (s *Scheduler) SetFocus(f Focus) {
	s.mu.Lock()
	s.focus = f
	s.mu.Unlock()
	for _, v := range s.views {
		s.Nudge(v)
	}
}

// Focus returns the current focus.
func (s *Scheduler) Focus() Focus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focus
}

// Nudge asks for an immediate re-read of view. It never blocks; nudges that
// arrive while one is pending are merged.
func (s *Scheduler) Nudge(view market.View) {
	ch, ok := s.wake[view]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run refreshes every view until ctx is done. Refresh failures are logged
// and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, v := range s.views {
		g.Go(func() error {
			s.loop(ctx, v)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, view market.View) {
	wake := s.wake[view]
	for {
		if err := s.refresher.Refresh(ctx, view); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "refresh failed", slog.String("view", string(view)), slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.IntervalFor(view)):
		case <-wake:
		}
	}
}
