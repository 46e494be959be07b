// Package market is the client-side cache of auctions seen by one viewer.
// It keeps one set of records and derives the active, market, pending and
// history views from it, so a record replaced in one place is replaced in
// every view.
package market

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/pricing"
	"github.com/jensholdgaard/auction-house/internal/store"
	"github.com/jensholdgaard/auction-house/internal/telemetry"
)

// Remote is the authoritative auction service.
type Remote interface {
	CreateAuction(ctx context.Context, creatorID string, req auction.Request) (auction.Record, error)
	ListAuctions(ctx context.Context, q store.Query) ([]auction.Record, error)
	PurchaseAuction(ctx context.Context, auctionID, buyerID, idempotencyKey string) (auction.Record, error)
	UserBalance(ctx context.Context, userID string) (auction.Balance, error)
}

// Store caches auctions for a viewer. Every record it holds may be stale;
// only a write attempt or a refresh brings it up to date.
type Store struct {
	viewer  string
	remote  Remote
	clock   clock.Clock
	logger  *slog.Logger
	metrics *telemetry.Metrics
	group   singleflight.Group

	mu        sync.RWMutex
	records   map[string]auction.Record
	tentative map[string]bool
	filter    Filter
	subs      map[View]map[int]func([]auction.Record)
	nextSub   int
}

// NewStore creates an empty Store for viewer. metrics may be nil.
func NewStore(viewer string, remote Remote, clk clock.Clock, logger *slog.Logger, metrics *telemetry.Metrics) *Store {
	return &Store{
		viewer:    viewer,
		remote:    remote,
		clock:     clk,
		logger:    logger,
		metrics:   metrics,
		records:   make(map[string]auction.Record),
		tentative: make(map[string]bool),
		subs:      make(map[View]map[int]func([]auction.Record)),
	}
}

// Viewer returns the user the store is for.
func (s *Store) Viewer() string { return s.viewer }

// Refresh re-reads view from the remote. Concurrent refreshes of the same
// view share one request. Records with a purchase in flight keep their
// tentative state until the purchase is reconciled.
func (s *Store) Refresh(ctx context.Context, view View) error {
	_, err, _ := s.group.Do(string(view), func() (any, error) {
		recs, err := s.remote.ListAuctions(ctx, view.query(s.viewer))
		s.metrics.Refresh(ctx, string(view), telemetry.Outcome(err))
		if err != nil {
			return nil, auction.AsRejection(err)
		}
		s.replaceView(view, recs)
		return nil, nil
	})
	return err
}

func (s *Store) replaceView(view View, recs []auction.Record) {
	now := s.clock.Now()
	seen := make(map[string]bool, len(recs))
	changed := map[View]bool{}

	s.mu.Lock()
	for _, rec := range recs {
		seen[rec.ID] = true
		if s.tentative[rec.ID] {
			continue
		}
		s.put(rec, now, changed)
	}
	// Whatever the view held that the remote no longer lists has moved on
	// (bought by someone else, settled, expired) and will be picked up by
	// the view it moved to.
	for id, rec := range s.records {
		if seen[id] || s.tentative[id] || !view.contains(s.viewer, rec.WithEffectiveStatus(now)) {
			continue
		}
		s.touch(rec, now, changed)
		delete(s.records, id)
	}
	s.mu.Unlock()

	s.publish(changed)
}

// put stores rec and marks every view it left or joined. Callers hold mu.
func (s *Store) put(rec auction.Record, now time.Time, changed map[View]bool) {
	if old, ok := s.records[rec.ID]; ok {
		if old.Version == rec.Version && old.Status == rec.Status && old.BuyerID == rec.BuyerID && old.GameStatus == rec.GameStatus {
			return
		}
		s.touch(old, now, changed)
	}
	s.records[rec.ID] = rec
	s.touch(rec, now, changed)
}

func (s *Store) touch(rec auction.Record, now time.Time, changed map[View]bool) {
	eff := rec.WithEffectiveStatus(now)
	for _, v := range Views {
		if v.contains(s.viewer, eff) {
			changed[v] = true
		}
	}
}

// Apply records a tentative transition, such as a purchase that has been
// sent but not answered. It replaces the cached record wholesale.
func (s *Store) Apply(rec auction.Record) {
	changed := map[View]bool{}
	now := s.clock.Now()
	s.mu.Lock()
	s.tentative[rec.ID] = true
	if old, ok := s.records[rec.ID]; ok {
		s.touch(old, now, changed)
	}
	s.records[rec.ID] = rec
	s.touch(rec, now, changed)
	s.mu.Unlock()
	s.publish(changed)
}

// Reconcile replaces a record wholesale with the authoritative version and
// clears any tentative state for it.
func (s *Store) Reconcile(rec auction.Record) {
	now := s.clock.Now()
	changed := map[View]bool{}
	s.mu.Lock()
	delete(s.tentative, rec.ID)
	if old, ok := s.records[rec.ID]; ok {
		s.touch(old, now, changed)
	}
	s.records[rec.ID] = rec
	s.touch(rec, now, changed)
	s.mu.Unlock()
	s.publish(changed)
}

// Lookup returns the cached record with its effective status.
func (s *Store) Lookup(id string) (auction.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return auction.Record{}, false
	}
	return rec.WithEffectiveStatus(s.clock.Now()), true
}

// Snapshot returns the current contents of view. The market view has the
// current filter applied; pending and history are in settlement order, the
// others newest first.
func (s *Store) Snapshot(view View) []auction.Record {
	s.mu.RLock()
	filter := s.filter
	out := s.collect(view)
	s.mu.RUnlock()

	switch view {
	case ViewMarket:
		out = ApplyFilter(out, filter)
		sortNewest(out)
	case ViewPending, ViewHistory:
		out = SortForSettlement(out)
	default:
		sortNewest(out)
	}
	return out
}

// collect returns view's records with effective status. Callers hold mu.
func (s *Store) collect(view View) []auction.Record {
	now := s.clock.Now()
	var out []auction.Record
	for _, rec := range s.records {
		eff := rec.WithEffectiveStatus(now)
		if view.contains(s.viewer, eff) {
			out = append(out, eff)
		}
	}
	return out
}

// Pending returns the pending view restricted to auctions in which the
// viewer holds role.
func (s *Store) Pending(role pricing.Role) []auction.Record {
	all := s.Snapshot(ViewPending)
	out := all[:0]
	for _, rec := range all {
		if rec.RoleOf(s.viewer) == role {
			out = append(out, rec)
		}
	}
	return out
}

// Search returns the market view under f rather than the current filter.
func (s *Store) Search(f Filter) []auction.Record {
	s.mu.RLock()
	out := s.collect(ViewMarket)
	s.mu.RUnlock()
	out = ApplyFilter(out, f)
	sortNewest(out)
	return out
}

// Filter returns the current market filter.
func (s *Store) Filter() Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// SetFilter replaces the market filter and notifies market subscribers.
func (s *Store) SetFilter(f Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
	s.publish(map[View]bool{ViewMarket: true})
}

// Subscribe calls fn with a fresh snapshot of view whenever it may have
// changed. fn runs on the goroutine that made the change and must not
// block. The returned function cancels the subscription.
func (s *Store) Subscribe(view View, fn func([]auction.Record)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	if s.subs[view] == nil {
		s.subs[view] = make(map[int]func([]auction.Record))
	}
	s.subs[view][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[view], id)
	}
}

func (s *Store) publish(changed map[View]bool) {
	for _, view := range Views {
		if !changed[view] {
			continue
		}
		s.mu.RLock()
		fns := make([]func([]auction.Record), 0, len(s.subs[view]))
		for _, fn := range s.subs[view] {
			fns = append(fns, fn)
		}
		s.mu.RUnlock()
		if len(fns) == 0 {
			continue
		}
		snap := s.Snapshot(view)
		for _, fn := range fns {
			fn(snap)
		}
	}
}
