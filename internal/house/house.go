// Package house is the authoritative auction and ledger service. It owns the
// compare-and-set that guarantees an auction is bought at most once, moves
// balances in the same transaction as every state change, and resolves
// sold auctions against reported outcomes.
package house

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/event"
	"github.com/jensholdgaard/auction-house/internal/ledger"
	"github.com/jensholdgaard/auction-house/internal/store"
	"github.com/jensholdgaard/auction-house/internal/telemetry"
)

// PurchaseCache remembers which auction an idempotency key bought.
type PurchaseCache interface {
	Lookup(ctx context.Context, key string) (auctionID string, ok bool, err error)
	Remember(ctx context.Context, key, auctionID string) error
}

// Notifier is told about every committed transition.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Notice describes a committed transition of one auction.
type Notice struct {
	AuctionID string         `json:"auction_id"`
	Type      event.Type     `json:"type"`
	Status    auction.Status `json:"status"`
	BuyerID   string         `json:"buyer_id,omitempty"`
	At        time.Time      `json:"at"`
}

// Service implements the auction house operations.
type Service struct {
	store    store.Store
	ledger   *ledger.Manager
	resolver *auction.Resolver
	cache    PurchaseCache
	notifier Notifier
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithPurchaseCache enables the purchase idempotency cache.
func WithPurchaseCache(c PurchaseCache) Option { return func(s *Service) { s.cache = c } }

// WithNotifier publishes a Notice after every committed transition.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithMetrics records purchase, creation and settlement metrics.
func WithMetrics(m *telemetry.Metrics) Option { return func(s *Service) { s.metrics = m } }

// New creates a Service.
func New(s store.Store, l *ledger.Manager, r *auction.Resolver, logger *slog.Logger, tp trace.TracerProvider, opts ...Option) *Service {
	svc := &Service{
		store:    s,
		ledger:   l,
		resolver: r,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/auction-house/internal/house"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// CreateAuction debits the creator's stake and opens a new auction. A
// request carrying an ID the same creator already used returns the stored
// auction without a second debit, so clients may retry freely.
func (s *Service) CreateAuction(ctx context.Context, creatorID string, req auction.Request) (auction.Record, error) {
	ctx, span := s.tracer.Start(ctx, "Service.CreateAuction",
		trace.WithAttributes(attribute.String("creator.id", creatorID)),
	)
	defer span.End()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	rec, ev, err := s.resolver.Create(ctx, req.ID, creatorID, req)
	if err != nil {
		s.metrics.Creation(ctx, outcome(err))
		return auction.Record{}, err
	}
	if _, err := s.ledger.EnsureAccount(ctx, creatorID); err != nil {
		return auction.Record{}, err
	}

	var existing *auction.Record
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		prev, err := tx.Lock(ctx, rec.ID)
		switch {
		case err == nil:
			existing = &prev
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		if _, err := s.ledger.Debit(ctx, tx, creatorID, rec.Currency, rec.Stake, ledger.ReasonStake); err != nil {
			return err
		}
		if err := tx.Insert(ctx, rec); err != nil {
			return err
		}
		return tx.Append(ctx, ev)
	})
	if errors.Is(err, store.ErrConflict) {
		prev, getErr := s.store.Get(ctx, rec.ID)
		if getErr != nil {
			return auction.Record{}, fmt.Errorf("reading conflicting auction: %w", getErr)
		}
		existing, err = &prev, nil
	}
	if err != nil {
		s.metrics.Creation(ctx, outcome(err))
		return auction.Record{}, fmt.Errorf("creating auction: %w", err)
	}

	if existing != nil {
		if existing.CreatorID != creatorID {
			return auction.Record{}, auction.Reject(auction.ErrValidation, "auction id %s is already taken", rec.ID)
		}
		return existing.WithEffectiveStatus(s.resolver.Now()), nil
	}

	s.metrics.Creation(ctx, "ok")
	s.notify(ctx, rec, ev)
	s.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", rec.ID),
		slog.String("creator_id", creatorID),
		slog.String("stake", rec.Stake.String()),
		slog.String("multiplier", rec.Multiplier.String()),
	)
	return rec, nil
}

// ListAuctions returns the auctions matching q with expiry applied.
func (s *Service) ListAuctions(ctx context.Context, q store.Query) ([]auction.Record, error) {
	ctx, span := s.tracer.Start(ctx, "Service.ListAuctions")
	defer span.End()

	now := s.resolver.Now()
	if q.Now.IsZero() {
		q.Now = now
	}
	recs, err := s.store.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing auctions: %w", err)
	}
	for i := range recs {
		recs[i] = recs[i].WithEffectiveStatus(now)
	}
	return recs, nil
}

// GetAuction returns one auction with expiry applied.
func (s *Service) GetAuction(ctx context.Context, id string) (auction.Record, error) {
	ctx, span := s.tracer.Start(ctx, "Service.GetAuction",
		trace.WithAttributes(attribute.String("auction.id", id)),
	)
	defer span.End()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return auction.Record{}, notFound(id, err)
	}
	return rec.WithEffectiveStatus(s.resolver.Now()), nil
}

// PurchaseAuction is the atomic compare-and-set on the buyer. The record is
// locked for the duration of the transaction; if it already has a buyer the
// purchase is refused with ErrAlreadySold carrying that record, unless the
// buyer and key match, in which case the earlier result is returned as is.
func (s *Service) PurchaseAuction(ctx context.Context, id, buyerID, key string) (auction.Record, error) {
	ctx, span := s.tracer.Start(ctx, "Service.PurchaseAuction",
		trace.WithAttributes(
			attribute.String("auction.id", id),
			attribute.String("buyer.id", buyerID),
		),
	)
	defer span.End()
	start := time.Now()

	if buyerID == "" {
		return auction.Record{}, auction.Reject(auction.ErrValidation, "buyer is required")
	}
	if key == "" {
		return auction.Record{}, auction.Reject(auction.ErrValidation, "idempotency key is required")
	}

	if rec, ok := s.cachedPurchase(ctx, id, buyerID, key); ok {
		s.metrics.Purchase(ctx, "replayed", time.Since(start))
		return rec, nil
	}
	if _, err := s.ledger.EnsureAccount(ctx, buyerID); err != nil {
		return auction.Record{}, err
	}

	var (
		next     auction.Record
		ev       event.Event
		replayed bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.Lock(ctx, id)
		if err != nil {
			return notFound(id, err)
		}
		if rec.BuyerID != "" {
			if rec.BuyerID == buyerID && rec.PurchaseKey == key {
				next, replayed = rec, true
				return nil
			}
			return auction.Reject(auction.ErrAlreadySold, "auction %s was bought by %s", id, rec.BuyerID).
				WithAuction(rec.WithEffectiveStatus(s.resolver.Now()))
		}
		next, ev, err = s.resolver.Purchase(ctx, rec, buyerID, key)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Debit(ctx, tx, buyerID, next.Currency, next.Cost(), ledger.ReasonPurchase); err != nil {
			return err
		}
		if err := tx.Update(ctx, next); err != nil {
			return err
		}
		return tx.Append(ctx, ev)
	})
	if err != nil {
		s.metrics.Purchase(ctx, outcome(err), time.Since(start))
		return auction.Record{}, err
	}

	if s.cache != nil {
		if err := s.cache.Remember(ctx, key, id); err != nil {
			s.logger.WarnContext(ctx, "failed to cache purchase", slog.Any("error", err))
		}
	}
	if replayed {
		s.metrics.Purchase(ctx, "replayed", time.Since(start))
		return next, nil
	}

	s.metrics.Purchase(ctx, "ok", time.Since(start))
	s.notify(ctx, next, ev)
	s.logger.InfoContext(ctx, "auction sold",
		slog.String("auction_id", id),
		slog.String("buyer_id", buyerID),
		slog.String("cost", next.Cost().String()),
	)
	return next, nil
}

func (s *Service) cachedPurchase(ctx context.Context, id, buyerID, key string) (auction.Record, bool) {
	if s.cache == nil {
		return auction.Record{}, false
	}
	cached, ok, err := s.cache.Lookup(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "purchase cache lookup failed", slog.Any("error", err))
		return auction.Record{}, false
	}
	if !ok || cached != id {
		return auction.Record{}, false
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil || rec.BuyerID != buyerID || rec.PurchaseKey != key {
		return auction.Record{}, false
	}
	return rec.WithEffectiveStatus(s.resolver.Now()), true
}

// UserBalance returns a user's holdings.
func (s *Service) UserBalance(ctx context.Context, userID string) (auction.Balance, error) {
	return s.ledger.Balance(ctx, userID)
}

// ClaimDailyAllowance credits the user's daily allowance.
func (s *Service) ClaimDailyAllowance(ctx context.Context, userID string) (auction.Balance, error) {
	return s.ledger.ClaimDailyAllowance(ctx, userID)
}

// Grant credits amount to a user's balance.
func (s *Service) Grant(ctx context.Context, userID string, cur auction.Currency, amount decimal.Decimal, reason string) (auction.Balance, error) {
	return s.ledger.Grant(ctx, userID, cur, amount, reason)
}

func (s *Service) notify(ctx context.Context, rec auction.Record, ev event.Event) {
	if s.notifier == nil {
		return
	}
	n := Notice{
		AuctionID: rec.ID,
		Type:      ev.Type,
		Status:    rec.EffectiveStatus(s.resolver.Now()),
		BuyerID:   rec.BuyerID,
		At:        ev.CreatedAt,
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.WarnContext(ctx, "failed to publish notice",
			slog.String("auction_id", rec.ID),
			slog.Any("error", err),
		)
	}
}

func notFound(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return auction.Reject(auction.ErrNotFound, "no auction with id %s", id)
	}
	return fmt.Errorf("reading auction %s: %w", id, err)
}

// outcome names err for metrics.
func outcome(err error) string {
	for kind, name := range map[error]string{
		auction.ErrValidation:        "validation",
		auction.ErrInsufficientFunds: "insufficient_funds",
		auction.ErrSelfPurchase:      "self_purchase",
		auction.ErrExpired:           "expired",
		auction.ErrAlreadySold:       "already_sold",
		auction.ErrNotFound:          "not_found",
		auction.ErrInvalidTransition: "invalid_transition",
	} {
		if errors.Is(err, kind) {
			return name
		}
	}
	return telemetry.Outcome(err)
}
