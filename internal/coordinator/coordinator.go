// Package coordinator turns a user's intent to create or buy an auction into
// a single committed write against the house, keeping the local market
// store consistent with whatever the house decided.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/config"
	"github.com/jensholdgaard/auction-house/internal/market"
	"github.com/jensholdgaard/auction-house/internal/pricing"
	"github.com/jensholdgaard/auction-house/internal/telemetry"
)

// keyNamespace scopes purchase idempotency keys.
var keyNamespace = uuid.MustParse("6f1c5e8a-3b9d-5c2e-9a47-1d0b8e6f4c21")

// IdempotencyKey is the key a purchase of auctionID by buyerID is sent
// with. It is the same for every attempt, so the house debits at most once.
func IdempotencyKey(auctionID, buyerID string) string {
	return uuid.NewSHA1(keyNamespace, []byte(auctionID+"\x00"+buyerID)).String()
}

// Coordinator runs purchases and creations for one viewer's store.
type Coordinator struct {
	store    *market.Store
	remote   market.Remote
	resolver *auction.Resolver
	policy   config.PurchaseConfig
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer

	wg sync.WaitGroup
}

// New creates a Coordinator. metrics may be nil.
func New(s *market.Store, remote market.Remote, r *auction.Resolver, policy config.PurchaseConfig, logger *slog.Logger, tp trace.TracerProvider, metrics *telemetry.Metrics) *Coordinator {
	return &Coordinator{
		store:    s,
		remote:   remote,
		resolver: r,
		policy:   policy,
		metrics:  metrics,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/auction-house/internal/coordinator"),
	}
}

type result struct {
	rec auction.Record
	err error
}

// Buy purchases auctionID for buyerID. The checks run against the local
// store and balance in order (exists, open, not expired, not own auction,
// funds) and a failure leaves everything untouched. Past the checks the
// store shows the purchase tentatively until the house answers; the answer
// is reconciled even if ctx is cancelled first. Errors are
// *auction.Rejection values.
func (c *Coordinator) Buy(ctx context.Context, auctionID, buyerID string, balance auction.Balance) (auction.Record, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Buy",
		trace.WithAttributes(attribute.String("auction.id", auctionID), attribute.String("buyer.id", buyerID)),
	)
	defer span.End()
	start := time.Now()

	prev, ok := c.store.Lookup(auctionID)
	if !ok {
		return auction.Record{}, auction.Reject(auction.ErrNotFound, "auction %s is not in your market", auctionID)
	}
	if err := c.resolver.CheckPurchase(prev, buyerID); err != nil {
		if errors.Is(err, auction.ErrInvalidTransition) {
			c.logger.ErrorContext(ctx, "local auction state cannot be bought",
				slog.String("auction_id", auctionID),
				slog.String("status", string(prev.EffectiveStatus(c.resolver.Now()))),
				slog.Any("error", err),
			)
		}
		return auction.Record{}, err
	}
	cost := prev.Cost()
	if have := balance.Of(prev.Currency); have.LessThan(cost) {
		return auction.Record{}, auction.Reject(auction.ErrInsufficientFunds, "%s %s needed, %s available",
			cost.StringFixed(pricing.StakePlaces), prev.Currency, have.StringFixed(pricing.StakePlaces))
	}

	key := IdempotencyKey(auctionID, buyerID)
	tentative, _, err := c.resolver.Purchase(ctx, prev, buyerID, key)
	if err != nil {
		return auction.Record{}, err
	}
	c.store.Apply(tentative)

	rec, err := c.detach(ctx, func(ctx context.Context) (auction.Record, error) {
		rec, err := c.commitPurchase(ctx, prev, buyerID, key)
		c.metrics.Purchase(ctx, telemetry.Outcome(err), time.Since(start))
		return rec, err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return rec, err
}

func (c *Coordinator) commitPurchase(ctx context.Context, prev auction.Record, buyerID, key string) (auction.Record, error) {
	rec, err := retry(ctx, c.policy, c.logger, func() (auction.Record, error) {
		return c.remote.PurchaseAuction(ctx, prev.ID, buyerID, key)
	})
	if err == nil {
		c.store.Reconcile(rec)
		c.logger.InfoContext(ctx, "auction purchased", slog.String("auction_id", rec.ID), slog.String("buyer_id", buyerID))
		return rec, nil
	}

	rej := auction.AsRejection(err)
	switch {
	case errors.Is(rej, auction.ErrAlreadySold) && rej.Auction != nil:
		c.store.Reconcile(*rej.Auction)
	default:
		c.store.Reconcile(prev)
		if auction.Retryable(rej) {
			// The purchase may have landed; let the house say where it is.
			c.refresh(ctx, market.ViewMarket, market.ViewPending)
		}
	}
	c.logger.WarnContext(ctx, "purchase rejected",
		slog.String("auction_id", prev.ID),
		slog.String("buyer_id", buyerID),
		slog.String("error", rej.Error()),
	)
	return auction.Record{}, rej
}

// Create lists a new auction for creatorID. The request is validated and
// the stake checked against balance before anything is sent. The request
// carries a client-assigned id so retried sends create one auction.
func (c *Coordinator) Create(ctx context.Context, creatorID string, req auction.Request, balance auction.Balance) (auction.Record, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Create",
		trace.WithAttributes(attribute.String("creator.id", creatorID)),
	)
	defer span.End()

	if err := req.Validate(); err != nil {
		return auction.Record{}, auction.AsRejection(err)
	}
	cur, _ := auction.NormalizeCurrency(req.Currency)
	if have := balance.Of(cur); have.LessThan(req.Stake) {
		return auction.Record{}, auction.Reject(auction.ErrInsufficientFunds, "stake of %s %s exceeds your %s",
			req.Stake.StringFixed(pricing.StakePlaces), cur, have.StringFixed(pricing.StakePlaces))
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	return c.detach(ctx, func(ctx context.Context) (auction.Record, error) {
		rec, err := retry(ctx, c.policy, c.logger, func() (auction.Record, error) {
			return c.remote.CreateAuction(ctx, creatorID, req)
		})
		c.metrics.Creation(ctx, telemetry.Outcome(err))
		if err != nil {
			return auction.Record{}, auction.AsRejection(err)
		}
		c.store.Reconcile(rec)
		c.logger.InfoContext(ctx, "auction created", slog.String("auction_id", rec.ID), slog.String("creator_id", creatorID))
		return rec, nil
	})
}

// Wait blocks until every commit started by the Coordinator has been
// reconciled, or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// detach runs commit on a context that ignores ctx's cancellation and
// waits for it unless ctx ends first.
func (c *Coordinator) detach(ctx context.Context, commit func(context.Context) (auction.Record, error)) (auction.Record, error) {
	done := make(chan result, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		rec, err := commit(context.WithoutCancel(ctx))
		done <- result{rec, err}
	}()

	select {
	case r := <-done:
		return r.rec, r.err
	case <-ctx.Done():
		return auction.Record{}, auction.Reject(auction.ErrNetwork, "stopped waiting for the house: %v", ctx.Err())
	}
}

func (c *Coordinator) refresh(ctx context.Context, views ...market.View) {
	for _, v := range views {
		if err := c.store.Refresh(ctx, v); err != nil {
			c.logger.WarnContext(ctx, "refresh after failed commit", slog.String("view", string(v)), slog.String("error", err.Error()))
		}
	}
}

// retry calls op until it succeeds, fails with a non-network error, or the
// policy gives up.
func retry[T any](ctx context.Context, p config.PurchaseConfig, logger *slog.Logger, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.MaxElapsedTime = 0

	var policy backoff.BackOff = b
	if p.MaxRetries >= 0 {
		policy = backoff.WithMaxRetries(b, uint64(p.MaxRetries))
	}

	return backoff.RetryNotifyWithData(func() (T, error) {
		v, err := op()
		if err != nil && !auction.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "retrying commit", slog.String("error", err.Error()), slog.Duration("wait", wait))
	})
}
