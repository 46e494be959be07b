package auction

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/event"
)

// Resolver applies lifecycle transitions. Every method takes a record by
// value and returns the next record together with the event describing the
// change; the input is never modified. Illegal transitions return a
// Rejection of kind ErrInvalidTransition.
type Resolver struct {
	clock  clock.Clock
	tracer trace.Tracer
}

// NewResolver creates a Resolver.
func NewResolver(clk clock.Clock, tp trace.TracerProvider) *Resolver {
	return &Resolver{
		clock:  clk,
		tracer: tp.Tracer("github.com/jensholdgaard/auction-house/internal/auction"),
	}
}

// Now returns the resolver's notion of the current time.
func (r *Resolver) Now() time.Time { return r.clock.Now().UTC() }

// Create builds a new open auction from req.
func (r *Resolver) Create(ctx context.Context, id, creatorID string, req Request) (Record, event.Event, error) {
	_, span := r.tracer.Start(ctx, "Resolver.Create",
		trace.WithAttributes(attribute.String("auction.id", id), attribute.String("creator.id", creatorID)),
	)
	defer span.End()

	if err := req.Validate(); err != nil {
		return Record{}, event.Event{}, err
	}
	if creatorID == "" {
		return Record{}, event.Event{}, &ValidationError{Problems: []string{"creator is required"}}
	}
	cond, _ := ParseCondition(req.Condition)
	cur, _ := NormalizeCurrency(req.Currency)
	now := r.Now()

	rec := Record{
		ID:             id,
		CreatorID:      creatorID,
		Sport:          strings.ToLower(strings.TrimSpace(req.Sport)),
		Game:           strings.TrimSpace(req.Game),
		GameNumber:     GameNumberFromName(req.Game),
		GameDate:       req.GameDate.UTC(),
		GameStatus:     GameScheduled,
		Player:         strings.TrimSpace(req.Player),
		Metric:         strings.TrimSpace(req.Metric),
		Condition:      cond,
		PredictedValue: req.PredictedValue,
		Stake:          req.Stake,
		Currency:       cur,
		Multiplier:     req.Multiplier,
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Duration(req.DurationMinutes) * time.Minute),
		Status:         StatusOpen,
	}
	ev := r.next(&rec, event.AuctionCreated, event.AuctionCreatedData{
		CreatorID:      rec.CreatorID,
		Sport:          rec.Sport,
		Game:           rec.Game,
		GameNumber:     rec.GameNumber,
		GameDate:       rec.GameDate,
		Player:         rec.Player,
		Metric:         rec.Metric,
		Condition:      string(rec.Condition),
		PredictedValue: rec.PredictedValue,
		Stake:          rec.Stake,
		Currency:       string(rec.Currency),
		Multiplier:     rec.Multiplier,
		ExpiresAt:      rec.ExpiresAt,
	})
	return rec, ev, nil
}

// CheckPurchase reports why buyerID may not buy rec right now, in the
// order the checks are documented: open, not expired, not the creator.
// Funds are checked by the caller, which owns the balance.
func (r *Resolver) CheckPurchase(rec Record, buyerID string) error {
	switch st := rec.EffectiveStatus(r.Now()); st {
	case StatusOpen:
	case StatusExpired:
		return Reject(ErrExpired, "auction %s expired at %s", rec.ID, rec.ExpiresAt.Format(time.RFC3339))
	case StatusSold:
		return Reject(ErrAlreadySold, "auction %s was bought by %s", rec.ID, rec.BuyerID).WithAuction(rec)
	default:
		return Reject(ErrInvalidTransition, "auction %s is %s", rec.ID, st)
	}
	if rec.BuyerID != "" {
		return Reject(ErrAlreadySold, "auction %s was bought by %s", rec.ID, rec.BuyerID).WithAuction(rec)
	}
	if buyerID == rec.CreatorID {
		return Reject(ErrSelfPurchase, "auction %s was created by you", rec.ID)
	}
	return nil
}

// Purchase moves rec from open to sold with buyerID as buyer.
func (r *Resolver) Purchase(ctx context.Context, rec Record, buyerID, key string) (Record, event.Event, error) {
	_, span := r.tracer.Start(ctx, "Resolver.Purchase",
		trace.WithAttributes(attribute.String("auction.id", rec.ID), attribute.String("buyer.id", buyerID)),
	)
	defer span.End()

	if err := r.CheckPurchase(rec, buyerID); err != nil {
		return rec, event.Event{}, err
	}
	now := r.Now()
	rec.BuyerID = buyerID
	rec.PurchaseKey = key
	rec.SoldAt = &now
	rec.Status = StatusSold
	ev := r.next(&rec, event.AuctionSold, event.AuctionSoldData{
		BuyerID:        buyerID,
		IdempotencyKey: key,
		Cost:           rec.Cost(),
	})
	return rec, ev, nil
}

// Complete moves rec from sold to completed. The creator wins when the
// condition holds for actual, the buyer otherwise; a value on the line of
// an over/under bet is a buyer win.
func (r *Resolver) Complete(ctx context.Context, rec Record, actual float64) (Record, event.Event, error) {
	_, span := r.tracer.Start(ctx, "Resolver.Complete",
		trace.WithAttributes(attribute.String("auction.id", rec.ID), attribute.Float64("actual", actual)),
	)
	defer span.End()

	if rec.Status != StatusSold {
		return rec, event.Event{}, r.invalid(rec, StatusCompleted)
	}
	now := r.Now()
	winner := rec.BuyerID
	if rec.Condition.Holds(actual, rec.PredictedValue) {
		winner = rec.CreatorID
	}
	rec.ActualValue = &actual
	rec.WinnerID = winner
	rec.SettledAt = &now
	rec.Status = StatusCompleted
	ev := r.next(&rec, event.AuctionCompleted, event.AuctionCompletedData{
		ActualValue: actual,
		WinnerID:    winner,
		Payout:      rec.Pot(),
	})
	return rec, ev, nil
}

// Refund moves rec from sold to refunded, for a game or statistic that
// could not be resolved.
func (r *Resolver) Refund(ctx context.Context, rec Record, reason string) (Record, event.Event, error) {
	_, span := r.tracer.Start(ctx, "Resolver.Refund",
		trace.WithAttributes(attribute.String("auction.id", rec.ID), attribute.String("reason", reason)),
	)
	defer span.End()

	if rec.Status != StatusSold {
		return rec, event.Event{}, r.invalid(rec, StatusRefunded)
	}
	now := r.Now()
	rec.RefundReason = reason
	rec.SettledAt = &now
	rec.Status = StatusRefunded
	ev := r.next(&rec, event.AuctionRefunded, event.AuctionRefundedData{Reason: reason})
	return rec, ev, nil
}

// ReturnStake marks the stake of an unsold expired auction as handed back
// to its creator. It succeeds once per auction.
func (r *Resolver) ReturnStake(ctx context.Context, rec Record) (Record, event.Event, error) {
	_, span := r.tracer.Start(ctx, "Resolver.ReturnStake",
		trace.WithAttributes(attribute.String("auction.id", rec.ID)),
	)
	defer span.End()

	if rec.EffectiveStatus(r.Now()) != StatusExpired || rec.StakeReturned {
		return rec, event.Event{}, Reject(ErrInvalidTransition, "auction %s has no stake to return", rec.ID)
	}
	rec.StakeReturned = true
	ev := r.next(&rec, event.AuctionStakeReturned, event.StakeReturnedData{
		CreatorID: rec.CreatorID,
		Amount:    rec.Stake,
	})
	return rec, ev, nil
}

// SetGameStatus records the live state of the underlying game. Settled
// auctions keep the status they were settled with.
func (r *Resolver) SetGameStatus(rec Record, gs GameStatus) (Record, event.Event, error) {
	if rec.Status == StatusCompleted || rec.Status == StatusRefunded {
		return rec, event.Event{}, r.invalid(rec, rec.Status)
	}
	rec.GameStatus = gs
	ev := r.next(&rec, event.AuctionGameStatus, event.GameStatusData{Status: string(gs)})
	return rec, ev, nil
}

func (r *Resolver) invalid(rec Record, to Status) error {
	return Reject(ErrInvalidTransition, "auction %s cannot move from %s to %s",
		rec.ID, rec.EffectiveStatus(r.Now()), to)
}

func (r *Resolver) next(rec *Record, t event.Type, payload any) event.Event {
	data, _ := json.Marshal(payload)
	rec.Version++
	return event.Event{
		ID:          uuid.NewString(),
		AggregateID: rec.ID,
		Type:        t,
		Data:        data,
		Version:     rec.Version,
		CreatedAt:   r.Now(),
	}
}
