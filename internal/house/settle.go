package house

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/event"
	"github.com/jensholdgaard/auction-house/internal/ledger"
	"github.com/jensholdgaard/auction-house/internal/store"
)

// RefundVoid is the default refund reason for a voided outcome.
const RefundVoid = "void"

// Outcome is the resolved statistic for one auction. Void outcomes refund
// both sides, as when the game or the statistic did not happen.
type Outcome struct {
	AuctionID   string  `json:"auction_id"`
	ActualValue float64 `json:"actual_value"`
	Void        bool    `json:"void,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// GameUpdate reports the live state of a game.
type GameUpdate struct {
	Sport    string    `json:"sport"`
	Game     string    `json:"game"`
	GameDate time.Time `json:"game_date"`
	Status   string    `json:"status"`
}

// Resolve settles a sold auction. A completed auction pays the winner the
// whole pot; a refunded one returns the stake to the creator and the cost
// to the buyer. Resolving anything but a sold auction is a defect upstream
// and is rejected with ErrInvalidTransition.
func (s *Service) Resolve(ctx context.Context, o Outcome) (auction.Record, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Resolve",
		trace.WithAttributes(
			attribute.String("auction.id", o.AuctionID),
			attribute.Bool("void", o.Void),
		),
	)
	defer span.End()

	var (
		next auction.Record
		ev   event.Event
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.Lock(ctx, o.AuctionID)
		if err != nil {
			return notFound(o.AuctionID, err)
		}
		if o.Void {
			reason := strings.TrimSpace(o.Reason)
			if reason == "" {
				reason = RefundVoid
			}
			next, ev, err = s.resolver.Refund(ctx, rec, reason)
		} else {
			next, ev, err = s.resolver.Complete(ctx, rec, o.ActualValue)
		}
		if err != nil {
			return err
		}

		switch next.Status {
		case auction.StatusCompleted:
			if _, err := s.ledger.Credit(ctx, tx, next.WinnerID, next.Currency, next.Pot(), ledger.ReasonPayout); err != nil {
				return err
			}
		case auction.StatusRefunded:
			if _, err := s.ledger.Credit(ctx, tx, next.CreatorID, next.Currency, next.Stake, ledger.ReasonRefund); err != nil {
				return err
			}
			if _, err := s.ledger.Credit(ctx, tx, next.BuyerID, next.Currency, next.Cost(), ledger.ReasonRefund); err != nil {
				return err
			}
		}
		if err := tx.Update(ctx, next); err != nil {
			return err
		}
		return tx.Append(ctx, ev)
	})
	if err != nil {
		if errors.Is(err, auction.ErrInvalidTransition) {
			s.logger.ErrorContext(ctx, "outcome rejected",
				slog.String("auction_id", o.AuctionID),
				slog.Any("error", err),
			)
		}
		return auction.Record{}, err
	}

	s.metrics.Settlement(ctx, string(next.Status))
	s.notify(ctx, next, ev)
	s.logger.InfoContext(ctx, "auction settled",
		slog.String("auction_id", next.ID),
		slog.String("status", string(next.Status)),
		slog.String("winner_id", next.WinnerID),
		slog.String("refund_reason", next.RefundReason),
	)
	return next, nil
}

// UpdateGameStatus records the live state of a game on every open or sold
// auction on it and returns how many changed.
func (s *Service) UpdateGameStatus(ctx context.Context, u GameUpdate) (int, error) {
	ctx, span := s.tracer.Start(ctx, "Service.UpdateGameStatus",
		trace.WithAttributes(
			attribute.String("game", u.Game),
			attribute.String("status", u.Status),
		),
	)
	defer span.End()

	gs := auction.ParseGameStatus(u.Status)
	recs, err := s.store.List(ctx, store.Query{
		Sport:    u.Sport,
		Game:     u.Game,
		GameDay:  u.GameDate,
		Statuses: []auction.Status{auction.StatusOpen, auction.StatusSold, auction.StatusExpired},
		Now:      s.resolver.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("listing auctions for game: %w", err)
	}

	updated := 0
	for _, candidate := range recs {
		if candidate.GameStatus == gs {
			continue
		}
		var (
			next auction.Record
			ev   event.Event
		)
		err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			rec, err := tx.Lock(ctx, candidate.ID)
			if err != nil {
				return err
			}
			next, ev, err = s.resolver.SetGameStatus(rec, gs)
			if err != nil {
				return err
			}
			if err := tx.Update(ctx, next); err != nil {
				return err
			}
			return tx.Append(ctx, ev)
		})
		if errors.Is(err, auction.ErrInvalidTransition) {
			// Settled between the list and the lock.
			continue
		}
		if err != nil {
			return updated, fmt.Errorf("updating game status of %s: %w", candidate.ID, err)
		}
		updated++
		s.notify(ctx, next, ev)
	}

	if updated > 0 {
		s.logger.InfoContext(ctx, "game status updated",
			slog.String("game", u.Game),
			slog.String("status", string(gs)),
			slog.Int("auctions", updated),
		)
	}
	return updated, nil
}

// ReturnExpiredStakes credits creators back the stake of every auction that
// expired unsold. Each stake is returned exactly once.
func (s *Service) ReturnExpiredStakes(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "Service.ReturnExpiredStakes")
	defer span.End()

	recs, err := s.store.List(ctx, store.Query{
		Statuses:        []auction.Status{auction.StatusExpired},
		Now:             s.resolver.Now(),
		UnreturnedStake: true,
	})
	if err != nil {
		return 0, fmt.Errorf("listing expired auctions: %w", err)
	}

	returned := 0
	for _, candidate := range recs {
		var (
			next auction.Record
			ev   event.Event
		)
		err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			rec, err := tx.Lock(ctx, candidate.ID)
			if err != nil {
				return err
			}
			next, ev, err = s.resolver.ReturnStake(ctx, rec)
			if err != nil {
				return err
			}
			if _, err := s.ledger.Credit(ctx, tx, next.CreatorID, next.Currency, next.Stake, ledger.ReasonStakeReturned); err != nil {
				return err
			}
			if err := tx.Update(ctx, next); err != nil {
				return err
			}
			return tx.Append(ctx, ev)
		})
		if errors.Is(err, auction.ErrInvalidTransition) {
			// Another worker got there first.
			continue
		}
		if err != nil {
			return returned, fmt.Errorf("returning stake of %s: %w", candidate.ID, err)
		}
		returned++
		s.notify(ctx, next, ev)
	}

	if returned > 0 {
		s.logger.InfoContext(ctx, "expired stakes returned", slog.Int("auctions", returned))
	}
	return returned, nil
}
