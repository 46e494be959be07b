package house

import (
	"context"
	"fmt"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/event"
)

// History returns the event log of one auction, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]event.Event, error) {
	ctx, span := s.tracer.Start(ctx, "Service.History")
	defer span.End()

	events, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	if len(events) == 0 {
		return nil, auction.Reject(auction.ErrNotFound, "no auction with id %s", id)
	}
	return events, nil
}

// AuditReport compares a stored auction with the one rebuilt from its log.
type AuditReport struct {
	Stored     auction.Record `json:"stored"`
	Replayed   auction.Record `json:"replayed"`
	Events     int            `json:"events"`
	Mismatches []string       `json:"mismatches,omitempty"`
}

// Consistent reports whether the stored state matches the log.
func (r AuditReport) Consistent() bool { return len(r.Mismatches) == 0 }

// Audit rebuilds an auction from its events and reports every field where
// the stored record disagrees.
func (s *Service) Audit(ctx context.Context, id string) (AuditReport, error) {
	stored, err := s.store.Get(ctx, id)
	if err != nil {
		return AuditReport{}, notFound(id, err)
	}
	events, err := s.History(ctx, id)
	if err != nil {
		return AuditReport{}, err
	}
	replayed, err := auction.Replay(events)
	if err != nil {
		return AuditReport{}, fmt.Errorf("replaying %s: %w", id, err)
	}

	report := AuditReport{Stored: stored, Replayed: replayed, Events: len(events)}
	check := func(field string, equal bool) {
		if !equal {
			report.Mismatches = append(report.Mismatches, field)
		}
	}
	check("creator_id", stored.CreatorID == replayed.CreatorID)
	check("buyer_id", stored.BuyerID == replayed.BuyerID)
	check("status", stored.Status == replayed.Status)
	check("stake", stored.Stake.Equal(replayed.Stake))
	check("multiplier", stored.Multiplier.Equal(replayed.Multiplier))
	check("winner_id", stored.WinnerID == replayed.WinnerID)
	check("game_status", stored.GameStatus == replayed.GameStatus)
	check("stake_returned", stored.StakeReturned == replayed.StakeReturned)
	check("version", stored.Version == replayed.Version)
	return report, nil
}
