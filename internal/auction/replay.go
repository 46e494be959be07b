package auction

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jensholdgaard/auction-house/internal/event"
)

// Replay reconstructs an auction from its event history.
func Replay(events []event.Event) (Record, error) {
	if len(events) == 0 {
		return Record{}, errors.New("no events to replay")
	}
	if events[0].Type != event.AuctionCreated {
		return Record{}, fmt.Errorf("first event is %s, want %s", events[0].Type, event.AuctionCreated)
	}

	var rec Record
	for _, e := range events {
		at := e.CreatedAt
		switch e.Type {
		case event.AuctionCreated:
			var d event.AuctionCreatedData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return Record{}, fmt.Errorf("unmarshalling created event: %w", err)
			}
			rec = Record{
				ID:             e.AggregateID,
				CreatorID:      d.CreatorID,
				Sport:          d.Sport,
				Game:           d.Game,
				GameNumber:     d.GameNumber,
				GameDate:       d.GameDate,
				GameStatus:     GameScheduled,
				Player:         d.Player,
				Metric:         d.Metric,
				Condition:      Condition(d.Condition),
				PredictedValue: d.PredictedValue,
				Stake:          d.Stake,
				Currency:       Currency(d.Currency),
				Multiplier:     d.Multiplier,
				CreatedAt:      at,
				ExpiresAt:      d.ExpiresAt,
				Status:         StatusOpen,
			}

		case event.AuctionSold:
			var d event.AuctionSoldData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return Record{}, fmt.Errorf("unmarshalling sold event: %w", err)
			}
			rec.BuyerID = d.BuyerID
			rec.PurchaseKey = d.IdempotencyKey
			rec.SoldAt = &at
			rec.Status = StatusSold

		case event.AuctionCompleted:
			var d event.AuctionCompletedData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return Record{}, fmt.Errorf("unmarshalling completed event: %w", err)
			}
			actual := d.ActualValue
			rec.ActualValue = &actual
			rec.WinnerID = d.WinnerID
			rec.SettledAt = &at
			rec.Status = StatusCompleted

		case event.AuctionRefunded:
			var d event.AuctionRefundedData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return Record{}, fmt.Errorf("unmarshalling refunded event: %w", err)
			}
			rec.RefundReason = d.Reason
			rec.SettledAt = &at
			rec.Status = StatusRefunded

		case event.AuctionStakeReturned:
			rec.StakeReturned = true

		case event.AuctionGameStatus:
			var d event.GameStatusData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return Record{}, fmt.Errorf("unmarshalling game status event: %w", err)
			}
			rec.GameStatus = GameStatus(d.Status)
		}
		rec.Version = e.Version
	}
	return rec, nil
}
