package event

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Type identifies an event kind.
type Type string

const (
	AuctionCreated       Type = "auction.created"
	AuctionSold          Type = "auction.sold"
	AuctionCompleted     Type = "auction.completed"
	AuctionRefunded      Type = "auction.refunded"
	AuctionStakeReturned Type = "auction.stake_returned"
	AuctionGameStatus    Type = "auction.game_status"

	BalanceAdjusted Type = "balance.adjusted"
)

// Event represents a single domain event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// AuctionCreatedData is the payload for AuctionCreated events. It carries
// every immutable field so an auction can be rebuilt from its log alone.
type AuctionCreatedData struct {
	CreatorID      string          `json:"creator_id"`
	Sport          string          `json:"sport"`
	Game           string          `json:"game"`
	GameNumber     int             `json:"game_number"`
	GameDate       time.Time       `json:"game_date"`
	Player         string          `json:"player"`
	Metric         string          `json:"metric"`
	Condition      string          `json:"condition"`
	PredictedValue float64         `json:"predicted_value"`
	Stake          decimal.Decimal `json:"stake"`
	Currency       string          `json:"currency"`
	Multiplier     decimal.Decimal `json:"multiplier"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// AuctionSoldData is the payload for AuctionSold events.
type AuctionSoldData struct {
	BuyerID        string          `json:"buyer_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Cost           decimal.Decimal `json:"cost"`
}

// AuctionCompletedData is the payload for AuctionCompleted events.
type AuctionCompletedData struct {
	ActualValue float64         `json:"actual_value"`
	WinnerID    string          `json:"winner_id"`
	Payout      decimal.Decimal `json:"payout"`
}

// AuctionRefundedData is the payload for AuctionRefunded events.
type AuctionRefundedData struct {
	Reason string `json:"reason"`
}

// StakeReturnedData is the payload for AuctionStakeReturned events.
type StakeReturnedData struct {
	CreatorID string          `json:"creator_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// GameStatusData is the payload for AuctionGameStatus events.
type GameStatusData struct {
	Status string `json:"status"`
}

// BalanceAdjustedData is the payload for BalanceAdjusted events. The
// aggregate of a balance event is the user id.
type BalanceAdjustedData struct {
	UserID   string          `json:"user_id"`
	Currency string          `json:"currency"`
	Delta    decimal.Decimal `json:"delta"`
	Reason   string          `json:"reason"`
}
