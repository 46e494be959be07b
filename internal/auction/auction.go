package auction

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auction-house/internal/pricing"
)

// Status is the lifecycle state of an auction. Only open, sold, completed
// and refunded are ever stored; expired is derived from the clock.
type Status string

const (
	StatusOpen      Status = "open"
	StatusSold      Status = "sold"
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition can leave s, other than
// the one-time stake return on an expired auction.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded || s == StatusExpired
}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusOpen, StatusSold, StatusCompleted, StatusRefunded, StatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Condition is the creator's claim about the actual value relative to the
// predicted value.
type Condition string

const (
	Over       Condition = "over"
	Under      Condition = "under"
	Exactly    Condition = "exactly"
	NotExactly Condition = "not exactly"
)

// ParseCondition normalises user input to a Condition.
func ParseCondition(s string) (Condition, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", " ", "-", " ").Replace(norm)
	switch c := Condition(norm); c {
	case Over, Under, Exactly, NotExactly:
		return c, nil
	}
	return "", fmt.Errorf("unknown condition %q", s)
}

// Opposite is the buyer's side of the bet.
func (c Condition) Opposite() Condition {
	return Condition(pricing.OppositeCondition(string(c)))
}

// Holds reports whether the creator's claim is true for actual.
func (c Condition) Holds(actual, predicted float64) bool {
	switch c {
	case Over:
		return actual > predicted
	case Under:
		return actual < predicted
	case Exactly:
		return actual == predicted
	case NotExactly:
		return actual != predicted
	}
	return false
}

// Currency is the kind of balance a bet is denominated in.
type Currency string

const (
	Standard Currency = "standard"
	Premium  Currency = "premium"
)

// NormalizeCurrency maps legacy currency names onto the two kinds. It is
// only applied to input crossing a boundary; stored records always carry a
// canonical value. An empty name means standard.
func NormalizeCurrency(s string) (Currency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard", "silver", "common", "credits":
		return Standard, nil
	case "premium", "gold", "imperium":
		return Premium, nil
	}
	return "", fmt.Errorf("unknown currency %q", s)
}

// GameStatus is the live state of the underlying game.
type GameStatus string

const (
	GameLive      GameStatus = "live"
	GameScheduled GameStatus = "scheduled"
	GameFinal     GameStatus = "final"
	GameUnknown   GameStatus = "unknown"
)

// ParseGameStatus maps feed vocabulary onto a GameStatus. Anything it does
// not recognise is GameUnknown.
func ParseGameStatus(s string) GameStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "live", "in progress", "in_progress", "halftime":
		return GameLive
	case "scheduled", "pre-game", "pregame", "preview":
		return GameScheduled
	case "final", "completed", "game over":
		return GameFinal
	}
	return GameUnknown
}

// Rank orders game statuses for settlement views: live games first.
func (g GameStatus) Rank() int {
	switch g {
	case GameLive:
		return 0
	case GameScheduled:
		return 1
	case GameFinal:
		return 2
	}
	return 3
}

// Record is a single prop bet.
type Record struct {
	ID             string          `json:"id"`
	CreatorID      string          `json:"creator_id"`
	BuyerID        string          `json:"buyer_id,omitempty"`
	Sport          string          `json:"sport"`
	Game           string          `json:"game"`
	GameNumber     int             `json:"game_number"`
	GameDate       time.Time       `json:"game_date"`
	GameStatus     GameStatus      `json:"game_status"`
	Player         string          `json:"player"`
	Metric         string          `json:"metric"`
	Condition      Condition       `json:"condition"`
	PredictedValue float64         `json:"predicted_value"`
	Stake          decimal.Decimal `json:"stake"`
	Currency       Currency        `json:"currency"`
	Multiplier     decimal.Decimal `json:"multiplier"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	Status         Status          `json:"status"`
	ActualValue    *float64        `json:"actual_value,omitempty"`
	WinnerID       string          `json:"winner_id,omitempty"`
	SoldAt         *time.Time      `json:"sold_at,omitempty"`
	SettledAt      *time.Time      `json:"settled_at,omitempty"`
	RefundReason   string          `json:"refund_reason,omitempty"`
	StakeReturned  bool            `json:"stake_returned,omitempty"`
	PurchaseKey    string          `json:"-"`
	Version        int             `json:"version"`
}

// EffectiveStatus is the status as seen at now: an open auction past its
// expiry is expired.
func (r Record) EffectiveStatus(now time.Time) Status {
	if r.Status == StatusOpen && !now.Before(r.ExpiresAt) {
		return StatusExpired
	}
	return r.Status
}

// WithEffectiveStatus returns r with Status replaced by the status at now.
func (r Record) WithEffectiveStatus(now time.Time) Record {
	r.Status = r.EffectiveStatus(now)
	return r
}

// Cost is what a buyer pays for r.
func (r Record) Cost() decimal.Decimal { return pricing.Cost(r.Stake, r.Multiplier) }

// Pot is what the winner of r receives.
func (r Record) Pot() decimal.Decimal { return pricing.TotalPot(r.Stake, r.Multiplier) }

// Involves reports whether userID is a party to r.
func (r Record) Involves(userID string) bool {
	return userID != "" && (r.CreatorID == userID || r.BuyerID == userID)
}

// RoleOf returns the side userID holds in r.
func (r Record) RoleOf(userID string) pricing.Role {
	if r.BuyerID != "" && r.BuyerID == userID {
		return pricing.Buyer
	}
	return pricing.Creator
}

// Balance is a user's holdings in each currency.
type Balance struct {
	Standard decimal.Decimal `json:"standard"`
	Premium  decimal.Decimal `json:"premium"`
}

// Of returns the amount held in c.
func (b Balance) Of(c Currency) decimal.Decimal {
	if c == Premium {
		return b.Premium
	}
	return b.Standard
}

// Add returns b with delta applied to c.
func (b Balance) Add(c Currency, delta decimal.Decimal) Balance {
	if c == Premium {
		b.Premium = b.Premium.Add(delta)
	} else {
		b.Standard = b.Standard.Add(delta)
	}
	return b
}
