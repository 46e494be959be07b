// Package pricing holds the payout arithmetic shared by both sides of a
// prop bet. Every function is pure.
package pricing

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// StakePlaces is the number of fractional digits a stake may carry.
// Costs and pots are rounded to the same precision.
const StakePlaces = 5

// DisplayPlaces is the precision a multiplier is shown with.
const DisplayPlaces = 2

// HighRiskMultiplier is the multiplier above which a quote is flagged.
var HighRiskMultiplier = decimal.NewFromInt(10)

// ErrMultiplier is returned when an inverse is requested for a multiplier
// that has none.
var ErrMultiplier = errors.New("multiplier must be greater than 1")

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Role is the side of the bet a viewer holds.
type Role int

const (
	Creator Role = iota
	Buyer
)

func (r Role) String() string {
	if r == Buyer {
		return "buyer"
	}
	return "creator"
}

// Cost is what the buyer pays to take the opposite side: stake × (m − 1).
func Cost(stake, m decimal.Decimal) decimal.Decimal {
	return stake.Mul(m.Sub(one)).Round(StakePlaces)
}

// TotalPot is what the winner receives: the creator's stake plus the
// buyer's cost.
func TotalPot(stake, m decimal.Decimal) decimal.Decimal {
	return stake.Add(Cost(stake, m))
}

// InverseMultiplier is the buyer's effective multiplier, 1 + 1/(m − 1),
// unrounded.
func InverseMultiplier(m decimal.Decimal) (decimal.Decimal, error) {
	if m.LessThanOrEqual(one) {
		return decimal.Zero, ErrMultiplier
	}
	return one.Add(one.DivRound(m.Sub(one), 16)), nil
}

// DisplayMultiplier is the multiplier shown to a viewer in the given role.
// Creators see m as entered; buyers see the inverse rounded to two places.
func DisplayMultiplier(m decimal.Decimal, role Role) (decimal.Decimal, error) {
	if role == Creator {
		return m, nil
	}
	inv, err := InverseMultiplier(m)
	if err != nil {
		return decimal.Zero, err
	}
	return inv.Round(DisplayPlaces), nil
}

// AmericanOdds renders m in moneyline form: "+150", "-200", or "N/A" when
// m ≤ 1.
func AmericanOdds(m decimal.Decimal) string {
	if m.LessThanOrEqual(one) {
		return "N/A"
	}
	edge := m.Sub(one)
	if m.GreaterThanOrEqual(decimal.NewFromInt(2)) {
		return "+" + edge.Mul(hundred).Round(0).String()
	}
	return "-" + hundred.Div(edge).Round(0).String()
}

// OppositeCondition negates a bet condition: over↔under and
// exactly↔not exactly. Unrecognised values are returned unchanged.
func OppositeCondition(c string) string {
	switch strings.ToLower(strings.TrimSpace(c)) {
	case "over":
		return "under"
	case "under":
		return "over"
	case "exactly":
		return "not exactly"
	case "not exactly":
		return "exactly"
	}
	return c
}

// Quote is everything a viewer needs to judge one side of a bet.
type Quote struct {
	Role       Role
	Multiplier decimal.Decimal // as displayed to Role
	Odds       string
	Risk       decimal.Decimal // amount Role puts up
	Pot        decimal.Decimal // amount the winner receives
	Profit     decimal.Decimal // Pot - Risk
	HighRisk   bool
}

// QuoteFor builds the quote for stake at multiplier m as seen by role.
func QuoteFor(stake, m decimal.Decimal, role Role) (Quote, error) {
	shown, err := DisplayMultiplier(m, role)
	if err != nil {
		return Quote{}, err
	}
	risk := stake
	odds := AmericanOdds(m)
	if role == Buyer {
		risk = Cost(stake, m)
		odds = AmericanOdds(shown)
	}
	pot := TotalPot(stake, m)
	return Quote{
		Role:       role,
		Multiplier: shown,
		Odds:       odds,
		Risk:       risk,
		Pot:        pot,
		Profit:     pot.Sub(risk),
		HighRisk:   m.GreaterThan(HighRiskMultiplier),
	}, nil
}
