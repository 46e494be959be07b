package auction

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auction-house/internal/pricing"
)

// Bounds on what a creator may list.
var (
	MinMultiplier = decimal.RequireFromString("1.01")
	MaxMultiplier = decimal.NewFromInt(100)
)

const (
	MinDurationMinutes = 1
	MaxDurationMinutes = 7 * 24 * 60
)

var secondGame = regexp.MustCompile(`(?i)\(game 2\)`)

// GameNumberFromName returns 2 for the second game of a doubleheader
// (marked "(Game 2)" in its name) and 1 otherwise.
func GameNumberFromName(game string) int {
	if secondGame.MatchString(game) {
		return 2
	}
	return 1
}

// Request is what a creator submits to list a new bet. ID is generated by
// the client so a resent request is recognised as the same auction.
type Request struct {
	ID              string          `json:"id,omitempty"`
	Sport           string          `json:"sport"`
	Game            string          `json:"game"`
	GameDate        time.Time       `json:"game_date"`
	Player          string          `json:"player"`
	Metric          string          `json:"metric"`
	Condition       string          `json:"condition"`
	PredictedValue  float64         `json:"predicted_value"`
	Stake           decimal.Decimal `json:"stake"`
	Currency        string          `json:"currency"`
	Multiplier      decimal.Decimal `json:"multiplier"`
	DurationMinutes int             `json:"duration_minutes"`
}

// Validate checks every field and reports all problems at once.
func (r Request) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	for _, f := range [...]struct{ name, v string }{
		{"sport", r.Sport}, {"game", r.Game}, {"player", r.Player}, {"metric", r.Metric},
	} {
		if strings.TrimSpace(f.v) == "" {
			add("%s is required", f.name)
		}
	}
	if r.GameDate.IsZero() {
		add("game date is required")
	}
	if _, err := ParseCondition(r.Condition); err != nil {
		add("%v", err)
	}
	if r.PredictedValue < 0 || math.IsNaN(r.PredictedValue) || math.IsInf(r.PredictedValue, 0) {
		add("predicted value must be a non-negative number")
	} else if math.Mod(r.PredictedValue*2, 1) != 0 {
		add("predicted value must be a multiple of 0.5")
	}
	if !r.Stake.IsPositive() {
		add("stake must be positive")
	} else if !r.Stake.Equal(r.Stake.Round(pricing.StakePlaces)) {
		add("stake may have at most %d decimal places", pricing.StakePlaces)
	}
	if _, err := NormalizeCurrency(r.Currency); err != nil {
		add("%v", err)
	}
	if r.Multiplier.LessThan(MinMultiplier) || r.Multiplier.GreaterThan(MaxMultiplier) {
		add("multiplier must be between %s and %s", MinMultiplier, MaxMultiplier)
	} else if !r.Multiplier.Equal(r.Multiplier.Round(pricing.DisplayPlaces)) {
		add("multiplier may have at most %d decimal places", pricing.DisplayPlaces)
	}
	if r.DurationMinutes < MinDurationMinutes || r.DurationMinutes > MaxDurationMinutes {
		add("duration must be between %d and %d minutes", MinDurationMinutes, MaxDurationMinutes)
	}

	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}
