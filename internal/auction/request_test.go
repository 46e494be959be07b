package auction_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auction-house/internal/auction"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*auction.Request)
		wantErr string
	}{
		{name: "valid", mutate: func(*auction.Request) {}},
		{name: "missing player", mutate: func(r *auction.Request) { r.Player = " " }, wantErr: "player is required"},
		{name: "missing game date", mutate: func(r *auction.Request) { r.GameDate = time.Time{} }, wantErr: "game date is required"},
		{name: "bad condition", mutate: func(r *auction.Request) { r.Condition = "around" }, wantErr: "unknown condition"},
		{name: "predicted not half step", mutate: func(r *auction.Request) { r.PredictedValue = 20.3 }, wantErr: "multiple of 0.5"},
		{name: "negative predicted", mutate: func(r *auction.Request) { r.PredictedValue = -1 }, wantErr: "non-negative"},
		{name: "half step ok", mutate: func(r *auction.Request) { r.PredictedValue = 20.5 }},
		{name: "zero stake", mutate: func(r *auction.Request) { r.Stake = decimal.Zero }, wantErr: "stake must be positive"},
		{name: "stake too precise", mutate: func(r *auction.Request) { r.Stake = decimal.RequireFromString("1.000001") }, wantErr: "decimal places"},
		{name: "multiplier too low", mutate: func(r *auction.Request) { r.Multiplier = decimal.RequireFromString("1.00") }, wantErr: "between 1.01 and 100"},
		{name: "multiplier lower bound", mutate: func(r *auction.Request) { r.Multiplier = decimal.RequireFromString("1.01") }},
		{name: "multiplier too high", mutate: func(r *auction.Request) { r.Multiplier = decimal.RequireFromString("100.5") }, wantErr: "between 1.01 and 100"},
		{name: "multiplier too precise", mutate: func(r *auction.Request) { r.Multiplier = decimal.RequireFromString("1.505") }, wantErr: "decimal places"},
		{name: "unknown currency", mutate: func(r *auction.Request) { r.Currency = "doubloons" }, wantErr: "unknown currency"},
		{name: "zero duration", mutate: func(r *auction.Request) { r.DurationMinutes = 0 }, wantErr: "duration"},
		{name: "duration over a week", mutate: func(r *auction.Request) { r.DurationMinutes = 7*24*60 + 1 }, wantErr: "duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, auction.ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestRequestValidate_ReportsAllProblems(t *testing.T) {
	err := auction.Request{}.Validate()
	var verr *auction.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want *ValidationError", err)
	}
	if len(verr.Problems) < 5 {
		t.Errorf("Problems = %v, want every field reported", verr.Problems)
	}
}

func TestNormalizeCurrency(t *testing.T) {
	tests := map[string]auction.Currency{
		"":         auction.Standard,
		"silver":   auction.Standard,
		"Common":   auction.Standard,
		"credits":  auction.Standard,
		"standard": auction.Standard,
		"gold":     auction.Premium,
		"PREMIUM":  auction.Premium,
		"imperium": auction.Premium,
	}
	for in, want := range tests {
		got, err := auction.NormalizeCurrency(in)
		if err != nil || got != want {
			t.Errorf("NormalizeCurrency(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := auction.NormalizeCurrency("bitcoin"); err == nil {
		t.Error("NormalizeCurrency(bitcoin) should fail")
	}
}

func TestGameNumberFromName(t *testing.T) {
	tests := map[string]int{
		"Yankees vs Red Sox":          1,
		"Yankees vs Red Sox (Game 2)": 2,
		"Yankees vs Red Sox (game 2)": 2,
		"Yankees vs Red Sox (Game 1)": 1,
	}
	for in, want := range tests {
		if got := auction.GameNumberFromName(in); got != want {
			t.Errorf("GameNumberFromName(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestCondition(t *testing.T) {
	for _, in := range []string{"over", "Under", "EXACTLY", "not exactly", "not_exactly", "not-exactly"} {
		c, err := auction.ParseCondition(in)
		if err != nil {
			t.Errorf("ParseCondition(%q) error = %v", in, err)
			continue
		}
		if c.Opposite().Opposite() != c {
			t.Errorf("Opposite is not an involution for %q", c)
		}
		if c.Opposite() == c {
			t.Errorf("Opposite(%q) returned itself", c)
		}
	}
}

func TestGameStatusRank(t *testing.T) {
	order := []auction.GameStatus{auction.GameLive, auction.GameScheduled, auction.GameFinal, auction.GameUnknown}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Errorf("%s should rank before %s", order[i-1], order[i])
		}
	}
	if got := auction.ParseGameStatus("In Progress"); got != auction.GameLive {
		t.Errorf("ParseGameStatus(In Progress) = %s", got)
	}
	if got := auction.ParseGameStatus("rain delay"); got != auction.GameUnknown {
		t.Errorf("ParseGameStatus(rain delay) = %s", got)
	}
}
