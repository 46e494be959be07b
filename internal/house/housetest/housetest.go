// Package housetest builds an in-memory auction house for tests.
package housetest

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/house"
	"github.com/jensholdgaard/auction-house/internal/ledger"
	"github.com/jensholdgaard/auction-house/internal/store/memory"
)

// Now is the time the fixture clock starts at.
var Now = time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)

// StartingBalance is what every new account holds in standard currency.
var StartingBalance = decimal.NewFromInt(100)

// Fixture is a house backed by the memory store.
type Fixture struct {
	Service *house.Service
	Ledger  *ledger.Manager
	Store   *memory.Store
	Clock   *clock.Mock
}

// New creates a Fixture.
func New(t *testing.T, opts ...house.Option) *Fixture {
	t.Helper()
	tp := noop.NewTracerProvider()
	clk := clock.NewMock(Now)
	s := memory.New(clk)
	l := ledger.NewManager(s, ledger.Settings{
		Starting:      StartingBalance,
		Allowance:     decimal.NewFromInt(25),
		DailyCurrency: auction.Standard,
	}, clk, slog.Default(), tp)
	svc := house.New(s, l, auction.NewResolver(clk, tp), slog.Default(), tp, opts...)
	return &Fixture{Service: svc, Ledger: l, Store: s, Clock: clk}
}

// Request returns a valid request: over 20.5 points, one hour to run.
func Request(stake, multiplier string) auction.Request {
	return auction.Request{
		Sport:           "nba",
		Game:            "Lakers @ Celtics",
		GameDate:        Now.Add(3 * time.Hour),
		Player:          "Jayson Tatum",
		Metric:          "Points",
		Condition:       "over",
		PredictedValue:  20.5,
		Stake:           decimal.RequireFromString(stake),
		Currency:        "standard",
		Multiplier:      decimal.RequireFromString(multiplier),
		DurationMinutes: 60,
	}
}
