package settlement_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/auction-house/internal/house"
	"github.com/jensholdgaard/auction-house/internal/house/housetest"
	"github.com/jensholdgaard/auction-house/internal/settlement"
)

var testTP = noop.NewTracerProvider()

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) ReturnExpiredStakes(context.Context) (int, error) {
	s.calls.Add(1)
	return 0, s.err
}

func TestWorker_Sweep_ReturnsStakes(t *testing.T) {
	f := housetest.New(t)
	ctx := context.Background()
	if _, err := f.Service.CreateAuction(ctx, "creator", housetest.Request("10", "2")); err != nil {
		t.Fatalf("CreateAuction() error = %v", err)
	}
	f.Clock.Advance(2 * time.Hour)

	var _ settlement.Sweeper = (*house.Service)(nil)
	w := settlement.NewWorker(f.Service, "@every 1m", slog.Default(), testTP)
	w.Sweep(ctx)
	w.Sweep(ctx)

	bal, err := f.Service.UserBalance(ctx, "creator")
	if err != nil {
		t.Fatalf("UserBalance() error = %v", err)
	}
	if !bal.Standard.Equal(housetest.StartingBalance) {
		t.Errorf("balance after sweeps = %s, want the stake back exactly once", bal.Standard)
	}
}

func TestWorker_Sweep_Error(t *testing.T) {
	s := &countingSweeper{err: errors.New("database down")}
	settlement.NewWorker(s, "@every 1m", slog.Default(), testTP).Sweep(context.Background())
	if s.calls.Load() != 1 {
		t.Errorf("sweeper called %d times, want 1", s.calls.Load())
	}
}

func TestWorker_Run_BadSchedule(t *testing.T) {
	w := settlement.NewWorker(&countingSweeper{}, "every minute", slog.Default(), testTP)
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected an error for an invalid schedule")
	}
}

func TestWorker_Run(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing test in short mode")
	}
	s := &countingSweeper{}
	w := settlement.NewWorker(s, "@every 1s", slog.Default(), testTP)

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.calls.Load() == 0 {
		t.Error("sweeper never ran")
	}
}
