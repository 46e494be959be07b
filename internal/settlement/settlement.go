// Package settlement runs the periodic sweep that hands back the stakes of
// auctions that expired unsold.
package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"
)

// Sweeper returns expired stakes.
type Sweeper interface {
	ReturnExpiredStakes(ctx context.Context) (int, error)
}

// Worker runs a Sweeper on a cron schedule.
type Worker struct {
	sweeper  Sweeper
	schedule string
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewWorker creates a Worker. schedule uses the standard cron syntax,
// including descriptors such as "@every 1m".
func NewWorker(s Sweeper, schedule string, logger *slog.Logger, tp trace.TracerProvider) *Worker {
	return &Worker{
		sweeper:  s,
		schedule: schedule,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/auction-house/internal/settlement"),
	}
}

// Run sweeps on schedule until ctx is done, then waits for a running sweep
// to finish. Overlapping runs are skipped.
func (w *Worker) Run(ctx context.Context) error {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(w.logger.Handler(), slog.LevelWarn))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	if _, err := c.AddFunc(w.schedule, func() { w.Sweep(ctx) }); err != nil {
		return fmt.Errorf("scheduling settlement %q: %w", w.schedule, err)
	}

	w.logger.InfoContext(ctx, "settlement worker started", slog.String("schedule", w.schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	w.logger.Info("settlement worker stopped")
	return nil
}

// Sweep runs the sweeper once.
func (w *Worker) Sweep(ctx context.Context) {
	ctx, span := w.tracer.Start(ctx, "Worker.Sweep")
	defer span.End()

	n, err := w.sweeper.ReturnExpiredStakes(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "settlement sweep failed",
			slog.Int("returned", n),
			slog.Any("error", err),
		)
		return
	}
	if n > 0 {
		w.logger.InfoContext(ctx, "settlement sweep finished", slog.Int("returned", n))
	}
}
