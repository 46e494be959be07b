package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/jensholdgaard/auction-house"

// Metrics holds the instruments shared by the house and the bot.
type Metrics struct {
	purchases        metric.Int64Counter
	creations        metric.Int64Counter
	settlements      metric.Int64Counter
	refreshes        metric.Int64Counter
	purchaseDuration metric.Float64Histogram
}

// NewMetrics creates the instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.purchases, err = meter.Int64Counter("auction.purchases",
		metric.WithDescription("Purchase attempts by outcome."),
	); err != nil {
		return nil, fmt.Errorf("creating purchases counter: %w", err)
	}
	if m.creations, err = meter.Int64Counter("auction.creations",
		metric.WithDescription("Auction creation attempts by outcome."),
	); err != nil {
		return nil, fmt.Errorf("creating creations counter: %w", err)
	}
	if m.settlements, err = meter.Int64Counter("auction.settlements",
		metric.WithDescription("Auctions settled, by resulting status."),
	); err != nil {
		return nil, fmt.Errorf("creating settlements counter: %w", err)
	}
	if m.refreshes, err = meter.Int64Counter("auction.refresh",
		metric.WithDescription("View refreshes by view and outcome."),
	); err != nil {
		return nil, fmt.Errorf("creating refresh counter: %w", err)
	}
	if m.purchaseDuration, err = meter.Float64Histogram("auction.purchase.duration",
		metric.WithDescription("Time from purchase request to reconciled result."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating purchase duration histogram: %w", err)
	}
	return m, nil
}

// Outcome classifies err for metric attributes.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// Purchase records one purchase attempt.
func (m *Metrics) Purchase(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.purchases.Add(ctx, 1, attrs)
	m.purchaseDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// Creation records one creation attempt.
func (m *Metrics) Creation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.creations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Settlement records one settled auction.
func (m *Metrics) Settlement(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.settlements.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// Refresh records one view refresh.
func (m *Metrics) Refresh(ctx context.Context, view, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("view", view),
		attribute.String("outcome", outcome),
	))
}
