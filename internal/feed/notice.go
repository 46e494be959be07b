package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/jensholdgaard/auction-house/internal/house"
)

// Publisher sends house notices to <subject>.<auction id>.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a Publisher under subject.
func NewPublisher(nc *nats.Conn, subject string) *Publisher {
	return &Publisher{nc: nc, subject: subject}
}

// Notify implements house.Notifier.
func (p *Publisher) Notify(_ context.Context, n house.Notice) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notice: %w", err)
	}
	if err := p.nc.Publish(p.subject+"."+n.AuctionID, data); err != nil {
		return fmt.Errorf("publishing notice: %w", err)
	}
	return nil
}

// SubscribeNotices calls fn for every notice published under subject until
// the returned subscription is drained.
func SubscribeNotices(nc *nats.Conn, subject string, logger *slog.Logger, fn func(house.Notice)) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(subject+".*", func(msg *nats.Msg) {
		var n house.Notice
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			logger.Warn("dropping malformed notice",
				slog.String("subject", msg.Subject),
				slog.Any("error", err),
			)
			return
		}
		fn(n)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to notices: %w", err)
	}
	return sub, nil
}
