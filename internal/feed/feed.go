// Package feed connects the auction house to NATS: it consumes resolved
// outcomes and game status updates, and publishes a notice after every
// committed auction transition.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/config"
	"github.com/jensholdgaard/auction-house/internal/house"
)

// Connect dials the NATS server named in cfg.
func Connect(cfg config.NATSConfig, name string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return nc, nil
}

// Handler applies feed messages to the house.
type Handler interface {
	Resolve(ctx context.Context, o house.Outcome) (auction.Record, error)
	UpdateGameStatus(ctx context.Context, u house.GameUpdate) (int, error)
}

// Consumer subscribes to the outcome and game status subjects. Replicas
// share the work through a queue group.
type Consumer struct {
	nc      *nats.Conn
	cfg     config.NATSConfig
	handler Handler
	logger  *slog.Logger
	timeout time.Duration
}

// NewConsumer creates a Consumer.
func NewConsumer(nc *nats.Conn, cfg config.NATSConfig, h Handler, logger *slog.Logger) *Consumer {
	return &Consumer{nc: nc, cfg: cfg, handler: h, logger: logger, timeout: 10 * time.Second}
}

// Run subscribes and blocks until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	outcomes, err := c.nc.QueueSubscribe(c.cfg.OutcomeSubject, c.cfg.QueueGroup, func(msg *nats.Msg) {
		c.dispatch(ctx, msg, c.HandleOutcome)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", c.cfg.OutcomeSubject, err)
	}
	defer func() { _ = outcomes.Unsubscribe() }()

	games, err := c.nc.QueueSubscribe(c.cfg.GameStatusSubject, c.cfg.QueueGroup, func(msg *nats.Msg) {
		c.dispatch(ctx, msg, c.HandleGameStatus)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", c.cfg.GameStatusSubject, err)
	}
	defer func() { _ = games.Unsubscribe() }()

	c.logger.InfoContext(ctx, "feed consumer started",
		slog.String("outcomes", c.cfg.OutcomeSubject),
		slog.String("games", c.cfg.GameStatusSubject),
	)
	<-ctx.Done()
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, msg *nats.Msg, handle func(context.Context, []byte) error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := handle(ctx, msg.Data); err != nil {
		// Redelivered outcomes are expected and already logged by the house.
		if !errors.Is(err, auction.ErrInvalidTransition) {
			c.logger.ErrorContext(ctx, "failed to handle feed message",
				slog.String("subject", msg.Subject),
				slog.Any("error", err),
			)
		}
	}
	if msg.Reply != "" {
		_ = msg.Respond(nil)
	}
}

// HandleOutcome decodes and applies one outcome message.
func (c *Consumer) HandleOutcome(ctx context.Context, data []byte) error {
	var o house.Outcome
	if err := json.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("decoding outcome: %w", err)
	}
	if o.AuctionID == "" {
		return errors.New("outcome without auction_id")
	}
	_, err := c.handler.Resolve(ctx, o)
	return err
}

// HandleGameStatus decodes and applies one game status message.
func (c *Consumer) HandleGameStatus(ctx context.Context, data []byte) error {
	var u house.GameUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("decoding game status: %w", err)
	}
	if u.Game == "" {
		return errors.New("game status without game")
	}
	_, err := c.handler.UpdateGameStatus(ctx, u)
	return err
}
