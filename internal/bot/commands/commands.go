package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/market"
)

// House is the part of the auction house the commands talk to directly.
// Purchases and creations go through a user's Session instead.
type House interface {
	market.Remote
	ClaimDailyAllowance(ctx context.Context, userID string) (auction.Balance, error)
	Grant(ctx context.Context, adminID, userID string, cur auction.Currency, amount decimal.Decimal, reason string) (auction.Balance, error)
}

// Handlers process Discord interactions.
type Handlers struct {
	house    House
	sessions *Sessions
	admins   []string
	clock    clock.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewHandlers creates new command handlers.
func NewHandlers(h House, sessions *Sessions, admins []string, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		house:    h,
		sessions: sessions,
		admins:   admins,
		clock:    clk,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/auction-house/internal/bot/commands"),
	}
}

// gameTimeLayout is how users type a game's start time, in UTC.
const gameTimeLayout = "2006-01-02 15:04"

func choices(values ...string) []*discordgo.ApplicationCommandOptionChoice {
	out := make([]*discordgo.ApplicationCommandOptionChoice, len(values))
	for i, v := range values {
		out[i] = &discordgo.ApplicationCommandOptionChoice{Name: v, Value: v}
	}
	return out
}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	auctionID := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "auction-id",
		Description: "Auction ID (a unique prefix is enough)",
		Required:    true,
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:        "auction-create",
			Description: "List a prop bet for others to take the other side of",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "sport", Description: "League, e.g. nba", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "game", Description: "Matchup, e.g. Lakers @ Celtics", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "game-time", Description: "Start time in UTC, YYYY-MM-DD HH:MM", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "player", Description: "Player name", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "metric", Description: "Statistic, e.g. Points", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "condition", Description: "Your claim about the statistic", Required: true, Choices: choices("over", "under", "exactly", "not exactly")},
				{Type: discordgo.ApplicationCommandOptionNumber, Name: "line", Description: "Predicted value, in steps of 0.5", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "stake", Description: "Amount you put up", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "multiplier", Description: "Payout multiplier, 1.01 to 100", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "currency", Description: "Currency (default: standard)", Choices: choices("standard", "premium")},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "duration", Description: "Minutes the auction stays open (default: 60)"},
			},
		},
		{
			Name:        "auction-search",
			Description: "Browse auctions you can buy",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "sport", Description: "League"},
				{Type: discordgo.ApplicationCommandOptionString, Name: "date", Description: "Game day in UTC, YYYY-MM-DD"},
				{Type: discordgo.ApplicationCommandOptionString, Name: "team", Description: "Part of a team name"},
				{Type: discordgo.ApplicationCommandOptionString, Name: "player", Description: "Part of a player name"},
				{Type: discordgo.ApplicationCommandOptionString, Name: "metric", Description: "Statistic"},
			},
		},
		{
			Name:        "auction-buy",
			Description: "Take the other side of an auction",
			Options:     []*discordgo.ApplicationCommandOption{auctionID},
		},
		{Name: "auction-active", Description: "Your open and sold auctions"},
		{Name: "auction-pending", Description: "Sold auctions waiting for the game result"},
		{Name: "auction-history", Description: "Your settled and expired auctions"},
		{Name: "balance", Description: "Check your balance"},
		{Name: "daily", Description: "Claim your daily allowance"},
		{
			Name:        "quote",
			Description: "Show what each side risks and wins",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "stake", Description: "Creator's stake", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "multiplier", Description: "Payout multiplier", Required: true},
			},
		},
		{
			Name:        "grant",
			Description: "Add balance to a user (admin only)",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "The user to credit", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "amount", Description: "Amount to credit", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason for the grant", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "currency", Description: "Currency (default: standard)", Choices: choices("standard", "premium")},
			},
		},
	}
}

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionsOf(i *discordgo.InteractionCreate) options {
	opts := options{}
	for _, o := range i.ApplicationCommandData().Options {
		opts[o.Name] = o
	}
	return opts
}

func (o options) str(name string) string {
	if opt, ok := o[name]; ok {
		return strings.TrimSpace(opt.StringValue())
	}
	return ""
}

func (o options) number(name string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(o.str(name))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a number", name)
	}
	return d, nil
}

func userOf(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	name := i.ApplicationCommandData().Name
	ctx, span := h.tracer.Start(context.Background(), "InteractionCreate",
		trace.WithAttributes(attribute.String("command", name)),
	)
	defer span.End()

	userID := userOf(i)
	opts := optionsOf(i)

	switch name {
	case "auction-create":
		req, err := createRequest(opts)
		if err != nil {
			respond(s, i, "Creating the auction failed: "+err.Error())
			return
		}
		h.later(ctx, s, i, func() string { return h.Create(ctx, userID, req) })
	case "auction-search":
		f, err := searchFilter(opts)
		if err != nil {
			respond(s, i, "Searching failed: "+err.Error())
			return
		}
		h.later(ctx, s, i, func() string { return h.Search(ctx, userID, f) })
	case "auction-buy":
		h.later(ctx, s, i, func() string { return h.Buy(ctx, userID, opts.str("auction-id")) })
	case "auction-active":
		h.later(ctx, s, i, func() string { return h.View(ctx, userID, market.ViewActive) })
	case "auction-pending":
		h.later(ctx, s, i, func() string { return h.View(ctx, userID, market.ViewPending) })
	case "auction-history":
		h.later(ctx, s, i, func() string { return h.View(ctx, userID, market.ViewHistory) })
	case "balance":
		respond(s, i, h.Balance(ctx, userID))
	case "daily":
		respond(s, i, h.Daily(ctx, userID))
	case "quote":
		stake, err := opts.number("stake")
		if err != nil {
			respond(s, i, "Quoting failed: "+err.Error())
			return
		}
		m, err := opts.number("multiplier")
		if err != nil {
			respond(s, i, "Quoting failed: "+err.Error())
			return
		}
		respond(s, i, h.Quote(stake, m))
	case "grant":
		amount, err := opts.number("amount")
		if err != nil {
			respond(s, i, "Granting failed: "+err.Error())
			return
		}
		cur, err := auction.NormalizeCurrency(opts.str("currency"))
		if err != nil {
			respond(s, i, "Granting failed: "+err.Error())
			return
		}
		target := opts["user"].UserValue(s)
		respond(s, i, h.Grant(ctx, userID, target.ID, cur, amount, opts.str("reason")))
	default:
		respond(s, i, "Unknown command")
	}
}

func createRequest(opts options) (auction.Request, error) {
	gameTime, err := time.ParseInLocation(gameTimeLayout, opts.str("game-time"), time.UTC)
	if err != nil {
		return auction.Request{}, fmt.Errorf("game-time must look like %s", gameTimeLayout)
	}
	stake, err := opts.number("stake")
	if err != nil {
		return auction.Request{}, err
	}
	m, err := opts.number("multiplier")
	if err != nil {
		return auction.Request{}, err
	}
	duration := 60
	if o, ok := opts["duration"]; ok {
		duration = int(o.IntValue())
	}
	var line float64
	if o, ok := opts["line"]; ok {
		line = o.FloatValue()
	}
	return auction.Request{
		Sport:           opts.str("sport"),
		Game:            opts.str("game"),
		GameDate:        gameTime,
		Player:          opts.str("player"),
		Metric:          opts.str("metric"),
		Condition:       opts.str("condition"),
		PredictedValue:  line,
		Stake:           stake,
		Currency:        opts.str("currency"),
		Multiplier:      m,
		DurationMinutes: duration,
	}, nil
}

func searchFilter(opts options) (market.Filter, error) {
	f := market.Filter{
		Sport:  opts.str("sport"),
		Team:   opts.str("team"),
		Player: opts.str("player"),
		Metric: opts.str("metric"),
	}
	if d := opts.str("date"); d != "" {
		day, err := time.Parse(time.DateOnly, d)
		if err != nil {
			return market.Filter{}, fmt.Errorf("date must look like %s", time.DateOnly)
		}
		f.Date = day
	}
	return f, nil
}

// later acknowledges the interaction at once and edits in the reply when
// fn returns, since talking to the house may outlast Discord's deadline.
func (h *Handlers) later(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, fn func() string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "deferring interaction", slog.Any("error", err))
		return
	}
	msg := fn()
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &msg}); err != nil {
		h.logger.ErrorContext(ctx, "editing interaction response", slog.Any("error", err))
	}
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
		},
	})
}
