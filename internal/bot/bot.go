package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/auction-house/internal/bot/commands"
	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/config"
	"github.com/jensholdgaard/auction-house/internal/market"
)

// Bot wraps the Discord session and command handlers.
type Bot struct {
	session  *discordgo.Session
	cfg      config.DiscordConfig
	logger   *slog.Logger
	clock    clock.Clock
	handlers *commands.Handlers
	sessions *commands.Sessions
	cmds     []*discordgo.ApplicationCommand

	// announcements feeds the announce channel; nil disables it.
	announcements *market.Store
	unsubscribe   func()
}

// New creates a new Bot instance. announcements may be nil.
func New(cfg config.DiscordConfig, handlers *commands.Handlers, sessions *commands.Sessions, announcements *market.Store, clk clock.Clock, logger *slog.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}

	return &Bot{
		session:       session,
		cfg:           cfg,
		logger:        logger,
		clock:         clk,
		handlers:      handlers,
		sessions:      sessions,
		announcements: announcements,
	}, nil
}

// Start opens the Discord connection, registers slash commands and starts
// posting announcements.
func (b *Bot) Start(ctx context.Context) error {
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.InfoContext(ctx, "bot is ready", slog.String("user", s.State.User.Username))
	})

	b.session.AddHandler(b.handlers.InteractionCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}

	appCmds := commands.SlashCommands()
	registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.cfg.GuildID, appCmds)
	if err != nil {
		return fmt.Errorf("registering slash commands: %w", err)
	}
	b.cmds = registered
	b.logger.InfoContext(ctx, "slash commands registered", slog.Int("count", len(registered)))

	if b.announcements != nil && b.cfg.AnnounceChannelID != "" {
		a := commands.NewAnnouncer(func(msg string) error {
			_, err := b.session.ChannelMessageSend(b.cfg.AnnounceChannelID, msg)
			return err
		}, b.clock, b.logger)
		b.unsubscribe = b.announcements.Subscribe(market.ViewMarket, a.Observe)
		go a.Run(ctx)
		b.logger.InfoContext(ctx, "announcing to channel", slog.String("channel", b.cfg.AnnounceChannelID))
	}
	return nil
}

// Stop waits for in-flight purchases to settle, then closes the Discord
// connection.
func (b *Bot) Stop(ctx context.Context) error {
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
	if err := b.sessions.Wait(ctx); err != nil {
		b.logger.Error("purchases still in flight at shutdown", slog.Any("error", err))
	}
	for _, cmd := range b.cmds {
		if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.cfg.GuildID, cmd.ID); err != nil {
			b.logger.Error("failed to delete command", slog.String("command", cmd.Name), slog.Any("error", err))
		}
	}
	return b.session.Close()
}
