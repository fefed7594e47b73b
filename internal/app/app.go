package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ndx-relay/internal/config"
	"ndx-relay/internal/dedup"
	"ndx-relay/internal/discord"
	"ndx-relay/internal/fanout"
	"ndx-relay/internal/message"
	"ndx-relay/internal/relay"
	"ndx-relay/internal/storage"
	"ndx-relay/internal/supervisor"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// stores holds the dedup backend and, when Postgres is configured, the
// relay audit log. Both may be the same object.
type stores struct {
	kv    storage.KV
	audit *storage.PostgresStore
}

func (s *stores) Close() {
	if s.kv != nil {
		_ = s.kv.Close()
	}
	if s.audit != nil && storage.KV(s.audit) != s.kv {
		_ = s.audit.Close()
	}
}

func (a *App) openStores(ctx context.Context) (*stores, error) {
	kv, err := storage.Open(ctx, a.Config.Store, a.Config.Database)
	if err != nil {
		return nil, err
	}
	s := &stores{kv: kv}

	if pg, ok := kv.(*storage.PostgresStore); ok {
		s.audit = pg
		return s, nil
	}
	if a.Config.Database.DSN == "" {
		return s, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		s.Close()
		return nil, err
	}
	audit := storage.NewPostgresStore(pool)
	if err := audit.EnsureSchema(ctx); err != nil {
		_ = audit.Close()
		s.Close()
		return nil, err
	}
	s.audit = audit
	return s, nil
}

func (a *App) newGate(kv storage.KV) *dedup.Gate {
	return dedup.NewGate(kv, dedup.Options{
		Location: a.Config.Location(),
		TTL:      a.Config.Relay.KeyTTL,
	})
}

func (a *App) newController(s *stores) *relay.Controller {
	filter := message.NewFilter(message.FilterConfig{
		Channel:             a.Config.Discord.Channel,
		Author:              a.Config.Discord.Bot,
		DisableVerifyAuthor: a.Config.Discord.DisableVerifyBot,
		Marker:              a.Config.Discord.Marker,
	})
	sender := fanout.New(fanout.Options{
		Endpoints: a.Config.Relay.Endpoints,
		Path:      a.Config.Relay.NotifyPath,
		Timeout:   a.Config.Relay.RequestTimeout,
	}, a.Logger)

	var audit storage.RelayLog
	if s.audit != nil {
		audit = s.audit
	}
	return relay.New(filter, a.newGate(s.kv), sender, audit, a.Logger)
}

// pruneMarks drops expired dedup marks when they live in Postgres. Redis and
// BuntDB expire keys on their own.
func (a *App) pruneMarks(ctx context.Context, s *stores) {
	pg, ok := s.kv.(*storage.PostgresStore)
	if !ok {
		return
	}
	removed, err := pg.DeleteExpiredMarks(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("failed to prune expired dedup marks")
		return
	}
	a.Logger.Info().Int64("removed", removed).Msg("pruned expired dedup marks")
}

// Run executes the long-running relay service.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.RequireToken(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if s.audit == nil {
		a.Logger.Warn().Msg("database.dsn not configured; relay audit disabled")
	}
	a.pruneMarks(ctx, s)

	ctrl := a.newController(s)
	events := make(chan message.InboundMessage, a.Config.Discord.QueueSize)
	source := discord.NewSource(a.Config.Discord.Token, events, a.Logger)
	sup := supervisor.New(supervisor.Options{
		MinDelay: a.Config.Supervisor.MinDelay,
		MaxDelay: a.Config.Supervisor.MaxDelay,
	}, a.Logger)

	a.Logger.Info().
		Str("channel", a.Config.Discord.Channel).
		Str("timezone", a.Config.Relay.Timezone).
		Strs("endpoints", a.Config.Relay.Endpoints).
		Str("store", a.Config.Store.Backend).
		Msg("starting relay service")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(gctx, events)
	})
	g.Go(func() error {
		return sup.Run(gctx, "discord", source.Run)
	})

	err = g.Wait()
	ctrl.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("relay service terminated with error")
		return err
	}

	a.Logger.Info().Msg("relay service stopped")
	return nil
}
