package daemon

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/soukly/convo/internal/archive"
	"github.com/soukly/convo/internal/attach"
	"github.com/soukly/convo/internal/bus"
	"github.com/soukly/convo/internal/compose"
	"github.com/soukly/convo/internal/config"
	"github.com/soukly/convo/internal/gateway"
	"github.com/soukly/convo/internal/geo"
	"github.com/soukly/convo/internal/ingest"
	"github.com/soukly/convo/internal/lock"
	"github.com/soukly/convo/internal/logging"
	"github.com/soukly/convo/internal/messages"
	"github.com/soukly/convo/internal/presence"
	"github.com/soukly/convo/internal/registry"
	"github.com/soukly/convo/internal/session"
	"github.com/soukly/convo/internal/store"
	"github.com/soukly/convo/internal/typing"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideDB,
			provideGateway,
			provideMessageStore,
			provideRegistry,
			provideComposer,
			provideIngestEngine,
			provideArchiver,
			provideTypingCoordinator,
			providePresenceTracker,
			providePipeline,
			provideGeocoder,
			provideArchiveReader,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("no config file, using defaults", zap.String("path", session.ConfigPath()))
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideDB(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.ArchiveDBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("archive initialized", zap.String("path", dbPath))
	return db, nil
}

func provideGateway(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *gateway.Gateway {
	return gateway.New(cfg.Gateway, b, logger)
}

func provideMessageStore(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *messages.Store {
	return messages.NewStore(cfg.User.ID, b, logger)
}

func provideRegistry(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *registry.Registry {
	return registry.New(cfg.User.ID, b, logger)
}

func provideComposer(gw *gateway.Gateway, st *messages.Store, reg *registry.Registry, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *compose.Composer {
	return compose.New(gw, st, reg, cfg.User.ID, cfg.User.DisplayName, cfg.AckTimeout(), b, logger)
}

func provideIngestEngine(st *messages.Store, reg *registry.Registry, composer *compose.Composer, b *bus.Bus, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(st, reg, composer, b, logger)
}

func provideArchiver(db *store.DB, b *bus.Bus, logger *zap.Logger) *archive.Archiver {
	return archive.New(db, b, logger)
}

func provideTypingCoordinator(gw *gateway.Gateway, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *typing.Coordinator {
	return typing.New(gw, cfg.User.ID, cfg.TypingDebounce(), b, logger)
}

func providePresenceTracker(b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	return presence.New(b, logger)
}

func providePipeline(cfg *config.Config, logger *zap.Logger) *attach.Pipeline {
	return attach.NewPipeline(cfg.Attachments.MaxImages, cfg.Attachments.MaxImageBytes, logger)
}

func provideGeocoder(cfg *config.Config, logger *zap.Logger) *geo.Client {
	return geo.NewClient(cfg.Geocoder.BaseURL, cfg.GeocoderTimeout(), logger)
}

func provideArchiveReader(a *archive.Archiver) archiveReader {
	return a
}

// hydrateWindow is how much history each conversation gets at boot.
const hydrateWindow = 50

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	gw *gateway.Gateway,
	engine *ingest.Engine,
	archiver *archive.Archiver,
	composer *compose.Composer,
	coord *typing.Coordinator,
	tracker *presence.Tracker,
	st *messages.Store,
	reg *registry.Registry,
	db *store.DB,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Hydrate before anything subscribes, so boot-time events are
			// not re-archived.
			if err := archiver.Hydrate(st, reg, hydrateWindow); err != nil {
				logger.Warn("hydration failed, starting cold", zap.Error(err))
			}

			archiver.Start(context.Background())
			engine.Start(context.Background())
			tracker.Start(context.Background())
			coord.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control API error", zap.Error(err))
				}
			}()

			gw.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			coord.Close()
			gw.Stop()
			composer.Close()
			engine.Stop()
			tracker.Stop()
			archiver.Stop()
			srv.Stop(ctx)
			_ = db.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
