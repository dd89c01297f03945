// Package app is the fx composition root shared by the interactive client
// and the headless notification agent.
package app

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/mutamirhq/mutamir/internal/bus"
	"github.com/mutamirhq/mutamir/internal/config"
	"github.com/mutamirhq/mutamir/internal/lock"
	"github.com/mutamirhq/mutamir/internal/logging"
	"github.com/mutamirhq/mutamir/internal/notify"
	"github.com/mutamirhq/mutamir/internal/platform"
	"github.com/mutamirhq/mutamir/internal/push"
	"github.com/mutamirhq/mutamir/internal/session"
	"github.com/mutamirhq/mutamir/internal/status"
	"github.com/mutamirhq/mutamir/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	Process string // log file name, "mutamir" or "mutamird"

	// Interactive clients log to file only; the terminal belongs to the UI.
	FileOnlyLogs bool
	// The headless agent takes the profile lock so only one copy polls.
	TakeLock bool
}

// Module composes the shared service graph: config, logging, the profile
// store, the REST client, the push client, and the notification center.
func Module(p Params) fx.Option {
	return fx.Module("mutamir",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideTokens,
			provideStore,
			provideClient,
			providePush,
			provideSinks,
			provideCenter,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	if p.FileOnlyLogs {
		return logging.NewFileOnly(session.LogPath(p.Profile, p.Process), p.Profile)
	}
	return logging.New(session.LogPath(p.Profile, p.Process), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideTokens(p Params) session.TokenSource {
	return session.NewFileTokenSource(p.Profile)
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.Profile)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(cfg *config.Config, tokens session.TokenSource, logger *zap.Logger) *platform.Client {
	return platform.NewClient(cfg.BaseURL, cfg.FallbackURL, tokens, logger)
}

func providePush(cfg *config.Config, tokens session.TokenSource, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *push.Client {
	return push.NewClient(cfg.PushURL, tokens, b, machine, logger)
}

func provideSinks(p Params, logger *zap.Logger) (notify.SoundPlayer, notify.DesktopNotifier) {
	if p.TakeLock {
		// The headless agent has no seat at the user's desk.
		return notify.NopSinks()
	}
	sound := notify.NewSoundPlayer(session.BaseDir()+"/chime.ogg", logger)
	return sound, notify.NewDesktopNotifier(logger)
}

func provideCenter(client *platform.Client, b *bus.Bus, sound notify.SoundPlayer, desktop notify.DesktopNotifier, db *store.DB, logger *zap.Logger) *notify.Center {
	return notify.NewCenter(client, b, sound, desktop, db, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, pushClient *push.Client, center *notify.Center, db *store.DB, b *bus.Bus, logger *zap.Logger) {
	var (
		runCtx    context.Context
		runCancel context.CancelFunc
		held      *lock.Lock
		scheduler *gocron.Scheduler
	)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if p.TakeLock {
				l, err := lock.Acquire(session.Dir(p.Profile))
				if err != nil {
					return err
				}
				held = l
				logger.Info("profile lock acquired", zap.String("profile", p.Profile))
			}

			runCtx, runCancel = context.WithCancel(context.Background())

			go center.Run(runCtx)
			go func() {
				if err := pushClient.Run(runCtx); err != nil && runCtx.Err() == nil {
					logger.Error("push client stopped", zap.Error(err))
				}
			}()

			// The poll backstops push: anything a dropped connection lost
			// shows up within one interval.
			scheduler = gocron.NewScheduler(time.UTC)
			_, err := scheduler.Every(30).Seconds().Do(func() {
				center.FetchAll(runCtx)
			})
			if err != nil {
				return err
			}
			scheduler.StartAsync()

			logger.Info("services started", zap.String("profile", p.Profile))
			return nil
		},
		OnStop: func(_ context.Context) error {
			if scheduler != nil {
				scheduler.Stop()
			}
			if runCancel != nil {
				runCancel()
			}
			if err := db.Close(); err != nil {
				logger.Warn("store close failed", zap.Error(err))
			}
			b.Close()
			if held != nil {
				if err := held.Release(); err != nil {
					logger.Warn("lock release failed", zap.Error(err))
				}
			}
			logger.Info("services stopped")
			return nil
		},
	})
}
