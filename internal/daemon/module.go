package daemon

import (
	"context"
	"errors"
	"io/fs"

	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/matheus3301/carechat/internal/api"
	"github.com/matheus3301/carechat/internal/binding"
	"github.com/matheus3301/carechat/internal/bus"
	"github.com/matheus3301/carechat/internal/config"
	"github.com/matheus3301/carechat/internal/lock"
	"github.com/matheus3301/carechat/internal/logging"
	"github.com/matheus3301/carechat/internal/poll"
	"github.com/matheus3301/carechat/internal/remote"
	"github.com/matheus3301/carechat/internal/session"
	"github.com/matheus3301/carechat/internal/store"
	chatsync "github.com/matheus3301/carechat/internal/sync"
	"github.com/matheus3301/carechat/internal/transport"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	Config     *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideRemote,
			provideTransport,
			provideEngine,
			providePoller,
			provideSession,
			provideChatService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	if p.Config != nil {
		return p.Config
	}
	return config.Default()
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideBus(logger *zap.Logger) *bus.Bus {
	return bus.New(bus.WithLogger(logger))
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(b *bus.Bus) *store.Store {
	return store.New(b)
}

func provideRemote(p Params, cfg *config.Config, logger *zap.Logger) (*remote.Client, error) {
	return remote.New(remote.Options{
		BaseURL:           cfg.APIBaseURL,
		Timeout:           cfg.RequestTimeout.Duration,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, session.NewFileTokenSource(session.TokenPath(p.Profile)), logger)
}

func provideTransport(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *transport.Adapter {
	return transport.New(transport.Options{
		URL:                  cfg.RealtimeURL,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay.Duration,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay.Duration,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, b, logger)
}

func provideEngine(st *store.Store, rc *remote.Client, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *chatsync.Engine {
	return chatsync.NewEngine(st, rc, b, logger, chatsync.Options{
		PollFailureThreshold: cfg.PollFailureThreshold,
	})
}

func providePoller(cfg *config.Config, engine *chatsync.Engine, b *bus.Bus, logger *zap.Logger) *poll.Poller {
	return poll.New(cfg.PollInterval.Duration, engine, b, logger)
}

func provideSession(engine *chatsync.Engine, adapter *transport.Adapter, poller *poll.Poller, logger *zap.Logger) *binding.Session {
	return binding.New(engine, adapter, poller, logger)
}

func provideChatService(p Params, engine *chatsync.Engine, sess *binding.Session, adapter *transport.Adapter, b *bus.Bus, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(engine, sess, adapter, b, p.Profile, logger)
}

// The lock is resolved before the server so a second daemon fails before
// touching the socket.
func registerLifecycle(lc fx.Lifecycle, p Params, lk *lock.Lock, srv *Server, sess *binding.Session, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			creds, err := session.LoadCredentials(session.TokenPath(p.Profile))
			switch {
			case errors.Is(err, fs.ErrNotExist):
				logger.Info("no credentials found, waiting for sign-in")
				return nil
			case err != nil:
				logger.Warn("credentials unreadable, waiting for sign-in", zap.Error(err))
				return nil
			}

			// Sign in off the start path; the network may be slow or down.
			go func() {
				err := sess.Start(context.Background(), creds.UserID, creds.Token)
				switch {
				case err == nil:
				case binding.Degraded(err):
					logger.Warn("signed in without realtime", zap.Error(err))
				default:
					logger.Error("sign-in completed with errors", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sess.Stop()
			// Closing the bus ends open WatchView streams.
			b.Close()
			srv.Stop(ctx)
			err := lk.Release()
			logger.Info("daemon stopped")
			return multierr.Append(err, ignoreSyncErr(logger.Sync()))
		},
	})
}

// ignoreSyncErr drops the error zap returns when syncing a terminal.
func ignoreSyncErr(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return nil
	}
	return err
}
