package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stego_chat/internal/config"
	"stego_chat/internal/cryptographic/hybrid"
	"stego_chat/internal/delivery"
	"stego_chat/internal/dispatch"
	"stego_chat/internal/presence"
	contactRepo "stego_chat/internal/repository/contact"
	userRepo "stego_chat/internal/repository/user"
	redisSvc "stego_chat/internal/service/redis"
	"stego_chat/internal/service/server"
	"stego_chat/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const setupTimeout = 10 * time.Second

// MasterKey seals private keys at rest.
type MasterKey []byte

// Module returns the fx module for the chat server, composing all providers
// and lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideMasterKey,
			provideMongo,
			provideRedis,
			provideUserRepo,
			provideContactRepo,
			provideStore,
			presence.NewHub,
			provideLastSeen,
			provideEngine,
			provideServer,
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return log.Init(cfg.Log)
}

func provideMasterKey(cfg *config.Config) (MasterKey, error) {
	key, err := hybrid.DecodeMasterKey(cfg.Keys.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("keys.master_key: %w", err)
	}
	return key, nil
}

func provideMongo(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	logger.Info("mongo connected", zap.String("database", cfg.Mongo.Database))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Disconnect(ctx)
		},
	})
	return client.Database(cfg.Mongo.Database), nil
}

func provideRedis(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*redisSvc.RedisService, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	rs := redisSvc.NewRedis(rdb)

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		_ = rs.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return rs.Close()
		},
	})
	return rs, nil
}

func provideUserRepo(db *mongo.Database, key MasterKey) (*userRepo.UserRepo, error) {
	repo := userRepo.NewUserRepo(db, key)

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	if err := repo.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("user indexes: %w", err)
	}
	return repo, nil
}

func provideContactRepo(db *mongo.Database) (*contactRepo.ContactRepo, error) {
	repo := contactRepo.NewContactRepo(db)

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	if err := repo.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("contact indexes: %w", err)
	}
	return repo, nil
}

func provideStore(lc fx.Lifecycle, cfg *config.Config, rs *redisSvc.RedisService, logger *zap.Logger) (delivery.Store, error) {
	var store delivery.Store
	switch cfg.Delivery.Backend {
	case config.BackendRedis:
		store = delivery.NewRedisStore(rs)

	case config.BackendSQLite:
		path := cfg.Delivery.SQLitePath
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}
		s, err := delivery.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		result, err := s.Migrate()
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		logger.Info("migrations up to date", zap.Uint("version", result.Version), zap.Bool("dirty", result.Dirty))
		store = s

	default:
		return nil, fmt.Errorf("unknown delivery backend %q", cfg.Delivery.Backend)
	}
	logger.Info("delivery store initialized", zap.String("backend", cfg.Delivery.Backend))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

func provideLastSeen(rs *redisSvc.RedisService) *presence.LastSeenStore {
	return presence.NewLastSeenStore(rs)
}

func provideEngine(
	cfg *config.Config,
	users *userRepo.UserRepo,
	contacts *contactRepo.ContactRepo,
	store delivery.Store,
	hub *presence.Hub,
	lastSeen *presence.LastSeenStore,
) *dispatch.Engine {
	return dispatch.New(dispatch.Config{
		CodecSecret:   cfg.Codec.Secret,
		Retention:     cfg.Delivery.Retention.Duration,
		PruneInterval: cfg.Delivery.PruneInterval.Duration,
	}, users, contacts, store, hub, lastSeen)
}

func provideServer(
	cfg *config.Config,
	engine *dispatch.Engine,
	users *userRepo.UserRepo,
	contacts *contactRepo.ContactRepo,
	lastSeen *presence.LastSeenStore,
) *server.HttpServer {
	return server.NewHttpServer(cfg.Server.Addr, engine, users, contacts, lastSeen)
}

func registerLifecycle(lc fx.Lifecycle, srv *server.HttpServer, engine *dispatch.Engine, logger *zap.Logger) {
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	janitorDone := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := srv.Start(); err != nil {
				return err
			}
			go func() {
				defer close(janitorDone)
				engine.RunJanitor(janitorCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopJanitor()
			err := srv.Shutdown(ctx)
			select {
			case <-janitorDone:
			case <-ctx.Done():
			}
			logger.Info("server stopped")
			_ = log.Sync()
			return err
		},
	})
}
