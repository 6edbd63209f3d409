package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-kanban/actions"
	"prism-kanban/api"
	"prism-kanban/bus"
	"prism-kanban/config"
	"prism-kanban/storage"
)

const busName = "board-events"

// backend is what both storage drivers provide.
type backend interface {
	storage.Backend
	actions.RoleLookup
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.LogFormat == config.LogFormatJSON {
		log.SetFormatter(&log.JSONFormatter{})
		logger.SetFormatter(&log.JSONFormatter{})
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer closeStore()

	var (
		boards  api.BoardReader = store
		writes  actions.Store   = store
		deduper api.Deduper
	)
	if cfg.RedisConnectionString != "" {
		redisOpts, err := config.RedisOptions(cfg.RedisConnectionString)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(redisOpts)
		defer rc.Close()
		cache := storage.NewCache(store, rc, cfg.BoardCacheTTL)
		boards, writes = cache, cache
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	} else {
		logger.Info("REDIS_CONNECTION_STRING not set, board cache and idempotency keys disabled")
	}

	events := bus.Acquire(busName, bus.Options{MaxListeners: cfg.BusMaxListeners, Logger: logger})
	defer events.Release()

	auth, closeAuth, err := newAuth(cfg.Auth, logger)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}
	defer closeAuth()

	authz := actions.Membership{Roles: store}
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept,
			echo.HeaderAuthorization, api.HeaderIdempotencyKey,
		},
	}))
	e.Use(api.BodyMiddleware(api.DefaultBodyLimit))
	api.Register(e, api.Deps{
		Boards:          boards,
		Mutations:       actions.NewService(writes, authz, events, logger),
		Auth:            auth,
		Authorizer:      authz,
		Bus:             events,
		Deduper:         deduper,
		Logger:          logger,
		StreamBuffer:    cfg.StreamBuffer,
		StreamKeepalive: cfg.StreamKeepalive,
	})

	// Request contexts end on shutdown so open streams return.
	e.Server.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("serve: %v", err)
		}
	}()
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown")
	}
}

func openStorage(ctx context.Context, cfg config.Config, logger *log.Logger) (backend, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverMemory:
		mem := storage.NewMemory()
		if cfg.SeedDemo {
			mem.Seed(storage.DemoBoard(), storage.DemoMembers(cfg.DemoEditors...))
			logger.WithField("project", storage.DemoProjectID).Info("seeded demo board")
		}
		return mem, func() {}, nil
	default:
		db, err := storage.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if err := sqlDB.Close(); err != nil {
				logger.WithError(err).Warn("close database")
			}
		}
		if err := storage.RunMigrations(ctx, db); err != nil {
			closeDB()
			return nil, nil, err
		}
		pg := storage.NewPostgres(db)
		if cfg.SeedDemo {
			if err := pg.Seed(ctx, storage.DemoBoard(), "Demo board", storage.DemoMembers(cfg.DemoEditors...)); err != nil {
				closeDB()
				return nil, nil, err
			}
		}
		return pg, closeDB, nil
	}
}

func newAuth(cfg config.Auth, logger *log.Logger) (*api.Auth, func(), error) {
	opts := api.AuthOptions{
		Audience:    cfg.Audience,
		Issuer:      cfg.Issuer(),
		KeyCacheTTL: cfg.JWKSCacheTTL,
	}
	if cfg.TestMode() {
		logger.Warn("local auth mode: accepting HS256 tokens signed with the shared secret")
		opts.TestSecret = []byte(cfg.TestSecret)
		return api.NewAuth(nil, opts), func() {}, nil
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{
		RefreshInterval: cfg.JWKSCacheTTL,
		RefreshErrorHandler: func(err error) {
			logger.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return api.NewAuth(jwks, opts), jwks.EndBackground, nil
}
