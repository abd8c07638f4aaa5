package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskhub/api"
	"taskhub/realtime"
	"taskhub/service"
	"taskhub/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := loadConfig(os.LookupEnv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("tracer shutdown")
		}
	}()

	store, health, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer closeStore()

	var deduper api.Deduper
	if cfg.RedisConn != "" {
		opts, err := parseRedisOptions(cfg.RedisConn)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		store = storage.NewCache(store, rc, cfg.QueryCacheTTL)
		d := api.NewRedisDeduper(rc, cfg.DeduperTTL)
		deduper = d
		health["redis"] = d
	}

	registry := realtime.NewRegistry()
	hub := realtime.NewHub(registry, cfg.StreamBuffer)
	var routerOpts []realtime.RouterOption
	if cfg.EventsQueue != "" {
		queue, err := storage.NewEventQueue(cfg.StorageConn, cfg.EventsQueue)
		if err != nil {
			logger.Fatalf("events queue: %v", err)
		}
		sink := realtime.NewAsyncSink(queue, logger, cfg.sinkConfig())
		defer sink.Close()
		routerOpts = append(routerOpts, realtime.WithSink(sink))
	}
	router := realtime.NewRouter(registry, hub, logger, routerOpts...)

	auth, err := newAuth(cfg)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.JSONSerializer{}
	e.HTTPErrorHandler = api.ErrorHandler(logger)
	e.Use(middleware.Recover())
	e.Use(middleware.Decompress())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.Observe(logger))
	if cfg.PprofEnabled {
		pprof.Register(e)
	}

	api.Register(e, api.Deps{
		Tasks:     service.NewTasks(store, router, logger),
		Projects:  service.NewProjects(store),
		Users:     service.NewUsers(store),
		Auth:      auth,
		Deduper:   deduper,
		Hub:       hub,
		Health:    health,
		Logger:    logger,
		KeepAlive: cfg.KeepAlive,
	})

	go func() {
		logger.WithFields(log.Fields{"addr": cfg.ListenAddr, "backend": cfg.Backend}).Info("taskhub listening")
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
}

func openStore(ctx context.Context, cfg config, logger *log.Logger) (storage.Store, map[string]api.HealthChecker, func(), error) {
	health := make(map[string]api.HealthChecker)
	noop := func() {}
	switch cfg.Backend {
	case backendTables:
		s, err := storage.NewTableStore(cfg.StorageConn, cfg.TasksTable, cfg.ProjectsTable, cfg.UsersTable)
		if err != nil {
			return nil, nil, noop, err
		}
		return s, health, noop, nil
	case backendPostgres:
		db, err := storage.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, noop, err
		}
		s, err := storage.NewSQLStore(db)
		if err != nil {
			return nil, nil, noop, err
		}
		if err := s.Migrate(ctx); err != nil {
			return nil, nil, noop, fmt.Errorf("migrate: %w", err)
		}
		health["postgres"] = s
		return s, health, func() {
			if err := s.Close(); err != nil {
				logger.WithError(err).Warn("close database")
			}
		}, nil
	default:
		return storage.NewMemoryStore(), health, noop, nil
	}
}

func newAuth(cfg config) (*api.Auth, error) {
	opts := api.AuthOptions{
		LocalMode:   cfg.LocalAuthMode,
		LocalSecret: cfg.LocalAuthSecret,
		KeyCacheTTL: cfg.JWKSCacheTTL,
	}
	if cfg.LocalAuthMode != "" {
		return api.NewAuth(nil, cfg.Auth0Audience, "", opts)
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour, RefreshUnknownKID: true})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/", opts)
}
