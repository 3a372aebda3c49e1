package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"spark/backend/internal/api/handler"
	"spark/backend/internal/chathub"
	"spark/backend/internal/config"
	"spark/backend/internal/events"
	"spark/backend/internal/history"
	"spark/backend/internal/localization"
	"spark/backend/internal/logging"
	"spark/backend/internal/matchmaking"
	"spark/backend/internal/observability"
	"spark/backend/internal/options"
	"spark/backend/internal/profiles"
	"spark/backend/internal/storage"
	"spark/backend/internal/supervisor"
	"spark/backend/internal/telegram"
	"spark/backend/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// dependencies містить залежності сервісів, що працюють зі сховищем.
type dependencies struct {
	Store    storage.Storage
	Profiles profiles.Provider
	History  history.Source
	Options  options.Lookup
	close    func()
}

func setupDependencies(cfg *config.Config) (*dependencies, error) {
	if cfg.Database.Driver == "memory" {
		logging.Warn().Msg("using in-memory storage, data is lost on restart")
		prof := profiles.NewStatic()
		if cfg.Database.Fixtures == "" {
			logging.Warn().Msg("no profile fixtures configured (database.fixtures), every join will fail with user not found")
		} else {
			loaded, err := profiles.LoadFixtureFile(cfg.Database.Fixtures)
			if err != nil {
				return nil, err
			}
			prof = loaded
			logging.Info().Str("path", cfg.Database.Fixtures).Msg("profile fixtures loaded")
		}
		mem := storage.NewMemoryStore()
		return &dependencies{
			Store:    mem,
			Profiles: prof,
			History:  mem,
			Options:  options.NewStatic(nil),
			close:    func() {},
		}, nil
	}

	// PostgreSQL та міграції
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect PostgreSQL: %w", err)
	}
	if err := storage.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	lookup := options.NewGormLookup(db)
	logging.Info().Msg("database connection established, migrations complete")
	return &dependencies{
		Store:    storage.NewStorageService(db),
		Profiles: profiles.NewRepo(db, lookup),
		History:  history.NewSQLSource(sqlDB, "postgres"),
		Options:  lookup,
		close:    func() { _ = sqlDB.Close() },
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logging.Info().Str("addr", cfg.Server.Addr).Msg("starting Spark backend")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logging.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	deps, err := setupDependencies(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to set up storage")
	}
	defer deps.close()

	publisher := events.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	emitter := events.NewEmitter(publisher, cfg.Telemetry.ServiceName)
	emitter.OnError(observability.IncAMQPPublishError)

	// Дерево супервізора: воркери окремо від API
	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	loc := localization.Embedded()

	// 1. Chat Hub та доставка сповіщень
	hub := chathub.NewManagerService()
	tree.AddWorker(hub)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logging.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect Redis")
		}
		defer rdb.Close()

		relay := chathub.NewRedisRelay(rdb, hub)
		hub.Relay = relay
		tree.AddWorker(relay)
	}

	if cfg.Telegram.Enabled {
		bot, err := telegram.NewBotService(cfg.Telegram.Token, loc)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to start Telegram bot")
		}
		hub.Offline = telegram.NewNotifier(bot.BotAPI, deps.Profiles, loc, telegram.DefaultBreakerSettings())
		tree.AddWorker(bot)
	}

	// 2. Сервіси матчингу
	sessions := matchmaking.NewSessionService(deps.Store, deps.Profiles, cfg.Matchmaking)
	sessions.Notifier = hub
	sessions.Events = emitter
	sessions.Localizer = loc

	guard := history.NewGuard(deps.History, cfg.Matchmaking.Cooldown)
	matcher := matchmaking.NewMatcherService(deps.Store, deps.Profiles, guard, sessions, cfg.Matchmaking)
	matcher.Options = deps.Options

	chats := matchmaking.NewChatService(deps.Store, cfg.Matchmaking)
	chats.Notifier = hub

	hub.Router = sessions

	if cfg.Matchmaking.SweepEnabled {
		tree.AddWorker(matchmaking.NewSweeper(matcher, cfg.Matchmaking.SweepInterval))
	}

	// 3. Налаштування Gin та роутингу
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(cfg.Telemetry.ServiceName), observability.HTTPMetricsMiddleware())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(observability.Handler()))
	handler.NewHandler(matcher, sessions, chats, hub, cfg.Auth, cfg.RateLimit).Register(r)

	server := &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	tree.AddAPI(supervisor.NewHTTPService(server, 0))

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	logging.Info().Msg("shutdown complete")
}
