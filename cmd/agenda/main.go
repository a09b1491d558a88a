package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Freeeeeet/coach_agenda/internal/app"
	"github.com/Freeeeeet/coach_agenda/internal/conflict"
	"github.com/Freeeeeet/coach_agenda/internal/config"
	"github.com/Freeeeeet/coach_agenda/internal/controller"
	"github.com/Freeeeeet/coach_agenda/internal/controller/httpapi"
	"github.com/Freeeeeet/coach_agenda/internal/controller/notify"
	"github.com/Freeeeeet/coach_agenda/internal/events"
	"github.com/Freeeeeet/coach_agenda/internal/metrics"
	"github.com/Freeeeeet/coach_agenda/internal/repository"
	"github.com/Freeeeeet/coach_agenda/internal/repository/base"
	"github.com/Freeeeeet/coach_agenda/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Environment, cfg.LogLevel)
	defer logger.Sync()

	logger.Sugar().Infow("Starting coach agenda",
		"environment", cfg.Environment,
		"http_addr", cfg.HTTPAddr,
		"timezone", cfg.DefaultTimezone)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Service stopped with error", zap.Error(err))
	}
	logger.Info("Service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pool, err := pgxpool.New(ctx, cfg.GetDBDSN())
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}

	if cfg.MigrationsEnabled {
		migrator, err := app.NewMigrator(pool, logger)
		if err != nil {
			return err
		}
		runErr := migrator.Run(ctx)
		_ = migrator.Close()
		if runErr != nil {
			return runErr
		}
	}

	metrics.Register()

	baseRepo := base.NewRepository(pool)
	repos := service.Repositories{
		Tx:         baseRepo,
		Coaches:    repository.NewCoachRepository(baseRepo),
		Clients:    repository.NewClientRepository(baseRepo),
		Services:   repository.NewServiceRepository(baseRepo),
		Rules:      repository.NewAvailabilityRuleRepository(baseRepo),
		Exceptions: repository.NewAvailabilityExceptionRepository(baseRepo),
		Bookings:   repository.NewBookingRepository(baseRepo),
	}

	index := conflict.New(cfg.IndexLookahead())
	loc := cfg.Location()

	// Redis необязателен: без него нет рассылки инвалидаций и лимита запросов
	rdb := events.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	var bus service.InvalidationPublisher
	if rdb != nil {
		defer rdb.Close()
		invalidations := events.NewInvalidationBus(rdb, logger)
		if _, err := invalidations.Listen(ctx, index); err != nil {
			return err
		}
		bus = invalidations
		logger.Info("Redis connected", zap.String("addr", cfg.RedisAddr))
	} else if cfg.RedisAddr != "" {
		logger.Warn("Redis unavailable, running without index broadcast", zap.String("addr", cfg.RedisAddr))
	}

	var publisher service.EventPublisher = events.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		amqpPublisher := events.NewAMQPPublisher(cfg.RabbitMQURL, logger)
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	availability := service.NewAvailabilityService(repos, index, loc, logger)

	var notifier service.Notifier = notify.NopNotifier{}
	tgBot, err := newTelegramBot(cfg.TelegramToken)
	if err != nil {
		return err
	}
	if tgBot != nil {
		notifier = notify.NewTelegramNotifier(tgBot, loc, logger)
	}

	bookings := service.NewBookingService(repos, availability, bus, publisher, notifier, logger)
	schedule := service.NewScheduleService(repos, availability, bus, logger)

	if tgBot != nil {
		botController := controller.NewBotController(tgBot, availability, bookings, schedule, loc, logger)
		if err := botController.RegisterHandlers(ctx); err != nil {
			logger.Warn("Telegram commands menu unavailable", zap.Error(err))
		}
		go botController.Start(ctx)
	}

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		Enabled: cfg.RateLimitEnabled,
		Limit:   cfg.RateLimitLimit,
		Window:  cfg.RateLimitWindow,
	}, rdb, logger)
	e := httpapi.NewServer(httpapi.NewHandler(availability, bookings, schedule, logger), limiter, logger)

	scheduler := app.NewScheduler(index, cfg.IndexSweepInterval, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// newTelegramBot возвращает nil, если токен не задан
func newTelegramBot(token string) (*bot.Bot, error) {
	if token == "" {
		return nil, nil
	}
	return notify.NewBot(token)
}
