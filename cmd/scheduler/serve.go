package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/app"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/availability"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/controller"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/handler"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/lock"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/metrics"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/notify"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/repository"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/repository/base"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/service"
	"github.com/go-telegram/bot"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the staff bot and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending migrations before starting")
	return cmd
}

func serve(ctx context.Context, migrate bool) error {
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	cfg, logger := e.cfg, e.logger
	logger.Info("Starting field service scheduler",
		zap.String("environment", cfg.Environment),
		zap.String("http_addr", cfg.HTTPAddr))

	if migrate {
		if err := runMigrations(ctx, e, "up"); err != nil {
			return err
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	repo := base.NewRepository(e.pool)
	settingsRepo := repository.NewSettingsRepository(repo)
	workerRepo := repository.NewWorkerRepository(repo)
	commitmentRepo := repository.NewCommitmentRepository(repo)

	m := metrics.New()
	engine := availability.NewEngine(settingsRepo, workerRepo, busySources(repo), availability.Options{
		Location:          loc,
		SourceTimeout:     cfg.Scheduler.SourceTimeout,
		WorkerConcurrency: cfg.Scheduler.WorkerConcurrency,
		Metrics:           m,
	}, logger)

	var notifiers notify.Multi

	var locker service.Locker
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			// the database check still refuses overlapping bookings
			logger.Warn("Redis is unreachable, booking lock degrades to the database", zap.Error(err))
		}
		locker = lock.NewRedisLocker(rdb, "fieldservice:")
	} else {
		logger.Info("REDIS_ADDR is empty, booking lock disabled")
	}

	if cfg.RabbitMQ.DSN != "" {
		conn, err := amqp.Dial(cfg.RabbitMQ.DSN)
		if err != nil {
			return err
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			return err
		}
		defer ch.Close()

		publisher, err := notify.NewAMQPPublisher(ch, cfg.RabbitMQ.Queue)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, publisher)
		logger.Info("Publishing booking events", zap.String("queue", cfg.RabbitMQ.Queue))
	}

	var telegram *bot.Bot
	if cfg.Telegram.Token != "" {
		telegram, err = bot.New(cfg.Telegram.Token)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, notify.NewTelegramNotifier(telegram, cfg.Telegram.StaffChatIDs, loc))
	} else {
		logger.Info("TELEGRAM_TOKEN is empty, staff bot disabled")
	}

	bookings := service.NewBookingService(
		commitmentRepo,
		engine,
		locker,
		cfg.Scheduler.BookingLockTTL,
		notifiers,
		m,
		logger,
	)

	h, err := handler.NewHandler(engine, bookings, settingsRepo, m.Handler(), logger)
	if err != nil {
		return err
	}
	h.RegisterRoutes()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      h.Mux,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorLog:     zap.NewStdLog(logger),
	}

	scheduler := app.NewScheduler(commitmentRepo, notifiers, cfg.Scheduler.PendingReminderAfter, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if telegram != nil {
		handlers := controller.NewHandlers(bookings, engine, cfg.Telegram.OrgID, cfg.Telegram.StaffChatIDs, loc, logger)
		botController := controller.NewBotController(telegram, handlers, logger)
		if err := botController.RegisterHandlers(ctx); err != nil {
			logger.Warn("Bot commands menu not set", zap.Error(err))
		}
		go botController.Start(ctx)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}
	logger.Info("Stopped")
	return nil
}

func busySources(repo *base.Repository) []availability.EventSource {
	return []availability.EventSource{
		repository.NewCalendarSource(repo),
		repository.NewAssignmentSource(repo),
		repository.NewTimeOffSource(repo),
	}
}
