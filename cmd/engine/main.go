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

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"salon_notification_engine/internal/app"
	domainTelegram "salon_notification_engine/internal/domain/telegram"
	"salon_notification_engine/internal/infra/config"
	idb "salon_notification_engine/internal/infra/database"
	"salon_notification_engine/internal/infra/gateway/evolution"
	"salon_notification_engine/internal/infra/httpapi"
	"salon_notification_engine/internal/infra/lock"
	"salon_notification_engine/internal/infra/logger"
	"salon_notification_engine/internal/infra/scheduler"
	"salon_notification_engine/internal/infra/telegram"
	"salon_notification_engine/internal/infra/telemetry"
)

func main() {
	fmt.Println("Salon Notification Engine starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg)
	mainLogger := logger.Component(cfg.TenantID, "main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"timezone":    cfg.Timezone,
		"http_addr":   cfg.HTTPAddr,
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()
	mainLogger.Info("Database connection established successfully.")

	if cfg.AutoMigrate {
		if err := idb.ApplySchema(ctx, db); err != nil {
			mainLogger.WithError(err).Fatal("Could not apply database schema")
		}
		mainLogger.Info("Database schema applied.")
	}

	// Initialize Repositories
	ledgerRepo := idb.NewPostgresLedgerRepository(db)
	appointmentRepo := idb.NewPostgresAppointmentRepository(db)
	clientRepo := idb.NewPostgresClientRepository(db)
	configRepo := idb.NewPostgresConfigRepository(db)

	registry := telemetry.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	gw := evolution.NewClient(cfg.GatewayTimeout, cfg.DefaultAreaCode, logger.Component(cfg.TenantID, "gateway"))

	// Operator bot is optional; without it alerts only reach the log.
	var bot *telebot.Bot
	var operatorClient domainTelegram.Client
	if cfg.TelegramToken != "" {
		botLogger := logger.Component(cfg.TenantID, "telebot")
		bot, err = telebot.NewBot(telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) {
				logCtx := botLogger.WithError(err)
				if c != nil && c.Sender() != nil && c.Chat() != nil {
					logCtx = logCtx.WithFields(logrus.Fields{
						"text":      c.Text(),
						"sender_id": c.Sender().ID,
						"chat_id":   c.Chat().ID,
					})
				}
				logCtx.Error("Telegram handler error")
			},
		})
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
		operatorClient = telegram.NewTelebotAdapter(bot)
	}
	alerter := app.NewOperatorAlerter(operatorClient, cfg.AdminTelegramID, logger.Component(cfg.TenantID, "alerter"))

	tenantCfg, err := configRepo.Get(ctx, cfg.TenantID)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not load notification config")
	}
	if err := app.ValidateConfig(tenantCfg); err != nil {
		mainLogger.WithError(err).Fatal("Notification config is invalid")
	}

	sessions := app.NewSessionManager(tenantCfg, gw, configRepo, alerter, metrics,
		logger.Component(cfg.TenantID, "session"), cfg.GatewayTimeout)

	var locker app.SweepLocker
	if cfg.RedisURL != "" {
		var rdb *redis.Client
		rdb, err = lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not connect to redis")
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, "salon_notify:"+cfg.TenantID, logger.Component(cfg.TenantID, "lock"))
		mainLogger.Info("Distributed sweep lock enabled.")
	}

	engine := app.NewAutomationEngine(sessions, ledgerRepo, appointmentRepo, clientRepo, locker, metrics,
		logger.Component(cfg.TenantID, "engine"), app.EngineSettings{Location: cfg.Location})
	reconciler := app.NewWebhookReconciler(ledgerRepo, appointmentRepo, metrics,
		logger.Component(cfg.TenantID, "reconciler"), nil)
	adminService := app.NewAdminService(sessions, engine, ledgerRepo, alerter, cfg.AdminTelegramID)

	server := httpapi.NewServer(httpapi.Deps{
		Reconciler:   reconciler,
		Appointments: engine,
		ParseWebhook: evolution.ParseWebhook,
		WebhookToken: cfg.WebhookToken,
		DB:           db,
		Metrics:      metrics,
		Registry:     registry,
		Logger:       logger.Component(cfg.TenantID, "http"),
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	notifScheduler := scheduler.NewNotificationScheduler(engine, sessions,
		logger.Component(cfg.TenantID, "scheduler"), cfg.Location, cfg.SchedulerSpecs())
	if err := notifScheduler.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start scheduler")
	}

	if bot != nil {
		handlerLogger := logger.Component(cfg.TenantID, "telegram")
		telegram.RegisterBotCommands(bot, adminService, handlerLogger)
		telegram.RegisterAdminHandlers(ctx, bot, adminService, cfg.Location, handlerLogger)
		go bot.Start()
		mainLogger.Info("Operator bot started.")
	}

	go func() {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.WithError(err).Error("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()

	mainLogger.Info("Shutting down application...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("HTTP server shutdown did not complete")
	}
	notifScheduler.Stop()
	if bot != nil {
		bot.Stop()
	}
	mainLogger.Info("Application shut down gracefully.")
}
