package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rewards-ledger-system/config"
	"rewards-ledger-system/handlers"
	"rewards-ledger-system/logging"
	"rewards-ledger-system/middleware"
	"rewards-ledger-system/models"
	"rewards-ledger-system/services"
	"rewards-ledger-system/utils"
	"rewards-ledger-system/workers"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config: %v", err)
	}
	if err := logging.InitLogger(cfg.Production()); err != nil {
		log.Fatalf("❌ logger: %v", err)
	}
	defer logging.Sync()
	logger := logging.Logger

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("failed to get sql.DB", zap.Error(err))
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := models.AutoMigrate(db); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := services.NewEventHub(32)
	settingsService := services.NewSettingsService(db)
	if err := settingsService.EnsureDefaults(ctx); err != nil {
		logger.Fatal("failed to seed settings", zap.Error(err))
	}
	taskService := services.NewTaskService(db)
	accountService := services.NewAccountService(db, settingsService, events)
	ledgerService := services.NewLedgerService(db, settingsService, taskService, events)
	withdrawalService := services.NewWithdrawalService(db, settingsService, events, services.RejectPolicy(cfg.WithdrawRejectPolicy))
	journalService := services.NewJournalService(db)
	statsService := services.NewStatsService(db, settingsService)

	var exportSched gocron.Scheduler
	if cfg.R2.Enabled() {
		uploader, err := utils.NewR2Uploader(ctx, cfg.R2)
		if err != nil {
			logger.Fatal("failed to initialize R2 client", zap.Error(err))
		}
		exporter := services.NewPayoutExporter(db, uploader, cfg.PayoutExportPrefix)
		exportSched, err = exporter.Start(cfg.PayoutExportInterval)
		if err != nil {
			logger.Fatal("failed to start payout export scheduler", zap.Error(err))
		}
		logger.Info("✅ Payout export scheduled", zap.Duration("interval", cfg.PayoutExportInterval))
	} else {
		logger.Warn("⚠️  R2 not configured, payout export disabled")
	}

	if cfg.TaskRegistryURL != "" {
		syncWorker := workers.NewTaskSyncWorker(taskService, cfg.TaskRegistryURL, cfg.TaskRegistryPath, cfg.TaskRegistryToken, cfg.TaskSyncInterval)
		syncWorker.Start(ctx)
	}

	app := fiber.New(fiber.Config{
		AppName:      "rewards-ledger",
		BodyLimit:    1 * 1024 * 1024,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-User-ID, X-User-Roles",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Served before gateway auth.
	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := sqlDB.PingContext(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
		}
		return c.JSON(fiber.Map{"status": "ok", "subscribers": events.Subscribers()})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// 🔐❗ Everything below must come from the gateway
	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken))

	handlers.SetupAdminRoutes(app, &handlers.AdminHandler{
		Accounts:    accountService,
		Tasks:       taskService,
		Withdrawals: withdrawalService,
		Settings:    settingsService,
		Stats:       statsService,
		Events:      events,
	}, cfg.AdminRole)
	handlers.SetupLedgerRoutes(app, &handlers.LedgerHandler{
		Accounts:    accountService,
		Ledger:      ledgerService,
		Tasks:       taskService,
		Withdrawals: withdrawalService,
		Journal:     journalService,
		Settings:    settingsService,
		Events:      events,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	logger.Info("✅ Server running", zap.String("port", cfg.Port))
	logger.Info("✅ CORS configured", zap.Strings("origins", cfg.AllowedOrigins))
	logger.Info("✅ Withdrawal reject policy", zap.String("policy", cfg.WithdrawRejectPolicy))

	<-ctx.Done()
	logger.Info("Shutting down server...")

	if exportSched != nil {
		if err := exportSched.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown", zap.Error(err))
		}
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	_ = sqlDB.Close()
}
