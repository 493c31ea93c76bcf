package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/Ranidpz/qrinfo-sub004/internal/auth"
	"github.com/Ranidpz/qrinfo-sub004/internal/capacity"
	"github.com/Ranidpz/qrinfo-sub004/internal/checkin"
	"github.com/Ranidpz/qrinfo-sub004/internal/checkin/checkin_api"
	"github.com/Ranidpz/qrinfo-sub004/internal/config"
	"github.com/Ranidpz/qrinfo-sub004/internal/database/migrations"
	"github.com/Ranidpz/qrinfo-sub004/internal/kafka"
	"github.com/Ranidpz/qrinfo-sub004/internal/logger"
	"github.com/Ranidpz/qrinfo-sub004/internal/otp"
	otpredis "github.com/Ranidpz/qrinfo-sub004/internal/otp/redis"
	"github.com/Ranidpz/qrinfo-sub004/internal/registration"
	regdb "github.com/Ranidpz/qrinfo-sub004/internal/registration/db"
	"github.com/Ranidpz/qrinfo-sub004/internal/registration/registration_api"
	"github.com/Ranidpz/qrinfo-sub004/internal/roster"
	"github.com/Ranidpz/qrinfo-sub004/internal/roster/roster_api"
	"github.com/Ranidpz/qrinfo-sub004/internal/token"
)

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal("CONFIG", "POSTGRES_DSN not set")
	}

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", dsn)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	logger.Info("DATABASE", "✅ PostgreSQL connection successful")
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	logger.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s", cfg.Redis.Addr))

	return bunDB, redisClient
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Check-In Gateway initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	if os.Getenv("MIGRATE_ON_START") != "false" {
		runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
		if err := runner.RunOnStartup(); err != nil {
			logger.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
		logger.Info("DATABASE", "✅ Schema migrations applied")
	}

	var guestPublisher registration.KafkaPublisher = kafka.Noop{}
	var arrivalPublisher checkin.KafkaPublisher = kafka.Noop{}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		guestPublisher = producer
		arrivalPublisher = producer
		logger.Info("KAFKA", "Kafka producer initialized successfully")

		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, kafka.AllTopics); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			logger.Info("KAFKA", "Required topics ensured successfully")
		}
	} else {
		logger.Warn("KAFKA", "Kafka disabled, guest lifecycle events will not be published")
	}

	httpClient := &http.Client{
		Timeout: time.Second * 10,
	}

	feed := roster.NewRedisFeed(redisClient, logger)
	synchronizer := roster.NewSynchronizer(&regdb.DB{Bun: bunDB}, feed, logger)

	otpService := otp.NewService(
		otp.NewStore(bunDB),
		otp.NewHTTPGateway(cfg.SMS.GatewayURL, cfg.SMS.APIKey, cfg.SMS.Sender, httpClient),
		otpredis.NewLimiter(redisClient, cfg.Otp.MaxSends, cfg.Otp.SendWindow, cfg.Otp.ResendCooldown),
		cfg.Otp.TTL,
	)

	registrationService := registration.NewService(
		&regdb.DB{Bun: bunDB},
		capacity.NewLedger(bunDB),
		otpService,
		guestPublisher,
		feed,
		logger,
	)

	checkinService := checkin.NewService(
		&regdb.DB{Bun: bunDB},
		arrivalPublisher,
		feed,
		logger,
	)

	resolver := token.NewResolver(cfg.App.Tag)
	qrGenerator := token.NewQRGenerator(cfg.App.Tag, cfg.App.PassBaseURL)

	registrationHandler := registration_api.NewHandler(registrationService, qrGenerator, logger)
	checkinHandler := checkin_api.NewHandler(checkinService, resolver, logger)
	rosterHandler := roster_api.NewSSEHandler(logger, synchronizer)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// --- Guest Routes ---
	r.Route("/api/registration", func(r chi.Router) {
		r.Post("/", registrationHandler.HandleRegister)
		r.Get("/slot/{slotID}/summary", registrationHandler.HandleActiveSummary)
		r.Post("/otp/send", registrationHandler.HandleOtpSend)
		r.Post("/otp/verify", registrationHandler.HandleOtpVerify)
		r.Delete("/{registrationID}", registrationHandler.HandleCancel)
		r.Get("/{registrationID}/qr", registrationHandler.HandlePassQR)
	})
	logger.Info("ROUTER", "Guest registration routes registered under /api/registration")

	// --- Operator Routes ---
	r.Group(func(r chi.Router) {
		if issuer := os.Getenv("OIDC_ISSUER"); issuer != "" {
			middleware, err := auth.OperatorMiddleware(ctx, issuer)
			if err != nil {
				logger.Fatal("AUTH", fmt.Sprintf("Failed to set up OIDC middleware: %v", err))
			}
			r.Use(middleware)
			logger.Info("AUTH", "OIDC middleware applied to operator routes")
		} else {
			logger.Warn("AUTH", "OIDC_ISSUER not set, operator routes are unprotected")
		}

		r.Post("/api/checkin", checkinHandler.HandleCheckin)
		r.Post("/api/checkin/{registrationID}/toggle", checkinHandler.HandleToggleArrival)
		logger.Info("ROUTER", "Check-in routes registered under /api/checkin")

		r.Get("/api/events/{eventID}/roster", rosterHandler.HandleRosterSnapshot)
		r.Get("/api/events/{eventID}/roster/stream", rosterHandler.HandleEventRoster)
		logger.Info("ROUTER", "Roster routes registered under /api/events")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		// No write timeout: roster SSE connections stay open indefinitely
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Check-In Gateway running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "✅ Check-In Gateway shutdown complete")
	}
}
