package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cardlottery/internal/config"
	"cardlottery/internal/events"
	"cardlottery/internal/handlers"
	"cardlottery/internal/jobs"
	"cardlottery/internal/services"
	"cardlottery/internal/storage"
	"cardlottery/internal/storage/memory"
	"cardlottery/internal/storage/postgres"
	"cardlottery/internal/storage/sqlite"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	defer logger.Init("cardlottery", cfg.LogVerbose, false, io.Discard).Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Storage
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to open %s storage: %v", cfg.StorageDriver, err)
	}
	defer repo.Close()

	// 2. Event publisher
	publisher := openPublisher(cfg)
	defer publisher.Close()

	// 3. Lottery service
	lotteryService := services.NewLotteryService(repo,
		services.WithPublisher(publisher),
		services.WithMaxAttempts(cfg.DrawMaxAttempts),
	)

	// 4. Background inventory audit
	scheduler := jobs.NewScheduler(lotteryService, cfg.AuditSchedule)
	if err := scheduler.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	// 5. HTTP
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if gin.Mode() == gin.DebugMode {
		r.Use(gin.Logger())
	}
	handlers.NewHTTPHandler(lotteryService, []byte(cfg.JWTSecret)).RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Server starting on :%s (storage=%s)", cfg.Port, cfg.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		<-scheduler.Stop().Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("Server stopped with error: %v", err)
		return
	}
	logger.Info("Server stopped")
}

func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, error) {
	switch cfg.StorageDriver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		logger.Warning("Using in-memory storage; lotteries are lost on restart")
		return memory.New(), nil
	}
}

func openPublisher(cfg *config.Config) events.Publisher {
	if cfg.AMQPURL == "" {
		return events.LogPublisher{}
	}
	p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.EventsExchange)
	if err != nil {
		logger.Errorf("Failed to connect to AMQP, events will only be logged: %v", err)
		return events.LogPublisher{}
	}
	return p
}
