package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/safar/handloom-fulfillment/internal/api"
	"github.com/safar/handloom-fulfillment/internal/checkout"
	"github.com/safar/handloom-fulfillment/internal/config"
	"github.com/safar/handloom-fulfillment/internal/database"
	"github.com/safar/handloom-fulfillment/internal/fulfillment"
	"github.com/safar/handloom-fulfillment/internal/ledger"
	"github.com/safar/handloom-fulfillment/internal/logger"
	"github.com/safar/handloom-fulfillment/internal/packing"
	"github.com/safar/handloom-fulfillment/internal/store"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("Server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	log.Info("Connected to database")

	if cfg.Database.AutoMigrate {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationsPath, log)
		if err != nil {
			return err
		}
		if err := migrator.Up(); err != nil {
			return err
		}
	}

	sessions, closeSessions, err := sessionStore(cfg, db, log)
	if err != nil {
		return err
	}
	defer closeSessions()

	stock := ledger.New(db, log)
	service := fulfillment.NewService(
		store.NewOrders(db),
		packing.NewManager(sessions, log),
		stock,
		fulfillment.Options{RestockOnCancel: cfg.Fulfillment.RestockOnCancel},
		log,
	)

	gin.SetMode(cfg.Server.GinMode)
	handler := api.NewHandler(stock, checkout.New(db, stock, log), service, db.PingContext, log)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(handler, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("session_backend", cfg.Packing.SessionBackend),
			zap.Bool("restock_on_cancel", cfg.Fulfillment.RestockOnCancel))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func sessionStore(cfg *config.Config, db *sql.DB, log *zap.Logger) (packing.SessionStore, func(), error) {
	if cfg.Packing.SessionBackend != config.SessionBackendRedis {
		return store.NewPackingSessions(db), func() {}, nil
	}

	client, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info("Packing sessions stored in redis", zap.String("key_prefix", cfg.Packing.KeyPrefix))

	closeFn := func() {
		if err := client.Close(); err != nil {
			log.Warn("Close redis", zap.Error(err))
		}
	}
	return packing.NewRedisStore(client, cfg.Packing.KeyPrefix, cfg.Packing.SessionTTL), closeFn, nil
}
