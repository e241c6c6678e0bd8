package main

import (
	"fmt"
	"os"

	"github.com/safar/handloom-fulfillment/internal/config"
	"github.com/safar/handloom-fulfillment/internal/database"
	"github.com/safar/handloom-fulfillment/internal/logger"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: go run scripts/run_migrations.go [up|down]")
		os.Exit(2)
	}

	direction := os.Args[1]
	if direction != "up" && direction != "down" {
		fmt.Fprintln(os.Stderr, "Direction must be 'up' or 'down'")
		os.Exit(2)
	}

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

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatal("Connect to database", zap.Error(err))
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, cfg.Database.MigrationsPath, log)
	if err != nil {
		log.Fatal("Create migrator", zap.Error(err))
	}

	if direction == "up" {
		err = migrator.Up()
	} else {
		err = migrator.Down()
	}
	if err != nil {
		log.Fatal("Run migrations", zap.String("direction", direction), zap.Error(err))
	}
}
