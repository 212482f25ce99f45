package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"pointledger/internal/config"
	"pointledger/internal/jobs"
	"pointledger/internal/logger"
	"pointledger/internal/repository/sqlstore"
	"pointledger/internal/scheduler"
	"pointledger/internal/service"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.example.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (e.g., 'expire-points', 'reconcile-balances', 'all')")
	migrate := flag.Bool("migrate", false, "Create the ledger tables if missing before starting")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting point ledger job runner...", "log_level", cfg.Log.Level, "driver", cfg.Database.Driver)

	ctx := context.Background()

	// Initialize Database
	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()
	logger.Info("Database connection established")

	if *migrate {
		if err := store.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		logger.Info("Database schema is up to date")
	}

	// Initialize Services and Job Runner
	ledgerService := service.NewLedgerService(store, nil)
	jobRunner := jobs.NewJobRunner(store, ledgerService, cfg)

	// Check if running a single job
	if *runOnce != "" {
		logger.Info("Running job once", "job", *runOnce)
		runJobOnce(jobRunner, *runOnce)
		logger.Info("Job execution completed", "job", *runOnce)
		return
	}

	// Initialize Scheduler
	cronScheduler, err := scheduler.NewScheduler(jobRunner)
	if err != nil {
		log.Fatalf("Failed to register jobs: %v", err)
	}

	// Start scheduler
	cronScheduler.Start()
	logger.Info("Cronjob scheduler is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down cronjob scheduler...")
	cronScheduler.Stop()
	logger.Info("Cronjob scheduler stopped. Goodbye!")
}

func openStore(ctx context.Context, cfg *config.Config) (*sqlstore.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		logger.Info("Opening embedded database...", "path", cfg.Database.Path)
		return sqlstore.OpenSQLite(ctx, cfg.Database.Path)
	default:
		logger.Info("Connecting to database...", "host", cfg.Database.Host, "port", cfg.Database.Port)
		return sqlstore.OpenPostgres(ctx, cfg.GetDatabaseConnectionString())
	}
}

// runJobOnce runs a specific job once and exits
func runJobOnce(jobRunner *jobs.JobRunner, jobName string) {
	switch jobName {
	case "expire-points":
		jobRunner.ExpirePoints()
	case "reconcile-balances":
		jobRunner.ReconcileBalances()
	case "all":
		jobRunner.RunAll()
	default:
		logger.Error("Unknown job name", "job", jobName)
		fmt.Printf("Available jobs:\n")
		fmt.Printf("  - expire-points\n")
		fmt.Printf("  - reconcile-balances\n")
		fmt.Printf("  - all\n")
		os.Exit(1)
	}
}
