// AgriSense Core - Agricultural Telemetry Platform
//
// This is the main entry point for the AgriSense Core application.
// AgriSense ingests sensor telemetry from MQTT brokers (soil moisture,
// air temperature and humidity, pump state), persists it to SQLite,
// and serves a REST + WebSocket API for dashboards and irrigation
// control.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/agrisense/agrisense-core/migrations"

	"github.com/agrisense/agrisense-core/internal/alert"
	"github.com/agrisense/agrisense-core/internal/api"
	"github.com/agrisense/agrisense-core/internal/broker"
	"github.com/agrisense/agrisense-core/internal/device"
	"github.com/agrisense/agrisense-core/internal/infrastructure/config"
	"github.com/agrisense/agrisense-core/internal/infrastructure/database"
	"github.com/agrisense/agrisense-core/internal/infrastructure/influxdb"
	"github.com/agrisense/agrisense-core/internal/infrastructure/logging"
	"github.com/agrisense/agrisense-core/internal/ingest"
	"github.com/agrisense/agrisense-core/internal/reading"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting AgriSense Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise device directory
	directory := device.NewDirectory(device.NewSQLiteRepository(db.DB))
	directory.SetLogger(log)
	if refreshErr := directory.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device directory: %w", refreshErr)
	}
	log.Info("device directory initialised", "devices", directory.Count())

	readingRepo := reading.NewSQLiteRepository(db.DB)
	alertRepo := alert.NewSQLiteRepository(db.DB)
	brokerRepo := broker.NewSQLiteRepository(db.DB)

	// Connect to InfluxDB (optional telemetry mirror)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			// The mirror is best-effort; ingestion must not depend on it.
			log.Warn("InfluxDB unavailable, telemetry mirror disabled", "error", err)
			influxClient = nil
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub, shared between the API server and the pipeline
	hub := api.NewHub(cfg.WebSocket, log)

	// Threshold alerting: persist, log, push live, mirror.
	notifier := alert.NewLog(alertRepo, hub, log)
	if influxClient != nil {
		notifier.SetMirror(influxClient)
	}

	// Ingestion pipeline
	pipeline := ingest.NewPipeline(directory, readingRepo, cfg.MQTT.ControlTopic)
	pipeline.SetLogger(log)
	pipeline.SetBroadcaster(hub)
	pipeline.SetNotifier(notifier)
	if influxClient != nil {
		pipeline.SetMirror(influxClient)
	}

	// Broker connection manager
	manager := broker.NewManager(cfg.MQTT, cfg.Ingest.QueueSize, brokerRepo, pipeline.Handle)
	manager.SetLogger(log)
	manager.SetStatusSink(hub)
	if startErr := manager.Start(ctx); startErr != nil {
		return fmt.Errorf("starting broker manager: %w", startErr)
	}
	defer func() {
		log.Info("disconnecting brokers")
		manager.Close()
	}()
	log.Info("broker manager started", "default_broker", manager.DefaultBrokerID())

	// Presence sweeper and retention pruning
	sweeper := ingest.NewSweeper(directory, readingRepo,
		cfg.Ingest.GetStaleAfter(), cfg.Ingest.GetRetention())
	sweeper.SetLogger(log)
	sweeper.SetBroadcaster(hub)
	go sweeper.Run(ctx)

	// API server
	server, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       log,
		Directory:    directory,
		Readings:     readingRepo,
		Alerts:       alertRepo,
		Brokers:      brokerRepo,
		Manager:      manager,
		Pipeline:     pipeline,
		ControlTopic: cfg.MQTT.ControlTopic,
		ExternalHub:  hub,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, server, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. Broker manager
	// 3. InfluxDB (if enabled)
	// 4. Database

	log.Info("AgriSense Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses AGRISENSE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AGRISENSE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - server: API server to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, server *api.Server, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
