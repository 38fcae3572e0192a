/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the insurance engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, policy file) and flags
  2. Build the logger
  3. Open the store (SQLite or PostgreSQL)
  4. Build publishers, export sink and engine components
  5. Start the job scheduler and HTTP server
  6. Shut down gracefully on SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides APP_PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for an in-memory database

EXAMPLES:
  ./server -db="./data/insurance.db"
  DB_DRIVER=postgres DATABASE_URL=postgres://... ./server
  KAFKA_BROKERS=localhost:9092 ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/insurance-engine/api"
	"github.com/warp/insurance-engine/config"
	"github.com/warp/insurance-engine/detection"
	"github.com/warp/insurance-engine/events"
	"github.com/warp/insurance-engine/export"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
	"github.com/warp/insurance-engine/logging"
	"github.com/warp/insurance-engine/participation"
	"github.com/warp/insurance-engine/profile"
	"github.com/warp/insurance-engine/rates"
	"github.com/warp/insurance-engine/report"
	"github.com/warp/insurance-engine/salary"
	"github.com/warp/insurance-engine/store/postgres"
	"github.com/warp/insurance-engine/store/sqlite"
	"github.com/warp/insurance-engine/suggestion"
)

// hrSource is the collaborator surface both SQL stores expose.
type hrSource interface {
	Sources() hr.Sources
	suggestion.AppendixSource
}

// backend is the store set the engine runs on.
type backend struct {
	rates         rates.Store
	profiles      profile.Store
	suggestions   suggestion.Store
	reports       report.Store
	participation participation.Store
	hr            hrSource
	close         func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	port := flag.Int("port", cfg.App.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.Database.Path, "SQLite database path")
	flag.Parse()
	cfg.App.Port = *port
	cfg.Database.Path = *dbPath

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx := context.Background()

	be, err := openBackend(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	defer be.close()

	publisher, closePublisher := buildPublisher(cfg.Kafka, log)
	defer closePublisher()

	clock := generic.SystemClock{}
	sources := be.hr.Sources()

	rateSvc := rates.NewService(be.rates, rates.WithLogger(log))
	ledger := profile.NewLedger(be.profiles,
		profile.WithPublisher(publisher),
		profile.WithLogger(log),
	)
	calc := salary.NewCalculator(rateSvc, ledger)
	suggestions := suggestion.NewEngine(be.suggestions, ledger, be.hr,
		suggestion.WithPolicy(cfg.Policy.Suggestion()),
		suggestion.WithPublisher(publisher),
		suggestion.WithLogger(log),
	)
	detector := detection.NewEngine(sources, be.participation, ledger, calc,
		detection.WithPolicy(cfg.Policy.Detection()),
		detection.WithLogger(log),
	)
	reports := report.NewService(be.reports, detector, sources.Directory,
		report.WithExportSink(export.NewXLSXSink(cfg.Export.Dir)),
		report.WithPublisher(publisher),
		report.WithLogger(log),
	)

	handler := api.NewHandler(api.Services{
		Rates:       rateSvc,
		Ledger:      ledger,
		Calculator:  calc,
		Suggestions: suggestions,
		Detector:    detector,
		Reports:     reports,
		Directory:   sources.Directory,
		Clock:       clock,
	}, log)

	scheduler := api.NewScheduler(log)
	if cfg.Scheduler.Enabled {
		api.RegisterEngineJobs(scheduler, suggestions, reports, clock, api.Intervals{
			Scan:   cfg.Scheduler.ScanInterval,
			Sweep:  cfg.Scheduler.SweepInterval,
			Detect: cfg.Scheduler.DetectInterval,
		})
		scheduler.Start()
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      api.NewRouter(handler, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"port": cfg.App.Port, "env": cfg.App.Env, "db": cfg.Database.Driver}).
			Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case <-quit:
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func openBackend(ctx context.Context, cfg config.DatabaseConfig) (*backend, error) {
	switch cfg.Driver {
	case "postgres":
		st, err := postgres.New(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return &backend{
			rates:         st.Rates(),
			profiles:      st.Profiles(),
			suggestions:   st.Suggestions(),
			reports:       st.Reports(),
			participation: st.Participation(),
			hr:            st.HR(),
			close:         st.Close,
		}, nil
	default:
		st, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return &backend{
			rates:         st.Rates(),
			profiles:      st.Profiles(),
			suggestions:   st.Suggestions(),
			reports:       st.Reports(),
			participation: st.Participation(),
			hr:            st.HR(),
			close:         func() { st.Close() },
		}, nil
	}
}

// buildPublisher always logs events and also ships them to Kafka when
// brokers are configured.
func buildPublisher(cfg config.KafkaConfig, log logrus.FieldLogger) (generic.Publisher, func()) {
	logPub := events.NewLogPublisher(log)
	if !cfg.Enabled() {
		return logPub, func() {}
	}
	kafka := events.NewKafkaPublisher(cfg.Brokers, cfg.Topic)
	log.WithFields(logrus.Fields{"brokers": cfg.Brokers, "topic": cfg.Topic}).Info("kafka publisher enabled")
	return events.Multi(logPub, kafka), func() {
		if err := kafka.Close(); err != nil {
			log.WithError(err).Warn("kafka publisher close")
		}
	}
}
