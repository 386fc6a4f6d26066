package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/downtime.report/internal/api"
	"github.com/banshee-data/downtime.report/internal/calibration"
	"github.com/banshee-data/downtime.report/internal/config"
	"github.com/banshee-data/downtime.report/internal/db"
	"github.com/banshee-data/downtime.report/internal/report"
	"github.com/banshee-data/downtime.report/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	configPath    = flag.String("config", "", "Calibration config JSON (default: "+config.DefaultConfigPath+" when present)")
	dbPath        = flag.String("db", "downtime_runs.db", "Run journal SQLite file (empty disables the journal)")
	timeout       = flag.Duration("timeout", 5*time.Minute, "Maximum duration of one calibration")
	maxConcurrent = flag.Int("max-concurrent", 1, "Maximum simultaneous calibrations")
	maxBody       = flag.Int64("max-body", 64<<20, "Maximum request body size in bytes")
	retention     = flag.Duration("retention", 30*24*time.Hour, "Prune journal runs older than this (0 keeps everything)")
	assetsHost    = flag.String("echarts-assets", "", "Override the echarts assets host for chart pages")
	showVersion   = flag.Bool("version", false, "Print the version and exit")
)

// pruneInterval is how often the journal is pruned.
const pruneInterval = time.Hour

// loadConfig reads path, falling back to the defaults file and then to the
// built-in defaults.
func loadConfig(path string) (*config.CalibrationConfig, error) {
	if path != "" {
		return config.LoadCalibrationConfig(path)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.LoadCalibrationConfig(config.DefaultConfigPath)
	}
	return config.DefaultCalibrationConfig(), nil
}

// pruneJournal deletes runs older than retention every interval until ctx
// is cancelled.
func pruneJournal(ctx context.Context, journal *db.DB, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := journal.DeleteRunsBefore(ctx, time.Now().Add(-retention))
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to prune run journal: %v", err)
		} else if n > 0 {
			log.Printf("pruned %d runs older than %s", n, retention)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	pipeline := calibration.NewPipeline(calibration.OptionsFromConfig(cfg))

	var journal *db.DB
	if *dbPath != "" {
		journal, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open run journal: %v", err)
		}
		defer journal.Close()
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if journal != nil && *retention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruneJournal(ctx, journal, *retention, pruneInterval)
			log.Print("journal pruning routine terminated")
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		srv := api.NewServer(pipeline, journal, api.Options{
			MaxBodyBytes:  *maxBody,
			Timeout:       *timeout,
			MaxConcurrent: *maxConcurrent,
			Chart:         report.Options{AssetsHost: *assetsHost},
		})
		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(srv.Router()),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
