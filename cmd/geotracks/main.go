// Command geotracks serves the GPS trace analysis API.
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
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/geotracks/internal/api"
	"github.com/banshee-data/geotracks/internal/config"
	"github.com/banshee-data/geotracks/internal/db"
	"github.com/banshee-data/geotracks/internal/jobs"
	"github.com/banshee-data/geotracks/internal/version"
)

var (
	listen      = flag.String("listen", ":8000", "Listen address")
	dbPath      = flag.String("db", "geotracks.db", "Path to the job database")
	configPath  = flag.String("config", "", "Analysis config file (.yaml or .json); defaults to "+config.DefaultConfigPath+" when present")
	dataDir     = flag.String("data-dir", ".", "Directory holding uploads/ and maps/")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// loadConfig reads path, or the default config file when path is empty and
// the default exists, then applies environment overrides.
func loadConfig(path string, lookup func(string) (string, bool)) (*config.AnalysisConfig, error) {
	cfg := config.EmptyAnalysisConfig()
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}
	if path != "" {
		loaded, err := config.LoadAnalysisConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig(*configPath, os.LookupEnv)
	if err != nil {
		log.Fatalf("Failed to load analysis config: %v", err)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	store := db.NewJobStore(database.DB)
	if n, err := store.FailInterrupted(time.Now()); err != nil {
		log.Fatalf("Failed to reset interrupted jobs: %v", err)
	} else if n > 0 {
		log.Printf("marked %d interrupted jobs as failed", n)
	}

	manager := jobs.NewManager(store, cfg, filepath.Join(*dataDir, "maps"))
	srv := api.NewServer(manager, cfg, filepath.Join(*dataDir, "uploads"), version.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              *listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine so it doesn't block
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()
	log.Printf("%s listening on %s (max_process_rows=%d, max_concurrent_jobs=%d)",
		version.String(), *listen, cfg.GetMaxProcessRows(), cfg.GetMaxConcurrentJobs())

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Printf("job manager shutdown error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
