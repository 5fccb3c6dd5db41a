// Command proxkey-authority runs the pairing authority: it issues pairing
// keys to Tags, answers pairing status queries, hands pairing records to
// Anchors for provisioning and generates vehicle keys.
//
// Usage:
//
//	proxkey-authority [flags]
//
// Flags:
//
//	-config string     Configuration file (TOML, YAML or JSON)
//	-listen string     HTTP listen address (default ":8000")
//	-db string         SQLite database path (default "authority.db")
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-version           Show version information
//
// Examples:
//
//	# Start with defaults
//	proxkey-authority
//
//	# Use an in-memory database (for testing)
//	proxkey-authority -db :memory: -listen 127.0.0.1:9000
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/proxkey/proxkey-go/pkg/authority"
	"github.com/proxkey/proxkey-go/pkg/config"
)

// Version information - set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "dev"
	GitCommit = "unknown"
)

var (
	configPath  = flag.String("config", "", "Configuration file (TOML, YAML or JSON)")
	listen      = flag.String("listen", "", "HTTP listen address")
	dbPath      = flag.String("db", "", "SQLite database path")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showVersion {
		fmt.Printf("proxkey-authority %s (built %s, commit %s)\n", Version, BuildDate, GitCommit)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	applyFlags(cfg)

	log.SetFlags(log.Ldate | log.Ltime)
	logger := cfg.Logging.NewLogger(os.Stderr)

	srv, closeStore, err := newServer(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create server: %v\n", err)
		return 1
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Printf("Starting proxkey authority on %s", cfg.Authority.Listen)
	log.Printf("Database: %s", cfg.Authority.Database)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "Error: server failed: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		log.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: shutdown: %v\n", err)
			return 1
		}
	}
	return 0
}

// applyFlags overrides file values with flags given on the command line.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Authority.Listen = *listen
		case "db":
			cfg.Authority.Database = *dbPath
		case "log-level":
			cfg.Logging.Level = *logLevel
		}
	})
}

func newServer(cfg *config.Config, logger *slog.Logger) (*http.Server, func(), error) {
	store, err := authority.OpenSQLite(cfg.Authority.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	handler, err := authority.NewServer(authority.Config{
		Store:   store,
		Version: Version,
		Logger:  logger,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	srv := &http.Server{
		Addr:              cfg.Authority.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, func() { store.Close() }, nil
}
