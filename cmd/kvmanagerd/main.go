// Command kvmanagerd runs the database manager behind an HTTP server: it
// loads configuration, opens the manager against the configured storage
// root, serves the HTTP API, and shuts both down gracefully on signal.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"

	"github.com/dejankos/rocky/internal/clock"
	"github.com/dejankos/rocky/internal/config"
	"github.com/dejankos/rocky/internal/dbmanager"
	"github.com/dejankos/rocky/internal/engine"
	"github.com/dejankos/rocky/internal/engine/pebbleengine"
	"github.com/dejankos/rocky/internal/httpapi"
	"github.com/dejankos/rocky/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	rootDir := flag.String("root", "", "override storage.root_dir")
	listenAddr := flag.String("listen", "", "override service.listen_addr")
	pretty := flag.Bool("pretty", false, "log in human-readable console format instead of JSON")
	flag.Parse()

	log := newLogger(*pretty)

	var opts []config.Option
	if *rootDir != "" {
		opts = append(opts, config.WithRootDir(*rootDir))
	}
	if *listenAddr != "" {
		opts = append(opts, config.WithListenAddr(*listenAddr))
	}

	cfg, err := config.Load(*configPath, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().Str("root", cfg.Storage.RootDir).Msg("opening database manager")

	opener := func(path string, filter engine.CompactionFilter) (engine.Engine, error) {
		return pebbleengine.Open(path, filter, pebbleengine.Options{FS: vfs.Default, Log: log})
	}
	destroyer := func(path string) error {
		return pebbleengine.Destroy(path, vfs.Default)
	}

	mgr, err := dbmanager.Open(cfg.Storage.RootDir, opener, destroyer, clock.System{}, log, metrics.NewMeter())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database manager")
	}

	srv := httpapi.New(mgr, log)
	httpServer := &http.Server{
		Addr:    cfg.Service.ListenAddr,
		Handler: srv.Router,
	}

	go func() {
		log.Info().Str("addr", cfg.Service.ListenAddr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForSignal()
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout())
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown did not complete cleanly")
	}

	if err := mgr.Shutdown(); err != nil {
		log.Error().Err(err).Msg("database manager shutdown did not complete cleanly")
	}
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}

func newLogger(pretty bool) zerolog.Logger {
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
