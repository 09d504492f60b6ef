package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/fieldsync/admin"
	"github.com/maxpert/fieldsync/attachments"
	"github.com/maxpert/fieldsync/cfg"
	"github.com/maxpert/fieldsync/db"
	"github.com/maxpert/fieldsync/notify"
	"github.com/maxpert/fieldsync/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("data_dir", cfg.Config.DataDir).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Fieldsync - local tabular store for offline data collection")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	hub := notify.NewHub()
	if cfg.Config.Logging.Verbose {
		stopTrace := traceEvents(hub)
		defer stopTrace()
	}

	store, err := db.Open(db.StoreConfig{
		Path:            cfg.GetDatabasePath(),
		BusyTimeoutMS:   cfg.Config.Store.BusyTimeoutMS,
		ColumnCacheSize: cfg.Config.Store.ColumnCacheSize,
		MaxIdleTime:     time.Duration(cfg.Config.ConnectionPool.MaxIdleTimeSeconds) * time.Second,
		MaxLifetime:     time.Duration(cfg.Config.ConnectionPool.MaxLifetimeSeconds) * time.Second,
		Purger:          attachments.NewFilesystemPurger(cfg.GetAttachmentsPath()),
		Notifier:        hub,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
		return
	}
	defer store.Close()

	collector := telemetry.NewMetricsCollector(store, time.Duration(cfg.Config.Health.CollectIntervalSeconds)*time.Second)
	collector.Start()
	defer collector.Stop()

	var server *http.Server
	if cfg.Config.Admin.Enabled {
		mux := http.NewServeMux()
		admin.RegisterRoutes(mux, admin.NewAdminHandlers(store))
		server = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("Admin server failed")
			}
		}()
	}

	log.Info().
		Str("database", store.Path()).
		Str("attachments", cfg.GetAttachmentsPath()).
		Bool("admin", cfg.Config.Admin.Enabled).
		Int("admin_port", cfg.Config.Admin.Port).
		Msg("Fieldsync started successfully")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("Shutting down")

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Admin server did not shut down cleanly")
		}
	}
}

// traceEvents logs every committed change at debug level
func traceEvents(hub *notify.Hub) func() {
	filter, _ := notify.NewFilter(nil)
	events, cancel := hub.Subscribe(filter)
	go func() {
		for ev := range events {
			log.Debug().
				Str("table", ev.Table).
				Str("row_id", ev.RowID).
				Str("op", string(ev.Op)).
				Msg("Committed change")
		}
	}()
	return cancel
}
