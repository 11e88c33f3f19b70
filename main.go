package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/twiddli/happypanda/internal/fetcher"
	"github.com/twiddli/happypanda/internal/handlers"
	"github.com/twiddli/happypanda/internal/logging"
	"github.com/twiddli/happypanda/internal/metrics"
	"github.com/twiddli/happypanda/internal/middleware"
	"github.com/twiddli/happypanda/internal/reconciler"
	"github.com/twiddli/happypanda/internal/scanner"
	"github.com/twiddli/happypanda/internal/startup"
	"github.com/twiddli/happypanda/internal/store"
	"github.com/twiddli/happypanda/internal/watcher"
)

func main() {
	config, err := startup.LoadConfig()
	if err != nil {
		logging.Fatal("Configuration error: %v", err)
	}
	metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, config.DatabasePath)
	if err != nil {
		logging.Fatal("Failed to open store: %v", err)
	}
	defer st.Close()

	sc := scanner.New(config.LibraryRoots)
	rc := reconciler.New(st, config.LibraryRoots)
	f := fetcher.New(st)

	// Initial scan plus periodic sweeps. The sweep both imports new sources
	// and retires vanished ones.
	go sc.Run(ctx, config.ScanInterval, func(ctx context.Context, sources []string) {
		if _, err := rc.Sweep(ctx, sources); err != nil && ctx.Err() == nil {
			logging.Error("Reconciliation sweep failed: %v", err)
		}
	})

	var w *watcher.Watcher
	if config.WatchEnabled {
		w, err = watcher.New(watcher.Config{
			DebounceDelay:    config.DebounceDelay,
			MaxDebounceDelay: config.MaxDebounceDelay,
			QueueCapacity:    256,
		})
		if err != nil {
			logging.Fatal("Failed to create filesystem watcher: %v", err)
		}
		if err := w.Start(config.LibraryRoots); err != nil {
			logging.Fatal("Failed to start filesystem watcher: %v", err)
		}
		go func() {
			for batch := range w.Batches() {
				paths := make([]string, 0, len(batch))
				seen := make(map[string]bool, len(batch))
				for _, ev := range batch {
					if !seen[ev.Path] {
						seen[ev.Path] = true
						paths = append(paths, ev.Path)
					}
				}
				if _, err := rc.HandleEvents(ctx, paths); err != nil && ctx.Err() == nil {
					logging.Error("Failed to reconcile watcher batch: %v", err)
				}
			}
		}()
	}

	// Hourly integrity check. A diverged index is rebuilt in place.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := st.VerifyIndex(); err != nil {
					logging.Warn("Search index check: %v, rebuilding", err)
					st.RebuildIndex()
				}
				st.UpdateDBMetrics()
			}
		}
	}()

	router := mux.NewRouter()
	handlers.New(st, sc, rc, f).RegisterRoutes(router)
	if config.MetricsEnabled {
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	startup.LogHTTPRoutes(router)

	handler := middleware.Metrics()(router)
	handler = middleware.Logger(middleware.LoggingConfig{
		LogHealthChecks: config.LogHealthChecks,
	})(handler)

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go handleShutdown(srv, cancel, w)

	startup.LogServerStarted(config.Port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("Server error: %v", err)
	}
	startup.LogShutdownComplete()
}

func handleShutdown(srv *http.Server, cancel context.CancelFunc, w *watcher.Watcher) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())
	cancel()

	if w != nil {
		if err := w.Close(); err != nil {
			logging.Warn("Error closing watcher: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Forced server shutdown: %v", err)
	}
}
