// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/halvard/othala/internal/api"
	"github.com/halvard/othala/internal/graph"
	"github.com/halvard/othala/internal/indexer"
	"github.com/halvard/othala/internal/mcpserver"
	"github.com/halvard/othala/internal/query"
	"github.com/halvard/othala/internal/scanner"
	"github.com/halvard/othala/internal/search"
	"github.com/halvard/othala/internal/sse"
	"github.com/halvard/othala/internal/store"
	"github.com/halvard/othala/internal/templates"
	"github.com/halvard/othala/internal/vault"
	"github.com/halvard/othala/internal/watcher"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger. In MCP mode stdout carries the
	// protocol, so logs go to stderr.
	logOut := os.Stdout
	if app.mcpMode {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()),
		slog.Bool("mcp_mode", app.mcpMode))

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}

	v, err := vault.NewFS(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	// Open the SQLite graph store.
	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	registry, err := templates.Load(cfg.Templates.Path)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	sc, err := scanner.New(v, scanner.Options{
		Excludes:    cfg.Scan.Excludes,
		Concurrency: cfg.Scan.Concurrency,
	}, logger)
	if err != nil {
		return fmt.Errorf("init scanner: %w", err)
	}

	builder := graph.NewBuilder(registry.Classify, logger)
	ix := indexer.New(sc, builder, db, logger, broker.PublishNodeEvent)

	// Run initial full index before serving queries.
	if _, err := ix.Full(ctx); err != nil {
		logger.Warn("initial index failed", slog.String("error", err.Error()))
	}

	engine := search.New(db, search.Config{
		OverfetchFactor: cfg.Search.OverfetchFactor,
		MaxFetch:        cfg.Search.MaxFetch,
	}, logger)

	svc := query.NewService(db, engine)

	g, gCtx := errgroup.WithContext(ctx)

	// Start the live updater and file watcher.
	if cfg.Watch.Enabled {
		updater := watcher.NewUpdater(cfg.Watch.Debounce, func(c context.Context, changes []indexer.Change) error {
			_, err := ix.Incremental(c, changes)
			return err
		}, logger)

		g.Go(func() error {
			return updater.Run(gCtx)
		})
		g.Go(func() error {
			return watcher.Watch(gCtx, v, sc, updater, logger)
		})
	}

	if app.mcpMode {
		srv := mcpserver.New(svc)

		g.Go(func() error {
			logger.Info("Starting MCP server on stdio")
			if err := srv.ServeStdio(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case sig := <-quit:
				logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
				return context.Canceled
			case <-gCtx.Done():
				return nil
			}
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Application error", slog.String("error", err.Error()))
			return err
		}

		logger.Info("Server stopped successfully")
		return nil
	}

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health check endpoints.
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", api.NewRouter(svc, http.HandlerFunc(broker.ServeHTTP)))

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
