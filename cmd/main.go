package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/dinsac/support-chat/internal/api"
	"github.com/dinsac/support-chat/internal/chat"
	"github.com/dinsac/support-chat/internal/config"
	"github.com/dinsac/support-chat/internal/gateway"
	"github.com/dinsac/support-chat/internal/transport"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Message store ---
	var store chat.Gateway
	var filesDir string
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("db open error", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			slog.Error("db ping error", "error", err)
			os.Exit(1)
		}

		store = gateway.NewPostgres(db, cfg.AttachmentDir, cfg.PublicBaseURL)
		filesDir = cfg.AttachmentDir
	} else {
		store = gateway.NewHTTP(cfg.GatewayURL, cfg.GatewayTimeout)
	}

	// --- Relay transport ---
	relay := transport.NewChannel(cfg.RelayURL, cfg.SelfID, cfg.ReconnectWait)
	defer relay.Close()
	go relay.Run(ctx)

	// --- Coordinator ---
	coord := chat.NewCoordinator(relay, store, cfg.SelfName)
	go coord.Run(ctx)

	loadCtx, cancel := context.WithTimeout(ctx, cfg.GatewayTimeout)
	if err := coord.RefreshDirectory(loadCtx); err != nil {
		slog.Warn("initial directory load failed", "error", err)
	}
	cancel()

	// --- Router ---
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	api.RegisterRoutes(r, api.NewHandler(coord))

	if filesDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(filesDir))))
	}

	// --- health ---
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
