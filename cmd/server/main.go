// Suneung Tutor - subject-scoped AI tutoring chat server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/haeun-dev/suneung-tutor/internal/api"
	"github.com/haeun-dev/suneung-tutor/internal/chat"
	"github.com/haeun-dev/suneung-tutor/internal/config"
	"github.com/haeun-dev/suneung-tutor/internal/gateway"
	"github.com/haeun-dev/suneung-tutor/internal/kvstore"
	"github.com/haeun-dev/suneung-tutor/internal/middleware"
	"github.com/haeun-dev/suneung-tutor/internal/records"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	db, err := kvstore.Open(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}()

	if err := db.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	slot := db.Slot(records.SlotName, "[]")
	store, err := records.New(ctx, slot, logger)
	if err != nil {
		slog.Error("Failed to initialize record store", "error", err)
		os.Exit(1)
	}

	// Model gateway. Without an API key the sessions stay functional: every
	// turn gets the substituted apology reply.
	var factory gateway.Factory
	if cfg.GeminiAPIKey != "" {
		client, err := gateway.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			slog.Error("Failed to initialize Gemini client", "error", err)
			os.Exit(1)
		}
		factory = gateway.NewGeminiFactory(client, cfg.GeminiModel, cfg.GatewayTimeout)
		slog.Info("Gemini gateway ready", "model", cfg.GeminiModel)
	} else {
		factory = func(string) gateway.Generator { return nil }
		slog.Warn("GEMINI_API_KEY not set, chat replies will be error substitutes")
	}

	transcript := chat.NoopTranscript()
	if cfg.Transcript.Enabled {
		fileTranscript, err := chat.NewFileTranscript(chat.TranscriptConfig{
			Dir:       cfg.Transcript.Dir,
			QueueSize: cfg.Transcript.QueueSize,
		}, logger)
		if err != nil {
			slog.Error("Failed to initialize transcript logger", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := fileTranscript.Close(); closeErr != nil {
				slog.Error("Failed to close transcript logger", "error", closeErr)
			}
		}()
		transcript = fileTranscript
		slog.Info("Transcript logging enabled", "dir", cfg.Transcript.Dir)
	}

	sessions := chat.NewManager(factory, logger, transcript)
	defer sessions.Close()

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	handler := api.NewHandler(sessions, store, db, cfg.FrontendURL, cfg.IsDevelopment())
	handler.Routes(r)

	// No WriteTimeout: chat sends block for the model round trip and the
	// websocket streams stay open indefinitely.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
