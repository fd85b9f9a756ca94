package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/coursegate/coursegate/internal/access"
	"github.com/coursegate/coursegate/internal/auth"
	"github.com/coursegate/coursegate/internal/chat"
	"github.com/coursegate/coursegate/internal/config"
	"github.com/coursegate/coursegate/internal/controlplane"
	"github.com/coursegate/coursegate/internal/conversation"
	coursesqlite "github.com/coursegate/coursegate/internal/course/sqlite"
	"github.com/coursegate/coursegate/internal/domain"
	"github.com/coursegate/coursegate/internal/provider"
	"github.com/coursegate/coursegate/internal/server"
	"github.com/coursegate/coursegate/internal/telemetry"
	"github.com/coursegate/coursegate/internal/tokens"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdown, err := telemetry.InitTracer("coursegate", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Storage: course policies and conversations share one database
	courseStore, err := coursesqlite.New(cfg.Storage.SQLite.Path)
	if err != nil {
		log.Fatalf("Failed to open course store: %v", err)
	}
	defer courseStore.Close()

	conversations, err := conversation.New(cfg.Storage.SQLite.Path)
	if err != nil {
		log.Fatalf("Failed to open conversation store: %v", err)
	}
	defer conversations.Close()

	// Upstream authentication collaborator
	sessionTokens := make([]auth.SessionToken, len(cfg.Auth.Tokens))
	for i, t := range cfg.Auth.Tokens {
		sessionTokens[i] = auth.SessionToken{TokenHash: t.TokenHash, Email: t.Email}
	}
	authenticator := auth.NewTokenAuthenticator(sessionTokens)

	gate := access.NewGate(courseStore)

	providerClient := provider.NewClient(cfg.Provider.APIKey,
		provider.WithBaseURL(cfg.Provider.BaseURL),
		provider.WithInterleavedReasoning(cfg.Provider.Interleaved),
	)

	chatHandler := chat.NewHandler(
		conversations,
		chat.NewProviderOrchestrator(providerClient),
		tokens.NewCounter(),
		cfg.Provider.Model,
	)
	coursesHandler := controlplane.NewCoursesHandler(courseStore)

	srv := server.New(cfg.Server.Port, logger, authenticator)

	srv.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Streaming chat: long-lived, so no timeout middleware
	srv.Router.With(gate.Require(domain.LevelAny)).
		Post("/api/chat/stream", chatHandler.HandleStream)

	// Conversation reads serve anonymous visitors of public courses
	srv.Router.With(server.TimeoutMiddleware(30*time.Second), gate.Public(domain.LevelAny)).
		Get("/api/conversations/{conversationID}", chatHandler.HandleGetConversation)

	// Course admin: access level depends on the verb
	courseGate := gate.PublicByMethod(coursesHandler.Levels())
	srv.Router.With(server.TimeoutMiddleware(30*time.Second), courseGate).
		HandleFunc("/api/course", coursesHandler.HandleCourse)

	srv.Router.With(server.TimeoutMiddleware(30 * time.Second)).
		Post("/api/courses", coursesHandler.HandleCreate)
	srv.Router.With(server.TimeoutMiddleware(30 * time.Second)).
		Get("/api/courses", coursesHandler.HandleList)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
