package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pdf-workbench/internal/config"
	"pdf-workbench/internal/handler"

	"github.com/joho/godotenv"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or could not be loaded: %v", err)
	}
	// Wiring
	container, err := config.NewContainer()
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	cfg := container.Config

	// Files left by a previous run have no records; sweep them before serving.
	container.Janitor.Reconcile()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go container.Janitor.Run(ctx)

	// Handlers
	artifactHandler := handler.NewArtifactHandler(
		container.GetWorkbenchService(),
		cfg.GetMaxFileSize(),
		container.Logger,
	)

	operationHandler := handler.NewOperationHandler(
		container.GetWorkbenchService(),
		container.Logger,
	)

	sessionMiddleware := handler.NewSessionMiddleware(
		cfg.GetRateLimitRPS(),
		cfg.GetRateLimitBurst(),
		container.Logger,
	)

	// Router
	router := handler.NewRouter(
		artifactHandler,
		operationHandler,
		cfg.GetCORSOrigins(),
		handler.RequestLogger(container.Logger),
		sessionMiddleware.Middleware,
	)

	// start server
	server := &http.Server{
		Addr:              ":" + cfg.GetServerPort(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Run server
	go func() {
		container.Logger.Info("Server listening", "address", server.Addr, "storage_root", cfg.GetStorageRoot())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Error("Server failed to start", err)
			os.Exit(1)
		}
	}()
	// Graceful shutdown
	<-ctx.Done()

	container.Logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("Graceful shutdown failed", err)
		_ = server.Close()
	}
	if err := container.Close(shutdownCtx); err != nil {
		container.Logger.Error("Pending artifact events were not written", err)
	}

	container.Logger.Info("Server exited")
}
