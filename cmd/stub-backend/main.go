// Package main is the entry point for the stub backend: a local server
// speaking the assistant wire protocol with scripted answers, for
// development and end-to-end testing of the client.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/assistant-client/internal/config"
	"github.com/capitalize-ai/assistant-client/internal/handler"
	"github.com/capitalize-ai/assistant-client/internal/middleware"
	"github.com/capitalize-ai/assistant-client/pkg/logger"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting stub backend")

	healthHandler := handler.NewHealthHandler("stub-rag-7b")
	streamHandler := handler.NewStreamHandler(30*time.Millisecond, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Correlation-ID"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Get("/health", healthHandler.Health)
		r.Post("/query/stream", streamHandler.Query)
	})

	server := &http.Server{
		Addr:        ":" + cfg.StubPort,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// No write timeout: streams are long-lived by design.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info("stub backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down stub backend")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown")
	}

	log.Info("stub backend stopped")
}
