package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bbiangul/goreason"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (TOML)")
	addr := flag.String("addr", "", "Listen address, overrides server.host/port from config")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := goreason.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	applyEnvOverrides(&cfg)

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := goreason.New(ctx, cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	h := newHandler(engine, cfg.Server.MaxUploadSize)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /ready", h.handleReady)

	mux.HandleFunc("POST /api/ingest", h.handleIngest)
	mux.HandleFunc("POST /api/ingest/async", h.handleIngestAsync)

	mux.HandleFunc("GET /api/jobs", h.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", h.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", h.handleCancelJob)

	mux.HandleFunc("POST /api/query", h.handleQuery)
	mux.HandleFunc("POST /api/string-search", h.handleStringSearch)
	mux.HandleFunc("POST /api/feedback", h.handleFeedback)

	mux.HandleFunc("GET /api/documents", h.handleListDocuments)
	mux.HandleFunc("GET /api/documents/{id}", h.handleGetDocument)
	mux.HandleFunc("DELETE /api/documents/{id}", h.handleDeleteDocument)

	corsOrigins := ""
	if cfg.Server.EnableCORS {
		corsOrigins = cfg.Server.CORSOrigins
	}

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(cfg.Server.APIKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses (ingest can be long)
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// applyEnvOverrides layers RAG_*-prefixed environment variables over a
// loaded Config, matching the RAG_CONFIG discovery variable's naming
// convention.
func applyEnvOverrides(cfg *goreason.Config) {
	if v := os.Getenv("RAG_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("RAG_CORS_ORIGINS"); v != "" {
		cfg.Server.EnableCORS = true
		cfg.Server.CORSOrigins = v
	}
	if v := os.Getenv("RAG_DB_PATH"); v != "" {
		cfg.VectorDB.StoragePath = v
	}
	if v := os.Getenv("RAG_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("RAG_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("RAG_LLM_MODEL"); v != "" {
		cfg.LLM.GenerateModel = v
	}
	if v := os.Getenv("RAG_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("RAG_EMBED_BASE_URL"); v != "" {
		cfg.Embeddings.BaseURL = v
	}
	if v := os.Getenv("RAG_EMBED_API_KEY"); v != "" {
		cfg.Embeddings.APIKey = v
	}
	if v := os.Getenv("RAG_EMBED_MODEL"); v != "" {
		cfg.Embeddings.Model = v
	}
	if v := os.Getenv("RAG_EMBED_PROVIDER"); v != "" {
		cfg.Embeddings.Provider = v
	}

	// Fallback: well-known provider env vars for API keys when unset.
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			cfg.LLM.APIKey = os.Getenv("GROQ_API_KEY")
		case "openrouter":
			cfg.LLM.APIKey = os.Getenv("OPENROUTER_API_KEY")
		case "xai":
			cfg.LLM.APIKey = os.Getenv("XAI_API_KEY")
		case "gemini":
			cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if cfg.Embeddings.APIKey == "" {
		switch cfg.Embeddings.Provider {
		case "openai":
			cfg.Embeddings.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			cfg.Embeddings.APIKey = os.Getenv("GROQ_API_KEY")
		}
	}
}
