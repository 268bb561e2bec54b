package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/llmc-dev/codeindex"
	"github.com/llmc-dev/codeindex/internal/config"
	"github.com/llmc-dev/codeindex/internal/extract"
	"github.com/llmc-dev/codeindex/internal/httpapi"
)

func main() {
	repoRoot := flag.String("repo", ".", "repository root to serve")
	configPath := flag.String("config", "", "path to a JSON config overlay")
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := config.DefaultConfig()
	cfg.RepoRoot = *repoRoot
	if *configPath != "" {
		if err := config.LoadOverlay(&cfg, *configPath); err != nil {
			slog.Error("loading config overlay", "error", err)
			os.Exit(1)
		}
	}

	if v := os.Getenv("CODEINDEX_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CODEINDEX_GRAPH_DB_PATH"); v != "" {
		cfg.GraphDBPath = v
	}

	apiKey := os.Getenv("CODEINDEX_API_KEY")
	corsOrigins := os.Getenv("CODEINDEX_CORS_ORIGINS")

	eng, err := codeindex.New(cfg, extract.GoExtractor{}, extract.LanguageFor)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	router := httpapi.NewRouter(eng, slog.Default(), apiKey, corsOrigins)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr, "repo", cfg.RepoRoot)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("server stopped")
}
