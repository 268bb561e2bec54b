// Command poolworker is the V3 multi-process enrichment worker: one process
// bound to exactly one backend (host + model) for its entire lifetime,
// pulling items from the global Work Queue until told to stop. Several of
// these, one per backend, are how a multi-host deployment scales enrichment
// without any of them sharing process memory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/llmc-dev/codeindex/internal/config"
	"github.com/llmc-dev/codeindex/internal/enrich"
	"github.com/llmc-dev/codeindex/internal/model"
	"github.com/llmc-dev/codeindex/internal/store"
	"github.com/llmc-dev/codeindex/internal/workqueue"
)

func main() {
	if err := run(); err != nil {
		slog.Error("poolworker: fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := configFromEnv()
	if err != nil {
		return fmt.Errorf("poolworker: %w", err)
	}

	q, err := workqueue.Open(cfg.queueDBPath)
	if err != nil {
		return fmt.Errorf("poolworker: opening work queue: %w", err)
	}
	defer q.Close()

	resolver := newRepoStoreCache()
	defer resolver.closeAll()

	cascade, err := enrich.NewCascade(cfg.enrichConfig(), func(filePath string) ([]byte, error) {
		return os.ReadFile(filePath)
	})
	if err != nil {
		return fmt.Errorf("poolworker: building cascade: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifyPath, err := cfg.notifyPipePath()
	if err != nil {
		slog.Warn("poolworker: could not resolve notify pipe, falling back to polling", "error", err)
	}

	slog.Info("poolworker: starting", "worker_id", cfg.workerID, "model", cfg.model,
		"host", cfg.host, "port", cfg.port, "tier", cfg.tier, "max_tier", cfg.maxTier)

	w := &worker{cfg: cfg, queue: q, cascade: cascade, resolver: resolver, notifyPath: notifyPath}
	w.loop(ctx)

	slog.Info("poolworker: drained, exiting", "worker_id", cfg.workerID)
	return nil
}

// worker runs the per-process claim/process/complete-or-fail loop described
// by spec.md's V3 pool-worker variant.
type worker struct {
	cfg        workerConfig
	queue      *workqueue.Queue
	cascade    *enrich.Cascade
	resolver   *repoStoreCache
	notifyPath string
}

func (w *worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if w.notifyPath != "" {
			workqueue.WaitForWork(ctx, w.notifyPath, 5*time.Second)
		} else {
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}
		if ctx.Err() != nil {
			return
		}

		items, err := w.queue.PullWork(ctx, w.cfg.workerID, w.cfg.tier, 1)
		if err != nil {
			slog.Error("poolworker: pull failed", "error", err)
			continue
		}
		if len(items) == 0 {
			continue
		}

		w.processOne(ctx, items[0])
	}
}

func (w *worker) processOne(ctx context.Context, item model.WorkItem) {
	st, err := w.resolver.get(item.RepoPath)
	if err != nil {
		w.fail(ctx, item, "resolving span store: "+err.Error())
		return
	}

	span, ok, err := st.GetSpanByHash(item.SpanHash)
	if err != nil || !ok {
		w.fail(ctx, item, "span not found")
		return
	}

	result := w.cascade.RunTier(ctx, 0, span)
	if !result.Ok {
		reason := "backend call failed"
		if len(result.Attempts) > 0 {
			reason = result.Attempts[len(result.Attempts)-1].Err.Error()
		}
		w.fail(ctx, item, reason)
		return
	}

	if err := st.StoreEnrichment(result.Enrichment); err != nil {
		w.fail(ctx, item, "persisting enrichment: "+err.Error())
		return
	}

	if err := w.queue.CompleteWork(ctx, item.ID, w.cfg.workerID); err != nil {
		slog.Error("poolworker: complete_work failed", "item_id", item.ID, "error", err)
		return
	}
	slog.Info("poolworker: item completed", "span_hash", item.SpanHash, "repo", item.RepoPath)
}

func (w *worker) fail(ctx context.Context, item model.WorkItem, reason string) {
	if err := w.queue.FailWork(ctx, item.ID, w.cfg.workerID, reason, w.cfg.attemptsPerTier, w.cfg.maxTier); err != nil {
		slog.Error("poolworker: fail_work failed", "item_id", item.ID, "error", err)
		return
	}
	slog.Warn("poolworker: item failed", "span_hash", item.SpanHash, "repo", item.RepoPath, "reason", reason)
}

// repoStoreCache opens at most one Span Store handle per repo path, since a
// single worker may service items from many repos across its lifetime.
type repoStoreCache struct {
	mu     sync.Mutex
	stores map[string]*store.Store
}

func newRepoStoreCache() *repoStoreCache {
	return &repoStoreCache{stores: map[string]*store.Store{}}
}

func (c *repoStoreCache) get(repoPath string) (*store.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.stores[repoPath]; ok {
		return st, nil
	}
	dbPath := (&config.Config{RepoRoot: repoPath}).SpanDBPath()
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	c.stores[repoPath] = st
	return st, nil
}

func (c *repoStoreCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.stores {
		_ = st.Close()
	}
}

// workerConfig is the fully-resolved set of environment inputs spec.md's V3
// section names: LLMC_WORKER_ID, LLMC_WORKER_HOST, LLMC_WORKER_PORT,
// LLMC_WORKER_MODEL (required); LLMC_WORKER_TIER, LLMC_MAX_TIER,
// LLMC_WORKER_TIMEOUT, LLMC_WORKER_OPTIONS (JSON), LLMC_WORKER_MAX_ATTEMPTS,
// LLMC_QUEUE_DB (optional).
type workerConfig struct {
	workerID string
	host     string
	port     string
	model    string
	provider string

	tier            int
	maxTier         int
	timeoutS        int
	attemptsPerTier int
	options         map[string]string

	queueDBPath string
}

func configFromEnv() (workerConfig, error) {
	var cfg workerConfig

	cfg.workerID = os.Getenv("LLMC_WORKER_ID")
	if cfg.workerID == "" {
		cfg.workerID = "poolworker-" + uuid.NewString()
	}

	cfg.host = os.Getenv("LLMC_WORKER_HOST")
	cfg.port = os.Getenv("LLMC_WORKER_PORT")
	cfg.model = os.Getenv("LLMC_WORKER_MODEL")
	if cfg.host == "" || cfg.port == "" || cfg.model == "" {
		return cfg, errors.New("LLMC_WORKER_HOST, LLMC_WORKER_PORT, and LLMC_WORKER_MODEL are required")
	}

	cfg.tier = envInt("LLMC_WORKER_TIER", 0)
	cfg.maxTier = envInt("LLMC_MAX_TIER", 1)
	cfg.timeoutS = envInt("LLMC_WORKER_TIMEOUT", 120)
	cfg.attemptsPerTier = envInt("LLMC_WORKER_MAX_ATTEMPTS", 3)

	cfg.provider = "ollama"
	cfg.options = map[string]string{}
	if raw := os.Getenv("LLMC_WORKER_OPTIONS"); raw != "" {
		var opts map[string]string
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			return cfg, fmt.Errorf("decoding LLMC_WORKER_OPTIONS: %w", err)
		}
		cfg.options = opts
		if p, ok := opts["provider"]; ok && p != "" {
			cfg.provider = p
		}
	}

	if v := os.Getenv("LLMC_QUEUE_DB"); v != "" {
		cfg.queueDBPath = v
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("resolving default queue path: %w", err)
		}
		cfg.queueDBPath = home + "/.llmc/work_queue.db"
	}

	return cfg, nil
}

// enrichConfig wraps this worker's single backend into the one-tier,
// one-backend EnrichConfig shape internal/enrich.Cascade expects, so the
// pool worker reuses the exact same backend-call/parse/validate pipeline as
// the in-process V1/V2 variants instead of duplicating it.
func (c workerConfig) enrichConfig() config.EnrichConfig {
	backend := config.BackendSpec{
		Name:     c.workerID,
		Provider: c.provider,
		BaseURL:  "http://" + c.host + ":" + c.port,
		Model:    c.model,
		TimeoutS: c.timeoutS,
		Options:  c.options,
	}
	return config.EnrichConfig{
		Tiers:           []config.Tier{{Backends: []config.BackendSpec{backend}}},
		MaxTier:         0,
		AttemptsPerTier: c.attemptsPerTier,
		MaxPromptChars:  8000,
		EnforceLatin1:   false,
	}
}

func (c workerConfig) notifyPipePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home + "/.llmc/run/work-notify", nil
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
