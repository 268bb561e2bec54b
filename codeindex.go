// Package codeindex is the top-level facade over the whole pipeline: index,
// enrich, build the schema graph, and serve retrieval, all against a single
// repo-local configuration.
package codeindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/llmc-dev/codeindex/internal/config"
	"github.com/llmc-dev/codeindex/internal/doctor"
	"github.com/llmc-dev/codeindex/internal/enrich"
	"github.com/llmc-dev/codeindex/internal/graphbuild"
	"github.com/llmc-dev/codeindex/internal/graphstore"
	"github.com/llmc-dev/codeindex/internal/indexer"
	"github.com/llmc-dev/codeindex/internal/llm"
	"github.com/llmc-dev/codeindex/internal/model"
	"github.com/llmc-dev/codeindex/internal/retrieval"
	"github.com/llmc-dev/codeindex/internal/store"
	"github.com/llmc-dev/codeindex/internal/workqueue"
)

// Engine is the main entry point for the code index + retrieval pipeline.
type Engine interface {
	// Index discovers and differentially re-extracts spans for the repo,
	// then enqueues any newly-pending spans for enrichment and stamps the
	// Index Status record.
	Index(ctx context.Context, opts ...IndexOption) (indexer.Stats, error)

	// Enrich drains up to `total` claimed items from the Work Queue through
	// the tiered enrichment cascade. Returns how many were processed.
	Enrich(ctx context.Context, total int, opts ...EnrichOption) (int, error)

	// BuildGraph projects the current spans + enrichments into the schema
	// graph, writes the JSON artifact, and bulk-loads the Graph Store.
	BuildGraph(ctx context.Context, opts ...GraphOption) error

	// Search runs the Retrieval Facade's hybrid FTS+rerank+graph-stitch path.
	Search(ctx context.Context, query string, opts ...QueryOption) model.Envelope

	// WhereUsed resolves incoming call/import/read/write/use edges for symbol.
	WhereUsed(ctx context.Context, symbol string, opts ...QueryOption) model.Envelope

	// Lineage walks upstream or downstream neighbors of symbol in the graph.
	Lineage(ctx context.Context, symbol string, direction retrieval.LineageDirection, opts ...QueryOption) model.Envelope

	// Doctor reports the index's health status.
	Doctor(ctx context.Context) (doctor.Report, error)

	// Export writes a portable tarball snapshot of the index to w.
	Export(w io.Writer) error

	// Store returns the underlying Span Store for diagnostic access.
	Store() *store.Store

	// Graph returns the underlying Graph Store for diagnostic access.
	Graph() *graphstore.Store

	// Close cleanly shuts down the engine's open stores and queue.
	Close() error
}

// IndexOption configures an Index call.
type IndexOption func(*indexOptions)

type indexOptions struct {
	paths []string
}

// WithPaths restricts indexing to the given repo-relative paths instead of a
// full repo walk.
func WithPaths(paths []string) IndexOption {
	return func(o *indexOptions) { o.paths = paths }
}

// EnrichOption configures an Enrich call.
type EnrichOption func(*enrichOptions)

type enrichOptions struct {
	workerID string
}

// WithWorkerID overrides the claimant identity recorded on claimed Work
// Queue items; defaults to the local hostname.
func WithWorkerID(id string) EnrichOption {
	return func(o *enrichOptions) { o.workerID = id }
}

// GraphOption configures a BuildGraph call.
type GraphOption func(*graphOptions)

type graphOptions struct {
	requireEnrichment bool
}

// WithRequireEnrichment fails BuildGraph if the index has zero enrichments,
// instead of silently emitting an AST-only graph.
func WithRequireEnrichment() GraphOption {
	return func(o *graphOptions) { o.requireEnrichment = true }
}

// QueryOption configures Search/WhereUsed/Lineage.
type QueryOption func(*queryOptions)

type queryOptions struct {
	limit int
}

// WithLimit caps the number of results returned; 0 keeps the facade default.
func WithLimit(n int) QueryOption {
	return func(o *queryOptions) { o.limit = n }
}

const defaultQueryLimit = 10

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       config.Config
	store     *store.Store
	graph     *graphstore.Store
	queue     *workqueue.Queue
	cascade   *enrich.Cascade
	facade    *retrieval.Facade
	extractor indexer.Extractor
	langFor   indexer.LanguageFor
}

// New wires an Engine from cfg. The extractor/langFor pair is the pluggable
// language-parser contract (out of scope for this module): callers supply a
// concrete multi-language extractor, this package never implements one.
func New(cfg config.Config, extractor indexer.Extractor, langFor indexer.LanguageFor) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("codeindex: invalid config: %w: %w", ErrInvalidConfig, err)
	}

	spanPath := cfg.SpanDBPath()
	if err := os.MkdirAll(filepath.Dir(spanPath), 0o755); err != nil {
		return nil, fmt.Errorf("codeindex: creating span store dir: %w", err)
	}
	s, err := store.Open(spanPath)
	if err != nil {
		if errors.Is(err, store.ErrCorruptAfterRetry) {
			return nil, fmt.Errorf("codeindex: opening span store: %w: %w", ErrCorrupt, err)
		}
		return nil, fmt.Errorf("codeindex: opening span store: %w", err)
	}

	graphPath := cfg.GraphStorePath()
	if err := os.MkdirAll(filepath.Dir(graphPath), 0o755); err != nil {
		s.Close()
		return nil, fmt.Errorf("codeindex: creating graph store dir: %w", err)
	}
	gs, err := graphstore.Open(graphPath)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("codeindex: opening graph store: %w", err)
	}

	qPath, err := cfg.WorkQueuePath()
	if err != nil {
		s.Close()
		gs.Close()
		return nil, fmt.Errorf("codeindex: resolving work queue path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(qPath), 0o755); err != nil {
		s.Close()
		gs.Close()
		return nil, fmt.Errorf("codeindex: creating work queue dir: %w", err)
	}
	q, err := workqueue.Open(qPath)
	if err != nil {
		s.Close()
		gs.Close()
		return nil, fmt.Errorf("codeindex: opening work queue: %w", err)
	}

	source := func(path string) ([]byte, error) {
		return os.ReadFile(filepath.Join(cfg.RepoRoot, path))
	}
	cascade, err := enrich.NewCascade(cfg.Enrich, source)
	if err != nil {
		s.Close()
		gs.Close()
		q.Close()
		return nil, fmt.Errorf("codeindex: building enrichment cascade: %w", err)
	}

	facade := &retrieval.Facade{
		RepoRoot:     cfg.RepoRoot,
		StatusPath:   cfg.IndexStatusPath(),
		ArtifactPath: cfg.GraphArtifactPath(),
		Store:        s,
		Graph:        gs,
		Rerank:       cfg.Rerank,
		Scoring:      cfg.Scoring,
		Embedder:     embedderFromConfig(cfg.Enrich),
	}

	return &engine{
		cfg:       cfg,
		store:     s,
		graph:     gs,
		queue:     q,
		cascade:   cascade,
		facade:    facade,
		extractor: extractor,
		langFor:   langFor,
	}, nil
}

func (e *engine) Index(ctx context.Context, opts ...IndexOption) (indexer.Stats, error) {
	options := &indexOptions{}
	for _, o := range opts {
		o(options)
	}

	ix := &indexer.Indexer{
		RepoRoot:        e.cfg.RepoRoot,
		Store:           e.store,
		Extractor:       e.extractor,
		LanguageFor:     e.langFor,
		EnvExclude:      strings.Join(e.cfg.IgnorePatterns, ","),
		SpansExportPath: e.cfg.SpansExportPath(),
	}
	stats, err := ix.Run(options.paths)

	commit, _ := retrieval.GitHead(e.cfg.RepoRoot)
	if statusErr := retrieval.WriteStatus(e.cfg.IndexStatusPath(), e.cfg.RepoRoot, err == nil, commit, err); statusErr != nil && err == nil {
		return stats, fmt.Errorf("codeindex: writing index status: %w", statusErr)
	}
	if err != nil {
		if errors.Is(err, store.ErrEmptySpansGuard) {
			return stats, fmt.Errorf("codeindex: indexing: %w: %w", ErrEmptySpans, err)
		}
		return stats, fmt.Errorf("codeindex: indexing: %w", err)
	}

	if _, err := e.store.RebuildFTS(); err != nil {
		return stats, fmt.Errorf("codeindex: rebuilding fts: %w", err)
	}

	pending, err := e.store.PendingEnrichments(0, e.cfg.PendingCooldownSeconds)
	if err != nil {
		return stats, fmt.Errorf("codeindex: listing pending enrichments: %w", err)
	}
	if len(pending) > 0 {
		if _, err := e.queue.FeedQueueFromRepos(ctx, map[string][]model.Span{e.cfg.RepoRoot: pending}); err != nil {
			return stats, fmt.Errorf("codeindex: feeding work queue: %w", err)
		}
	}
	return stats, nil
}

func (e *engine) Enrich(ctx context.Context, total int, opts ...EnrichOption) (int, error) {
	options := &enrichOptions{}
	for _, o := range opts {
		o(options)
	}
	if options.workerID == "" {
		options.workerID, _ = os.Hostname()
	}

	resolver := func(repoPath string) (*store.Store, error) { return e.store, nil }
	conveyor := enrich.NewConveyorFromConfig(e.queue, e.cascade, resolver, options.workerID, e.cfg.Enrich)
	return conveyor.Run(ctx, total)
}

func (e *engine) BuildGraph(ctx context.Context, opts ...GraphOption) error {
	options := &graphOptions{}
	for _, o := range opts {
		o(options)
	}

	spans, err := e.store.FetchAllSpans()
	if err != nil {
		return fmt.Errorf("codeindex: fetching spans for graph build: %w", err)
	}
	enrichments, err := e.store.FetchAllEnrichments()
	if err != nil {
		return fmt.Errorf("codeindex: fetching enrichments for graph build: %w", err)
	}

	nodes, edges, err := graphbuild.Build(spans, enrichments, graphbuild.Options{RequireEnrichment: options.requireEnrichment})
	if err != nil {
		return fmt.Errorf("codeindex: building schema graph: %w", err)
	}

	artifact := struct {
		Nodes []model.GraphNode `json:"nodes"`
		Edges []model.GraphEdge `json:"edges"`
	}{Nodes: nodes, Edges: edges}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("codeindex: marshaling graph artifact: %w", err)
	}
	artifactPath := e.cfg.GraphArtifactPath()
	if err := os.MkdirAll(filepath.Dir(artifactPath), 0o755); err != nil {
		return fmt.Errorf("codeindex: creating graph artifact dir: %w", err)
	}
	if err := os.WriteFile(artifactPath, data, 0o644); err != nil {
		return fmt.Errorf("codeindex: writing graph artifact: %w", err)
	}

	if err := graphbuild.LoadIntoStore(ctx, e.graph, nodes, edges); err != nil {
		return fmt.Errorf("codeindex: loading graph store: %w", err)
	}
	spanDBMTime, err := e.store.MaxFileMTime()
	if err != nil {
		return fmt.Errorf("codeindex: reading span store mtime: %w", err)
	}
	return e.graph.MarkBuilt(ctx, time.Now().UTC().Format(time.RFC3339), spanDBMTime)
}

func (e *engine) Search(ctx context.Context, query string, opts ...QueryOption) model.Envelope {
	limit := resolveLimit(opts)
	return e.facade.Search(ctx, query, limit)
}

func (e *engine) WhereUsed(ctx context.Context, symbol string, opts ...QueryOption) model.Envelope {
	limit := resolveLimit(opts)
	return e.facade.WhereUsed(ctx, symbol, limit)
}

func (e *engine) Lineage(ctx context.Context, symbol string, direction retrieval.LineageDirection, opts ...QueryOption) model.Envelope {
	limit := resolveLimit(opts)
	return e.facade.Lineage(ctx, symbol, direction, limit)
}

// embedderFromConfig builds a retrieval.Embedder from the first backend of
// the lowest enrichment tier, reusing that same backend's provider for
// query embedding rather than requiring a separate embedding-specific
// config surface. Returns nil (FTS-only search) if no tier has a backend.
func embedderFromConfig(cfg config.EnrichConfig) retrieval.Embedder {
	if len(cfg.Tiers) == 0 || len(cfg.Tiers[0].Backends) == 0 {
		return nil
	}
	backend := cfg.Tiers[0].Backends[0]
	provider, err := llm.NewProvider(llm.Config{Provider: backend.Provider, Model: backend.Model, BaseURL: backend.BaseURL, APIKey: backend.APIKey})
	if err != nil {
		return nil
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := provider.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vecs) == 0 {
			return nil, fmt.Errorf("codeindex: embedder returned no vectors")
		}
		return vecs[0], nil
	}
}

func resolveLimit(opts []QueryOption) int {
	options := &queryOptions{limit: defaultQueryLimit}
	for _, o := range opts {
		o(options)
	}
	if options.limit <= 0 {
		options.limit = defaultQueryLimit
	}
	return options.limit
}

func (e *engine) Doctor(ctx context.Context) (doctor.Report, error) {
	return doctor.Run(ctx, e.store, e.graph)
}

func (e *engine) Export(w io.Writer) error {
	return doctor.Export(e.store, w, time.Now())
}

func (e *engine) Store() *store.Store { return e.store }

func (e *engine) Graph() *graphstore.Store { return e.graph }

func (e *engine) Close() error {
	var firstErr error
	for _, closeFn := range []func() error{e.store.Close, e.graph.Close, e.queue.Close} {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
