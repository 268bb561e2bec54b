// Package model holds the shared data types passed between the span store,
// work queue, enrichment engine, and retrieval layers.
package model

import "time"

// SliceType classifies the content routing of a span.
type SliceType string

const (
	SliceCode   SliceType = "code"
	SliceDocs   SliceType = "docs"
	SliceConfig SliceType = "config"
	SliceOther  SliceType = "other"
)

// File is a repo-relative source file tracked by the index.
type File struct {
	ID          int64
	Path        string // repo-relative, POSIX separators
	Lang        string
	FileHash    string // sha256 hex of file bytes
	Size        int64
	MTime       float64 // unix seconds, float for sub-second precision
	SidecarPath string
}

// Span is a contiguous byte range inside a File with semantic identity.
type Span struct {
	ID                    int64
	FileID                int64
	FilePath              string
	Lang                  string
	Symbol                string
	Kind                  string
	StartLine             int
	EndLine               int
	ByteStart             int
	ByteEnd               int
	SpanHash              string
	DocHint               string
	SliceType             SliceType
	SliceLanguage         string
	ClassifierConfidence  float64
	ClassifierVersion     string
	Imports               []string
}

// Evidence ties a claim in an Enrichment summary back to concrete lines.
type Evidence struct {
	Field string `json:"field"`
	Lines [2]int `json:"lines"`
}

// Enrichment is the validated LLM-produced structured summary of one span.
type Enrichment struct {
	SpanHash               string
	Summary                string
	Tags                   []string
	Evidence               []Evidence
	Model                  string
	CreatedAt              time.Time
	SchemaVersion          string
	Inputs                 []string
	Outputs                []string
	SideEffects            []string
	Pitfalls               []string
	UsageSnippet           string
	ContentType            string
	ContentLanguage        string
	ContentTypeConfidence  float64
	ContentTypeSource      string

	// Performance metadata captured from the backend adapter.
	TokensPerSecond  float64
	EvalCount        int
	EvalDurationNS   int64
	PromptEvalCount  int
	TotalDurationNS  int64
	BackendHost      string
}

// EmbeddingRoute selects which table/profile an embedding is written to.
type EmbeddingRoute string

const (
	RouteCode EmbeddingRoute = "code"
	RouteDocs EmbeddingRoute = "docs"
)

// Embedding is a dense vector keyed by span hash, scoped to a route+profile.
type Embedding struct {
	SpanHash    string
	Vector      []float32
	RouteName   EmbeddingRoute
	ProfileName string
}

// GraphNode is a symbol or file entity derived from spans.
type GraphNode struct {
	ID        string // "sym:pkg.Type.Method" or a file path
	Name      string
	Path      string
	Kind      string
	StartLine int
	EndLine   int
	Metadata  map[string]any // includes span_hash when known
}

// EdgeLabel enumerates the directed relation types between graph nodes.
type EdgeLabel string

const (
	EdgeCalls      EdgeLabel = "CALLS"
	EdgeImports    EdgeLabel = "IMPORTS"
	EdgeExtends    EdgeLabel = "EXTENDS"
	EdgeReads      EdgeLabel = "READS"
	EdgeWrites     EdgeLabel = "WRITES"
	EdgeUses       EdgeLabel = "USES"
	EdgeReferences EdgeLabel = "REFERENCES"
	EdgeRequires   EdgeLabel = "REQUIRES"
	EdgeWarnsAbout EdgeLabel = "WARNS_ABOUT"
)

// GraphEdge is a directed labeled edge between two node ids. Targets may be
// dangling (no matching node) by design; queries tolerate this.
type GraphEdge struct {
	SourceID string
	TargetID string
	Label    EdgeLabel
}

// WorkItem is one pending enrichment claimed from the global Work Queue.
type WorkItem struct {
	ID             int64
	RepoPath       string
	SpanHash       string
	FilePath       string
	Priority       int
	CreatedAt      time.Time
	ClaimedBy      string
	ClaimedAt      time.Time
	Attempts       int
	LastError      string
	EscalationTier int
}

// IndexState is the lifecycle state of a repo's index.
type IndexState string

const (
	StateFresh      IndexState = "fresh"
	StateStale      IndexState = "stale"
	StateRebuilding IndexState = "rebuilding"
	StateError      IndexState = "error"
)

// FreshnessState is the outcome of the freshness gateway decision.
type FreshnessState string

const (
	Fresh   FreshnessState = "FRESH"
	Stale   FreshnessState = "STALE"
	Unknown FreshnessState = "UNKNOWN"
)

// IndexStatus is the per-repo freshness record consulted on every query.
type IndexStatus struct {
	Repo               string     `json:"repo"`
	IndexState         IndexState `json:"index_state"`
	LastIndexedAt      string     `json:"last_indexed_at"`
	LastIndexedCommit  *string    `json:"last_indexed_commit"`
	SchemaVersion      string     `json:"schema_version"`
	LastError          string     `json:"last_error,omitempty"`
}

// ResultSource identifies which retrieval path produced a result set.
type ResultSource string

const (
	SourceRAGGraph      ResultSource = "RAG_GRAPH"
	SourceLocalFallback ResultSource = "LOCAL_FALLBACK"
)

// Location pinpoints a line range inside a file.
type Location struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Snippet is the text window returned for a single result item.
type Snippet struct {
	Text     string   `json:"text"`
	Location Location `json:"location"`
}

// ResultItem is one hit in a retrieval envelope.
type ResultItem struct {
	File       string      `json:"file"`
	Snippet    Snippet     `json:"snippet"`
	Enrichment *Enrichment `json:"enrichment,omitempty"`
	Score      float64     `json:"-"`
}

// Envelope is the transport-agnostic retrieval response (spec section 6).
type Envelope struct {
	Items          []ResultItem   `json:"items"`
	Source         ResultSource   `json:"source"`
	FreshnessState FreshnessState `json:"freshness_state"`
}
