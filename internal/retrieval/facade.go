package retrieval

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/llmc-dev/codeindex/internal/config"
	"github.com/llmc-dev/codeindex/internal/graphstore"
	"github.com/llmc-dev/codeindex/internal/model"
	"github.com/llmc-dev/codeindex/internal/store"
)

// incomingEdgeLabels is the set of edge types that make a node a "user" of
// another, per the Retrieval Facade's where_used/lineage spec.
var incomingEdgeLabels = map[model.EdgeLabel]bool{
	model.EdgeCalls:  true,
	model.EdgeImports: true,
	model.EdgeReads:   true,
	model.EdgeWrites:  true,
	model.EdgeUses:    true,
}

// annotationCharBudget caps how many characters of enrichment summary text
// get attached across an entire result set, so one verbose span can't blow
// out the response size.
const annotationCharBudget = 4000

// Embedder turns a query string into a dense vector in the same embedding
// space the Span Store's embeddings were written in. Optional: a Facade
// with no Embedder set runs FTS-only search, the same as before vector
// search existed.
type Embedder func(ctx context.Context, text string) ([]float32, error)

// Facade wires the freshness gateway, FTS+rerank, vector KNN, graph stitch,
// and local fallback into the three retrieval operations (search,
// where-used, lineage) the spec exposes as a transport-agnostic envelope.
type Facade struct {
	RepoRoot     string
	StatusPath   string
	ArtifactPath string
	Store        *store.Store // may be nil if unavailable — forces LOCAL_FALLBACK
	Graph        *graphstore.Store
	Rerank       config.RerankWeights
	Scoring      config.ScoringConfig
	Embedder     Embedder
}

// Search implements tool_rag_search: FTS -> rerank -> intent scoring ->
// graph stitch on the RAG path, or a local grep-style scan otherwise.
func (f *Facade) Search(ctx context.Context, query string, limit int) model.Envelope {
	route := ComputeRoute(f.RepoRoot, f.StatusPath)
	if !route.UseRAG || f.Store == nil {
		return f.localSearchFallback(query, limit, route.FreshnessState)
	}

	rawLimit := limit * 3
	if rawLimit < 100 {
		rawLimit = 100
	}
	ftsHits, err := f.Store.SearchFTS(query, rawLimit)
	vecHits := f.vectorHits(ctx, query, rawLimit)
	if (err != nil || len(ftsHits) == 0) && len(vecHits) == 0 {
		return f.localSearchFallback(query, limit, route.FreshnessState)
	}

	hits := make([]Hit, 0, len(ftsHits)+len(vecHits))
	for _, h := range ftsHits {
		hits = append(hits, Hit{Path: h.Path, Text: h.Symbol + " " + h.Summary, StartLine: h.StartLine, EndLine: h.EndLine, RawBM25: h.Score})
	}
	hits = append(hits, vecHits...)

	scored := Rerank(query, hits, f.Rerank, limit)
	scored = ApplyIntentScoring(query, scored, f.Scoring)

	seedFiles := make([]string, 0, len(scored))
	seen := map[string]bool{}
	for _, s := range scored {
		if !seen[s.Path] {
			seen[s.Path] = true
			seedFiles = append(seedFiles, s.Path)
		}
	}

	items := make([]model.ResultItem, 0, limit)
	budget := annotationCharBudget
	for _, s := range scored {
		items = append(items, f.toResultItem(s.Path, s.Text, s.StartLine, s.EndLine, &budget))
	}

	if len(items) < limit {
		extra, _ := StitchGraph(ctx, f.Graph, f.ArtifactPath, seedFiles, limit)
		for _, path := range extra {
			if len(items) >= limit {
				break
			}
			items = append(items, model.ResultItem{
				File:    path,
				Snippet: model.Snippet{Location: model.Location{Path: path}},
			})
		}
	}

	return model.Envelope{Items: items, Source: model.SourceRAGGraph, FreshnessState: route.FreshnessState}
}

// vectorHits runs a KNN query over the Span Store's vec0 table when both an
// Embedder and a vector-capable Store are wired, passing the L2 distance
// through as the raw lower-is-better score (normalizeBM25 then maps closer
// to higher) so vector and FTS hits flow through the same
// Rerank/ApplyIntentScoring pipeline side by side.
func (f *Facade) vectorHits(ctx context.Context, query string, limit int) []Hit {
	if f.Embedder == nil || f.Store == nil || !f.Store.VecAvailable() {
		return nil
	}
	vec, err := f.Embedder(ctx, query)
	if err != nil {
		return nil
	}
	matches, err := f.Store.VectorSearch(ctx, vec, limit)
	if err != nil {
		return nil
	}
	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, Hit{
			Path:      m.Path,
			Text:      m.Symbol,
			StartLine: m.StartLine,
			EndLine:   m.EndLine,
			RawBM25:   m.Distance,
		})
	}
	return hits
}

func (f *Facade) toResultItem(path, text string, start, end int, budget *int) model.ResultItem {
	item := model.ResultItem{
		File: path,
		Snippet: model.Snippet{
			Text:     text,
			Location: model.Location{Path: path, StartLine: start, EndLine: end},
		},
	}
	if f.Store != nil && *budget > 0 {
		if enrichments, err := f.Store.GetEnrichmentsForFileLines(path, start, end); err == nil && len(enrichments) > 0 {
			e := enrichments[0]
			if len(e.Summary) <= *budget {
				item.Enrichment = &e
				*budget -= len(e.Summary)
			}
		}
	}
	return item
}

// WhereUsed implements tool_rag_where_used: incoming-neighbor query over
// CALLS/IMPORTS/READS/WRITES/USES edges on the RAG path, grep fallback
// otherwise.
func (f *Facade) WhereUsed(ctx context.Context, symbol string, limit int) model.Envelope {
	route := ComputeRoute(f.RepoRoot, f.StatusPath)
	if !route.UseRAG || f.Graph == nil {
		return f.localGrepFallback(symbol, limit, route.FreshnessState)
	}

	nodes, err := f.Graph.FindNodesByName(ctx, symbol)
	if err != nil || len(nodes) == 0 {
		return f.localGrepFallback(symbol, limit, route.FreshnessState)
	}

	items := f.incomingEdgeItems(ctx, nodes, limit)
	return model.Envelope{Items: items, Source: model.SourceRAGGraph, FreshnessState: route.FreshnessState}
}

func (f *Facade) incomingEdgeItems(ctx context.Context, nodes []model.GraphNode, limit int) []model.ResultItem {
	var items []model.ResultItem
	seen := map[string]bool{}
	for _, node := range nodes {
		edges, err := f.Graph.EdgesForNode(ctx, node.ID)
		if err != nil {
			continue
		}
		for _, e := range edges {
			if e.TargetID != node.ID || !incomingEdgeLabels[e.Label] {
				continue
			}
			if seen[e.SourceID] {
				continue
			}
			seen[e.SourceID] = true
			src, ok, err := f.Graph.GetNode(ctx, e.SourceID)
			if err != nil || !ok {
				continue
			}
			items = append(items, model.ResultItem{
				File:    src.Path,
				Snippet: model.Snippet{Location: model.Location{Path: src.Path, StartLine: src.StartLine, EndLine: src.EndLine}},
			})
			if len(items) >= limit {
				return items
			}
		}
	}
	return items
}

// LineageDirection selects callers (upstream) or callees (downstream) for
// tool_rag_lineage.
type LineageDirection string

const (
	Upstream   LineageDirection = "upstream"
	Downstream LineageDirection = "downstream"
)

// Lineage implements tool_rag_lineage: incoming-neighbors for upstream
// (callers), outgoing-neighbors for downstream (callees).
func (f *Facade) Lineage(ctx context.Context, symbol string, direction LineageDirection, limit int) model.Envelope {
	route := ComputeRoute(f.RepoRoot, f.StatusPath)
	if !route.UseRAG || f.Graph == nil {
		return f.localLineageFallback(symbol, limit, route.FreshnessState)
	}

	nodes, err := f.Graph.FindNodesByName(ctx, symbol)
	if err != nil || len(nodes) == 0 {
		return f.localLineageFallback(symbol, limit, route.FreshnessState)
	}

	var items []model.ResultItem
	for _, node := range nodes {
		var neighbors []model.GraphNode
		if direction == Upstream {
			neighbors, err = f.Graph.IncomingNeighbors(ctx, node.ID)
		} else {
			neighbors, err = f.Graph.OutgoingNeighbors(ctx, node.ID)
		}
		if err != nil {
			continue
		}
		for _, n := range neighbors {
			items = append(items, model.ResultItem{
				File:    n.Path,
				Snippet: model.Snippet{Location: model.Location{Path: n.Path, StartLine: n.StartLine, EndLine: n.EndLine}},
			})
			if len(items) >= limit {
				return model.Envelope{Items: items, Source: model.SourceRAGGraph, FreshnessState: route.FreshnessState}
			}
		}
	}
	return model.Envelope{Items: items, Source: model.SourceRAGGraph, FreshnessState: route.FreshnessState}
}

// localSearchFallback scans every .py file line by line for a substring
// match, emitting a small window around each hit.
func (f *Facade) localSearchFallback(query string, limit int, freshness model.FreshnessState) model.Envelope {
	var items []model.ResultItem
	needle := strings.ToLower(query)

	_ = filepath.WalkDir(f.RepoRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || len(items) >= limit {
			return nil
		}
		if !strings.HasSuffix(path, ".py") {
			return nil
		}
		file, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		defer file.Close()

		rel, _ := filepath.Rel(f.RepoRoot, path)
		scanner := bufio.NewScanner(file)
		lineNo := 0
		var lines []string
		for scanner.Scan() {
			lineNo++
			lines = append(lines, scanner.Text())
		}
		for i, line := range lines {
			if len(items) >= limit {
				break
			}
			if !strings.Contains(strings.ToLower(line), needle) {
				continue
			}
			start, end := windowAround(i, len(lines), 2)
			items = append(items, model.ResultItem{
				File: rel,
				Snippet: model.Snippet{
					Text:     strings.Join(lines[start:end], "\n"),
					Location: model.Location{Path: rel, StartLine: start + 1, EndLine: end},
				},
			})
		}
		return nil
	})

	return model.Envelope{Items: items, Source: model.SourceLocalFallback, FreshnessState: freshness}
}

func (f *Facade) localGrepFallback(symbol string, limit int, freshness model.FreshnessState) model.Envelope {
	return f.grepFallback(symbol, limit, freshness)
}

func (f *Facade) localLineageFallback(symbol string, limit int, freshness model.FreshnessState) model.Envelope {
	return f.grepFallback(fmt.Sprintf("%s(", symbol), limit, freshness)
}

// grepFallback scans source files for a literal substring, used both for
// where_used (bare symbol) and lineage (symbol + "(" as a call-site proxy).
func (f *Facade) grepFallback(needle string, limit int, freshness model.FreshnessState) model.Envelope {
	var items []model.ResultItem

	_ = filepath.WalkDir(f.RepoRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || len(items) >= limit {
			return nil
		}
		file, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		defer file.Close()

		rel, _ := filepath.Rel(f.RepoRoot, path)
		scanner := bufio.NewScanner(file)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if len(items) >= limit {
				break
			}
			if !strings.Contains(scanner.Text(), needle) {
				continue
			}
			items = append(items, model.ResultItem{
				File: rel,
				Snippet: model.Snippet{
					Text:     scanner.Text(),
					Location: model.Location{Path: rel, StartLine: lineNo, EndLine: lineNo},
				},
			})
		}
		return nil
	})

	return model.Envelope{Items: items, Source: model.SourceLocalFallback, FreshnessState: freshness}
}

func windowAround(i, total, pad int) (start, end int) {
	start = i - pad
	if start < 0 {
		start = 0
	}
	end = i + pad + 1
	if end > total {
		end = total
	}
	return start, end
}
