// Package graphbuild implements the Schema/Graph Builder (C10): it projects
// spans and enrichments into a typed entity/relation graph, either writing
// it out as a JSON artifact or bulk-loading it straight into the Graph
// Store.
package graphbuild

import (
	"context"
	"fmt"
	"strings"

	"github.com/llmc-dev/codeindex/internal/graphstore"
	"github.com/llmc-dev/codeindex/internal/model"
)

// ErrNoEnrichments is returned by Build in require_enrichment mode when the
// enrichment set is empty, mirroring the CLI's "require_enrichment=True"
// failure on a zero-enrichment index.
var ErrNoEnrichments = fmt.Errorf("graphbuild: require_enrichment=true but no enrichments are present")

// Options configures a Build call.
type Options struct {
	// RequireEnrichment fails the build if there are zero enrichments to
	// attach, instead of silently producing an AST-only graph.
	RequireEnrichment bool
}

// Build projects spans (joined against enrichments by span_hash) into a
// node/edge graph: one file node per distinct file path, one symbol node
// per span, an IMPORTS edge from a file to each of its declared imports
// (targets may be dangling), and a DEFINES-style containment captured by
// the symbol node's Path rather than a separate edge (mirroring
// build_enriched_schema_graph's flat entity list plus file-scoped lookup).
// A span missing a matching enrichment is non-fatal: its node is built
// without the summary/span_hash metadata fields, per the original's
// "missing enrichment is graceful" policy.
func Build(spans []model.Span, enrichments []model.Enrichment, opts Options) ([]model.GraphNode, []model.GraphEdge, error) {
	if opts.RequireEnrichment && len(enrichments) == 0 {
		return nil, nil, ErrNoEnrichments
	}

	byHash := make(map[string]model.Enrichment, len(enrichments))
	for _, e := range enrichments {
		byHash[e.SpanHash] = e
	}

	var nodes []model.GraphNode
	var edges []model.GraphEdge
	seenFiles := make(map[string]bool)

	for _, s := range spans {
		fileID := fileNodeID(s.FilePath)
		if !seenFiles[fileID] {
			seenFiles[fileID] = true
			nodes = append(nodes, model.GraphNode{
				ID:   fileID,
				Name: s.FilePath,
				Path: s.FilePath,
				Kind: "file",
			})
			for _, imp := range importsOf(spans, s.FilePath) {
				edges = append(edges, model.GraphEdge{
					SourceID: fileID,
					TargetID: fileNodeID(imp),
					Label:    model.EdgeImports,
				})
			}
		}

		node := model.GraphNode{
			ID:        symbolNodeID(s.Symbol),
			Name:      s.Symbol,
			Path:      s.FilePath,
			Kind:      s.Kind,
			StartLine: s.StartLine,
			EndLine:   s.EndLine,
		}
		if e, ok := byHash[s.SpanHash]; ok {
			node.Metadata = map[string]any{
				"span_hash": e.SpanHash,
				"summary":   e.Summary,
			}
		}
		nodes = append(nodes, node)
	}

	return nodes, edges, nil
}

func fileNodeID(path string) string {
	return "file:" + path
}

func symbolNodeID(symbol string) string {
	return "sym:" + symbol
}

// importsOf returns the distinct import strings declared by any span in
// path, since Span.Imports is recorded per-span but an IMPORTS edge is a
// file-level relation.
func importsOf(spans []model.Span, path string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range spans {
		if s.FilePath != path {
			continue
		}
		for _, imp := range s.Imports {
			imp = strings.TrimSpace(imp)
			if imp == "" || seen[imp] {
				continue
			}
			seen[imp] = true
			out = append(out, imp)
		}
	}
	return out
}

// LoadIntoStore bulk-replaces the Graph Store's contents with nodes/edges,
// the "build in bulk from the artifact" half of the spec.
func LoadIntoStore(ctx context.Context, gs *graphstore.Store, nodes []model.GraphNode, edges []model.GraphEdge) error {
	return gs.ReplaceGraph(ctx, nodes, edges)
}
