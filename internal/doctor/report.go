// Package doctor implements the operational health report and archive
// export (C9): a point-in-time snapshot of index completeness used to gate
// whether the retrieval facade and enrichment pipeline should run, plus a
// portable tarball snapshot of the index for backup or migration.
package doctor

import (
	"context"
	"fmt"

	"github.com/llmc-dev/codeindex/internal/graphstore"
	"github.com/llmc-dev/codeindex/internal/store"
)

// Status is the derived health classification of an index.
type Status string

const (
	StatusOK     Status = "OK"
	StatusEmpty  Status = "EMPTY"
	StatusWarn   Status = "WARN"
	StatusBroken Status = "BROKEN"
)

// warnPendingRatio is the fraction of spans lacking enrichment above which
// an otherwise-healthy index is downgraded to WARN — a high backlog usually
// means the enrichment pipeline has stalled, not that the index is corrupt.
const warnPendingRatio = 0.5

// Report is the health snapshot returned by Run.
type Report struct {
	Status            Status
	TableCounts       map[string]int64
	PendingEnrichment int64
	PendingEmbedding  int64
	OrphanEnrichments int64
	TopPendingFiles   []store.FilePendingCount
	GraphStale        bool
}

// topPendingFilesLimit is how many files the report surfaces, enough to
// point an operator at the worst offenders without dumping the whole repo.
const topPendingFilesLimit = 10

// Run computes a health Report from the open Span Store, plus the Graph
// Store's staleness if graph is non-nil. A nonzero orphan count always
// forces BROKEN, since it means the enrichments table references spans
// that no longer exist — a sign the foreign-key constraint was bypassed
// (e.g. a raw bulk import). An empty files/spans table yields EMPTY. A
// high pending-enrichment backlog yields WARN. Anything else is OK.
func Run(ctx context.Context, st *store.Store, graph *graphstore.Store) (Report, error) {
	counts, err := st.Stats()
	if err != nil {
		return Report{}, fmt.Errorf("doctor: reading table counts: %w", err)
	}

	pendingEnrichment, err := st.PendingEnrichmentCount()
	if err != nil {
		return Report{}, fmt.Errorf("doctor: counting pending enrichments: %w", err)
	}
	pendingEmbedding, err := st.PendingEmbeddingCount()
	if err != nil {
		return Report{}, fmt.Errorf("doctor: counting pending embeddings: %w", err)
	}
	orphans, err := st.OrphanEnrichmentCount()
	if err != nil {
		return Report{}, fmt.Errorf("doctor: counting orphan enrichments: %w", err)
	}
	topFiles, err := st.TopFilesByPendingSpans(topPendingFilesLimit)
	if err != nil {
		return Report{}, fmt.Errorf("doctor: ranking pending files: %w", err)
	}

	var graphStale bool
	if graph != nil {
		maxMTime, err := st.MaxFileMTime()
		if err != nil {
			return Report{}, fmt.Errorf("doctor: reading max file mtime: %w", err)
		}
		graphStale, err = graph.IsStale(ctx, maxMTime)
		if err != nil {
			return Report{}, fmt.Errorf("doctor: checking graph staleness: %w", err)
		}
	}

	report := Report{
		TableCounts:       counts,
		PendingEnrichment: pendingEnrichment,
		PendingEmbedding:  pendingEmbedding,
		OrphanEnrichments: orphans,
		TopPendingFiles:   topFiles,
		GraphStale:        graphStale,
	}
	report.Status = deriveStatus(report)
	return report, nil
}

func deriveStatus(r Report) Status {
	if r.OrphanEnrichments > 0 {
		return StatusBroken
	}
	if r.TableCounts["files"] == 0 || r.TableCounts["spans"] == 0 {
		return StatusEmpty
	}
	if float64(r.PendingEnrichment)/float64(r.TableCounts["spans"]) > warnPendingRatio {
		return StatusWarn
	}
	return StatusOK
}
