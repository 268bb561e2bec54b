package enrich

import (
	"context"
	"log/slog"

	"github.com/llmc-dev/codeindex/internal/config"
	"github.com/llmc-dev/codeindex/internal/model"
	"github.com/llmc-dev/codeindex/internal/store"
)

// RunSingleThreaded is the V1 enrichment driver: pulls a batch of pending
// spans directly from the Span Store, interleaves code spans ahead of
// non-code ones at codeFirstRatio:1 to avoid starving either class, and
// runs them serially through the cascade's tier 0. It's the simplest
// variant and the one used by one-shot CLI runs against a single repo.
func RunSingleThreaded(ctx context.Context, st *store.Store, cascade *Cascade, cfg config.EnrichConfig, limit, cooldownSeconds int) (success int, failed []string, err error) {
	spans, err := st.PendingEnrichments(limit, cooldownSeconds)
	if err != nil {
		return 0, nil, err
	}
	if len(spans) == 0 {
		return 0, nil, nil
	}

	scheduled := interleaveCodeFirst(spans, cfg.CodeFirstRatio)

	for _, span := range scheduled {
		select {
		case <-ctx.Done():
			return success, failed, ctx.Err()
		default:
		}

		result := cascade.RunTier(ctx, 0, span)
		if !result.Ok {
			failed = append(failed, span.SpanHash)
			slog.Warn("enrich: span failed all tier-0 backends", "span_hash", span.SpanHash, "attempts", len(result.Attempts))
			continue
		}

		if err := st.StoreEnrichment(result.Enrichment); err != nil {
			failed = append(failed, span.SpanHash)
			slog.Warn("enrich: persisting enrichment failed", "span_hash", span.SpanHash, "error", err)
			continue
		}
		success++
	}

	return success, failed, nil
}

// interleaveCodeFirst splits spans into a code pool and a non-code pool and
// drains `ratio` code spans for every one non-code span, preserving each
// pool's incoming order. A ratio <= 0 behaves as if it were 5, mirroring the
// reference starvation ratio.
func interleaveCodeFirst(spans []model.Span, ratio int) []model.Span {
	if ratio <= 0 {
		ratio = 5
	}

	var code, other []model.Span
	for _, s := range spans {
		if s.SliceType == model.SliceCode {
			code = append(code, s)
		} else {
			other = append(other, s)
		}
	}

	scheduled := make([]model.Span, 0, len(spans))
	ci, oi := 0, 0
	for ci < len(code) || oi < len(other) {
		for n := 0; n < ratio && ci < len(code); n++ {
			scheduled = append(scheduled, code[ci])
			ci++
		}
		if oi < len(other) {
			scheduled = append(scheduled, other[oi])
			oi++
		}
	}
	return scheduled
}
