package enrich

import (
	"testing"

	"github.com/llmc-dev/codeindex/internal/model"
)

func TestInterleaveCodeFirst_RatioOrdering(t *testing.T) {
	var spans []model.Span
	for i := 0; i < 10; i++ {
		spans = append(spans, model.Span{SpanHash: spanID("code", i), SliceType: model.SliceCode})
	}
	for i := 0; i < 2; i++ {
		spans = append(spans, model.Span{SpanHash: spanID("docs", i), SliceType: model.SliceDocs})
	}

	scheduled := interleaveCodeFirst(spans, 5)
	if len(scheduled) != len(spans) {
		t.Fatalf("scheduled length = %d, want %d (no spans lost or duplicated)", len(scheduled), len(spans))
	}

	// First 5 should be code, the 6th should be the first doc span.
	for i := 0; i < 5; i++ {
		if scheduled[i].SliceType != model.SliceCode {
			t.Errorf("scheduled[%d].SliceType = %s, want code", i, scheduled[i].SliceType)
		}
	}
	if scheduled[5].SliceType != model.SliceDocs {
		t.Errorf("scheduled[5].SliceType = %s, want docs (starvation guard)", scheduled[5].SliceType)
	}
}

func TestInterleaveCodeFirst_NoDocsIsStable(t *testing.T) {
	var spans []model.Span
	for i := 0; i < 3; i++ {
		spans = append(spans, model.Span{SpanHash: spanID("code", i), SliceType: model.SliceCode})
	}
	scheduled := interleaveCodeFirst(spans, 5)
	if len(scheduled) != 3 {
		t.Fatalf("scheduled length = %d, want 3", len(scheduled))
	}
}

func TestInterleaveCodeFirst_ZeroRatioDefaultsToFive(t *testing.T) {
	var spans []model.Span
	for i := 0; i < 6; i++ {
		spans = append(spans, model.Span{SpanHash: spanID("code", i), SliceType: model.SliceCode})
	}
	spans = append(spans, model.Span{SpanHash: "doc-0", SliceType: model.SliceDocs})

	scheduled := interleaveCodeFirst(spans, 0)
	if scheduled[5].SliceType != model.SliceDocs {
		t.Errorf("expected doc span at index 5 under default ratio 5, got %s", scheduled[5].SliceType)
	}
}

func spanID(kind string, i int) string {
	return kind + "-" + string(rune('a'+i))
}
