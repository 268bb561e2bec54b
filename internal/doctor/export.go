package doctor

import (
	"archive/tar"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/llmc-dev/codeindex/internal/model"
	"github.com/llmc-dev/codeindex/internal/store"
)

// putFloat32LE writes f into buf[0:4] as a little-endian IEEE-754 bit
// pattern, the same wire shape the Span Store uses for its embedding blobs.
func putFloat32LE(buf []byte, f float32) {
	binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
}

// exportChunk is one line of chunks.jsonl: a span plus its enrichment, if any.
type exportChunk struct {
	SpanHash  string           `json:"span_hash"`
	Path      string           `json:"path"`
	Symbol    string           `json:"symbol"`
	Kind      string           `json:"kind"`
	StartLine int              `json:"start_line"`
	EndLine   int              `json:"end_line"`
	SliceType model.SliceType  `json:"slice_type"`
	Enrichment *model.Enrichment `json:"enrichment,omitempty"`
}

// exportMetadata is metadata.json: the embedding matrix's row order plus
// enough provenance to make the archive self-describing.
type exportMetadata struct {
	ExportedAt   string   `json:"exported_at"`
	SpanCount    int      `json:"span_count"`
	EmbeddingDim int      `json:"embedding_dim,omitempty"`
	VectorOrder  []string `json:"vector_order"` // span_hash per row of embeddings.f32
}

// Export writes a tarball to w containing chunks.jsonl (one JSON object per
// span, joined with its enrichment), embeddings.f32 (a packed little-endian
// float32 matrix, row order given by metadata.json's vector_order), and
// metadata.json. exportedAt is injected by the caller (RFC3339) rather than
// read from time.Now here, to keep this package's output reproducible in
// tests.
func Export(st *store.Store, w io.Writer, exportedAt time.Time) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	spans, err := st.FetchAllSpans()
	if err != nil {
		return fmt.Errorf("export: fetching spans: %w", err)
	}
	enrichments, err := st.FetchAllEnrichments()
	if err != nil {
		return fmt.Errorf("export: fetching enrichments: %w", err)
	}
	byHash := make(map[string]*model.Enrichment, len(enrichments))
	for i := range enrichments {
		byHash[enrichments[i].SpanHash] = &enrichments[i]
	}

	chunksBuf, err := marshalChunks(spans, byHash)
	if err != nil {
		return err
	}
	if err := writeTarFile(tw, "chunks.jsonl", chunksBuf); err != nil {
		return err
	}

	embeddings, err := st.FetchAllEmbeddings()
	if err != nil {
		return fmt.Errorf("export: fetching embeddings: %w", err)
	}
	matrix, order, dim := packEmbeddingMatrix(embeddings)
	if err := writeTarFile(tw, "embeddings.f32", matrix); err != nil {
		return err
	}

	meta := exportMetadata{
		ExportedAt:   exportedAt.UTC().Format(time.RFC3339),
		SpanCount:    len(spans),
		EmbeddingDim: dim,
		VectorOrder:  order,
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("export: marshaling metadata: %w", err)
	}
	if err := writeTarFile(tw, "metadata.json", metaJSON); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("export: closing tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("export: closing gzip writer: %w", err)
	}
	return nil
}

func marshalChunks(spans []model.Span, byHash map[string]*model.Enrichment) ([]byte, error) {
	var buf []byte
	for _, s := range spans {
		chunk := exportChunk{
			SpanHash:  s.SpanHash,
			Path:      s.FilePath,
			Symbol:    s.Symbol,
			Kind:      s.Kind,
			StartLine: s.StartLine,
			EndLine:   s.EndLine,
			SliceType: s.SliceType,
			Enrichment: byHash[s.SpanHash],
		}
		line, err := json.Marshal(chunk)
		if err != nil {
			return nil, fmt.Errorf("export: marshaling chunk %s: %w", s.SpanHash, err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return buf, nil
}

// packEmbeddingMatrix concatenates every embedding's bytes in a stable
// (span_hash-sorted) order and reports the vector order and the common
// dimension (0 if there are no embeddings, or vectors disagree in length —
// mixed-dimension vectors are packed back-to-back as they are, not
// reshaped, and their individual lengths are not recorded).
func packEmbeddingMatrix(embeddings []model.Embedding) (matrix []byte, order []string, dim int) {
	sort.Slice(embeddings, func(i, j int) bool { return embeddings[i].SpanHash < embeddings[j].SpanHash })
	order = make([]string, len(embeddings))
	for i, e := range embeddings {
		order[i] = e.SpanHash
		if i == 0 {
			dim = len(e.Vector)
		} else if len(e.Vector) != dim {
			dim = 0
		}
		buf := make([]byte, 4*len(e.Vector))
		for j, f := range e.Vector {
			putFloat32LE(buf[j*4:], f)
		}
		matrix = append(matrix, buf...)
	}
	return matrix, order, dim
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("export: writing %s header: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("export: writing %s body: %w", name, err)
	}
	return nil
}
