package store

import (
	"context"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Registers sqlite-vec as an auto-loadable extension for every
	// mattn/go-sqlite3 connection, the same call the teacher's own store.go
	// makes in its init(). The embeddings blob format (float32sToLEBytes,
	// above) already matches the little-endian float[] layout vec0 expects.
	sqlite_vec.Auto()
}

// ensureVecTable lazily creates the vec_spans vec0 virtual table at the
// first observed embedding dimension. Best-effort, mirroring ensureFTS: if
// the sqlite-vec extension failed to load, VectorSearch degrades to
// returning no hits rather than failing the caller.
func (s *Store) ensureVecTable(dim int) {
	if s.vecAvailable && s.vecDim == dim {
		return
	}
	ddl := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_spans USING vec0(
		span_hash TEXT PRIMARY KEY,
		embedding float[%d]
	)`, dim)
	if _, err := s.db.Exec(ddl); err != nil {
		s.vecAvailable = false
		return
	}
	s.vecDim = dim
	s.vecAvailable = true
}

// VecAvailable reports whether KNN vector search is usable against this
// store (the sqlite-vec extension loaded and at least one embedding has
// been stored).
func (s *Store) VecAvailable() bool {
	return s.vecAvailable
}

// VecHit is one nearest-neighbor result from VectorSearch, already joined
// back to its owning span's location.
type VecHit struct {
	SpanHash  string
	Symbol    string
	Path      string
	StartLine int
	EndLine   int
	Distance  float64
}

// VectorSearch runs a KNN query over vec_spans, returning the k spans
// nearest to queryVec by the distance metric sqlite-vec's MATCH/k= syntax
// implements (L2 by default), joined to spans/files for location.
func (s *Store) VectorSearch(ctx context.Context, queryVec []float32, k int) ([]VecHit, error) {
	if !s.vecAvailable {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.span_hash, v.distance, sp.symbol, f.path, sp.start_line, sp.end_line
		FROM vec_spans v
		JOIN spans sp ON sp.span_hash = v.span_hash
		JOIN files f ON f.id = sp.file_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, float32sToLEBytes(queryVec), k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []VecHit
	for rows.Next() {
		var h VecHit
		if err := rows.Scan(&h.SpanHash, &h.Distance, &h.Symbol, &h.Path, &h.StartLine, &h.EndLine); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
