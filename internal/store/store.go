// Package store implements the Span Store (C1): relational persistence of
// files, spans, enrichments, and embeddings, with versioned schema
// migrations, corruption recovery, and an FTS5 projection.
package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/llmc-dev/codeindex/internal/model"
)

// ErrCorruptAfterRetry is returned when a database is still unreadable after
// one quarantine-and-retry cycle.
var ErrCorruptAfterRetry = errors.New("database unreadable after quarantine retry")

// ErrEmptySpansGuard marks a ReplaceSpans call that was a no-op because the
// extractor returned zero spans for a file that previously had some — a
// warning condition, not a failure.
var ErrEmptySpansGuard = errors.New("extractor returned zero spans, existing spans preserved")

// Store is the Span Store: files, spans, enrichments, and embeddings.
type Store struct {
	db           *sql.DB
	ftsAvailable bool
	vecAvailable bool
	vecDim       int
}

// Open opens (creating if absent) the SQLite database at path, applying
// schema migrations and preparing the FTS5 virtual table.
func Open(path string) (*Store, error) {
	db, err := openAndPrepare(path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	s.ensureFTS()
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureFTS() {
	if _, err := s.db.Exec(ftsDDL); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "fts5") {
			s.ftsAvailable = false
			return
		}
		slog.Warn("store: creating FTS5 table failed", "error", err)
		return
	}
	s.ftsAvailable = true
}

// FTSAvailable reports whether the enrichments_fts virtual table is usable.
func (s *Store) FTSAvailable() bool {
	return s.ftsAvailable
}

// UpsertFile inserts or updates a file row by path, returning its id.
func (s *Store) UpsertFile(f model.File) (int64, error) {
	_, err := s.db.Exec(`
		INSERT INTO files(path, lang, file_hash, size, mtime)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			lang = excluded.lang,
			file_hash = excluded.file_hash,
			size = excluded.size,
			mtime = excluded.mtime
	`, f.Path, f.Lang, f.FileHash, f.Size, f.MTime)
	if err != nil {
		return 0, fmt.Errorf("upserting file %s: %w", f.Path, err)
	}

	var id int64
	if err := s.db.QueryRow("SELECT id FROM files WHERE path = ?", f.Path).Scan(&id); err != nil {
		return 0, fmt.Errorf("resolving file id for %s: %w", f.Path, err)
	}
	return id, nil
}

// GetFileHash returns the stored hash for path, or ("", false) if absent.
func (s *Store) GetFileHash(path string) (string, bool, error) {
	var hash string
	err := s.db.QueryRow("SELECT file_hash FROM files WHERE path = ?", path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up file hash for %s: %w", path, err)
	}
	return hash, true, nil
}

// GetFileMeta returns the last-recorded (mtime, size) for path without
// touching file_hash, so the indexer can decide whether a file needs
// re-hashing at all before reading its content.
func (s *Store) GetFileMeta(path string) (mtime float64, size int64, ok bool, err error) {
	err = s.db.QueryRow("SELECT mtime, size FROM files WHERE path = ?", path).Scan(&mtime, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("looking up file meta for %s: %w", path, err)
	}
	return mtime, size, true, nil
}

// MaxFileMTime returns the latest recorded mtime across all indexed files,
// the baseline the Graph Store's staleness check compares itself against.
// Returns 0 with no error on an empty files table.
func (s *Store) MaxFileMTime() (float64, error) {
	var max sql.NullFloat64
	if err := s.db.QueryRow("SELECT MAX(mtime) FROM files").Scan(&max); err != nil {
		return 0, fmt.Errorf("reading max file mtime: %w", err)
	}
	return max.Float64, nil
}

// DeleteFile removes a file row; spans/enrichments/embeddings cascade.
func (s *Store) DeleteFile(path string) error {
	_, err := s.db.Exec("DELETE FROM files WHERE path = ?", path)
	if err != nil {
		return fmt.Errorf("deleting file %s: %w", path, err)
	}
	return nil
}

// ReplaceSpans performs the differential span replacement for fileID: it
// keeps spans whose hash is unchanged (preserving their enrichment rows),
// deletes spans no longer present, and inserts only new/modified spans. If
// spans is empty but the file previously had spans, it is a no-op (safety
// guard against a faulty extractor nuking enrichments) and returns
// ErrEmptySpansGuard wrapped so callers can log it as a warning, not a failure.
func (s *Store) ReplaceSpans(fileID int64, spans []model.Span) error {
	rows, err := s.db.Query("SELECT span_hash FROM spans WHERE file_id = ?", fileID)
	if err != nil {
		return fmt.Errorf("loading existing spans for file_id=%d: %w", fileID, err)
	}
	existing := map[string]bool{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return err
		}
		existing[h] = true
	}
	rows.Close()

	if len(spans) == 0 && len(existing) > 0 {
		slog.Warn("store: extractor returned 0 spans, preserving existing spans", "file_id", fileID, "existing", len(existing))
		return fmt.Errorf("file_id=%d: %w", fileID, ErrEmptySpansGuard)
	}

	newHashes := map[string]bool{}
	for _, sp := range spans {
		newHashes[sp.SpanHash] = true
	}

	var toDelete []string
	for h := range existing {
		if !newHashes[h] {
			toDelete = append(toDelete, h)
		}
	}
	unchanged := 0
	for h := range existing {
		if newHashes[h] {
			unchanged++
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if len(toDelete) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(toDelete)), ",")
		args := make([]any, len(toDelete))
		for i, h := range toDelete {
			args[i] = h
		}
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM spans WHERE span_hash IN (%s)", placeholders), args...); err != nil {
			return fmt.Errorf("deleting stale spans: %w", err)
		}
	}

	added := 0
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO spans (
			file_id, symbol, kind, start_line, end_line,
			byte_start, byte_end, span_hash, doc_hint,
			slice_type, slice_language, classifier_confidence, classifier_version, imports
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sp := range spans {
		if existing[sp.SpanHash] {
			continue
		}
		var importsJSON any
		if len(sp.Imports) > 0 {
			b, _ := json.Marshal(sp.Imports)
			importsJSON = string(b)
		}
		if _, err := stmt.Exec(
			fileID, sp.Symbol, sp.Kind, sp.StartLine, sp.EndLine,
			sp.ByteStart, sp.ByteEnd, sp.SpanHash, nullIfEmpty(sp.DocHint),
			string(sp.SliceType), sp.SliceLanguage, sp.ClassifierConfidence, sp.ClassifierVersion, importsJSON,
		); err != nil {
			return fmt.Errorf("inserting span %s: %w", sp.SpanHash, err)
		}
		added++
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if added > 0 || len(toDelete) > 0 {
		slog.Info("store: spans delta", "file_id", fileID, "unchanged", unchanged, "added", added, "deleted", len(toDelete))
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// PendingEnrichments returns up to limit spans lacking an enrichment row.
// limit<=0 means unbounded: every pending span is returned (cooldown still
// applies). For small pending sets it scans in id order; for large sets it
// samples random ROWID offsets to stay O(1)-amortized rather than sorting
// the whole table, matching database.py's pending_enrichments.
func (s *Store) PendingEnrichments(limit, cooldownSeconds int) ([]model.Span, error) {
	var count, minID, maxID sql.NullInt64
	err := s.db.QueryRow(`
		SELECT COUNT(*), MIN(spans.id), MAX(spans.id)
		FROM spans
		LEFT JOIN enrichments ON spans.span_hash = enrichments.span_hash
		WHERE enrichments.span_hash IS NULL
	`).Scan(&count, &minID, &maxID)
	if err != nil {
		return nil, fmt.Errorf("counting pending spans: %w", err)
	}
	if !count.Valid || count.Int64 == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = int(count.Int64)
	}

	const pendingSelectCols = `
		spans.span_hash, files.path, files.lang, spans.start_line, spans.end_line,
		spans.byte_start, spans.byte_end, files.mtime, spans.slice_type,
		spans.slice_language, spans.classifier_confidence, spans.symbol, spans.kind
	`

	var rows *sql.Rows
	if count.Int64 <= 500 || count.Int64 <= int64(limit)*3 {
		rows, err = s.db.Query(fmt.Sprintf(`
			SELECT %s
			FROM spans
			JOIN files ON spans.file_id = files.id
			LEFT JOIN enrichments ON spans.span_hash = enrichments.span_hash
			WHERE enrichments.span_hash IS NULL
			ORDER BY spans.id
			LIMIT ?
		`, pendingSelectCols), limit*2)
	} else {
		idRange := maxID.Int64 - minID.Int64 + 1
		nProbes := limit * 4
		if nProbes > 200 {
			nProbes = 200
		}
		offsets := map[int64]bool{}
		for i := 0; i < nProbes; i++ {
			offsets[minID.Int64+rand.Int63n(idRange)] = true
		}
		batch := limit / 4
		if batch < 10 {
			batch = 10
		}

		seen := map[string]bool{}
		var spans []spanProbeRow
		probed := 0
		for off := range offsets {
			if probed >= 20 || len(spans) >= limit*2 {
				break
			}
			probed++
			r, err := s.db.Query(fmt.Sprintf(`
				SELECT %s
				FROM spans
				JOIN files ON spans.file_id = files.id
				LEFT JOIN enrichments ON spans.span_hash = enrichments.span_hash
				WHERE enrichments.span_hash IS NULL AND spans.id >= ?
				ORDER BY spans.id
				LIMIT ?
			`, pendingSelectCols), off, batch)
			if err != nil {
				return nil, err
			}
			for r.Next() {
				row, err := scanSpanProbeRow(r)
				if err != nil {
					r.Close()
					return nil, err
				}
				if seen[row.spanHash] {
					continue
				}
				seen[row.spanHash] = true
				spans = append(spans, row)
			}
			r.Close()
		}
		rand.Shuffle(len(spans), func(i, j int) { spans[i], spans[j] = spans[j], spans[i] })
		return finalizeSpanProbes(spans, limit, cooldownSeconds), nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting pending spans: %w", err)
	}
	defer rows.Close()

	var out []spanProbeRow
	for rows.Next() {
		row, err := scanSpanProbeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return finalizeSpanProbes(out, limit, cooldownSeconds), nil
}

type spanProbeRow struct {
	spanHash   string
	filePath   string
	lang       string
	startLine  int
	endLine    int
	byteStart  int
	byteEnd    int
	mtime      float64
	sliceType  sql.NullString
	sliceLang  sql.NullString
	confidence sql.NullFloat64
	symbol     string
	kind       string
}

func scanSpanProbeRow(rows *sql.Rows) (spanProbeRow, error) {
	var r spanProbeRow
	err := rows.Scan(&r.spanHash, &r.filePath, &r.lang, &r.startLine, &r.endLine,
		&r.byteStart, &r.byteEnd, &r.mtime, &r.sliceType, &r.sliceLang, &r.confidence, &r.symbol, &r.kind)
	return r, err
}

func finalizeSpanProbes(rows []spanProbeRow, limit, cooldownSeconds int) []model.Span {
	now := float64(time.Now().Unix())
	var out []model.Span
	for _, r := range rows {
		if cooldownSeconds > 0 && now-r.mtime < float64(cooldownSeconds) {
			continue
		}
		sliceType := model.SliceOther
		if r.sliceType.Valid && r.sliceType.String != "" {
			sliceType = model.SliceType(r.sliceType.String)
		}
		out = append(out, model.Span{
			SpanHash:             r.spanHash,
			FilePath:             r.filePath,
			Lang:                 r.lang,
			StartLine:            r.startLine,
			EndLine:              r.endLine,
			ByteStart:            r.byteStart,
			ByteEnd:              r.byteEnd,
			SliceType:            sliceType,
			SliceLanguage:        r.sliceLang.String,
			ClassifierConfidence: r.confidence.Float64,
			Symbol:               r.symbol,
			Kind:                 r.kind,
		})
		if len(out) == limit {
			break
		}
	}
	return out
}

// StoreEnrichment writes (or overwrites) the enrichment row for span_hash.
func (s *Store) StoreEnrichment(e model.Enrichment) error {
	evidenceJSON, err := json.Marshal(e.Evidence)
	if err != nil {
		return fmt.Errorf("marshaling evidence: %w", err)
	}
	var tags any
	if len(e.Tags) > 0 {
		tags = strings.Join(e.Tags, ",")
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO enrichments (
			span_hash, summary, tags, evidence, model, created_at, schema_ver,
			inputs, outputs, side_effects, pitfalls, usage_snippet,
			content_type, content_language, content_type_confidence, content_type_source,
			tokens_per_second, eval_count, eval_duration_ns, prompt_eval_count,
			total_duration_ns, backend_host
		) VALUES (?, ?, ?, ?, ?, strftime('%s','now'), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.SpanHash, e.Summary, tags, string(evidenceJSON), e.Model, e.SchemaVersion,
		jsonOrNull(e.Inputs), jsonOrNull(e.Outputs), jsonOrNull(e.SideEffects), jsonOrNull(e.Pitfalls),
		nullIfEmpty(e.UsageSnippet), nullIfEmpty(e.ContentType), nullIfEmpty(e.ContentLanguage),
		e.ContentTypeConfidence, nullIfEmpty(e.ContentTypeSource),
		e.TokensPerSecond, e.EvalCount, e.EvalDurationNS, e.PromptEvalCount, e.TotalDurationNS, nullIfEmpty(e.BackendHost),
	)
	if err != nil {
		return fmt.Errorf("storing enrichment %s: %w", e.SpanHash, err)
	}
	return nil
}

func jsonOrNull(xs []string) any {
	b, _ := json.Marshal(xs)
	return string(b)
}

// StoreEmbedding writes vec for span_hash into the route-appropriate table
// (code spans -> emb_code, everything else -> embeddings), per the content-
// type gating decision recorded in SPEC_FULL.md.
func (s *Store) StoreEmbedding(e model.Embedding) error {
	table := "embeddings"
	if e.RouteName == model.RouteCode {
		table = "emb_code"
	}
	blob := float32sToLEBytes(e.Vector)
	_, err := s.db.Exec(fmt.Sprintf(`
		INSERT OR REPLACE INTO %s(span_hash, vec, route_name, profile_name)
		VALUES (?, ?, ?, ?)
	`, table), e.SpanHash, blob, string(e.RouteName), e.ProfileName)
	if err != nil {
		return fmt.Errorf("storing embedding %s: %w", e.SpanHash, err)
	}

	s.ensureVecTable(len(e.Vector))
	if s.vecAvailable {
		if _, vecErr := s.db.Exec(
			"INSERT OR REPLACE INTO vec_spans(span_hash, embedding) VALUES (?, ?)",
			e.SpanHash, blob,
		); vecErr != nil {
			slog.Warn("store: vec_spans insert failed, KNN search degraded for this span", "span_hash", e.SpanHash, "error", vecErr)
		}
	}
	return nil
}

// EnsureEmbeddingMeta records (profile, modelName, dim) so readers know how
// to decode the embeddings table's blobs.
func (s *Store) EnsureEmbeddingMeta(profile, modelName string, dim int) error {
	_, err := s.db.Exec(`
		INSERT INTO embeddings_meta(profile, model, dim, created_at)
		VALUES (?, ?, ?, strftime('%s','now'))
		ON CONFLICT(profile, model) DO UPDATE SET dim = excluded.dim, created_at = excluded.created_at
	`, profile, modelName, dim)
	return err
}

// float32sToLEBytes packs a float32 vector into a little-endian byte blob,
// the same wire shape database.py's store_embedding writes via struct.pack.
func float32sToLEBytes(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		bits := math.Float32bits(f)
		binary.LittleEndian.PutUint32(buf[i*4:], bits)
	}
	return buf
}

// leBytesToFloat32s is the inverse of float32sToLEBytes, used when exporting
// or re-reading the packed embedding blob.
func leBytesToFloat32s(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(buf[i*4:])
		vec[i] = math.Float32frombits(bits)
	}
	return vec
}

// FetchAllEmbeddings returns every embedding across both route tables, for
// the doctor/export path (C9) to serialize into a packed matrix.
func (s *Store) FetchAllEmbeddings() ([]model.Embedding, error) {
	var out []model.Embedding
	for table, route := range map[string]model.EmbeddingRoute{"embeddings": "", "emb_code": model.RouteCode} {
		rows, err := s.db.Query(fmt.Sprintf(`SELECT span_hash, vec, route_name, profile_name FROM %s`, table))
		if err != nil {
			return nil, fmt.Errorf("fetching embeddings from %s: %w", table, err)
		}
		for rows.Next() {
			var e model.Embedding
			var blob []byte
			var routeName, profileName sql.NullString
			if err := rows.Scan(&e.SpanHash, &blob, &routeName, &profileName); err != nil {
				rows.Close()
				return nil, err
			}
			e.Vector = leBytesToFloat32s(blob)
			if routeName.Valid {
				e.RouteName = model.EmbeddingRoute(routeName.String)
			} else {
				e.RouteName = route
			}
			e.ProfileName = profileName.String
			out = append(out, e)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// Stats returns row counts for the operational doctor report (C9).
func (s *Store) Stats() (map[string]int64, error) {
	out := map[string]int64{}
	for _, t := range []string{"files", "spans", "enrichments", "embeddings", "emb_code"} {
		var n int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", t)).Scan(&n); err != nil {
			return nil, err
		}
		out[t] = n
	}
	return out, nil
}

// PendingEnrichmentCount returns the number of spans with no enrichment row.
func (s *Store) PendingEnrichmentCount() (int64, error) {
	var n int64
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM spans
		LEFT JOIN enrichments ON spans.span_hash = enrichments.span_hash
		WHERE enrichments.span_hash IS NULL
	`).Scan(&n)
	return n, err
}

// PendingEmbeddingCount returns the number of spans with no row in either
// embedding table (code-routed or default-routed).
func (s *Store) PendingEmbeddingCount() (int64, error) {
	var n int64
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM spans
		LEFT JOIN embeddings ON spans.span_hash = embeddings.span_hash
		LEFT JOIN emb_code ON spans.span_hash = emb_code.span_hash
		WHERE embeddings.span_hash IS NULL AND emb_code.span_hash IS NULL
	`).Scan(&n)
	return n, err
}

// OrphanEnrichmentCount returns enrichment rows with no backing span. The
// enrichments.span_hash foreign key normally cascades on span deletion, so
// this should stay at zero in steady state; a nonzero count signals a bulk
// load or migration that bypassed the constraint.
func (s *Store) OrphanEnrichmentCount() (int64, error) {
	var n int64
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM enrichments
		LEFT JOIN spans ON spans.span_hash = enrichments.span_hash
		WHERE spans.span_hash IS NULL
	`).Scan(&n)
	return n, err
}

// FilePendingCount is one row of the doctor report's "top files by pending
// span count" table.
type FilePendingCount struct {
	Path    string
	Pending int64
}

// TopFilesByPendingSpans returns the n files with the most un-enriched
// spans, descending.
func (s *Store) TopFilesByPendingSpans(n int) ([]FilePendingCount, error) {
	rows, err := s.db.Query(`
		SELECT files.path, COUNT(*) AS pending
		FROM spans
		JOIN files ON files.id = spans.file_id
		LEFT JOIN enrichments ON spans.span_hash = enrichments.span_hash
		WHERE enrichments.span_hash IS NULL
		GROUP BY files.path
		ORDER BY pending DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FilePendingCount
	for rows.Next() {
		var f FilePendingCount
		if err := rows.Scan(&f.Path, &f.Pending); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FetchAllSpans returns every span joined with its owning file's path/lang.
func (s *Store) FetchAllSpans() ([]model.Span, error) {
	rows, err := s.db.Query(`
		SELECT s.span_hash, s.symbol, s.kind, s.start_line, s.end_line, s.byte_start, s.byte_end,
		       s.slice_type, s.slice_language, s.classifier_confidence, s.classifier_version, s.imports,
		       f.path, f.lang
		FROM spans AS s JOIN files AS f ON f.id = s.file_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Span
	for rows.Next() {
		var sp model.Span
		var sliceType, sliceLang, classifierVersion, importsJSON sql.NullString
		var confidence sql.NullFloat64
		if err := rows.Scan(&sp.SpanHash, &sp.Symbol, &sp.Kind, &sp.StartLine, &sp.EndLine, &sp.ByteStart, &sp.ByteEnd,
			&sliceType, &sliceLang, &confidence, &classifierVersion, &importsJSON, &sp.FilePath, &sp.Lang); err != nil {
			return nil, err
		}
		sp.SliceType = model.SliceOther
		if sliceType.Valid && sliceType.String != "" {
			sp.SliceType = model.SliceType(sliceType.String)
		}
		sp.SliceLanguage = sliceLang.String
		sp.ClassifierConfidence = confidence.Float64
		sp.ClassifierVersion = classifierVersion.String
		if importsJSON.Valid && importsJSON.String != "" {
			_ = json.Unmarshal([]byte(importsJSON.String), &sp.Imports)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// GetSpanByHash fetches a single span by its content hash, for callers (the
// conveyor-belt and pool-worker enrichment drivers) that only carry a
// span_hash across a process boundary via the Work Queue.
func (s *Store) GetSpanByHash(spanHash string) (model.Span, bool, error) {
	row := s.db.QueryRow(`
		SELECT s.span_hash, s.symbol, s.kind, s.start_line, s.end_line, s.byte_start, s.byte_end,
		       s.slice_type, s.slice_language, s.classifier_confidence, s.classifier_version, s.imports,
		       f.path, f.lang
		FROM spans AS s JOIN files AS f ON f.id = s.file_id
		WHERE s.span_hash = ?
	`, spanHash)

	var sp model.Span
	var sliceType, sliceLang, classifierVersion, importsJSON sql.NullString
	var confidence sql.NullFloat64
	err := row.Scan(&sp.SpanHash, &sp.Symbol, &sp.Kind, &sp.StartLine, &sp.EndLine, &sp.ByteStart, &sp.ByteEnd,
		&sliceType, &sliceLang, &confidence, &classifierVersion, &importsJSON, &sp.FilePath, &sp.Lang)
	if err == sql.ErrNoRows {
		return model.Span{}, false, nil
	}
	if err != nil {
		return model.Span{}, false, err
	}

	sp.SliceType = model.SliceOther
	if sliceType.Valid && sliceType.String != "" {
		sp.SliceType = model.SliceType(sliceType.String)
	}
	sp.SliceLanguage = sliceLang.String
	sp.ClassifierConfidence = confidence.Float64
	sp.ClassifierVersion = classifierVersion.String
	if importsJSON.Valid && importsJSON.String != "" {
		_ = json.Unmarshal([]byte(importsJSON.String), &sp.Imports)
	}
	return sp, true, nil
}

// FetchAllEnrichments returns every enrichment row joined with its span's symbol.
func (s *Store) FetchAllEnrichments() ([]model.Enrichment, error) {
	rows, err := s.db.Query(`
		SELECT e.span_hash, s.symbol, e.summary, e.evidence, e.model, e.schema_ver,
		       e.inputs, e.outputs, e.side_effects, e.pitfalls, e.usage_snippet, e.tags
		FROM enrichments AS e JOIN spans AS s ON s.span_hash = e.span_hash
	`)
	if err != nil {
		return nil, err
	}
	return scanEnrichmentRows(rows)
}

// GetEnrichmentsForFileLines returns enrichments for every span in path
// whose line range overlaps [startLine, endLine] — the lookup behind the
// Retrieval Facade's per-result enrichment annotation (span_hash -> line
// overlap -> path, per SPEC_FULL.md's tool_rag_search description).
func (s *Store) GetEnrichmentsForFileLines(path string, startLine, endLine int) ([]model.Enrichment, error) {
	rows, err := s.db.Query(`
		SELECT e.span_hash, s.symbol, e.summary, e.evidence, e.model, e.schema_ver,
		       e.inputs, e.outputs, e.side_effects, e.pitfalls, e.usage_snippet, e.tags
		FROM enrichments AS e
		JOIN spans AS s ON s.span_hash = e.span_hash
		JOIN files AS f ON f.id = s.file_id
		WHERE f.path = ? AND s.start_line <= ? AND s.end_line >= ?
	`, path, endLine, startLine)
	if err != nil {
		return nil, err
	}
	return scanEnrichmentRows(rows)
}

func scanEnrichmentRows(rows *sql.Rows) ([]model.Enrichment, error) {
	defer rows.Close()
	var out []model.Enrichment
	for rows.Next() {
		var e model.Enrichment
		var evidenceJSON, inputsJSON, outputsJSON, sideEffectsJSON, pitfallsJSON, tags sql.NullString
		var symbol string
		if err := rows.Scan(&e.SpanHash, &symbol, &e.Summary, &evidenceJSON, &e.Model, &e.SchemaVersion,
			&inputsJSON, &outputsJSON, &sideEffectsJSON, &pitfallsJSON, &e.UsageSnippet, &tags); err != nil {
			return nil, err
		}
		if evidenceJSON.Valid {
			_ = json.Unmarshal([]byte(evidenceJSON.String), &e.Evidence)
		}
		if inputsJSON.Valid {
			_ = json.Unmarshal([]byte(inputsJSON.String), &e.Inputs)
		}
		if outputsJSON.Valid {
			_ = json.Unmarshal([]byte(outputsJSON.String), &e.Outputs)
		}
		if sideEffectsJSON.Valid {
			_ = json.Unmarshal([]byte(sideEffectsJSON.String), &e.SideEffects)
		}
		if pitfallsJSON.Valid {
			_ = json.Unmarshal([]byte(pitfallsJSON.String), &e.Pitfalls)
		}
		if tags.Valid && tags.String != "" {
			e.Tags = strings.Split(tags.String, ",")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RebuildFTS truncates and repopulates enrichments_fts from source tables.
// It is the only place the FTS projection is written — per the Open
// Question decision recorded in SPEC_FULL.md, it is never refreshed inline
// on a single StoreEnrichment call.
func (s *Store) RebuildFTS() (int, error) {
	if !s.ftsAvailable {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM enrichments_fts"); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`
		INSERT INTO enrichments_fts(rowid, symbol, summary, path, start_line, end_line)
		SELECT e.rowid, s.symbol, e.summary, f.path, s.start_line, s.end_line
		FROM enrichments AS e
		JOIN spans AS s ON s.span_hash = e.span_hash
		JOIN files AS f ON f.id = s.file_id
	`); err != nil {
		return 0, err
	}
	var n int
	if err := tx.QueryRow("SELECT COUNT(*) FROM enrichments_fts").Scan(&n); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// FTSHit is one raw match from SearchFTS, before reranking.
type FTSHit struct {
	Symbol    string
	Summary   string
	Path      string
	StartLine int
	EndLine   int
	Score     float64 // raw bm25, lower is better
}

// SearchFTS runs an FTS5 MATCH query, returning up to limit raw hits ordered
// by bm25 (ascending, i.e. best first).
func (s *Store) SearchFTS(query string, limit int) ([]FTSHit, error) {
	if !s.ftsAvailable {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT symbol, summary, path, start_line, end_line, bm25(enrichments_fts) AS score
		FROM enrichments_fts
		WHERE enrichments_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching fts: %w", err)
	}
	defer rows.Close()

	var out []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.Symbol, &h.Summary, &h.Path, &h.StartLine, &h.EndLine, &h.Score); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
