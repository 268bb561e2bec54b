// Package graphstore implements the Graph Store (C2): a SQLite-backed
// symbol/file graph that answers neighbor queries with single indexed
// lookups rather than in-memory traversal, the same shape the JSON-artifact
// fallback in internal/retrieval approximates with a BFS.
package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/llmc-dev/codeindex/internal/model"
)

const schemaDDL = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS graph_nodes (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    path TEXT NOT NULL,
    kind TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    metadata TEXT
);

CREATE TABLE IF NOT EXISTS graph_edges (
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    label TEXT NOT NULL,
    PRIMARY KEY (source_id, target_id, label)
);

CREATE TABLE IF NOT EXISTS graph_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_graph_nodes_path ON graph_nodes(path);
CREATE INDEX IF NOT EXISTS idx_graph_edges_source ON graph_edges(source_id);
CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges(target_id);
`

// Store is the Graph Store: symbol/file nodes and labeled edges.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the graph database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening graph store: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing graph schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceGraph atomically replaces every node and edge, used when the
// schema/graph builder (C10) produces a fresh snapshot from spans.
func (s *Store) ReplaceGraph(ctx context.Context, nodes []model.GraphNode, edges []model.GraphEdge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM graph_edges"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM graph_nodes"); err != nil {
		return err
	}

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO graph_nodes(id, name, path, kind, start_line, end_line, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer nodeStmt.Close()

	for _, n := range nodes {
		var metaJSON any
		if len(n.Metadata) > 0 {
			b, err := json.Marshal(n.Metadata)
			if err != nil {
				return fmt.Errorf("marshaling metadata for node %s: %w", n.ID, err)
			}
			metaJSON = string(b)
		}
		if _, err := nodeStmt.ExecContext(ctx, n.ID, n.Name, n.Path, n.Kind, n.StartLine, n.EndLine, metaJSON); err != nil {
			return fmt.Errorf("inserting node %s: %w", n.ID, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO graph_edges(source_id, target_id, label) VALUES (?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer edgeStmt.Close()

	for _, e := range edges {
		// Targets may be dangling by design (spec: no matching node is not an
		// error); the edge is kept so downstream stitching can still surface it.
		if _, err := edgeStmt.ExecContext(ctx, e.SourceID, e.TargetID, string(e.Label)); err != nil {
			return fmt.Errorf("inserting edge %s->%s: %w", e.SourceID, e.TargetID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO graph_meta(key, value) VALUES ('node_count', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, fmt.Sprintf("%d", len(nodes))); err != nil {
		return err
	}

	return tx.Commit()
}

func scanNodes(rows *sql.Rows) ([]model.GraphNode, error) {
	defer rows.Close()
	var out []model.GraphNode
	for rows.Next() {
		var n model.GraphNode
		var metaJSON sql.NullString
		if err := rows.Scan(&n.ID, &n.Name, &n.Path, &n.Kind, &n.StartLine, &n.EndLine, &metaJSON); err != nil {
			return nil, err
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &n.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata for node %s: %w", n.ID, err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// GetNode returns the node for id, or (zero, false) if absent.
func (s *Store) GetNode(ctx context.Context, id string) (model.GraphNode, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, path, kind, start_line, end_line, metadata
		FROM graph_nodes WHERE id = ?
	`, id)
	if err != nil {
		return model.GraphNode{}, false, err
	}
	nodes, err := scanNodes(rows)
	if err != nil {
		return model.GraphNode{}, false, err
	}
	if len(nodes) == 0 {
		return model.GraphNode{}, false, nil
	}
	return nodes[0], true, nil
}

// OutgoingNeighbors returns nodes reachable from id via a single hop, via one
// indexed join rather than an in-memory traversal.
func (s *Store) OutgoingNeighbors(ctx context.Context, id string) ([]model.GraphNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.name, n.path, n.kind, n.start_line, n.end_line, n.metadata
		FROM graph_edges AS e
		JOIN graph_nodes AS n ON n.id = e.target_id
		WHERE e.source_id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying outgoing neighbors of %s: %w", id, err)
	}
	return scanNodes(rows)
}

// IncomingNeighbors returns nodes with an edge pointing at id.
func (s *Store) IncomingNeighbors(ctx context.Context, id string) ([]model.GraphNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.name, n.path, n.kind, n.start_line, n.end_line, n.metadata
		FROM graph_edges AS e
		JOIN graph_nodes AS n ON n.id = e.source_id
		WHERE e.target_id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying incoming neighbors of %s: %w", id, err)
	}
	return scanNodes(rows)
}

// FileNeighbors returns every node whose path differs from path but that
// shares an edge (in either direction) with some node defined in path —
// the "files that touch this file" query behind where-used/lineage.
func (s *Store) FileNeighbors(ctx context.Context, path string) ([]model.GraphNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT n2.id, n2.name, n2.path, n2.kind, n2.start_line, n2.end_line, n2.metadata
		FROM graph_nodes AS n1
		JOIN graph_edges AS e ON e.source_id = n1.id OR e.target_id = n1.id
		JOIN graph_nodes AS n2 ON n2.id = (CASE WHEN e.source_id = n1.id THEN e.target_id ELSE e.source_id END)
		WHERE n1.path = ? AND n2.path != ?
	`, path, path)
	if err != nil {
		return nil, fmt.Errorf("querying file neighbors of %s: %w", path, err)
	}
	return scanNodes(rows)
}

// FindNodesByName resolves a bare symbol name to candidate nodes: an exact
// id match, an exact name match, or a suffix match after the last '.' or
// ':' in the node id (so "Run" matches "sym:pkg.Worker.Run").
func (s *Store) FindNodesByName(ctx context.Context, symbol string) ([]model.GraphNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, path, kind, start_line, end_line, metadata
		FROM graph_nodes
		WHERE id = ? OR name = ? OR id LIKE '%.' || ? OR id LIKE '%:' || ?
	`, symbol, symbol, symbol, symbol)
	if err != nil {
		return nil, fmt.Errorf("resolving symbol %q: %w", symbol, err)
	}
	return scanNodes(rows)
}

// EdgesForNode returns every edge touching id, for callers that need the
// edge label (e.g. CALLS vs IMPORTS) rather than just the neighbor set.
func (s *Store) EdgesForNode(ctx context.Context, id string) ([]model.GraphEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, label FROM graph_edges
		WHERE source_id = ? OR target_id = ?
	`, id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GraphEdge
	for rows.Next() {
		var e model.GraphEdge
		var label string
		if err := rows.Scan(&e.SourceID, &e.TargetID, &label); err != nil {
			return nil, err
		}
		e.Label = model.EdgeLabel(label)
		out = append(out, e)
	}
	return out, rows.Err()
}

// NodeCount returns the number of persisted nodes.
func (s *Store) NodeCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM graph_nodes").Scan(&n)
	return n, err
}

// BuiltAt returns the wall-clock timestamp the graph snapshot was produced
// at, as recorded by MarkBuilt.
func (s *Store) BuiltAt(ctx context.Context) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM graph_meta WHERE key = 'built_at'").Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// MarkBuilt records the wall-clock timestamp (as an opaque string, typically
// RFC3339, supplied by the caller since this package must not call time.Now
// to stay testable with injected clocks) the graph snapshot was produced at,
// alongside spanDBMTime — the span store's max(file mtime) at build time,
// the baseline IsStale compares future span-store state against.
func (s *Store) MarkBuilt(ctx context.Context, at string, spanDBMTime float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_meta(key, value) VALUES ('built_at', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, at)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO graph_meta(key, value) VALUES ('span_db_mtime', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, fmt.Sprintf("%f", spanDBMTime))
	return err
}

// IsStale reports whether the span store has files newer than the snapshot
// the graph was last built from, by comparing currentMaxFileMTime (the span
// store's current max(file mtime)) against the span_db_mtime stamped by
// MarkBuilt. A graph that has never been built is considered stale.
func (s *Store) IsStale(ctx context.Context, currentMaxFileMTime float64) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM graph_meta WHERE key = 'span_db_mtime'").Scan(&raw)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	var builtMTime float64
	if _, err := fmt.Sscanf(raw, "%f", &builtMTime); err != nil {
		return false, fmt.Errorf("parsing stored span_db_mtime %q: %w", raw, err)
	}
	return currentMaxFileMTime > builtMTime, nil
}
