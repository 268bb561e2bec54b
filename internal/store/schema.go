package store

// schemaVersion is the monotonic schema version recorded via PRAGMA
// user_version. Every new version adds an entry here, a DDL delta in
// runVersionedMigrations, and an entry in the column-existence lattice in
// inferSchemaVersion.
const schemaVersion = 3

// schemaDDL is applied verbatim to a brand-new database (no tables at all).
// Legacy databases instead go through inferSchemaVersion + runVersionedMigrations.
const schemaDDL = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS files (
    id INTEGER PRIMARY KEY,
    path TEXT UNIQUE NOT NULL,
    lang TEXT NOT NULL,
    file_hash TEXT NOT NULL,
    size INTEGER NOT NULL,
    mtime REAL NOT NULL,
    sidecar_path TEXT
);

CREATE TABLE IF NOT EXISTS spans (
    id INTEGER PRIMARY KEY,
    file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    symbol TEXT NOT NULL,
    kind TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    byte_start INTEGER NOT NULL,
    byte_end INTEGER NOT NULL,
    span_hash TEXT NOT NULL UNIQUE,
    doc_hint TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    slice_type TEXT,
    slice_language TEXT,
    classifier_confidence REAL,
    classifier_version TEXT,
    imports TEXT
);

CREATE TABLE IF NOT EXISTS embeddings_meta (
    profile TEXT NOT NULL DEFAULT 'default',
    model TEXT NOT NULL,
    dim INTEGER NOT NULL,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (profile, model)
);

CREATE TABLE IF NOT EXISTS embeddings (
    span_hash TEXT PRIMARY KEY REFERENCES spans(span_hash) ON DELETE CASCADE,
    vec BLOB NOT NULL,
    route_name TEXT,
    profile_name TEXT
);

CREATE TABLE IF NOT EXISTS emb_code (
    span_hash TEXT PRIMARY KEY REFERENCES spans(span_hash) ON DELETE CASCADE,
    vec BLOB NOT NULL,
    route_name TEXT,
    profile_name TEXT
);

CREATE TABLE IF NOT EXISTS enrichments (
    span_hash TEXT PRIMARY KEY REFERENCES spans(span_hash) ON DELETE CASCADE,
    summary TEXT,
    tags TEXT,
    evidence TEXT,
    model TEXT,
    created_at DATETIME,
    schema_ver TEXT,
    inputs TEXT,
    outputs TEXT,
    side_effects TEXT,
    pitfalls TEXT,
    usage_snippet TEXT,
    content_type TEXT,
    content_language TEXT,
    content_type_confidence REAL,
    content_type_source TEXT,
    tokens_per_second REAL,
    eval_count INTEGER,
    eval_duration_ns INTEGER,
    prompt_eval_count INTEGER,
    total_duration_ns INTEGER,
    backend_host TEXT
);

CREATE TABLE IF NOT EXISTS file_descriptions (
    id INTEGER PRIMARY KEY,
    file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    file_path TEXT UNIQUE NOT NULL,
    description TEXT,
    source TEXT,
    updated_at DATETIME,
    content_hash TEXT,
    input_hash TEXT
);

CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);
CREATE INDEX IF NOT EXISTS idx_spans_file_id ON spans(file_id);
CREATE INDEX IF NOT EXISTS idx_spans_span_hash ON spans(span_hash);
CREATE INDEX IF NOT EXISTS idx_file_descriptions_file_path ON file_descriptions(file_path);
CREATE INDEX IF NOT EXISTS idx_file_descriptions_input_hash ON file_descriptions(input_hash);
`

// alterSpec is one idempotent ALTER TABLE step in a versioned migration.
type alterSpec struct {
	table  string
	column string
	ctype  string
}

// migrationsByVersion maps "upgrade to version N" to the ALTERs it requires.
// Version 1 is the baseline (files/spans/enrichments/embeddings with no
// slice_type/route_name/perf columns) — the shape a pre-gating legacy
// database would have.
var migrationsByVersion = map[int][]alterSpec{
	2: {
		{"spans", "slice_type", "TEXT"},
		{"spans", "slice_language", "TEXT"},
		{"spans", "classifier_confidence", "REAL"},
		{"spans", "classifier_version", "TEXT"},
		{"embeddings", "route_name", "TEXT"},
		{"embeddings", "profile_name", "TEXT"},
		{"enrichments", "content_type", "TEXT"},
		{"enrichments", "content_language", "TEXT"},
		{"enrichments", "content_type_confidence", "REAL"},
		{"enrichments", "content_type_source", "TEXT"},
	},
	3: {
		{"enrichments", "tokens_per_second", "REAL"},
		{"enrichments", "eval_count", "INTEGER"},
		{"enrichments", "eval_duration_ns", "INTEGER"},
		{"enrichments", "prompt_eval_count", "INTEGER"},
		{"enrichments", "total_duration_ns", "INTEGER"},
		{"enrichments", "backend_host", "TEXT"},
		{"files", "sidecar_path", "TEXT"},
		{"spans", "imports", "TEXT"},
	},
}

const ftsDDL = `
CREATE VIRTUAL TABLE IF NOT EXISTS enrichments_fts
USING fts5(
    symbol,
    summary,
    path,
    start_line,
    end_line,
    tokenize='unicode61'
)
`
