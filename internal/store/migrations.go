package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// hasColumn reports whether table has a column named col, via PRAGMA
// table_info — the same introspection the column-existence lattice uses to
// infer a legacy schema version when no user_version has been recorded yet.
func hasColumn(db *sql.DB, table, col string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return false, err
	}
	nameIdx := -1
	for i, c := range cols {
		if c == "name" {
			nameIdx = i
		}
	}
	if nameIdx < 0 {
		return false, fmt.Errorf("unexpected PRAGMA table_info columns: %v", cols)
	}

	dest := make([]any, len(cols))
	for i := range dest {
		var v any
		dest[i] = &v
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return false, err
		}
		name, _ := (*dest[nameIdx].(*any)).(string)
		if name == col {
			return true, nil
		}
	}
	return false, rows.Err()
}

// inferSchemaVersion maps column presence to the highest matching historical
// version. This is the column-existence lattice spec 4.1 requires for
// databases that predate the user_version gating (current_version == 0 but
// tables already exist).
func inferSchemaVersion(db *sql.DB) (int, error) {
	if ok, err := hasColumn(db, "spans", "imports"); err != nil {
		return 0, err
	} else if ok {
		return 3, nil
	}
	if ok, err := hasColumn(db, "spans", "slice_type"); err != nil {
		return 0, err
	} else if ok {
		return 2, nil
	}
	return 1, nil
}

// runVersionedMigrations applies only the ALTER TABLE deltas needed to climb
// from `from` to schemaVersion. Every ALTER is guarded: sqlite3 reports
// "duplicate column name" if it has already run, which is swallowed so the
// whole path is idempotent and safely re-runnable.
func runVersionedMigrations(db *sql.DB, from int) error {
	for v := from + 1; v <= schemaVersion; v++ {
		for _, a := range migrationsByVersion[v] {
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", a.table, a.column, a.ctype)
			if _, err := db.Exec(stmt); err != nil {
				if !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
					return fmt.Errorf("migrating to v%d (%s.%s): %w", v, a.table, a.column, err)
				}
			}
		}
	}

	// Table migrations that predate the file_descriptions table entirely.
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS file_descriptions (
		id INTEGER PRIMARY KEY,
		file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		file_path TEXT UNIQUE NOT NULL,
		description TEXT,
		source TEXT,
		updated_at DATETIME,
		content_hash TEXT,
		input_hash TEXT
	)`); err != nil {
		return fmt.Errorf("creating file_descriptions: %w", err)
	}
	if _, err := db.Exec("ALTER TABLE file_descriptions ADD COLUMN input_hash TEXT"); err != nil {
		if !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			return fmt.Errorf("adding file_descriptions.input_hash: %w", err)
		}
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_file_descriptions_file_path ON file_descriptions(file_path)"); err != nil {
		return err
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_file_descriptions_input_hash ON file_descriptions(input_hash)"); err != nil {
		return err
	}
	return nil
}

func shouldRecoverFrom(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "file is not a database") || strings.Contains(msg, "database disk image is malformed")
}

// quarantineCorruptDB renames an unreadable database file aside so a fresh
// one can be created in its place, matching database.py's
// _quarantine_corrupt_db.
func quarantineCorruptDB(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	dest := fmt.Sprintf("%s.corrupt.%d", path, time.Now().Unix())
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("quarantining corrupt database: %w", err)
	}
	slog.Warn("store: quarantined corrupt database", "path", path, "quarantined_to", dest)
	return nil
}

// openAndPrepare opens path, applies schema or migrations as needed, and
// retries once after quarantining a corrupt file.
func openAndPrepare(path string) (*sql.DB, error) {
	for attempt := 1; attempt <= 2; attempt++ {
		db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000&_foreign_keys=on")
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		if err := prepareSchema(db); err != nil {
			db.Close()
			if shouldRecoverFrom(err) && attempt == 1 {
				if qErr := quarantineCorruptDB(path); qErr != nil {
					return nil, qErr
				}
				continue
			}
			return nil, fmt.Errorf("preparing schema: %w", err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("store: %w", ErrCorruptAfterRetry)
}

func prepareSchema(db *sql.DB) error {
	var current int
	if err := db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}

	if current == 0 {
		rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table'")
		if err != nil {
			return err
		}
		var names []string
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				return err
			}
			names = append(names, n)
		}
		rows.Close()

		fresh := true
		for _, n := range names {
			if !strings.HasPrefix(n, "sqlite_") {
				fresh = false
				break
			}
		}

		if fresh {
			if _, err := db.Exec(schemaDDL); err != nil {
				return fmt.Errorf("applying fresh schema: %w", err)
			}
		} else {
			inferred, err := inferSchemaVersion(db)
			if err != nil {
				return err
			}
			if err := runVersionedMigrations(db, inferred); err != nil {
				return err
			}
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return err
		}
		return nil
	}

	if current < schemaVersion {
		if err := runVersionedMigrations(db, current); err != nil {
			return err
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return err
		}
	}
	return nil
}
