// Package workqueue implements the cross-repo global Work Queue (C3): a
// single SQLite database shared by every repo's enrichment cascade, with
// atomic claim/complete/fail semantics, tier escalation, orphan recovery,
// and a best-effort FIFO wake-up notification.
package workqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/llmc-dev/codeindex/internal/model"
)

// ErrOwnership is returned by CompleteWork/FailWork when the caller does not
// currently hold the claim on the item.
var ErrOwnership = errors.New("workqueue: worker does not own this item")

// ErrDuplicate is returned by PushWork when (repo_path, span_hash) is
// already queued.
var ErrDuplicate = errors.New("workqueue: item already queued")

const schemaDDL = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS pending_enrichments (
    id INTEGER PRIMARY KEY,
    repo_path TEXT NOT NULL,
    span_hash TEXT NOT NULL,
    file_path TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    claimed_by TEXT,
    claimed_at DATETIME,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    escalation_tier INTEGER NOT NULL DEFAULT 0,
    UNIQUE(repo_path, span_hash)
);

CREATE TABLE IF NOT EXISTS permanent_failures (
    id INTEGER PRIMARY KEY,
    repo_path TEXT NOT NULL,
    span_hash TEXT NOT NULL,
    file_path TEXT NOT NULL,
    reason TEXT,
    attempts INTEGER NOT NULL,
    escalation_tier INTEGER NOT NULL,
    failed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pending_unclaimed
    ON pending_enrichments(priority, created_at) WHERE claimed_by IS NULL;
CREATE INDEX IF NOT EXISTS idx_pending_tier
    ON pending_enrichments(escalation_tier) WHERE claimed_by IS NULL;
`

// Queue is the global cross-repo Work Queue.
type Queue struct {
	db *sql.DB
}

// Open opens (creating if absent) the work queue database at path.
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening work queue: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing work queue schema: %w", err)
	}
	return &Queue{db: db}, nil
}

// Close closes the underlying database connection.
func (q *Queue) Close() error {
	return q.db.Close()
}

// extensionPriority mirrors work_queue.py's calculate_priority: lower number
// means higher priority. Code gets the lowest (best) bucket, docs the
// highest (worst), everything else in between.
var extensionPriority = map[string]int{
	".go": 3, ".py": 3, ".ts": 3, ".tsx": 3, ".js": 3, ".jsx": 3,
	".rs": 3, ".c": 3, ".cpp": 3, ".h": 3, ".java": 3,
	".md": 7, ".rst": 7, ".txt": 7,
}

// CalculatePriority returns the push-time priority for filePath, used as the
// default when the caller does not supply an explicit priority. Lower
// number means higher priority.
func CalculatePriority(filePath string) int {
	ext := strings.ToLower(filepath.Ext(filePath))
	if p, ok := extensionPriority[ext]; ok {
		return p
	}
	return 5
}

// PushWork enqueues one item. Returns ErrDuplicate (not a hard error) if
// (repoPath, spanHash) is already queued — matching push_work's
// IntegrityError -> False contract.
func (q *Queue) PushWork(ctx context.Context, repoPath, spanHash, filePath string, priority int) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO pending_enrichments(repo_path, span_hash, file_path, priority)
		VALUES (?, ?, ?, ?)
	`, repoPath, spanHash, filePath, priority)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return ErrDuplicate
		}
		return fmt.Errorf("pushing work item %s/%s: %w", repoPath, spanHash, err)
	}
	return nil
}

func scanWorkItem(rows *sql.Rows) (model.WorkItem, error) {
	var w model.WorkItem
	var claimedBy, lastError sql.NullString
	var claimedAt sql.NullTime
	err := rows.Scan(&w.ID, &w.RepoPath, &w.SpanHash, &w.FilePath, &w.Priority, &w.CreatedAt,
		&claimedBy, &claimedAt, &w.Attempts, &lastError, &w.EscalationTier)
	w.ClaimedBy = claimedBy.String
	w.ClaimedAt = claimedAt.Time
	w.LastError = lastError.String
	return w, err
}

const workItemCols = `id, repo_path, span_hash, file_path, priority, created_at, claimed_by, claimed_at, attempts, last_error, escalation_tier`

// PullWork atomically claims up to n unclaimed items AT tier for workerID,
// via UPDATE...RETURNING so two workers can never claim the same row.
// escalation_tier must match exactly (work_queue.py's pull_work filters
// `escalation_tier = tier`, not `<=`): a tier-0 worker must never pick up
// an item that has already escalated to a slower/bigger backend's tier, or
// escalation stops meaning anything. SQLite's RETURNING does not preserve
// ORDER BY, so the claimed batch is re-sorted client-side by (priority asc,
// created_at asc) exactly as work_queue.py's pull_work does after the
// atomic claim. Lower priority number means higher priority (code runs
// ahead of docs).
func (q *Queue) PullWork(ctx context.Context, workerID string, tier, n int) ([]model.WorkItem, error) {
	candidateRows, err := q.db.QueryContext(ctx, `
		SELECT id FROM pending_enrichments
		WHERE claimed_by IS NULL AND escalation_tier = ?
		ORDER BY priority ASC, created_at ASC
		LIMIT ?
	`, tier, n)
	if err != nil {
		return nil, fmt.Errorf("selecting pull candidates: %w", err)
	}
	var ids []int64
	for candidateRows.Next() {
		var id int64
		if err := candidateRows.Scan(&id); err != nil {
			candidateRows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	candidateRows.Close()
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, workerID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := q.db.QueryContext(ctx, fmt.Sprintf(`
		UPDATE pending_enrichments
		SET claimed_by = ?, claimed_at = CURRENT_TIMESTAMP
		WHERE id IN (%s) AND claimed_by IS NULL
		RETURNING %s
	`, placeholders, workItemCols), args...)
	if err != nil {
		return nil, fmt.Errorf("claiming work items: %w", err)
	}
	defer rows.Close()

	var out []model.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CompleteWork removes a successfully processed item. Fails with
// ErrOwnership if workerID does not currently hold the claim.
func (q *Queue) CompleteWork(ctx context.Context, itemID int64, workerID string) error {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM pending_enrichments WHERE id = ? AND claimed_by = ?
	`, itemID, workerID)
	if err != nil {
		return fmt.Errorf("completing work item %d: %w", itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("item %d not claimed by %s: %w", itemID, workerID, ErrOwnership)
	}
	return nil
}

// FailWork records a failure against itemID, applying work_queue.py's exact
// three-way tier-escalation branch:
//
//  1. At max_tier and this failure reaches attempts_per_tier: move to
//     permanent_failures and remove from the queue.
//  2. Below max_tier and this failure reaches attempts_per_tier: escalate to
//     the next tier and reset attempts to 0 (still in the queue).
//  3. Otherwise: stay at the current tier, attempts += 1 (still in the
//     queue).
func (q *Queue) FailWork(ctx context.Context, itemID int64, workerID, reason string, attemptsPerTier, maxTier int) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var repoPath, spanHash, filePath string
	var attempts, tier int
	err = tx.QueryRowContext(ctx, `
		SELECT repo_path, span_hash, file_path, attempts, escalation_tier
		FROM pending_enrichments WHERE id = ? AND claimed_by = ?
	`, itemID, workerID).Scan(&repoPath, &spanHash, &filePath, &attempts, &tier)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("item %d not claimed by %s: %w", itemID, workerID, ErrOwnership)
	}
	if err != nil {
		return fmt.Errorf("loading work item %d: %w", itemID, err)
	}

	shouldEscalate := (attempts + 1) >= attemptsPerTier

	switch {
	case tier >= maxTier && shouldEscalate:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO permanent_failures(repo_path, span_hash, file_path, reason, attempts, escalation_tier)
			VALUES (?, ?, ?, ?, ?, ?)
		`, repoPath, spanHash, filePath, reason, attempts+1, tier); err != nil {
			return fmt.Errorf("recording permanent failure for item %d: %w", itemID, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM pending_enrichments WHERE id = ?", itemID); err != nil {
			return err
		}
		slog.Warn("workqueue: item exhausted all tiers, moved to permanent_failures", "repo", repoPath, "span_hash", spanHash, "reason", reason)

	case shouldEscalate:
		if _, err := tx.ExecContext(ctx, `
			UPDATE pending_enrichments
			SET escalation_tier = escalation_tier + 1, attempts = 0, claimed_by = NULL, claimed_at = NULL, last_error = ?
			WHERE id = ?
		`, reason, itemID); err != nil {
			return fmt.Errorf("escalating item %d: %w", itemID, err)
		}
		slog.Info("workqueue: item escalated to next tier", "repo", repoPath, "span_hash", spanHash, "new_tier", tier+1)

	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE pending_enrichments
			SET attempts = attempts + 1, claimed_by = NULL, claimed_at = NULL, last_error = ?
			WHERE id = ?
		`, reason, itemID); err != nil {
			return fmt.Errorf("recording retry for item %d: %w", itemID, err)
		}
	}

	return tx.Commit()
}

// HeartbeatItems extends the claimed_at timestamp for items still being
// actively worked, so OrphanRecovery does not reclaim them mid-flight.
func (q *Queue) HeartbeatItems(ctx context.Context, itemIDs []int64, workerID string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(itemIDs)), ",")
	args := make([]any, 0, len(itemIDs)+1)
	args = append(args, workerID)
	for _, id := range itemIDs {
		args = append(args, id)
	}
	_, err := q.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE pending_enrichments SET claimed_at = CURRENT_TIMESTAMP
		WHERE claimed_by = ? AND id IN (%s)
	`, placeholders), args...)
	return err
}

// OrphanRecovery releases claims held longer than timeoutSeconds, so a
// crashed worker's items become claimable again.
func (q *Queue) OrphanRecovery(ctx context.Context, timeoutSeconds int) (int64, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(timeoutSeconds) * time.Second)
	res, err := q.db.ExecContext(ctx, `
		UPDATE pending_enrichments
		SET claimed_by = NULL, claimed_at = NULL
		WHERE claimed_by IS NOT NULL AND claimed_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recovering orphaned claims: %w", err)
	}
	n, err := res.RowsAffected()
	if n > 0 {
		slog.Info("workqueue: recovered orphaned claims", "count", n, "timeout_seconds", timeoutSeconds)
	}
	return n, err
}

// CleanupMissingRepos removes queued items whose repo_path is not in
// existingRepos, used when a repo is deleted or moved.
func (q *Queue) CleanupMissingRepos(ctx context.Context, existingRepos []string) (int64, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT DISTINCT repo_path FROM pending_enrichments")
	if err != nil {
		return 0, err
	}
	existing := map[string]bool{}
	for _, r := range existingRepos {
		existing[r] = true
	}
	var stale []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			rows.Close()
			return 0, err
		}
		if !existing[r] {
			stale = append(stale, r)
		}
	}
	rows.Close()
	if len(stale) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(stale)), ",")
	args := make([]any, len(stale))
	for i, r := range stale {
		args[i] = r
	}
	res, err := q.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM pending_enrichments WHERE repo_path IN (%s)", placeholders), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats summarizes queue depth: unclaimed, claimed, permanent failures, and
// queued items per escalation tier.
type Stats struct {
	Pending           int64
	Claimed           int64
	PermanentFailures int64
	ByTier            map[int]int64
}

// QueueStats returns current queue depth broken down by claim state and tier.
func (q *Queue) QueueStats(ctx context.Context) (Stats, error) {
	var s Stats
	s.ByTier = map[int]int64{}

	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_enrichments WHERE claimed_by IS NULL").Scan(&s.Pending); err != nil {
		return s, err
	}
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_enrichments WHERE claimed_by IS NOT NULL").Scan(&s.Claimed); err != nil {
		return s, err
	}
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM permanent_failures").Scan(&s.PermanentFailures); err != nil {
		return s, err
	}

	rows, err := q.db.QueryContext(ctx, "SELECT escalation_tier, COUNT(*) FROM pending_enrichments GROUP BY escalation_tier")
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var tier int
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return s, err
		}
		s.ByTier[tier] = n
	}
	return s, rows.Err()
}

// Clear removes every queued item; permanent failures are kept.
func (q *Queue) Clear(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM pending_enrichments")
	return err
}

// PermanentFailure is one exhausted work item retained for operator review.
type PermanentFailure struct {
	ID             int64
	RepoPath       string
	SpanHash       string
	FilePath       string
	Reason         string
	Attempts       int
	EscalationTier int
	FailedAt       time.Time
}

// ListPermanentFailures returns every exhausted item, most recent first.
func (q *Queue) ListPermanentFailures(ctx context.Context) ([]PermanentFailure, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, repo_path, span_hash, file_path, reason, attempts, escalation_tier, failed_at
		FROM permanent_failures ORDER BY failed_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PermanentFailure
	for rows.Next() {
		var f PermanentFailure
		var reason sql.NullString
		if err := rows.Scan(&f.ID, &f.RepoPath, &f.SpanHash, &f.FilePath, &reason, &f.Attempts, &f.EscalationTier, &f.FailedAt); err != nil {
			return nil, err
		}
		f.Reason = reason.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// ClearPermanentFailures deletes every permanent-failure record, typically
// after an operator has reviewed and manually resolved them.
func (q *Queue) ClearPermanentFailures(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM permanent_failures")
	return err
}

// FeedQueueFromRepos pushes one item per pending span across every repo in
// repoSpans, skipping duplicates silently (ErrDuplicate is not propagated),
// and returns how many were newly enqueued.
func (q *Queue) FeedQueueFromRepos(ctx context.Context, repoSpans map[string][]model.Span) (int, error) {
	pushed := 0
	for repoPath, spans := range repoSpans {
		for _, sp := range spans {
			priority := CalculatePriority(sp.FilePath)
			err := q.PushWork(ctx, repoPath, sp.SpanHash, sp.FilePath, priority)
			if err == nil {
				pushed++
				continue
			}
			if errors.Is(err, ErrDuplicate) {
				continue
			}
			return pushed, err
		}
	}
	return pushed, nil
}
