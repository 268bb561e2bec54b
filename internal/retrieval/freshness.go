package retrieval

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/llmc-dev/codeindex/internal/model"
)

// RouteDecision is the outcome of the freshness gateway: whether the caller
// should use the RAG (indexed) path, and why.
type RouteDecision struct {
	UseRAG         bool
	FreshnessState model.FreshnessState
	Status         *model.IndexStatus
}

// ComputeRoute implements the freshness gateway policy from the Retrieval
// Facade: no status file means UNKNOWN; a non-fresh index state means
// STALE; a fresh index state needs a matching git HEAD to count as FRESH.
func ComputeRoute(repoRoot, statusPath string) RouteDecision {
	data, err := os.ReadFile(statusPath)
	if err != nil {
		return RouteDecision{UseRAG: false, FreshnessState: model.Unknown}
	}

	var status model.IndexStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return RouteDecision{UseRAG: false, FreshnessState: model.Unknown}
	}

	if status.IndexState != model.StateFresh {
		return RouteDecision{UseRAG: false, FreshnessState: model.Stale, Status: &status}
	}

	head, ok := gitHead(repoRoot)
	if !ok || status.LastIndexedCommit == nil {
		return RouteDecision{UseRAG: false, FreshnessState: model.Unknown, Status: &status}
	}

	if head == *status.LastIndexedCommit {
		return RouteDecision{UseRAG: true, FreshnessState: model.Fresh, Status: &status}
	}
	return RouteDecision{UseRAG: false, FreshnessState: model.Stale, Status: &status}
}

// WriteStatus records the Index Status record after an index/re-index run,
// the write-side counterpart to ComputeRoute. The caller decides whether the
// run counts as fresh; errState, when non-empty, is recorded as the state
// and last_error regardless of the fresh flag.
func WriteStatus(statusPath, repo string, fresh bool, commit string, errState error) error {
	status := model.IndexStatus{
		Repo:          repo,
		LastIndexedAt: time.Now().UTC().Format(time.RFC3339),
		SchemaVersion: "index_status.v1",
	}
	if commit != "" {
		status.LastIndexedCommit = &commit
	}
	switch {
	case errState != nil:
		status.IndexState = model.StateError
		status.LastError = errState.Error()
	case fresh:
		status.IndexState = model.StateFresh
	default:
		status.IndexState = model.StateStale
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(statusPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(statusPath, data, 0o644)
}

// GitHead exposes the current commit hash for repoRoot, for callers (the
// indexing pipeline) that need to stamp an Index Status record.
func GitHead(repoRoot string) (string, bool) {
	return gitHead(repoRoot)
}

// gitHead shells out to `git rev-parse HEAD` rather than linking a full git
// plumbing library — the gateway only ever needs this one read-only query.
func gitHead(repoRoot string) (string, bool) {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = repoRoot
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", false
	}
	return strings.TrimSpace(out.String()), true
}
