// Package indexer implements the Indexer (C4): repo-relative file
// discovery, mtime/hash-gated incremental re-indexing, and orchestration of
// the differential span replacement against the Span Store.
package indexer

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/llmc-dev/codeindex/internal/ignore"
	"github.com/llmc-dev/codeindex/internal/model"
	"github.com/llmc-dev/codeindex/internal/store"
)

// Extractor produces spans for one file's content. The concrete language
// parser is out of scope for this engine (spec: the extractor is a
// pluggable contract, not an implementation this package owns); callers
// supply one per language or a single multi-language implementation.
type Extractor interface {
	// Extract returns spans for path given its language and raw bytes. Byte
	// offsets are relative to source; SpanHash is left empty, it is computed
	// by the indexer from (lang, source[ByteStart:ByteEnd]).
	Extract(path, lang string, source []byte) ([]model.Span, error)
}

// LanguageFor maps a repo-relative path to a language tag, or "" if the
// path should not be indexed at all (binary, unsupported extension, ...).
type LanguageFor func(path string) string

// Stats summarizes one Run invocation.
type Stats struct {
	Files     int
	Spans     int
	Skipped   int
	Unchanged int
	Deleted   int
	Duration  time.Duration
}

// Indexer discovers files under a repo root and keeps the Span Store in
// sync with their content.
type Indexer struct {
	RepoRoot    string
	Store       *store.Store
	Extractor   Extractor
	LanguageFor LanguageFor
	EnvExclude  string
	// SpansExportPath, if non-empty, receives one JSON line per (re)indexed
	// span on every Run call — an append-only audit trail mirroring
	// index_repo's spans.jsonl export.
	SpansExportPath string
}

func computeHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func spanHash(lang string, source []byte, byteStart, byteEnd int) string {
	h := sha256.New()
	h.Write([]byte(lang))
	h.Write([]byte{0})
	h.Write(source[byteStart:byteEnd])
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// discoverFiles walks RepoRoot, returning repo-relative slash-separated
// paths not excluded by the ignore matcher.
func (ix *Indexer) discoverFiles() ([]string, error) {
	matcher, err := ignore.Load(ix.RepoRoot, ix.EnvExclude)
	if err != nil {
		return nil, fmt.Errorf("loading ignore rules: %w", err)
	}

	var out []string
	err = filepath.WalkDir(ix.RepoRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(ix.RepoRoot, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if matcher.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", ix.RepoRoot, err)
	}
	return out, nil
}

// Run performs a full or scoped re-index. If paths is non-nil, only those
// repo-relative paths are considered (e.g. from a `git diff` changed-file
// list); otherwise the whole repo is walked.
func (ix *Indexer) Run(paths []string) (Stats, error) {
	start := time.Now()
	var stats Stats

	if paths == nil {
		var err error
		paths, err = ix.discoverFiles()
		if err != nil {
			return stats, err
		}
	}

	var exportWriter *bufio.Writer
	if ix.SpansExportPath != "" {
		if err := os.MkdirAll(filepath.Dir(ix.SpansExportPath), 0o755); err != nil {
			return stats, fmt.Errorf("preparing spans export dir: %w", err)
		}
		f, err := os.OpenFile(ix.SpansExportPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return stats, fmt.Errorf("opening spans export %s: %w", ix.SpansExportPath, err)
		}
		defer f.Close()
		exportWriter = bufio.NewWriter(f)
		defer exportWriter.Flush()
	}

	for _, rel := range paths {
		abs := filepath.Join(ix.RepoRoot, rel)
		info, err := os.Stat(abs)
		if errors.Is(err, os.ErrNotExist) {
			if delErr := ix.Store.DeleteFile(rel); delErr != nil {
				return stats, fmt.Errorf("deleting vanished file %s: %w", rel, delErr)
			}
			stats.Deleted++
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("stat %s: %w", rel, err)
		}
		if info.IsDir() {
			continue
		}

		lang := ""
		if ix.LanguageFor != nil {
			lang = ix.LanguageFor(rel)
		}
		if lang == "" {
			stats.Skipped++
			continue
		}

		mtime := float64(info.ModTime().UnixNano()) / 1e9
		cachedMTime, cachedSize, metaOK, err := ix.Store.GetFileMeta(rel)
		if err != nil {
			return stats, fmt.Errorf("checking cached file meta for %s: %w", rel, err)
		}
		if metaOK && cachedMTime == mtime && cachedSize == info.Size() {
			stats.Unchanged++
			continue
		}

		source, err := os.ReadFile(abs)
		if err != nil {
			return stats, fmt.Errorf("reading %s: %w", rel, err)
		}

		newHash := computeHash(source)
		existingHash, ok, err := ix.Store.GetFileHash(rel)
		if err != nil {
			return stats, fmt.Errorf("checking existing hash for %s: %w", rel, err)
		}
		if ok && existingHash == newHash {
			stats.Unchanged++
			continue
		}

		spans, err := ix.Extractor.Extract(rel, lang, source)
		if err != nil {
			return stats, fmt.Errorf("extracting spans from %s: %w", rel, err)
		}
		for i := range spans {
			spans[i].FilePath = rel
			spans[i].Lang = lang
			if spans[i].SpanHash == "" {
				spans[i].SpanHash = spanHash(lang, source, spans[i].ByteStart, spans[i].ByteEnd)
			}
		}

		fileID, err := ix.Store.UpsertFile(model.File{
			Path:     rel,
			Lang:     lang,
			FileHash: newHash,
			Size:     info.Size(),
			MTime:    mtime,
		})
		if err != nil {
			return stats, fmt.Errorf("upserting file %s: %w", rel, err)
		}

		if err := ix.Store.ReplaceSpans(fileID, spans); err != nil {
			if errors.Is(err, store.ErrEmptySpansGuard) {
				slog.Warn("indexer: extractor returned zero spans, existing spans preserved", "path", rel)
			} else {
				return stats, fmt.Errorf("replacing spans for %s: %w", rel, err)
			}
		}

		if exportWriter != nil {
			for _, sp := range spans {
				line, err := json.Marshal(map[string]any{
					"file":       rel,
					"lang":       lang,
					"symbol":     sp.Symbol,
					"kind":       sp.Kind,
					"start_line": sp.StartLine,
					"end_line":   sp.EndLine,
					"span_hash":  sp.SpanHash,
				})
				if err != nil {
					return stats, err
				}
				if _, err := exportWriter.Write(append(line, '\n')); err != nil {
					return stats, err
				}
			}
		}

		stats.Files++
		stats.Spans += len(spans)
	}

	stats.Duration = time.Since(start)
	return stats, nil
}
