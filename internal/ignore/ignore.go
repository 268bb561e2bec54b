// Package ignore implements the exclusion matcher the Indexer (C4) uses to
// skip paths during discovery: gitignore syntax, a repo-local .ragignore
// file with the same syntax, an environment-provided pattern list, and a
// fixed set of built-in defaults.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPatterns are always excluded, even with no .gitignore/.ragignore
// present.
var DefaultPatterns = []string{".git", ".rag", ".llmc", "node_modules", "dist", "build", "__pycache__", ".venv"}

// pattern is one parsed gitignore-style rule.
type pattern struct {
	raw        string
	negate     bool
	dirOnly    bool
	anchored   bool // contains a '/' other than a trailing one, or starts with '/'
	rooted     bool // starts with '/': matches only relative to the repo root
}

func parsePattern(line string) (pattern, bool) {
	line = strings.TrimRight(line, " ")
	if line == "" || strings.HasPrefix(line, "#") {
		return pattern{}, false
	}
	p := pattern{raw: line}
	if strings.HasPrefix(line, "!") {
		p.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		p.anchored = true
		p.rooted = true
		line = line[1:]
	} else if strings.Contains(line, "/") {
		p.anchored = true
	}
	p.raw = line
	return p, true
}

func (p pattern) matches(relPath string, isDir bool) bool {
	if p.dirOnly && !isDir {
		return false
	}
	if p.anchored {
		ok, _ := filepath.Match(p.raw, relPath)
		if ok || p.rooted {
			return ok
		}
		// A pattern like "src/*.go" (a '/' inside, none leading) also matches
		// nested occurrences of the same relative structure further down the
		// tree; a leading '/' pins the pattern to the repo root instead.
		ok, _ = filepath.Match("**/"+p.raw, relPath)
		return ok
	}
	// Unanchored: match the base name at any depth, or any path segment.
	base := filepath.Base(relPath)
	if ok, _ := filepath.Match(p.raw, base); ok {
		return true
	}
	for _, seg := range strings.Split(relPath, "/") {
		if ok, _ := filepath.Match(p.raw, seg); ok {
			return true
		}
	}
	return false
}

// Matcher decides whether a repo-relative path should be excluded from
// discovery.
type Matcher struct {
	patterns []pattern
}

// Load builds a Matcher from repoRoot's .gitignore and .ragignore (if
// present), envExcludes (a comma-separated pattern list, typically from
// LLMC_RAG_EXCLUDE), and the built-in defaults.
func Load(repoRoot string, envExcludes string) (*Matcher, error) {
	m := &Matcher{}

	for _, d := range DefaultPatterns {
		p, ok := parsePattern(d)
		if ok {
			m.patterns = append(m.patterns, p)
		}
	}

	for _, name := range []string{".gitignore", ".ragignore"} {
		if err := m.loadFile(filepath.Join(repoRoot, name)); err != nil {
			return nil, err
		}
	}

	if envExcludes != "" {
		for _, tok := range strings.Split(envExcludes, ",") {
			tok = strings.TrimSpace(tok)
			if p, ok := parsePattern(tok); ok {
				m.patterns = append(m.patterns, p)
			}
		}
	}

	return m, nil
}

func (m *Matcher) loadFile(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if p, ok := parsePattern(sc.Text()); ok {
			m.patterns = append(m.patterns, p)
		}
	}
	return sc.Err()
}

// Match reports whether relPath (forward-slash separated, relative to the
// repo root) should be excluded. Later patterns override earlier ones, so a
// negated pattern ("!keep.me") can re-include something an earlier rule
// excluded, as in gitignore semantics.
func (m *Matcher) Match(relPath string, isDir bool) bool {
	relPath = filepath.ToSlash(relPath)
	excluded := false
	for _, p := range m.patterns {
		if p.matches(relPath, isDir) {
			excluded = !p.negate
		}
	}
	return excluded
}
