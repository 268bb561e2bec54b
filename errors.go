package codeindex

import "errors"

var (
	// ErrInvalidConfig is returned for invalid or missing configuration.
	ErrInvalidConfig = errors.New("codeindex: invalid configuration")

	// ErrCorrupt is returned when a database file is unreadable and recovery
	// (quarantine + retry) has already been attempted once.
	ErrCorrupt = errors.New("codeindex: database file corrupt")

	// ErrEmptySpans wraps store.ErrEmptySpansGuard if that error reaches
	// Index. The indexer itself logs a zero-span extraction for a file that
	// previously had spans as a warning and keeps the existing spans, so an
	// indexing run does not return it.
	ErrEmptySpans = errors.New("codeindex: extractor returned zero spans")
)
