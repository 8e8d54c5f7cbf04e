package store

import "errors"

// ErrEmptyResult is returned by single-row lookups when the row is absent,
// letting callers drive "create if missing" paths without inspecting a
// generic sql.ErrNoRows.
var ErrEmptyResult = errors.New("store: empty result")

// ErrPersistence wraps unexpected database failures not covered by a more
// specific sentinel.
var ErrPersistence = errors.New("store: persistence failure")
