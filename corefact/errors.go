package corefact

import "errors"

var (
	errEmptySegment = errors.New("segment is empty")
	errSegmentSpace = errors.New("segment has surrounding whitespace")
	errSegmentDot   = errors.New("segment contains a dot")

	// ErrConflict is returned by a Backend when an optimistic transaction
	// kept losing to concurrent writers.
	ErrConflict = errors.New("corefact: concurrent modification")
)
