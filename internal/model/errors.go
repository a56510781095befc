package model

import "errors"

var (
	// ErrDuplicate is returned when a unique key (feed URL, keyword text,
	// news link) already exists. Callers treat it as a benign no-op.
	ErrDuplicate = errors.New("resource already exists")
	ErrNotFound  = errors.New("resource not found")
)
