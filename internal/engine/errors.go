package engine

import "errors"

var (
	// ErrConfiguration marks a required external attribute as missing or
	// invalid (a variant without issue_count). The affected line item is
	// skipped; siblings proceed.
	ErrConfiguration = errors.New("engine: missing or invalid configuration")

	// ErrNotFound marks a referenced entity absent at processing time.
	ErrNotFound = errors.New("engine: not found")
)
