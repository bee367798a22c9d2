package types

import "errors"

// Validation errors shared across components.
var (
	ErrInvalidStatus = errors.New("invalid status: must be 'present' or 'absent'")
)
