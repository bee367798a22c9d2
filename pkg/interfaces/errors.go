package interfaces

import "errors"

// Sentinel errors shared across Store implementations and their consumers.
var (
	ErrClassNotFound  = errors.New("class not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrRecordNotFound = errors.New("attendance record not found")
	ErrInvalidToken   = errors.New("unauthorized or invalid token")
)
