package router

import "errors"

// Router-level errors reported back to senders as ERROR envelopes.
var (
	ErrMalformedEnvelope = errors.New("invalid message format")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)
