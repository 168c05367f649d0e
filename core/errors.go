package core

import "errors"

var (
	// ErrMalformedEvent marks an event missing a field a rule needs.
	// It is recovered locally and only surfaces through skip counters.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrGenerationFailure wraps any failure at the text-generation boundary
	ErrGenerationFailure = errors.New("text generation failed")

	// ErrOutOfOrder is returned when a timestamp precedes the latest one seen for a key
	ErrOutOfOrder = errors.New("timestamp out of order")
)
