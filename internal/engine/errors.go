package engine

import "errors"

// Error taxonomy surfaced to callers. Configuration and reference errors are
// always returned, never silently corrected. "Can't compute yet" conditions
// are represented as data in results, not errors, except where a caller
// explicitly requests a statistic that is undefined.
var (
	ErrInvalidConfig     = errors.New("invalid test configuration")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrUnknownTest       = errors.New("unknown test")
	ErrUnknownVariant    = errors.New("unknown variant")
	ErrInsufficientData  = errors.New("insufficient data")
)
