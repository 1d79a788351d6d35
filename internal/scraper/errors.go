package scraper

import "errors"

// Error taxonomy for acquisition failures. Entity-level errors are caught at
// the orchestrator's per-entity boundary and recorded; ErrSessionWarmup is
// fatal for the whole run. "No data available" is not represented here at
// all: it is a valid empty Success.
var (
	ErrTransportTimeout    = errors.New("transport timeout")
	ErrTransportError      = errors.New("transport error")
	ErrChallengeUnresolved = errors.New("challenge unresolved")
	ErrParseMismatch       = errors.New("expected page structure absent")
	ErrSessionWarmup       = errors.New("session warmup failed")
)

// ErrRunNotFound is returned by session stores for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// EntityLevel reports whether err should be swallowed at the per-entity
// boundary rather than failing the stage.
func EntityLevel(err error) bool {
	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportError),
		errors.Is(err, ErrChallengeUnresolved),
		errors.Is(err, ErrParseMismatch):
		return true
	default:
		return false
	}
}
