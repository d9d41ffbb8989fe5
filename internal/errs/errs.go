// Package errs defines the failure taxonomy shared by the adaptive core.
// Components wrap these sentinels with fmt.Errorf("...: %w", ...) so callers
// can classify failures with errors.Is without depending on error strings.
package errs

import "errors"

var (
	// ErrGated signals the safety gate is open for the entity. Expected,
	// user-visible, and non-retryable until the cooldown elapses.
	ErrGated = errors.New("automated actions temporarily suspended")

	// ErrNotFound signals an operation required pre-existing state that
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidScenario signals malformed input, rejected before any
	// state mutation.
	ErrInvalidScenario = errors.New("invalid scenario")

	// ErrComputationTimeout signals the external pricing function exceeded
	// its deadline. Counted as a gate failure by the decision service.
	ErrComputationTimeout = errors.New("pricing computation timed out")

	// ErrTransient signals a persistence-layer hiccup that is safe to
	// retry with backoff.
	ErrTransient = errors.New("transient storage failure")
)
