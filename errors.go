package transvec

import "errors"

// Sentinel errors surfaced by ExecuteTransaction and GetResult, mirroring the
// package-level error vars in the teacher's transaction.go/errors.go style.
var (
	// ErrOutOfBounds is returned when a read or write targets an index that
	// is at or beyond the current size at install time (§7, Bounds violation).
	ErrOutOfBounds = errors.New("transvec: index out of bounds")
	// ErrPopEmpty is returned when popBack observes size zero (§7, Pop on empty).
	ErrPopEmpty = errors.New("transvec: popBack on empty vector")
	// ErrSizeOverflow is returned when pushBack would overflow the size
	// counter (§7, Size overflow).
	ErrSizeOverflow = errors.New("transvec: size overflow")
	// ErrUnsetForwarded is returned when a read would forward a value an
	// earlier operation in the same transaction wrote as UNSET (§7, Internal
	// UNSET propagation).
	ErrUnsetForwarded = errors.New("transvec: read forwarded an unset value")
	// ErrHelperTimeout marks a descriptor a helper force-aborted after it
	// stalled past HelpSpinLimit retries (§7, Helper-initiated timeout).
	ErrHelperTimeout = errors.New("transvec: aborted by helper after stall timeout")
	// ErrNotTerminal is returned by GetResult when the transaction has not
	// yet reached a terminal status.
	ErrNotTerminal = errors.New("transvec: transaction has not committed or aborted yet")
	// ErrAborted is returned by GetResult for an operation belonging to an
	// aborted transaction whose abort cause is not recorded; otherwise
	// GetResult returns that cause.
	ErrAborted = errors.New("transvec: transaction aborted")
)
