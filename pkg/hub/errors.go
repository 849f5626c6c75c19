package hub

import "errors"

// Lifecycle and transport errors surfaced to callers. Ingestion-path
// failures are never raised through these; they are logged and the offending
// frame or subscriber is skipped.
var (
	// ErrAlreadyStarted reports a second Start without an intervening Stop.
	ErrAlreadyStarted = errors.New("hub already started")
	// ErrNotStarted reports Stop (or an operation needing a running hub)
	// before Start.
	ErrNotStarted = errors.New("hub not started")
	// ErrPortExhausted reports that no loopback port could be bound.
	ErrPortExhausted = errors.New("no loopback port available")
	// ErrCommandTimeout reports a correlated command wait that hit its
	// deadline before a matching response event arrived.
	ErrCommandTimeout = errors.New("command timed out")
)
