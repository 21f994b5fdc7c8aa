package snapshot

import "context"

// Provider produces snapshots on demand. Implementations must be
// partial-failure tolerant: when an individual sub-collector fails, the
// corresponding section is returned with OK=false and the call still
// succeeds. The returned error is reserved for total failure (the provider
// could not produce a snapshot at all), which callers should treat as a
// skipped cycle, never as fatal.
type Provider interface {
	// Snapshot captures current host state.
	Snapshot(ctx context.Context) (*Snapshot, error)

	// SessionCount returns the number of active login sessions. It is
	// polled far more often than Snapshot, so implementations should keep
	// it cheap.
	SessionCount(ctx context.Context) (int, error)

	// NewestSession returns the most recently started session, used as the
	// identity of a login event when the session count increases. ok=false
	// means no session information is available.
	NewestSession(ctx context.Context) (Session, bool, error)
}
