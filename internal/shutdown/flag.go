// Package shutdown provides the coarse cancellation token shared by every
// long-running broker worker. It is intentionally simpler than a
// context.Context: every worker polls it at a bounded-timeout suspension
// point rather than selecting on a Done channel, matching the
// condition-variable-broadcast shutdown the broker's queue uses.
package shutdown

import "sync/atomic"

// Flag is a settable/unsettable boolean readable without locking. Its only
// writers are the supervisor: Set on shutdown, Unset on a subsequent clean
// restart.
type Flag struct {
	set atomic.Bool
}

// IsSet reports whether shutdown has been requested.
func (f *Flag) IsSet() bool {
	return f.set.Load()
}

// Set requests shutdown. Idempotent.
func (f *Flag) Set() {
	f.set.Store(true)
}

// Unset clears a previously set flag, permitting a restart. Only safe to
// call once every worker observing the old value has exited.
func (f *Flag) Unset() {
	f.set.Store(false)
}
