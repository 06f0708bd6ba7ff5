// Package session implements the lifecycle of one provider's automation session.
//
// States:
//
//	initializing -> ready <-> busy
//	ready|busy -> crashed         (driver reported a crash)
//	ready|busy|crashed -> closed  (explicit reset, idle reap, shutdown)
//
// Closed is terminal for a session instance. The next Initialize call starts a
// new instance with a fresh driver. Only the owning worker calls Acquire and
// Release; Reset may be called from any goroutine and never interrupts an
// interaction that is already running. A reset of a busy session is deferred
// until Release hands the driver back.
package session
