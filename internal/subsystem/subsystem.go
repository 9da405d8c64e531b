// Package subsystem provides the shared Start/Stop lifecycle contract for
// Hive components that have a running state; the pane transport embeds it.
// It exists so the atomic "am I running" state machine and its sentinel
// errors are defined once instead of once per component.
package subsystem

import (
	"errors"

	"go.uber.org/atomic"
)

// Sentinel errors shared by every component built on top of Base. Callers
// should compare against these with errors.Is rather than string matching.
var (
	ErrNil            = errors.New("subsystem: nil receiver")
	ErrNilPointer     = errors.New("subsystem: nil pointer passed to constructor")
	ErrAlreadyStarted = errors.New("subsystem: already started")
	ErrNotStarted     = errors.New("subsystem: not started")
)

// Base is embedded by every component with a Start/Stop lifecycle. It is
// intentionally minimal: components own their own shutdown work and call
// TryStart/TryStop to guard it.
type Base struct {
	started atomic.Bool
}

// TryStart flips the running flag on, returning ErrAlreadyStarted if it was
// already on. Callers only perform their startup work when err is nil.
func (b *Base) TryStart() error {
	if b == nil {
		return ErrNil
	}
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	return nil
}

// TryStop flips the running flag off, returning ErrNotStarted if it was
// already off.
func (b *Base) TryStop() error {
	if b == nil {
		return ErrNil
	}
	if !b.started.CompareAndSwap(true, false) {
		return ErrNotStarted
	}
	return nil
}

// IsRunning reports the current lifecycle state. Safe to call on a nil
// receiver (returns false), matching the teacher convention of nil-safe
// status checks on manager types.
func (b *Base) IsRunning() bool {
	if b == nil {
		return false
	}
	return b.started.Load()
}
