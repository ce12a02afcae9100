// Package metrics defines the instrumentation points of the mirror client so
// the core packages stay independent of any metrics backend.
package metrics

import "time"

// Timer measures one operation. Call ObserveDuration when it completes.
type Timer interface {
	ObserveDuration() time.Duration
}

// Metrics is implemented by backends such as pkg/metrics/prom.
type Metrics interface {
	// EventApplied counts a push event applied to the mirror, by action.
	EventApplied(action string)
	// EventDropped counts a push event that was ignored, by reason.
	EventDropped(reason string)
	// StreamState records the current push channel state.
	StreamState(state string)
	// Reconnect counts scheduled reconnect attempts.
	Reconnect()
	// MutationDuration times a gateway call.
	MutationDuration(op string) Timer
	// MutationCompleted counts gateway outcomes by message kind.
	MutationCompleted(op, kind string)
	// MirrorSize records the number of keys in the mirror.
	MirrorSize(n int)
	// SnapshotLoaded counts snapshot loads.
	SnapshotLoaded(ok bool)
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() time.Duration { return 0 }

type nop struct{}

func (nop) EventApplied(string)              {}
func (nop) EventDropped(string)              {}
func (nop) StreamState(string)               {}
func (nop) Reconnect()                       {}
func (nop) MutationDuration(string) Timer    { return nopTimer{} }
func (nop) MutationCompleted(string, string) {}
func (nop) MirrorSize(int)                   {}
func (nop) SnapshotLoaded(bool)              {}

// Nop returns a Metrics that discards everything.
func Nop() Metrics { return nop{} }

// OrNop returns m, or Nop if m is nil.
func OrNop(m Metrics) Metrics {
	if m == nil {
		return Nop()
	}
	return m
}
