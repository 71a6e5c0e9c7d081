// Package clock isolates CoreMember, Peer and SaveQueue from wall-clock
// time so election and heartbeat timers can be driven deterministically in
// tests.
package clock

import "time"

// Clock is the mockable time source CoreMember and Peer depend on. now() returns
// monotonic milliseconds; sleep blocks the caller; await blocks until cond
// returns true or timeoutMs elapses, returning false on timeout.
type Clock interface {
	NowMillis() int64
	Sleep(d time.Duration)
	Await(cond func() bool, timeout time.Duration) bool
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker abstracts time.Ticker so MockClock can drive virtual ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}
