package clock

import (
	"sync"
	"time"
)

// Mock is a virtual Clock for deterministic Raft tests: time only advances
// when the test calls Advance, so election and heartbeat timers fire on
// command rather than on wall-clock jitter.
type Mock struct {
	mu      sync.Mutex
	nowMs   int64
	waiters []mockWaiter
}

type mockWaiter struct {
	deadline int64
	ch       chan struct{}
}

// NewMock constructs a Mock clock starting at virtual time zero.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) NowMillis() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nowMs
}

// Advance moves virtual time forward by d, waking any Sleep/After/Ticker
// waiters whose deadline has passed.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.nowMs += d.Milliseconds()
	now := m.nowMs
	remaining := m.waiters[:0]
	var fired []chan struct{}
	for _, w := range m.waiters {
		if w.deadline <= now {
			fired = append(fired, w.ch)
		} else {
			remaining = append(remaining, w)
		}
	}
	m.waiters = remaining
	m.mu.Unlock()

	for _, ch := range fired {
		close(ch)
	}
}

func (m *Mock) Sleep(d time.Duration) {
	<-m.After(d)
}

func (m *Mock) Await(cond func() bool, timeout time.Duration) bool {
	deadline := m.NowMillis() + timeout.Milliseconds()
	for {
		if cond() {
			return true
		}
		if m.NowMillis() >= deadline {
			return cond()
		}
		time.Sleep(time.Millisecond)
	}
}

func (m *Mock) After(d time.Duration) <-chan time.Time {
	ch := make(chan struct{})
	m.mu.Lock()
	m.waiters = append(m.waiters, mockWaiter{deadline: m.nowMs + d.Milliseconds(), ch: ch})
	m.mu.Unlock()

	out := make(chan time.Time, 1)
	go func() {
		<-ch
		out <- time.Now()
	}()
	return out
}

type mockTicker struct {
	stopCh chan struct{}
	c      chan time.Time
}

func (t *mockTicker) C() <-chan time.Time { return t.c }
func (t *mockTicker) Stop()               { close(t.stopCh) }

func (m *Mock) NewTicker(d time.Duration) Ticker {
	t := &mockTicker{stopCh: make(chan struct{}), c: make(chan time.Time, 1)}
	go func() {
		for {
			ch := m.After(d)
			select {
			case <-t.stopCh:
				return
			case tm := <-ch:
				select {
				case t.c <- tm:
				default:
				}
			}
		}
	}()
	return t
}
