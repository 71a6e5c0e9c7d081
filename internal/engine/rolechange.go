package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"gondola/internal/raft"
)

// RoleChangeListener is invoked once per role transition, already off the
// Raft hot path. A slow listener only ever delays other listeners and
// the next drain, never an election timer.
type RoleChangeListener func(ev raft.RoleChangeEvent)

// notifier drains every hosted CoreMember's RoleChanges channel on its
// own goroutine and fans each event out to a copy-on-write listener
// list, so registering a listener never blocks or races with dispatch.
type notifier struct {
	logger *slog.Logger

	listeners atomic.Pointer[[]RoleChangeListener]

	mu      sync.Mutex
	members []*raft.CoreMember

	stopCh chan struct{}
	doneCh chan struct{}
}

func newNotifier(logger *slog.Logger) *notifier {
	n := &notifier{logger: logger, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	empty := []RoleChangeListener{}
	n.listeners.Store(&empty)
	return n
}

// watch registers a member whose RoleChanges channel the notifier drains
// once started. Must be called before start.
func (n *notifier) watch(m *raft.CoreMember) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.members = append(n.members, m)
}

func (n *notifier) addListener(fn RoleChangeListener) {
	for {
		old := n.listeners.Load()
		next := make([]RoleChangeListener, len(*old)+1)
		copy(next, *old)
		next[len(*old)] = fn
		if n.listeners.CompareAndSwap(old, &next) {
			return
		}
	}
}

// start launches one goroutine per watched member's RoleChanges channel;
// each forwards to a single shared dispatch loop so listeners never run
// concurrently with each other for the same event, matching the
// dedicated-notifier-thread model.
func (n *notifier) start() {
	n.mu.Lock()
	members := append([]*raft.CoreMember(nil), n.members...)
	n.mu.Unlock()

	events := make(chan raft.RoleChangeEvent, 64*len(members)+1)

	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func(m *raft.CoreMember) {
			defer wg.Done()
			for {
				select {
				case <-n.stopCh:
					return
				case ev, ok := <-m.RoleChanges():
					if !ok {
						return
					}
					select {
					case events <- ev:
					case <-n.stopCh:
						return
					}
				}
			}
		}(m)
	}

	go func() {
		defer close(n.doneCh)
		for {
			select {
			case <-n.stopCh:
				wg.Wait()
				return
			case ev := <-events:
				n.dispatch(ev)
			}
		}
	}()
}

func (n *notifier) dispatch(ev raft.RoleChangeEvent) {
	listeners := *n.listeners.Load()
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					n.logger.Error("role change listener panicked", "panic", r)
				}
			}()
			fn(ev)
		}()
	}
}

func (n *notifier) stop() {
	close(n.stopCh)
	<-n.doneCh
}
