package config

import (
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
)

// Watcher re-reads the dynamic keys (write_empty_command_
// after_election, batching, slave_inactivity_timeout, tracing.*) on
// SIGHUP or a poll ticker, and atomically swaps a *Properties readers
// load lock-free. Static keys are captured once at construction and
// never change for the process lifetime.
type Watcher struct {
	loader  *Loader
	current atomic.Pointer[Properties]

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher constructs a Watcher seeded with an already-loaded initial
// Properties.
func NewWatcher(loader *Loader, initial *Properties) *Watcher {
	w := &Watcher{loader: loader, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	w.current.Store(initial)
	return w
}

// Load returns the most recently loaded Properties.
func (w *Watcher) Load() *Properties {
	return w.current.Load()
}

// Start begins watching for SIGHUP and polling every pollInterval,
// re-reading and swapping in dynamic key changes. It returns immediately;
// call Stop to end the background goroutine.
func (w *Watcher) Start(pollInterval time.Duration) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)

	ticker := time.NewTicker(pollInterval)

	go func() {
		defer close(w.doneCh)
		defer ticker.Stop()
		defer signal.Stop(sighup)

		for {
			select {
			case <-w.stopCh:
				return
			case <-sighup:
				w.reload()
			case <-ticker.C:
				w.reload()
			}
		}
	}()
}

// Stop ends the watch goroutine and blocks until it has exited.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watcher) reload() {
	fresh, err := w.loader.Load()
	if err != nil {
		slog.Warn("config reload failed, keeping previous properties", "error", err)
		return
	}

	prev := w.current.Load()
	writeEmpty := fresh.Raft.WriteEmptyCommandAfterElection
	fresh.Raft = prev.Raft
	fresh.Raft.WriteEmptyCommandAfterElection = writeEmpty
	fresh.Storage = prev.Storage
	fresh.Network = prev.Network
	fresh.Clock = prev.Clock
	fresh.Hosts = prev.Hosts
	fresh.Shards = prev.Shards
	fresh.Gondola.CommandQueueSize = prev.Gondola.CommandQueueSize
	fresh.Gondola.IncomingQueueSize = prev.Gondola.IncomingQueueSize
	fresh.Gondola.WaitQueueThrottleSize = prev.Gondola.WaitQueueThrottleSize

	w.current.Store(fresh)
	slog.Info("config reloaded",
		"batching", fresh.Gondola.Batching,
		"write_empty_command_after_election", fresh.Raft.WriteEmptyCommandAfterElection,
		"slave_inactivity_timeout", fresh.Gondola.SlaveInactivityTimeoutMs,
	)
}
