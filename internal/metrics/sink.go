// Package metrics provides the injected metrics sink interface: the core
// exports counters and gauges, the embedder decides how they're routed,
// with a Prometheus-backed concrete implementation.
package metrics

// Sink is what CoreMember, Peer, SaveQueue and the command pipeline
// report against. The core only ever talks to this interface; an
// embedder wires in whichever concrete Sink it wants (Prometheus, JMX
// bridge, no-op for tests).
type Sink interface {
	SetIsLeader(shardID uint64, isLeader bool)
	SetTerm(shardID uint64, term uint64)
	SetCommitIndex(shardID uint64, index uint64)
	SetSavedIndex(shardID uint64, index uint64)
	SetLastIndex(shardID uint64, index uint64)

	IncMessagesSent(shardID uint64, msgType string)
	IncMessagesReceived(shardID uint64, msgType string)
	IncMessageErrors(shardID uint64, peerID uint64)

	IncCommandsSubmitted(shardID uint64)
	IncCommandsCommitted(shardID uint64)
	IncCommandsTimedOut(shardID uint64)
	ObserveCommandLatency(shardID uint64, seconds float64)

	ObserveBatchSize(shardID uint64, size int)

	ObserveWALWriteDuration(seconds float64)
	ObserveWALSyncDuration(seconds float64)
}

// NoopSink discards every report; useful in tests that don't care about
// metrics output.
type NoopSink struct{}

func (NoopSink) SetIsLeader(uint64, bool)             {}
func (NoopSink) SetTerm(uint64, uint64)                {}
func (NoopSink) SetCommitIndex(uint64, uint64)         {}
func (NoopSink) SetSavedIndex(uint64, uint64)          {}
func (NoopSink) SetLastIndex(uint64, uint64)           {}
func (NoopSink) IncMessagesSent(uint64, string)        {}
func (NoopSink) IncMessagesReceived(uint64, string)    {}
func (NoopSink) IncMessageErrors(uint64, uint64)       {}
func (NoopSink) IncCommandsSubmitted(uint64)           {}
func (NoopSink) IncCommandsCommitted(uint64)           {}
func (NoopSink) IncCommandsTimedOut(uint64)            {}
func (NoopSink) ObserveCommandLatency(uint64, float64) {}
func (NoopSink) ObserveBatchSize(uint64, int)          {}
func (NoopSink) ObserveWALWriteDuration(float64)       {}
func (NoopSink) ObserveWALSyncDuration(float64)        {}

var _ Sink = NoopSink{}
