package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusSink is the concrete Sink backing production Engines,
// carrying its own prometheus.Registry rather than the global one, so a
// test process
// can construct several without a duplicate-registration panic.
type PrometheusSink struct {
	registry *prometheus.Registry

	isLeader     *prometheus.GaugeVec
	term         *prometheus.GaugeVec
	commitIndex  *prometheus.GaugeVec
	savedIndex   *prometheus.GaugeVec
	lastIndex    *prometheus.GaugeVec
	messagesSent *prometheus.CounterVec
	messagesRecv *prometheus.CounterVec
	messageErrs  *prometheus.CounterVec

	commandsSubmitted *prometheus.CounterVec
	commandsCommitted *prometheus.CounterVec
	commandsTimedOut  *prometheus.CounterVec
	commandLatency    *prometheus.HistogramVec

	batchSize *prometheus.HistogramVec

	walWriteDuration prometheus.Histogram
	walSyncDuration  prometheus.Histogram
}

// NewPrometheusSink constructs a PrometheusSink with its own registry.
// Registry() exposes it for an HTTP /metrics handler.
func NewPrometheusSink() *PrometheusSink {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &PrometheusSink{
		registry: reg,

		isLeader: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gondola", Subsystem: "raft", Name: "is_leader",
			Help: "Whether this shard's local member is the Raft leader",
		}, []string{"shard"}),
		term: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gondola", Subsystem: "raft", Name: "term",
			Help: "Current Raft term",
		}, []string{"shard"}),
		commitIndex: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gondola", Subsystem: "raft", Name: "commit_index",
			Help: "Current Raft commit index",
		}, []string{"shard"}),
		savedIndex: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gondola", Subsystem: "raft", Name: "saved_index",
			Help: "Highest durably persisted log index",
		}, []string{"shard"}),
		lastIndex: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gondola", Subsystem: "raft", Name: "last_index",
			Help: "Highest in-memory log index",
		}, []string{"shard"}),
		messagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gondola", Subsystem: "raft", Name: "messages_sent_total",
			Help: "Total Raft messages sent",
		}, []string{"shard", "type"}),
		messagesRecv: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gondola", Subsystem: "raft", Name: "messages_received_total",
			Help: "Total Raft messages received",
		}, []string{"shard", "type"}),
		messageErrs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gondola", Subsystem: "raft", Name: "message_errors_total",
			Help: "Total Raft message send/receive errors",
		}, []string{"shard", "peer"}),
		commandsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gondola", Subsystem: "command", Name: "submitted_total",
			Help: "Total commands submitted",
		}, []string{"shard"}),
		commandsCommitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gondola", Subsystem: "command", Name: "committed_total",
			Help: "Total commands committed",
		}, []string{"shard"}),
		commandsTimedOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gondola", Subsystem: "command", Name: "timed_out_total",
			Help: "Total commands that hit their commit-wait timeout",
		}, []string{"shard"}),
		commandLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gondola", Subsystem: "command", Name: "commit_latency_seconds",
			Help:    "Time from submission to commit",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 20),
		}, []string{"shard"}),
		batchSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gondola", Subsystem: "batch", Name: "size",
			Help:    "Number of commands folded into one AppendEntries",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"shard"}),
		walWriteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gondola", Subsystem: "wal", Name: "write_duration_seconds",
			Help:    "WAL append duration",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 20),
		}),
		walSyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gondola", Subsystem: "wal", Name: "sync_duration_seconds",
			Help:    "WAL fsync duration",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 20),
		}),
	}
}

// Registry exposes the underlying prometheus.Registry for an HTTP
// /metrics handler (promhttp.HandlerFor(sink.Registry(), ...)).
func (p *PrometheusSink) Registry() *prometheus.Registry { return p.registry }

func shardLabel(shardID uint64) string { return strconv.FormatUint(shardID, 10) }

func (p *PrometheusSink) SetIsLeader(shardID uint64, isLeader bool) {
	v := 0.0
	if isLeader {
		v = 1.0
	}
	p.isLeader.WithLabelValues(shardLabel(shardID)).Set(v)
}

func (p *PrometheusSink) SetTerm(shardID uint64, term uint64) {
	p.term.WithLabelValues(shardLabel(shardID)).Set(float64(term))
}

func (p *PrometheusSink) SetCommitIndex(shardID uint64, index uint64) {
	p.commitIndex.WithLabelValues(shardLabel(shardID)).Set(float64(index))
}

func (p *PrometheusSink) SetSavedIndex(shardID uint64, index uint64) {
	p.savedIndex.WithLabelValues(shardLabel(shardID)).Set(float64(index))
}

func (p *PrometheusSink) SetLastIndex(shardID uint64, index uint64) {
	p.lastIndex.WithLabelValues(shardLabel(shardID)).Set(float64(index))
}

func (p *PrometheusSink) IncMessagesSent(shardID uint64, msgType string) {
	p.messagesSent.WithLabelValues(shardLabel(shardID), msgType).Inc()
}

func (p *PrometheusSink) IncMessagesReceived(shardID uint64, msgType string) {
	p.messagesRecv.WithLabelValues(shardLabel(shardID), msgType).Inc()
}

func (p *PrometheusSink) IncMessageErrors(shardID uint64, peerID uint64) {
	p.messageErrs.WithLabelValues(shardLabel(shardID), shardLabel(peerID)).Inc()
}

func (p *PrometheusSink) IncCommandsSubmitted(shardID uint64) {
	p.commandsSubmitted.WithLabelValues(shardLabel(shardID)).Inc()
}

func (p *PrometheusSink) IncCommandsCommitted(shardID uint64) {
	p.commandsCommitted.WithLabelValues(shardLabel(shardID)).Inc()
}

func (p *PrometheusSink) IncCommandsTimedOut(shardID uint64) {
	p.commandsTimedOut.WithLabelValues(shardLabel(shardID)).Inc()
}

func (p *PrometheusSink) ObserveCommandLatency(shardID uint64, seconds float64) {
	p.commandLatency.WithLabelValues(shardLabel(shardID)).Observe(seconds)
}

func (p *PrometheusSink) ObserveBatchSize(shardID uint64, size int) {
	p.batchSize.WithLabelValues(shardLabel(shardID)).Observe(float64(size))
}

func (p *PrometheusSink) ObserveWALWriteDuration(seconds float64) {
	p.walWriteDuration.Observe(seconds)
}

func (p *PrometheusSink) ObserveWALSyncDuration(seconds float64) {
	p.walSyncDuration.Observe(seconds)
}

var _ Sink = (*PrometheusSink)(nil)
