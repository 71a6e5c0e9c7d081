package raft

import (
	"time"

	"gondola/internal/config"
)

// Config holds the per-member tunables a CoreMember needs, translated
// from the durations-as-milliseconds shape of config.Properties into
// time.Duration so the rest of the package never touches raw int64 ms.
type Config struct {
	HeartbeatPeriod     time.Duration
	ElectionTimeout     time.Duration
	LeaderTimeout       time.Duration
	RequestVotePeriod   time.Duration
	SlaveInactivityTime time.Duration

	CommandMaxSize int

	WriteEmptyCommandAfterElection bool
	PrevotesOnly                   bool
	Batching                       bool

	IncomingQueueSize int

	TraceMessages  bool
	TraceElections bool
}

// FromProperties builds a Config snapshot from the current application
// properties. It is called once at member startup and again, for the
// dynamic fields only, whenever a config.Watcher reloads.
func FromProperties(p *config.Properties) Config {
	return Config{
		HeartbeatPeriod:                time.Duration(p.Raft.HeartbeatPeriodMs) * time.Millisecond,
		ElectionTimeout:                time.Duration(p.Raft.ElectionTimeoutMs) * time.Millisecond,
		LeaderTimeout:                  time.Duration(p.Raft.LeaderTimeoutMs) * time.Millisecond,
		RequestVotePeriod:              time.Duration(p.Raft.RequestVotePeriodMs) * time.Millisecond,
		SlaveInactivityTime:            time.Duration(p.Gondola.SlaveInactivityTimeoutMs) * time.Millisecond,
		CommandMaxSize:                 p.Raft.CommandMaxSize,
		WriteEmptyCommandAfterElection: p.Raft.WriteEmptyCommandAfterElection,
		PrevotesOnly:                   p.Raft.PrevotesOnly,
		Batching:                       p.Gondola.Batching,
		IncomingQueueSize:              p.Gondola.IncomingQueueSize,
		TraceMessages:                  p.Gondola.Tracing.Messages,
		TraceElections:                 p.Gondola.Tracing.Elections,
	}
}
