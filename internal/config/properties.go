// Package config loads and hot-reloads the Raft engine's configuration,
// backed by a layered YAML file pair.
package config

// RaftProperties holds the Raft timing/sizing tunables. All of them are
// static, read once at Engine construction, except
// WriteEmptyCommandAfterElection, which a Watcher reload picks up.
type RaftProperties struct {
	HeartbeatPeriodMs            int64 `yaml:"heartbeat_period"`
	ElectionTimeoutMs            int64 `yaml:"election_timeout"`
	LeaderTimeoutMs               int64 `yaml:"leader_timeout"`
	RequestVotePeriodMs           int64 `yaml:"request_vote_period"`
	CommandMaxSize                int   `yaml:"command_max_size"`
	WriteEmptyCommandAfterElection bool `yaml:"write_empty_command_after_election"`
	PrevotesOnly                   bool `yaml:"prevotes_only"`
}

// TracingProperties toggles verbose logging; every field is dynamic.
type TracingProperties struct {
	Messages  bool `yaml:"messages"`
	Elections bool `yaml:"elections"`
}

// GondolaProperties holds the engine-level tunables named `gondola.*`.
type GondolaProperties struct {
	CommandQueueSize       int               `yaml:"command_queue_size"`
	IncomingQueueSize      int               `yaml:"incoming_queue_size"`
	WaitQueueThrottleSize  int               `yaml:"wait_queue_throttle_size"`
	Batching               bool              `yaml:"batching"`
	SlaveInactivityTimeoutMs int64           `yaml:"slave_inactivity_timeout"`
	Tracing                TracingProperties `yaml:"tracing"`
}

// PluginProperties names the Storage/Network/Clock implementation each
// process should construct; these are static selector strings.
type PluginProperties struct {
	StorageImpl string `yaml:"impl"`
	NetworkImpl string `yaml:"impl"`
	ClockImpl   string `yaml:"impl"`
}

// HostConfig is one process in the cluster's topology.
type HostConfig struct {
	HostID  uint64 `yaml:"hostId"`
	Address string `yaml:"address"`
	StoreID uint64 `yaml:"storeId"`
	SiteID  uint64 `yaml:"siteId"`
}

// ShardMember places one memberId on one hostId within a shard.
type ShardMember struct {
	HostID   uint64 `yaml:"hostId"`
	MemberID uint64 `yaml:"memberId"`
}

// ShardConfig is one Raft replication group's membership.
type ShardConfig struct {
	ShardID uint64        `yaml:"shardId"`
	Members []ShardMember `yaml:"members"`
}

// MetaProperties carries the profile selector read from the base config
// file.
type MetaProperties struct {
	Profile  string `yaml:"profile"`
	LogLevel string `yaml:"log-level"`
}

// Properties is the full configuration tree for one Engine process.
type Properties struct {
	Meta    MetaProperties    `yaml:"meta"`
	Raft    RaftProperties    `yaml:"raft"`
	Gondola GondolaProperties `yaml:"gondola"`

	Storage struct {
		Impl string `yaml:"impl"`
	} `yaml:"storage"`
	Network struct {
		Impl string `yaml:"impl"`
	} `yaml:"network"`
	Clock struct {
		Impl string `yaml:"impl"`
	} `yaml:"clock"`

	Hosts  []HostConfig  `yaml:"hosts"`
	Shards []ShardConfig `yaml:"shards"`
}

// Defaults returns a Properties populated with the documented default
// tunables, used for any key a loaded YAML file leaves zero.
func Defaults() Properties {
	return Properties{
		Raft: RaftProperties{
			HeartbeatPeriodMs:              250,
			ElectionTimeoutMs:              2000,
			LeaderTimeoutMs:                10000,
			RequestVotePeriodMs:            2000,
			CommandMaxSize:                 1 << 20,
			WriteEmptyCommandAfterElection: true,
		},
		Gondola: GondolaProperties{
			CommandQueueSize:         1000,
			IncomingQueueSize:        1000,
			WaitQueueThrottleSize:    1000,
			Batching:                 true,
			SlaveInactivityTimeoutMs: 60000,
		},
	}
}

// applyDefaults fills zero-valued fields in cfg from Defaults(), so a
// minimal YAML overlay only needs to name what it overrides.
func applyDefaults(cfg *Properties) {
	d := Defaults()
	if cfg.Raft.HeartbeatPeriodMs == 0 {
		cfg.Raft.HeartbeatPeriodMs = d.Raft.HeartbeatPeriodMs
	}
	if cfg.Raft.ElectionTimeoutMs == 0 {
		cfg.Raft.ElectionTimeoutMs = d.Raft.ElectionTimeoutMs
	}
	if cfg.Raft.LeaderTimeoutMs == 0 {
		cfg.Raft.LeaderTimeoutMs = d.Raft.LeaderTimeoutMs
	}
	if cfg.Raft.RequestVotePeriodMs == 0 {
		cfg.Raft.RequestVotePeriodMs = d.Raft.RequestVotePeriodMs
	}
	if cfg.Raft.CommandMaxSize == 0 {
		cfg.Raft.CommandMaxSize = d.Raft.CommandMaxSize
	}
	if cfg.Gondola.CommandQueueSize == 0 {
		cfg.Gondola.CommandQueueSize = d.Gondola.CommandQueueSize
	}
	if cfg.Gondola.IncomingQueueSize == 0 {
		cfg.Gondola.IncomingQueueSize = d.Gondola.IncomingQueueSize
	}
	if cfg.Gondola.WaitQueueThrottleSize == 0 {
		cfg.Gondola.WaitQueueThrottleSize = d.Gondola.WaitQueueThrottleSize
	}
	if cfg.Gondola.SlaveInactivityTimeoutMs == 0 {
		cfg.Gondola.SlaveInactivityTimeoutMs = d.Gondola.SlaveInactivityTimeoutMs
	}
}

// MembersOf returns the (hostID, memberID) pairs belonging to shardID, or
// nil if no such shard is configured.
func (p *Properties) MembersOf(shardID uint64) []ShardMember {
	for _, s := range p.Shards {
		if s.ShardID == shardID {
			return s.Members
		}
	}
	return nil
}

// HostAddress resolves a hostId to its dial address, or "" if unknown.
func (p *Properties) HostAddress(hostID uint64) string {
	for _, h := range p.Hosts {
		if h.HostID == hostID {
			return h.Address
		}
	}
	return ""
}
