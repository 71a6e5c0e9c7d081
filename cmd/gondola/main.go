// Command gondola runs one host process of a replicated-log cluster:
// it loads configuration, opens local storage, brings up the gRPC peer
// transport and every Shard this host is a member of, and serves
// Prometheus metrics until told to shut down.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gondola/internal/clock"
	"gondola/internal/config"
	"gondola/internal/engine"
	"gondola/internal/metrics"
	"gondola/internal/network/grpcnet"
	"gondola/internal/obslog"
	"gondola/internal/raft"
	"gondola/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	hostID, err := strconv.ParseUint(envOrDefault("GONDOLA_HOST_ID", ""), 10, 64)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gondola: GONDOLA_HOST_ID must be set to this process's host id")
		os.Exit(1)
	}

	configDir := envOrDefault("GONDOLA_CONFIG_DIR", "/etc/gondola")
	loader := config.NewLoader(configDir, configDir)
	props, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gondola: load config: %v\n", err)
		os.Exit(1)
	}

	logger := obslog.NewLogger(props.Meta.LogLevel).With("host", hostID)
	logger.Info("starting gondola", "config_dir", configDir)

	dataDir := envOrDefault("GONDOLA_DATA_DIR", "/var/lib/gondola")
	store, err := storage.NewWALStorage(dataDir, false)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}

	addr := props.HostAddress(hostID)
	if addr == "" {
		logger.Error("no host address configured for this host id", "host", hostID)
		os.Exit(1)
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen for peer connections", "address", addr, "error", err)
		os.Exit(1)
	}

	transport := grpcnet.New(hostID, resolverFor(props), logger)
	transport.Serve(lis)
	defer transport.Close()

	sink := metrics.NewPrometheusSink()

	watcher := config.NewWatcher(loader, props)
	watcher.Start(30 * time.Second)
	defer watcher.Stop()

	eng, err := engine.New(hostID, props, store, transport, clock.NewSystem(), sink, logger, nil)
	if err != nil {
		logger.Error("failed to construct engine", "error", err)
		os.Exit(1)
	}
	eng.SetConfigWatcher(watcher)

	eng.AddRoleChangeListener(func(ev raft.RoleChangeEvent) {
		logger.Info("role change",
			"shard", ev.ShardID, "member", ev.MemberID,
			"old_role", ev.OldRole, "new_role", ev.NewRole,
			"leader", ev.LeaderID, "term", ev.Term)
	})

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	metricsSrv := metrics.NewServer(envOrDefault("GONDOLA_METRICS_ADDR", ":9090"), sink)
	metricsSrv.Start()

	logger.Info("gondola ready", "shards", len(eng.Shards()))
	<-ctx.Done()

	logger.Info("shutting down")
	metricsSrv.Stop()
	eng.Stop()
	logger.Info("gondola stopped")
}

// resolverFor builds a grpcnet.AddressResolver from the shard membership
// table: a member id resolves to the address of whichever host it is
// configured to run on.
func resolverFor(props *config.Properties) grpcnet.AddressResolver {
	hostByMember := make(map[uint64]uint64)
	for _, sc := range props.Shards {
		for _, m := range sc.Members {
			hostByMember[m.MemberID] = m.HostID
		}
	}
	return func(memberID uint64) (string, bool) {
		hostID, ok := hostByMember[memberID]
		if !ok {
			return "", false
		}
		addr := props.HostAddress(hostID)
		return addr, addr != ""
	}
}

func envOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}
