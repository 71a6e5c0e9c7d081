package metrics

import (
	"testing"

	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestPrometheusSinkRecordsLeaderGauge(t *testing.T) {
	sink := NewPrometheusSink()
	sink.SetIsLeader(7, true)

	families, err := sink.Registry().Gather()
	require.NoError(t, err)

	var found bool
	for _, fam := range families {
		if fam.GetName() != "gondola_raft_is_leader" {
			continue
		}
		found = true
		require.Len(t, fam.Metric, 1)
		require.Equal(t, float64(1), fam.Metric[0].GetGauge().GetValue())
	}
	require.True(t, found, "gondola_raft_is_leader metric not registered")
}

func TestPrometheusSinkCountsMessages(t *testing.T) {
	sink := NewPrometheusSink()
	sink.IncMessagesSent(1, "AppendEntries")
	sink.IncMessagesSent(1, "AppendEntries")

	families, err := sink.Registry().Gather()
	require.NoError(t, err)

	var metric *io_prometheus_client.Metric
	for _, fam := range families {
		if fam.GetName() == "gondola_raft_messages_sent_total" {
			metric = fam.Metric[0]
		}
	}
	require.NotNil(t, metric)
	require.Equal(t, float64(2), metric.GetCounter().GetValue())
}
