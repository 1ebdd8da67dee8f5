package node

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ovn-tester/ovnscale/internal/exec"
)

func TestCentralStartSetsElectionTimerAndTrim(t *testing.T) {
	prevSleep := sleep
	var slept time.Duration
	sleep = func(d time.Duration) { slept = d }
	defer func() { sleep = prevSleep }()

	fc := exec.NewFakeChannel()
	c := NewCentral("host-0", []string{"ovn-central"}, nil, "192.16.0.0", 16, "192.16.0.1", fc)

	cfg := CmdConfig{ClusterCmdPath: "/ovn-fake-multinode", ClusteredDB: true, DatapathType: "system"}
	err := c.Start(context.Background(), cfg, 3)
	require.NoError(t, err)
	require.Equal(t, centralGraceSleep, slept)

	var sawStart, sawElection, sawTrim, sawRelayTrim bool
	for _, run := range fc.Runs() {
		switch {
		case strings.Contains(run.Cmd, "./ovn_cluster.sh start"):
			sawStart = true
		case strings.Contains(run.Cmd, "cluster/change-election-timer OVN_Northbound 3000"):
			sawElection = true
		case strings.Contains(run.Cmd, "docker exec ovn-central ovs-appctl -t /run/ovn/ovnnb_db.ctl ovsdb-server/memory-trim-on-compaction on"):
			sawTrim = true
		case strings.Contains(run.Cmd, "memory-trim-on-compaction") && !strings.HasPrefix(run.Cmd, "docker exec ovn-central "):
			sawRelayTrim = true
		}
	}
	require.True(t, sawStart, "expected orchestration start command")
	require.True(t, sawElection, "expected election timer stepped up to configured value")
	require.True(t, sawTrim, "expected trim-on-compaction enabled on the db container")
	require.False(t, sawRelayTrim, "no relay containers configured, so no relay trim command expected")
}

func TestCentralEnableTrimOnCompactionCoversRelays(t *testing.T) {
	prevSleep := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = prevSleep }()

	fc := exec.NewFakeChannel()
	c := NewCentral("host-0", []string{"ovn-central"}, []string{"ovn-relay-0"}, "192.16.0.0", 16, "192.16.0.1", fc)

	cfg := CmdConfig{ClusterCmdPath: "/ovn-fake-multinode"}
	require.NoError(t, c.Start(context.Background(), cfg, 1))

	var sawRelayTrim bool
	for _, run := range fc.Runs() {
		if run.Cmd == "docker exec ovn-relay-0 ovs-appctl -t /run/ovn/ovnsb_db.ctl ovsdb-server/memory-trim-on-compaction on" {
			sawRelayTrim = true
		}
	}
	require.True(t, sawRelayTrim, "expected trim-on-compaction enabled on the relay container with correct spacing")
}

func TestCentralCheckReportsHealthy(t *testing.T) {
	fc := exec.NewFakeChannel()
	c := NewCentral("host-0", []string{"ovn-central"}, nil, "192.16.0.0", 16, "192.16.0.1", fc)

	status, err := c.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, "healthy", status.Status)
	require.Equal(t, "ovn-central", c.Name())
}

func TestCentralCheckReportsError(t *testing.T) {
	fc := exec.NewFakeChannel()
	fc.Fail("host-0", errors.New("boom"))
	c := NewCentral("host-0", []string{"ovn-central"}, nil, "192.16.0.0", 16, "192.16.0.1", fc)

	status, err := c.Check(context.Background())
	require.Error(t, err)
	require.Equal(t, "error", status.Status)
}
