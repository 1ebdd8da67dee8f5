package cluster_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ovn-tester/ovnscale/internal/cluster"
	"github.com/ovn-tester/ovnscale/internal/config"
	"github.com/ovn-tester/ovnscale/internal/dbclient"
	"github.com/ovn-tester/ovnscale/internal/exec"
)

// testConfig builds a small, ipv4-only two-worker cluster config,
// grounded on spec §8 scenario 1 (n_workers=2, n_pods_per_node=3,
// ipv4 only).
func testConfig() (config.ClusterConfig, config.GlobalConfig) {
	global := config.GlobalConfig{RunIPv4: true}
	cfg := config.ClusterConfig{
		ClusteredDB:         false,
		DatapathType:        "system",
		MonitorAll:          true,
		RaftElectionTo:      1,
		NodeNet:             "192.16.0.0/16",
		NodeRemote:          "tcp:192.16.0.1:6642",
		NWorkers:            2,
		NorthdProbeInterval: 5000,
		DBInactivityProbe:   60000,
		NodeTimeoutS:        5,
		InternalNet:         "16.0.0.0/16",
		ExternalNet:         "3.0.0.0/16",
		GwNet:               "2.0.0.0/16",
		ClusterNet:          "16.0.0.0/4",
		PhysicalNet:         "providernet",
		ClusterCmdPath:      "/ovn-fake-multinode",
	}
	return cfg, global
}

func testDeployment() *config.Deployment {
	return &config.Deployment{
		Central: config.PhysicalNode{Name: "central-host"},
		Workers: []config.PhysicalNode{
			{Name: "worker-host-0"},
			{Name: "worker-host-1"},
		},
	}
}

func TestClusterStartBringsUpCentralAndWorkers(t *testing.T) {
	cfg, global := testConfig()
	dep := testDeployment()

	fc := exec.NewFakeChannel()
	nb := dbclient.NewFake()
	sb := dbclient.NewFake()
	sb.SetChassisBound("ovn-chassis-0", true)
	sb.SetChassisBound("ovn-chassis-1", true)

	c, err := cluster.New(dep, cfg, global, nb, sb, fc)
	require.NoError(t, err)
	require.Len(t, c.Workers, 2)

	require.NoError(t, c.Start(context.Background()))
	require.NotEmpty(t, c.Router.UUID)
	require.NotEmpty(t, c.JoinSwitch.UUID)
	require.NotEmpty(t, c.Workers[0].Switch.UUID)
	require.NotEmpty(t, c.Workers[1].Switch.UUID)
	require.NotEmpty(t, c.Workers[0].GWRouter.UUID)
	require.NotEmpty(t, c.Workers[1].GWRouter.UUID)

	health := c.HealthCheck(context.Background())
	require.Len(t, health, 3)
	require.Equal(t, "healthy", health["ovn-central"].Status)
	require.Equal(t, "healthy", health["ovn-chassis-0"].Status)
	require.Equal(t, "healthy", health["ovn-chassis-1"].Status)
}

func TestClusterProvisionPingUnprovisionRoundTrip(t *testing.T) {
	cfg, global := testConfig()
	dep := testDeployment()

	fc := exec.NewFakeChannel()
	nb := dbclient.NewFake()
	sb := dbclient.NewFake()
	sb.SetChassisBound("ovn-chassis-0", true)
	sb.SetChassisBound("ovn-chassis-1", true)

	c, err := cluster.New(dep, cfg, global, nb, sb, fc)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	const nPodsPerNode = 3
	ports, err := c.ProvisionPorts(context.Background(), nPodsPerNode*len(c.Workers), false)
	require.NoError(t, err)
	require.Len(t, ports, nPodsPerNode*len(c.Workers))

	require.NoError(t, c.PingPorts(context.Background(), ports))

	require.NoError(t, c.UnprovisionPorts(context.Background(), ports))
	require.Empty(t, c.Workers[0].LPorts)
	require.Empty(t, c.Workers[1].LPorts)
}
