// Package node implements C5: the central control-plane node and the
// worker chassis nodes a cluster is built from. Both are modeled as a
// tagged variant over a shared Base rather than through inheritance,
// per spec §9's design note — Central and Worker embed Base and add
// their own state, and the small Capability interface (Run, BuildCmd)
// is the only thing code outside this package depends on when it
// doesn't need to distinguish the two.
package node

import (
	"context"
	"fmt"
	"strings"

	"github.com/ovn-tester/ovnscale/pkg/types"
)

// CmdConfig carries the subset of cluster configuration BuildCmd needs
// to compose the ovn-fake-multinode orchestration-script invocation;
// grounded on ovn_workload.py's Node.build_cmd, which reads the same
// fields off its ClusterConfig namedtuple.
type CmdConfig struct {
	ClusterCmdPath string
	MonitorAll     bool
	ClusteredDB    bool
	EnableSSL      bool
	UseOvsdbEtcd   bool
	DatapathType   string
	NRelays        int
}

// Capability is the behavior shared by every node kind: run a command
// on the host it lives on, and build the orchestration-script command
// line for that host's own mgmt-network identity.
type Capability interface {
	Run(ctx context.Context, cmd string) (string, error)
	BuildCmd(cfg CmdConfig, cmd string, args ...string) string
}

// Base is embedded by Central and Worker: the physical host a node
// runs on, the container name docker-exec targets inside that host,
// and the mgmt-network identity BuildCmd needs.
type Base struct {
	Host      string
	Container string

	MgmtNetHost      string // node_net's network address, e.g. "192.16.0.0"
	MgmtNetPrefixLen int
	MgmtIP           string // this node's own mgmt IP

	Exec types.Exec
}

var _ Capability = (*Base)(nil)

// Run executes cmd on the physical host this node lives on.
func (b *Base) Run(ctx context.Context, cmd string) (string, error) {
	return b.Exec.Run(ctx, b.Host, cmd)
}

// BuildCmd composes the ovn-fake-multinode ./ovn_cluster.sh invocation
// for cmd, grounded on ovn_workload.py's Node.build_cmd.
func (b *Base) BuildCmd(cfg CmdConfig, cmd string, args ...string) string {
	full := fmt.Sprintf(
		"cd %s && OVN_MONITOR_ALL=%s OVN_DB_CLUSTER=%s ENABLE_SSL=%s ENABLE_ETCD=%s "+
			"OVN_DP_TYPE=%s CREATE_FAKE_VMS=no CHASSIS_COUNT=0 GW_COUNT=0 "+
			"RELAY_COUNT=%d IP_HOST=%s IP_CIDR=%d IP_START=%s ./ovn_cluster.sh %s",
		cfg.ClusterCmdPath, yesNo(cfg.MonitorAll), yesNo(cfg.ClusteredDB), yesNo(cfg.EnableSSL), yesNo(cfg.UseOvsdbEtcd),
		cfg.DatapathType, cfg.NRelays, b.MgmtNetHost, b.MgmtNetPrefixLen, b.MgmtIP, cmd,
	)
	if len(args) > 0 {
		full += " " + strings.Join(args, " ")
	}
	return full
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
