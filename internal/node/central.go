package node

import (
	"context"
	"fmt"
	"time"

	"github.com/ovn-tester/ovnscale/pkg/errors"
	"github.com/ovn-tester/ovnscale/pkg/types"
)

// centralGraceSleep is how long Start waits after the orchestration
// script returns before touching the cluster's RAFT timers, mirroring
// ovn_workload.py's CentralNode.start fixed sleep: ovsdb-server needs
// a moment to finish its own startup election before appctl commands
// against it are meaningful.
const centralGraceSleep = 5 * time.Second

// sleep is a package variable so tests can stub out the grace sleep.
var sleep = time.Sleep

// Central is the node that runs the NB/SB ovsdb-server cluster (and,
// in the clustered-DB case, its RAFT peers) plus northd and any
// relays. It never runs a chassis itself.
type Central struct {
	Base

	// DBContainers are every container hosting an NB/SB db server this
	// central node is responsible for (the leader plus RAFT peers when
	// ClusteredDB is set).
	DBContainers []string

	// RelayContainers are the ovsdb-relay containers fronting the NB/SB
	// servers, present only when NRelays > 0.
	RelayContainers []string
}

// NewCentral builds a Central node bound to host/exec, running the
// given db and relay containers.
func NewCentral(host string, dbContainers, relayContainers []string, mgmtNetHost string, mgmtNetPrefixLen int, mgmtIP string, exec types.Exec) *Central {
	return &Central{
		Base: Base{
			Host:             host,
			Container:        firstOr(dbContainers, host),
			MgmtNetHost:      mgmtNetHost,
			MgmtNetPrefixLen: mgmtNetPrefixLen,
			MgmtIP:           mgmtIP,
			Exec:             exec,
		},
		DBContainers:    dbContainers,
		RelayContainers: relayContainers,
	}
}

func firstOr(s []string, fallback string) string {
	if len(s) > 0 {
		return s[0]
	}
	return fallback
}

// Start runs the orchestration script's "start" verb, waits out
// centralGraceSleep, then steps the RAFT election timer up to its
// configured value and turns on memory-trim-on-compaction for every
// db and relay container, grounded on
// ovn_workload.py's CentralNode.start/set_raft_election_timeout/enable_trim_on_compaction.
func (c *Central) Start(ctx context.Context, cfg CmdConfig, raftElectionTimeoutS int) error {
	if _, err := c.Run(ctx, c.BuildCmd(cfg, "start")); err != nil {
		return errors.New(errors.CodeTransportError, "node: central start failed").
			WithOperation("central_start").WithCause(err)
	}
	sleep(centralGraceSleep)

	if err := c.setRaftElectionTimeout(ctx, raftElectionTimeoutS); err != nil {
		return err
	}
	return c.enableTrimOnCompaction(ctx)
}

// setRaftElectionTimeout steps the NB and SB cluster election timer up
// from 1s in 1s increments, because ovsdb-server's
// cluster/change-election-timer command refuses a jump of more than
// 2x the current value in one call.
func (c *Central) setRaftElectionTimeout(ctx context.Context, timeoutS int) error {
	for timeoutMS := 1000; timeoutMS < (timeoutS+1)*1000; timeoutMS += 1000 {
		if _, err := c.Run(ctx, fmt.Sprintf(
			"docker exec %s ovs-appctl -t /run/ovn/ovnnb_db.ctl cluster/change-election-timer OVN_Northbound %d",
			c.Container, timeoutMS)); err != nil {
			return errors.New(errors.CodeTransportError, "node: set nb election timer failed").
				WithOperation("set_raft_election_timeout").WithCause(err)
		}
		if _, err := c.Run(ctx, fmt.Sprintf(
			"docker exec %s ovs-appctl -t /run/ovn/ovnsb_db.ctl cluster/change-election-timer OVN_Southbound %d",
			c.Container, timeoutMS)); err != nil {
			return errors.New(errors.CodeTransportError, "node: set sb election timer failed").
				WithOperation("set_raft_election_timeout").WithCause(err)
		}
	}
	return nil
}

// enableTrimOnCompaction turns on ovsdb-server's memory-trim-on-compaction
// for every db and relay container. ovn_workload.py's relay loop builds
// its docker exec command with a missing space before ovs-appctl
// (spec §9 REDESIGN FLAGS); every command here is built with
// fmt.Sprintf's own spacing so that bug cannot recur.
func (c *Central) enableTrimOnCompaction(ctx context.Context) error {
	for _, container := range c.DBContainers {
		if err := c.trimOnCompaction(ctx, container, "ovnnb_db"); err != nil {
			return err
		}
		if err := c.trimOnCompaction(ctx, container, "ovnsb_db"); err != nil {
			return err
		}
	}
	for _, relay := range c.RelayContainers {
		if err := c.trimOnCompaction(ctx, relay, "ovnsb_db"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Central) trimOnCompaction(ctx context.Context, container, db string) error {
	cmd := fmt.Sprintf("docker exec %s ovs-appctl -t /run/ovn/%s.ctl ovsdb-server/memory-trim-on-compaction on", container, db)
	if _, err := c.Run(ctx, cmd); err != nil {
		return errors.New(errors.CodeTransportError, "node: enable trim-on-compaction failed").
			WithOperation("enable_trim_on_compaction").WithContext("container", container).WithCause(err)
	}
	return nil
}

// Check reports whether this central node's leading DB container still
// answers a trivial exec, satisfying types.HealthChecker so
// internal/cluster can poll every node kind through one interface
// during steady-state monitoring rather than type-switching on
// Central vs Worker.
func (c *Central) Check(ctx context.Context) (types.HealthStatus, error) {
	start := time.Now()
	_, err := c.Run(ctx, fmt.Sprintf("docker exec %s true", c.Container))
	status := types.HealthStatus{LastCheck: time.Now(), Response: time.Since(start)}
	if err != nil {
		status.Status = "error"
		status.ErrorCount = 1
		status.Message = err.Error()
		return status, err
	}
	status.Status = "healthy"
	return status, nil
}

// Name identifies this node in a HealthCheck report.
func (c *Central) Name() string { return c.Container }

var _ types.HealthChecker = (*Central)(nil)
