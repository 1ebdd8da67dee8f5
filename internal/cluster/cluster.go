// Package cluster implements C6: orchestrating a Central node and a
// fleet of Worker chassis into one running OVN deployment, and
// dispatching port provisioning/ping work across that fleet.
// Grounded on ovn_workload.py's Cluster class.
package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/ovn-tester/ovnscale/internal/config"
	"github.com/ovn-tester/ovnscale/internal/dbclient"
	"github.com/ovn-tester/ovnscale/internal/node"
	"github.com/ovn-tester/ovnscale/internal/topology"
	"github.com/ovn-tester/ovnscale/pkg/errors"
	"github.com/ovn-tester/ovnscale/pkg/netaddrx"
	"github.com/ovn-tester/ovnscale/pkg/types"
)

const (
	clusterRouterName   = "cluster-router"
	joinSwitchName      = "join"
	clusterRouterJoinRP = "rtr-to-join"
	joinSwitchRouterRP  = "join-to-rtr"
	clusterLBName       = "cluster-lb"
)

// Cluster owns one Central node, a fleet of Worker chassis, and the
// cluster-wide router/switch/load-balancer objects shared between
// them. Safe for concurrent use once Start has returned.
type Cluster struct {
	cfg    config.ClusterConfig
	global config.GlobalConfig

	NB dbclient.NBClient
	SB dbclient.SBClient

	Topo    *topology.Topology
	Central *node.Central
	Workers []*node.Worker

	Router     types.LRouter
	JoinSwitch types.LSwitch
	LB         types.LoadBalancer

	mu         sync.Mutex
	nextWorker int
}

// New builds a Cluster from deployment/config and already-dialed NB/SB
// connections; it does not itself open any network connection.
func New(dep *config.Deployment, cfg config.ClusterConfig, global config.GlobalConfig, nb dbclient.NBClient, sb dbclient.SBClient, exec types.Exec) (*Cluster, error) {
	intNet, err := netaddrx.ParseSubnet(cfg.InternalNet, cfg.InternalNet6)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidConfig, "cluster: invalid internal_net").WithCause(err)
	}
	extNet, err := netaddrx.ParseSubnet(cfg.ExternalNet, cfg.ExternalNet6)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidConfig, "cluster: invalid external_net").WithCause(err)
	}
	gwNet, err := netaddrx.ParseSubnet(cfg.GwNet, cfg.GwNet6)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidConfig, "cluster: invalid gw_net").WithCause(err)
	}
	nodeNet, err := netaddrx.ParseSubnet(cfg.NodeNet, "")
	if err != nil {
		return nil, errors.New(errors.CodeInvalidConfig, "cluster: invalid node_net").WithCause(err)
	}

	if len(dep.Workers) < cfg.NWorkers {
		return nil, errors.New(errors.CodeInvalidConfig, "cluster: deployment has fewer hosts than cluster.n_workers").
			WithContext("workers_available", fmt.Sprint(len(dep.Workers))).
			WithContext("n_workers", fmt.Sprint(cfg.NWorkers))
	}

	mgmtHost := ""
	if nodeNet.N4.IsValid() {
		mgmtHost = nodeNet.N4.Addr().String()
	}
	mgmtPrefixLen := nodeNet.N4.Bits()

	centralSkip, reserved := mgmtPlan(cfg)
	centralIP, err := nodeNet.Forward(centralSkip)
	if err != nil {
		return nil, err
	}
	central := node.NewCentral(dep.Central.Name, []string{"ovn-central"}, nil, mgmtHost, mgmtPrefixLen, centralIP.IP4.String(), exec)

	workers := make([]*node.Worker, cfg.NWorkers)
	for i := 0; i < cfg.NWorkers; i++ {
		workerIntNet := intNet.Next(i)
		workerExtNet := extNet.Next(i)

		workerIP, err := nodeNet.Forward(reserved + i)
		if err != nil {
			return nil, err
		}
		container := fmt.Sprintf("ovn-chassis-%d", i)
		workers[i] = node.NewWorker(i, dep.Workers[i].Name, container, mgmtHost, mgmtPrefixLen, workerIP.IP4.String(), workerIntNet, workerExtNet, gwNet, exec)
	}

	return &Cluster{
		cfg:     cfg,
		global:  global,
		NB:      nb,
		SB:      sb,
		Topo:    topology.New(nb),
		Central: central,
		Workers: workers,
	}, nil
}

// mgmtPlan mirrors config.applyComputedDefaults's calculation of
// calculate_default_node_remotes: centralSkip is the mgmt-net index
// of the central node's own (leading RAFT member's) address, and
// reserved is the first mgmt-net index free for worker chassis once
// the DB cluster/relay addresses are accounted for.
func mgmtPlan(cfg config.ClusterConfig) (centralSkip, reserved int) {
	skip := 1
	count := 1
	if cfg.NRelays > 0 {
		if cfg.ClusteredDB {
			skip = 3
		}
		count = cfg.NRelays
	} else if cfg.ClusteredDB {
		count = 3
	}
	return skip, skip + count
}

// CentralManagementAddress returns the mgmt-net IP address ovnscale
// itself dials NB/SB on, mirroring the same centralSkip math New uses
// to place the central node's own address. Callers (cmd/ovnscale) use
// it to build dbclient.Config before a Cluster exists yet.
func CentralManagementAddress(cfg config.ClusterConfig) (string, error) {
	nodeNet, err := netaddrx.ParseSubnet(cfg.NodeNet, "")
	if err != nil {
		return "", errors.New(errors.CodeInvalidConfig, "cluster: invalid node_net").WithCause(err)
	}
	centralSkip, _ := mgmtPlan(cfg)
	ip, err := nodeNet.Forward(centralSkip)
	if err != nil {
		return "", err
	}
	return ip.IP4.String(), nil
}

func (c *Cluster) cmdConfig() node.CmdConfig {
	return node.CmdConfig{
		ClusterCmdPath: c.cfg.ClusterCmdPath,
		MonitorAll:     c.cfg.MonitorAll,
		ClusteredDB:    c.cfg.ClusteredDB,
		EnableSSL:      c.cfg.EnableSSL,
		UseOvsdbEtcd:   c.cfg.UseOvsdbEtcd,
		DatapathType:   c.cfg.DatapathType,
		NRelays:        c.cfg.NRelays,
	}
}

// Start brings the whole deployment up: the central control plane,
// every worker chassis, the cluster-wide router/join-switch/load
// balancer, and each worker's own topology. Grounded on
// ovn_workload.py's Cluster.start plus
// create_cluster_router/create_cluster_join_switch/create_cluster_load_balancer.
func (c *Cluster) Start(ctx context.Context) error {
	cfg := c.cmdConfig()

	if err := c.Central.Start(ctx, cfg, c.cfg.RaftElectionTo); err != nil {
		return err
	}

	if err := c.Topo.SetGlobalOption(ctx, "northd-probe-interval", fmt.Sprint(c.cfg.NorthdProbeInterval)); err != nil {
		return err
	}
	if err := c.Topo.SetInactivityProbe(ctx, c.cfg.DBInactivityProbe); err != nil {
		return err
	}
	if err := c.SB.SetInactivityProbe(ctx, c.cfg.DBInactivityProbe); err != nil {
		return err
	}

	router, err := c.Topo.LRAdd(ctx, clusterRouterName)
	if err != nil {
		return err
	}
	c.Router = router

	gwNet := c.Workers[0].GwNet
	join, err := c.Topo.LSAdd(ctx, joinSwitchName, gwNet)
	if err != nil {
		return err
	}
	c.JoinSwitch = join

	joinGW, err := gwNet.Reverse(1)
	if err != nil {
		return err
	}
	if _, err := c.Topo.LRPortAdd(ctx, router, clusterRouterJoinRP, topology.DeterministicMAC(clusterRouterJoinRP), dualStackNetworks(joinGW)...); err != nil {
		return err
	}
	if _, err := c.Topo.LSPortAdd(ctx, join, joinSwitchRouterRP, "router", map[string]string{"router-port": clusterRouterJoinRP}); err != nil {
		return err
	}

	lb, err := c.Topo.LBAdd(ctx, clusterLBName, "tcp")
	if err != nil {
		return err
	}
	vips := mergeVips(c.cfg.StaticVips, c.cfg.StaticVips6)
	if len(vips) > 0 {
		if err := c.Topo.LBSetVIPs(ctx, lb, vips); err != nil {
			return err
		}
	}
	if err := c.Topo.LBAddToRouters(ctx, lb, []string{router.Name}); err != nil {
		return err
	}
	if err := c.Topo.LBAddToSwitches(ctx, lb, []string{join.Name}); err != nil {
		return err
	}
	c.LB = lb

	return c.startWorkers(ctx, cfg, joinGW)
}

func (c *Cluster) startWorkers(ctx context.Context, cfg node.CmdConfig, joinGW netaddrx.DualStackIP) error {
	clusterNet, err := netaddrx.ParseSubnet(c.cfg.ClusterNet, c.cfg.ClusterNet6)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, len(c.Workers))
	for i, w := range c.Workers {
		wg.Add(1)
		go func(i int, w *node.Worker) {
			defer wg.Done()
			errs[i] = c.bringUpWorker(ctx, w, cfg, clusterNet, joinGW)
		}(i, w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Cluster) bringUpWorker(ctx context.Context, w *node.Worker, cfg node.CmdConfig, clusterNet netaddrx.DualStackSubnet, joinGW netaddrx.DualStackIP) error {
	if err := w.Start(ctx, cfg); err != nil {
		return err
	}
	if err := w.Connect(ctx, cfg, c.cfg.NodeRemote); err != nil {
		return err
	}
	if err := w.WaitBound(ctx, c.SB, c.cfg.NodeTimeoutS); err != nil {
		return err
	}

	deps := node.ProvisionDeps{
		NB:            c.Topo,
		Router:        c.Router,
		JoinSwitch:    c.JoinSwitch,
		ClusterNet:    clusterNet,
		JoinGatewayIP: joinGW,
	}
	return w.Provision(ctx, deps, c.cfg.PhysicalNet)
}

// ProvisionPorts creates count new ports, round-robining across
// workers the way ovn_workload.py's Cluster.select_worker_for_port
// does.
func (c *Cluster) ProvisionPorts(ctx context.Context, count int, passive bool) ([]*types.LSPort, error) {
	ports := make([]*types.LSPort, 0, count)
	for i := 0; i < count; i++ {
		w := c.selectWorker()
		port, err := w.ProvisionPort(ctx, c.Topo, passive)
		if err != nil {
			return ports, err
		}
		if err := w.BindPort(ctx, port); err != nil {
			return ports, err
		}
		ports = append(ports, port)
	}
	return ports, nil
}

// UnprovisionPorts tears down every port in ports, dispatching each to
// the worker that owns it (recovered from its Metadata back-reference).
func (c *Cluster) UnprovisionPorts(ctx context.Context, ports []*types.LSPort) error {
	for _, port := range ports {
		w, ok := port.Metadata.(*node.Worker)
		if !ok {
			return errors.New(errors.CodeInvalidConfig, "cluster: port has no owning worker").
				WithContext("port", port.Name)
		}
		if err := w.UnprovisionPort(ctx, c.Topo, port); err != nil {
			return err
		}
	}
	return nil
}

// PingPorts pings every port in ports, grouped by owning worker so
// each worker's pings run concurrently with the others'.
func (c *Cluster) PingPorts(ctx context.Context, ports []*types.LSPort) error {
	byWorker := make(map[*node.Worker][]*types.LSPort)
	var order []*node.Worker
	for _, port := range ports {
		w, ok := port.Metadata.(*node.Worker)
		if !ok {
			return errors.New(errors.CodeInvalidConfig, "cluster: port has no owning worker").
				WithContext("port", port.Name)
		}
		if _, seen := byWorker[w]; !seen {
			order = append(order, w)
		}
		byWorker[w] = append(byWorker[w], port)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(order))
	for i, w := range order {
		wg.Add(1)
		go func(i int, w *node.Worker) {
			defer wg.Done()
			errs[i] = w.PingPorts(ctx, byWorker[w], c.cfg.NodeTimeoutS)
		}(i, w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// HealthCheck polls Central and every Worker through the common
// types.HealthChecker interface and reports each node's status keyed
// by name, letting a long-running scale test detect a chassis that
// dropped its SB binding or a central node whose container stopped
// answering mid-run.
func (c *Cluster) HealthCheck(ctx context.Context) map[string]types.HealthStatus {
	checkers := make([]types.HealthChecker, 0, len(c.Workers)+1)
	if c.Central != nil {
		checkers = append(checkers, c.Central)
	}
	for _, w := range c.Workers {
		checkers = append(checkers, w)
	}

	out := make(map[string]types.HealthStatus, len(checkers))
	for _, hc := range checkers {
		status, err := hc.Check(ctx)
		if err != nil && status.Message == "" {
			status.Message = err.Error()
		}
		out[hc.Name()] = status
	}
	return out
}

func (c *Cluster) selectWorker() *node.Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.Workers[c.nextWorker]
	c.nextWorker = (c.nextWorker + 1) % len(c.Workers)
	return w
}

func mergeVips(a, b map[string][]string) map[string][]string {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make(map[string][]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func dualStackNetworks(ip netaddrx.DualStackIP) []string {
	var out []string
	if ip.HasIP4() {
		out = append(out, fmt.Sprintf("%s/%d", ip.IP4, ip.Plen4))
	}
	if ip.HasIP6() {
		out = append(out, fmt.Sprintf("%s/%d", ip.IP6, ip.Plen6))
	}
	return out
}
