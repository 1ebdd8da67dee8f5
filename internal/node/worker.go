package node

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ovn-tester/ovnscale/internal/dbclient"
	"github.com/ovn-tester/ovnscale/internal/topology"
	"github.com/ovn-tester/ovnscale/pkg/errors"
	"github.com/ovn-tester/ovnscale/pkg/netaddrx"
	"github.com/ovn-tester/ovnscale/pkg/types"
)

// ProvisionDeps is what a cluster hands a worker to provision its
// topology: the shared NB handle and the cluster-wide objects a
// worker's gateway router attaches to, grounded on ovn_workload.py's
// Cluster passing cluster_router/join_switch/cluster_cfg into
// WorkerNode.provision.
type ProvisionDeps struct {
	NB *topology.Topology

	Router     types.LRouter // cluster router, shared by every worker
	JoinSwitch types.LSwitch // cluster join switch, shared by every worker

	ClusterNet    netaddrx.DualStackSubnet // whole cluster pod/service range, routed via the join switch
	JoinGatewayIP netaddrx.DualStackIP     // cluster router's own join-switch-side address (the "rp_gw" workers route cluster-net through)

	PhysicalNet string
}

// Worker is a chassis node: it registers with the SB as a chassis,
// binds logical ports, and hosts a gateway router for its own north-south
// path. Grounded on ovn_workload.py's WorkerNode.
type Worker struct {
	Base

	ID int

	IntNet netaddrx.DualStackSubnet // this worker's node switch subnet
	ExtNet netaddrx.DualStackSubnet // this worker's external (br-ex/ext-ns) subnet
	GwNet  netaddrx.DualStackSubnet // cluster-wide gateway-router subnet, shared across workers

	Switch    types.LSwitch // this worker's node (int) switch
	GWRouter  types.LRouter // this worker's own gateway router
	ExtSwitch types.LSwitch // this worker's external switch

	NextLPortIndex int
	LPorts         []*types.LSPort

	sb dbclient.SBClient // set by WaitBound, reused by Check
}

// NewWorker builds a Worker bound to host/exec with its own subnets
// carved out of the cluster's base ranges; id is this worker's
// 0-based index in the cluster, used to derive its IP and gw_net
// offsets and its lp-<id>-<seq> port names.
func NewWorker(id int, host, container string, mgmtNetHost string, mgmtNetPrefixLen int, mgmtIP string, intNet, extNet, gwNet netaddrx.DualStackSubnet, exec types.Exec) *Worker {
	return &Worker{
		Base: Base{
			Host:             host,
			Container:        container,
			MgmtNetHost:      mgmtNetHost,
			MgmtNetPrefixLen: mgmtNetPrefixLen,
			MgmtIP:           mgmtIP,
			Exec:             exec,
		},
		ID:     id,
		IntNet: intNet,
		ExtNet: extNet,
		GwNet:  gwNet,
	}
}

// SwitchName returns the name of this worker's own node switch, used
// by callers (e.g. internal/namespace) that only have a port's
// Metadata back-reference and need to know which switch to attach a
// namespace-scoped load balancer to.
func (w *Worker) SwitchName() string { return w.Switch.Name }

func (w *Worker) names() (lrp, lsRP, gwRouter, joinGRP, joinLSRP, extSwitch, extLRP, extLSRP, physnet string) {
	lrp = "rtr-to-node-" + w.Container
	lsRP = "node-to-rtr-" + w.Container
	gwRouter = "gwrouter-" + w.Container
	joinGRP = "gw-to-join-" + w.Container
	joinLSRP = "join-to-gw-" + w.Container
	extSwitch = "ext-" + w.Container
	extLRP = "gw-to-ext-" + w.Container
	extLSRP = "ext-to-gw-" + w.Container
	physnet = "provnet-" + w.Container
	return
}

// Start registers this worker as a chassis with the SB via the
// orchestration script's add-chassis verb, grounded on
// ovn_workload.py's WorkerNode.start.
func (w *Worker) Start(ctx context.Context, cfg CmdConfig) error {
	cmd := w.BuildCmd(cfg, "add-chassis", w.Container, "tcp:0.0.0.1:6642")
	if _, err := w.Run(ctx, cmd); err != nil {
		return errors.New(errors.CodeTransportError, "node: worker start failed").
			WithOperation("worker_start").WithContext("container", w.Container).WithCause(err)
	}
	return nil
}

// Connect points this chassis at nodeRemote, the NB-relay or NB-leader
// remote address it should register ovn-remote as.
func (w *Worker) Connect(ctx context.Context, cfg CmdConfig, nodeRemote string) error {
	cmd := w.BuildCmd(cfg, "set-chassis-ovn-remote", w.Container, nodeRemote)
	if _, err := w.Run(ctx, cmd); err != nil {
		return errors.New(errors.CodeTransportError, "node: worker connect failed").
			WithOperation("worker_connect").WithContext("container", w.Container).WithCause(err)
	}
	return nil
}

// WaitBound polls the SB every 100ms until this chassis is bound or
// nodeTimeoutS elapses, returning CodeChassisTimeout on expiry.
func (w *Worker) WaitBound(ctx context.Context, sb dbclient.SBClient, nodeTimeoutS int) error {
	w.sb = sb
	deadline := time.Now().Add(time.Duration(nodeTimeoutS) * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		bound, err := sb.ChassisBound(ctx, w.Container)
		if err != nil {
			return err
		}
		if bound {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New(errors.CodeChassisTimeout, "node: chassis did not bind before deadline").
				WithOperation("wait_bound").WithContext("container", w.Container)
		}
		select {
		case <-ctx.Done():
			return errors.New(errors.CodeChassisTimeout, "node: context canceled waiting for chassis").
				WithOperation("wait_bound").WithContext("container", w.Container).WithCause(ctx.Err())
		case <-ticker.C:
		}
	}
}

// Provision builds this worker's node switch, gateway router, and
// external switch, and wires the routes/NAT/localnet state that lets
// its ports reach the rest of the cluster and the outside network,
// following spec §4.4's seven-step order:
//  1. connect / 2. wait bound happen before Provision is called;
//  3. node switch + cluster-router peer pair, pinned to this chassis;
//  4. gateway router + join-switch peer pair;
//  5. external switch + localnet port;
//  6. routes (cluster-net via join, default via ext gw, src-ip policy
//     route on the cluster router back through this worker) and the
//     gateway router's SNAT/lb_force_snat_ip state;
//  7. the host-side localnet bridge mapping and external netns.
//
// Grounded on ovn_workload.py's WorkerNode.configure/provision and
// ovn_utils.py's OvnNbctl methods it calls.
func (w *Worker) Provision(ctx context.Context, deps ProvisionDeps, physicalNet string) error {
	lrpName, lsRPName, gwRouterName, joinGRPName, joinLSRPName, extSwitchName, extLRPName, extLSRPName, physnetName := w.names()

	// Step 3: node switch peered with the cluster router, pinned here.
	sw, err := deps.NB.LSAdd(ctx, "lswitch-"+w.Container, w.IntNet)
	if err != nil {
		return err
	}
	w.Switch = sw

	lrpIP, err := w.IntNet.Reverse(1)
	if err != nil {
		return err
	}
	if _, err := deps.NB.LRPortAdd(ctx, deps.Router, lrpName, topology.DeterministicMAC(lrpName), dualStackNetworks(lrpIP)...); err != nil {
		return err
	}
	if _, err := deps.NB.LSPortAdd(ctx, sw, lsRPName, "router", map[string]string{"router-port": lrpName}); err != nil {
		return err
	}
	if err := deps.NB.SetGatewayChassis(ctx, lrpName, w.Container, 10); err != nil {
		return err
	}

	// Step 4: this worker's own gateway router, peered onto the shared
	// join switch.
	gwRouter, err := deps.NB.LRAdd(ctx, gwRouterName)
	if err != nil {
		return err
	}
	w.GWRouter = gwRouter

	grGW, err := w.GwNet.Reverse(2 + w.ID)
	if err != nil {
		return err
	}
	if _, err := deps.NB.LRPortAdd(ctx, gwRouter, joinGRPName, topology.DeterministicMAC(joinGRPName), dualStackNetworks(grGW)...); err != nil {
		return err
	}
	if _, err := deps.NB.LSPortAdd(ctx, deps.JoinSwitch, joinLSRPName, "router", map[string]string{"router-port": joinGRPName}); err != nil {
		return err
	}

	// Step 5: external switch, peered onto the gateway router, with the
	// localnet port that maps it onto the physical network.
	extSwitch, err := deps.NB.LSAdd(ctx, extSwitchName, w.ExtNet)
	if err != nil {
		return err
	}
	w.ExtSwitch = extSwitch

	extLRPIP, err := w.ExtNet.Reverse(1)
	if err != nil {
		return err
	}
	if _, err := deps.NB.LRPortAdd(ctx, gwRouter, extLRPName, topology.DeterministicMAC(extLRPName), dualStackNetworks(extLRPIP)...); err != nil {
		return err
	}
	if _, err := deps.NB.LSPortAdd(ctx, extSwitch, extLSRPName, "router", map[string]string{"router-port": extLRPName}); err != nil {
		return err
	}
	if _, err := deps.NB.LSPortAdd(ctx, extSwitch, physnetName, "localnet", map[string]string{"network_name": physicalNet}, "unknown"); err != nil {
		return err
	}

	// Step 6: routes, the src-ip policy route back through this
	// worker's gateway router, and its SNAT/force-snat state.
	clusterPrefix4, clusterPrefix6 := prefixStrings(deps.ClusterNet)
	grGW4, grGW6 := addrStrings(grGW)
	joinGW4, joinGW6 := addrStrings(deps.JoinGatewayIP)
	if err := deps.NB.RouteAdd(ctx, gwRouter, clusterPrefix4, joinGW4, clusterPrefix6, joinGW6); err != nil {
		return err
	}

	extGW, err := w.ExtNet.Reverse(2)
	if err != nil {
		return err
	}
	extGW4, extGW6 := addrStrings(extGW)
	def4, def6 := "", ""
	if extGW4 != "" {
		def4 = "0.0.0.0/0"
	}
	if extGW6 != "" {
		def6 = "::/0"
	}
	if err := deps.NB.RouteAdd(ctx, gwRouter, def4, extGW4, def6, extGW6); err != nil {
		return err
	}

	intPrefix4, intPrefix6 := prefixStrings(w.IntNet)
	if err := deps.NB.RouteAddPolicy(ctx, deps.Router, intPrefix4, grGW4, intPrefix6, grGW6, "src-ip"); err != nil {
		return err
	}

	forceSNAT := grGW4
	if forceSNAT == "" {
		forceSNAT = grGW6
	}
	if forceSNAT != "" {
		if err := deps.NB.SetRouterOption(ctx, gwRouter, "lb_force_snat_ip", forceSNAT); err != nil {
			return err
		}
	}
	if err := deps.NB.NATAdd(ctx, gwRouter, "snat", grGW4, clusterPrefix4, grGW6, clusterPrefix6); err != nil {
		return err
	}

	// Step 7: host-side bridge mapping and external netns.
	return w.configureExternal(ctx, physicalNet, extGW)
}

func (w *Worker) configureExternal(ctx context.Context, physicalNet string, extGW netaddrx.DualStackIP) error {
	hostIP, err := w.ExtNet.Reverse(2)
	if err != nil {
		return err
	}

	cmds := []string{
		fmt.Sprintf("ovs-vsctl -- set open_vswitch . external-ids:ovn-bridge-mappings=%s:br-ex", physicalNet),
		"ip netns add ext-ns",
		"ip link add veth0 type veth peer name veth1",
		"ip link set veth0 netns ext-ns",
		"ip netns exec ext-ns ip link set dev veth0 up",
		"ip link set dev veth1 up",
		"ovs-vsctl -- add-port br-ex veth1",
	}
	if hostIP.HasIP4() {
		cmds = append(cmds,
			fmt.Sprintf("ip netns exec ext-ns ip addr add %s/%d dev veth0", hostIP.IP4, hostIP.Plen4),
			fmt.Sprintf("ip netns exec ext-ns ip route add default via %s", extGW.IP4))
	}
	if hostIP.HasIP6() {
		cmds = append(cmds,
			fmt.Sprintf("ip netns exec ext-ns ip -6 addr add %s/%d dev veth0", hostIP.IP6, hostIP.Plen6),
			fmt.Sprintf("ip netns exec ext-ns ip -6 route add default via %s", extGW.IP6))
	}

	if _, err := w.Run(ctx, strings.Join(cmds, " ; ")); err != nil {
		return errors.New(errors.CodeTransportError, "node: configure external networking failed").
			WithOperation("configure_external").WithContext("container", w.Container).WithCause(err)
	}
	return nil
}

// ProvisionPort creates the next lp-<id>-<seq> pod port on this
// worker's node switch, derives its pod/default-gw/external-gw
// addressing from IntNet/ExtNet, and records it for later bind/ping.
// Grounded on ovn_workload.py's WorkerNode.provision_port.
func (w *Worker) ProvisionPort(ctx context.Context, nb *topology.Topology, passive bool) (*types.LSPort, error) {
	seq := w.NextLPortIndex
	name := fmt.Sprintf("lp-%d-%d", w.ID, seq)

	ip, err := w.IntNet.Forward(seq + 1)
	if err != nil {
		return nil, err
	}
	gw, err := w.IntNet.Reverse(1)
	if err != nil {
		return nil, err
	}
	extGW, err := w.ExtNet.Reverse(2)
	if err != nil {
		return nil, err
	}

	mac := topology.DeterministicMAC(name)
	addrs := []string{mac}
	if ip.HasIP4() {
		addrs = append(addrs, ip.IP4.String())
	}
	if ip.HasIP6() {
		addrs = append(addrs, ip.IP6.String())
	}

	lsp, err := nb.LSPortAdd(ctx, w.Switch, name, "", nil, addrs...)
	if err != nil {
		return nil, err
	}
	if err := nb.SetPortSecurity(ctx, name, addrs...); err != nil {
		return nil, err
	}

	port := &types.LSPort{
		Name:     name,
		MAC:      mac,
		IP:       ip,
		Passive:  passive,
		UUID:     lsp.UUID,
		Metadata: w,
	}
	if ip.HasIP4() {
		port.GW4, port.ExtGW4 = gw.IP4, extGW.IP4
	}
	if ip.HasIP6() {
		port.GW6, port.ExtGW6 = gw.IP6, extGW.IP6
	}

	w.NextLPortIndex++
	w.LPorts = append(w.LPorts, port)
	return port, nil
}

// ProvisionPorts provisions count new ports on this worker.
func (w *Worker) ProvisionPorts(ctx context.Context, nb *topology.Topology, count int, passive bool) ([]*types.LSPort, error) {
	out := make([]*types.LSPort, 0, count)
	for i := 0; i < count; i++ {
		port, err := w.ProvisionPort(ctx, nb, passive)
		if err != nil {
			return out, err
		}
		out = append(out, port)
	}
	return out, nil
}

// BindPort attaches port's vif to br-int and, for non-passive ports,
// creates a netns with the port's own address and default route so
// PingPort has something to ping from.
func (w *Worker) BindPort(ctx context.Context, port *types.LSPort) error {
	cmds := []string{
		fmt.Sprintf("ovs-vsctl -- add-port br-int %s -- set interface %s external-ids:iface-id=%s", port.Name, port.Name, port.Name),
	}
	if !port.Passive {
		cmds = append(cmds,
			fmt.Sprintf("ip netns add %s", port.Name),
			fmt.Sprintf("ip link set %s netns %s", port.Name, port.Name),
			fmt.Sprintf("ip netns exec %s ip link set dev %s address %s", port.Name, port.Name, port.MAC),
			fmt.Sprintf("ip netns exec %s ip link set dev %s up", port.Name, port.Name),
		)
		if port.IP.HasIP4() {
			cmds = append(cmds,
				fmt.Sprintf("ip netns exec %s ip addr add %s/%d dev %s", port.Name, port.IP.IP4, port.IP.Plen4, port.Name),
				fmt.Sprintf("ip netns exec %s ip route add default via %s", port.Name, port.GW4))
		}
		if port.IP.HasIP6() {
			cmds = append(cmds,
				fmt.Sprintf("ip netns exec %s ip -6 addr add %s/%d dev %s", port.Name, port.IP.IP6, port.IP.Plen6, port.Name),
				fmt.Sprintf("ip netns exec %s ip -6 route add default via %s", port.Name, port.GW6))
		}
	}

	if _, err := w.Run(ctx, strings.Join(cmds, " ; ")); err != nil {
		return errors.New(errors.CodeTransportError, "node: bind port failed").
			WithOperation("bind_port").WithContext("port", port.Name).WithCause(err)
	}
	return nil
}

// UnbindPort tears down the netns and ovs port BindPort created.
func (w *Worker) UnbindPort(ctx context.Context, port *types.LSPort) error {
	cmds := []string{fmt.Sprintf("ovs-vsctl -- del-port br-int %s", port.Name)}
	if !port.Passive {
		cmds = append(cmds, fmt.Sprintf("ip netns del %s", port.Name))
	}
	if _, err := w.Run(ctx, strings.Join(cmds, " ; ")); err != nil {
		return errors.New(errors.CodeTransportError, "node: unbind port failed").
			WithOperation("unbind_port").WithContext("port", port.Name).WithCause(err)
	}
	return nil
}

// UnprovisionPort unbinds and deletes port's Logical_Switch_Port row,
// and drops it from this worker's tracked port list.
func (w *Worker) UnprovisionPort(ctx context.Context, nb *topology.Topology, port *types.LSPort) error {
	if err := w.UnbindPort(ctx, port); err != nil {
		return err
	}
	if err := nb.DeleteLSPort(ctx, port.Name); err != nil {
		return err
	}
	for i, p := range w.LPorts {
		if p == port {
			w.LPorts = append(w.LPorts[:i], w.LPorts[i+1:]...)
			break
		}
	}
	return nil
}

// PingPort pings dest from port's own netns, retrying every 100ms
// until it succeeds or nodeTimeoutS elapses. dest defaults to port's
// external gateway when empty.
func (w *Worker) PingPort(ctx context.Context, port *types.LSPort, dest string, nodeTimeoutS int) error {
	if dest == "" {
		if port.ExtGW4.IsValid() {
			dest = port.ExtGW4.String()
		} else {
			dest = port.ExtGW6.String()
		}
	}
	return w.runPing(ctx, port.Name, dest, nodeTimeoutS)
}

// PingExternal pings port's own address from the worker's external
// netns, the reverse direction of PingPort.
func (w *Worker) PingExternal(ctx context.Context, port *types.LSPort, nodeTimeoutS int) error {
	dest := ""
	if port.IP.HasIP4() {
		dest = port.IP.IP4.String()
	} else {
		dest = port.IP.IP6.String()
	}
	return w.runPing(ctx, "ext-ns", dest, nodeTimeoutS)
}

// PingPorts pings every port in ports in turn, stopping at the first
// failure.
func (w *Worker) PingPorts(ctx context.Context, ports []*types.LSPort, nodeTimeoutS int) error {
	for _, port := range ports {
		if err := w.PingPort(ctx, port, "", nodeTimeoutS); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) runPing(ctx context.Context, srcNS, dest string, nodeTimeoutS int) error {
	cmd := fmt.Sprintf("ip netns exec %s ping -q -c 1 -W 1 %s", srcNS, dest)
	deadline := time.Now().Add(time.Duration(nodeTimeoutS) * time.Second)

	for {
		if _, err := w.Run(ctx, cmd); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New(errors.CodePingTimeout, "node: ping did not succeed before deadline").
				WithOperation("ping").WithContext("src", srcNS).WithContext("dest", dest)
		}
		select {
		case <-ctx.Done():
			return errors.New(errors.CodePingTimeout, "node: context canceled waiting for ping").
				WithOperation("ping").WithContext("src", srcNS).WithContext("dest", dest).WithCause(ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Check re-polls this chassis's SB binding, satisfying types.HealthChecker
// so a running cluster can be monitored the same way it's brought up,
// through WaitBound's own sb handle rather than a second connection.
func (w *Worker) Check(ctx context.Context) (types.HealthStatus, error) {
	start := time.Now()
	status := types.HealthStatus{LastCheck: time.Now()}
	if w.sb == nil {
		status.Status = "unknown"
		status.Message = "chassis not yet connected"
		return status, nil
	}
	bound, err := w.sb.ChassisBound(ctx, w.Container)
	status.Response = time.Since(start)
	if err != nil {
		status.Status = "error"
		status.ErrorCount = 1
		status.Message = err.Error()
		return status, err
	}
	if !bound {
		status.Status = "error"
		status.ErrorCount = 1
		status.Message = "chassis not bound"
		return status, errors.New(errors.CodeChassisTimeout, "node: chassis not bound").
			WithOperation("health_check").WithContext("container", w.Container)
	}
	status.Status = "healthy"
	return status, nil
}

// Name identifies this node in a HealthCheck report.
func (w *Worker) Name() string { return w.Container }

var _ types.HealthChecker = (*Worker)(nil)

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

func prefixStrings(s netaddrx.DualStackSubnet) (p4, p6 string) {
	if s.N4.IsValid() {
		p4 = s.N4.String()
	}
	if s.N6.IsValid() {
		p6 = s.N6.String()
	}
	return
}

func addrStrings(ip netaddrx.DualStackIP) (a4, a6 string) {
	if ip.HasIP4() {
		a4 = ip.IP4.String()
	}
	if ip.HasIP6() {
		a6 = ip.IP6.String()
	}
	return
}

