// Package namespace implements C7: the namespace/network-policy
// model layered on top of C4's port groups and address sets — a
// default-deny-by-default group of ports with allow rules carved out
// for specific traffic shapes. Grounded on ovn_workload.py's
// Namespace class.
package namespace

import (
	"context"
	"fmt"

	"github.com/ovn-tester/ovnscale/internal/topology"
	"github.com/ovn-tester/ovnscale/pkg/errors"
	"github.com/ovn-tester/ovnscale/pkg/types"
)

const (
	directionToLport = "to-lport"

	actionDrop         = "drop"
	actionAllow        = "allow"
	actionAllowRelated = "allow-related"
)

// Namespace is the bundle spec §4.6 defines: an address set, a main
// port group, and two deny-scoped port groups (pg_deny_in/pg_deny_out
// in the spec's naming) that default-deny carves its drop/allow-ARP
// ACLs onto separately from the allow rules Enforce's callers add to
// PG. Grounded on ovn_workload.py's create_namespace/Namespace, whose
// __init__ carries the same three-port-group split
// (pg_def_deny_igr/pg_def_deny_egr/pg) rather than one shared group.
type Namespace struct {
	Name string

	PG        types.PortGroup
	PGDenyIn  types.PortGroup
	PGDenyOut types.PortGroup
	AddrSet   types.AddressSet
	Ports     []*types.LSPort
	Enforcing bool

	Parent        *Namespace
	SubNamespaces []*Namespace
}

// New creates the three port groups and one address set a namespace
// owns, without yet enforcing default-deny (callers call Enforce once
// every port has been added).
func New(ctx context.Context, topo *topology.Topology, name string) (*Namespace, error) {
	pgDenyIn, err := topo.PortGroupAdd(ctx, "pg_deny_in_"+name)
	if err != nil {
		return nil, err
	}
	pgDenyOut, err := topo.PortGroupAdd(ctx, "pg_deny_out_"+name)
	if err != nil {
		return nil, err
	}
	pg, err := topo.PortGroupAdd(ctx, "pg_"+name)
	if err != nil {
		return nil, err
	}
	as, err := topo.AddressSetAdd(ctx, "as_"+name)
	if err != nil {
		return nil, err
	}
	return &Namespace{Name: name, PG: pg, PGDenyIn: pgDenyIn, PGDenyOut: pgDenyOut, AddrSet: as}, nil
}

// CreateSubNamespace creates a child namespace of ns (its own port
// group/address set, tracked under ns.SubNamespaces) used by tests
// that need to carve one namespace into several independently
// addressable groups (spec §4.6's sub-namespace allow rules).
func (ns *Namespace) CreateSubNamespace(ctx context.Context, topo *topology.Topology, name string) (*Namespace, error) {
	sub, err := New(ctx, topo, ns.Name+"-"+name)
	if err != nil {
		return nil, err
	}
	sub.Parent = ns
	ns.SubNamespaces = append(ns.SubNamespaces, sub)
	return sub, nil
}

// AddPorts always extends the address set; it only extends the three
// port groups once the namespace is enforcing, mirroring
// ovn_workload.py's add_ports comment: "simulate what OpenShift does,
// which is: create the port groups when the first network policy is
// applied."
func (ns *Namespace) AddPorts(ctx context.Context, topo *topology.Topology, ports []*types.LSPort) error {
	uuids := make([]string, len(ports))
	addrs := make([]string, 0, len(ports)*2)
	for i, p := range ports {
		uuids[i] = p.UUID
		if p.IP.HasIP4() {
			addrs = append(addrs, p.IP.IP4.String())
		}
		if p.IP.HasIP6() {
			addrs = append(addrs, p.IP.IP6.String())
		}
	}
	if len(addrs) > 0 {
		if err := topo.AddAddresses(ctx, ns.AddrSet, addrs); err != nil {
			return err
		}
	}
	if ns.Enforcing {
		if err := ns.addPortsToGroups(ctx, topo, uuids); err != nil {
			return err
		}
	}
	ns.Ports = append(ns.Ports, ports...)
	return nil
}

// addPortsToGroups extends all three of the namespace's port groups
// with portUUIDs.
func (ns *Namespace) addPortsToGroups(ctx context.Context, topo *topology.Topology, portUUIDs []string) error {
	if err := topo.AddPortsToPortGroup(ctx, ns.PGDenyIn, portUUIDs); err != nil {
		return err
	}
	if err := topo.AddPortsToPortGroup(ctx, ns.PGDenyOut, portUUIDs); err != nil {
		return err
	}
	return topo.AddPortsToPortGroup(ctx, ns.PG, portUUIDs)
}

// UnprovisionPorts removes ports from this namespace's three port
// groups and address set and drops them from ns.Ports, leaving the
// namespace itself (and any other ports still in it) intact.
func (ns *Namespace) UnprovisionPorts(ctx context.Context, topo *topology.Topology, ports []*types.LSPort) error {
	uuids := make([]string, len(ports))
	addrs := make([]string, 0, len(ports)*2)
	for i, p := range ports {
		uuids[i] = p.UUID
		if p.IP.HasIP4() {
			addrs = append(addrs, p.IP.IP4.String())
		}
		if p.IP.HasIP6() {
			addrs = append(addrs, p.IP.IP6.String())
		}
	}
	if err := topo.RemovePortsFromPortGroup(ctx, ns.PGDenyIn, uuids); err != nil {
		return err
	}
	if err := topo.RemovePortsFromPortGroup(ctx, ns.PGDenyOut, uuids); err != nil {
		return err
	}
	if err := topo.RemovePortsFromPortGroup(ctx, ns.PG, uuids); err != nil {
		return err
	}
	if len(addrs) > 0 {
		if err := topo.RemoveAddresses(ctx, ns.AddrSet, addrs); err != nil {
			return err
		}
	}

	removed := make(map[string]bool, len(ports))
	for _, p := range ports {
		removed[p.Name] = true
	}
	kept := ns.Ports[:0]
	for _, p := range ns.Ports {
		if !removed[p.Name] {
			kept = append(kept, p)
		}
	}
	ns.Ports = kept
	return nil
}

// Unprovision removes every port still in the namespace and deletes
// its three port groups and address set. Sub-namespaces are not
// touched; callers unprovision them individually first if they should
// also be torn down.
func (ns *Namespace) Unprovision(ctx context.Context, topo *topology.Topology) error {
	if len(ns.Ports) > 0 {
		if err := ns.UnprovisionPorts(ctx, topo, append([]*types.LSPort{}, ns.Ports...)); err != nil {
			return err
		}
	}
	if err := topo.DeletePortGroup(ctx, ns.PGDenyIn); err != nil {
		return err
	}
	if err := topo.DeletePortGroup(ctx, ns.PGDenyOut); err != nil {
		return err
	}
	if err := topo.DeletePortGroup(ctx, ns.PG); err != nil {
		return err
	}
	return topo.DeleteAddressSet(ctx, ns.AddrSet)
}

// Enforce moves every port currently in the namespace into its three
// port groups, then installs the namespace's default-deny ACLs,
// exactly once; later calls are a no-op so tests can call it
// defensively before every allow rule without piling up duplicate
// ACLs (ACLAdd already dedups, but Enforce additionally tracks that
// the four fixed-priority rules only need to be requested once).
func (ns *Namespace) Enforce(ctx context.Context, topo *topology.Topology) error {
	if ns.Enforcing {
		return nil
	}
	if len(ns.Ports) > 0 {
		uuids := make([]string, len(ns.Ports))
		for i, p := range ns.Ports {
			uuids[i] = p.UUID
		}
		if err := ns.addPortsToGroups(ctx, topo, uuids); err != nil {
			return err
		}
	}
	if err := ns.defaultDeny(ctx, topo); err != nil {
		return err
	}
	ns.Enforcing = true
	return nil
}

// defaultDeny installs the four fixed-priority ACLs every enforced
// namespace carries, split across the two deny-scoped port groups per
// spec §4.6: deny traffic sourced by the namespace's own addr_set
// into PGDenyIn, deny traffic destined to addr_set out of PGDenyOut,
// then allow ARP/IPv6 neighbor discovery through each at a higher
// priority so neighbor discovery still functions under default-deny.
// Grounded on ovn_workload.py's default_deny, which installs the same
// four ACLs onto pg_def_deny_igr/pg_def_deny_egr rather than one
// shared group.
func (ns *Namespace) defaultDeny(ctx context.Context, topo *topology.Topology) error {
	denyIn := fmt.Sprintf("(ip4.src == $%s || ip6.src == $%s) && outport == @%s",
		ns.AddrSet.Name, ns.AddrSet.Name, ns.PGDenyIn.Name)
	if err := topo.ACLAdd(ctx, ns.PGDenyIn, directionToLport, topology.PriorityDefaultDeny, denyIn, actionDrop); err != nil {
		return err
	}
	denyOut := fmt.Sprintf("(ip4.dst == $%s || ip6.dst == $%s) && inport == @%s",
		ns.AddrSet.Name, ns.AddrSet.Name, ns.PGDenyOut.Name)
	if err := topo.ACLAdd(ctx, ns.PGDenyOut, directionToLport, topology.PriorityDefaultDeny, denyOut, actionDrop); err != nil {
		return err
	}
	allowARPIn := fmt.Sprintf("outport == @%s && (arp || nd)", ns.PGDenyIn.Name)
	if err := topo.ACLAdd(ctx, ns.PGDenyIn, directionToLport, topology.PriorityDefaultAllowARP, allowARPIn, actionAllow); err != nil {
		return err
	}
	allowARPOut := fmt.Sprintf("inport == @%s && (arp || nd)", ns.PGDenyOut.Name)
	return topo.ACLAdd(ctx, ns.PGDenyOut, directionToLport, topology.PriorityDefaultAllowARP, allowARPOut, actionAllow)
}

// AllowWithinNamespace carves out an exception allowing every port in
// the namespace to reach every other port in the same namespace.
func (ns *Namespace) AllowWithinNamespace(ctx context.Context, topo *topology.Topology) error {
	match := addressSetMatch(ns.AddrSet, ns.AddrSet)
	return topo.ACLAdd(ctx, ns.PG, directionToLport, topology.PriorityNetworkPolicy, match, actionAllowRelated)
}

// AllowCrossNamespace carves out an exception allowing traffic between
// ns and other, installed on both namespaces' port groups since each
// independently default-denies.
func (ns *Namespace) AllowCrossNamespace(ctx context.Context, topo *topology.Topology, other *Namespace) error {
	if err := topo.ACLAdd(ctx, ns.PG, directionToLport, topology.PriorityNetworkPolicy, addressSetMatch(ns.AddrSet, other.AddrSet), actionAllowRelated); err != nil {
		return err
	}
	return topo.ACLAdd(ctx, other.PG, directionToLport, topology.PriorityNetworkPolicy, addressSetMatch(other.AddrSet, ns.AddrSet), actionAllowRelated)
}

// AllowSubNamespace carves out an exception between two of ns's
// sub-namespaces, addressed by their index in ns.SubNamespaces.
func (ns *Namespace) AllowSubNamespace(ctx context.Context, topo *topology.Topology, srcIdx, dstIdx int) error {
	if srcIdx < 0 || srcIdx >= len(ns.SubNamespaces) || dstIdx < 0 || dstIdx >= len(ns.SubNamespaces) {
		return errors.New(errors.CodeInvalidConfig, "namespace: sub-namespace index out of range").
			WithContext("namespace", ns.Name)
	}
	return ns.SubNamespaces[srcIdx].AllowCrossNamespace(ctx, topo, ns.SubNamespaces[dstIdx])
}

// AllowFromExternal carves out an exception allowing traffic from the
// given external addresses (typically a test runner's own address)
// into the namespace; when includeExtGW is set, every port's own
// external gateway address is allowed too, letting the worker's
// ext-ns ping back into pods it pings out from (spec §4.4/§4.6's
// ping_external round trip).
func (ns *Namespace) AllowFromExternal(ctx context.Context, topo *topology.Topology, ips []string, includeExtGW bool) error {
	addrs := append([]string{}, ips...)
	if includeExtGW {
		for _, p := range ns.Ports {
			if p.ExtGW4.IsValid() {
				addrs = append(addrs, p.ExtGW4.String())
			}
			if p.ExtGW6.IsValid() {
				addrs = append(addrs, p.ExtGW6.String())
			}
		}
	}
	if len(addrs) == 0 {
		return nil
	}

	match := ""
	for i, addr := range addrs {
		if i > 0 {
			match += " || "
		}
		match += fmt.Sprintf("ip4.src == %s || ip6.src == %s", addr, addr)
	}
	return topo.ACLAdd(ctx, ns.PG, directionToLport, topology.PriorityNetworkPolicy, match, actionAllowRelated)
}

// CreateLoadBalancer creates a protocol-scoped load balancer attached
// to this namespace's port group, used by tests that provision VIPs
// scoped to one namespace rather than the whole cluster.
func (ns *Namespace) CreateLoadBalancer(ctx context.Context, topo *topology.Topology, protocol string) (types.LoadBalancer, error) {
	lb, err := topo.LBAdd(ctx, ns.Name+"-lb", protocol)
	if err != nil {
		return types.LoadBalancer{}, err
	}
	if err := topo.LBAddToSwitches(ctx, lb, switchNamesOf(ns.Ports)); err != nil {
		return types.LoadBalancer{}, err
	}
	return lb, nil
}

// ProvisionVIPsToLoadBalancer overwrites lb's VIP table.
func (ns *Namespace) ProvisionVIPsToLoadBalancer(ctx context.Context, topo *topology.Topology, lb types.LoadBalancer, vips map[string][]string) error {
	return topo.LBSetVIPs(ctx, lb, vips)
}

func addressSetMatch(src, dst types.AddressSet) string {
	return fmt.Sprintf("(ip4.src == $%s && ip4.dst == $%s) || (ip6.src == $%s && ip6.dst == $%s)",
		src.Name, dst.Name, src.Name, dst.Name)
}

func switchNamesOf(ports []*types.LSPort) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range ports {
		w, ok := p.Metadata.(interface{ SwitchName() string })
		if !ok {
			continue
		}
		name := w.SwitchName()
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
