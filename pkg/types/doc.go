/*
Package types provides the core data structures and interfaces shared
across ovnscale: the logical-network model (routers, switches, ports,
port groups, address sets, load balancers) and the boundary interfaces
(Exec, DBClient, HealthChecker) that let the topology, node, cluster and
driver layers compose without depending on each other's concrete types.

# Data model

The logical-network types mirror ovn-heater's own model one level up
from raw OVSDB rows: an LSwitch carries the dual-stack subnet its ports
are drawn from, an LSPort carries the address(es), MAC, and optional
gateways derived from that subnet, and PortGroup/AddressSet/
LoadBalancer/LoadBalancerGroup are thin named handles the topology layer
resolves to UUIDs on creation.

DualStackIP and DualStackSubnet are re-exported from pkg/netaddrx as
type aliases so callers working purely in terms of the network model
don't need a second import for address arithmetic.

# Boundary interfaces

Exec and DBClient are the two interfaces every higher layer is written
against rather than against internal/exec and internal/dbclient
directly, which is what lets internal/cluster's tests substitute an
in-memory fake for a real SSH channel or OVSDB connection.
*/
package types
