package types

import (
	"net/netip"
	"time"

	"github.com/ovn-tester/ovnscale/pkg/netaddrx"
)

// DualStackIP and DualStackSubnet are re-exported from pkg/netaddrx so call
// sites that otherwise only deal with the topology model can write
// types.DualStackIP without importing netaddrx directly.
type (
	DualStackIP     = netaddrx.DualStackIP
	DualStackSubnet = netaddrx.DualStackSubnet
)

// LRouter is a logical router.
type LRouter struct {
	UUID string
	Name string
}

// LRPort is a logical router port. The parent router is implicit in how
// it was created, matching ovn-heater's LRPort namedtuple.
type LRPort struct {
	Name string
	MAC  string
	IP   DualStackIP
}

// LSwitch is a logical switch together with the subnets its ports are
// drawn from.
type LSwitch struct {
	UUID string
	Name string
	CIDR DualStackSubnet
}

// LSPort is a logical switch port: a VM/pod-facing port with dual-stack
// addressing, an optional default gateway, and an optional external
// gateway used by load-balancer and NAT scenarios.
type LSPort struct {
	Name string
	MAC  string
	IP   DualStackIP

	GW4 netip.Addr
	GW6 netip.Addr

	ExtGW4 netip.Addr
	ExtGW6 netip.Addr

	// Metadata references the owning entity (typically a *Namespace);
	// opaque to the topology layer, interpreted by callers.
	Metadata interface{}

	// Passive ports are bound but never pinged by test scenarios.
	Passive bool

	UUID string
}

// PortGroup is a named group of logical switch ports used as an ACL
// match target.
type PortGroup struct {
	Name string
}

// AddressSet is a named set of addresses used as an ACL match target.
type AddressSet struct {
	Name string
}

// LoadBalancer is a Load_Balancer row. VIPs maps a VIP endpoint
// ("ip:port") to its backend endpoint list; an empty backend list is
// legal (a VIP with no backends yet).
type LoadBalancer struct {
	Name string
	UUID string
	VIPs map[string][]string
}

// LoadBalancerGroup is a Load_Balancer_Group row.
type LoadBalancerGroup struct {
	Name string
	UUID string
}

// HealthStatus reports the result of a single health probe (chassis
// bound, worker reachable, sync caught up).
type HealthStatus struct {
	Status     string            `json:"status"`
	LastCheck  time.Time         `json:"last_check"`
	Response   time.Duration     `json:"response_time"`
	ErrorCount int64             `json:"error_count"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
}

// ConnectionStats reports DB-client connection pool occupancy, surfaced
// through the iteration driver's phase reports.
type ConnectionStats struct {
	Active      int           `json:"active"`
	Idle        int           `json:"idle"`
	Total       int           `json:"total"`
	MaxOpen     int           `json:"max_open"`
	Lifetime    time.Duration `json:"lifetime"`
	IdleTimeout time.Duration `json:"idle_timeout"`
}
