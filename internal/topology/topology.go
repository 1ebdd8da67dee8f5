// Package topology implements C4: thin typed wrappers over C3
// (internal/dbclient) for every logical-network object the node,
// cluster, and namespace layers above it create — routers, switches,
// ports, port groups, address sets, ACLs, routes, NAT entries, and
// load balancers. Every create funnels through
// dbclient.NBClient.CreateWithRetry so object creation survives a
// leader election without double-creating anything.
package topology

import (
	"context"
	"crypto/sha1"
	"fmt"
	"sync"

	"github.com/ovn-tester/ovnscale/internal/dbclient"
)

// Topology drives one Northbound connection. Safe for concurrent use;
// the only in-process state it keeps is the ACL dedup set, guarded by
// its own mutex.
type Topology struct {
	nb dbclient.NBClient

	mu      sync.Mutex
	aclSeen map[string]string // dedup key -> ACL UUID
}

// New wraps nb (a *dbclient.Client or *dbclient.Fake) with the typed
// topology operations.
func New(nb dbclient.NBClient) *Topology {
	return &Topology{nb: nb, aclSeen: make(map[string]string)}
}

// Sync exposes the barrier-commit wait to callers that need to
// observe a batch of prior writes having propagated.
func (t *Topology) Sync(ctx context.Context, wait dbclient.SyncWait) error {
	return t.nb.SyncWait(ctx, wait)
}

// SetGlobalOption sets one NB_Global.options key, used during cluster
// bring-up to configure northd probe intervals and similar knobs.
func (t *Topology) SetGlobalOption(ctx context.Context, option, value string) error {
	return t.nb.SetGlobalOption(ctx, option, value)
}

// SetInactivityProbe configures the Connection row's inactivity probe.
func (t *Topology) SetInactivityProbe(ctx context.Context, ms int) error {
	return t.nb.SetInactivityProbe(ctx, ms)
}

// DeterministicMAC derives a locally-administered MAC address from
// name so repeated calls for the same logical port are idempotent
// without callers needing to track a counter themselves; ovn-heater
// instead hands out MACs from an incrementing allocator fed by the
// test driver, which this harness has no equivalent of since port
// creation here is retried transparently by CreateWithRetry.
func DeterministicMAC(name string) string {
	sum := sha1.Sum([]byte(name))
	return fmt.Sprintf("02:%02x:%02x:%02x:%02x:%02x", sum[0], sum[1], sum[2], sum[3], sum[4])
}

// lookupByName returns a LookupFunc that finds an existing row in
// table by its "name" column, the natural key every object in this
// package is created under.
func (t *Topology) lookupByName(ctx context.Context, table, name string) dbclient.LookupFunc {
	return func() (string, bool, error) {
		return t.nb.LookupByName(ctx, table, name)
	}
}
