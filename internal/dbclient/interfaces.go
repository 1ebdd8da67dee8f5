package dbclient

import (
	"context"

	"github.com/ovn-tester/ovnscale/pkg/types"
)

// NBClient is what internal/topology, internal/node, internal/cluster,
// and internal/namespace need from a Northbound connection. Both
// *Client (flavor NB) and *Fake satisfy it, so every package above
// this one composes against the interface and takes a real
// connection or a fake interchangeably in tests.
type NBClient interface {
	types.DBClient

	CreateWithRetry(ctx context.Context, table, naturalKey string, row map[string]interface{}, lookup LookupFunc) (string, error)
	LookupByName(ctx context.Context, table, name string) (string, bool, error)
	DeleteWhere(ctx context.Context, table string, where [][]interface{}) error
	SyncWait(ctx context.Context, wait SyncWait) error
	SetGlobalOption(ctx context.Context, option, value string) error
	SetInactivityProbe(ctx context.Context, ms int) error
}

// SBClient is what internal/node needs from a Southbound connection:
// whether a chassis has registered.
type SBClient interface {
	types.DBClient

	ChassisBound(ctx context.Context, chassis string) (bool, error)
	SetInactivityProbe(ctx context.Context, ms int) error
}

var (
	_ NBClient = (*Client)(nil)
	_ SBClient = (*Client)(nil)
	_ NBClient = (*Fake)(nil)
	_ SBClient = (*Fake)(nil)
)
