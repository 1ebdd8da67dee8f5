package topology

import (
	"context"
	"fmt"

	"github.com/ovn-tester/ovnscale/pkg/errors"
	"github.com/ovn-tester/ovnscale/pkg/types"
)

// Priorities fixed by the namespace policy model (spec §4.6): allow
// rules outrank the default-deny rules they carve exceptions into,
// and ARP is always allowed above both so neighbor discovery never
// gets caught by a network policy.
const (
	PriorityDefaultDeny     = 1
	PriorityDefaultAllowARP = 2
	PriorityNetworkPolicy   = 3
)

// ACLAdd installs an ACL on port group pg, keyed on
// (port group, direction, priority, match) so re-adding the same rule
// is a no-op: spec.md requires the harness never depend on iteration
// order, and repeated namespace-enforcement calls must not pile up
// duplicate ACL rows.
func (t *Topology) ACLAdd(ctx context.Context, pg types.PortGroup, direction string, priority int, match, action string) error {
	key := fmt.Sprintf("%s|%s|%d|%s", pg.Name, direction, priority, match)

	t.mu.Lock()
	_, seen := t.aclSeen[key]
	t.mu.Unlock()
	if seen {
		return nil
	}

	row := map[string]interface{}{
		"direction": direction,
		"priority":  priority,
		"match":     match,
		"action":    action,
	}
	uuid, err := t.nb.CreateWithRetry(ctx, "ACL", key, row, nil)
	if err != nil {
		return errors.New(errors.CodeCommitError, "topology: acl_add failed").
			WithOperation("acl_add").WithContext("port_group", pg.Name).WithCause(err)
	}

	if err := t.mutateSetByName(ctx, "Port_Group", pg.Name, "acls", "insert", []interface{}{[]interface{}{"uuid", uuid}}); err != nil {
		return errors.New(errors.CodeCommitError, "topology: acl_add attach failed").
			WithOperation("acl_add").WithContext("port_group", pg.Name).WithCause(err)
	}

	t.mu.Lock()
	t.aclSeen[key] = uuid
	t.mu.Unlock()
	return nil
}
