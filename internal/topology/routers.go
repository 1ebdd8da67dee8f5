package topology

import (
	"context"

	"github.com/ovn-tester/ovnscale/pkg/errors"
	"github.com/ovn-tester/ovnscale/pkg/types"
)

// LRAdd creates a Logical_Router row named name, or returns the
// existing one's UUID if it was already created by a prior attempt.
func (t *Topology) LRAdd(ctx context.Context, name string) (types.LRouter, error) {
	row := map[string]interface{}{"name": name}
	uuid, err := t.nb.CreateWithRetry(ctx, "Logical_Router", name, row, t.lookupByName(ctx, "Logical_Router", name))
	if err != nil {
		return types.LRouter{}, errors.New(errors.CodeCommitError, "topology: lr_add failed").
			WithOperation("lr_add").WithContext("name", name).WithCause(err)
	}
	return types.LRouter{UUID: uuid, Name: name}, nil
}

// LRPortAdd creates a Logical_Router_Port on router and attaches it
// to the router's ports set. mac/ip are rendered by the caller (the
// node layer derives them from the worker's subnets).
func (t *Topology) LRPortAdd(ctx context.Context, router types.LRouter, name, mac string, networks ...string) (types.LRPort, error) {
	row := map[string]interface{}{
		"name":     name,
		"mac":      mac,
		"networks": networks,
	}
	uuid, err := t.nb.CreateWithRetry(ctx, "Logical_Router_Port", name, row, t.lookupByName(ctx, "Logical_Router_Port", name))
	if err != nil {
		return types.LRPort{}, errors.New(errors.CodeCommitError, "topology: lr_port_add failed").
			WithOperation("lr_port_add").WithContext("name", name).WithCause(err)
	}

	if err := t.attachToSet(ctx, "Logical_Router", router.UUID, "ports", uuid); err != nil {
		return types.LRPort{}, err
	}
	return types.LRPort{Name: name, MAC: mac}, nil
}

// SetGatewayChassis pins lrpName as a distributed gateway port on
// chassisName, the mechanism worker chassis provisioning uses to
// schedule its gateway router LRP on a specific chassis.
func (t *Topology) SetGatewayChassis(ctx context.Context, lrpName, chassisName string, priority int) error {
	gcName := lrpName + "-" + chassisName
	row := map[string]interface{}{
		"name":         gcName,
		"chassis_name": chassisName,
		"priority":     priority,
	}
	gcUUID, err := t.nb.CreateWithRetry(ctx, "Gateway_Chassis", gcName, row, t.lookupByName(ctx, "Gateway_Chassis", gcName))
	if err != nil {
		return errors.New(errors.CodeCommitError, "topology: set_gateway_chassis failed").
			WithOperation("set_gateway_chassis").WithContext("lrp", lrpName).WithCause(err)
	}
	return t.attachNamedToSet(ctx, "Logical_Router_Port", lrpName, "gateway_chassis", gcUUID)
}

// RouteAdd installs a dst-ip static route on router for each address
// family present in both prefix and nexthop; a family present on only
// one side is silently skipped, matching ovn_utils.py's route_add.
func (t *Topology) RouteAdd(ctx context.Context, router types.LRouter, prefix4, nexthop4, prefix6, nexthop6 string) error {
	return t.RouteAddPolicy(ctx, router, prefix4, nexthop4, prefix6, nexthop6, "dst-ip")
}

// RouteAddPolicy is RouteAdd with an explicit route policy ("dst-ip"
// or "src-ip"), needed for the cluster router's src-ip policy route
// that forces cluster<->gateway traffic back through the originating
// worker (spec §4.4 step 6).
func (t *Topology) RouteAddPolicy(ctx context.Context, router types.LRouter, prefix4, nexthop4, prefix6, nexthop6, policy string) error {
	if prefix4 != "" && nexthop4 != "" {
		if err := t.addRoute(ctx, router, prefix4, nexthop4, policy); err != nil {
			return err
		}
	}
	if prefix6 != "" && nexthop6 != "" {
		if err := t.addRoute(ctx, router, prefix6, nexthop6, policy); err != nil {
			return err
		}
	}
	return nil
}

func (t *Topology) addRoute(ctx context.Context, router types.LRouter, prefix, nexthop, policy string) error {
	row := map[string]interface{}{"ip_prefix": prefix, "nexthop": nexthop, "policy": policy}
	key := router.Name + "|" + prefix + "|" + nexthop + "|" + policy
	uuid, err := t.nb.CreateWithRetry(ctx, "Logical_Router_Static_Route", key, row, nil)
	if err != nil {
		return errors.New(errors.CodeCommitError, "topology: route_add failed").
			WithOperation("route_add").WithContext("router", router.Name).WithCause(err)
	}
	return t.attachToSet(ctx, "Logical_Router", router.UUID, "static_routes", uuid)
}

// NATAdd installs a NAT entry of natType ("snat", "dnat_and_snat") on
// router for each family present on both external and logical sides;
// a mismatched family is skipped, matching ovn_utils.py's nat_add.
func (t *Topology) NATAdd(ctx context.Context, router types.LRouter, natType, external4, logical4, external6, logical6 string) error {
	if external4 != "" && logical4 != "" {
		if err := t.addNAT(ctx, router, natType, external4, logical4); err != nil {
			return err
		}
	}
	if external6 != "" && logical6 != "" {
		if err := t.addNAT(ctx, router, natType, external6, logical6); err != nil {
			return err
		}
	}
	return nil
}

func (t *Topology) addNAT(ctx context.Context, router types.LRouter, natType, external, logical string) error {
	row := map[string]interface{}{
		"type":        natType,
		"external_ip": external,
		"logical_ip":  logical,
	}
	key := router.Name + "|" + natType + "|" + external + "|" + logical
	uuid, err := t.nb.CreateWithRetry(ctx, "NAT", key, row, nil)
	if err != nil {
		return errors.New(errors.CodeCommitError, "topology: nat_add failed").
			WithOperation("nat_add").WithContext("router", router.Name).WithCause(err)
	}
	return t.attachToSet(ctx, "Logical_Router", router.UUID, "nat", uuid)
}

// SetRouterOption sets a single key in router's options column, used
// for lb_force_snat_ip and similar per-router knobs.
func (t *Topology) SetRouterOption(ctx context.Context, router types.LRouter, option, value string) error {
	_, err := t.nb.Transact(ctx, []types.Operation{{
		Table: "Logical_Router",
		Where: [][]interface{}{{"_uuid", "==", []interface{}{"uuid", router.UUID}}},
		Mutate: map[string]interface{}{
			"options": map[string]string{option: value},
		},
	}})
	return err
}

// attachToSet mutates ownerTable's row identified by ownerUUID,
// inserting memberUUID into its set-typed column.
func (t *Topology) attachToSet(ctx context.Context, ownerTable, ownerUUID, column, memberUUID string) error {
	_, err := t.nb.Transact(ctx, []types.Operation{{
		Table: ownerTable,
		Where: [][]interface{}{{"_uuid", "==", []interface{}{"uuid", ownerUUID}}},
		Mutate: map[string]interface{}{
			column: []interface{}{"set", []interface{}{[]interface{}{"uuid", memberUUID}}},
		},
	}})
	if err != nil {
		return errors.New(errors.CodeCommitError, "topology: attach to set failed").
			WithContext("table", ownerTable).WithContext("column", column).WithCause(err)
	}
	return nil
}

// attachNamedToSet is attachToSet for an owner looked up by name
// rather than by UUID, used where the caller only has a row name
// (e.g. a logical router port).
func (t *Topology) attachNamedToSet(ctx context.Context, ownerTable, ownerName, column, memberUUID string) error {
	uuid, found, err := t.nb.LookupByName(ctx, ownerTable, ownerName)
	if err != nil {
		return err
	}
	if !found {
		return errors.New(errors.CodeCommitError, "topology: owner row not found").
			WithContext("table", ownerTable).WithContext("name", ownerName)
	}
	return t.attachToSet(ctx, ownerTable, uuid, column, memberUUID)
}
