package topology

import (
	"context"
	"strings"

	"github.com/ovn-tester/ovnscale/pkg/errors"
	"github.com/ovn-tester/ovnscale/pkg/types"
)

// LBAdd creates a Load_Balancer row named name over the given
// protocol ("tcp" or "udp"), idempotent via the same create-with-retry
// path every other topology row uses: spec §4.3 calls for the raw
// row-create path here rather than a dedicated ovn-nbctl verb, since
// real ovn-nbctl has none for Load_Balancer either.
func (t *Topology) LBAdd(ctx context.Context, name, protocol string) (types.LoadBalancer, error) {
	row := map[string]interface{}{
		"name":     name,
		"protocol": protocol,
		"vips":     map[string]string{},
	}
	uuid, err := t.nb.CreateWithRetry(ctx, "Load_Balancer", name, row, t.lookupByName(ctx, "Load_Balancer", name))
	if err != nil {
		return types.LoadBalancer{}, errors.New(errors.CodeCommitError, "topology: lb_add failed").
			WithOperation("lb_add").WithContext("name", name).WithCause(err)
	}
	return types.LoadBalancer{Name: name, UUID: uuid, VIPs: map[string][]string{}}, nil
}

// LBGroupAdd creates a Load_Balancer_Group row named name.
func (t *Topology) LBGroupAdd(ctx context.Context, name string) (types.LoadBalancerGroup, error) {
	row := map[string]interface{}{"name": name}
	uuid, err := t.nb.CreateWithRetry(ctx, "Load_Balancer_Group", name, row, t.lookupByName(ctx, "Load_Balancer_Group", name))
	if err != nil {
		return types.LoadBalancerGroup{}, errors.New(errors.CodeCommitError, "topology: lb_group_add failed").
			WithOperation("lb_group_add").WithContext("name", name).WithCause(err)
	}
	return types.LoadBalancerGroup{Name: name, UUID: uuid}, nil
}

// LBSetVIPs overwrites lb's vips map with endpoint -> backends,
// backends joined comma-separated the way OVN's Load_Balancer.vips
// column encodes them on the wire.
func (t *Topology) LBSetVIPs(ctx context.Context, lb types.LoadBalancer, vips map[string][]string) error {
	encoded := make(map[string]string, len(vips))
	for endpoint, backends := range vips {
		encoded[endpoint] = strings.Join(backends, ",")
	}

	uuid, found, err := t.nb.LookupByName(ctx, "Load_Balancer", lb.Name)
	if err != nil {
		return err
	}
	if !found {
		return errors.New(errors.CodeCommitError, "topology: load balancer not found").
			WithContext("name", lb.Name)
	}

	_, err = t.nb.Transact(ctx, []types.Operation{{
		Table: "Load_Balancer",
		Where: [][]interface{}{{"_uuid", "==", []interface{}{"uuid", uuid}}},
		Row:   map[string]interface{}{"vips": encoded},
	}})
	if err != nil {
		return errors.New(errors.CodeCommitError, "topology: lb_set_vips failed").
			WithOperation("lb_set_vips").WithContext("name", lb.Name).WithCause(err)
	}
	return nil
}

// LBAddToRouters attaches lb to each named router's load_balancer set.
func (t *Topology) LBAddToRouters(ctx context.Context, lb types.LoadBalancer, routers []string) error {
	return t.attachLBTo(ctx, lb, "Logical_Router", "load_balancer", routers)
}

// LBAddToSwitches attaches lb to each named switch's load_balancer set.
func (t *Topology) LBAddToSwitches(ctx context.Context, lb types.LoadBalancer, switches []string) error {
	return t.attachLBTo(ctx, lb, "Logical_Switch", "load_balancer", switches)
}

func (t *Topology) attachLBTo(ctx context.Context, lb types.LoadBalancer, ownerTable, column string, owners []string) error {
	uuid, found, err := t.nb.LookupByName(ctx, "Load_Balancer", lb.Name)
	if err != nil {
		return err
	}
	if !found {
		return errors.New(errors.CodeCommitError, "topology: load balancer not found").
			WithContext("name", lb.Name)
	}

	for _, owner := range owners {
		if err := t.attachNamedToSet(ctx, ownerTable, owner, column, uuid); err != nil {
			return errors.New(errors.CodeCommitError, "topology: lb attach failed").
				WithOperation("lb_add_to_"+ownerTable).WithContext("owner", owner).WithCause(err)
		}
	}
	return nil
}
