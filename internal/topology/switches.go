package topology

import (
	"context"

	"github.com/ovn-tester/ovnscale/pkg/errors"
	"github.com/ovn-tester/ovnscale/pkg/types"
)

// LSAdd creates a Logical_Switch row named name.
func (t *Topology) LSAdd(ctx context.Context, name string, cidr types.DualStackSubnet) (types.LSwitch, error) {
	row := map[string]interface{}{"name": name}
	uuid, err := t.nb.CreateWithRetry(ctx, "Logical_Switch", name, row, t.lookupByName(ctx, "Logical_Switch", name))
	if err != nil {
		return types.LSwitch{}, errors.New(errors.CodeCommitError, "topology: ls_add failed").
			WithOperation("ls_add").WithContext("name", name).WithCause(err)
	}
	return types.LSwitch{UUID: uuid, Name: name, CIDR: cidr}, nil
}

// LSPortAdd creates a Logical_Switch_Port on sw with the given
// addressing, attaches it to sw's ports set, and sets its type and
// options according to kind ("", "router", "localnet").
func (t *Topology) LSPortAdd(ctx context.Context, sw types.LSwitch, name string, kind string, options map[string]string, addresses ...string) (types.LSPort, error) {
	row := map[string]interface{}{
		"name":      name,
		"addresses": addresses,
	}
	if kind != "" {
		row["type"] = kind
	}
	if len(options) > 0 {
		row["options"] = options
	}

	uuid, err := t.nb.CreateWithRetry(ctx, "Logical_Switch_Port", name, row, t.lookupByName(ctx, "Logical_Switch_Port", name))
	if err != nil {
		return types.LSPort{}, errors.New(errors.CodeCommitError, "topology: ls_port_add failed").
			WithOperation("ls_port_add").WithContext("name", name).WithCause(err)
	}

	if err := t.attachToSet(ctx, "Logical_Switch", sw.UUID, "ports", uuid); err != nil {
		return types.LSPort{}, err
	}

	mac := ""
	if len(addresses) > 0 {
		mac = addresses[0]
	}
	return types.LSPort{Name: name, MAC: mac, UUID: uuid}, nil
}

// SetPortSecurity sets port's port_security column, the ACL-bypass
// allowlist a VM/pod port is created with.
func (t *Topology) SetPortSecurity(ctx context.Context, portName string, addresses ...string) error {
	_, err := t.nb.Transact(ctx, []types.Operation{{
		Table: "Logical_Switch_Port",
		Where: [][]interface{}{{"name", "==", portName}},
		Row:   map[string]interface{}{"port_security": addresses},
	}})
	return err
}

// SetRouterPortPeer sets a switch port's type=router and peers it
// with the given router port name, completing an LR<->LS peer port
// pair.
func (t *Topology) SetRouterPortPeer(ctx context.Context, switchPortName, routerPortName string) error {
	_, err := t.nb.Transact(ctx, []types.Operation{{
		Table: "Logical_Switch_Port",
		Where: [][]interface{}{{"name", "==", switchPortName}},
		Row: map[string]interface{}{
			"type":    "router",
			"options": map[string]string{"router-port": routerPortName},
		},
	}})
	return err
}

// DeleteLSPort removes a Logical_Switch_Port row by name, used when a
// worker chassis unprovisions a pod port.
func (t *Topology) DeleteLSPort(ctx context.Context, name string) error {
	return t.deleteByName(ctx, "Logical_Switch_Port", name)
}
