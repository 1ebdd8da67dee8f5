package topology

import (
	"context"

	"github.com/ovn-tester/ovnscale/pkg/errors"
	"github.com/ovn-tester/ovnscale/pkg/types"
)

// PortGroupAdd creates a Port_Group row named name.
func (t *Topology) PortGroupAdd(ctx context.Context, name string) (types.PortGroup, error) {
	row := map[string]interface{}{"name": name}
	_, err := t.nb.CreateWithRetry(ctx, "Port_Group", name, row, t.lookupByName(ctx, "Port_Group", name))
	if err != nil {
		return types.PortGroup{}, errors.New(errors.CodeCommitError, "topology: port_group_add failed").
			WithOperation("port_group_add").WithContext("name", name).WithCause(err)
	}
	return types.PortGroup{Name: name}, nil
}

// AddressSetAdd creates an Address_Set row named name.
func (t *Topology) AddressSetAdd(ctx context.Context, name string) (types.AddressSet, error) {
	row := map[string]interface{}{"name": name}
	_, err := t.nb.CreateWithRetry(ctx, "Address_Set", name, row, t.lookupByName(ctx, "Address_Set", name))
	if err != nil {
		return types.AddressSet{}, errors.New(errors.CodeCommitError, "topology: address_set_add failed").
			WithOperation("address_set_add").WithContext("name", name).WithCause(err)
	}
	return types.AddressSet{Name: name}, nil
}

// AddPortsToPortGroup adds portUUIDs to pg.ports, chunked at
// batchSize per transaction.
func (t *Topology) AddPortsToPortGroup(ctx context.Context, pg types.PortGroup, portUUIDs []string) error {
	for _, chunk := range chunkStrings(portUUIDs) {
		if err := t.mutateSetByName(ctx, "Port_Group", pg.Name, "ports", "insert", uuidAtoms(chunk)); err != nil {
			return errors.New(errors.CodeCommitError, "topology: port_group add ports failed").
				WithOperation("port_group_add_ports").WithContext("port_group", pg.Name).WithCause(err)
		}
	}
	return nil
}

// RemovePortsFromPortGroup removes portUUIDs from pg.ports, chunked
// the same way AddPortsToPortGroup adds them.
func (t *Topology) RemovePortsFromPortGroup(ctx context.Context, pg types.PortGroup, portUUIDs []string) error {
	for _, chunk := range chunkStrings(portUUIDs) {
		if err := t.mutateSetByName(ctx, "Port_Group", pg.Name, "ports", "delete", uuidAtoms(chunk)); err != nil {
			return errors.New(errors.CodeCommitError, "topology: port_group remove ports failed").
				WithOperation("port_group_remove_ports").WithContext("port_group", pg.Name).WithCause(err)
		}
	}
	return nil
}

// AddAddresses adds addrs to as.addresses, chunked at batchSize.
func (t *Topology) AddAddresses(ctx context.Context, as types.AddressSet, addrs []string) error {
	for _, chunk := range chunkStrings(addrs) {
		plain := make([]interface{}, len(chunk))
		for i, a := range chunk {
			plain[i] = a
		}
		if err := t.mutateSetByName(ctx, "Address_Set", as.Name, "addresses", "insert", plain); err != nil {
			return errors.New(errors.CodeCommitError, "topology: address_set add addresses failed").
				WithOperation("address_set_add_addresses").WithContext("address_set", as.Name).WithCause(err)
		}
	}
	return nil
}

// RemoveAddresses removes addrs from as.addresses, chunked at
// batchSize.
func (t *Topology) RemoveAddresses(ctx context.Context, as types.AddressSet, addrs []string) error {
	for _, chunk := range chunkStrings(addrs) {
		plain := make([]interface{}, len(chunk))
		for i, a := range chunk {
			plain[i] = a
		}
		if err := t.mutateSetByName(ctx, "Address_Set", as.Name, "addresses", "delete", plain); err != nil {
			return errors.New(errors.CodeCommitError, "topology: address_set remove addresses failed").
				WithOperation("address_set_remove_addresses").WithContext("address_set", as.Name).WithCause(err)
		}
	}
	return nil
}

// DeletePortGroup removes pg's row entirely, part of namespace
// unprovisioning.
func (t *Topology) DeletePortGroup(ctx context.Context, pg types.PortGroup) error {
	return t.deleteByName(ctx, "Port_Group", pg.Name)
}

// DeleteAddressSet removes as's row entirely.
func (t *Topology) DeleteAddressSet(ctx context.Context, as types.AddressSet) error {
	return t.deleteByName(ctx, "Address_Set", as.Name)
}

func (t *Topology) deleteByName(ctx context.Context, table, name string) error {
	if err := t.nb.DeleteWhere(ctx, table, [][]interface{}{{"name", "==", name}}); err != nil {
		return errors.New(errors.CodeCommitError, "topology: delete failed").
			WithContext("table", table).WithContext("name", name).WithCause(err)
	}
	return nil
}

func uuidAtoms(uuids []string) []interface{} {
	out := make([]interface{}, len(uuids))
	for i, u := range uuids {
		out[i] = []interface{}{"uuid", u}
	}
	return out
}

// mutateSetByName looks owner up by name and applies a single
// insert/delete set mutation to column.
func (t *Topology) mutateSetByName(ctx context.Context, table, name, column, mutator string, members []interface{}) error {
	uuid, found, err := t.nb.LookupByName(ctx, table, name)
	if err != nil {
		return err
	}
	if !found {
		return errors.New(errors.CodeCommitError, "topology: row not found").
			WithContext("table", table).WithContext("name", name)
	}
	_, err = t.nb.Transact(ctx, []types.Operation{{
		Table: table,
		Where: [][]interface{}{{"_uuid", "==", []interface{}{"uuid", uuid}}},
		Mutate: map[string]interface{}{
			column: []interface{}{mutator, []interface{}{"set", members}},
		},
	}})
	return err
}
