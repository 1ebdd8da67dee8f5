package dbclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ovn-tester/ovnscale/pkg/errors"
	"github.com/ovn-tester/ovnscale/pkg/types"
)

// Fake is an in-memory stand-in for Client used by internal/topology,
// internal/node, internal/cluster, and internal/namespace tests. It
// keeps rows in plain maps rather than speaking any wire protocol, and
// exposes fault-injection knobs so tests can exercise the UUID-retry
// and sync-timeout paths without a real OVSDB server.
type Fake struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]interface{} // table -> uuid -> row
	cache  *uuidCache

	nbCfg, sbCfg, hvCfg int

	// FailNextInserts, when > 0, makes that many subsequent inserts
	// return an ambiguous CodeTransportError instead of committing,
	// decrementing by one per call. The row is never written in that
	// case, so a lookup-based retry correctly finds nothing and
	// reissues the insert.
	FailNextInserts int

	// SyncNeverCatchesUp makes SyncWait always report not-caught-up,
	// used to exercise the CodeSyncTimeout path with a short context
	// deadline instead of waiting the real default timeout.
	SyncNeverCatchesUp bool

	chassisBound map[string]bool
}

var _ types.DBClient = (*Fake)(nil)

// NewFake returns an empty in-memory database.
func NewFake() *Fake {
	return &Fake{
		tables:       make(map[string]map[string]map[string]interface{}),
		cache:        newUUIDCache(10000),
		chassisBound: make(map[string]bool),
	}
}

// Transact satisfies types.DBClient for code written against the
// generic boundary interface. Unlike the real Client (which leaves
// ambiguity resolution to the caller's retry loop), the fake applies
// mutate/update ops directly against its in-memory tables so topology
// code that attaches ports to a router/switch/port-group via a
// mutate op observes the same row shape a test would see against a
// real server.
func (f *Fake) Transact(ctx context.Context, ops []types.Operation) (map[string]string, error) {
	out := make(map[string]string)
	for _, o := range ops {
		dbOp := opFromOperation(o)
		switch dbOp.Kind {
		case "insert":
			id, err := f.CreateWithRetry(ctx, dbOp.Table, dbOp.UUIDName, dbOp.Row, nil)
			if err != nil {
				return out, err
			}
			out[dbOp.UUIDName] = id
		case "mutate":
			if err := f.applyMutate(dbOp); err != nil {
				return out, err
			}
		case "update":
			if err := f.applyUpdate(dbOp); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func (f *Fake) applyMutate(op Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := f.tables[op.Table]
	for id, row := range table {
		if !matchesWhere(id, row, op.Where) {
			continue
		}
		for _, mutation := range op.Mutations {
			if len(mutation) != 3 {
				continue
			}
			col, _ := mutation[0].(string)
			mutator, _ := mutation[1].(string)
			applySetMutation(row, col, mutator, mutation[2])
		}
		table[id] = row
	}
	return nil
}

func (f *Fake) applyUpdate(op Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := f.tables[op.Table]
	for id, row := range table {
		if !matchesWhere(id, row, op.Where) {
			continue
		}
		for col, val := range op.Row {
			row[col] = val
		}
		table[id] = row
	}
	return nil
}

// matchesWhere evaluates the subset of OVSDB where-conditions this
// harness's fake needs: an equality condition on "_uuid" (comparing
// against the row's own key) or on any other column (comparing its
// stringified value). An empty where matches every row, the
// singleton-table case (NB_Global, SB_Global, Connection).
func matchesWhere(id string, row map[string]interface{}, where [][]interface{}) bool {
	for _, cond := range where {
		if len(cond) != 3 {
			continue
		}
		col, _ := cond[0].(string)
		val := cond[2]
		if col == "_uuid" {
			if atom, ok := val.([]interface{}); ok && len(atom) == 2 {
				if s, ok := atom[1].(string); ok && s != id {
					return false
				}
				continue
			}
		}
		if fmt.Sprint(row[col]) != fmt.Sprint(val) {
			return false
		}
	}
	return true
}

// applySetMutation applies one mutation triple to row[col] in place.
// "insert" appends the mutation value's member(s) to the set; "delete"
// removes any member matching the value; any other mutator (e.g.
// "+=", used only by the real Client's nb_cfg counter bump, which the
// fake tracks separately) is a no-op here.
func applySetMutation(row map[string]interface{}, col, mutator string, val interface{}) {
	switch mutator {
	case "insert":
		existing, _ := row[col].([]interface{})
		row[col] = append(existing, unwrapSetMembers(val)...)
	case "delete":
		existing, _ := row[col].([]interface{})
		toRemove := unwrapSetMembers(val)
		var kept []interface{}
		for _, member := range existing {
			remove := false
			for _, r := range toRemove {
				if fmt.Sprint(member) == fmt.Sprint(r) {
					remove = true
					break
				}
			}
			if !remove {
				kept = append(kept, member)
			}
		}
		row[col] = kept
	}
}

// unwrapSetMembers normalizes a mutation value into the list of
// member atoms it represents, whether it arrived as a bare atom
// (["uuid", "x"]) or as an explicit OVSDB set (["set", [...]]).
func unwrapSetMembers(val interface{}) []interface{} {
	if arr, ok := val.([]interface{}); ok && len(arr) == 2 {
		if tag, ok := arr[0].(string); ok && tag == "set" {
			if members, ok := arr[1].([]interface{}); ok {
				return members
			}
		}
		return []interface{}{arr}
	}
	return []interface{}{val}
}

// CreateWithRetry mirrors Client.CreateWithRetry: on a fault-injected
// failure it reports the ambiguous transport error without writing
// the row, so the supplied lookup (or the natural-key cache) is what
// decides whether a retry is safe.
func (f *Fake) CreateWithRetry(ctx context.Context, table, naturalKey string, row map[string]interface{}, lookup LookupFunc) (string, error) {
	if id, ok := f.cache.get(table, naturalKey); ok {
		return id, nil
	}

	for attempt := 0; attempt < 5; attempt++ {
		f.mu.Lock()
		if f.FailNextInserts > 0 {
			f.FailNextInserts--
			f.mu.Unlock()
			if lookup != nil {
				if id, found, err := lookup(); err == nil && found {
					f.cache.set(table, naturalKey, id)
					return id, nil
				}
			}
			continue
		}

		id := uuid.NewString()
		if f.tables[table] == nil {
			f.tables[table] = make(map[string]map[string]interface{})
		}
		f.tables[table][id] = cloneRow(row)
		f.mu.Unlock()

		f.cache.set(table, naturalKey, id)
		return id, nil
	}

	return "", errors.New(errors.CodeUUIDUnknown, "dbclient: fake create exhausted retries").
		WithContext("table", table).WithContext("natural_key", naturalKey)
}

// Rows returns a copy of every row in table, keyed by UUID. Tests use
// this to assert on what the topology layer wrote.
func (f *Fake) Rows(table string) map[string]map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]map[string]interface{}, len(f.tables[table]))
	for id, row := range f.tables[table] {
		out[id] = cloneRow(row)
	}
	return out
}

// DeleteWhere mirrors Client.DeleteWhere.
func (f *Fake) DeleteWhere(ctx context.Context, table string, where [][]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tbl := f.tables[table]
	for id, row := range tbl {
		if matchesWhere(id, row, where) {
			delete(tbl, id)
		}
	}
	return nil
}

// LookupByName mirrors Client.LookupByName.
func (f *Fake) LookupByName(ctx context.Context, table, name string) (string, bool, error) {
	return f.Lookup(table, "name", name)
}

// Lookup finds the UUID of the row in table whose column equals
// value, the shape every CreateWithRetry lookup closure needs.
func (f *Fake) Lookup(table, column string, value interface{}) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, row := range f.tables[table] {
		if fmt.Sprint(row[column]) == fmt.Sprint(value) {
			return id, true, nil
		}
	}
	return "", false, nil
}

func cloneRow(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// Sync advances sb_cfg/hv_cfg to match nb_cfg immediately, unless
// SyncNeverCatchesUp is set, in which case it blocks until ctx is
// done and returns CodeSyncTimeout.
func (f *Fake) Sync(ctx context.Context) error {
	return f.SyncWait(ctx, SyncWaitSB)
}

// SyncWait is the fake equivalent of Client.SyncWait.
func (f *Fake) SyncWait(ctx context.Context, wait SyncWait) error {
	f.mu.Lock()
	f.nbCfg++
	target := f.nbCfg
	if !f.SyncNeverCatchesUp {
		f.sbCfg = target
		f.hvCfg = target
	}
	f.mu.Unlock()

	if !f.SyncNeverCatchesUp {
		return nil
	}

	<-ctx.Done()
	return errors.New(errors.CodeSyncTimeout, "dbclient: fake sync never catches up").WithCause(ctx.Err())
}

// SetChassisBound marks chassis as registered (or not) in the fake
// Southbound database, for internal/node's wait-bound polling tests.
func (f *Fake) SetChassisBound(chassis string, bound bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chassisBound[chassis] = bound
}

// ChassisBound mirrors Client.ChassisBound.
func (f *Fake) ChassisBound(ctx context.Context, chassis string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chassisBound[chassis], nil
}

// SetGlobalOption mirrors Client.SetGlobalOption by recording the
// option into the NB_Global fake row.
func (f *Fake) SetGlobalOption(ctx context.Context, option, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tables["NB_Global"] == nil {
		f.tables["NB_Global"] = map[string]map[string]interface{}{"singleton": {}}
	}
	row := f.tables["NB_Global"]["singleton"]
	options, _ := row["options"].(map[string]string)
	if options == nil {
		options = make(map[string]string)
	}
	options[option] = value
	row["options"] = options
	f.tables["NB_Global"]["singleton"] = row
	return nil
}

// SetInactivityProbe is a no-op on the fake; nothing downstream reads
// it back.
func (f *Fake) SetInactivityProbe(ctx context.Context, ms int) error { return nil }

// Stats reports a single idle connection.
func (f *Fake) Stats() types.ConnectionStats {
	return types.ConnectionStats{Active: 0, Idle: 1, Total: 1, MaxOpen: 1}
}

// Close is a no-op on the fake.
func (f *Fake) Close() error { return nil }
