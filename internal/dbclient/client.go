// Package dbclient implements the OVSDB client used to drive the
// Northbound and Southbound databases: a JSON-RPC transaction channel,
// the idempotent create-with-retry discipline every topology operation
// relies on, and the barrier-commit sync used to know when a change
// has actually reached every chassis.
package dbclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/ovn-tester/ovnscale/pkg/errors"
	"github.com/ovn-tester/ovnscale/pkg/retry"
	"github.com/ovn-tester/ovnscale/pkg/types"

	"github.com/ovn-tester/ovnscale/internal/circuit"
)

// Config describes how to reach one OVSDB server.
type Config struct {
	Flavor Flavor
	// Address is "scheme:host:port", e.g. "ssl:10.0.0.1:6642" or
	// "tcp:127.0.0.1:6641".
	Address string

	CertPath   string
	KeyPath    string
	CACertPath string

	DialTimeout    time.Duration
	RequestTimeout time.Duration

	// InactivityProbe mirrors Connection.inactivity_probe: how often
	// the connection is expected to see traffic before it is
	// considered dead. 0 disables the probe, matching ovn-heater's
	// large-scale deployments which turn it off entirely.
	InactivityProbe time.Duration

	MaxCreateRetries int
	CacheEntries     int
}

// DefaultConfig returns the settings ovn-fake-multinode uses: a 5s
// dial timeout, a 30s per-call timeout, five create retries.
func DefaultConfig(flavor Flavor, address string) Config {
	return Config{
		Flavor:           flavor,
		Address:          address,
		DialTimeout:      5 * time.Second,
		RequestTimeout:   30 * time.Second,
		MaxCreateRetries: 5,
		CacheEntries:     10000,
	}
}

// Client is an OVSDB client for one flavor of database. Safe for
// concurrent use; every call serializes through the underlying
// wireConn.
type Client struct {
	cfg     Config
	conn    *wireConn
	breaker *circuit.CircuitBreaker
	retryer *retry.Retryer
	cache   *uuidCache
}

var _ types.DBClient = (*Client)(nil)

// NewClient dials nothing yet (the connection is lazy); it only
// validates the TLS material, if any, and prepares the breaker and
// retry policy that guard every call.
func NewClient(cfg Config) (*Client, error) {
	var tlsCfg *tls.Config
	if cfg.CertPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidConfig, "dbclient: load client certificate").WithCause(err)
		}
		pool := x509.NewCertPool()
		if cfg.CACertPath != "" {
			ca, err := os.ReadFile(cfg.CACertPath)
			if err != nil {
				return nil, errors.New(errors.CodeInvalidConfig, "dbclient: read CA certificate").WithCause(err)
			}
			if !pool.AppendCertsFromPEM(ca) {
				return nil, errors.New(errors.CodeInvalidConfig, "dbclient: parse CA certificate")
			}
		}
		tlsCfg = &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      pool,
			InsecureSkipVerify: cfg.CACertPath == "", // no CA configured: ovn-fake-multinode's self-signed dev certs
		}
	}

	breaker := circuit.NewCircuitBreaker(string(cfg.Flavor), circuit.Config{
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
	})

	return &Client{
		cfg:     cfg,
		conn:    newWireConn(cfg.Address, tlsCfg, cfg.DialTimeout),
		breaker: breaker,
		retryer: retry.New(retry.DefaultConfig()),
		cache:   newUUIDCache(cfg.CacheEntries),
	}, nil
}

// Transact issues ops as a single OVSDB transaction and returns the
// UUID assigned to each named insert, keyed by UUIDName. A non-nil
// error from an individual op (a constraint violation, most often)
// surfaces as CodeCommitError; a broken connection mid-call surfaces
// as CodeTransportError, which CreateWithRetry treats as ambiguous
// rather than a hard failure.
func (c *Client) Transact(ctx context.Context, ops []types.Operation) (map[string]string, error) {
	dbOps := make([]Op, len(ops))
	for i, op := range ops {
		dbOps[i] = opFromOperation(op)
	}
	results, err := c.transact(ctx, dbOps)
	if err != nil {
		return nil, err
	}
	return uuidMap(dbOps, results), nil
}

// uuidMap extracts the UUID assigned to each named insert op from its
// matching transact result.
func uuidMap(ops []Op, results []Result) map[string]string {
	out := make(map[string]string)
	for i, op := range ops {
		if op.Kind != "insert" || op.UUIDName == "" || i >= len(results) {
			continue
		}
		out[op.UUIDName] = results[i].UUID
	}
	return out
}

// mutatorTags are the OVSDB mutator strings a caller may tag a
// Mutate value with by wrapping it as []interface{}{tag, value} — see
// opFromOperation. Any value not wrapped this way defaults to
// "insert", the common case (attaching one freshly-created row to its
// owner's set column).
var mutatorTags = map[string]bool{"insert": true, "delete": true, "+=": true, "-=": true}

// opFromOperation lowers the generic boundary Operation (used by
// types.DBClient, the interface fakes compose against) into the
// richer Op this package's wire layer actually sends. A row with no
// Where is an insert; a row with Where is an update; Mutate without a
// Row is a mutation, defaulting to the "insert" mutator unless the
// value is tagged with an explicit one.
func opFromOperation(o types.Operation) Op {
	switch {
	case o.Mutate != nil:
		muts := make([][]interface{}, 0, len(o.Mutate))
		for col, val := range o.Mutate {
			mutator, v := "insert", val
			if pair, ok := val.([]interface{}); ok && len(pair) == 2 {
				if tag, ok := pair[0].(string); ok && mutatorTags[tag] {
					mutator, v = tag, pair[1]
				}
			}
			muts = append(muts, []interface{}{col, mutator, v})
		}
		return Op{Kind: "mutate", Table: o.Table, Where: o.Where, Mutations: muts}
	case len(o.Where) > 0:
		return Op{Kind: "update", Table: o.Table, Row: o.Row, Where: o.Where}
	default:
		return Op{Kind: "insert", Table: o.Table, Row: o.Row, UUIDName: o.NameKey}
	}
}

// Sync satisfies types.DBClient with the common case: wait for every
// chassis's southbound config to catch up. Callers that need the
// stronger hv_cfg barrier call SyncWait directly.
func (c *Client) Sync(ctx context.Context) error {
	return c.SyncWait(ctx, SyncWaitSB)
}

// transact is the low-level entry point every higher-level method
// funnels through: it sends ops as one OVSDB transaction, guarded by
// the circuit breaker and retryer, and returns one Result per op in
// order.
func (c *Client) transact(ctx context.Context, ops []Op) ([]Result, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	params := make([]interface{}, 0, len(ops)+1)
	params = append(params, string(c.cfg.Flavor))
	for _, op := range ops {
		params = append(params, encodeOp(op))
	}

	var raw []byte
	err := c.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return c.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			result, callErr := c.conn.call("transact", params)
			if callErr != nil {
				return callErr
			}
			raw = result
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	results, decodeErr := decodeTransactResult(raw)
	if decodeErr != nil {
		return nil, decodeErr
	}

	for i, op := range ops {
		if i < len(results) && results[i].Error != "" {
			return results, errors.New(errors.CodeCommitError, "dbclient: op failed").
				WithContext("table", op.Table).
				WithContext("error", results[i].Error).
				WithDetail("server_details", results[i].Details)
		}
	}
	return results, nil
}

// CreateWithRetry implements the idempotent create discipline every
// topology operation uses: issue an insert; if the transaction
// commits cleanly, the assigned UUID is authoritative. If the
// transaction's outcome is ambiguous (a transient disconnect, or a
// RAFT leader election mid-commit), fall back to looking the row up
// by its natural key — present means a prior attempt actually
// succeeded, absent means it is safe to retry the insert. Gives up
// after MaxCreateRetries rounds with CodeUUIDUnknown.
func (c *Client) CreateWithRetry(ctx context.Context, table, naturalKey string, row map[string]interface{}, lookup LookupFunc) (string, error) {
	if uuid, ok := c.cache.get(table, naturalKey); ok {
		return uuid, nil
	}

	maxAttempts := c.cfg.MaxCreateRetries
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		uuid, err := c.insertOne(ctx, table, row)
		if err == nil {
			c.cache.set(table, naturalKey, uuid)
			return uuid, nil
		}
		lastErr = err

		if lookup == nil {
			continue
		}
		foundUUID, found, lookupErr := lookup()
		if lookupErr == nil && found {
			c.cache.set(table, naturalKey, foundUUID)
			return foundUUID, nil
		}
	}

	return "", errors.New(errors.CodeUUIDUnknown, "dbclient: create did not resolve to a UUID").
		WithContext("table", table).
		WithContext("natural_key", naturalKey).
		WithContext("attempts", fmt.Sprint(maxAttempts)).
		WithCause(lastErr)
}

func (c *Client) insertOne(ctx context.Context, table string, row map[string]interface{}) (string, error) {
	results, err := c.transact(ctx, []Op{Insert(table, "new", row)})
	if err != nil {
		return "", err
	}
	if len(results) == 0 || results[0].UUID == "" {
		return "", errors.New(errors.CodeConflict, "dbclient: insert returned no UUID").WithContext("table", table)
	}
	return results[0].UUID, nil
}

// LookupByName resolves table's natural key ("name" column) to the
// row's UUID, the fallback path CreateWithRetry's caller-supplied
// lookup normally covers; topology code that does not need a
// specialized lookup closure can use this directly.
func (c *Client) LookupByName(ctx context.Context, table, name string) (string, bool, error) {
	results, err := c.transact(ctx, []Op{Select(table, "name", name, "_uuid")})
	if err != nil {
		return "", false, err
	}
	row := firstRow(results)
	if row == nil {
		return "", false, nil
	}
	uuidField, ok := row["_uuid"].([]interface{})
	if !ok || len(uuidField) != 2 {
		return "", false, nil
	}
	uuid, _ := uuidField[1].(string)
	return uuid, uuid != "", nil
}

// DeleteWhere deletes every row in table matching where, the
// primitive namespace unprovisioning uses to remove port groups and
// address sets by name.
func (c *Client) DeleteWhere(ctx context.Context, table string, where [][]interface{}) error {
	_, err := c.transact(ctx, []Op{{Kind: "delete", Table: table, Where: where}})
	return err
}

// SetGlobalOption sets one key in NB_Global.options (or SB_Global,
// depending on flavor), the mechanism ovn-heater uses to toggle
// northd probe intervals and similar cluster-wide knobs.
func (c *Client) SetGlobalOption(ctx context.Context, option, value string) error {
	table := "NB_Global"
	if c.cfg.Flavor == FlavorSB {
		table = "SB_Global"
	}
	_, err := c.transact(ctx, []Op{
		Mutate(table, nil, "options", "insert", map[string]string{option: value}),
	})
	return err
}

// SetInactivityProbe sets the Connection table's inactivity_probe
// column in milliseconds, or clears it (null/disabled) when ms <= 0.
func (c *Client) SetInactivityProbe(ctx context.Context, ms int) error {
	var value interface{} = ms
	if ms <= 0 {
		value = []interface{}{"set"}
	}
	_, err := c.transact(ctx, []Op{
		Update("Connection", nil, map[string]interface{}{"inactivity_probe": value}),
	})
	return err
}

// Stats reports connection occupancy for the driver's phase reports;
// a single-connection client always reports its one connection as active.
func (c *Client) Stats() types.ConnectionStats {
	return types.ConnectionStats{Active: 1, Idle: 0, Total: 1, MaxOpen: 1}
}

// Close drops the underlying connection. A subsequent call redials.
func (c *Client) Close() error {
	c.conn.drop()
	return nil
}
