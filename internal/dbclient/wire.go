package dbclient

import (
	"encoding/json"

	"github.com/ovn-tester/ovnscale/pkg/errors"
)

// encodeOp renders an Op into the JSON object shape ovsdb-server
// expects for one transact op; only the fields relevant to Kind are
// populated, matching the real protocol where absent fields are
// simply omitted rather than sent as null/empty.
func encodeOp(op Op) map[string]interface{} {
	m := map[string]interface{}{"op": op.Kind, "table": op.Table}

	switch op.Kind {
	case "insert":
		m["row"] = op.Row
		if op.UUIDName != "" {
			m["uuid-name"] = op.UUIDName
		}
	case "select":
		m["where"] = whereOrEmpty(op.Where)
		if len(op.Columns) > 0 {
			m["columns"] = op.Columns
		}
	case "update":
		m["where"] = whereOrEmpty(op.Where)
		m["row"] = op.Row
	case "mutate":
		m["where"] = whereOrEmpty(op.Where)
		m["mutations"] = op.Mutations
	case "delete":
		m["where"] = whereOrEmpty(op.Where)
	case "wait":
		m["where"] = whereOrEmpty(op.Where)
		m["columns"] = op.Columns
		m["until"] = "=="
		m["timeout"] = op.Timeout
	}
	return m
}

func whereOrEmpty(where [][]interface{}) [][]interface{} {
	if where == nil {
		return [][]interface{}{}
	}
	return where
}

type wireResult struct {
	UUID    []interface{}            `json:"uuid,omitempty"`
	Rows    []map[string]interface{} `json:"rows,omitempty"`
	Count   int                      `json:"count,omitempty"`
	Error   string                   `json:"error,omitempty"`
	Details string                   `json:"details,omitempty"`
}

// decodeTransactResult parses a transact call's JSON result array
// (one entry per submitted op, in order) into this package's Result
// shape.
func decodeTransactResult(raw []byte) ([]Result, error) {
	var wireResults []wireResult
	if err := json.Unmarshal(raw, &wireResults); err != nil {
		return nil, errors.New(errors.CodeTransportError, "dbclient: decode transact result").WithCause(err)
	}

	out := make([]Result, len(wireResults))
	for i, r := range wireResults {
		res := Result{Rows: r.Rows, Count: r.Count, Error: r.Error, Details: r.Details}
		if len(r.UUID) == 2 {
			if s, ok := r.UUID[1].(string); ok {
				res.UUID = s
			}
		}
		out[i] = res
	}
	return out, nil
}
