package dbclient

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ovn-tester/ovnscale/pkg/errors"
)

// rpcRequest is one JSON-RPC 1.0 request frame, the shape ovsdb-server
// speaks: no "jsonrpc" version field, method + positional params + an
// echoed id.
type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
	ID     uint64        `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
	ID     uint64          `json:"id"`
}

// wireConn is a single JSON-RPC connection to one ovsdb-server. The
// protocol has no frame length prefix: requests and responses are
// concatenated JSON values on the stream, so a streaming decoder finds
// message boundaries the same way ovsdb-server itself does.
//
// Calls are serialized through callMu: this harness issues one
// transaction at a time per Client, matching how ovn-nbctl and
// ovn_utils.py's OvnNbctl drive the connection (no pipelining), which
// keeps response/request correlation trivial.
type wireConn struct {
	addr string
	tls  *tls.Config

	dialTimeout time.Duration

	callMu sync.Mutex
	nextID uint64

	mu   sync.Mutex
	conn net.Conn
	dec  *json.Decoder

	bufPool sync.Pool
}

func newWireConn(addr string, tlsCfg *tls.Config, dialTimeout time.Duration) *wireConn {
	w := &wireConn{addr: addr, tls: tlsCfg, dialTimeout: dialTimeout}
	w.bufPool.New = func() interface{} { return new(bytes.Buffer) }
	return w
}

func (w *wireConn) dial() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return nil
	}

	scheme, hostport, err := splitAddr(w.addr)
	if err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: w.dialTimeout}
	var conn net.Conn
	switch scheme {
	case "ssl":
		conn, err = tls.DialWithDialer(&dialer, "tcp", hostport, w.tls)
	case "tcp", "":
		conn, err = dialer.Dial("tcp", hostport)
	default:
		return errors.New(errors.CodeInvalidConfig, "dbclient: unsupported address scheme").
			WithContext("address", w.addr)
	}
	if err != nil {
		return errors.New(errors.CodeTransportError, "dbclient: dial").
			WithContext("address", w.addr).WithCause(err)
	}

	w.conn = conn
	w.dec = json.NewDecoder(conn)
	return nil
}

// splitAddr parses an OVSDB-style address of the form
// "scheme:host:port" (e.g. "ssl:10.0.0.1:6642" or "tcp:127.0.0.1:6641").
func splitAddr(addr string) (scheme, hostport string, err error) {
	parts := strings.SplitN(addr, ":", 2)
	if len(parts) != 2 {
		return "", "", errors.New(errors.CodeInvalidConfig, "dbclient: malformed address").
			WithContext("address", addr)
	}
	scheme = parts[0]
	rest := parts[1]
	host, port, splitErr := net.SplitHostPort(rest)
	if splitErr != nil {
		// Allow "host" with no port by treating the whole remainder as
		// host and letting callers fail loudly at dial time instead.
		return scheme, rest, nil
	}
	return scheme, net.JoinHostPort(host, port), nil
}

func (w *wireConn) drop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		w.dec = nil
	}
}

// call sends one JSON-RPC request and waits for its matching response.
// Any transport error leaves the connection dropped so the next call
// redials; the caller cannot tell whether the server actually
// committed the request before the connection broke.
func (w *wireConn) call(method string, params []interface{}) (json.RawMessage, error) {
	w.callMu.Lock()
	defer w.callMu.Unlock()

	if err := w.dial(); err != nil {
		return nil, err
	}

	id := atomic.AddUint64(&w.nextID, 1)
	req := rpcRequest{Method: method, Params: params, ID: id}

	buf := w.bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer w.bufPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(req); err != nil {
		return nil, errors.New(errors.CodeTransportError, "dbclient: encode request").WithCause(err)
	}

	w.mu.Lock()
	conn := w.conn
	dec := w.dec
	w.mu.Unlock()
	if conn == nil {
		return nil, errors.New(errors.CodeTransportError, "dbclient: connection closed")
	}

	if _, err := conn.Write(buf.Bytes()); err != nil {
		w.drop()
		return nil, errors.New(errors.CodeTransportError, "dbclient: write request").WithCause(err)
	}

	for {
		var resp rpcResponse
		if err := dec.Decode(&resp); err != nil {
			w.drop()
			return nil, errors.New(errors.CodeTransportError, "dbclient: read response").WithCause(err)
		}
		if resp.ID != id {
			// An echo request or a monitor notification interleaved on
			// the same stream; this harness does not use monitor_cond,
			// so in practice this only happens for the server's own
			// "echo" keepalive, which we ignore.
			continue
		}
		if len(resp.Error) > 0 && string(resp.Error) != "null" {
			return nil, errors.New(errors.CodeCommitError, "dbclient: server error").
				WithDetail("server_error", string(resp.Error))
		}
		return resp.Result, nil
	}
}

