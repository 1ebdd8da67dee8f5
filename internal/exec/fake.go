package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/ovn-tester/ovnscale/pkg/errors"
	"github.com/ovn-tester/ovnscale/pkg/types"
)

// FakeChannel is an in-memory types.Exec used by internal/cluster and
// internal/node tests to drive a scenario without a real SSH host.
// Handler defaults to returning "ok: " followed by the command, which
// is sufficient for every test that only cares that the right commands
// were issued in the right order.
type FakeChannel struct {
	Handler func(host, cmd string) (string, error)

	mu   sync.Mutex
	runs []FakeRun
}

// FakeRun records one command dispatched through a FakeChannel.
type FakeRun struct {
	Host string
	Cmd  string
}

var _ types.Exec = (*FakeChannel)(nil)

// NewFakeChannel returns a channel whose default handler records every
// call and returns "ok: " followed by the command string as its output.
func NewFakeChannel() *FakeChannel {
	return &FakeChannel{}
}

func (f *FakeChannel) Run(ctx context.Context, host, cmd string) (string, error) {
	f.mu.Lock()
	f.runs = append(f.runs, FakeRun{Host: host, Cmd: cmd})
	handler := f.Handler
	f.mu.Unlock()

	if handler != nil {
		return handler(host, cmd)
	}
	return fmt.Sprintf("ok: %s", cmd), nil
}

func (f *FakeChannel) Close() error { return nil }

// Runs returns a copy of every command dispatched so far, in order.
func (f *FakeChannel) Runs() []FakeRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeRun, len(f.runs))
	copy(out, f.runs)
	return out
}

// Fail makes every subsequent Run to host return a CodeNonZeroExit
// error wrapping err.
func (f *FakeChannel) Fail(host string, err error) {
	f.Handler = func(h, cmd string) (string, error) {
		if h == host {
			return "", errors.New(errors.CodeNonZeroExit, "fake command failure").
				WithComponent(h).WithContext("cmd", cmd).WithCause(err)
		}
		return fmt.Sprintf("ok: %s", cmd), nil
	}
}
