// Package driver implements C8: the iteration/phase driver that scale
// and performance test scenarios run their workload through — phase
// timing, a QPS-governed iteration launcher, and brief/detailed phase
// reports. Grounded on ovn_tester.py's Context/qps_test usage (see
// tests/netpol_cross_ns.py for a representative caller) and, for its
// timing/reporting shape, on pkg/utils' structured logging fields
// since the teacher's own metrics/status packages were dropped as
// unwired objectfs-specific code (see DESIGN.md).
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ovn-tester/ovnscale/pkg/errors"
	"github.com/ovn-tester/ovnscale/pkg/types"
	"github.com/ovn-tester/ovnscale/pkg/utils"
)

// PhaseReport summarizes one named phase of a test run: how long it
// took, how many iterations it drove, and how many failed.
type PhaseReport struct {
	Name       string
	Started    time.Time
	Ended      time.Time
	Iterations int
	Errors     int
}

// Duration is how long the phase ran.
func (r PhaseReport) Duration() time.Duration { return r.Ended.Sub(r.Started) }

// Brief renders a one-line summary, the default report ovnscale prints
// after every phase.
func (r PhaseReport) Brief() string {
	return fmt.Sprintf("%s: %d iterations in %s (%d errors)", r.Name, r.Iterations, r.Duration(), r.Errors)
}

// Detailed renders a multi-line summary including average iteration
// latency, used when a caller asks for brief_report=False.
func (r PhaseReport) Detailed() string {
	avg := time.Duration(0)
	if r.Iterations > 0 {
		avg = r.Duration() / time.Duration(r.Iterations)
	}
	return fmt.Sprintf("phase %q\n  duration:   %s\n  iterations: %d\n  errors:     %d\n  avg/iter:   %s",
		r.Name, r.Duration(), r.Iterations, r.Errors, avg)
}

// Context drives one test scenario's phases: it times each named
// phase, runs iteration bodies either sequentially or QPS-governed,
// and accumulates a report per phase.
type Context struct {
	Logger *utils.Logger

	// Conns, when set, is asked for its ConnectionStats at the end of
	// every phase so the phase log line can report pool occupancy
	// alongside iteration counts without the driver importing
	// internal/dbclient directly.
	Conns types.ConnectionManager

	mu           sync.Mutex
	phases       []PhaseReport
	current      *PhaseReport
	lastDuration time.Duration
}

// LastDuration reports how long the most recently completed iteration
// took, satisfying types.RateGoverned so QPS can compare actual
// iteration cost against the interval it's pacing to and warn when the
// body can't keep up with the requested rate.
func (c *Context) LastDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDuration
}

var _ types.RateGoverned = (*Context)(nil)

// NewContext builds a driver bound to logger; logger may be nil, in
// which case phase start/end is not logged.
func NewContext(logger *utils.Logger) *Context {
	return &Context{Logger: logger}
}

// StartPhase opens a new named phase, first closing whatever phase was
// still open (its report is recorded and logged as EndPhase would, but
// not returned; callers are expected to call EndPhase before starting
// the next one, and StartPhase closes a leaked phase rather than
// panicking).
func (c *Context) StartPhase(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.closeCurrentLocked()
	}
	c.current = &PhaseReport{Name: name, Started: now()}
	if c.Logger != nil {
		c.Logger.Info("phase %q started", name)
	}
}

// EndPhase closes the open phase and returns its report.
func (c *Context) EndPhase() PhaseReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCurrentLocked()
}

func (c *Context) closeCurrentLocked() PhaseReport {
	if c.current == nil {
		return PhaseReport{}
	}
	c.current.Ended = now()
	report := *c.current
	c.phases = append(c.phases, report)
	if c.Logger != nil {
		c.Logger.Info("%s", report.Brief())
		if c.Conns != nil {
			stats := c.Conns.Stats()
			c.Logger.Debug("%s: connections active=%d idle=%d total=%d max=%d",
				report.Name, stats.Active, stats.Idle, stats.Total, stats.MaxOpen)
		}
	}
	c.current = nil
	return report
}

// Reports returns every phase report recorded so far, in order.
func (c *Context) Reports() []PhaseReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PhaseReport, len(c.phases))
	copy(out, c.phases)
	return out
}

func (c *Context) recordIteration(d time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastDuration = d
	if c.current == nil {
		return
	}
	c.current.Iterations++
	if err != nil {
		c.current.Errors++
	}
}

// IterationBody is the work one iteration performs; iteration is its
// own 0-based index, passed explicitly rather than read off an
// ambient "current iteration" accessor so a body run concurrently
// with others under QPS still knows which iteration it is.
type IterationBody func(ctx context.Context, iteration int) error

// Iterate runs body for iterations 0..n-1 in sequence, stopping at the
// first error.
func (c *Context) Iterate(ctx context.Context, n int, body IterationBody) error {
	for i := 0; i < n; i++ {
		started := now()
		err := body(ctx, i)
		c.recordIteration(now().Sub(started), err)
		if err != nil {
			return err
		}
	}
	return nil
}

// QPS runs body n times, launching at most qps iterations per second.
// Every launched iteration runs concurrently with the others; on the
// first failure, QPS stops launching new iterations, waits for the
// ones already in flight to finish, and returns the first error seen.
func (c *Context) QPS(ctx context.Context, qps float64, n int, body IterationBody) error {
	if qps <= 0 {
		return errors.New(errors.CodeInvalidConfig, "driver: qps must be positive").
			WithOperation("qps")
	}
	if n <= 0 {
		return nil
	}

	interval := time.Duration(float64(time.Second) / qps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	launched := 0
	for launched < n {
		select {
		case <-runCtx.Done():
			wg.Wait()
			if firstErr != nil {
				return firstErr
			}
			return runCtx.Err()
		case <-ticker.C:
			i := launched
			launched++
			wg.Add(1)
			go func() {
				defer wg.Done()
				started := now()
				err := body(runCtx, i)
				d := now().Sub(started)
				c.recordIteration(d, err)
				if c.Logger != nil && d > interval {
					c.Logger.Warn("iteration %d took %s, exceeding the %s interval qps=%.2f demands", i, d, interval, qps)
				}
				if err != nil {
					fail(err)
				}
			}()
		}
	}

	wg.Wait()
	return firstErr
}

// now is a package variable so tests can stub wall-clock time; the
// rest of the package treats it as time.Now.
var now = time.Now
