package dbclient

import (
	"context"
	"fmt"
	"time"

	"github.com/ovn-tester/ovnscale/pkg/errors"
)

// syncState is the barrier-commit lifecycle a Sync call walks
// through, the same Pending -> Committed -> terminal shape as the
// teacher's multipart upload state machine, generalized from "all
// parts uploaded" to "every chassis caught up."
type syncState int

const (
	syncPending syncState = iota
	syncCommitted
	syncSynchronized
	syncTimedOut
)

const (
	defaultSyncTimeout  = 60 * time.Second
	defaultSyncInterval = 200 * time.Millisecond
)

// SyncWait bumps NB_Global.nb_cfg and blocks until every chassis has
// reported back at least that value in sb_cfg (wait == SyncWaitSB) or
// in both sb_cfg and hv_cfg (wait == SyncWaitHV), mirroring
// ovn-nbctl's --wait=sb|hv. It returns CodeSyncTimeout if the
// configured deadline passes first; the caller is left not knowing
// whether the change will still land once northd/ovn-controller catch
// up, only that it did not happen in time.
func (c *Client) SyncWait(ctx context.Context, wait SyncWait) error {
	target, err := c.bumpNBCfg(ctx)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(defaultSyncTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	ticker := time.NewTicker(defaultSyncInterval)
	defer ticker.Stop()

	for {
		ready, err := c.nbCfgCaughtUp(ctx, target, wait)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New(errors.CodeSyncTimeout, "dbclient: sync did not catch up before deadline").
				WithContext("target_cfg", fmt.Sprint(target)).
				WithContext("wait", waitName(wait))
		}

		select {
		case <-ctx.Done():
			return errors.New(errors.CodeSyncTimeout, "dbclient: context canceled waiting for sync").WithCause(ctx.Err())
		case <-ticker.C:
		}
	}
}

func waitName(w SyncWait) string {
	if w == SyncWaitHV {
		return "hv"
	}
	return "sb"
}

// bumpNBCfg increments NB_Global.nb_cfg and returns the resulting
// value, the "commit" half of the barrier.
func (c *Client) bumpNBCfg(ctx context.Context) (int, error) {
	if _, err := c.transact(ctx, []Op{
		Mutate("NB_Global", nil, "nb_cfg", "+=", 1),
	}); err != nil {
		return 0, err
	}

	results, err := c.transact(ctx, []Op{
		SelectAll("NB_Global", "nb_cfg"),
	})
	if err != nil {
		return 0, err
	}
	row := firstRow(results)
	if row == nil {
		return 0, errors.New(errors.CodeCommitError, "dbclient: NB_Global row missing after nb_cfg bump")
	}
	cfg, _ := row["nb_cfg"].(float64)
	return int(cfg), nil
}

// nbCfgCaughtUp reads NB_Global back and checks whether sb_cfg (and,
// for SyncWaitHV, hv_cfg) has reached target. Real OVN mirrors these
// two columns from the Southbound DB back into NB_Global as northd and
// every chassis's ovn-controller report progress, so a single select
// against the Northbound connection is enough; no Southbound
// connection is needed here.
func (c *Client) nbCfgCaughtUp(ctx context.Context, target int, wait SyncWait) (bool, error) {
	results, err := c.transact(ctx, []Op{
		SelectAll("NB_Global", "sb_cfg", "hv_cfg"),
	})
	if err != nil {
		return false, err
	}
	row := firstRow(results)
	if row == nil {
		return false, nil
	}

	sbCfg, _ := row["sb_cfg"].(float64)
	if int(sbCfg) < target {
		return false, nil
	}
	if wait == SyncWaitSB {
		return true, nil
	}
	hvCfg, _ := row["hv_cfg"].(float64)
	return int(hvCfg) >= target, nil
}

func firstRow(results []Result) map[string]interface{} {
	for _, r := range results {
		if len(r.Rows) > 0 {
			return r.Rows[0]
		}
	}
	return nil
}

// ChassisBound reports whether the Southbound DB has a Chassis row
// for the given hostname, meaning that worker's ovn-controller has
// connected and registered. Only valid on a FlavorSB client.
func (c *Client) ChassisBound(ctx context.Context, chassisName string) (bool, error) {
	results, err := c.transact(ctx, []Op{
		Select("Chassis", "name", chassisName, "name"),
	})
	if err != nil {
		return false, err
	}
	for _, r := range results {
		if len(r.Rows) > 0 {
			return true, nil
		}
	}
	return false, nil
}
