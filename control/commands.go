// commands.go implements the catalogue-mutation command set run by the
// control thread (spec.md §4.7): lock/unlock/lockdir/unlockdir,
// replcount/replcountdir, remove, integrate, retire/unretire, touch. The
// command parser in cmd/digsd maps every verb except integrate onto these
// methods, so Integrate is reached only by a direct Go call. Every command runs to completion
// before the next starts; the Thread (thread.go) is what serializes
// calls into this file.
package control

import (
	"context"
	"fmt"
	"strconv"

	"github.com/epcced/digs"
	"github.com/epcced/digs/backend"
	"github.com/epcced/digs/catalog"
	"github.com/epcced/digs/inbox"
	"github.com/epcced/digs/node"
)

const lockedByAttr = "lockedby"
const replCountAttr = "replcount"

// Deps bundles the shared state every command handler needs. A single
// Deps value is constructed once at startup and reused by every command
// and by the reconciliation tick.
type Deps struct {
	Catalog  catalog.Catalog
	Registry *node.Registry
	Policy   *PolicyEvaluator
	Dispatch func(nodeType string) (backend.SEBackend, error)
	// DefaultReplCount is the grid-wide default used when replcount is
	// reverted to 0 (spec.md §4.7).
	DefaultReplCount int
	// LiveSiteCount returns the number of distinct sites with at least one
	// non-dead/disabled/retiring node, used to cap replcount n.
	LiveSiteCount func() int
	// ScheduleMirror is invoked by the reconciliation tick once it has
	// chosen a target host for a missing replica; it is responsible for
	// actually driving the copy (via package transfer). The tick calls it
	// synchronously and waits for it to return. A nil hook means mirror
	// scheduling is a no-op,
	// useful for tests that only want to observe the decision via logs.
	ScheduleMirror func(ctx context.Context, lfn, targetHost string) error
	// ScheduleMigration is the equivalent hook for moving a replica off a
	// retiring node onto targetHost.
	ScheduleMigration func(ctx context.Context, lfn, fromHost, targetHost string) error
}

// Lock sets lockedby=caller on lfn, subject to the lock/lockdir
// permission rule.
func (d *Deps) Lock(ctx context.Context, lfn, caller string, adminList []string) error {
	current, err := d.Catalog.GetAttribute(ctx, lfn, lockedByAttr)
	if err != nil {
		return err
	}
	if digs.IsNullAttribute(current) {
		current = ""
	}
	ok, err := d.Policy.CanLock(caller, adminList, current)
	if err != nil {
		return err
	}
	if !ok {
		return digs.NewError(digs.AuthDenied, lfn, fmt.Errorf("control: %s is locked by %s", lfn, current))
	}
	return d.Catalog.SetAttribute(ctx, lfn, lockedByAttr, caller)
}

// Unlock clears lockedby, subject to the same permission rule as Lock.
func (d *Deps) Unlock(ctx context.Context, lfn, caller string, adminList []string) error {
	current, err := d.Catalog.GetAttribute(ctx, lfn, lockedByAttr)
	if err != nil {
		return err
	}
	if digs.IsNullAttribute(current) {
		return nil
	}
	ok, err := d.Policy.CanLock(caller, adminList, current)
	if err != nil {
		return err
	}
	if !ok {
		return digs.NewError(digs.AuthDenied, lfn, fmt.Errorf("control: %s is locked by %s", lfn, current))
	}
	return d.Catalog.SetAttribute(ctx, lfn, lockedByAttr, "")
}

// LockDir recursively locks every LFN under dir (forEachFile(prefix=dir)).
func (d *Deps) LockDir(ctx context.Context, dir, caller string, adminList []string) error {
	return d.Catalog.ForEachFile(ctx, dir, func(ctx context.Context, lfn string, it *catalog.Iterator) error {
		return d.Lock(ctx, lfn, caller, adminList)
	})
}

// UnlockDir recursively unlocks every LFN under dir.
func (d *Deps) UnlockDir(ctx context.Context, dir, caller string, adminList []string) error {
	return d.Catalog.ForEachFile(ctx, dir, func(ctx context.Context, lfn string, it *catalog.Iterator) error {
		return d.Unlock(ctx, lfn, caller, adminList)
	})
}

// ReplCount sets lfn's replcount. n=0 reverts to the grid default; n>0
// must not exceed the number of live sites.
func (d *Deps) ReplCount(ctx context.Context, lfn string, n int) error {
	if n < 0 {
		return digs.NewError(digs.Invariant, lfn, fmt.Errorf("control: replcount must be >= 0, got %d", n))
	}
	if n > 0 && d.LiveSiteCount != nil {
		if max := d.LiveSiteCount(); n > max {
			return digs.NewError(digs.Invariant, lfn, fmt.Errorf("control: replcount %d exceeds live site count %d", n, max))
		}
	}
	value := strconv.Itoa(n)
	if n == 0 {
		value = strconv.Itoa(d.DefaultReplCount)
	}
	return d.Catalog.SetAttribute(ctx, lfn, replCountAttr, value)
}

// ReplCountDir recursively applies ReplCount under dir.
func (d *Deps) ReplCountDir(ctx context.Context, dir string, n int) error {
	return d.Catalog.ForEachFile(ctx, dir, func(ctx context.Context, lfn string, it *catalog.Iterator) error {
		return d.ReplCount(ctx, lfn, n)
	})
}

// EffectiveReplCount reads lfn's replcount, falling back to the grid
// default when unset.
func (d *Deps) EffectiveReplCount(ctx context.Context, lfn string) (int, error) {
	v, err := d.Catalog.GetAttribute(ctx, lfn, replCountAttr)
	if err != nil {
		return 0, err
	}
	if digs.IsNullAttribute(v) {
		return d.DefaultReplCount, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d.DefaultReplCount, nil
	}
	return n, nil
}

// Remove deletes every replica of lfn across its SEs, then its catalogue
// rows. A backend Rm failure returns the error at once and leaves the
// LFN half-removed: locations not yet reached stay in the catalogue.
// Remove does not retry, and nothing in this package re-issues a remove
// that failed; only a later remove command finishes the job.
func (d *Deps) Remove(ctx context.Context, lfn string) error {
	locs, err := d.Catalog.GetLocations(ctx, lfn)
	if err != nil {
		return err
	}
	for _, pfn := range locs {
		host, path, err := splitPFN(pfn)
		if err != nil {
			return err
		}
		n, ok := d.Registry.Get(host)
		if !ok {
			continue
		}
		be, err := d.Dispatch(string(n.Type))
		if err != nil {
			return err
		}
		if err := be.Rm(ctx, host, path); err != nil {
			return fmt.Errorf("control: remove %s from %s: %w", lfn, host, err)
		}
		if err := d.Catalog.RemoveLocation(ctx, lfn, pfn); err != nil {
			return err
		}
	}
	return nil
}

// Integrate runs the inbox protocol's control-thread-side steps for a
// staged put (spec.md §4.6 steps 1-4); mirror scheduling (step 5) is the
// reconciliation tick's job (reconcile.go), not this call's.
func (d *Deps) Integrate(ctx context.Context, decl inbox.PutDeclaration) error {
	n, ok := d.Registry.Get(decl.Host)
	if !ok {
		return digs.NewError(digs.NotFound, decl.Host, fmt.Errorf("control: unknown node %s", decl.Host))
	}
	be, err := d.Dispatch(string(n.Type))
	if err != nil {
		return err
	}
	in := &inbox.Integrator{Backend: be, Catalog: d.Catalog}
	return in.Integrate(ctx, decl)
}

// Retire marks host as retiring, so placement stops choosing it as a
// target and the reconciliation tick begins migrating its replicas off.
func (d *Deps) Retire(host string) error {
	return d.Registry.SetStatus(node.StatusRetiring, host, true)
}

// Unretire clears a node's retiring status.
func (d *Deps) Unretire(host string) error {
	return d.Registry.SetStatus(node.StatusRetiring, host, false)
}

// Touch is a liveness/no-op command: it sets the "lastchecked"
// attribute to at, letting operators distinguish "checked, still
// correct" from "never scanned" in forEachFile audits.
func (d *Deps) Touch(ctx context.Context, lfn string, at string) error {
	return d.Catalog.SetAttribute(ctx, lfn, "lastchecked", at)
}

func splitPFN(pfn string) (host, path string, err error) {
	for i := 0; i < len(pfn); i++ {
		if pfn[i] == ':' {
			return pfn[:i], pfn[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("control: malformed pfn %q, expected host:path", pfn)
}
