// reconcile.go implements the control thread's periodic reconciliation
// cycle (spec.md §4.7), run once per cycleInterval (default 60s). Step 1
// (ping fan-out) uses errgroup.Group with SetLimit to bound concurrent
// backend calls instead of an unbounded goroutine-per-node fan-out,
// grounded on golang.org/x/sync/errgroup's documented SetLimit pattern.
package control

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/epcced/digs"
	"github.com/epcced/digs/catalog"
	"github.com/epcced/digs/inbox"
	"github.com/epcced/digs/node"
	"github.com/epcced/digs/placement"
)

// ReconcileConfig bundles the tuning knobs a reconciliation tick needs
// beyond Deps: how many pings may run concurrently, inboxTTL for the
// sweep step, and the placement weights.
type ReconcileConfig struct {
	MaxConcurrentPings int
	InboxTTL           time.Duration
	LocationWeight     float64
	SpaceWeight        float64
}

// Tick runs one full reconciliation cycle: ping fan-out, disk-space
// refresh, inbox scan/sweep, replication top-up, and retiring-node
// migration. There is no separate persistence step: status and node
// changes are persisted by the registry as each one is made. Each step's errors are logged and do not
// abort later steps, matching spec.md §4.7's failure policy of "retry on
// next cycle" for transient backend and catalogue-write failures.
func (d *Deps) Tick(ctx context.Context, cfg ReconcileConfig, mainNodeListPath string) {
	d.pingAllNodes(ctx, cfg.MaxConcurrentPings)
	d.updateNodeDiskSpace(mainNodeListPath)
	d.scanAndIntegrateInboxes(ctx, cfg.InboxTTL)
	d.replicateUnderReplicated(ctx, cfg)
	d.migrateOffRetiring(ctx)
}

// pingAllNodes implements step 1: ping each non-disabled node
// concurrently (bounded by maxConcurrent); failure moves a node to dead,
// success removes a previously-dead node from dead.
func (d *Deps) pingAllNodes(ctx context.Context, maxConcurrent int) {
	snap := d.Registry.Snapshot()
	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrent > 0 {
		g.SetLimit(maxConcurrent)
	}

	for _, n := range snap.Nodes {
		n := n
		if snap.Is(node.StatusDisabled, n.Name) {
			continue
		}
		g.Go(func() error {
			be, err := d.Dispatch(string(n.Type))
			if err != nil {
				slog.Warn("control: no backend for node type, skipping ping", "node", n.Name, "type", n.Type)
				return nil
			}
			pingErr := be.Ping(gctx, n.Name)
			wasDead := snap.Is(node.StatusDead, n.Name)
			if pingErr != nil {
				if !wasDead {
					slog.Warn("control: node failed ping, marking dead", "node", n.Name, "error", pingErr)
					if err := d.Registry.SetStatus(node.StatusDead, n.Name, true); err != nil {
						slog.Warn("control: could not persist dead status", "node", n.Name, "error", err)
					}
				}
				return nil
			}
			if wasDead {
				slog.Info("control: node responded to ping again, clearing dead status", "node", n.Name)
				if err := d.Registry.SetStatus(node.StatusDead, n.Name, false); err != nil {
					slog.Warn("control: could not clear dead status", "node", n.Name, "error", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// updateNodeDiskSpace implements step 2: reparse mainnodelist.conf from
// the control node's own copy, an intentional atomic-swap read rather
// than an in-place mutation of the live registry.
func (d *Deps) updateNodeDiskSpace(mainNodeListPath string) {
	if mainNodeListPath == "" {
		return
	}
	fresh := node.NewRegistry(mainNodeListPath)
	if err := fresh.Load(); err != nil {
		slog.Warn("control: reparsing mainnodelist.conf failed, keeping existing free-space figures", "error", err)
		return
	}
	snap := fresh.Snapshot()
	for _, n := range snap.Nodes {
		if err := d.Registry.Update(n); err != nil {
			slog.Warn("control: updating node free space failed", "node", n.Name, "error", err)
		}
	}
}

// scanAndIntegrateInboxes implements step 3: for each live SE, scan its
// inbox and remove every staged file not already in the catalogue that is
// older than inboxTTL. It integrates nothing: younger staged files are
// left in place, and a staged file's age alone decides whether it is
// removed, whether or not a client put for it is still expected.
func (d *Deps) scanAndIntegrateInboxes(ctx context.Context, inboxTTL time.Duration) {
	snap := d.Registry.Snapshot()
	now := time.Now()
	for _, n := range snap.Nodes {
		if !snap.Eligible(n.Name) {
			continue
		}
		be, err := d.Dispatch(string(n.Type))
		if err != nil {
			continue
		}
		host := n.Name
		stagedAt := func(lfn string) (time.Time, bool) {
			staged := "inbox/" + digs.EncodeDIR(lfn)
			mt, err := be.GetModificationTime(ctx, host, staged)
			if err != nil {
				return time.Time{}, false
			}
			return mt, true
		}
		result, err := inbox.ScanAndClassify(ctx, be, d.Catalog, n.Name, inboxTTL, stagedAt, now)
		if err != nil {
			slog.Warn("control: inbox scan failed", "node", n.Name, "error", err)
			continue
		}
		for _, p := range result.ToSweep {
			if err := inbox.Sweep(ctx, be, p); err != nil {
				slog.Warn("control: inbox sweep failed", "node", n.Name, "lfn", p.LFN, "error", err)
			}
		}
		// ToIntegrate entries are left for the next tick: this package has
		// no size/checksum to verify against until Deps.Integrate is called
		// with the client's declaration.
	}
}

// replicaHostsAndSites resolves lfn's current catalogue locations to
// (host, site) pairs, skipping any pfn whose host is no longer registered.
func (d *Deps) replicaHostsAndSites(ctx context.Context, lfn string, snap node.Snapshot) (hosts, sites []string, err error) {
	locs, err := d.Catalog.GetLocations(ctx, lfn)
	if err != nil {
		return nil, nil, err
	}
	for _, pfn := range locs {
		host, _, err := splitPFN(pfn)
		if err != nil {
			continue
		}
		nd, ok := lookupNode(snap, host)
		if !ok {
			continue
		}
		hosts = append(hosts, host)
		sites = append(sites, nd.Site)
	}
	return hosts, sites, nil
}

func lookupNode(snap node.Snapshot, name string) (node.Node, bool) {
	for _, n := range snap.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return node.Node{}, false
}

func lfnSizeBytes(ctx context.Context, cat interface {
	GetAttribute(ctx context.Context, lfn, key string) (string, error)
}, lfn string) int64 {
	v, err := cat.GetAttribute(ctx, lfn, "size")
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// replicateUnderReplicated implements step 4: for each LFN with fewer
// live replicas than its effective replcount, pick a mirror target and
// hand it to Deps.ScheduleMirror. The hook is called synchronously, so
// the tick waits for whatever the hook does; cmd/digsd's hook performs
// the whole copy before returning.
func (d *Deps) replicateUnderReplicated(ctx context.Context, cfg ReconcileConfig) {
	snap := d.Registry.Snapshot()
	err := d.Catalog.ForEachFile(ctx, "", func(ctx context.Context, lfn string, it *catalog.Iterator) error {
		hosts, sites, err := d.replicaHostsAndSites(ctx, lfn, snap)
		if err != nil {
			slog.Warn("control: resolving replica locations failed", "lfn", lfn, "error", err)
			return nil
		}
		want, err := d.EffectiveReplCount(ctx, lfn)
		if err != nil {
			slog.Warn("control: resolving effective replcount failed", "lfn", lfn, "error", err)
			return nil
		}
		if len(hosts) >= want {
			return nil
		}
		size := lfnSizeBytes(ctx, d.Catalog, lfn)
		target, ok := placement.ChooseForMirror(snap, sites, size)
		if !ok {
			slog.Warn("control: no eligible mirror target", "lfn", lfn, "have", len(hosts), "want", want)
			return nil
		}
		if d.ScheduleMirror != nil {
			if err := d.ScheduleMirror(ctx, lfn, target); err != nil {
				slog.Warn("control: scheduling mirror failed", "lfn", lfn, "target", target, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		slog.Warn("control: replication scan failed", "error", err)
	}
}

// migrateOffRetiring implements step 5: for each LFN with a replica on a
// retiring node, choose a destination that isn't already a replica site
// and call Deps.ScheduleMigration, which performs the actual copy (and
// the Rm of the retiring replica once it lands).
func (d *Deps) migrateOffRetiring(ctx context.Context) {
	snap := d.Registry.Snapshot()
	retiring := make(map[string]bool)
	for _, n := range snap.Nodes {
		if snap.Is(node.StatusRetiring, n.Name) {
			retiring[n.Name] = true
		}
	}
	if len(retiring) == 0 {
		return
	}

	err := d.Catalog.ForEachFile(ctx, "", func(ctx context.Context, lfn string, it *catalog.Iterator) error {
		hosts, sites, err := d.replicaHostsAndSites(ctx, lfn, snap)
		if err != nil {
			slog.Warn("control: resolving replica locations failed", "lfn", lfn, "error", err)
			return nil
		}
		var fromHost string
		for _, h := range hosts {
			if retiring[h] {
				fromHost = h
				break
			}
		}
		if fromHost == "" {
			return nil
		}
		size := lfnSizeBytes(ctx, d.Catalog, lfn)
		target, ok := placement.ChooseForMirror(snap, sites, size)
		if !ok {
			slog.Warn("control: no migration target for retiring replica", "lfn", lfn, "from", fromHost)
			return nil
		}
		if d.ScheduleMigration != nil {
			if err := d.ScheduleMigration(ctx, lfn, fromHost, target); err != nil {
				slog.Warn("control: scheduling migration failed", "lfn", lfn, "from", fromHost, "target", target, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		slog.Warn("control: migration scan failed", "error", err)
	}
}
