package control

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/epcced/digs"
	"github.com/epcced/digs/backend"
	"github.com/epcced/digs/catalog/memorycat"
	"github.com/epcced/digs/node"
)

func testDeps(t *testing.T) (*Deps, *node.Registry) {
	t.Helper()
	reg := node.NewRegistry(t.TempDir())
	disks := []node.Disk{{Index: 0, QuotaKB: 100_000_000}}
	for _, n := range []node.Node{
		{Name: "se01", Site: "siteA", Path: "/grid", Type: node.TypeGlobus, FreeSpaceKB: 10_000_000, Disks: disks},
		{Name: "se02", Site: "siteB", Path: "/grid", Type: node.TypeGlobus, FreeSpaceKB: 10_000_000, Disks: disks},
	} {
		if err := reg.Add(n); err != nil {
			t.Fatalf("Add(%s): %v", n.Name, err)
		}
	}
	pol, err := NewPolicyEvaluator(DefaultAdminExpr)
	if err != nil {
		t.Fatalf("NewPolicyEvaluator: %v", err)
	}
	return &Deps{
		Catalog:          memorycat.New(),
		Registry:         reg,
		Policy:           pol,
		Dispatch:         func(string) (backend.SEBackend, error) { return &stubBackend{}, nil },
		DefaultReplCount: 2,
		LiveSiteCount:    func() int { return 2 },
	}, reg
}

type stubBackend struct {
	backend.SEBackend
	removed []string
	pinged  bool
}

func (s *stubBackend) Rm(_ context.Context, host, path string) error {
	s.removed = append(s.removed, host+":"+path)
	return nil
}

func (s *stubBackend) Ping(context.Context, string) error {
	s.pinged = true
	return nil
}

func (s *stubBackend) ScanInbox(context.Context, string) ([]string, error) {
	return nil, nil
}

// inboxStubBackend scripts ScanInbox/GetModificationTime/Rm to exercise
// scanAndIntegrateInboxes's orphan-sweep path with a real (not always-now)
// staged age.
type inboxStubBackend struct {
	backend.SEBackend
	entries  []string
	modTimes map[string]time.Time
	removed  []string
}

func (s *inboxStubBackend) ScanInbox(context.Context, string) ([]string, error) {
	return s.entries, nil
}

func (s *inboxStubBackend) GetModificationTime(_ context.Context, _, path string) (time.Time, error) {
	return s.modTimes[path], nil
}

func (s *inboxStubBackend) Rm(_ context.Context, host, path string) error {
	s.removed = append(s.removed, host+":"+path)
	return nil
}

func TestLockUnlockPermissionRule(t *testing.T) {
	ctx := context.Background()
	d, _ := testDeps(t)

	if err := d.Lock(ctx, "a/b.txt", "alice", nil); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := d.Lock(ctx, "a/b.txt", "bob", nil); err == nil {
		t.Fatal("expected bob to be denied locking a file locked by alice")
	}
	if err := d.Lock(ctx, "a/b.txt", "bob", []string{"bob"}); err != nil {
		t.Fatalf("expected admin override to succeed: %v", err)
	}
	if err := d.Unlock(ctx, "a/b.txt", "bob", nil); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	v, err := d.Catalog.GetAttribute(ctx, "a/b.txt", lockedByAttr)
	if err != nil || v != digs.NullAttribute {
		t.Fatalf("expected lockedby cleared, got %q, %v", v, err)
	}
}

func TestReplCountValidation(t *testing.T) {
	ctx := context.Background()
	d, _ := testDeps(t)

	if err := d.ReplCount(ctx, "a/b.txt", -1); err == nil {
		t.Fatal("expected negative replcount to be rejected")
	}
	if err := d.ReplCount(ctx, "a/b.txt", 5); err == nil {
		t.Fatal("expected replcount exceeding live site count to be rejected")
	}
	if err := d.ReplCount(ctx, "a/b.txt", 1); err != nil {
		t.Fatalf("ReplCount: %v", err)
	}
	n, err := d.EffectiveReplCount(ctx, "a/b.txt")
	if err != nil || n != 1 {
		t.Fatalf("EffectiveReplCount = %d, %v", n, err)
	}
	if err := d.ReplCount(ctx, "a/b.txt", 0); err != nil {
		t.Fatalf("ReplCount(0): %v", err)
	}
	n, err = d.EffectiveReplCount(ctx, "a/b.txt")
	if err != nil || n != d.DefaultReplCount {
		t.Fatalf("expected revert to default %d, got %d, %v", d.DefaultReplCount, n, err)
	}
}

func TestRemoveIteratesAllLocations(t *testing.T) {
	ctx := context.Background()
	d, _ := testDeps(t)
	if err := d.Catalog.AddLocation(ctx, "a/b.txt", "se01:/grid/a/b.txt"); err != nil {
		t.Fatalf("AddLocation: %v", err)
	}
	if err := d.Catalog.AddLocation(ctx, "a/b.txt", "se02:/grid/a/b.txt"); err != nil {
		t.Fatalf("AddLocation: %v", err)
	}
	if err := d.Remove(ctx, "a/b.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	locs, err := d.Catalog.GetLocations(ctx, "a/b.txt")
	if err != nil || len(locs) != 0 {
		t.Fatalf("expected all locations removed, got %v, %v", locs, err)
	}
}

func TestTouchSetsAttribute(t *testing.T) {
	ctx := context.Background()
	d, _ := testDeps(t)
	if err := d.Touch(ctx, "a/b.txt", "2026-07-31T00:00:00Z"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	v, err := d.Catalog.GetAttribute(ctx, "a/b.txt", "lastchecked")
	if err != nil || v != "2026-07-31T00:00:00Z" {
		t.Fatalf("GetAttribute(lastchecked) = %q, %v", v, err)
	}
}

func TestRetireUnretireStatus(t *testing.T) {
	d, reg := testDeps(t)
	if err := d.Retire("se01"); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if !reg.Status(node.StatusRetiring, "se01") {
		t.Fatal("expected se01 marked retiring")
	}
	if err := d.Unretire("se01"); err != nil {
		t.Fatalf("Unretire: %v", err)
	}
	if reg.Status(node.StatusRetiring, "se01") {
		t.Fatal("expected se01 no longer retiring")
	}
}

func TestTickReplicatesUnderReplicatedFile(t *testing.T) {
	ctx := context.Background()
	d, _ := testDeps(t)
	if err := d.Catalog.AddLocation(ctx, "a/b.txt", "se01:/grid/a/b.txt"); err != nil {
		t.Fatalf("AddLocation: %v", err)
	}
	if err := d.Catalog.SetAttribute(ctx, "a/b.txt", "size", "1024"); err != nil {
		t.Fatalf("SetAttribute(size): %v", err)
	}
	if err := d.ReplCount(ctx, "a/b.txt", 2); err != nil {
		t.Fatalf("ReplCount: %v", err)
	}

	var scheduledLFN, scheduledTarget string
	d.ScheduleMirror = func(_ context.Context, lfn, target string) error {
		scheduledLFN, scheduledTarget = lfn, target
		return nil
	}

	d.replicateUnderReplicated(ctx, ReconcileConfig{})
	if scheduledLFN != "a/b.txt" || scheduledTarget != "se02" {
		t.Fatalf("expected mirror scheduled to se02 for a/b.txt, got lfn=%q target=%q", scheduledLFN, scheduledTarget)
	}
}

func TestTickSkipsFullyReplicatedFile(t *testing.T) {
	ctx := context.Background()
	d, _ := testDeps(t)
	if err := d.Catalog.AddLocation(ctx, "a/b.txt", "se01:/grid/a/b.txt"); err != nil {
		t.Fatalf("AddLocation: %v", err)
	}
	if err := d.Catalog.AddLocation(ctx, "a/b.txt", "se02:/grid/a/b.txt"); err != nil {
		t.Fatalf("AddLocation: %v", err)
	}
	if err := d.ReplCount(ctx, "a/b.txt", 2); err != nil {
		t.Fatalf("ReplCount: %v", err)
	}

	called := false
	d.ScheduleMirror = func(context.Context, string, string) error {
		called = true
		return nil
	}
	d.replicateUnderReplicated(ctx, ReconcileConfig{})
	if called {
		t.Fatal("did not expect a mirror to be scheduled for a fully replicated file")
	}
}

func TestMigrateOffRetiringSchedulesMigration(t *testing.T) {
	ctx := context.Background()
	d, reg := testDeps(t)
	if err := d.Catalog.AddLocation(ctx, "a/b.txt", "se01:/grid/a/b.txt"); err != nil {
		t.Fatalf("AddLocation: %v", err)
	}
	if err := reg.SetStatus(node.StatusRetiring, "se01", true); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	var from, to string
	d.ScheduleMigration = func(_ context.Context, lfn, fromHost, target string) error {
		from, to = fromHost, target
		return nil
	}
	d.migrateOffRetiring(ctx)
	if from != "se01" || to != "se02" {
		t.Fatalf("expected migration se01->se02, got %q->%q", from, to)
	}
}

func TestScanAndIntegrateInboxesSweepsStaleOrphan(t *testing.T) {
	ctx := context.Background()
	d, _ := testDeps(t)
	be := &inboxStubBackend{
		entries: []string{"orphan.txt"},
		modTimes: map[string]time.Time{
			"inbox/orphan.txt": time.Now().Add(-2 * time.Hour),
		},
	}
	d.Dispatch = func(string) (backend.SEBackend, error) { return be, nil }

	d.scanAndIntegrateInboxes(ctx, time.Hour)

	// testDeps registers two live nodes (se01, se02) and the stub backend
	// reports the same staged entry for both, so the sweep runs once per
	// host.
	if len(be.removed) != 2 {
		t.Fatalf("expected the stale staged file swept on both hosts, removed=%v", be.removed)
	}
	for _, want := range []string{"se01:inbox/orphan.txt", "se02:inbox/orphan.txt"} {
		found := false
		for _, got := range be.removed {
			if got == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected %q among removed, got %v", want, be.removed)
		}
	}
}

func TestScanAndIntegrateInboxesKeepsFreshStage(t *testing.T) {
	ctx := context.Background()
	d, _ := testDeps(t)
	be := &inboxStubBackend{
		entries: []string{"fresh.txt"},
		modTimes: map[string]time.Time{
			"inbox/fresh.txt": time.Now().Add(-time.Minute),
		},
	}
	d.Dispatch = func(string) (backend.SEBackend, error) { return be, nil }

	d.scanAndIntegrateInboxes(ctx, time.Hour)

	if len(be.removed) != 0 {
		t.Fatalf("expected the fresh staged file to be left for integration, removed=%v", be.removed)
	}
}

func TestThreadSerializesCommandsAndTicks(t *testing.T) {
	d, _ := testDeps(t)
	dir := t.TempDir()
	th := NewThread(d, ReconcileConfig{}, filepath.Join(dir, "mainnodelist.conf"), 20*time.Millisecond, 4)

	ctx, cancel := context.WithCancel(context.Background())
	go th.Run(ctx)

	reply := make(chan error, 1)
	err := th.Submit(ctx, Command{
		Name: "touch",
		Run: func(ctx context.Context, d *Deps) error {
			return d.Touch(ctx, "a/b.txt", "now")
		},
		Reply: reply,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case err := <-reply:
		if err != nil {
			t.Fatalf("command failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for command reply")
	}

	v, err := d.Catalog.GetAttribute(context.Background(), "a/b.txt", "lastchecked")
	if err != nil || v != "now" {
		t.Fatalf("GetAttribute(lastchecked) = %q, %v", v, err)
	}

	cancel()
	th.Stop()
}
