package placement

import (
	"testing"

	"github.com/epcced/digs/node"
)

func testRegistry(t *testing.T, nodes []node.Node) *node.Registry {
	t.Helper()
	r := node.NewRegistry(t.TempDir())
	for _, n := range nodes {
		if err := r.Add(n); err != nil {
			t.Fatalf("Add(%s): %v", n.Name, err)
		}
	}
	return r
}

func nd(name, site string, freeKB int64) node.Node {
	return node.Node{
		Name:        name,
		Site:        site,
		Path:        "/grid/" + name,
		Type:        node.TypeGlobus,
		Disks:       []node.Disk{{Index: 0, QuotaKB: freeKB}},
		FreeSpaceKB: freeKB,
		Timeouts:    node.DefaultTimeouts(),
		Properties:  map[string]string{},
	}
}

func TestChooseForPrimaryRankDominates(t *testing.T) {
	r := testRegistry(t, []node.Node{
		nd("se-rank0-lowspace-primarytest", "site-a", 100),
		nd("se-rank1-hugespace-primarytest", "site-b", 10_000_000),
	})
	snap := r.Snapshot()
	preference := []string{"se-rank0-lowspace-primarytest", "se-rank1-hugespace-primarytest"}
	cands := ChooseForPrimary(snap, preference, 10, 1, 1)
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	if cands[0].Name != "se-rank0-lowspace-primarytest" {
		t.Fatalf("expected rank 0 node to win despite less free space, got %s", cands[0].Name)
	}
}

func TestChooseForPrimaryExcludesInsufficientSpace(t *testing.T) {
	r := testRegistry(t, []node.Node{nd("se-small", "site-a", 5)})
	snap := r.Snapshot()
	cands := ChooseForPrimary(snap, []string{"se-small"}, 1024*1024, 1, 1)
	if len(cands) != 0 {
		t.Fatalf("expected no qualifying candidates, got %v", cands)
	}
}

func TestChooseForPrimaryExcludesDead(t *testing.T) {
	r := testRegistry(t, []node.Node{nd("se-dead", "site-a", 1_000_000)})
	if err := r.SetStatus(node.StatusDead, "se-dead", true); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	snap := r.Snapshot()
	cands := ChooseForPrimary(snap, []string{"se-dead"}, 10, 1, 1)
	if len(cands) != 0 {
		t.Fatalf("expected dead node excluded, got %v", cands)
	}
}

func TestChooseForMirrorExcludesSharedSite(t *testing.T) {
	r := testRegistry(t, []node.Node{
		nd("se-same-site", "site-a", 1_000_000),
		nd("se-other-site", "site-b", 500_000),
	})
	snap := r.Snapshot()
	name, ok := ChooseForMirror(snap, []string{"site-a"}, 10)
	if !ok || name != "se-other-site" {
		t.Fatalf("expected se-other-site, got %q ok=%v", name, ok)
	}
}

func TestChooseForMirrorNoneQualify(t *testing.T) {
	r := testRegistry(t, []node.Node{nd("se-only", "site-a", 1_000_000)})
	snap := r.Snapshot()
	_, ok := ChooseForMirror(snap, []string{"site-a"}, 10)
	if ok {
		t.Fatal("expected no qualifying mirror candidate")
	}
}
