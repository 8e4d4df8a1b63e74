package main

import (
	"context"
	"testing"

	"github.com/epcced/digs"
	"github.com/epcced/digs/catalog/memorycat"
	"github.com/epcced/digs/control"
	"github.com/epcced/digs/node"
)

func testDeps(t *testing.T) *control.Deps {
	t.Helper()
	reg := node.NewRegistry(t.TempDir())
	pol, err := control.NewPolicyEvaluator(control.DefaultAdminExpr)
	if err != nil {
		t.Fatalf("NewPolicyEvaluator: %v", err)
	}
	return &control.Deps{
		Catalog:          memorycat.New(),
		Registry:         reg,
		Policy:           pol,
		DefaultReplCount: 2,
		LiveSiteCount:    func() int { return 3 },
	}
}

func TestParseCommandLockUnlock(t *testing.T) {
	d := testDeps(t)
	cfg := digs.DefaultConfiguration()

	lock, err := parseCommand("alice", "lock a/b.txt", cfg)
	if err != nil {
		t.Fatalf("parseCommand(lock): %v", err)
	}
	if err := lock.run(context.Background(), d); err != nil {
		t.Fatalf("lock run: %v", err)
	}

	unlock, err := parseCommand("alice", "unlock a/b.txt", cfg)
	if err != nil {
		t.Fatalf("parseCommand(unlock): %v", err)
	}
	if err := unlock.run(context.Background(), d); err != nil {
		t.Fatalf("unlock run: %v", err)
	}
}

func TestParseCommandReplCountRejectsBadArgs(t *testing.T) {
	cfg := digs.DefaultConfiguration()
	if _, err := parseCommand("alice", "replcount a/b.txt notanumber", cfg); err == nil {
		t.Fatal("expected non-numeric replcount to be rejected")
	}
	if _, err := parseCommand("alice", "replcount a/b.txt", cfg); err == nil {
		t.Fatal("expected missing argument to be rejected")
	}
}

func TestParseCommandUnknownVerb(t *testing.T) {
	cfg := digs.DefaultConfiguration()
	if _, err := parseCommand("alice", "frobnicate a/b.txt", cfg); err == nil {
		t.Fatal("expected unknown verb to be rejected")
	}
}

func TestParseCommandRetireUnretire(t *testing.T) {
	d := testDeps(t)
	if err := d.Registry.Add(node.Node{
		Name: "se01", Site: "siteA", Path: "/grid", Type: node.TypeGlobus,
		Disks: []node.Disk{{Index: 0, QuotaKB: 1000}},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	cfg := digs.DefaultConfiguration()

	retire, err := parseCommand("alice", "retire se01", cfg)
	if err != nil {
		t.Fatalf("parseCommand(retire): %v", err)
	}
	if err := retire.run(context.Background(), d); err != nil {
		t.Fatalf("retire run: %v", err)
	}
	if !d.Registry.Status(node.StatusRetiring, "se01") {
		t.Fatal("expected se01 marked retiring")
	}
}
