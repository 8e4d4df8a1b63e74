package node

import (
	"strings"
	"testing"
)

func sampleNode(name string) Node {
	return Node{
		Name:       name,
		Site:       "edinburgh",
		Path:       "/grid/" + name,
		Type:       TypeGlobus,
		Disks:      []Disk{{Index: 0, QuotaKB: 1024}},
		Timeouts:   DefaultTimeouts(),
		Properties: map[string]string{},
	}
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry(t.TempDir())
	n := sampleNode("se01.example.ac.uk")
	if err := r.Add(n); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(n); err == nil {
		t.Fatal("expected duplicate Add to fail")
	}
	got, ok := r.Get(n.Name)
	if !ok || got.Site != "edinburgh" {
		t.Fatalf("Get returned %v, %v", got, ok)
	}
	if err := r.Remove(n.Name); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := r.Get(n.Name); ok {
		t.Fatal("expected node gone after Remove")
	}
}

func TestRegistryPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)
	for _, name := range []string{"se01.example.ac.uk", "se02.example.ac.uk"} {
		if err := r.Add(sampleNode(name)); err != nil {
			t.Fatalf("Add %s: %v", name, err)
		}
	}

	r2 := NewRegistry(dir)
	if err := r2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := r2.Snapshot()
	if len(snap.Nodes) != 2 {
		t.Fatalf("expected 2 nodes after reload, got %d", len(snap.Nodes))
	}
}

func TestRegistryStatusLists(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)
	n := sampleNode("se01.example.ac.uk")
	if err := r.Add(n); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.SetStatus(StatusDead, n.Name, true); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if !r.Status(StatusDead, n.Name) {
		t.Fatal("expected node marked dead")
	}

	snap := r.Snapshot()
	if snap.Eligible(n.Name) {
		t.Fatal("dead node must not be eligible")
	}

	if err := r.Remove(n.Name); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if r.Status(StatusDead, n.Name) {
		t.Fatal("expected dead status scrubbed after Remove")
	}
}

func TestParseNodeListRequiredKeys(t *testing.T) {
	in := "node=se01\nsite=edinburgh\npath=/grid/se01\n\n"
	if _, err := ParseNodeList(strings.NewReader(in)); err == nil {
		t.Fatal("expected error for missing type key")
	}
}

func TestParseNodeListTwoNodes(t *testing.T) {
	in := "" +
		"node=se01.example.ac.uk\n" +
		"site=edinburgh\n" +
		"path=/grid/se01\n" +
		"type=globus\n" +
		"data0=102400\n" +
		"node=se02.example.ac.uk\n" +
		"site=glasgow\n" +
		"path=/grid/se02\n" +
		"type=srm\n" +
		"data0=204800\n" +
		"gpfs=1\n"

	nodes, err := ParseNodeList(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseNodeList: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	if nodes[0].Name != "se01.example.ac.uk" || nodes[0].TotalQuotaKB() != 102400 {
		t.Errorf("unexpected first node: %+v", nodes[0])
	}
	if nodes[1].Type != TypeSRM || !nodes[1].GPFS {
		t.Errorf("unexpected second node: %+v", nodes[1])
	}
}
