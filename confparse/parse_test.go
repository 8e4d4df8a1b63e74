package confparse

import (
	"strings"
	"testing"
)

func TestParseRecordsBlankLineSeparated(t *testing.T) {
	input := `# grid config
min_copies = 2
cycle_interval=60

admin_list = alice,bob
`
	records, err := ParseRecords(strings.NewReader(input), "")
	if err != nil {
		t.Fatalf("ParseRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if v, ok := records[0].Get("min_copies"); !ok || v != "2" {
		t.Fatalf("min_copies = %q, %v", v, ok)
	}
	if v, ok := records[1].Get("admin_list"); !ok || v != "alice,bob" {
		t.Fatalf("admin_list = %q, %v", v, ok)
	}
}

func TestParseRecordsPrimaryKeyRepeats(t *testing.T) {
	input := `node=se1.example.org
site=edinburgh
path=/grid/data
type=globus
data0=1048576
node=se2.example.org
site=glasgow
path=/grid/data
type=srm
data0=2097152
`
	records, err := ParseRecords(strings.NewReader(input), "node")
	if err != nil {
		t.Fatalf("ParseRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if v, _ := records[0].Get("node"); v != "se1.example.org" {
		t.Fatalf("record 0 node = %q", v)
	}
	if v, _ := records[1].Get("node"); v != "se2.example.org" {
		t.Fatalf("record 1 node = %q", v)
	}
}

func TestRecordWithPrefix(t *testing.T) {
	input := `node=se1.example.org
data0=100
data1=200
data2=300
`
	records, err := ParseRecords(strings.NewReader(input), "node")
	if err != nil {
		t.Fatalf("ParseRecords: %v", err)
	}
	disks := records[0].WithPrefix("data")
	if len(disks) != 3 {
		t.Fatalf("got %d disk entries, want 3", len(disks))
	}
}

func TestParseRecordsMissingEquals(t *testing.T) {
	_, err := ParseRecords(strings.NewReader("not-a-kv-line\n"), "")
	if err == nil {
		t.Fatalf("expected error for malformed line")
	}
}

func TestGetIntFloatBool(t *testing.T) {
	records, err := ParseRecords(strings.NewReader("node=se1\njobtimeout=45.5\ngpfs=1\ndata0=1024\n"), "node")
	if err != nil {
		t.Fatalf("ParseRecords: %v", err)
	}
	r := records[0]
	if r.GetFloat("jobtimeout", 0) != 45.5 {
		t.Fatalf("jobtimeout = %v", r.GetFloat("jobtimeout", 0))
	}
	if !r.GetBool("gpfs", false) {
		t.Fatalf("gpfs should be true")
	}
	if r.GetInt("data0", 0) != 1024 {
		t.Fatalf("data0 = %v", r.GetInt("data0", 0))
	}
	if r.GetInt("missing", 7) != 7 {
		t.Fatalf("default not applied")
	}
}
