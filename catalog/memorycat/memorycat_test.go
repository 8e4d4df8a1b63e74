package memorycat

import (
	"context"
	"testing"

	"github.com/epcced/digs"
	"github.com/epcced/digs/catalog"
)

func TestAddGetRemoveLocation(t *testing.T) {
	ctx := context.Background()
	c := New()

	if err := c.AddLocation(ctx, "a/b.txt", "se01:/grid/a/b.txt"); err != nil {
		t.Fatalf("AddLocation: %v", err)
	}
	locs, err := c.GetLocations(ctx, "a/b.txt")
	if err != nil || len(locs) != 1 {
		t.Fatalf("GetLocations = %v, %v", locs, err)
	}

	if err := c.RemoveLocation(ctx, "a/b.txt", "se01:/grid/a/b.txt"); err != nil {
		t.Fatalf("RemoveLocation: %v", err)
	}
	locs, _ = c.GetLocations(ctx, "a/b.txt")
	if len(locs) != 0 {
		t.Fatalf("expected no locations after removal, got %v", locs)
	}
}

func TestAttributeDeletedWithLastLocation(t *testing.T) {
	ctx := context.Background()
	c := New()

	if err := c.AddLocation(ctx, "a/b.txt", "se01:/grid/a/b.txt"); err != nil {
		t.Fatalf("AddLocation: %v", err)
	}
	if err := c.SetAttribute(ctx, "a/b.txt", "checksum", "deadbeef"); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	if err := c.RemoveLocation(ctx, "a/b.txt", "se01:/grid/a/b.txt"); err != nil {
		t.Fatalf("RemoveLocation: %v", err)
	}
	v, err := c.GetAttribute(ctx, "a/b.txt", "checksum")
	if err != nil || v != digs.NullAttribute {
		t.Fatalf("expected attribute gone after last location removed, got %q, %v", v, err)
	}
}

func TestGetAttributeMissingReturnsNullSentinel(t *testing.T) {
	c := New()
	v, err := c.GetAttribute(context.Background(), "never/seen.txt", "checksum")
	if err != nil || v != digs.NullAttribute {
		t.Fatalf("expected sentinel for unknown lfn, got %q, %v", v, err)
	}
}

func TestSetAttributeRejectsNullSentinel(t *testing.T) {
	c := New()
	err := c.SetAttribute(context.Background(), "a.txt", "checksum", digs.NullAttribute)
	if err == nil {
		t.Fatal("expected SetAttribute to reject the null sentinel as a literal value")
	}
}

func TestForEachFilePrefixAndStop(t *testing.T) {
	ctx := context.Background()
	c := New()
	for _, lfn := range []string{"dir/a.txt", "dir/b.txt", "dir/sub/c.txt", "other/d.txt"} {
		if err := c.AddLocation(ctx, lfn, "se01:/x/"+lfn); err != nil {
			t.Fatalf("AddLocation(%s): %v", lfn, err)
		}
	}

	var seen []string
	err := c.ForEachFile(ctx, "dir", func(_ context.Context, lfn string, it *catalog.Iterator) error {
		seen = append(seen, lfn)
		if lfn == "dir/b.txt" {
			it.Stop = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachFile: %v", err)
	}
	if len(seen) != 2 || seen[0] != "dir/a.txt" || seen[1] != "dir/b.txt" {
		t.Fatalf("expected scan to stop after dir/b.txt, got %v", seen)
	}
}

func TestGetAllAttributeValues(t *testing.T) {
	ctx := context.Background()
	c := New()
	for _, lfn := range []string{"a.txt", "b.txt"} {
		if err := c.AddLocation(ctx, lfn, "se01:/x/"+lfn); err != nil {
			t.Fatalf("AddLocation: %v", err)
		}
		if err := c.SetAttribute(ctx, lfn, "owner", "alice"); err != nil {
			t.Fatalf("SetAttribute: %v", err)
		}
	}
	vals, err := c.GetAllAttributeValues(ctx, "owner")
	if err != nil || len(vals) != 2 {
		t.Fatalf("GetAllAttributeValues = %v, %v", vals, err)
	}
}
