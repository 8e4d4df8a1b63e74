package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/epcced/digs/backend"
	"github.com/epcced/digs/catalog/memorycat"
)

// fakeBackend scripts DoesExist/GetLength/GetChecksum/CopyFromInbox/
// ScanInbox/Rm for a single staged file, enough to exercise Integrate and
// ScanAndClassify without real storage.
type fakeBackend struct {
	backend.SEBackend
	exists       bool
	length       int64
	checksum     string
	copied       bool
	removed      bool
	inboxEntries []string
}

func (f *fakeBackend) DoesExist(_ context.Context, _, _ string) (bool, error) { return f.exists, nil }
func (f *fakeBackend) GetLength(_ context.Context, _, _ string) (int64, error) {
	return f.length, nil
}
func (f *fakeBackend) GetChecksum(_ context.Context, _, _ string) (string, error) {
	return f.checksum, nil
}
func (f *fakeBackend) CopyFromInbox(_ context.Context, _, _, _ string) error {
	f.copied = true
	return nil
}
func (f *fakeBackend) ScanInbox(_ context.Context, _ string) ([]string, error) {
	return f.inboxEntries, nil
}
func (f *fakeBackend) Rm(_ context.Context, _, _ string) error {
	f.removed = true
	return nil
}

func TestIntegrateHappyPath(t *testing.T) {
	ctx := context.Background()
	cat := memorycat.New()
	be := &fakeBackend{exists: true, length: 5, checksum: "abc123"}
	in := &Integrator{Backend: be, Catalog: cat}

	d := PutDeclaration{LFN: "a/b.txt", Host: "se01", Size: 5, MD5Sum: "abc123", Submitter: "alice"}
	if err := in.Integrate(ctx, d); err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	if !be.copied {
		t.Fatal("expected CopyFromInbox to be called")
	}
	locs, err := cat.GetLocations(ctx, "a/b.txt")
	if err != nil || len(locs) != 1 {
		t.Fatalf("GetLocations = %v, %v", locs, err)
	}
	v, err := cat.GetAttribute(ctx, "a/b.txt", "submitter")
	if err != nil || v != "alice" {
		t.Fatalf("GetAttribute(submitter) = %q, %v", v, err)
	}
}

func TestIntegrateRejectsSizeMismatch(t *testing.T) {
	ctx := context.Background()
	cat := memorycat.New()
	be := &fakeBackend{exists: true, length: 999, checksum: "abc123"}
	in := &Integrator{Backend: be, Catalog: cat}

	d := PutDeclaration{LFN: "a/b.txt", Host: "se01", Size: 5, MD5Sum: "abc123"}
	if err := in.Integrate(ctx, d); err == nil {
		t.Fatal("expected size mismatch to error")
	}
}

func TestIntegrateRejectsMissingStagedFile(t *testing.T) {
	ctx := context.Background()
	cat := memorycat.New()
	be := &fakeBackend{exists: false}
	in := &Integrator{Backend: be, Catalog: cat}

	d := PutDeclaration{LFN: "a/b.txt", Host: "se01", Size: 5}
	if err := in.Integrate(ctx, d); err == nil {
		t.Fatal("expected missing staged file to error")
	}
}

func TestScanAndClassifySeparatesFreshFromOrphan(t *testing.T) {
	ctx := context.Background()
	cat := memorycat.New()
	be := &fakeBackend{inboxEntries: []string{"fresh.txt", "old.txt"}}

	now := time.Unix(1_700_000_000, 0)
	stagedAt := func(lfn string) (time.Time, bool) {
		if lfn == "old.txt" {
			return now.Add(-2 * time.Hour), true
		}
		return now.Add(-1 * time.Minute), true
	}

	result, err := ScanAndClassify(ctx, be, cat, "se01", time.Hour, stagedAt, now)
	if err != nil {
		t.Fatalf("ScanAndClassify: %v", err)
	}
	if len(result.ToIntegrate) != 1 || result.ToIntegrate[0].LFN != "fresh.txt" {
		t.Fatalf("unexpected ToIntegrate: %+v", result.ToIntegrate)
	}
	if len(result.ToSweep) != 1 || result.ToSweep[0].LFN != "old.txt" {
		t.Fatalf("unexpected ToSweep: %+v", result.ToSweep)
	}
}

func TestScanAndClassifySkipsAlreadyIntegrated(t *testing.T) {
	ctx := context.Background()
	cat := memorycat.New()
	if err := cat.AddLocation(ctx, "known.txt", "se01:/grid/known.txt"); err != nil {
		t.Fatalf("AddLocation: %v", err)
	}
	be := &fakeBackend{inboxEntries: []string{"known.txt"}}

	now := time.Unix(1_700_000_000, 0)
	result, err := ScanAndClassify(ctx, be, cat, "se01", time.Hour, func(string) (time.Time, bool) { return now, true }, now)
	if err != nil {
		t.Fatalf("ScanAndClassify: %v", err)
	}
	if len(result.ToIntegrate) != 0 || len(result.ToSweep) != 0 {
		t.Fatalf("expected already-integrated file skipped, got %+v", result)
	}
}

func TestSweepRemovesStagedFile(t *testing.T) {
	be := &fakeBackend{}
	if err := Sweep(context.Background(), be, PendingStage{LFN: "old.txt", Host: "se01"}); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !be.removed {
		t.Fatal("expected Rm to be called")
	}
}
