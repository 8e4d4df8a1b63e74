// Package inbox implements the control-thread side of the inbox protocol
// (spec.md §4.6): verifying a staged put, promoting it to its canonical
// path, recording it in the catalogue, and sweeping orphaned staged files
// older than inboxTTL. The client/producer side (startCopyToInbox) lives
// in package transfer + backend; this package is purely the integration
// and reconciliation-time scan half.
package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/epcced/digs"
	"github.com/epcced/digs/backend"
	"github.com/epcced/digs/catalog"
)

// PutDeclaration is the client-declared size/checksum/ownership for a
// staged file, carried on the "integrate lfn primary" message.
type PutDeclaration struct {
	LFN         string
	Host        string
	Size        int64
	MD5Sum      string
	Submitter   string
	Group       string
	Permissions string
}

// Integrator performs the control-thread-side steps of the inbox
// protocol against one backend and one catalogue.
type Integrator struct {
	Backend backend.SEBackend
	Catalog catalog.Catalog
}

// Integrate implements spec.md §4.6's control-thread steps 1-4: verify
// the staged file exists and matches the client's declared size/checksum,
// promote it to its canonical path, and record it in the catalogue.
// Mirror replication (step 5) is left to package control's
// reconciliation tick, which later finds the LFN under-replicated, since
// it needs the full node registry/placement context this package does
// not have.
func (in *Integrator) Integrate(ctx context.Context, d PutDeclaration) error {
	if err := digs.ValidateLFN(d.LFN); err != nil {
		return err
	}
	staged := stagedPath(d.LFN)

	exists, err := in.Backend.DoesExist(ctx, d.Host, staged)
	if err != nil {
		return fmt.Errorf("inbox: checking staged file for %s: %w", d.LFN, err)
	}
	if !exists {
		return digs.NewError(digs.NotFound, d.LFN, fmt.Errorf("inbox: staged file not found for %s on %s", d.LFN, d.Host))
	}

	size, err := in.Backend.GetLength(ctx, d.Host, staged)
	if err != nil {
		return fmt.Errorf("inbox: length check for %s: %w", d.LFN, err)
	}
	if size != d.Size {
		return digs.NewError(digs.Invariant, d.LFN, fmt.Errorf("inbox: size mismatch for %s: declared %d, actual %d", d.LFN, d.Size, size))
	}

	if d.MD5Sum != "" {
		sum, err := in.Backend.GetChecksum(ctx, d.Host, staged)
		if err != nil {
			return fmt.Errorf("inbox: checksum check for %s: %w", d.LFN, err)
		}
		if sum != d.MD5Sum {
			return digs.NewError(digs.Invariant, d.LFN, fmt.Errorf("inbox: checksum mismatch for %s: declared %s, actual %s", d.LFN, d.MD5Sum, sum))
		}
	}

	if err := in.Backend.CopyFromInbox(ctx, d.Host, d.LFN, d.LFN); err != nil {
		return fmt.Errorf("inbox: promoting %s: %w", d.LFN, err)
	}

	pfn := d.Host + ":" + d.LFN
	if err := in.Catalog.AddLocation(ctx, d.LFN, pfn); err != nil {
		return fmt.Errorf("inbox: recording location for %s: %w", d.LFN, err)
	}
	attrs := map[string]string{
		"size":        fmt.Sprintf("%d", d.Size),
		"md5sum":      d.MD5Sum,
		"submitter":   d.Submitter,
		"group":       d.Group,
		"permissions": d.Permissions,
	}
	for k, v := range attrs {
		if v == "" {
			continue
		}
		if err := in.Catalog.SetAttribute(ctx, d.LFN, k, v); err != nil {
			return fmt.Errorf("inbox: setting attribute %s for %s: %w", k, d.LFN, err)
		}
	}
	return nil
}

// PendingStage is one staged-but-not-yet-integrated file discovered by a
// ScanInbox call, with the age used to decide whether it qualifies for
// the inboxTTL sweep.
type PendingStage struct {
	LFN       string
	Host      string
	StagedAge time.Duration
}

// ScanResult separates staged files younger than inboxTTL (ToIntegrate)
// from those old enough to sweep (ToSweep). The split is by age alone; no
// check is made against puts the control thread is expecting.
type ScanResult struct {
	ToIntegrate []PendingStage
	ToSweep     []PendingStage
}

// ScanAndClassify implements spec.md §4.6's scan-reconciliation step: scan
// a host's inbox, and classify every staged LFN not already known to the
// catalogue by its staged age: younger than inboxTTL goes to ToIntegrate,
// otherwise to ToSweep. Actual integration/removal
// is left to the caller so this function has no side effects beyond the
// ScanInbox call itself.
func ScanAndClassify(ctx context.Context, be backend.SEBackend, cat catalog.Catalog, host string, inboxTTL time.Duration, stagedAt func(lfn string) (time.Time, bool), now time.Time) (ScanResult, error) {
	staged, err := be.ScanInbox(ctx, host)
	if err != nil {
		return ScanResult{}, fmt.Errorf("inbox: scanning %s: %w", host, err)
	}

	var result ScanResult
	for _, lfn := range staged {
		locs, err := cat.GetLocations(ctx, lfn)
		if err != nil {
			return ScanResult{}, fmt.Errorf("inbox: checking catalogue for %s: %w", lfn, err)
		}
		if len(locs) > 0 {
			// Already integrated; a stray staged copy left behind by a
			// prior crash, not something to re-integrate.
			continue
		}

		var age time.Duration
		if ts, ok := stagedAt(lfn); ok {
			age = now.Sub(ts)
		}

		ps := PendingStage{LFN: lfn, Host: host, StagedAge: age}
		if age >= inboxTTL {
			result.ToSweep = append(result.ToSweep, ps)
		} else {
			result.ToIntegrate = append(result.ToIntegrate, ps)
		}
	}
	return result, nil
}

// Sweep removes an orphaned staged file from the inbox.
func Sweep(ctx context.Context, be backend.SEBackend, p PendingStage) error {
	return be.Rm(ctx, p.Host, stagedPath(p.LFN))
}

// stagedPath is the inbox-relative path every backend stages a put under,
// matching StartCopyToInbox/CopyFromInbox/ScanInbox's "inbox/" convention.
func stagedPath(lfn string) string {
	return "inbox/" + digs.EncodeDIR(lfn)
}
