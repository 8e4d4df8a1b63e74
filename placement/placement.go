// Package placement implements the scoring rules that decide which storage
// elements host a new primary copy or a new mirror copy of a file
// (spec.md §4.2). It consumes a node.Snapshot so callers get a consistent
// view across the whole decision even while the registry mutates
// concurrently.
package placement

import (
	"sort"

	"github.com/epcced/digs/node"
)

// locationWeightScale guarantees the rank term dominates unless free space
// differs by eight orders of magnitude (spec.md §4.2's rationale).
const locationWeightScale = 1e8

// Candidate is one scored node returned by ChooseForPrimary.
type Candidate struct {
	Name      string
	Score     float64
	FreeSpace int64
}

// ChooseForPrimary scores every node in preference (already ordered, most
// preferred first) that is eligible and has enough free space for size
// bytes, and returns them sorted by descending score. Ties break on
// greater free space, then lower rank (i.e. earlier in preference), then
// node name.
func ChooseForPrimary(snap node.Snapshot, preference []string, size int64, locationWeight, spaceWeight float64) []Candidate {
	n := len(preference)
	type scored struct {
		Candidate
		rank int
	}
	var qualifying []scored

	for rank, name := range preference {
		nd, ok := lookup(snap, name)
		if !ok || !snap.Eligible(name) {
			continue
		}
		freeSpace := nd.FreeSpaceKB * 1024
		if freeSpace <= size {
			continue
		}
		score := float64(n-rank)*locationWeight*locationWeightScale + float64(nd.FreeSpaceKB)*spaceWeight
		qualifying = append(qualifying, scored{
			Candidate: Candidate{Name: name, Score: score, FreeSpace: freeSpace},
			rank:      rank,
		})
	}

	sort.Slice(qualifying, func(i, j int) bool {
		a, b := qualifying[i], qualifying[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.FreeSpace != b.FreeSpace {
			return a.FreeSpace > b.FreeSpace
		}
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		return a.Name < b.Name
	})

	out := make([]Candidate, len(qualifying))
	for i, s := range qualifying {
		out[i] = s.Candidate
	}
	return out
}

// ChooseForMirror picks the single best node to hold a new mirror of an
// already-replicated file: excludes any node sharing a site with an
// existing replica, excludes ineligible nodes, excludes nodes without
// enough free space, and among the remainder picks the greatest free
// space (same tie-break as ChooseForPrimary, minus the rank term since
// there is no preference list here).
func ChooseForMirror(snap node.Snapshot, existingReplicaSites []string, size int64) (string, bool) {
	excludedSites := make(map[string]bool, len(existingReplicaSites))
	for _, site := range existingReplicaSites {
		excludedSites[site] = true
	}

	var best node.Node
	haveBest := false
	for _, nd := range snap.Nodes {
		if !snap.Eligible(nd.Name) {
			continue
		}
		if excludedSites[nd.Site] {
			continue
		}
		if nd.FreeSpaceKB*1024 <= size {
			continue
		}
		if !haveBest {
			best, haveBest = nd, true
			continue
		}
		if nd.FreeSpaceKB > best.FreeSpaceKB ||
			(nd.FreeSpaceKB == best.FreeSpaceKB && nd.Name < best.Name) {
			best = nd
		}
	}
	if !haveBest {
		return "", false
	}
	return best.Name, true
}

func lookup(snap node.Snapshot, name string) (node.Node, bool) {
	for _, n := range snap.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return node.Node{}, false
}
