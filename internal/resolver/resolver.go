// Package resolver turns candidate annotation proposals into a conflict-free
// set. All functions are pure: no I/O, no side effects, deterministic.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/weftlabs/weft/internal/apperr"
	"github.com/weftlabs/weft/internal/models"
)

// Validate rejects malformed proposals. Callers must drop invalid proposals
// at the boundary before invoking Resolve.
func Validate(p models.Proposal) error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("resolver: empty title: %w", apperr.ErrValidation)
	}
	if p.Start < 0 || p.Start >= p.End {
		return fmt.Errorf("resolver: bad interval [%d,%d): %w", p.Start, p.End, apperr.ErrValidation)
	}
	return nil
}

// FilterRejected drops proposals whose title+type matches a USER_REJECTED
// anchor (case-insensitive). This composes before the overlap filtering in
// the full pipeline: a concept the user rejected is never re-proposed.
func FilterRejected(proposals []models.Proposal, rejected []models.Anchor) []models.Proposal {
	if len(rejected) == 0 {
		return proposals
	}
	blocked := make(map[string]struct{}, len(rejected))
	for _, a := range rejected {
		if a.Provenance != models.ProvenanceUserRejected {
			continue
		}
		blocked[identityKey(a.ConceptTitle, a.ConceptType)] = struct{}{}
	}

	out := proposals[:0:0]
	for _, p := range proposals {
		if _, ok := blocked[identityKey(p.Title, p.Type)]; ok {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Resolve filters proposals against locked anchors and against each other:
//
//  1. proposals overlapping any locked anchor are dropped
//  2. survivors are sorted by (start asc, end asc)
//  3. a greedy sweep keeps each proposal iff it overlaps none already kept,
//     yielding the unique maximal-by-earliest-start non-overlapping subset
//
// Intervals are half-open; touching endpoints do not overlap.
func Resolve(proposals []models.Proposal, existing []models.Anchor) []models.Proposal {
	var locked []models.Anchor
	for _, a := range existing {
		if a.Locked {
			locked = append(locked, a)
		}
	}

	var candidates []models.Proposal
	for _, p := range proposals {
		conflict := false
		for _, a := range locked {
			if overlaps(p.Start, p.End, a.Start, a.End) {
				conflict = true
				break
			}
		}
		if !conflict {
			candidates = append(candidates, p)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		return candidates[i].End < candidates[j].End
	})

	var kept []models.Proposal
	for _, p := range candidates {
		conflict := false
		for _, k := range kept {
			if overlaps(p.Start, p.End, k.Start, k.End) {
				conflict = true
				break
			}
		}
		if !conflict {
			kept = append(kept, p)
		}
	}
	return kept
}

// overlaps reports whether half-open intervals [aStart,aEnd) and
// [bStart,bEnd) intersect.
func overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return max(aStart, bStart) < min(aEnd, bEnd)
}

func identityKey(title, typ string) string {
	return strings.ToLower(title) + "|" + strings.ToLower(typ)
}
