// Package nodes resolves annotation proposals to canonical concept identities.
// Resolution is lookup-only: a proposal that matches no existing concept is
// silently dropped, never materialized as a new concept.
package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/weftlabs/weft/internal/models"
)

// ConceptLookup is the concept-lookup collaborator.
type ConceptLookup interface {
	FindConceptsByTitles(ownerID string, titles []string) ([]models.Concept, error)
}

// Resolved is a proposal mapped to a canonical concept identity.
type Resolved struct {
	ConceptID string
	Start     int
	End       int
}

// Service maps proposals onto the owner's concept registry.
type Service struct {
	lookup ConceptLookup
}

// NewService creates a node resolution service.
func NewService(lookup ConceptLookup) *Service {
	return &Service{lookup: lookup}
}

// Resolve batch-fetches all concepts owned by ownerID whose title appears in
// the proposal set (one query, not N) and maps each proposal through an exact
// case-insensitive (title, type) match. Proposals with no match are dropped.
// If the batch fetch fails the whole call fails; the caller retries.
func (s *Service) Resolve(_ context.Context, proposals []models.Proposal, ownerID string) ([]Resolved, error) {
	if len(proposals) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(proposals))
	var titles []string
	for _, p := range proposals {
		key := strings.ToLower(p.Title)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		titles = append(titles, p.Title)
	}

	concepts, err := s.lookup.FindConceptsByTitles(ownerID, titles)
	if err != nil {
		return nil, fmt.Errorf("nodes: batch concept fetch: %w", err)
	}

	byIdentity := make(map[string]string, len(concepts))
	for _, c := range concepts {
		byIdentity[identityKey(c.Title, c.Type)] = c.ID
	}

	var out []Resolved
	for _, p := range proposals {
		id, ok := byIdentity[identityKey(p.Title, p.Type)]
		if !ok {
			continue // resolution miss: normal outcome, not an error
		}
		out = append(out, Resolved{ConceptID: id, Start: p.Start, End: p.End})
	}
	return out, nil
}

func identityKey(title, typ string) string {
	return strings.ToLower(title) + "|" + strings.ToLower(typ)
}
