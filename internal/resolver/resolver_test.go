package resolver

import (
	"testing"

	"github.com/weftlabs/weft/internal/models"
)

func prop(title string, start, end int) models.Proposal {
	return models.Proposal{Title: title, Type: "person", Start: start, End: end}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		p       models.Proposal
		wantErr bool
	}{
		{"ok", prop("Alice", 0, 5), false},
		{"empty title", prop("  ", 0, 5), true},
		{"negative start", prop("Alice", -1, 5), true},
		{"empty interval", prop("Alice", 5, 5), true},
		{"inverted interval", prop("Alice", 7, 3), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.p)
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate(%+v) err = %v, wantErr %v", tc.p, err, tc.wantErr)
			}
		})
	}
}

func TestResolve_LockedAnchorWins(t *testing.T) {
	existing := []models.Anchor{
		{Start: 10, End: 20, Locked: true},
	}
	// [15,25) overlaps the locked [10,20) and must be dropped; [20,30) only
	// touches it and survives.
	kept := Resolve([]models.Proposal{prop("A", 15, 25), prop("B", 20, 30)}, existing)
	if len(kept) != 1 || kept[0].Title != "B" {
		t.Fatalf("kept = %+v, want only B", kept)
	}
}

func TestResolve_UnlockedAnchorsIgnored(t *testing.T) {
	existing := []models.Anchor{
		{Start: 10, End: 20, Locked: false},
	}
	kept := Resolve([]models.Proposal{prop("A", 15, 25)}, existing)
	if len(kept) != 1 {
		t.Fatalf("kept = %+v, want proposal kept over unlocked anchor", kept)
	}
}

func TestResolve_GreedyEarliestStart(t *testing.T) {
	// [50,70) and [60,80) overlap: earliest start wins regardless of input order.
	kept := Resolve([]models.Proposal{prop("late", 60, 80), prop("early", 50, 70)}, nil)
	if len(kept) != 1 || kept[0].Title != "early" {
		t.Fatalf("kept = %+v, want only early", kept)
	}
}

func TestResolve_TieBreaksShorter(t *testing.T) {
	kept := Resolve([]models.Proposal{prop("long", 10, 30), prop("short", 10, 20)}, nil)
	if len(kept) != 1 || kept[0].Title != "short" {
		t.Fatalf("kept = %+v, want only short", kept)
	}
}

func TestResolve_TouchingIntervalsBothKept(t *testing.T) {
	kept := Resolve([]models.Proposal{prop("A", 0, 10), prop("B", 10, 20)}, nil)
	if len(kept) != 2 {
		t.Fatalf("kept = %+v, want both touching intervals", kept)
	}
}

func TestResolve_ChainOverlap(t *testing.T) {
	// B overlaps A, C overlaps B but not A: A and C survive.
	kept := Resolve([]models.Proposal{
		prop("A", 0, 10),
		prop("B", 5, 15),
		prop("C", 12, 20),
	}, nil)
	if len(kept) != 2 || kept[0].Title != "A" || kept[1].Title != "C" {
		t.Fatalf("kept = %+v, want A and C", kept)
	}
}

func TestFilterRejected(t *testing.T) {
	rejected := []models.Anchor{
		{ConceptTitle: "alice", ConceptType: "PERSON", Provenance: models.ProvenanceUserRejected},
		{ConceptTitle: "Bob", ConceptType: "person", Provenance: models.ProvenanceUser}, // not a rejection
	}
	out := FilterRejected([]models.Proposal{
		prop("Alice", 0, 5),
		prop("Bob", 10, 13),
	}, rejected)
	if len(out) != 1 || out[0].Title != "Bob" {
		t.Fatalf("out = %+v, want only Bob", out)
	}
}

func TestFilterRejected_TypeDistinguishes(t *testing.T) {
	rejected := []models.Anchor{
		{ConceptTitle: "Mercury", ConceptType: "planet", Provenance: models.ProvenanceUserRejected},
	}
	out := FilterRejected([]models.Proposal{
		{Title: "Mercury", Type: "element", Start: 0, End: 7},
	}, rejected)
	if len(out) != 1 {
		t.Fatalf("out = %+v, rejection of (Mercury, planet) must not block (Mercury, element)", out)
	}
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		aS, aE, bS, bE int
		want           bool
	}{
		{0, 10, 5, 15, true},
		{0, 10, 10, 20, false}, // touching
		{0, 10, 20, 30, false},
		{5, 6, 0, 100, true}, // containment
	}
	for _, tc := range cases {
		if got := overlaps(tc.aS, tc.aE, tc.bS, tc.bE); got != tc.want {
			t.Errorf("overlaps(%d,%d,%d,%d) = %v, want %v", tc.aS, tc.aE, tc.bS, tc.bE, got, tc.want)
		}
	}
}
