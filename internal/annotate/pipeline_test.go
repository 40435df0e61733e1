package annotate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/internal/models"
	"github.com/weftlabs/weft/internal/nodes"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/internal/testutil"
)

const blockText = "Alice met Bob at the office"

func testPipeline(t *testing.T) (*Pipeline, store.Store) {
	t.Helper()
	db := testutil.TestDB(t)
	p := NewPipeline(db, nodes.NewService(db), testutil.DiscardLogger())
	return p, db
}

func seedDocument(t *testing.T, db store.Store) {
	t.Helper()
	blocks := []models.Block{
		{ID: "b1", DocumentID: "d1", Type: "paragraph", PlainText: blockText, Order: 0},
	}
	if _, err := db.ReplaceBlocks("d1", "chk-1", blocks, 0); err != nil {
		t.Fatal(err)
	}
}

func seedConcept(t *testing.T, db store.Store, title, kind string) models.Concept {
	t.Helper()
	c := models.Concept{
		ID:        uuid.NewString(),
		OwnerID:   "u1",
		Title:     title,
		Type:      kind,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.CreateConcept(c); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestRun_PersistsAnchorAndPendingBinding(t *testing.T) {
	p, db := testPipeline(t)
	seedDocument(t, db)
	concept := seedConcept(t, db, "Alice", "person")

	res, err := p.Run(context.Background(), Request{
		DocumentID: "d1",
		CanvasID:   "c1",
		OwnerID:    "u1",
		Proposals: map[string][]models.Proposal{
			"b1": {{Title: "Alice", Type: "person", Start: 0, End: 5}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Bindings) != 1 || res.Dropped != 0 {
		t.Fatalf("res = %+v", res)
	}

	b := res.Bindings[0]
	if b.ConceptID != concept.ID {
		t.Errorf("conceptId = %q, want %q", b.ConceptID, concept.ID)
	}
	if b.CurrentStatus != models.StatusPending || b.Review != models.ReviewPending {
		t.Errorf("status = %q review = %q, want both pending", b.CurrentStatus, b.Review)
	}
	if b.AnchorText != "Alice" {
		t.Errorf("anchorText = %q", b.AnchorText)
	}
	if b.StartOffset == nil || b.EndOffset == nil || *b.StartOffset != 0 || *b.EndOffset != 5 {
		t.Errorf("offsets = %v %v", b.StartOffset, b.EndOffset)
	}

	anchors, err := db.ListAnchorsByBlock("b1")
	if err != nil {
		t.Fatal(err)
	}
	if len(anchors) != 1 || anchors[0].Provenance != models.ProvenanceAI {
		t.Fatalf("anchors = %+v", anchors)
	}
	persisted, err := db.GetBinding(b.ID)
	if err != nil || persisted == nil {
		t.Fatalf("GetBinding: %v, %v", persisted, err)
	}
}

func TestRun_UnknownBlockDropsProposals(t *testing.T) {
	p, db := testPipeline(t)
	seedDocument(t, db)
	seedConcept(t, db, "Alice", "person")

	res, err := p.Run(context.Background(), Request{
		DocumentID: "d1",
		CanvasID:   "c1",
		OwnerID:    "u1",
		Proposals: map[string][]models.Proposal{
			"missing": {
				{Title: "Alice", Type: "person", Start: 0, End: 5},
				{Title: "Bob", Type: "person", Start: 10, End: 13},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Bindings) != 0 || res.Dropped != 2 {
		t.Errorf("res = %+v, want 0 bindings 2 dropped", res)
	}
}

func TestRun_InvalidProposalDropped(t *testing.T) {
	p, db := testPipeline(t)
	seedDocument(t, db)
	seedConcept(t, db, "Alice", "person")

	res, err := p.Run(context.Background(), Request{
		DocumentID: "d1",
		CanvasID:   "c1",
		OwnerID:    "u1",
		Proposals: map[string][]models.Proposal{
			"b1": {
				{Title: "Alice", Type: "person", Start: 0, End: 5},
				{Title: "Bob", Type: "person", Start: 13, End: 10}, // inverted interval
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Bindings) != 1 || res.Dropped != 1 {
		t.Errorf("res = %+v, want 1 binding 1 dropped", res)
	}
}

func TestRun_UnresolvedConceptDroppedSilently(t *testing.T) {
	p, db := testPipeline(t)
	seedDocument(t, db)
	seedConcept(t, db, "Alice", "person")

	res, err := p.Run(context.Background(), Request{
		DocumentID: "d1",
		CanvasID:   "c1",
		OwnerID:    "u1",
		Proposals: map[string][]models.Proposal{
			"b1": {
				{Title: "Alice", Type: "person", Start: 0, End: 5},
				{Title: "Bob", Type: "person", Start: 10, End: 13}, // no such concept
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Bindings) != 1 || res.Dropped != 1 {
		t.Fatalf("res = %+v, want 1 binding 1 dropped", res)
	}
	// No concept was conjured into existence by the miss.
	count, err := db.CountConcepts("u1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("concepts = %d, want 1", count)
	}
}

func TestRun_LockedAnchorSuppressesOverlap(t *testing.T) {
	p, db := testPipeline(t)
	seedDocument(t, db)
	seedConcept(t, db, "Alice", "person")
	seedConcept(t, db, "Bob", "person")

	locked := models.Anchor{
		ID:           uuid.NewString(),
		BlockID:      "b1",
		OwnerID:      "u1",
		Start:        3,
		End:          8,
		ConceptTitle: "Alice Smith",
		ConceptType:  "person",
		Provenance:   models.ProvenanceUser,
		Locked:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.InsertAnchors([]models.Anchor{locked}); err != nil {
		t.Fatal(err)
	}

	res, err := p.Run(context.Background(), Request{
		DocumentID: "d1",
		CanvasID:   "c1",
		OwnerID:    "u1",
		Proposals: map[string][]models.Proposal{
			"b1": {
				{Title: "Alice", Type: "person", Start: 0, End: 5},  // overlaps the locked anchor
				{Title: "Bob", Type: "person", Start: 10, End: 13}, // clear of it
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Bindings) != 1 || res.Dropped != 1 {
		t.Fatalf("res = %+v, want Bob only", res)
	}
	if res.Bindings[0].AnchorText != "Bob" {
		t.Errorf("anchorText = %q, want Bob", res.Bindings[0].AnchorText)
	}
}

func TestRun_RejectedConceptFiltered(t *testing.T) {
	p, db := testPipeline(t)
	seedDocument(t, db)
	seedConcept(t, db, "Alice", "person")

	rejected := models.Anchor{
		ID:           uuid.NewString(),
		BlockID:      "b1",
		OwnerID:      "u1",
		Start:        0,
		End:          5,
		ConceptTitle: "ALICE", // matching is case-insensitive
		ConceptType:  "person",
		Provenance:   models.ProvenanceUserRejected,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.InsertAnchors([]models.Anchor{rejected}); err != nil {
		t.Fatal(err)
	}

	res, err := p.Run(context.Background(), Request{
		DocumentID: "d1",
		CanvasID:   "c1",
		OwnerID:    "u1",
		Proposals: map[string][]models.Proposal{
			"b1": {{Title: "Alice", Type: "person", Start: 0, End: 5}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Bindings) != 0 {
		t.Errorf("bindings = %+v, want none for a rejected concept", res.Bindings)
	}
}

func TestRun_OverlappingProposalsEarliestWins(t *testing.T) {
	p, db := testPipeline(t)
	seedDocument(t, db)
	seedConcept(t, db, "Alice", "person")
	seedConcept(t, db, "Alice met", "phrase")

	res, err := p.Run(context.Background(), Request{
		DocumentID: "d1",
		CanvasID:   "c1",
		OwnerID:    "u1",
		Proposals: map[string][]models.Proposal{
			"b1": {
				{Title: "Alice met", Type: "phrase", Start: 3, End: 9},
				{Title: "Alice", Type: "person", Start: 0, End: 5},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Bindings) != 1 || res.Dropped != 1 {
		t.Fatalf("res = %+v, want earliest-start survivor only", res)
	}
	if res.Bindings[0].AnchorText != "Alice" {
		t.Errorf("anchorText = %q, want Alice", res.Bindings[0].AnchorText)
	}
}

func TestRun_EmptyRequestIsNoOp(t *testing.T) {
	p, db := testPipeline(t)
	seedDocument(t, db)

	res, err := p.Run(context.Background(), Request{
		DocumentID: "d1",
		CanvasID:   "c1",
		OwnerID:    "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Bindings) != 0 || res.Dropped != 0 {
		t.Errorf("res = %+v, want empty", res)
	}
}
