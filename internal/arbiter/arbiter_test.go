package arbiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/weftlabs/weft/internal/apperr"
	"github.com/weftlabs/weft/internal/models"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/internal/testutil"
)

var userActor = Actor{ID: "u1", Type: models.ActorUser}

func testArbiter(t *testing.T) (*Arbiter, store.Store) {
	t.Helper()
	db := testutil.TestDB(t)
	return New(db, testutil.DiscardLogger()), db
}

func seedBinding(t *testing.T, db store.Store, id string, status models.BindingStatus) {
	t.Helper()
	now := time.Now()
	err := db.InsertBinding(models.Binding{
		ID:            id,
		DocumentID:    "d1",
		CanvasID:      "c1",
		BlockID:       "b1",
		BindingType:   "annotation",
		Direction:     "doc-to-canvas",
		Provenance:    models.ProvenanceAI,
		Review:        models.ReviewPending,
		CurrentStatus: status,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestTransition_ApprovalPath(t *testing.T) {
	arb, db := testArbiter(t)
	ctx := context.Background()
	seedBinding(t, db, "x", models.StatusPending)

	entry, err := arb.Transition(ctx, "x", models.StatusVisible, models.TransitionArbitrationApprove, userActor, "")
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil {
		t.Fatal("expected transition to apply")
	}
	if entry.PreviousStatus != models.StatusPending || entry.NewStatus != models.StatusVisible {
		t.Errorf("entry = %s -> %s, want pending -> visible", entry.PreviousStatus, entry.NewStatus)
	}

	b, _ := db.GetBinding("x")
	if b.CurrentStatus != models.StatusVisible {
		t.Errorf("status = %q, want visible", b.CurrentStatus)
	}
	// Approval also settles the review state.
	if b.Review != models.ReviewApproved {
		t.Errorf("review = %q, want approved", b.Review)
	}
}

func TestTransition_SameStatusIsNoOp(t *testing.T) {
	arb, db := testArbiter(t)
	ctx := context.Background()
	seedBinding(t, db, "x", models.StatusVisible)

	// Hide twice: second request targets the current status and logs nothing.
	if _, err := arb.Transition(ctx, "x", models.StatusHidden, models.TransitionUserHide, userActor, ""); err != nil {
		t.Fatal(err)
	}
	entry, err := arb.Transition(ctx, "x", models.StatusHidden, models.TransitionUserHide, userActor, "")
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Error("repeat transition should be a no-op")
	}

	entries, _ := db.ListStatusLog("x")
	if len(entries) != 1 {
		t.Errorf("log entries = %d, want 1", len(entries))
	}
}

func TestTransition_TerminalStatusRejected(t *testing.T) {
	arb, db := testArbiter(t)
	ctx := context.Background()
	seedBinding(t, db, "x", models.StatusDeleted)

	_, err := arb.Transition(ctx, "x", models.StatusVisible, models.TransitionUserRestore, userActor, "")
	if !errors.Is(err, apperr.ErrTerminalStatus) {
		t.Errorf("err = %v, want ErrTerminalStatus", err)
	}
}

func TestTransition_IllegalEdge(t *testing.T) {
	arb, db := testArbiter(t)
	ctx := context.Background()
	seedBinding(t, db, "x", models.StatusPending)

	// pending -> hidden has no edge in the machine.
	_, err := arb.Transition(ctx, "x", models.StatusHidden, models.TransitionUserHide, userActor, "")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestTransition_UnknownBinding(t *testing.T) {
	arb, _ := testArbiter(t)
	_, err := arb.Transition(context.Background(), "ghost", models.StatusVisible, models.TransitionArbitrationApprove, userActor, "")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTransition_RejectSetsReview(t *testing.T) {
	arb, db := testArbiter(t)
	seedBinding(t, db, "x", models.StatusPending)

	if _, err := arb.Transition(context.Background(), "x", models.StatusDeleted, models.TransitionArbitrationReject, userActor, "bad match"); err != nil {
		t.Fatal(err)
	}
	b, _ := db.GetBinding("x")
	if b.Review != models.ReviewRejected {
		t.Errorf("review = %q, want rejected", b.Review)
	}
	entries, _ := db.ListStatusLog("x")
	if len(entries) != 1 || entries[0].Reason != "bad match" {
		t.Errorf("entries = %+v, want one entry carrying the reason", entries)
	}
}

func TestBatchTransition_CoalescesLastWrite(t *testing.T) {
	arb, db := testArbiter(t)
	ctx := context.Background()
	seedBinding(t, db, "x", models.StatusVisible)

	// Conflicting updates for the same binding: the final one decides.
	entries, err := arb.BatchTransition(ctx, []StatusUpdate{
		{BindingID: "x", Status: models.StatusHidden},
		{BindingID: "x", Status: models.StatusDeleted},
	}, userActor, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].NewStatus != models.StatusDeleted {
		t.Fatalf("entries = %+v, want single deleted entry", entries)
	}

	b, _ := db.GetBinding("x")
	if b.CurrentStatus != models.StatusDeleted {
		t.Errorf("status = %q, want deleted", b.CurrentStatus)
	}
}

func TestBatchTransition_InfersTypes(t *testing.T) {
	arb, db := testArbiter(t)
	ctx := context.Background()
	seedBinding(t, db, "a", models.StatusPending)
	seedBinding(t, db, "b", models.StatusVisible)

	entries, err := arb.BatchTransition(ctx, []StatusUpdate{
		{BindingID: "a", Status: models.StatusVisible},
		{BindingID: "b", Status: models.StatusHidden},
	}, userActor, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Transition != models.TransitionArbitrationApprove {
		t.Errorf("a transition = %q", entries[0].Transition)
	}
	if entries[1].Transition != models.TransitionUserHide {
		t.Errorf("b transition = %q", entries[1].Transition)
	}
}

func TestBatchTransition_SkipsAlreadyThere(t *testing.T) {
	arb, db := testArbiter(t)
	seedBinding(t, db, "x", models.StatusVisible)

	entries, err := arb.BatchTransition(context.Background(), []StatusUpdate{
		{BindingID: "x", Status: models.StatusVisible},
	}, userActor, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %+v, want none", entries)
	}
}

func TestBatchTransition_SkipsSettledBindings(t *testing.T) {
	arb, db := testArbiter(t)
	ctx := context.Background()
	seedBinding(t, db, "gone", models.StatusDeleted)
	seedBinding(t, db, "good", models.StatusVisible)

	// A binding that a reconcile settled underneath the client, an unknown
	// binding, and an update with no legal edge must not block the rest of
	// the batch from being delivered.
	entries, err := arb.BatchTransition(ctx, []StatusUpdate{
		{BindingID: "gone", Status: models.StatusHidden},
		{BindingID: "ghost", Status: models.StatusVisible},
		{BindingID: "good", Status: models.StatusHidden},
	}, userActor, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].BindingID != "good" {
		t.Fatalf("entries = %+v, want only the good binding's hide", entries)
	}

	b, _ := db.GetBinding("good")
	if b.CurrentStatus != models.StatusHidden {
		t.Errorf("good status = %q, want hidden", b.CurrentStatus)
	}
	gone, _ := db.GetBinding("gone")
	if gone.CurrentStatus != models.StatusDeleted {
		t.Errorf("gone status = %q, want still deleted", gone.CurrentStatus)
	}
	if log, _ := db.ListStatusLog("gone"); len(log) != 0 {
		t.Errorf("gone log entries = %d, want 0", len(log))
	}
}

func TestBatchTransition_InvalidStatusFailsWhole(t *testing.T) {
	arb, db := testArbiter(t)
	seedBinding(t, db, "good", models.StatusPending)

	_, err := arb.BatchTransition(context.Background(), []StatusUpdate{
		{BindingID: "good", Status: models.StatusVisible},
		{BindingID: "good", Status: "bogus"},
	}, userActor, "")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	// Nothing applied.
	b, _ := db.GetBinding("good")
	if b.CurrentStatus != models.StatusPending {
		t.Errorf("status = %q, want pending (batch rejected)", b.CurrentStatus)
	}
}

func TestReconcileDocument_EmptySetSkips(t *testing.T) {
	arb, db := testArbiter(t)
	seedBinding(t, db, "x", models.StatusVisible)

	entries, err := arb.ReconcileDocument(context.Background(), "d1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if entries != nil {
		t.Errorf("entries = %+v, want nil (skipped)", entries)
	}
	b, _ := db.GetBinding("x")
	if b.CurrentStatus != models.StatusVisible {
		t.Errorf("status = %q, want untouched", b.CurrentStatus)
	}
}
