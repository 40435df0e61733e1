package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/weftlabs/weft/internal/annotate"
	"github.com/weftlabs/weft/internal/arbiter"
	"github.com/weftlabs/weft/internal/bindservice"
	"github.com/weftlabs/weft/internal/models"
	"github.com/weftlabs/weft/internal/nodes"
	"github.com/weftlabs/weft/internal/projector"
	"github.com/weftlabs/weft/internal/testutil"
)

const docContent = `{"type":"doc","content":[{"type":"paragraph","attrs":{"id":"b1"},"content":[{"type":"text","text":"Alice met Bob at the office"}]}]}`

// testEnv sets up a temp workspace, SQLite store, service, and router.
func testEnv(t *testing.T, authToken string) (*bindservice.Service, http.Handler) {
	t.Helper()

	_, st := testutil.TestWorkspace(t)
	db := testutil.TestDB(t)
	logger := testutil.DiscardLogger()

	arb := arbiter.New(db, logger)
	proj := projector.New(db, arb, logger)
	pipeline := annotate.NewPipeline(db, nodes.NewService(db), logger)

	svc := bindservice.NewService(st, db, proj, arb, pipeline, nil, nil, logger)
	router := NewRouter(svc, authToken != "", authToken, nil)
	return svc, router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if s, ok := body.(string); ok {
		rd = bytes.NewReader([]byte(s))
	} else if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPutAndGetDocument(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPut, "/documents/d1", docContent)
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d, body = %s", w.Code, w.Body.String())
	}
	var detail bindservice.DocumentDetail
	_ = json.Unmarshal(w.Body.Bytes(), &detail)
	if detail.ID != "d1" {
		t.Errorf("id = %q", detail.ID)
	}
	if len(detail.Blocks) != 1 || detail.Blocks[0].ID != "b1" {
		t.Fatalf("blocks = %+v, want single block b1", detail.Blocks)
	}
	if detail.Version != 1 {
		t.Errorf("version = %d, want 1", detail.Version)
	}

	w = doJSON(t, router, http.MethodGet, "/documents/d1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
}

func TestPutDocument_ChecksumConflict(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPut, "/documents/d1", docContent)
	if w.Code != http.StatusOK {
		t.Fatalf("put = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPut, "/documents/d1", bytes.NewReader([]byte(docContent)))
	req.Header.Set("If-Match", "stale-checksum")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("stale put = %d, want 409", w.Code)
	}
}

func TestPutDocument_RejectsInvalidJSON(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPut, "/documents/d1", "not json{")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid content = %d, want 400", w.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	_, router := testEnv(t, "")

	doJSON(t, router, http.MethodPut, "/documents/bye", docContent)

	w := doJSON(t, router, http.MethodDelete, "/documents/bye", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/documents/bye", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
}

func TestListDocuments(t *testing.T) {
	_, router := testEnv(t, "")

	doJSON(t, router, http.MethodPut, "/documents/a", docContent)
	doJSON(t, router, http.MethodPut, "/documents/b", docContent)

	w := doJSON(t, router, http.MethodGet, "/documents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	docs := resp["documents"].([]any)
	if len(docs) != 2 {
		t.Errorf("len(documents) = %d, want 2", len(docs))
	}
}

func createBinding(t *testing.T, router http.Handler) models.Binding {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/bindings", map[string]any{
		"documentId": "d1",
		"canvasId":   "c1",
		"blockId":    "b1",
		"elementId":  "el1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create binding = %d, body = %s", w.Code, w.Body.String())
	}
	var b models.Binding
	_ = json.Unmarshal(w.Body.Bytes(), &b)
	return b
}

func TestCreateBindingAndTransition(t *testing.T) {
	_, router := testEnv(t, "")
	doJSON(t, router, http.MethodPut, "/documents/d1", docContent)
	b := createBinding(t, router)

	if b.CurrentStatus != models.StatusPending {
		t.Fatalf("new binding status = %q, want pending", b.CurrentStatus)
	}

	w := doJSON(t, router, http.MethodPost, "/bindings/"+b.ID+"/transition", map[string]any{
		"status":         "visible",
		"transitionType": "arbitration_approve",
		"actorId":        "u1",
		"actorType":      "user",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("transition = %d, body = %s", w.Code, w.Body.String())
	}
	var after models.Binding
	_ = json.Unmarshal(w.Body.Bytes(), &after)
	if after.CurrentStatus != models.StatusVisible {
		t.Errorf("status = %q, want visible", after.CurrentStatus)
	}

	// Same transition again: idempotent, still 200, no new log entry.
	w = doJSON(t, router, http.MethodPost, "/bindings/"+b.ID+"/transition", map[string]any{
		"status":         "visible",
		"transitionType": "arbitration_approve",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("repeat transition = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/bindings/"+b.ID+"/log", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("log = %d", w.Code)
	}
	var logResp struct {
		Entries []models.StatusLogEntry `json:"entries"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &logResp)
	if len(logResp.Entries) != 1 {
		t.Errorf("log entries = %d, want 1", len(logResp.Entries))
	}
}

func TestTransition_Illegal(t *testing.T) {
	_, router := testEnv(t, "")
	doJSON(t, router, http.MethodPut, "/documents/d1", docContent)
	b := createBinding(t, router)

	// pending -> hidden has no edge.
	w := doJSON(t, router, http.MethodPost, "/bindings/"+b.ID+"/transition", map[string]any{
		"status":         "hidden",
		"transitionType": "user_hide",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("illegal transition = %d, want 400", w.Code)
	}
}

func TestTransition_TerminalConflict(t *testing.T) {
	_, router := testEnv(t, "")
	doJSON(t, router, http.MethodPut, "/documents/d1", docContent)
	b := createBinding(t, router)

	w := doJSON(t, router, http.MethodPost, "/bindings/"+b.ID+"/transition", map[string]any{
		"status":         "deleted",
		"transitionType": "user_delete",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("delete transition = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/bindings/"+b.ID+"/transition", map[string]any{
		"status":         "visible",
		"transitionType": "arbitration_approve",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("transition out of deleted = %d, want 409", w.Code)
	}
}

func TestBatchStatus(t *testing.T) {
	_, router := testEnv(t, "")
	doJSON(t, router, http.MethodPut, "/documents/d1", docContent)
	b1 := createBinding(t, router)
	b2 := createBinding(t, router)

	for _, b := range []models.Binding{b1, b2} {
		doJSON(t, router, http.MethodPost, "/bindings/"+b.ID+"/transition", map[string]any{
			"status":         "visible",
			"transitionType": "arbitration_approve",
		})
	}

	w := doJSON(t, router, http.MethodPost, "/bindings/status", map[string]any{
		"updates": []map[string]string{
			{"bindingId": b1.ID, "status": "hidden"},
			{"bindingId": b2.ID, "status": "hidden"},
		},
		"actorId": "u1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("batch = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/bindings/"+b1.ID, nil)
	var out models.Binding
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.CurrentStatus != models.StatusHidden {
		t.Errorf("status after batch = %q, want hidden", out.CurrentStatus)
	}
}

func TestConcepts(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/concepts", map[string]string{
		"ownerId": "u1", "title": "Alice", "type": "person",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create concept = %d, body = %s", w.Code, w.Body.String())
	}

	// Case-insensitive duplicate -> 409.
	w = doJSON(t, router, http.MethodPost, "/concepts", map[string]string{
		"ownerId": "u1", "title": "ALICE", "type": "Person",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate concept = %d, want 409", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/concepts?owner=u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list concepts = %d", w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if n := len(resp["concepts"].([]any)); n != 1 {
		t.Errorf("concepts = %d, want 1", n)
	}
}

func TestAnnotateEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	doJSON(t, router, http.MethodPut, "/documents/d1", docContent)
	doJSON(t, router, http.MethodPost, "/concepts", map[string]string{
		"ownerId": "u1", "title": "Alice", "type": "person",
	})

	w := doJSON(t, router, http.MethodPost, "/documents/d1/annotate", map[string]any{
		"canvasId": "c1",
		"ownerId":  "u1",
		"proposals": map[string]any{
			"b1": []map[string]any{
				{"title": "Alice", "type": "person", "start": 0, "end": 5},
				{"title": "Nobody", "type": "person", "start": 10, "end": 13},
			},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("annotate = %d, body = %s", w.Code, w.Body.String())
	}
	var res annotate.Result
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if len(res.Bindings) != 1 {
		t.Fatalf("bindings = %d, want 1 (unknown concept dropped)", len(res.Bindings))
	}
	if res.Bindings[0].AnchorText != "Alice" {
		t.Errorf("anchorText = %q, want Alice", res.Bindings[0].AnchorText)
	}
}

func TestCreateBinding_UnknownBlock(t *testing.T) {
	_, router := testEnv(t, "")
	doJSON(t, router, http.MethodPut, "/documents/d1", docContent)

	w := doJSON(t, router, http.MethodPost, "/bindings", map[string]any{
		"documentId": "d1",
		"canvasId":   "c1",
		"blockId":    "not-a-block",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("binding to unknown block = %d, want 400", w.Code)
	}
}

func TestGetConcept(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/concepts", map[string]string{
		"ownerId": "u1", "title": "Alice", "type": "person",
	})
	var created models.Concept
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = doJSON(t, router, http.MethodGet, "/concepts/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get concept = %d", w.Code)
	}
	var got models.Concept
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Title != "Alice" || got.Type != "person" {
		t.Errorf("concept = %+v", got)
	}

	w = doJSON(t, router, http.MethodGet, "/concepts/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown concept = %d, want 404", w.Code)
	}
}

// blockAnchors fetches the anchors of one block.
func blockAnchors(t *testing.T, router http.Handler, blockID string) []models.Anchor {
	t.Helper()
	w := doJSON(t, router, http.MethodGet, "/blocks/"+blockID+"/anchors", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list anchors = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Anchors []models.Anchor `json:"anchors"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.Anchors
}

func annotateOne(t *testing.T, router http.Handler, title string, start, end int) annotate.Result {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/documents/d1/annotate", map[string]any{
		"canvasId": "c1",
		"ownerId":  "u1",
		"proposals": map[string]any{
			"b1": []map[string]any{
				{"title": title, "type": "person", "start": start, "end": end},
			},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("annotate = %d, body = %s", w.Code, w.Body.String())
	}
	var res annotate.Result
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	return res
}

func TestLockAnchor_SuppressesOverlappingProposals(t *testing.T) {
	_, router := testEnv(t, "")
	doJSON(t, router, http.MethodPut, "/documents/d1", docContent)
	for _, title := range []string{"Alice", "Bob"} {
		doJSON(t, router, http.MethodPost, "/concepts", map[string]string{
			"ownerId": "u1", "title": title, "type": "person",
		})
	}

	if res := annotateOne(t, router, "Alice", 0, 5); len(res.Bindings) != 1 {
		t.Fatalf("bindings = %d, want 1", len(res.Bindings))
	}
	anchors := blockAnchors(t, router, "b1")
	if len(anchors) != 1 || anchors[0].Locked {
		t.Fatalf("anchors = %+v, want one unlocked", anchors)
	}

	w := doJSON(t, router, http.MethodPost, "/anchors/"+anchors[0].ID+"/lock", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("lock = %d, body = %s", w.Code, w.Body.String())
	}
	var locked models.Anchor
	_ = json.Unmarshal(w.Body.Bytes(), &locked)
	if !locked.Locked {
		t.Error("anchor not locked")
	}
	// Confirming an AI proposal makes the anchor a joint claim.
	if locked.Provenance != models.ProvenanceHybrid {
		t.Errorf("provenance = %q, want hybrid", locked.Provenance)
	}

	// A proposal overlapping the locked interval is dropped; a disjoint one
	// still goes through.
	if res := annotateOne(t, router, "Bob", 3, 9); len(res.Bindings) != 0 {
		t.Errorf("overlapping proposal produced %d bindings, want 0", len(res.Bindings))
	}
	if res := annotateOne(t, router, "Bob", 10, 13); len(res.Bindings) != 1 {
		t.Errorf("disjoint proposal produced %d bindings, want 1", len(res.Bindings))
	}
}

func TestRejectAnchor_GatesReproposal(t *testing.T) {
	_, router := testEnv(t, "")
	doJSON(t, router, http.MethodPut, "/documents/d1", docContent)
	doJSON(t, router, http.MethodPost, "/concepts", map[string]string{
		"ownerId": "u1", "title": "Alice", "type": "person",
	})

	if res := annotateOne(t, router, "Alice", 0, 5); len(res.Bindings) != 1 {
		t.Fatalf("bindings = %d, want 1", len(res.Bindings))
	}
	anchors := blockAnchors(t, router, "b1")

	w := doJSON(t, router, http.MethodPost, "/anchors/"+anchors[0].ID+"/reject", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reject = %d, body = %s", w.Code, w.Body.String())
	}
	var rejected models.Anchor
	_ = json.Unmarshal(w.Body.Bytes(), &rejected)
	if rejected.Provenance != models.ProvenanceUserRejected {
		t.Errorf("provenance = %q, want user_rejected", rejected.Provenance)
	}

	// Automated passes must not re-propose the rejected concept.
	if res := annotateOne(t, router, "Alice", 0, 5); len(res.Bindings) != 0 {
		t.Errorf("re-proposal produced %d bindings, want 0", len(res.Bindings))
	}
}

func TestLockAnchor_Unknown(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/anchors/nope/lock", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("lock unknown anchor = %d, want 404", w.Code)
	}
	w = doJSON(t, router, http.MethodPost, "/anchors/nope/reject", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("reject unknown anchor = %d, want 404", w.Code)
	}
}

func TestInconsistencyDetectAndResolve(t *testing.T) {
	_, router := testEnv(t, "")
	doJSON(t, router, http.MethodPut, "/documents/d1", docContent)
	b := createBinding(t, router)
	doJSON(t, router, http.MethodPost, "/bindings/"+b.ID+"/transition", map[string]any{
		"status":         "visible",
		"transitionType": "arbitration_approve",
	})

	w := doJSON(t, router, http.MethodPost, "/documents/d1/inconsistencies", map[string]any{
		"facts": []map[string]any{
			{"bindingId": b.ID, "elementExists": false, "markExists": true},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("detect = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Inconsistencies []models.Inconsistency `json:"inconsistencies"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Inconsistencies) != 1 {
		t.Fatalf("found = %d, want 1", len(resp.Inconsistencies))
	}
	inc := resp.Inconsistencies[0]
	if inc.Kind != models.InconsistencyOrphaned {
		t.Errorf("kind = %q, want orphaned", inc.Kind)
	}

	w = doJSON(t, router, http.MethodPost, "/inconsistencies/"+inc.ID+"/resolve", map[string]any{
		"action":  "delete-binding",
		"actorId": "u1",
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("resolve = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/bindings/"+b.ID, nil)
	var out models.Binding
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.CurrentStatus != models.StatusDeleted {
		t.Errorf("binding after resolve = %q, want deleted", out.CurrentStatus)
	}

	// Second resolve -> 409.
	w = doJSON(t, router, http.MethodPost, "/inconsistencies/"+inc.ID+"/resolve", map[string]any{
		"action": "delete-binding",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("double resolve = %d, want 409", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	w := doJSON(t, router, http.MethodGet, "/documents", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodGet, "/documents", nil)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}
