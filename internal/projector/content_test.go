package projector

import (
	"testing"
)

func TestParseContent_BlocksAndOrder(t *testing.T) {
	data := []byte(`{
		"type": "doc",
		"content": [
			{"type": "heading", "attrs": {"id": "h1", "level": 1},
				"content": [{"type": "text", "text": "Title"}]},
			{"type": "paragraph", "attrs": {"id": "p1"},
				"content": [
					{"type": "text", "text": "Alice met "},
					{"type": "mention", "attrs": {"ref": "bob"},
						"content": [{"type": "text", "text": "Bob"}]},
					{"type": "text", "text": " today."}
				]}
		]
	}`)

	blocks, err := ParseContent("d1", data)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}
	for i, b := range blocks {
		if b.Order != i {
			t.Errorf("block %d order = %d", i, b.Order)
		}
		if b.DocumentID != "d1" {
			t.Errorf("block %d documentID = %q", i, b.DocumentID)
		}
	}
	if blocks[0].ID != "h1" || blocks[0].Type != "heading" || blocks[0].PlainText != "Title" {
		t.Errorf("heading = %+v", blocks[0])
	}
	// Nested inline nodes contribute their text runs.
	if blocks[1].PlainText != "Alice met Bob today." {
		t.Errorf("plainText = %q", blocks[1].PlainText)
	}
}

func TestParseContent_MissingIDGenerated(t *testing.T) {
	data := []byte(`{"type":"doc","content":[{"type":"paragraph"}]}`)
	blocks, err := ParseContent("d1", data)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 || blocks[0].ID == "" {
		t.Fatalf("blocks = %+v, want generated id", blocks)
	}
}

func TestParseContent_InvalidJSON(t *testing.T) {
	if _, err := ParseContent("d1", []byte("{broken")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseContent_EmptyDocument(t *testing.T) {
	blocks, err := ParseContent("d1", []byte(`{"type":"doc"}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 0 {
		t.Fatalf("blocks = %+v, want none", blocks)
	}
}
