// Package projector derives the flat structural block projection of a rich
// document and reconciles bindings whose blocks disappeared.
package projector

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/internal/models"
)

// richNode is one node of the hierarchical rich content tree. Top-level nodes
// under the document are blocks; their content is inline nodes.
type richNode struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Text    string         `json:"text,omitempty"`
	Content []richNode     `json:"content,omitempty"`
}

// ParseContent parses rich document JSON into the flat, ordered block list.
// A block's plain text concatenates its inline text runs; other inline
// content (mentions, hard breaks, images) contributes nothing. Blocks without
// a stable id attribute get a generated one, which will churn projections —
// editors are expected to stamp ids.
func ParseContent(documentID string, data []byte) ([]models.Block, error) {
	var doc richNode
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("projector: parse content: %w", err)
	}

	blocks := make([]models.Block, 0, len(doc.Content))
	for i, n := range doc.Content {
		id := nodeID(n)
		if id == "" {
			id = uuid.NewString()
		}
		blocks = append(blocks, models.Block{
			ID:         id,
			DocumentID: documentID,
			Type:       n.Type,
			PlainText:  inlineText(n),
			Order:      i,
		})
	}
	return blocks, nil
}

func nodeID(n richNode) string {
	if n.Attrs == nil {
		return ""
	}
	if v, ok := n.Attrs["id"].(string); ok {
		return v
	}
	return ""
}

// inlineText concatenates the text of every descendant text node.
func inlineText(n richNode) string {
	out := ""
	for _, c := range n.Content {
		if c.Type == "text" {
			out += c.Text
			continue
		}
		out += inlineText(c)
	}
	return out
}
