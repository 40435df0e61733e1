package mcpserver

// ProposalFormatContract describes the annotation proposal format that LLM
// consumers must follow when submitting synchronization passes.
const ProposalFormatContract = `# Weft Annotation Proposal Contract

Every synchronization pass submitted through the annotate_document tool MUST
follow this structure.

## Structure

` + "```" + `json
{
  "canvasId": "canvas-1",
  "ownerId": "user-1",
  "proposals": {
    "<block-id>": [
      {"title": "Alice", "type": "person", "start": 0, "end": 5}
    ]
  }
}
` + "```" + `

## Rules

1. **Proposals are grouped by block ID.** Use the read_document tool to obtain
   block IDs and their plain text before proposing.
2. **Offsets are half-open character intervals** [start, end) into the block's
   plain text. start >= 0 and start < end. Intervals that merely touch
   (end of one == start of the next) do not conflict.
3. **Titles must name existing concepts.** Resolution is lookup-only:
   a proposal whose (title, type) matches no concept of the owner is silently
   dropped, never created. Use find_concepts to check what exists.
4. **Matching is case-insensitive** on both title and type.
5. **Locked regions win.** Proposals overlapping an anchor the user locked are
   dropped without error.
6. **Rejected concepts stay rejected.** A concept the user explicitly rejected
   is never re-proposed for that user, whatever the offsets.
7. **Overlapping proposals compete.** Among mutually overlapping proposals the
   earliest-starting one is kept; ties break toward the shorter interval.
8. Accepted proposals become anchors plus bindings in the "pending" lifecycle
   status. A reviewer promotes them to "visible" or rejects them.

## Example response

` + "```" + `json
{
  "bindings": [
    {
      "id": "9e2f...",
      "documentId": "notes/alice",
      "blockId": "b1",
      "conceptId": "c-alice",
      "startOffset": 0,
      "endOffset": 5,
      "status": "pending",
      "currentStatus": "pending",
      "anchorText": "Alice"
    }
  ],
  "dropped": 1
}
` + "```" + `
`
