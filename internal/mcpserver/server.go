// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Weft tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/weftlabs/weft/internal/annotate"
	"github.com/weftlabs/weft/internal/bindservice"
)

// Server wraps the MCP server with Weft tools.
type Server struct {
	mcp *server.MCPServer
	svc *bindservice.Service
}

// New creates a new MCP server with all Weft tools registered.
func New(svc *bindservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Weft",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read a document's content and its block projection. "+
			"Block IDs and plain text from this tool are the inputs for annotate_document."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document ID (workspace file stem)")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("annotate_document",
		mcp.WithDescription("Submit annotation proposals for a document. "+
			"Proposals MUST follow the annotation proposal contract (block-grouped, "+
			"half-open offsets, existing concepts only). Read the contract first via "+
			"the get_proposal_contract tool or the weft://proposal-format resource."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document ID")),
		mcp.WithString("request", mcp.Required(), mcp.Description("JSON request body following the proposal contract")),
	), s.annotateDocument)

	s.mcp.AddTool(mcp.NewTool("get_proposal_contract",
		mcp.WithDescription("Returns the canonical annotation proposal contract. "+
			"Call this before submitting proposals to ensure correct structure."),
	), s.getProposalContract)

	s.mcp.AddTool(mcp.NewTool("find_concepts",
		mcp.WithDescription("List an owner's concepts, optionally filtered by titles. "+
			"Only listed concepts can be the target of an annotation proposal."),
		mcp.WithString("owner", mcp.Required(), mcp.Description("Owner (user) ID")),
		mcp.WithString("titles", mcp.Description("Optional comma-separated titles to look up")),
	), s.findConcepts)

	s.mcp.AddTool(mcp.NewTool("list_bindings",
		mcp.WithDescription("List every binding of a document, including deleted ones."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document ID")),
	), s.listBindings)

	s.mcp.AddTool(mcp.NewTool("inconsistency_report",
		mcp.WithDescription("List unresolved status/existence inconsistencies for a document."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document ID")),
	), s.inconsistencyReport)

	// Resource: proposal format contract.
	s.mcp.AddResource(
		mcp.NewResource("weft://proposal-format", "Annotation Proposal Contract",
			mcp.WithResourceDescription("Canonical annotation proposal format all synchronization passes must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readProposalFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.GetDocument(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	out, _ := json.MarshalIndent(doc, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) annotateDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := req.RequireString("request")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var annReq annotate.Request
	if uErr := json.Unmarshal([]byte(body), &annReq); uErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid request JSON: %v", uErr)), nil
	}
	annReq.DocumentID = id
	if annReq.OwnerID == "" {
		return mcp.NewToolResultError("ownerId is required"), nil
	}

	res, err := s.svc.Annotate(ctx, annReq)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getProposalContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ProposalFormatContract), nil
}

func (s *Server) readProposalFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "weft://proposal-format",
			MIMEType: "text/markdown",
			Text:     ProposalFormatContract,
		},
	}, nil
}

func (s *Server) findConcepts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := req.RequireString("owner")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var titles []string
	if raw, tErr := req.RequireString("titles"); tErr == nil && raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				titles = append(titles, t)
			}
		}
	}

	var out any
	if len(titles) > 0 {
		out, err = s.svc.FindConcepts(ctx, owner, titles)
	} else {
		out, err = s.svc.ListConcepts(ctx, owner)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) listBindings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bindings, err := s.svc.DocumentBindings(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(bindings, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) inconsistencyReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	open, err := s.svc.OpenInconsistencies(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(open) == 0 {
		return mcp.NewToolResultText("no open inconsistencies"), nil
	}
	out, _ := json.MarshalIndent(open, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
