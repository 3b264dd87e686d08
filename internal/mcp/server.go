package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/council/internal/models"
	"github.com/joescharf/council/internal/review"
	"github.com/joescharf/council/internal/store"
)

// Server exposes the review orchestrator as MCP tools.
type Server struct {
	store    store.Store
	orch     *review.Orchestrator
	version  string
	readFile func(string) ([]byte, error)
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, orch *review.Orchestrator, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{
		store:    s,
		orch:     orch,
		version:  version,
		readFile: os.ReadFile,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("council", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.startReviewTool())
	srv.AddTool(s.reviewStatusTool())
	srv.AddTool(s.cancelReviewTool())
	srv.AddTool(s.updateFindingTool())
	srv.AddTool(s.listReviewersTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// council_start_review
func (s *Server) startReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("council_start_review",
		mcp.WithDescription("Start a council review of a markdown document. Provide either the document content or a path to read it from. Returns the session id, or the full review when wait is true."),
		mcp.WithString("path", mcp.Description("Path of the document under review")),
		mcp.WithString("content", mcp.Description("Document text; read from path when omitted")),
		mcp.WithString("reviewers", mcp.Description("Comma-separated reviewer ids (default: all enabled)")),
		mcp.WithString("lines", mcp.Description("Only review this line range, e.g. 10-20")),
		mcp.WithBoolean("wait", mcp.Description("Block until the council and editor have finished")),
	)
	return tool, s.handleStartReview
}

func (s *Server) handleStartReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := request.GetString("path", "")
	content := request.GetString("content", "")
	if content == "" {
		if path == "" {
			return mcp.NewToolResultError("either content or path is required"), nil
		}
		data, err := s.readFile(path)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read %s: %v", path, err)), nil
		}
		content = string(data)
	}

	sel, err := review.SelectLines(content, request.GetString("lines", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	req := review.StartRequest{
		DocumentPath: path,
		Content:      content,
		ReviewerIDs:  splitList(request.GetString("reviewers", "")),
		Selection:    sel,
	}

	if !request.GetBool("wait", false) {
		id, err := s.orch.Start(ctx, req)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to start review: %v", err)), nil
		}
		return jsonResult(map[string]string{"session_id": id, "phase": string(s.orch.Snapshot().Phase)})
	}

	doc, err := s.orch.Run(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("review failed: %v", err)), nil
	}
	st := s.orch.Snapshot()
	return jsonResult(map[string]any{"session": st.Session, "document": doc})
}

// council_review_status
func (s *Server) reviewStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("council_review_status",
		mcp.WithDescription("Get the current review phase, per-reviewer progress, model residency and findings."),
	)
	return tool, s.handleReviewStatus
}

func (s *Server) handleReviewStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.orch.Snapshot())
}

// council_cancel_review
func (s *Server) cancelReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("council_cancel_review",
		mcp.WithDescription("Cancel the review in progress and discard its partial results."),
	)
	return tool, s.handleCancelReview
}

func (s *Server) handleCancelReview(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.orch.Cancel() {
		return mcp.NewToolResultText("No review in progress"), nil
	}
	return mcp.NewToolResultText("Review cancelled"), nil
}

// council_update_finding
func (s *Server) updateFindingTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("council_update_finding",
		mcp.WithDescription("Record a decision on a finding of the current review (or a stored one)."),
		mcp.WithString("finding_id", mcp.Required(), mcp.Description("Finding ID")),
		mcp.WithString("status", mcp.Required(), mcp.Description("New status"), mcp.Enum("accepted", "rejected", "dismissed", "pending")),
	)
	return tool, s.handleUpdateFinding
}

func (s *Server) handleUpdateFinding(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("finding_id")
	if err != nil {
		return mcp.NewToolResultError("finding_id is required"), nil
	}
	raw, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("status is required"), nil
	}
	status := models.FindingStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status %q", raw)), nil
	}

	err = s.orch.UpdateFindingStatus(ctx, id, status)
	if errors.Is(err, review.ErrNotDeciding) || errors.Is(err, review.ErrFindingNotFound) {
		err = s.store.UpdateFindingStatus(ctx, id, status)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update finding: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Finding %s marked %s (review phase: %s)", id, status, s.orch.Snapshot().Phase)), nil
}

// council_list_reviewers
func (s *Server) listReviewersTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("council_list_reviewers",
		mcp.WithDescription("List configured reviewers with their model, role and whether they are enabled."),
		mcp.WithBoolean("enabled_only", mcp.Description("Only list enabled reviewers")),
	)
	return tool, s.handleListReviewers
}

func (s *Server) handleListReviewers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reviewers, err := s.store.ListReviewers(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reviewers: %v", err)), nil
	}
	enabledOnly := request.GetBool("enabled_only", false)

	type reviewerOut struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Icon     string `json:"icon"`
		Model    string `json:"model"`
		IsEditor bool   `json:"is_editor"`
		Enabled  bool   `json:"enabled"`
	}
	out := make([]reviewerOut, 0, len(reviewers))
	for _, r := range reviewers {
		if enabledOnly && !r.Enabled {
			continue
		}
		out = append(out, reviewerOut{
			ID:       r.ID,
			Name:     r.Name,
			Icon:     r.Icon,
			Model:    r.Model,
			IsEditor: r.IsEditor,
			Enabled:  r.Enabled,
		})
	}
	return jsonResult(out)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
