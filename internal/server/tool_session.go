package server

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/foldline/worklog-mcp/internal/store"
)

// handleSessionActivate implements the session_activate tool
func (s *Server) handleSessionActivate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	reason := request.GetString("reason", "user activation")

	info, err := s.leases.Activate(ctx, sessionID, reason)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(newLeaseView(info)), nil
}

// handleSessionRelease implements the session_release tool
func (s *Server) handleSessionRelease(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reason := request.GetString("reason", "user release")

	if err := s.leases.Release(reason); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(statusResponse{Status: "released"}), nil
}

// handleSessionCurrent implements the session_current tool
func (s *Server) handleSessionCurrent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info := s.leases.Current()
	if info == nil {
		return jsonResult(currentResponse{Active: false}), nil
	}

	session, err := s.store.GetSession(ctx, info.SessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	leaseV := newLeaseView(info)
	sessionV := newSessionView(session)
	return jsonResult(currentResponse{Active: true, Lease: &leaseV, Session: &sessionV}), nil
}

// handleSessionList implements the session_list tool
func (s *Server) handleSessionList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.SessionFilter{
		ProjectName: request.GetString("project_name", ""),
		Limit:       request.GetInt("limit", 0),
	}
	if status := request.GetString("status", ""); status != "" {
		filter.Statuses = []store.SessionStatus{store.SessionStatus(status)}
	}

	sessions, err := s.store.FindSessions(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	views := make([]sessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, newSessionView(session))
	}
	return jsonResult(sessionListResponse{Sessions: views, Count: len(views)}), nil
}

// handleSessionReopen implements the session_reopen tool
func (s *Server) handleSessionReopen(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	reason := request.GetString("reason", "user reopen")

	info, err := s.leases.Reopen(ctx, sessionID, reason)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(newLeaseView(info)), nil
}
