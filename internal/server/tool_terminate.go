package server

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/foldline/worklog-mcp/internal/termination"
)

func parseReason(s string) (termination.Reason, bool) {
	switch r := termination.Reason(s); r {
	case termination.ReasonNormal, termination.ReasonUserRequested, termination.ReasonTimeout,
		termination.ReasonError, termination.ReasonForce, termination.ReasonShutdown:
		return r, true
	}
	return "", false
}

// handleSessionTerminate implements the session_terminate tool
func (s *Server) handleSessionTerminate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	reason, ok := parseReason(request.GetString("reason", string(termination.ReasonUserRequested)))
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown reason %q", request.GetString("reason", ""))), nil
	}

	report, err := s.terminator.Terminate(ctx, sessionID, reason, termination.Options{
		AutoFinalizeIncompleteWork: request.GetBool("auto_finalize", true),
		Backup:                     request.GetBool("backup", true),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(newTerminationView(report)), nil
}

// handleSessionForceTerminate implements the session_force_terminate tool
func (s *Server) handleSessionForceTerminate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	report, err := s.terminator.ForceTerminate(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(newTerminationView(report)), nil
}

// handleSessionsTerminate implements the sessions_terminate tool
func (s *Server) handleSessionsTerminate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionIDs, err := request.RequireStringSlice("session_ids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	reason, ok := parseReason(request.GetString("reason", string(termination.ReasonUserRequested)))
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown reason %q", request.GetString("reason", ""))), nil
	}

	result := s.terminator.TerminateMultiple(ctx, sessionIDs, reason, termination.BatchOptions{
		Parallel:      request.GetBool("parallel", false),
		MaxConcurrent: request.GetInt("max_concurrent", 0),
		Options: termination.Options{
			AutoFinalizeIncompleteWork: request.GetBool("auto_finalize", true),
			Backup:                     request.GetBool("backup", true),
		},
	})
	return jsonResult(newBatchTerminationView(result)), nil
}
