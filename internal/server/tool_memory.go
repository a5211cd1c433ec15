package server

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/foldline/worklog-mcp/internal/memlink"
	"github.com/foldline/worklog-mcp/internal/store"
)

// handleMemoryStore implements the memory_store tool. The item is
// linked to the session holding a live exclusivity lease; without one
// it is stored orphaned and can be linked later.
func (s *Server) handleMemoryStore(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	importance := request.GetInt("importance", 50)
	if importance < 0 || importance > 100 {
		return mcp.NewToolResultError(fmt.Sprintf("importance %d outside [0, 100]", importance)), nil
	}
	workType := store.WorkType(request.GetString("work_type", string(store.WorkMemory)))
	var completion store.CompletionStatus
	switch workType {
	case store.WorkMemory:
		completion = store.CompletionDone
	case store.WorkTodo:
		completion = store.CompletionPending
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown work_type %q", workType)), nil
	}

	item := &store.MemoryItem{
		Content:    content,
		Importance: importance,
		WorkType:   workType,
		Completion: completion,
	}
	if info := s.leases.Current(); info != nil && s.leases.IsExclusive() {
		item.SessionID = info.SessionID
	}

	if err := s.store.CreateMemory(ctx, item); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if item.SessionID != "" {
		deltas := store.CounterDeltas{Memory: 1, Activity: 1}
		if err := s.store.IncrementCounters(ctx, item.SessionID, deltas); err != nil {
			s.logger.WarnContext(ctx, "memory counters", "session_id", item.SessionID, "error", err)
		}
		if err := s.store.TouchSession(ctx, item.SessionID, s.clk.Now()); err != nil {
			s.logger.WarnContext(ctx, "touch session", "session_id", item.SessionID, "error", err)
		}
	}

	return jsonResult(memoryStoreResponse{Memory: newMemoryView(item), Linked: item.SessionID != ""}), nil
}

// handleMemoryLink implements the memory_link tool
func (s *Server) handleMemoryLink(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	memoryIDs, err := request.RequireStringSlice("memory_ids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := s.linker.Link(ctx, sessionID, memoryIDs, memlink.LinkOptions{
		ForceRelink: request.GetBool("force_relink", false),
	})
	return jsonResult(newLinkResultView(result)), nil
}

// handleMemoryUnlink implements the memory_unlink tool
func (s *Server) handleMemoryUnlink(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	memoryIDs, err := request.RequireStringSlice("memory_ids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := s.linker.Unlink(ctx, sessionID, memoryIDs, memlink.UnlinkOptions{
		Soft: request.GetBool("soft", false),
	})
	return jsonResult(newLinkResultView(result)), nil
}

// handleMemoryMigrate implements the memory_migrate tool
func (s *Server) handleMemoryMigrate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fromID, err := request.RequireString("from_session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	toID, err := request.RequireString("to_session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	memoryIDs, err := request.RequireStringSlice("memory_ids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.linker.Migrate(ctx, fromID, toID, memoryIDs, memlink.MigrateOptions{
		ValidateTarget: request.GetBool("validate_target", false),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(newLinkResultView(result)), nil
}

// handleMemoryStats implements the memory_stats tool
func (s *Server) handleMemoryStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	stats, err := s.linker.Stats(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(newMemoryStatsView(sessionID, stats)), nil
}
