package server

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/foldline/worklog-mcp/internal/autoswitch"
)

// handleContextSignal implements the context_signal tool
func (s *Server) handleContextSignal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.engine.OnSignal(ctx, autoswitch.ContextSignal{
		Path:         path,
		ProjectName:  request.GetString("project_name", ""),
		RepositoryID: request.GetString("repository_id", ""),
	})

	// Evaluation happens after the debounce window; the signal itself
	// is only accepted here.
	return jsonResult(statusResponse{Status: "accepted"}), nil
}

// handleSwitchForce implements the switch_force tool
func (s *Server) handleSwitchForce(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := request.GetString("path", "")
	sessionID := request.GetString("session_id", "")

	eval, err := s.engine.ForceSwitch(ctx, autoswitch.ContextSignal{Path: path}, sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(newEvaluationView(eval)), nil
}

// handleSwitchConfirm implements the switch_confirm tool
func (s *Server) handleSwitchConfirm(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	promptID, err := request.RequireString("prompt_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	accept, err := request.RequireBool("accept")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	eval, err := s.engine.ConfirmSwitch(ctx, promptID, accept)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(newEvaluationView(eval)), nil
}

// handleSwitchConfig implements the switch_config tool. Only fields
// present in the request are applied; the response carries the full
// configuration after the update.
func (s *Server) handleSwitchConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	var update autoswitch.ConfigUpdate
	if _, ok := args["policy"]; ok {
		policy := autoswitch.Policy(request.GetString("policy", ""))
		update.Policy = &policy
	}
	if _, ok := args["confidence_threshold"]; ok {
		threshold := request.GetFloat("confidence_threshold", 0)
		update.ConfidenceThreshold = &threshold
	}
	if _, ok := args["max_switches_per_hour"]; ok {
		budget := request.GetInt("max_switches_per_hour", 0)
		update.MaxSwitchesPerHour = &budget
	}
	if _, ok := args["debounce_ms"]; ok {
		delay := time.Duration(request.GetInt("debounce_ms", 0)) * time.Millisecond
		update.DebounceDelay = &delay
	}
	if _, ok := args["excluded_path_prefixes"]; ok {
		prefixes := request.GetStringSlice("excluded_path_prefixes", nil)
		update.ExcludedPathPrefixes = &prefixes
	}
	if _, ok := args["max_pending_prompts"]; ok {
		held := request.GetInt("max_pending_prompts", 0)
		update.MaxPendingPrompts = &held
	}

	cfg, err := s.engine.UpdateConfig(update)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(newConfigView(cfg)), nil
}
