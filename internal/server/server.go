// Package server exposes the session lifecycle engine as MCP tools
// over stdio. Handlers extract arguments, call one domain operation,
// and JSON-marshal a response view; domain failures come back as tool
// error results, not protocol errors.
package server

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/foldline/worklog-mcp/internal/autoswitch"
	"github.com/foldline/worklog-mcp/internal/clock"
	"github.com/foldline/worklog-mcp/internal/lease"
	"github.com/foldline/worklog-mcp/internal/memlink"
	"github.com/foldline/worklog-mcp/internal/store"
	"github.com/foldline/worklog-mcp/internal/termination"
)

const (
	// Tool names
	toolSessionActivate       = "session_activate"
	toolSessionRelease        = "session_release"
	toolSessionCurrent        = "session_current"
	toolSessionList           = "session_list"
	toolSessionReopen         = "session_reopen"
	toolContextSignal         = "context_signal"
	toolSwitchForce           = "switch_force"
	toolSwitchConfirm         = "switch_confirm"
	toolSwitchConfig          = "switch_config"
	toolMemoryStore           = "memory_store"
	toolMemoryLink            = "memory_link"
	toolMemoryUnlink          = "memory_unlink"
	toolMemoryMigrate         = "memory_migrate"
	toolMemoryStats           = "memory_stats"
	toolSessionTerminate      = "session_terminate"
	toolSessionForceTerminate = "session_force_terminate"
	toolSessionsTerminate     = "sessions_terminate"
)

// Server wraps the mcp-go server with the worklog domain.
type Server struct {
	server     *server.MCPServer
	store      store.Store
	leases     *lease.Manager
	engine     *autoswitch.Engine
	linker     *memlink.Linker
	terminator *termination.Handler
	clk        clock.Clock
	logger     *slog.Logger
}

// Config holds configuration for the MCP server.
type Config struct {
	Name    string
	Version string
	Clock   clock.Clock
	Logger  *slog.Logger
}

// NewServer creates the MCP server with every worklog tool registered.
func NewServer(cfg Config, st store.Store, leases *lease.Manager, engine *autoswitch.Engine, linker *memlink.Linker, terminator *termination.Handler) *Server {
	if cfg.Name == "" {
		cfg.Name = "worklog-mcp"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		server:     mcpServer,
		store:      st,
		leases:     leases,
		engine:     engine,
		linker:     linker,
		terminator: terminator,
		clk:        cfg.Clock,
		logger:     cfg.Logger,
	}
	s.registerTools()
	return s
}

// registerTools registers all MCP tools with handlers
func (s *Server) registerTools() {
	// session_activate - promote a session to the single active slot
	s.server.AddTool(mcp.NewTool(toolSessionActivate,
		mcp.WithDescription("Activate a session, demoting any other active session and granting it the exclusivity lease"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session to activate"),
		),
		mcp.WithString("reason",
			mcp.Description("Why the session is being activated"),
		),
	), s.handleSessionActivate)

	// session_release - give up the exclusivity lease
	s.server.AddTool(mcp.NewTool(toolSessionRelease,
		mcp.WithDescription("Release the exclusivity lease held by the current session"),
		mcp.WithString("reason",
			mcp.Description("Why the lease is being released"),
		),
	), s.handleSessionRelease)

	// session_current - inspect the lease holder
	s.server.AddTool(mcp.NewTool(toolSessionCurrent,
		mcp.WithDescription("Show the current lease holder and its session record"),
	), s.handleSessionCurrent)

	// session_list - query session records
	s.server.AddTool(mcp.NewTool(toolSessionList,
		mcp.WithDescription("List sessions, optionally filtered by status or project name"),
		mcp.WithString("status",
			mcp.Description("Filter by status: active, paused, completed, or cancelled"),
		),
		mcp.WithString("project_name",
			mcp.Description("Filter by project name"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of sessions to return"),
		),
	), s.handleSessionList)

	// session_reopen - bring a terminated session back
	s.server.AddTool(mcp.NewTool(toolSessionReopen,
		mcp.WithDescription("Reopen a completed or cancelled session and activate it"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session to reopen"),
		),
		mcp.WithString("reason",
			mcp.Description("Why the session is being reopened"),
		),
	), s.handleSessionReopen)

	// context_signal - feed the auto-switch engine
	s.server.AddTool(mcp.NewTool(toolContextSignal,
		mcp.WithDescription("Report project activity to the automatic context-switching engine"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Project path where activity happened"),
		),
		mcp.WithString("project_name",
			mcp.Description("Project name, if known"),
		),
		mcp.WithString("repository_id",
			mcp.Description("Repository identifier, if known"),
		),
	), s.handleContextSignal)

	// switch_force - bypass policy and rate limiting
	s.server.AddTool(mcp.NewTool(toolSwitchForce,
		mcp.WithDescription("Force a context switch to a path or a specific session, bypassing policy and rate limits"),
		mcp.WithString("path",
			mcp.Description("Project path to switch to"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session to switch to, overriding path matching"),
		),
	), s.handleSwitchForce)

	// switch_confirm - answer a pending switch prompt
	s.server.AddTool(mcp.NewTool(toolSwitchConfirm,
		mcp.WithDescription("Accept or decline a pending switch prompt"),
		mcp.WithString("prompt_id",
			mcp.Required(),
			mcp.Description("Prompt to answer"),
		),
		mcp.WithBoolean("accept",
			mcp.Required(),
			mcp.Description("True to execute the held switch, false to decline it"),
		),
	), s.handleSwitchConfirm)

	// switch_config - tune the engine at runtime
	s.server.AddTool(mcp.NewTool(toolSwitchConfig,
		mcp.WithDescription("Update auto-switch configuration; omitted fields keep their current values"),
		mcp.WithString("policy",
			mcp.Description("Switch policy: auto, manual, prompt, or disabled"),
		),
		mcp.WithNumber("confidence_threshold",
			mcp.Description("Minimum confidence for acting on a match, between 0 and 1"),
		),
		mcp.WithNumber("max_switches_per_hour",
			mcp.Description("Delivered-switch budget for the trailing hour"),
		),
		mcp.WithNumber("debounce_ms",
			mcp.Description("Signal debounce window in milliseconds"),
		),
		mcp.WithArray("excluded_path_prefixes",
			mcp.Description("Path prefixes the engine ignores"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithNumber("max_pending_prompts",
			mcp.Description("How many unanswered switch prompts are held before the oldest is evicted"),
		),
	), s.handleSwitchConfig)

	// memory_store - record work, auto-linked to the exclusive session
	s.server.AddTool(mcp.NewTool(toolMemoryStore,
		mcp.WithDescription("Store a memory or todo item, linked to the exclusively active session when one holds the lease"),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Item content"),
		),
		mcp.WithNumber("importance",
			mcp.Description("Importance from 0 to 100, default 50"),
		),
		mcp.WithString("work_type",
			mcp.Description("Item kind: memory or todo, default memory"),
		),
	), s.handleMemoryStore)

	// memory_link - attach items to a session
	s.server.AddTool(mcp.NewTool(toolMemoryLink,
		mcp.WithDescription("Link memory items to a session; each item succeeds or fails on its own"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Target session"),
		),
		mcp.WithArray("memory_ids",
			mcp.Required(),
			mcp.Description("Memory item ids to link"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithBoolean("force_relink",
			mcp.Description("Steal items already linked to another session"),
		),
	), s.handleMemoryLink)

	// memory_unlink - detach or delete items
	s.server.AddTool(mcp.NewTool(toolMemoryUnlink,
		mcp.WithDescription("Unlink memory items from a session; soft unlinking orphans items instead of deleting them"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session the items are linked to"),
		),
		mcp.WithArray("memory_ids",
			mcp.Required(),
			mcp.Description("Memory item ids to unlink"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithBoolean("soft",
			mcp.Description("Orphan the items instead of deleting them"),
		),
	), s.handleMemoryUnlink)

	// memory_migrate - move items between sessions
	s.server.AddTool(mcp.NewTool(toolMemoryMigrate,
		mcp.WithDescription("Move memory items from one session to another"),
		mcp.WithString("from_session_id",
			mcp.Required(),
			mcp.Description("Session the items currently belong to"),
		),
		mcp.WithString("to_session_id",
			mcp.Required(),
			mcp.Description("Session the items move to"),
		),
		mcp.WithArray("memory_ids",
			mcp.Required(),
			mcp.Description("Memory item ids to migrate"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithBoolean("validate_target",
			mcp.Description("Abort before any write if the target session is cancelled"),
		),
	), s.handleMemoryMigrate)

	// memory_stats - aggregate a session's linked items
	s.server.AddTool(mcp.NewTool(toolMemoryStats,
		mcp.WithDescription("Aggregate statistics over a session's linked memory items"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session to aggregate"),
		),
	), s.handleMemoryStats)

	// session_terminate - bring a session to a terminal status
	s.server.AddTool(mcp.NewTool(toolSessionTerminate,
		mcp.WithDescription("Terminate a session: finalize pending todos, take a backup, and write the terminal status"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session to terminate"),
		),
		mcp.WithString("reason",
			mcp.Description("Termination reason: normal, user_requested, timeout, error, force, or shutdown; decides the terminal status"),
		),
		mcp.WithBoolean("auto_finalize",
			mcp.Description("Convert pending todos into plain memories, default true"),
		),
		mcp.WithBoolean("backup",
			mcp.Description("Snapshot the session before the status write, default true"),
		),
	), s.handleSessionTerminate)

	// session_force_terminate - emergency cancellation
	s.server.AddTool(mcp.NewTool(toolSessionForceTerminate,
		mcp.WithDescription("Cancel a session immediately, skipping finalization and backups; works on completed sessions too"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session to cancel"),
		),
	), s.handleSessionForceTerminate)

	// sessions_terminate - batch termination
	s.server.AddTool(mcp.NewTool(toolSessionsTerminate,
		mcp.WithDescription("Terminate several sessions; already-terminated sessions are skipped, one failure never aborts the rest"),
		mcp.WithArray("session_ids",
			mcp.Required(),
			mcp.Description("Sessions to terminate"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("reason",
			mcp.Description("Termination reason applied to every session"),
		),
		mcp.WithBoolean("parallel",
			mcp.Description("Run terminations through a bounded worker pool"),
		),
		mcp.WithNumber("max_concurrent",
			mcp.Description("Worker pool width when parallel, default 4"),
		),
		mcp.WithBoolean("auto_finalize",
			mcp.Description("Convert pending todos into plain memories, default true"),
		),
		mcp.WithBoolean("backup",
			mcp.Description("Snapshot each session before its status write, default true"),
		),
	), s.handleSessionsTerminate)
}
