package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/foldline/worklog-mcp/internal/autoswitch"
	"github.com/foldline/worklog-mcp/internal/lease"
	"github.com/foldline/worklog-mcp/internal/memlink"
	"github.com/foldline/worklog-mcp/internal/store"
	"github.com/foldline/worklog-mcp/internal/termination"
)

// jsonResult marshals a response view into a text tool result.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding response: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

type statusResponse struct {
	Status string `json:"status"`
}

// sessionView is the JSON shape session records take in tool results.
type sessionView struct {
	ID             string     `json:"id"`
	ProjectName    string     `json:"project_name"`
	ProjectPath    string     `json:"project_path"`
	RepositoryID   string     `json:"repository_id,omitempty"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	AutoCreated    bool       `json:"auto_created"`
	Tags           []string   `json:"tags,omitempty"`
	ActivityCount  int64      `json:"activity_count"`
	MemoryCount    int64      `json:"memory_count"`
	TotalWorkSecs  int64      `json:"total_work_secs"`
}

func newSessionView(s *store.Session) sessionView {
	return sessionView{
		ID:             s.ID,
		ProjectName:    s.ProjectName,
		ProjectPath:    s.ProjectPath,
		RepositoryID:   s.RepositoryID,
		Status:         string(s.Status),
		StartedAt:      s.StartedAt,
		LastActivityAt: s.LastActivityAt,
		EndedAt:        s.EndedAt,
		AutoCreated:    s.AutoCreated,
		Tags:           s.Tags,
		ActivityCount:  s.ActivityCount,
		MemoryCount:    s.MemoryCount,
		TotalWorkSecs:  s.TotalWorkSecs,
	}
}

type leaseView struct {
	SessionID      string    `json:"session_id"`
	LastActivity   time.Time `json:"last_activity"`
	ExclusiveUntil time.Time `json:"exclusive_until"`
	TimeoutSecs    int64     `json:"timeout_secs"`
}

func newLeaseView(info *lease.Info) leaseView {
	return leaseView{
		SessionID:      info.SessionID,
		LastActivity:   info.LastActivity,
		ExclusiveUntil: info.ExclusiveUntil,
		TimeoutSecs:    int64(info.Timeout.Seconds()),
	}
}

type currentResponse struct {
	Active  bool         `json:"active"`
	Lease   *leaseView   `json:"lease,omitempty"`
	Session *sessionView `json:"session,omitempty"`
}

type sessionListResponse struct {
	Sessions []sessionView `json:"sessions"`
	Count    int           `json:"count"`
}

type evaluationView struct {
	Decision        string   `json:"decision"`
	Confidence      float64  `json:"confidence"`
	Reasons         []string `json:"reasons"`
	TargetSessionID string   `json:"target_session_id,omitempty"`
	Path            string   `json:"path,omitempty"`
}

func newEvaluationView(eval *autoswitch.Evaluation) evaluationView {
	return evaluationView{
		Decision:        string(eval.Decision),
		Confidence:      eval.Confidence,
		Reasons:         eval.Reasons,
		TargetSessionID: eval.TargetSessionID,
		Path:            eval.Signal.Path,
	}
}

type configView struct {
	Policy               string   `json:"policy"`
	ConfidenceThreshold  float64  `json:"confidence_threshold"`
	MaxSwitchesPerHour   int      `json:"max_switches_per_hour"`
	DebounceMS           int64    `json:"debounce_ms"`
	ExcludedPathPrefixes []string `json:"excluded_path_prefixes,omitempty"`
	MaxPendingPrompts    int      `json:"max_pending_prompts"`
}

func newConfigView(cfg autoswitch.Config) configView {
	return configView{
		Policy:               string(cfg.Policy),
		ConfidenceThreshold:  cfg.ConfidenceThreshold,
		MaxSwitchesPerHour:   cfg.MaxSwitchesPerHour,
		DebounceMS:           cfg.DebounceDelay.Milliseconds(),
		ExcludedPathPrefixes: cfg.ExcludedPathPrefixes,
		MaxPendingPrompts:    cfg.MaxPendingPrompts,
	}
}

type memoryView struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id,omitempty"`
	Content    string    `json:"content"`
	Importance int       `json:"importance"`
	WorkType   string    `json:"work_type"`
	Completion string    `json:"completion"`
	CreatedAt  time.Time `json:"created_at"`
}

func newMemoryView(item *store.MemoryItem) memoryView {
	return memoryView{
		ID:         item.ID,
		SessionID:  item.SessionID,
		Content:    item.Content,
		Importance: item.Importance,
		WorkType:   string(item.WorkType),
		Completion: string(item.Completion),
		CreatedAt:  item.CreatedAt,
	}
}

type memoryStoreResponse struct {
	Memory memoryView `json:"memory"`
	Linked bool       `json:"linked"`
}

type linkResultView struct {
	LinkedCount int      `json:"linked_count"`
	FailedCount int      `json:"failed_count"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

func newLinkResultView(result *memlink.Result) linkResultView {
	return linkResultView{
		LinkedCount: result.LinkedCount,
		FailedCount: result.FailedCount,
		Errors:      result.Errors,
		Warnings:    result.Warnings,
	}
}

type memoryStatsView struct {
	SessionID         string         `json:"session_id"`
	TotalCount        int            `json:"total_count"`
	ByImportance      map[string]int `json:"by_importance"`
	ByWorkType        map[string]int `json:"by_work_type"`
	RecentCount       int            `json:"recent_count"`
	AverageImportance float64        `json:"average_importance"`
	OldestCreatedAt   *time.Time     `json:"oldest_created_at,omitempty"`
	NewestCreatedAt   *time.Time     `json:"newest_created_at,omitempty"`
}

func newMemoryStatsView(sessionID string, stats *memlink.SessionMemoryStats) memoryStatsView {
	byWorkType := make(map[string]int, len(stats.ByWorkType))
	for workType, count := range stats.ByWorkType {
		byWorkType[string(workType)] = count
	}
	return memoryStatsView{
		SessionID:         sessionID,
		TotalCount:        stats.TotalCount,
		ByImportance:      stats.ByImportance,
		ByWorkType:        byWorkType,
		RecentCount:       stats.RecentCount,
		AverageImportance: stats.AverageImportance,
		OldestCreatedAt:   stats.OldestCreatedAt,
		NewestCreatedAt:   stats.NewestCreatedAt,
	}
}

type terminationView struct {
	SessionID       string   `json:"session_id"`
	Reason          string   `json:"reason"`
	FinalStatus     string   `json:"final_status"`
	Success         bool     `json:"success"`
	FinalizedTodos  int      `json:"finalized_todos"`
	BackupID        string   `json:"backup_id,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	Errors          []string `json:"errors,omitempty"`
	ExecutionTimeMS int64    `json:"execution_time_ms"`
}

func newTerminationView(report *termination.Report) terminationView {
	return terminationView{
		SessionID:       report.SessionID,
		Reason:          string(report.Reason),
		FinalStatus:     string(report.FinalStatus),
		Success:         report.Success,
		FinalizedTodos:  report.FinalizedTodos,
		BackupID:        report.BackupID,
		Warnings:        report.Warnings,
		Errors:          report.Errors,
		ExecutionTimeMS: report.ExecutionTimeMS,
	}
}

type batchTerminationView struct {
	Total      int                        `json:"total"`
	Successful int                        `json:"successful"`
	Failed     int                        `json:"failed"`
	Skipped    int                        `json:"skipped"`
	Incomplete bool                       `json:"incomplete,omitempty"`
	Reports    map[string]terminationView `json:"reports,omitempty"`
	Errors     map[string]string          `json:"errors,omitempty"`
}

func newBatchTerminationView(result *termination.BatchResult) batchTerminationView {
	reports := make(map[string]terminationView, len(result.Reports))
	for id, report := range result.Reports {
		reports[id] = newTerminationView(report)
	}
	return batchTerminationView{
		Total:      result.Total,
		Successful: result.Successful,
		Failed:     result.Failed,
		Skipped:    result.Skipped,
		Incomplete: result.Incomplete,
		Reports:    reports,
		Errors:     result.Errors,
	}
}
