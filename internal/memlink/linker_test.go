package memlink

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/foldline/worklog-mcp/internal/clock"
	"github.com/foldline/worklog-mcp/internal/store"
	"github.com/foldline/worklog-mcp/internal/store/memory"
)

var linkTestEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestLinker(t *testing.T) (*Linker, *memory.Store, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(linkTestEpoch)
	st := memory.New(clk)
	linker := NewLinker(st, st, clk, slog.New(slog.DiscardHandler))
	return linker, st, clk
}

func seedLinkSession(t *testing.T, st *memory.Store, id string, status store.SessionStatus) {
	t.Helper()
	err := st.CreateSession(context.Background(), &store.Session{
		ID:          id,
		ProjectName: "proj-" + id,
		ProjectPath: "/home/dev/" + id,
		Status:      status,
	})
	if err != nil {
		t.Fatalf("CreateSession(%s): %v", id, err)
	}
}

func seedItem(t *testing.T, st *memory.Store, id, sessionID, content string, importance int, workType store.WorkType) {
	t.Helper()
	err := st.CreateMemory(context.Background(), &store.MemoryItem{
		ID:         id,
		SessionID:  sessionID,
		Content:    content,
		Importance: importance,
		WorkType:   workType,
		Completion: store.CompletionPending,
	})
	if err != nil {
		t.Fatalf("CreateMemory(%s): %v", id, err)
	}
}

func memoryCount(t *testing.T, st *memory.Store, sessionID string) int64 {
	t.Helper()
	session, err := st.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetSession(%s): %v", sessionID, err)
	}
	return session.MemoryCount
}

func TestLinkPartialSuccess(t *testing.T) {
	linker, st, _ := newTestLinker(t)
	ctx := context.Background()

	seedLinkSession(t, st, "s1", store.StatusPaused)
	seedLinkSession(t, st, "dead", store.StatusCancelled)
	seedItem(t, st, "valid", "", "a useful note", 50, store.WorkMemory)
	seedItem(t, st, "held", "dead", "belongs to a cancelled session", 50, store.WorkMemory)

	result := linker.Link(ctx, "s1", []string{"valid", "missing", "held"}, LinkOptions{Reason: "test"})

	if result.LinkedCount != 1 || result.FailedCount != 2 {
		t.Fatalf("Expected 1 linked and 2 failed, got %d/%d", result.LinkedCount, result.FailedCount)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("Expected 2 errors, got %v", result.Errors)
	}
	if !strings.Contains(result.Errors[0], "missing") || !strings.Contains(result.Errors[0], "not found") {
		t.Errorf("Expected a not-found error for the missing id, got %q", result.Errors[0])
	}
	if !strings.Contains(result.Errors[1], "held") || !strings.Contains(result.Errors[1], "already linked to session dead") {
		t.Errorf("Expected a conflict error for the held id, got %q", result.Errors[1])
	}
	if result.Errors[0] == result.Errors[1] {
		t.Error("Expected distinct error messages")
	}

	item, err := st.GetMemory(ctx, "valid")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if item.SessionID != "s1" {
		t.Errorf("Expected the valid item linked to s1, got %q", item.SessionID)
	}
	held, err := st.GetMemory(ctx, "held")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if held.SessionID != "dead" {
		t.Errorf("Expected the conflicted item untouched, got %q", held.SessionID)
	}
	if got := memoryCount(t, st, "s1"); got != 1 {
		t.Errorf("Expected memory count 1 on s1, got %d", got)
	}
}

func TestLinkTargetValidation(t *testing.T) {
	linker, st, _ := newTestLinker(t)
	ctx := context.Background()

	seedLinkSession(t, st, "dead", store.StatusCancelled)
	seedLinkSession(t, st, "done", store.StatusCompleted)
	seedItem(t, st, "m1", "", "note one", 50, store.WorkMemory)
	seedItem(t, st, "m2", "", "note two", 50, store.WorkMemory)

	result := linker.Link(ctx, "dead", []string{"m1", "m2"}, LinkOptions{})
	if result.LinkedCount != 0 || result.FailedCount != 2 {
		t.Fatalf("Expected everything rejected for a cancelled target, got %d/%d", result.LinkedCount, result.FailedCount)
	}
	for _, msg := range result.Errors {
		if !strings.Contains(msg, "cancelled") {
			t.Errorf("Expected a cancellation error, got %q", msg)
		}
	}
	item, err := st.GetMemory(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if item.SessionID != "" {
		t.Errorf("Expected m1 untouched, got %q", item.SessionID)
	}

	// Completed sessions stay linkable; history can be annotated.
	result = linker.Link(ctx, "done", []string{"m1"}, LinkOptions{})
	if result.LinkedCount != 1 || result.FailedCount != 0 {
		t.Errorf("Expected a completed target to accept links, got %d/%d with %v", result.LinkedCount, result.FailedCount, result.Errors)
	}

	result = linker.Link(ctx, "nope", []string{"m2"}, LinkOptions{})
	if result.LinkedCount != 0 || result.FailedCount != 1 {
		t.Fatalf("Expected a missing target to fail the batch, got %d/%d", result.LinkedCount, result.FailedCount)
	}
	if !strings.Contains(result.Errors[0], "target session nope") {
		t.Errorf("Expected the error to name the target, got %q", result.Errors[0])
	}
}

func TestLinkIdempotent(t *testing.T) {
	linker, st, _ := newTestLinker(t)
	ctx := context.Background()

	seedLinkSession(t, st, "s1", store.StatusPaused)
	seedItem(t, st, "m1", "", "note", 50, store.WorkMemory)

	first := linker.Link(ctx, "s1", []string{"m1"}, LinkOptions{})
	if first.LinkedCount != 1 {
		t.Fatalf("Expected the first link to succeed, got %+v", first)
	}
	second := linker.Link(ctx, "s1", []string{"m1"}, LinkOptions{})
	if second.LinkedCount != 1 || second.FailedCount != 0 || len(second.Warnings) != 0 {
		t.Errorf("Expected relinking to the same session to be a quiet success, got %+v", second)
	}
	if got := memoryCount(t, st, "s1"); got != 1 {
		t.Errorf("Expected the counter incremented once, got %d", got)
	}
}

func TestForceRelinkWarnsAndMovesCounters(t *testing.T) {
	linker, st, _ := newTestLinker(t)
	ctx := context.Background()

	seedLinkSession(t, st, "s1", store.StatusPaused)
	seedLinkSession(t, st, "s2", store.StatusPaused)
	seedItem(t, st, "m1", "", "note", 50, store.WorkMemory)

	if result := linker.Link(ctx, "s1", []string{"m1"}, LinkOptions{}); result.LinkedCount != 1 {
		t.Fatalf("Expected the seed link to succeed, got %+v", result)
	}

	blocked := linker.Link(ctx, "s2", []string{"m1"}, LinkOptions{})
	if blocked.FailedCount != 1 || !strings.Contains(blocked.Errors[0], "already linked to session s1") {
		t.Fatalf("Expected the steal to be blocked without force, got %+v", blocked)
	}

	forced := linker.Link(ctx, "s2", []string{"m1"}, LinkOptions{ForceRelink: true})
	if forced.LinkedCount != 1 || forced.FailedCount != 0 {
		t.Fatalf("Expected the forced relink to succeed, got %+v", forced)
	}
	if len(forced.Warnings) != 1 || !strings.Contains(forced.Warnings[0], "relinked from session s1") {
		t.Errorf("Expected a relink warning, got %v", forced.Warnings)
	}

	item, err := st.GetMemory(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if item.SessionID != "s2" {
		t.Errorf("Expected m1 on s2, got %q", item.SessionID)
	}
	if got := memoryCount(t, st, "s1"); got != 0 {
		t.Errorf("Expected s1's counter decremented, got %d", got)
	}
	if got := memoryCount(t, st, "s2"); got != 1 {
		t.Errorf("Expected s2's counter incremented, got %d", got)
	}
}

func TestValidationRules(t *testing.T) {
	linker, st, _ := newTestLinker(t)
	ctx := context.Background()

	seedLinkSession(t, st, "s1", store.StatusPaused)
	seedItem(t, st, "blank", "", "   ", 50, store.WorkMemory)
	seedItem(t, st, "minor", "", "low importance note", 5, store.WorkMemory)
	seedItem(t, st, "fine", "", "important note", 80, store.WorkMemory)

	result := linker.Link(ctx, "s1", []string{"blank"}, LinkOptions{})
	if result.FailedCount != 1 || !strings.Contains(result.Errors[0], "non_empty_content") {
		t.Fatalf("Expected the built-in content rule to reject blanks, got %+v", result)
	}

	linker.AddValidationRule("min_importance", func(item *store.MemoryItem) bool {
		return item.Importance >= 10
	}, "importance below 10")

	result = linker.Link(ctx, "s1", []string{"minor", "fine"}, LinkOptions{})
	if result.LinkedCount != 1 || result.FailedCount != 1 {
		t.Fatalf("Expected the custom rule to reject one item, got %+v", result)
	}
	if !strings.Contains(result.Errors[0], "min_importance") || !strings.Contains(result.Errors[0], "importance below 10") {
		t.Errorf("Expected the rule name and message in the error, got %q", result.Errors[0])
	}

	// Re-registering a name replaces the rule.
	linker.AddValidationRule("non_empty_content", func(item *store.MemoryItem) bool {
		return true
	}, "unused")
	result = linker.Link(ctx, "s1", []string{"blank"}, LinkOptions{})
	if result.LinkedCount != 1 {
		t.Errorf("Expected the overridden rule to admit blanks, got %+v", result)
	}
}

func TestUnlinkSoftAndHard(t *testing.T) {
	linker, st, _ := newTestLinker(t)
	ctx := context.Background()

	seedLinkSession(t, st, "s1", store.StatusPaused)
	seedLinkSession(t, st, "s2", store.StatusPaused)
	seedItem(t, st, "m1", "", "first", 50, store.WorkMemory)
	seedItem(t, st, "m2", "", "second", 50, store.WorkMemory)
	seedItem(t, st, "other", "", "third", 50, store.WorkMemory)

	if result := linker.Link(ctx, "s1", []string{"m1", "m2"}, LinkOptions{}); result.LinkedCount != 2 {
		t.Fatalf("Expected the seed links to succeed, got %+v", result)
	}
	if result := linker.Link(ctx, "s2", []string{"other"}, LinkOptions{}); result.LinkedCount != 1 {
		t.Fatalf("Expected the seed link to succeed, got %+v", result)
	}

	soft := linker.Unlink(ctx, "s1", []string{"m1"}, UnlinkOptions{Soft: true})
	if soft.LinkedCount != 1 || soft.FailedCount != 0 {
		t.Fatalf("Expected the soft unlink to succeed, got %+v", soft)
	}
	item, err := st.GetMemory(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if item.SessionID != "" {
		t.Errorf("Expected m1 orphaned, got %q", item.SessionID)
	}
	if got := memoryCount(t, st, "s1"); got != 1 {
		t.Errorf("Expected s1's counter at 1, got %d", got)
	}

	hard := linker.Unlink(ctx, "s1", []string{"m2"}, UnlinkOptions{})
	if hard.LinkedCount != 1 || hard.FailedCount != 0 {
		t.Fatalf("Expected the hard unlink to succeed, got %+v", hard)
	}
	if _, err := st.GetMemory(ctx, "m2"); !errors.Is(err, store.ErrMemoryNotFound) {
		t.Errorf("Expected m2 deleted, got %v", err)
	}
	if got := memoryCount(t, st, "s1"); got != 0 {
		t.Errorf("Expected s1's counter at 0, got %d", got)
	}

	// Orphans and items linked elsewhere are failed, not touched.
	result := linker.Unlink(ctx, "s1", []string{"m1", "other", "missing"}, UnlinkOptions{Soft: true})
	if result.LinkedCount != 0 || result.FailedCount != 3 {
		t.Fatalf("Expected every item rejected, got %+v", result)
	}
	if !strings.Contains(result.Errors[0], "not linked to session s1") {
		t.Errorf("Expected a not-linked error for the orphan, got %q", result.Errors[0])
	}
	if !strings.Contains(result.Errors[1], "not linked to session s1") {
		t.Errorf("Expected a not-linked error for the foreign item, got %q", result.Errors[1])
	}
	if !strings.Contains(result.Errors[2], "not found") {
		t.Errorf("Expected a not-found error, got %q", result.Errors[2])
	}
	if got := memoryCount(t, st, "s2"); got != 1 {
		t.Errorf("Expected s2's counter untouched, got %d", got)
	}
}

func TestMigrateMovesItemsAndCounters(t *testing.T) {
	linker, st, _ := newTestLinker(t)
	ctx := context.Background()

	seedLinkSession(t, st, "s1", store.StatusPaused)
	seedLinkSession(t, st, "s2", store.StatusPaused)
	seedItem(t, st, "m1", "", "first", 50, store.WorkMemory)
	seedItem(t, st, "m2", "", "second", 50, store.WorkMemory)

	if result := linker.Link(ctx, "s1", []string{"m1", "m2"}, LinkOptions{}); result.LinkedCount != 2 {
		t.Fatalf("Expected the seed links to succeed, got %+v", result)
	}

	result, err := linker.Migrate(ctx, "s1", "s2", []string{"m1", "m2", "missing"}, MigrateOptions{})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if result.LinkedCount != 2 || result.FailedCount != 1 {
		t.Fatalf("Expected 2 migrated and 1 failed, got %d/%d", result.LinkedCount, result.FailedCount)
	}

	for _, id := range []string{"m1", "m2"} {
		item, err := st.GetMemory(ctx, id)
		if err != nil {
			t.Fatalf("GetMemory(%s): %v", id, err)
		}
		if item.SessionID != "s2" {
			t.Errorf("Expected %s on s2, got %q", id, item.SessionID)
		}
	}
	if got := memoryCount(t, st, "s1"); got != 0 {
		t.Errorf("Expected s1 emptied, got %d", got)
	}
	if got := memoryCount(t, st, "s2"); got != 2 {
		t.Errorf("Expected s2 at 2, got %d", got)
	}
}

func TestMigrateValidateTargetAborts(t *testing.T) {
	linker, st, _ := newTestLinker(t)
	ctx := context.Background()

	seedLinkSession(t, st, "s1", store.StatusPaused)
	seedLinkSession(t, st, "dead", store.StatusCancelled)
	seedItem(t, st, "m1", "", "note", 50, store.WorkMemory)

	if result := linker.Link(ctx, "s1", []string{"m1"}, LinkOptions{}); result.LinkedCount != 1 {
		t.Fatalf("Expected the seed link to succeed, got %+v", result)
	}

	if _, err := linker.Migrate(ctx, "s1", "dead", []string{"m1"}, MigrateOptions{ValidateTarget: true}); !errors.Is(err, ErrTargetCancelled) {
		t.Fatalf("Expected ErrTargetCancelled, got %v", err)
	}
	item, err := st.GetMemory(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if item.SessionID != "s1" {
		t.Errorf("Expected the abort to leave m1 untouched, got %q", item.SessionID)
	}

	// Without validation the per-item link phase still rejects the
	// cancelled target, but only after the unlink committed.
	result, err := linker.Migrate(ctx, "s1", "dead", []string{"m1"}, MigrateOptions{})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if result.LinkedCount != 0 || result.FailedCount != 1 {
		t.Fatalf("Expected the link phase to fail, got %+v", result)
	}
	warned := false
	for _, msg := range result.Warnings {
		if strings.Contains(msg, "unlinked from s1 but not linked to dead") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("Expected the half-migrated item to be surfaced, got %v", result.Warnings)
	}
	item, err = st.GetMemory(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if item.SessionID != "" {
		t.Errorf("Expected m1 orphaned by the committed unlink, got %q", item.SessionID)
	}

	if _, err := linker.Migrate(ctx, "s1", "nowhere", []string{"m1"}, MigrateOptions{}); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound for a missing target, got %v", err)
	}
}

func TestStats(t *testing.T) {
	linker, st, clk := newTestLinker(t)
	ctx := context.Background()

	seedLinkSession(t, st, "s1", store.StatusPaused)

	// First batch at the epoch, second 25 hours later; only the second
	// counts as recent.
	seedItem(t, st, "a1", "s1", "critical old", 95, store.WorkMemory)
	seedItem(t, st, "a2", "s1", "high old", 89, store.WorkMemory)
	seedItem(t, st, "a3", "s1", "medium old", 69, store.WorkTodo)
	seedItem(t, st, "a4", "s1", "low old", 29, store.WorkMemory)
	seedItem(t, st, "a5", "s1", "minimal old", 9, store.WorkTodo)

	clk.Advance(25 * time.Hour)

	seedItem(t, st, "b1", "s1", "critical new", 90, store.WorkTodo)
	seedItem(t, st, "b2", "s1", "high new", 70, store.WorkMemory)
	seedItem(t, st, "b3", "s1", "medium new", 30, store.WorkMemory)
	seedItem(t, st, "b4", "s1", "low new", 10, store.WorkTodo)
	seedItem(t, st, "b5", "s1", "minimal new", 0, store.WorkMemory)

	stats, err := linker.Stats(ctx, "s1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if stats.TotalCount != 10 {
		t.Errorf("Expected 10 items, got %d", stats.TotalCount)
	}
	wantBuckets := map[string]int{"critical": 2, "high": 2, "medium": 2, "low": 2, "minimal": 2}
	for bucket, want := range wantBuckets {
		if got := stats.ByImportance[bucket]; got != want {
			t.Errorf("Expected %d items in bucket %s, got %d", want, bucket, got)
		}
	}
	if got := stats.ByWorkType[store.WorkMemory]; got != 6 {
		t.Errorf("Expected 6 memory items, got %d", got)
	}
	if got := stats.ByWorkType[store.WorkTodo]; got != 4 {
		t.Errorf("Expected 4 todo items, got %d", got)
	}
	if stats.RecentCount != 5 {
		t.Errorf("Expected 5 recent items, got %d", stats.RecentCount)
	}
	if stats.AverageImportance != 49.1 {
		t.Errorf("Expected average importance 49.1, got %v", stats.AverageImportance)
	}
	if stats.OldestCreatedAt == nil || !stats.OldestCreatedAt.Equal(linkTestEpoch) {
		t.Errorf("Expected oldest at the epoch, got %v", stats.OldestCreatedAt)
	}
	if stats.NewestCreatedAt == nil || !stats.NewestCreatedAt.Equal(linkTestEpoch.Add(25*time.Hour)) {
		t.Errorf("Expected newest 25h later, got %v", stats.NewestCreatedAt)
	}
}

func TestStatsEmptySession(t *testing.T) {
	linker, st, _ := newTestLinker(t)
	ctx := context.Background()

	seedLinkSession(t, st, "s1", store.StatusPaused)

	stats, err := linker.Stats(ctx, "s1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalCount != 0 || stats.RecentCount != 0 || stats.AverageImportance != 0 {
		t.Errorf("Expected zeroed stats, got %+v", stats)
	}
	if stats.OldestCreatedAt != nil || stats.NewestCreatedAt != nil {
		t.Errorf("Expected nil timestamps for an empty session, got %+v", stats)
	}
	if stats.ByImportance == nil || stats.ByWorkType == nil {
		t.Error("Expected initialized maps")
	}

	if _, err := linker.Stats(ctx, "nope"); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}
