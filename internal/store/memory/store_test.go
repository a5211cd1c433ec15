package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/foldline/worklog-mcp/internal/clock"
	"github.com/foldline/worklog-mcp/internal/store"
)

func newTestStore(t *testing.T) (*Store, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return New(clk), clk
}

func TestCreateSessionDefaults(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	session := &store.Session{
		ProjectName: "worklog",
		ProjectPath: "/repo/worklog",
		Tags:        []string{"go", "api", "go", ""},
	}
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if session.ID == "" {
		t.Errorf("Expected generated ID")
	}
	if !session.StartedAt.Equal(clk.Now()) {
		t.Errorf("Expected StartedAt %v, got %v", clk.Now(), session.StartedAt)
	}
	if !session.LastActivityAt.Equal(session.StartedAt) {
		t.Errorf("Expected LastActivityAt to default to StartedAt")
	}
	if session.Status != store.StatusPaused {
		t.Errorf("Expected default status paused, got %s", session.Status)
	}
	if len(session.Tags) != 2 || session.Tags[0] != "api" || session.Tags[1] != "go" {
		t.Errorf("Expected normalized tags [api go], got %v", session.Tags)
	}

	if err := s.CreateSession(ctx, &store.Session{ID: session.ID}); err == nil {
		t.Errorf("Expected duplicate ID error")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.GetSession(context.Background(), "missing")
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestGetSessionReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	session := &store.Session{ID: "s1", Tags: []string{"go"}}
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	got.Tags[0] = "mutated"
	got.Status = store.StatusCancelled

	again, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if again.Tags[0] != "go" || again.Status == store.StatusCancelled {
		t.Errorf("Stored session mutated through returned copy")
	}
}

func TestFindSessionsFilterAndOrder(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	base := clk.Now()

	sessions := []*store.Session{
		{ID: "a", ProjectName: "worklog", ProjectPath: "/repo/a", Status: store.StatusPaused, LastActivityAt: base.Add(-3 * time.Hour)},
		{ID: "b", ProjectName: "worklog", ProjectPath: "/repo/b", Status: store.StatusActive, LastActivityAt: base.Add(-1 * time.Hour)},
		{ID: "c", ProjectName: "other", ProjectPath: "/repo/c", Status: store.StatusPaused, LastActivityAt: base.Add(-2 * time.Hour)},
		{ID: "d", ProjectName: "worklog", ProjectPath: "/repo/d", Status: store.StatusCompleted, LastActivityAt: base},
	}
	for _, session := range sessions {
		session.StartedAt = session.LastActivityAt
		if err := s.CreateSession(ctx, session); err != nil {
			t.Fatalf("CreateSession(%s) failed: %v", session.ID, err)
		}
	}

	tests := []struct {
		name    string
		filter  store.SessionFilter
		wantIDs []string
	}{
		{
			"by name, open statuses, newest first",
			store.SessionFilter{
				ProjectName: "worklog",
				Statuses:    []store.SessionStatus{store.StatusActive, store.StatusPaused},
			},
			[]string{"b", "a"},
		},
		{
			"by exact path",
			store.SessionFilter{ProjectPath: "/repo/c"},
			[]string{"c"},
		},
		{
			"limit and offset",
			store.SessionFilter{Limit: 2, Offset: 1},
			[]string{"b", "c"},
		},
		{
			"no match",
			store.SessionFilter{ProjectName: "absent"},
			[]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.FindSessions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("FindSessions failed: %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("Expected %d sessions, got %d", len(tt.wantIDs), len(got))
			}
			for i, want := range tt.wantIDs {
				if got[i].ID != want {
					t.Errorf("Result[%d] = %s, want %s", i, got[i].ID, want)
				}
			}
		})
	}
}

func TestUpdateSessionStatusEndedAt(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, &store.Session{ID: "s1", Status: store.StatusActive}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	ts := clk.Now().Add(time.Hour)
	if err := s.UpdateSessionStatus(ctx, "s1", store.StatusCompleted, ts); err != nil {
		t.Fatalf("UpdateSessionStatus failed: %v", err)
	}
	got, _ := s.GetSession(ctx, "s1")
	if got.Status != store.StatusCompleted {
		t.Errorf("Expected status completed, got %s", got.Status)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ts) {
		t.Errorf("Expected EndedAt %v, got %v", ts, got.EndedAt)
	}

	// Leaving the terminal state clears ended_at (reopen path).
	if err := s.UpdateSessionStatus(ctx, "s1", store.StatusPaused, ts.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateSessionStatus failed: %v", err)
	}
	got, _ = s.GetSession(ctx, "s1")
	if got.EndedAt != nil {
		t.Errorf("Expected EndedAt cleared, got %v", got.EndedAt)
	}

	if err := s.UpdateSessionStatus(ctx, "missing", store.StatusPaused, ts); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestPauseActiveExcept(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	for _, fixture := range []struct {
		id     string
		status store.SessionStatus
	}{
		{"keep", store.StatusActive},
		{"other1", store.StatusActive},
		{"other2", store.StatusActive},
		{"paused", store.StatusPaused},
	} {
		if err := s.CreateSession(ctx, &store.Session{ID: fixture.id, Status: fixture.status}); err != nil {
			t.Fatalf("CreateSession(%s) failed: %v", fixture.id, err)
		}
	}

	clk.Advance(time.Minute)
	pausedAt := clk.Now()
	demoted, err := s.PauseActiveExcept(ctx, "keep", pausedAt)
	if err != nil {
		t.Fatalf("PauseActiveExcept failed: %v", err)
	}
	if demoted != 2 {
		t.Errorf("Expected 2 demoted, got %d", demoted)
	}

	kept, _ := s.GetSession(ctx, "keep")
	if kept.Status != store.StatusActive {
		t.Errorf("Expected kept session to stay active, got %s", kept.Status)
	}
	for _, id := range []string{"other1", "other2", "paused"} {
		got, _ := s.GetSession(ctx, id)
		if got.Status != store.StatusPaused {
			t.Errorf("Expected %s paused, got %s", id, got.Status)
		}
	}
	demotedSession, _ := s.GetSession(ctx, "other1")
	if !demotedSession.LastActivityAt.Equal(pausedAt) {
		t.Errorf("Expected demoted last activity %v, got %v", pausedAt, demotedSession.LastActivityAt)
	}
	untouched, _ := s.GetSession(ctx, "paused")
	if untouched.LastActivityAt.Equal(pausedAt) {
		t.Error("Expected already-paused session untouched")
	}
}

func TestIncrementCountersClamp(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, &store.Session{ID: "s1"}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := s.IncrementCounters(ctx, "s1", store.CounterDeltas{Activity: 2, Memory: 3, WorkSeconds: 60}); err != nil {
		t.Fatalf("IncrementCounters failed: %v", err)
	}
	if err := s.IncrementCounters(ctx, "s1", store.CounterDeltas{Memory: -5}); err != nil {
		t.Fatalf("IncrementCounters failed: %v", err)
	}

	got, _ := s.GetSession(ctx, "s1")
	if got.ActivityCount != 2 || got.MemoryCount != 0 || got.TotalWorkSecs != 60 {
		t.Errorf("Expected counters (2, 0, 60), got (%d, %d, %d)",
			got.ActivityCount, got.MemoryCount, got.TotalWorkSecs)
	}
}

func TestMemoryItemLifecycle(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	item := &store.MemoryItem{
		Content:    "remember the migration order",
		Importance: 80,
		WorkType:   store.WorkMemory,
		Completion: store.CompletionDone,
	}
	if err := s.CreateMemory(ctx, item); err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}
	if item.ID == "" {
		t.Fatalf("Expected generated memory ID")
	}
	if !item.CreatedAt.Equal(clk.Now()) {
		t.Errorf("Expected CreatedAt defaulted to now")
	}

	if err := s.UpdateMemorySessionID(ctx, item.ID, "s1"); err != nil {
		t.Fatalf("UpdateMemorySessionID failed: %v", err)
	}
	got, err := s.GetMemory(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if got.SessionID != "s1" {
		t.Errorf("Expected session s1, got %q", got.SessionID)
	}

	if err := s.UpdateMemorySessionID(ctx, item.ID, ""); err != nil {
		t.Fatalf("UpdateMemorySessionID failed: %v", err)
	}
	got, _ = s.GetMemory(ctx, item.ID)
	if got.SessionID != "" {
		t.Errorf("Expected orphaned item, got session %q", got.SessionID)
	}

	if err := s.DeleteMemory(ctx, item.ID); err != nil {
		t.Fatalf("DeleteMemory failed: %v", err)
	}
	if _, err := s.GetMemory(ctx, item.ID); !errors.Is(err, store.ErrMemoryNotFound) {
		t.Errorf("Expected ErrMemoryNotFound after delete, got %v", err)
	}
	if err := s.DeleteMemory(ctx, item.ID); !errors.Is(err, store.ErrMemoryNotFound) {
		t.Errorf("Expected ErrMemoryNotFound on double delete, got %v", err)
	}
}

func TestListMemoriesBySessionFilter(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	base := clk.Now()

	todo := store.WorkTodo
	pending := store.CompletionPending
	minImportance := 50

	items := []*store.MemoryItem{
		{ID: "m1", SessionID: "s1", Content: "a", Importance: 90, WorkType: store.WorkTodo, Completion: store.CompletionPending, CreatedAt: base.Add(1 * time.Minute)},
		{ID: "m2", SessionID: "s1", Content: "b", Importance: 20, WorkType: store.WorkMemory, Completion: store.CompletionDone, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "m3", SessionID: "s1", Content: "c", Importance: 70, WorkType: store.WorkTodo, Completion: store.CompletionDone, CreatedAt: base.Add(3 * time.Minute)},
		{ID: "m4", SessionID: "s2", Content: "d", Importance: 95, WorkType: store.WorkTodo, Completion: store.CompletionPending, CreatedAt: base.Add(4 * time.Minute)},
	}
	for _, item := range items {
		if err := s.CreateMemory(ctx, item); err != nil {
			t.Fatalf("CreateMemory(%s) failed: %v", item.ID, err)
		}
	}

	tests := []struct {
		name    string
		filter  store.MemoryFilter
		wantIDs []string
	}{
		{"all for session, oldest first", store.MemoryFilter{}, []string{"m1", "m2", "m3"}},
		{"todos only", store.MemoryFilter{WorkType: &todo}, []string{"m1", "m3"}},
		{"pending todos", store.MemoryFilter{WorkType: &todo, Completion: &pending}, []string{"m1"}},
		{"importance floor", store.MemoryFilter{MinImportance: &minImportance}, []string{"m1", "m3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListMemoriesBySession(ctx, "s1", tt.filter)
			if err != nil {
				t.Fatalf("ListMemoriesBySession failed: %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("Expected %d items, got %d", len(tt.wantIDs), len(got))
			}
			for i, want := range tt.wantIDs {
				if got[i].ID != want {
					t.Errorf("Result[%d] = %s, want %s", i, got[i].ID, want)
				}
			}
		})
	}
}

func TestFinalizeTodo(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateMemory(ctx, &store.MemoryItem{
		ID:         "todo1",
		Content:    "wire up the sweeper",
		WorkType:   store.WorkTodo,
		Completion: store.CompletionPending,
	}); err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}

	if err := s.FinalizeTodo(ctx, "todo1", "[incomplete, auto-closed]"); err != nil {
		t.Fatalf("FinalizeTodo failed: %v", err)
	}

	got, _ := s.GetMemory(ctx, "todo1")
	if got.WorkType != store.WorkMemory {
		t.Errorf("Expected work type memory, got %s", got.WorkType)
	}
	if got.Completion != store.CompletionPending {
		t.Errorf("Expected completion to stay pending, got %s", got.Completion)
	}
	want := "wire up the sweeper\n[incomplete, auto-closed]"
	if got.Content != want {
		t.Errorf("Expected content %q, got %q", want, got.Content)
	}

	// Already a plain memory now.
	if err := s.FinalizeTodo(ctx, "todo1", "x"); err == nil {
		t.Errorf("Expected error finalizing a non-todo")
	}
	if err := s.FinalizeTodo(ctx, "missing", "x"); !errors.Is(err, store.ErrMemoryNotFound) {
		t.Errorf("Expected ErrMemoryNotFound, got %v", err)
	}
}

func TestBackupsSaveListPrune(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	base := clk.Now()

	for i := 0; i < 5; i++ {
		backup := &store.Backup{
			ID:        fmt.Sprintf("backup_s1_%d", i),
			SessionID: "s1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Payload:   []byte(fmt.Sprintf(`{"n":%d}`, i)),
		}
		if err := s.SaveBackup(ctx, backup); err != nil {
			t.Fatalf("SaveBackup failed: %v", err)
		}
	}

	backups, err := s.ListBackups(ctx, "s1")
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(backups) != 5 {
		t.Fatalf("Expected 5 backups, got %d", len(backups))
	}
	if !backups[0].CreatedAt.After(backups[4].CreatedAt) {
		t.Errorf("Expected newest first ordering")
	}

	removed, err := s.PruneBackups(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("PruneBackups failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("Expected 3 pruned, got %d", removed)
	}
	backups, _ = s.ListBackups(ctx, "s1")
	if len(backups) != 2 {
		t.Errorf("Expected 2 backups after prune, got %d", len(backups))
	}
	if !backups[0].CreatedAt.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("Expected the newest backups kept")
	}

	removed, err = s.PruneBackups(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("PruneBackups failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("Expected nothing pruned below keep count, got %d", removed)
	}
}
