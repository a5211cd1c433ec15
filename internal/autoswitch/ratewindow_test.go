package autoswitch

import (
	"testing"
	"time"
)

func TestRateWindowCountsTrailingWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	w := newRateWindow(time.Hour)

	w.record(base, DecisionCreateNew)
	w.record(base.Add(10*time.Minute), DecisionReactivate)
	w.record(base.Add(50*time.Minute), DecisionCreateNew)

	if got := w.count(base.Add(55 * time.Minute)); got != 3 {
		t.Errorf("Expected 3 records in the window, got %d", got)
	}
	if got := w.count(base.Add(65 * time.Minute)); got != 2 {
		t.Errorf("Expected the first record to roll off, got %d", got)
	}
	if got := w.count(base.Add(2 * time.Hour)); got != 0 {
		t.Errorf("Expected an empty window, got %d", got)
	}
}

func TestRateWindowBoundaryIsExclusive(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	w := newRateWindow(time.Hour)

	w.record(base, DecisionCreateNew)

	if got := w.count(base.Add(time.Hour - time.Millisecond)); got != 1 {
		t.Errorf("Expected a record just inside the window to count, got %d", got)
	}
	if got := w.count(base.Add(time.Hour)); got != 0 {
		t.Errorf("Expected a record exactly one window old to roll off, got %d", got)
	}
}

func TestRateWindowRecordPrunesStaleEntries(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	w := newRateWindow(time.Hour)

	w.record(base, DecisionCreateNew)
	w.record(base.Add(2*time.Hour), DecisionCreateNew)

	if got := len(w.records); got != 1 {
		t.Errorf("Expected recording to prune stale entries, got %d kept", got)
	}
	if got := w.count(base.Add(2 * time.Hour)); got != 1 {
		t.Errorf("Expected only the fresh record to count, got %d", got)
	}
}
