package autoswitch

import "time"

// decisionRecord is one delivered switch decision, kept for rate
// accounting.
type decisionRecord struct {
	at      time.Time
	outcome Decision
}

// rateWindow is a trailing-window log of delivered decisions. Records
// older than the window are pruned on every access, so the log stays
// bounded by the delivery rate itself. Not safe for concurrent use;
// the engine serializes access under its mutex.
type rateWindow struct {
	window  time.Duration
	records []decisionRecord
}

func newRateWindow(window time.Duration) *rateWindow {
	return &rateWindow{window: window}
}

// record logs a delivered decision at the given time.
func (w *rateWindow) record(at time.Time, outcome Decision) {
	w.prune(at)
	w.records = append(w.records, decisionRecord{at: at, outcome: outcome})
}

// count returns how many delivered decisions fall inside the trailing
// window ending at now.
func (w *rateWindow) count(now time.Time) int {
	w.prune(now)
	return len(w.records)
}

func (w *rateWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	drop := 0
	for drop < len(w.records) && !w.records[drop].at.After(cutoff) {
		drop++
	}
	if drop > 0 {
		w.records = append(w.records[:0], w.records[drop:]...)
	}
}
