package scheduler

import (
	"testing"
	"time"

	"github.com/martinsantos/licitometro-sub002/internal/ingest"
)

func TestQuietWindow_NoOpWhenStartEqualsEnd(t *testing.T) {
	w := QuietWindow{StartHour: 0, EndHour: 0}
	if w.active(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)) {
		t.Fatal("an unconfigured quiet window (start == end) must never be active")
	}
}

func TestQuietWindow_SameDayRange(t *testing.T) {
	w := QuietWindow{StartHour: 9, EndHour: 17}
	if !w.active(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatal("expected 12:00 to fall within a 09:00-17:00 window")
	}
	if w.active(time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)) {
		t.Fatal("expected 20:00 to fall outside a 09:00-17:00 window")
	}
}

func TestQuietWindow_WrapsPastMidnight(t *testing.T) {
	w := QuietWindow{StartHour: 22, EndHour: 6}
	if !w.active(time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)) {
		t.Fatal("expected 23:00 to fall within a 22:00-06:00 wrapping window")
	}
	if !w.active(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)) {
		t.Fatal("expected 03:00 to fall within a 22:00-06:00 wrapping window")
	}
	if w.active(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatal("expected noon to fall outside a 22:00-06:00 wrapping window")
	}
}

func TestApplyAdaptiveBackoff_DoublesIntervalAndReschedulesCron(t *testing.T) {
	sc := New(nil, nil, 1, QuietWindow{})
	config := ingest.SourceConfig{ID: "src1", Schedule: "@every 10s", AdaptiveSchedule: true}
	if err := sc.Schedule(config); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	sc.mu.Lock()
	js := sc.jobs["src1"]
	firstEntry := js.entryID
	for i := 0; i < 3; i++ {
		sc.applyAdaptiveBackoff(js, ingest.IngestionStats{TotalSaved: 0})
	}
	interval := js.currentInterval
	entryAfterBackoff := js.entryID
	sc.mu.Unlock()

	if interval != 20*time.Second {
		t.Fatalf("expected 3 consecutive empty runs to double the 10s interval to 20s, got %s", interval)
	}
	if entryAfterBackoff == firstEntry {
		t.Fatal("expected the cron entry to be replaced once the adaptive interval changed")
	}
	if len(sc.cron.Entries()) != 1 {
		t.Fatalf("expected exactly one live cron entry after reschedule, got %d", len(sc.cron.Entries()))
	}
}

func TestApplyAdaptiveBackoff_ResetsToBaseOnNonEmptyRun(t *testing.T) {
	sc := New(nil, nil, 1, QuietWindow{})
	config := ingest.SourceConfig{ID: "src1", Schedule: "@every 10s", AdaptiveSchedule: true}
	if err := sc.Schedule(config); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	sc.mu.Lock()
	js := sc.jobs["src1"]
	for i := 0; i < 3; i++ {
		sc.applyAdaptiveBackoff(js, ingest.IngestionStats{TotalSaved: 0})
	}
	grownEntry := js.entryID

	sc.applyAdaptiveBackoff(js, ingest.IngestionStats{TotalSaved: 5})
	interval := js.currentInterval
	entryAfterReset := js.entryID
	empties := js.consecutiveEmpty
	sc.mu.Unlock()

	if interval != 10*time.Second {
		t.Fatalf("expected a non-empty run to reset the interval to base (10s), got %s", interval)
	}
	if empties != 0 {
		t.Fatalf("expected consecutiveEmpty to reset to 0, got %d", empties)
	}
	if entryAfterReset == grownEntry {
		t.Fatal("expected the cron entry to be replaced again once the interval reset")
	}
}

func TestApplyAdaptiveBackoff_NoOpWithoutAdaptiveSchedule(t *testing.T) {
	sc := New(nil, nil, 1, QuietWindow{})
	config := ingest.SourceConfig{ID: "src1", Schedule: "@every 10s"}
	if err := sc.Schedule(config); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	sc.mu.Lock()
	js := sc.jobs["src1"]
	entryBefore := js.entryID
	sc.applyAdaptiveBackoff(js, ingest.IngestionStats{TotalSaved: 0})
	sc.mu.Unlock()

	if js.entryID != entryBefore {
		t.Fatal("expected no reschedule when AdaptiveSchedule is false")
	}
}

func TestSetActive_TogglesJobState(t *testing.T) {
	sc := New(nil, nil, 1, QuietWindow{})
	config := ingest.SourceConfig{ID: "src1", Schedule: "@every 10s"}
	if err := sc.Schedule(config); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	sc.mu.Lock()
	startedActive := sc.jobs["src1"].active
	sc.mu.Unlock()
	if !startedActive {
		t.Fatal("expected a freshly scheduled source to start active")
	}

	sc.SetActive("src1", false)
	sc.mu.Lock()
	pausedActive := sc.jobs["src1"].active
	sc.mu.Unlock()
	if pausedActive {
		t.Fatal("expected SetActive(false) to mark the job inactive")
	}

	sc.SetActive("src1", true)
	sc.mu.Lock()
	resumedActive := sc.jobs["src1"].active
	sc.mu.Unlock()
	if !resumedActive {
		t.Fatal("expected SetActive(true) to mark the job active again")
	}
}
