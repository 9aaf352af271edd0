// Package scheduler runs fuentes on a cron schedule with global and
// per-category concurrency caps (spec §4.7). The teacher has no equivalent
// component — its ingestion is triggered synchronously via HTTP admin
// routes — so the shape here is new, but the primitives (buffered channels
// as semaphores, explicit goroutines, no worker-pool library) follow the
// teacher's own preference in fetcher_http.go's rate limiter.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/martinsantos/licitometro-sub002/internal/db"
	"github.com/martinsantos/licitometro-sub002/internal/ingest"
	"github.com/martinsantos/licitometro-sub002/internal/licitacion"
)

// CategoryHint is a fuente's declared resource weight (spec §4.1/§4.7).
type CategoryHint string

const (
	CategoryHeavy  CategoryHint = "heavy"
	CategoryMedium CategoryHint = "medium"
	CategoryLight  CategoryHint = "light"
)

// categoryCap returns the per-category concurrency slot count.
func categoryCap(hint CategoryHint) int {
	switch hint {
	case CategoryHeavy:
		return 2
	case CategoryMedium:
		return 4
	default:
		return 6
	}
}

// QuietWindow suppresses scheduled (not manually triggered) runs during a
// configured local wall-clock window, e.g. 22:00-06:00.
type QuietWindow struct {
	StartHour int
	EndHour   int
}

func (w QuietWindow) active(now time.Time) bool {
	if w.StartHour == w.EndHour {
		return false
	}
	h := now.Hour()
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}

// jobState tracks the adaptive-interval and in-flight bookkeeping for one
// fuente (spec §4.7's max_instances=1/coalesce=true and adaptive scheduling).
type jobState struct {
	config           ingest.SourceConfig
	baseInterval     time.Duration
	currentInterval  time.Duration
	consecutiveEmpty int
	running          bool
	cancel           context.CancelFunc
	pending          bool // a tick arrived while running: coalesce into one
	active           bool // mirrors the DB ScraperConfig.Active flag (spec §4.8 auto-pause)
	entryID          cron.EntryID
}

// Scheduler is the process-wide cron-driven run dispatcher.
type Scheduler struct {
	pipeline *ingest.Pipeline
	store    *db.Store
	cron     *cron.Cron
	quiet    QuietWindow

	globalSem chan struct{}
	catSems   map[CategoryHint]chan struct{}

	mu   sync.Mutex
	jobs map[string]*jobState

	// AdaptiveCeiling bounds how far an adaptive interval can grow
	// (multiplier applied repeatedly to baseInterval).
	AdaptiveCeiling time.Duration
}

// New builds a Scheduler with the default concurrency caps from spec §4.7
// (global=globalCap, heavy=2, medium=4, light=6).
func New(pipeline *ingest.Pipeline, store *db.Store, globalCap int, quiet QuietWindow) *Scheduler {
	if globalCap <= 0 {
		globalCap = 6
	}
	return &Scheduler{
		pipeline:  pipeline,
		store:     store,
		cron:      cron.New(),
		quiet:     quiet,
		globalSem: make(chan struct{}, globalCap),
		catSems: map[CategoryHint]chan struct{}{
			CategoryHeavy:  make(chan struct{}, categoryCap(CategoryHeavy)),
			CategoryMedium: make(chan struct{}, categoryCap(CategoryMedium)),
			CategoryLight:  make(chan struct{}, categoryCap(CategoryLight)),
		},
		jobs:            make(map[string]*jobState),
		AdaptiveCeiling: 8 * time.Hour,
	}
}

// LoadAndSchedule loads active ScraperConfigs from the store, maps each to
// its registry SourceConfig by name, and schedules it by cron expression.
func (sc *Scheduler) LoadAndSchedule(ctx context.Context, registry *ingest.Registry) error {
	configs, err := sc.store.ScraperConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load scraper configs: %w", err)
	}

	bySourceID := make(map[string]ingest.SourceConfig, len(registry.Sources))
	for _, src := range registry.Sources {
		bySourceID[src.ID] = src
	}

	for _, cfg := range configs {
		if !cfg.Active {
			continue
		}
		src, ok := bySourceID[cfg.Name]
		if !ok {
			log.Printf("scheduler: no registry entry for scraper config %q, skipping", cfg.Name)
			continue
		}
		if err := sc.Schedule(src); err != nil {
			log.Printf("scheduler: failed to schedule %q: %v", cfg.Name, err)
		}
	}
	return nil
}

// Schedule registers one fuente's cron expression with the dispatcher.
func (sc *Scheduler) Schedule(config ingest.SourceConfig) error {
	if config.Schedule == "" {
		return fmt.Errorf("source %q has no schedule", config.ID)
	}

	sc.mu.Lock()
	js, exists := sc.jobs[config.ID]
	if !exists {
		js = &jobState{config: config, active: true}
		sc.jobs[config.ID] = js
	} else {
		js.config = config
	}
	sc.mu.Unlock()

	interval, err := cronIntervalHint(config.Schedule)
	if err == nil {
		sc.mu.Lock()
		js.baseInterval = interval
		js.currentInterval = interval
		sc.mu.Unlock()
	}

	entryID, err := sc.cron.AddFunc(config.Schedule, func() {
		sc.tick(config.ID)
	})
	if err != nil {
		return err
	}

	sc.mu.Lock()
	js.entryID = entryID
	sc.mu.Unlock()
	return nil
}

// SetActive mirrors a ScraperConfig.Active change into the in-memory job
// state so a subsequent tick can honor a pause without re-reading the DB on
// every fire (spec §4.8: a paused fuente's scheduled runs must be skipped,
// not silently executed anyway).
func (sc *Scheduler) SetActive(sourceID string, active bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if js, ok := sc.jobs[sourceID]; ok {
		js.active = active
	}
}

// cronIntervalHint extracts an approximate interval from an "@every Ns"-style
// expression for adaptive-scheduling bookkeeping; standard 5-field
// expressions fall back to a zero interval (adaptive back-off is skipped).
func cronIntervalHint(expr string) (time.Duration, error) {
	var n int
	if _, err := fmt.Sscanf(expr, "@every %ds", &n); err == nil && n > 0 {
		return time.Duration(n) * time.Second, nil
	}
	return 0, fmt.Errorf("not an @every expression")
}

// Start begins the cron dispatch loop.
func (sc *Scheduler) Start() {
	sc.cron.Start()
}

// Stop halts the dispatcher and waits for in-flight cron jobs to return.
func (sc *Scheduler) Stop() {
	stopCtx := sc.cron.Stop()
	<-stopCtx.Done()
}

// tick fires on a cron schedule match. It honors the quiet window,
// max_instances=1 with coalescing, and adaptive back-off, then dispatches
// the actual run through the concurrency-capped executor.
func (sc *Scheduler) tick(sourceID string) {
	sc.mu.Lock()
	js, ok := sc.jobs[sourceID]
	if !ok {
		sc.mu.Unlock()
		return
	}
	if !js.active {
		sc.mu.Unlock()
		log.Printf("scheduler: %s tick skipped, source is paused", sourceID)
		sc.recordSkippedRun(sourceID)
		return
	}
	if sc.quiet.active(time.Now()) {
		sc.mu.Unlock()
		log.Printf("scheduler: %s tick suppressed by quiet window", sourceID)
		return
	}
	if js.running {
		js.pending = true
		sc.mu.Unlock()
		log.Printf("scheduler: %s already running, coalescing tick", sourceID)
		return
	}
	js.running = true
	config := js.config
	sc.mu.Unlock()

	go sc.dispatch(sourceID, config, false)
}

// recordSkippedRun writes a terminal scraper_runs row for a tick that never
// dispatched because its source is paused (spec §4.8/S5), so /api/scheduler
// /runs shows the skip instead of silence.
func (sc *Scheduler) recordSkippedRun(sourceID string) {
	runID := uuid.New()
	now := time.Now()
	if err := sc.store.CreateRun(context.Background(), licitacion.ScraperRun{
		ID:          runID,
		ScraperName: sourceID,
		StartedAt:   now,
		Status:      licitacion.RunStatusSkipped,
	}); err != nil {
		log.Printf("scheduler: failed to record skipped run for %s: %v", sourceID, err)
		return
	}
	if err := sc.store.FinishRun(context.Background(), runID, licitacion.RunStatusSkipped, 0, 0, 0, nil); err != nil {
		log.Printf("scheduler: failed to finish skipped run for %s: %v", sourceID, err)
	}
}

// Trigger enqueues an out-of-band manual run, still bounded by the same
// concurrency caps (spec §4.7 "Manual trigger").
func (sc *Scheduler) Trigger(sourceID string) error {
	sc.mu.Lock()
	js, ok := sc.jobs[sourceID]
	if !ok {
		sc.mu.Unlock()
		return fmt.Errorf("unknown source %q", sourceID)
	}
	if js.running {
		js.pending = true
		sc.mu.Unlock()
		return nil
	}
	js.running = true
	config := js.config
	sc.mu.Unlock()

	go sc.dispatch(sourceID, config, true)
	return nil
}

// Cancel unwinds an in-flight run for sourceID, marking it failed with
// reason "cancelled" (spec §4.7).
func (sc *Scheduler) Cancel(sourceID string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	js, ok := sc.jobs[sourceID]
	if !ok || js.cancel == nil {
		return false
	}
	js.cancel()
	return true
}

// dispatch acquires the global and category semaphore slots, runs the
// fuente, records adaptive-interval bookkeeping, and re-fires a coalesced
// pending tick if one arrived while running.
func (sc *Scheduler) dispatch(sourceID string, config ingest.SourceConfig, manual bool) {
	category := CategoryHint(config.CategoryHint)
	catSem, ok := sc.catSems[category]
	if !ok {
		catSem = sc.catSems[CategoryLight]
	}

	catSem <- struct{}{}
	defer func() { <-catSem }()
	sc.globalSem <- struct{}{}
	defer func() { <-sc.globalSem }()

	runCtx, cancel := context.WithCancel(context.Background())
	sc.mu.Lock()
	js := sc.jobs[sourceID]
	js.cancel = cancel
	sc.mu.Unlock()

	reason := ""
	stats, err := sc.pipeline.RunSource(runCtx, config)
	cancel()

	if err != nil {
		if runCtx.Err() == context.Canceled {
			reason = "cancelled"
		}
		log.Printf("scheduler: %s run failed: %v (reason=%s)", sourceID, err, reason)
	}

	if markErr := sc.store.MarkScraperRan(context.Background(), sourceID); markErr != nil {
		log.Printf("scheduler: failed to mark %s ran: %v", sourceID, markErr)
	}

	sc.mu.Lock()
	js.running = false
	js.cancel = nil
	sc.applyAdaptiveBackoff(js, stats)
	pending := js.pending
	js.pending = false
	sc.mu.Unlock()

	if pending {
		go sc.dispatch(sourceID, config, manual)
	}
}

// applyAdaptiveBackoff implements spec §4.7's optional adaptive scheduling:
// 3 consecutive empty runs double the interval up to AdaptiveCeiling; the
// first non-empty run resets to base. Callers hold sc.mu. When the computed
// interval actually moves, the fuente's cron entry is torn down and
// re-registered at the new "@every Ns" cadence — without this, currentInterval
// would be bookkeeping nobody ever reads, and the fuente would keep firing on
// its original fixed expression regardless of how many empty runs it had.
func (sc *Scheduler) applyAdaptiveBackoff(js *jobState, stats ingest.IngestionStats) {
	if !js.config.AdaptiveSchedule || js.baseInterval == 0 {
		return
	}

	prev := js.currentInterval
	if stats.TotalSaved == 0 {
		js.consecutiveEmpty++
		if js.consecutiveEmpty >= 3 {
			next := js.currentInterval * 2
			if next > sc.AdaptiveCeiling {
				next = sc.AdaptiveCeiling
			}
			js.currentInterval = next
		}
	} else {
		js.consecutiveEmpty = 0
		js.currentInterval = js.baseInterval
	}

	if js.currentInterval != prev {
		sc.rescheduleLocked(js)
	}
}

// rescheduleLocked replaces js's cron entry with one firing at
// js.currentInterval. Callers hold sc.mu.
func (sc *Scheduler) rescheduleLocked(js *jobState) {
	sourceID := js.config.ID
	if js.entryID != 0 {
		sc.cron.Remove(js.entryID)
	}

	expr := fmt.Sprintf("@every %ds", int(js.currentInterval/time.Second))
	entryID, err := sc.cron.AddFunc(expr, func() {
		sc.tick(sourceID)
	})
	if err != nil {
		log.Printf("scheduler: failed to reschedule %s at adaptive interval %s: %v", sourceID, js.currentInterval, err)
		return
	}
	js.entryID = entryID
	log.Printf("scheduler: %s adaptive interval now %s", sourceID, js.currentInterval)
}

// Status is the introspection shape returned by Jobs() (spec §4.7).
type Status struct {
	SourceID string
	Running  bool
	Category CategoryHint
}

// Jobs returns a snapshot of every scheduled fuente's current state.
func (sc *Scheduler) Jobs() []Status {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	out := make([]Status, 0, len(sc.jobs))
	for id, js := range sc.jobs {
		out = append(out, Status{SourceID: id, Running: js.running, Category: CategoryHint(js.config.CategoryHint)})
	}
	return out
}
