package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/martinsantos/licitometro-sub002/internal/db"
	"github.com/martinsantos/licitometro-sub002/internal/licitacion"
)

// NotificationSink is the outbound collaborator invoked on auto-pause and
// production health transitions (spec §6). Kept as a small injectable
// interface the way internal/ai wraps OllamaClient/Embedder — constructed
// once by the caller and threaded through.
type NotificationSink interface {
	Notify(ctx context.Context, kind string, payload map[string]interface{}) error
}

// NoopNotificationSink discards every notification; used when no delivery
// collaborator is configured.
type NoopNotificationSink struct{}

func (NoopNotificationSink) Notify(ctx context.Context, kind string, payload map[string]interface{}) error {
	return nil
}

// HealthScore is the per-source result of the 30-minute health job (spec §4.8).
type HealthScore struct {
	SourceName string
	Score      float64
	SuccessRate float64
	Freshness   float64
	Yield       float64
	Stability   float64
}

// HealthMonitor runs the periodic health-score computation and auto-pause
// decision over every configured scraper (spec §4.8).
type HealthMonitor struct {
	store    *db.Store
	sched    *Scheduler
	notifier NotificationSink
}

func NewHealthMonitor(store *db.Store, sched *Scheduler, notifier NotificationSink) *HealthMonitor {
	if notifier == nil {
		notifier = NoopNotificationSink{}
	}
	return &HealthMonitor{store: store, sched: sched, notifier: notifier}
}

// RunOnce computes health scores for every active scraper and applies the
// auto-pause rule (spec §4.8: 3 consecutive failed runs => active=false,
// plus an emitted notification).
func (h *HealthMonitor) RunOnce(ctx context.Context) ([]HealthScore, error) {
	configs, err := h.store.ScraperConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load scraper configs: %w", err)
	}

	scores := make([]HealthScore, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Active {
			continue
		}
		runs, err := h.store.RecentRuns(ctx, cfg.Name, 20)
		if err != nil {
			return scores, fmt.Errorf("recent runs for %s: %w", cfg.Name, err)
		}

		score := computeHealthScore(cfg, runs)
		scores = append(scores, score)

		if last3AllFailed(runs) {
			if err := h.autoPause(ctx, cfg.Name); err != nil {
				return scores, fmt.Errorf("auto-pause %s: %w", cfg.Name, err)
			}
		}
	}
	return scores, nil
}

func last3AllFailed(runs []licitacion.ScraperRun) bool {
	if len(runs) < 3 {
		return false
	}
	for _, r := range runs[:3] {
		if r.Status != licitacion.RunStatusFailed {
			return false
		}
	}
	return true
}

func (h *HealthMonitor) autoPause(ctx context.Context, sourceName string) error {
	configs, err := h.store.ScraperConfigs(ctx)
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if cfg.Name != sourceName || !cfg.Active {
			continue
		}
		cfg.Active = false
		if err := h.store.UpsertScraperConfig(ctx, cfg); err != nil {
			return err
		}
		h.sched.SetActive(sourceName, false)
		return h.notifier.Notify(ctx, "auto_pause", map[string]interface{}{
			"source": sourceName,
			"reason": "3 consecutive failed runs",
		})
	}
	return nil
}

// Reactivate clears a source's pause, resets its adaptive back-off, and
// reschedules it. Reactivation is always permitted regardless of score
// (spec §4.8).
func (h *HealthMonitor) Reactivate(ctx context.Context, sourceName string) error {
	configs, err := h.store.ScraperConfigs(ctx)
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if cfg.Name != sourceName {
			continue
		}
		cfg.Active = true
		if err := h.store.UpsertScraperConfig(ctx, cfg); err != nil {
			return err
		}

		h.sched.mu.Lock()
		if js, ok := h.sched.jobs[sourceName]; ok {
			js.consecutiveEmpty = 0
			if js.currentInterval != js.baseInterval {
				js.currentInterval = js.baseInterval
				h.sched.rescheduleLocked(js)
			}
		}
		h.sched.mu.Unlock()
		h.sched.SetActive(sourceName, true)

		return h.notifier.Notify(ctx, "reactivated", map[string]interface{}{"source": sourceName})
	}
	return fmt.Errorf("unknown source %q", sourceName)
}

// computeHealthScore implements the weighted formula from spec §4.8:
// success_rate 40%, freshness 30%, yield 20%, stability 10%.
func computeHealthScore(cfg licitacion.ScraperConfig, runs []licitacion.ScraperRun) HealthScore {
	successRate := runSuccessRate(runs)
	freshness := runFreshness(runs, cfg.MinIntervalHours)
	yield := runYield(runs)
	stability := runStability(runs)

	total := successRate*0.4 + freshness*0.3 + yield*0.2 + stability*0.1
	return HealthScore{
		SourceName:  cfg.Name,
		Score:       math.Round(total * 100),
		SuccessRate: successRate,
		Freshness:   freshness,
		Yield:       yield,
		Stability:   stability,
	}
}

func runSuccessRate(runs []licitacion.ScraperRun) float64 {
	if len(runs) == 0 {
		return 0
	}
	successes := 0
	for _, r := range runs {
		if r.Status == licitacion.RunStatusSuccess {
			successes++
		}
	}
	return float64(successes) / float64(len(runs))
}

func runFreshness(runs []licitacion.ScraperRun, minIntervalHours *int) float64 {
	var lastSuccess time.Time
	for _, r := range runs {
		if r.Status == licitacion.RunStatusSuccess && r.StartedAt.After(lastSuccess) {
			lastSuccess = r.StartedAt
		}
	}
	if lastSuccess.IsZero() {
		return 0
	}

	scheduleHours := 24.0
	if minIntervalHours != nil && *minIntervalHours > 0 {
		scheduleHours = float64(*minIntervalHours)
	}

	hoursSince := time.Since(lastSuccess).Hours()
	ratio := hoursSince / (2 * scheduleHours)
	if ratio > 1 {
		ratio = 1
	}
	return 1 - ratio
}

func runYield(runs []licitacion.ScraperRun) float64 {
	if len(runs) == 0 {
		return 0
	}
	totals := make([]float64, 0, len(runs))
	for _, r := range runs {
		totals = append(totals, float64(r.ItemsSaved+r.ItemsUpdated))
	}
	med := median(totals)
	if med == 0 {
		if totals[0] == 0 {
			return 0
		}
		return 1
	}
	return math.Min(1, totals[0]/med)
}

func runStability(runs []licitacion.ScraperRun) float64 {
	durations := make([]float64, 0, len(runs))
	for _, r := range runs {
		if r.DurationSeconds != nil {
			durations = append(durations, *r.DurationSeconds)
		}
	}
	if len(durations) < 2 {
		return 1
	}

	mean := 0.0
	for _, d := range durations {
		mean += d
	}
	mean /= float64(len(durations))

	variance := 0.0
	for _, d := range durations {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(durations))

	if variance == 0 {
		return 1
	}
	return 1 / (1 + variance/math.Max(mean*mean, 1))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
