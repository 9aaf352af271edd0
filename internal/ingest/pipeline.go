package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/martinsantos/licitometro-sub002/internal/ai"
	"github.com/martinsantos/licitometro-sub002/internal/db"
	"github.com/martinsantos/licitometro-sub002/internal/licitacion"
	"github.com/microcosm-cc/bluemonday"
)

// Pipeline wires together fetching, resolution, dedup, and persistence for
// one or many fuentes (spec §4.3-§4.6).
type Pipeline struct {
	DB      *pgxpool.Pool
	Store   *db.Store
	Fetcher Fetcher
	AI      *ai.OllamaClient
}

func NewPipeline(pool *pgxpool.Pool, fetcher Fetcher, aiClient *ai.OllamaClient) *Pipeline {
	if fetcher == nil {
		config := FetchConfig{
			TimeoutSeconds: 30,
			MaxRetries:     3,
			RateLimitRPS:   1.0,
			AcceptLanguage: "es-AR,es;q=0.9,en;q=0.5",
		}
		fetcher = NewRateLimitedFetcher(config)
	}
	return &Pipeline{
		DB:      pool,
		Store:   db.NewStore(pool),
		Fetcher: fetcher,
		AI:      aiClient,
	}
}

// RunSource looks up a fuente's configured strategy and executes it,
// recording a ScraperRun row for the scheduler/health logic (C7/C8) to
// consume.
func (p *Pipeline) RunSource(ctx context.Context, config SourceConfig) (IngestionStats, error) {
	strategy, err := GlobalStrategyFactory.Get(config.Strategy)
	if err != nil {
		return IngestionStats{}, fmt.Errorf("no strategy registered for %q: %w", config.ID, err)
	}

	runID := uuid.New()
	startedAt := time.Now()
	if err := p.Store.CreateRun(ctx, licitacion.ScraperRun{
		ID:          runID,
		ScraperName: config.ID,
		StartedAt:   startedAt,
		Status:      licitacion.RunStatusRunning,
	}); err != nil {
		log.Printf("[%s] failed to create run record: %v", config.ID, err)
	}

	ctx = context.WithValue(ctx, runIDContextKey{}, runID.String())

	stats, runErr := strategy.Run(ctx, config, p)

	endedAt := time.Now()
	duration := endedAt.Sub(startedAt).Seconds()
	status := licitacion.RunStatusSuccess
	var errs []string
	if runErr != nil {
		errs = append(errs, runErr.Error())
		if stats.TotalSaved == 0 {
			status = licitacion.RunStatusFailed
		} else {
			status = licitacion.RunStatusPartial
		}
	} else if stats.Errors > 0 {
		status = licitacion.RunStatusPartial
	}
	if ctx.Err() == context.Canceled {
		status = licitacion.RunStatusFailed
		errs = append(errs, "cancelled")
	}

	if err := p.Store.FinishRun(context.WithoutCancel(ctx), runID, status, stats.TotalFound, stats.TotalSaved, duration, errs); err != nil {
		log.Printf("[%s] failed to finish run record: %v", config.ID, err)
	}

	return stats, runErr
}

type runIDContextKey struct{}

// SaveRaw is the single entry point every adapter calls with one raw record.
// It resolves dates/estado/canonical URL/content hash (C4), attempts a
// dedup match against the existing corpus (C5), and upserts the result
// (C6). No per-run set of seen content hashes is kept: a record that
// arrives twice in one run is written twice, the second time as a merge
// into the row the first call created (the content hash is an exact
// dedup key).
func (p *Pipeline) SaveRaw(ctx context.Context, raw RawRecord, urlKind string) error {
	raw.Title = sanitizeUTF8(strings.TrimSpace(raw.Title))
	raw.Description = sanitizeUTF8(sanitizeHTML(raw.Description))

	if raw.Title == "" || raw.ExternalURL == "" {
		return fmt.Errorf("raw record missing title or external url")
	}

	outcome := ResolveRecord(raw, urlKind, time.Now().In(argentinaLocation))
	if outcome.NonIngestable {
		return fmt.Errorf("record %q non-ingestable: %s", raw.Title, outcome.NonIngestableReason)
	}

	budget, currency, _ := parseBudget(raw.RawBudget)
	if raw.RawCurrency != "" {
		currency = raw.RawCurrency
	}

	dbCandidates, err := p.Store.FindDedupCandidates(ctx, raw.Jurisdiccion, raw.ExpedientNumber, raw.LicitacionNumber, outcome.ContentHash)
	if err != nil {
		return fmt.Errorf("dedup lookup failed: %w", err)
	}
	candidates := make([]MatchCandidate, 0, len(dbCandidates))
	for _, c := range dbCandidates {
		candidates = append(candidates, MatchCandidate{
			ID:               c.ID,
			ExpedientNumber:  c.ExpedientNumber,
			LicitacionNumber: c.LicitacionNumber,
			ContentHash:      c.ContentHash,
			Title:            c.Title,
			Organization:     c.Organization,
			PublicationDate:  c.PublicationDate,
			FirstSeenAt:      c.FirstSeenAt,
			URLQuality:       c.URLQuality,
		})
	}

	matchInput := struct {
		ExpedientNumber  string
		LicitacionNumber string
		ContentHash      string
		Title            string
		Organization     string
		PublicationDate  *time.Time
	}{
		ExpedientNumber:  raw.ExpedientNumber,
		LicitacionNumber: raw.LicitacionNumber,
		ContentHash:      outcome.ContentHash,
		Title:            raw.Title,
		Organization:     raw.Organization,
	}
	if outcome.PublicationDate != nil {
		matchInput.PublicationDate = &outcome.PublicationDate.Value
	}

	match, found := FindMatch(matchInput, candidates)

	attachments := make([]licitacion.AttachedFile, 0, len(raw.AttachedFiles))
	for _, a := range raw.AttachedFiles {
		attachments = append(attachments, licitacion.AttachedFile{Filename: a.Filename, URL: a.URL, Mime: a.Mime})
	}

	record := licitacion.Licitacion{
		ID:               uuid.New(),
		Title:            raw.Title,
		Organization:     raw.Organization,
		Source:           raw.SourceDomain,
		Jurisdiccion:     raw.Jurisdiccion,
		Category:         raw.Category,
		Description:      raw.Description,
		Estado:           outcome.Estado,
		Budget:           budget,
		Currency:         currency,
		ExpedientNumber:  raw.ExpedientNumber,
		LicitacionNumber: raw.LicitacionNumber,
		CanonicalURL:     outcome.CanonicalURL,
		SourceURLs:       outcome.SourceURLs,
		URLQuality:       outcome.URLQuality,
		ContentHash:      outcome.ContentHash,
		AttachedFiles:    attachments,
		WorkflowState:    licitacion.WorkflowDescubierta,
		FirstSeenAt:      time.Now(),
		EnrichmentLevel:  1,
		TipoProcedimiento: raw.TipoProcedimiento,
		Metadata:         map[string]any{},
	}
	if outcome.PublicationDate != nil {
		t := outcome.PublicationDate.Value
		record.PublicationDate = &t
	}
	if outcome.OpeningDate != nil {
		t := outcome.OpeningDate.Value
		record.OpeningDate = &t
	}
	if len(outcome.Repairs) > 0 {
		record.Metadata["repairs"] = outcome.Repairs
	}

	if !found {
		return p.Store.InsertLicitacion(ctx, record)
	}

	existingID, err := uuid.Parse(match.Candidate.ID)
	if err != nil {
		return fmt.Errorf("invalid existing record id %q: %w", match.Candidate.ID, err)
	}

	merged := MergeScalars(record.Title, record.Organization, record.Description, record.URLQuality,
		match.Candidate.Title, match.Candidate.Organization, "", match.Candidate.URLQuality)
	record.Title = merged.Title
	record.Organization = merged.Organization
	record.URLQuality = merged.URLQuality
	record.MergedFrom = append(record.MergedFrom, existingID)

	return p.Store.MergeLicitacion(ctx, existingID, record)
}

// RecomputeEstados re-runs the pure estado function over every persisted
// licitación, in keyset-paginated batches, so it scales to large corpora
// without holding the whole table in memory (mirrors the teacher's own
// batch re-scan idiom).
func (p *Pipeline) RecomputeEstados(ctx context.Context, batchSize int) (int, error) {
	return p.Store.RecomputeEstados(ctx, batchSize, func(pub, open, prorroga *time.Time) (licitacion.Estado, string) {
		return computeEstado(pub, open, prorroga, time.Now().In(argentinaLocation))
	})
}

// dedupSweepPageSize is the page size used to walk a jurisdicción's corpus
// during a deduplicate sweep, and maxSweepRecords bounds how many records
// one sweep call will load, so a runaway jurisdicción can't exhaust memory.
const (
	dedupSweepPageSize = 200
	maxSweepRecords    = 20000
)

// DeduplicateJurisdiccion re-runs the §4.5 match chain over every record
// already persisted for one jurisdicción, oldest first. Unlike SaveRaw's
// per-ingest dedup (candidate vs DB), this compares persisted records
// against each other: the oldest survives as the merge target, later
// duplicates are merged into it and then removed.
func (p *Pipeline) DeduplicateJurisdiccion(ctx context.Context, jurisdiccion string) (int, error) {
	records, err := p.loadJurisdiccionOldestFirst(ctx, jurisdiccion)
	if err != nil {
		return 0, err
	}

	var keepers []MatchCandidate
	merged := 0

	for _, rec := range records {
		input := struct {
			ExpedientNumber  string
			LicitacionNumber string
			ContentHash      string
			Title            string
			Organization     string
			PublicationDate  *time.Time
		}{
			ExpedientNumber:  rec.ExpedientNumber,
			LicitacionNumber: rec.LicitacionNumber,
			ContentHash:      rec.ContentHash,
			Title:            rec.Title,
			Organization:     rec.Organization,
			PublicationDate:  rec.PublicationDate,
		}

		match, found := FindMatch(input, keepers)
		if !found {
			keepers = append(keepers, MatchCandidate{
				ID: rec.ID.String(), ExpedientNumber: rec.ExpedientNumber, LicitacionNumber: rec.LicitacionNumber,
				ContentHash: rec.ContentHash, Title: rec.Title, Organization: rec.Organization,
				PublicationDate: rec.PublicationDate, FirstSeenAt: rec.FirstSeenAt, URLQuality: rec.URLQuality,
			})
			continue
		}

		winningID, err := uuid.Parse(match.Candidate.ID)
		if err != nil {
			continue
		}
		if err := p.Store.MergeLicitacion(ctx, winningID, rec); err != nil {
			log.Printf("dedup sweep: merge %s into %s failed: %v", rec.ID, winningID, err)
			continue
		}
		if err := p.Store.DeleteLicitacion(ctx, rec.ID); err != nil {
			log.Printf("dedup sweep: delete %s after merge failed: %v", rec.ID, err)
			continue
		}
		merged++
	}

	return merged, nil
}

func (p *Pipeline) loadJurisdiccionOldestFirst(ctx context.Context, jurisdiccion string) ([]licitacion.Licitacion, error) {
	var out []licitacion.Licitacion
	offset := 0
	for len(out) < maxSweepRecords {
		page, total, err := p.Store.ListLicitaciones(ctx, db.ListParams{
			Jurisdiccion: []string{jurisdiccion},
			SortBy:       "newest", // oldest-first sweep still needs a stable order; re-sorted below
			Limit:        dedupSweepPageSize,
			Offset:       offset,
		})
		if err != nil {
			return nil, fmt.Errorf("load jurisdicción %q page at offset %d: %w", jurisdiccion, offset, err)
		}
		out = append(out, page...)
		offset += dedupSweepPageSize
		if offset >= total || len(page) == 0 {
			break
		}
	}

	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].FirstSeenAt.After(out[j].FirstSeenAt) {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out, nil
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}

var htmlSanitizePolicy = bluemonday.UGCPolicy()

func sanitizeHTML(s string) string {
	return htmlSanitizePolicy.Sanitize(s)
}

func extractDomain(rawURL string) string {
	u := rawURL
	if idx := strings.Index(u, "://"); idx >= 0 {
		u = u[idx+3:]
	}
	if idx := strings.Index(u, "/"); idx >= 0 {
		u = u[:idx]
	}
	return u
}
