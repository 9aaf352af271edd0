// Package enrichment implements the independent, scheduled detail-fetch job
// that raises a licitación's enrichment_level by re-visiting its
// canonical_url and any linked pliego PDFs (spec §4.9). Grounded on the
// teacher's applyEvidenceEnrichment/EnrichOpportunities pair in
// internal/ingest/pipeline.go, generalized from grant-opportunity fields
// (summary, deadlines) to licitación fields (description, budget, currency,
// attached_files) and from an implicit confidence score to the spec's
// explicit enrichment_level.
package enrichment

import (
	"context"
	"fmt"
	"log"

	"github.com/martinsantos/licitometro-sub002/internal/ai"
	"github.com/martinsantos/licitometro-sub002/internal/db"
	"github.com/martinsantos/licitometro-sub002/internal/ingest"
	"github.com/martinsantos/licitometro-sub002/internal/licitacion"
)

// Stats summarizes one enrichment run, mirroring ingest.IngestionStats'
// result-struct-instead-of-panic style.
type Stats struct {
	ItemsScanned   int
	ItemsUpdated   int
	PDFsParsed     int
	Errors         int
	EstadosGuessed int
}

// Runner fetches detail pages for under-enriched records and applies the
// field-additive updates the resolver's evidence produces. AI is optional:
// when set, a record whose opening_date is still unknown after the detail
// fetch falls back to an LLM guess of its estado (spec §4.4 step 8's
// "unknown" default is otherwise permanent).
type Runner struct {
	Store   *db.Store
	Fetcher ingest.Fetcher
	AI      *ai.OllamaClient
	detail  ingest.DetailFetcher
}

func NewRunner(store *db.Store, fetcher ingest.Fetcher, aiClient *ai.OllamaClient) *Runner {
	if fetcher == nil {
		fetcher = ingest.NewRateLimitedFetcher(ingest.FetchConfig{TimeoutSeconds: 30, MaxRetries: 2, RateLimitRPS: 1.0})
	}
	return &Runner{Store: store, Fetcher: fetcher, AI: aiClient, detail: ingest.NewGenericDetailFetcher(fetcher)}
}

// RunBatch processes up to batchSize records at enrichment_level < 3. Only
// records with a direct url_quality are fetched — proxy/partial records
// have no stable detail page to re-visit (spec §4.9).
func (r *Runner) RunBatch(ctx context.Context, batchSize int) (Stats, error) {
	stats := Stats{}

	records, err := r.Store.ListForEnrichment(ctx, batchSize)
	if err != nil {
		return stats, fmt.Errorf("list for enrichment failed: %w", err)
	}

	for _, rec := range records {
		stats.ItemsScanned++
		if rec.URLQuality != licitacion.URLQualityDirect || rec.CanonicalURL == "" {
			continue
		}

		if err := r.enrichOne(ctx, rec, &stats); err != nil {
			log.Printf("enrichment: %s failed: %v", rec.ID, err)
			stats.Errors++
		}
	}

	return stats, nil
}

func (r *Runner) enrichOne(ctx context.Context, rec licitacion.Licitacion, stats *Stats) error {
	page, err := r.detail.FetchDetail(ctx, rec.CanonicalURL)
	if err != nil {
		return fmt.Errorf("detail fetch: %w", err)
	}

	candidates, err := r.detail.ExtractCandidates(page)
	if err != nil {
		return fmt.Errorf("extract candidates: %w", err)
	}

	description := rec.Description
	if longer := buildLongerDescription(candidates, page); len(longer) > len(description) {
		description = longer
	}

	budget := rec.Budget
	currency := rec.Currency
	for _, snippet := range candidates.BudgetSnippets {
		if parsed, cur, ok := ingest.ParseArgentineBudget(snippet); ok && parsed > budget {
			budget = parsed
			if currency == "" {
				currency = cur
			}
		}
	}

	attachedFiles := rec.AttachedFiles
	pdfsParsed := 0
	for _, attachmentURL := range page.AttachmentURLs {
		if _, ok := page.AttachmentTexts[attachmentURL]; ok {
			pdfsParsed++
		}
		attachedFiles = appendAttachmentIfNew(attachedFiles, attachmentURL)
	}
	stats.PDFsParsed += pdfsParsed

	newLevel := 2
	if pdfsParsed > 0 {
		newLevel = 3
	}

	if err := r.Store.ApplyEnrichmentUpdate(ctx, rec.ID, description, currency, budget, attachedFiles, newLevel); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}
	stats.ItemsUpdated++

	if r.AI != nil && rec.OpeningDate == nil {
		r.guessEstado(ctx, rec, description, stats)
	}

	return nil
}

// guessEstado consults the LLM fallback for a record the resolver could
// never date (no opening_date), using the freshly fetched detail text.
// Best-effort: a failure here does not fail the enrichment batch.
func (r *Runner) guessEstado(ctx context.Context, rec licitacion.Licitacion, description string, stats *Stats) {
	estado, err := ai.AnalyzeEstado(ctx, r.AI, rec.Title, description)
	if err != nil {
		log.Printf("enrichment: estado fallback for %s failed: %v", rec.ID, err)
		return
	}
	if err := r.Store.ApplyEstadoOverride(ctx, rec.ID, estado); err != nil {
		log.Printf("enrichment: estado override for %s failed: %v", rec.ID, err)
		return
	}
	stats.EstadosGuessed++
}

func buildLongerDescription(candidates *ingest.DetailCandidates, page *ingest.DetailPage) string {
	if len(candidates.BudgetSnippets) > 0 {
		return candidates.BudgetSnippets[0]
	}
	return ""
}

func appendAttachmentIfNew(existing []licitacion.AttachedFile, url string) []licitacion.AttachedFile {
	for _, f := range existing {
		if f.URL == url {
			return existing
		}
	}
	filename := url
	if idx := lastSlash(url); idx >= 0 {
		filename = url[idx+1:]
	}
	return append(existing, licitacion.AttachedFile{Filename: filename, URL: url, Mime: "application/pdf"})
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
