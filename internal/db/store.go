package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/martinsantos/licitometro-sub002/internal/licitacion"
)

type Store struct {
	pool  *pgxpool.Pool
	cache *TTLCache
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, cache: NewTTLCache()}
}

// ListParams is the full filter set the query API exposes (spec §4.10/§6).
type ListParams struct {
	Query             string
	Fuente            []string
	Organization      []string
	WorkflowState     []string
	Jurisdiccion      []string
	TipoProcedimiento []string
	Nodo              []string
	Estado            []string
	Category          []string
	FechaCampo        string // "publication_date" or "opening_date", default publication_date
	FechaDesde        *time.Time
	FechaHasta        *time.Time
	NuevasDesde       *time.Time
	OnlyNational      bool
	FuenteExclude     []string
	MinBudget         float64
	MaxBudget         float64
	Limit             int
	Offset            int
	SortBy            string
}

const selectCols = `id, title, organization, source, jurisdiccion, category, description,
	publication_date, opening_date, fecha_prorroga, estado, budget, currency,
	expedient_number, licitacion_number, canonical_url, source_urls, url_quality,
	content_hash, attached_files, workflow_state, first_seen_at, created_at, updated_at,
	merged_from, enrichment_level, tipo_procedimiento, nodo, metadata`

func scanLicitacion(scan func(dest ...interface{}) error) (licitacion.Licitacion, error) {
	var l licitacion.Licitacion
	var sourceURLsRaw, attachedFilesRaw, metadataRaw []byte
	var mergedFrom []uuid.UUID

	err := scan(
		&l.ID, &l.Title, &l.Organization, &l.Source, &l.Jurisdiccion, &l.Category, &l.Description,
		&l.PublicationDate, &l.OpeningDate, &l.FechaProrroga, &l.Estado, &l.Budget, &l.Currency,
		&l.ExpedientNumber, &l.LicitacionNumber, &l.CanonicalURL, &sourceURLsRaw, &l.URLQuality,
		&l.ContentHash, &attachedFilesRaw, &l.WorkflowState, &l.FirstSeenAt, &l.CreatedAt, &l.UpdatedAt,
		&mergedFrom, &l.EnrichmentLevel, &l.TipoProcedimiento, &l.Nodo, &metadataRaw,
	)
	if err != nil {
		return l, err
	}

	if len(sourceURLsRaw) > 0 {
		_ = json.Unmarshal(sourceURLsRaw, &l.SourceURLs)
	}
	if len(attachedFilesRaw) > 0 {
		_ = json.Unmarshal(attachedFilesRaw, &l.AttachedFiles)
	}
	if len(metadataRaw) > 0 {
		_ = json.Unmarshal(metadataRaw, &l.Metadata)
	}
	l.MergedFrom = mergedFrom

	return l, nil
}

// buildWhere assembles the WHERE clause and positional args for ListParams,
// optionally excluding one facet field. GetFacets uses the exclusion to
// compute cross-faceted counts: each facet shows counts as though its own
// filter weren't applied, so the sidebar never hides a now-zero option.
func buildWhere(p ListParams, excludeField string) (string, []interface{}) {
	clauses := []string{"1=1"}
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if p.Query != "" {
		clauses = append(clauses, fmt.Sprintf(`(to_tsvector('spanish', title || ' ' || organization || ' ' || category || ' ' || description) @@ plainto_tsquery('spanish', %s))`, arg(p.Query)))
	}
	if excludeField != "source" && len(p.Fuente) > 0 {
		clauses = append(clauses, fmt.Sprintf("source = ANY(%s)", arg(p.Fuente)))
	}
	if excludeField != "organization" && len(p.Organization) > 0 {
		clauses = append(clauses, fmt.Sprintf("organization = ANY(%s)", arg(p.Organization)))
	}
	if excludeField != "workflow_state" && len(p.WorkflowState) > 0 {
		clauses = append(clauses, fmt.Sprintf("workflow_state = ANY(%s)", arg(p.WorkflowState)))
	}
	if excludeField != "jurisdiccion" && len(p.Jurisdiccion) > 0 {
		clauses = append(clauses, fmt.Sprintf("jurisdiccion = ANY(%s)", arg(p.Jurisdiccion)))
	}
	if excludeField != "tipo_procedimiento" && len(p.TipoProcedimiento) > 0 {
		clauses = append(clauses, fmt.Sprintf("tipo_procedimiento = ANY(%s)", arg(p.TipoProcedimiento)))
	}
	if excludeField != "nodo" && len(p.Nodo) > 0 {
		clauses = append(clauses, fmt.Sprintf("nodo = ANY(%s)", arg(p.Nodo)))
	}
	if excludeField != "estado" && len(p.Estado) > 0 {
		clauses = append(clauses, fmt.Sprintf("estado = ANY(%s)", arg(p.Estado)))
	}
	if excludeField != "category" && len(p.Category) > 0 {
		clauses = append(clauses, fmt.Sprintf("category = ANY(%s)", arg(p.Category)))
	}
	if len(p.FuenteExclude) > 0 {
		clauses = append(clauses, fmt.Sprintf("source <> ALL(%s)", arg(p.FuenteExclude)))
	}
	if p.OnlyNational {
		clauses = append(clauses, "jurisdiccion = 'nacional'")
	}

	fechaCampo := p.FechaCampo
	if fechaCampo != "opening_date" {
		fechaCampo = "publication_date"
	}
	if p.FechaDesde != nil {
		clauses = append(clauses, fmt.Sprintf("%s >= %s", fechaCampo, arg(*p.FechaDesde)))
	}
	if p.FechaHasta != nil {
		clauses = append(clauses, fmt.Sprintf("%s <= %s", fechaCampo, arg(*p.FechaHasta)))
	}
	if p.NuevasDesde != nil {
		clauses = append(clauses, fmt.Sprintf("first_seen_at >= %s", arg(*p.NuevasDesde)))
	}
	if p.MinBudget > 0 {
		clauses = append(clauses, fmt.Sprintf("budget >= %s", arg(p.MinBudget)))
	}
	if p.MaxBudget > 0 {
		clauses = append(clauses, fmt.Sprintf("budget <= %s", arg(p.MaxBudget)))
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

// ListLicitaciones returns a page of licitaciones matching the filter set.
func (s *Store) ListLicitaciones(ctx context.Context, p ListParams) ([]licitacion.Licitacion, int, error) {
	where, args := buildWhere(p, "")

	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	sortBy := "publication_date DESC NULLS LAST"
	switch p.SortBy {
	case "opening_date":
		sortBy = "opening_date ASC NULLS LAST"
	case "budget_desc":
		sortBy = "budget DESC"
	case "newest":
		sortBy = "first_seen_at DESC"
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM licitaciones %s", where)
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count query failed: %w", err)
	}

	limitArg := len(args) + 1
	offsetArg := len(args) + 2
	query := fmt.Sprintf("SELECT %s FROM licitaciones %s ORDER BY %s LIMIT $%d OFFSET $%d", selectCols, where, sortBy, limitArg, offsetArg)
	args = append(args, limit, p.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list query failed: %w", err)
	}
	defer rows.Close()

	var out []licitacion.Licitacion
	for rows.Next() {
		l, err := scanLicitacion(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

// GetLicitacion fetches a single licitación by id.
func (s *Store) GetLicitacion(ctx context.Context, id uuid.UUID) (*licitacion.Licitacion, error) {
	query := fmt.Sprintf("SELECT %s FROM licitaciones WHERE id = $1", selectCols)
	row := s.pool.QueryRow(ctx, query, id)
	l, err := scanLicitacion(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("not found: %w", err)
	}
	return &l, nil
}

// FacetCount is one value/count pair for a single facet.
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// GetFacets computes the sidebar facet counts for the requested fields,
// cross-faceting each against every OTHER active filter (spec §4.10).
func (s *Store) GetFacets(ctx context.Context, p ListParams, fields []string) (map[string][]FacetCount, error) {
	result := make(map[string][]FacetCount, len(fields))
	for _, field := range fields {
		if !isValidFacetField(field) {
			continue
		}

		cacheKey := facetCacheKey(p, field)
		cached, err := s.cache.GetOrCompute(cacheKey, FacetCacheTTL, func() (interface{}, error) {
			where, args := buildWhere(p, field)
			query := fmt.Sprintf("SELECT %s, COUNT(*) FROM licitaciones %s GROUP BY %s ORDER BY COUNT(*) DESC", field, where, field)
			rows, err := s.pool.Query(ctx, query, args...)
			if err != nil {
				return nil, fmt.Errorf("facet query for %s failed: %w", field, err)
			}
			defer rows.Close()

			var counts []FacetCount
			for rows.Next() {
				var fc FacetCount
				if err := rows.Scan(&fc.Value, &fc.Count); err != nil {
					return nil, err
				}
				counts = append(counts, fc)
			}
			return counts, rows.Err()
		})
		if err != nil {
			return nil, err
		}
		result[field] = cached.([]FacetCount)
	}
	return result, nil
}

// facetCacheKey serializes the facet-relevant portion of ListParams plus the
// target field into a stable cache key.
func facetCacheKey(p ListParams, field string) string {
	b, _ := json.Marshal(p)
	return field + "|" + string(b)
}

func isValidFacetField(field string) bool {
	switch field {
	case "jurisdiccion", "tipo_procedimiento", "nodo", "estado", "category", "source", "organization", "workflow_state":
		return true
	}
	return false
}

// distinctableFields whitelists the columns the admin UI's distinct(field,
// filter) endpoint may query, a superset of the facet fields (spec §4.10).
var distinctableFields = map[string]bool{
	"jurisdiccion": true, "tipo_procedimiento": true, "nodo": true,
	"estado": true, "category": true, "source": true, "organization": true,
	"workflow_state": true,
}

// DistinctValues returns the ordered list of distinct values a column takes
// under the given filter, TTL-cached for 30 minutes (spec §4.10).
func (s *Store) DistinctValues(ctx context.Context, field string, p ListParams) ([]string, error) {
	if !distinctableFields[field] {
		return nil, fmt.Errorf("field %q is not distinct-queryable", field)
	}

	cacheKey := "distinct|" + facetCacheKey(p, field)
	cached, err := s.cache.GetOrCompute(cacheKey, DistinctCacheTTL, func() (interface{}, error) {
		where, args := buildWhere(p, "")
		query := fmt.Sprintf("SELECT DISTINCT %s FROM licitaciones %s AND %s <> '' ORDER BY %s", field, where, field, field)
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("distinct query for %s failed: %w", field, err)
		}
		defer rows.Close()

		var values []string
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return values, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return cached.([]string), nil
}

// Rubros returns every distinct category (rubro) in the corpus, TTL-cached
// for 60 minutes — the longest-lived of the three query-engine caches since
// the set of rubros in use changes slowly (spec §4.10).
func (s *Store) Rubros(ctx context.Context) ([]string, error) {
	cached, err := s.cache.GetOrCompute("rubros", RubroCacheTTL, func() (interface{}, error) {
		rows, err := s.pool.Query(ctx, "SELECT DISTINCT category FROM licitaciones WHERE category <> '' ORDER BY category")
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var values []string
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return values, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return cached.([]string), nil
}

// EstadoDistribution returns the count of licitaciones per estado, for the
// /api/licitaciones/stats/estado-distribution endpoint.
func (s *Store) EstadoDistribution(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, "SELECT estado, COUNT(*) FROM licitaciones GROUP BY estado")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var estado string
		var count int
		if err := rows.Scan(&estado, &count); err != nil {
			return nil, err
		}
		out[estado] = count
	}
	return out, rows.Err()
}

// DedupCandidate mirrors ingest.MatchCandidate field-for-field. It is kept
// as a distinct type here because internal/ingest already imports
// internal/db; callers convert the returned slice with a plain loop.
type DedupCandidate struct {
	ID               string
	ExpedientNumber  string
	LicitacionNumber string
	ContentHash      string
	Title            string
	Organization     string
	PublicationDate  *time.Time
	FirstSeenAt      time.Time
	URLQuality       licitacion.URLQuality
}

// FindDedupCandidates loads the narrow set of existing records a new raw
// record from the same jurisdiction could plausibly match against: exact
// key hits plus anything published in the last two weeks, so the fuzzy
// stage has a meaningful recent window to compare against.
func (s *Store) FindDedupCandidates(ctx context.Context, jurisdiccion, expedientNumber, licitacionNumber, contentHash string) ([]DedupCandidate, error) {
	query := `SELECT id, expedient_number, licitacion_number, content_hash, title, organization, publication_date, first_seen_at, url_quality
		FROM licitaciones
		WHERE jurisdiccion = $1
		  AND ((expedient_number = $2 AND $2 <> '') OR (licitacion_number = $3 AND $3 <> '') OR content_hash = $4 OR publication_date >= NOW() - INTERVAL '14 days')
		LIMIT 500`

	rows, err := s.pool.Query(ctx, query, jurisdiccion, expedientNumber, licitacionNumber, contentHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DedupCandidate
	for rows.Next() {
		var id uuid.UUID
		var c DedupCandidate
		if err := rows.Scan(&id, &c.ExpedientNumber, &c.LicitacionNumber, &c.ContentHash, &c.Title, &c.Organization, &c.PublicationDate, &c.FirstSeenAt, &c.URLQuality); err != nil {
			return nil, err
		}
		c.ID = id.String()
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertLicitacion inserts a brand-new record (no dedup match found).
func (s *Store) InsertLicitacion(ctx context.Context, l licitacion.Licitacion) error {
	sourceURLs, _ := json.Marshal(l.SourceURLs)
	attachedFiles, _ := json.Marshal(l.AttachedFiles)
	metadata, _ := json.Marshal(l.Metadata)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO licitaciones (
			id, title, organization, source, jurisdiccion, category, description,
			publication_date, opening_date, fecha_prorroga, estado, budget, currency,
			expedient_number, licitacion_number, canonical_url, source_urls, url_quality,
			content_hash, attached_files, workflow_state, first_seen_at, enrichment_level,
			tipo_procedimiento, nodo, metadata
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26
		)
		ON CONFLICT (source, content_hash) WHERE content_hash <> '' DO NOTHING
	`,
		l.ID, l.Title, l.Organization, l.Source, l.Jurisdiccion, l.Category, l.Description,
		l.PublicationDate, l.OpeningDate, l.FechaProrroga, l.Estado, l.Budget, l.Currency,
		l.ExpedientNumber, l.LicitacionNumber, l.CanonicalURL, sourceURLs, l.URLQuality,
		l.ContentHash, attachedFiles, l.WorkflowState, l.FirstSeenAt, l.EnrichmentLevel,
		l.TipoProcedimiento, l.Nodo, metadata,
	)
	if err == nil {
		s.cache.InvalidateAll()
	}
	return err
}

// MergeLicitacion applies the spec §4.5 field-additive merge onto an
// existing winning record: never overwrite a non-null scalar with null,
// union arrays/maps, and append to merged_from.
func (s *Store) MergeLicitacion(ctx context.Context, winningID uuid.UUID, incoming licitacion.Licitacion) error {
	sourceURLs, _ := json.Marshal(incoming.SourceURLs)
	attachedFiles, _ := json.Marshal(incoming.AttachedFiles)

	_, err := s.pool.Exec(ctx, `
		UPDATE licitaciones SET
			title = CASE WHEN length($2) > length(title) THEN $2 ELSE title END,
			organization = COALESCE(NULLIF(organization, ''), $3),
			description = CASE WHEN length($4) > length(description) THEN $4 ELSE description END,
			budget = GREATEST(budget, $5),
			currency = COALESCE(NULLIF(currency, ''), $6),
			expedient_number = COALESCE(NULLIF(expedient_number, ''), $7),
			licitacion_number = COALESCE(NULLIF(licitacion_number, ''), $8),
			url_quality = CASE WHEN $9 = 'direct' THEN 'direct'
			                   WHEN $9 = 'proxy' AND url_quality <> 'direct' THEN 'proxy'
			                   ELSE url_quality END,
			source_urls = source_urls || $10::jsonb,
			attached_files = (
				SELECT jsonb_agg(DISTINCT elem) FROM jsonb_array_elements(attached_files || $11::jsonb) elem
			),
			merged_from = array_append(merged_from, $12),
			enrichment_level = GREATEST(enrichment_level, $13),
			updated_at = NOW()
		WHERE id = $1
	`,
		winningID, incoming.Title, incoming.Organization, incoming.Description, incoming.Budget, incoming.Currency,
		incoming.ExpedientNumber, incoming.LicitacionNumber, string(incoming.URLQuality), sourceURLs, attachedFiles,
		incoming.ID, incoming.EnrichmentLevel,
	)
	if err == nil {
		s.cache.InvalidateAll()
	}
	return err
}

// RecomputeEstados re-runs estadoFn over every row in keyset-paginated
// batches and writes back only when the value actually changed.
func (s *Store) RecomputeEstados(ctx context.Context, batchSize int, estadoFn func(pub, open, prorroga *time.Time) (licitacion.Estado, string)) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	updated := 0
	lastID := ""

	for {
		rows, err := s.pool.Query(ctx, `
			SELECT id::text, publication_date, opening_date, fecha_prorroga, estado
			FROM licitaciones
			WHERE id::text > $1
			ORDER BY id::text
			LIMIT $2`, lastID, batchSize)
		if err != nil {
			return updated, err
		}

		type row struct {
			id                  string
			pub, open, prorroga *time.Time
			estado              string
		}
		var batch []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.id, &r.pub, &r.open, &r.prorroga, &r.estado); err != nil {
				rows.Close()
				return updated, err
			}
			batch = append(batch, r)
		}
		rows.Close()

		if len(batch) == 0 {
			break
		}

		for _, r := range batch {
			newEstado, _ := estadoFn(r.pub, r.open, r.prorroga)
			if string(newEstado) != r.estado {
				if _, err := s.pool.Exec(ctx, "UPDATE licitaciones SET estado = $1, updated_at = NOW() WHERE id::text = $2", string(newEstado), r.id); err != nil {
					return updated, err
				}
				updated++
			}
			lastID = r.id
		}

		if len(batch) < batchSize {
			break
		}
	}

	return updated, nil
}

// ListForEnrichment returns a bounded batch of records still below full
// enrichment (enrichment_level < 3), oldest-updated first, for the C9
// enrichment job to process (spec §4.9).
func (s *Store) ListForEnrichment(ctx context.Context, batchSize int) ([]licitacion.Licitacion, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	query := fmt.Sprintf(`
		SELECT %s FROM licitaciones
		WHERE enrichment_level < 3
		ORDER BY updated_at ASC
		LIMIT $1`, selectCols)

	rows, err := s.pool.Query(ctx, query, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []licitacion.Licitacion
	for rows.Next() {
		l, err := scanLicitacion(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ApplyEnrichmentUpdate writes the field-additive result of one enrichment
// pass: never overwrite a non-null scalar with null, never touch estado or
// workflow_state (spec §4.9's invariants).
func (s *Store) ApplyEnrichmentUpdate(ctx context.Context, id uuid.UUID, description, currency string, budget float64, attachedFiles []licitacion.AttachedFile, newLevel int) error {
	attached, _ := json.Marshal(attachedFiles)
	_, err := s.pool.Exec(ctx, `
		UPDATE licitaciones SET
			description = CASE WHEN length($2) > length(description) THEN $2 ELSE description END,
			currency = COALESCE(NULLIF(currency, ''), $3),
			budget = GREATEST(budget, $4),
			attached_files = (
				SELECT jsonb_agg(DISTINCT elem) FROM jsonb_array_elements(attached_files || $5::jsonb) elem
			),
			enrichment_level = GREATEST(enrichment_level, $6),
			updated_at = NOW()
		WHERE id = $1
	`, id, description, currency, budget, attached, newLevel)
	if err == nil {
		s.cache.InvalidateAll()
	}
	return err
}

// ApplyEstadoOverride replaces a record's estado with an LLM-derived guess,
// used only when the record had no opening_date for the resolver to reason
// from (ingest.computeEstado's "unknown" default). Distinct from
// ApplyEnrichmentUpdate, which is documented to never touch estado.
func (s *Store) ApplyEstadoOverride(ctx context.Context, id uuid.UUID, estado string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE licitaciones SET estado = $2, updated_at = NOW()
		WHERE id = $1 AND opening_date IS NULL
	`, id, estado)
	if err == nil {
		s.cache.InvalidateAll()
	}
	return err
}

// CreateRun inserts a new scraper_runs row marked running.
func (s *Store) CreateRun(ctx context.Context, run licitacion.ScraperRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scraper_runs (id, scraper_name, started_at, status)
		VALUES ($1, $2, $3, $4)
	`, run.ID, run.ScraperName, run.StartedAt, run.Status)
	return err
}

// FinishRun finalizes a scraper_runs row with its outcome.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, status licitacion.ScraperRunStatus, found, saved int, durationSeconds float64, errs []string) error {
	errsJSON, _ := json.Marshal(errs)
	_, err := s.pool.Exec(ctx, `
		UPDATE scraper_runs SET
			ended_at = NOW(), status = $2, items_found = $3, items_saved = $4,
			duration_seconds = $5, errors = $6::jsonb
		WHERE id = $1
	`, id, status, found, saved, durationSeconds, errsJSON)
	return err
}

// RecentRuns returns the last n runs for a scraper, newest first.
func (s *Store) RecentRuns(ctx context.Context, scraperName string, n int) ([]licitacion.ScraperRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, scraper_name, started_at, ended_at, status, items_found, items_saved,
		       items_updated, items_duplicated, duration_seconds
		FROM scraper_runs WHERE scraper_name = $1 ORDER BY started_at DESC LIMIT $2
	`, scraperName, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []licitacion.ScraperRun
	for rows.Next() {
		var r licitacion.ScraperRun
		if err := rows.Scan(&r.ID, &r.ScraperName, &r.StartedAt, &r.EndedAt, &r.Status, &r.ItemsFound, &r.ItemsSaved,
			&r.ItemsUpdated, &r.ItemsDuplicated, &r.DurationSeconds); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRuns returns the most recent runs across every fuente, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]licitacion.ScraperRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, scraper_name, started_at, ended_at, status, items_found, items_saved,
		       items_updated, items_duplicated, duration_seconds
		FROM scraper_runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []licitacion.ScraperRun
	for rows.Next() {
		var r licitacion.ScraperRun
		if err := rows.Scan(&r.ID, &r.ScraperName, &r.StartedAt, &r.EndedAt, &r.Status, &r.ItemsFound, &r.ItemsSaved,
			&r.ItemsUpdated, &r.ItemsDuplicated, &r.DurationSeconds); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun fetches one run including its errors/warnings/logs, for the
// run-detail/logs endpoint.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*licitacion.ScraperRun, error) {
	var r licitacion.ScraperRun
	var errsRaw, warnsRaw, logsRaw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, scraper_name, started_at, ended_at, status, items_found, items_saved,
		       items_updated, items_duplicated, duration_seconds, errors, warnings, logs
		FROM scraper_runs WHERE id = $1
	`, id).Scan(&r.ID, &r.ScraperName, &r.StartedAt, &r.EndedAt, &r.Status, &r.ItemsFound, &r.ItemsSaved,
		&r.ItemsUpdated, &r.ItemsDuplicated, &r.DurationSeconds, &errsRaw, &warnsRaw, &logsRaw)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(errsRaw, &r.Errors)
	_ = json.Unmarshal(warnsRaw, &r.Warnings)
	_ = json.Unmarshal(logsRaw, &r.Logs)
	return &r, nil
}

// DeleteLicitacion removes a record outright. Only the deduplicate sweep
// (C5, re-run over already-persisted records) calls this: normal ingestion
// never deletes, it merges (spec §4.5).
func (s *Store) DeleteLicitacion(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM licitaciones WHERE id = $1`, id)
	if err == nil {
		s.cache.InvalidateAll()
	}
	return err
}

// AddFavorite links a caller identity to a licitación.
func (s *Store) AddFavorite(ctx context.Context, userOpaqueID string, licitacionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO favorites (user_opaque_id, licitacion_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, userOpaqueID, licitacionID)
	return err
}

// RemoveFavorite unlinks a caller identity from a licitación.
func (s *Store) RemoveFavorite(ctx context.Context, userOpaqueID string, licitacionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM favorites WHERE user_opaque_id = $1 AND licitacion_id = $2`, userOpaqueID, licitacionID)
	return err
}

// ListFavorites returns every licitación a caller identity has favorited.
func (s *Store) ListFavorites(ctx context.Context, userOpaqueID string) ([]licitacion.Licitacion, error) {
	query := fmt.Sprintf(`SELECT %s FROM licitaciones l
		JOIN favorites f ON f.licitacion_id = l.id
		WHERE f.user_opaque_id = $1 ORDER BY f.created_at DESC`, prefixCols("l", selectCols))
	rows, err := s.pool.Query(ctx, query, userOpaqueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []licitacion.Licitacion
	for rows.Next() {
		l, err := scanLicitacion(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SaveOpaqueCredential persists the bcrypt hash of a recovery passphrase
// for an opaque ID minted by auth.Service.IssueOpaqueID, enabling the
// recovery flow (POST /api/auth/recover) to re-mint a token for a caller
// who lost their bearer token but kept the passphrase.
func (s *Store) SaveOpaqueCredential(ctx context.Context, opaqueID uuid.UUID, secretHash string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO opaque_credentials (opaque_id, secret_hash) VALUES ($1, $2)
		ON CONFLICT (opaque_id) DO UPDATE SET secret_hash = EXCLUDED.secret_hash
	`, opaqueID, secretHash)
	return err
}

// OpaqueCredentialHash returns the stored bcrypt hash for an opaque ID, or
// an error if none was ever set.
func (s *Store) OpaqueCredentialHash(ctx context.Context, opaqueID uuid.UUID) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `SELECT secret_hash FROM opaque_credentials WHERE opaque_id = $1`, opaqueID).Scan(&hash)
	return hash, err
}

func prefixCols(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// ScraperConfigs returns every configured fuente, for the scheduler to plan
// runs against (C7).
func (s *Store) ScraperConfigs(ctx context.Context) ([]licitacion.ScraperConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, url, active, schedule, selectors, pagination, last_run, runs_count,
		       min_interval_hours, adaptive_schedule, category_hint, strategy
		FROM scraper_configs
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []licitacion.ScraperConfig
	for rows.Next() {
		var c licitacion.ScraperConfig
		var selectorsRaw, paginationRaw []byte
		if err := rows.Scan(&c.Name, &c.URL, &c.Active, &c.Schedule, &selectorsRaw, &paginationRaw, &c.LastRun,
			&c.RunsCount, &c.MinIntervalHours, &c.AdaptiveSchedule, &c.CategoryHint, &c.Strategy); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(selectorsRaw, &c.Selectors)
		_ = json.Unmarshal(paginationRaw, &c.Pagination)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertScraperConfig inserts or updates a fuente's configuration row.
func (s *Store) UpsertScraperConfig(ctx context.Context, c licitacion.ScraperConfig) error {
	selectors, _ := json.Marshal(c.Selectors)
	pagination, _ := json.Marshal(c.Pagination)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scraper_configs (name, url, active, schedule, selectors, pagination, min_interval_hours, adaptive_schedule, category_hint, strategy)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (name) DO UPDATE SET
			url = EXCLUDED.url, active = EXCLUDED.active, schedule = EXCLUDED.schedule,
			selectors = EXCLUDED.selectors, pagination = EXCLUDED.pagination,
			min_interval_hours = EXCLUDED.min_interval_hours, adaptive_schedule = EXCLUDED.adaptive_schedule,
			category_hint = EXCLUDED.category_hint, strategy = EXCLUDED.strategy
	`, c.Name, c.URL, c.Active, c.Schedule, selectors, pagination, c.MinIntervalHours, c.AdaptiveSchedule, c.CategoryHint, c.Strategy)
	return err
}

// MarkScraperRan bumps a fuente's last_run/runs_count bookkeeping.
func (s *Store) MarkScraperRan(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `UPDATE scraper_configs SET last_run = NOW(), runs_count = runs_count + 1 WHERE name = $1`, name)
	return err
}

// Stats holds the coarse counts the dashboard/CLI status command shows.
type Stats struct {
	Total          int
	ByEstado       map[string]int
	ActiveScrapers int
	TotalScrapers  int
	LastRunAt      *time.Time
}

func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM licitaciones").Scan(&stats.Total); err != nil {
		return stats, err
	}
	byEstado, err := s.EstadoDistribution(ctx)
	if err != nil {
		return stats, err
	}
	stats.ByEstado = byEstado

	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FILTER (WHERE active), COUNT(*) FROM scraper_configs").Scan(&stats.ActiveScrapers, &stats.TotalScrapers); err != nil {
		return stats, err
	}
	_ = s.pool.QueryRow(ctx, "SELECT MAX(started_at) FROM scraper_runs").Scan(&stats.LastRunAt)

	return stats, nil
}
