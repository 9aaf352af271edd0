// Package licitacion defines the canonical tender record and its satellite
// models (scraper config, scraper run, favorite).
package licitacion

import (
	"time"

	"github.com/google/uuid"
)

// Estado is the lifecycle state of a tender relative to its opening date.
// It is always computed by the resolver (see ingest.computeEstado); nothing
// else is permitted to assign it directly (spec invariant: estado is a pure
// function of the three date fields and "today").
type Estado string

const (
	EstadoVigente    Estado = "vigente"
	EstadoVencida    Estado = "vencida"
	EstadoProrrogada Estado = "prorrogada"
	EstadoArchivada  Estado = "archivada"
)

// URLQuality ranks how directly a canonical_url can be reached.
type URLQuality string

const (
	URLQualityDirect  URLQuality = "direct"
	URLQualityProxy   URLQuality = "proxy"
	URLQualityPartial URLQuality = "partial"
)

// WorkflowState is user-assigned and never touched by ingestion or enrichment.
type WorkflowState string

const (
	WorkflowDescubierta WorkflowState = "descubierta"
	WorkflowEvaluando   WorkflowState = "evaluando"
	WorkflowPreparando  WorkflowState = "preparando"
	WorkflowPresentada  WorkflowState = "presentada"
	WorkflowDescartada  WorkflowState = "descartada"
)

// AttachedFile is a deduplicated-by-URL reference to a pliego or other
// tender document.
type AttachedFile struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Mime     string `json:"mime,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Licitacion is the canonical tender record (spec §3).
type Licitacion struct {
	ID                uuid.UUID         `json:"id"`
	Title             string            `json:"title"`
	Organization      string            `json:"organization"`
	Source            string            `json:"source"` // fuente
	Jurisdiccion      string            `json:"jurisdiccion"`
	Category          string            `json:"category"` // rubro
	Description       string            `json:"description"`
	PublicationDate   *time.Time        `json:"publication_date"`
	OpeningDate       *time.Time        `json:"opening_date"`
	FechaProrroga     *time.Time        `json:"fecha_prorroga"`
	Estado            Estado            `json:"estado"`
	Budget            float64           `json:"budget"`
	Currency          string            `json:"currency"`
	ExpedientNumber   string            `json:"expedient_number"`
	LicitacionNumber  string            `json:"licitacion_number"`
	CanonicalURL      string            `json:"canonical_url"`
	SourceURLs        map[string]string `json:"source_urls"`
	URLQuality        URLQuality        `json:"url_quality"`
	ContentHash       string            `json:"content_hash"`
	AttachedFiles     []AttachedFile    `json:"attached_files"`
	WorkflowState     WorkflowState     `json:"workflow_state"`
	FirstSeenAt       time.Time         `json:"first_seen_at"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	MergedFrom        []uuid.UUID       `json:"merged_from"`
	EnrichmentLevel   int               `json:"enrichment_level"`
	TipoProcedimiento string            `json:"tipo_procedimiento"`
	Nodo              string            `json:"nodo"`
	Embedding         []float32         `json:"-"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
}

// ScraperConfig describes an adapter's configuration and schedule.
type ScraperConfig struct {
	Name              string         `json:"name"`
	URL               string         `json:"url"`
	Active            bool           `json:"active"`
	Schedule          string         `json:"schedule"`
	Selectors         map[string]any `json:"selectors,omitempty"`
	Pagination        map[string]any `json:"pagination,omitempty"`
	LastRun           *time.Time     `json:"last_run,omitempty"`
	RunsCount         int            `json:"runs_count"`
	MinIntervalHours  *int           `json:"min_interval_hours,omitempty"`
	AdaptiveSchedule  bool           `json:"adaptive_schedule"`
	CategoryHint      string         `json:"category_hint"` // heavy, medium, light
	Strategy          string         `json:"strategy"`
}

// ScraperRunStatus is the lifecycle state of a single scraper run.
type ScraperRunStatus string

const (
	RunStatusRunning ScraperRunStatus = "running"
	RunStatusSuccess ScraperRunStatus = "success"
	RunStatusPartial ScraperRunStatus = "partial"
	RunStatusFailed  ScraperRunStatus = "failed"
	RunStatusSkipped ScraperRunStatus = "skipped"
)

// ScraperRun is one execution record of a ScraperConfig.
type ScraperRun struct {
	ID              uuid.UUID        `json:"id"`
	ScraperName     string           `json:"scraper_name"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
	Status          ScraperRunStatus `json:"status"`
	ItemsFound      int              `json:"items_found"`
	ItemsSaved      int              `json:"items_saved"`
	ItemsUpdated    int              `json:"items_updated"`
	ItemsDuplicated int              `json:"items_duplicated"`
	DurationSeconds *float64         `json:"duration_seconds,omitempty"`
	Errors          []string         `json:"errors"`
	Warnings        []string         `json:"warnings"`
	Logs            []string         `json:"logs"`
}

// Favorite links an opaque caller identity to a saved Licitacion.
type Favorite struct {
	UserOpaqueID string    `json:"user_opaque_id"`
	LicitacionID uuid.UUID `json:"licitacion_id"`
	CreatedAt    time.Time `json:"created_at"`
}
