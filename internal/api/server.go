package api

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/martinsantos/licitometro-sub002/internal/ai"
	"github.com/martinsantos/licitometro-sub002/internal/auth"
	"github.com/martinsantos/licitometro-sub002/internal/db"
	"github.com/martinsantos/licitometro-sub002/internal/enrichment"
	"github.com/martinsantos/licitometro-sub002/internal/ingest"
	"github.com/martinsantos/licitometro-sub002/internal/licitacion"
	"github.com/martinsantos/licitometro-sub002/internal/scheduler"
)

// Server wires the HTTP surface (spec §6) to the store, scheduler, health
// monitor and enrichment runner. One Echo instance per process.
type Server struct {
	Store       *db.Store
	AuthService *auth.Service
	Echo        *echo.Echo
	DB          *pgxpool.Pool
	AI          *ai.OllamaClient
	Pipeline    *ingest.Pipeline
	Scheduler   *scheduler.Scheduler
	Health      *scheduler.HealthMonitor
	Enrichment  *enrichment.Runner
}

var (
	adminSecretOnce    sync.Once
	adminSecretRuntime string
	adminSecretErr     error
)

// NewServer builds the Echo app and every collaborator it depends on. The
// scheduler is constructed but not started here; cmd/server decides when to
// call Start/LoadAndSchedule so the CLI tools can build a Server without
// side effects.
func NewServer(pool *pgxpool.Pool) *Server {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	allowedOrigins := []string{"http://localhost:4200"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret", "X-User-Opaque-Id"},
	}))

	store := db.NewStore(pool)
	authService := auth.NewService()

	ollamaHost := os.Getenv("OLLAMA_HOST")
	if ollamaHost == "" {
		ollamaHost = "http://localhost:11434"
	}
	aiClient := ai.NewOllamaClient(ollamaHost, "", "")

	pipeline := ingest.NewPipeline(pool, nil, aiClient)

	quiet := quietWindowFromEnv()
	globalCap := 6
	if v, err := strconv.Atoi(os.Getenv("MAX_CONCURRENT_SCRAPERS")); err == nil && v > 0 {
		globalCap = v
	}
	sched := scheduler.New(pipeline, store, globalCap, quiet)
	health := scheduler.NewHealthMonitor(store, sched, scheduler.NoopNotificationSink{})
	enricher := enrichment.NewRunner(store, nil, aiClient)

	s := &Server{
		DB:          pool,
		Store:       store,
		AuthService: authService,
		Echo:        e,
		AI:          aiClient,
		Pipeline:    pipeline,
		Scheduler:   sched,
		Health:      health,
		Enrichment:  enricher,
	}

	s.routes()
	return s
}

func quietWindowFromEnv() scheduler.QuietWindow {
	start, _ := strconv.Atoi(os.Getenv("QUIET_WINDOW_START"))
	end, _ := strconv.Atoi(os.Getenv("QUIET_WINDOW_END"))
	return scheduler.QuietWindow{StartHour: start, EndHour: end}
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) routes() {
	s.Echo.GET("/api/health", s.handleHealth)

	api := s.Echo.Group("/api")

	auths := api.Group("/auth")
	auths.POST("/opaque-id", s.handleIssueOpaqueID)
	auths.POST("/recover", s.handleRecoverOpaqueID)

	lic := api.Group("/licitaciones")
	lic.GET("", s.handleListLicitaciones)
	lic.GET("/facets", s.handleFacets)
	lic.GET("/vigentes", s.handleVigentes)
	lic.GET("/stats/estado-distribution", s.handleEstadoDistribution)
	lic.GET("/:id/redirect", s.handleRedirect)
	lic.GET("/:id/urls", s.handleURLs)

	// Favorites accept either a bearer token minted by auth.Service or a
	// bare X-User-Opaque-Id header; auth.OptionalMiddleware only sets the context
	// value when a valid bearer token is present, never rejects, so callers
	// using the header-only path still pass through.
	favorites := lic.Group("/favorites", auth.OptionalMiddleware)
	favorites.GET("", s.handleListFavorites)
	favorites.POST("/:id", s.handleAddFavorite)
	favorites.DELETE("/:id", s.handleRemoveFavorite)

	admin := lic.Group("")
	admin.Use(s.adminMiddleware)
	admin.POST("/deduplicate", s.handleDeduplicate)

	sch := api.Group("/scheduler")
	sch.Use(s.adminMiddleware)
	sch.GET("/status", s.handleSchedulerStatus)
	sch.GET("/jobs", s.handleSchedulerJobs)
	sch.POST("/start", s.handleSchedulerStart)
	sch.POST("/stop", s.handleSchedulerStop)
	sch.POST("/trigger/:name", s.handleSchedulerTrigger)
	sch.GET("/runs", s.handleSchedulerRuns)
	sch.GET("/runs/:id/logs", s.handleSchedulerRunLogs)
	sch.GET("/stats", s.handleSchedulerStats)
	sch.GET("/health", s.handleSchedulerHealth)
	sch.POST("/health/reactivate/:name", s.handleSchedulerReactivate)
	sch.POST("/enrich", s.handleEnrichBatch)
}

// handleEnrichBatch runs one batch of the enrichment job (C9) on demand,
// outside its periodic schedule — mirrors the teacher's admin-triggered
// enrich-opportunities route, generalized to licitación fields.
func (s *Server) handleEnrichBatch(c echo.Context) error {
	batchSize := 50
	if v, err := strconv.Atoi(c.QueryParam("batch_size")); err == nil && v > 0 && v <= 500 {
		batchSize = v
	}
	stats, err := s.Enrichment.RunBatch(c.Request().Context(), batchSize)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleHealth(c echo.Context) error {
	stats, err := s.Store.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":             "healthy",
		"licitaciones_count": stats.Total,
		"active_scrapers":    stats.ActiveScrapers,
		"scheduler":          len(s.Scheduler.Jobs()) > 0,
		"scheduled_jobs":     len(s.Scheduler.Jobs()),
	})
}

// smartSearchAutoFilters inspects q for a bare 4-digit year (2024-2027) and
// echoes it back as an auto_filter while leaving q itself untouched as the
// text-search fallback (spec §4.10 "smart search").
func smartSearchAutoFilters(q string) map[string]string {
	auto := map[string]string{}
	for _, tok := range strings.Fields(q) {
		if len(tok) == 4 {
			if y, err := strconv.Atoi(tok); err == nil && y >= 2024 && y <= 2027 {
				auto["year"] = tok
			}
		}
	}
	return auto
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseListParams(c echo.Context) db.ListParams {
	q := c.QueryParam("q")
	p := db.ListParams{
		Query:             q,
		Fuente:            splitCSV(c.QueryParam("fuente")),
		Organization:      splitCSV(c.QueryParam("organization")),
		WorkflowState:     splitCSV(c.QueryParam("workflow_state")),
		Jurisdiccion:      splitCSV(c.QueryParam("jurisdiccion")),
		TipoProcedimiento: splitCSV(c.QueryParam("tipo_procedimiento")),
		Nodo:              splitCSV(c.QueryParam("nodo")),
		Estado:            splitCSV(c.QueryParam("estado")),
		Category:          splitCSV(c.QueryParam("category")),
		FuenteExclude:     splitCSV(c.QueryParam("fuente_exclude")),
		FechaCampo:        c.QueryParam("fecha_campo"),
		OnlyNational:      c.QueryParam("only_national") == "true",
	}

	if v, err := strconv.ParseFloat(c.QueryParam("budget_min"), 64); err == nil {
		p.MinBudget = v
	}
	if v, err := strconv.ParseFloat(c.QueryParam("budget_max"), 64); err == nil {
		p.MaxBudget = v
	}
	if t, ok := parseISODate(c.QueryParam("fecha_desde")); ok {
		p.FechaDesde = &t
	}
	if t, ok := parseISODate(c.QueryParam("fecha_hasta")); ok {
		p.FechaHasta = &t
	}
	if t, ok := parseISODate(c.QueryParam("nuevas_desde")); ok {
		p.NuevasDesde = &t
	}
	if y := c.QueryParam("year"); y != "" {
		if yi, err := strconv.Atoi(y); err == nil {
			from := time.Date(yi, time.January, 1, 0, 0, 0, 0, time.UTC)
			to := time.Date(yi, time.December, 31, 23, 59, 59, 0, time.UTC)
			p.FechaDesde, p.FechaHasta = &from, &to
		}
	}

	page := 1
	if v, err := strconv.Atoi(c.QueryParam("page")); err == nil && v > 0 {
		page = v
	}
	size := 15
	if v, err := strconv.Atoi(c.QueryParam("size")); err == nil && v > 0 && v <= 100 {
		size = v
	}
	p.Limit = size
	p.Offset = (page - 1) * size

	sortBy := c.QueryParam("sort_by")
	sortOrder := c.QueryParam("sort_order")
	switch sortBy {
	case "opening_date":
		p.SortBy = "opening_date"
	case "budget":
		if sortOrder == "desc" {
			p.SortBy = "budget_desc"
		} else {
			p.SortBy = "budget"
		}
	case "fecha_scraping":
		p.SortBy = "newest"
	default:
		p.SortBy = "publication_date"
	}

	return p
}

func parseISODate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (s *Server) handleListLicitaciones(c echo.Context) error {
	ctx := c.Request().Context()
	p := parseListParams(c)

	items, total, err := s.Store.ListLicitaciones(ctx, p)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	page := p.Offset/max1(p.Limit) + 1
	resp := map[string]interface{}{
		"items": items,
		"page":  page,
		"size":  p.Limit,
		"total": total,
	}
	if auto := smartSearchAutoFilters(p.Query); len(auto) > 0 {
		resp["auto_filters"] = auto
	}
	return c.JSON(http.StatusOK, resp)
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

var facetFields = []string{"jurisdiccion", "tipo_procedimiento", "nodo", "estado", "category", "source", "organization", "workflow_state"}

func (s *Server) handleFacets(c echo.Context) error {
	ctx := c.Request().Context()
	p := parseListParams(c)
	facets, err := s.Store.GetFacets(ctx, p, facetFields)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, facets)
}

func (s *Server) handleVigentes(c echo.Context) error {
	ctx := c.Request().Context()
	now := time.Now()
	p := db.ListParams{
		Estado:     []string{string(licitacion.EstadoVigente), string(licitacion.EstadoProrrogada)},
		FechaCampo: "opening_date",
		FechaDesde: &now,
		SortBy:     "opening_date",
		Limit:      100,
	}
	if v, err := strconv.Atoi(c.QueryParam("size")); err == nil && v > 0 && v <= 100 {
		p.Limit = v
	}
	if v, err := strconv.Atoi(c.QueryParam("page")); err == nil && v > 1 {
		p.Offset = (v - 1) * p.Limit
	}

	items, total, err := s.Store.ListLicitaciones(ctx, p)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items, "total": total})
}

func (s *Server) handleEstadoDistribution(c echo.Context) error {
	ctx := c.Request().Context()
	byEstado, err := s.Store.EstadoDistribution(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	vigentesHoy := byEstado[string(licitacion.EstadoVigente)] + byEstado[string(licitacion.EstadoProrrogada)]
	return c.JSON(http.StatusOK, map[string]interface{}{
		"by_estado":    byEstado,
		"vigentes_hoy": vigentesHoy,
	})
}

func (s *Server) handleRedirect(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	rec, err := s.Store.GetLicitacion(ctx, id)
	if err != nil || rec == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	}
	if rec.CanonicalURL == "" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no known url for this record"})
	}
	return c.Redirect(http.StatusFound, rec.CanonicalURL)
}

func (s *Server) handleURLs(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	rec, err := s.Store.GetLicitacion(ctx, id)
	if err != nil || rec == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"canonical_url": rec.CanonicalURL,
		"url_quality":   rec.URLQuality,
		"source_urls":   rec.SourceURLs,
	})
}

func (s *Server) handleDeduplicate(c echo.Context) error {
	ctx := c.Request().Context()
	jurisdiccion := c.QueryParam("jurisdiccion")
	if jurisdiccion == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "jurisdiccion query parameter is required"})
	}
	merged, err := s.Pipeline.DeduplicateJurisdiccion(ctx, jurisdiccion)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"jurisdiccion": jurisdiccion, "merged": merged})
}

// opaqueIDFromRequest accepts either an Authorization: Bearer token minted
// by auth.Service.IssueOpaqueID, or a bare X-User-Opaque-Id header for
// clients that mint their own id client-side (spec §6 favorites).
func opaqueIDFromRequest(c echo.Context) (string, error) {
	if raw := c.Request().Header.Get("X-User-Opaque-Id"); raw != "" {
		return raw, nil
	}
	return auth.OpaqueIDFromContext(c)
}

type opaqueIDRequest struct {
	RecoveryPassphrase string `json:"recovery_passphrase"`
}

// handleIssueOpaqueID mints a bearer token for an anonymous favorites
// identity. An optional recovery_passphrase is bcrypt-hashed and stored so
// the caller can recover the same identity from another device via
// handleRecoverOpaqueID instead of losing their favorites when the token
// expires or is discarded.
func (s *Server) handleIssueOpaqueID(c echo.Context) error {
	ctx := c.Request().Context()
	var req opaqueIDRequest
	_ = c.Bind(&req)

	identity, err := s.AuthService.IssueOpaqueID()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	if req.RecoveryPassphrase != "" {
		hash, err := s.AuthService.HashSecret(req.RecoveryPassphrase)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		opaqueUUID, err := uuid.Parse(identity.OpaqueID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "invalid minted id"})
		}
		if err := s.Store.SaveOpaqueCredential(ctx, opaqueUUID, hash); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}

	return c.JSON(http.StatusCreated, identity)
}

type recoverRequest struct {
	OpaqueID           string `json:"opaque_id"`
	RecoveryPassphrase string `json:"recovery_passphrase"`
}

// handleRecoverOpaqueID re-mints a bearer token for an existing opaque ID
// once the caller proves they hold the passphrase set at issuance time.
func (s *Server) handleRecoverOpaqueID(c echo.Context) error {
	ctx := c.Request().Context()
	var req recoverRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	opaqueUUID, err := uuid.Parse(req.OpaqueID)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid opaque_id"})
	}

	hash, err := s.Store.OpaqueCredentialHash(ctx, opaqueUUID)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "no recovery passphrase set for this id"})
	}
	if err := s.AuthService.VerifySecret(hash, req.RecoveryPassphrase); err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "incorrect passphrase"})
	}

	token, err := s.AuthService.ReissueToken(req.OpaqueID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"opaque_id": req.OpaqueID, "token": token})
}

func (s *Server) handleAddFavorite(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := opaqueIDFromRequest(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing caller identity"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	if err := s.Store.AddFavorite(ctx, userID, id); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, map[string]string{"status": "saved"})
}

func (s *Server) handleRemoveFavorite(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := opaqueIDFromRequest(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing caller identity"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	if err := s.Store.RemoveFavorite(ctx, userID, id); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListFavorites(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := opaqueIDFromRequest(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing caller identity"})
	}
	items, err := s.Store.ListFavorites(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleSchedulerStatus(c echo.Context) error {
	jobs := s.Scheduler.Jobs()
	running := 0
	for _, j := range jobs {
		if j.Running {
			running++
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"scheduled": len(jobs), "running": running})
}

func (s *Server) handleSchedulerJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Scheduler.Jobs())
}

func (s *Server) handleSchedulerStart(c echo.Context) error {
	registry, err := ingest.LoadRegistry("internal/ingest/config/sources.yaml")
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if err := s.Scheduler.LoadAndSchedule(c.Request().Context(), registry); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	s.Scheduler.Start()
	return c.JSON(http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleSchedulerStop(c echo.Context) error {
	s.Scheduler.Stop()
	return c.JSON(http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleSchedulerTrigger(c echo.Context) error {
	name := c.Param("name")
	if err := s.Scheduler.Trigger(name); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "triggered", "source": name})
}

func (s *Server) handleSchedulerRuns(c echo.Context) error {
	ctx := c.Request().Context()
	limit := 50
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		limit = v
	}
	if name := c.QueryParam("scraper"); name != "" {
		runs, err := s.Store.RecentRuns(ctx, name, limit)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, runs)
	}
	runs, err := s.Store.ListRuns(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleSchedulerRunLogs(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	run, err := s.Store.GetRun(ctx, id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":       run.ID,
		"errors":   run.Errors,
		"warnings": run.Warnings,
		"logs":     run.Logs,
	})
}

func (s *Server) handleSchedulerStats(c echo.Context) error {
	ctx := c.Request().Context()
	stats, err := s.Store.GetStats(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleSchedulerHealth(c echo.Context) error {
	ctx := c.Request().Context()
	scores, err := s.Health.RunOnce(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, scores)
}

func (s *Server) handleSchedulerReactivate(c echo.Context) error {
	name := c.Param("name")
	if err := s.Health.Reactivate(c.Request().Context(), name); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "reactivated", "source": name})
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret, err := adminSecret()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Server admin configuration error"})
		}

		authHeader := c.Request().Header.Get("Authorization")
		adminHeader := c.Request().Header.Get("X-Admin-Secret")

		if adminHeader == secret {
			return next(c)
		}
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") && authHeader[7:] == secret {
			return next(c)
		}

		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}

func adminSecret() (string, error) {
	adminSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
		if secret != "" {
			adminSecretRuntime = secret
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			adminSecretErr = fmt.Errorf("failed to generate ADMIN_SECRET fallback: %w", err)
			return
		}

		adminSecretRuntime = base64.RawURLEncoding.EncodeToString(buf)
		log.Print("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if adminSecretErr != nil {
		return "", adminSecretErr
	}
	if adminSecretRuntime == "" {
		return "", fmt.Errorf("admin secret unavailable")
	}

	return adminSecretRuntime, nil
}
