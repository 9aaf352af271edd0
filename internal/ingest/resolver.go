package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/martinsantos/licitometro-sub002/internal/licitacion"
)

// ResolvedDate carries a resolved date alongside the step that produced it,
// mirroring the teacher's explainable-decision style (status_engine.go).
type ResolvedDate struct {
	Value      time.Time
	Step       string
	Precision  string // "day" or "year"
}

// ResolveOutcome is what ResolveRecord returns: the resolved fields plus
// enough bookkeeping to explain how each was derived and whether any
// invariant repair fired.
type ResolveOutcome struct {
	PublicationDate *ResolvedDate
	OpeningDate     *ResolvedDate
	Estado          licitacion.Estado
	EstadoReason    string
	CanonicalURL    string
	URLQuality      licitacion.URLQuality
	SourceURLs      map[string]string
	ContentHash     string
	Repairs         []string // e.g. "date_order_violation"
	NonIngestable   bool
	NonIngestableReason string
}

// RequireProrrogaDocument controls whether "prorrogada" additionally
// requires explicit prorroga evidence beyond an opening-date shift. Default
// false: an observed future fecha_prorroga is sufficient on its own, since
// sources are inconsistent about surfacing a dedicated document.
var RequireProrrogaDocument = false

// resolvePublicationDate implements the 8-step priority chain (spec §4.4).
// The first step to yield a year in [minYear,maxYear] wins.
func resolvePublicationDate(raw RawRecord, openingHint *ResolvedDate) *ResolvedDate {
	// 1. Value already parsed by the adapter, if valid.
	if t, ok := parseDate(raw.RawPublication); ok {
		return &ResolvedDate{Value: t, Step: "adapter_parsed", Precision: "day"}
	}

	// 2. Full date extracted from title.
	if t, ok := parseDate(raw.Title); ok {
		return &ResolvedDate{Value: t, Step: "title_date", Precision: "day"}
	}

	// 3. Full date extracted from first 500 chars of description.
	desc := raw.Description
	if len(desc) > 500 {
		desc = desc[:500]
	}
	if t, ok := parseDate(desc); ok {
		return &ResolvedDate{Value: t, Step: "description_date", Precision: "day"}
	}

	// 4. Year extracted from title, combined with month/day=1.
	if y, ok := extractYear(raw.Title, nil); ok {
		return &ResolvedDate{Value: buildDate(y, time.January, 1), Step: "title_year", Precision: "year"}
	}

	// 5. Year extracted from description.
	if y, ok := extractYear(raw.Description, nil); ok {
		return &ResolvedDate{Value: buildDate(y, time.January, 1), Step: "description_year", Precision: "year"}
	}

	// 6. opening_date - 30 days.
	if openingHint != nil {
		estimated := openingHint.Value.AddDate(0, 0, -30)
		if yearInRange(estimated.Year()) {
			return &ResolvedDate{Value: estimated, Step: "opening_minus_30d", Precision: openingHint.Precision}
		}
	}

	// 7. Scan of attached-file filenames.
	for _, a := range raw.AttachedFiles {
		if t, ok := parseDate(a.Filename); ok {
			return &ResolvedDate{Value: t, Step: "attachment_filename", Precision: "day"}
		}
	}

	// 8. null. Never "now".
	return nil
}

// resolveOpeningDate implements the analogous 5-step chain for opening_date.
func resolveOpeningDate(raw RawRecord, publicationHint *ResolvedDate) *ResolvedDate {
	// 1. Value already parsed by the adapter, if valid.
	if t, ok := parseDate(raw.RawOpening); ok {
		return &ResolvedDate{Value: t, Step: "adapter_parsed", Precision: "day"}
	}

	// 2. Description "Apertura: ..." extraction.
	if t, ok := extractDate(raw.Description, defaultOpeningLabels); ok {
		return &ResolvedDate{Value: t, Step: "description_apertura", Precision: "day"}
	}

	// 3. Year-based estimate: publication_date + 45 days.
	if publicationHint != nil {
		estimated := publicationHint.Value.AddDate(0, 0, 45)
		if yearInRange(estimated.Year()) {
			return &ResolvedDate{Value: estimated, Step: "publication_plus_45d", Precision: publicationHint.Precision}
		}
	}

	// 4. Filename scan.
	for _, a := range raw.AttachedFiles {
		if t, ok := parseDate(a.Filename); ok {
			return &ResolvedDate{Value: t, Step: "attachment_filename", Precision: "day"}
		}
	}

	// 5. null.
	return nil
}

// computeEstado is the pure estado function: publication/opening/fecha_prorroga
// and "now" determine the lifecycle state, nothing else (spec §4.4). This
// deliberately does not borrow the teacher's multi-branch status engine logic
// (status_engine.go's ComputeStatusDecision) — only its shape, a pure function
// returning an explainable (state, reason) pair — since this domain's rule set
// is the simpler one spec.md states literally.
func computeEstado(publicationDate, openingDate, fechaProrroga *time.Time, now time.Time) (licitacion.Estado, string) {
	archivadaCutoff := time.Date(2025, time.January, 1, 0, 0, 0, 0, argentinaLocation)

	if publicationDate != nil && publicationDate.Before(archivadaCutoff) {
		return licitacion.EstadoArchivada, "publication_date before 2025-01-01"
	}

	if openingDate != nil && openingDate.Before(now) {
		if fechaProrroga != nil && fechaProrroga.After(now) {
			if !RequireProrrogaDocument {
				return licitacion.EstadoProrrogada, "opening_date passed, fecha_prorroga in the future"
			}
			return licitacion.EstadoVencida, "opening_date passed, fecha_prorroga not confirmed by a prorroga document"
		}
		return licitacion.EstadoVencida, "opening_date passed, no active prorroga"
	}

	return licitacion.EstadoVigente, "opening_date in the future or unknown"
}

// classifyURLQuality ranks an adapter-supplied URL. direct points at a
// unique stable per-process page; proxy requires a POST/form submission the
// system performs on the caller's behalf; partial is only a listing page.
func classifyURLQuality(kind string) licitacion.URLQuality {
	switch strings.ToLower(kind) {
	case "direct":
		return licitacion.URLQualityDirect
	case "proxy":
		return licitacion.URLQualityProxy
	default:
		return licitacion.URLQualityPartial
	}
}

func urlQualityRank(q licitacion.URLQuality) int {
	switch q {
	case licitacion.URLQualityDirect:
		return 2
	case licitacion.URLQualityProxy:
		return 1
	default:
		return 0
	}
}

// contentHash implements I1: hash(lowercased title | source | publication_date
// ?YYYYMMDD:"unknown"). Deterministic and side-effect free.
func contentHash(title, source string, publicationDate *time.Time) string {
	dayPart := "unknown"
	if publicationDate != nil {
		dayPart = publicationDate.Format("20060102")
	}
	input := strings.ToLower(strings.TrimSpace(title)) + "|" + strings.ToLower(strings.TrimSpace(source)) + "|" + dayPart
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// ResolveRecord runs the full C4 responsibility set over a single raw
// record: date resolution, estado computation, canonical URL selection,
// content hash, and invariant repair. now is injected so the estado
// computation stays deterministic/testable (no hidden clock reads).
func ResolveRecord(raw RawRecord, urlKind string, now time.Time) ResolveOutcome {
	opening := resolveOpeningDate(raw, nil)
	publication := resolvePublicationDate(raw, opening)
	// Opening resolution step 3 depends on publication; redo with the hint
	// now that publication is known, in case opening was not directly
	// resolvable and needed the publication-based estimate.
	if opening == nil {
		opening = resolveOpeningDate(raw, publication)
	}

	var repairs []string
	nonIngestable := false
	nonIngestableReason := ""

	if publication != nil {
		if ok, _ := validateRange(publication.Value); !ok {
			nonIngestable = true
			nonIngestableReason = fmt.Sprintf("publication_date year %d outside [2024,2027]", publication.Value.Year())
		}
	}
	if opening != nil {
		if ok, _ := validateRange(opening.Value); !ok {
			nonIngestable = true
			nonIngestableReason = fmt.Sprintf("opening_date year %d outside [2024,2027]", opening.Value.Year())
		}
	}

	// Invariant repair I2: opening < publication shifts publication back.
	if publication != nil && opening != nil {
		if ok, reason := validateOrder(publication.Value, opening.Value); !ok {
			shifted := opening.Value.AddDate(0, 0, -30)
			publication = &ResolvedDate{Value: shifted, Step: "repaired_opening_minus_30d", Precision: opening.Precision}
			repairs = append(repairs, reason)
		}
	}

	var fechaProrroga *time.Time
	if t, ok := parseDate(raw.RawProrroga); ok {
		fechaProrroga = &t
	}

	var pubPtr, openPtr *time.Time
	if publication != nil {
		pubPtr = &publication.Value
	}
	if opening != nil {
		openPtr = &opening.Value
	}

	estado, estadoReason := computeEstado(pubPtr, openPtr, fechaProrroga, now)

	quality := classifyURLQuality(urlKind)
	canonicalURL := raw.ExternalURL
	sourceURLs := map[string]string{}
	if raw.SourceDomain != "" {
		sourceURLs[raw.SourceDomain] = raw.ExternalURL
	}

	hash := contentHash(raw.Title, raw.SourceDomain, pubPtr)

	return ResolveOutcome{
		PublicationDate:     publication,
		OpeningDate:         opening,
		Estado:              estado,
		EstadoReason:        estadoReason,
		CanonicalURL:        canonicalURL,
		URLQuality:          quality,
		SourceURLs:          sourceURLs,
		ContentHash:         hash,
		Repairs:             repairs,
		NonIngestable:       nonIngestable,
		NonIngestableReason: nonIngestableReason,
	}
}

// pickBestURL returns the highest-ranked (quality, url) pair among
// candidates, used when merging records that carry different source URLs
// for the same tender (spec §4.4/§4.5).
func pickBestURL(candidates map[string]licitacion.URLQuality) (string, licitacion.URLQuality) {
	bestURL := ""
	bestQuality := licitacion.URLQualityPartial
	bestRank := -1
	for u, q := range candidates {
		if r := urlQualityRank(q); r > bestRank {
			bestRank = r
			bestURL = u
			bestQuality = q
		}
	}
	return bestURL, bestQuality
}
