package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// argentinaLocation is the reference timezone for locale-dependent date
// operations (spec §4.2). Falls back to UTC if the tzdata entry is missing.
var argentinaLocation = mustLoadLocation("America/Argentina/Mendoza")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

var spanishMonths = map[string]time.Month{
	"enero": time.January, "ene": time.January,
	"febrero": time.February, "feb": time.February,
	"marzo": time.March, "mar": time.March,
	"abril": time.April, "abr": time.April,
	"mayo": time.May, "may": time.May,
	"junio": time.June, "jun": time.June,
	"julio": time.July, "jul": time.July,
	"agosto": time.August, "ago": time.August,
	"septiembre": time.September, "setiembre": time.September, "sep": time.September,
	"octubre": time.October, "oct": time.October,
	"noviembre": time.November, "nov": time.November,
	"diciembre": time.December, "dic": time.December,
}

var spanishMonthRegex = regexp.MustCompile(`(?i)\b(\d{1,2})\s+de\s+(enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|setiembre|octubre|noviembre|diciembre)\s+(?:de|del)\s+(\d{2,4})\b`)

var isoDateRegex = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
var slashDateRegex = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})\b`)

// minYear/maxYear bound every date field accepted by the system (spec I3).
const (
	minYear = 2024
	maxYear = 2027
)

func yearInRange(y int) bool {
	return y >= minYear && y <= maxYear
}

// twoDigitYear maps a two-digit year in [24,27] to 2024-2027; any other
// value is rejected (spec §4.2).
func twoDigitYear(yy int) (int, bool) {
	if yy >= 0 && yy <= 99 {
		full := 2000 + yy
		if yearInRange(full) {
			return full, true
		}
	}
	return 0, false
}

// parseDate is tolerant of Spanish month names and the common Argentine
// formats (DD/MM/YYYY, YYYY-MM-DD, DD-MM-YY, "Publicado el D de mes de YYYY").
// Two-digit years 24-27 map to 2024-2027; any other two-digit year, or any
// four-digit year outside [2024,2027], is rejected. Pure and side-effect free.
func parseDate(text string) (time.Time, bool) {
	text = cleanDateString(text)
	if text == "" {
		return time.Time{}, false
	}

	if m := isoDateRegex.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		if yearInRange(year) {
			if t, err := time.ParseInLocation("2006-01-02", m[0], argentinaLocation); err == nil {
				return t, true
			}
		}
	}

	if m := spanishMonthRegex.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, ok := spanishMonths[strings.ToLower(m[2])]
		if ok {
			if t, ok := resolveYearAndBuild(m[3], day, month); ok {
				return t, true
			}
		}
	}

	if m := slashDateRegex.FindStringSubmatch(text); m != nil {
		// Argentine convention: DD/MM/YYYY (day first), never MM/DD.
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if t, ok := resolveYearAndBuild(m[3], day, time.Month(month)); ok && month >= 1 && month <= 12 {
			return t, true
		}
	}

	return time.Time{}, false
}

func resolveYearAndBuild(yearToken string, day int, month time.Month) (time.Time, bool) {
	year, err := strconv.Atoi(yearToken)
	if err != nil {
		return time.Time{}, false
	}
	if len(yearToken) == 2 {
		year, ok := twoDigitYear(year)
		if !ok {
			return time.Time{}, false
		}
		return buildDate(year, month, day), true
	}
	if !yearInRange(year) {
		return time.Time{}, false
	}
	return buildDate(year, month, day), true
}

func buildDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 12, 0, 0, 0, argentinaLocation)
}

// cleanDateString strips common Spanish/English labels before parsing.
func cleanDateString(s string) string {
	prefixes := []string{
		"Publicado el", "Publicado:", "Fecha de publicación:",
		"Apertura:", "Fecha de apertura:", "Fecha límite:", "Fecha de cierre:",
		"Cierre:", "Prórroga:", "Closing date:", "Deadline:", "Open:",
	}
	sLower := strings.ToLower(s)
	for _, p := range prefixes {
		if idx := strings.Index(sLower, strings.ToLower(p)); idx != -1 {
			s = s[idx+len(p):]
			sLower = sLower[idx+len(p):]
		}
	}
	return strings.TrimSpace(s)
}

// extractYear scans for source-specific year patterns before falling back
// to any bare 4-digit year in range (spec §4.2). hints are tried in order;
// the first successful pattern family wins.
func extractYear(text string, hints []string) (int, bool) {
	for _, hint := range hints {
		re, err := regexp.Compile(hint)
		if err != nil {
			continue
		}
		if m := re.FindStringSubmatch(text); m != nil {
			for _, g := range m[1:] {
				if y, err := strconv.Atoi(g); err == nil && yearInRange(y) {
					return y, true
				}
			}
		}
	}

	generic := regexp.MustCompile(`\b(20\d{2})\b`)
	for _, m := range generic.FindAllStringSubmatch(text, -1) {
		if y, err := strconv.Atoi(m[1]); err == nil && yearInRange(y) {
			return y, true
		}
	}

	twoDigit := regexp.MustCompile(`/(\d{2})\b`)
	if m := twoDigit.FindStringSubmatch(text); m != nil {
		if yy, err := strconv.Atoi(m[1]); err == nil {
			if y, ok := twoDigitYear(yy); ok {
				return y, true
			}
		}
	}

	return 0, false
}

// extractDate scans for the labeled date fields a listing or detail page
// typically carries, in priority order.
func extractDate(text string, labels []string) (time.Time, bool) {
	lower := strings.ToLower(text)
	for _, label := range labels {
		idx := strings.Index(lower, strings.ToLower(label))
		if idx == -1 {
			continue
		}
		end := idx + len(label) + 60
		if end > len(text) {
			end = len(text)
		}
		window := text[idx:end]
		if t, ok := parseDate(window); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

var defaultPublicationLabels = []string{"Publicado", "Fecha de publicación"}
var defaultOpeningLabels = []string{"Apertura", "Fecha de apertura"}

// maxPlausibleBudget rejects budgets with an implausible magnitude.
const maxPlausibleBudget = 1e12

var budgetNumberRegex = regexp.MustCompile(`[\d.,]+`)

// parseBudget parses Argentine-notation amounts ($1.234.567,89): dot as
// thousands separator, comma as decimal separator. Rejects implausible
// magnitudes. Pure, side-effect free.
func parseBudget(text string) (float64, string, bool) {
	lower := strings.ToLower(text)

	currency := ""
	switch {
	case strings.Contains(lower, "usd") || strings.Contains(lower, "u$s") || strings.Contains(lower, "dólares") || strings.Contains(lower, "dolares"):
		currency = "USD"
	case strings.Contains(lower, "eur") || strings.Contains(lower, "€"):
		currency = "EUR"
	case strings.Contains(text, "$") || strings.Contains(lower, "pesos") || strings.Contains(lower, "ars"):
		currency = "ARS"
	}

	matches := budgetNumberRegex.FindAllString(text, -1)
	var best float64
	found := false
	for _, m := range matches {
		val, ok := parseArgentineNumber(m)
		if !ok {
			continue
		}
		if val <= 0 || val > maxPlausibleBudget {
			continue
		}
		if val > best {
			best = val
			found = true
		}
	}

	if !found {
		return 0, "", false
	}
	return best, currency, true
}

// ParseArgentineBudget is the exported form of parseBudget, for callers
// outside this package (the enrichment job re-parsing detail-page snippets).
func ParseArgentineBudget(text string) (float64, string, bool) {
	return parseBudget(text)
}

// parseArgentineNumber interprets "1.234.567,89" (dot thousands, comma
// decimal) or a plain integer string like "1234567".
func parseArgentineNumber(token string) (float64, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, false
	}

	if strings.Contains(token, ",") {
		// Comma is the decimal separator; strip dot thousands separators.
		parts := strings.Split(token, ",")
		if len(parts) != 2 {
			return 0, false
		}
		intPart := strings.ReplaceAll(parts[0], ".", "")
		cleaned := intPart + "." + parts[1]
		val, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return val, true
	}

	// No comma: dots (if any) are thousands separators unless there is
	// exactly one and it looks like a decimal (e.g. "45.50").
	if strings.Count(token, ".") == 1 {
		parts := strings.Split(token, ".")
		if len(parts[1]) == 2 {
			if val, err := strconv.ParseFloat(token, 64); err == nil {
				return val, true
			}
		}
	}

	cleaned := strings.ReplaceAll(token, ".", "")
	val, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return val, true
}

// validateRange reports whether a date's year falls in the accepted window.
func validateRange(t time.Time) (bool, string) {
	if !yearInRange(t.Year()) {
		return false, fmt.Sprintf("year %d outside accepted range [%d,%d]", t.Year(), minYear, maxYear)
	}
	return true, ""
}

// validateOrder reports whether opening >= publication, as required by I2.
func validateOrder(publication, opening time.Time) (bool, string) {
	if opening.Before(publication) {
		return false, "date_order_violation"
	}
	return true, ""
}
