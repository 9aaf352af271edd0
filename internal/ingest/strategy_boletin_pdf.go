package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BoletinPDFStrategy scrapes the Boletín Oficial's sección tercera listing,
// which links one PDF edition per day rather than one page per tender, and
// splits each edition's extracted text into per-licitación notices (spec
// §4.3, category_hint "medium"). Every record it produces is urlKind
// "proxy": the only stable link is the PDF edition, not the individual
// notice.
type BoletinPDFStrategy struct{}

// boletinNoticeSeparator matches the header line the Boletín prints above
// each separate aviso de licitación inside a sección tercera edition.
var boletinNoticeSeparator = regexp.MustCompile(`(?im)^\s*(LICITACI[OÓ]N\s+(P[UÚ]BLICA|PRIVADA|ABREVIADA)\s*N[°ºRO.]*\s*[\w./-]+)`)

func (s *BoletinPDFStrategy) Run(ctx context.Context, config SourceConfig, p *Pipeline) (IngestionStats, error) {
	stats := IngestionStats{}

	if config.BaseURL == "" {
		return stats, fmt.Errorf("base_url is required for boletin_pdf strategy")
	}

	doc, err := p.Fetcher.Fetch(ctx, config.BaseURL)
	if err != nil {
		return stats, fmt.Errorf("fetch listing failed: %w", err)
	}
	body, err := io.ReadAll(doc.Body)
	doc.Body.Close()
	if err != nil {
		return stats, fmt.Errorf("read listing failed: %w", err)
	}

	editionURLs, err := findEditionPDFLinks(config.BaseURL, string(body))
	if err != nil {
		return stats, fmt.Errorf("parse listing failed: %w", err)
	}

	maxEditions := config.MaxPages
	if maxEditions == 0 || maxEditions > len(editionURLs) {
		maxEditions = len(editionURLs)
	}

	for _, editionURL := range editionURLs[:maxEditions] {
		text, err := extractPDFTextFromURL(ctx, p.Fetcher, editionURL)
		if err != nil {
			log.Printf("[%s] pdf extraction failed for %s: %v", config.ID, editionURL, err)
			stats.Errors++
			continue
		}

		notices := splitBoletinNotices(text)
		stats.TotalFound += len(notices)

		for _, notice := range notices {
			raw := RawRecord{
				Title:           firstLine(notice, 200),
				ExternalURL:     CanonicalizeURL(editionURL),
				SourceDomain:    extractDomain(config.BaseURL),
				Jurisdiccion:    config.Jurisdiccion,
				Description:     notice,
				ExpedientNumber: extractExpedientNumber(notice),
				RawOpening:      extractLabeledSnippet(notice, []string{"apertura", "fecha de apertura"}),
				RawBudget:       notice,
			}

			if err := p.SaveRaw(ctx, raw, "proxy"); err != nil {
				log.Printf("[%s] failed to save notice from %s: %v", config.ID, editionURL, err)
				stats.Errors++
			} else {
				stats.TotalSaved++
			}
		}
	}

	return stats, nil
}

func findEditionPDFLinks(baseURL, htmlBody string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(baseURL)
	seen := map[string]bool{}
	var out []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || !strings.Contains(strings.ToLower(href), ".pdf") {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	})

	return out, nil
}

// splitBoletinNotices breaks a gazette edition's plain text into individual
// licitación notices using the "LICITACIÓN PÚBLICA N° ..." header the
// Boletín prints above each one.
func splitBoletinNotices(text string) []string {
	indices := boletinNoticeSeparator.FindAllStringIndex(text, -1)
	if len(indices) == 0 {
		return nil
	}

	notices := make([]string, 0, len(indices))
	for i, loc := range indices {
		end := len(text)
		if i+1 < len(indices) {
			end = indices[i+1][0]
		}
		notice := strings.TrimSpace(text[loc[0]:end])
		if notice != "" {
			notices = append(notices, notice)
		}
	}
	return notices
}

func firstLine(text string, maxLen int) string {
	line := text
	if idx := strings.IndexAny(text, "\n"); idx >= 0 {
		line = text[:idx]
	}
	return TruncateText(strings.TrimSpace(line), maxLen)
}

var expedientNumberRegex = regexp.MustCompile(`(?i)expediente\s*(?:n[°ºro.]*)?\s*:?\s*([\w./-]+)`)

func extractExpedientNumber(text string) string {
	match := expedientNumberRegex.FindStringSubmatch(text)
	if len(match) < 2 {
		return ""
	}
	return strings.TrimSpace(match[1])
}

func extractLabeledSnippet(text string, labels []string) string {
	lower := strings.ToLower(text)
	for _, label := range labels {
		idx := strings.Index(lower, label)
		if idx < 0 {
			continue
		}
		end := idx + len(label) + 80
		if end > len(text) {
			end = len(text)
		}
		return strings.TrimSpace(text[idx:end])
	}
	return ""
}
