package ingest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DetailPage is the raw material recovered from a tender's detail page: the
// HTML body plus any discovered attachment URLs and their extracted text.
// No date resolution or estado logic lives here (spec §4.3) — that is the
// resolver's job, over the evidence this struct carries.
type DetailPage struct {
	URL             string
	Domain          string
	BodyHTML        string
	AttachmentURLs  []string
	AttachmentTexts map[string]string
	FetchMeta       map[string]interface{}
}

// DetailCandidates is the structured, still-unresolved evidence extracted
// from a DetailPage: date snippets, budget snippets and whatever else the
// enrichment pipeline needs before the resolver can pick a winner.
type DetailCandidates struct {
	DateEvidence   []DateEvidence
	BudgetSnippets []string
	Evidence       map[string]interface{}
	PDFsParsed     int
}

// DetailFetcher retrieves and extracts evidence from a tender's canonical
// detail page, including any linked pliego/attachment PDFs.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, detailURL string) (*DetailPage, error)
	ExtractCandidates(page *DetailPage) (*DetailCandidates, error)
}

// GenericDetailFetcher is the default DetailFetcher: plain HTML fetch plus
// goquery-based attachment discovery and structured text extraction.
type GenericDetailFetcher struct {
	Fetcher Fetcher
}

var attachmentAnchorRegex = regexp.MustCompile(`(?i)(pliego|pliegos|anexo|anexos|documentaci[oó]n|bases|circular|aclaratoria|download|descargar|adjunto)`)

func NewGenericDetailFetcher(fetcher Fetcher) *GenericDetailFetcher {
	return &GenericDetailFetcher{Fetcher: fetcher}
}

// FetchDetail fetches the detail page and every discoverable attachment PDF,
// recording fetch metadata useful for later debugging (status, byte counts,
// durations).
func (a *GenericDetailFetcher) FetchDetail(ctx context.Context, detailURL string) (*DetailPage, error) {
	start := time.Now()
	doc, err := a.Fetcher.Fetch(ctx, detailURL)
	if err != nil {
		return nil, err
	}
	defer doc.Body.Close()

	payload, err := io.ReadAll(doc.Body)
	if err != nil {
		return nil, err
	}
	fetchMeta := map[string]interface{}{
		"root_status_code": doc.StatusCode,
		"root_bytes":       len(payload),
		"root_duration_ms": time.Since(start).Milliseconds(),
	}

	htmlBody := string(payload)
	attachmentURLs := collectAttachmentLinks(detailURL, htmlBody)
	attachmentTexts := map[string]string{}
	pdfParseErrors := 0

	for _, attachmentURL := range attachmentURLs {
		attachmentStart := time.Now()
		if !strings.Contains(strings.ToLower(attachmentURL), ".pdf") {
			continue
		}
		text, err := extractPDFTextFromURL(ctx, a.Fetcher, attachmentURL)
		if err != nil {
			pdfParseErrors++
			continue
		}
		attachmentTexts[attachmentURL] = text
		fetchMeta[fmt.Sprintf("pdf_%s_duration_ms", attachmentURL)] = time.Since(attachmentStart).Milliseconds()
	}
	fetchMeta["attachment_count"] = len(attachmentURLs)
	fetchMeta["pdfs_parsed"] = len(attachmentTexts)
	fetchMeta["pdf_parse_errors"] = pdfParseErrors

	return &DetailPage{
		URL:             detailURL,
		Domain:          extractDomain(detailURL),
		BodyHTML:        htmlBody,
		AttachmentURLs:  attachmentURLs,
		AttachmentTexts: attachmentTexts,
		FetchMeta:       fetchMeta,
	}, nil
}

// ExtractCandidates pulls dated and budget snippets out of the detail page
// and any parsed attachment text, returning unresolved evidence.
func (a *GenericDetailFetcher) ExtractCandidates(page *DetailPage) (*DetailCandidates, error) {
	text := buildStructuredExtractionText(page.BodyHTML)

	evidence := make([]DateEvidence, 0, 8)
	if t, ok := extractDate(text, defaultPublicationLabels); ok {
		evidence = append(evidence, DateEvidence{
			Source: "detail_page", URL: page.URL, Label: "publicado",
			ParsedDateISO: t.Format("2006-01-02"), Confidence: 0.8,
		})
	}
	if t, ok := extractDate(text, defaultOpeningLabels); ok {
		evidence = append(evidence, DateEvidence{
			Source: "detail_page", URL: page.URL, Label: "apertura",
			ParsedDateISO: t.Format("2006-01-02"), Confidence: 0.8,
		})
	}

	var budgetSnippets []string
	if _, _, ok := parseBudget(text); ok {
		budgetSnippets = append(budgetSnippets, text)
	}

	pdfsParsed := 0
	for attachmentURL, attachmentText := range page.AttachmentTexts {
		pdfsParsed++
		if t, ok := extractDate(attachmentText, defaultOpeningLabels); ok {
			evidence = append(evidence, DateEvidence{
				Source: "attachment", URL: attachmentURL, Label: "apertura",
				ParsedDateISO: t.Format("2006-01-02"), Confidence: 0.85,
			})
		}
		if _, _, ok := parseBudget(attachmentText); ok {
			budgetSnippets = append(budgetSnippets, attachmentText)
		}
	}

	return &DetailCandidates{
		DateEvidence:   evidence,
		BudgetSnippets: budgetSnippets,
		Evidence: map[string]interface{}{
			"attachment_urls":  page.AttachmentURLs,
			"attachment_count": len(page.AttachmentURLs),
			"fetch_meta":       page.FetchMeta,
		},
		PDFsParsed: pdfsParsed,
	}, nil
}

// applyDetailCandidates folds detail-page evidence into a raw record
// in-place: attachments, date evidence, a raw budget snippet when the
// listing page didn't already carry one, and the page text as description
// when the record has none. ResolveRecord does not read raw.DateEvidence;
// the detail page feeds date resolution only through that description
// text and the attachment filenames.
func applyDetailCandidates(raw *RawRecord, candidates *DetailCandidates, page *DetailPage) {
	raw.DateEvidence = append(raw.DateEvidence, candidates.DateEvidence...)

	if raw.RawBudget == "" && len(candidates.BudgetSnippets) > 0 {
		raw.RawBudget = candidates.BudgetSnippets[0]
	}

	for _, attachmentURL := range page.AttachmentURLs {
		filename := attachmentURL
		if idx := strings.LastIndex(attachmentURL, "/"); idx >= 0 {
			filename = attachmentURL[idx+1:]
		}
		mime := ""
		if strings.Contains(strings.ToLower(attachmentURL), ".pdf") {
			mime = "application/pdf"
		}
		raw.AttachedFiles = append(raw.AttachedFiles, RawAttachment{Filename: filename, URL: attachmentURL, Mime: mime})
	}

	if raw.Description == "" {
		raw.Description = buildStructuredExtractionText(page.BodyHTML)
	}
}

func collectAttachmentLinks(baseURL, htmlBody string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return nil
	}

	baseParsed, _ := url.Parse(baseURL)
	seen := map[string]bool{}
	var out []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		hrefLower := strings.ToLower(strings.TrimSpace(href))
		anchorText := strings.TrimSpace(strings.ToLower(sel.Text()))
		isLikelyDoc := attachmentAnchorRegex.MatchString(anchorText) || strings.Contains(hrefLower, ".pdf") || strings.Contains(hrefLower, "descargar") || strings.Contains(hrefLower, "/adjunto")
		if !isLikelyDoc {
			return
		}

		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := baseParsed.ResolveReference(ref).String()
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	})

	return out
}

func buildStructuredExtractionText(htmlBody string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return HTMLToText(htmlBody)
	}

	parts := make([]string, 0, 64)
	bodyText := cleanText(doc.Find("body").Text())
	if bodyText != "" {
		parts = append(parts, bodyText)
	}

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := make([]string, 0, 4)
		row.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			value := cleanText(cell.Text())
			if value != "" {
				cells = append(cells, value)
			}
		})
		if len(cells) == 0 {
			return
		}
		if len(cells) == 1 {
			parts = append(parts, cells[0])
			return
		}
		parts = append(parts, cells[0]+": "+strings.Join(cells[1:], " | "))
	})

	labelKeywords := []string{"apertura", "publicaci", "cierre", "prórroga", "prorroga", "expediente", "presupuesto", "monto", "objeto"}
	doc.Find("p, li, div, td, th, h1, h2, h3, h4, h5, h6, strong").Each(func(_ int, sel *goquery.Selection) {
		text := cleanText(sel.Text())
		if text == "" || len(text) > 220 {
			return
		}
		lower := strings.ToLower(text)
		for _, keyword := range labelKeywords {
			if strings.Contains(lower, keyword) {
				nextText := cleanText(sel.Next().Text())
				if nextText != "" && nextText != text {
					parts = append(parts, text+" | "+nextText)
				} else {
					parts = append(parts, text)
				}
				break
			}
		}
	})

	return strings.Join(parts, "\n")
}
