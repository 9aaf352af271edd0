package ingest

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// AspNetPostbackStrategy drives the __doPostBack pagination pattern common
// to ASP.NET/GeneXus government portals (BAC, many provincial systems):
// the first page is a plain GET, every subsequent page is a POST carrying
// the page's own __VIEWSTATE back plus an updated __EVENTTARGET (spec §4.3,
// category_hint "medium"). A single colly.Collector keeps the session
// cookies across both requests.
type AspNetPostbackStrategy struct{}

func (s *AspNetPostbackStrategy) Run(ctx context.Context, config SourceConfig, p *Pipeline) (IngestionStats, error) {
	stats := IngestionStats{}

	sel := config.Selectors
	if sel.Container == "" {
		return stats, fmt.Errorf("selector 'container' is required for aspnet_postback strategy")
	}
	if config.Postback.FormSelector == "" {
		return stats, fmt.Errorf("postback.form_selector is required for aspnet_postback strategy")
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return stats, fmt.Errorf("invalid base url: %w", err)
	}

	rateDelay := 2 * time.Second
	if config.Fetch.RateLimitRPS > 0 {
		rateDelay = time.Duration(float64(time.Second) / config.Fetch.RateLimitRPS)
	}
	timeout := 60 * time.Second
	if config.Fetch.TimeoutSeconds > 0 {
		timeout = time.Duration(config.Fetch.TimeoutSeconds) * time.Second
	}

	scraper := NewCollyScraper(CollyScraperConfig{
		AllowedDomains:  []string{parsedURL.Host},
		UserAgent:       pickUserAgent(),
		DomainDelay:     rateDelay,
		ParallelThreads: 1,
		RequestTimeout:  timeout,
	})
	collector := scraper.Collector()

	detailFetcher := NewGenericDetailFetcher(p.Fetcher)
	hiddenFields := map[string]string{}

	collector.OnHTML(config.Postback.FormSelector, func(e *colly.HTMLElement) {
		for _, name := range config.Postback.HiddenFields {
			hiddenFields[name] = e.ChildAttr(fmt.Sprintf(`input[name="%s"]`, name), "value")
		}
	})

	collector.OnHTML(sel.Container, func(e *colly.HTMLElement) {
		title := strings.TrimSpace(e.ChildText(sel.Title))

		linkAttr := sel.LinkAttr
		if linkAttr == "" {
			linkAttr = "href"
		}
		var link string
		if sel.Link == "" || sel.Link == "." {
			link = strings.TrimSpace(e.Attr(linkAttr))
		} else {
			link = strings.TrimSpace(e.ChildAttr(sel.Link, linkAttr))
		}
		if title == "" {
			return
		}

		externalURL := config.BaseURL
		if link != "" {
			externalURL = e.Request.AbsoluteURL(link)
		}
		canonicalURL := CanonicalizeURL(externalURL)

		raw := RawRecord{
			Title:           title,
			ExternalURL:     canonicalURL,
			SourceDomain:    extractDomain(config.BaseURL),
			Jurisdiccion:    config.Jurisdiccion,
			Organization:    strings.TrimSpace(e.ChildText(sel.Organization)),
			RawOpening:      strings.TrimSpace(e.ChildText(sel.Date)),
			ExpedientNumber: strings.TrimSpace(e.ChildText(sel.Expedient)),
		}
		if sel.Content != "" {
			raw.Description = strings.TrimSpace(e.ChildText(sel.Content))
		}

		stats.TotalFound++

		if config.Detail.Enabled && link != "" {
			if page, err := detailFetcher.FetchDetail(ctx, canonicalURL); err != nil {
				log.Printf("[%s] detail fetch failed for %s: %v", config.ID, canonicalURL, err)
			} else if candidates, err := detailFetcher.ExtractCandidates(page); err != nil {
				log.Printf("[%s] detail extraction failed for %s: %v", config.ID, canonicalURL, err)
			} else {
				applyDetailCandidates(&raw, candidates, page)
			}
		}

		if err := p.SaveRaw(ctx, raw, "proxy"); err != nil {
			log.Printf("[%s] failed to save %q: %v", config.ID, title, err)
			stats.Errors++
		} else {
			stats.TotalSaved++
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		log.Printf("[%s] fetch error: %v", config.ID, err)
		stats.Errors++
	})

	if err := collector.Visit(config.BaseURL); err != nil {
		return stats, fmt.Errorf("initial visit failed: %w", err)
	}
	collector.Wait()

	maxPages := config.MaxPages
	if maxPages == 0 {
		maxPages = 1
	}

	for page := 2; page <= maxPages; page++ {
		if config.Postback.EventTarget == "" {
			break
		}
		formData := map[string]string{
			"__EVENTTARGET":   config.Postback.EventTarget,
			"__EVENTARGUMENT": fmt.Sprintf("Page$%d", page),
		}
		for k, v := range hiddenFields {
			formData[k] = v
		}
		for k, v := range config.Postback.ExtraFields {
			formData[k] = v
		}

		if err := collector.Post(config.BaseURL, formData); err != nil {
			log.Printf("[%s] postback to page %d failed: %v", config.ID, page, err)
			break
		}
		collector.Wait()
	}

	return stats, nil
}
