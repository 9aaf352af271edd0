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

// HTMLGenericStrategy scrapes a listing page for light-weight portals whose
// markup exposes a plain per-row container, link, title and date (spec
// §4.3, category_hint "light"). It is the default strategy for sources that
// don't need session state or postback forms.
type HTMLGenericStrategy struct{}

func (s *HTMLGenericStrategy) Run(ctx context.Context, config SourceConfig, p *Pipeline) (IngestionStats, error) {
	stats := IngestionStats{}

	sel := config.Selectors
	if sel.Container == "" {
		return stats, fmt.Errorf("selector 'container' is required for html_generic strategy")
	}

	maxPages := config.MaxPages
	if maxPages == 0 {
		maxPages = 1
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return stats, fmt.Errorf("invalid base url: %w", err)
	}

	rateDelay := time.Second
	if config.Fetch.RateLimitRPS > 0 {
		rateDelay = time.Duration(float64(time.Second) / config.Fetch.RateLimitRPS)
	}
	timeout := 30 * time.Second
	if config.Fetch.TimeoutSeconds > 0 {
		timeout = time.Duration(config.Fetch.TimeoutSeconds) * time.Second
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsedURL.Host),
		colly.UserAgent(pickUserAgent()),
		colly.DetectCharset(),
	)
	collector.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 1, Delay: rateDelay, RandomDelay: rateDelay / 2})
	collector.SetRequestTimeout(timeout)

	detailFetcher := NewGenericDetailFetcher(p.Fetcher)

	var nextPageURL string
	visited := map[string]bool{}

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
		if title == "" || link == "" {
			return
		}

		canonicalURL := CanonicalizeURL(e.Request.AbsoluteURL(link))

		raw := RawRecord{
			Title:           title,
			ExternalURL:     canonicalURL,
			SourceDomain:    extractDomain(config.BaseURL),
			Jurisdiccion:    config.Jurisdiccion,
			Organization:    strings.TrimSpace(e.ChildText(sel.Organization)),
			RawPublication:  strings.TrimSpace(e.ChildText(sel.Date)),
			ExpedientNumber: strings.TrimSpace(e.ChildText(sel.Expedient)),
		}
		if sel.Content != "" {
			raw.Description = strings.TrimSpace(e.ChildText(sel.Content))
		}

		stats.TotalFound++

		if config.Detail.Enabled {
			page, err := detailFetcher.FetchDetail(ctx, canonicalURL)
			if err != nil {
				log.Printf("[%s] detail fetch failed for %s: %v", config.ID, canonicalURL, err)
			} else if candidates, err := detailFetcher.ExtractCandidates(page); err != nil {
				log.Printf("[%s] detail extraction failed for %s: %v", config.ID, canonicalURL, err)
			} else {
				applyDetailCandidates(&raw, candidates, page)
			}
		}

		if err := p.SaveRaw(ctx, raw, "direct"); err != nil {
			log.Printf("[%s] failed to save %q: %v", config.ID, title, err)
			stats.Errors++
		} else {
			stats.TotalSaved++
		}
	})

	if config.Pagination.Next != "" {
		collector.OnHTML(config.Pagination.Next, func(e *colly.HTMLElement) {
			nextPageURL = e.Request.AbsoluteURL(e.Attr("href"))
		})
	}

	collector.OnRequest(func(r *colly.Request) {
		log.Printf("[%s] visiting %s", config.ID, r.URL.String())
	})

	collector.OnError(func(r *colly.Response, err error) {
		log.Printf("[%s] fetch error on %s: %v", config.ID, r.Request.URL, err)
		stats.Errors++
	})

	currentURL := config.BaseURL
	pageCount := 0
	for pageCount < maxPages {
		canon := CanonicalizeURL(currentURL)
		if visited[canon] {
			log.Printf("[%s] pagination cycle detected at %s, stopping", config.ID, canon)
			break
		}
		visited[canon] = true
		pageCount++
		nextPageURL = ""

		if err := collector.Visit(currentURL); err != nil {
			log.Printf("[%s] visit error on page %d: %v", config.ID, pageCount, err)
			break
		}
		collector.Wait()

		if nextPageURL == "" {
			break
		}
		currentURL = nextPageURL
	}

	return stats, nil
}

// CanonicalizeURL removes common tracking parameters and normalizes the
// host so the same tender URL always produces the same canonical string
// (spec §4.4's canonical_url requirement).
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	trackingPrefixes := []string{"utm_"}
	trackingExact := []string{"fbclid", "gclid", "mc_cid", "mc_eid", "mkt_tok", "ref", "session", "s_cid"}

	for k := range q {
		for _, prefix := range trackingPrefixes {
			if strings.HasPrefix(k, prefix) {
				q.Del(k)
			}
		}
	}
	for _, p := range trackingExact {
		q.Del(p)
	}

	u.RawQuery = q.Encode()
	return u.String()
}
