package ingest

import (
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/martinsantos/licitometro-sub002/internal/licitacion"
)

// fuzzyTitleSimilarityThreshold is the minimum token-set similarity required
// for the fuzzy dedup stage to declare a match (spec §4.5). Named as a
// constant per the spec's own note that the value should be validated
// empirically later.
const fuzzyTitleSimilarityThreshold = 0.85

// fuzzyWindowDays bounds how far apart two publication dates may be and
// still be considered the same tender by the fuzzy stage.
const fuzzyWindowDays = 7

// MatchReason explains which step of the ordered key chain produced a
// dedup match, for logging/debugging.
type MatchReason string

const (
	MatchExpedientNumber  MatchReason = "expedient_number"
	MatchLicitacionNumber MatchReason = "licitacion_number"
	MatchContentHash      MatchReason = "content_hash"
	MatchFuzzyTitle       MatchReason = "fuzzy_title"
)

// MatchCandidate is one existing record considered against an incoming
// resolved record during dedup.
type MatchCandidate struct {
	ID              string
	ExpedientNumber string
	LicitacionNumber string
	ContentHash     string
	Title           string
	Organization    string
	PublicationDate *time.Time
	FirstSeenAt     time.Time
	URLQuality      licitacion.URLQuality
}

// MatchResult reports the winning candidate and the reason it matched.
type MatchResult struct {
	Candidate MatchCandidate
	Reason    MatchReason
	Similarity float64
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FindMatch runs the ordered key chain from spec §4.5: expedient_number,
// then licitacion_number, then content_hash, then fuzzy title similarity.
// The first positive match wins; candidates must already be scoped to the
// same jurisdiction by the caller.
func FindMatch(incoming struct {
	ExpedientNumber string
	LicitacionNumber string
	ContentHash     string
	Title           string
	Organization    string
	PublicationDate *time.Time
}, candidates []MatchCandidate) (MatchResult, bool) {
	incExpedient := normalizeKey(incoming.ExpedientNumber)
	if incExpedient != "" {
		for _, c := range candidates {
			if normalizeKey(c.ExpedientNumber) == incExpedient {
				return MatchResult{Candidate: c, Reason: MatchExpedientNumber, Similarity: 1}, true
			}
		}
	}

	incLicitacion := normalizeKey(incoming.LicitacionNumber)
	if incLicitacion != "" {
		for _, c := range candidates {
			if normalizeKey(c.LicitacionNumber) == incLicitacion {
				return MatchResult{Candidate: c, Reason: MatchLicitacionNumber, Similarity: 1}, true
			}
		}
	}

	if incoming.ContentHash != "" {
		for _, c := range candidates {
			if c.ContentHash == incoming.ContentHash {
				return MatchResult{Candidate: c, Reason: MatchContentHash, Similarity: 1}, true
			}
		}
	}

	return findFuzzyMatch(incoming.Title, incoming.Organization, incoming.PublicationDate, candidates)
}

// findFuzzyMatch implements the fuzzy stage: title token-set similarity >=
// threshold, organization equal (normalized), and publication dates within
// fuzzyWindowDays. Ties break on highest similarity, then oldest
// first_seen_at.
func findFuzzyMatch(title, organization string, publicationDate *time.Time, candidates []MatchCandidate) (MatchResult, bool) {
	incOrg := normalizeKey(organization)
	var best MatchResult
	found := false

	for _, c := range candidates {
		if normalizeKey(c.Organization) != incOrg {
			continue
		}
		if publicationDate == nil || c.PublicationDate == nil {
			continue
		}
		diff := publicationDate.Sub(*c.PublicationDate)
		if diff < 0 {
			diff = -diff
		}
		if diff > fuzzyWindowDays*24*time.Hour {
			continue
		}

		sim := tokenSetSimilarity(title, c.Title)
		if sim < fuzzyTitleSimilarityThreshold {
			continue
		}

		if !found {
			best = MatchResult{Candidate: c, Reason: MatchFuzzyTitle, Similarity: sim}
			found = true
			continue
		}

		if sim > best.Similarity {
			best = MatchResult{Candidate: c, Reason: MatchFuzzyTitle, Similarity: sim}
		} else if sim == best.Similarity && c.FirstSeenAt.Before(best.Candidate.FirstSeenAt) {
			best = MatchResult{Candidate: c, Reason: MatchFuzzyTitle, Similarity: sim}
		}
	}

	return best, found
}

// tokenSetSimilarity is a token-set ratio built on Levenshtein distance: the
// two titles are tokenized, deduplicated, sorted, rejoined, and compared by
// normalized edit distance. This approximates fuzzywuzzy's token_set_ratio
// without pulling in a full fuzzy-matching library, since the pack's only
// grounded dependency in this space is a plain Levenshtein implementation.
func tokenSetSimilarity(a, b string) float64 {
	ta := sortedUniqueTokens(a)
	tb := sortedUniqueTokens(b)
	sa := strings.Join(ta, " ")
	sb := strings.Join(tb, " ")

	if sa == "" && sb == "" {
		return 1
	}
	if sa == "" || sb == "" {
		return 0
	}

	dist := levenshtein.ComputeDistance(sa, sb)
	maxLen := len(sa)
	if len(sb) > maxLen {
		maxLen = len(sb)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(maxLen)
}

func sortedUniqueTokens(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1] > out[j] {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

// MergedScalars returns the merged scalar fields when two records are
// reconciled: non-null, longer/more precise values win, and url_quality
// direct beats proxy beats partial (spec §4.5).
type MergedScalars struct {
	Title        string
	Organization string
	Description  string
	URLQuality   licitacion.URLQuality
}

func preferLonger(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if len(b) > len(a) {
		return b
	}
	return a
}

// MergeScalars applies the spec §4.5 scalar merge policy between the
// surviving ("winning") record and the losing match.
func MergeScalars(winningTitle, winningOrg, winningDesc string, winningQuality licitacion.URLQuality,
	losingTitle, losingOrg, losingDesc string, losingQuality licitacion.URLQuality) MergedScalars {
	quality := winningQuality
	if urlQualityRank(losingQuality) > urlQualityRank(winningQuality) {
		quality = losingQuality
	}
	return MergedScalars{
		Title:        preferLonger(winningTitle, losingTitle),
		Organization: preferLonger(winningOrg, losingOrg),
		Description:  preferLonger(winningDesc, losingDesc),
		URLQuality:   quality,
	}
}

// MergeAttachedFiles unions two attachment lists by URL.
func MergeAttachedFiles(a, b []licitacion.AttachedFile) []licitacion.AttachedFile {
	seen := make(map[string]bool, len(a))
	out := make([]licitacion.AttachedFile, 0, len(a)+len(b))
	for _, f := range a {
		if seen[f.URL] {
			continue
		}
		seen[f.URL] = true
		out = append(out, f)
	}
	for _, f := range b {
		if seen[f.URL] {
			continue
		}
		seen[f.URL] = true
		out = append(out, f)
	}
	return out
}

// MergeSourceURLs unions two source_urls maps, the winning map taking
// precedence on key collision.
func MergeSourceURLs(winning, losing map[string]string) map[string]string {
	out := make(map[string]string, len(winning)+len(losing))
	for k, v := range losing {
		out[k] = v
	}
	for k, v := range winning {
		out[k] = v
	}
	return out
}

func maxEnrichmentLevel(a, b int) int {
	if b > a {
		return b
	}
	return a
}
