package ingest

import (
	"testing"
	"time"

	"github.com/martinsantos/licitometro-sub002/internal/licitacion"
)

func TestFindMatch_ExpedientNumberWinsFirst(t *testing.T) {
	candidates := []MatchCandidate{
		{ID: "a", ExpedientNumber: "EXP-001", ContentHash: "other"},
	}
	incoming := struct {
		ExpedientNumber  string
		LicitacionNumber string
		ContentHash      string
		Title            string
		Organization     string
		PublicationDate  *time.Time
	}{ExpedientNumber: "exp-001", ContentHash: "nomatch"}

	result, found := FindMatch(incoming, candidates)
	if !found || result.Reason != MatchExpedientNumber {
		t.Fatalf("expected expedient_number match, got found=%v reason=%s", found, result.Reason)
	}
}

func TestFindMatch_FallsThroughToContentHash(t *testing.T) {
	candidates := []MatchCandidate{
		{ID: "a", ContentHash: "abc123"},
	}
	incoming := struct {
		ExpedientNumber  string
		LicitacionNumber string
		ContentHash      string
		Title            string
		Organization     string
		PublicationDate  *time.Time
	}{ContentHash: "abc123"}

	result, found := FindMatch(incoming, candidates)
	if !found || result.Reason != MatchContentHash {
		t.Fatalf("expected content_hash match, got found=%v reason=%s", found, result.Reason)
	}
}

func TestFindMatch_FuzzyTitleRequiresSameOrgAndCloseDates(t *testing.T) {
	pub := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	closePub := pub.Add(2 * 24 * time.Hour)
	farPub := pub.Add(30 * 24 * time.Hour)

	candidates := []MatchCandidate{
		{ID: "close", Title: "Construccion de Escuela Rural", Organization: "Municipio de Mendoza", PublicationDate: &closePub},
		{ID: "far", Title: "Construccion de Escuela Rural", Organization: "Municipio de Mendoza", PublicationDate: &farPub},
		{ID: "wrong-org", Title: "Construccion de Escuela Rural", Organization: "Municipio de San Juan", PublicationDate: &closePub},
	}
	incoming := struct {
		ExpedientNumber  string
		LicitacionNumber string
		ContentHash      string
		Title            string
		Organization     string
		PublicationDate  *time.Time
	}{
		Title:           "Construccion Escuela Rural",
		Organization:    "Municipio de Mendoza",
		PublicationDate: &pub,
	}

	result, found := FindMatch(incoming, candidates)
	if !found {
		t.Fatal("expected a fuzzy title match within the date window and matching organization")
	}
	if result.Candidate.ID != "close" {
		t.Fatalf("expected the within-window candidate to win, got %s", result.Candidate.ID)
	}
}

func TestFindMatch_NoMatchWhenNothingLinesUp(t *testing.T) {
	candidates := []MatchCandidate{
		{ID: "a", ExpedientNumber: "EXP-999", Title: "Totally Unrelated Tender", Organization: "Other Org"},
	}
	incoming := struct {
		ExpedientNumber  string
		LicitacionNumber string
		ContentHash      string
		Title            string
		Organization     string
		PublicationDate  *time.Time
	}{ExpedientNumber: "EXP-001", Title: "Construccion de Ruta", Organization: "Vialidad Nacional"}

	_, found := FindMatch(incoming, candidates)
	if found {
		t.Fatal("expected no match when no key chain step lines up")
	}
}

func TestTokenSetSimilarity_IgnoresWordOrderAndDuplicates(t *testing.T) {
	sim := tokenSetSimilarity("obra vial ruta 7 ruta 7", "ruta 7 obra vial")
	if sim < 0.99 {
		t.Fatalf("expected near-1.0 similarity for reordered/deduplicated tokens, got %f", sim)
	}
}

func TestMergeScalars_PrefersLongerAndHigherURLQuality(t *testing.T) {
	merged := MergeScalars(
		"Obra Vial", "Municipio", "desc corta", licitacion.URLQualityPartial,
		"Obra Vial Ruta Nacional 7", "Municipio de Mendoza", "descripcion mas larga y completa", licitacion.URLQualityDirect,
	)
	if merged.Title != "Obra Vial Ruta Nacional 7" {
		t.Errorf("expected the longer title to win, got %q", merged.Title)
	}
	if merged.URLQuality != licitacion.URLQualityDirect {
		t.Errorf("expected direct url_quality to win over partial, got %s", merged.URLQuality)
	}
}

func TestMergeAttachedFiles_DedupesByURL(t *testing.T) {
	a := []licitacion.AttachedFile{{URL: "https://x/pliego.pdf"}}
	b := []licitacion.AttachedFile{{URL: "https://x/pliego.pdf"}, {URL: "https://x/anexo.pdf"}}

	merged := MergeAttachedFiles(a, b)
	if len(merged) != 2 {
		t.Fatalf("expected 2 unique attachments, got %d", len(merged))
	}
}

func TestMergeSourceURLs_WinningTakesPrecedenceOnCollision(t *testing.T) {
	winning := map[string]string{"mendoza_compras": "https://winning"}
	losing := map[string]string{"mendoza_compras": "https://losing", "boletin_oficial": "https://other"}

	merged := MergeSourceURLs(winning, losing)
	if merged["mendoza_compras"] != "https://winning" {
		t.Fatal("winning record's URL must survive a key collision")
	}
	if merged["boletin_oficial"] != "https://other" {
		t.Fatal("non-colliding keys from the losing record must still be kept")
	}
}
