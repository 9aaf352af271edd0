package db

import (
	"strings"
	"testing"
	"time"
)

func TestBuildWhere_DefaultClauseIsPermissive(t *testing.T) {
	where, args := buildWhere(ListParams{}, "")

	if where != "WHERE 1=1" {
		t.Fatalf("expected no-op clause for empty params, got %q", where)
	}
	if len(args) != 0 {
		t.Fatalf("expected no args for empty params, got %v", args)
	}
}

func TestBuildWhere_CombinesActiveFilters(t *testing.T) {
	params := ListParams{
		Jurisdiccion: []string{"nacional", "mendoza"},
		Estado:       []string{"abierta"},
		OnlyNational: true,
		MinBudget:    1000,
	}

	where, args := buildWhere(params, "")

	mustContain := []string{
		"jurisdiccion = ANY($",
		"estado = ANY($",
		"jurisdiccion = 'nacional'",
		"budget >= $",
	}
	for _, token := range mustContain {
		if !strings.Contains(where, token) {
			t.Fatalf("where clause missing %q: %s", token, where)
		}
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 positional args (jurisdiccion, estado, min budget), got %d: %v", len(args), args)
	}
}

func TestBuildWhere_ExcludedFieldDropsItsOwnFilter(t *testing.T) {
	params := ListParams{
		Jurisdiccion: []string{"nacional"},
		Estado:       []string{"abierta"},
	}

	where, _ := buildWhere(params, "jurisdiccion")

	if strings.Contains(where, "jurisdiccion = ANY") {
		t.Fatalf("excluded field jurisdiccion must not appear in its own cross-facet clause: %s", where)
	}
	if !strings.Contains(where, "estado = ANY") {
		t.Fatalf("non-excluded filters must still apply: %s", where)
	}
}

func TestBuildWhere_FechaCampoDefaultsToPublicationDate(t *testing.T) {
	desde, err := time.Parse("2006-01-02", "2026-01-01")
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	params := ListParams{FechaDesde: &desde}

	where, _ := buildWhere(params, "")
	if !strings.Contains(where, "publication_date >=") {
		t.Fatalf("expected default fecha_campo to be publication_date: %s", where)
	}

	params.FechaCampo = "opening_date"
	where, _ = buildWhere(params, "")
	if !strings.Contains(where, "opening_date >=") {
		t.Fatalf("expected fecha_campo=opening_date to switch the date column: %s", where)
	}
}

func TestIsValidFacetField(t *testing.T) {
	valid := []string{"jurisdiccion", "tipo_procedimiento", "nodo", "estado", "category", "source", "organization", "workflow_state"}
	for _, f := range valid {
		if !isValidFacetField(f) {
			t.Errorf("expected %q to be a valid facet field", f)
		}
	}
	if isValidFacetField("title") {
		t.Error("title must not be a valid facet field (free text, not categorical)")
	}
}

func TestFacetCacheKey_VariesByFieldAndParams(t *testing.T) {
	a := facetCacheKey(ListParams{Jurisdiccion: []string{"nacional"}}, "estado")
	b := facetCacheKey(ListParams{Jurisdiccion: []string{"mendoza"}}, "estado")
	c := facetCacheKey(ListParams{Jurisdiccion: []string{"nacional"}}, "category")

	if a == b {
		t.Fatal("cache key must vary with filter params")
	}
	if a == c {
		t.Fatal("cache key must vary with the target facet field")
	}
}
