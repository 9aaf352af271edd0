package ingest

import (
	"testing"
	"time"

	"github.com/martinsantos/licitometro-sub002/internal/licitacion"
)

func date(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02", s, argentinaLocation)
	if err != nil {
		panic(err)
	}
	return t
}

func TestComputeEstado_ArchivedBeforeCutoff(t *testing.T) {
	pub := date("2024-06-01")
	now := date("2026-01-01")

	estado, _ := computeEstado(&pub, nil, nil, now)
	if estado != licitacion.EstadoArchivada {
		t.Fatalf("expected archivada for publication before 2025-01-01, got %s", estado)
	}
}

func TestComputeEstado_VigenteWhenOpeningInFuture(t *testing.T) {
	pub := date("2026-01-01")
	opening := date("2026-06-01")
	now := date("2026-03-01")

	estado, _ := computeEstado(&pub, &opening, nil, now)
	if estado != licitacion.EstadoVigente {
		t.Fatalf("expected vigente when opening_date is in the future, got %s", estado)
	}
}

func TestComputeEstado_VencidaWithoutProrroga(t *testing.T) {
	pub := date("2026-01-01")
	opening := date("2026-02-01")
	now := date("2026-03-01")

	estado, _ := computeEstado(&pub, &opening, nil, now)
	if estado != licitacion.EstadoVencida {
		t.Fatalf("expected vencida once opening_date has passed with no prorroga, got %s", estado)
	}
}

func TestComputeEstado_ProrrogadaWhenExtensionIsActive(t *testing.T) {
	pub := date("2026-01-01")
	opening := date("2026-02-01")
	prorroga := date("2026-04-01")
	now := date("2026-03-01")

	estado, reason := computeEstado(&pub, &opening, &prorroga, now)
	if estado != licitacion.EstadoProrrogada {
		t.Fatalf("expected prorrogada while fecha_prorroga is still in the future, got %s (%s)", estado, reason)
	}
}

func TestComputeEstado_RequireProrrogaDocumentGatesTheExtension(t *testing.T) {
	pub := date("2026-01-01")
	opening := date("2026-02-01")
	prorroga := date("2026-04-01")
	now := date("2026-03-01")

	RequireProrrogaDocument = true
	defer func() { RequireProrrogaDocument = false }()

	estado, _ := computeEstado(&pub, &opening, &prorroga, now)
	if estado != licitacion.EstadoVencida {
		t.Fatalf("expected vencida when RequireProrrogaDocument is set and no document confirms it, got %s", estado)
	}
}

func TestClassifyURLQuality(t *testing.T) {
	cases := map[string]licitacion.URLQuality{
		"direct":  licitacion.URLQualityDirect,
		"DIRECT":  licitacion.URLQualityDirect,
		"proxy":   licitacion.URLQualityProxy,
		"partial": licitacion.URLQualityPartial,
		"":        licitacion.URLQualityPartial,
	}
	for kind, want := range cases {
		if got := classifyURLQuality(kind); got != want {
			t.Errorf("classifyURLQuality(%q) = %s, want %s", kind, got, want)
		}
	}
}

func TestURLQualityRank_DirectBeatsProxyBeatsPartial(t *testing.T) {
	if urlQualityRank(licitacion.URLQualityDirect) <= urlQualityRank(licitacion.URLQualityProxy) {
		t.Fatal("direct must outrank proxy")
	}
	if urlQualityRank(licitacion.URLQualityProxy) <= urlQualityRank(licitacion.URLQualityPartial) {
		t.Fatal("proxy must outrank partial")
	}
}

func TestContentHash_IsDeterministicAndCaseInsensitive(t *testing.T) {
	pub := date("2026-05-01")
	a := contentHash("Obra Vial Ruta 7", "mendoza_compras", &pub)
	b := contentHash("obra vial ruta 7", "MENDOZA_COMPRAS", &pub)
	if a != b {
		t.Fatal("content hash must be case-insensitive over title and source")
	}

	c := contentHash("Obra Vial Ruta 7", "mendoza_compras", nil)
	if a == c {
		t.Fatal("content hash must differ when publication_date is unknown vs known")
	}
}
