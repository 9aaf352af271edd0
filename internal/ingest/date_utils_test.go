package ingest

import (
	"testing"
)

func TestParseDate_ISOFormat(t *testing.T) {
	got, ok := parseDate("Publicado: 2026-05-14")
	if !ok {
		t.Fatal("expected ISO date to parse")
	}
	if got.Year() != 2026 || got.Month().String() != "May" || got.Day() != 14 {
		t.Fatalf("unexpected parsed date: %v", got)
	}
}

func TestParseDate_SlashFormatIsDayFirst(t *testing.T) {
	got, ok := parseDate("Fecha de apertura: 05/03/2026")
	if !ok {
		t.Fatal("expected slash date to parse")
	}
	if got.Day() != 5 || got.Month().String() != "March" {
		t.Fatalf("expected Argentine DD/MM order (day=5, month=March), got day=%d month=%s", got.Day(), got.Month())
	}
}

func TestParseDate_SpanishMonthName(t *testing.T) {
	got, ok := parseDate("Publicado el 3 de junio de 2026")
	if !ok {
		t.Fatal("expected Spanish month-name date to parse")
	}
	if got.Day() != 3 || got.Month().String() != "June" || got.Year() != 2026 {
		t.Fatalf("unexpected parsed date: %v", got)
	}
}

func TestParseDate_TwoDigitYearInWindow(t *testing.T) {
	got, ok := parseDate("Apertura: 10-11-26")
	if !ok {
		t.Fatal("expected two-digit year 26 to resolve to 2026")
	}
	if got.Year() != 2026 {
		t.Fatalf("expected year 2026, got %d", got.Year())
	}
}

func TestParseDate_RejectsYearOutsideWindow(t *testing.T) {
	if _, ok := parseDate("Publicado: 2023-01-01"); ok {
		t.Fatal("expected a year before 2024 to be rejected")
	}
	if _, ok := parseDate("Publicado: 2030-01-01"); ok {
		t.Fatal("expected a year after 2027 to be rejected")
	}
	if _, ok := parseDate("Apertura: 10-11-99"); ok {
		t.Fatal("expected two-digit year 99 (not in [24,27]) to be rejected")
	}
}

func TestParseArgentineBudget_DotThousandsCommaDecimal(t *testing.T) {
	val, currency, ok := ParseArgentineBudget("Presupuesto oficial: $ 1.234.567,89")
	if !ok {
		t.Fatal("expected budget to parse")
	}
	if val != 1234567.89 {
		t.Fatalf("expected 1234567.89, got %f", val)
	}
	if currency != "ARS" {
		t.Fatalf("expected ARS currency from the $ sign, got %s", currency)
	}
}

func TestParseArgentineBudget_USDDetection(t *testing.T) {
	_, currency, ok := ParseArgentineBudget("Monto: USD 50.000")
	if !ok {
		t.Fatal("expected budget to parse")
	}
	if currency != "USD" {
		t.Fatalf("expected USD currency, got %s", currency)
	}
}

func TestParseArgentineBudget_RejectsImplausibleMagnitude(t *testing.T) {
	_, _, ok := ParseArgentineBudget("$ 9.999.999.999.999")
	if ok {
		t.Fatal("expected an implausibly large amount to be rejected")
	}
}

func TestValidateOrder_OpeningBeforePublicationIsInvalid(t *testing.T) {
	pub := date("2026-05-01")
	opening := date("2026-04-01")

	if ok, reason := validateOrder(pub, opening); ok {
		t.Fatalf("expected opening-before-publication to be invalid, got ok with reason %q", reason)
	}
}

func TestValidateOrder_OpeningAfterPublicationIsValid(t *testing.T) {
	pub := date("2026-05-01")
	opening := date("2026-06-01")

	if ok, _ := validateOrder(pub, opening); !ok {
		t.Fatal("expected opening-after-publication to be valid")
	}
}
