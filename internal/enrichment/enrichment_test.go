package enrichment

import (
	"testing"

	"github.com/martinsantos/licitometro-sub002/internal/licitacion"
)

func TestAppendAttachmentIfNew_SkipsDuplicateURL(t *testing.T) {
	existing := []licitacion.AttachedFile{{Filename: "pliego.pdf", URL: "https://host/pliego.pdf"}}

	out := appendAttachmentIfNew(existing, "https://host/pliego.pdf")
	if len(out) != 1 {
		t.Fatalf("expected duplicate URL to be skipped, got %d entries", len(out))
	}
}

func TestAppendAttachmentIfNew_DerivesFilenameFromURL(t *testing.T) {
	out := appendAttachmentIfNew(nil, "https://host/docs/anexo-1.pdf")
	if len(out) != 1 {
		t.Fatalf("expected one new attachment, got %d", len(out))
	}
	if out[0].Filename != "anexo-1.pdf" {
		t.Errorf("expected filename derived from the URL's last path segment, got %q", out[0].Filename)
	}
	if out[0].Mime != "application/pdf" {
		t.Errorf("expected application/pdf mime, got %q", out[0].Mime)
	}
}

func TestLastSlash(t *testing.T) {
	if idx := lastSlash("https://host/a/b.pdf"); idx != len("https://host/a") {
		t.Errorf("expected index of last slash before b.pdf, got %d", idx)
	}
	if idx := lastSlash("no-slash-here"); idx != -1 {
		t.Errorf("expected -1 for a string with no slash, got %d", idx)
	}
}
