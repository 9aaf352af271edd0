package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	rpdf "rsc.io/pdf"
)

// extractPDFText converts a PDF's byte content to its plain text, page by
// page. rsc.io/pdf panics on some malformed documents, so the recover
// mirrors the teacher's own defensive wrapper.
func extractPDFText(content []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		for _, fragment := range page.Content().Text {
			builder.WriteString(fragment.S)
			builder.WriteString(" ")
		}
		builder.WriteString("\n")
	}

	return builder.String(), nil
}

// extractPDFTextFromURL fetches a pliego/attachment PDF and returns its
// extracted text, for use by the detail fetcher (C9 enrichment) and by
// adapters scanning attachment filenames/content for date evidence (C4 step
// 7/4 of the resolution chains).
func extractPDFTextFromURL(ctx context.Context, fetcher Fetcher, pdfURL string) (string, error) {
	doc, err := fetcher.Fetch(ctx, pdfURL)
	if err != nil {
		return "", err
	}
	defer doc.Body.Close()

	content, err := io.ReadAll(doc.Body)
	if err != nil {
		return "", fmt.Errorf("pdf read failed: %w", err)
	}

	text, err := extractPDFText(content)
	if err != nil {
		return "", fmt.Errorf("pdf text extraction failed: %w", err)
	}

	return text, nil
}
