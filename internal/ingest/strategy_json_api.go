package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
)

// JSONAPIStrategy fetches a paginated JSON listing endpoint and maps its
// records into RawRecord, trying a small set of common Spanish field names
// since each provincial API exposes its own schema (spec §4.3, category
// hint "light").
type JSONAPIStrategy struct{}

// jsonAPIPage is the shape every source is expected to expose, whether the
// payload is a bare array or wrapped in a pagination envelope.
type jsonAPIPage struct {
	Items      []map[string]interface{} `json:"items"`
	Data       []map[string]interface{} `json:"data"`
	Results    []map[string]interface{} `json:"results"`
	Licitaciones []map[string]interface{} `json:"licitaciones"`
	NextPage   string                    `json:"next_page"`
	HasMore    bool                      `json:"has_more"`
}

func (s *JSONAPIStrategy) Run(ctx context.Context, config SourceConfig, p *Pipeline) (IngestionStats, error) {
	stats := IngestionStats{}

	url := config.BaseURL
	seen := map[string]bool{}
	page := 0
	maxPages := config.MaxPages
	if maxPages == 0 {
		maxPages = 20
	}

	for page < maxPages {
		page++
		if url == "" || seen[url] {
			break
		}
		seen[url] = true

		doc, err := p.Fetcher.Fetch(ctx, url)
		if err != nil {
			return stats, fmt.Errorf("fetch failed at page %d: %w", page, err)
		}

		body, err := io.ReadAll(doc.Body)
		doc.Body.Close()
		if err != nil {
			return stats, fmt.Errorf("read failed at page %d: %w", page, err)
		}

		records, nextURL, err := decodeJSONAPIPage(body)
		if err != nil {
			return stats, fmt.Errorf("decode failed at page %d: %w", page, err)
		}

		stats.TotalFound += len(records)
		for _, item := range records {
			raw, ok := mapJSONRecord(item, config)
			if !ok {
				continue
			}
			if err := p.SaveRaw(ctx, raw, "direct"); err != nil {
				log.Printf("[%s] failed to save %q: %v", config.ID, raw.Title, err)
				stats.Errors++
			} else {
				stats.TotalSaved++
			}
		}

		if len(records) == 0 || nextURL == "" {
			break
		}
		url = nextURL
	}

	return stats, nil
}

func decodeJSONAPIPage(body []byte) ([]map[string]interface{}, string, error) {
	var bare []map[string]interface{}
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, "", nil
	}

	var page jsonAPIPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, "", err
	}
	switch {
	case len(page.Items) > 0:
		return page.Items, page.NextPage, nil
	case len(page.Data) > 0:
		return page.Data, page.NextPage, nil
	case len(page.Results) > 0:
		return page.Results, page.NextPage, nil
	case len(page.Licitaciones) > 0:
		return page.Licitaciones, page.NextPage, nil
	}
	return nil, "", nil
}

// mapJSONRecord tries several common Spanish field-name spellings, since
// each provincial compras API exposes its own schema.
func mapJSONRecord(item map[string]interface{}, config SourceConfig) (RawRecord, bool) {
	title := firstString(item, "titulo", "title", "objeto", "nombre", "descripcion_corta")
	if strings.TrimSpace(title) == "" {
		return RawRecord{}, false
	}

	externalURL := firstString(item, "url", "enlace", "link", "url_detalle")
	if externalURL == "" {
		return RawRecord{}, false
	}

	raw := RawRecord{
		Title:            title,
		ExternalURL:      CanonicalizeURL(externalURL),
		SourceDomain:     extractDomain(config.BaseURL),
		Jurisdiccion:     config.Jurisdiccion,
		Organization:     firstString(item, "organismo", "organizacion", "reparticion", "entidad"),
		Category:         firstString(item, "rubro", "categoria", "tipo"),
		Description:      firstString(item, "descripcion", "detalle", "objeto_completo"),
		RawPublication:   firstString(item, "fecha_publicacion", "fechaPublicacion", "publicado"),
		RawOpening:       firstString(item, "fecha_apertura", "fechaApertura", "apertura"),
		RawProrroga:      firstString(item, "fecha_prorroga", "fechaProrroga", "prorroga"),
		RawBudget:        firstString(item, "presupuesto", "monto", "monto_estimado"),
		ExpedientNumber:  firstString(item, "expediente", "numero_expediente", "nro_expediente"),
		LicitacionNumber: firstString(item, "numero_licitacion", "numero", "nro_licitacion", "id"),
		TipoProcedimiento: firstString(item, "tipo_procedimiento", "modalidad"),
	}

	return raw, true
}

func firstString(item map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := item[k]; ok {
			switch val := v.(type) {
			case string:
				if strings.TrimSpace(val) != "" {
					return strings.TrimSpace(val)
				}
			case float64:
				return fmt.Sprintf("%v", val)
			}
		}
	}
	return ""
}
