package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AnalyzeEstado asks the LLM to judge a tender's lifecycle state from its
// title and description when the date-based resolver (ingest.computeEstado)
// had no opening_date to reason from. Only called as a fallback for records
// enrichment has just re-fetched detail text for; never a replacement for
// the deterministic resolver.
func AnalyzeEstado(ctx context.Context, client *OllamaClient, title, description string) (string, error) {
	prompt := fmt.Sprintf(`You are an expert analyst of Argentine public tender notices (licitaciones).
Determine the current lifecycle status of this tender from the text below, in Spanish public-procurement terms.

TITULO: %s
DESCRIPCION: %s

- If the text explicitly says the tender closed, was awarded ("adjudicada"), or the opening ("apertura") has already passed, return "vencida".
- If the text mentions an extension ("prorroga", "prorrogada") with a new, still-future opening date, return "prorrogada".
- If the text says the tender was archived, cancelled ("anulada"), or withdrawn, return "archivada".
- Otherwise, if it reads as currently open for bidding, return "vigente".

Return ONLY a JSON object:
{
  "estado": "vigente" | "vencida" | "prorrogada" | "archivada",
  "reason": "brief explanation"
}
`, title, description)

	resp, err := client.GenerateCompletion(ctx, prompt, true)
	if err != nil {
		return "vigente", err
	}

	var result struct {
		Estado string `json:"estado"`
		Reason string `json:"reason"`
	}

	if err := json.Unmarshal([]byte(resp), &result); err != nil {
		return "vigente", fmt.Errorf("failed to parse estado json: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(result.Estado)) {
	case "vencida", "expired", "closed":
		return "vencida", nil
	case "prorrogada", "extended":
		return "prorrogada", nil
	case "archivada", "archived", "cancelled", "anulada":
		return "archivada", nil
	case "vigente", "open", "active":
		return "vigente", nil
	}

	return "vigente", nil
}
