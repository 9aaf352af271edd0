package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/martinsantos/licitometro-sub002/internal/ai"
	"github.com/martinsantos/licitometro-sub002/internal/db"
	"github.com/martinsantos/licitometro-sub002/internal/enrichment"
	"github.com/martinsantos/licitometro-sub002/internal/ingest"
)

type output struct {
	ItemsScanned   int `json:"items_scanned"`
	ItemsUpdated   int `json:"items_updated"`
	PDFsParsed     int `json:"pdfs_parsed"`
	Errors         int `json:"errors"`
	EstadosGuessed int `json:"estados_guessed_by_ai"`
	EstadosMarked  int `json:"estados_recomputed"`
}

func main() {
	batchSize := flag.Int("batch-size", 300, "enrichment batch size")
	recomputeBatch := flag.Int("recompute-batch", 500, "estado recompute batch size")
	flag.Parse()

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	store := db.NewStore(pool)

	ollamaHost := os.Getenv("OLLAMA_HOST")
	if ollamaHost == "" {
		ollamaHost = "http://localhost:11434"
	}
	aiClient := ai.NewOllamaClient(ollamaHost, "", "")

	runner := enrichment.NewRunner(store, nil, aiClient)
	stats, err := runner.RunBatch(ctx, *batchSize)
	if err != nil {
		log.Fatalf("enrichment batch failed: %v", err)
	}

	pipeline := ingest.NewPipeline(pool, nil, nil)
	estadosMarked, err := pipeline.RecomputeEstados(ctx, *recomputeBatch)
	if err != nil {
		log.Fatalf("estado recompute failed: %v", err)
	}

	result := output{
		ItemsScanned:   stats.ItemsScanned,
		ItemsUpdated:   stats.ItemsUpdated,
		PDFsParsed:     stats.PDFsParsed,
		Errors:         stats.Errors,
		EstadosGuessed: stats.EstadosGuessed,
		EstadosMarked:  estadosMarked,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
