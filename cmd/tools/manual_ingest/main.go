package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/martinsantos/licitometro-sub002/internal/db"
	"github.com/martinsantos/licitometro-sub002/internal/ingest"
)

func main() {
	sourceID := flag.String("source", "", "Source ID to ingest (e.g., mendoza_compras)")
	registryPath := flag.String("registry", "internal/ingest/config/sources.yaml", "Path to sources.yaml fallback")
	flag.Parse()

	if *sourceID == "" {
		log.Fatal("Please provide a source ID using -source flag")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	registry, err := ingest.LoadRegistry(*registryPath)
	if err != nil {
		log.Fatalf("Failed to load source registry: %v", err)
	}

	var config *ingest.SourceConfig
	for i := range registry.Sources {
		if registry.Sources[i].ID == *sourceID {
			config = &registry.Sources[i]
			break
		}
	}
	if config == nil {
		log.Fatalf("Source %q not found in registry", *sourceID)
	}

	pipeline := ingest.NewPipeline(pool, nil, nil)

	log.Printf("Starting manual ingestion for source: %s", *sourceID)
	stats, err := pipeline.RunSource(ctx, *config)
	if err != nil {
		log.Fatalf("Ingestion failed: %v", err)
	}

	fmt.Printf("Ingestion finished for %s. Found: %d, Saved: %d, Errors: %d\n",
		*sourceID, stats.TotalFound, stats.TotalSaved, stats.Errors)
}
