package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/martinsantos/licitometro-sub002/internal/api"
	"github.com/martinsantos/licitometro-sub002/internal/db"
	"github.com/martinsantos/licitometro-sub002/internal/ingest"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
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

	srv := api.NewServer(pool)

	registry, err := ingest.LoadRegistry("internal/ingest/config/sources.yaml")
	if err != nil {
		log.Fatalf("Failed to load source registry: %v", err)
	}
	if err := srv.Scheduler.LoadAndSchedule(ctx, registry); err != nil {
		log.Printf("scheduler: partial load: %v", err)
	}
	srv.Scheduler.Start()

	go runHealthLoop(ctx, srv)

	log.Printf("Server starting on port %s...", port)
	if err := srv.Start(port); err != nil {
		log.Fatal(err)
	}
}

// runHealthLoop runs the health/auto-pause sweep every 30 minutes (spec §4.8).
func runHealthLoop(ctx context.Context, srv *api.Server) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := srv.Health.RunOnce(ctx); err != nil {
				log.Printf("health monitor: %v", err)
			}
		}
	}
}
