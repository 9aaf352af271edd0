package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/martinsantos/licitometro-sub002/internal/db"
)

func main() {
	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, `
		SELECT scraper_name, status, items_found, items_saved, items_updated, items_duplicated, duration_seconds, started_at
		FROM scraper_runs ORDER BY started_at DESC LIMIT 10
	`)
	if err != nil {
		log.Fatal(err)
	}
	defer rows.Close()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Fuente", "Status", "Found", "Saved", "Updated", "Dup", "Duration(s)", "Started At"})

	for rows.Next() {
		var scraperName, status string
		var found, saved, updated, duplicated int
		var durationSeconds *float64
		var startedAt time.Time

		if err := rows.Scan(&scraperName, &status, &found, &saved, &updated, &duplicated, &durationSeconds, &startedAt); err != nil {
			log.Printf("scan error: %v", err)
			continue
		}

		duration := "running"
		if durationSeconds != nil {
			duration = time.Duration(*durationSeconds * float64(time.Second)).Round(time.Second).String()
		}

		t.AppendRow(table.Row{scraperName, status, found, saved, updated, duplicated, duration, startedAt.Format("2006-01-02 15:04:05")})
	}
	t.Render()
}
