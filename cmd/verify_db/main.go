package main

import (
	"context"
	"fmt"
	"log"

	"github.com/martinsantos/licitometro-sub002/internal/db"
)

func main() {
	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	var count, expedientCount, canonicalCount, directCount int
	err = pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(expedient_number),
			count(canonical_url),
			count(*) FILTER (WHERE url_quality = 'direct')
		FROM licitaciones
	`).Scan(&count, &expedientCount, &canonicalCount, &directCount)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Printf("Total licitaciones: %d\n", count)
	fmt.Printf("With expedient number: %d\n", expedientCount)
	fmt.Printf("With canonical URL: %d\n", canonicalCount)
	fmt.Printf("With direct url_quality: %d\n", directCount)

	rows, err := pool.Query(ctx, `
		SELECT jurisdiccion, count(*) FROM licitaciones GROUP BY jurisdiccion ORDER BY count(*) DESC
	`)
	if err != nil {
		log.Fatalf("Jurisdiccion query failed: %v", err)
	}
	defer rows.Close()

	fmt.Println("\nBy jurisdiccion:")
	for rows.Next() {
		var jurisdiccion string
		var n int
		if err := rows.Scan(&jurisdiccion, &n); err != nil {
			log.Printf("scan error: %v", err)
			continue
		}
		fmt.Printf("  %-20s %d\n", jurisdiccion, n)
	}
}
