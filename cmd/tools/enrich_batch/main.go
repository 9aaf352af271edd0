package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type enrichResponse struct {
	ItemsScanned int `json:"ItemsScanned"`
	ItemsUpdated int `json:"ItemsUpdated"`
	PDFsParsed   int `json:"PDFsParsed"`
	Errors       int `json:"Errors"`
}

type roundMetric struct {
	Round      int
	HTTPStatus int
	Duration   time.Duration
	enrichResponse
	Error string
}

func main() {
	baseURL := flag.String("base-url", "http://localhost:8081", "API base URL")
	adminSecretFlag := flag.String("admin-secret", "", "Admin secret (or use ADMIN_SECRET env)")
	batchSize := flag.Int("batch-size", 50, "Batch size per request")
	maxRounds := flag.Int("max-rounds", 20, "Maximum number of batches to run")
	rateLimitMs := flag.Int("rate-limit-ms", 500, "Delay between rounds in milliseconds")
	timeoutSec := flag.Int("timeout-sec", 120, "HTTP timeout in seconds")
	dryRun := flag.Bool("dry-run", false, "Print planned calls only; do not execute")
	flag.Parse()

	adminSecret := strings.TrimSpace(*adminSecretFlag)
	if adminSecret == "" {
		adminSecret = strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
	}
	if adminSecret == "" {
		exitErr(errors.New("missing admin secret: use -admin-secret or ADMIN_SECRET env"))
	}
	if *batchSize <= 0 || *maxRounds <= 0 {
		exitErr(errors.New("batch-size and max-rounds must be > 0"))
	}

	client := &http.Client{Timeout: time.Duration(*timeoutSec) * time.Second}
	reqURL := buildURL(*baseURL, *batchSize)

	var metrics []roundMetric
	for round := 1; round <= *maxRounds; round++ {
		metric := roundMetric{Round: round}
		start := time.Now()

		if *dryRun {
			metric.Duration = time.Since(start)
			fmt.Printf("[DRY-RUN] round %d: %s\n", round, reqURL)
			metrics = append(metrics, metric)
			break
		}

		resp, statusCode, err := callEnrich(client, reqURL, adminSecret)
		metric.Duration = time.Since(start)
		metric.HTTPStatus = statusCode
		if err != nil {
			metric.Error = err.Error()
			metrics = append(metrics, metric)
			break
		}
		metric.enrichResponse = *resp
		metrics = append(metrics, metric)

		if resp.ItemsUpdated == 0 {
			break
		}
		if round < *maxRounds && *rateLimitMs > 0 {
			time.Sleep(time.Duration(*rateLimitMs) * time.Millisecond)
		}
	}

	printReport(metrics)
}

func buildURL(baseURL string, batchSize int) string {
	u, _ := url.Parse(strings.TrimRight(baseURL, "/") + "/api/scheduler/enrich")
	q := u.Query()
	q.Set("batch_size", strconv.Itoa(batchSize))
	u.RawQuery = q.Encode()
	return u.String()
}

func callEnrich(client *http.Client, reqURL, adminSecret string) (*enrichResponse, int, error) {
	req, err := http.NewRequest(http.MethodPost, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("X-Admin-Secret", adminSecret)

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var payload enrichResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &payload, resp.StatusCode, fmt.Errorf("http %d", resp.StatusCode)
	}
	return &payload, resp.StatusCode, nil
}

func printReport(metrics []roundMetric) {
	fmt.Println("\n=== Enrichment Batch Report ===")
	fmt.Printf("%-6s %-6s %-8s %-8s %-8s %-8s %s\n", "round", "http", "scanned", "updated", "pdfs", "errs", "error")

	totalScanned, totalUpdated, totalPDFs, totalErrs := 0, 0, 0, 0
	for _, m := range metrics {
		totalScanned += m.ItemsScanned
		totalUpdated += m.ItemsUpdated
		totalPDFs += m.PDFsParsed
		totalErrs += m.Errors

		fmt.Printf("%-6d %-6d %-8d %-8d %-8d %-8d %s\n",
			m.Round, m.HTTPStatus, m.ItemsScanned, m.ItemsUpdated, m.PDFsParsed, m.Errors, m.Error)
	}

	fmt.Printf("\nTotals: scanned=%d updated=%d pdfs=%d errors=%d rounds=%d\n",
		totalScanned, totalUpdated, totalPDFs, totalErrs, len(metrics))
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
