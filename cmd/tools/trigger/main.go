package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
)

func main() {
	baseURL := flag.String("base-url", "http://localhost:8081", "API base URL")
	source := flag.String("source", "", "Source ID to trigger (e.g., mendoza_compras)")
	flag.Parse()

	if *source == "" {
		fmt.Println("Please provide a source ID using -source flag")
		os.Exit(1)
	}

	adminSecret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
	if adminSecret == "" {
		fmt.Println("Missing ADMIN_SECRET environment variable")
		os.Exit(1)
	}

	url := strings.TrimRight(*baseURL, "/") + "/api/scheduler/trigger/" + *source
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("X-Admin-Secret", adminSecret)

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	fmt.Printf("Response Status: %s\n", resp.Status)
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
