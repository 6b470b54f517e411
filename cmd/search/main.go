package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"scholardock/internal/app"
	"scholardock/internal/search"
	"scholardock/pkg/logger"
	"scholardock/pkg/utils"
)

// search runs one search against the configured provider and stores it,
// without going through the API server.
func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config (default $SCHOLARDOCK_CONFIG)")
		provider   = flag.String("provider", "", "search provider base URL (overrides config)")
		num        = flag.Int("num", 20, "number of results to keep")
		startYear  = flag.Int("start-year", 0, "earliest publication year")
		endYear    = flag.Int("end-year", 0, "latest publication year")
		sortBy     = flag.String("sort", search.SortCitations, "citations, citations_per_year or year")
		byTitle    = flag.Bool("filter-title", false, "keep only papers whose title contains every keyword term")
		excludeDup = flag.Bool("exclude-duplicates", false, "drop papers already returned by an earlier search")
		asJSON     = flag.Bool("json", false, "print the stored search as JSON")
	)
	flag.Parse()

	keyword := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if keyword == "" {
		fmt.Fprintln(os.Stderr, "usage: search [flags] KEYWORD...")
		os.Exit(2)
	}

	req := search.Request{
		Keyword:           keyword,
		NumResults:        *num,
		SortBy:            *sortBy,
		FilterByTitle:     *byTitle,
		ExcludeDuplicates: *excludeDup,
	}
	if *startYear > 0 {
		req.StartYear = startYear
	}
	if *endYear > 0 {
		req.EndYear = endYear
	}

	if err := run(*configPath, *provider, req, *asJSON); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, provider string, req search.Request, asJSON bool) error {
	cfg, err := utils.Load(configPath)
	if err != nil {
		return err
	}
	if provider != "" {
		cfg.Search.ProviderURL = provider
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := app.New(cfg, log, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Search.Timeout+time.Minute)
	defer cancel()

	s, err := a.Search.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	fmt.Printf("search %d: %q, %d results\n", s.ID, s.Keyword, s.TotalResults)
	for i, art := range s.Articles {
		year := ""
		if art.Year != nil {
			year = fmt.Sprintf(" (%d)", *art.Year)
		}
		cites := 0
		if art.Citations != nil {
			cites = *art.Citations
		}
		fmt.Printf("%3d. [%d] %s%s  %d citations, %.2f/yr\n", i+1, art.ID, art.Title, year, cites, art.CitationsPerYear)
	}
	return nil
}
