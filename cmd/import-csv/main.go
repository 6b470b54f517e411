package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scholardock/internal/contacted"
	"scholardock/internal/export"
	"scholardock/internal/store"
	"scholardock/pkg/database"
	"scholardock/pkg/models"
	"scholardock/pkg/utils"
)

// import-csv loads a CSV written by the export command as a new search.
// Author emails in the file are restored so the search can be dispatched
// without extracting again.
func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config (default $SCHOLARDOCK_CONFIG)")
		in         = flag.String("in", "", "input CSV path")
		keyword    = flag.String("keyword", "", "keyword recorded for the imported search (default file name)")
	)
	flag.Parse()

	if err := run(*configPath, *in, *keyword); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, in, keyword string) error {
	if in == "" {
		return fmt.Errorf("-in is required")
	}
	if keyword == "" {
		keyword = strings.TrimSuffix(strings.TrimPrefix(filepath.Base(in), "scholar_results_"), ".csv")
	}

	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()
	articles, err := export.ReadCSV(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", in, err)
	}

	cfg, err := utils.Load(configPath)
	if err != nil {
		return err
	}
	dbCfg := database.DefaultConfig()
	if cfg.Database.Path != "" {
		dbCfg.Path = cfg.Database.Path
	}
	db, err := database.OpenAndMigrate(dbCfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	id, err := importSearch(ctx, store.NewRepo(db), contacted.NewRegistry(db), keyword, articles)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d articles from %s as search %d\n", len(articles), in, id)
	return nil
}

func importSearch(ctx context.Context, repo *store.Repo, seen *contacted.Registry, keyword string, articles []models.Article) (int64, error) {
	id, err := repo.CreateSearch(ctx, models.Search{Keyword: keyword, CreatedAt: time.Now().UTC()})
	if err != nil {
		return 0, err
	}
	if err := repo.SaveArticles(ctx, id, articles); err != nil {
		_, _ = repo.DeleteSearch(ctx, id)
		return 0, err
	}

	identities := make([]string, 0, len(articles))
	for _, a := range articles {
		identities = append(identities, a.PaperIdentity())
		if len(a.AuthorEmails) == 0 && len(a.FallbackEmails) == 0 {
			continue
		}
		if err := repo.SaveExtraction(ctx, a.ID, a.AuthorEmails, a.FallbackEmails); err != nil {
			return id, fmt.Errorf("restore emails for %q: %w", a.Title, err)
		}
	}
	if err := seen.RecordSearchPapers(ctx, id, identities); err != nil {
		return id, err
	}
	return id, nil
}
