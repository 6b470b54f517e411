package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"scholardock/internal/export"
	"scholardock/internal/store"
	"scholardock/pkg/database"
	"scholardock/pkg/utils"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config (default $SCHOLARDOCK_CONFIG)")
		searchID   = flag.Int64("search", 0, "search id to export")
		format     = flag.String("format", "csv", "csv, json, excel or bibtex")
		out        = flag.String("out", "", "output path (default data/<generated name>)")
	)
	flag.Parse()

	if err := run(*configPath, *searchID, *format, *out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, searchID int64, rawFormat, out string) error {
	if searchID <= 0 {
		return fmt.Errorf("-search is required")
	}
	f, err := export.ParseFormat(rawFormat)
	if err != nil {
		return err
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

	repo := store.NewRepo(db)
	s, err := repo.GetSearch(ctx, searchID)
	if err != nil {
		return err
	}
	if s == nil {
		return store.ErrSearchNotFound
	}
	articles, err := repo.ListArticles(ctx, searchID)
	if err != nil {
		return err
	}

	if out == "" {
		out = filepath.Join("data", export.Filename(s.Keyword, f))
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	file, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := export.Write(file, f, articles); err != nil {
		file.Close()
		return fmt.Errorf("export search %d: %w", searchID, err)
	}
	if err := file.Close(); err != nil {
		return err
	}

	fmt.Printf("exported %d articles of search %d to %s\n", len(articles), searchID, out)
	return nil
}
