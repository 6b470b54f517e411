package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholardock/internal/contacted"
	"scholardock/internal/store"
	"scholardock/pkg/database"
	"scholardock/pkg/models"
)

func TestImportSearch_RestoresEmails(t *testing.T) {
	t.Parallel()
	db, err := database.OpenAndMigrate(database.Config{Path: filepath.Join(t.TempDir(), "import.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo, reg := store.NewRepo(db), contacted.NewRegistry(db)
	ctx := context.Background()

	articles := []models.Article{
		{
			Title:        "Graph Nets",
			AuthorEmails: []models.AuthorEmail{{Name: "Ada", Email: models.StringPtr("ada@uni.edu"), Source: models.SourceHomepage}},
		},
		{Title: "Plain Paper"},
	}
	id, err := importSearch(ctx, repo, reg, "graph nets", articles)
	require.NoError(t, err)

	got, err := repo.ListArticles(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.ExtractionDone, got[0].ExtractionState)
	require.Len(t, got[0].AuthorEmails, 1)
	assert.Equal(t, "ada@uni.edu", got[0].AuthorEmails[0].Address())
	assert.Equal(t, models.ExtractionNotStarted, got[1].ExtractionState)

	seen, err := reg.HasPaper(ctx, models.NormalizeTitle("Plain Paper"))
	require.NoError(t, err)
	assert.True(t, seen)
}
