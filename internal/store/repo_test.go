package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholardock/pkg/database"
	"scholardock/pkg/models"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	db, err := database.OpenAndMigrate(database.Config{Path: filepath.Join(t.TempDir(), "store.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepo(db)
}

func intp(n int) *int { return &n }

func seedSearch(t *testing.T, r *Repo, titles ...string) (int64, []models.Article) {
	t.Helper()
	ctx := context.Background()

	id, err := r.CreateSearch(ctx, models.Search{Keyword: "graph learning"})
	require.NoError(t, err)

	articles := make([]models.Article, 0, len(titles))
	for _, title := range titles {
		articles = append(articles, models.Article{
			Title: title,
			AuthorLinks: []models.AuthorLink{
				{Name: "Ada Lovelace", HomepageURL: "https://ada.github.io"},
				{Name: "Alan Turing"},
			},
			Venue:     "NeurIPS",
			Year:      intp(2023),
			Citations: intp(12),
		})
	}
	require.NoError(t, r.SaveArticles(ctx, id, articles))
	return id, articles
}

func TestSaveAndListArticles_PreservesOrder(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)
	ctx := context.Background()

	searchID, saved := seedSearch(t, r, "First Paper", "Second Paper", "Third Paper")
	for _, a := range saved {
		assert.NotZero(t, a.ID)
	}

	got, err := r.ListArticles(ctx, searchID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "First Paper", got[0].Title)
	assert.Equal(t, "Third Paper", got[2].Title)
	assert.Equal(t, models.ExtractionNotStarted, got[0].ExtractionState)
	assert.Nil(t, got[0].AuthorEmails)
	require.Len(t, got[0].AuthorLinks, 2)
	assert.Equal(t, "https://ada.github.io", got[0].AuthorLinks[0].HomepageURL)
	require.NotNil(t, got[0].Year)
	assert.Equal(t, 2023, *got[0].Year)

	s, err := r.GetSearch(ctx, searchID)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 3, s.TotalResults)
}

func TestSaveExtraction_ReplacesWholeSet(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)
	ctx := context.Background()

	_, saved := seedSearch(t, r, "Only Paper")
	id := saved[0].ID

	first := []models.AuthorEmail{
		{Name: "Ada Lovelace", Email: models.StringPtr("ada@uni.edu"), Source: models.SourceHomepage},
		{Name: "Alan Turing", Source: models.SourceNotExtracted},
	}
	require.NoError(t, r.SaveExtraction(ctx, id, first, []string{"lab@uni.edu"}))

	second := []models.AuthorEmail{
		{Name: "Ada Lovelace", Source: models.SourceNotExtracted},
		{Name: "Alan Turing", Email: models.StringPtr("alan@uni.edu"), Source: models.SourceDocumentFallback},
	}
	require.NoError(t, r.SaveExtraction(ctx, id, second, nil))

	got, err := r.GetArticle(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.AuthorEmails, 2)
	assert.False(t, got.AuthorEmails[0].HasEmail())
	assert.Equal(t, "alan@uni.edu", got.AuthorEmails[1].Address())
	assert.Empty(t, got.FallbackEmails)
	assert.Equal(t, models.ExtractionDone, got.ExtractionState)
}

func TestExtractionState_AndMissingArticle(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)
	ctx := context.Background()

	_, saved := seedSearch(t, r, "Paper")
	require.NoError(t, r.SetExtractionState(ctx, saved[0].ID, models.ExtractionFailed, "network unavailable"))

	got, err := r.GetArticle(ctx, saved[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionFailed, got.ExtractionState)
	assert.Equal(t, "network unavailable", got.ExtractionError)

	missing, err := r.GetArticle(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.ErrorIs(t, r.SetExtractionState(ctx, 9999, models.ExtractionDone, ""), ErrArticleNotFound)
}

func TestDeleteSearch_CascadesArticles(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)
	ctx := context.Background()

	searchID, saved := seedSearch(t, r, "Doomed Paper")
	ok, err := r.DeleteSearch(ctx, searchID)
	require.NoError(t, err)
	assert.True(t, ok)

	a, err := r.GetArticle(ctx, saved[0].ID)
	require.NoError(t, err)
	assert.Nil(t, a)

	searches, err := r.ListSearches(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, searches)
}
