package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"scholardock/pkg/models"
)

var (
	ErrSearchNotFound  = errors.New("search not found")
	ErrArticleNotFound = errors.New("article not found")
)

// Repo is the persistent article/search store backed by SQLite.
type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

var articleColumns = []string{
	"id", "search_id", "title", "authors", "author_links", "author_emails",
	"fallback_emails", "extraction_state", "extraction_error", "venue",
	"publisher", "year", "citations", "citations_per_year", "description",
	"url", "pdf_url", "created_at",
}

func (r *Repo) CreateSearch(ctx context.Context, s models.Search) (int64, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	q, args, err := psql.Insert("searches").
		Columns("keyword", "start_year", "end_year", "total_results", "created_at").
		Values(s.Keyword, nullInt(s.StartYear), nullInt(s.EndYear), s.TotalResults, s.CreatedAt).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert search: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("insert search: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("search id: %w", err)
	}
	return id, nil
}

// SaveArticles inserts articles for a search in order and updates the
// search's total_results in the same transaction. The inserted ids are
// written back into the slice.
func (r *Repo) SaveArticles(ctx context.Context, searchID int64, articles []models.Article) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i := range articles {
		a := &articles[i]
		links, err := json.Marshal(nonNilLinks(a.AuthorLinks))
		if err != nil {
			return fmt.Errorf("marshal author links for %q: %w", a.Title, err)
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		a.SearchID = searchID
		if a.ExtractionState == "" {
			a.ExtractionState = models.ExtractionNotStarted
		}

		q, args, err := psql.Insert("articles").
			Columns("search_id", "position", "title", "paper_identity", "authors",
				"author_links", "extraction_state", "venue", "publisher", "year",
				"citations", "citations_per_year", "description", "url", "pdf_url", "created_at").
			Values(searchID, i, a.Title, a.PaperIdentity(), a.Authors,
				string(links), string(a.ExtractionState), a.Venue, a.Publisher, nullInt(a.Year),
				nullInt(a.Citations), a.CitationsPerYear, a.Description, a.URL, a.PDFURL, a.CreatedAt).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert article: %w", err)
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("insert article %q: %w", a.Title, err)
		}
		if a.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("article id: %w", err)
		}
	}

	q, args, err := psql.Update("searches").
		Set("total_results", len(articles)).
		Where(sq.Eq{"id": searchID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update search: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("update search total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetSearch returns nil, nil when the search does not exist.
func (r *Repo) GetSearch(ctx context.Context, id int64) (*models.Search, error) {
	q, args, err := psql.Select("id", "keyword", "start_year", "end_year", "total_results", "created_at").
		From("searches").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get search: %w", err)
	}

	s, err := scanSearch(r.DB.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan search: %w", err)
	}
	return s, nil
}

func (r *Repo) ListSearches(ctx context.Context, limit, offset int) ([]models.Search, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	q, args, err := psql.Select("id", "keyword", "start_year", "end_year", "total_results", "created_at").
		From("searches").
		OrderBy("id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list searches: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list searches: %w", err)
	}
	defer rows.Close()

	out := make([]models.Search, 0, limit)
	for rows.Next() {
		s, err := scanSearch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows searches: %w", err)
	}
	return out, nil
}

// DeleteSearch removes a search and, by cascade, its articles.
func (r *Repo) DeleteSearch(ctx context.Context, id int64) (bool, error) {
	q, args, err := psql.Delete("searches").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete search: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("delete search: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// GetArticle returns nil, nil when the article does not exist.
func (r *Repo) GetArticle(ctx context.Context, id int64) (*models.Article, error) {
	q, args, err := psql.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get article: %w", err)
	}

	a, err := scanArticle(r.DB.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan article: %w", err)
	}
	return a, nil
}

// ListArticles returns the articles of a search in provider order.
func (r *Repo) ListArticles(ctx context.Context, searchID int64) ([]models.Article, error) {
	q, args, err := psql.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"search_id": searchID}).
		OrderBy("position ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list articles: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var out []models.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows articles: %w", err)
	}
	return out, nil
}

func (r *Repo) SetExtractionState(ctx context.Context, articleID int64, state models.ExtractionState, errMsg string) error {
	q, args, err := psql.Update("articles").
		Set("extraction_state", string(state)).
		Set("extraction_error", nullString(errMsg)).
		Where(sq.Eq{"id": articleID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update state: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update extraction state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrArticleNotFound
	}
	return nil
}

// FailInterruptedExtractions moves every in_progress article to failed.
// Only call it when no extraction can be running, at startup.
func (r *Repo) FailInterruptedExtractions(ctx context.Context, reason string) (int64, error) {
	q, args, err := psql.Update("articles").
		Set("extraction_state", string(models.ExtractionFailed)).
		Set("extraction_error", nullString(reason)).
		Where(sq.Eq{"extraction_state": string(models.ExtractionInProgress)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build fail interrupted: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted extractions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SaveExtraction replaces the whole author email set of an article and
// marks it done in one statement. Entries are never merged with a previous
// extraction.
func (r *Repo) SaveExtraction(ctx context.Context, articleID int64, emails []models.AuthorEmail, fallback []string) error {
	if emails == nil {
		emails = []models.AuthorEmail{}
	}
	if fallback == nil {
		fallback = []string{}
	}
	emailsJSON, err := json.Marshal(emails)
	if err != nil {
		return fmt.Errorf("marshal author emails: %w", err)
	}
	fallbackJSON, err := json.Marshal(fallback)
	if err != nil {
		return fmt.Errorf("marshal fallback emails: %w", err)
	}

	q, args, err := psql.Update("articles").
		Set("author_emails", string(emailsJSON)).
		Set("fallback_emails", string(fallbackJSON)).
		Set("extraction_state", string(models.ExtractionDone)).
		Set("extraction_error", nil).
		Where(sq.Eq{"id": articleID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build save extraction: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrArticleNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSearch(row rowScanner) (*models.Search, error) {
	var (
		s         models.Search
		startYear sql.NullInt64
		endYear   sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.Keyword, &startYear, &endYear, &s.TotalResults, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.StartYear = intPtr(startYear)
	s.EndYear = intPtr(endYear)
	return &s, nil
}

func scanArticle(row rowScanner) (*models.Article, error) {
	var (
		a           models.Article
		authors     sql.NullString
		linksJSON   string
		emailsJSON  sql.NullString
		fallbackRaw sql.NullString
		state       string
		stateErr    sql.NullString
		venue       sql.NullString
		publisher   sql.NullString
		year        sql.NullInt64
		citations   sql.NullInt64
		description sql.NullString
		url         sql.NullString
		pdfURL      sql.NullString
	)

	if err := row.Scan(
		&a.ID, &a.SearchID, &a.Title, &authors, &linksJSON, &emailsJSON,
		&fallbackRaw, &state, &stateErr, &venue,
		&publisher, &year, &citations, &a.CitationsPerYear, &description,
		&url, &pdfURL, &a.CreatedAt,
	); err != nil {
		return nil, err
	}

	a.Authors = authors.String
	a.ExtractionState = models.ExtractionState(state)
	a.ExtractionError = stateErr.String
	a.Venue = venue.String
	a.Publisher = publisher.String
	a.Year = intPtr(year)
	a.Citations = intPtr(citations)
	a.Description = description.String
	a.URL = url.String
	a.PDFURL = pdfURL.String

	if err := json.Unmarshal([]byte(linksJSON), &a.AuthorLinks); err != nil {
		return nil, fmt.Errorf("decode author links: %w", err)
	}
	if emailsJSON.Valid {
		if err := json.Unmarshal([]byte(emailsJSON.String), &a.AuthorEmails); err != nil {
			return nil, fmt.Errorf("decode author emails: %w", err)
		}
	}
	if fallbackRaw.Valid {
		if err := json.Unmarshal([]byte(fallbackRaw.String), &a.FallbackEmails); err != nil {
			return nil, fmt.Errorf("decode fallback emails: %w", err)
		}
	}
	return &a, nil
}

func nonNilLinks(links []models.AuthorLink) []models.AuthorLink {
	if links == nil {
		return []models.AuthorLink{}
	}
	return links
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
