package contacted

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"scholardock/pkg/models"
)

// Registry is the durable ledger of who was emailed about what, and of
// which papers have already shown up in a completed search.
type Registry struct {
	DB *sql.DB
}

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{DB: db}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// NormalizeEmail is the key form used for every recipient lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasRecipient reports whether the address was ever contacted.
func (r *Registry) HasRecipient(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, psql.Select("1").From("contacted").
		Where(sq.Eq{"recipient_email": NormalizeEmail(email)}).Limit(1))
}

// HasPair reports whether the address was contacted about this paper.
func (r *Registry) HasPair(ctx context.Context, email, paperIdentity string) (bool, error) {
	return r.exists(ctx, psql.Select("1").From("contacted").
		Where(sq.Eq{"recipient_email": NormalizeEmail(email), "paper_identity": paperIdentity}).Limit(1))
}

// HasPaper reports whether the paper appeared in any earlier search.
func (r *Registry) HasPaper(ctx context.Context, paperIdentity string) (bool, error) {
	if paperIdentity == "" {
		return false, nil
	}
	return r.exists(ctx, psql.Select("1").From("seen_papers").
		Where(sq.Eq{"paper_identity": paperIdentity}).Limit(1))
}

func (r *Registry) exists(ctx context.Context, b sq.SelectBuilder) (bool, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return false, fmt.Errorf("build lookup: %w", err)
	}
	var one int
	err = r.DB.QueryRowContext(ctx, q, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup contacted: %w", err)
	}
	return true, nil
}

// Record appends (recipient, paper). It is committed before returning;
// recording the same pair twice is a no-op.
func (r *Registry) Record(ctx context.Context, email, paperIdentity, batchID string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("record contacted: empty recipient")
	}
	q, args, err := psql.Insert("contacted").
		Options("OR IGNORE").
		Columns("recipient_email", "paper_identity", "batch_id", "contacted_at").
		Values(email, paperIdentity, nullString(batchID), time.Now().UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert contacted: %w", err)
	}
	if _, err := r.DB.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert contacted: %w", err)
	}
	return nil
}

// RecordSearchPapers marks every identity as seen by searchID.
func (r *Registry) RecordSearchPapers(ctx context.Context, searchID int64, identities []string) error {
	ids := identities[:0:0]
	for _, id := range identities {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	b := psql.Insert("seen_papers").Options("OR IGNORE").
		Columns("paper_identity", "search_id", "seen_at")
	for _, id := range ids {
		b = b.Values(id, searchID, now)
	}
	q, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build insert seen papers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert seen papers: %w", err)
	}
	return tx.Commit()
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Page clamps a requested window to what List serves.
func Page(limit, offset int) (int, int) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// List returns the newest records first.
func (r *Registry) List(ctx context.Context, limit, offset int) ([]models.ContactedRecord, int, error) {
	limit, offset = Page(limit, offset)

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM contacted`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count contacted: %w", err)
	}

	q, args, err := psql.Select("recipient_email", "paper_identity", "batch_id", "contacted_at").
		From("contacted").
		OrderBy("contacted_at DESC", "id DESC").
		Limit(uint64(limit)).Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list contacted: %w", err)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query contacted: %w", err)
	}
	defer rows.Close()

	out := []models.ContactedRecord{}
	for rows.Next() {
		var rec models.ContactedRecord
		var batch sql.NullString
		if err := rows.Scan(&rec.RecipientEmail, &rec.PaperIdentity, &batch, &rec.ContactedAt); err != nil {
			return nil, 0, fmt.Errorf("scan contacted: %w", err)
		}
		rec.BatchID = batch.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows contacted: %w", err)
	}
	return out, total, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
