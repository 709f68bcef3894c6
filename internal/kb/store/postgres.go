package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"commandbridge/internal/kb/models"
	"commandbridge/internal/platform/database"
	"commandbridge/pkg/domain"
	"commandbridge/pkg/platform/pagination"
	"commandbridge/pkg/platform/sentinel"
)

// PostgresStore persists article versions in kb_articles. A partial unique
// index on (id) WHERE is_latest keeps one latest row per article.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const articleColumns = `id, version, title, slug, service, owner, category, tags, content,
	last_reviewed, created_at, created_by, updated_at, updated_by, is_latest`

// summaryColumns selects an empty content column for listings.
const summaryColumns = `id, version, title, slug, service, owner, category, tags, '' AS content,
	last_reviewed, created_at, created_by, updated_at, updated_by, is_latest`

func (s *PostgresStore) Create(ctx context.Context, a *models.Article) error {
	if a == nil {
		return fmt.Errorf("article is required")
	}
	err := database.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM kb_articles WHERE id = $1)`, a.ID.String()).Scan(&exists); err != nil {
			return fmt.Errorf("check article: %w", err)
		}
		if exists {
			return fmt.Errorf("article %s: %w", a.ID, sentinel.ErrAlreadyUsed)
		}
		return insertArticle(ctx, tx, a)
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("article %s: %w", a.ID, sentinel.ErrAlreadyUsed)
	}
	return err
}

func (s *PostgresStore) Latest(ctx context.Context, id domain.ArticleID) (*models.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM kb_articles WHERE id = $1 AND is_latest`
	a, err := scanArticle(s.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find latest article: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Version(ctx context.Context, id domain.ArticleID, version int) (*models.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM kb_articles WHERE id = $1 AND version = $2`
	a, err := scanArticle(s.db.QueryRowContext(ctx, query, id.String(), version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find article version: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Versions(ctx context.Context, id domain.ArticleID) ([]*models.Article, error) {
	query := `SELECT ` + summaryColumns + ` FROM kb_articles WHERE id = $1 ORDER BY version DESC`
	out, err := s.query(ctx, query, id.String())
	if err != nil {
		return nil, fmt.Errorf("list article versions: %w", err)
	}
	if len(out) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return out, nil
}

// Bump clears the latest marker on version next.Version-1 and inserts next
// in one transaction. If that version is no longer latest nothing is
// written and ErrConflict is returned.
func (s *PostgresStore) Bump(ctx context.Context, next *models.Article) error {
	if next == nil {
		return fmt.Errorf("article is required")
	}
	err := database.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE kb_articles SET is_latest = FALSE WHERE id = $1 AND version = $2 AND is_latest`,
			next.ID.String(), next.Version-1)
		if err != nil {
			return fmt.Errorf("clear latest marker: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("clear latest marker rows: %w", err)
		}
		if rows == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM kb_articles WHERE id = $1)`, next.ID.String()).Scan(&exists); err != nil {
				return fmt.Errorf("check article: %w", err)
			}
			if !exists {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("article %s moved past version %d: %w", next.ID, next.Version-1, sentinel.ErrConflict)
		}
		return insertArticle(ctx, tx, next)
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("article %s version %d: %w", next.ID, next.Version, sentinel.ErrConflict)
	}
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, id domain.ArticleID) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kb_articles WHERE id = $1`, id.String())
	if err != nil {
		return 0, fmt.Errorf("delete article: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete article rows: %w", err)
	}
	if rows == 0 {
		return 0, sentinel.ErrNotFound
	}
	return int(rows), nil
}

// List walks kb_articles_latest_idx in (updated_at, id) descending order.
func (s *PostgresStore) List(ctx context.Context, filter models.Filter, limit int, cursor *pagination.Cursor) ([]*models.Article, error) {
	conds := []string{"is_latest"}
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "$?", fmt.Sprintf("$%d", len(args))))
	}
	if filter.Service != "" {
		add("service = $?", filter.Service)
	}
	if filter.Category != "" {
		add("category = $?", filter.Category)
	}
	if filter.Search != "" {
		add(`(title ILIKE $? OR service ILIKE $? OR owner ILIKE $? OR tags::text ILIKE $?)`,
			"%"+escapeLike(filter.Search)+"%")
	}
	if !cursor.IsZero() {
		args = append(args, cursor.Time, cursor.Key)
		conds = append(conds, fmt.Sprintf("(updated_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	query := `SELECT ` + summaryColumns + ` FROM kb_articles WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY updated_at DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	out, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*models.Article, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.Article, 0)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return out, nil
}

func insertArticle(ctx context.Context, tx *sql.Tx, a *models.Article) error {
	tags, err := json.Marshal(nonNilTags(a.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO kb_articles (`+articleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, TRUE)
	`,
		a.ID.String(),
		a.Version,
		a.Title,
		a.Slug,
		a.Service,
		a.Owner,
		a.Category,
		tags,
		a.Content,
		a.LastReviewed,
		a.CreatedAt,
		a.CreatedBy.String(),
		a.UpdatedAt,
		a.UpdatedBy.String(),
	)
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

type articleRow interface {
	Scan(dest ...any) error
}

func scanArticle(row articleRow) (*models.Article, error) {
	var (
		a         models.Article
		id        string
		tags      []byte
		createdBy string
		updatedBy string
	)
	if err := row.Scan(&id, &a.Version, &a.Title, &a.Slug, &a.Service, &a.Owner, &a.Category, &tags,
		&a.Content, &a.LastReviewed, &a.CreatedAt, &createdBy, &a.UpdatedAt, &updatedBy, &a.IsLatest); err != nil {
		return nil, err
	}
	a.ID = domain.ArticleID(id)
	a.CreatedBy = domain.Email(createdBy)
	a.UpdatedBy = domain.Email(updatedBy)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if err := json.Unmarshal(tags, &a.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	a.Tags = nonNilTags(a.Tags)
	return &a, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
