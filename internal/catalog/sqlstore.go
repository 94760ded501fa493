package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"promoagent/internal/domain"
)

// sortColumns maps sortable fields to SQL expressions. Empty end dates sort as
// open-ended, matching Query.
var sortColumns = map[string]string{
	"id":        "id",
	"title":     "title",
	"startDate": "start_date",
	"endDate":   "CASE WHEN end_date = '' THEN '" + openEnded + "' ELSE end_date END",
	"country":   "country",
	"slug":      "slug",
}

// SQLStore serves the catalog from a SQLite or libSQL database migrated with
// db.Migrate. Query errors are reported as ErrToolUnavailable.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database. db must not be nil.
func NewSQLStore(db *sql.DB) *SQLStore {
	if db == nil {
		panic("catalog: db must not be nil")
	}
	return &SQLStore{db: db}
}

// Import validates records and inserts them in one transaction, replacing
// rows with the same id.
func (s *SQLStore) Import(ctx context.Context, records []domain.Promotion) error {
	if err := CheckRecords(records); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog import: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO promotions
		(id, country, slug, title, content, start_date, end_date, related)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("catalog import: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		related, err := json.Marshal(r.Related)
		if err != nil {
			return fmt.Errorf("catalog import %d: %w", r.ID, err)
		}
		if r.Related == nil {
			related = []byte("{}")
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Country, r.Slug, r.Title, r.Content, r.StartDate, r.EndDate, string(related)); err != nil {
			return fmt.Errorf("catalog import %d: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// ListByCountry implements domain.PromotionSource.
func (s *SQLStore) ListByCountry(ctx context.Context, q domain.ListQuery) (*domain.ToolResponse, error) {
	field, desc := ParseSort(q.Sort)
	col, ok := sortColumns[field]
	if !ok {
		return nil, fmt.Errorf("catalog: unsupported sort field %q", field)
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM promotions WHERE country = ?`, q.Country).Scan(&total); err != nil {
		return nil, unavailable(err)
	}
	meta := domain.Meta{Page: q.Page, Limit: q.Limit, Total: total, TotalPages: TotalPages(total, q.Limit)}

	offset := (q.Page - 1) * q.Limit
	if q.Page < 1 || q.Limit < 1 || offset >= total {
		return domain.ListResponse(nil, meta)
	}

	query := fmt.Sprintf(`SELECT id, country, slug, title, content, start_date, end_date, related
		FROM promotions WHERE country = ? ORDER BY %s %s, id ASC LIMIT ? OFFSET ?`, col, dir)
	rows, err := s.db.QueryContext(ctx, query, q.Country, q.Limit, offset)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var page []domain.Promotion
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		page = append(page, p.Project(q.Include))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return domain.ListResponse(page, meta)
}

// GetByID implements domain.PromotionSource.
func (s *SQLStore) GetByID(ctx context.Context, id int, include []string) (*domain.ToolResponse, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, country, slug, title, content, start_date, end_date, related
		FROM promotions WHERE id = ?`, id)
	p, err := scanPromotion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrorResponse(domain.KindNotFound, ""), nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return domain.ItemResponse(p.Project(include))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPromotion(row scanner) (domain.Promotion, error) {
	var (
		p       domain.Promotion
		related string
	)
	if err := row.Scan(&p.ID, &p.Country, &p.Slug, &p.Title, &p.Content, &p.StartDate, &p.EndDate, &related); err != nil {
		return domain.Promotion{}, err
	}
	if related != "" && related != "{}" && related != "null" {
		if err := json.Unmarshal([]byte(related), &p.Related); err != nil {
			return domain.Promotion{}, fmt.Errorf("promotion %d related: %w", p.ID, err)
		}
	}
	return p, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrToolUnavailable, err)
}

var _ domain.PromotionSource = (*SQLStore)(nil)
