package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/probelab/scrutiny/dbopen"
)

// Schema is the evidence table DDL, idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS evidence (
	id          TEXT PRIMARY KEY,
	company     TEXT NOT NULL,
	category    TEXT NOT NULL,
	etype       TEXT NOT NULL,
	source      TEXT NOT NULL,
	payload     TEXT NOT NULL,
	confidence  REAL NOT NULL,
	relevance   REAL NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evidence_company_cat ON evidence(company, category, confidence DESC);
CREATE INDEX IF NOT EXISTS idx_evidence_company_created ON evidence(company, created_at DESC);
`

// Store persists Evidence Items in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore wraps db and ensures the schema exists.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("evidence: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append upserts items by id. Duplicate ids overwrite (last write wins);
// items are never rejected or silently dropped.
func (s *Store) Append(ctx context.Context, items ...Item) error {
	if len(items) == 0 {
		return nil
	}
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO evidence (id, company, category, etype, source, payload, confidence, relevance, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				company = excluded.company,
				category = excluded.category,
				etype = excluded.etype,
				source = excluded.source,
				payload = excluded.payload,
				confidence = excluded.confidence,
				relevance = excluded.relevance`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, it := range items {
			if it.ID == "" {
				return fmt.Errorf("evidence: item without id (type %q)", it.Type)
			}
			if it.Category == "" {
				it.Category = CategoryFor(it.Type)
			}
			src, err := json.Marshal(it.Source)
			if err != nil {
				return fmt.Errorf("marshal source: %w", err)
			}
			pay, err := json.Marshal(it.Payload)
			if err != nil {
				return fmt.Errorf("marshal payload: %w", err)
			}
			createdAt := it.Source.CollectedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}
			if _, err := stmt.ExecContext(ctx,
				it.ID, it.Company, string(it.Category), it.Type,
				string(src), string(pay), it.Confidence, it.Relevance,
				createdAt.UnixMilli()); err != nil {
				return fmt.Errorf("insert %s: %w", it.ID, err)
			}
		}
		return nil
	})
}

// ByCategory returns a company's items in one category, highest confidence
// first.
func (s *Store) ByCategory(ctx context.Context, company string, cat Category) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company, category, etype, source, payload, confidence, relevance
		FROM evidence WHERE company = ? AND category = ?
		ORDER BY confidence DESC, created_at ASC`, company, string(cat))
	if err != nil {
		return nil, fmt.Errorf("evidence: by category: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// Recent returns the n most recently collected items for a company,
// newest first.
func (s *Store) Recent(ctx context.Context, company string, n int) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company, category, etype, source, payload, confidence, relevance
		FROM evidence WHERE company = ?
		ORDER BY created_at DESC LIMIT ?`, company, n)
	if err != nil {
		return nil, fmt.Errorf("evidence: recent: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// Search matches a company's items whose type, summary, or raw payload
// contains the query, case-insensitively, highest confidence first.
func (s *Store) Search(ctx context.Context, company, query string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 50
	}
	pat := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company, category, etype, source, payload, confidence, relevance
		FROM evidence
		WHERE company = ? AND (etype LIKE ? OR payload LIKE ?)
		ORDER BY confidence DESC, created_at DESC LIMIT ?`, company, pat, pat, limit)
	if err != nil {
		return nil, fmt.Errorf("evidence: search: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// CountByType returns item counts per evidence type for a company.
func (s *Store) CountByType(ctx context.Context, company string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT etype, COUNT(*) FROM evidence WHERE company = ? GROUP BY etype`, company)
	if err != nil {
		return nil, fmt.Errorf("evidence: count by type: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("evidence: scan count: %w", err)
		}
		out[t] = n
	}
	return out, rows.Err()
}

// CountByCategory returns item counts per category for a company.
func (s *Store) CountByCategory(ctx context.Context, company string) (map[Category]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM evidence WHERE company = ? GROUP BY category`, company)
	if err != nil {
		return nil, fmt.Errorf("evidence: count by category: %w", err)
	}
	defer rows.Close()

	out := map[Category]int{}
	for rows.Next() {
		var c string
		var n int
		if err := rows.Scan(&c, &n); err != nil {
			return nil, fmt.Errorf("evidence: scan count: %w", err)
		}
		out[Category(c)] = n
	}
	return out, rows.Err()
}

// Count returns the total number of items for a company.
func (s *Store) Count(ctx context.Context, company string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evidence WHERE company = ?`, company).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("evidence: count: %w", err)
	}
	return n, nil
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		var it Item
		var cat, src, pay string
		if err := rows.Scan(&it.ID, &it.Company, &cat, &it.Type, &src, &pay,
			&it.Confidence, &it.Relevance); err != nil {
			return nil, fmt.Errorf("evidence: scan: %w", err)
		}
		it.Category = Category(cat)
		if err := json.Unmarshal([]byte(src), &it.Source); err != nil {
			return nil, fmt.Errorf("evidence: source json: %w", err)
		}
		if err := json.Unmarshal([]byte(pay), &it.Payload); err != nil {
			return nil, fmt.Errorf("evidence: payload json: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
