package store

import (
	"context"
	"fmt"

	"github.com/alouette-a11y/alouette/internal/model"
)

// RecordPages stores the crawl coverage of scanID, replacing earlier
// outcomes for the same URLs.
func (s *Store) RecordPages(ctx context.Context, scanID string, pages []model.PageOutcome) error {
	if len(pages) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO scan_pages (scan_id, url, status, error, violations, visited_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT (scan_id, url) DO UPDATE SET
             status = excluded.status,
             error = excluded.error,
             violations = excluded.violations,
             visited_at = excluded.visited_at`))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range pages {
		if _, err := stmt.ExecContext(ctx, scanID, p.URL, string(p.Status), p.Error, p.Violations, p.VisitedAt); err != nil {
			return fmt.Errorf("record page %s: %w", p.URL, err)
		}
	}
	return tx.Commit()
}

// ListPages returns the recorded outcomes of scanID ordered by visit time.
func (s *Store) ListPages(ctx context.Context, scanID string) ([]model.PageOutcome, error) {
	rows, err := s.query(ctx,
		`SELECT url, status, error, violations, visited_at
         FROM scan_pages WHERE scan_id = ? ORDER BY visited_at, url`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PageOutcome
	for rows.Next() {
		var (
			p      model.PageOutcome
			status string
		)
		if err := rows.Scan(&p.URL, &status, &p.Error, &p.Violations, &p.VisitedAt); err != nil {
			return nil, err
		}
		p.Status = model.PageStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}
