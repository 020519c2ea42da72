package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alouette-a11y/alouette/internal/model"
)

// CreateScan inserts a scan for siteID in status.
func (s *Store) CreateScan(ctx context.Context, siteID string, status model.ScanStatus) (*model.Scan, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	now := time.Now()
	scan := &model.Scan{
		ID:        uuid.New().String(),
		SiteID:    siteID,
		Status:    status,
		CreatedAt: time.Unix(now.Unix(), 0).UTC(),
		UpdatedAt: time.Unix(now.Unix(), 0).UTC(),
	}
	_, err := s.exec(ctx,
		`INSERT INTO scans (id, site_id, status, result, user_email, created_at, updated_at)
         VALUES (?, ?, ?, NULL, '', ?, ?)`,
		scan.ID, siteID, string(status), now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert scan: %w", err)
	}
	return scan, nil
}

// GetScan returns the scan with id.
func (s *Store) GetScan(ctx context.Context, id string) (*model.Scan, error) {
	row := s.queryRow(ctx,
		`SELECT id, site_id, status, result, user_email, created_at, updated_at
         FROM scans WHERE id = ? LIMIT 1`, id)
	scan, err := scanScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScanNotFound
	}
	return scan, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScan(row rowScanner) (*model.Scan, error) {
	var (
		scan             model.Scan
		status           string
		result           sql.NullString
		created, updated int64
	)
	if err := row.Scan(&scan.ID, &scan.SiteID, &status, &result, &scan.UserEmail, &created, &updated); err != nil {
		return nil, err
	}
	scan.Status = model.ScanStatus(status)
	if result.Valid && result.String != "" {
		scan.Result = json.RawMessage(result.String)
	}
	scan.CreatedAt = time.Unix(created, 0).UTC()
	scan.UpdatedAt = time.Unix(updated, 0).UTC()
	return &scan, nil
}

// maxTransitionAttempts bounds retries when a concurrent writer wins.
const maxTransitionAttempts = 5

// UpdateScanStatus moves scan id to status, writing result when non-nil.
// The update is a compare-and-swap on the current status, so two writers
// cannot interleave a backward move.
func (s *Store) UpdateScanStatus(ctx context.Context, id string, to model.ScanStatus, result json.RawMessage) (*model.Scan, error) {
	if result != nil && !to.AcceptsResult() {
		return nil, fmt.Errorf("%w: %s does not take a result", ErrInvalidTransition, to)
	}
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		cur, err := s.GetScan(ctx, id)
		if err != nil {
			return nil, err
		}
		if !model.CanTransition(cur.Status, to) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
		}

		now := time.Now().Unix()
		var res sql.Result
		if result != nil {
			res, err = s.exec(ctx,
				`UPDATE scans SET status = ?, result = ?, updated_at = ? WHERE id = ? AND status = ?`,
				string(to), string(result), now, id, string(cur.Status))
		} else {
			res, err = s.exec(ctx,
				`UPDATE scans SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
				string(to), now, id, string(cur.Status))
		}
		if err != nil {
			return nil, fmt.Errorf("update scan %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			cur.Status = to
			if result != nil {
				cur.Result = result
			}
			cur.UpdatedAt = time.Unix(now, 0).UTC()
			return cur, nil
		}
	}
	return nil, fmt.Errorf("%w: scan %s kept changing", ErrInvalidTransition, id)
}

// SetScanEmail records the delivery address of scan id.
func (s *Store) SetScanEmail(ctx context.Context, id, email string) error {
	res, err := s.exec(ctx, `UPDATE scans SET user_email = ?, updated_at = ? WHERE id = ?`, email, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("set scan email: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrScanNotFound
	}
	return nil
}

// ListScansForSite returns the scans of siteID, newest first.
func (s *Store) ListScansForSite(ctx context.Context, siteID string, limit int) ([]model.Scan, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx,
		`SELECT id, site_id, status, result, user_email, created_at, updated_at
         FROM scans WHERE site_id = ? ORDER BY created_at DESC, id LIMIT ?`, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Scan
	for rows.Next() {
		scan, err := scanScan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *scan)
	}
	return out, rows.Err()
}
