package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alouette-a11y/alouette/internal/model"
)

const siteColumns = `id, url, COALESCE(organization_id, ''), created_at, last_scan_at`

func scanSite(row rowScanner) (*model.Site, error) {
	var site model.Site
	if err := row.Scan(&site.ID, &site.URL, &site.OrganizationID, &site.CreatedAt, &site.LastScanAt); err != nil {
		return nil, err
	}
	return &site, nil
}

// UpsertSite returns the site for url, creating it on first sight. url is
// expected to be canonical.
func (s *Store) UpsertSite(ctx context.Context, url string) (*model.Site, error) {
	if url == "" {
		return nil, fmt.Errorf("site url is required")
	}
	_, err := s.exec(ctx,
		`INSERT INTO sites (id, url, created_at, last_scan_at) VALUES (?, ?, ?, 0)
         ON CONFLICT (url) DO NOTHING`,
		uuid.New().String(), url, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("upsert site: %w", err)
	}
	site, err := scanSite(s.queryRow(ctx, `SELECT `+siteColumns+` FROM sites WHERE url = ?`, url))
	if err != nil {
		return nil, fmt.Errorf("load site: %w", err)
	}
	return site, nil
}

// GetSite returns the site with id.
func (s *Store) GetSite(ctx context.Context, id string) (*model.Site, error) {
	site, err := scanSite(s.queryRow(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSiteNotFound
	}
	return site, err
}

// GetSiteForScan returns the site scan id belongs to.
func (s *Store) GetSiteForScan(ctx context.Context, scanID string) (*model.Site, error) {
	scan, err := s.GetScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	return s.GetSite(ctx, scan.SiteID)
}

// MarkSiteScanned records the time of the last scan of siteID.
func (s *Store) MarkSiteScanned(ctx context.Context, siteID string, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE sites SET last_scan_at = ? WHERE id = ?`, at.Unix(), siteID)
	if err != nil {
		return fmt.Errorf("mark site scanned: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSiteNotFound
	}
	return nil
}

// CreateOrganization inserts an organization.
func (s *Store) CreateOrganization(ctx context.Context, name, ownerEmail string, plan model.Plan) (*model.Organization, error) {
	org := &model.Organization{
		ID:         uuid.New().String(),
		Name:       name,
		OwnerEmail: ownerEmail,
		Plan:       plan,
		CreatedAt:  time.Now().Unix(),
	}
	_, err := s.exec(ctx,
		`INSERT INTO organizations (id, name, owner_email, plan, created_at) VALUES (?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.OwnerEmail, string(org.Plan), org.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert organization: %w", err)
	}
	return org, nil
}

// AssignSite attaches siteID to organization orgID.
func (s *Store) AssignSite(ctx context.Context, siteID, orgID string) error {
	res, err := s.exec(ctx, `UPDATE sites SET organization_id = ? WHERE id = ?`, orgID, siteID)
	if err != nil {
		return fmt.Errorf("assign site: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSiteNotFound
	}
	return nil
}

// FindOrganizationForSite returns the organization owning siteID.
func (s *Store) FindOrganizationForSite(ctx context.Context, siteID string) (*model.Organization, error) {
	var (
		org  model.Organization
		plan string
	)
	err := s.queryRow(ctx,
		`SELECT o.id, o.name, o.owner_email, o.plan, o.created_at
         FROM organizations o JOIN sites s ON s.organization_id = o.id
         WHERE s.id = ?`, siteID,
	).Scan(&org.ID, &org.Name, &org.OwnerEmail, &plan, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, err
	}
	org.Plan = model.Plan(plan)
	return &org, nil
}

// DueSite is a site whose recheck is due, with its owner.
type DueSite struct {
	Site         model.Site
	Organization model.Organization
}

// ListSitesDueForRecheck returns sites of subscribed organizations whose
// plan interval has elapsed since their last scan.
func (s *Store) ListSitesDueForRecheck(ctx context.Context, now time.Time) ([]DueSite, error) {
	rows, err := s.query(ctx,
		`SELECT s.id, s.url, s.organization_id, s.created_at, s.last_scan_at,
                o.id, o.name, o.owner_email, o.plan, o.created_at
         FROM sites s JOIN organizations o ON s.organization_id = o.id
         WHERE o.plan <> ''
         ORDER BY s.last_scan_at, s.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DueSite
	for rows.Next() {
		var (
			d    DueSite
			plan string
		)
		if err := rows.Scan(&d.Site.ID, &d.Site.URL, &d.Site.OrganizationID, &d.Site.CreatedAt, &d.Site.LastScanAt,
			&d.Organization.ID, &d.Organization.Name, &d.Organization.OwnerEmail, &plan, &d.Organization.CreatedAt); err != nil {
			return nil, err
		}
		d.Organization.Plan = model.Plan(plan)
		interval := d.Organization.Plan.RecheckInterval()
		if interval == 0 {
			continue
		}
		if d.Site.LastScanAt == 0 || !time.Unix(d.Site.LastScanAt, 0).Add(interval).After(now) {
			out = append(out, d)
		}
	}
	return out, rows.Err()
}
