package model

import "time"

// Plan is an organization's subscription tier.
type Plan string

const (
	PlanNone  Plan = ""
	PlanBasic Plan = "basic"
	PlanPro   Plan = "pro"
)

// RecheckInterval returns how often sites of a plan are re-audited.
// Zero means no scheduled recheck.
func (p Plan) RecheckInterval() time.Duration {
	switch p {
	case PlanPro:
		return 7 * 24 * time.Hour
	case PlanBasic:
		return 30 * 24 * time.Hour
	}
	return 0
}

// Organization owns sites and receives scheduled reports.
type Organization struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	OwnerEmail string `json:"owner_email"`
	Plan       Plan   `json:"plan"`
	CreatedAt  int64  `json:"created_at"`
}

// Site is an audited website, unique by URL.
type Site struct {
	ID             string `json:"id"`
	URL            string `json:"url"`
	OrganizationID string `json:"organization_id,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	LastScanAt     int64  `json:"last_scan_at,omitempty"`
}
