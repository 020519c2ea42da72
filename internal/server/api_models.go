package server

import (
	"encoding/json"
	"time"

	"github.com/alouette-a11y/alouette/internal/model"
)

// QuickScanRequest asks for a free single-page scan.
type QuickScanRequest struct {
	URL string `json:"url" example:"https://www.mairie-exemple.fr"`
}

// FullReportRequest triggers the paid audit of a completed free scan.
type FullReportRequest struct {
	Email string `json:"email" example:"contact@mairie-exemple.fr"`
}

// FullReportResponse acknowledges a queued full report.
type FullReportResponse struct {
	ScanID string           `json:"scanId"`
	JobID  string           `json:"jobId"`
	Status model.ScanStatus `json:"status" example:"PAID"`
}

// ScanResponse is the public view of a scan. Result is a QuickResult, a
// ProcessedReport or an ErrorResult depending on Status.
type ScanResponse struct {
	ID        string              `json:"id"`
	SiteID    string              `json:"siteId"`
	Status    model.ScanStatus    `json:"status" example:"COMPLETED"`
	Result    json.RawMessage     `json:"result,omitempty" swaggertype:"object"`
	Pages     []model.PageOutcome `json:"pages,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error  string `json:"error" example:"not found"`
	ScanID string `json:"scanId,omitempty"`
}

// HealthResponse reports whether the store is reachable.
type HealthResponse struct {
	Status string `json:"status" example:"healthy"`
	Reason string `json:"reason,omitempty"`
}
