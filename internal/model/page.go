package model

// PageStatus records how a crawled page ended.
type PageStatus string

const (
	PageVisited PageStatus = "visited"
	PageFailed  PageStatus = "failed"
)

// PageOutcome is the crawl coverage record for one URL of a scan.
type PageOutcome struct {
	URL        string     `json:"url"`
	Status     PageStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	Violations int        `json:"violations"`
	VisitedAt  int64      `json:"visited_at"`
}
