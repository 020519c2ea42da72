package model

import (
	"encoding/json"
	"time"
)

// ScanStatus is the lifecycle state of a Scan.
type ScanStatus string

const (
	ScanPending       ScanStatus = "PENDING"
	ScanRunning       ScanStatus = "RUNNING"
	ScanCompleted     ScanStatus = "COMPLETED"
	ScanPaid          ScanStatus = "PAID"
	ScanRunningFull   ScanStatus = "RUNNING_FULL"
	ScanCompletedFull ScanStatus = "COMPLETED_FULL"
	ScanDelivered     ScanStatus = "DELIVERED"
	ScanFailed        ScanStatus = "FAILED"
)

// statusRank orders the non-failed states. FAILED sits outside the order.
var statusRank = map[ScanStatus]int{
	ScanPending:       0,
	ScanRunning:       1,
	ScanCompleted:     2,
	ScanPaid:          3,
	ScanRunningFull:   4,
	ScanCompletedFull: 5,
	ScanDelivered:     6,
}

// Valid reports whether s is a known status.
func (s ScanStatus) Valid() bool {
	if s == ScanFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further transition may leave s.
func (s ScanStatus) Terminal() bool {
	return s == ScanFailed || s == ScanDelivered
}

// CanTransition reports whether a scan in status from may move to status to.
// Transitions never go backwards; repeating the current status is allowed so
// a redelivered job can re-persist where it left off.
func CanTransition(from, to ScanStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() {
		return from == to && from != ScanFailed
	}
	if to == ScanFailed {
		return true
	}
	return statusRank[to] >= statusRank[from]
}

// AcceptsResult reports whether entering status may write a scan result.
func (s ScanStatus) AcceptsResult() bool {
	switch s {
	case ScanCompleted, ScanCompletedFull, ScanFailed:
		return true
	}
	return false
}

// Scan is one audit of a site. Created by the API edge (free scan) or by a
// scheduled recheck; never deleted by the pipeline.
type Scan struct {
	ID     string     `json:"id"`
	SiteID string     `json:"site_id"`
	Status ScanStatus `json:"status"`

	// Result is the persisted payload: a QuickResult, a ProcessedReport or an
	// ErrorResult depending on how the scan ended. Empty before completion.
	Result json.RawMessage `json:"result,omitempty"`

	// UserEmail is the delivery address for the full report.
	UserEmail string `json:"user_email,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
