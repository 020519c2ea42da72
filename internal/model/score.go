package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Impact is the rule engine's severity for a violation. The empty value means
// the engine reported none.
type Impact string

const (
	ImpactNone     Impact = ""
	ImpactMinor    Impact = "minor"
	ImpactModerate Impact = "moderate"
	ImpactSerious  Impact = "serious"
	ImpactCritical Impact = "critical"
)

// Rank orders impacts from none (0) to critical (4).
func (i Impact) Rank() int {
	switch i {
	case ImpactMinor:
		return 1
	case ImpactModerate:
		return 2
	case ImpactSerious:
		return 3
	case ImpactCritical:
		return 4
	}
	return 0
}

// Criterion is an RGAA criterion a rule maps to.
type Criterion struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// RawViolation is one rule failure observed on one page. It lives only for
// the duration of a job.
type RawViolation struct {
	RuleID      string `json:"ruleId"`
	Impact      Impact `json:"impact,omitempty"`
	Description string `json:"description"`

	// Help is the rule's short title.
	Help    string `json:"help,omitempty"`
	HelpURL string `json:"helpUrl"`

	// HTML and Selector describe the first offending node.
	HTML     string `json:"html"`
	Selector string `json:"selector,omitempty"`

	PageURL string `json:"pageUrl"`

	// Screenshot is a PNG of the offending node, empty when capture failed.
	Screenshot []byte `json:"screenshot,omitempty"`

	Criterion Criterion `json:"criterion"`
}

// IssueGroup aggregates every occurrence of one rule across the crawl.
type IssueGroup struct {
	RuleID        string `json:"ruleId"`
	Title         string `json:"title"`
	CriterionCode string `json:"criterionCode"`
	CriterionName string `json:"criterionName"`
	Severity      Impact `json:"severity,omitempty"`
	Count         int    `json:"count"`
	Explanation   string `json:"explanation"`
	Remediation   string `json:"remediation"`
	HelpURL       string `json:"helpUrl,omitempty"`
	ExampleHTML   string `json:"exampleHtml"`

	// Screenshot encodes as base64 in JSON.
	Screenshot []byte `json:"screenshot,omitempty"`
}

// Narrative source values recorded on a ProcessedReport.
const (
	NarrativeTemplate = "template"
	NarrativeLLM      = "llm"
)

// ProcessedReport is the canonical full-audit result persisted on a scan.
type ProcessedReport struct {
	Score            int          `json:"score"`
	ExecutiveSummary string       `json:"executiveSummary"`
	ScoreExplanation string       `json:"scoreExplanation"`
	IssueGroups      []IssueGroup `json:"issueGroups"`
	PagesScanned     []string     `json:"pagesScanned,omitempty"`
	PagesFailed      []string     `json:"pagesFailed,omitempty"`
	NarrativeSource  string       `json:"narrativeSource,omitempty"`
	GeneratedAt      time.Time    `json:"generatedAt"`
}

// Issue is one entry of the free scan teaser.
type Issue struct {
	ID          string `json:"id"`
	Impact      Impact `json:"impact,omitempty"`
	Description string `json:"description"`
	HelpURL     string `json:"helpUrl"`
}

// QuickResult is the lightweight free-scan result.
type QuickResult struct {
	Score  int     `json:"score"`
	Issues []Issue `json:"issues"`
}

// ErrorResult is persisted when a scan fails.
type ErrorResult struct {
	Error string `json:"error"`
}

// Result is the decoded form of a persisted scan result. Exactly one field
// is set.
type Result struct {
	Full  *ProcessedReport
	Quick *QuickResult
	Err   *ErrorResult
}

var ErrUnknownResult = errors.New("unknown result shape")

// DecodeResult discriminates a persisted result by its fields: issueGroups
// marks a full report, issues a quick result, error a failure.
func DecodeResult(raw json.RawMessage) (*Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	switch {
	case fields["issueGroups"] != nil:
		var r ProcessedReport
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		return &Result{Full: &r}, nil
	case fields["issues"] != nil:
		var r QuickResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		return &Result{Quick: &r}, nil
	case fields["error"] != nil:
		var r ErrorResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		return &Result{Err: &r}, nil
	}
	return nil, ErrUnknownResult
}
