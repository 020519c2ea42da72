package report

import (
	"sort"

	"github.com/alouette-a11y/alouette/internal/model"
)

// Group aggregates mapped violations by rule id in first-seen order. A
// group's severity is the highest impact among its occurrences and its
// example is the first occurrence with a screenshot, else the first one.
func Group(vs []model.RawViolation) []model.IssueGroup {
	index := map[string]int{}
	var groups []model.IssueGroup
	hasShot := map[string]bool{}

	for _, v := range vs {
		i, ok := index[v.RuleID]
		if !ok {
			a := adviceFor(v)
			index[v.RuleID] = len(groups)
			groups = append(groups, model.IssueGroup{
				RuleID:        v.RuleID,
				Title:         a.Title,
				CriterionCode: v.Criterion.Code,
				CriterionName: v.Criterion.Name,
				Severity:      v.Impact,
				Count:         1,
				Explanation:   a.Explanation,
				Remediation:   a.Remediation,
				HelpURL:       v.HelpURL,
				ExampleHTML:   v.HTML,
				Screenshot:    v.Screenshot,
			})
			hasShot[v.RuleID] = len(v.Screenshot) > 0
			continue
		}

		g := &groups[i]
		g.Count++
		if v.Impact.Rank() > g.Severity.Rank() {
			g.Severity = v.Impact
		}
		if !hasShot[v.RuleID] && len(v.Screenshot) > 0 {
			g.ExampleHTML = v.HTML
			g.Screenshot = v.Screenshot
			hasShot[v.RuleID] = true
		}
	}
	return groups
}

// Ranked returns a copy of groups ordered by severity then count, stable on
// first-seen order.
func Ranked(groups []model.IssueGroup) []model.IssueGroup {
	out := append([]model.IssueGroup(nil), groups...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return out[i].Count > out[j].Count
	})
	return out
}

// Quick builds the free-scan teaser: the score and the three most severe
// rules.
func Quick(vs []model.RawViolation) model.QuickResult {
	top := Ranked(Group(vs))
	if len(top) > 3 {
		top = top[:3]
	}
	issues := make([]model.Issue, 0, len(top))
	descriptions := map[string]string{}
	for _, v := range vs {
		if _, ok := descriptions[v.RuleID]; !ok {
			descriptions[v.RuleID] = v.Description
		}
	}
	for _, g := range top {
		issues = append(issues, model.Issue{
			ID:          g.RuleID,
			Impact:      g.Severity,
			Description: descriptions[g.RuleID],
			HelpURL:     g.HelpURL,
		})
	}
	return model.QuickResult{Score: Score(vs), Issues: issues}
}
