package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/alouette-a11y/alouette/internal/model"
)

// NarrativeInput is what a narrator sees of a report.
type NarrativeInput struct {
	SiteURL      string
	Score        int
	Groups       []model.IssueGroup
	PagesScanned int

	// ImpactCounts counts raw occurrences per impact.
	ImpactCounts map[model.Impact]int
}

// GroupText is the narrated text of one issue group.
type GroupText struct {
	Title       string
	Explanation string
	Remediation string
}

// Narrative is the prose of a report. Groups is keyed by rule id; rules
// missing from it keep their default text.
type Narrative struct {
	ExecutiveSummary string
	ScoreExplanation string
	Groups           map[string]GroupText
}

// Narrator writes the prose of a report.
type Narrator interface {
	Narrate(ctx context.Context, in NarrativeInput) (*Narrative, error)
}

var _ Narrator = TemplateNarrator{}

// TemplateNarrator produces a deterministic French narrative.
type TemplateNarrator struct{}

func (TemplateNarrator) Narrate(_ context.Context, in NarrativeInput) (*Narrative, error) {
	return &Narrative{
		ExecutiveSummary: templateSummary(in),
		ScoreExplanation: templateScoreExplanation(in),
	}, nil
}

func templateSummary(in NarrativeInput) string {
	if len(in.Groups) == 0 {
		return fmt.Sprintf("Aucun problème d'accessibilité n'a été détecté automatiquement sur %s (%s analysée(s)).",
			in.SiteURL, pagesLabel(in.PagesScanned))
	}
	total := 0
	for _, g := range in.Groups {
		total += g.Count
	}
	top := Ranked(in.Groups)
	if len(top) > 3 {
		top = top[:3]
	}
	titles := make([]string, 0, len(top))
	for _, g := range top {
		titles = append(titles, strings.ToLower(g.Title))
	}
	return fmt.Sprintf("Nous avons relevé %d problème(s) répartis en %d catégorie(s) sur %s (%s analysée(s)). Les points prioritaires concernent : %s.",
		total, len(in.Groups), in.SiteURL, pagesLabel(in.PagesScanned), strings.Join(titles, " ; "))
}

func templateScoreExplanation(in NarrativeInput) string {
	counts := in.ImpactCounts
	return fmt.Sprintf("Le score de %d/100 part de 100 points et retire %d point(s) par problème critique, %d par problème sérieux et %d par problème modéré. Nous avons relevé %d critique(s), %d sérieux et %d modéré(s).",
		in.Score,
		Weight(model.ImpactCritical), Weight(model.ImpactSerious), Weight(model.ImpactModerate),
		counts[model.ImpactCritical], counts[model.ImpactSerious], counts[model.ImpactModerate])
}

func pagesLabel(n int) string {
	if n == 1 {
		return "1 page"
	}
	return fmt.Sprintf("%d pages", n)
}
