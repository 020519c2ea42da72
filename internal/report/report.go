// Package report turns mapped violations into a scored, narrated
// ProcessedReport.
package report

import (
	"context"
	"time"

	"github.com/alouette-a11y/alouette/internal/logging"
	"github.com/alouette-a11y/alouette/internal/model"
)

// Input is the crawl output handed to the synthesizer.
type Input struct {
	SiteURL      string
	Violations   []model.RawViolation
	PagesScanned []string
	PagesFailed  []string
}

type Synthesizer struct {
	narrator Narrator
	fallback Narrator
	logger   logging.Logger
	now      func() time.Time
}

// NewSynthesizer uses narrator for prose and falls back to the template
// narrative when it fails. A nil narrator means template only.
func NewSynthesizer(narrator Narrator, logger logging.Logger) *Synthesizer {
	return &Synthesizer{
		narrator: narrator,
		fallback: TemplateNarrator{},
		logger:   logger.With(logging.Field{Key: "component", Value: "report"}),
		now:      time.Now,
	}
}

// Synthesize groups and scores in.Violations and narrates the result. It
// does not fail: narrative errors degrade to the template narrative.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) *model.ProcessedReport {
	groups := Ranked(Group(in.Violations))
	if groups == nil {
		groups = []model.IssueGroup{}
	}
	counts := map[model.Impact]int{}
	for _, v := range in.Violations {
		counts[v.Impact]++
	}
	ni := NarrativeInput{
		SiteURL:      in.SiteURL,
		Score:        Score(in.Violations),
		Groups:       groups,
		PagesScanned: len(in.PagesScanned),
		ImpactCounts: counts,
	}

	source := model.NarrativeTemplate
	var narrative *Narrative
	if s.narrator != nil {
		n, err := s.narrator.Narrate(ctx, ni)
		if err != nil {
			s.logger.Warn("narrative fell back to template", logging.Err(err))
		} else {
			narrative, source = n, model.NarrativeLLM
		}
	}
	if narrative == nil {
		// TemplateNarrator never fails.
		narrative, _ = s.fallback.Narrate(ctx, ni)
	}

	for i := range groups {
		text, ok := narrative.Groups[groups[i].RuleID]
		if !ok {
			continue
		}
		if text.Title != "" {
			groups[i].Title = text.Title
		}
		if text.Explanation != "" {
			groups[i].Explanation = text.Explanation
		}
		if text.Remediation != "" {
			groups[i].Remediation = text.Remediation
		}
	}

	return &model.ProcessedReport{
		Score:            ni.Score,
		ExecutiveSummary: narrative.ExecutiveSummary,
		ScoreExplanation: narrative.ScoreExplanation,
		IssueGroups:      groups,
		PagesScanned:     in.PagesScanned,
		PagesFailed:      in.PagesFailed,
		NarrativeSource:  source,
		GeneratedAt:      s.now().UTC(),
	}
}
