package report_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/alouette-a11y/alouette/internal/model"
	"github.com/alouette-a11y/alouette/internal/report"
	"github.com/alouette-a11y/alouette/internal/rgaa"
	"github.com/alouette-a11y/alouette/internal/testutil"
)

func v(rule string, impact model.Impact) model.RawViolation {
	return model.RawViolation{RuleID: rule, Impact: impact, Description: rule + " desc", HTML: "<" + rule + ">"}
}

// ─── Score ─────────────────────────────────────────────────────────────

func TestScore_SeverityWeighted(t *testing.T) {
	t.Parallel()
	vs := []model.RawViolation{
		v("image-alt", model.ImpactCritical),
		v("image-alt", model.ImpactCritical),
		v("region", model.ImpactModerate),
	}
	if got := report.Score(vs); got != 89 {
		t.Fatalf("Score = %d, want 89", got)
	}
}

func TestScore_RangeAndMonotonicity(t *testing.T) {
	t.Parallel()
	impacts := []model.Impact{model.ImpactNone, model.ImpactMinor, model.ImpactModerate, model.ImpactSerious, model.ImpactCritical}
	var vs []model.RawViolation
	prev := report.Score(nil)
	if prev != 100 {
		t.Fatalf("empty score = %d, want 100", prev)
	}
	for i := 0; i < 60; i++ {
		vs = append(vs, v("r", impacts[i%len(impacts)]))
		got := report.Score(vs)
		if got < 0 || got > 100 {
			t.Fatalf("score %d out of range", got)
		}
		if got > prev {
			t.Fatalf("adding a violation increased the score %d -> %d", prev, got)
		}
		prev = got
	}
	if prev != 0 {
		t.Errorf("expected floor at 0, got %d", prev)
	}
}

// ─── Group ─────────────────────────────────────────────────────────────

func TestGroup_AggregatesByRule(t *testing.T) {
	t.Parallel()
	shot := model.RawViolation{RuleID: "image-alt", Impact: model.ImpactSerious, HTML: "<img b>", Screenshot: []byte("png")}
	vs := rgaa.Map([]model.RawViolation{
		v("color-contrast", model.ImpactModerate),
		v("image-alt", model.ImpactMinor),
		shot,
		v("image-alt", model.ImpactCritical),
		v("color-contrast", model.ImpactSerious),
	})

	groups := report.Group(vs)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	cc, img := groups[0], groups[1]
	if cc.RuleID != "color-contrast" || img.RuleID != "image-alt" {
		t.Fatalf("groups should keep first-seen order: %s, %s", cc.RuleID, img.RuleID)
	}
	if cc.Count != 2 || cc.Severity != model.ImpactSerious || cc.CriterionCode != "3.3" {
		t.Errorf("unexpected color-contrast group %+v", cc)
	}
	if img.Count != 3 || img.Severity != model.ImpactCritical {
		t.Errorf("unexpected image-alt group %+v", img)
	}
	if img.ExampleHTML != "<img b>" || string(img.Screenshot) != "png" {
		t.Errorf("representative should be the first occurrence with a screenshot, got %q", img.ExampleHTML)
	}
	if cc.ExampleHTML != "<color-contrast>" || cc.Screenshot != nil {
		t.Errorf("without screenshots the first occurrence is kept")
	}
	if !strings.Contains(cc.Title, "contraste") {
		t.Errorf("expected remediation-table title, got %q", cc.Title)
	}
}

func TestGroup_IsDeterministic(t *testing.T) {
	t.Parallel()
	vs := rgaa.Map([]model.RawViolation{v("a", model.ImpactMinor), v("b", model.ImpactSerious), v("a", model.ImpactCritical)})
	a, b := report.Group(vs), report.Group(vs)
	if len(a) != len(b) {
		t.Fatal("length mismatch")
	}
	for i := range a {
		if a[i].RuleID != b[i].RuleID || a[i].Count != b[i].Count || a[i].Severity != b[i].Severity {
			t.Fatalf("grouping differs at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestGroup_UnknownRuleFallsBackToDescription(t *testing.T) {
	t.Parallel()
	g := report.Group([]model.RawViolation{{RuleID: "x-rule", Help: "Do X", Description: "X is broken", HelpURL: "https://help/x"}})
	if g[0].Title != "Do X" || g[0].Explanation != "X is broken" || !strings.Contains(g[0].Remediation, "https://help/x") {
		t.Fatalf("unexpected fallback %+v", g[0])
	}
}

func TestQuick_TopThree(t *testing.T) {
	t.Parallel()
	vs := []model.RawViolation{
		v("minor-rule", model.ImpactMinor),
		v("moderate-rule", model.ImpactModerate),
		v("critical-rule", model.ImpactCritical),
		v("serious-rule", model.ImpactSerious),
	}
	q := report.Quick(vs)
	if q.Score != 100-5-2-1 {
		t.Errorf("Score = %d", q.Score)
	}
	var ids []string
	for _, i := range q.Issues {
		ids = append(ids, i.ID)
	}
	if strings.Join(ids, ",") != "critical-rule,serious-rule,moderate-rule" {
		t.Fatalf("unexpected issues %v", ids)
	}
	if q.Issues[0].Description != "critical-rule desc" {
		t.Errorf("description not carried: %+v", q.Issues[0])
	}
}

// ─── Synthesizer ───────────────────────────────────────────────────────

type stubNarrator struct {
	n   *report.Narrative
	err error
}

func (s stubNarrator) Narrate(context.Context, report.NarrativeInput) (*report.Narrative, error) {
	return s.n, s.err
}

func TestSynthesize_TemplateOnly(t *testing.T) {
	t.Parallel()
	s := report.NewSynthesizer(nil, &testutil.DummyLogger{})
	r := s.Synthesize(context.Background(), report.Input{
		SiteURL:      "https://example.com/",
		Violations:   rgaa.Map([]model.RawViolation{v("label", model.ImpactCritical)}),
		PagesScanned: []string{"https://example.com/"},
	})
	if r.Score != 95 || r.NarrativeSource != model.NarrativeTemplate {
		t.Fatalf("unexpected report %+v", r)
	}
	if !strings.Contains(r.ExecutiveSummary, "https://example.com/") || !strings.Contains(r.ScoreExplanation, "95/100") {
		t.Errorf("template narrative missing facts: %q / %q", r.ExecutiveSummary, r.ScoreExplanation)
	}
}

func TestSynthesize_EmptyReport(t *testing.T) {
	t.Parallel()
	r := report.NewSynthesizer(nil, &testutil.DummyLogger{}).Synthesize(context.Background(), report.Input{SiteURL: "https://a.b/"})
	if r.Score != 100 || r.IssueGroups == nil || len(r.IssueGroups) != 0 {
		t.Fatalf("unexpected empty report %+v", r)
	}
}

func TestSynthesize_MergesNarratorText(t *testing.T) {
	t.Parallel()
	n := &report.Narrative{
		ExecutiveSummary: "Résumé",
		ScoreExplanation: "Explication",
		Groups: map[string]report.GroupText{
			"label":   {Title: "Titre IA", Remediation: "Corriger"},
			"unknown": {Title: "ignored"},
		},
	}
	s := report.NewSynthesizer(stubNarrator{n: n}, &testutil.DummyLogger{})
	r := s.Synthesize(context.Background(), report.Input{
		Violations: rgaa.Map([]model.RawViolation{v("label", model.ImpactCritical), v("list", model.ImpactSerious)}),
	})
	if r.NarrativeSource != model.NarrativeLLM || r.ExecutiveSummary != "Résumé" {
		t.Fatalf("narrator output not used: %+v", r)
	}
	if r.IssueGroups[0].Title != "Titre IA" || r.IssueGroups[0].Remediation != "Corriger" {
		t.Errorf("group text not merged: %+v", r.IssueGroups[0])
	}
	if r.IssueGroups[0].Explanation == "" || r.IssueGroups[0].Count != 1 || r.Score != 93 {
		t.Errorf("structural fields must stay deterministic: %+v", r.IssueGroups[0])
	}
	if len(r.IssueGroups) != 2 {
		t.Errorf("narrator cannot add groups")
	}
}

func TestSynthesize_FallsBackOnNarratorError(t *testing.T) {
	t.Parallel()
	logger := &testutil.DummyLogger{}
	s := report.NewSynthesizer(stubNarrator{err: errors.New("timeout")}, logger)
	r := s.Synthesize(context.Background(), report.Input{Violations: []model.RawViolation{v("label", model.ImpactCritical)}})
	if r.NarrativeSource != model.NarrativeTemplate || r.ExecutiveSummary == "" {
		t.Fatalf("expected template fallback, got %+v", r)
	}
	if !logger.Logged("narrative fell back to template") {
		t.Errorf("fallback should be logged")
	}
}

// ─── LLMNarrator ───────────────────────────────────────────────────────

type fakePoster struct {
	content string
	err     error
	gotURL  string
	gotAuth string
}

func (f *fakePoster) PostJSON(_ context.Context, url string, headers http.Header, in, out any) error {
	f.gotURL = url
	f.gotAuth = headers.Get("Authorization")
	if f.err != nil {
		return f.err
	}
	body, err := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]string{"content": f.content}}},
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func TestLLMNarrator_ValidReply(t *testing.T) {
	t.Parallel()
	poster := &fakePoster{content: "```json\n" + `{"executiveSummary":"S","scoreExplanation":"E","issueGroups":[{"ruleId":"label","title":"T","explanation":"X","howToFix":"F"}]}` + "\n```"}
	n, err := report.NewLLMNarrator(report.LLMConfig{APIKey: "k"}, poster)
	if err != nil {
		t.Fatalf("NewLLMNarrator: %v", err)
	}
	out, err := n.Narrate(context.Background(), report.NarrativeInput{SiteURL: "https://a.b/"})
	if err != nil {
		t.Fatalf("Narrate: %v", err)
	}
	if out.ExecutiveSummary != "S" || out.Groups["label"].Remediation != "F" {
		t.Fatalf("unexpected narrative %+v", out)
	}
	if poster.gotURL != report.DefaultLLMConfig().Endpoint || poster.gotAuth != "Bearer k" {
		t.Errorf("unexpected request %s %s", poster.gotURL, poster.gotAuth)
	}
}

func TestLLMNarrator_RejectsMalformedReplies(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"not json":        "Voici le rapport !",
		"missing summary": `{"scoreExplanation":"E","issueGroups":[]}`,
		"wrong type":      `{"executiveSummary":"S","scoreExplanation":"E","issueGroups":"none"}`,
		"group missing":   `{"executiveSummary":"S","scoreExplanation":"E","issueGroups":[{"title":"T"}]}`,
	}
	for name, content := range cases {
		n, err := report.NewLLMNarrator(report.LLMConfig{APIKey: "k"}, &fakePoster{content: content})
		if err != nil {
			t.Fatalf("NewLLMNarrator: %v", err)
		}
		if _, err := n.Narrate(context.Background(), report.NarrativeInput{}); !errors.Is(err, report.ErrNarrative) {
			t.Errorf("%s: expected ErrNarrative, got %v", name, err)
		}
	}
}

func TestLLMNarrator_MalformedReplyFallsBack(t *testing.T) {
	t.Parallel()
	n, err := report.NewLLMNarrator(report.LLMConfig{APIKey: "k"}, &fakePoster{content: `{"oops":true}`})
	if err != nil {
		t.Fatalf("NewLLMNarrator: %v", err)
	}
	r := report.NewSynthesizer(n, &testutil.DummyLogger{}).Synthesize(context.Background(), report.Input{
		Violations: []model.RawViolation{v("label", model.ImpactSerious)},
	})
	if r.NarrativeSource != model.NarrativeTemplate {
		t.Fatalf("expected template fallback, got %s", r.NarrativeSource)
	}
}

func TestLLMNarrator_TransportError(t *testing.T) {
	t.Parallel()
	n, err := report.NewLLMNarrator(report.LLMConfig{APIKey: "k"}, &fakePoster{err: errors.New("503")})
	if err != nil {
		t.Fatalf("NewLLMNarrator: %v", err)
	}
	if _, err := n.Narrate(context.Background(), report.NarrativeInput{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewLLMNarrator_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := report.NewLLMNarrator(report.LLMConfig{}, &fakePoster{}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestStripFences(t *testing.T) {
	t.Parallel()
	if got := report.StripFences("```json\n{}\n```"); got != "{}" {
		t.Fatalf("StripFences = %q", got)
	}
}
