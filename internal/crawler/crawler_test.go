package crawler_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/alouette-a11y/alouette/internal/crawler"
	"github.com/alouette-a11y/alouette/internal/evidence"
	"github.com/alouette-a11y/alouette/internal/model"
	"github.com/alouette-a11y/alouette/internal/ruleengine"
	"github.com/alouette-a11y/alouette/internal/testutil"
	"github.com/alouette-a11y/alouette/internal/utils"
)

const (
	pageA = "https://example.com/"
	pageB = "https://example.com/b"
	pageC = "https://example.com/c"
	pageD = "https://example.com/d"
)

func newCrawler(maxPages int, capture bool) *crawler.Crawler {
	logger := &testutil.DummyLogger{}
	var c evidence.Capturer
	if capture {
		c = evidence.NewNodeCapturer(0, logger)
	}
	return crawler.New(crawler.Config{MaxPages: maxPages}, &testutil.FakeEngine{}, c, logger)
}

func launch(t *testing.T, site *testutil.FakeSite) *testutil.FakeBrowser {
	t.Helper()
	l := &testutil.FakeLauncher{Site: site}
	b, err := l.Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	return b.(*testutil.FakeBrowser)
}

func sorted(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}

// ─── Budget ────────────────────────────────────────────────────────────

func TestCrawl_BudgetStopsBeforeD(t *testing.T) {
	t.Parallel()
	site := testutil.NewFakeSite(map[string]testutil.FakePageSpec{
		pageA: {HTML: `<a href="/b">B</a><a href="/c">C</a>`},
		pageB: {HTML: `<a href="/">A</a><a href="/d">D</a>`},
		pageC: {HTML: `<p>no links</p>`},
		pageD: {HTML: `<p>never</p>`},
	})
	b := launch(t, site)

	res, err := newCrawler(3, false).Crawl(context.Background(), b, "https://example.com", ruleengine.PolicyFull)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	var visited []string
	for _, p := range res.Visited {
		visited = append(visited, p.URL)
	}
	want := []string{pageA, pageB, pageC}
	if got := sorted(visited); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("visited = %v, want %v", got, want)
	}
	for _, u := range site.Visited() {
		if u == pageD {
			t.Fatalf("D must never be visited")
		}
	}
	if len(site.Visited()) != 3 {
		t.Errorf("expected 3 navigations, got %v", site.Visited())
	}
	for _, p := range b.Pages {
		if !p.Closed {
			t.Errorf("every page should be closed")
		}
	}
}

func TestCrawl_NeverRevisits(t *testing.T) {
	t.Parallel()
	site := testutil.NewFakeSite(map[string]testutil.FakePageSpec{
		pageA: {HTML: `<a href="/b">B</a><a href="/b#top">B again</a><a href="/">self</a>`},
		pageB: {HTML: `<a href="/">A</a><a href="/b/">B slash</a>`},
	})
	res, err := newCrawler(5, false).Crawl(context.Background(), launch(t, site), pageA, ruleengine.PolicyFull)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(res.Visited) != 2 || len(site.Visited()) != 2 {
		t.Fatalf("expected A and B exactly once, got %v", site.Visited())
	}
}

// ─── Scope ─────────────────────────────────────────────────────────────

func TestCrawl_OriginFiltering(t *testing.T) {
	t.Parallel()
	site := testutil.NewFakeSite(map[string]testutil.FakePageSpec{
		pageA: {HTML: `
			<a href="https://other.com/x">other</a>
			<a href="http://example.com/insecure">scheme</a>
			<a href="https://example.com:8443/port">port</a>
			<a href="https://sub.example.com/">sub</a>
			<a href="mailto:a@example.com">mail</a>
			<a href="javascript:void(0)">js</a>
			<a href="/c">C</a>`},
		pageC: {},
	})
	res, err := newCrawler(5, false).Crawl(context.Background(), launch(t, site), pageA, ruleengine.PolicyFull)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	got := site.Visited()
	if len(got) != 2 || got[1] != pageC {
		t.Fatalf("only in-origin links should be followed, got %v", got)
	}
	if len(res.Failed) != 0 {
		t.Errorf("unexpected failures %+v", res.Failed)
	}
}

func TestCrawl_RedirectOutOfScopeFails(t *testing.T) {
	t.Parallel()
	site := testutil.NewFakeSite(map[string]testutil.FakePageSpec{
		pageA: {HTML: `<a href="/b">B</a>`},
		pageB: {RedirectTo: "https://elsewhere.com/"},
	})
	res, err := newCrawler(5, false).Crawl(context.Background(), launch(t, site), pageA, ruleengine.PolicyFull)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(res.Failed) != 1 || res.Failed[0].URL != pageB {
		t.Fatalf("expected B to fail, got %+v", res.Failed)
	}
}

func TestCrawl_RedirectToAuditedPageIsNotCounted(t *testing.T) {
	t.Parallel()
	site := testutil.NewFakeSite(map[string]testutil.FakePageSpec{
		pageA: {HTML: `<a href="/b">B</a><a href="/c">C</a>`},
		pageB: {RedirectTo: pageA},
		pageC: {HTML: `<p>c</p>`},
	})
	res, err := newCrawler(5, false).Crawl(context.Background(), launch(t, site), pageA, ruleengine.PolicyFull)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	var visited []string
	for _, p := range res.Visited {
		visited = append(visited, p.URL)
	}
	want := []string{pageA, pageC}
	if got := sorted(visited); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("visited = %v, want %v", got, want)
	}
	if len(res.Failed) != 0 {
		t.Errorf("an alias is not a failure, got %+v", res.Failed)
	}
}

// ─── Failures ──────────────────────────────────────────────────────────

func TestCrawl_SkipsFailedPages(t *testing.T) {
	t.Parallel()
	site := testutil.NewFakeSite(map[string]testutil.FakePageSpec{
		pageA: {HTML: `<a href="/b">B</a><a href="/c">C</a>`},
		pageB: {NavigateErr: errors.New("timeout")},
		pageC: {Violations: []model.RawViolation{{RuleID: "list", Impact: model.ImpactSerious}}},
	})
	res, err := newCrawler(5, false).Crawl(context.Background(), launch(t, site), pageA, ruleengine.PolicyFull)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(res.Visited) != 2 || len(res.Failed) != 1 {
		t.Fatalf("visited=%d failed=%d", len(res.Visited), len(res.Failed))
	}
	f := res.Failed[0]
	if f.URL != pageB || f.Status != model.PageFailed || !strings.Contains(f.Error, "timeout") {
		t.Errorf("unexpected failure outcome %+v", f)
	}
	if len(res.Violations) != 1 || res.Violations[0].PageURL != pageC {
		t.Errorf("expected violation from C, got %+v", res.Violations)
	}
	if len(res.Pages()) != 3 {
		t.Errorf("Pages should list every outcome")
	}
}

func TestCrawl_AllPagesFailed(t *testing.T) {
	t.Parallel()
	site := testutil.NewFakeSite(map[string]testutil.FakePageSpec{
		pageA: {NavigateErr: errors.New("dns")},
	})
	_, err := newCrawler(5, false).Crawl(context.Background(), launch(t, site), pageA, ruleengine.PolicyFull)
	if !errors.Is(err, crawler.ErrNothingVisited) {
		t.Fatalf("expected ErrNothingVisited, got %v", err)
	}
}

func TestCrawl_RuleFailureIsPageLevel(t *testing.T) {
	t.Parallel()
	site := testutil.NewFakeSite(map[string]testutil.FakePageSpec{pageA: {}})
	logger := &testutil.DummyLogger{}
	c := crawler.New(crawler.Config{MaxPages: 5}, &testutil.FakeEngine{Err: errors.New("axe crashed")}, nil, logger)
	res, err := c.Crawl(context.Background(), launch(t, site), pageA, ruleengine.PolicyFull)
	if !errors.Is(err, crawler.ErrNothingVisited) {
		t.Fatalf("expected ErrNothingVisited, got %v", err)
	}
	if len(res.Failed) != 1 || !strings.Contains(res.Failed[0].Error, "axe crashed") {
		t.Fatalf("unexpected %+v", res.Failed)
	}
}

func TestCrawl_InvalidSeed(t *testing.T) {
	t.Parallel()
	if _, err := newCrawler(5, false).Crawl(context.Background(), launch(t, testutil.NewFakeSite(nil)), "not a url", ruleengine.PolicyFull); err == nil {
		t.Fatal("expected error")
	}
}

// ─── Evidence ──────────────────────────────────────────────────────────

func TestCrawl_CapturesEvidence(t *testing.T) {
	t.Parallel()
	site := testutil.NewFakeSite(map[string]testutil.FakePageSpec{
		pageA: {Violations: []model.RawViolation{
			{RuleID: "image-alt", Selector: "img"},
		}},
	})
	res, err := newCrawler(5, true).Crawl(context.Background(), launch(t, site), pageA, ruleengine.PolicyFull)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if string(res.Violations[0].Screenshot) != "png:img" {
		t.Errorf("expected screenshot, got %q", res.Violations[0].Screenshot)
	}
}

func TestCrawl_ScreenshotFailureKeepsViolation(t *testing.T) {
	t.Parallel()
	site := testutil.NewFakeSite(map[string]testutil.FakePageSpec{
		pageA: {
			ScreenshotErr: errors.New("node detached"),
			Violations:    []model.RawViolation{{RuleID: "label", Selector: "input"}},
		},
	})
	res, err := newCrawler(5, true).Crawl(context.Background(), launch(t, site), pageA, ruleengine.PolicyFull)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Screenshot != nil {
		t.Fatalf("violation should survive without screenshot: %+v", res.Violations)
	}
}

// ─── ExtractLinks ──────────────────────────────────────────────────────

func TestExtractLinks_HonorsBaseHref(t *testing.T) {
	t.Parallel()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<html><head><base href="/docs/"></head><body>
		<a href="intro">intro</a>
		<a href="intro">dup</a>
		<a href="/blog">blog</a>
		<a href="#frag">frag</a>
		</body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	scope, err := utils.NewScope("https://example.com/", utils.DefaultCanonicalizeOptions)
	if err != nil {
		t.Fatal(err)
	}
	got := crawler.ExtractLinks(doc, "https://example.com/page", scope)
	want := []string{"https://example.com/docs/intro", "https://example.com/blog"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", got, want)
	}
}
