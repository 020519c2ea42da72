// Package crawler explores a site's same-origin link graph in a headless
// browser and collects the rule violations of every page it visits.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/alouette-a11y/alouette/internal/browser"
	"github.com/alouette-a11y/alouette/internal/evidence"
	"github.com/alouette-a11y/alouette/internal/logging"
	"github.com/alouette-a11y/alouette/internal/model"
	"github.com/alouette-a11y/alouette/internal/ruleengine"
	"github.com/alouette-a11y/alouette/internal/utils"
)

// Config bounds a crawl.
type Config struct {
	// MaxPages is the page budget. Failed pages count against it.
	MaxPages int `yaml:"max_pages"`

	NavigationTimeout time.Duration `yaml:"navigation_timeout"`

	// RequestsPerSecond throttles navigations; zero disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

func DefaultConfig() Config {
	return Config{
		MaxPages:          5,
		NavigationTimeout: 60 * time.Second,
		RequestsPerSecond: 2,
	}
}

// Result lists pages in visitation order and the violations harvested from
// the successful ones.
type Result struct {
	Visited    []model.PageOutcome
	Failed     []model.PageOutcome
	Violations []model.RawViolation
}

// Pages returns every outcome, visited first.
func (r *Result) Pages() []model.PageOutcome {
	out := make([]model.PageOutcome, 0, len(r.Visited)+len(r.Failed))
	out = append(out, r.Visited...)
	return append(out, r.Failed...)
}

var ErrNothingVisited = errors.New("no page could be audited")

// errAlias marks a page that redirected to a URL already audited.
var errAlias = errors.New("redirects to an audited page")

type Crawler struct {
	cfg      Config
	engine   ruleengine.Engine
	capturer evidence.Capturer
	limiter  *rate.Limiter
	logger   logging.Logger
}

// New returns a crawler. capturer may be nil to skip evidence capture.
func New(cfg Config, engine ruleengine.Engine, capturer evidence.Capturer, logger logging.Logger) *Crawler {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultConfig().MaxPages
	}
	if cfg.NavigationTimeout < 60*time.Second {
		cfg.NavigationTimeout = 60 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Crawler{
		cfg:      cfg,
		engine:   engine,
		capturer: capturer,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger.With(logging.Field{Key: "component", Value: "crawler"}),
	}
}

type crawlHelper struct {
	crawler *Crawler
	browser browser.Browser
	scope   *utils.Scope
	policy  ruleengine.Policy
	visited map[string]bool
	stack   []string
	result  *Result
}

func (c *Crawler) newCrawlHelper(b browser.Browser, seed string, policy ruleengine.Policy) (*crawlHelper, error) {
	scope, err := utils.NewScope(seed, utils.DefaultCanonicalizeOptions)
	if err != nil {
		return nil, fmt.Errorf("invalid seed %q: %w", seed, err)
	}
	root, err := scope.Canonical(seed)
	if err != nil {
		return nil, fmt.Errorf("invalid seed %q: %w", seed, err)
	}
	return &crawlHelper{
		crawler: c,
		browser: b,
		scope:   scope,
		policy:  policy,
		visited: map[string]bool{},
		stack:   []string{root},
		result:  &Result{},
	}, nil
}

// Crawl visits at most MaxPages distinct in-scope URLs starting at seed. A
// page that fails is recorded and skipped. The error is non-nil only when
// the seed is invalid, ctx ends, or no page at all could be audited.
func (c *Crawler) Crawl(ctx context.Context, b browser.Browser, seed string, policy ruleengine.Policy) (*Result, error) {
	helper, err := c.newCrawlHelper(b, seed, policy)
	if err != nil {
		return nil, err
	}
	if err := helper.run(ctx); err != nil {
		return helper.result, err
	}
	if len(helper.result.Visited) == 0 {
		return helper.result, fmt.Errorf("%w: %s", ErrNothingVisited, seed)
	}
	return helper.result, nil
}

func (h *crawlHelper) pop() string {
	last := len(h.stack) - 1
	u := h.stack[last]
	h.stack = h.stack[:last]
	return u
}

func (h *crawlHelper) run(ctx context.Context) error {
	attempts := 0
	for len(h.stack) > 0 && attempts < h.crawler.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := h.pop()
		if h.visited[target] {
			continue
		}
		h.visited[target] = true
		attempts++

		if err := h.crawler.limiter.Wait(ctx); err != nil {
			return err
		}

		links, outcome, vs, err := h.crawlPage(ctx, target)
		if errors.Is(err, errAlias) {
			h.crawler.logger.Debug("page is an alias",
				logging.Field{Key: "url", Value: target},
				logging.Err(err))
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.crawler.logger.Warn("page skipped",
				logging.Field{Key: "url", Value: target},
				logging.Err(err))
			outcome.Status = model.PageFailed
			outcome.Error = err.Error()
			h.result.Failed = append(h.result.Failed, outcome)
			continue
		}
		h.result.Visited = append(h.result.Visited, outcome)
		h.result.Violations = append(h.result.Violations, vs...)
		h.appendPages(links)
	}
	return nil
}

func (h *crawlHelper) appendPages(links []string) {
	for _, link := range links {
		if !h.visited[link] {
			h.stack = append(h.stack, link)
		}
	}
}

// crawlPage loads target on a fresh tab, runs the rules, extracts links and
// only then captures evidence.
func (h *crawlHelper) crawlPage(ctx context.Context, target string) ([]string, model.PageOutcome, []model.RawViolation, error) {
	outcome := model.PageOutcome{URL: target, VisitedAt: time.Now().Unix()}

	page, err := h.browser.NewPage(ctx)
	if err != nil {
		return nil, outcome, nil, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			h.crawler.logger.Debug("close page", logging.Err(cerr))
		}
	}()

	navCtx, cancel := context.WithTimeout(ctx, h.crawler.cfg.NavigationTimeout)
	err = page.Navigate(navCtx, target)
	cancel()
	if err != nil {
		return nil, outcome, nil, fmt.Errorf("navigate: %w", err)
	}

	final := target
	if loc, err := page.Location(ctx); err == nil && loc != "" {
		if canonical, err := h.scope.Canonical(loc); err == nil {
			final = canonical
		}
	}
	if final != target {
		if !h.scope.Contains(final) {
			return nil, outcome, nil, fmt.Errorf("redirected out of scope to %s", final)
		}
		if h.visited[final] {
			return nil, outcome, nil, fmt.Errorf("%w: %s", errAlias, final)
		}
		h.visited[final] = true
	}

	vs, err := h.crawler.engine.Run(ctx, page, h.policy)
	if err != nil {
		return nil, outcome, nil, fmt.Errorf("rules: %w", err)
	}
	for i := range vs {
		vs[i].PageURL = final
	}

	links, err := h.extractLinks(ctx, page, final)
	if err != nil {
		h.crawler.logger.Warn("link extraction failed",
			logging.Field{Key: "url", Value: final},
			logging.Err(err))
	}

	if h.crawler.capturer != nil {
		vs = h.crawler.capturer.Capture(ctx, page, vs)
	}

	outcome.Status = model.PageVisited
	outcome.Violations = len(vs)
	return links, outcome, vs, nil
}

func (h *crawlHelper) extractLinks(ctx context.Context, page browser.Page, pageURL string) ([]string, error) {
	markup, err := page.OuterHTML(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("couldn't parse %s: %w", pageURL, err)
	}
	return ExtractLinks(doc, pageURL, h.scope), nil
}

// ExtractLinks returns the distinct in-scope anchors of doc in document
// order, resolved against <base href> when present and pageURL otherwise.
func ExtractLinks(doc *goquery.Document, pageURL string, scope *utils.Scope) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}

	seen := map[string]bool{}
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok := scope.Resolve(base, href)
		if !ok || seen[link] {
			return
		}
		seen[link] = true
		links = append(links, link)
	})
	return links
}
