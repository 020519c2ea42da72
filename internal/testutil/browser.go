package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/alouette-a11y/alouette/internal/browser"
	"github.com/alouette-a11y/alouette/internal/model"
	"github.com/alouette-a11y/alouette/internal/ruleengine"
)

// ─── Browser ───────────────────────────────────────────────────────────

// FakePageSpec describes how one URL behaves in a FakeSite.
type FakePageSpec struct {
	HTML string

	// RedirectTo, when set, is reported by Location after navigation.
	RedirectTo string

	NavigateErr   error
	ScreenshotErr error
	Violations    []model.RawViolation
}

// FakeSite is an in-memory website served to FakePages.
type FakeSite struct {
	mu    sync.Mutex
	Pages map[string]FakePageSpec

	// Navigations records every URL navigated to, in order.
	Navigations []string
}

func NewFakeSite(pages map[string]FakePageSpec) *FakeSite {
	return &FakeSite{Pages: pages}
}

func (s *FakeSite) lookup(url string) (FakePageSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Pages[url]
	return p, ok
}

func (s *FakeSite) record(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Navigations = append(s.Navigations, url)
}

// Visited returns a copy of the navigation log.
func (s *FakeSite) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Navigations...)
}

// FakeLauncher implements browser.Launcher. The first FailLaunches calls
// return LaunchErr (or a generic error).
type FakeLauncher struct {
	Site         *FakeSite
	FailLaunches int
	LaunchErr    error

	mu       sync.Mutex
	Launches int
	Browsers []*FakeBrowser
}

func (l *FakeLauncher) Launch(ctx context.Context) (browser.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Launches++
	if l.Launches <= l.FailLaunches {
		if l.LaunchErr != nil {
			return nil, l.LaunchErr
		}
		return nil, errors.New("fake browser failed to start")
	}
	b := &FakeBrowser{Site: l.Site}
	l.Browsers = append(l.Browsers, b)
	return b, nil
}

// AllClosed reports whether every launched browser was closed.
func (l *FakeLauncher) AllClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.Browsers {
		if !b.IsClosed() {
			return false
		}
	}
	return true
}

// FakeBrowser implements browser.Browser over a FakeSite.
type FakeBrowser struct {
	Site *FakeSite

	mu     sync.Mutex
	closed bool
	Pages  []*FakePage

	// PDF is returned by PrintPDF on its pages.
	PDF []byte
}

func (b *FakeBrowser) NewPage(ctx context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("browser closed")
	}
	p := &FakePage{site: b.Site, browser: b}
	b.Pages = append(b.Pages, p)
	return p, nil
}

func (b *FakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *FakeBrowser) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// FakePage implements browser.Page. EvalFunc, when set, handles Evaluate;
// otherwise Evaluate decodes true into out.
type FakePage struct {
	site    *FakeSite
	browser *FakeBrowser

	EvalFunc func(expr string, out any) error

	URL     string
	Content string
	Closed  bool
	Evals   []string
}

func (p *FakePage) spec() (FakePageSpec, bool) {
	if p.site == nil {
		return FakePageSpec{}, false
	}
	return p.site.lookup(p.URL)
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.site != nil {
		p.site.record(url)
	}
	p.URL = url
	spec, ok := p.spec()
	if !ok {
		return fmt.Errorf("navigate %s: 404", url)
	}
	return spec.NavigateErr
}

func (p *FakePage) Location(ctx context.Context) (string, error) {
	if spec, ok := p.spec(); ok && spec.RedirectTo != "" {
		return spec.RedirectTo, nil
	}
	return p.URL, nil
}

func (p *FakePage) OuterHTML(ctx context.Context) (string, error) {
	if p.Content != "" {
		return p.Content, nil
	}
	spec, _ := p.spec()
	return spec.HTML, nil
}

func (p *FakePage) Evaluate(ctx context.Context, expr string, out any) error {
	p.Evals = append(p.Evals, expr)
	if p.EvalFunc != nil {
		return p.EvalFunc(expr, out)
	}
	return json.Unmarshal([]byte("true"), out)
}

func (p *FakePage) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	if spec, ok := p.spec(); ok && spec.ScreenshotErr != nil {
		return nil, spec.ScreenshotErr
	}
	return []byte("png:" + selector), nil
}

func (p *FakePage) SetContent(ctx context.Context, html string) error {
	p.Content = html
	return nil
}

func (p *FakePage) PrintPDF(ctx context.Context, opts browser.PDFOptions) ([]byte, error) {
	if p.browser != nil && p.browser.PDF != nil {
		return p.browser.PDF, nil
	}
	return []byte("%PDF-fake"), nil
}

func (p *FakePage) Close() error {
	p.Closed = true
	return nil
}

// ─── Rule engine ───────────────────────────────────────────────────────

// FakeEngine implements ruleengine.Engine by returning the FakeSite
// violations of the page's current URL.
type FakeEngine struct {
	// Err fails every run when set.
	Err error

	mu       sync.Mutex
	Policies []ruleengine.Policy
}

func (e *FakeEngine) Run(ctx context.Context, page browser.Page, policy ruleengine.Policy) ([]model.RawViolation, error) {
	e.mu.Lock()
	e.Policies = append(e.Policies, policy)
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	fp, ok := page.(*FakePage)
	if !ok {
		return nil, errors.New("FakeEngine needs a FakePage")
	}
	spec, _ := fp.spec()
	return append([]model.RawViolation(nil), spec.Violations...), nil
}
