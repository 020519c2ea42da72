package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/alouette-a11y/alouette/internal/logging"
)

var (
	_ Launcher = (*ChromeLauncher)(nil)
	_ Browser  = (*chromeBrowser)(nil)
	_ Page     = (*chromePage)(nil)
)

// ChromeLauncher launches a local Chrome or Chromium through chromedp.
type ChromeLauncher struct {
	cfg    Config
	logger logging.Logger
}

func NewChromeLauncher(cfg Config, logger logging.Logger) *ChromeLauncher {
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = DefaultConfig().IdleAfter
	}
	return &ChromeLauncher{
		cfg:    cfg,
		logger: logger.With(logging.Field{Key: "component", Value: "browser"}),
	}
}

func (l *ChromeLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", l.cfg.Headless))
	if l.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}
	if l.cfg.WindowWidth > 0 && l.cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(l.cfg.WindowWidth, l.cfg.WindowHeight))
	}
	return opts
}

// Launch starts a browser process. The process lives until Close or until
// ctx is cancelled.
func (l *ChromeLauncher) Launch(ctx context.Context) (Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Running with no actions starts the process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	l.logger.Debug("browser launched")
	return &chromeBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		idleAfter:   l.cfg.IdleAfter,
		logger:      l.logger,
	}, nil
}

type chromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	idleAfter   time.Duration
	logger      logging.Logger
}

func (b *chromeBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.ctx)
	p := &chromePage{ctx: tabCtx, cancel: tabCancel, browser: b}
	// The first Run must use the tab context itself: it allocates the target,
	// and a derived context's cancellation would close it.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := p.run(ctx, network.Enable()); err != nil {
		tabCancel()
		return nil, fmt.Errorf("open page: %w", err)
	}
	return p, nil
}

func (b *chromeBrowser) Close() error {
	b.cancel()
	b.allocCancel()
	b.logger.Debug("browser closed")
	return nil
}

type chromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	browser *chromeBrowser
}

// run executes actions on the tab, bounded by the caller's ctx.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		runCtx, dcancel = context.WithDeadline(runCtx, deadline)
		defer dcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	listenCtx, stopListening := context.WithCancel(p.ctx)
	defer stopListening()

	watcher := newIdleWatcher(p.browser.idleAfter)
	defer watcher.stop()
	chromedp.ListenTarget(listenCtx, watcher.handle)

	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	watcher.arm()

	select {
	case <-watcher.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for network idle on %s: %w", url, ctx.Err())
	case <-p.ctx.Done():
		return fmt.Errorf("page closed while loading %s: %w", url, p.ctx.Err())
	}
}

func (p *chromePage) Location(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

func (p *chromePage) OuterHTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return html, nil
}

func (p *chromePage) Evaluate(ctx context.Context, expr string, out any) error {
	awaitPromise := func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}
	if err := p.run(ctx, chromedp.Evaluate(expr, out, awaitPromise)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

func (p *chromePage) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.Screenshot(selector, &buf, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("screenshot %q: %w", selector, err)
	}
	return buf, nil
}

func (p *chromePage) SetContent(ctx context.Context, html string) error {
	err := p.run(ctx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("set content: %w", err)
	}
	return nil
}

func (p *chromePage) PrintPDF(ctx context.Context, opts PDFOptions) ([]byte, error) {
	var pdf []byte
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		buf, _, err := page.PrintToPDF().
			WithPrintBackground(opts.PrintBackground).
			WithPaperWidth(opts.PaperWidth).
			WithPaperHeight(opts.PaperHeight).
			WithMarginTop(opts.MarginTop).
			WithMarginBottom(opts.MarginBottom).
			WithMarginLeft(opts.MarginLeft).
			WithMarginRight(opts.MarginRight).
			Do(ctx)
		pdf = buf
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}
