package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"

	"github.com/alouette-a11y/alouette/internal/archive"
	"github.com/alouette-a11y/alouette/internal/browser"
	"github.com/alouette-a11y/alouette/internal/crawler"
	"github.com/alouette-a11y/alouette/internal/evidence"
	"github.com/alouette-a11y/alouette/internal/logging"
	"github.com/alouette-a11y/alouette/internal/mailer"
	"github.com/alouette-a11y/alouette/internal/model"
	"github.com/alouette-a11y/alouette/internal/queue"
	"github.com/alouette-a11y/alouette/internal/render"
	"github.com/alouette-a11y/alouette/internal/report"
	"github.com/alouette-a11y/alouette/internal/rgaa"
	"github.com/alouette-a11y/alouette/internal/ruleengine"
	"github.com/alouette-a11y/alouette/internal/store"
	"github.com/alouette-a11y/alouette/internal/utils"
)

const tracerName = "github.com/alouette-a11y/alouette/internal/app"

// maxJobElapsed bounds the retry loop of one job, sleeps included.
const maxJobElapsed = time.Hour

// Deps are the components an Orchestrator drives. Capturer and Archive may
// be nil.
type Deps struct {
	Store       *store.Store
	Queue       queue.Queue
	Launcher    browser.Launcher
	Engine      ruleengine.Engine
	Capturer    evidence.Capturer
	Synthesizer *report.Synthesizer
	Mailer      *mailer.Mailer
	Archive     archive.Archiver
}

// Orchestrator runs scans through their lifecycle. It is the only writer of
// FAILED and DELIVERED.
type Orchestrator struct {
	cfg    *Config
	logger logging.Logger
	tracer trace.Tracer
	events *EventHub

	store    *store.Store
	queue    queue.Queue
	launcher browser.Launcher
	full     *crawler.Crawler
	quick    *crawler.Crawler
	synth    *report.Synthesizer
	mailer   *mailer.Mailer
	archive  archive.Archiver

	now func() time.Time
}

// NewOrchestrator ties together config, components and logger.
func NewOrchestrator(cfg *Config, deps Deps, logger logging.Logger) (*Orchestrator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	switch {
	case deps.Store == nil:
		return nil, errors.New("orchestrator needs a store")
	case deps.Queue == nil:
		return nil, errors.New("orchestrator needs a queue")
	case deps.Launcher == nil:
		return nil, errors.New("orchestrator needs a browser launcher")
	case deps.Engine == nil:
		return nil, errors.New("orchestrator needs a rule engine")
	case deps.Synthesizer == nil:
		return nil, errors.New("orchestrator needs a synthesizer")
	case deps.Mailer == nil:
		return nil, errors.New("orchestrator needs a mailer")
	}

	quickCfg := cfg.Crawler
	quickCfg.MaxPages = 1

	return &Orchestrator{
		cfg:      cfg,
		logger:   logger.With(logging.Field{Key: "component", Value: "orchestrator"}),
		tracer:   otel.Tracer(tracerName),
		events:   NewEventHub(),
		store:    deps.Store,
		queue:    deps.Queue,
		launcher: deps.Launcher,
		full:     crawler.New(cfg.Crawler, deps.Engine, deps.Capturer, logger),
		quick:    crawler.New(quickCfg, deps.Engine, nil, logger),
		synth:    deps.Synthesizer,
		mailer:   deps.Mailer,
		archive:  deps.Archive,
		now:      time.Now,
	}, nil
}

// Events returns the hub scan events are published on.
func (o *Orchestrator) Events() *EventHub { return o.events }

// GetScan returns a scan as persisted.
func (o *Orchestrator) GetScan(ctx context.Context, scanID string) (*model.Scan, error) {
	return o.store.GetScan(ctx, scanID)
}

// ListPages returns the crawl coverage recorded for a scan.
func (o *Orchestrator) ListPages(ctx context.Context, scanID string) ([]model.PageOutcome, error) {
	return o.store.ListPages(ctx, scanID)
}

// Ping checks the store.
func (o *Orchestrator) Ping(ctx context.Context) error {
	return o.store.Ping(ctx)
}

// HandleJob is the queue handler for every job name.
func (o *Orchestrator) HandleJob(ctx context.Context, job queue.Job) error {
	switch job.Name {
	case queue.JobFullReport:
		return o.ProcessFullReport(ctx, job.ScanID)
	case queue.JobScheduledScan:
		return o.ProcessScheduledScan(ctx, job.SiteID)
	}
	return fmt.Errorf("%w: %q", ErrUnknownJob, job.Name)
}

// ─── Status transitions ────────────────────────────────────────────────

func (o *Orchestrator) transition(ctx context.Context, scanID string, to model.ScanStatus, result any) (*model.Scan, error) {
	var raw json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encoding %s result: %w", to, err)
		}
		raw = b
	}
	scan, err := o.store.UpdateScanStatus(ctx, scanID, to, raw)
	if err != nil {
		return nil, fmt.Errorf("moving scan to %s: %w", to, err)
	}
	ev := JobEvent{ScanID: scanID, Type: JobEventStatus, Status: to}
	if er, ok := result.(model.ErrorResult); ok {
		ev.Error = er.Error
	}
	o.events.Publish(ev)
	return scan, nil
}

func (o *Orchestrator) stage(scanID, stage string) {
	o.events.Publish(JobEvent{ScanID: scanID, Type: JobEventStage, Stage: stage})
}

// fail records cause on the scan. Nothing is written when ctx ended: the
// job was interrupted, not failed, and will be redelivered.
func (o *Orchestrator) fail(ctx context.Context, scanID string, cause error) {
	if ctx.Err() != nil {
		return
	}
	if _, err := o.transition(ctx, scanID, model.ScanFailed, model.ErrorResult{Error: cause.Error()}); err != nil {
		o.logger.Error("could not mark scan failed",
			logging.Field{Key: "scan_id", Value: scanID},
			logging.Err(err))
	}
}

// ─── Retry ─────────────────────────────────────────────────────────────

// retry runs op until it succeeds, returns a non-transient error, or the
// configured attempts are used up.
func (o *Orchestrator) retry(ctx context.Context, logger logging.Logger, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if o.cfg.Worker.RetryInitialInterval > 0 {
		b.InitialInterval = o.cfg.Worker.RetryInitialInterval
	}
	if o.cfg.Worker.RetryMaxInterval > 0 {
		b.MaxInterval = o.cfg.Worker.RetryMaxInterval
	}
	attempts := o.cfg.Worker.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op(ctx)
		if err == nil || IsTransient(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(maxJobElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("attempt failed, retrying",
				logging.Field{Key: "retry_in", Value: next.String()},
				logging.Err(err))
		}),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func (o *Orchestrator) launch(ctx context.Context) (browser.Browser, error) {
	b, err := o.launcher.Launch(ctx)
	if err != nil {
		return nil, Transient(fmt.Errorf("launching browser: %w", err))
	}
	return b, nil
}

func closeBrowser(b browser.Browser, logger logging.Logger) {
	if err := b.Close(); err != nil {
		logger.Warn("closing browser", logging.Err(err))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ─── Full report ───────────────────────────────────────────────────────

// ProcessFullReport runs the paid audit of scanID and delivers it. A scan
// already DELIVERED or FAILED is left alone; one COMPLETED_FULL resumes at
// rendering.
func (o *Orchestrator) ProcessFullReport(ctx context.Context, scanID string) (err error) {
	ctx, span := o.tracer.Start(ctx, "full-report", trace.WithAttributes(attribute.String("scan.id", scanID)))
	defer func() { endSpan(span, err) }()

	logger := o.logger.With(logging.Field{Key: "scan_id", Value: scanID})

	scan, err := o.store.GetScan(ctx, scanID)
	if err != nil {
		return fmt.Errorf("loading scan: %w", err)
	}
	switch scan.Status {
	case model.ScanDelivered:
		logger.Info("scan already delivered, skipping")
		return nil
	case model.ScanFailed:
		logger.Info("scan already failed, skipping")
		return nil
	}

	err = o.retry(ctx, logger, func(ctx context.Context) error {
		return o.attemptFullReport(ctx, scanID, logger)
	})
	if err != nil {
		o.fail(ctx, scanID, err)
		return err
	}
	logger.Info("full report delivered")
	return nil
}

func (o *Orchestrator) attemptFullReport(ctx context.Context, scanID string, logger logging.Logger) error {
	scan, err := o.store.GetScan(ctx, scanID)
	if err != nil {
		return fmt.Errorf("loading scan: %w", err)
	}
	if scan.Status.Terminal() {
		return nil
	}
	site, err := o.store.GetSiteForScan(ctx, scanID)
	if err != nil {
		return fmt.Errorf("loading site: %w", err)
	}
	if strings.TrimSpace(scan.UserEmail) == "" {
		return ErrMissingEmail
	}

	// A COMPLETED_FULL scan keeps its status: an unreadable report is
	// rebuilt in place since the status cannot move back to RUNNING_FULL.
	var rep *model.ProcessedReport
	audited := scan.Status == model.ScanCompletedFull
	if audited {
		res, err := model.DecodeResult(scan.Result)
		switch {
		case err == nil && res.Full != nil:
			rep = res.Full
			logger.Info("resuming at rendering")
		case err == nil:
			logger.Warn("stored result is not a full report, rebuilding")
		default:
			logger.Warn("stored report unreadable, rebuilding", logging.Err(err))
		}
	}

	b, err := o.launch(ctx)
	if err != nil {
		return err
	}
	defer closeBrowser(b, logger)

	if rep == nil {
		if !audited {
			if _, err := o.transition(ctx, scanID, model.ScanRunningFull, nil); err != nil {
				return err
			}
		}
		rep, err = o.audit(ctx, b, scanID, site.URL, logger)
		if err != nil {
			return err
		}
		if _, err := o.transition(ctx, scanID, model.ScanCompletedFull, rep); err != nil {
			return err
		}
	}

	return o.deliver(ctx, b, scan, site, rep, logger)
}

// audit crawls site, records coverage and synthesizes the report.
func (o *Orchestrator) audit(ctx context.Context, b browser.Browser, scanID, siteURL string, logger logging.Logger) (*model.ProcessedReport, error) {
	o.stage(scanID, "crawl")
	crawlCtx, span := o.tracer.Start(ctx, "crawl")
	res, err := o.full.Crawl(crawlCtx, b, siteURL, ruleengine.PolicyFull)
	if res != nil {
		span.SetAttributes(
			attribute.Int("pages.visited", len(res.Visited)),
			attribute.Int("pages.failed", len(res.Failed)))
	}
	endSpan(span, err)

	if res != nil && len(res.Pages()) > 0 {
		if rerr := o.store.RecordPages(ctx, scanID, res.Pages()); rerr != nil {
			logger.Warn("recording crawl coverage", logging.Err(rerr))
		}
	}
	if err != nil {
		if errors.Is(err, crawler.ErrNothingVisited) {
			return nil, Transient(err)
		}
		return nil, fmt.Errorf("crawling: %w", err)
	}

	o.stage(scanID, "synthesize")
	in := report.Input{
		SiteURL:    siteURL,
		Violations: rgaa.Map(res.Violations),
	}
	for _, p := range res.Visited {
		in.PagesScanned = append(in.PagesScanned, p.URL)
	}
	for _, p := range res.Failed {
		in.PagesFailed = append(in.PagesFailed, p.URL)
	}
	_, span = o.tracer.Start(ctx, "synthesize")
	rep := o.synth.Synthesize(ctx, in)
	span.SetAttributes(
		attribute.Int("report.score", rep.Score),
		attribute.String("report.narrative", rep.NarrativeSource))
	span.End()

	logger.Info("audit synthesized",
		logging.Field{Key: "score", Value: rep.Score},
		logging.Field{Key: "groups", Value: len(rep.IssueGroups)},
		logging.Field{Key: "pages", Value: len(in.PagesScanned)})
	return rep, nil
}

// deliver renders, archives and mails rep, then marks the scan DELIVERED.
// Mail failures are not retried.
func (o *Orchestrator) deliver(ctx context.Context, b browser.Browser, scan *model.Scan, site *model.Site, rep *model.ProcessedReport, logger logging.Logger) error {
	o.stage(scan.ID, "render")
	renderCtx, span := o.tracer.Start(ctx, "render")
	pdf, err := render.PDF(renderCtx, b, site.URL, rep, o.now())
	endSpan(span, err)
	if err != nil {
		return Transient(fmt.Errorf("rendering pdf: %w", err))
	}

	if o.archive != nil {
		if loc, err := o.archive.Store(ctx, scan.ID, pdf); err != nil {
			logger.Warn("report archive failed", logging.Err(err))
		} else {
			logger.Info("report archived", logging.Field{Key: "location", Value: loc})
		}
	}

	o.stage(scan.ID, "deliver")
	mailCtx, span := o.tracer.Start(ctx, "deliver")
	err = o.mailer.SendReport(mailCtx, scan.UserEmail, site.URL, rep, pdf)
	endSpan(span, err)
	if err != nil {
		return err
	}

	_, err = o.transition(ctx, scan.ID, model.ScanDelivered, nil)
	return err
}

// ─── Scheduled scans ───────────────────────────────────────────────────

// ProcessScheduledScan opens a new paid scan of siteID addressed to the
// owning organization and runs the full pipeline on it.
func (o *Orchestrator) ProcessScheduledScan(ctx context.Context, siteID string) error {
	site, err := o.store.GetSite(ctx, siteID)
	if err != nil {
		return fmt.Errorf("loading site: %w", err)
	}
	org, err := o.store.FindOrganizationForSite(ctx, siteID)
	if err != nil {
		return fmt.Errorf("loading organization: %w", err)
	}
	scan, err := o.store.CreateScan(ctx, site.ID, model.ScanPaid)
	if err != nil {
		return fmt.Errorf("creating scan: %w", err)
	}
	if err := o.store.SetScanEmail(ctx, scan.ID, org.OwnerEmail); err != nil {
		return fmt.Errorf("setting delivery email: %w", err)
	}
	o.logger.Info("scheduled scan created",
		logging.Field{Key: "site_id", Value: site.ID},
		logging.Field{Key: "scan_id", Value: scan.ID},
		logging.Field{Key: "plan", Value: string(org.Plan)})
	return o.ProcessFullReport(ctx, scan.ID)
}

// ─── Triggers ──────────────────────────────────────────────────────────

// RequestFullReport records the buyer's email, marks the scan PAID and
// queues its full report. queue.ErrDuplicate means a report job for the
// scan is already pending.
func (o *Orchestrator) RequestFullReport(ctx context.Context, scanID, email string) (*queue.Job, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	scan, err := o.store.GetScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(scan.Status, model.ScanPaid) {
		return nil, fmt.Errorf("%w: scan is %s", store.ErrInvalidTransition, scan.Status)
	}
	if err := o.store.SetScanEmail(ctx, scanID, addr.Address); err != nil {
		return nil, err
	}
	if _, err := o.transition(ctx, scanID, model.ScanPaid, nil); err != nil {
		return nil, err
	}

	job := queue.Job{
		ID:         uuid.NewString(),
		Name:       queue.JobFullReport,
		ScanID:     scanID,
		EnqueuedAt: o.now().Unix(),
	}
	err = o.queue.Enqueue(ctx, job, queue.EnqueueOptions{
		DedupKey: queue.FullReportKey(scanID),
		DedupTTL: o.cfg.Queue.DedupTTL,
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("full report queued",
		logging.Field{Key: "scan_id", Value: scanID},
		logging.Field{Key: "job_id", Value: job.ID})
	return &job, nil
}

// ─── Free scan ─────────────────────────────────────────────────────────

// QuickScan is returned by RunQuickScan.
type QuickScan struct {
	ScanID string        `json:"scanId"`
	Score  int           `json:"score"`
	Issues []model.Issue `json:"issues"`
}

// RunQuickScan audits the single page at rawURL and returns the teaser
// result. Errors are *ScanError values carrying a message in lang.
func (o *Orchestrator) RunQuickScan(ctx context.Context, rawURL string, lang language.Tag) (_ *QuickScan, err error) {
	ctx, span := o.tracer.Start(ctx, "quick-scan")
	defer func() { endSpan(span, err) }()

	target, err := utils.ValidateTarget(rawURL)
	if err != nil {
		return nil, &ScanError{Lang: lang, key: msgInvalidURL, cause: err}
	}
	site, err := o.store.UpsertSite(ctx, target)
	if err != nil {
		return nil, &ScanError{Lang: lang, key: msgScanFailed, cause: err}
	}
	scan, err := o.store.CreateScan(ctx, site.ID, model.ScanRunning)
	if err != nil {
		return nil, &ScanError{Lang: lang, key: msgScanFailed, cause: err}
	}
	span.SetAttributes(attribute.String("scan.id", scan.ID))
	logger := o.logger.With(logging.Field{Key: "scan_id", Value: scan.ID})
	o.events.Publish(JobEvent{ScanID: scan.ID, Type: JobEventStatus, Status: model.ScanRunning})

	var result model.QuickResult
	err = o.retry(ctx, logger, func(ctx context.Context) error {
		r, err := o.quickAudit(ctx, site.URL, logger)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err == nil {
		_, err = o.transition(ctx, scan.ID, model.ScanCompleted, result)
	}
	if err != nil {
		logger.Error("quick scan failed", logging.Err(err))
		o.fail(ctx, scan.ID, err)
		return nil, &ScanError{ScanID: scan.ID, Lang: lang, key: msgScanFailed, cause: err}
	}

	logger.Info("quick scan completed", logging.Field{Key: "score", Value: result.Score})
	return &QuickScan{ScanID: scan.ID, Score: result.Score, Issues: result.Issues}, nil
}

func (o *Orchestrator) quickAudit(ctx context.Context, siteURL string, logger logging.Logger) (model.QuickResult, error) {
	b, err := o.launch(ctx)
	if err != nil {
		return model.QuickResult{}, err
	}
	defer closeBrowser(b, logger)

	res, err := o.quick.Crawl(ctx, b, siteURL, ruleengine.PolicyQuick)
	if err != nil {
		return model.QuickResult{}, fmt.Errorf("scanning page: %w", err)
	}
	return report.Quick(res.Violations), nil
}
