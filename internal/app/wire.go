package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/alouette-a11y/alouette/internal/archive"
	"github.com/alouette-a11y/alouette/internal/browser"
	"github.com/alouette-a11y/alouette/internal/evidence"
	"github.com/alouette-a11y/alouette/internal/logging"
	"github.com/alouette-a11y/alouette/internal/mailer"
	"github.com/alouette-a11y/alouette/internal/queue"
	"github.com/alouette-a11y/alouette/internal/report"
	"github.com/alouette-a11y/alouette/internal/ruleengine"
	"github.com/alouette-a11y/alouette/internal/store"
	"github.com/alouette-a11y/alouette/internal/webclient"
)

// BuildDeps opens the store and queue and constructs the production
// components described by cfg.
func BuildDeps(ctx context.Context, cfg *Config, logger logging.Logger) (deps Deps, err error) {
	defer func() {
		if err == nil {
			return
		}
		if deps.Queue != nil {
			_ = deps.Queue.Close()
		}
		if deps.Store != nil {
			_ = deps.Store.Close()
		}
	}()

	deps.Store, err = store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return deps, fmt.Errorf("opening store: %w", err)
	}

	switch cfg.Queue.Backend {
	case "redis":
		rq, err := queue.NewRedisQueue(cfg.Queue.Redis)
		if err != nil {
			return deps, fmt.Errorf("connecting queue: %w", err)
		}
		deps.Queue = rq
		if err := rq.Ping(ctx); err != nil {
			return deps, fmt.Errorf("pinging redis: %w", err)
		}
		logger.Info("redis queue ready", logging.Field{Key: "consumer", Value: rq.Consumer()})
	default:
		deps.Queue = queue.NewMemoryQueue()
	}

	wc, err := webclient.NewNetHTTPClient(cfg.WebClient, logger, nil)
	if err != nil {
		return deps, err
	}

	script, err := ruleengine.LoadScript(ctx, cfg.Rules.AxeScript, wc)
	if err != nil {
		return deps, err
	}
	deps.Engine, err = ruleengine.NewAxeEngine(script, cfg.Rules.Timeout, logger)
	if err != nil {
		return deps, err
	}
	deps.Capturer = evidence.NewNodeCapturer(cfg.Rules.CaptureTimeout, logger)
	deps.Launcher = browser.NewChromeLauncher(cfg.Browser, logger)

	var narrator report.Narrator
	if cfg.Narrative.Enabled && cfg.Narrative.LLM.APIKey != "" {
		narrator, err = report.NewLLMNarrator(cfg.Narrative.LLM, wc)
		if err != nil {
			return deps, err
		}
	} else {
		logger.Info("llm narrative disabled, using templates")
	}
	deps.Synthesizer = report.NewSynthesizer(narrator, logger)

	if cfg.SMTP.Username == "" {
		return deps, errors.New("smtp username is required")
	}
	deps.Mailer = mailer.New(cfg.SMTP, mailer.NewSMTPTransport(cfg.SMTP), logger)

	deps.Archive, err = archive.New(cfg.Archive)
	if err != nil {
		return deps, err
	}
	return deps, nil
}
