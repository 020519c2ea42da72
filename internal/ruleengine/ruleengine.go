// Package ruleengine runs the axe-core accessibility rules inside a loaded
// page and normalizes the violations it reports.
package ruleengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alouette-a11y/alouette/internal/browser"
	"github.com/alouette-a11y/alouette/internal/logging"
	"github.com/alouette-a11y/alouette/internal/model"
	"github.com/alouette-a11y/alouette/internal/webclient"
)

// Policy is the set of axe tags a run is restricted to.
type Policy []string

var (
	// PolicyFull is used for paid audits.
	PolicyFull = Policy{"wcag2a", "wcag2aa", "best-practice"}

	// PolicyQuick is used for the free single-page scan.
	PolicyQuick = Policy{"wcag2a", "wcag2aa", "wcag21a", "wcag21aa"}
)

var ErrNoScript = errors.New("axe-core script is empty")

// Engine evaluates a policy against the document loaded in page.
type Engine interface {
	Run(ctx context.Context, page browser.Page, policy Policy) ([]model.RawViolation, error)
}

var _ Engine = (*AxeEngine)(nil)

// AxeEngine injects the axe-core bundle and runs it.
type AxeEngine struct {
	script  string
	timeout time.Duration
	logger  logging.Logger
}

// NewAxeEngine wraps the axe-core source. timeout bounds one run; zero
// means 30s.
func NewAxeEngine(script string, timeout time.Duration, logger logging.Logger) (*AxeEngine, error) {
	if strings.TrimSpace(script) == "" {
		return nil, ErrNoScript
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AxeEngine{
		script:  script,
		timeout: timeout,
		logger:  logger.With(logging.Field{Key: "component", Value: "ruleengine"}),
	}, nil
}

// LoadScript reads the axe-core bundle from a local path or, for http(s)
// sources, downloads it with wc.
func LoadScript(ctx context.Context, source string, wc webclient.WebClient) (string, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		if wc == nil {
			return "", fmt.Errorf("load axe script from %s: no http client", source)
		}
		resp, err := wc.Get(ctx, source)
		if err != nil {
			return "", fmt.Errorf("load axe script: %w", err)
		}
		if !resp.OK() {
			return "", fmt.Errorf("load axe script: status %d from %s", resp.StatusCode, source)
		}
		return string(resp.Body), nil
	}
	b, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("load axe script: %w", err)
	}
	return string(b), nil
}

// axeViolation is the slimmed-down shape returned by runScript.
type axeViolation struct {
	ID          string  `json:"id"`
	Impact      *string `json:"impact"`
	Description string  `json:"description"`
	Help        string  `json:"help"`
	HelpURL     string  `json:"helpUrl"`
	HTML        string  `json:"html"`
	Target      string  `json:"target"`
	Nodes       int     `json:"nodes"`
}

// runScript keeps only what the pipeline needs so large pages do not ship
// every node back over the protocol. Targets inside iframes or shadow roots
// are arrays and cannot be queried from the top document; they come back empty.
const runScript = `axe.run(document, {runOnly: {type: 'tag', values: %s}, resultTypes: ['violations']}).then(function (r) {
  return r.violations.map(function (v) {
    var n = v.nodes && v.nodes.length ? v.nodes[0] : null;
    var t = n && n.target && n.target.length ? n.target[0] : null;
    return {
      id: v.id,
      impact: v.impact || null,
      description: v.description || '',
      help: v.help || '',
      helpUrl: v.helpUrl || '',
      html: n ? n.html : '',
      target: typeof t === 'string' ? t : '',
      nodes: v.nodes ? v.nodes.length : 0
    };
  });
})`

func (e *AxeEngine) Run(ctx context.Context, page browser.Page, policy Policy) ([]model.RawViolation, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var loaded bool
	if err := page.Evaluate(ctx, `typeof window.axe !== 'undefined'`, &loaded); err != nil {
		return nil, fmt.Errorf("probe axe: %w", err)
	}
	if !loaded {
		var ok bool
		if err := page.Evaluate(ctx, e.script+"\n;true", &ok); err != nil {
			return nil, fmt.Errorf("inject axe: %w", err)
		}
	}

	tags, err := json.Marshal([]string(policy))
	if err != nil {
		return nil, err
	}
	var raw []axeViolation
	if err := page.Evaluate(ctx, fmt.Sprintf(runScript, tags), &raw); err != nil {
		return nil, fmt.Errorf("run axe: %w", err)
	}

	out := make([]model.RawViolation, 0, len(raw))
	for _, v := range raw {
		if v.Nodes == 0 {
			continue
		}
		out = append(out, model.RawViolation{
			RuleID:      v.ID,
			Impact:      normalizeImpact(v.Impact),
			Description: v.Description,
			Help:        v.Help,
			HelpURL:     v.HelpURL,
			HTML:        v.HTML,
			Selector:    v.Target,
		})
	}
	e.logger.Debug("rules evaluated",
		logging.Field{Key: "policy", Value: strings.Join(policy, ",")},
		logging.Field{Key: "violations", Value: len(out)})
	return out, nil
}

func normalizeImpact(s *string) model.Impact {
	if s == nil {
		return model.ImpactNone
	}
	switch imp := model.Impact(*s); imp {
	case model.ImpactMinor, model.ImpactModerate, model.ImpactSerious, model.ImpactCritical:
		return imp
	}
	return model.ImpactNone
}
