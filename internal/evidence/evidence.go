// Package evidence captures screenshots of offending nodes.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alouette-a11y/alouette/internal/browser"
	"github.com/alouette-a11y/alouette/internal/logging"
	"github.com/alouette-a11y/alouette/internal/model"
)

// Capturer attaches screenshots to violations found on page.
type Capturer interface {
	Capture(ctx context.Context, page browser.Page, vs []model.RawViolation) []model.RawViolation
}

var _ Capturer = (*NodeCapturer)(nil)

// NodeCapturer forces the node visible, outlines it and screenshots it.
// Failures are logged and leave the screenshot empty.
type NodeCapturer struct {
	timeout time.Duration
	logger  logging.Logger
}

// NewNodeCapturer returns a capturer bounding each capture by timeout (10s
// when zero).
func NewNodeCapturer(timeout time.Duration, logger logging.Logger) *NodeCapturer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NodeCapturer{
		timeout: timeout,
		logger:  logger.With(logging.Field{Key: "component", Value: "evidence"}),
	}
}

const highlightScript = `(function (sel) {
  var el = document.querySelector(sel);
  if (!el) { return false; }
  el.style.setProperty('visibility', 'visible', 'important');
  el.style.setProperty('opacity', '1', 'important');
  el.style.setProperty('outline', '3px solid red', 'important');
  el.style.setProperty('outline-offset', '2px', 'important');
  return true;
})(%s)`

// Capture mutates live styles, so it must run after rules and link
// extraction on the same page.
func (c *NodeCapturer) Capture(ctx context.Context, page browser.Page, vs []model.RawViolation) []model.RawViolation {
	out := make([]model.RawViolation, len(vs))
	copy(out, vs)
	for i := range out {
		if ctx.Err() != nil {
			break
		}
		if out[i].Selector == "" {
			continue
		}
		shot, err := c.captureOne(ctx, page, out[i].Selector)
		if err != nil {
			c.logger.Debug("evidence capture skipped",
				logging.Field{Key: "rule", Value: out[i].RuleID},
				logging.Field{Key: "selector", Value: out[i].Selector},
				logging.Err(err))
			continue
		}
		out[i].Screenshot = shot
	}
	return out
}

func (c *NodeCapturer) captureOne(ctx context.Context, page browser.Page, selector string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	arg, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}
	var found bool
	if err := page.Evaluate(ctx, fmt.Sprintf(highlightScript, arg), &found); err != nil {
		return nil, fmt.Errorf("highlight: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("node %q not found", selector)
	}
	shot, err := page.Screenshot(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return shot, nil
}
