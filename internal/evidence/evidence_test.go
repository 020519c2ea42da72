package evidence_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/alouette-a11y/alouette/internal/evidence"
	"github.com/alouette-a11y/alouette/internal/model"
	"github.com/alouette-a11y/alouette/internal/testutil"
)

func TestCapture_AttachesScreenshots(t *testing.T) {
	t.Parallel()
	page := &testutil.FakePage{}
	c := evidence.NewNodeCapturer(0, &testutil.DummyLogger{})

	in := []model.RawViolation{
		{RuleID: "image-alt", Selector: "img.hero"},
		{RuleID: "region", Selector: ""},
	}
	out := c.Capture(context.Background(), page, in)

	if string(out[0].Screenshot) != "png:img.hero" {
		t.Errorf("expected screenshot for img.hero, got %q", out[0].Screenshot)
	}
	if out[1].Screenshot != nil {
		t.Errorf("empty selector should not be captured")
	}
	if in[0].Screenshot != nil {
		t.Errorf("input should not be mutated")
	}
	if len(page.Evals) != 1 || !strings.Contains(page.Evals[0], `"img.hero"`) {
		t.Errorf("expected one highlight with the quoted selector, got %v", page.Evals)
	}
}

func TestCapture_FailuresAreSwallowed(t *testing.T) {
	t.Parallel()
	calls := 0
	page := &testutil.FakePage{EvalFunc: func(expr string, out any) error {
		calls++
		switch calls {
		case 1:
			return errors.New("detached")
		case 2:
			return json.Unmarshal([]byte("false"), out)
		}
		return json.Unmarshal([]byte("true"), out)
	}}
	logger := &testutil.DummyLogger{}
	c := evidence.NewNodeCapturer(0, logger)

	out := c.Capture(context.Background(), page, []model.RawViolation{
		{RuleID: "a", Selector: "#a"},
		{RuleID: "b", Selector: "#gone"},
		{RuleID: "c", Selector: "#c"},
	})
	if out[0].Screenshot != nil || out[1].Screenshot != nil {
		t.Errorf("failed captures should leave screenshots empty")
	}
	if out[2].Screenshot == nil {
		t.Errorf("later captures should still run")
	}
	if !logger.Logged("evidence capture skipped") {
		t.Errorf("expected a debug log for skipped captures")
	}
}

func TestCapture_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	page := &testutil.FakePage{}
	out := evidence.NewNodeCapturer(0, &testutil.DummyLogger{}).
		Capture(ctx, page, []model.RawViolation{{RuleID: "a", Selector: "#a"}})
	if len(out) != 1 || out[0].Screenshot != nil {
		t.Fatalf("unexpected %+v", out)
	}
}
