package browser_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alouette-a11y/alouette/internal/browser"
	"github.com/alouette-a11y/alouette/internal/testutil"
)

// These tests need a local Chrome; set ALOUETTE_BROWSER_TESTS=1 to run them.
func launch(t *testing.T) browser.Browser {
	t.Helper()
	if os.Getenv("ALOUETTE_BROWSER_TESTS") == "" {
		t.Skip("ALOUETTE_BROWSER_TESTS not set")
	}
	l := browser.NewChromeLauncher(browser.DefaultConfig(), &testutil.DummyLogger{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	b, err := l.Launch(ctx)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestChrome_NavigateAndEvaluate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<html><head><title>Hi</title></head><body><a href="/next" id="l">next</a></body></html>`)
	}))
	defer ts.Close()

	b := launch(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	p, err := b.NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	defer p.Close()

	if err := p.Navigate(ctx, ts.URL); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	var title string
	if err := p.Evaluate(ctx, `Promise.resolve(document.title)`, &title); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if title != "Hi" {
		t.Errorf("expected title Hi, got %q", title)
	}
	shot, err := p.Screenshot(ctx, "#l")
	if err != nil {
		t.Fatalf("Screenshot: %v", err)
	}
	if !bytes.HasPrefix(shot, []byte("\x89PNG")) {
		t.Errorf("expected PNG data")
	}
}

func TestChrome_PrintPDF(t *testing.T) {
	b := launch(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	p, err := b.NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	defer p.Close()

	if err := p.SetContent(ctx, `<html><body><h1>Report</h1></body></html>`); err != nil {
		t.Fatalf("SetContent: %v", err)
	}
	pdf, err := p.PrintPDF(ctx, browser.A4(20))
	if err != nil {
		t.Fatalf("PrintPDF: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Errorf("expected PDF header")
	}
}
