// Package browser drives a headless Chrome through chromedp. One Browser is
// launched per job; every audited URL gets its own disposable Page.
package browser

import (
	"context"
	"time"
)

// Launcher starts browsers.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is a running browser process.
type Browser interface {
	// NewPage opens an isolated tab.
	NewPage(ctx context.Context) (Page, error)

	// Close terminates the browser and every page it opened.
	Close() error
}

// Page is a single tab. Pages are not safe for concurrent use.
type Page interface {
	// Navigate loads url and waits until the network has been idle.
	Navigate(ctx context.Context, url string) error

	// Location returns the current URL after redirects.
	Location(ctx context.Context) (string, error)

	// OuterHTML returns the serialized rendered DOM.
	OuterHTML(ctx context.Context) (string, error)

	// Evaluate runs expr, awaiting a returned promise, and decodes the
	// JSON-serializable result into out, which must be a non-nil pointer.
	Evaluate(ctx context.Context, expr string, out any) error

	// Screenshot captures a PNG of the first node matching selector.
	Screenshot(ctx context.Context, selector string) ([]byte, error)

	// SetContent replaces the document with html.
	SetContent(ctx context.Context, html string) error

	// PrintPDF prints the current document.
	PrintPDF(ctx context.Context, opts PDFOptions) ([]byte, error)

	// Close closes the tab.
	Close() error
}

// PDFOptions are expressed in inches, like the DevTools protocol.
type PDFOptions struct {
	PaperWidth      float64
	PaperHeight     float64
	MarginTop       float64
	MarginBottom    float64
	MarginLeft      float64
	MarginRight     float64
	PrintBackground bool
}

// A4 returns portrait A4 options with uniform CSS-pixel margins.
func A4(marginPx int) PDFOptions {
	m := float64(marginPx) / 96
	return PDFOptions{
		PaperWidth:      8.27,
		PaperHeight:     11.69,
		MarginTop:       m,
		MarginBottom:    m,
		MarginLeft:      m,
		MarginRight:     m,
		PrintBackground: true,
	}
}

// Config tunes the Chrome launcher.
type Config struct {
	Headless  bool   `yaml:"headless"`
	ExecPath  string `yaml:"exec_path"`
	NoSandbox bool   `yaml:"no_sandbox"`
	UserAgent string `yaml:"user_agent"`

	WindowWidth  int `yaml:"window_width"`
	WindowHeight int `yaml:"window_height"`

	// IdleAfter is how long the network must stay quiet before a
	// navigation counts as settled.
	IdleAfter time.Duration `yaml:"idle_after"`
}

// DefaultConfig returns headless settings suited to containers.
func DefaultConfig() Config {
	return Config{
		Headless:     true,
		NoSandbox:    true,
		WindowWidth:  1366,
		WindowHeight: 900,
		IdleAfter:    500 * time.Millisecond,
	}
}
