// Package render produces the HTML and PDF forms of a report.
package render

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"time"

	"github.com/alouette-a11y/alouette/internal/browser"
	"github.com/alouette-a11y/alouette/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("render").Funcs(template.FuncMap{
	"scoreColor":    ScoreColor,
	"severityLabel": severityLabel,
	"severityClass": severityClass,
	"dataURI":       dataURI,
}).ParseFS(templateFS, "templates/*.tmpl"))

// ScoreColor returns the band colour of score.
func ScoreColor(score int) string {
	switch {
	case score >= 80:
		return "#16a34a"
	case score >= 50:
		return "#f97316"
	}
	return "#dc2626"
}

func severityLabel(i model.Impact) string {
	switch i {
	case model.ImpactCritical:
		return "Critique"
	case model.ImpactSerious:
		return "Sérieux"
	case model.ImpactModerate:
		return "Modéré"
	case model.ImpactMinor:
		return "Mineur"
	}
	return "Non précisée"
}

func severityClass(i model.Impact) string {
	if i == model.ImpactNone {
		return "minor"
	}
	return string(i)
}

func dataURI(png []byte) template.URL {
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))
}

var frenchMonths = [...]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

// FormatDate formats t as "16 octobre 2026".
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%d %s %d", t.Day(), frenchMonths[t.Month()-1], t.Year())
}

type reportView struct {
	SiteURL string
	Date    string
	Report  *model.ProcessedReport
}

// ReportHTML renders the full report document.
func ReportHTML(siteURL string, r *model.ProcessedReport, date time.Time) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "report.html.tmpl", reportView{
		SiteURL: siteURL,
		Date:    FormatDate(date),
		Report:  r,
	}); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

type emailView struct {
	SiteURL      string
	Report       *model.ProcessedReport
	TotalIssues  int
	DashboardURL string
}

// EmailHTML renders the delivery email body.
func EmailHTML(siteURL string, r *model.ProcessedReport, dashboardURL string) (string, error) {
	total := 0
	for _, g := range r.IssueGroups {
		total += g.Count
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "email.html.tmpl", emailView{
		SiteURL:      siteURL,
		Report:       r,
		TotalIssues:  total,
		DashboardURL: dashboardURL,
	}); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}

// PDF prints the report document on a fresh page of b.
func PDF(ctx context.Context, b browser.Browser, siteURL string, r *model.ProcessedReport, date time.Time) ([]byte, error) {
	html, err := ReportHTML(siteURL, r, date)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	page, err := b.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open pdf page: %w", err)
	}
	defer page.Close()

	if err := page.SetContent(ctx, html); err != nil {
		return nil, fmt.Errorf("set pdf content: %w", err)
	}
	pdf, err := page.PrintPDF(ctx, browser.A4(20))
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}
