package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alouette-a11y/alouette/internal/app"
	"github.com/alouette-a11y/alouette/internal/evidence"
	"github.com/alouette-a11y/alouette/internal/mailer"
	"github.com/alouette-a11y/alouette/internal/model"
	"github.com/alouette-a11y/alouette/internal/queue"
	"github.com/alouette-a11y/alouette/internal/report"
	"github.com/alouette-a11y/alouette/internal/server"
	"github.com/alouette-a11y/alouette/internal/store"
	"github.com/alouette-a11y/alouette/internal/testutil"
)

const testToken = "s3cret"

type testEnv struct {
	srv   *server.Server
	orch  *app.Orchestrator
	store *store.Store
	queue *queue.MemoryQueue
	mail  *testutil.DummyMailTransport
}

func newTestEnv(t *testing.T, scfg app.ServerConfig) *testEnv {
	t.Helper()
	logger := &testutil.DummyLogger{}

	st, err := store.Open(context.Background(), store.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "alouette.db"),
	}, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	site := testutil.NewFakeSite(map[string]testutil.FakePageSpec{
		"https://example.com/": {
			HTML: `<a href="/a">A</a>`,
			Violations: []model.RawViolation{
				{RuleID: "image-alt", Impact: model.ImpactCritical, Description: "Images must have alt", HTML: `<img src="x.png">`, Selector: "img"},
			},
		},
		"https://example.com/a": {HTML: `<p>a</p>`},
	})

	cfg := app.DefaultConfig()
	cfg.Worker.RetryInitialInterval = time.Millisecond
	cfg.Worker.RetryMaxInterval = 5 * time.Millisecond
	cfg.Crawler.RequestsPerSecond = 0

	mcfg := mailer.DefaultConfig()
	mcfg.From = "rapports@alouette.example"

	env := &testEnv{store: st, queue: queue.NewMemoryQueue(), mail: &testutil.DummyMailTransport{}}
	orch, err := app.NewOrchestrator(cfg, app.Deps{
		Store:       st,
		Queue:       env.queue,
		Launcher:    &testutil.FakeLauncher{Site: site},
		Engine:      &testutil.FakeEngine{},
		Capturer:    evidence.NewNodeCapturer(time.Second, logger),
		Synthesizer: report.NewSynthesizer(nil, logger),
		Mailer:      mailer.New(mcfg, env.mail, logger),
	}, logger)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	env.orch = orch
	env.srv = server.NewServer(scfg, orch, logger)
	return env
}

func doJSON(t *testing.T, s http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON response: %v (body: %s)", err, rec.Body.String())
	}
}

// quickScan runs a free scan through the API and returns its id.
func (e *testEnv) quickScan(t *testing.T) string {
	t.Helper()
	rec := doJSON(t, e.srv, "POST", "/scans", `{"url":"example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /scans = %d: %s", rec.Code, rec.Body.String())
	}
	var res app.QuickScan
	decodeJSON(t, rec, &res)
	return res.ScanID
}

// ─── CORS ──────────────────────────────────────────────────────────────

func TestServer_CORS_HeaderPresent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, app.ServerConfig{})

	rec := doJSON(t, env.srv, "GET", "/healthz", "")

	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin *, got %q", origin)
	}
}

func TestServer_CORS_RestrictedOrigins(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, app.ServerConfig{AllowedOrigins: []string{"https://alouette-a11y.fr"}})

	rec := doJSON(t, env.srv, "GET", "/healthz", "", "Origin", "https://alouette-a11y.fr")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://alouette-a11y.fr" {
		t.Errorf("allowed origin not echoed, got %q", got)
	}

	rec = doJSON(t, env.srv, "GET", "/healthz", "", "Origin", "https://evil.example")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin should get no CORS header, got %q", got)
	}
}

func TestServer_OptionsPreflight(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, app.ServerConfig{})

	rec := doJSON(t, env.srv, "OPTIONS", "/scans/abc/full", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "POST" {
		t.Errorf("allow methods = %q", got)
	}
}

// ─── Health ────────────────────────────────────────────────────────────

func TestServer_Health(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, app.ServerConfig{})

	rec := doJSON(t, env.srv, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	env.store.Close()
	rec = doJSON(t, env.srv, "GET", "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with a closed store, got %d", rec.Code)
	}
	var body server.HealthResponse
	decodeJSON(t, rec, &body)
	if body.Status != "unhealthy" {
		t.Errorf("status = %q", body.Status)
	}
}

// ─── Quick scans ───────────────────────────────────────────────────────

func TestServer_QuickScan(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, app.ServerConfig{})

	rec := doJSON(t, env.srv, "POST", "/scans", `{"url":"example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res app.QuickScan
	decodeJSON(t, rec, &res)
	if res.ScanID == "" {
		t.Fatal("expected a scan id")
	}
	if res.Score != 95 || len(res.Issues) != 1 {
		t.Errorf("unexpected teaser %+v", res)
	}
}

func TestServer_QuickScan_InvalidURL(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, app.ServerConfig{})

	rec := doJSON(t, env.srv, "POST", "/scans", `{"url":"ftp://example.com"}`, "Accept-Language", "en-GB")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body server.ErrorResponse
	decodeJSON(t, rec, &body)
	if body.Error != "This address is not a valid http(s) URL." {
		t.Errorf("error = %q", body.Error)
	}
	if body.ScanID != "" {
		t.Error("no scan should be created for an invalid URL")
	}
}

func TestServer_QuickScan_InvalidJSON(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, app.ServerConfig{})

	rec := doJSON(t, env.srv, "POST", "/scans", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestServer_QuickScan_UnreachableSiteIsLocalized(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, app.ServerConfig{})

	rec := doJSON(t, env.srv, "POST", "/scans", `{"url":"https://down.example/"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	var body server.ErrorResponse
	decodeJSON(t, rec, &body)
	if !strings.HasPrefix(body.Error, "L'analyse") {
		t.Errorf("expected the French message by default, got %q", body.Error)
	}
	if body.ScanID == "" {
		t.Fatal("failed scans keep their id")
	}

	rec = doJSON(t, env.srv, "GET", "/scans/"+body.ScanID, "")
	var scan server.ScanResponse
	decodeJSON(t, rec, &scan)
	if scan.Status != model.ScanFailed {
		t.Errorf("status = %s, want FAILED", scan.Status)
	}
}

// ─── Scans ─────────────────────────────────────────────────────────────

func TestServer_GetScan(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, app.ServerConfig{})
	id := env.quickScan(t)

	rec := doJSON(t, env.srv, "GET", "/scans/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var scan server.ScanResponse
	decodeJSON(t, rec, &scan)
	if scan.ID != id || scan.Status != model.ScanCompleted {
		t.Errorf("unexpected scan %+v", scan)
	}
	res, err := model.DecodeResult(scan.Result)
	if err != nil || res.Quick == nil {
		t.Fatalf("expected a quick result, got %s (%v)", scan.Result, err)
	}
}

func TestServer_GetScan_NotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, app.ServerConfig{})

	rec := doJSON(t, env.srv, "GET", "/scans/nonexistent", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// ─── Full reports ──────────────────────────────────────────────────────

func TestServer_RequestFullReport(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, app.ServerConfig{})
	id := env.quickScan(t)

	rec := doJSON(t, env.srv, "POST", "/scans/"+id+"/full", `{"email":"client@example.com"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var body server.FullReportResponse
	decodeJSON(t, rec, &body)
	if body.ScanID != id || body.JobID == "" || body.Status != model.ScanPaid {
		t.Errorf("unexpected response %+v", body)
	}
	if env.queue.Len() != 1 {
		t.Errorf("queue length = %d, want 1", env.queue.Len())
	}

	rec = doJSON(t, env.srv, "POST", "/scans/"+id+"/full", `{"email":"client@example.com"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("second request: expected 409, got %d", rec.Code)
	}
}

func TestServer_RequestFullReport_Rejections(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, app.ServerConfig{})
	id := env.quickScan(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"invalid json", "/scans/" + id + "/full", `{`, http.StatusBadRequest},
		{"invalid email", "/scans/" + id + "/full", `{"email":"not-an-address"}`, http.StatusBadRequest},
		{"unknown scan", "/scans/nope/full", `{"email":"client@example.com"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, env.srv, "POST", tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
	if env.queue.Len() != 0 {
		t.Errorf("rejected requests queued %d jobs", env.queue.Len())
	}
}

func TestServer_RequestFullReport_RequiresToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, app.ServerConfig{APIToken: testToken})
	id := env.quickScan(t)
	body := `{"email":"client@example.com"}`

	rec := doJSON(t, env.srv, "POST", "/scans/"+id+"/full", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = doJSON(t, env.srv, "POST", "/scans/"+id+"/full", body, "Authorization", "Bearer wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with a wrong token, got %d", rec.Code)
	}
	rec = doJSON(t, env.srv, "POST", "/scans/"+id+"/full", body, "Authorization", "Bearer "+testToken)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with the token, got %d", rec.Code)
	}
}

// ─── WebSockets ────────────────────────────────────────────────────────

func dialScan(t *testing.T, ts *httptest.Server, scanID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/scans/" + scanID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	return conn
}

func TestServer_ScanWS_CompletedScanSendsSnapshotAndCloses(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, app.ServerConfig{})
	ts := httptest.NewServer(env.srv)
	defer ts.Close()
	id := env.quickScan(t)

	conn := dialScan(t, ts, id)

	var ev app.JobEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if ev.ScanID != id || ev.Type != app.JobEventStatus || ev.Status != model.ScanCompleted {
		t.Errorf("unexpected snapshot %+v", ev)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected a normal close, got %v", err)
	}
}

func TestServer_ScanWS_StreamsFullReportProgress(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, app.ServerConfig{})
	ts := httptest.NewServer(env.srv)
	defer ts.Close()
	id := env.quickScan(t)

	rec := doJSON(t, env.srv, "POST", "/scans/"+id+"/full", `{"email":"client@example.com"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	conn := dialScan(t, ts, id)
	var snapshot app.JobEvent
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snapshot.Status != model.ScanPaid {
		t.Fatalf("snapshot status = %s, want PAID", snapshot.Status)
	}

	errc := make(chan error, 1)
	go func() { errc <- env.orch.ProcessFullReport(context.Background(), id) }()

	var statuses []model.ScanStatus
	stages := map[string]bool{}
	for {
		var ev app.JobEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event after %v: %v", statuses, err)
		}
		if ev.Type == app.JobEventStage {
			stages[ev.Stage] = true
			continue
		}
		statuses = append(statuses, ev.Status)
		if ev.Status == model.ScanDelivered {
			break
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("ProcessFullReport: %v", err)
	}

	want := []model.ScanStatus{model.ScanRunningFull, model.ScanCompletedFull, model.ScanDelivered}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("statuses = %v, want %v", statuses, want)
			break
		}
	}
	if !stages["crawl"] || !stages["deliver"] {
		t.Errorf("missing stage events, got %v", stages)
	}
	if env.mail.SentCount() != 1 {
		t.Errorf("sent %d emails, want 1", env.mail.SentCount())
	}
}

func TestServer_ScanWS_UnknownScan(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, app.ServerConfig{})
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/scans/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", resp)
	}
}
