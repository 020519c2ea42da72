package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/alouette-a11y/alouette/internal/app"
	"github.com/alouette-a11y/alouette/internal/logging"
	"github.com/alouette-a11y/alouette/internal/model"
	"github.com/alouette-a11y/alouette/internal/queue"
	"github.com/alouette-a11y/alouette/internal/store"
)

const (
	maxBodyBytes = 1 << 20
	wsWriteWait  = 10 * time.Second
)

// Server is the HTTP + WebSocket API surface for Alouette.
type Server struct {
	cfg          app.ServerConfig
	orchestrator *app.Orchestrator
	router       chi.Router
	upgrader     websocket.Upgrader
	logger       logging.Logger
}

// NewServer routes the API onto orch.
func NewServer(cfg app.ServerConfig, orch *app.Orchestrator, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewStdoutLogger("server")
	}

	r := chi.NewRouter()
	s := &Server{
		cfg:          cfg,
		orchestrator: orch,
		router:       r,
		logger:       logger.With(logging.Field{Key: "component", Value: "server"}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	// CORS preflight
	r.Options("/scans", s.optionsHandler("POST"))
	r.Options("/scans/{scanID}", s.optionsHandler("GET"))
	r.Options("/scans/{scanID}/full", s.optionsHandler("POST"))

	r.Get("/healthz", s.handleHealth)

	// Scans
	r.Post("/scans", s.handleQuickScan)
	r.Get("/scans/{scanID}", s.handleGetScan)
	r.With(s.requireToken).Post("/scans/{scanID}/full", s.handleRequestFullReport)

	// WebSockets for scan progress
	r.Get("/ws/scans/{scanID}", s.handleScanWS)
}

func (s *Server) allowedOrigin(origin string) (string, bool) {
	if len(s.cfg.AllowedOrigins) == 0 {
		return "*", true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" {
			return "*", true
		}
		if strings.EqualFold(o, origin) {
			return origin, true
		}
	}
	return "", false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	_, ok := s.allowedOrigin(origin)
	return ok
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allow, ok := s.allowedOrigin(r.Header.Get("Origin")); ok {
			w.Header().Set("Access-Control-Allow-Origin", allow)
			if allow != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept-Language")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// requireToken checks the bearer token when one is configured.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token != s.cfg.APIToken {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}
	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}
	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // free scans and websockets run long
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

// --- HTTP handlers ---

// handleHealth godoc
// @Summary Health check
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /healthz [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.orchestrator.Ping(ctx); err != nil {
		s.logger.Warn("healthz: store ping failed", logging.Err(err))
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Reason: "store unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// handleQuickScan godoc
// @Summary Run a free single-page scan
// @Accept json
// @Produce json
// @Param request body QuickScanRequest true "Site to scan"
// @Success 200 {object} app.QuickScan
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /scans [post]
func (s *Server) handleQuickScan(w http.ResponseWriter, r *http.Request) {
	lang := app.MatchLanguage(r.Header.Get("Accept-Language"))

	var req QuickScanRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.orchestrator.RunQuickScan(r.Context(), req.URL, lang)
	if err != nil {
		var se *app.ScanError
		if errors.As(err, &se) {
			status := http.StatusBadGateway
			if se.InvalidURL() {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, ErrorResponse{Error: se.Error(), ScanID: se.ScanID})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGetScan godoc
// @Summary Get a scan with its result and crawl coverage
// @Produce json
// @Param scanID path string true "Scan ID"
// @Success 200 {object} ScanResponse
// @Failure 404 {object} ErrorResponse
// @Router /scans/{scanID} [get]
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")

	scan, err := s.orchestrator.GetScan(r.Context(), scanID)
	if errors.Is(err, store.ErrScanNotFound) {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	if err != nil {
		s.logger.Error("loading scan", logging.Field{Key: "scan_id", Value: scanID}, logging.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	pages, err := s.orchestrator.ListPages(r.Context(), scanID)
	if err != nil {
		s.logger.Warn("loading crawl coverage", logging.Field{Key: "scan_id", Value: scanID}, logging.Err(err))
	}

	writeJSON(w, http.StatusOK, ScanResponse{
		ID:        scan.ID,
		SiteID:    scan.SiteID,
		Status:    scan.Status,
		Result:    scan.Result,
		Pages:     pages,
		CreatedAt: scan.CreatedAt,
		UpdatedAt: scan.UpdatedAt,
	})
}

// handleRequestFullReport godoc
// @Summary Queue the paid full audit of a scan
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param scanID path string true "Scan ID"
// @Param request body FullReportRequest true "Delivery address"
// @Success 202 {object} FullReportResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /scans/{scanID}/full [post]
func (s *Server) handleRequestFullReport(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")

	var req FullReportRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	job, err := s.orchestrator.RequestFullReport(r.Context(), scanID, req.Email)
	switch {
	case err == nil:
	case errors.Is(err, app.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrScanNotFound):
		writeError(w, http.StatusNotFound, "scan not found")
		return
	case errors.Is(err, queue.ErrDuplicate):
		writeError(w, http.StatusConflict, "a full report is already queued for this scan")
		return
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "the full report of this scan is already under way")
		return
	default:
		s.logger.Error("requesting full report", logging.Field{Key: "scan_id", Value: scanID}, logging.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, FullReportResponse{
		ScanID: scanID,
		JobID:  job.ID,
		Status: model.ScanPaid,
	})
}

// WebSockets

// handleScanWS streams the scan's events, starting with its current status,
// until it reaches a final status or the client goes away.
func (s *Server) handleScanWS(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")

	events, unsubscribe := s.orchestrator.Events().Subscribe(scanID)
	defer unsubscribe()

	scan, err := s.orchestrator.GetScan(r.Context(), scanID)
	if errors.Is(err, store.ErrScanNotFound) {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Err(err))
		return
	}
	defer conn.Close()

	// The reader notices the client closing the connection.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev app.JobEvent) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(ev) == nil
	}

	if !send(app.JobEvent{ScanID: scanID, Type: app.JobEventStatus, Status: scan.Status}) {
		return
	}
	if finalStatus(scan.Status) {
		closeWS(conn)
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !send(ev) {
				return
			}
			if ev.Type == app.JobEventStatus && finalStatus(ev.Status) {
				closeWS(conn)
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// finalStatus reports whether no further event is expected without a new
// trigger.
func finalStatus(st model.ScanStatus) bool {
	return st.Terminal() || st == model.ScanCompleted
}

func closeWS(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
