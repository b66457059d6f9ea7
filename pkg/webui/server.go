// Package webui serves the browser observer: live turns over a websocket,
// JSON views of the run, the generated files, and the run controls.
package webui

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"figflow/pkg/bridge"
	"figflow/pkg/logx"
	"figflow/pkg/metrics"
	"figflow/pkg/orchestrator"
	"figflow/pkg/persistence"
	"figflow/pkg/router"
	"figflow/pkg/version"
)

// Username is the fixed basic-auth user.
const Username = "figflow"

//go:embed web/index.html
var templateFS embed.FS

// RunController starts and stops runs. *orchestrator.Runner satisfies it.
type RunController interface {
	Start(ctx context.Context, in orchestrator.DesignInput) (string, error)
	Stop()
}

// EndpointReporter reports the router's endpoints. *router.Router satisfies it.
type EndpointReporter interface {
	Status() []router.EndpointStatus
	Usage() router.Usage
}

// RunHistory reads past runs. *persistence.Store satisfies it.
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]*persistence.Run, error)
	ListTurns(ctx context.Context, runID string) ([]*persistence.TurnRecord, error)
}

// UsageQuerier reports a run's token usage. *metrics.QueryService satisfies it.
type UsageQuerier interface {
	GetRunUsage(ctx context.Context, runID string) (*metrics.RunUsage, error)
}

// Options configures a Server. Only Bridge is required.
//
//nolint:govet // fieldalignment: grouped for readability
type Options struct {
	Bridge    *bridge.Bridge
	Runner    RunController
	Endpoints EndpointReporter
	Runs      RunHistory
	Usage     UsageQuerier
	Gatherer  prometheus.Gatherer

	OutputDir string
	DataDir   string

	// Password protects every route. An empty password disables auth.
	Password string
	// SecretsPassword encrypts secrets changed through the API. Without it
	// changes stay in memory.
	SecretsPassword string
}

// Server is the web UI HTTP server.
type Server struct {
	opts      Options
	baseCtx   context.Context //nolint:containedctx // runs outlive the request that started them
	logger    *logx.Logger
	templates *template.Template
}

// NewServer creates a server.
func NewServer(opts Options) (*Server, error) {
	if opts.Bridge == nil {
		return nil, errors.New("webui needs a bridge")
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	templates, err := template.ParseFS(templateFS, "web/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded templates: %w", err)
	}
	return &Server{
		opts:      opts,
		baseCtx:   context.Background(),
		logger:    logx.NewLogger("webui"),
		templates: templates,
	}, nil
}

// requireAuth wraps a handler with basic authentication.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.opts.Password == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || username != Username ||
			subtle.ConstantTimeCompare([]byte(password), []byte(s.opts.Password)) != 1 {
			if ok {
				s.logger.Warn("failed authentication attempt from %s (username: %s)", r.RemoteAddr, username)
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="figflow"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// RegisterRoutes sets up every route on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/", s.requireAuth(s.handleDashboard))
	mux.HandleFunc("/ws", s.requireAuth(s.handleWebSocket))

	mux.HandleFunc("/api/history", s.requireAuth(s.handleHistory))
	mux.HandleFunc("/api/status", s.requireAuth(s.handleStatus))
	mux.HandleFunc("/api/files", s.requireAuth(s.handleFiles))
	mux.HandleFunc("/api/endpoints", s.requireAuth(s.handleEndpoints))
	mux.HandleFunc("/api/logs", s.requireAuth(s.handleLogs))
	mux.HandleFunc("/api/runs", s.requireAuth(s.handleRuns))
	mux.HandleFunc("/api/runs/", s.requireAuth(s.handleRun))
	mux.HandleFunc("/api/start", s.requireAuth(s.handleStart))
	mux.HandleFunc("/api/stop", s.requireAuth(s.handleStop))
	mux.HandleFunc("/api/input", s.requireAuth(s.handleInput))
	mux.HandleFunc("/api/secrets", s.requireAuth(s.handleSecretsRouter))
	mux.HandleFunc("/api/secrets/", s.requireAuth(s.handleSecretsDelete))

	mux.HandleFunc("/metrics", s.requireAuth(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}).ServeHTTP))
	if s.opts.OutputDir != "" {
		files := http.StripPrefix("/output/", http.FileServer(http.Dir(s.opts.OutputDir)))
		mux.HandleFunc("/output/", s.requireAuth(files.ServeHTTP))
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data := map[string]any{"Title": "figflow", "Version": version.String(), "Status": s.opts.Bridge.Status()}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.Error("failed to render dashboard: %v", err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

// handleHealth answers liveness probes without auth.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// StartServer listens on addr until ctx is cancelled. Runs started through
// the server inherit ctx.
func (s *Server) StartServer(ctx context.Context, addr string) error {
	s.baseCtx = ctx
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting web UI on http://%s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("web UI server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down web UI server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	//nolint:contextcheck // parent context is cancelled; shutdown needs a fresh one
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web UI shutdown: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
