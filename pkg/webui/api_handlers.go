package webui

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"figflow/pkg/bridge"
	"figflow/pkg/logx"
	"figflow/pkg/orchestrator"
	"figflow/pkg/persistence"
	"figflow/pkg/tools"
)

const (
	maxLogEntries  = 1000
	defaultRunList = 20
)

// startRequest starts a run from positional arguments or an explicit design.
type startRequest struct {
	Design *orchestrator.DesignInput `json:"design,omitempty"`
	Args   []string                  `json:"args,omitempty"`
}

func (req *startRequest) input() (orchestrator.DesignInput, error) {
	if req.Design != nil {
		return *req.Design, req.Design.Validate()
	}
	return orchestrator.ParseArgs(req.Args)
}

// handleHistory implements GET /api/history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.opts.Bridge.History())
}

// handleStatus implements GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.opts.Bridge.Status())
}

// handleFiles implements GET /api/files.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	files := []string{}
	if s.opts.OutputDir != "" {
		var err error
		if files, err = tools.ListFiles(s.opts.OutputDir); err != nil {
			s.logger.Error("failed to list output files: %v", err)
			s.writeError(w, http.StatusInternalServerError, "failed to list output files")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// handleEndpoints implements GET /api/endpoints.
func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Endpoints == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no router configured")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"endpoints": s.opts.Endpoints.Status(),
		"usage":     s.opts.Endpoints.Usage(),
	})
}

// handleLogs implements GET /api/logs?domain=&since=.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	var since time.Time
	if v := query.Get("since"); v != "" {
		var err error
		if since, err = time.Parse(time.RFC3339, v); err != nil {
			http.Error(w, "Invalid since parameter (use RFC3339)", http.StatusBadRequest)
			return
		}
	}
	entries := logx.RecentEntries(query.Get("domain"), since)
	if len(entries) > maxLogEntries {
		entries = entries[len(entries)-maxLogEntries:]
	}
	if entries == nil {
		entries = []logx.LogEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// handleRuns implements GET /api/runs?limit=.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Runs == nil {
		s.writeJSON(w, http.StatusOK, []*persistence.Run{})
		return
	}
	limit := defaultRunList
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.opts.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

// handleRun implements GET /api/runs/{id}/turns and GET /api/runs/{id}/usage.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	runID, view, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/")
	if !ok || runID == "" {
		http.NotFound(w, r)
		return
	}

	switch view {
	case "turns":
		if s.opts.Runs == nil {
			s.writeError(w, http.StatusServiceUnavailable, "no run store configured")
			return
		}
		turns, err := s.opts.Runs.ListTurns(r.Context(), runID)
		if err != nil {
			s.logger.Error("failed to list turns of %s: %v", runID, err)
			s.writeError(w, http.StatusInternalServerError, "failed to list turns")
			return
		}
		s.writeJSON(w, http.StatusOK, turns)
	case "usage":
		if s.opts.Usage == nil {
			s.writeError(w, http.StatusServiceUnavailable, "no Prometheus server configured")
			return
		}
		usage, err := s.opts.Usage.GetRunUsage(r.Context(), runID)
		if err != nil {
			s.logger.Warn("usage query for %s failed: %v", runID, err)
			s.writeError(w, http.StatusBadGateway, "usage query failed")
			return
		}
		s.writeJSON(w, http.StatusOK, usage)
	default:
		http.NotFound(w, r)
	}
}

// handleStart implements POST /api/start.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	runID, status, err := s.start(&req)
	if err != nil {
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "run_id": runID})
}

// start validates req and launches a run, returning the HTTP status for a failure.
func (s *Server) start(req *startRequest) (string, int, error) {
	if s.opts.Runner == nil {
		return "", http.StatusServiceUnavailable, errors.New("runs cannot be started from this server")
	}
	in, err := req.input()
	if err != nil {
		return "", http.StatusBadRequest, err
	}
	runID, err := s.opts.Runner.Start(s.baseCtx, in)
	switch {
	case errors.Is(err, bridge.ErrBusy):
		return "", http.StatusConflict, err
	case err != nil:
		return "", http.StatusBadRequest, err
	}
	s.logger.Info("run %s started from the web UI", runID)
	return runID, 0, nil
}

// handleStop implements POST /api/stop.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.stop()
	s.writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
}

func (s *Server) stop() {
	if s.opts.Runner != nil {
		s.opts.Runner.Stop()
		return
	}
	s.opts.Bridge.RequestCancel()
}

// handleInput implements POST /api/input.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	delivered := s.opts.Bridge.ProvideInput(req.Text)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "delivered": delivered})
}
