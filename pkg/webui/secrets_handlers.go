package webui

import (
	"encoding/json"
	"net/http"
	"strings"

	"figflow/pkg/config"
)

// SecretEntry is a secret as listed by the API: its name only.
type SecretEntry struct {
	Name string `json:"name"`
}

func (s *Server) handleSecretsRouter(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleSecretsList(w, r)
	case http.MethodPost:
		s.handleSecretsSet(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSecretsList implements GET /api/secrets.
func (s *Server) handleSecretsList(w http.ResponseWriter, _ *http.Request) {
	names := config.SecretNames()
	entries := make([]SecretEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, SecretEntry{Name: name})
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// handleSecretsSet implements POST /api/secrets.
func (s *Server) handleSecretsSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	switch {
	case req.Name == "":
		s.writeError(w, http.StatusBadRequest, "secret name is required")
		return
	case req.Value == "":
		s.writeError(w, http.StatusBadRequest, "secret value is required")
		return
	case !validSecretName(req.Name):
		s.writeError(w, http.StatusBadRequest, "secret name must contain only alphanumeric characters and underscores")
		return
	}

	config.SetSecret(req.Name, req.Value)
	persisted := s.persistSecrets()
	s.logger.Info("secret %q set (persisted: %v)", req.Name, persisted)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "name": req.Name, "persisted": persisted})
}

// handleSecretsDelete implements DELETE /api/secrets/{name}.
func (s *Server) handleSecretsDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/secrets/")
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "secret name required")
		return
	}
	if !config.DeleteSecret(name) {
		s.writeError(w, http.StatusNotFound, "secret not found")
		return
	}
	persisted := s.persistSecrets()
	s.logger.Info("secret %q deleted (persisted: %v)", name, persisted)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "name": name, "persisted": persisted})
}

// persistSecrets writes the in-memory secrets to the encrypted file when a
// password is configured. A failed write keeps the in-memory change.
func (s *Server) persistSecrets() bool {
	if s.opts.SecretsPassword == "" || s.opts.DataDir == "" {
		s.logger.Warn("no secrets password set; secret kept in memory only")
		return false
	}
	if err := config.SaveSecrets(s.opts.DataDir, s.opts.SecretsPassword); err != nil {
		s.logger.Error("failed to persist secrets: %v", err)
		return false
	}
	return true
}

func validSecretName(name string) bool {
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}
