package agent

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"figflow/pkg/config"
)

// Worker kinds.
const (
	KindLLM   = "llm"
	KindHuman = "human"
)

// Roster roles, matching the fields of config.Roles.
const (
	RoleAnalyst          = "analyst"
	RoleInfoGatherer     = "info_gatherer"
	RoleCodeWriter       = "code_writer"
	RoleCodeReviewer     = "code_reviewer"
	RoleFidelityReviewer = "result_reviewer"
)

//go:embed roster.yaml
var defaultRoster []byte

// WorkerSpec is one roster entry.
type WorkerSpec struct {
	Role         string   `yaml:"role"`
	Kind         string   `yaml:"kind"`
	Description  string   `yaml:"description"`
	Instructions string   `yaml:"instructions"`
	Tools        []string `yaml:"tools"`
	Markers      []string `yaml:"markers"`
	Stream       bool     `yaml:"stream"`
	CodingRules  bool     `yaml:"coding_rules"`
	Knowledge    bool     `yaml:"knowledge"`
}

// Roster describes every worker of the pipeline.
type Roster struct {
	Workers []WorkerSpec `yaml:"workers"`
}

// DefaultRoster returns the embedded roster.
func DefaultRoster() (*Roster, error) {
	return ParseRoster(defaultRoster)
}

// LoadRoster reads a roster file, or the embedded default when path is empty.
func LoadRoster(path string) (*Roster, error) {
	if path == "" {
		return DefaultRoster()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster %s: %w", path, err)
	}
	return ParseRoster(data)
}

// ParseRoster decodes and validates a roster.
func ParseRoster(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}
	seen := make(map[string]bool, len(r.Workers))
	for i := range r.Workers {
		w := &r.Workers[i]
		if w.Kind == "" {
			w.Kind = KindLLM
		}
		if w.Kind != KindLLM && w.Kind != KindHuman {
			return nil, fmt.Errorf("roster worker %q has unknown kind %q", w.Role, w.Kind)
		}
		if _, err := roleName(config.Roles{}, w.Role); err != nil {
			return nil, err
		}
		if seen[w.Role] {
			return nil, fmt.Errorf("roster lists role %q twice", w.Role)
		}
		seen[w.Role] = true
	}
	for _, role := range []string{RoleAnalyst, RoleInfoGatherer, RoleCodeWriter, RoleCodeReviewer, RoleFidelityReviewer} {
		if !seen[role] {
			return nil, fmt.Errorf("roster is missing role %q", role)
		}
	}
	return &r, nil
}

// Spec returns the entry for role.
func (r *Roster) Spec(role string) (WorkerSpec, bool) {
	for _, w := range r.Workers {
		if w.Role == role {
			return w, true
		}
	}
	return WorkerSpec{}, false
}

// roleName maps a roster role to the configured worker name.
func roleName(roles config.Roles, role string) (string, error) {
	switch role {
	case RoleAnalyst:
		return roles.Analyst, nil
	case RoleInfoGatherer:
		return roles.InfoGatherer, nil
	case RoleCodeWriter:
		return roles.CodeWriter, nil
	case RoleCodeReviewer:
		return roles.CodeReviewer, nil
	case RoleFidelityReviewer:
		return roles.FidelityReviewer, nil
	default:
		return "", fmt.Errorf("roster has unknown role %q", role)
	}
}

// resolveMarkers maps symbolic marker keys to the configured strings.
func resolveMarkers(m config.Markers, keys []string) ([]string, error) {
	table := map[string]string{
		"needs_user_input":  m.NeedsUserInput,
		"analysis_complete": m.AnalysisComplete,
		"task_complete":     m.TaskComplete,
		"review_approved":   m.ReviewApproved,
		"review_rejected":   m.ReviewRejected,
		"result_approved":   m.ResultApproved,
		"result_rejected":   m.ResultRejected,
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		v, ok := table[strings.ToLower(key)]
		if !ok {
			return nil, fmt.Errorf("unknown marker %q", key)
		}
		out = append(out, v)
	}
	return out, nil
}
