// Package config loads figflow's run configuration: the endpoint pool, router
// timings, pipeline budgets and markers, and filesystem locations.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Providers understood by the endpoint factory.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderGoogle    = "google"
)

// DefaultConfigFile is looked up in the working directory when no path is given.
const DefaultConfigFile = "figflow.json"

// Default values applied to unset fields.
const (
	DefaultCooldownSeconds     = 60
	DefaultRetryWaitSeconds    = 10
	DefaultMaxReflectionRounds = 3
	DefaultMaxMessages         = 50
	DefaultSimilarityThreshold = 0.70
	DefaultMaxAnalysisTurns    = 6
	DefaultInputTimeoutSeconds = 600
	DefaultMaxToolIterations   = 8
	DefaultWebUIHost           = "localhost"
	DefaultWebUIPort           = 8080
	DefaultDataDir             = ".figflow"
	DefaultComparerTimeout     = 60
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the top-level configuration.
type Config struct {
	Endpoints []Endpoint     `json:"endpoints"`
	Router    RouterConfig   `json:"router"`
	Pipeline  PipelineConfig `json:"pipeline"`
	Paths     PathsConfig    `json:"paths"`
	WebUI     WebUIConfig    `json:"webui"`
	Metrics   MetricsConfig  `json:"metrics"`
	Comparer  ComparerConfig `json:"comparer"`
	Debug     bool           `json:"debug"`
}

// Endpoint is one backend the router may send requests to.
type Endpoint struct {
	ToolCalls        *bool   `json:"tool_calls,omitempty"`
	Name             string  `json:"name"`
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	BaseURL          string  `json:"base_url,omitempty"`
	APIKey           string  `json:"api_key,omitempty"`
	APIKeyEnv        string  `json:"api_key_env,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
	MaxTokens        int     `json:"max_tokens,omitempty"`
	TimeoutSeconds   int     `json:"timeout_seconds,omitempty"`
	StructuredOutput bool    `json:"structured_output,omitempty"`
	Vision           bool    `json:"vision,omitempty"`
}

// SupportsTools reports the tool-call capability. Local Ollama models are
// assumed not to support tools unless the endpoint says otherwise.
func (e *Endpoint) SupportsTools() bool {
	if e.ToolCalls != nil {
		return *e.ToolCalls
	}
	return e.Provider != ProviderOllama
}

// KeyName is the secret or environment variable holding the endpoint's API key.
func (e *Endpoint) KeyName() string {
	if e.APIKeyEnv != "" {
		return e.APIKeyEnv
	}
	return DefaultKeyEnv(e.Provider)
}

// DefaultKeyEnv returns the conventional API key variable for a provider.
func DefaultKeyEnv(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderGoogle:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// ResolveAPIKey returns the configured key, falling back to the secrets store
// and the environment. Ollama endpoints need no key.
func (e *Endpoint) ResolveAPIKey() (string, error) {
	if e.APIKey != "" {
		return e.APIKey, nil
	}
	if e.Provider == ProviderOllama {
		return "", nil
	}
	name := e.KeyName()
	if name == "" {
		return "", fmt.Errorf("%w: endpoint %q has no api_key and no api_key_env", ErrInvalidConfig, e.Name)
	}
	key, err := GetSecret(name)
	if err != nil {
		return "", fmt.Errorf("%w: endpoint %q: %w", ErrInvalidConfig, e.Name, err)
	}
	return key, nil
}

// Timeout is the per-request deadline, zero when unset.
func (e *Endpoint) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// RouterConfig controls endpoint cooldowns.
type RouterConfig struct {
	CooldownSeconds  int `json:"cooldown_seconds"`
	RetryWaitSeconds int `json:"retry_wait_seconds"`
}

// Cooldown is how long a rate-limited endpoint is excluded.
func (r RouterConfig) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// RetryWait is how long the router sleeps when every endpoint is cooling down.
func (r RouterConfig) RetryWait() time.Duration {
	return time.Duration(r.RetryWaitSeconds) * time.Second
}

// Roles names the pipeline's workers.
type Roles struct {
	Analyst          string `json:"analyst"`
	InfoGatherer     string `json:"info_gatherer"`
	CodeWriter       string `json:"code_writer"`
	CodeReviewer     string `json:"code_reviewer"`
	FidelityReviewer string `json:"fidelity_reviewer"`
}

// Markers are the literal substrings workers emit to signal stage outcomes.
type Markers struct {
	NeedsUserInput   string `json:"needs_user_input"`
	AnalysisComplete string `json:"analysis_complete"`
	TaskComplete     string `json:"task_complete"`
	ReviewApproved   string `json:"review_approved"`
	ReviewRejected   string `json:"review_rejected"`
	ResultApproved   string `json:"result_approved"`
	ResultRejected   string `json:"result_rejected"`
}

// PipelineConfig holds stage budgets.
type PipelineConfig struct {
	Roles               Roles   `json:"roles"`
	Markers             Markers `json:"markers"`
	MaxReflectionRounds int     `json:"max_reflection_rounds"`
	MaxMessages         int     `json:"max_messages"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	MaxAnalysisTurns    int     `json:"max_analysis_turns"`
	InputTimeoutSeconds int     `json:"input_timeout_seconds"`
	MaxToolIterations   int     `json:"max_tool_iterations"`
	ReviewExisting      bool    `json:"review_existing"`
}

// InputTimeout bounds how long the pipeline waits for human input.
func (p PipelineConfig) InputTimeout() time.Duration {
	return time.Duration(p.InputTimeoutSeconds) * time.Second
}

// PathsConfig locates files the run reads and writes.
type PathsConfig struct {
	OutputDir  string `json:"output_dir"`
	DataDir    string `json:"data_dir"`
	LogDir     string `json:"log_dir"`
	RosterFile string `json:"roster_file"`
	RulesFile  string `json:"rules_file"`
}

// WebUIConfig controls the observer web server.
type WebUIConfig struct {
	Host     string `json:"host"`
	Password string `json:"password,omitempty"`
	Port     int    `json:"port"`
	Enabled  bool   `json:"enabled"`
}

// Addr is the listen address.
func (w WebUIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// MetricsConfig points at the Prometheus server used for usage queries.
type MetricsConfig struct {
	PrometheusURL string `json:"prometheus_url,omitempty"`
}

// ComparerConfig points at the screenshot comparison service. Without a URL
// the fidelity reviewer has no compare_screenshots tool.
type ComparerConfig struct {
	URL            string `json:"url,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// Timeout is the per-comparison deadline.
func (c ComparerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Default returns a configuration with every default applied and no endpoints.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Router.CooldownSeconds == 0 {
		cfg.Router.CooldownSeconds = DefaultCooldownSeconds
	}
	if cfg.Router.RetryWaitSeconds == 0 {
		cfg.Router.RetryWaitSeconds = DefaultRetryWaitSeconds
	}

	p := &cfg.Pipeline
	if p.MaxReflectionRounds == 0 {
		p.MaxReflectionRounds = DefaultMaxReflectionRounds
	}
	if p.MaxMessages == 0 {
		p.MaxMessages = DefaultMaxMessages
	}
	if p.SimilarityThreshold == 0 {
		p.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if p.MaxAnalysisTurns == 0 {
		p.MaxAnalysisTurns = DefaultMaxAnalysisTurns
	}
	if p.InputTimeoutSeconds == 0 {
		p.InputTimeoutSeconds = DefaultInputTimeoutSeconds
	}
	if p.MaxToolIterations == 0 {
		p.MaxToolIterations = DefaultMaxToolIterations
	}
	setDefault(&p.Roles.Analyst, "figma_analyzer")
	setDefault(&p.Roles.InfoGatherer, "info_gatherer")
	setDefault(&p.Roles.CodeWriter, "code_writer")
	setDefault(&p.Roles.CodeReviewer, "code_reviewer")
	setDefault(&p.Roles.FidelityReviewer, "result_reviewer")
	setDefault(&p.Markers.NeedsUserInput, "NEEDS_USER_INPUT")
	setDefault(&p.Markers.AnalysisComplete, "ANALYSIS_COMPLETE")
	setDefault(&p.Markers.TaskComplete, "TASK_COMPLETE")
	setDefault(&p.Markers.ReviewApproved, "REVIEW_APPROVED")
	setDefault(&p.Markers.ReviewRejected, "REVIEW_REJECTED")
	setDefault(&p.Markers.ResultApproved, "RESULT_APPROVED")
	setDefault(&p.Markers.ResultRejected, "RESULT_REJECTED")

	setDefault(&cfg.Paths.OutputDir, "output")
	setDefault(&cfg.Paths.DataDir, DefaultDataDir)
	setDefault(&cfg.Paths.LogDir, "logs")
	setDefault(&cfg.WebUI.Host, DefaultWebUIHost)
	if cfg.WebUI.Port == 0 {
		cfg.WebUI.Port = DefaultWebUIPort
	}
	if cfg.Comparer.TimeoutSeconds == 0 {
		cfg.Comparer.TimeoutSeconds = DefaultComparerTimeout
	}

	for i := range cfg.Endpoints {
		ep := &cfg.Endpoints[i]
		if ep.Name == "" {
			ep.Name = fmt.Sprintf("%s-%d", ep.Provider, i)
		}
		ep.Provider = strings.ToLower(ep.Provider)
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// validateConfig checks structural validity and that every endpoint has credentials.
func validateConfig(cfg *Config) error {
	if len(cfg.Endpoints) == 0 {
		return fmt.Errorf("%w: no endpoints configured; add one to %s and set its API key (e.g. %s)",
			ErrInvalidConfig, DefaultConfigFile, DefaultKeyEnv(ProviderOpenAI))
	}

	seen := make(map[string]bool, len(cfg.Endpoints))
	for i := range cfg.Endpoints {
		ep := &cfg.Endpoints[i]
		if seen[ep.Name] {
			return fmt.Errorf("%w: duplicate endpoint name %q", ErrInvalidConfig, ep.Name)
		}
		seen[ep.Name] = true

		switch ep.Provider {
		case ProviderOpenAI, ProviderAnthropic, ProviderOllama, ProviderGoogle:
		default:
			return fmt.Errorf("%w: endpoint %q has unknown provider %q", ErrInvalidConfig, ep.Name, ep.Provider)
		}
		if ep.Model == "" {
			return fmt.Errorf("%w: endpoint %q has no model", ErrInvalidConfig, ep.Name)
		}
		if ep.Temperature < 0 || ep.Temperature > 2 {
			return fmt.Errorf("%w: endpoint %q temperature %.2f out of range [0,2]", ErrInvalidConfig, ep.Name, ep.Temperature)
		}
		if _, err := ep.ResolveAPIKey(); err != nil {
			return err
		}
	}

	p := &cfg.Pipeline
	if p.MaxReflectionRounds < 1 {
		return fmt.Errorf("%w: max_reflection_rounds must be at least 1", ErrInvalidConfig)
	}
	if p.MaxMessages < 1 {
		return fmt.Errorf("%w: max_messages must be at least 1", ErrInvalidConfig)
	}
	if p.SimilarityThreshold <= 0 || p.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be in (0,1]", ErrInvalidConfig)
	}
	if cfg.Router.CooldownSeconds < 0 || cfg.Router.RetryWaitSeconds < 0 {
		return fmt.Errorf("%w: router durations must not be negative", ErrInvalidConfig)
	}
	if cfg.WebUI.Port < 1 || cfg.WebUI.Port > 65535 {
		return fmt.Errorf("%w: webui port %d out of range", ErrInvalidConfig, cfg.WebUI.Port)
	}
	if u := cfg.Comparer.URL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("%w: comparer url %q must be http or https", ErrInvalidConfig, u)
	}
	return nil
}
