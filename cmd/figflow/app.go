package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"figflow/pkg/agent"
	"figflow/pkg/agent/middleware/metrics"
	"figflow/pkg/bridge"
	"figflow/pkg/config"
	"figflow/pkg/eventlog"
	"figflow/pkg/knowledge"
	"figflow/pkg/logx"
	"figflow/pkg/orchestrator"
	"figflow/pkg/persistence"
	"figflow/pkg/router"
	"figflow/pkg/scheduler"
	"figflow/pkg/templates"
	"figflow/pkg/tools"
)

const databaseFile = "figflow.db"

// app is one fully wired pipeline: storage, router, bridge and runner.
//
//nolint:govet // fieldalignment: grouped for readability
type app struct {
	cfg       *config.Config
	db        *sql.DB
	store     *persistence.Store
	events    *eventlog.Writer
	registry  *prometheus.Registry
	router    *router.Router
	bridge    *bridge.Bridge
	knowledge *knowledge.Store
	runner    *orchestrator.Runner
	team      orchestrator.TeamFunc
	logger    *logx.Logger

	rawClient agent.RawClientFunc
}

// newApp loads the configuration and wires every component. Secrets must
// already be unlocked: endpoint validation resolves API keys.
func newApp(opts *rootOptions) (*app, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.dataDir != "" {
		cfg.Paths.DataDir = opts.dataDir
	}
	if opts.debug || cfg.Debug {
		logx.SetDebug(true)
	}
	a := &app{cfg: cfg, logger: logx.NewLogger("figflow"), rawClient: opts.rawClient}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	db, err := persistence.Open(filepath.Join(cfg.Paths.DataDir, databaseFile))
	if err != nil {
		return err
	}
	a.db = db
	a.store = persistence.NewStore(db)

	if a.events, err = eventlog.NewWriter(cfg.Paths.LogDir); err != nil {
		return err
	}
	a.logger.Debug("recording turns to %s", a.events.CurrentFile())

	a.registry = prometheus.NewRegistry()
	factory := agent.NewEndpointFactory(metrics.NewPrometheusRecorder(a.registry))
	if a.rawClient != nil {
		factory = factory.WithRawClient(a.rawClient)
	}
	if a.router, err = factory.NewRouter(cfg); err != nil {
		return err
	}

	rules, err := knowledge.LoadRuleSet(cfg.Paths.RulesFile)
	if err != nil {
		return err
	}
	a.knowledge = knowledge.NewStore(a.store, rules.Rules, rules.CodingRules)

	roster, err := agent.LoadRoster(cfg.Paths.RosterFile)
	if err != nil {
		return err
	}
	renderer, err := templates.NewRenderer()
	if err != nil {
		return err
	}

	a.bridge = bridge.New(cfg.Pipeline.InputTimeout())
	a.team = a.teamFunc(roster, renderer)
	orch, err := orchestrator.New(orchestrator.Options{
		Bridge:      a.bridge,
		Team:        a.team,
		Renderer:    renderer,
		Chooser:     scheduler.NewLLMChooser(a.router, renderer),
		Corrections: a.knowledge,
		Pipeline:    cfg.Pipeline,
	})
	if err != nil {
		return err
	}
	a.runner = orchestrator.NewRunner(a.bridge, orch, a.store, a.events)
	a.logger.Info("wired %d endpoint(s), roster of %d worker(s)", len(cfg.Endpoints), len(roster.Workers))
	return nil
}

// teamFunc rebuilds the team for every iteration so that system prompts and
// knowledge tools see the corrections gathered so far.
func (a *app) teamFunc(roster *agent.Roster, renderer *templates.Renderer) orchestrator.TeamFunc {
	return func(ctx context.Context, iteration int) (agent.Team, error) {
		snap, err := a.knowledge.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", iteration, err)
		}
		out := a.cfg.Paths.OutputDir
		set := []tools.Tool{
			tools.NewWriteFileTool(out),
			tools.NewReadFileTool(out),
			tools.NewListFilesTool(out),
			tools.NewSearchKnowledgeTool(snap),
			tools.NewAddKnowledgeTool(a.knowledge),
			tools.NewKnowledgeSummaryTool(snap),
		}
		if c := a.cfg.Comparer; c.URL != "" {
			set = append(set, tools.NewCompareScreenshotsTool(tools.NewHTTPComparer(c.URL, c.Timeout())))
		}
		registry, err := tools.NewRegistry(set...)
		if err != nil {
			return nil, err
		}
		return agent.BuildTeam(roster, &agent.TeamDeps{
			Client:    a.router,
			Renderer:  renderer,
			Registry:  registry,
			Knowledge: snap,
			Requester: a.bridge,
			Pipeline:  a.cfg.Pipeline,
		})
	}
}

// Close releases the event log and the database.
func (a *app) Close() {
	var errs []error
	if a.events != nil {
		errs = append(errs, a.events.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown: %v", err)
	}
}
