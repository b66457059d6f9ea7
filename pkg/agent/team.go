package agent

import (
	"fmt"
	"slices"

	"figflow/pkg/agent/llm"
	"figflow/pkg/config"
	"figflow/pkg/knowledge"
	"figflow/pkg/templates"
	"figflow/pkg/tools"
)

// TeamDeps are the collaborators shared by every worker of one run.
//
//nolint:govet // fieldalignment: grouped for readability
type TeamDeps struct {
	Client    llm.LLMClient
	Renderer  *templates.Renderer
	Registry  *tools.Registry
	Knowledge *knowledge.Snapshot
	Requester InputRequester
	Pipeline  config.PipelineConfig
	MaxTokens int
}

// Team is the set of workers of one run, keyed by name.
type Team map[string]Worker

// BuildTeam instantiates every roster entry. System prompts embed the
// knowledge snapshot, so a team is built per run iteration.
func BuildTeam(r *Roster, deps *TeamDeps) (Team, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	team := make(Team, len(r.Workers))
	for i := range r.Workers {
		spec := &r.Workers[i]
		name, err := roleName(deps.Pipeline.Roles, spec.Role)
		if err != nil {
			return nil, err
		}

		var w Worker
		switch spec.Kind {
		case KindHuman:
			if deps.Requester == nil {
				return nil, fmt.Errorf("worker %s needs an input requester", name)
			}
			w = NewHumanWorker(name, spec.Description, deps.Requester)
		default:
			w, err = buildLLMWorker(name, spec, deps)
			if err != nil {
				return nil, err
			}
		}
		team[name] = w
	}
	return team, nil
}

func buildLLMWorker(name string, spec *WorkerSpec, deps *TeamDeps) (*LLMWorker, error) {
	available, err := toolsFor(spec, deps.Registry)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", name, err)
	}
	markers, err := resolveMarkers(deps.Pipeline.Markers, spec.Markers)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", name, err)
	}

	data := templates.WorkerData{
		Name:         name,
		Description:  spec.Description,
		Instructions: spec.Instructions,
		Markers:      markers,
	}
	for _, t := range available {
		data.Tools = append(data.Tools, t.Name())
	}
	if snap := deps.Knowledge; snap != nil {
		data.Rules = snap.RulesPrompt()
		if spec.CodingRules {
			data.CodingRules = snap.CodingRulesPrompt()
		}
		if spec.Knowledge {
			data.Knowledge = snap.Summary()
		}
	}
	prompt, err := deps.Renderer.Render(templates.WorkerSystemTemplate, data)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", name, err)
	}

	cfg := LLMWorkerConfig{
		Client:       deps.Client,
		Name:         name,
		Description:  spec.Description,
		SystemPrompt: prompt,
		ToolDefs:     tools.Definitions(available),
		MaxToolIter:  deps.Pipeline.MaxToolIterations,
		MaxTokens:    deps.MaxTokens,
		Stream:       spec.Stream,
	}
	if len(available) > 0 {
		cfg.Tools = deps.Registry
	}
	return NewLLMWorker(cfg)
}

// toolsFor resolves a roster entry's tools. compare_screenshots is optional:
// it is only registered when an image comparer is configured.
func toolsFor(spec *WorkerSpec, registry *tools.Registry) ([]tools.Tool, error) {
	if len(spec.Tools) == 0 {
		return nil, nil
	}
	if registry == nil {
		return nil, fmt.Errorf("tools %v requested without a registry", spec.Tools)
	}
	registered := registry.Names()
	names := make([]string, 0, len(spec.Tools))
	for _, name := range spec.Tools {
		if name == tools.ToolCompareScreenshots && !slices.Contains(registered, name) {
			continue
		}
		names = append(names, name)
	}
	return registry.Subset(names)
}
