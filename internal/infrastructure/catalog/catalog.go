package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/veracta/doclifecycle/internal/core/domain"
)

// Catalog is the on-disk workflow-type configuration. States and edge
// tables are reference data: new workflow types are added here, not in the
// engine.
type Catalog struct {
	States        []stateSpec        `yaml:"states"`
	WorkflowTypes []workflowTypeSpec `yaml:"workflow_types"`
}

type stateSpec struct {
	Code     string `yaml:"code"`
	Initial  bool   `yaml:"initial"`
	Terminal bool   `yaml:"terminal"`
}

type workflowTypeSpec struct {
	Code                 string     `yaml:"code"`
	Name                 string     `yaml:"name"`
	InitialState         string     `yaml:"initial_state"`
	TimeoutDays          int        `yaml:"timeout_days"`
	RequiresApproval     bool       `yaml:"requires_approval"`
	ReviewIntervalMonths int        `yaml:"review_interval_months"`
	OnReviewUpdated      string     `yaml:"on_review_updated"`
	FinalStates          []string   `yaml:"final_states"`
	Transitions          []edgeSpec `yaml:"transitions"`
}

type edgeSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Load reads the catalog file and builds a validated state registry.
func Load(path string) (*domain.StateRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow catalog: %w", err)
	}
	return Parse(raw)
}

// Parse builds a validated state registry from raw catalog YAML. When the
// catalog declares no states, the built-in lifecycle states apply.
func Parse(raw []byte) (*domain.StateRegistry, error) {
	var cat Catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("parse workflow catalog: %w", err)
	}

	states := domain.DefaultStates()
	if len(cat.States) > 0 {
		states = make([]domain.State, 0, len(cat.States))
		for _, s := range cat.States {
			states = append(states, domain.State{
				Code:     domain.StateCode(s.Code),
				Initial:  s.Initial,
				Terminal: s.Terminal,
			})
		}
	}

	types := make([]domain.WorkflowType, 0, len(cat.WorkflowTypes))
	for _, wt := range cat.WorkflowTypes {
		policy := domain.ReviewUpdatePolicy(wt.OnReviewUpdated)
		switch policy {
		case "", domain.ReviewUpdateKeepEffective, domain.ReviewUpdateReturnToDraft:
		default:
			return nil, fmt.Errorf("workflow type %s: unknown on_review_updated policy %q", wt.Code, wt.OnReviewUpdated)
		}

		finals := make([]domain.StateCode, 0, len(wt.FinalStates))
		for _, f := range wt.FinalStates {
			finals = append(finals, domain.StateCode(f))
		}
		edges := make([]domain.Edge, 0, len(wt.Transitions))
		for _, e := range wt.Transitions {
			edges = append(edges, domain.Edge{From: domain.StateCode(e.From), To: domain.StateCode(e.To)})
		}

		types = append(types, domain.WorkflowType{
			Code:                 wt.Code,
			Name:                 wt.Name,
			InitialState:         domain.StateCode(wt.InitialState),
			TimeoutDays:          wt.TimeoutDays,
			RequiresApproval:     wt.RequiresApproval,
			ReviewIntervalMonths: wt.ReviewIntervalMonths,
			OnReviewUpdated:      policy,
			FinalStates:          finals,
			Transitions:          edges,
		})
	}

	registry, err := domain.NewStateRegistry(states, types)
	if err != nil {
		return nil, fmt.Errorf("build state registry: %w", err)
	}
	return registry, nil
}
