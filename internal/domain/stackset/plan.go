package stackset

import "github.com/stackctl/stackctl/internal/domain/graph"

// Plan is the output of the Planner: a validated DAG of steps for one
// invocation (spec §3, §4.4).
type Plan struct {
	Graph     *graph.Graph
	Steps     map[string]*Step // keyed by Step.ID
	LockToken string           // persistent-graph lock token, set when acquired
}

// NewPlan returns an empty Plan ready to have steps added.
func NewPlan() *Plan {
	return &Plan{
		Graph: graph.New(),
		Steps: make(map[string]*Step),
	}
}

// AddStep registers a step and its graph node. Steps must be added before
// edges referencing them are created.
func (p *Plan) AddStep(step *Step) {
	p.Steps[step.ID] = step
	p.Graph.AddNode(step.ID)
}

// OrderedStepIDs returns every step id in graph insertion order; the
// planner inserts steps in config order, so this is config order. No
// sorting is applied.
func (p *Plan) OrderedStepIDs() []string {
	return p.Graph.Nodes()
}
