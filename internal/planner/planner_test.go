package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domgraph "github.com/stackctl/stackctl/internal/domain/graph"
	"github.com/stackctl/stackctl/internal/domain/stackset"
	"github.com/stackctl/stackctl/internal/ports"
)

// fakeBlueprint renders a trivial template and declares no variables
// unless told to.
type fakeBlueprint struct {
	name   string
	schema stackset.VariableSchema
}

func (b *fakeBlueprint) Name() string                         { return b.name }
func (b *fakeBlueprint) VariableSchema() stackset.VariableSchema { return b.schema }
func (b *fakeBlueprint) FQN(ctx context.Context, rc ports.RenderContext) string { return b.name }
func (b *fakeBlueprint) Render(ctx context.Context, rc ports.RenderContext, bound stackset.BoundVariables) ([]byte, string, error) {
	return []byte("Resources: {}"), "yaml", nil
}

type fakeRegistry struct {
	blueprints map[string]ports.Blueprint
}

func (r *fakeRegistry) Resolve(name string) (ports.Blueprint, error) {
	if bp, ok := r.blueprints[name]; ok {
		return bp, nil
	}
	return &fakeBlueprint{name: name}, nil
}

func newFakeRegistry(names ...string) *fakeRegistry {
	r := &fakeRegistry{blueprints: make(map[string]ports.Blueprint)}
	for _, n := range names {
		r.blueprints[n] = &fakeBlueprint{name: n}
	}
	return r
}

func baseConfig(stacks ...stackset.StackDef) *stackset.Config {
	return &stackset.Config{Stacks: stacks}
}

func enabledStack(name string, requires ...string) stackset.StackDef {
	return stackset.StackDef{Name: name, Blueprint: "bp", Enabled: true, Requires: requires}
}

func TestPlanOnlyIncludesEnabledStacks(t *testing.T) {
	cfg := baseConfig(
		enabledStack("vpc"),
		stackset.StackDef{Name: "disabled", Blueprint: "bp", Enabled: false},
	)
	p := New(newFakeRegistry(), nil, nil, nil, nil, "")
	plan, err := p.Plan(context.Background(), cfg, stackset.NewExecContext("", nil), ActionBuild, Flags{})
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 1)
	assert.Contains(t, plan.Steps, "vpc")
}

func TestPlanReadsStackPolicyFileRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	policyBody := []byte(`{"Statement":[{"Effect":"Deny","Action":"Update:*","Principal":"*","Resource":"*"}]}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policy.json"), policyBody, 0o644))

	cfg := baseConfig(stackset.StackDef{Name: "vpc", Blueprint: "bp", Enabled: true, StackPolicyPath: "policy.json"})
	p := New(newFakeRegistry(), nil, nil, nil, nil, dir)
	plan, err := p.Plan(context.Background(), cfg, stackset.NewExecContext("", nil), ActionBuild, Flags{})
	require.NoError(t, err)
	require.Contains(t, plan.Steps, "vpc")
	assert.Equal(t, policyBody, plan.Steps["vpc"].Stack.StackPolicy)
}

func TestPlanMissingStackPolicyFileErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(stackset.StackDef{Name: "vpc", Blueprint: "bp", Enabled: true, StackPolicyPath: "missing.json"})
	p := New(newFakeRegistry(), nil, nil, nil, nil, dir)
	_, err := p.Plan(context.Background(), cfg, stackset.NewExecContext("", nil), ActionBuild, Flags{})
	require.Error(t, err)
	assert.Equal(t, stackset.ErrCodeMissingTemplate, stackset.AsDomainError(err).Code)
}

func TestPlanWiresExplicitRequiresEdges(t *testing.T) {
	cfg := baseConfig(
		enabledStack("vpc"),
		enabledStack("bastion", "vpc"),
	)
	p := New(newFakeRegistry(), nil, nil, nil, nil, "")
	plan, err := p.Plan(context.Background(), cfg, stackset.NewExecContext("", nil), ActionBuild, Flags{})
	require.NoError(t, err)
	assert.Equal(t, []string{"vpc"}, plan.Graph.Dependencies("bastion"))
}

func TestPlanRequiresReferencingUnknownStackErrors(t *testing.T) {
	cfg := baseConfig(enabledStack("bastion", "missing"))
	p := New(newFakeRegistry(), nil, nil, nil, nil, "")
	_, err := p.Plan(context.Background(), cfg, stackset.NewExecContext("", nil), ActionBuild, Flags{})
	require.Error(t, err)
	assert.Equal(t, stackset.ErrCodeConfig, stackset.AsDomainError(err).Code)
}

func TestPlanWiresImplicitOutputDependencyEdge(t *testing.T) {
	vpc := enabledStack("vpc")
	bastion := enabledStack("bastion")
	bastion.Variables = map[string]interface{}{"subnet_id": "${output vpc::subnet_id}"}
	cfg := baseConfig(vpc, bastion)

	p := New(newFakeRegistry(), nil, nil, nil, nil, "")
	plan, err := p.Plan(context.Background(), cfg, stackset.NewExecContext("", nil), ActionBuild, Flags{})
	require.NoError(t, err)
	assert.Equal(t, []string{"vpc"}, plan.Graph.Dependencies("bastion"))
}

func TestPlanImplicitEdgeToStackOutsidePlanErrors(t *testing.T) {
	bastion := enabledStack("bastion")
	bastion.Variables = map[string]interface{}{"subnet_id": "${output vpc::subnet_id}"}
	cfg := baseConfig(bastion)

	p := New(newFakeRegistry(), nil, nil, nil, nil, "")
	_, err := p.Plan(context.Background(), cfg, stackset.NewExecContext("", nil), ActionBuild, Flags{})
	require.Error(t, err)
	assert.Equal(t, stackset.ErrCodeUnresolvedDependency, stackset.AsDomainError(err).Code)
}

func TestPlanDetectsCircularRequires(t *testing.T) {
	a := enabledStack("a", "b")
	b := enabledStack("b", "a")
	cfg := baseConfig(a, b)

	p := New(newFakeRegistry(), nil, nil, nil, nil, "")
	_, err := p.Plan(context.Background(), cfg, stackset.NewExecContext("", nil), ActionBuild, Flags{})
	require.Error(t, err)
	var cycleErr *stackset.CircularDependencyError
	require.ErrorAs(t, err, &cycleErr)
}

func TestPlanDestroyInvertsGraph(t *testing.T) {
	cfg := baseConfig(enabledStack("vpc"), enabledStack("bastion", "vpc"))
	p := New(newFakeRegistry(), nil, nil, nil, nil, "")
	plan, err := p.Plan(context.Background(), cfg, stackset.NewExecContext("", nil), ActionDestroy, Flags{})
	require.NoError(t, err)
	// in build order bastion depends on vpc; destroy order must invert so
	// vpc (now) depends on bastion, guaranteeing bastion is torn down first.
	assert.Equal(t, []string{"bastion"}, plan.Graph.Dependencies("vpc"))
}

func TestPlanStacksFlagNarrowsToRequiresClosure(t *testing.T) {
	cfg := baseConfig(
		enabledStack("vpc"),
		enabledStack("bastion", "vpc"),
		enabledStack("unrelated"),
	)
	p := New(newFakeRegistry(), nil, nil, nil, nil, "")
	plan, err := p.Plan(context.Background(), cfg, stackset.NewExecContext("", nil), ActionBuild, Flags{Stacks: []string{"bastion"}})
	require.NoError(t, err)
	assert.Contains(t, plan.Steps, "bastion")
	assert.Contains(t, plan.Steps, "vpc")
	assert.NotContains(t, plan.Steps, "unrelated")
}

func TestPlanStacksFlagWithOnlyExcludesClosure(t *testing.T) {
	cfg := baseConfig(
		enabledStack("vpc"),
		enabledStack("bastion", "vpc"),
	)
	p := New(newFakeRegistry(), nil, nil, nil, nil, "")
	plan, err := p.Plan(context.Background(), cfg, stackset.NewExecContext("", nil), ActionBuild, Flags{Stacks: []string{"bastion"}, Only: true})
	require.NoError(t, err)
	assert.Contains(t, plan.Steps, "bastion")
	assert.NotContains(t, plan.Steps, "vpc")
}

// fakeGraphStore/fakeLock exercise the persistent-graph removal step.

type fakeGraphStore struct {
	graph *domgraph.Graph
}

func (s *fakeGraphStore) Load(ctx context.Context, key string) (*domgraph.Graph, error) {
	return s.graph, nil
}
func (s *fakeGraphStore) Save(ctx context.Context, key string, g *domgraph.Graph, lockToken string) error {
	return nil
}

type fakeLock struct{}

func (fakeLock) Acquire(ctx context.Context, key string, ttl int64) (string, error) {
	return "token-1", nil
}
func (fakeLock) Release(ctx context.Context, key, token string) error                   { return nil }
func (fakeLock) Renew(ctx context.Context, key, token string, ttl int64) error          { return nil }

func TestPlanAppendsDestroyStepForRemovedPersistentGraphNode(t *testing.T) {
	prior := domgraph.New()
	prior.AddNode("vpc")
	prior.AddNode("orphan")

	cfg := baseConfig(enabledStack("vpc"))
	cfg.PersistentGraphKey = "envs/prod"

	p := New(newFakeRegistry(), &fakeGraphStore{graph: prior}, fakeLock{}, nil, nil, "")
	plan, err := p.Plan(context.Background(), cfg, stackset.NewExecContext("", nil), ActionBuild, Flags{})
	require.NoError(t, err)

	require.Contains(t, plan.Steps, "orphan")
	assert.Equal(t, stackset.ActionDestroy, plan.Steps["orphan"].Action)
	assert.Equal(t, "token-1", plan.LockToken)
}

func TestPlanDiffDoesNotInvertOrAppendRemovals(t *testing.T) {
	cfg := baseConfig(enabledStack("vpc"), enabledStack("bastion", "vpc"))
	p := New(newFakeRegistry(), nil, nil, nil, nil, "")
	plan, err := p.Plan(context.Background(), cfg, stackset.NewExecContext("", nil), ActionDiff, Flags{})
	require.NoError(t, err)
	assert.Equal(t, []string{"vpc"}, plan.Graph.Dependencies("bastion"))
}
