package planner

import (
	"context"

	"github.com/stackctl/stackctl/internal/domain/stackset"
)

// persistentGraphLockTTL is the lock lease (seconds) held while a build
// plan is computed and the new graph object is written.
const persistentGraphLockTTL = 300

// appendPersistentGraphRemovals implements spec §4.4 step 6: for `build`
// with a `persistent_graph_key`, load the prior graph, compute
// removed = prior_nodes \ current_nodes, and append a destroy step per
// removed node. The lock is acquired here and released by the caller once
// the new graph has been written (executor/application layer), per spec §5
// "exactly one invocation holds it".
func (p *Planner) appendPersistentGraphRemovals(ctx context.Context, cfg *stackset.Config, plan *stackset.Plan) error {
	if p.GraphStore == nil || p.Lock == nil {
		return nil
	}

	token, err := p.Lock.Acquire(ctx, cfg.PersistentGraphKey, persistentGraphLockTTL)
	if err != nil {
		return &stackset.DomainError{
			Code:    stackset.ErrCodeLockHeld,
			Message: "failed to acquire persistent graph lock",
			Cause:   err,
			Context: map[string]interface{}{"key": cfg.PersistentGraphKey},
		}
	}
	plan.LockToken = token

	prior, err := p.GraphStore.Load(ctx, cfg.PersistentGraphKey)
	if err != nil {
		return err
	}
	if prior == nil {
		return nil
	}

	current := make(map[string]struct{}, len(plan.Steps))
	for name := range plan.Steps {
		current[name] = struct{}{}
	}

	for _, priorNode := range prior.Nodes() {
		if _, ok := current[priorNode]; ok {
			continue
		}
		plan.AddStep(&stackset.Step{
			ID:     priorNode,
			Action: stackset.ActionDestroy,
			Status: stackset.StepPending,
		})
	}
	return nil
}
