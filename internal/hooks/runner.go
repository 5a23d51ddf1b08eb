// Package hooks implements the Hook Runner (spec §4.7): pre/post-phase
// actions that run around the executor and share data through a keyed
// result bag visible to lookups.
package hooks

import (
	"context"

	domgraph "github.com/stackctl/stackctl/internal/domain/graph"
	"github.com/stackctl/stackctl/internal/domain/stackset"
	"github.com/stackctl/stackctl/internal/ports"
)

// Action is a single hook invocation: run the named hook with its args and
// report a result to be written into context.hook_data under data_key.
type Action func(ctx context.Context, hook stackset.Hook, execCtx *stackset.ExecContext) (interface{}, error)

// Runner executes a list of hooks honoring their requires/required_by
// sub-graph, single-threaded by default for determinism (spec §4.7).
type Runner struct {
	Action ports.Logger // logger only; hook execution itself goes through Action func
	Run    Action
	Events ports.EventPublisher
}

// NewRunner returns a Runner that dispatches each hook through run.
func NewRunner(run Action, events ports.EventPublisher, logger ports.Logger) *Runner {
	return &Runner{Action: logger, Run: run, Events: events}
}

// RunPhase executes all hooks in one phase. required=true hooks that fail
// abort the invocation immediately (before any step is dispatched);
// required=false failures are logged and execution proceeds (spec §4.7).
func (r *Runner) RunPhase(ctx context.Context, phaseHooks []stackset.Hook, execCtx *stackset.ExecContext) error {
	if len(phaseHooks) == 0 {
		return nil
	}

	g := domgraph.New()
	byName := make(map[string]stackset.Hook, len(phaseHooks))
	for _, h := range phaseHooks {
		name := hookName(h)
		g.AddNode(name)
		byName[name] = h
	}
	for _, h := range phaseHooks {
		name := hookName(h)
		for _, req := range h.Requires {
			g.AddNode(req)
			g.Connect(name, req)
		}
		for _, dependent := range h.RequiredBy {
			g.AddNode(dependent)
			g.Connect(dependent, name)
		}
	}

	if err := g.Validate(); err != nil {
		return &stackset.DomainError{Code: stackset.ErrCodeHookFailed, Message: "hook dependency cycle", Cause: err}
	}

	// Single-threaded by default for determinism (spec §4.7): concurrency 1.
	walker := domgraph.NewWalker(g, 1)
	var abortErr error
	results := walker.Walk(ctx, func(ctx context.Context, name string) error {
		hook, ok := byName[name]
		if !ok {
			return nil // a requires/required_by reference to a hook outside this phase
		}
		if !hook.Enabled {
			r.emit(hook, "SKIPPED", "enabled=false")
			return nil
		}
		value, err := r.Run(ctx, hook, execCtx)
		if err != nil {
			r.emit(hook, "FAILED", err.Error())
			if hook.Required {
				abortErr = &stackset.DomainError{
					Code:    stackset.ErrCodeHookFailed,
					Message: "required hook failed",
					Cause:   err,
					Context: map[string]interface{}{"hook": name},
				}
			}
			return err
		}
		if hook.DataKey != "" {
			execCtx.SetHookData(hook.DataKey, value)
		}
		r.emit(hook, "COMPLETE", "")
		return nil
	})

	if abortErr != nil {
		return abortErr
	}
	_ = results
	return nil
}

func hookName(h stackset.Hook) string {
	if h.Name != "" {
		return h.Name
	}
	return h.Path
}

func (r *Runner) emit(hook stackset.Hook, status, reason string) {
	if r.Events == nil {
		return
	}
	r.Events.Publish(ports.StepEvent{
		StepID:   "hook:" + hookName(hook),
		ToStatus: stackset.StepStatus(status),
		Reason:   reason,
	})
}
