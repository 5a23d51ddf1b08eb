package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackctl/stackctl/internal/domain/stackset"
	"github.com/stackctl/stackctl/internal/infra/artifactstore"
	infraconfig "github.com/stackctl/stackctl/internal/infra/config"
	"github.com/stackctl/stackctl/internal/infra/graphstore"
	"github.com/stackctl/stackctl/internal/ports"
	"github.com/stackctl/stackctl/internal/resolve"
)

// defaultLockTable names the DynamoDB lock table backing the persistent
// graph's Lock capability (spec §9 "Persistent graph lock"). The config
// document names an object key for the graph itself but not a lock table,
// so a single fixed table name is used, consistent across invocations
// against the same artifact bucket/region.
const defaultLockTable = "stackctl-locks"

// loadConfig resolves the config document and its directory (used for
// relative template_path/file:// resolution, spec §4.1).
func loadConfig(ctx context.Context, flags *rootFlags, app *AppContext) (*stackset.Config, string, error) {
	if flags.configPath == "" {
		return nil, "", fmt.Errorf("--config is required")
	}
	cfg, err := app.ConfigLoad.Load(ctx, flags.configPath, flags.envPath, flags.overrides)
	if err != nil {
		return nil, "", err
	}
	return cfg, infraconfig.ConfigDir(flags.configPath), nil
}

// graphCollaborators builds the persistent-graph store and lock backing
// cfg's artifact bucket, or nil/nil if the config has none configured
// (spec §3 "Persistent graph object" is optional per config).
func graphCollaborators(cfg *stackset.Config, app *AppContext) (ports.PersistentGraphStore, ports.Lock) {
	if cfg.ArtifactBucket == "" {
		return nil, nil
	}
	store := graphstore.NewStore(cfg.ArtifactBucket, cfg.ArtifactRegion, app.Configs)
	lock := graphstore.NewDynamoLock(defaultLockTable, cfg.ArtifactRegion, app.Configs)
	return store, lock
}

// artifactCollaborator builds the ArtifactStore adapter if cfg configures
// one (spec §1 external collaborator).
func artifactCollaborator(cfg *stackset.Config, app *AppContext) ports.ArtifactStore {
	if cfg.ArtifactBucket == "" {
		return nil
	}
	return artifactstore.New(cfg.ArtifactBucket, cfg.ArtifactRegion, app.Configs)
}

// newExecContext builds the executor-wide ExecContext, seeding env from
// the process environment (spec §3 "Context").
func newExecContext(cfg *stackset.Config) *stackset.ExecContext {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return stackset.NewExecContext(cfg.Namespace, env)
}

// runHookPhase runs one named hook phase, emitting through the app's bus
// and the given logger, translating an empty phase to a no-op (spec §4.7).
func runHookPhase(ctx context.Context, app *AppContext, configDir string, phaseHooks []stackset.Hook, execCtx *stackset.ExecContext) error {
	if len(phaseHooks) == 0 {
		return nil
	}
	runner := app.HookRunnerFor(configDir)
	return runner.RunPhase(ctx, phaseHooks, execCtx)
}

// exitCodeForError maps a load/plan-time error to spec §6's exit codes: 2
// for config/cycle errors, 1 for anything else unexpected.
func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	derr := stackset.AsDomainError(err)
	switch derr.Code {
	case stackset.ErrCodeConfig, stackset.ErrCodeCircularDependency, stackset.ErrCodeDuplicateStack, stackset.ErrCodeDuplicateStackName, stackset.ErrCodeUnresolvedDependency:
		return 2
	default:
		return 1
	}
}

// persistGraph writes the post-execution plan graph back to the
// persistent-graph store and releases the build lock the planner acquired
// (spec §4.4 step 6, §5 "exactly one invocation holds it"). Steps that
// were only appended to drive a removal (no Stack/Def) are dropped before
// saving, since they are not part of the desired-state graph itself.
func persistGraph(ctx context.Context, cfg *stackset.Config, plan *stackset.Plan, store ports.PersistentGraphStore, lock ports.Lock) error {
	if plan.LockToken == "" {
		return nil
	}
	defer func() {
		_ = lock.Release(ctx, cfg.PersistentGraphKey, plan.LockToken)
	}()

	keep := make([]string, 0, len(plan.Steps))
	for id, step := range plan.Steps {
		if step.Def != nil {
			keep = append(keep, id)
		}
	}
	return store.Save(ctx, cfg.PersistentGraphKey, plan.Graph.Filter(keep), plan.LockToken)
}

// unimplementedLookup mirrors the planner's stand-in for a custom lookup
// entry: this process has no in-process registration for it, so any
// `${implementation arg}` reference fails at resolution time rather than
// at startup (spec §4.1 "custom lookups").
func unimplementedLookup(implementation string) resolve.Handler {
	return func(_ context.Context, _ *resolve.Context, arg string) (interface{}, error) {
		return nil, &stackset.DomainError{
			Code:    stackset.ErrCodeResolution,
			Message: "custom lookup has no registered implementation in this process",
			Context: map[string]interface{}{"implementation": implementation, "arg": arg},
		}
	}
}

// tailHandler renders every step_event to cmd's stderr as it's published,
// for `--tail`. Only step status transitions are printed; the provider's
// stack event log is not read.
func tailHandler(cmd *cobra.Command) func(ports.DomainEvent) {
	return func(evt ports.DomainEvent) {
		se, ok := evt.(ports.StepEvent)
		if !ok {
			return
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s -> %s %s\n", se.StepID, se.FromStatus, se.ToStatus, se.Reason)
	}
}
