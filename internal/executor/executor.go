// Package executor implements the Executor (spec §4.6): it walks a Plan's
// graph with bounded parallelism, drives each step through the provider
// reconciliation state machine, and emits StepEvents.
package executor

import (
	"context"
	"errors"
	"time"

	domgraph "github.com/stackctl/stackctl/internal/domain/graph"
	"github.com/stackctl/stackctl/internal/domain/stackset"
	"github.com/stackctl/stackctl/internal/ports"
	"github.com/stackctl/stackctl/internal/resolve"
)

// defaultPollInterval is applied by New whenever Options.PollInterval is
// zero. A zero value cannot be told apart from an unset one, so a zero
// poll interval cannot be configured through Options; the smallest
// effective interval is any positive duration.
const defaultPollInterval = 5 * time.Second

// defaultOperationTimeout is STACK_OPERATION_TIMEOUT's default (spec §5).
const defaultOperationTimeout = 2 * time.Hour

// Options configures an Executor.
type Options struct {
	Concurrency      int
	PollInterval     time.Duration
	OperationTimeout time.Duration
	Interactive      bool
	ReplacementsOnly bool
	RecreateFailed   bool
	Force            map[string]bool
	Namespace        string
	Delimiter        string
	ConfigDir        string
}

// Executor drives a Plan to completion against a Provider.
type Executor struct {
	Provider  ports.Provider
	Resolver  *resolve.Resolver
	Events    ports.EventPublisher
	Logger    ports.Logger
	Approval  ports.ApprovalSource
	opts      Options
	retry     retryPolicy
}

// New returns an Executor wired to its external collaborators.
func New(provider ports.Provider, resolver *resolve.Resolver, events ports.EventPublisher, logger ports.Logger, approval ports.ApprovalSource, opts Options) *Executor {
	if opts.PollInterval == 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.OperationTimeout == 0 {
		opts.OperationTimeout = defaultOperationTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Executor{
		Provider: provider,
		Resolver: resolver,
		Events:   events,
		Logger:   logger,
		Approval: approval,
		opts:     opts,
		retry:    defaultRetryPolicy(),
	}
}

// Result is the outcome of one Execute call (spec §4.6 "Failure
// propagation").
type Result struct {
	Failed   []string
	Canceled []string
}

// ExitCode maps a Result to the process exit code spec §6 defines: 0 on
// full success, 1 if any step failed or was canceled due to a dependency.
func (r *Result) ExitCode() int {
	if len(r.Failed) > 0 || len(r.Canceled) > 0 {
		return 1
	}
	return 0
}

// Execute walks plan.Graph with bounded parallelism, invoking the Provider
// per step (spec §4.6, §5).
func (e *Executor) Execute(ctx context.Context, plan *stackset.Plan, execCtx *stackset.ExecContext) *Result {
	walker := domgraph.NewWalker(plan.Graph, e.opts.Concurrency)

	visit := func(ctx context.Context, nodeID string) error {
		step, ok := plan.Steps[nodeID]
		if !ok {
			return nil
		}
		return e.runStep(ctx, plan, step, execCtx)
	}

	results := walker.Walk(ctx, visit)

	res := &Result{}
	for _, r := range results {
		step := plan.Steps[r.Node]
		if r.Cancelled {
			if step != nil {
				step.Status = stackset.StepCanceled
				step.Reason = "dependency has failed"
				e.emit(step, stackset.StepPending, stackset.StepCanceled, step.Reason, nil)
			}
			res.Canceled = append(res.Canceled, r.Node)
			continue
		}
		if r.Err != nil {
			res.Failed = append(res.Failed, r.Node)
		}
	}
	return res
}

func (e *Executor) emit(step *stackset.Step, from, to stackset.StepStatus, reason string, detail interface{}) {
	if e.Events == nil {
		return
	}
	e.Events.Publish(ports.StepEvent{
		Timestamp:  time.Now(),
		StepID:     step.ID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		Detail:     detail,
	})
}

func (e *Executor) transition(step *stackset.Step, to stackset.StepStatus, reason string, detail interface{}) {
	from := step.Status
	step.Status = to
	step.Reason = reason
	e.emit(step, from, to, reason, detail)
}

// runStep drives one step through the spec §4.6 state machine to a
// terminal status.
func (e *Executor) runStep(ctx context.Context, plan *stackset.Plan, step *stackset.Step, execCtx *stackset.ExecContext) error {
	if step.Def != nil && step.Def.Locked && step.Action == stackset.ActionCreateOrUpdate && !e.opts.Force[step.ID] {
		e.describeForOutputsBestEffort(ctx, step)
		e.transition(step, stackset.StepSkipped, "locked", nil)
		return nil
	}
	if step.Def != nil && step.Def.External {
		e.describeForOutputsBestEffort(ctx, step)
		e.transition(step, stackset.StepSkipped, "external", nil)
		return nil
	}

	if err := e.reResolveVariables(ctx, step, execCtx); err != nil {
		e.transition(step, stackset.StepFailed, "resolution error", err)
		return err
	}

	switch step.Action {
	case stackset.ActionDestroy:
		return e.runDestroy(ctx, step, execCtx)
	case stackset.ActionDiff:
		return e.runDiff(ctx, step)
	case stackset.ActionDump:
		e.transition(step, stackset.StepComplete, "dumped", nil)
		return nil
	default:
		return e.runCreateOrUpdate(ctx, step, execCtx)
	}
}

func (e *Executor) describeForOutputsBestEffort(ctx context.Context, step *stackset.Step) {
	if step.Stack == nil || e.Provider == nil {
		return
	}
	res, err := e.Provider.Describe(ctx, step.Stack.FQN, step.Stack.Region, step.Stack.Profile)
	if err != nil || res == nil || !res.Exists {
		return
	}
	step.Stack.Outputs = res.Outputs
}

// reResolveVariables implements spec §4.6 "re-resolve variables; on
// failure -> FAILED". Deferred lookups that depended on another stack's
// output are re-run now that the producer has (by construction of the
// walker) already terminated.
func (e *Executor) reResolveVariables(ctx context.Context, step *stackset.Step, execCtx *stackset.ExecContext) error {
	if step.Def == nil || e.Resolver == nil {
		return nil
	}
	rc := &resolve.Context{Mode: resolve.ModeExecution, Exec: execCtx, Consumer: step.ID, Provider: e.Provider, ConfigDir: e.opts.ConfigDir, Namespace: e.opts.Namespace}
	for _, raw := range step.Def.Variables {
		if _, err := e.Resolver.ResolveValue(ctx, rc, raw); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runCreateOrUpdate(ctx context.Context, step *stackset.Step, execCtx *stackset.ExecContext) error {
	stack := step.Stack
	params := ports.CreateParams{
		FQN:          stack.FQN,
		Region:       stack.Region,
		Profile:      stack.Profile,
		Template:     stack.TemplateBody,
		TemplateKind: stack.TemplateKind,
		Parameters:   stack.Parameters,
		Tags:         stack.Tags,
		StackPolicy:  stack.StackPolicy,
		ServiceRole:  stack.ServiceRole,
	}

	var describeRes *ports.DescribeResult
	err := withRetry(ctx, e.retry, func() error {
		var derr error
		describeRes, derr = e.Provider.Describe(ctx, stack.FQN, stack.Region, stack.Profile)
		return derr
	})
	if err != nil {
		e.transition(step, stackset.StepFailed, "describe failed", err)
		return err
	}

	if !describeRes.Exists {
		return e.submitAndWait(ctx, step, execCtx, func() (ports.OperationHandle, error) {
			return e.Provider.Create(ctx, params)
		}, "creating new stack", "rolled back new stack")
	}

	if describeRes.Status == stackset.StatusRolledBack && e.opts.RecreateFailed {
		_, derr := e.Provider.Destroy(ctx, stack.FQN, stack.Region, stack.Profile)
		if derr != nil {
			e.transition(step, stackset.StepFailed, "destroy-before-recreate failed", derr)
			return derr
		}
		return e.submitAndWait(ctx, step, execCtx, func() (ports.OperationHandle, error) {
			return e.Provider.Create(ctx, params)
		}, "destroying stack for re-creation", "rolled back new stack")
	}

	if describeRes.Status == stackset.StatusInProgress {
		behavior := stackset.InProgressWait
		if step.Def != nil && step.Def.InProgressBehavior != "" {
			behavior = step.Def.InProgressBehavior
		}
		if behavior == stackset.InProgressError {
			err := &stackset.DomainError{Code: stackset.ErrCodeStackRolledBack, Message: "stack is already in progress"}
			e.transition(step, stackset.StepFailed, "in-progress and in_progress_behavior=error", err)
			return err
		}
		return e.pollUntilSettled(ctx, step, execCtx, params)
	}

	stack.Outputs = describeRes.Outputs
	execCtx.PublishOutputs(step.ID, describeRes.Outputs)

	protected := step.Def != nil && step.Def.Protected
	if e.opts.Interactive || protected {
		// protected=true escalates even a non-interactive invocation to
		// the interactive approval flow for this step (spec §4.6:
		// "user approves and protected=true in non-interactive ->
		// escalate to interactive for this step").
		return e.runInteractiveChangeSet(ctx, step, execCtx, params)
	}

	summary, err := e.Provider.PlanChangeSet(ctx, params)
	if err != nil {
		e.transition(step, stackset.StepFailed, "plan change set failed", err)
		return err
	}
	if summary == nil || (len(summary.Additions) == 0 && len(summary.Modifications) == 0 && len(summary.Replacements) == 0) {
		e.transition(step, stackset.StepSkipped, "nochange", nil)
		return nil
	}

	return e.submitAndWait(ctx, step, execCtx, func() (ports.OperationHandle, error) {
		return e.Provider.Update(ctx, params)
	}, "updating existing stack", "rolled back update")
}

func (e *Executor) pollUntilSettled(ctx context.Context, step *stackset.Step, execCtx *stackset.ExecContext, params ports.CreateParams) error {
	deadline := time.Now().Add(e.opts.OperationTimeout)
	for {
		if ctx.Err() != nil {
			e.transition(step, stackset.StepCanceled, "canceled", ctx.Err())
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			err := &stackset.DomainError{Code: stackset.ErrCodeTimedOut, Message: "timed out waiting on in-progress stack"}
			e.transition(step, stackset.StepFailed, "timed out", err)
			return err
		}
		res, err := e.Provider.Describe(ctx, params.FQN, params.Region, params.Profile)
		if err != nil {
			e.transition(step, stackset.StepFailed, "describe failed while waiting", err)
			return err
		}
		if res.Status != stackset.StatusInProgress {
			stack := step.Stack
			stack.Outputs = res.Outputs
			execCtx.PublishOutputs(step.ID, res.Outputs)
			return e.runCreateOrUpdate(ctx, step, execCtx)
		}
		select {
		case <-ctx.Done():
			e.transition(step, stackset.StepCanceled, "canceled", ctx.Err())
			return ctx.Err()
		case <-time.After(e.opts.PollInterval):
		}
	}
}

func (e *Executor) submitAndWait(ctx context.Context, step *stackset.Step, execCtx *stackset.ExecContext, submit func() (ports.OperationHandle, error), submitReason, rollbackReason string) error {
	e.transition(step, stackset.StepSubmitted, submitReason, nil)

	var handle ports.OperationHandle
	err := withRetry(ctx, e.retry, func() error {
		var derr error
		handle, derr = submit()
		return derr
	})
	if err != nil {
		var derr *stackset.DomainError
		if errors.As(err, &derr) && derr.Code == stackset.ErrCodeNoUpdates {
			e.transition(step, stackset.StepSkipped, "nochange", nil)
			return nil
		}
		e.transition(step, stackset.StepFailed, "submit failed", err)
		return err
	}

	e.transition(step, stackset.StepInProgress, submitReason, nil)

	deadline := time.Now().Add(e.opts.OperationTimeout)
	status, err := e.Provider.Wait(ctx, handle, e.opts.PollInterval, deadline)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			e.transition(step, stackset.StepCanceled, "canceled", err)
			return ctx.Err()
		}
		var derr *stackset.DomainError
		if errors.As(err, &derr) && derr.Code == stackset.ErrCodeTimedOut && e.opts.RecreateFailed {
			e.transition(step, stackset.StepFailed, "timed out", err)
			return err
		}
		e.transition(step, stackset.StepFailed, "timed out", err)
		return err
	}

	switch status {
	case stackset.StatusComplete:
		stack := step.Stack
		if stack != nil {
			res, derr := e.Provider.Describe(ctx, stack.FQN, stack.Region, stack.Profile)
			if derr == nil && res != nil {
				stack.Outputs = res.Outputs
				execCtx.PublishOutputs(step.ID, res.Outputs)
			}
		}
		e.transition(step, stackset.StepComplete, "operation completed", nil)
		return nil
	case stackset.StatusRolledBack:
		err := &stackset.DomainError{Code: stackset.ErrCodeStackRolledBack, Message: rollbackReason}
		e.transition(step, stackset.StepFailed, rollbackReason, err)
		return err
	default:
		err := &stackset.DomainError{Code: stackset.ErrCodeInternal, Message: "unexpected terminal status", Context: map[string]interface{}{"status": status}}
		e.transition(step, stackset.StepFailed, "unexpected terminal status", err)
		return err
	}
}

func (e *Executor) runInteractiveChangeSet(ctx context.Context, step *stackset.Step, execCtx *stackset.ExecContext, params ports.CreateParams) error {
	summary, err := e.Provider.PlanChangeSet(ctx, params)
	if err != nil {
		e.transition(step, stackset.StepFailed, "plan change set failed", err)
		return err
	}
	if summary == nil || (len(summary.Additions) == 0 && len(summary.Modifications) == 0 && len(summary.Replacements) == 0) {
		e.transition(step, stackset.StepSkipped, "nochange", nil)
		return nil
	}

	autoApprove := e.opts.ReplacementsOnly && len(summary.Replacements) == 0
	approved := autoApprove

	if !autoApprove {
		e.transition(step, stackset.StepAwaitApproval, "change-set proposed", summary)
		if e.Approval == nil {
			err := &stackset.DomainError{Code: stackset.ErrCodeInternal, Message: "interactive mode requires an ApprovalSource"}
			e.transition(step, stackset.StepFailed, "no approval source", err)
			return err
		}
		ok, err := e.Approval.Approve(ctx, *summary)
		if err != nil {
			e.transition(step, stackset.StepFailed, "approval failed", err)
			return err
		}
		approved = ok
	}

	if !approved {
		e.transition(step, stackset.StepSkipped, "canceled execution", nil)
		return nil
	}

	if err := e.Provider.ApplyChangeSet(ctx, summary.Handle); err != nil {
		e.transition(step, stackset.StepFailed, "apply change set failed", err)
		return err
	}
	e.transition(step, stackset.StepSubmitted, "updating existing stack", nil)
	e.transition(step, stackset.StepInProgress, "updating existing stack", nil)

	deadline := time.Now().Add(e.opts.OperationTimeout)
	status, err := e.Provider.Wait(ctx, summary.Handle, e.opts.PollInterval, deadline)
	if err != nil {
		e.transition(step, stackset.StepFailed, "timed out", err)
		return err
	}
	if status != stackset.StatusComplete {
		derr := &stackset.DomainError{Code: stackset.ErrCodeStackRolledBack, Message: "rolled back update"}
		e.transition(step, stackset.StepFailed, "rolled back update", derr)
		return derr
	}
	e.transition(step, stackset.StepComplete, "operation completed", nil)
	return nil
}

func (e *Executor) runDestroy(ctx context.Context, step *stackset.Step, execCtx *stackset.ExecContext) error {
	fqn, region, profile := "", "", ""
	if step.Stack != nil {
		fqn, region, profile = step.Stack.FQN, step.Stack.Region, step.Stack.Profile
	} else {
		fqn = step.ID
	}

	var describeRes *ports.DescribeResult
	err := withRetry(ctx, e.retry, func() error {
		var derr error
		describeRes, derr = e.Provider.Describe(ctx, fqn, region, profile)
		return derr
	})
	if err != nil {
		e.transition(step, stackset.StepFailed, "describe failed", err)
		return err
	}

	if !describeRes.Exists || describeRes.Status == stackset.StatusDeleteComplete {
		e.transition(step, stackset.StepSkipped, "already destroyed", nil)
		return nil
	}

	e.transition(step, stackset.StepSubmitted, "submitted for destruction", nil)
	var handle ports.OperationHandle
	err = withRetry(ctx, e.retry, func() error {
		var derr error
		handle, derr = e.Provider.Destroy(ctx, fqn, region, profile)
		return derr
	})
	if err != nil {
		e.transition(step, stackset.StepFailed, "destroy submit failed", err)
		return err
	}
	e.transition(step, stackset.StepInProgress, "submitted for destruction", nil)

	deadline := time.Now().Add(e.opts.OperationTimeout)
	status, err := e.Provider.Wait(ctx, handle, e.opts.PollInterval, deadline)
	if err != nil {
		e.transition(step, stackset.StepFailed, "destroy wait failed", err)
		return err
	}
	if status == stackset.StatusDeleteComplete || status == stackset.StatusComplete {
		execCtx.PublishOutputs(step.ID, nil)
		e.transition(step, stackset.StepComplete, "stack destroyed", nil)
		return nil
	}
	derr := &stackset.DomainError{Code: stackset.ErrCodeInternal, Message: "unexpected terminal status during destroy", Context: map[string]interface{}{"status": status}}
	e.transition(step, stackset.StepFailed, "unexpected terminal status", derr)
	return derr
}

func (e *Executor) runDiff(ctx context.Context, step *stackset.Step) error {
	if step.Stack == nil {
		e.transition(step, stackset.StepComplete, "diff computed", nil)
		return nil
	}
	params := ports.CreateParams{
		FQN: step.Stack.FQN, Region: step.Stack.Region, Profile: step.Stack.Profile,
		Template: step.Stack.TemplateBody, TemplateKind: step.Stack.TemplateKind,
		Parameters: step.Stack.Parameters, Tags: step.Stack.Tags,
	}
	summary, err := e.Provider.PlanChangeSet(ctx, params)
	if err != nil {
		e.transition(step, stackset.StepFailed, "plan change set failed", err)
		return err
	}
	e.transition(step, stackset.StepComplete, "diff computed", summary)
	return nil
}
