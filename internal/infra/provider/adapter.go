// Package provider implements the reference Provider adapter (spec §4.5)
// against AWS CloudFormation, plus the optional crypto/parameter/blob/image
// capabilities the Value Resolver's lookup handlers dispatch to (spec
// §4.1), all sharing one AWS session cache (internal/infra/aws).
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"

	awsinfra "github.com/stackctl/stackctl/internal/infra/aws"
	"github.com/stackctl/stackctl/internal/domain/stackset"
	"github.com/stackctl/stackctl/internal/ports"
)

// cfnClient is the narrow CloudFormation surface the adapter drives,
// mirroring opentofu-opentofu's per-service client-interface pattern
// (internal/encryption/keyprovider/aws_kms.kmsClient) so tests can supply a
// fake without touching the real SDK.
type cfnClient interface {
	DescribeStacks(ctx context.Context, in *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, in *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, in *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, in *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	CreateChangeSet(ctx context.Context, in *cloudformation.CreateChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateChangeSetOutput, error)
	DescribeChangeSet(ctx context.Context, in *cloudformation.DescribeChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeChangeSetOutput, error)
	ExecuteChangeSet(ctx context.Context, in *cloudformation.ExecuteChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ExecuteChangeSetOutput, error)
	DeleteChangeSet(ctx context.Context, in *cloudformation.DeleteChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteChangeSetOutput, error)
	DescribeStackEvents(ctx context.Context, in *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
}

// clientFactory builds the per-region/profile AWS service clients the
// adapter and its optional capabilities need. Defaults to the real SDK
// constructors; tests override to inject fakes.
type clientFactory struct {
	configs *awsinfra.ConfigCache

	mu   sync.Mutex
	cfn  map[string]cfnClient
	newCFN func(aws.Config) cfnClient
}

func newClientFactory() *clientFactory {
	return &clientFactory{
		configs: awsinfra.NewConfigCache(),
		cfn:     make(map[string]cfnClient),
		newCFN:  func(cfg aws.Config) cfnClient { return cloudformation.NewFromConfig(cfg) },
	}
}

func (f *clientFactory) cfnFor(ctx context.Context, region, profile string) (cfnClient, error) {
	key := region + "|" + profile
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.cfn[key]; ok {
		return c, nil
	}
	cfg, err := f.configs.Get(ctx, region, profile)
	if err != nil {
		return nil, err
	}
	c := f.newCFN(cfg)
	f.cfn[key] = c
	return c, nil
}

// Adapter implements ports.Provider against CloudFormation, and
// ports.CryptoFacility / ports.ParameterStore / ports.BlobStore /
// ports.ImageSearch against KMS/SSM/DynamoDB/EC2 (spec §4.5, §4.1's
// optional capabilities), matching the "Wired to" table in SPEC_FULL.md
// §3.F.
type Adapter struct {
	factory     *clientFactory
	caps        *capabilityClients
	ServiceRole string
	Logger      ports.Logger
}

// New returns an Adapter backed by real AWS SDK clients.
func New(logger ports.Logger) *Adapter {
	return &Adapter{factory: newClientFactory(), Logger: logger}
}

var (
	_ ports.Provider       = (*Adapter)(nil)
	_ ports.CryptoFacility = (*Adapter)(nil)
	_ ports.ParameterStore = (*Adapter)(nil)
	_ ports.BlobStore      = (*Adapter)(nil)
	_ ports.ImageSearch    = (*Adapter)(nil)
)

// Describe implements Provider.Describe (spec §4.5).
func (a *Adapter) Describe(ctx context.Context, fqn, region, profile string) (*ports.DescribeResult, error) {
	client, err := a.factory.cfnFor(ctx, region, profile)
	if err != nil {
		return nil, err
	}
	out, err := client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(fqn)})
	if err != nil {
		if isStackNotFound(err) {
			return &ports.DescribeResult{Exists: false}, nil
		}
		return nil, classifyError(err)
	}
	if len(out.Stacks) == 0 {
		return &ports.DescribeResult{Exists: false}, nil
	}
	stack := out.Stacks[0]

	outputs := make(map[string]string, len(stack.Outputs))
	for _, o := range stack.Outputs {
		if o.OutputKey != nil {
			outputs[*o.OutputKey] = aws.ToString(o.OutputValue)
		}
	}
	return &ports.DescribeResult{
		Exists:     true,
		Status:     mapStackStatus(stack.StackStatus),
		Outputs:    outputs,
		LastReason: aws.ToString(stack.StackStatusReason),
	}, nil
}

// Create implements Provider.Create (spec §4.5).
func (a *Adapter) Create(ctx context.Context, params ports.CreateParams) (ports.OperationHandle, error) {
	client, err := a.factory.cfnFor(ctx, params.Region, params.Profile)
	if err != nil {
		return ports.OperationHandle{}, err
	}
	in := &cloudformation.CreateStackInput{
		StackName:    aws.String(params.FQN),
		TemplateBody: aws.String(string(params.Template)),
		Parameters:   toCFNParameters(params.Parameters),
		Tags:         toCFNTags(params.Tags),
		Capabilities: []cfntypes.Capability{cfntypes.CapabilityCapabilityIam, cfntypes.CapabilityCapabilityNamedIam},
	}
	if params.StackPolicy != nil {
		in.StackPolicyBody = aws.String(string(params.StackPolicy))
	}
	if role := effectiveRole(params); role != "" {
		in.RoleARN = aws.String(role)
	}
	if len(params.Notifications) > 0 {
		in.NotificationARNs = params.Notifications
	}
	if _, err := client.CreateStack(ctx, in); err != nil {
		return ports.OperationHandle{}, classifyError(err)
	}
	a.publishStart(ctx, params, "create")
	return ports.OperationHandle{ID: params.FQN, Kind: "create", FQN: params.FQN, Region: params.Region, Profile: params.Profile}, nil
}

// Update implements Provider.Update (spec §4.5), surfacing NoUpdates when
// the service reports no change.
func (a *Adapter) Update(ctx context.Context, params ports.CreateParams) (ports.OperationHandle, error) {
	client, err := a.factory.cfnFor(ctx, params.Region, params.Profile)
	if err != nil {
		return ports.OperationHandle{}, err
	}
	in := &cloudformation.UpdateStackInput{
		StackName:    aws.String(params.FQN),
		TemplateBody: aws.String(string(params.Template)),
		Parameters:   toCFNParameters(params.Parameters),
		Tags:         toCFNTags(params.Tags),
		Capabilities: []cfntypes.Capability{cfntypes.CapabilityCapabilityIam, cfntypes.CapabilityCapabilityNamedIam},
	}
	if params.StackPolicy != nil {
		in.StackPolicyBody = aws.String(string(params.StackPolicy))
	}
	if role := effectiveRole(params); role != "" {
		in.RoleARN = aws.String(role)
	}
	if len(params.Notifications) > 0 {
		in.NotificationARNs = params.Notifications
	}
	if _, err := client.UpdateStack(ctx, in); err != nil {
		if isNoUpdates(err) {
			return ports.OperationHandle{}, &stackset.DomainError{Code: stackset.ErrCodeNoUpdates, Message: "no updates to perform"}
		}
		return ports.OperationHandle{}, classifyError(err)
	}
	a.publishStart(ctx, params, "update")
	return ports.OperationHandle{ID: params.FQN, Kind: "update", FQN: params.FQN, Region: params.Region, Profile: params.Profile}, nil
}

// PlanChangeSet implements Provider.PlanChangeSet (spec §4.5, §4.6).
func (a *Adapter) PlanChangeSet(ctx context.Context, params ports.CreateParams) (*ports.ChangeSetSummary, error) {
	client, err := a.factory.cfnFor(ctx, params.Region, params.Profile)
	if err != nil {
		return nil, err
	}
	changeSetName := fmt.Sprintf("stackctl-%d", time.Now().UnixNano())
	createOut, err := client.CreateChangeSet(ctx, &cloudformation.CreateChangeSetInput{
		StackName:     aws.String(params.FQN),
		ChangeSetName: aws.String(changeSetName),
		TemplateBody:  aws.String(string(params.Template)),
		Parameters:    toCFNParameters(params.Parameters),
		Tags:          toCFNTags(params.Tags),
		Capabilities:  []cfntypes.Capability{cfntypes.CapabilityCapabilityIam, cfntypes.CapabilityCapabilityNamedIam},
		ChangeSetType: cfntypes.ChangeSetTypeUpdate,
	})
	if err != nil {
		return nil, classifyError(err)
	}

	summary, err := a.waitForChangeSet(ctx, client, params.FQN, changeSetName)
	if err != nil {
		return nil, err
	}
	summary.Handle = ports.OperationHandle{ID: aws.ToString(createOut.Id), Kind: "change_set", FQN: params.FQN, Region: params.Region, Profile: params.Profile}
	return summary, nil
}

func (a *Adapter) waitForChangeSet(ctx context.Context, client cfnClient, fqn, name string) (*ports.ChangeSetSummary, error) {
	deadline := time.Now().Add(5 * time.Minute)
	for {
		out, err := client.DescribeChangeSet(ctx, &cloudformation.DescribeChangeSetInput{
			StackName: aws.String(fqn), ChangeSetName: aws.String(name),
		})
		if err != nil {
			return nil, classifyError(err)
		}
		switch out.Status {
		case cfntypes.ChangeSetStatusCreateComplete:
			return changeSetSummaryFrom(out), nil
		case cfntypes.ChangeSetStatusFailed:
			if isEmptyChangeSet(aws.ToString(out.StatusReason)) {
				return &ports.ChangeSetSummary{}, nil
			}
			return nil, &stackset.DomainError{Code: stackset.ErrCodeValidation, Message: "change set creation failed", Context: map[string]interface{}{"reason": aws.ToString(out.StatusReason)}}
		}
		if time.Now().After(deadline) {
			return nil, &stackset.DomainError{Code: stackset.ErrCodeTimedOut, Message: "timed out waiting for change set"}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func changeSetSummaryFrom(out *cloudformation.DescribeChangeSetOutput) *ports.ChangeSetSummary {
	summary := &ports.ChangeSetSummary{}
	for _, change := range out.Changes {
		if change.ResourceChange == nil {
			continue
		}
		rc := change.ResourceChange
		id := aws.ToString(rc.LogicalResourceId)
		switch rc.Action {
		case cfntypes.ChangeActionAdd:
			summary.Additions = append(summary.Additions, id)
		case cfntypes.ChangeActionRemove:
			summary.Replacements = append(summary.Replacements, id)
		case cfntypes.ChangeActionModify:
			if rc.Replacement == cfntypes.ReplacementTrue {
				summary.Replacements = append(summary.Replacements, id)
			} else {
				summary.Modifications = append(summary.Modifications, id)
			}
		}
	}
	return summary
}

// ApplyChangeSet implements Provider.ApplyChangeSet (spec §4.6 interactive
// flow).
func (a *Adapter) ApplyChangeSet(ctx context.Context, handle ports.OperationHandle) error {
	// handle.ID carries the change set ARN; handle.Region/Profile carry the
	// account/region PlanChangeSet submitted it against (spec §3 StackDef
	// region/profile), so the client applying it must match.
	client, err := a.factory.cfnFor(ctx, handle.Region, handle.Profile)
	if err != nil {
		return err
	}
	if _, err := client.ExecuteChangeSet(ctx, &cloudformation.ExecuteChangeSetInput{ChangeSetName: aws.String(handle.ID)}); err != nil {
		return classifyError(err)
	}
	return nil
}

// Destroy implements Provider.Destroy (spec §4.5).
func (a *Adapter) Destroy(ctx context.Context, fqn, region, profile string) (ports.OperationHandle, error) {
	client, err := a.factory.cfnFor(ctx, region, profile)
	if err != nil {
		return ports.OperationHandle{}, err
	}
	if _, err := client.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(fqn)}); err != nil {
		return ports.OperationHandle{}, classifyError(err)
	}
	return ports.OperationHandle{ID: fqn, Kind: "destroy", FQN: fqn, Region: region, Profile: profile}, nil
}

// Wait implements Provider.Wait (spec §4.5, §4.6): blocks until the
// operation named by handle reaches a terminal CloudFormation status,
// honoring ctx cancellation and the caller's deadline.
func (a *Adapter) Wait(ctx context.Context, handle ports.OperationHandle, pollInterval time.Duration, deadline time.Time) (stackset.Status, error) {
	client, err := a.factory.cfnFor(ctx, handle.Region, handle.Profile)
	if err != nil {
		return "", err
	}
	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		out, err := client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(handle.ID)})
		if err != nil {
			if isStackNotFound(err) && handle.Kind == "destroy" {
				return stackset.StatusDeleteComplete, nil
			}
			return "", classifyError(err)
		}
		if len(out.Stacks) == 0 {
			if handle.Kind == "destroy" {
				return stackset.StatusDeleteComplete, nil
			}
			return "", &stackset.DomainError{Code: stackset.ErrCodeInternal, Message: "stack disappeared mid-operation"}
		}
		status := mapStackStatus(out.Stacks[0].StackStatus)
		if isTerminalCFNStatus(status) {
			return status, nil
		}
		if time.Now().After(deadline) {
			return "", &stackset.DomainError{Code: stackset.ErrCodeTimedOut, Message: "timed out waiting on provider operation", Context: map[string]interface{}{"fqn": handle.ID}}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Tail implements Provider.Tail (spec §4.5): streams a stack's event log
// since a given time, for live rendering by the external Reporter.
func (a *Adapter) Tail(ctx context.Context, fqn, region, profile string, since time.Time) (<-chan ports.ProviderEvent, error) {
	client, err := a.factory.cfnFor(ctx, region, profile)
	if err != nil {
		return nil, err
	}
	ch := make(chan ports.ProviderEvent, 32)
	go func() {
		defer close(ch)
		seen := make(map[string]struct{})
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			out, err := client.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{StackName: aws.String(fqn)})
			if err != nil {
				return
			}
			events := make([]cfntypes.StackEvent, 0, len(out.StackEvents))
			for _, e := range out.StackEvents {
				if e.Timestamp != nil && e.Timestamp.Before(since) {
					continue
				}
				events = append(events, e)
			}
			sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(*events[j].Timestamp) })
			for _, e := range events {
				id := aws.ToString(e.EventId)
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				select {
				case ch <- ports.ProviderEvent{
					Timestamp: aws.ToTime(e.Timestamp),
					Resource:  aws.ToString(e.LogicalResourceId),
					Status:    string(e.ResourceStatus),
					Reason:    aws.ToString(e.ResourceStatusReason),
				}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func effectiveRole(params ports.CreateParams) string {
	return params.ServiceRole
}

func toCFNParameters(params map[string]string) []cfntypes.Parameter {
	if len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]cfntypes.Parameter, 0, len(params))
	for _, k := range keys {
		out = append(out, cfntypes.Parameter{ParameterKey: aws.String(k), ParameterValue: aws.String(params[k])})
	}
	return out
}

func toCFNTags(tags map[string]string) []cfntypes.Tag {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]cfntypes.Tag, 0, len(tags))
	for _, k := range keys {
		out = append(out, cfntypes.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

func mapStackStatus(s cfntypes.StackStatus) stackset.Status {
	switch s {
	case cfntypes.StackStatusCreateComplete, cfntypes.StackStatusUpdateComplete, cfntypes.StackStatusImportComplete, cfntypes.StackStatusUpdateCompleteCleanupInProgress:
		return stackset.StatusComplete
	case cfntypes.StackStatusCreateInProgress, cfntypes.StackStatusUpdateInProgress, cfntypes.StackStatusReviewInProgress, cfntypes.StackStatusUpdateRollbackInProgress, cfntypes.StackStatusRollbackInProgress:
		return stackset.StatusInProgress
	case cfntypes.StackStatusCreateFailed, cfntypes.StackStatusUpdateFailed:
		return stackset.StatusFailed
	case cfntypes.StackStatusRollbackComplete, cfntypes.StackStatusUpdateRollbackComplete, cfntypes.StackStatusRollbackFailed, cfntypes.StackStatusUpdateRollbackFailed:
		return stackset.StatusRolledBack
	case cfntypes.StackStatusDeleteInProgress:
		return stackset.StatusDeleteInProgress
	case cfntypes.StackStatusDeleteComplete:
		return stackset.StatusDeleteComplete
	case cfntypes.StackStatusDeleteFailed:
		return stackset.StatusFailed
	default:
		return stackset.StatusInProgress
	}
}

func isTerminalCFNStatus(s stackset.Status) bool {
	switch s {
	case stackset.StatusComplete, stackset.StatusFailed, stackset.StatusRolledBack, stackset.StatusDeleteComplete:
		return true
	default:
		return false
	}
}

func isStackNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" && containsDoesNotExist(apiErr.ErrorMessage())
	}
	return false
}

func containsDoesNotExist(msg string) bool {
	return len(msg) > 0 && (contains(msg, "does not exist") || contains(msg, "Stack with id"))
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func isNoUpdates(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" && contains(apiErr.ErrorMessage(), "No updates are to be performed")
	}
	return false
}

func isEmptyChangeSet(reason string) bool {
	return contains(reason, "didn't contain changes") || contains(reason, "No updates are to be performed")
}

// classifyError maps AWS API errors onto spec §4.5's failure taxonomy
// (Throttled, ValidationError, PermissionDenied) so the executor's retry
// policy and state machine can switch on DomainError.Code rather than
// string-matching provider messages.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequestsException":
			return &stackset.DomainError{Code: stackset.ErrCodeThrottled, Message: apiErr.ErrorMessage(), Cause: err}
		case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation":
			return &stackset.DomainError{Code: stackset.ErrCodePermissionDenied, Message: apiErr.ErrorMessage(), Cause: err}
		case "ValidationError", "ValidationException":
			return &stackset.DomainError{Code: stackset.ErrCodeValidation, Message: apiErr.ErrorMessage(), Cause: err}
		}
	}
	return &stackset.DomainError{Code: stackset.ErrCodeInternal, Message: "provider operation failed", Cause: err}
}
