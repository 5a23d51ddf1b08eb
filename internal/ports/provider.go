package ports

import (
	"context"
	"time"

	"github.com/stackctl/stackctl/internal/domain/stackset"
)

// DescribeResult is the provider's view of a stack's current state
// (spec §4.5).
type DescribeResult struct {
	Exists     bool
	Status     stackset.Status
	Outputs    map[string]string
	LastReason string
	DriftInfo  map[string]interface{}
}

// OperationHandle identifies an in-flight provider operation returned by
// Create/Update/Destroy, to be passed to Wait. Region/Profile travel with
// the handle so that later calls against it (Wait, ApplyChangeSet) reach
// the same account/region the operation was submitted to, rather than
// falling back to the process's ambient AWS_DEFAULT_REGION/AWS_PROFILE.
type OperationHandle struct {
	ID      string
	Kind    string // "create", "update", "destroy", "change_set"
	FQN     string
	Region  string
	Profile string
}

// ChangeSetSummary categorizes a proposed change (spec §4.5, §4.6).
type ChangeSetSummary struct {
	Handle        OperationHandle
	Additions     []string
	Modifications []string
	Replacements  []string
}

// ProviderEvent is one entry in a stack's event log, used by Tail.
type ProviderEvent struct {
	Timestamp time.Time
	Resource  string
	Status    string
	Reason    string
}

// CreateParams bundles the arguments to Create/Update (spec §4.5).
type CreateParams struct {
	FQN           string
	Region        string
	Profile       string
	Template      []byte
	TemplateKind  string
	Parameters    map[string]string
	Tags          map[string]string
	StackPolicy   []byte
	ServiceRole   string
	Notifications []string
}

// Provider is the capability contract the executor drives to reconcile one
// stack (spec §4.5). A reference adapter implements this against a single
// concrete cloud; the core never imports a cloud SDK directly.
type Provider interface {
	Describe(ctx context.Context, fqn, region, profile string) (*DescribeResult, error)
	Create(ctx context.Context, params CreateParams) (OperationHandle, error)
	Update(ctx context.Context, params CreateParams) (OperationHandle, error)
	PlanChangeSet(ctx context.Context, params CreateParams) (*ChangeSetSummary, error)
	ApplyChangeSet(ctx context.Context, handle OperationHandle) error
	Destroy(ctx context.Context, fqn, region, profile string) (OperationHandle, error)
	Wait(ctx context.Context, handle OperationHandle, pollInterval time.Duration, deadline time.Time) (stackset.Status, error)
	Tail(ctx context.Context, fqn, region, profile string, since time.Time) (<-chan ProviderEvent, error)
}

// CryptoFacility is the optional `kms` capability (spec §4.5).
type CryptoFacility interface {
	Decrypt(ctx context.Context, ciphertext []byte, region string) ([]byte, error)
}

// ParameterStore is the optional `ssmstore` capability.
type ParameterStore interface {
	GetParameter(ctx context.Context, name, region string) (string, error)
}

// BlobStore is the optional `dynamodb` capability.
type BlobStore interface {
	GetItem(ctx context.Context, table, region string, key map[string]string) (map[string]interface{}, error)
}

// ImageSearch is the optional `ami` capability.
type ImageSearch interface {
	FindAMI(ctx context.Context, region string, filters map[string]string) (string, error)
}
