package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// kmsClient, ssmClient, dynamoClient and ec2Client are the narrow
// per-service surfaces the optional lookup capabilities drive, matching
// the same pattern as cfnClient above.
type kmsClient interface {
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type ssmClient interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type dynamoClient interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

type ec2Client interface {
	DescribeImages(ctx context.Context, in *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
}

type capabilityClients struct {
	mu      sync.Mutex
	kms     map[string]kmsClient
	ssm     map[string]ssmClient
	dynamo  map[string]dynamoClient
	ec2     map[string]ec2Client
	sns     map[string]snsClient
	configs interface {
		Get(ctx context.Context, region, profile string) (aws.Config, error)
	}
}

// kmsFor/ssmFor/dynamoFor/ec2For lazily construct and cache one client per
// region, reusing the same aws.Config the cloudformation client uses
// (internal/infra/aws.ConfigCache).
func (a *Adapter) kmsFor(ctx context.Context, region string) (kmsClient, error) {
	a.capsOnce()
	a.caps.mu.Lock()
	defer a.caps.mu.Unlock()
	if c, ok := a.caps.kms[region]; ok {
		return c, nil
	}
	cfg, err := a.factory.configs.Get(ctx, region, "")
	if err != nil {
		return nil, err
	}
	c := kms.NewFromConfig(cfg)
	a.caps.kms[region] = c
	return c, nil
}

func (a *Adapter) ssmFor(ctx context.Context, region string) (ssmClient, error) {
	a.capsOnce()
	a.caps.mu.Lock()
	defer a.caps.mu.Unlock()
	if c, ok := a.caps.ssm[region]; ok {
		return c, nil
	}
	cfg, err := a.factory.configs.Get(ctx, region, "")
	if err != nil {
		return nil, err
	}
	c := ssm.NewFromConfig(cfg)
	a.caps.ssm[region] = c
	return c, nil
}

func (a *Adapter) dynamoFor(ctx context.Context, region string) (dynamoClient, error) {
	a.capsOnce()
	a.caps.mu.Lock()
	defer a.caps.mu.Unlock()
	if c, ok := a.caps.dynamo[region]; ok {
		return c, nil
	}
	cfg, err := a.factory.configs.Get(ctx, region, "")
	if err != nil {
		return nil, err
	}
	c := dynamodb.NewFromConfig(cfg)
	a.caps.dynamo[region] = c
	return c, nil
}

func (a *Adapter) ec2For(ctx context.Context, region string) (ec2Client, error) {
	a.capsOnce()
	a.caps.mu.Lock()
	defer a.caps.mu.Unlock()
	if c, ok := a.caps.ec2[region]; ok {
		return c, nil
	}
	cfg, err := a.factory.configs.Get(ctx, region, "")
	if err != nil {
		return nil, err
	}
	c := ec2.NewFromConfig(cfg)
	a.caps.ec2[region] = c
	return c, nil
}

func (a *Adapter) capsOnce() {
	if a.caps == nil {
		a.caps = &capabilityClients{
			kms: make(map[string]kmsClient), ssm: make(map[string]ssmClient),
			dynamo: make(map[string]dynamoClient), ec2: make(map[string]ec2Client),
			configs: a.factory.configs,
		}
	}
}

// Decrypt implements ports.CryptoFacility for the `kms` lookup handler
// (spec §4.1, resolve/handlers.go's kmsHandler).
func (a *Adapter) Decrypt(ctx context.Context, ciphertext []byte, region string) ([]byte, error) {
	client, err := a.kmsFor(ctx, region)
	if err != nil {
		return nil, err
	}
	out, err := client.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: ciphertext})
	if err != nil {
		return nil, classifyError(err)
	}
	return out.Plaintext, nil
}

// GetParameter implements ports.ParameterStore for the `ssmstore` lookup
// handler.
func (a *Adapter) GetParameter(ctx context.Context, name, region string) (string, error) {
	client, err := a.ssmFor(ctx, region)
	if err != nil {
		return "", err
	}
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(name), WithDecryption: aws.Bool(true)})
	if err != nil {
		return "", classifyError(err)
	}
	if out.Parameter == nil {
		return "", fmt.Errorf("ssm parameter %q returned no value", name)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// GetItem implements ports.BlobStore for the `dynamodb` lookup handler.
// The partition (and optional sort) key is passed pre-split by
// resolve/handlers.go; values are returned as a generic map for the
// handler's attribute-path navigation to walk.
func (a *Adapter) GetItem(ctx context.Context, table, region string, key map[string]string) (map[string]interface{}, error) {
	client, err := a.dynamoFor(ctx, region)
	if err != nil {
		return nil, err
	}
	avKey := make(map[string]ddbtypes.AttributeValue, len(key))
	for k, v := range key {
		avKey[k] = &ddbtypes.AttributeValueMemberS{Value: v}
	}
	out, err := client.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String(table), Key: avKey})
	if err != nil {
		return nil, classifyError(err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("dynamodb item not found in table %q", table)
	}
	return fromAttributeValueMap(out.Item), nil
}

func fromAttributeValueMap(item map[string]ddbtypes.AttributeValue) map[string]interface{} {
	out := make(map[string]interface{}, len(item))
	for k, v := range item {
		out[k] = fromAttributeValue(v)
	}
	return out
}

func fromAttributeValue(v ddbtypes.AttributeValue) interface{} {
	switch val := v.(type) {
	case *ddbtypes.AttributeValueMemberS:
		return val.Value
	case *ddbtypes.AttributeValueMemberN:
		return val.Value
	case *ddbtypes.AttributeValueMemberBOOL:
		return val.Value
	case *ddbtypes.AttributeValueMemberSS:
		return val.Value
	case *ddbtypes.AttributeValueMemberNS:
		return val.Value
	case *ddbtypes.AttributeValueMemberL:
		out := make([]interface{}, len(val.Value))
		for i, item := range val.Value {
			out[i] = fromAttributeValue(item)
		}
		return out
	case *ddbtypes.AttributeValueMemberM:
		return fromAttributeValueMap(val.Value)
	case *ddbtypes.AttributeValueMemberNULL:
		return nil
	default:
		return nil
	}
}

// FindAMI implements ports.ImageSearch for the `ami` lookup handler.
// filters carries "owner", "name_regex" (translated to an EC2 `name`
// wildcard filter) and arbitrary `tag:Key` entries; results are sorted by
// creation date descending and the newest image id is returned, matching
// the original tool's "latest AMI matching filters" semantics.
func (a *Adapter) FindAMI(ctx context.Context, region string, filters map[string]string) (string, error) {
	client, err := a.ec2For(ctx, region)
	if err != nil {
		return "", err
	}
	in := &ec2.DescribeImagesInput{}
	if owner, ok := filters["owner"]; ok {
		in.Owners = []string{owner}
	}
	var ec2Filters []ec2types.Filter
	if name, ok := filters["name_regex"]; ok {
		ec2Filters = append(ec2Filters, ec2types.Filter{Name: aws.String("name"), Values: []string{name}})
	}
	for k, v := range filters {
		if strings.HasPrefix(k, "tag:") {
			ec2Filters = append(ec2Filters, ec2types.Filter{Name: aws.String(k), Values: []string{v}})
		}
	}
	if len(ec2Filters) > 0 {
		in.Filters = ec2Filters
	}

	out, err := client.DescribeImages(ctx, in)
	if err != nil {
		return "", classifyError(err)
	}
	if len(out.Images) == 0 {
		return "", fmt.Errorf("no AMI matched filters in region %q", region)
	}
	newest := out.Images[0]
	for _, img := range out.Images[1:] {
		if aws.ToString(img.CreationDate) > aws.ToString(newest.CreationDate) {
			newest = img
		}
	}
	return aws.ToString(newest.ImageId), nil
}
